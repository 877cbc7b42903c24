package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/proxy"
)

const registerPath = "/v1/register"

// HTTPTransport sends registration requests to a registrar's HTTP endpoint,
// optionally dialing through a local SOCKS5 proxy (e.g. the anonymizing
// daemon's client port).
type HTTPTransport struct {
	baseURL string
	client  *http.Client
}

// HTTPOption configures an HTTPTransport.
type HTTPOption func(*httpOptions)

type httpOptions struct {
	timeout   time.Duration
	socksAddr string
}

// WithTimeout bounds each Send attempt. Defaults to 30 seconds.
func WithTimeout(d time.Duration) HTTPOption {
	return func(o *httpOptions) { o.timeout = d }
}

// WithSOCKS5 routes all connections through the SOCKS5 proxy at addr.
func WithSOCKS5(addr string) HTTPOption {
	return func(o *httpOptions) { o.socksAddr = addr }
}

// NewHTTP creates a transport that POSTs requests to the registrar at baseURL.
func NewHTTP(baseURL string, opts ...HTTPOption) (*HTTPTransport, error) {
	options := httpOptions{timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(&options)
	}

	httpTransport := &http.Transport{
		DialContext: (&net.Dialer{Timeout: options.timeout}).DialContext,
	}

	if options.socksAddr != "" {
		socksDialer, err := proxy.SOCKS5("tcp", options.socksAddr, nil, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		contextDialer, ok := socksDialer.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("SOCKS5 dialer does not support contexts")
		}
		httpTransport.DialContext = contextDialer.DialContext
	}

	return &HTTPTransport{
		baseURL: baseURL,
		client: &http.Client{
			Transport: httpTransport,
			Timeout:   options.timeout,
		},
	}, nil
}

// Send delivers one request attempt. The response body is returned for any
// HTTP status: the registrar encodes rejections in the response envelope, and
// mapping them to retry behavior is the caller's job.
func (t *HTTPTransport) Send(ctx context.Context, requestBytes []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+registerPath, bytes.NewReader(requestBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registrar unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return body, nil
}
