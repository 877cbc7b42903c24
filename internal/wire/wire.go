// Package wire defines the request/response envelope exchanged between the
// registration client and the registrar, independent of the transport that
// carries it.
package wire

import (
	"encoding/json"
	"fmt"
)

// Error codes returned by the registrar. UsernameTaken and InvalidRequest are
// terminal; Transient tells the client to retry later.
const (
	CodeUsernameTaken  = "username_taken"
	CodeInvalidRequest = "invalid_request"
	CodeTransient      = "transient"
)

// Request asks the registrar to issue a membership certificate for the CSR's
// public key under the given username. RequestID is for log correlation only;
// the registrar derives idempotency from the CSR itself, because a requester
// may legitimately resend the same CSR with a fresh RequestID after a restart.
type Request struct {
	RequestID string `json:"request_id,omitempty"`
	Username  string `json:"username"`
	CSR       []byte `json:"csr"`
}

// Response carries either an issued certificate or an error code. Exactly one
// of Certificate and Error is set.
type Response struct {
	Certificate []byte     `json:"certificate,omitempty"`
	Error       *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo describes a registration failure.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Success reports whether the response carries a certificate.
func (r *Response) Success() bool {
	return r.Error == nil && len(r.Certificate) > 0
}

// Terminal reports whether the response is a definitive rejection that must
// not be retried.
func (r *Response) Terminal() bool {
	if r.Error == nil {
		return false
	}
	return r.Error.Code == CodeUsernameTaken || r.Error.Code == CodeInvalidRequest
}

// EncodeRequest marshals a request for the transport.
func EncodeRequest(req *Request) ([]byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	return data, nil
}

// DecodeRequest unmarshals a request received from the transport.
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}
	return &req, nil
}

// EncodeResponse marshals a response for the transport.
func EncodeResponse(resp *Response) ([]byte, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to encode response: %w", err)
	}
	return data, nil
}

// DecodeResponse unmarshals a response received from the transport.
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &resp, nil
}

// SuccessResponse builds a response carrying an issued certificate.
func SuccessResponse(certificate []byte) *Response {
	return &Response{Certificate: certificate}
}

// ErrorResponse builds a response carrying an error code.
func ErrorResponse(code, message string) *Response {
	return &Response{Error: &ErrorInfo{Code: code, Message: message}}
}
