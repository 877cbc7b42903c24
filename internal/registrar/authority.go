// Package registrar implements the server-side authority that validates
// registration requests and issues membership certificates.
package registrar

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/pwalczak/memberca/internal/ca"
	"github.com/pwalczak/memberca/internal/csr"
	"github.com/pwalczak/memberca/internal/metrics"
	"github.com/pwalczak/memberca/internal/store"
	"github.com/pwalczak/memberca/internal/wire"
)

// Authority decides whether to issue a certificate for an incoming request.
// It is the single serialization point for username and identity-key
// uniqueness; the store's atomic Insert makes the check-then-insert sequence
// safe without a global lock.
type Authority struct {
	key      *ca.AuthorityKey
	store    store.Store
	bus      *Bus
	metrics  *metrics.Metrics
	logger   *log.Logger
	validity time.Duration
}

// Option configures an Authority.
type Option func(*Authority)

// WithMetrics attaches Prometheus counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Authority) { a.metrics = m }
}

// WithValidity limits issued certificates to the given lifetime. Zero, the
// default, issues certificates that never expire.
func WithValidity(d time.Duration) Option {
	return func(a *Authority) { a.validity = d }
}

// New creates an Authority backed by the given signing key and store.
func New(key *ca.AuthorityKey, st store.Store, bus *Bus, logger *log.Logger, opts ...Option) *Authority {
	a := &Authority{
		key:    key,
		store:  st,
		bus:    bus,
		logger: logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Bus returns the authority's event bus.
func (a *Authority) Bus() *Bus {
	return a.bus
}

// AuthorityPublicKey returns the authority public key in authorized_keys form.
func (a *Authority) AuthorityPublicKey() string {
	return a.key.PublicKeyString()
}

// HandleRequest processes one registration request. Resubmission of an
// already-granted CSR returns the original certificate as success; it never
// errors and never issues a second certificate.
func (a *Authority) HandleRequest(ctx context.Context, req *wire.Request) *wire.Response {
	request, err := csr.Parse(req.CSR)
	if err != nil {
		return a.invalid(req, err)
	}

	identityKey, err := request.IdentityKey()
	if err != nil {
		return a.invalid(req, err)
	}

	// Idempotency check. A requester that already holds a certificate gets
	// the same bytes back, whatever made it resend.
	existing, err := a.store.LookupByIdentityKey(ctx, identityKey)
	if err == nil {
		a.logger.Printf("registration replay for %s (%s), returning existing certificate", existing.Username, identityKey)
		a.count(func(m *metrics.Metrics) { m.DuplicateCSRs.Inc() })
		return wire.SuccessResponse([]byte(existing.Certificate))
	}
	if !errors.Is(err, store.ErrNotFound) {
		return a.transient(req, err)
	}

	username, err := csr.NormalizeUsername(req.Username)
	if err != nil {
		return a.invalid(req, err)
	}
	if username != request.Username {
		return a.invalid(req, fmt.Errorf("request username %q does not match csr username %q", username, request.Username))
	}

	if resp := a.checkUsername(ctx, req, username, identityKey); resp != nil {
		return resp
	}

	if err := request.Verify(); err != nil {
		return a.invalid(req, err)
	}

	record, err := a.issue(ctx, request, username, identityKey)
	if err == nil {
		a.logger.Printf("issued certificate for %s (%s), serial %d", username, identityKey, record.Serial)
		a.count(func(m *metrics.Metrics) { m.CertificatesIssued.Inc() })
		a.bus.Publish(CertificateIssued{
			Username:    record.Username,
			IdentityKey: record.IdentityKey,
			Certificate: record.Certificate,
			IssuedAt:    record.IssuedAt,
		})
		return wire.SuccessResponse([]byte(record.Certificate))
	}

	if !errors.Is(err, store.ErrConflict) {
		return a.transient(req, err)
	}

	// A concurrent request won the insert race. One bounded retry against the
	// now-current store state resolves it to either idempotent success or a
	// terminal rejection; no second insert is attempted.
	a.count(func(m *metrics.Metrics) { m.ConflictsResolved.Inc() })

	existing, lookupErr := a.store.LookupByIdentityKey(ctx, identityKey)
	if lookupErr == nil {
		return wire.SuccessResponse([]byte(existing.Certificate))
	}
	if !errors.Is(lookupErr, store.ErrNotFound) {
		return a.transient(req, lookupErr)
	}

	if resp := a.checkUsername(ctx, req, username, identityKey); resp != nil {
		return resp
	}

	// The conflicting record vanished between the insert and the re-read.
	// Records are never deleted, so this only happens if the store is broken.
	return a.transient(req, fmt.Errorf("insert conflict did not resolve for %q", username))
}

// HandleRaw adapts HandleRequest to the opaque byte-oriented transport port.
func (a *Authority) HandleRaw(ctx context.Context, requestBytes []byte) []byte {
	var resp *wire.Response

	req, err := wire.DecodeRequest(requestBytes)
	if err != nil {
		resp = wire.ErrorResponse(wire.CodeInvalidRequest, err.Error())
	} else {
		resp = a.HandleRequest(ctx, req)
	}

	data, err := wire.EncodeResponse(resp)
	if err != nil {
		// A response that cannot be encoded is a programming error; fall back
		// to a minimal transient envelope.
		data, _ = wire.EncodeResponse(wire.ErrorResponse(wire.CodeTransient, "internal error"))
	}
	return data
}

// checkUsername rejects when the username belongs to a different identity.
// Returns nil when the username is free.
func (a *Authority) checkUsername(ctx context.Context, req *wire.Request, username, identityKey string) *wire.Response {
	holder, err := a.store.LookupByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return a.transient(req, err)
	}

	if holder.IdentityKey == identityKey {
		return wire.SuccessResponse([]byte(holder.Certificate))
	}

	a.logger.Printf("rejected registration for %s: username taken", username)
	a.count(func(m *metrics.Metrics) { m.UsernameConflicts.Inc() })
	return wire.ErrorResponse(wire.CodeUsernameTaken, fmt.Sprintf("username %q is already registered", username))
}

func (a *Authority) issue(ctx context.Context, request *csr.SigningRequest, username, identityKey string) (*store.Record, error) {
	serial, err := a.store.NextSerial(ctx)
	if err != nil {
		return nil, err
	}

	issuedAt := time.Now().UTC().Truncate(time.Second)
	certificate, err := ca.IssueMembershipCertificate(a.key, ca.IssueParams{
		PublicKey:   request.PublicKey,
		Username:    username,
		IdentityKey: identityKey,
		Serial:      serial,
		IssuedAt:    issuedAt,
		Validity:    a.validity,
	})
	if err != nil {
		return nil, err
	}

	record := &store.Record{
		Username:    username,
		IdentityKey: identityKey,
		PublicKey:   request.PublicKey,
		Certificate: certificate,
		Serial:      serial,
		IssuedAt:    issuedAt,
	}
	if err := a.store.Insert(ctx, record); err != nil {
		return nil, err
	}

	return record, nil
}

func (a *Authority) invalid(req *wire.Request, err error) *wire.Response {
	a.logger.Printf("rejected registration for %q: %v", req.Username, err)
	a.count(func(m *metrics.Metrics) { m.InvalidRequests.Inc() })
	return wire.ErrorResponse(wire.CodeInvalidRequest, err.Error())
}

func (a *Authority) transient(req *wire.Request, err error) *wire.Response {
	a.logger.Printf("store failure handling registration for %q: %v", req.Username, err)
	return wire.ErrorResponse(wire.CodeTransient, "registrar is temporarily unable to process the request")
}

func (a *Authority) count(inc func(*metrics.Metrics)) {
	if a.metrics != nil {
		inc(a.metrics)
	}
}
