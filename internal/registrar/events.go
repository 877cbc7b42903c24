package registrar

import (
	"sync"
	"time"
)

// CertificateIssued is announced on the event bus whenever the authority
// durably issues a new certificate. Resubmissions of an already-granted CSR
// do not produce a second event.
type CertificateIssued struct {
	Username    string
	IdentityKey string
	Certificate string
	IssuedAt    time.Time
}

// Bus fans CertificateIssued events out to subscribers. It is the boundary
// through which the rest of the community learns about new members; gossip of
// certificates beyond this point is someone else's job.
type Bus struct {
	mu   sync.Mutex
	subs []chan CertificateIssued
}

// NewBus creates an event bus with no subscribers.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a new subscriber and returns its channel. A slow
// subscriber that lets its buffer fill misses events rather than blocking
// issuance.
func (b *Bus) Subscribe() <-chan CertificateIssued {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan CertificateIssued, 16)
	b.subs = append(b.subs, ch)
	return ch
}

// Publish delivers an event to all current subscribers without blocking.
func (b *Bus) Publish(event CertificateIssued) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}
