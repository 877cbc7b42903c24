package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the registrar's Prometheus counters.
type Metrics struct {
	CertificatesIssued prometheus.Counter
	DuplicateCSRs      prometheus.Counter
	UsernameConflicts  prometheus.Counter
	InvalidRequests    prometheus.Counter
	ConflictsResolved  prometheus.Counter
}

// New creates and registers all registrar metrics on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		CertificatesIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "memberca_certificates_issued_total",
			Help: "Total number of membership certificates issued",
		}),
		DuplicateCSRs: factory.NewCounter(prometheus.CounterOpts{
			Name: "memberca_duplicate_csr_total",
			Help: "Total number of requests answered idempotently from an existing record",
		}),
		UsernameConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "memberca_username_conflicts_total",
			Help: "Total number of requests rejected because the username was taken",
		}),
		InvalidRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "memberca_invalid_requests_total",
			Help: "Total number of requests rejected as malformed or unverifiable",
		}),
		ConflictsResolved: factory.NewCounter(prometheus.CounterOpts{
			Name: "memberca_store_conflicts_resolved_total",
			Help: "Total number of insert races resolved by re-reading the store",
		}),
	}
}
