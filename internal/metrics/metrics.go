package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the process metrics on an instance-scoped prometheus
// registry so tests can run isolated instances.
type Registry struct {
	registry *prometheus.Registry

	bankCallsTotal         *prometheus.CounterVec
	bankRetryAttemptsTotal *prometheus.CounterVec
	escrowTransitionsTotal *prometheus.CounterVec
}

// New builds and registers the metric vectors.
func New() *Registry {
	bankCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "atlaspay_bank_calls_total",
		Help: "Banking provider calls by operation and outcome",
	}, []string{"op", "outcome"})

	bankRetries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "atlaspay_bank_retry_attempts_total",
		Help: "Retry attempts against the banking provider",
	}, []string{"result"})

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "atlaspay_escrow_transitions_total",
		Help: "Escrow state transitions by target status",
	}, []string{"to"})

	r := prometheus.NewRegistry()
	r.MustRegister(bankCalls, bankRetries, transitions)

	return &Registry{
		registry:               r,
		bankCallsTotal:         bankCalls,
		bankRetryAttemptsTotal: bankRetries,
		escrowTransitionsTotal: transitions,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// BankCall counts one provider call outcome.
func (m *Registry) BankCall(op, outcome string) {
	m.bankCallsTotal.WithLabelValues(op, outcome).Inc()
}

// BankRetry counts one retry event.
func (m *Registry) BankRetry(result string) {
	m.bankRetryAttemptsTotal.WithLabelValues(result).Inc()
}

// EscrowTransition counts one completed state transition.
func (m *Registry) EscrowTransition(to string) {
	m.escrowTransitionsTotal.WithLabelValues(to).Inc()
}
