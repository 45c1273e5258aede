package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	WebhookOutcomeProcessed        = "processed"
	WebhookOutcomeAlreadyProcessed = "already_processed"
	WebhookOutcomeRejectedShape    = "rejected_shape"
	WebhookOutcomeRejectedVerify   = "rejected_verify"
	WebhookOutcomeError            = "error"
)

const (
	ChargeOutcomeSucceeded = "succeeded"
	ChargeOutcomeDeclined  = "declined"
	ChargeOutcomeDuplicate = "duplicate"
	ChargeOutcomeError     = "error"
)

// Config carries the constant labels applied to every instrument.
type Config struct {
	ServiceName string
	Environment string
}

// Metrics captures webhook, charge, and reconciliation health signals.
type Metrics struct {
	webhooksReceived prometheus.Counter
	webhookOutcomes  *prometheus.CounterVec
	chargesAttempted prometheus.Counter
	chargeOutcomes   *prometheus.CounterVec
	gatewayLatency   *prometheus.HistogramVec
	reconcileBilled  prometheus.Counter
	reconcileSkipped prometheus.Counter
	reconcileRuns    prometheus.Counter
}

var (
	metricsOnce sync.Once
	instance    *Metrics
)

// Default returns the singleton metrics registry bound to the default registerer.
func Default() *Metrics {
	return WithConfig(Config{})
}

// WithConfig returns the singleton metrics registry using config labels.
func WithConfig(cfg Config) *Metrics {
	metricsOnce.Do(func() {
		instance = newMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return instance
}

// ResetForTest resets the metrics singleton for tests.
func ResetForTest() {
	metricsOnce = sync.Once{}
	instance = nil
}

func newMetrics(registerer prometheus.Registerer, cfg Config) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "payments"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	webhooksReceived := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "payments_webhooks_received_total",
		Help:        "Gateway webhook callbacks received.",
		ConstLabels: constLabels,
	})
	webhookOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "payments_webhook_outcomes_total",
		Help:        "Gateway webhook callbacks by processing outcome.",
		ConstLabels: constLabels,
	}, []string{"outcome"})
	chargesAttempted := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "payments_charges_attempted_total",
		Help:        "Token charges attempted against the gateway.",
		ConstLabels: constLabels,
	})
	chargeOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "payments_charge_outcomes_total",
		Help:        "Token charges by final outcome.",
		ConstLabels: constLabels,
	}, []string{"outcome"})
	gatewayLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "payments_gateway_request_seconds",
		Help:        "Outbound gateway request latency by operation.",
		Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		ConstLabels: constLabels,
	}, []string{"operation"})
	reconcileBilled := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "payments_reconcile_billed_total",
		Help:        "Tokens billed by the monthly reconciliation loop.",
		ConstLabels: constLabels,
	})
	reconcileSkipped := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "payments_reconcile_skipped_total",
		Help:        "Tokens skipped by the monthly reconciliation loop.",
		ConstLabels: constLabels,
	})
	reconcileRuns := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "payments_reconcile_runs_total",
		Help:        "Reconciliation loop runs.",
		ConstLabels: constLabels,
	})

	registerer.MustRegister(
		webhooksReceived,
		webhookOutcomes,
		chargesAttempted,
		chargeOutcomes,
		gatewayLatency,
		reconcileBilled,
		reconcileSkipped,
		reconcileRuns,
	)

	return &Metrics{
		webhooksReceived: webhooksReceived,
		webhookOutcomes:  webhookOutcomes,
		chargesAttempted: chargesAttempted,
		chargeOutcomes:   chargeOutcomes,
		gatewayLatency:   gatewayLatency,
		reconcileBilled:  reconcileBilled,
		reconcileSkipped: reconcileSkipped,
		reconcileRuns:    reconcileRuns,
	}
}

// IncWebhookReceived counts an inbound gateway callback.
func (m *Metrics) IncWebhookReceived() {
	if m == nil || m.webhooksReceived == nil {
		return
	}
	m.webhooksReceived.Inc()
}

// IncWebhookOutcome counts the final disposition of a webhook.
func (m *Metrics) IncWebhookOutcome(outcome string) {
	if m == nil || m.webhookOutcomes == nil {
		return
	}
	m.webhookOutcomes.WithLabelValues(outcome).Inc()
}

// IncChargeAttempted counts a charge attempt before the gateway call.
func (m *Metrics) IncChargeAttempted() {
	if m == nil || m.chargesAttempted == nil {
		return
	}
	m.chargesAttempted.Inc()
}

// IncChargeOutcome counts the final disposition of a charge.
func (m *Metrics) IncChargeOutcome(outcome string) {
	if m == nil || m.chargeOutcomes == nil {
		return
	}
	m.chargeOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveGatewayLatency records an outbound gateway round trip.
func (m *Metrics) ObserveGatewayLatency(operation string, duration time.Duration) {
	if m == nil || m.gatewayLatency == nil {
		return
	}
	m.gatewayLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// AddReconcileBilled adds tokens billed during a reconciliation run.
func (m *Metrics) AddReconcileBilled(count int) {
	if m == nil || m.reconcileBilled == nil || count <= 0 {
		return
	}
	m.reconcileBilled.Add(float64(count))
}

// AddReconcileSkipped adds tokens skipped during a reconciliation run.
func (m *Metrics) AddReconcileSkipped(count int) {
	if m == nil || m.reconcileSkipped == nil || count <= 0 {
		return
	}
	m.reconcileSkipped.Add(float64(count))
}

// IncReconcileRun counts a reconciliation loop run.
func (m *Metrics) IncReconcileRun() {
	if m == nil || m.reconcileRuns == nil {
		return
	}
	m.reconcileRuns.Inc()
}
