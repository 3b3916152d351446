package usecase

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/wallet/domain"
)

// Metrics 帳務引擎的 Prometheus 指標
type Metrics struct {
	mutations *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	events    *prometheus.CounterVec
}

// NewMetrics 將指標註冊到 reg (nil 時使用 prometheus.DefaultRegisterer)
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		mutations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wallet_ledger",
				Name:      "mutations_total",
				Help:      "Total account mutations by operation and outcome.",
			},
			[]string{"operation", "outcome"}, // outcome: ok, rejected, timeout, error
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "wallet_ledger",
				Name:      "mutation_duration_seconds",
				Help:      "Duration of account mutations including lock wait.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wallet_ledger",
				Name:      "events_published_total",
				Help:      "Domain events handed to the publisher by type and status.",
			},
			[]string{"type", "status"},
		),
	}
}

func (m *Metrics) observe(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(op, Outcome(err)).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) event(typ domain.EventType, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.events.WithLabelValues(string(typ), status).Inc()
}

// Outcome 將錯誤歸類為指標標籤
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrOperationTimeout):
		return "timeout"
	case domain.IsBusinessRule(err),
		errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrMissingActor):
		return "rejected"
	default:
		return "error"
	}
}
