package service

import (
	"errors"
	"time"

	"github.com/evetabi/surebet/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of the core services. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	MatchAttempts      *prometheus.CounterVec
	SettlementsTotal   *prometheus.CounterVec
	SettlementDuration *prometheus.HistogramVec
	LedgerEntries      *prometheus.CounterVec
	Corrections        *prometheus.CounterVec
	LinksCreated       *prometheus.CounterVec
	FXLookups          *prometheus.CounterVec
}

// NewMetrics builds and registers the collectors on registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		MatchAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surebet_match_attempts_total",
				Help: "Matching attempts by result.",
			},
			[]string{"result"},
		),
		SettlementsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surebet_settlements_total",
				Help: "Settlement previews and commits by status.",
			},
			[]string{"method", "status"},
		),
		SettlementDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "surebet_settlement_duration_seconds",
				Help:    "Settlement processing duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		LedgerEntries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surebet_ledger_entries_total",
				Help: "Ledger entries appended by type.",
			},
			[]string{"type"},
		),
		Corrections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surebet_corrections_total",
				Help: "Correction requests by status.",
			},
			[]string{"status"},
		),
		LinksCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surebet_settlement_links_total",
				Help: "Settlement links written by origin.",
			},
			[]string{"origin"},
		),
		FXLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surebet_fx_lookups_total",
				Help: "FX snapshot lookups by status.",
			},
			[]string{"status"},
		),
	}
	registry.MustRegister(
		m.MatchAttempts,
		m.SettlementsTotal,
		m.SettlementDuration,
		m.LedgerEntries,
		m.Corrections,
		m.LinksCreated,
		m.FXLookups,
	)
	return m
}

func (m *Metrics) IncMatch(result string) {
	if m == nil {
		return
	}
	m.MatchAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveSettlement(method string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.SettlementsTotal.WithLabelValues(method, errorStatus(err)).Inc()
	m.SettlementDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func (m *Metrics) IncEntries(t domain.EntryType, n int) {
	if m == nil || n == 0 {
		return
	}
	m.LedgerEntries.WithLabelValues(string(t)).Add(float64(n))
}

func (m *Metrics) IncCorrection(err error) {
	if m == nil {
		return
	}
	m.Corrections.WithLabelValues(errorStatus(err)).Inc()
}

func (m *Metrics) IncLinks(origin string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.LinksCreated.WithLabelValues(origin).Add(float64(n))
}

func (m *Metrics) IncFXLookup(err error) {
	if m == nil {
		return
	}
	m.FXLookups.WithLabelValues(errorStatus(err)).Inc()
}

func errorStatus(err error) string {
	var te *domain.TransactionError
	switch {
	case err == nil:
		return "ok"
	case domain.IsValidation(err):
		return "invalid"
	case domain.IsConflict(err):
		return "conflict"
	case domain.IsNotFound(err):
		return "not_found"
	case domain.IsIntegrity(err):
		return "integrity"
	case errors.As(err, &te):
		return "rolled_back"
	}
	return "error"
}
