// Package telemetry provides Prometheus metrics and OpenTelemetry tracing plus correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	MessagesHandled     prometheus.Counter
	MessagesTransformed prometheus.Counter
	AutoLinks           prometheus.Counter
	LinksConfirmed      prometheus.Counter
	Merges              *prometheus.CounterVec // result=full|partial
	ConesApplied        prometheus.Counter
	ConeTransitions     *prometheus.CounterVec // cause=expired|condition_met|removed
	SummaryUpdates      *prometheus.CounterVec // result=updated|unchanged|failed
	Saves               *prometheus.CounterVec // result=ok|failed

	// Histograms (seconds)
	SaveDuration    prometheus.Observer
	HandleDuration  prometheus.Observer
	SummaryDuration prometheus.Observer

	// Gauges
	SaveQueueDepth prometheus.Gauge
	Identities     prometheus.Gauge
	ActiveCones    prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		MessagesHandled = promauto.NewCounter(prometheus.CounterOpts{Name: "ghost_messages_handled_total", Help: "Inbound messages run through the pipeline"})
		MessagesTransformed = promauto.NewCounter(prometheus.CounterOpts{Name: "ghost_messages_transformed_total", Help: "Inbound messages replaced by a cone effect"})
		AutoLinks = promauto.NewCounter(prometheus.CounterOpts{Name: "ghost_identity_auto_links_total", Help: "Platform accounts linked by name match"})
		LinksConfirmed = promauto.NewCounter(prometheus.CounterOpts{Name: "ghost_identity_links_confirmed_total", Help: "Explicit link requests confirmed"})
		Merges = promauto.NewCounterVec(prometheus.CounterOpts{Name: "ghost_identity_merges_total", Help: "Identity merges by outcome"}, []string{"result"})
		ConesApplied = promauto.NewCounter(prometheus.CounterOpts{Name: "ghost_cones_applied_total", Help: "Cone effects applied"})
		ConeTransitions = promauto.NewCounterVec(prometheus.CounterOpts{Name: "ghost_cone_transitions_total", Help: "Cone records deactivated by cause"}, []string{"cause"})
		SummaryUpdates = promauto.NewCounterVec(prometheus.CounterOpts{Name: "ghost_summary_updates_total", Help: "Summary refresh attempts by outcome"}, []string{"result"})
		Saves = promauto.NewCounterVec(prometheus.CounterOpts{Name: "ghost_state_saves_total", Help: "Aggregate snapshot saves by outcome"}, []string{"result"})
		SaveDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "ghost_state_save_duration_seconds", Help: "Snapshot save duration seconds", Buckets: prometheus.DefBuckets})
		HandleDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "ghost_message_handle_duration_seconds", Help: "Pipeline handling duration seconds", Buckets: prometheus.DefBuckets})
		SummaryDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "ghost_summary_update_duration_seconds", Help: "Summary collaborator call duration seconds", Buckets: prometheus.DefBuckets})
		SaveQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{Name: "ghost_state_save_queue_depth", Help: "Save requests not yet written"})
		Identities = promauto.NewGauge(prometheus.GaugeOpts{Name: "ghost_identities", Help: "Distinct identities held in memory"})
		ActiveCones = promauto.NewGauge(prometheus.GaugeOpts{Name: "ghost_active_cones", Help: "Cone records currently active"})
	})
}

func inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

func incVec(v *prometheus.CounterVec, label string) {
	if v != nil {
		v.WithLabelValues(label).Inc()
	}
}

func setGauge(g prometheus.Gauge, n int) {
	if g != nil {
		g.Set(float64(n))
	}
}

// CountMessage records one handled message and whether it was transformed.
func CountMessage(transformed bool) {
	inc(MessagesHandled)
	if transformed {
		inc(MessagesTransformed)
	}
}

// CountAutoLink records a name-match link.
func CountAutoLink() { inc(AutoLinks) }

// CountLinkConfirmed records a confirmed explicit link.
func CountLinkConfirmed() { inc(LinksConfirmed) }

// CountMerge records a merge; partial means summaries could not be merged.
func CountMerge(partial bool) {
	if partial {
		incVec(Merges, "partial")
		return
	}
	incVec(Merges, "full")
}

// CountConeApplied records an apply.
func CountConeApplied() { inc(ConesApplied) }

// CountConeTransition records a deactivation (expired, condition_met, removed).
func CountConeTransition(cause string) { incVec(ConeTransitions, cause) }

// CountSummaryUpdate records a summary attempt (updated, unchanged, failed).
func CountSummaryUpdate(result string) { incVec(SummaryUpdates, result) }

// ObserveSave records the outcome and duration of one snapshot save.
func ObserveSave(err error, d time.Duration) {
	if err != nil {
		incVec(Saves, "failed")
	} else {
		incVec(Saves, "ok")
	}
	if SaveDuration != nil {
		SaveDuration.Observe(d.Seconds())
	}
}

// SetSaveQueueDepth records pending save requests.
func SetSaveQueueDepth(n int) { setGauge(SaveQueueDepth, n) }

// SetIdentities records the number of distinct identities.
func SetIdentities(n int) { setGauge(Identities, n) }

// SetActiveCones records the number of active cone records.
func SetActiveCones(n int) { setGauge(ActiveCones, n) }

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
