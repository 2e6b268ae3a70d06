package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("scope-metrics")

// ScopeMetrics provides metrics collection for scope lifecycle operations
type ScopeMetrics struct {
	regenerationsCounter     metric.Int64Counter
	regenerationDuration     metric.Float64Histogram
	exportsCounter           metric.Int64Counter
	finalizationsCounter     metric.Int64Counter
	downloadsActiveGauge     metric.Int64UpDownCounter
}

// NewScopeMetrics creates a new scope metrics collector
func NewScopeMetrics() (*ScopeMetrics, error) {
	regenerationsCounter, err := meter.Int64Counter(
		"scoping_bot.regenerations.total",
		metric.WithDescription("Total number of scope regeneration requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	regenerationDuration, err := meter.Float64Histogram(
		"scoping_bot.regeneration.duration",
		metric.WithDescription("Duration of scope regeneration round trips in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	exportsCounter, err := meter.Int64Counter(
		"scoping_bot.exports.total",
		metric.WithDescription("Total number of export downloads by artifact kind"),
		metric.WithUnit("{export}"),
	)
	if err != nil {
		return nil, err
	}

	finalizationsCounter, err := meter.Int64Counter(
		"scoping_bot.finalizations.total",
		metric.WithDescription("Total number of scope finalizations"),
		metric.WithUnit("{finalization}"),
	)
	if err != nil {
		return nil, err
	}

	downloadsActiveGauge, err := meter.Int64UpDownCounter(
		"scoping_bot.downloads.active",
		metric.WithDescription("Number of currently running export downloads"),
		metric.WithUnit("{download}"),
	)
	if err != nil {
		return nil, err
	}

	return &ScopeMetrics{
		regenerationsCounter: regenerationsCounter,
		regenerationDuration: regenerationDuration,
		exportsCounter:       exportsCounter,
		finalizationsCounter: finalizationsCounter,
		downloadsActiveGauge: downloadsActiveGauge,
	}, nil
}

// RecordRegeneration records one regeneration attempt and its duration
func (sm *ScopeMetrics) RecordRegeneration(ctx context.Context, success bool, duration time.Duration) {
	status := "completed"
	if !success {
		status = "failed"
	}
	sm.regenerationsCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
	sm.regenerationDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordExport records one export download by kind
func (sm *ScopeMetrics) RecordExport(ctx context.Context, kind string, success bool) {
	status := "completed"
	if !success {
		status = "failed"
	}
	sm.exportsCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("artifact.kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordFinalization records one finalization attempt
func (sm *ScopeMetrics) RecordFinalization(ctx context.Context, success bool) {
	status := "completed"
	if !success {
		status = "failed"
	}
	sm.finalizationsCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// DownloadStarted increments the active download gauge
func (sm *ScopeMetrics) DownloadStarted(ctx context.Context, kind string) {
	sm.downloadsActiveGauge.Add(ctx, 1,
		metric.WithAttributes(attribute.String("artifact.kind", kind)),
	)
}

// DownloadFinished decrements the active download gauge
func (sm *ScopeMetrics) DownloadFinished(ctx context.Context, kind string) {
	sm.downloadsActiveGauge.Add(ctx, -1,
		metric.WithAttributes(attribute.String("artifact.kind", kind)),
	)
}
