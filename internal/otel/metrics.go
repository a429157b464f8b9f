package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all ChatVault metrics instruments.
type Metrics struct {
	ImportDuration    metric.Float64Histogram
	EntriesExtracted  metric.Int64Counter
	MessagesIngested  metric.Int64Counter
	ArtifactsDeduped  metric.Int64Counter
	SearchDuration    metric.Float64Histogram
	SearchHits        metric.Int64Counter
	WipeFilesRemoved  metric.Int64Counter
	RunsFailed        metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.ImportDuration, err = meter.Float64Histogram("chatvault.import.duration",
		metric.WithDescription("End-to-end import duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.EntriesExtracted, err = meter.Int64Counter("chatvault.import.entries",
		metric.WithDescription("Archive entries extracted"),
	)
	if err != nil {
		return nil, err
	}

	m.MessagesIngested, err = meter.Int64Counter("chatvault.import.messages",
		metric.WithDescription("Messages normalized into the vault"),
	)
	if err != nil {
		return nil, err
	}

	m.ArtifactsDeduped, err = meter.Int64Counter("chatvault.import.deduped",
		metric.WithDescription("Artifact writes skipped by SHA-256 dedup"),
	)
	if err != nil {
		return nil, err
	}

	m.SearchDuration, err = meter.Float64Histogram("chatvault.search.duration",
		metric.WithDescription("FTS query duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.SearchHits, err = meter.Int64Counter("chatvault.search.hits",
		metric.WithDescription("Total search hits returned"),
	)
	if err != nil {
		return nil, err
	}

	m.WipeFilesRemoved, err = meter.Int64Counter("chatvault.wipe.files",
		metric.WithDescription("Artifact files removed by wipe"),
	)
	if err != nil {
		return nil, err
	}

	m.RunsFailed, err = meter.Int64Counter("chatvault.import.failures",
		metric.WithDescription("Ingestion runs finalized as failed"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
