package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all runledger metrics instruments.
type Metrics struct {
	AppendDuration      metric.Float64Histogram
	AppendsTotal        metric.Int64Counter
	AppendErrors        metric.Int64Counter
	SaveDuration        metric.Float64Histogram
	CompactionEvictions metric.Int64Counter
	CompactionDuration  metric.Float64Histogram
	StoreBytes          metric.Int64UpDownCounter
	WALQueueDepth       metric.Int64UpDownCounter
	MalformedRecords    metric.Int64Counter
	LockReclaims        metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.AppendDuration, err = meter.Float64Histogram("runledger.append.duration",
		metric.WithDescription("Durable append duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.AppendsTotal, err = meter.Int64Counter("runledger.append.total",
		metric.WithDescription("Total records appended to the event store"),
	)
	if err != nil {
		return nil, err
	}

	m.AppendErrors, err = meter.Int64Counter("runledger.append.errors",
		metric.WithDescription("Failed durable append attempts"),
	)
	if err != nil {
		return nil, err
	}

	m.SaveDuration, err = meter.Float64Histogram("runledger.save.duration",
		metric.WithDescription("Full ledger rewrite duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.CompactionEvictions, err = meter.Int64Counter("runledger.compaction.evictions",
		metric.WithDescription("Records evicted by compaction"),
	)
	if err != nil {
		return nil, err
	}

	m.CompactionDuration, err = meter.Float64Histogram("runledger.compaction.duration",
		metric.WithDescription("Compaction pass duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.StoreBytes, err = meter.Int64UpDownCounter("runledger.store.bytes",
		metric.WithDescription("Record file size in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	m.WALQueueDepth, err = meter.Int64UpDownCounter("runledger.wal.queue_depth",
		metric.WithDescription("Pending writes in the durability queue"),
	)
	if err != nil {
		return nil, err
	}

	m.MalformedRecords, err = meter.Int64Counter("runledger.record.malformed",
		metric.WithDescription("Record lines skipped during reads"),
	)
	if err != nil {
		return nil, err
	}

	m.LockReclaims, err = meter.Int64Counter("runledger.lock.reclaims",
		metric.WithDescription("Stale locks reclaimed during acquisition"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
