package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for runledger spans.
var (
	AttrTaskID      = attribute.Key("runledger.task.id")
	AttrEventID     = attribute.Key("runledger.event.id")
	AttrStorePath   = attribute.Key("runledger.store.path")
	AttrRecordCount = attribute.Key("runledger.store.records")
	AttrMaxEvents   = attribute.Key("runledger.compaction.max_events")
	AttrEvicted     = attribute.Key("runledger.compaction.evicted")
	AttrLockHolder  = attribute.Key("runledger.lock.holder")
)

// StartSpan is a convenience wrapper that starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}
