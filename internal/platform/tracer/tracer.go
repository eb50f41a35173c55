// Package tracer is a small tracing abstraction over OpenTelemetry so domain
// packages emit spans without importing OTel APIs directly.
//
// Implementations:
//   - NoopTracer: tests
//   - OTelTracer: production, backed by the global provider
package tracer

import (
	"context"
	"time"
)

// Span represents an active trace span.
type Span interface {
	// End completes the span. A non-nil err marks it failed. Call exactly once.
	End(err error)
	SetAttributes(attrs ...Attribute)
	AddEvent(name string, attrs ...Attribute)
}

// Tracer creates spans. Implementations must be safe for concurrent use.
type Tracer interface {
	// Start creates a span; pass the returned context to child operations.
	//
	//   ctx, span := t.Start(ctx, tracer.SpanHandoverDelivery,
	//       tracer.String(tracer.AttrPackageID, string(pkg.ID)),
	//   )
	//   defer func() { span.End(err) }()
	Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
}

// Attribute represents a key-value pair attached to spans.
type Attribute struct {
	Key   string
	Value any
}

func String(key, value string) Attribute {
	return Attribute{Key: key, Value: value}
}

func Bool(key string, value bool) Attribute {
	return Attribute{Key: key, Value: value}
}

func Int64(key string, value int64) Attribute {
	return Attribute{Key: key, Value: value}
}

func Float64(key string, value float64) Attribute {
	return Attribute{Key: key, Value: value}
}

// Duration creates a duration attribute in milliseconds.
func Duration(key string, value time.Duration) Attribute {
	return Attribute{Key: key, Value: value.Milliseconds()}
}

// Span names.
const (
	SpanHandoverPickup   = "handover.pickup"
	SpanHandoverDelivery = "handover.delivery"
	SpanLocation         = "handover.location"
	SpanEvidence         = "handover.evidence"
	SpanToken            = "handover.token"
	SpanSign             = "handover.sign"
	SpanAppend           = "handover.append"
)

// Attribute keys.
const (
	AttrPackageID      = "package_id"
	AttrKind           = "handover.kind"
	AttrState          = "handover.state"
	AttrReason         = "handover.reason"
	AttrDistanceMeters = "geofence.distance_m"
	AttrAccuracyClass  = "geofence.accuracy_class"
	AttrOverride       = "handover.override"
	AttrDuplicate      = "events.duplicate"
)

// Event names.
const (
	EventTransition  = "handover.transition"
	EventStillTrying = "handover.still_trying"
)
