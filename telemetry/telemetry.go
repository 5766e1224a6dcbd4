// Package telemetry exports the runtime's traces and metrics through
// OpenTelemetry. The Telemetry interface is the optional contract the
// runtime consumes; NoOp is the default so a Runtime works without any
// collector configured.
package telemetry

import "context"

// Telemetry is the span/metric contract the runtime's subsystems
// depend on. Implementations must be safe for concurrent use.
type Telemetry interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
	RecordMetric(name string, value float64, labels map[string]string)
	Shutdown(ctx context.Context) error
}

// Span is one traced unit of work.
type Span interface {
	End()
	SetAttribute(key string, value interface{})
	RecordError(err error)
}

// NoOp discards every span and metric.
type NoOp struct{}

func (NoOp) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	return ctx, noOpSpan{}
}
func (NoOp) RecordMetric(string, float64, map[string]string) {}
func (NoOp) Shutdown(context.Context) error                  { return nil }

type noOpSpan struct{}

func (noOpSpan) End()                              {}
func (noOpSpan) SetAttribute(string, interface{})  {}
func (noOpSpan) RecordError(error)                 {}
