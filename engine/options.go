package engine

import (
	"time"

	"go.opentelemetry.io/otel/trace"
)

// DefaultAutoSaveSpec is the cron spec of the dirty-instance sweep.
const DefaultAutoSaveSpec = "@every 1m"

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithStore sets the persistence store. Without one the engine is memory only.
func WithStore(store Store) Option {
	return func(e *Engine) {
		e.store = store
	}
}

// WithAuditSink sets the audit sink.
func WithAuditSink(sink AuditSink) Option {
	return func(e *Engine) {
		e.audit = sink
	}
}

// WithNotificationSink sets the notification sink.
func WithNotificationSink(sink NotificationSink) Option {
	return func(e *Engine) {
		e.notifier = sink
	}
}

// WithClock overrides the time source used for timestamps and lock ages.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLockTTL overrides DefaultLockTTL.
func WithLockTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.lockTTL = ttl
		}
	}
}

// WithAutoSave sets the cron spec of the persistence sweep. An empty spec disables it.
func WithAutoSave(spec string) Option {
	return func(e *Engine) {
		e.autoSaveSpec = spec
	}
}

// WithTracer overrides the tracer used for operation spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithObserver subscribes obs for the lifetime of the engine.
func WithObserver(obs Observer) Option {
	return func(e *Engine) {
		if obs != nil {
			e.bus.subscribe(obs)
		}
	}
}
