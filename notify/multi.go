package notify

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/goliatone/go-workflow/engine"
)

// MultiSink delivers every notification to all of its sinks concurrently.
// A failing sink never prevents delivery to the others.
type MultiSink struct {
	sinks []engine.NotificationSink
	limit int
}

// NewMultiSink fans out to sinks, skipping nil entries.
func NewMultiSink(sinks ...engine.NotificationSink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// WithLimit caps concurrent deliveries. Zero means unlimited.
func (m *MultiSink) WithLimit(n int) *MultiSink {
	m.limit = n
	return m
}

// Len reports the number of sinks.
func (m *MultiSink) Len() int { return len(m.sinks) }

// Notify implements engine.NotificationSink. All sink errors are joined.
func (m *MultiSink) Notify(ctx context.Context, n engine.Notification) error {
	if m == nil || len(m.sinks) == 0 {
		return nil
	}
	errs := make([]error, len(m.sinks))
	var g errgroup.Group
	if m.limit > 0 {
		g.SetLimit(m.limit)
	}
	for i, sink := range m.sinks {
		g.Go(func() error {
			if err := sink.Notify(ctx, n); err != nil {
				errs[i] = fmt.Errorf("sink %d: %w", i, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
