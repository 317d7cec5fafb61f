package notify

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-logger/glog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-workflow/engine"
	"github.com/goliatone/go-workflow/permission"
)

var errDown = errors.New("smtp down")

type countingSink struct {
	calls   atomic.Int32
	failFor int32
	err     error
}

func (s *countingSink) Notify(context.Context, engine.Notification) error {
	n := s.calls.Add(1)
	if n <= s.failFor {
		return s.err
	}
	return nil
}

type recordedStrategy struct {
	mu       sync.Mutex
	attempts []int
}

func (r *recordedStrategy) SleepDuration(attempt int, _ error) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, attempt)
	return 0
}

func sample() engine.Notification {
	return engine.Notification{
		Recipients:   engine.Recipients{Roles: []permission.Role{permission.RoleApprover}, Users: []string{"zoe", "alice"}},
		Template:     engine.TemplateActionRequired,
		WorkflowID:   "exp-1",
		WorkflowType: "expense_approval",
		State:        "manager_review",
	}
}

func TestExponentialBackoff(t *testing.T) {
	s := ExponentialBackoffStrategy{Base: 100 * time.Millisecond, Factor: 2, Max: time.Second}
	assert.Equal(t, 100*time.Millisecond, s.SleepDuration(-1, nil))
	assert.Equal(t, 100*time.Millisecond, s.SleepDuration(0, nil))
	assert.Equal(t, 400*time.Millisecond, s.SleepDuration(2, nil))
	assert.Equal(t, time.Second, s.SleepDuration(10, nil))
	assert.Equal(t, time.Second, s.SleepDuration(5000, nil))

	flat := ExponentialBackoffStrategy{Base: 50 * time.Millisecond}
	assert.Equal(t, 50*time.Millisecond, flat.SleepDuration(3, nil))
	assert.Zero(t, NoDelayStrategy{}.SleepDuration(4, errDown))
}

func TestRetryingSinkRecovers(t *testing.T) {
	inner := &countingSink{failFor: 2, err: errDown}
	strategy := &recordedStrategy{}
	s := NewRetryingSink(inner, WithMaxAttempts(3), WithStrategy(strategy))

	require.NoError(t, s.Notify(context.Background(), sample()))
	assert.Equal(t, int32(3), inner.calls.Load())
	assert.Equal(t, []int{0, 1}, strategy.attempts)
}

func TestRetryingSinkGivesUp(t *testing.T) {
	inner := &countingSink{failFor: 10, err: errDown}
	s := NewRetryingSink(inner, WithMaxAttempts(4))

	err := s.Notify(context.Background(), sample())
	require.Error(t, err)
	assert.ErrorIs(t, err, errDown)
	assert.Contains(t, err.Error(), "after 4 attempts")
	assert.Equal(t, int32(4), inner.calls.Load())
}

func TestRetryingSinkStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("unknown recipient")
	inner := &countingSink{failFor: 10, err: permanent}
	s := NewRetryingSink(inner, WithMaxAttempts(5), WithRetryable(func(err error) bool {
		return !errors.Is(err, permanent)
	}))

	assert.ErrorIs(t, s.Notify(context.Background(), sample()), permanent)
	assert.Equal(t, int32(1), inner.calls.Load())
}

func TestRetryingSinkHonoursCancellation(t *testing.T) {
	inner := &countingSink{failFor: 10, err: errDown}
	s := NewRetryingSink(inner, WithMaxAttempts(5), WithStrategy(ExponentialBackoffStrategy{Base: time.Hour}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := s.Notify(ctx, sample())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, errDown)
	assert.Less(t, time.Since(start), time.Minute)
	assert.Equal(t, int32(1), inner.calls.Load())
}

func TestRetryingSinkLogsAttempts(t *testing.T) {
	var buf bytes.Buffer
	inner := &countingSink{failFor: 1, err: errDown}
	s := NewRetryingSink(inner, WithRetryLogger(engine.NewDefaultLogger(&buf)))

	require.NoError(t, s.Notify(context.Background(), sample()))
	assert.Contains(t, buf.String(), "notification action_required for exp-1 failed, attempt 1 of 3: smtp down")
}

func TestRetryingSinkNotConfigured(t *testing.T) {
	var s *RetryingSink
	assert.Error(t, s.Notify(context.Background(), sample()))
}

func TestMultiSinkDeliversToAll(t *testing.T) {
	a, b := &countingSink{}, &countingSink{failFor: 1, err: errDown}
	c := &countingSink{}
	m := NewMultiSink(a, nil, b, c).WithLimit(2)
	assert.Equal(t, 3, m.Len())

	err := m.Notify(context.Background(), sample())
	require.Error(t, err)
	assert.ErrorIs(t, err, errDown)
	assert.Contains(t, err.Error(), "sink 1")
	for _, s := range []*countingSink{a, b, c} {
		assert.Equal(t, int32(1), s.calls.Load())
	}

	require.NoError(t, m.Notify(context.Background(), sample()))
	assert.NoError(t, NewMultiSink().Notify(context.Background(), sample()))
}

func TestMultiSinkRunsConcurrently(t *testing.T) {
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(2)
	blocking := engine.NotifyFunc(func(ctx context.Context, _ engine.Notification) error {
		started.Done()
		<-release
		return nil
	})
	m := NewMultiSink(blocking, blocking)

	done := make(chan error, 1)
	go func() { done <- m.Notify(context.Background(), sample()) }()
	started.Wait()
	close(release)
	assert.NoError(t, <-done)
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSink(engine.NewGoLogger(glog.NewLogger(glog.WithWriter(&buf), glog.WithLoggerTypeJSON())))
	require.NoError(t, s.Notify(context.Background(), sample()))

	line := buf.String()
	assert.Contains(t, line, "notify action_required to role:approver,user:alice,user:zoe")
	assert.Contains(t, line, "exp-1")
	assert.Contains(t, line, "manager_review")

	buf.Reset()
	empty := sample()
	empty.Recipients = engine.Recipients{}
	require.NoError(t, s.Notify(context.Background(), empty))
	assert.Contains(t, buf.String(), "to nobody")
}

func TestSinksPlugIntoEngineContract(t *testing.T) {
	var _ engine.NotificationSink = (*RetryingSink)(nil)
	var _ engine.NotificationSink = (*MultiSink)(nil)
	var _ engine.NotificationSink = (*LogSink)(nil)
}
