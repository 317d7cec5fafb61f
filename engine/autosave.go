package engine

import (
	"context"
	"fmt"
	"strings"

	rcron "github.com/robfig/cron/v3"
)

// cronLogger adapts Logger to robfig/cron's logger.
type cronLogger struct {
	logger Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	scoped(l.logger, kvFields(keysAndValues)).Debug("autosave: %s", msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	scoped(l.logger, kvFields(keysAndValues)).Error("autosave: %s: %v", msg, err)
}

func kvFields(kv []any) map[string]any {
	if len(kv) == 0 {
		return nil
	}
	out := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return out
}

func (e *Engine) startAutoSave() error {
	spec := strings.TrimSpace(e.autoSaveSpec)
	if spec == "" || e.store == nil {
		return nil
	}
	logger := cronLogger{logger: e.logger}
	c := rcron.New(
		rcron.WithLogger(logger),
		rcron.WithChain(rcron.Recover(logger), rcron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(spec, func() {
		if n, err := e.Sweep(context.Background()); err != nil {
			e.logger.Warn("autosave sweep saved %d workflows with errors: %v", n, err)
		}
	}); err != nil {
		return fmt.Errorf("autosave schedule %q: %w", spec, err)
	}
	c.Start()
	e.cron = c
	return nil
}

func (e *Engine) stopAutoSave() {
	if e.cron == nil {
		return
	}
	<-e.cron.Stop().Done()
	e.cron = nil
}

// Sweep persists every instance modified since its last checkpoint and returns how many were saved.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	if e.store == nil {
		return 0, nil
	}
	e.sweepMu.Lock()
	defer e.sweepMu.Unlock()

	e.mu.RLock()
	var pending []Instance
	for _, rec := range e.instances {
		if rec.dirty() {
			pending = append(pending, rec.inst.Clone())
		}
	}
	e.mu.RUnlock()

	saved := 0
	var errs []string
	for _, snap := range pending {
		if err := e.persist(ctx, snap); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", snap.ID, err))
			continue
		}
		saved++
	}
	if len(errs) > 0 {
		return saved, fmt.Errorf("sweep: %s", strings.Join(errs, "; "))
	}
	return saved, nil
}

func (e *Engine) flush(ctx context.Context) error {
	n, err := e.Sweep(ctx)
	if n > 0 {
		e.logger.Info("flushed %d dirty workflows", n)
	}
	return err
}

// persist saves snap and marks the live record clean up to snap.Version.
func (e *Engine) persist(ctx context.Context, snap Instance) error {
	if e.store == nil {
		return nil
	}
	at := e.now()
	snap.LastPersistedAt = at
	if err := e.store.Save(ctx, snap); err != nil {
		return err
	}
	e.mu.Lock()
	if rec, ok := e.instances[snap.ID]; ok && snap.Version > rec.persistedVersion {
		rec.persistedVersion = snap.Version
		rec.inst.LastPersistedAt = at
	}
	e.mu.Unlock()
	return nil
}
