// internal/janitor/janitor.go
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/user/recall/internal/memory"
)

// Store is the part of the memory manager the janitor drives. Every
// committed change is already persisted, so a pass only prunes.
type Store interface {
	Prune(ctx context.Context, policy memory.PrunePolicy) ([]string, error)
}

// PruneObserver is notified of how many sessions each pass removed.
type PruneObserver interface {
	ObservePruned(n int)
}

// Janitor prunes idle and excess sessions on a cron schedule.
type Janitor struct {
	store    Store
	policy   memory.PrunePolicy
	observer PruneObserver

	mu       sync.Mutex
	schedule string
	cron     *cron.Cron
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateSchedule reports whether schedule is a cron expression the
// janitor accepts.
func ValidateSchedule(schedule string) error {
	if _, err := cronParser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	return nil
}

// New creates a janitor. observer may be nil.
func New(store Store, schedule string, policy memory.PrunePolicy, observer PruneObserver) *Janitor {
	return &Janitor{
		store:    store,
		policy:   policy,
		observer: observer,
		schedule: schedule,
		cron:     cron.New(cron.WithParser(cronParser)),
	}
}

// RunOnce performs one prune pass.
func (j *Janitor) RunOnce(ctx context.Context) ([]string, error) {
	j.mu.Lock()
	policy := j.policy
	j.mu.Unlock()

	removed, err := j.store.Prune(ctx, policy)
	if j.observer != nil && len(removed) > 0 {
		j.observer.ObservePruned(len(removed))
	}
	if err != nil {
		return removed, fmt.Errorf("prune sessions: %w", err)
	}
	return removed, nil
}

// Start registers the pass on the schedule and starts the cron ticker.
func (j *Janitor) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.cron.AddFunc(j.schedule, func() {
		removed, err := j.RunOnce(context.Background())
		if err != nil {
			slog.Error("janitor pass failed", "error", err)
			return
		}
		slog.Debug("janitor pass complete", "pruned", len(removed))
	})
	if err != nil {
		return fmt.Errorf("schedule janitor %q: %w", j.schedule, err)
	}
	slog.Info("janitor scheduled", "schedule", j.schedule,
		"idle_ttl", j.policy.IdleTTL, "max_sessions", j.policy.MaxSessions)
	j.cron.Start()
	return nil
}

// Reload stops the running cron and starts again with schedule and policy.
func (j *Janitor) Reload(schedule string, policy memory.PrunePolicy) error {
	if err := ValidateSchedule(schedule); err != nil {
		return err
	}
	j.mu.Lock()
	j.cron.Stop()
	j.cron = cron.New(cron.WithParser(cronParser))
	j.schedule = schedule
	j.policy = policy
	j.mu.Unlock()
	return j.Start()
}

// Stop stops the cron ticker and waits for a running pass to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	c := j.cron
	j.mu.Unlock()
	<-c.Stop().Done()
}
