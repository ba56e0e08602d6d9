package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// PurgeStale deletes games untouched for longer than olderThan and returns
// the removed ids. Subscribers see each removal as a deleted snapshot.
func (s *Store) PurgeStale(ctx context.Context, olderThan time.Duration) ([]string, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	var ids []string
	if err := s.db.WithContext(ctx).Model(&GameDocument{}).
		Where("updated_at <= ?", cutoff).
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("find stale games: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if err := s.db.WithContext(ctx).
		Where("id IN ? AND updated_at <= ?", ids, cutoff).
		Delete(&GameDocument{}).Error; err != nil {
		return nil, fmt.Errorf("delete stale games: %w", err)
	}
	s.changed(ctx, ids...)
	return ids, nil
}

// Janitor runs PurgeStale on a cron schedule.
type Janitor struct {
	cron *cron.Cron
}

// StartJanitor schedules purges of games older than staleAfter.
// report receives every run's result.
func StartJanitor(store *Store, schedule string, staleAfter time.Duration, report func(ids []string, err error)) (*Janitor, error) {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		ids, err := store.PurgeStale(context.Background(), staleAfter)
		if report != nil {
			report(ids, err)
		}
	}); err != nil {
		return nil, fmt.Errorf("schedule janitor %q: %w", schedule, err)
	}
	c.Start()
	return &Janitor{cron: c}, nil
}

// Stop halts scheduling and waits for a running purge to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}
