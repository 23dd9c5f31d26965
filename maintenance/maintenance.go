// Package maintenance runs the daily housekeeping job: pruning old
// seen-set entries so the deduplication ledger stays bounded.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"rss-ai-bot/config"
)

const pruneTimeout = time.Minute

// Store is the pruning surface of the persistence layer.
type Store interface {
	PruneSeenOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	PruneSeenPerFeed(ctx context.Context, keep int) (int64, error)
}

// Maintenance schedules the daily prune with timezone support.
type Maintenance struct {
	cron        *cron.Cron
	location    *time.Location
	store       Store
	retention   time.Duration
	keepPerFeed int

	mu      sync.Mutex
	entryID cron.EntryID
	started bool
}

// New creates a maintenance runner. retentionDays 0 disables age-based
// pruning; keepPerFeed 0 disables the per-feed cap.
func New(store Store, timezone string, retentionDays, keepPerFeed int) (*Maintenance, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}

	return &Maintenance{
		cron:        cron.New(cron.WithLocation(loc)),
		location:    loc,
		store:       store,
		retention:   time.Duration(retentionDays) * 24 * time.Hour,
		keepPerFeed: keepPerFeed,
	}, nil
}

// Schedule sets up the daily prune at the specified time (HH:MM format).
func (m *Maintenance) Schedule(timeStr string) error {
	hour, minute, err := config.ParseClockTime(timeStr)
	if err != nil {
		return err
	}

	spec := buildCronSpec(hour, minute)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.entryID != 0 {
		m.cron.Remove(m.entryID)
	}

	entryID, err := m.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), pruneTimeout)
		defer cancel()
		if err := m.Prune(ctx); err != nil {
			slog.Error("seen-set pruning failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("add cron job: %w", err)
	}
	m.entryID = entryID

	return nil
}

// Start begins the schedule.
func (m *Maintenance) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		m.cron.Start()
		m.started = true
	}
}

// Stop halts the schedule.
func (m *Maintenance) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		m.cron.Stop()
		m.started = false
	}
}

// Prune applies the configured retention policies once.
func (m *Maintenance) Prune(ctx context.Context) error {
	if m.retention > 0 {
		cutoff := time.Now().Add(-m.retention)
		removed, err := m.store.PruneSeenOlderThan(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("prune by age: %w", err)
		}
		if removed > 0 {
			slog.Info("pruned seen-set entries by age", "removed", removed, "cutoff", cutoff)
		}
	}

	if m.keepPerFeed > 0 {
		removed, err := m.store.PruneSeenPerFeed(ctx, m.keepPerFeed)
		if err != nil {
			return fmt.Errorf("prune per feed: %w", err)
		}
		if removed > 0 {
			slog.Info("pruned seen-set entries per feed", "removed", removed, "keep", m.keepPerFeed)
		}
	}

	return nil
}

func buildCronSpec(hour, minute int) string {
	// Cron format: minute hour day month weekday
	return fmt.Sprintf("%d %d * * *", minute, hour)
}
