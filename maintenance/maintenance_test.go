package maintenance

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeStore struct {
	ageCalls     int
	ageCutoff    time.Time
	ageRemoved   int64
	perFeedCalls int
	perFeedKeep  int
	err          error
}

func (s *fakeStore) PruneSeenOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.ageCalls++
	s.ageCutoff = cutoff
	return s.ageRemoved, s.err
}

func (s *fakeStore) PruneSeenPerFeed(ctx context.Context, keep int) (int64, error) {
	s.perFeedCalls++
	s.perFeedKeep = keep
	return 0, s.err
}

func TestNewMaintenance(t *testing.T) {
	m, err := New(&fakeStore{}, "America/New_York", 30, 0)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer m.Stop()

	if m.location.String() != "America/New_York" {
		t.Errorf("location = %q, want 'America/New_York'", m.location.String())
	}
}

func TestNewInvalidTimezone(t *testing.T) {
	_, err := New(&fakeStore{}, "Invalid/Zone", 30, 0)
	if err == nil {
		t.Fatal("expected error for invalid timezone")
	}
}

func TestPruneByAge(t *testing.T) {
	store := &fakeStore{ageRemoved: 7}
	m, _ := New(store, "UTC", 30, 0)

	before := time.Now().AddDate(0, 0, -30)
	if err := m.Prune(context.Background()); err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	after := time.Now().AddDate(0, 0, -30)

	if store.ageCalls != 1 {
		t.Fatalf("age pruning ran %d times, want 1", store.ageCalls)
	}
	if store.ageCutoff.Before(before) || store.ageCutoff.After(after) {
		t.Errorf("cutoff = %v, want roughly 30 days ago", store.ageCutoff)
	}
	if store.perFeedCalls != 0 {
		t.Error("per-feed pruning should be disabled with keep 0")
	}
}

func TestPrunePerFeed(t *testing.T) {
	store := &fakeStore{}
	m, _ := New(store, "UTC", 0, 500)

	if err := m.Prune(context.Background()); err != nil {
		t.Fatalf("Prune failed: %v", err)
	}

	if store.ageCalls != 0 {
		t.Error("age pruning should be disabled with retention 0")
	}
	if store.perFeedCalls != 1 || store.perFeedKeep != 500 {
		t.Errorf("per-feed pruning calls = %d keep = %d, want 1 call with keep 500",
			store.perFeedCalls, store.perFeedKeep)
	}
}

func TestPruneError(t *testing.T) {
	store := &fakeStore{err: errors.New("disk full")}
	m, _ := New(store, "UTC", 30, 500)

	if err := m.Prune(context.Background()); err == nil {
		t.Fatal("expected error from failing store")
	}
	if store.perFeedCalls != 0 {
		t.Error("per-feed pruning should not run after age pruning fails")
	}
}

func TestScheduleAndStop(t *testing.T) {
	m, _ := New(&fakeStore{}, "UTC", 30, 0)
	defer m.Stop()

	// Testing actual cron execution timing is unreliable in unit tests;
	// verify the entry is registered.
	if err := m.Schedule("04:00"); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	m.Start()

	entries := m.cron.Entries()
	if len(entries) != 1 {
		t.Errorf("expected 1 cron entry, got %d", len(entries))
	}
}

func TestScheduleInvalidTime(t *testing.T) {
	m, _ := New(&fakeStore{}, "UTC", 30, 0)
	defer m.Stop()

	tests := []string{
		"invalid",
		"25:00",
		"12:60",
		"9:00",
		"12:0",
	}

	for _, tt := range tests {
		if err := m.Schedule(tt); err == nil {
			t.Errorf("expected error for invalid time %q", tt)
		}
	}
}

func TestReschedule(t *testing.T) {
	m, _ := New(&fakeStore{}, "UTC", 30, 0)
	defer m.Stop()

	if err := m.Schedule("04:00"); err != nil {
		t.Fatalf("initial Schedule failed: %v", err)
	}
	if err := m.Schedule("05:30"); err != nil {
		t.Fatalf("reschedule failed: %v", err)
	}

	if len(m.cron.Entries()) != 1 {
		t.Error("expected 1 entry after reschedule")
	}

	m.Start()
}

func TestMultipleStartStop(t *testing.T) {
	m, _ := New(&fakeStore{}, "UTC", 30, 0)

	m.Schedule("04:00")

	m.Start()
	m.Start()

	m.Stop()
	m.Stop()
}

func TestBuildCronSpec(t *testing.T) {
	tests := []struct {
		hour     int
		minute   int
		expected string
	}{
		{4, 0, "0 4 * * *"},
		{0, 0, "0 0 * * *"},
		{23, 59, "59 23 * * *"},
	}

	for _, tt := range tests {
		if spec := buildCronSpec(tt.hour, tt.minute); spec != tt.expected {
			t.Errorf("buildCronSpec(%d, %d) = %q, want %q",
				tt.hour, tt.minute, spec, tt.expected)
		}
	}
}
