package scheduler_test

import (
	"testing"
	"time"

	"github.com/openpermissions/chubindex/internal/scheduler"
)

// fixedClock lets tests advance time deterministically without sleeping.
type fixedClock struct{ t time.Time }

func newScheduler(start time.Time, defaultPoll time.Duration) (*scheduler.Scheduler, *fixedClock) {
	s := scheduler.New(defaultPoll)
	clock := &fixedClock{t: start}
	s.SetClockForTest(clock.now)
	return s, clock
}

func (c *fixedClock) now() time.Time { return c.t }

func TestSchedule_DedupesToLatestEntry(t *testing.T) {
	s, clock := newScheduler(time.Now(), time.Hour)

	s.Schedule("repo-a", 10*time.Second)
	s.Schedule("repo-a", 20*time.Second)

	clock.t = clock.t.Add(25 * time.Second)
	got := s.Get(10)
	if len(got) != 1 || got[0] != "repo-a" {
		t.Fatalf("expected exactly one delivery of repo-a, got %v", got)
	}

	// A second Get should not return it again — only one live entry ever existed.
	if more := s.Get(10); len(more) != 0 {
		t.Fatalf("expected no further entries, got %v", more)
	}
}

func TestReschedule_AdvancesEarlierDueTime(t *testing.T) {
	s, clock := newScheduler(time.Now(), time.Hour)

	s.Schedule("repo-a", time.Hour)
	s.Reschedule("repo-a", time.Second)

	clock.t = clock.t.Add(2 * time.Second)
	got := s.Get(10)
	if len(got) != 1 || got[0] != "repo-a" {
		t.Fatalf("reschedule should have advanced delivery, got %v", got)
	}
}

func TestReschedule_NoopWhenLater(t *testing.T) {
	s, clock := newScheduler(time.Now(), time.Hour)

	s.Schedule("repo-a", time.Second)
	s.Reschedule("repo-a", time.Hour) // must not push it further out

	clock.t = clock.t.Add(2 * time.Second)
	got := s.Get(10)
	if len(got) != 1 || got[0] != "repo-a" {
		t.Fatalf("reschedule with a larger delay must be a no-op, got %v", got)
	}
}

func TestGet_ReturnsInNonDecreasingDueOrder(t *testing.T) {
	s, clock := newScheduler(time.Now(), time.Hour)

	s.Schedule("repo-c", 3*time.Second)
	s.Schedule("repo-a", 1*time.Second)
	s.Schedule("repo-b", 2*time.Second)

	clock.t = clock.t.Add(5 * time.Second)
	got := s.Get(10)
	want := []string{"repo-a", "repo-b", "repo-c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestGet_NeverReturnsNotYetDueEntries(t *testing.T) {
	s, clock := newScheduler(time.Now(), time.Hour)

	s.Schedule("repo-a", time.Second)
	s.Schedule("repo-b", time.Hour)

	clock.t = clock.t.Add(2 * time.Second)
	got := s.Get(10)
	if len(got) != 1 || got[0] != "repo-a" {
		t.Fatalf("expected only repo-a to be due, got %v", got)
	}
}

func TestGet_StopsAtRequestedLimit(t *testing.T) {
	s, clock := newScheduler(time.Now(), time.Hour)

	for _, id := range []string{"a", "b", "c"} {
		s.Schedule(id, time.Second)
	}
	clock.t = clock.t.Add(2 * time.Second)

	got := s.Get(2)
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %v", got)
	}
	remaining := s.Get(10)
	if len(remaining) != 1 {
		t.Fatalf("expected 1 remaining entry, got %v", remaining)
	}
}

func TestScheduleDefault_StaysWithinWindow(t *testing.T) {
	s, clock := newScheduler(time.Now(), 10*time.Second)

	for i := 0; i < 20; i++ {
		s.ScheduleDefault("repo-x")
	}
	if s.Len() == 0 {
		t.Fatal("expected at least one heap entry")
	}

	clock.t = clock.t.Add(10 * time.Second)
	got := s.Get(1)
	if len(got) != 1 || got[0] != "repo-x" {
		t.Fatalf("expected repo-x due within the default poll window, got %v", got)
	}
}
