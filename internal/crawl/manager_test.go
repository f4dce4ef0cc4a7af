package crawl_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/openpermissions/chubindex/internal/crawl"
	"github.com/openpermissions/chubindex/internal/domain"
	"github.com/openpermissions/chubindex/internal/registry"
)

type fakeScheduler struct {
	due       []string
	scheduled map[string]time.Duration
}

func newFakeScheduler(due ...string) *fakeScheduler {
	return &fakeScheduler{due: due, scheduled: make(map[string]time.Duration)}
}

func (s *fakeScheduler) Get(n int) []string {
	if n >= len(s.due) {
		out := s.due
		s.due = nil
		return out
	}
	out := s.due[:n]
	s.due = s.due[n:]
	return out
}

func (s *fakeScheduler) Schedule(repoID string, delay time.Duration) {
	s.scheduled[repoID] = delay
}

func (s *fakeScheduler) Len() int {
	return len(s.due)
}

type fakeRegistry struct {
	repos map[string]*domain.Repository
	fails map[string]int
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{repos: make(map[string]*domain.Repository), fails: make(map[string]int)}
}

func (r *fakeRegistry) Get(id string) (*domain.Repository, error) {
	rec, ok := r.repos[id]
	if !ok {
		return nil, domain.ErrRepositoryNotFound
	}
	return rec, nil
}

func (r *fakeRegistry) Fail(id string) (*domain.Repository, error) {
	rec, ok := r.repos[id]
	if !ok {
		rec = &domain.Repository{ID: id}
		r.repos[id] = rec
	}
	rec.Errors++
	r.fails[id]++
	return rec, nil
}

func (r *fakeRegistry) Success(id string, next *time.Time) (*domain.Repository, error) {
	rec, ok := r.repos[id]
	if !ok {
		rec = &domain.Repository{ID: id}
		r.repos[id] = rec
	}
	rec.Errors = 0
	if next != nil {
		rec.Next = next
	}
	rec.SuccessfulQueries++
	return rec, nil
}

type fakeOpenRegistry struct {
	err error
}

func (f *fakeOpenRegistry) FetchRemote(_ context.Context, id string, _ registry.RemoteResolver, _ bool) (*domain.Repository, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Repository{ID: id, Location: "http://resolved"}, nil
}

type fakeFeed struct {
	pages map[int]domain.IdentifierPage
}

func (f *fakeFeed) FetchPage(_ context.Context, _, _ string, page int, _ time.Time) (domain.IdentifierPage, error) {
	if p, ok := f.pages[page]; ok {
		return p, nil
	}
	return domain.IdentifierPage{}, nil
}

type erroringFeed struct{}

func (erroringFeed) FetchPage(context.Context, string, string, int, time.Time) (domain.IdentifierPage, error) {
	return domain.IdentifierPage{}, errors.New("boom")
}

type fakeIndexWriter struct {
	batches [][]domain.IdentifierRow
}

func (w *fakeIndexWriter) AddEntities(_ context.Context, _ string, rows []domain.IdentifierRow, _ string) (domain.WriteResult, error) {
	w.batches = append(w.batches, rows)
	return domain.WriteResult{Records: len(rows)}, nil
}

type noopLimiter struct{}

func (noopLimiter) Wait(context.Context, string) error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func baseConfig() crawl.Config {
	return crawl.Config{
		Concurrency:             2,
		DefaultPollInterval:     time.Minute,
		MaxPollErrorDelayFactor: 5,
		NotificationPollInterval: time.Second,
	}
}

func TestManager_Tick_UnknownRepositoryServiceClosedIsDropped(t *testing.T) {
	sched := newFakeScheduler("repo-a")
	reg := newFakeRegistry()
	mgr := crawl.NewManager(sched, reg, &fakeOpenRegistry{}, nil, &fakeFeed{}, &fakeIndexWriter{}, noopLimiter{}, testLogger(), baseConfig())

	n := mgr.Tick(context.Background())
	if n != 1 {
		t.Fatalf("tick dispatched = %d, want 1", n)
	}
	if len(sched.scheduled) != 0 {
		t.Fatalf("expected no reschedule for a dropped unknown repository, got %v", sched.scheduled)
	}
}

func TestManager_Tick_UnknownRepositoryOpenServiceResolvesAndFetches(t *testing.T) {
	sched := newFakeScheduler("repo-a")
	reg := newFakeRegistry()
	feed := &fakeFeed{pages: map[int]domain.IdentifierPage{
		1: {Data: []domain.IdentifierRow{{EntityID: "e1", SourceID: "s1", SourceIDType: "isbn"}}},
	}}
	index := &fakeIndexWriter{}
	cfg := baseConfig()
	cfg.OpenService = true

	mgr := crawl.NewManager(sched, reg, &fakeOpenRegistry{}, nil, feed, index, noopLimiter{}, testLogger(), cfg)
	mgr.Tick(context.Background())

	if len(index.batches) != 1 {
		t.Fatalf("expected one batch written, got %d", len(index.batches))
	}
	if _, ok := sched.scheduled["repo-a"]; !ok {
		t.Fatal("expected repo-a to be rescheduled after a successful fetch")
	}
	if reg.repos["repo-a"].Errors != 0 {
		t.Fatalf("expected error count reset on success, got %d", reg.repos["repo-a"].Errors)
	}
}

func TestManager_Tick_MissingLocationFailsWithoutFetching(t *testing.T) {
	sched := newFakeScheduler("repo-a")
	reg := newFakeRegistry()
	reg.repos["repo-a"] = &domain.Repository{ID: "repo-a"}
	index := &fakeIndexWriter{}

	mgr := crawl.NewManager(sched, reg, &fakeOpenRegistry{}, nil, &fakeFeed{}, index, noopLimiter{}, testLogger(), baseConfig())
	mgr.Tick(context.Background())

	if len(index.batches) != 0 {
		t.Fatal("expected no index writes for a repository with no location")
	}
	if reg.fails["repo-a"] != 1 {
		t.Fatalf("expected one failure recorded, got %d", reg.fails["repo-a"])
	}
	if _, ok := sched.scheduled["repo-a"]; !ok {
		t.Fatal("expected repo-a to still be rescheduled after a failure")
	}
}

func TestManager_Tick_FeedErrorRecordsFailureAndReschedules(t *testing.T) {
	sched := newFakeScheduler("repo-a")
	reg := newFakeRegistry()
	reg.repos["repo-a"] = &domain.Repository{ID: "repo-a", Location: "http://a"}

	mgr := crawl.NewManager(sched, reg, &fakeOpenRegistry{}, nil, erroringFeed{}, &fakeIndexWriter{}, noopLimiter{}, testLogger(), baseConfig())
	mgr.Tick(context.Background())

	if reg.fails["repo-a"] != 1 {
		t.Fatalf("expected one failure recorded, got %d", reg.fails["repo-a"])
	}
	if _, ok := sched.scheduled["repo-a"]; !ok {
		t.Fatal("expected repo-a to be rescheduled after a transient failure")
	}
}

func TestManager_Tick_PaginatesUntilEmptyPage(t *testing.T) {
	sched := newFakeScheduler("repo-a")
	reg := newFakeRegistry()
	reg.repos["repo-a"] = &domain.Repository{ID: "repo-a", Location: "http://a"}
	feed := &fakeFeed{pages: map[int]domain.IdentifierPage{
		1: {Data: []domain.IdentifierRow{{EntityID: "e1", SourceID: "s1", SourceIDType: "isbn"}}, ResultRange: &domain.ResultRange{From: "2020-01-01T00:00:00Z", To: "2020-01-02T00:00:00Z"}},
		2: {Data: []domain.IdentifierRow{{EntityID: "e2", SourceID: "s2", SourceIDType: "isbn"}}, ResultRange: &domain.ResultRange{From: "2020-01-02T00:00:00Z", To: "2020-01-03T00:00:00Z"}},
	}}
	index := &fakeIndexWriter{}

	mgr := crawl.NewManager(sched, reg, &fakeOpenRegistry{}, nil, feed, index, noopLimiter{}, testLogger(), baseConfig())
	mgr.Tick(context.Background())

	if len(index.batches) != 2 {
		t.Fatalf("expected two pages written, got %d", len(index.batches))
	}
	if reg.repos["repo-a"].Next == nil || reg.repos["repo-a"].Next.Format(time.RFC3339) != "2020-01-03T00:00:00Z" {
		t.Fatalf("expected cursor advanced to the last page's upper bound, got %v", reg.repos["repo-a"].Next)
	}
}

func TestManager_Tick_RespectsMaxRepositoryPages(t *testing.T) {
	sched := newFakeScheduler("repo-a")
	reg := newFakeRegistry()
	reg.repos["repo-a"] = &domain.Repository{ID: "repo-a", Location: "http://a"}
	feed := &fakeFeed{pages: map[int]domain.IdentifierPage{
		1: {Data: []domain.IdentifierRow{{EntityID: "e1", SourceID: "s1", SourceIDType: "isbn"}}},
		2: {Data: []domain.IdentifierRow{{EntityID: "e2", SourceID: "s2", SourceIDType: "isbn"}}},
	}}
	index := &fakeIndexWriter{}
	cfg := baseConfig()
	cfg.MaxRepositoryPages = 1

	mgr := crawl.NewManager(sched, reg, &fakeOpenRegistry{}, nil, feed, index, noopLimiter{}, testLogger(), cfg)
	mgr.Tick(context.Background())

	if len(index.batches) != 1 {
		t.Fatalf("expected pagination capped at one page, got %d", len(index.batches))
	}
}

func TestManager_Tick_NoDueRepositoriesDispatchesNothing(t *testing.T) {
	sched := newFakeScheduler()
	reg := newFakeRegistry()
	mgr := crawl.NewManager(sched, reg, &fakeOpenRegistry{}, nil, &fakeFeed{}, &fakeIndexWriter{}, noopLimiter{}, testLogger(), baseConfig())

	if n := mgr.Tick(context.Background()); n != 0 {
		t.Fatalf("tick dispatched = %d, want 0", n)
	}
}
