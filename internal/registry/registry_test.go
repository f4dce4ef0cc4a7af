package registry_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/openpermissions/chubindex/internal/domain"
	"github.com/openpermissions/chubindex/internal/registry"
)

func newTestStore(t *testing.T) *registry.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registry.db")
	s, err := registry.Open(path)
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGet_UnknownRepository(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get("missing")
	if !errors.Is(err, domain.ErrRepositoryNotFound) {
		t.Fatalf("expected ErrRepositoryNotFound, got %v", err)
	}
}

func TestSetAndGet_RoundTrips(t *testing.T) {
	s := newTestStore(t)
	want := &domain.Repository{ID: "repo-a", Location: "http://a.example"}
	if err := s.Set(want); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := s.Get("repo-a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Location != want.Location {
		t.Fatalf("location = %q, want %q", got.Location, want.Location)
	}
}

func TestFail_IncrementsErrorsLeavesLastAndNextAlone(t *testing.T) {
	s := newTestStore(t)
	next := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := s.Set(&domain.Repository{ID: "repo-a", Next: &next}); err != nil {
		t.Fatalf("set: %v", err)
	}

	rec, err := s.Fail("repo-a")
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if rec.Errors != 1 {
		t.Fatalf("errors = %d, want 1", rec.Errors)
	}
	if rec.Last != nil {
		t.Fatalf("last should remain unset after a failure, got %v", rec.Last)
	}
	if rec.Next == nil || !rec.Next.Equal(next) {
		t.Fatalf("next should be unchanged after a failure, got %v", rec.Next)
	}

	rec, err = s.Fail("repo-a")
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if rec.Errors != 2 {
		t.Fatalf("errors = %d, want 2 after second failure", rec.Errors)
	}
}

func TestSuccess_ResetsErrorsAdvancesLastAndNext(t *testing.T) {
	s := newTestStore(t)
	if err := s.Set(&domain.Repository{ID: "repo-a", Errors: 3}); err != nil {
		t.Fatalf("set: %v", err)
	}

	next := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	rec, err := s.Success("repo-a", &next)
	if err != nil {
		t.Fatalf("success: %v", err)
	}
	if rec.Errors != 0 {
		t.Fatalf("errors = %d, want 0", rec.Errors)
	}
	if rec.Last == nil {
		t.Fatal("last should be set after a success")
	}
	if rec.Next == nil || !rec.Next.Equal(next) {
		t.Fatalf("next = %v, want %v", rec.Next, next)
	}
	if rec.SuccessfulQueries != 1 {
		t.Fatalf("successful_queries = %d, want 1", rec.SuccessfulQueries)
	}
}

func TestSuccess_WithoutNext_LeavesPreviousCursor(t *testing.T) {
	s := newTestStore(t)
	prev := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := s.Set(&domain.Repository{ID: "repo-a", Next: &prev}); err != nil {
		t.Fatalf("set: %v", err)
	}

	rec, err := s.Success("repo-a", nil)
	if err != nil {
		t.Fatalf("success: %v", err)
	}
	if rec.Next == nil || !rec.Next.Equal(prev) {
		t.Fatalf("next = %v, want unchanged %v", rec.Next, prev)
	}
}

func TestGetAllIDs_ListsEverySetRepository(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"repo-a", "repo-b", "repo-c"} {
		if err := s.Set(&domain.Repository{ID: id}); err != nil {
			t.Fatalf("set %s: %v", id, err)
		}
	}

	ids, err := s.GetAllIDs()
	if err != nil {
		t.Fatalf("get all ids: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("got %d ids, want 3", len(ids))
	}
}

type fakeResolver struct {
	repo *domain.Repository
	err  error
}

func (f *fakeResolver) GetRepository(_ context.Context, _ string) (*domain.Repository, error) {
	return f.repo, f.err
}

func TestFetchRemote_ClosedServiceNeverCallsResolver(t *testing.T) {
	s := newTestStore(t)
	resolver := &fakeResolver{err: errors.New("should not be called")}

	_, err := s.FetchRemote(context.Background(), "repo-a", resolver, false)
	if !errors.Is(err, domain.ErrRepositoryUnknown) {
		t.Fatalf("expected ErrRepositoryUnknown, got %v", err)
	}
}

func TestFetchRemote_OpenServicePersistsResult(t *testing.T) {
	s := newTestStore(t)
	resolver := &fakeResolver{repo: &domain.Repository{ID: "repo-a", Location: "http://a.example"}}

	rec, err := s.FetchRemote(context.Background(), "repo-a", resolver, true)
	if err != nil {
		t.Fatalf("fetch remote: %v", err)
	}
	if rec.Location != "http://a.example" {
		t.Fatalf("location = %q", rec.Location)
	}

	persisted, err := s.Get("repo-a")
	if err != nil {
		t.Fatalf("get after fetch remote: %v", err)
	}
	if persisted.Location != "http://a.example" {
		t.Fatalf("persisted location = %q", persisted.Location)
	}
}
