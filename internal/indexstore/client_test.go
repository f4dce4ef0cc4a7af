package indexstore

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/openpermissions/chubindex/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

// splitServerURL breaks an httptest server URL into the scheme+host and
// port NewClient expects as separate configuration fields.
func splitServerURL(t *testing.T, raw string) (base, port string) {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse test server url: %v", err)
	}
	return u.Scheme + "://" + u.Hostname(), u.Port()
}

func TestClient_CreateNamespace_TreatsConflictAsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	base, port := splitServerURL(t, srv.URL)
	client := NewClient(base, port, "/namespace/", "kb", srv.Client(), testLogger())
	client.CreateNamespace(context.Background()) // must not panic; logs nothing fatal
}

func TestClient_AddEntities_PostsTurtleAndReturnsSummary(t *testing.T) {
	var gotContentType string
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	base, port := splitServerURL(t, srv.URL)
	client := NewClient(base, port, "/namespace/", "kb", srv.Client(), testLogger())
	rows := []domain.IdentifierRow{{EntityID: "abc123", SourceID: "isbn-1", SourceIDType: "isbn"}}

	result, err := client.AddEntities(context.Background(), "asset", rows, "repo-a")
	if err != nil {
		t.Fatalf("add entities: %v", err)
	}
	if result.Records != 1 {
		t.Fatalf("records = %d, want 1", result.Records)
	}
	if gotContentType != "text/turtle" {
		t.Fatalf("content-type = %q", gotContentType)
	}
	if !strings.Contains(gotBody, "abc123") {
		t.Fatalf("expected submitted turtle to contain the entity id: %s", gotBody)
	}
}

func TestClient_AddEntities_PropagatesStoreFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	base, port := splitServerURL(t, srv.URL)
	client := NewClient(base, port, "/namespace/", "kb", srv.Client(), testLogger())
	rows := []domain.IdentifierRow{{EntityID: "abc123", SourceID: "isbn-1", SourceIDType: "isbn"}}

	_, err := client.AddEntities(context.Background(), "asset", rows, "repo-a")
	if err == nil {
		t.Fatal("expected error on non-2xx store response")
	}
}

func TestClient_Query_ReturnsInvalidWithoutCallingStore(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	base, port := splitServerURL(t, srv.URL)
	client := NewClient(base, port, "/namespace/", "kb", srv.Client(), testLogger())
	inputs := []domain.RepositoryLookup{{SourceID: "a", SourceIDType: ""}}

	_, invalid, err := client.Query(context.Background(), inputs, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(invalid) != 1 {
		t.Fatalf("expected one invalid input, got %v", invalid)
	}
	if called {
		t.Fatal("store should never be queried when an input is invalid")
	}
}

func TestClient_Query_ParsesCSVResponse(t *testing.T) {
	csv := "source_id,source_id_type,repositories,relations\n" +
		`isbn-1,isbn,"[{""repository_id"":""repo-a"",""entity_id"":""abc123""}]",[]` + "\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte(csv))
	}))
	defer srv.Close()

	base, port := splitServerURL(t, srv.URL)
	client := NewClient(base, port, "/namespace/", "kb", srv.Client(), testLogger())
	inputs := []domain.RepositoryLookup{{SourceID: "isbn-1", SourceIDType: "isbn"}}

	results, invalid, err := client.Query(context.Background(), inputs, 0)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(invalid) != 0 {
		t.Fatalf("unexpected invalid: %v", invalid)
	}
	if len(results) != 1 || len(results[0].Repositories) != 1 {
		t.Fatalf("unexpected results: %+v", results)
	}
	if results[0].Repositories[0].RepositoryID != "repo-a" {
		t.Fatalf("unexpected repository id: %+v", results[0].Repositories[0])
	}
}
