package handler_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/openpermissions/chubindex/internal/transport/http/handler"
)

type fakeQueue struct {
	put []string
}

func (f *fakeQueue) PutNowait(_ context.Context, repoID string) {
	f.put = append(f.put, repoID)
}

func newNotifyEngine(q *fakeQueue) *gin.Engine {
	h := handler.NewNotifyHandler(q, testLogger())
	r := gin.New()
	r.POST("/notifications", h.Create)
	return r
}

func TestNotifyHandler_Create_InvalidJSONReturns400(t *testing.T) {
	q := &fakeQueue{}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/notifications", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	newNotifyEngine(q).ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if len(q.put) != 0 {
		t.Fatalf("queue should not have been touched, got %v", q.put)
	}
}

func TestNotifyHandler_Create_Success(t *testing.T) {
	q := &fakeQueue{}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/notifications", strings.NewReader(`{"id":"repo-a"}`))
	req.Header.Set("Content-Type", "application/json")
	newNotifyEngine(q).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(q.put) != 1 || q.put[0] != "repo-a" {
		t.Fatalf("queue = %v, want [repo-a]", q.put)
	}
}
