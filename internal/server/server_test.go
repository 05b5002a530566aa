package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lazypower/curator/internal/engine"
	"github.com/lazypower/curator/internal/store"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	eng, err := engine.Load(db)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return New(eng, "test-version", 10)
}

func TestHealthEndpoint(t *testing.T) {
	srv := testServer(t)

	req := httptest.NewRequest("GET", "/api/health", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}

	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["version"] != "test-version" {
		t.Errorf("version = %v, want test-version", body["version"])
	}
	if body["db"] != true {
		t.Errorf("db = %v, want true", body["db"])
	}
	if body["active"] != float64(0) {
		t.Errorf("active = %v, want 0", body["active"])
	}
	if body["archived"] != float64(0) {
		t.Errorf("archived = %v, want 0", body["archived"])
	}
}

func TestHealthCountsTrackPlaybook(t *testing.T) {
	srv := testServer(t)

	seed := `{"deltas": [{"content": "one"}, {"content": "two"}], "at": "2025-06-01T12:00:00Z"}`
	if w := doJSON(t, srv, "POST", "/api/merge", seed); w.Code != http.StatusOK {
		t.Fatalf("seed merge failed: %d", w.Code)
	}

	w := doJSON(t, srv, "GET", "/api/health", "")
	body := decodeBody(t, w)
	if body["active"] != float64(2) {
		t.Errorf("active = %v, want 2", body["active"])
	}
}

func TestUnknownRoute(t *testing.T) {
	srv := testServer(t)

	req := httptest.NewRequest("GET", "/api/nope", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
