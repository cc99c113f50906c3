package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/drover-ai/drover/internal/config"
	"github.com/drover-ai/drover/internal/session"
)

func newTestServer(t *testing.T) (*Server, *session.Store) {
	t.Helper()
	store := session.NewStore(filepath.Join(t.TempDir(), "sessions.json"))
	cfg := config.DashboardConfig{Enabled: true, Host: "127.0.0.1", Port: 0}
	return New(cfg, store), store
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(s, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestListSessionsLiveOnly(t *testing.T) {
	s, store := newTestServer(t)
	store.Create("main", "live-1")
	store.Create("research", "arch-1")
	store.Archive("research", "done")

	w := doRequest(s, http.MethodGet, "/api/sessions", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Sessions []session.Entry `json:"sessions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(resp.Sessions) != 1 {
		t.Fatalf("expected one live session, got %d", len(resp.Sessions))
	}
	if resp.Sessions[0].Group != "main" {
		t.Fatalf("unexpected session %+v", resp.Sessions[0])
	}
}

func TestListSessionsAll(t *testing.T) {
	s, store := newTestServer(t)
	store.Create("main", "live-1")
	store.Create("research", "arch-1")
	store.Archive("research", "done")

	w := doRequest(s, http.MethodGet, "/api/sessions?all=1", "")

	var resp struct {
		Sessions []session.Entry `json:"sessions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(resp.Sessions) != 2 {
		t.Fatalf("expected live and archived, got %d", len(resp.Sessions))
	}
}

func TestListSessionsEmptyIsArray(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(s, http.MethodGet, "/api/sessions", "")
	if !strings.Contains(w.Body.String(), `"sessions":[]`) {
		t.Fatalf("expected empty array, got %s", w.Body.String())
	}
}

func TestRotate(t *testing.T) {
	s, store := newTestServer(t)
	store.Create("main", "old-id")

	w := doRequest(s, http.MethodPost, "/api/sessions/rotate", `{"group":"main"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Rotated   bool   `json:"rotated"`
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !resp.Rotated || resp.SessionID != "old-id" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if _, ok := store.Get("main"); ok {
		t.Fatal("expected group rotated")
	}
}

func TestRotateAbsentGroup(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(s, http.MethodPost, "/api/sessions/rotate", `{"group":"ghost"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestRotateMissingGroup(t *testing.T) {
	s, _ := newTestServer(t)

	for _, body := range []string{`{}`, `{"group":"  "}`, `not json`} {
		w := doRequest(s, http.MethodPost, "/api/sessions/rotate", body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, w.Code)
		}
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t)

	if w := doRequest(s, http.MethodPost, "/api/sessions", ""); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
	if w := doRequest(s, http.MethodGet, "/api/sessions/rotate", ""); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}
