package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sessionhost/sessiond/internal/auth"
	"github.com/sessionhost/sessiond/internal/sessionmgr"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	mgr := sessionmgr.New(t.TempDir(), 2*time.Second)
	checker := auth.NewChecker("s3cr3t")
	return NewServer(mgr, checker, "test")
}

func authedRequest(method, path string, body any) *http.Request {
	var r *http.Request
	if body != nil {
		b, _ := json.Marshal(body)
		r = httptest.NewRequest(method, path, bytes.NewReader(b))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	r.RemoteAddr = "127.0.0.1:1234"
	r.Header.Set("Authorization", "Bearer s3cr3t")
	return r
}

func TestHealth_Unauthenticated(t *testing.T) {
	s := newTestServer(t)
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestExec_FullLifecycle(t *testing.T) {
	s := newTestServer(t)
	router := s.Router()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(http.MethodPost, "/v1/session/start", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("start status = %d body=%s", w.Code, w.Body.String())
	}
	var started startSessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &started); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(http.MethodPost, "/v1/session/"+started.SessionID+"/exec", execRequest{Code: "1 + 2"}))
	if w.Code != http.StatusOK {
		t.Fatalf("exec status = %d body=%s", w.Code, w.Body.String())
	}
	var execResp execResponse
	if err := json.Unmarshal(w.Body.Bytes(), &execResp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if execResp.Value == nil || *execResp.Value != "3" {
		t.Fatalf("exec value = %+v", execResp)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(http.MethodDelete, "/v1/session/"+started.SessionID, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("close status = %d", w.Code)
	}
}

func TestExec_UnknownSessionReturns404(t *testing.T) {
	s := newTestServer(t)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, authedRequest(http.MethodPost, "/v1/session/nope/exec", execRequest{Code: "1"}))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestAuth_RejectsMissingToken(t *testing.T) {
	s := newTestServer(t)
	r := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	r.RemoteAddr = "127.0.0.1:1"
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestAuth_RejectsNonLocalSource(t *testing.T) {
	s := newTestServer(t)
	r := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	r.RemoteAddr = "203.0.113.5:1"
	r.Header.Set("Authorization", "Bearer s3cr3t")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, r)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d", w.Code)
	}
}
