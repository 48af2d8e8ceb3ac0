package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hackerxj2010/ttuex-bot-v2/internal/config"
	"github.com/hackerxj2010/ttuex-bot-v2/internal/logbus"
	"github.com/hackerxj2010/ttuex-bot-v2/internal/model"
	"github.com/hackerxj2010/ttuex-bot-v2/internal/store/sqlite"
)

func newTestServer(t *testing.T, store *sqlite.Store) *Server {
	t.Helper()
	bus := logbus.New(64)
	t.Cleanup(bus.Close)
	cfg := config.Default()
	return New(Options{Cfg: cfg, Bus: bus, Store: store})
}

func postForm(t *testing.T, h http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok":true`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestWhatsAppRejectsMissingFields(t *testing.T) {
	s := newTestServer(t, nil)
	rec := postForm(t, s.Handler(), "/webhook/whatsapp", url.Values{"Body": {"copy 123"}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestWhatsAppInvalidCommandGetsUsageReply(t *testing.T) {
	s := newTestServer(t, nil)
	rec := postForm(t, s.Handler(), "/webhook/whatsapp", url.Values{
		"From": {"whatsapp:+33600000000"},
		"Body": {"bonjour"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/xml") {
		t.Fatalf("content type = %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<Response>") || !strings.Contains(body, "Commande non valide") {
		t.Fatalf("body = %s", body)
	}
}

func TestWhatsAppRunInProgress(t *testing.T) {
	s := newTestServer(t, nil)
	s.running.Store(true)
	rec := postForm(t, s.Handler(), "/webhook/whatsapp", url.Values{
		"From": {"whatsapp:+33600000000"},
		"Body": {"copy ORD-1"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "déjà en cours") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestReportsEndpoint(t *testing.T) {
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	now := time.Now().UTC()
	report := &model.WorkflowReport{
		ID:          "r1",
		AccountName: "alice",
		OrderNumber: "ORD-1",
		StartTime:   now,
		EndTime:     now,
		Success:     true,
		Steps:       []model.StepResult{{Step: model.StepLogin, Success: true}},
	}
	if err := store.InsertReport(context.Background(), report); err != nil {
		t.Fatalf("InsertReport: %v", err)
	}

	s := newTestServer(t, store)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/reports?account=alice", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"ORD-1"`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestReportsRejectsBadLimit(t *testing.T) {
	s := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/reports?limit=9999", nil))
	// Store is nil here, so either the storage or the limit error fires.
	if rec.Code != http.StatusServiceUnavailable && rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}
