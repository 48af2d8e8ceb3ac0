package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-resty/resty/v2"

	"github.com/hackerxj2010/ttuex-bot-v2/internal/model"
	"github.com/hackerxj2010/ttuex-bot-v2/internal/orchestrator"
)

func TestParseCommand(t *testing.T) {
	cases := []struct {
		in       string
		cmd, arg string
	}{
		{"/copy 12345", "/copy", "12345"},
		{"/COPY 12345", "/copy", "12345"},
		{"/copy@TtuexBot 12345", "/copy", "12345"},
		{"  /start  ", "/start", ""},
		{"/copy", "/copy", ""},
		{"hello there", "", ""},
		{"", "", ""},
	}
	for _, c := range cases {
		cmd, arg := parseCommand(c.in)
		if cmd != c.cmd || arg != c.arg {
			t.Errorf("parseCommand(%q) = (%q, %q), want (%q, %q)", c.in, cmd, arg, c.cmd, c.arg)
		}
	}
}

func TestBuildRunSummary(t *testing.T) {
	results := []orchestrator.Result{
		{
			Account: model.Account{AccountName: "alpha"},
			Report: &model.WorkflowReport{
				Success: true,
				Steps: []model.StepResult{
					{Step: model.StepExecuteFollowUp, Success: true, ToastMessage: "Suivi réussi !"},
				},
			},
		},
		{
			Account: model.Account{AccountName: "beta"},
			Report: &model.WorkflowReport{
				Steps: []model.StepResult{
					{Step: model.StepLogin, Success: false, Error: "permanent error during login: likely incorrect credentials"},
				},
			},
		},
		{
			Account: model.Account{AccountName: "gamma"},
			Err:     context.DeadlineExceeded,
		},
	}

	got := buildRunSummary("98765", results)

	for _, want := range []string{
		"Rapport final pour l'ordre `98765`",
		"1 copié(s) avec succès, 2 en échec",
		"✅ **alpha:** Ordre copié. Le site a retourné le message : '_Suivi réussi !_'",
		"❌ **beta:** Échec de la copie.",
		"identifiants", // translated credential failure
		"🚨 **gamma:**",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("summary missing %q:\n%s", want, got)
		}
	}
}

func TestAcquireLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.lock")

	release, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if _, err := AcquireLock(path); err == nil {
		t.Fatal("second acquire should fail while lock is held")
	}
	release()
	release2, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	release2()
}

func TestGetUpdatesParsesResponse(t *testing.T) {
	var gotOffset string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/getUpdates") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotOffset = r.URL.Query().Get("offset")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"result":[{"update_id":7,"message":{"chat":{"id":42},"text":"/copy 111"}}]}`))
	}))
	defer srv.Close()

	b := &Bot{client: resty.New().SetBaseURL(srv.URL)}
	updates, err := b.getUpdates(context.Background(), 5)
	if err != nil {
		t.Fatalf("getUpdates: %v", err)
	}
	if gotOffset != "5" {
		t.Errorf("offset = %q, want 5", gotOffset)
	}
	if len(updates) != 1 || updates[0].UpdateID != 7 {
		t.Fatalf("unexpected updates: %+v", updates)
	}
	if updates[0].Message == nil || updates[0].Message.Text != "/copy 111" {
		t.Fatalf("unexpected message: %+v", updates[0].Message)
	}
}

func TestGetUpdatesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"ok":false,"description":"Unauthorized"}`))
	}))
	defer srv.Close()

	b := &Bot{client: resty.New().SetBaseURL(srv.URL)}
	if _, err := b.getUpdates(context.Background(), 0); err == nil {
		t.Fatal("expected error for ok=false response")
	}
}
