package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hackerxj2010/ttuex-bot-v2/internal/browser"
	"github.com/hackerxj2010/ttuex-bot-v2/internal/config"
	"github.com/hackerxj2010/ttuex-bot-v2/internal/logbus"
	"github.com/hackerxj2010/ttuex-bot-v2/internal/notify"
)

func testRunnerConfig(t *testing.T, accountsJSON string) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Accounts.File = filepath.Join(dir, "accounts.json")
	cfg.Storage.SessionDir = filepath.Join(dir, "states")
	if accountsJSON != "" {
		if err := os.WriteFile(cfg.Accounts.File, []byte(accountsJSON), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return cfg
}

type recordingNotifier struct {
	events []notify.RunCompletedEvent
}

func (n *recordingNotifier) NotifyRunCompleted(_ context.Context, evt notify.RunCompletedEvent) {
	n.events = append(n.events, evt)
}

func TestCopyTradeDryRunNeedsNoBrowser(t *testing.T) {
	cfg := testRunnerConfig(t, `[
  {"account_name": "alice", "username": "a@example.com", "password": "pw"},
  {"account_name": "bob", "username": "b@example.com", "password": "pw"}
]`)
	notifier := &recordingNotifier{}
	r := New(cfg, nil, nil, notifier)
	r.launch = func(config.AutomationConfig, *logbus.Logger) (*browser.Browser, error) {
		t.Fatal("dry run must not launch a browser")
		return nil, nil
	}

	results, err := r.CopyTrade(context.Background(), "ORD-9", Options{DryRun: true})
	if err != nil {
		t.Fatalf("CopyTrade: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for i, res := range results {
		if res.Err != nil {
			t.Fatalf("result %d errored: %v", i, res.Err)
		}
		if res.Report == nil || !res.Report.Success || !res.Report.DryRun {
			t.Fatalf("result %d report = %+v", i, res.Report)
		}
		if res.Report.OrderNumber != "ORD-9" {
			t.Fatalf("result %d order number = %q", i, res.Report.OrderNumber)
		}
	}
	if len(notifier.events) != 2 {
		t.Fatalf("got %d notifications, want 2", len(notifier.events))
	}
}

func TestLoginDryRun(t *testing.T) {
	cfg := testRunnerConfig(t, `[{"account_name": "alice", "username": "a@example.com", "password": "pw"}]`)
	r := New(cfg, nil, nil, nil)

	results, err := r.Login(context.Background(), Options{DryRun: true})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if len(results) != 1 || !results[0].Report.Success {
		t.Fatalf("results = %+v", results)
	}
	if len(results[0].Report.Steps) != 1 || !results[0].Report.Steps[0].Simulated {
		t.Fatalf("steps = %+v", results[0].Report.Steps)
	}
}

func TestRunWithoutAccountsShortCircuits(t *testing.T) {
	t.Setenv("TTUEX_USERNAME", "")
	t.Setenv("TTUEX_PASSWORD", "")
	cfg := testRunnerConfig(t, "")
	r := New(cfg, nil, nil, nil)
	r.launch = func(config.AutomationConfig, *logbus.Logger) (*browser.Browser, error) {
		t.Fatal("an empty account list must not launch a browser")
		return nil, nil
	}

	results, err := r.CopyTrade(context.Background(), "ORD-9", Options{})
	if err != nil {
		t.Fatalf("CopyTrade: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("got %d results, want 0", len(results))
	}
}
