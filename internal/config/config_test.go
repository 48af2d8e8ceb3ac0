package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadAppliesDefaults(t *testing.T) {
	p := writeFile(t, t.TempDir(), "config.yaml", "server:\n  addr: \"0.0.0.0:9000\"\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != "0.0.0.0:9000" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Site.BaseURL != "https://ttuex.club" {
		t.Fatalf("baseURL = %q", cfg.Site.BaseURL)
	}
	if got := cfg.Automation.DefaultTimeout(); got != 20*time.Second {
		t.Fatalf("default timeout = %v", got)
	}
	if got := cfg.Automation.FollowTimeout(); got != 7*time.Second {
		t.Fatalf("follow timeout = %v", got)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.Factor != 2.0 {
		t.Fatalf("retry defaults = %+v", cfg.Retry)
	}
	if !cfg.Automation.IsHeadless() {
		t.Fatal("headless should default to true")
	}
	if cfg.Automation.MaxConcurrent != 1 {
		t.Fatalf("maxConcurrent = %d", cfg.Automation.MaxConcurrent)
	}
}

func TestLoadRejectsTooManyWorkers(t *testing.T) {
	p := writeFile(t, t.TempDir(), "config.yaml", "automation:\n  maxConcurrentAccounts: 50\n")
	if _, err := Load(p); err == nil {
		t.Fatal("expected validation error for maxConcurrentAccounts > 10")
	}
}

func TestTradeURL(t *testing.T) {
	cfg := Default()
	if got := cfg.Site.TradeURL(); got != "https://ttuex.club/trade/btc" {
		t.Fatalf("TradeURL = %q", got)
	}
	cfg.Site.BaseURL = "https://ttuex.club/"
	if got := cfg.Site.TradeURL(); got != "https://ttuex.club/trade/btc" {
		t.Fatalf("TradeURL with trailing slash = %q", got)
	}
}

func TestLoadAccountsFromFile(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "accounts.json", `[
  {"account_name": "alice", "username": "alice@example.com", "password": "pw1"},
  {"username": "bob@example.com", "password": "pw2"},
  {"username": "", "password": "ignored"}
]`)
	accounts, err := LoadAccounts(p)
	if err != nil {
		t.Fatalf("LoadAccounts: %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("got %d accounts, want 2", len(accounts))
	}
	if accounts[0].AccountName != "alice" {
		t.Fatalf("first account name = %q", accounts[0].AccountName)
	}
	if accounts[1].AccountName != "account_2" {
		t.Fatalf("generated account name = %q", accounts[1].AccountName)
	}
	if accounts[1].Password.Reveal() != "pw2" {
		t.Fatalf("password not preserved")
	}
}

func TestLoadAccountsEnvFallback(t *testing.T) {
	t.Setenv("TTUEX_USERNAME", "env-user")
	t.Setenv("TTUEX_PASSWORD", "env-pass")
	accounts, err := LoadAccounts(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("LoadAccounts: %v", err)
	}
	if len(accounts) != 1 {
		t.Fatalf("got %d accounts, want 1", len(accounts))
	}
	if accounts[0].AccountName != "default" || accounts[0].Username != "env-user" {
		t.Fatalf("unexpected account %+v", accounts[0])
	}
}

func TestLoadAccountsMissingEverything(t *testing.T) {
	t.Setenv("TTUEX_USERNAME", "")
	t.Setenv("TTUEX_PASSWORD", "")
	accounts, err := LoadAccounts(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("LoadAccounts: %v", err)
	}
	if len(accounts) != 0 {
		t.Fatalf("expected no accounts, got %d", len(accounts))
	}
}
