package notify

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hackerxj2010/ttuex-bot-v2/internal/config"
)

func enabledConfig() config.EmailConfig {
	return config.EmailConfig{
		Enabled:  true,
		SMTPHost: "smtp.example.com",
		SMTPPort: 465,
		From:     "bot@example.com",
		AuthCode: "code",
		To:       "trader@example.com",
	}
}

// newTestNotifier mirrors NewEmailNotifier with an injected sender and
// a short batching window.
func newTestNotifier(window time.Duration, send func(ctx context.Context, cfg config.EmailConfig, events []RunCompletedEvent) error) *EmailNotifier {
	ctx, cancel := context.WithCancel(context.Background())
	n := &EmailNotifier{
		cfg:           enabledConfig(),
		queue:         make(chan RunCompletedEvent, 200),
		ctx:           ctx,
		cancel:        cancel,
		summaryWindow: window,
		maxBatch:      80,
		send:          send,
	}
	n.wg.Add(1)
	go n.loop()
	return n
}

func TestValidateEmailConfig(t *testing.T) {
	if err := validateEmailConfig(enabledConfig()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	bad := enabledConfig()
	bad.From = "not-an-address"
	if err := validateEmailConfig(bad); err == nil {
		t.Fatal("invalid from address should be rejected")
	}
	bad = enabledConfig()
	bad.AuthCode = ""
	if err := validateEmailConfig(bad); err == nil {
		t.Fatal("missing auth code should be rejected")
	}
}

func TestBuildSummaryBodies(t *testing.T) {
	events := []RunCompletedEvent{
		{AccountName: "alice", OrderNumber: "ORD-1", Success: true, At: time.Now().UnixMilli()},
		{AccountName: "bob", OrderNumber: "ORD-1", Success: false, Error: "incorrect credentials"},
	}
	subject, html, text := buildSummaryBodies(events)
	if !strings.Contains(subject, "1/2") {
		t.Fatalf("subject = %q", subject)
	}
	for _, fragment := range []string{"alice", "bob", "ORD-1", "incorrect credentials"} {
		if !strings.Contains(text, fragment) {
			t.Fatalf("text body missing %q:\n%s", fragment, text)
		}
		if !strings.Contains(html, fragment) {
			t.Fatalf("html body missing %q", fragment)
		}
	}
}

func TestNotifierBatchesEvents(t *testing.T) {
	var mu sync.Mutex
	var batches [][]RunCompletedEvent

	n := newTestNotifier(20*time.Millisecond, func(ctx context.Context, cfg config.EmailConfig, events []RunCompletedEvent) error {
		mu.Lock()
		batches = append(batches, events)
		mu.Unlock()
		return nil
	})

	for i := 0; i < 3; i++ {
		n.NotifyRunCompleted(context.Background(), RunCompletedEvent{AccountName: "alice", Success: true})
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		done := len(batches) == 1 && len(batches[0]) == 3
		count := len(batches)
		mu.Unlock()
		if done {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected one batch of 3 events, got %d batches", count)
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := n.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestNotifierFlushesOnShutdown(t *testing.T) {
	var mu sync.Mutex
	var got []RunCompletedEvent

	n := newTestNotifier(time.Hour, func(ctx context.Context, cfg config.EmailConfig, events []RunCompletedEvent) error {
		mu.Lock()
		got = append(got, events...)
		mu.Unlock()
		return nil
	})

	n.NotifyRunCompleted(context.Background(), RunCompletedEvent{AccountName: "alice", Success: true})
	// Give the loop a moment to pick the event up before shutdown.
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := n.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("pending events must flush on shutdown, got %d", len(got))
	}
}
