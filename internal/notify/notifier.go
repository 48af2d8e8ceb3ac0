package notify

import "context"

// RunCompletedEvent describes the outcome of one account's workflow run.
type RunCompletedEvent struct {
	At          int64  `json:"atMs"`
	AccountName string `json:"accountName"`
	OrderNumber string `json:"orderNumber,omitempty"`
	DryRun      bool   `json:"dryRun,omitempty"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
	DurationMs  int64  `json:"durationMs,omitempty"`
}

type Notifier interface {
	NotifyRunCompleted(ctx context.Context, evt RunCompletedEvent)
}

// Noop is the notifier used when email delivery is disabled.
type Noop struct{}

func (Noop) NotifyRunCompleted(context.Context, RunCompletedEvent) {}
