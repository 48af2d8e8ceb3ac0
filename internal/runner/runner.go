// Package runner wires accounts, the browser, the orchestrator and the
// persistence layer into complete batch runs. The CLI, webhook server
// and Telegram bot all go through it.
package runner

import (
	"context"
	"time"

	"github.com/hackerxj2010/ttuex-bot-v2/internal/browser"
	"github.com/hackerxj2010/ttuex-bot-v2/internal/config"
	"github.com/hackerxj2010/ttuex-bot-v2/internal/logbus"
	"github.com/hackerxj2010/ttuex-bot-v2/internal/model"
	"github.com/hackerxj2010/ttuex-bot-v2/internal/notify"
	"github.com/hackerxj2010/ttuex-bot-v2/internal/orchestrator"
	"github.com/hackerxj2010/ttuex-bot-v2/internal/retry"
	"github.com/hackerxj2010/ttuex-bot-v2/internal/session"
	"github.com/hackerxj2010/ttuex-bot-v2/internal/store/sqlite"
	"github.com/hackerxj2010/ttuex-bot-v2/internal/workflow"
)

type Runner struct {
	cfg      config.Config
	log      *logbus.Logger
	sessions *session.Store
	store    *sqlite.Store
	notifier notify.Notifier

	// launch is swapped out in tests so no Chromium is needed.
	launch func(cfg config.AutomationConfig, log *logbus.Logger) (*browser.Browser, error)
}

type Options struct {
	DryRun                  bool
	SkipHistoryVerification bool
	Concurrency             int
	// Trigger names the surface that started the run (cli, whatsapp,
	// telegram) and is stamped on every report.
	Trigger string
}

// New builds a runner. store and notifier may be nil; reports are then
// neither persisted nor mailed.
func New(cfg config.Config, log *logbus.Logger, store *sqlite.Store, notifier notify.Notifier) *Runner {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Runner{
		cfg:      cfg,
		log:      log,
		sessions: session.NewStore(cfg.Storage.SessionDir, cfg.Storage.SessionsEnabled()),
		store:    store,
		notifier: notifier,
		launch:   browser.Launch,
	}
}

func (r *Runner) retryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: r.cfg.Retry.MaxAttempts,
		BaseDelay:   r.cfg.Retry.BaseDelay(),
		Factor:      r.cfg.Retry.Factor,
	}
}

func (r *Runner) concurrency(requested int) int {
	if requested > 0 {
		return orchestrator.Clamp(requested)
	}
	return orchestrator.Clamp(r.cfg.Automation.MaxConcurrent)
}

// CopyTrade runs the copy-trading workflow for every configured account.
func (r *Runner) CopyTrade(ctx context.Context, orderNumber string, opts Options) ([]orchestrator.Result, error) {
	return r.run(ctx, opts, func(ctx context.Context, w *workflow.Workflow) *model.WorkflowReport {
		return w.ExecuteCopyTrade(ctx, orderNumber, workflow.CopyTradeOptions{
			DryRun:                  opts.DryRun,
			SkipHistoryVerification: opts.SkipHistoryVerification,
		})
	})
}

// Login runs only the login step for every configured account, which is
// how fresh session state gets captured.
func (r *Runner) Login(ctx context.Context, opts Options) ([]orchestrator.Result, error) {
	return r.run(ctx, opts, func(ctx context.Context, w *workflow.Workflow) *model.WorkflowReport {
		return w.ExecuteLogin(ctx, opts.DryRun)
	})
}

func (r *Runner) run(ctx context.Context, opts Options, exec func(ctx context.Context, w *workflow.Workflow) *model.WorkflowReport) ([]orchestrator.Result, error) {
	start := time.Now()
	accounts, err := config.LoadAccounts(r.cfg.Accounts.File)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		r.log.Warn("no accounts configured, nothing to do", nil)
		return []orchestrator.Result{}, nil
	}

	var factory orchestrator.SessionFactory
	if !opts.DryRun {
		b, err := r.launch(r.cfg.Automation, r.log)
		if err != nil {
			return nil, err
		}
		defer b.Close()
		factory = func(ctx context.Context, account model.Account) (*browser.Session, error) {
			state, err := r.sessions.Load(account.AccountName)
			if err != nil {
				r.log.Warn("ignoring unreadable session state", logbus.Fields{
					"account": account.AccountName,
					"error":   err.Error(),
				})
				state = model.StorageState{}
			}
			return b.NewSession(ctx, state)
		}
	}

	o := orchestrator.New(r.log, r.cfg.Limits.NavQPS, r.cfg.Limits.NavBurst)
	results := o.Run(ctx, accounts, r.concurrency(opts.Concurrency), factory, func(ctx context.Context, account model.Account, sess *browser.Session) (*model.WorkflowReport, error) {
		w := workflow.New(r.workflowOptions(account, sess))
		report := exec(ctx, w)
		if report != nil {
			report.Trigger = opts.Trigger
		}
		r.record(ctx, report)
		return report, nil
	})

	r.padExecution(ctx, start)
	return results, nil
}

func (r *Runner) workflowOptions(account model.Account, sess *browser.Session) workflow.Options {
	opts := workflow.Options{
		Account:  account,
		Sessions: r.sessions,
		Config:   r.cfg,
		Log:      r.log,
		Retry:    r.retryPolicy(),
	}
	if sess != nil {
		opts.Page = sess.Page(r.cfg.Automation.DefaultTimeout())
		opts.ExportState = sess.ExportState
		opts.RestoreLocalStorage = sess.ApplyLocalStorage
	}
	return opts
}

func (r *Runner) record(ctx context.Context, report *model.WorkflowReport) {
	if report == nil {
		return
	}
	if r.store != nil {
		if err := r.store.InsertReport(ctx, report); err != nil {
			r.log.Warn("failed to persist report", logbus.Fields{
				"account": report.AccountName,
				"error":   err.Error(),
			})
		}
	}
	r.notifier.NotifyRunCompleted(ctx, notify.RunCompletedEvent{
		At:          report.EndTime.UnixMilli(),
		AccountName: report.AccountName,
		OrderNumber: report.OrderNumber,
		DryRun:      report.DryRun,
		Success:     report.Success,
		Error:       report.FailureReason(),
		DurationMs:  report.Duration.Milliseconds(),
	})
}

// padExecution keeps the whole process alive for the configured minimum
// duration, so batches always take a human-plausible amount of time.
func (r *Runner) padExecution(ctx context.Context, start time.Time) {
	if !r.cfg.Automation.EnforceMinRunPerExecution {
		return
	}
	remaining := r.cfg.Automation.MinRun() - time.Since(start)
	if remaining <= 0 {
		return
	}
	r.log.Info("padding execution to minimum duration", logbus.Fields{"remaining": remaining.String()})
	select {
	case <-ctx.Done():
	case <-time.After(remaining):
	}
}
