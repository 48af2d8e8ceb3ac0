// Package orchestrator fans a workflow out over many accounts with a
// bounded number of concurrent browser sessions.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/hackerxj2010/ttuex-bot-v2/internal/browser"
	"github.com/hackerxj2010/ttuex-bot-v2/internal/classify"
	"github.com/hackerxj2010/ttuex-bot-v2/internal/logbus"
	"github.com/hackerxj2010/ttuex-bot-v2/internal/model"
)

// MaxConcurrency caps parallel sessions. Above this the site starts
// rate-limiting logins and Chromium memory gets out of hand.
const MaxConcurrency = 10

// SessionFactory opens an isolated browser session for one account.
// A nil factory runs tasks without a browser, which dry runs use.
type SessionFactory func(ctx context.Context, account model.Account) (*browser.Session, error)

// Task executes the per-account work inside the session.
type Task func(ctx context.Context, account model.Account, sess *browser.Session) (*model.WorkflowReport, error)

// Result pairs one account with its outcome. Err is set when the task
// never produced a report (session launch failure, panic, cancellation).
type Result struct {
	Account model.Account
	Report  *model.WorkflowReport
	Err     error
}

type Orchestrator struct {
	log *logbus.Logger
	nav *rate.Limiter
}

// New builds an orchestrator. navQPS throttles how fast new sessions
// start hitting the site; zero disables the throttle.
func New(log *logbus.Logger, navQPS float64, navBurst int) *Orchestrator {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if navQPS > 0 {
		if navBurst <= 0 {
			navBurst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(navQPS), navBurst)
	}
	return &Orchestrator{log: log, nav: limiter}
}

// Clamp bounds a requested concurrency to the supported range.
func Clamp(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}

// Run executes the task for every account, at most limit at a time.
// Results come back in input order, one per account, with failures held
// as values so a bad account never sinks the rest of the batch.
func (o *Orchestrator) Run(ctx context.Context, accounts []model.Account, limit int, newSession SessionFactory, task Task) []Result {
	results := make([]Result, len(accounts))
	if len(accounts) == 0 {
		return results
	}
	limit = Clamp(limit)
	o.log.Info("starting batch", logbus.Fields{"accounts": len(accounts), "concurrency": limit})

	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	for i, account := range accounts {
		i, account := i, account
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = o.runOne(ctx, account, newSession, task)
		}()
	}
	wg.Wait()
	return results
}

func (o *Orchestrator) runOne(ctx context.Context, account model.Account, newSession SessionFactory, task Task) (res Result) {
	res.Account = account
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("workflow panic for %s: %v", account.AccountName, r)
			o.log.Error("workflow panicked", logbus.Fields{"account": account.AccountName, "panic": fmt.Sprint(r)})
		}
	}()

	if err := o.nav.Wait(ctx); err != nil {
		res.Err = err
		return res
	}

	var sess *browser.Session
	if newSession != nil {
		var err error
		sess, err = newSession(ctx, account)
		if err != nil {
			res.Err = classify.Wrap(fmt.Errorf("open session for %s: %w", account.AccountName, err))
			o.log.Error("session launch failed", logbus.Fields{"account": account.AccountName, "error": err.Error()})
			return res
		}
		defer sess.Close()
	}

	res.Report, res.Err = task(ctx, account, sess)
	return res
}
