package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hackerxj2010/ttuex-bot-v2/internal/browser"
	"github.com/hackerxj2010/ttuex-bot-v2/internal/model"
)

func accounts(n int) []model.Account {
	out := make([]model.Account, n)
	for i := range out {
		out[i] = model.Account{AccountName: fmt.Sprintf("acct_%d", i), Username: fmt.Sprintf("u%d", i), Password: "pw"}
	}
	return out
}

func TestClamp(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, 1}, {-3, 1}, {1, 1}, {5, 5}, {10, 10}, {50, 10},
	}
	for _, c := range cases {
		if got := Clamp(c.in); got != c.want {
			t.Errorf("Clamp(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestRunPreservesInputOrder(t *testing.T) {
	o := New(nil, 0, 0)
	accts := accounts(8)
	results := o.Run(context.Background(), accts, 4, nil, func(ctx context.Context, a model.Account, _ *browser.Session) (*model.WorkflowReport, error) {
		return &model.WorkflowReport{AccountName: a.AccountName}, nil
	})
	if len(results) != len(accts) {
		t.Fatalf("got %d results, want %d", len(results), len(accts))
	}
	for i, r := range results {
		if r.Account.AccountName != accts[i].AccountName {
			t.Fatalf("result %d out of order: %s", i, r.Account.AccountName)
		}
		if r.Report == nil || r.Report.AccountName != accts[i].AccountName {
			t.Fatalf("result %d has wrong report: %+v", i, r.Report)
		}
	}
}

func TestRunLimitOneSerializes(t *testing.T) {
	o := New(nil, 0, 0)
	var inFlight, maxInFlight int32
	o.Run(context.Background(), accounts(6), 1, nil, func(ctx context.Context, a model.Account, _ *browser.Session) (*model.WorkflowReport, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			prev := atomic.LoadInt32(&maxInFlight)
			if n <= prev || atomic.CompareAndSwapInt32(&maxInFlight, prev, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return nil, nil
	})
	if got := atomic.LoadInt32(&maxInFlight); got != 1 {
		t.Fatalf("max in-flight = %d, want 1", got)
	}
}

func TestRunRespectsConcurrencyLimit(t *testing.T) {
	o := New(nil, 0, 0)
	var inFlight, maxInFlight int32
	o.Run(context.Background(), accounts(20), 50, nil, func(ctx context.Context, a model.Account, _ *browser.Session) (*model.WorkflowReport, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			prev := atomic.LoadInt32(&maxInFlight)
			if n <= prev || atomic.CompareAndSwapInt32(&maxInFlight, prev, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return nil, nil
	})
	if got := atomic.LoadInt32(&maxInFlight); got > MaxConcurrency {
		t.Fatalf("max in-flight = %d, want <= %d", got, MaxConcurrency)
	}
}

func TestRunCapturesPanicsAsResults(t *testing.T) {
	o := New(nil, 0, 0)
	accts := accounts(3)
	results := o.Run(context.Background(), accts, 3, nil, func(ctx context.Context, a model.Account, _ *browser.Session) (*model.WorkflowReport, error) {
		if a.AccountName == "acct_1" {
			panic("boom")
		}
		return &model.WorkflowReport{AccountName: a.AccountName}, nil
	})
	if results[1].Err == nil || !strings.Contains(results[1].Err.Error(), "panic") {
		t.Fatalf("panic should surface as the account's error, got %v", results[1].Err)
	}
	if results[0].Err != nil || results[2].Err != nil {
		t.Fatal("a panicking account must not affect its neighbours")
	}
}

func TestRunKeepsTaskErrorsPerAccount(t *testing.T) {
	o := New(nil, 0, 0)
	wantErr := errors.New("login refused")
	results := o.Run(context.Background(), accounts(2), 2, nil, func(ctx context.Context, a model.Account, _ *browser.Session) (*model.WorkflowReport, error) {
		if a.AccountName == "acct_0" {
			return nil, wantErr
		}
		return &model.WorkflowReport{AccountName: a.AccountName, Success: true}, nil
	})
	if !errors.Is(results[0].Err, wantErr) {
		t.Fatalf("results[0].Err = %v", results[0].Err)
	}
	if results[1].Err != nil || results[1].Report == nil {
		t.Fatalf("results[1] should have succeeded: %+v", results[1])
	}
}

func TestRunEmptyAccounts(t *testing.T) {
	o := New(nil, 0, 0)
	var called int32
	results := o.Run(context.Background(), nil, 5, nil, func(ctx context.Context, a model.Account, _ *browser.Session) (*model.WorkflowReport, error) {
		atomic.AddInt32(&called, 1)
		return nil, nil
	})
	if len(results) != 0 {
		t.Fatalf("got %d results, want 0", len(results))
	}
	if atomic.LoadInt32(&called) != 0 {
		t.Fatal("task must not run for an empty account list")
	}
}

func TestRunCancelledContext(t *testing.T) {
	o := New(nil, 0.0001, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results := o.Run(ctx, accounts(2), 2, nil, func(ctx context.Context, a model.Account, _ *browser.Session) (*model.WorkflowReport, error) {
		t.Error("task must not run after cancellation")
		return nil, nil
	})
	for i, r := range results {
		if r.Err == nil {
			t.Fatalf("result %d should carry the cancellation error", i)
		}
	}
}
