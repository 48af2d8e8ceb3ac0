// Package retry wraps fallible operations with bounded exponential backoff.
// It is the only retry mechanism in the bot; steps never retry themselves.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/hackerxj2010/ttuex-bot-v2/internal/classify"
	"github.com/hackerxj2010/ttuex-bot-v2/internal/logbus"
)

type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      float64
	// Jitter is the maximum random extra delay added to every sleep.
	Jitter time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		Factor:      2.0,
		Jitter:      100 * time.Millisecond,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 1 * time.Second
	}
	if p.Factor < 1 {
		p.Factor = 2.0
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	return p
}

// Do runs fn up to MaxAttempts times. A Permanent classification aborts
// immediately; a Temporary one sleeps BaseDelay*Factor^(k-2) (+jitter)
// before attempt k. The last error is returned once attempts are spent.
func (p Policy) Do(ctx context.Context, log *logbus.Logger, name string, fn func(ctx context.Context) error) error {
	p = p.normalized()

	delay := p.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if classify.IsPermanent(lastErr) {
			if log != nil {
				log.Error("step failed permanently", map[string]any{
					"step":    name,
					"attempt": attempt,
					"error":   lastErr.Error(),
				})
			}
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}
		wait := delay
		if p.Jitter > 0 {
			wait += time.Duration(rand.Int63n(int64(p.Jitter) + 1))
		}
		if log != nil {
			log.Warn("step failed, retrying", map[string]any{
				"step":    name,
				"attempt": attempt,
				"max":     p.MaxAttempts,
				"waitMs":  wait.Milliseconds(),
				"error":   lastErr.Error(),
			})
		}
		if !sleep(ctx, wait) {
			return ctx.Err()
		}
		delay = time.Duration(float64(delay) * p.Factor)
	}
	if log != nil {
		log.Error("step failed after all attempts", map[string]any{
			"step":  name,
			"max":   p.MaxAttempts,
			"error": lastErr.Error(),
		})
	}
	return lastErr
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
