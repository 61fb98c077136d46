package retry

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// Sleeper waits for d or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper.
type SleeperFunc func(ctx context.Context, d time.Duration) error

// Sleep calls f(ctx, d).
func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

// RealSleeper blocks on a timer.
var RealSleeper Sleeper = SleeperFunc(func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
})

// Policy decides how long to wait after a rate-limited response and counts
// the retries it granted.
type Policy struct {
	cfg     Config
	sleeper Sleeper
	retries atomic.Int64
}

// NewPolicy creates a policy. A nil cfg uses the platform defaults and a nil
// sleeper uses RealSleeper.
func NewPolicy(cfg *Config, sleeper Sleeper) *Policy {
	if cfg == nil {
		cfg = DefaultPlatformConfig()
	}
	if sleeper == nil {
		sleeper = RealSleeper
	}
	return &Policy{cfg: *cfg, sleeper: sleeper}
}

// Delay reads the reset delay from the response header. A value too large
// for a time.Duration yields MaxDelay, or DefaultDelay when there is no cap.
func (p *Policy) Delay(h http.Header) time.Duration {
	d := p.cfg.DefaultDelay
	if raw := strings.TrimSpace(h.Get(p.cfg.ResetHeader)); raw != "" {
		if n, err := strconv.ParseFloat(raw, 64); err == nil && n >= 0 {
			if v := n * float64(p.cfg.ResetUnit); v < math.MaxInt64 {
				d = time.Duration(v)
			} else if p.cfg.MaxDelay > 0 {
				d = p.cfg.MaxDelay
			}
		}
	}
	if p.cfg.MaxDelay > 0 && d > p.cfg.MaxDelay {
		d = p.cfg.MaxDelay
	}
	return d
}

// Allow reports whether another retry is permitted after attempt retries.
func (p *Policy) Allow(attempt int) bool {
	return p.cfg.MaxRetries == 0 || attempt < p.cfg.MaxRetries
}

// Wait sleeps for the delay advertised by h and records one retry.
func (p *Policy) Wait(ctx context.Context, h http.Header) (time.Duration, error) {
	d := p.Delay(h)
	if err := p.sleeper.Sleep(ctx, d); err != nil {
		return d, err
	}
	p.retries.Add(1)
	return d, nil
}

// Retries returns the number of retries granted so far.
func (p *Policy) Retries() int64 {
	return p.retries.Load()
}

// Config returns a copy of the policy configuration.
func (p *Policy) Config() Config {
	return p.cfg
}
