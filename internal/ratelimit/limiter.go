package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	// window is the accounting period for every endpoint.
	window = time.Minute
	// DefaultQuota is applied when Wait sees an endpoint nobody configured.
	DefaultQuota = 10
)

// endpoint holds the sliding-window state for one name.
// stamps is ordered oldest-first and may contain future instants: a waiter
// records the moment it will actually execute, not the moment it asked.
type endpoint struct {
	mu     sync.Mutex
	quota  int
	stamps []time.Time
}

// Limiter grants admission per endpoint name, at most quota requests in any
// trailing one-minute window. Callers block in Wait until their slot arrives;
// the sleep happens outside every lock so one endpoint's backlog never stalls
// another's admission decisions.
type Limiter struct {
	mu        sync.Mutex
	endpoints map[string]*endpoint

	// test seams, set by New
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New() *Limiter {
	return &Limiter{
		endpoints: make(map[string]*endpoint),
		now:       time.Now,
		sleep:     sleepTimer,
	}
}

func sleepTimer(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Configure sets or overwrites the quota for an endpoint. Idempotent and safe
// to call concurrently with Wait; recorded timestamps survive reconfiguration.
func (l *Limiter) Configure(name string, requestsPerMinute int) {
	if requestsPerMinute <= 0 {
		requestsPerMinute = DefaultQuota
	}
	ep := l.endpoint(name, requestsPerMinute)
	ep.mu.Lock()
	ep.quota = requestsPerMinute
	ep.mu.Unlock()
}

// Wait blocks until the endpoint may issue one more request, or until ctx is
// done. Unknown endpoints are auto-configured with DefaultQuota.
func (l *Limiter) Wait(ctx context.Context, name string) error {
	wait := l.reserve(name)
	if wait <= 0 {
		return nil
	}
	return l.sleep(ctx, wait)
}

// Reset drops all recorded timestamps for an endpoint, keeping its quota.
func (l *Limiter) Reset(name string) {
	l.mu.Lock()
	ep, ok := l.endpoints[name]
	l.mu.Unlock()
	if !ok {
		return
	}
	ep.mu.Lock()
	ep.stamps = nil
	ep.mu.Unlock()
}

func (l *Limiter) endpoint(name string, quota int) *endpoint {
	l.mu.Lock()
	defer l.mu.Unlock()
	ep, ok := l.endpoints[name]
	if !ok {
		ep = &endpoint{quota: quota}
		l.endpoints[name] = ep
	}
	return ep
}

// reserve is the atomic decide-and-record step: prune, admit or schedule.
// When the window is full the caller takes over the oldest stamp's slot,
// executing exactly one window after it; recording now+wait means a burst of
// concurrent waiters lands on distinct slots instead of re-contending.
func (l *Limiter) reserve(name string) time.Duration {
	ep := l.endpoint(name, DefaultQuota)

	ep.mu.Lock()
	defer ep.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-window)
	keep := ep.stamps[:0]
	for _, ts := range ep.stamps {
		if ts.After(cutoff) {
			keep = append(keep, ts)
		}
	}
	ep.stamps = keep

	if len(ep.stamps) < ep.quota {
		ep.stamps = append(ep.stamps, now)
		return 0
	}

	oldest := ep.stamps[0]
	ep.stamps = ep.stamps[1:]
	wait := oldest.Add(window).Sub(now)
	if wait < 0 {
		wait = 0
	}
	ep.stamps = append(ep.stamps, now.Add(wait))
	return wait
}
