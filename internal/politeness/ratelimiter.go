// Package politeness provides per-domain request pacing and robots.txt
// policy evaluation. Concurrent requests to the same external site are
// disallowed by design; the limiter serializes per-domain access through
// a minimum delay that adapts to throttling signals.
package politeness

import (
	"context"
	"sync"
	"time"
)

const (
	// backoffDecay is applied to the multiplier after a successful request.
	backoffDecay = 0.9
	// backoffGrowth is applied to the multiplier after a throttling signal.
	backoffGrowth = 2.0
	// maxBackoffMultiplier caps backoff escalation.
	maxBackoffMultiplier = 32.0
	// minBackoffMultiplier is the relaxed steady state.
	minBackoffMultiplier = 1.0
)

// domainState holds pacing state for a single domain.
type domainState struct {
	lastRequest time.Time
	multiplier  float64
}

// RateLimiter paces requests per domain with adaptive backoff. The
// effective delay for a domain is baseDelay multiplied by the domain's
// backoff multiplier. State is created lazily on first use.
type RateLimiter struct {
	baseDelay time.Duration
	mu        sync.Mutex
	domains   map[string]*domainState

	// now and sleep are indirected for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRateLimiter creates a rate limiter with the given base delay.
func NewRateLimiter(baseDelay time.Duration) *RateLimiter {
	return &RateLimiter{
		baseDelay: baseDelay,
		domains:   make(map[string]*domainState),
		now:       time.Now,
		sleep:     sleepContext,
	}
}

// Wait blocks until the domain's effective delay has elapsed since the
// last request to it, then records the request time. Returns early with
// the context error if ctx is cancelled while waiting.
func (r *RateLimiter) Wait(ctx context.Context, domain string) error {
	r.mu.Lock()
	state := r.state(domain)
	delay := time.Duration(float64(r.baseDelay) * state.multiplier)
	elapsed := r.now().Sub(state.lastRequest)
	r.mu.Unlock()

	if remaining := delay - elapsed; remaining > 0 {
		if err := r.sleep(ctx, remaining); err != nil {
			return err
		}
	}

	r.mu.Lock()
	state.lastRequest = r.now()
	r.mu.Unlock()

	return nil
}

// OnSuccess relaxes the domain's backoff multiplier toward 1.0.
func (r *RateLimiter) OnSuccess(domain string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state := r.state(domain)
	state.multiplier = max(minBackoffMultiplier, state.multiplier*backoffDecay)
}

// OnRateLimited escalates the domain's backoff multiplier, capped at 32x.
func (r *RateLimiter) OnRateLimited(domain string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state := r.state(domain)
	state.multiplier = min(maxBackoffMultiplier, state.multiplier*backoffGrowth)
}

// Multiplier returns the current backoff multiplier for a domain.
func (r *RateLimiter) Multiplier(domain string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.state(domain).multiplier
}

// state returns the pacing state for a domain, creating it on first use.
// Callers must hold r.mu.
func (r *RateLimiter) state(domain string) *domainState {
	s, ok := r.domains[domain]
	if !ok {
		s = &domainState{multiplier: minBackoffMultiplier}
		r.domains[domain] = s
	}
	return s
}

// sleepContext sleeps for d or until ctx is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
