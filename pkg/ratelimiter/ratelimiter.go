package ratelimiter

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ReasonRateLimitExceeded is the denial reason reported when a channel's
// window budget is exhausted.
const ReasonRateLimitExceeded = "rate_limit_exceeded"

// ReasonCheckFailed is the denial reason reported when the counter backend
// could not be evaluated and the limiter is running fail-closed.
const ReasonCheckFailed = "rate_limit_check_failed"

// Policy defines the rate limit configuration for a channel
type Policy struct {
	MaxAttempts int
	Window      time.Duration
}

// CheckResult is the outcome of a rate limit check
type CheckResult struct {
	Allowed bool
	Reason  string
}

// CounterStore is the atomic check-and-increment backend. Increment must
// atomically bump the counter for (workspace, channel, windowStart) and report
// whether the post-increment count is within limit. Implementations must be
// safe under concurrent writers across processes.
type CounterStore interface {
	Increment(ctx context.Context, workspaceID, channel string, windowStart time.Time, limit int) (bool, error)
}

// ChannelRateLimiter gates externally-visible actions per workspace and channel.
// It is fail-closed: if the counter backend cannot be evaluated, the check is
// denied unless FailOpen was explicitly enabled.
//
// Example usage:
//
//	rl := ratelimiter.New(store, false)
//	rl.SetPolicy("sms", 100, time.Minute)
//
//	if res := rl.Check(ctx, workspaceID, "sms"); !res.Allowed {
//	    // log step as skipped with res.Reason
//	}
type ChannelRateLimiter struct {
	store    CounterStore
	policies map[string]Policy
	failOpen bool
}

// New creates a rate limiter backed by the given counter store.
// Policies must be registered with SetPolicy during initialization,
// before Check is called.
func New(store CounterStore, failOpen bool) *ChannelRateLimiter {
	return &ChannelRateLimiter{
		store:    store,
		policies: make(map[string]Policy),
		failOpen: failOpen,
	}
}

// SetPolicy configures the rate limit policy for a channel.
//
// Example:
//
//	rl.SetPolicy("webhook", 300, time.Minute) // 300 calls per minute
func (rl *ChannelRateLimiter) SetPolicy(channel string, maxAttempts int, window time.Duration) {
	rl.policies[channel] = Policy{
		MaxAttempts: maxAttempts,
		Window:      window,
	}
}

// Check reports whether one more action on the channel is allowed for the
// workspace. A channel without a configured policy is unlimited - the limiter
// only gates channels the operator chose to cap.
func (rl *ChannelRateLimiter) Check(ctx context.Context, workspaceID, channel string) CheckResult {
	policy, exists := rl.policies[channel]
	if !exists {
		return CheckResult{Allowed: true}
	}

	windowStart := time.Now().UTC().Truncate(policy.Window)

	allowed, err := rl.store.Increment(ctx, workspaceID, channel, windowStart, policy.MaxAttempts)
	if err != nil {
		if rl.failOpen {
			return CheckResult{Allowed: true}
		}
		return CheckResult{Allowed: false, Reason: ReasonCheckFailed}
	}

	if !allowed {
		return CheckResult{Allowed: false, Reason: ReasonRateLimitExceeded}
	}
	return CheckResult{Allowed: true}
}

// MemoryCounterStore is an in-memory CounterStore for development and tests.
// Each (workspace, channel) pair holds only its current window; a newer
// windowStart replaces the closed one, so the map stays bounded by the number
// of live workspace-channel pairs.
type MemoryCounterStore struct {
	mu      sync.Mutex
	windows map[string]memoryWindow
}

type memoryWindow struct {
	start time.Time
	count int
}

// NewMemoryCounterStore creates an empty in-memory counter store.
// Production deployments use the database-backed store, which stays correct
// across multiple processes.
func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{
		windows: make(map[string]memoryWindow),
	}
}

// Increment implements CounterStore
func (s *MemoryCounterStore) Increment(_ context.Context, workspaceID, channel string, windowStart time.Time, limit int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := fmt.Sprintf("%s:%s", workspaceID, channel)
	w := s.windows[key]
	if !w.start.Equal(windowStart) {
		w = memoryWindow{start: windowStart}
	}
	if w.count >= limit {
		s.windows[key] = w
		return false, nil
	}
	w.count++
	s.windows[key] = w
	return true, nil
}
