package service

import (
	"time"

	"github.com/Runline/runline/internal/domain"
	"github.com/Runline/runline/pkg/errorclass"
)

// RetryPolicy is the retry configuration applied to one step execution.
// Not persisted; chosen per action type from the static table below.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	ShouldRetry  func(err error) bool
}

// MaxAttempts is the total attempt budget: the first call plus retries
func (p RetryPolicy) MaxAttempts() int {
	return p.MaxRetries + 1
}

// RetryPolicyTable maps action types to retry policies. The total wall-clock
// retry budget per step stays under ~10 seconds across all tiers:
// critical tier 3 retries from 1s (1+2+4 = 7s), standard tier 2 retries from
// 1.5-2s (up to 6s).
type RetryPolicyTable struct {
	policies   map[domain.ActionType]RetryPolicy
	defaultPol RetryPolicy
}

// NewRetryPolicyTable builds the static policy table wired to the classifier
func NewRetryPolicyTable(classifier *errorclass.Classifier) *RetryPolicyTable {
	shouldRetry := classifier.IsTransient

	critical := RetryPolicy{MaxRetries: 3, InitialDelay: 1 * time.Second, ShouldRetry: shouldRetry}
	standard := RetryPolicy{MaxRetries: 2, InitialDelay: 2 * time.Second, ShouldRetry: shouldRetry}

	return &RetryPolicyTable{
		policies: map[domain.ActionType]RetryPolicy{
			// Critical tier: user-visible messaging and payment-adjacent calls
			domain.ActionSendMessage: critical,
			domain.ActionSendEmail:   critical,
			domain.ActionSendSMS:     critical,

			// Standard tier: integrations that tolerate a longer first backoff
			domain.ActionWebhook:      standard,
			domain.ActionAdConversion: standard,
			domain.ActionAICompletion: standard,

			// CRM writes hit our own storage; short budget, quick surfacing
			domain.ActionCreateContact: {MaxRetries: 2, InitialDelay: 1500 * time.Millisecond, ShouldRetry: shouldRetry},
			domain.ActionUpdateContact: {MaxRetries: 2, InitialDelay: 1500 * time.Millisecond, ShouldRetry: shouldRetry},
			domain.ActionUpdateDeal:    {MaxRetries: 2, InitialDelay: 1500 * time.Millisecond, ShouldRetry: shouldRetry},
		},
		// Conservative fallback for unlisted action types
		defaultPol: RetryPolicy{MaxRetries: 2, InitialDelay: 1500 * time.Millisecond, ShouldRetry: shouldRetry},
	}
}

// PolicyFor returns the retry policy for an action type, honoring a step's
// retry override when present.
func (t *RetryPolicyTable) PolicyFor(actionType domain.ActionType, override *domain.RetryOverride) RetryPolicy {
	policy, ok := t.policies[actionType]
	if !ok {
		policy = t.defaultPol
	}

	if override != nil {
		policy.MaxRetries = override.MaxRetries
		if override.InitialDelayMs > 0 {
			policy.InitialDelay = time.Duration(override.InitialDelayMs) * time.Millisecond
		}
	}

	return policy
}
