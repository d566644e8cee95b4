package engine

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// QuotaStatus is the externally visible view of one principal's daily budget.
type QuotaStatus struct {
	PrincipalID       string `json:"principal_id"`
	Day               string `json:"day"`
	RequestsUsed      int    `json:"requests_used"`
	RequestsLimit     int    `json:"requests_limit"`
	RemainingRequests int    `json:"remaining_requests"`
	TokensUsed        int    `json:"tokens_used"`
	TokensLimit       int    `json:"tokens_limit"`
	RemainingTokens   int    `json:"remaining_tokens"`
}

type principalUsage struct {
	day      string
	requests int
	tokens   int
}

// QuotaManager enforces per-principal daily request and token budgets.
// Counters live in memory and reset lazily: the first touch on a new UTC day
// zeroes the principal's usage. The reset is idempotent, so concurrent
// requests racing over midnight settle on the same fresh window.
type QuotaManager struct {
	mu            sync.Mutex
	dailyRequests int
	dailyTokens   int
	now           func() time.Time
	usage         map[string]*principalUsage
	log           *zap.Logger
}

func NewQuotaManager(dailyRequests, dailyTokens int, now func() time.Time, log *zap.Logger) *QuotaManager {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &QuotaManager{
		dailyRequests: dailyRequests,
		dailyTokens:   dailyTokens,
		now:           now,
		usage:         map[string]*principalUsage{},
		log:           log,
	}
}

func (q *QuotaManager) day() string {
	return q.now().UTC().Format("2006-01-02")
}

// usageFor returns the principal's counters for the current day, resetting
// them first if the stored window is stale. Callers must hold q.mu.
func (q *QuotaManager) usageFor(principalID string) *principalUsage {
	day := q.day()
	u, ok := q.usage[principalID]
	if !ok {
		u = &principalUsage{day: day}
		q.usage[principalID] = u
		return u
	}
	if u.day != day {
		u.day = day
		u.requests = 0
		u.tokens = 0
	}
	return u
}

// Check returns a QuotaExceededError when the principal has exhausted the
// day's request budget, or when consuming estimatedTokens would overrun the
// token budget. It does not consume anything.
func (q *QuotaManager) Check(principalID string, estimatedTokens int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	u := q.usageFor(principalID)
	if u.requests >= q.dailyRequests {
		q.log.Warn("quota denied",
			zap.String("principal_id", principalID),
			zap.String("reason", ReasonRequestLimit),
			zap.Int("requests_used", u.requests))
		return QuotaExceededError{
			Reason:            ReasonRequestLimit,
			RemainingRequests: 0,
			RemainingTokens:   max(0, q.dailyTokens-u.tokens),
		}
	}
	if u.tokens >= q.dailyTokens || u.tokens+estimatedTokens > q.dailyTokens {
		q.log.Warn("quota denied",
			zap.String("principal_id", principalID),
			zap.String("reason", ReasonTokenLimit),
			zap.Int("tokens_used", u.tokens),
			zap.Int("estimated_tokens", estimatedTokens))
		return QuotaExceededError{
			Reason:            ReasonTokenLimit,
			RemainingRequests: max(0, q.dailyRequests-u.requests),
			RemainingTokens:   max(0, q.dailyTokens-u.tokens),
		}
	}
	return nil
}

// Record consumes one request and the given token count from today's budget.
func (q *QuotaManager) Record(principalID string, tokens int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	u := q.usageFor(principalID)
	u.requests++
	u.tokens += tokens
}

// Status reports current usage without consuming anything.
func (q *QuotaManager) Status(principalID string) QuotaStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	u := q.usageFor(principalID)
	return QuotaStatus{
		PrincipalID:       principalID,
		Day:               u.day,
		RequestsUsed:      u.requests,
		RequestsLimit:     q.dailyRequests,
		RemainingRequests: max(0, q.dailyRequests-u.requests),
		TokensUsed:        u.tokens,
		TokensLimit:       q.dailyTokens,
		RemainingTokens:   max(0, q.dailyTokens-u.tokens),
	}
}
