package engine

import "fmt"

// ValidationError rejects a request before any state is written.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string { return e.Msg }

// NotFoundError means the target record or action does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// ExecutionError wraps a mutation failure that was recorded as a FAILED
// action. The intent row survives; the mutation did not.
type ExecutionError struct {
	ActionID string
	Err      error
}

func (e ExecutionError) Error() string {
	return fmt.Sprintf("action %s failed: %v", e.ActionID, e.Err)
}

func (e ExecutionError) Unwrap() error { return e.Err }

// RollbackNotAllowedError means the action's state forbids compensation.
type RollbackNotAllowedError struct {
	ActionID string
	Status   string
}

func (e RollbackNotAllowedError) Error() string {
	return fmt.Sprintf("action %s cannot be rolled back from status %s", e.ActionID, e.Status)
}

// QuotaExceededError denies a request under the daily budget. Reason is one
// of the stable denial strings surfaced to callers.
type QuotaExceededError struct {
	Reason            string
	RemainingRequests int
	RemainingTokens   int
}

func (e QuotaExceededError) Error() string { return e.Reason }

// ProviderError wraps an upstream completion failure after retries and the
// breaker have given up.
type ProviderError struct {
	Provider string
	Err      error
}

func (e ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e ProviderError) Unwrap() error { return e.Err }

// Stable quota denial reasons.
const (
	ReasonRequestLimit = "Daily request limit reached"
	ReasonTokenLimit   = "Daily token limit reached"
)
