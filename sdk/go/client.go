package agentlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Agentline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Action represents an action record (partial).
type Action struct {
	ID             string         `json:"id"`
	PrincipalID    string         `json:"principal_id"`
	SessionID      string         `json:"session_id"`
	ActionType     string         `json:"action_type"`
	Status         string         `json:"status"`
	TargetType     string         `json:"target_type"`
	TargetID       string         `json:"target_id"`
	DataBefore     map[string]any `json:"data_before,omitempty"`
	DataAfter      map[string]any `json:"data_after,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	RollbackReason string         `json:"rollback_reason,omitempty"`
	CreatedAt      string         `json:"created_at"`
	ExecutedAt     *string        `json:"executed_at,omitempty"`
	RolledBackAt   *string        `json:"rolled_back_at,omitempty"`
}

// Session represents a conversation session (partial).
type Session struct {
	SessionID         string `json:"session_id"`
	PrincipalID       string `json:"principal_id"`
	Title             string `json:"title"`
	TotalActions      int    `json:"total_actions"`
	SuccessfulActions int    `json:"successful_actions"`
	FailedActions     int    `json:"failed_actions"`
	CreatedAt         string `json:"created_at"`
	UpdatedAt         string `json:"updated_at"`
}

// QuotaStatus reports daily usage for the caller's principal.
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

// ActionOutcome describes one tool call performed during a chat turn.
type ActionOutcome struct {
	Tool     string           `json:"tool"`
	Action   *Action          `json:"action,omitempty"`
	Results  []map[string]any `json:"results,omitempty"`
	Warnings []string         `json:"warnings,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// Proposal is a mutation the agent wants to run but that needs approval.
type Proposal struct {
	Tool       string         `json:"tool"`
	Arguments  map[string]any `json:"arguments,omitempty"`
	Reasoning  string         `json:"reasoning,omitempty"`
	Confidence float64        `json:"confidence"`
}

// ChatResult is the response to a chat turn.
type ChatResult struct {
	SessionID    string          `json:"session_id"`
	Content      string          `json:"content"`
	Outcomes     []ActionOutcome `json:"outcomes,omitempty"`
	Proposals    []Proposal      `json:"proposals,omitempty"`
	InputTokens  int             `json:"input_tokens"`
	OutputTokens int             `json:"output_tokens"`
	CostUSD      float64         `json:"cost_usd"`
	Quota        QuotaStatus     `json:"quota"`
}

// RollbackResult is the response to a rollback request.
type RollbackResult struct {
	Action      Action   `json:"action"`
	NewTargetID string   `json:"new_target_id,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}

// Event represents a log entry. Payload is the raw JSON payload string.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ChatOptions carries optional parameters for a chat turn.
type ChatOptions struct {
	SessionID   string
	Agent       string
	Model       string
	Temperature *float64
	MaxTokens   *int
}

// Chat runs one conversation turn.
func (c *Client) Chat(ctx context.Context, message string, opts ChatOptions) (ChatResult, error) {
	body := map[string]any{"message": message}
	if opts.SessionID != "" {
		body["session_id"] = opts.SessionID
	}
	if opts.Agent != "" {
		body["agent"] = opts.Agent
	}
	if opts.Model != "" {
		body["model"] = opts.Model
	}
	if opts.Temperature != nil {
		body["temperature"] = *opts.Temperature
	}
	if opts.MaxTokens != nil {
		body["max_tokens"] = *opts.MaxTokens
	}
	var resp ChatResult
	err := c.do(ctx, http.MethodPost, "v0/chat", body, &resp)
	return resp, err
}

// ActionFilters narrows action listings.
type ActionFilters struct {
	SessionID  string
	Status     string
	ActionType string
	TargetType string
	Mine       bool
	Limit      int
}

// ListActions returns action records, newest first.
func (c *Client) ListActions(ctx context.Context, f ActionFilters) ([]Action, error) {
	q := url.Values{}
	if f.SessionID != "" {
		q.Set("session_id", f.SessionID)
	}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.ActionType != "" {
		q.Set("action_type", f.ActionType)
	}
	if f.TargetType != "" {
		q.Set("target_type", f.TargetType)
	}
	if f.Mine {
		q.Set("mine", "true")
	}
	if f.Limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", f.Limit))
	}
	endpoint := "v0/actions"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Actions []Action `json:"actions"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Actions, err
}

// GetAction fetches one action record.
func (c *Client) GetAction(ctx context.Context, id string) (Action, error) {
	var resp Action
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/actions/%s", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// RollbackAction reverses an executed action.
func (c *Client) RollbackAction(ctx context.Context, id, reason string) (RollbackResult, error) {
	body := map[string]any{"reason": reason}
	var resp RollbackResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/actions/%s/rollback", url.PathEscape(id)), body, &resp)
	return resp, err
}

// ListSessions returns the caller's sessions.
func (c *Client) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	endpoint := "v0/sessions"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Sessions []Session `json:"sessions"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Sessions, err
}

// Quota returns the caller's daily usage.
func (c *Client) Quota(ctx context.Context) (QuotaStatus, error) {
	var resp QuotaStatus
	err := c.do(ctx, http.MethodGet, "v0/quota", nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Events []Event `json:"events"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Events, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
