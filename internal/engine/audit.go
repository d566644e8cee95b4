package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AuditEntry is one recorded model request. Entries live in a bounded
// in-memory buffer; durable history belongs to the actions table.
type AuditEntry struct {
	Timestamp    string  `json:"timestamp"`
	PrincipalID  string  `json:"principal_id"`
	Model        string  `json:"model"`
	RequestHash  string  `json:"request_hash"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	DurationMS   int64   `json:"duration_ms"`
	Status       string  `json:"status"`
	Error        string  `json:"error,omitempty"`
}

// AuditFilters narrows ListEntries. Zero values match everything.
type AuditFilters struct {
	PrincipalID string
	Model       string
	Status      string
	Since       string
	Limit       int
}

// AuditSummary aggregates the current buffer.
type AuditSummary struct {
	Entries       int     `json:"entries"`
	TotalRequests int     `json:"total_requests"`
	TotalInput    int     `json:"total_input_tokens"`
	TotalOutput   int     `json:"total_output_tokens"`
	TotalCostUSD  float64 `json:"total_cost_usd"`
	Errors        int     `json:"errors"`
}

// AuditLogger keeps the most recent maxEntries requests, evicting oldest
// first once full.
type AuditLogger struct {
	mu            sync.Mutex
	entries       []AuditEntry
	maxEntries    int
	perKInputUSD  float64
	perKOutputUSD float64
	now           func() time.Time
	log           *zap.Logger
}

func NewAuditLogger(maxEntries int, perKInputUSD, perKOutputUSD float64, now func() time.Time, log *zap.Logger) *AuditLogger {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AuditLogger{
		maxEntries:    maxEntries,
		perKInputUSD:  perKInputUSD,
		perKOutputUSD: perKOutputUSD,
		now:           now,
		log:           log,
	}
}

// HashRequest produces a short stable fingerprint for correlating audit
// entries without storing prompt text.
func HashRequest(principalID, prompt string) string {
	sum := sha256.Sum256([]byte(principalID + ":" + prompt))
	return hex.EncodeToString(sum[:])[:16]
}

// Cost computes the dollar cost of a request, rounded to 6 decimals.
func (a *AuditLogger) Cost(inputTokens, outputTokens int) float64 {
	cost := float64(inputTokens)/1000*a.perKInputUSD + float64(outputTokens)/1000*a.perKOutputUSD
	return math.Round(cost*1e6) / 1e6
}

// Record appends one entry, evicting the oldest when the buffer is full.
func (a *AuditLogger) Record(e AuditEntry) AuditEntry {
	if e.Timestamp == "" {
		e.Timestamp = a.now().UTC().Format(time.RFC3339)
	}
	e.CostUSD = a.Cost(e.InputTokens, e.OutputTokens)
	a.mu.Lock()
	if len(a.entries) >= a.maxEntries {
		a.entries = a.entries[1:]
	}
	a.entries = append(a.entries, e)
	a.mu.Unlock()
	a.log.Info("model request",
		zap.String("principal_id", e.PrincipalID),
		zap.String("model", e.Model),
		zap.String("request_hash", e.RequestHash),
		zap.Int("input_tokens", e.InputTokens),
		zap.Int("output_tokens", e.OutputTokens),
		zap.Float64("cost_usd", e.CostUSD),
		zap.Int64("duration_ms", e.DurationMS),
		zap.String("status", e.Status))
	return e
}

func (a *AuditLogger) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// ListEntries returns matching entries, newest first.
func (a *AuditLogger) ListEntries(f AuditFilters) []AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	out := []AuditEntry{}
	for i := len(a.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := a.entries[i]
		if f.PrincipalID != "" && e.PrincipalID != f.PrincipalID {
			continue
		}
		if f.Model != "" && e.Model != f.Model {
			continue
		}
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if f.Since != "" && e.Timestamp < f.Since {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Summary aggregates the buffered entries. A non-empty since (RFC3339)
// restricts the window to entries recorded at or after that instant.
func (a *AuditLogger) Summary(since string) AuditSummary {
	a.mu.Lock()
	defer a.mu.Unlock()
	var s AuditSummary
	var cost float64
	for _, e := range a.entries {
		if since != "" && e.Timestamp < since {
			continue
		}
		s.Entries++
		s.TotalRequests++
		s.TotalInput += e.InputTokens
		s.TotalOutput += e.OutputTokens
		cost += e.CostUSD
		if e.Error != "" {
			s.Errors++
		}
	}
	s.TotalCostUSD = math.Round(cost*1e6) / 1e6
	return s
}
