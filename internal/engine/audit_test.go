package engine_test

import (
	"fmt"
	"math"
	"testing"

	"agentline/internal/engine"
)

func TestAuditEvictsOldestWhenFull(t *testing.T) {
	a := engine.NewAuditLogger(3, 0.0015, 0.0075, nil, nil)
	for i := 0; i < 5; i++ {
		a.Record(engine.AuditEntry{
			PrincipalID: "p1",
			Model:       "gpt-4o-mini",
			RequestHash: fmt.Sprintf("hash-%d", i),
			Status:      "ok",
		})
	}
	if a.Len() != 3 {
		t.Fatalf("len = %d, want 3", a.Len())
	}
	entries := a.ListEntries(engine.AuditFilters{})
	if entries[0].RequestHash != "hash-4" {
		t.Fatalf("newest first, got %s", entries[0].RequestHash)
	}
	if entries[len(entries)-1].RequestHash != "hash-2" {
		t.Fatalf("oldest surviving should be hash-2, got %s", entries[len(entries)-1].RequestHash)
	}
}

func TestAuditCostRounding(t *testing.T) {
	a := engine.NewAuditLogger(10, 0.0015, 0.0075, nil, nil)
	if got := a.Cost(1000, 1000); got != 0.009 {
		t.Fatalf("cost(1000,1000) = %v", got)
	}
	if got := a.Cost(0, 0); got != 0 {
		t.Fatalf("cost(0,0) = %v", got)
	}
	// 123 in, 456 out: 0.0001845 + 0.00342 = 0.0036045 rounds to 0.003605
	if got := a.Cost(123, 456); got != 0.003605 {
		t.Fatalf("cost(123,456) = %v", got)
	}
}

func TestHashRequest(t *testing.T) {
	h1 := engine.HashRequest("alice", "create a company")
	h2 := engine.HashRequest("alice", "create a company")
	h3 := engine.HashRequest("bob", "create a company")
	if len(h1) != 16 {
		t.Fatalf("hash length = %d", len(h1))
	}
	if h1 != h2 {
		t.Fatalf("hash must be deterministic")
	}
	if h1 == h3 {
		t.Fatalf("hash must include the principal")
	}
}

func TestAuditListFilters(t *testing.T) {
	a := engine.NewAuditLogger(100, 0, 0, nil, nil)
	a.Record(engine.AuditEntry{PrincipalID: "alice", Model: "gpt-4o-mini", Status: "ok"})
	a.Record(engine.AuditEntry{PrincipalID: "bob", Model: "gpt-4o-mini", Status: "error", Error: "boom"})
	a.Record(engine.AuditEntry{PrincipalID: "alice", Model: "gpt-4o", Status: "ok"})

	if got := a.ListEntries(engine.AuditFilters{PrincipalID: "alice"}); len(got) != 2 {
		t.Fatalf("alice entries = %d", len(got))
	}
	if got := a.ListEntries(engine.AuditFilters{Status: "error"}); len(got) != 1 {
		t.Fatalf("error entries = %d", len(got))
	}
	if got := a.ListEntries(engine.AuditFilters{Model: "gpt-4o"}); len(got) != 1 {
		t.Fatalf("model entries = %d", len(got))
	}
	if got := a.ListEntries(engine.AuditFilters{Limit: 1}); len(got) != 1 {
		t.Fatalf("limit ignored, got %d", len(got))
	}
}

func TestAuditSummary(t *testing.T) {
	a := engine.NewAuditLogger(100, 0.0015, 0.0075, nil, nil)
	a.Record(engine.AuditEntry{PrincipalID: "p1", InputTokens: 1000, OutputTokens: 1000, Status: "ok"})
	a.Record(engine.AuditEntry{PrincipalID: "p1", InputTokens: 500, Status: "error", Error: "timeout"})
	s := a.Summary("")
	if s.TotalRequests != 2 || s.Entries != 2 {
		t.Fatalf("counts: %+v", s)
	}
	if s.TotalInput != 1500 || s.TotalOutput != 1000 {
		t.Fatalf("tokens: %+v", s)
	}
	if s.Errors != 1 {
		t.Fatalf("errors = %d", s.Errors)
	}
	if math.Abs(s.TotalCostUSD-0.00975) > 1e-9 {
		t.Fatalf("cost = %v", s.TotalCostUSD)
	}
}

func TestAuditSummaryWindow(t *testing.T) {
	a := engine.NewAuditLogger(100, 0.0015, 0.0075, nil, nil)
	a.Record(engine.AuditEntry{Timestamp: "2025-01-01T00:00:00Z", PrincipalID: "p1", InputTokens: 100, Status: "ok"})
	a.Record(engine.AuditEntry{Timestamp: "2025-06-01T00:00:00Z", PrincipalID: "p1", InputTokens: 200, Status: "error", Error: "boom"})

	s := a.Summary("2025-03-01T00:00:00Z")
	if s.Entries != 1 || s.TotalRequests != 1 {
		t.Fatalf("window counts: %+v", s)
	}
	if s.TotalInput != 200 || s.Errors != 1 {
		t.Fatalf("window should only see the later entry: %+v", s)
	}

	if s := a.Summary(""); s.Entries != 2 {
		t.Fatalf("empty window must cover everything: %+v", s)
	}
}
