package provider

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type flakyProvider struct {
	calls    atomic.Int32
	failures int32
	err      error
}

func (f *flakyProvider) Name() string { return "flaky" }

func (f *flakyProvider) Complete(_ context.Context, _ Request) (Response, error) {
	n := f.calls.Add(1)
	if n <= f.failures {
		return Response{}, f.err
	}
	return Response{Content: "ok", InputTokens: 5, OutputTokens: 5}, nil
}

func TestStaticDirectiveParsing(t *testing.T) {
	resp, err := Static{}.Complete(context.Background(), Request{
		Messages: []Message{
			{Role: "user", Content: `{"tool":"create_company","arguments":{"name":"X"},"reasoning":"because","confidence":0.8}`},
		},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d", len(resp.ToolCalls))
	}
	tc := resp.ToolCalls[0]
	if tc.Name != "create_company" || tc.Reasoning != "because" || tc.Confidence != 0.8 {
		t.Fatalf("tool call: %+v", tc)
	}
	if name, _ := tc.Arguments["name"].(string); name != "X" {
		t.Fatalf("arguments: %v", tc.Arguments)
	}
}

func TestStaticDirectiveDefaultConfidence(t *testing.T) {
	resp, err := Static{}.Complete(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: `{"tool":"query_companies"}`}},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.ToolCalls[0].Confidence != 1.0 {
		t.Fatalf("confidence = %v", resp.ToolCalls[0].Confidence)
	}
}

func TestStaticPlainMessage(t *testing.T) {
	resp, err := Static{}.Complete(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if len(resp.ToolCalls) != 0 || resp.Content == "" {
		t.Fatalf("response: %+v", resp)
	}
	if resp.InputTokens == 0 {
		t.Fatalf("expected token estimate")
	}
}

func TestReliableRetriesTransientFailures(t *testing.T) {
	next := &flakyProvider{failures: 2, err: errors.New("transient")}
	w := NewReliable(next, ReliableOptions{
		RatePerSecond: 1000,
		Burst:         100,
		RetryAttempts: 3,
	}, nil)
	resp, err := w.Complete(context.Background(), Request{})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Content != "ok" {
		t.Fatalf("content = %q", resp.Content)
	}
	if got := next.calls.Load(); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
}

func TestReliableHonorsRetryAfter(t *testing.T) {
	next := &flakyProvider{failures: 1, err: &ThrottleError{RetryAfter: 10 * time.Millisecond}}
	w := NewReliable(next, ReliableOptions{
		RatePerSecond: 1000,
		Burst:         100,
		RetryAttempts: 2,
	}, nil)
	start := time.Now()
	if _, err := w.Complete(context.Background(), Request{}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Fatalf("retry fired before Retry-After elapsed: %v", elapsed)
	}
}

func TestReliableGivesUpAfterAttempts(t *testing.T) {
	next := &flakyProvider{failures: 100, err: errors.New("down")}
	w := NewReliable(next, ReliableOptions{
		RatePerSecond: 1000,
		Burst:         100,
		RetryAttempts: 2,
		BreakerTrips:  50,
	}, nil)
	if _, err := w.Complete(context.Background(), Request{}); err == nil {
		t.Fatalf("expected failure")
	}
	if got := next.calls.Load(); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
}

func TestThrottleErrorMessage(t *testing.T) {
	err := &ThrottleError{RetryAfter: time.Second}
	if err.Error() == "" {
		t.Fatalf("empty message")
	}
}
