package engine_test

import (
	"testing"

	"agentline/internal/engine"
)

func testLimits() engine.Limits {
	return engine.Limits{
		MinTemperature:     0.0,
		MaxTemperature:     1.5,
		DefaultTemperature: 0.7,
		MinMaxTokens:       50,
		MaxMaxTokens:       8192,
		DefaultMaxTokens:   2048,
		DefaultModel:       "gpt-4o-mini",
	}
}

func f64(v float64) *float64 { return &v }
func i(v int) *int           { return &v }

func TestClampDefaults(t *testing.T) {
	g := engine.NewGovernor(testLimits(), nil)
	model, temp, tokens := g.Clamp(engine.RequestOverrides{})
	if model != "gpt-4o-mini" {
		t.Fatalf("model = %s", model)
	}
	if temp != 0.7 {
		t.Fatalf("temperature = %v", temp)
	}
	if tokens != 2048 {
		t.Fatalf("max_tokens = %d", tokens)
	}
}

func TestClampOutOfRange(t *testing.T) {
	g := engine.NewGovernor(testLimits(), nil)

	_, temp, _ := g.Clamp(engine.RequestOverrides{Temperature: f64(9.9)})
	if temp != 1.5 {
		t.Fatalf("high temperature clamped to %v", temp)
	}
	_, temp, _ = g.Clamp(engine.RequestOverrides{Temperature: f64(-1)})
	if temp != 0.0 {
		t.Fatalf("negative temperature clamped to %v", temp)
	}

	_, _, tokens := g.Clamp(engine.RequestOverrides{MaxTokens: i(10)})
	if tokens != 50 {
		t.Fatalf("low max_tokens clamped to %d", tokens)
	}
	_, _, tokens = g.Clamp(engine.RequestOverrides{MaxTokens: i(100000)})
	if tokens != 8192 {
		t.Fatalf("high max_tokens clamped to %d", tokens)
	}
}

func TestClampInRangePassesThrough(t *testing.T) {
	g := engine.NewGovernor(testLimits(), nil)
	model, temp, tokens := g.Clamp(engine.RequestOverrides{
		Model:       "gpt-4o",
		Temperature: f64(1.2),
		MaxTokens:   i(4096),
	})
	if model != "gpt-4o" || temp != 1.2 || tokens != 4096 {
		t.Fatalf("got %s %v %d", model, temp, tokens)
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := engine.EstimateTokens(""); got != 10 {
		t.Fatalf("empty = %d", got)
	}
	if got := engine.EstimateTokens("abcdefgh"); got != 12 {
		t.Fatalf("ascii = %d", got)
	}
	// four Han characters count half a token each
	if got := engine.EstimateTokens("税務申告"); got != 12 {
		t.Fatalf("cjk = %d", got)
	}
}
