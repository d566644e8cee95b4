package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Static is a deterministic offline provider. If the last user message is a
// JSON directive of the form {"tool":"...","arguments":{...}} it returns that
// as a tool call; otherwise it echoes a canned acknowledgement. Used by the
// CLI when no upstream is configured, and by tests.
type Static struct{}

type staticDirective struct {
	Tool       string         `json:"tool"`
	Arguments  map[string]any `json:"arguments"`
	Reasoning  string         `json:"reasoning"`
	Confidence float64        `json:"confidence"`
}

func (Static) Name() string { return "static" }

func (Static) Complete(_ context.Context, req Request) (Response, error) {
	last := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			last = req.Messages[i].Content
			break
		}
	}
	resp := Response{
		InputTokens:  estimateSize(req),
		OutputTokens: 20,
	}
	trimmed := strings.TrimSpace(last)
	if strings.HasPrefix(trimmed, "{") {
		var d staticDirective
		if err := json.Unmarshal([]byte(trimmed), &d); err == nil && d.Tool != "" {
			if d.Confidence == 0 {
				d.Confidence = 1.0
			}
			resp.ToolCalls = []ToolCall{{
				Name:       d.Tool,
				Arguments:  d.Arguments,
				Reasoning:  d.Reasoning,
				Confidence: d.Confidence,
			}}
			resp.Content = fmt.Sprintf("Calling %s.", d.Tool)
			return resp, nil
		}
	}
	resp.Content = "Acknowledged. No tool call requested."
	return resp, nil
}

func estimateSize(req Request) int {
	total := len(req.System)
	for _, m := range req.Messages {
		total += len(m.Content)
	}
	return total/4 + 10
}
