package engine

import (
	"unicode"

	"go.uber.org/zap"
)

// Limits bound every outbound model request.
type Limits struct {
	MinTemperature     float64
	MaxTemperature     float64
	DefaultTemperature float64
	MinMaxTokens       int
	MaxMaxTokens       int
	DefaultMaxTokens   int
	DefaultModel       string
}

// RequestOverrides carries the caller's optional knobs. Nil means "use the
// default"; out-of-range values are clamped, never rejected.
type RequestOverrides struct {
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

// Governor normalizes request parameters into the configured bounds.
type Governor struct {
	limits Limits
	log    *zap.Logger
}

func NewGovernor(limits Limits, log *zap.Logger) *Governor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Governor{limits: limits, log: log}
}

// Clamp resolves model, temperature and max_tokens for a request. Values
// outside the configured window are pulled to the nearest bound and logged;
// callers always get something the provider will accept.
func (g *Governor) Clamp(o RequestOverrides) (model string, temperature float64, maxTokens int) {
	model = o.Model
	if model == "" {
		model = g.limits.DefaultModel
	}

	temperature = g.limits.DefaultTemperature
	if o.Temperature != nil {
		temperature = *o.Temperature
		if temperature < g.limits.MinTemperature {
			g.log.Warn("temperature clamped",
				zap.Float64("requested", temperature),
				zap.Float64("clamped", g.limits.MinTemperature))
			temperature = g.limits.MinTemperature
		} else if temperature > g.limits.MaxTemperature {
			g.log.Warn("temperature clamped",
				zap.Float64("requested", temperature),
				zap.Float64("clamped", g.limits.MaxTemperature))
			temperature = g.limits.MaxTemperature
		}
	}

	maxTokens = g.limits.DefaultMaxTokens
	if o.MaxTokens != nil {
		maxTokens = *o.MaxTokens
		if maxTokens < g.limits.MinMaxTokens {
			g.log.Warn("max_tokens clamped",
				zap.Int("requested", maxTokens),
				zap.Int("clamped", g.limits.MinMaxTokens))
			maxTokens = g.limits.MinMaxTokens
		} else if maxTokens > g.limits.MaxMaxTokens {
			g.log.Warn("max_tokens clamped",
				zap.Int("requested", maxTokens),
				zap.Int("clamped", g.limits.MaxMaxTokens))
			maxTokens = g.limits.MaxMaxTokens
		}
	}
	return model, temperature, maxTokens
}

// EstimateTokens is a cheap pre-flight heuristic: CJK text runs roughly one
// token per two characters, everything else one per four, plus a small
// constant for message framing.
func EstimateTokens(text string) int {
	cjk := 0
	other := 0
	for _, r := range text {
		if unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r) {
			cjk++
		} else {
			other++
		}
	}
	return cjk/2 + other/4 + 10
}
