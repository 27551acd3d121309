// Package logprobs turns response log probabilities into a confidence
// report.
package logprobs

import (
	"fmt"
	"math"
	"strings"

	"google.golang.org/genai"
)

// Level buckets the average log probability of a response.
type Level string

const (
	LevelHigh   Level = "High"
	LevelMedium Level = "Medium"
	LevelLow    Level = "Low"
)

const (
	highThreshold   = -0.5
	mediumThreshold = -1.0
)

// Header opens every formatted analysis.
const Header = "[LOG PROBABILITY ANALYSIS]"

// Analysis summarizes the log probabilities of one response.
type Analysis struct {
	Available bool    `json:"available"`
	Avg       float64 `json:"avg_logprobs"`
	Level     Level   `json:"confidence_level,omitempty"`
	// ScorePercent is 100 * 2^Avg.
	ScorePercent float64 `json:"confidence_score_percent"`
	// TopAlternatives is the number of decoding steps with alternatives.
	TopAlternatives int `json:"top_alternatives"`
}

// Analyze builds the analysis for a response. A nil avg means the model
// returned no log probabilities.
func Analyze(avg *float64, result *genai.LogprobsResult) Analysis {
	if avg == nil {
		return Analysis{}
	}
	a := Analysis{
		Available:    true,
		Avg:          *avg,
		Level:        levelOf(*avg),
		ScorePercent: 100 * math.Pow(2, *avg),
	}
	if result != nil {
		a.TopAlternatives = len(result.TopCandidates)
	}
	return a
}

func levelOf(avg float64) Level {
	switch {
	case avg >= highThreshold:
		return LevelHigh
	case avg >= mediumThreshold:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Format renders the analysis as text appended to a response.
func (a Analysis) Format() string {
	var b strings.Builder
	b.WriteString("\n\n" + Header + "\n")
	if !a.Available {
		b.WriteString("No log probability data available")
		return b.String()
	}
	fmt.Fprintf(&b, "Average Log Probability: %.4f\n", a.Avg)
	fmt.Fprintf(&b, "Confidence Level: %s\n", a.Level)
	fmt.Fprintf(&b, "Confidence Score: %.1f%%", a.ScorePercent)
	if a.TopAlternatives > 0 {
		fmt.Fprintf(&b, "\nTop alternatives analyzed: %d", a.TopAlternatives)
	}
	return b.String()
}
