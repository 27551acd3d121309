package logprobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/genai"
)

func ptr(v float64) *float64 { return &v }

func TestAnalyzeLevels(t *testing.T) {
	tests := []struct {
		name  string
		avg   float64
		level Level
	}{
		{name: "high", avg: -0.1, level: LevelHigh},
		{name: "high boundary", avg: -0.5, level: LevelHigh},
		{name: "medium", avg: -0.75, level: LevelMedium},
		{name: "medium boundary", avg: -1.0, level: LevelMedium},
		{name: "low", avg: -2.3, level: LevelLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Analyze(ptr(tt.avg), nil)
			assert.True(t, a.Available)
			assert.Equal(t, tt.level, a.Level)
		})
	}
}

func TestAnalyzeScoreAndAlternatives(t *testing.T) {
	result := &genai.LogprobsResult{TopCandidates: []*genai.LogprobsResultTopCandidates{{}, {}, {}}}
	a := Analyze(ptr(-1), result)
	assert.InDelta(t, 50.0, a.ScorePercent, 1e-9)
	assert.Equal(t, 3, a.TopAlternatives)
	assert.Equal(t, "\n\n[LOG PROBABILITY ANALYSIS]\nAverage Log Probability: -1.0000\nConfidence Level: Medium\nConfidence Score: 50.0%\nTop alternatives analyzed: 3", a.Format())
}

func TestAnalyzeUnavailable(t *testing.T) {
	a := Analyze(nil, nil)
	assert.False(t, a.Available)
	assert.Equal(t, "\n\n[LOG PROBABILITY ANALYSIS]\nNo log probability data available", a.Format())
}
