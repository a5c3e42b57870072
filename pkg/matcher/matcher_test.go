package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openskills/openskills/pkg/skills"
)

func catalog() []skills.Metadata {
	return []skills.Metadata{
		{
			Name:        "pdf-processing",
			Description: "Extract and transform PDF documents",
			Triggers:    []string{"pdf", "extract pdf"},
			Tags:        []string{"documents"},
		},
		{
			Name:        "data-analysis",
			Description: "Analyze CSV datasets and plot charts",
			Triggers:    []string{"analyze data"},
			Tags:        []string{"csv", "charts"},
		},
		{
			Name:        "翻译助手",
			Description: "Translate documents between languages",
			Triggers:    []string{"翻译"},
		},
	}
}

func TestMatchExactTrigger(t *testing.T) {
	m := NewDefault()

	results := m.Match("pdf", catalog(), 0)
	require.NotEmpty(t, results)
	assert.Equal(t, "pdf-processing", results[0].Metadata.Name)
	assert.Equal(t, 1.0, results[0].Score)
	assert.Contains(t, results[0].MatchedBy, "exact trigger")
}

func TestMatchPartialTrigger(t *testing.T) {
	m := NewDefault()

	results := m.Match("please extract pdf text from this file", catalog(), 0)
	require.NotEmpty(t, results)
	assert.Equal(t, "pdf-processing", results[0].Metadata.Name)
	assert.Equal(t, 0.8, results[0].Score)
}

func TestMatchTriggerWordSubset(t *testing.T) {
	m := NewDefault()

	// Trigger words present but not adjacent, so the substring tier misses.
	results := m.Match("analyze this sales data for me", catalog(), 0)
	require.NotEmpty(t, results)
	assert.Equal(t, "data-analysis", results[0].Metadata.Name)
	assert.InDelta(t, 0.8*0.9, results[0].Score, 1e-9)
}

func TestMatchName(t *testing.T) {
	m := NewDefault()

	results := m.Match("run pdf processing on my invoice", catalog(), 0)
	require.NotEmpty(t, results)
	assert.Equal(t, "pdf-processing", results[0].Metadata.Name)
}

func TestMatchBelowThreshold(t *testing.T) {
	m := NewDefault()

	results := m.Match("write me a poem about autumn", catalog(), 0)
	assert.Empty(t, results)

	_, ok := m.FindBest("write me a poem about autumn", catalog())
	assert.False(t, ok)
}

func TestMatchCJK(t *testing.T) {
	m := NewDefault()

	best, ok := m.FindBest("帮我翻译这份文件", catalog())
	require.True(t, ok)
	assert.Equal(t, "翻译助手", best.Name)
}

func TestMatchLimitAndOrdering(t *testing.T) {
	m := NewDefault()

	results := m.Match("extract pdf documents", catalog(), 0)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}

	limited := m.Match("extract pdf documents", catalog(), 1)
	assert.LessOrEqual(t, len(limited), 1)
}

func TestMatchCustomConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinScore = 0.9
	m := New(cfg)

	results := m.Match("please extract pdf text from this file", catalog(), 0)
	assert.Empty(t, results, "partial trigger stays below the raised threshold")

	results = m.Match("pdf", catalog(), 0)
	assert.NotEmpty(t, results)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"hello", "world_2"}, Tokenize("hello, world_2!"))

	tokens := Tokenize("翻译")
	// Whole token, two characters, one bigram.
	assert.ElementsMatch(t, []string{"翻译", "翻", "译", "翻译"}, tokens)

	assert.Empty(t, Tokenize("  ,.! "))
}
