// Package matcher scores skill metadata against free-text queries using a
// deterministic, explainable heuristic cascade: exact trigger > partial
// trigger > name > description keywords > tags. The tokenizer handles CJK
// text by emitting per-character and bigram tokens so substring-style
// matching works without word segmentation.
package matcher

import (
	"sort"
	"strings"
	"unicode"

	"github.com/openskills/openskills/pkg/skills"
)

// Config exposes the scoring constants and threshold. The exact values are
// heuristic and tunable, not load-bearing contracts.
type Config struct {
	ExactTriggerScore   float64
	PartialTriggerScore float64
	NameScore           float64
	DescriptionScore    float64
	TagScore            float64
	MinScore            float64
}

// DefaultConfig returns the default scoring weights.
func DefaultConfig() Config {
	return Config{
		ExactTriggerScore:   1.0,
		PartialTriggerScore: 0.8,
		NameScore:           0.7,
		DescriptionScore:    0.5,
		TagScore:            0.4,
		MinScore:            0.3,
	}
}

// Result is a scored candidate with the explanation of its best match.
type Result struct {
	Metadata  skills.Metadata
	Score     float64
	MatchedBy string
}

// Matcher ranks skill candidates for a query.
type Matcher struct {
	cfg Config
}

// New creates a Matcher with the given config.
func New(cfg Config) *Matcher {
	return &Matcher{cfg: cfg}
}

// NewDefault creates a Matcher with DefaultConfig.
func NewDefault() *Matcher {
	return New(DefaultConfig())
}

// Match scores every candidate and returns those clearing MinScore, sorted
// by score descending and truncated to limit.
func (m *Matcher) Match(query string, candidates []skills.Metadata, limit int) []Result {
	var results []Result
	for _, md := range candidates {
		if r, ok := m.score(query, md); ok && r.Score >= m.cfg.MinScore {
			results = append(results, r)
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// FindBest returns the single best match, or ok=false when nothing clears
// the threshold.
func (m *Matcher) FindBest(query string, candidates []skills.Metadata) (skills.Metadata, bool) {
	results := m.Match(query, candidates, 1)
	if len(results) == 0 {
		return skills.Metadata{}, false
	}
	return results[0].Metadata, true
}

// score evaluates the cascade for one candidate, keeping the single highest
// scoring explanation. An exact trigger match short-circuits immediately.
func (m *Matcher) score(query string, md skills.Metadata) (Result, bool) {
	queryLower := strings.ToLower(strings.TrimSpace(query))
	queryWords := tokenSet(Tokenize(queryLower))

	best := 0.0
	matchedBy := ""
	consider := func(score float64, reason string) {
		if score > best {
			best = score
			matchedBy = reason
		}
	}

	for _, trigger := range md.Triggers {
		triggerLower := strings.ToLower(trigger)
		if triggerLower == queryLower {
			return Result{Metadata: md, Score: m.cfg.ExactTriggerScore, MatchedBy: "exact trigger: " + trigger}, true
		}

		if strings.Contains(queryLower, triggerLower) {
			consider(m.cfg.PartialTriggerScore, "partial trigger: "+trigger)
		}

		// Multi-word triggers also match when every trigger word appears in
		// the query, slightly below the substring tier.
		if words := tokenSet(Tokenize(triggerLower)); len(words) > 0 && isSubset(words, queryWords) {
			consider(m.cfg.PartialTriggerScore*0.9, "trigger words: "+trigger)
		}
	}

	nameLower := strings.ToLower(md.Name)
	nameLower = strings.NewReplacer("-", " ", "_", " ").Replace(nameLower)
	if strings.Contains(queryLower, nameLower) || strings.Contains(nameLower, queryLower) {
		consider(m.cfg.NameScore, "name: "+md.Name)
	} else if words := tokenSet(Tokenize(nameLower)); len(words) > 0 && isSubset(words, queryWords) {
		consider(m.cfg.NameScore*0.9, "name words: "+md.Name)
	}

	descWords := extractKeywords(md.Description)
	if common := intersect(descWords, queryWords); len(common) > 0 {
		ratio := float64(len(common)) / float64(max(len(descWords), 1))
		consider(m.cfg.DescriptionScore*(0.5+ratio*0.5),
			"description keywords: "+strings.Join(common, ", "))
	}

	for _, tag := range md.Tags {
		if strings.Contains(queryLower, strings.ToLower(tag)) {
			consider(m.cfg.TagScore, "tag: "+tag)
		}
	}

	if best > 0 {
		return Result{Metadata: md, Score: best, MatchedBy: matchedBy}, true
	}
	return Result{}, false
}

// Tokenize splits text into word tokens. Tokens containing CJK code points
// additionally emit the whole token, every individual character, and every
// adjacent character bigram.
func Tokenize(text string) []string {
	var tokens []string

	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})

	for _, word := range words {
		if !containsCJK(word) {
			tokens = append(tokens, word)
			continue
		}

		tokens = append(tokens, word)
		runes := []rune(word)
		for i := range runes {
			tokens = append(tokens, string(runes[i]))
			if i+1 < len(runes) {
				tokens = append(tokens, string(runes[i:i+2]))
			}
		}
	}

	return tokens
}

// containsCJK reports whether the string has Han, Hiragana/Katakana, or
// Hangul code points.
func containsCJK(s string) bool {
	for _, r := range s {
		if (r >= 0x4E00 && r <= 0x9FFF) ||
			(r >= 0x3040 && r <= 0x30FF) ||
			(r >= 0xAC00 && r <= 0xD7AF) {
			return true
		}
	}
	return false
}

// extractKeywords returns significant words from text, stopword-filtered.
func extractKeywords(text string) map[string]bool {
	keywords := make(map[string]bool)
	for _, w := range Tokenize(strings.ToLower(text)) {
		if len(w) > 2 && !stopWords[w] {
			keywords[w] = true
		}
	}
	return keywords
}

func tokenSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}

func isSubset(sub, super map[string]bool) bool {
	for t := range sub {
		if !super[t] {
			return false
		}
	}
	return true
}

func intersect(a, b map[string]bool) []string {
	var common []string
	for t := range a {
		if b[t] {
			common = append(common, t)
		}
	}
	sort.Strings(common)
	return common
}

var stopWords = map[string]bool{
	"the": true, "are": true, "was": true, "were": true, "been": true,
	"being": true, "have": true, "has": true, "had": true, "does": true,
	"did": true, "will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "must": true, "shall": true, "can": true,
	"need": true, "ought": true, "used": true, "for": true, "with": true,
	"from": true, "into": true, "through": true, "during": true,
	"before": true, "after": true, "above": true, "below": true,
	"between": true, "under": true, "again": true, "further": true,
	"then": true, "once": true, "here": true, "there": true, "when": true,
	"where": true, "why": true, "how": true, "all": true, "each": true,
	"few": true, "more": true, "most": true, "other": true, "some": true,
	"such": true, "nor": true, "not": true, "only": true, "own": true,
	"same": true, "than": true, "too": true, "very": true, "just": true,
	"and": true, "but": true, "because": true, "this": true, "that": true,
	"these": true, "those": true, "its": true,
}
