package routing

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Miles0sage/openclaw-assistant/internal/domain"
)

// Level thresholds on the additive complexity score.
const (
	moderateThreshold = 3
	complexThreshold  = 6
)

// ComplexityAssessor estimates how much work a task implies.
type ComplexityAssessor struct {
	catalog        *Catalog
	implementation string
	planning       string
}

// NewComplexityAssessor creates an assessor. implementationAgent and
// planningAgent are the ids suggested for simple/moderate and complex tasks.
func NewComplexityAssessor(catalog *Catalog, implementationAgent, planningAgent string) *ComplexityAssessor {
	return &ComplexityAssessor{
		catalog:        catalog,
		implementation: implementationAgent,
		planning:       planningAgent,
	}
}

// Assess scores raw for difficulty. hint may be nil.
func (a *ComplexityAssessor) Assess(raw string, hint *domain.Agent) domain.ComplexityAssessment {
	trimmed := strings.TrimSpace(raw)
	t := prepare(trimmed, a.catalog.Phrases)
	length := utf8.RuneCountInString(trimmed)

	var score int
	factors := []string{}
	add := func(pts int, format string, args ...any) {
		if pts == 0 {
			return
		}
		score += pts
		factors = append(factors, fmt.Sprintf(format, args...)+fmt.Sprintf(" (+%d)", pts))
	}

	switch {
	case length >= 300:
		add(2, "long request: %d chars", length)
	case length >= 100:
		add(1, "medium-length request: %d chars", length)
	}

	switch n := countSentences(trimmed); {
	case n >= 4:
		add(2, "%d sentences", n)
	case n >= 2:
		add(1, "%d sentences", n)
	}

	if hits := matchAll(t, a.catalog.ComplexKeywords); len(hits) > 0 {
		add(2*len(hits), "complex keywords: %s", strings.Join(hits, ", "))
	}
	if hits := matchAll(t, a.catalog.ModerateKeywords); len(hits) > 0 {
		add(len(hits), "moderate keywords: %s", strings.Join(hits, ", "))
	}

	for _, marker := range a.catalog.CodeMarkers {
		if strings.Contains(t.lower, marker) {
			add(1, "code-like syntax")
			break
		}
	}

	var topics []string
	for _, topic := range a.catalog.Topics {
		for _, kw := range topic.Keywords {
			if t.contains(kw) {
				topics = append(topics, topic.Name)
				break
			}
		}
	}
	if len(topics) > 2 {
		add(1, "multiple topics: %s", strings.Join(topics, ", "))
	}

	for _, w := range a.catalog.ConstraintWords {
		if t.hasToken(w) {
			add(1, "constraint language: %q", w)
			break
		}
	}

	level := levelFor(score)
	if hint != nil && hint.BaselineComplexity == domain.ComplexityComplex && level == domain.ComplexitySimple {
		level = domain.ComplexityModerate
		factors = append(factors, fmt.Sprintf("raised to moderate: %s baseline is complex", hint.ID))
	}

	suggested := a.implementation
	if level == domain.ComplexityComplex {
		suggested = a.planning
	}

	return domain.ComplexityAssessment{
		Level:           level,
		Score:           score,
		Factors:         factors,
		EstimatedTokens: EstimateTokens(trimmed),
		SuggestedAgent:  suggested,
	}
}

func levelFor(score int) domain.ComplexityLevel {
	switch {
	case score >= complexThreshold:
		return domain.ComplexityComplex
	case score >= moderateThreshold:
		return domain.ComplexityModerate
	default:
		return domain.ComplexitySimple
	}
}

func matchAll(t text, keywords []string) []string {
	var hits []string
	for _, kw := range keywords {
		if t.contains(kw) {
			hits = append(hits, kw)
		}
	}
	return hits
}

func countSentences(s string) int {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	})
	n := 0
	for _, p := range parts {
		if strings.IndexFunc(p, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }) >= 0 {
			n++
		}
	}
	return max(n, 1)
}

// EstimateTokens approximates the token count as ceil(chars / 4).
func EstimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + 3) / 4
}

var costMultiplier = map[domain.ComplexityLevel]float64{
	domain.ComplexitySimple:   1.0,
	domain.ComplexityModerate: 1.5,
	domain.ComplexityComplex:  2.5,
}

// EstimateCost prices an assessment: tokens/1e6 × pricePerMillion × level multiplier.
func EstimateCost(a domain.ComplexityAssessment, pricePerMillion float64) float64 {
	m, ok := costMultiplier[a.Level]
	if !ok {
		m = 1.0
	}
	return float64(a.EstimatedTokens) / 1e6 * pricePerMillion * m
}
