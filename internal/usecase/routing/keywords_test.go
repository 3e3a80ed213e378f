package routing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Miles0sage/openclaw-assistant/internal/domain"
	"github.com/Miles0sage/openclaw-assistant/internal/usecase/registry"
)

func scoreOf(t *testing.T, scores []domain.AgentScore, id string) domain.AgentScore {
	t.Helper()
	for _, s := range scores {
		if s.AgentID == id {
			return s
		}
	}
	t.Fatalf("no score for agent %q", id)
	return domain.AgentScore{}
}

func TestPrepareTokenizes(t *testing.T) {
	tx := prepare("Fix: the LOGIN bug, now!! (a) ci/cd", DefaultCatalog().Phrases)

	for _, want := range []string{"fix", "the", "login", "bug", "now", "ci/cd"} {
		assert.True(t, tx.hasToken(want), "missing token %q", want)
	}
	assert.False(t, tx.hasToken("a"), "tokens of length <= 2 are dropped")
	assert.False(t, tx.hasToken("fix:"), "edge punctuation is stripped")
}

func TestPrepareAddsPhrases(t *testing.T) {
	tx := prepare("Write a Unit Test for the parser", DefaultCatalog().Phrases)
	assert.True(t, tx.hasToken("unit test"))
}

func TestAtWordStart(t *testing.T) {
	tx := prepare("we need better securities and re-deployment; xyzplan", nil)

	assert.True(t, tx.atWordStart("secur"), "prefix of a word")
	assert.True(t, tx.atWordStart("deploy"), "after a hyphen")
	assert.False(t, tx.atWordStart("plan"), "inside a word")
	assert.False(t, tx.atWordStart("and"), "short keywords never substring-match")
	assert.True(t, tx.atWordStart("need better"), "multi-word keywords match as substrings")
}

func TestScoreOneEntryPerAgent(t *testing.T) {
	m := NewKeywordMatcher(DefaultCatalog())
	agents := registry.BuiltinAgents()

	for _, text := range []string{"", "   ", "zz qq", "Fix the login bug"} {
		scores := m.Score(text, agents)
		assert.Len(t, scores, len(agents), "text %q", text)
	}
}

func TestScoreEmptyIsAllZero(t *testing.T) {
	m := NewKeywordMatcher(DefaultCatalog())
	scores := m.Score("", registry.BuiltinAgents())

	for _, s := range scores {
		assert.Zero(t, s.Score)
		assert.Empty(t, s.Matches)
	}
	assert.Zero(t, m.Confidence(scores))
}

func TestScoreNoMatchKeepsRegistryOrder(t *testing.T) {
	m := NewKeywordMatcher(DefaultCatalog())
	agents := registry.BuiltinAgents()
	scores := m.Score("lorem ipsum dolor", agents)

	for i, a := range agents {
		assert.Equal(t, a.ID, scores[i].AgentID)
	}
}

func TestScoreFixLoginBug(t *testing.T) {
	m := NewKeywordMatcher(DefaultCatalog())
	scores := m.Score("Fix the login bug", registry.BuiltinAgents())

	require.Equal(t, registry.CoderAgent, scores[0].AgentID)
	assert.Equal(t, []string{"fix", "bug"}, scores[0].Keywords())
	assert.Equal(t, "development", scores[0].PrimaryDomain)
	assert.InDelta(t, 40, scores[0].Score, 1e-9)
	assert.Equal(t, "medium", ConfidenceLabel(m.Confidence(scores)))
}

func TestScoreSecurityOutranksImplementation(t *testing.T) {
	m := NewKeywordMatcher(DefaultCatalog())
	scores := m.Score("Design a secure payment API with caching", registry.BuiltinAgents())

	require.Equal(t, registry.HackerAgent, scores[0].AgentID)
	assert.Contains(t, scores[0].Keywords(), "secure")
	coder := scoreOf(t, scores, registry.CoderAgent)
	assert.Greater(t, scores[0].Score, coder.Score)
	assert.Contains(t, coder.Keywords(), "api")
}

func TestScoreSubstringBoostSmallerThanToken(t *testing.T) {
	m := NewKeywordMatcher(DefaultCatalog())
	agents := []domain.Agent{{ID: "ops", Enabled: true,
		KeywordGroups: []domain.KeywordGroup{{Domain: "ops", Keywords: []string{"deploy"}}}}}

	exact := m.Score("deploy it", agents)[0]
	prefix := m.Score("deployment done", agents)[0]

	assert.Greater(t, exact.Score, prefix.Score)
	assert.Greater(t, prefix.Score, 0.0)
	assert.Less(t, prefix.Matches[0].Confidence, exact.Matches[0].Confidence)
}

func TestScoreIsCappedForRepeatedInput(t *testing.T) {
	m := NewKeywordMatcher(DefaultCatalog())
	text := strings.Repeat("security vulnerability exploit xss csrf injection pentest breach ", 500)
	scores := m.Score(text, registry.BuiltinAgents())

	assert.Equal(t, registry.HackerAgent, scores[0].AgentID)
	assert.Equal(t, 100.0, scores[0].Score)
	c := m.Confidence(scores)
	assert.LessOrEqual(t, c, 0.98)
	assert.Equal(t, "high", ConfidenceLabel(c))
}

func TestScoreDuplicateKeywordCountsOnce(t *testing.T) {
	m := NewKeywordMatcher(DefaultCatalog())
	agents := []domain.Agent{{ID: "db", Enabled: true, KeywordGroups: []domain.KeywordGroup{
		{Domain: "development", Keywords: []string{"schema"}},
		{Domain: "database", Keywords: []string{"schema", "table"}},
	}}}

	s := m.Score("update the schema", agents)[0]
	require.Len(t, s.Matches, 1)
	assert.Equal(t, "development", s.Matches[0].Domain)
}

func TestScorePrimaryDomainIsLargestGroup(t *testing.T) {
	m := NewKeywordMatcher(DefaultCatalog())
	scores := m.Score("query the postgres table for orders", registry.BuiltinAgents())
	coder := scoreOf(t, scores, registry.CoderAgent)
	assert.Equal(t, "database", coder.PrimaryDomain)
}

func TestScoreWithChannelHint(t *testing.T) {
	m := NewKeywordMatcher(DefaultCatalog())
	agents := registry.BuiltinAgents()

	plain := m.Score("look at the login page", agents)
	hinted := m.ScoreWithHint("look at the login page", agents, "security")

	assert.Zero(t, plain[0].Score)
	require.Equal(t, registry.HackerAgent, hinted[0].AgentID)
	assert.Greater(t, hinted[0].Score, 0.0)
	assert.Equal(t, "security", hinted[0].PrimaryDomain)
	assert.Empty(t, hinted[0].Matches)
}

func TestConfidenceBands(t *testing.T) {
	m := NewKeywordMatcher(DefaultCatalog())
	mk := func(top, second float64) []domain.AgentScore {
		return []domain.AgentScore{{Score: top}, {Score: second}}
	}

	tests := []struct {
		name  string
		in    []domain.AgentScore
		label string
	}{
		{"high lead", mk(90, 20), "high"},
		{"high top but close race", mk(90, 80), "medium"},
		{"medium", mk(50, 0), "medium"},
		{"low", mk(30, 0), "low"},
		{"zero", mk(0, 0), "low"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := m.Confidence(tt.in)
			assert.GreaterOrEqual(t, c, 0.0)
			assert.LessOrEqual(t, c, 1.0)
			assert.Equal(t, tt.label, ConfidenceLabel(c))
		})
	}
	assert.Zero(t, m.Confidence(nil))
	assert.LessOrEqual(t, m.Confidence(mk(30, 0)), 0.4)
}

func TestHintedDomain(t *testing.T) {
	c := DefaultCatalog()
	tests := []struct {
		channel, topic, category string
		want                     string
	}{
		{"slack", "Security reviews", "", "security"},
		{"slack", "Engineering chat", "", "development"},
		{"slack", "Product roadmap", "", "planning"},
		{"discord", "", "planning", "planning"},
		{"discord", "", "product", ""},
		{"discord", "security", "", ""},
		{"telegram", "security", "security", ""},
		{"", "", "", ""},
	}
	for _, tt := range tests {
		got := c.HintedDomain(tt.channel, tt.topic, tt.category)
		assert.Equal(t, tt.want, got, "%s/%s/%s", tt.channel, tt.topic, tt.category)
	}
}
