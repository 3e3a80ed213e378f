// Package routing implements the deterministic keyword/complexity classifier
// that picks an agent for a task description.
package routing

import "strings"

// DefaultEscalationMinScore is the planning agent's minimum keyword score
// (0..100) before a complex task is escalated to it.
const DefaultEscalationMinScore = 20

// Tunables holds the numeric knobs of the classifier.
type Tunables struct {
	TokenWeight    float64 // points per keyword found in the token set
	SubstringBoost float64 // points per keyword found only at a word start in the raw text
	ScoreCap       float64 // raw per-agent cap before rescaling to 0..100
	ChannelBoost   float64 // raw points added for a matching channel hint

	HighScore   float64
	HighLead    float64
	MediumScore float64
	MaxHigh     float64
	MaxLow      float64

	EscalationMinScore float64
	MaxKeywords        int
	MaxSkillFiles      int
	MaxReasonKeywords  int
}

// Topic is a named keyword set used to count distinct subjects in a request.
type Topic struct {
	Name     string
	Keywords []string
}

// ChannelHint maps words in a channel topic or category to a keyword domain.
type ChannelHint struct {
	Words  []string
	Domain string
}

// Catalog is the immutable keyword table shared by the matcher and the
// assessor. Build it once with DefaultCatalog (or a loaded override) and pass
// it by pointer; nothing mutates it after construction.
type Catalog struct {
	Phrases          []string
	ComplexKeywords  []string
	ModerateKeywords []string
	ConstraintWords  []string
	CodeMarkers      []string
	Topics           []Topic

	// SlackTopicHints apply to RouteContext.ChannelTopic when the channel is
	// slack; DiscordCategoryHints to ChannelCategory when it is discord.
	SlackTopicHints      []ChannelHint
	DiscordCategoryHints []ChannelHint

	Tunables Tunables
}

// DefaultTunables returns the classifier defaults.
func DefaultTunables() Tunables {
	return Tunables{
		TokenWeight:        10,
		SubstringBoost:     4,
		ScoreCap:           50,
		ChannelBoost:       10,
		HighScore:          70,
		HighLead:           25,
		MediumScore:        40,
		MaxHigh:            0.98,
		MaxLow:             0.4,
		EscalationMinScore: DefaultEscalationMinScore,
		MaxKeywords:        5,
		MaxSkillFiles:      3,
		MaxReasonKeywords:  3,
	}
}

// DefaultCatalog returns the built-in keyword tables.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Phrases: []string{
			"design document", "unit test", "integration test", "access control",
			"sql injection", "code review", "threat model", "breaking changes",
			"refactor entire", "row level security", "rate limit", "pull request",
			"data model", "load balancer", "user story",
		},
		ComplexKeywords: []string{
			"redesign", "refactor entire", "migrate", "architect", "coordinate",
			"orchestrate", "plan", "strategy", "roadmap", "breaking changes",
		},
		ModerateKeywords: []string{
			"build", "implement", "develop", "create", "add", "feature", "endpoint",
			"component", "integration", "refactor", "optimize", "test", "review",
			"design", "improve", "enhance", "api", "caching",
		},
		ConstraintWords: []string{"must", "should", "cannot"},
		CodeMarkers: []string{
			"```", "()", "{", "}", "=>", "->", "::", "==", "!=", ";",
			"func ", "def ", "class ", "import ", "select *", "</",
		},
		Topics: []Topic{
			{Name: "security", Keywords: []string{
				"security", "secure", "vulnerability", "auth", "authentication", "authorization",
				"encrypt", "payment", "pci", "xss", "csrf", "injection", "owasp", "threat",
			}},
			{Name: "development", Keywords: []string{
				"code", "implement", "api", "endpoint", "function", "bug", "fix", "refactor",
				"frontend", "backend", "component",
			}},
			{Name: "data", Keywords: []string{
				"database", "query", "sql", "schema", "table", "postgres", "caching", "cache",
				"redis", "migration",
			}},
			{Name: "planning", Keywords: []string{
				"plan", "roadmap", "timeline", "milestone", "design", "architecture", "strategy", "sprint",
			}},
			{Name: "testing", Keywords: []string{"test", "tests", "testing", "coverage", "unit test", "e2e"}},
			{Name: "operations", Keywords: []string{
				"deploy", "deployment", "docker", "kubernetes", "ci/cd", "monitoring", "infrastructure",
			}},
		},
		SlackTopicHints: []ChannelHint{
			{Words: []string{"security"}, Domain: "security"},
			{Words: []string{"development", "engineering"}, Domain: "development"},
			{Words: []string{"planning", "product"}, Domain: "planning"},
		},
		DiscordCategoryHints: []ChannelHint{
			{Words: []string{"security"}, Domain: "security"},
			{Words: []string{"development", "engineering"}, Domain: "development"},
			{Words: []string{"planning"}, Domain: "planning"},
		},
		Tunables: DefaultTunables(),
	}
}

// HintedDomain returns the keyword domain a channel hint points at, or ""
// when the context carries no recognised hint. The first matching hint wins.
func (c *Catalog) HintedDomain(channel, topic, category string) string {
	var text string
	var hints []ChannelHint
	switch strings.ToLower(channel) {
	case "slack":
		text, hints = topic, c.SlackTopicHints
	case "discord":
		text, hints = category, c.DiscordCategoryHints
	default:
		return ""
	}
	text = strings.ToLower(text)
	if text == "" {
		return ""
	}
	for _, h := range hints {
		for _, w := range h.Words {
			if strings.Contains(text, w) {
				return h.Domain
			}
		}
	}
	return ""
}
