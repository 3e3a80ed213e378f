package routing

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Miles0sage/openclaw-assistant/internal/domain"
)

// text is a request message prepared for keyword lookups.
type text struct {
	lower  string
	tokens map[string]struct{}
}

func prepare(raw string, phrases []string) text {
	lower := strings.ToLower(raw)
	tokens := make(map[string]struct{})
	for _, f := range strings.Fields(lower) {
		tok := strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if utf8.RuneCountInString(tok) > 2 {
			tokens[tok] = struct{}{}
		}
	}
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			tokens[p] = struct{}{}
		}
	}
	return text{lower: lower, tokens: tokens}
}

func (t text) empty() bool { return len(t.tokens) == 0 }

func (t text) hasToken(kw string) bool {
	_, ok := t.tokens[kw]
	return ok
}

// atWordStart reports whether kw occurs in the lowercased text starting at a
// word boundary. Multi-word keywords match anywhere. Keywords of three
// characters or fewer never match here; they must be whole tokens.
func (t text) atWordStart(kw string) bool {
	if strings.ContainsRune(kw, ' ') {
		return strings.Contains(t.lower, kw)
	}
	if utf8.RuneCountInString(kw) <= 3 {
		return false
	}
	for off := 0; off < len(t.lower); {
		i := strings.Index(t.lower[off:], kw)
		if i < 0 {
			return false
		}
		i += off
		if i == 0 {
			return true
		}
		prev, _ := utf8.DecodeLastRuneInString(t.lower[:i])
		if !unicode.IsLetter(prev) && !unicode.IsDigit(prev) {
			return true
		}
		off = i + 1
	}
	return false
}

// contains is the lookup used for complexity and topic lists: a whole token
// or a word-start match.
func (t text) contains(kw string) bool {
	return t.hasToken(kw) || t.atWordStart(kw)
}

// KeywordMatcher scores free text against each agent's keyword groups.
type KeywordMatcher struct {
	catalog *Catalog
}

// NewKeywordMatcher creates a matcher over catalog.
func NewKeywordMatcher(catalog *Catalog) *KeywordMatcher {
	return &KeywordMatcher{catalog: catalog}
}

// Score returns one AgentScore per agent, highest first. Agents with equal
// scores keep their input order.
func (m *KeywordMatcher) Score(raw string, agents []domain.Agent) []domain.AgentScore {
	return m.ScoreWithHint(raw, agents, "")
}

// ScoreWithHint is Score plus a flat channel boost for every agent owning a
// keyword group tagged hintDomain.
func (m *KeywordMatcher) ScoreWithHint(raw string, agents []domain.Agent, hintDomain string) []domain.AgentScore {
	tun := m.catalog.Tunables
	t := prepare(raw, m.catalog.Phrases)

	scores := make([]domain.AgentScore, 0, len(agents))
	for _, a := range agents {
		s := domain.AgentScore{AgentID: a.ID, Matches: []domain.KeywordMatch{}}
		if !t.empty() {
			s = m.scoreAgent(t, a)
		}
		if hintDomain != "" && a.HasDomain(hintDomain) {
			boosted := s.Score*tun.ScoreCap/100 + tun.ChannelBoost
			s.Score = rescale(boosted, tun.ScoreCap)
			if s.PrimaryDomain == "" {
				s.PrimaryDomain = hintDomain
			}
		}
		scores = append(scores, s)
	}

	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Score > scores[j].Score
	})
	return scores
}

func (m *KeywordMatcher) scoreAgent(t text, a domain.Agent) domain.AgentScore {
	tun := m.catalog.Tunables
	out := domain.AgentScore{AgentID: a.ID, Matches: []domain.KeywordMatch{}}

	seen := make(map[string]struct{})
	var total, best float64
	for _, g := range a.KeywordGroups {
		w := g.EffectiveWeight()
		var sub float64
		for _, kw := range g.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			if _, dup := seen[kw]; dup {
				continue
			}
			var pts, conf float64
			switch {
			case t.hasToken(kw):
				pts, conf = tun.TokenWeight*w, 1
			case t.atWordStart(kw):
				pts, conf = tun.SubstringBoost*w, tun.SubstringBoost/tun.TokenWeight
			default:
				continue
			}
			seen[kw] = struct{}{}
			sub += pts
			out.Matches = append(out.Matches, domain.KeywordMatch{
				Keyword:    kw,
				AgentID:    a.ID,
				Domain:     g.Domain,
				Confidence: conf,
			})
		}
		if sub > best {
			best = sub
			out.PrimaryDomain = g.Domain
		}
		total += sub
	}
	out.Score = rescale(total, tun.ScoreCap)
	return out
}

func rescale(raw, capPoints float64) float64 {
	if raw <= 0 || capPoints <= 0 {
		return 0
	}
	if raw > capPoints {
		raw = capPoints
	}
	return raw / capPoints * 100
}

// Confidence derives a 0..1 confidence from a descending score list.
func (m *KeywordMatcher) Confidence(scores []domain.AgentScore) float64 {
	tun := m.catalog.Tunables
	if len(scores) == 0 || scores[0].Score <= 0 {
		return 0
	}
	top := scores[0].Score
	var second float64
	if len(scores) > 1 {
		second = scores[1].Score
	}

	switch {
	case top >= tun.HighScore && top-second >= tun.HighLead:
		return min(tun.MaxHigh, 0.85+(top-tun.HighScore)/200)
	case top >= tun.MediumScore:
		return min(0.79, 0.6+(top-tun.MediumScore)/150)
	default:
		return min(tun.MaxLow, top/100)
	}
}

// ConfidenceLabel buckets a confidence value for reason strings.
func ConfidenceLabel(c float64) string {
	switch {
	case c >= 0.8:
		return "high"
	case c >= 0.5:
		return "medium"
	default:
		return "low"
	}
}
