package registry

import "github.com/Miles0sage/openclaw-assistant/internal/domain"

// Built-in agent ids.
const (
	CoderAgent     = "coder_agent"
	HackerAgent    = "hacker_agent"
	ProjectManager = "project_manager"
)

// BuiltinAgents returns the static agent set used when no source is
// configured or the configured source cannot be loaded.
func BuiltinAgents() []domain.Agent {
	return []domain.Agent{
		{
			ID:          CoderAgent,
			Name:        "CodeGen",
			Description: "Implements features, fixes bugs and writes database queries.",
			Role:        domain.RoleImplementation,
			KeywordGroups: []domain.KeywordGroup{
				{Domain: "development", Weight: 1, Keywords: []string{
					"code", "implement", "function", "fix", "bug", "api", "endpoint", "build",
					"typescript", "fastapi", "python", "javascript", "react", "nextjs",
					"testing", "test", "unit test", "deploy", "deployment", "frontend", "backend",
					"full-stack", "refactor", "refactoring", "clean_code", "git", "repository",
					"json", "yaml", "xml", "rest", "graphql", "websocket", "docker", "ci/cd",
					"github", "code review", "pull request",
				}},
				{Domain: "database", Weight: 1, Keywords: []string{
					"query", "fetch", "select", "insert", "update", "delete", "table", "column",
					"row", "data", "supabase", "postgresql", "postgres", "sql", "database",
					"appointments", "clients", "services", "transactions", "orders", "customers",
					"call_logs", "schema", "subscription", "real_time", "caching", "data model",
				}},
			},
			Tags:               []string{"typescript", "python", "fastapi", "nextjs", "postgres"},
			CostPer1KTokens:    0.003,
			MaxOutputTokens:    8192,
			BaselineComplexity: domain.ComplexityModerate,
			Enabled:            true,
		},
		{
			ID:          HackerAgent,
			Name:        "Security",
			Description: "Audits, threat-models and hardens systems.",
			Role:        domain.RoleSecurity,
			KeywordGroups: []domain.KeywordGroup{
				{Domain: "security", Weight: 2, Keywords: []string{
					"security", "vulnerability", "exploit", "penetration", "audit", "xss", "csrf",
					"injection", "pentest", "hack", "breach", "secure", "threat", "attack",
					"threat_modeling", "threat model", "risk", "malware", "payload", "sanitize",
					"encrypt", "cryptography", "authentication", "authorization",
					"access control", "sql injection", "rls", "row_level_security",
					"row level security", "policy", "compliance", "gdpr", "ccpa", "soc2",
					"owasp", "cwe", "cvss", "payment", "pci",
				}},
			},
			Tags:               []string{"owasp", "pentest", "compliance"},
			CostPer1KTokens:    0.015,
			MaxOutputTokens:    4096,
			BaselineComplexity: domain.ComplexityModerate,
			Enabled:            true,
		},
		{
			ID:          ProjectManager,
			Name:        "PM Agent",
			Description: "Plans, estimates and coordinates multi-step work.",
			Role:        domain.RolePlanning,
			KeywordGroups: []domain.KeywordGroup{
				{Domain: "planning", Weight: 1, Keywords: []string{
					"plan", "timeline", "schedule", "roadmap", "strategy", "architecture", "design",
					"approach", "workflow", "process", "milestone", "deadline", "estimate",
					"estimation", "breakdown", "decompose", "coordinate", "manage", "organize",
					"project", "phase", "sprint", "agile", "scoping", "capacity", "charter",
					"design document", "user story",
				}},
			},
			Tags:               []string{"planning", "coordination"},
			CostPer1KTokens:    0.015,
			MaxOutputTokens:    4096,
			BaselineComplexity: domain.ComplexityComplex,
			Enabled:            true,
		},
	}
}

// BuiltinSkillFiles returns the static skill-file set paired with BuiltinAgents.
func BuiltinSkillFiles() []domain.SkillFile {
	return []domain.SkillFile{
		{ID: "api-design", Name: "API design", AgentID: CoderAgent,
			Description: "REST and GraphQL endpoint conventions.",
			Keywords:    []string{"api", "endpoint", "rest", "graphql", "websocket"}},
		{ID: "debugging", Name: "Debugging playbook", AgentID: CoderAgent,
			Description: "Reproduce, isolate and fix defects.",
			Keywords:    []string{"fix", "bug", "patch", "error"}},
		{ID: "database-queries", Name: "Database queries", AgentID: CoderAgent,
			Description: "Query patterns for the Postgres/Supabase schema.",
			Keywords:    []string{"query", "sql", "schema", "database", "supabase", "postgres", "caching"}},
		{ID: "testing-practices", Name: "Testing practices", AgentID: CoderAgent,
			Description: "Unit and integration test conventions.",
			Keywords:    []string{"test", "testing", "unit test"}},
		{ID: "owasp-top-10", Name: "OWASP Top 10", AgentID: HackerAgent,
			Description: "Common web vulnerability classes and mitigations.",
			Keywords:    []string{"xss", "csrf", "injection", "sql injection", "owasp"}},
		{ID: "payment-security", Name: "Payment security", AgentID: HackerAgent,
			Description: "PCI scope, tokenisation and secure payment flows.",
			Keywords:    []string{"payment", "pci", "secure", "encrypt"}},
		{ID: "threat-modeling", Name: "Threat modeling", AgentID: HackerAgent,
			Description: "STRIDE-style threat models for new features.",
			Keywords:    []string{"threat", "threat model", "risk", "attack"}},
		{ID: "sprint-planning", Name: "Sprint planning", AgentID: ProjectManager,
			Description: "Breaking work into sprints and milestones.",
			Keywords:    []string{"sprint", "plan", "milestone", "timeline", "estimate"}},
		{ID: "architecture-review", Name: "Architecture review", AgentID: ProjectManager,
			Description: "Reviewing designs and migration plans.",
			Keywords:    []string{"architecture", "design", "redesign", "migrate"}},
		{ID: "roadmapping", Name: "Roadmapping", AgentID: ProjectManager,
			Description: "Quarterly roadmaps and phased delivery.",
			Keywords:    []string{"roadmap", "strategy", "phase"}},
	}
}
