package domain

import "context"

// RegistrySource is the external store agents and skill files are loaded from.
// Implementations may be unavailable at any time; the registry falls back to
// its built-in set when they are.
type RegistrySource interface {
	ListAgents(ctx context.Context) ([]Agent, error)
	ListSkillFiles(ctx context.Context) ([]SkillFile, error)
	Name() string
}

// LoadStatus tags how a registry snapshot was obtained.
type LoadStatus string

const (
	LoadStatusLoaded   LoadStatus = "loaded"
	LoadStatusFallback LoadStatus = "fallback"
)
