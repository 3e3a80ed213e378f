package registrysource

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/kaptinlin/jsonschema"

	"github.com/Miles0sage/openclaw-assistant/internal/domain"
)

const (
	agentSchemaFile = "agent.schema.json"
	skillSchemaFile = "skill_file.schema.json"
)

//go:embed schemas/*.json
var builtinSchemas embed.FS

// Validator checks agent and skill-file records against JSON schemas.
type Validator struct {
	agent *jsonschema.Schema
	skill *jsonschema.Schema
}

// NewValidator compiles the built-in schemas. A non-empty overrideDir may
// hold replacements named agent.schema.json and skill_file.schema.json;
// missing files keep the built-in version.
func NewValidator(overrideDir string) (*Validator, error) {
	agent, err := compileSchema(overrideDir, agentSchemaFile)
	if err != nil {
		return nil, err
	}
	skill, err := compileSchema(overrideDir, skillSchemaFile)
	if err != nil {
		return nil, err
	}
	return &Validator{agent: agent, skill: skill}, nil
}

func compileSchema(overrideDir, name string) (*jsonschema.Schema, error) {
	var data []byte
	if overrideDir != "" {
		b, err := os.ReadFile(filepath.Join(overrideDir, name))
		switch {
		case err == nil:
			data = b
		case !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}
	}
	if data == nil {
		b, err := builtinSchemas.ReadFile("schemas/" + name)
		if err != nil {
			return nil, fmt.Errorf("read built-in schema %s: %w", name, err)
		}
		data = b
	}

	schema, err := jsonschema.NewCompiler().Compile(data)
	if err != nil {
		return nil, domain.NewDomainError("registrysource.NewValidator", domain.ErrConfiguration,
			fmt.Sprintf("invalid schema %s: %v", name, err))
	}
	return schema, nil
}

// ValidateAgent implements registry.Validator.
func (v *Validator) ValidateAgent(a domain.Agent) error {
	return validate(v.agent, "agent", a.ID, a)
}

// ValidateSkillFile implements registry.Validator.
func (v *Validator) ValidateSkillFile(s domain.SkillFile) error {
	return validate(v.skill, "skill", s.ID, s)
}

func validate(schema *jsonschema.Schema, kind, id string, record any) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return domain.NewDomainError("Validator.Validate", domain.ErrSchemaInvalid, err.Error())
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.NewDomainError("Validator.Validate", domain.ErrSchemaInvalid, err.Error())
	}
	result := schema.Validate(doc)
	if !result.IsValid() {
		return domain.NewDomainError("Validator.Validate", domain.ErrSchemaInvalid,
			fmt.Sprintf("%s %q: %s", kind, id, result.Error()))
	}
	return nil
}
