package engine

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/eicompanion/ei/internal/apperrors"
	"github.com/eicompanion/ei/pkg/types"
)

// personaEditDoc is the editable surface of a Persona: identity fields a
// human can hand-edit, not the learned Traits/Topics or runtime
// pause/heartbeat state that only the extraction pipeline and ceremony
// mutate.
type personaEditDoc struct {
	DisplayName      string   `yaml:"display_name"`
	Aliases          []string `yaml:"aliases,omitempty"`
	ShortDescription string   `yaml:"short_description"`
	LongDescription  string   `yaml:"long_description"`
	Model            string   `yaml:"model,omitempty"`
	GroupPrimary     string   `yaml:"group_primary"`
	GroupsVisible    []string `yaml:"groups_visible,omitempty"`
}

func personaToEditDoc(p types.Persona) personaEditDoc {
	return personaEditDoc{
		DisplayName:      p.DisplayName,
		Aliases:          p.Aliases,
		ShortDescription: p.ShortDescription,
		LongDescription:  p.LongDescription,
		Model:            p.Model,
		GroupPrimary:     p.GroupPrimary,
		GroupsVisible:    p.GroupsVisible,
	}
}

// ExportPersonaYAML returns the YAML document an external editor surface
// would open for editing (the "/details" contract): saving it back
// unchanged through ImportPersonaYAML must leave the persona
// bytewise-equivalent.
func (e *Engine) ExportPersonaYAML(personaID string) (string, error) {
	p, ok := e.sm.GetPersonaByID(personaID)
	if !ok {
		return "", personaNotFoundMessage(personaID)
	}
	out, err := yaml.Marshal(personaToEditDoc(p))
	if err != nil {
		return "", fmt.Errorf("engine: marshal persona edit doc: %w", err)
	}
	return string(out), nil
}

// ImportPersonaYAML parses yamlText, as produced (and possibly edited) by
// ExportPersonaYAML, and applies it to personaID. A document that fails to
// parse or has an empty display_name is rejected with
// apperrors.ErrEditYAMLInvalid and the persona is left untouched.
func (e *Engine) ImportPersonaYAML(personaID, yamlText string) error {
	var doc personaEditDoc
	if err := yaml.Unmarshal([]byte(yamlText), &doc); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrEditYAMLInvalid, err)
	}
	if strings.TrimSpace(doc.DisplayName) == "" {
		return fmt.Errorf("%w: display_name is required", apperrors.ErrEditYAMLInvalid)
	}

	displayName := doc.DisplayName
	shortDesc := doc.ShortDescription
	longDesc := doc.LongDescription
	model := doc.Model
	groupPrimary := doc.GroupPrimary
	return e.UpdatePersona(personaID, PersonaPatch{
		DisplayName:      &displayName,
		Aliases:          doc.Aliases,
		ShortDescription: &shortDesc,
		LongDescription:  &longDesc,
		Model:            &model,
		GroupPrimary:     &groupPrimary,
		GroupsVisible:    doc.GroupsVisible,
	})
}
