package engine

import (
	"errors"
	"testing"

	"github.com/eicompanion/ei/internal/apperrors"
)

func TestPersonaYAMLRoundTripUnchangedIsNoop(t *testing.T) {
	e := newTestEngine(t)
	p, err := e.CreatePersona(PersonaInput{
		DisplayName:      "Sage",
		ShortDescription: "A calm advisor",
		LongDescription:  "Speaks slowly and asks clarifying questions.",
		GroupPrimary:     "general",
	})
	if err != nil {
		t.Fatalf("CreatePersona: %v", err)
	}

	before, err := e.ExportPersonaYAML(p.ID)
	if err != nil {
		t.Fatalf("ExportPersonaYAML: %v", err)
	}

	if err := e.ImportPersonaYAML(p.ID, before); err != nil {
		t.Fatalf("ImportPersonaYAML: %v", err)
	}

	after, err := e.ExportPersonaYAML(p.ID)
	if err != nil {
		t.Fatalf("ExportPersonaYAML (after): %v", err)
	}

	if before != after {
		t.Fatalf("expected bytewise-equivalent YAML after a no-op edit\nbefore:\n%s\nafter:\n%s", before, after)
	}
}

func TestPersonaYAMLImportAppliesEdits(t *testing.T) {
	e := newTestEngine(t)
	p, err := e.CreatePersona(PersonaInput{DisplayName: "Sage"})
	if err != nil {
		t.Fatalf("CreatePersona: %v", err)
	}

	edited := "display_name: Sage the Wise\nshort_description: Now wiser\nlong_description: \"\"\ngroup_primary: general\n"
	if err := e.ImportPersonaYAML(p.ID, edited); err != nil {
		t.Fatalf("ImportPersonaYAML: %v", err)
	}

	got, ok := e.GetPersonaByID(p.ID)
	if !ok {
		t.Fatalf("persona disappeared after edit")
	}
	if got.DisplayName != "Sage the Wise" || got.ShortDescription != "Now wiser" {
		t.Fatalf("edit did not apply: %+v", got)
	}
}

func TestPersonaYAMLImportRejectsInvalidDocument(t *testing.T) {
	e := newTestEngine(t)
	p, err := e.CreatePersona(PersonaInput{DisplayName: "Sage"})
	if err != nil {
		t.Fatalf("CreatePersona: %v", err)
	}

	if err := e.ImportPersonaYAML(p.ID, "not: [valid yaml"); !errors.Is(err, apperrors.ErrEditYAMLInvalid) {
		t.Fatalf("expected ErrEditYAMLInvalid for malformed YAML, got %v", err)
	}

	if err := e.ImportPersonaYAML(p.ID, "display_name: \"\"\n"); !errors.Is(err, apperrors.ErrEditYAMLInvalid) {
		t.Fatalf("expected ErrEditYAMLInvalid for empty display_name, got %v", err)
	}

	got, ok := e.GetPersonaByID(p.ID)
	if !ok || got.DisplayName != "Sage" {
		t.Fatalf("persona must be untouched after a rejected edit, got %+v", got)
	}
}
