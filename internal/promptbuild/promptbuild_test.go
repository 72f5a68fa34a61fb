package promptbuild

import (
	"context"
	"strings"
	"testing"

	"github.com/eicompanion/ei/internal/embedding"
	"github.com/eicompanion/ei/pkg/types"
)

func TestFilterHumanByGroupsScoped(t *testing.T) {
	persona := types.Persona{ID: "p1", GroupPrimary: "family"}
	human := types.Human{
		Facts: []types.Fact{
			{Base: types.Base{ID: "f1", Name: "visible", PersonaGroups: []string{"family"}}},
			{Base: types.Base{ID: "f2", Name: "hidden", PersonaGroups: []string{"work"}}},
		},
	}

	got := FilterHumanByGroups(persona, human)
	if len(got.Facts) != 1 || got.Facts[0].ID != "f1" {
		t.Fatalf("expected only the family-group fact, got %+v", got.Facts)
	}
}

func TestFilterHumanByGroupsOmniscientForEi(t *testing.T) {
	ei := *types.NewEiPersona()
	human := types.Human{
		Facts: []types.Fact{{Base: types.Base{ID: "f1", Name: "anything", PersonaGroups: []string{"work"}}}},
	}

	got := FilterHumanByGroups(ei, human)
	if len(got.Facts) != 1 {
		t.Fatalf("expected Ei to see all facts regardless of group, got %+v", got.Facts)
	}
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

type fakeCache struct{}

func (fakeCache) Vector(ctx context.Context, itemID string) ([]float32, bool) {
	return []float32{1, 0}, true
}

func TestBuildSystemPromptIncludesIdentityAndTraits(t *testing.T) {
	selector := embedding.NewSelector(fakeEmbedder{}, fakeCache{})
	builder := New(selector)

	persona := types.Persona{
		ID:               "p1",
		DisplayName:      "Sage",
		ShortDescription: "A calm, thoughtful companion.",
		GroupPrimary:     types.GeneralGroup,
		Traits:           []types.Trait{{Base: types.Base{Name: "patient"}, Strength: 0.8}},
	}
	human := types.Human{
		Facts: []types.Fact{{Base: types.Base{ID: "f1", Name: "birthday", Description: "March 3rd", PersonaGroups: []string{types.GeneralGroup}}}},
	}

	prompt, err := builder.BuildSystemPrompt(context.Background(), persona, "when is my birthday", human, nil)
	if err != nil {
		t.Fatalf("BuildSystemPrompt: %v", err)
	}
	if !strings.Contains(prompt, "Sage") {
		t.Fatalf("expected prompt to mention persona name, got: %s", prompt)
	}
	if !strings.Contains(prompt, "patient") {
		t.Fatalf("expected prompt to include persona trait, got: %s", prompt)
	}
	if !strings.Contains(prompt, "birthday") {
		t.Fatalf("expected prompt to include selected human fact, got: %s", prompt)
	}
}

func TestVisiblePersonasSectionExcludesSelfAndArchived(t *testing.T) {
	self := types.Persona{ID: "p1", DisplayName: "Sage", GroupPrimary: types.GeneralGroup}
	other := types.Persona{ID: "p2", DisplayName: "Rook", ShortDescription: "A sharp strategist.", GroupPrimary: types.GeneralGroup}
	archived := types.Persona{ID: "p3", DisplayName: "Gone", GroupPrimary: types.GeneralGroup, IsArchived: true}

	section := visiblePersonasSection(self, []types.Persona{self, other, archived})
	if !strings.Contains(section, "Rook") {
		t.Fatalf("expected Rook to be listed, got: %s", section)
	}
	if strings.Contains(section, "Sage") {
		t.Fatalf("self should not appear in its own visible-persona list, got: %s", section)
	}
	if strings.Contains(section, "Gone") {
		t.Fatalf("archived personas should be excluded, got: %s", section)
	}
}
