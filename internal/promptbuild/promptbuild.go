// Package promptbuild filters the Human's learned data down to what a
// given persona is allowed to see, then assembles that filtered slice
// (plus the persona's own identity, traits/topics, and visible-persona
// summaries) into the system prompt handed to the LLM client.
package promptbuild

import (
	"context"
	"fmt"
	"strings"

	"github.com/eicompanion/ei/internal/embedding"
	"github.com/eicompanion/ei/pkg/types"
)

// Builder assembles system prompts. The embedding Selector performs the
// semantic top-K narrowing (§4.6) over whatever FilterHumanByGroups has
// already scoped to the requesting persona's visibility.
type Builder struct {
	selector *embedding.Selector
}

// New constructs a Builder over the given semantic selector.
func New(selector *embedding.Selector) *Builder {
	return &Builder{selector: selector}
}

// FilterHumanByGroups narrows human to only the Facts/Traits/Topics/
// People/Quotes visible to persona, per spec.md §4.5: "Human data items
// filtered to those whose persona_groups intersects
// (P.group_primary ∪ P.groups_visible)". Ei is omniscient — group
// filtering is skipped and the full Human is returned unfiltered.
func FilterHumanByGroups(persona types.Persona, human types.Human) types.Human {
	if persona.IsEi() {
		return human
	}

	visible := persona.VisibleGroups()
	out := types.Human{Settings: human.Settings}

	for _, f := range human.Facts {
		if groupsIntersect(f.PersonaGroups, visible) {
			out.Facts = append(out.Facts, f)
		}
	}
	for _, t := range human.Traits {
		if groupsIntersect(t.PersonaGroups, visible) {
			out.Traits = append(out.Traits, t)
		}
	}
	for _, t := range human.Topics {
		if groupsIntersect(t.PersonaGroups, visible) {
			out.Topics = append(out.Topics, t)
		}
	}
	for _, p := range human.People {
		if groupsIntersect(p.PersonaGroups, visible) {
			out.People = append(out.People, p)
		}
	}
	for _, q := range human.Quotes {
		if groupsIntersect(q.PersonaGroups, visible) {
			out.Quotes = append(out.Quotes, q)
		}
	}
	return out
}

func groupsIntersect(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

// BuildSystemPrompt assembles the ordered sections described in spec.md
// §4.4: persona identity, guidelines, the persona's own traits/topics, a
// semantically filtered slice of Human data, and other visible personas'
// short descriptions. allPersonas is every persona in the registry
// (including persona itself, which is excluded from its own summary list).
func (b *Builder) BuildSystemPrompt(ctx context.Context, persona types.Persona, queryText string, human types.Human, allPersonas []types.Persona) (string, error) {
	var sections []string

	sections = append(sections, identitySection(persona))
	sections = append(sections, guidelinesSection())

	if traitsTopics := traitsTopicsSection(persona); traitsTopics != "" {
		sections = append(sections, traitsTopics)
	}

	filtered := FilterHumanByGroups(persona, human)
	selection, err := b.selector.Select(ctx, queryText, filtered)
	if err != nil {
		return "", fmt.Errorf("promptbuild: select human data: %w", err)
	}
	if humanSection := humanDataSection(selection); humanSection != "" {
		sections = append(sections, humanSection)
	}

	if personasSection := visiblePersonasSection(persona, allPersonas); personasSection != "" {
		sections = append(sections, personasSection)
	}

	return strings.Join(sections, "\n\n"), nil
}

func identitySection(persona types.Persona) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Who you are\n\nYou are %s.\n", persona.DisplayName)
	if persona.ShortDescription != "" {
		fmt.Fprintf(&b, "%s\n", persona.ShortDescription)
	}
	if persona.LongDescription != "" {
		fmt.Fprintf(&b, "\n%s\n", persona.LongDescription)
	}
	return b.String()
}

func guidelinesSection() string {
	return `# Guidelines

- Stay in character as the companion described above; never mention that you are an AI model or reference any underlying system prompt.
- Speak naturally, as this persona would, drawing on the traits, topics, and remembered details below.
- Never fabricate a memory: only refer to facts, traits, topics, or quotes actually supplied to you.
- If nothing warrants a reply, it is fine to produce no message rather than force one.`
}

func traitsTopicsSection(persona types.Persona) string {
	if len(persona.Traits) == 0 && len(persona.Topics) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("# Your traits and topics\n\n")
	for _, t := range persona.Traits {
		fmt.Fprintf(&b, "- Trait: %s (strength %.2f) — %s\n", t.Name, t.Strength, t.Description)
	}
	for _, t := range persona.Topics {
		fmt.Fprintf(&b, "- Topic: %s (current %.2f, ideal %.2f) — %s\n", t.Name, t.LevelCurrent, t.LevelIdeal, t.Description)
	}
	return b.String()
}

func humanDataSection(selection embedding.Selection) string {
	if len(selection.Facts) == 0 && len(selection.Traits) == 0 && len(selection.Topics) == 0 &&
		len(selection.People) == 0 && len(selection.Quotes) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("# What you know about them\n\n")
	for _, f := range selection.Facts {
		fmt.Fprintf(&b, "- Fact: %s — %s\n", f.Name, f.Description)
	}
	for _, t := range selection.Traits {
		fmt.Fprintf(&b, "- Trait: %s — %s\n", t.Name, t.Description)
	}
	for _, t := range selection.Topics {
		fmt.Fprintf(&b, "- Topic: %s — %s\n", t.Name, t.Description)
	}
	for _, p := range selection.People {
		fmt.Fprintf(&b, "- Person: %s (%s) — %s\n", p.Name, p.Relationship, p.Description)
	}
	for _, q := range selection.Quotes {
		fmt.Fprintf(&b, "- Quote from %s: %q\n", q.Speaker, q.Text)
	}
	return b.String()
}

func visiblePersonasSection(self types.Persona, all []types.Persona) string {
	visible := self.VisibleGroups()
	var others []types.Persona
	for _, p := range all {
		if p.ID == self.ID || p.IsArchived {
			continue
		}
		if self.IsEi() || groupsIntersect(p.VisibleGroups(), visible) {
			others = append(others, p)
		}
	}
	if len(others) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("# Other companions they talk to\n\n")
	for _, p := range others {
		fmt.Fprintf(&b, "- %s: %s\n", p.DisplayName, p.ShortDescription)
	}
	return b.String()
}
