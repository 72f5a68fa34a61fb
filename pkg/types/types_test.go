package types

import "testing"

func TestQuoteValidateOffsets(t *testing.T) {
	content := "I've always wanted to visit Kyoto in the spring."
	start, end := 12, 36
	q := Quote{Text: content[start:end], Start: &start, End: &end}

	if !q.ValidateOffsets(content) {
		t.Fatalf("expected valid offsets")
	}

	badEnd := len(content) + 5
	bad := Quote{Text: "x", Start: &start, End: &badEnd}
	if bad.ValidateOffsets(content) {
		t.Fatalf("expected out-of-range end to fail validation")
	}

	inverted := Quote{Text: "x", Start: &end, End: &start}
	if inverted.ValidateOffsets(content) {
		t.Fatalf("expected start >= end to fail validation")
	}

	noOffsets := Quote{Text: "archived quote"}
	if !noOffsets.ValidateOffsets(content) {
		t.Fatalf("a quote with no offsets should always validate")
	}
	if noOffsets.HasOffsets() {
		t.Fatalf("expected HasOffsets false when Start/End are nil")
	}
}

func TestMessageFullyExtracted(t *testing.T) {
	m := Message{}
	if m.FullyExtracted() {
		t.Fatalf("zero-value message should not be fully extracted")
	}

	for _, cat := range []string{CategoryPerson, CategoryTopic, CategoryTrait, CategoryFact} {
		m.SetFlag(cat, true)
	}
	if !m.FullyExtracted() {
		t.Fatalf("expected all four flags set to mark fully extracted")
	}

	m.SetFlag(CategoryFact, false)
	if m.FullyExtracted() {
		t.Fatalf("clearing one flag should unset fully extracted")
	}
}

func TestPersonaIsPaused(t *testing.T) {
	now := int64(1_700_000_000_000)

	active := Persona{PauseUntil: PauseActive}
	if active.IsPaused(now) {
		t.Fatalf("PauseActive should never report paused")
	}

	indefinite := Persona{PauseUntil: PauseIndefinite}
	if !indefinite.IsPaused(now) {
		t.Fatalf("PauseIndefinite should always report paused")
	}

	future := Persona{PauseUntil: now + 1000}
	if !future.IsPaused(now) {
		t.Fatalf("pause expiry in the future should report paused")
	}

	past := Persona{PauseUntil: now - 1000}
	if past.IsPaused(now) {
		t.Fatalf("pause expiry in the past should report not paused")
	}
}

func TestPersonaVisibleGroups(t *testing.T) {
	p := Persona{GroupPrimary: GeneralGroup, GroupsVisible: []string{"work", "travel"}}
	groups := p.VisibleGroups()
	want := []string{GeneralGroup, "work", "travel"}
	if len(groups) != len(want) {
		t.Fatalf("got %v, want %v", groups, want)
	}
	for i := range want {
		if groups[i] != want[i] {
			t.Fatalf("got %v, want %v", groups, want)
		}
	}
}

func TestNewEiPersonaIsEi(t *testing.T) {
	ei := NewEiPersona()
	if !ei.IsEi() {
		t.Fatalf("NewEiPersona should report IsEi true")
	}
	if ei.ID != EiPersonaID {
		t.Fatalf("got ID %q, want %q", ei.ID, EiPersonaID)
	}
	if ei.PauseUntil != PauseActive {
		t.Fatalf("Ei should never start paused")
	}
}

func TestFactIsLocked(t *testing.T) {
	f := Fact{Validated: ValidatedNone}
	if f.IsLocked() {
		t.Fatalf("unvalidated fact should not be locked")
	}
	f.Validated = ValidatedEi
	if f.IsLocked() {
		t.Fatalf("ei-validated fact should not be locked")
	}
	f.Validated = ValidatedHuman
	if !f.IsLocked() {
		t.Fatalf("human-validated fact should be locked")
	}
}

func TestDesireGap(t *testing.T) {
	topic := Topic{LevelCurrent: 0.2, LevelIdeal: 0.8}
	if got := topic.DesireGap(); got != 0.6 {
		t.Fatalf("got %v, want 0.6", got)
	}

	person := Person{LevelCurrent: 0.9, LevelIdeal: 0.5}
	if got := person.DesireGap(); got != -0.4 {
		t.Fatalf("got %v, want -0.4", got)
	}
}

func TestLLMRequestCeremonyProgress(t *testing.T) {
	r := LLMRequest{Data: map[string]any{
		CeremonyProgressKey: []any{"exposure", "decay"},
	}}
	phases, ok := r.CeremonyProgress()
	if !ok {
		t.Fatalf("expected ceremony progress present")
	}
	if len(phases) != 2 || phases[0] != "exposure" || phases[1] != "decay" {
		t.Fatalf("got %v", phases)
	}

	empty := LLMRequest{}
	if _, ok := empty.CeremonyProgress(); ok {
		t.Fatalf("expected no ceremony progress on empty data")
	}
}

func TestQueueOrdering(t *testing.T) {
	older := LLMRequest{Priority: PriorityNormal, CreatedAt: 100}
	newer := LLMRequest{Priority: PriorityNormal, CreatedAt: 200}
	high := LLMRequest{Priority: PriorityHigh, CreatedAt: 300}
	low := LLMRequest{Priority: PriorityLow, CreatedAt: 50}

	if !Less(older, newer) {
		t.Fatalf("older normal-priority item should sort before newer at same priority")
	}
	if !Less(high, older) {
		t.Fatalf("high priority should sort before normal regardless of age")
	}
	if !Less(older, low) {
		t.Fatalf("normal priority should sort before low even when older")
	}
}

func TestNewStorageStateSeedsEi(t *testing.T) {
	s := NewStorageState()
	if s.Version != CurrentStorageVersion {
		t.Fatalf("got version %d, want %d", s.Version, CurrentStorageVersion)
	}
	rec, ok := s.Personas[EiPersonaID]
	if !ok {
		t.Fatalf("expected built-in Ei persona to be seeded")
	}
	if !rec.Entity.IsEi() {
		t.Fatalf("seeded persona should be Ei")
	}
}
