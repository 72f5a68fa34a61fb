package embedding

import (
	"context"
	"sort"

	"github.com/eicompanion/ei/pkg/types"
)

// Default per-category K values for context assembly (spec.md §4.6).
const (
	DefaultFactK  = 5
	DefaultTraitK = 5
	DefaultTopicK = 8
	DefaultPersonK = 5
	DefaultQuoteK = 5
)

// DesireGapBlendCount is how many additional high-desire-gap topics/people
// are blended into the selection regardless of semantic score, so
// under-discussed subjects stay reachable even when the current message
// doesn't happen to be about them.
const DesireGapBlendCount = 2

// VectorCache resolves the cached embedding vector for a DataItem, keyed
// by item id. Computing and persisting vectors is the caller's concern;
// this package only consumes them.
type VectorCache interface {
	Vector(ctx context.Context, itemID string) ([]float32, bool)
}

// Selection is the result of one context-assembly pass: the DataItems
// selected for each category.
type Selection struct {
	Facts  []types.Fact
	Traits []types.Trait
	Topics []types.Topic
	People []types.Person
	Quotes []types.Quote
}

// Selector assembles a Selection from a query vector and the Human's full
// data set, restricted to the categories visible to the requesting
// persona (callers filter by persona_groups before calling Select).
type Selector struct {
	embedder Embedder
	cache    VectorCache
}

// NewSelector builds a Selector over the given embedder and vector cache.
func NewSelector(embedder Embedder, cache VectorCache) *Selector {
	return &Selector{embedder: embedder, cache: cache}
}

// Select embeds queryText and returns the top-K blend for each category.
// Human-validated facts are always included (up to FactK), ahead of
// semantic ranking, per spec.md §4.5's "facts that are human-validated are
// always included up to a limit".
func (s *Selector) Select(ctx context.Context, queryText string, human types.Human) (Selection, error) {
	query, err := s.embedder.Embed(ctx, queryText)
	if err != nil {
		return Selection{}, err
	}

	facts, err := s.selectFacts(ctx, query, human.Facts)
	if err != nil {
		return Selection{}, err
	}
	traits, err := selectGeneric(s, ctx, query, human.Traits, func(t types.Trait) string { return t.ID }, DefaultTraitK)
	if err != nil {
		return Selection{}, err
	}
	topics, err := s.selectWithDesireGap(ctx, query, human.Topics, DefaultTopicK)
	if err != nil {
		return Selection{}, err
	}
	people, err := s.selectWithDesireGapPeople(ctx, query, human.People, DefaultPersonK)
	if err != nil {
		return Selection{}, err
	}
	quotes, err := selectGeneric(s, ctx, query, human.Quotes, func(q types.Quote) string { return q.ID }, DefaultQuoteK)
	if err != nil {
		return Selection{}, err
	}

	return Selection{
		Facts:  facts,
		Traits: traits,
		Topics: topics,
		People: people,
		Quotes: quotes,
	}, nil
}

func (s *Selector) vectorOf(ctx context.Context, id string) []float32 {
	v, ok := s.cache.Vector(ctx, id)
	if !ok {
		return nil
	}
	return v
}

func (s *Selector) selectFacts(ctx context.Context, query []float32, facts []types.Fact) ([]types.Fact, error) {
	var locked, rest []types.Fact
	for _, f := range facts {
		if f.Validated == types.ValidatedHuman {
			locked = append(locked, f)
		} else {
			rest = append(rest, f)
		}
	}

	out := make([]types.Fact, 0, DefaultFactK)
	for _, f := range locked {
		if len(out) >= DefaultFactK {
			break
		}
		out = append(out, f)
	}
	if len(out) >= DefaultFactK {
		return out, nil
	}

	remaining := DefaultFactK - len(out)
	top, err := FindTopK(ctx, query, rest, func(f types.Fact) []float32 { return s.vectorOf(ctx, f.ID) }, remaining, DefaultMinSimilarity)
	if err != nil {
		return nil, err
	}
	for _, t := range top {
		out = append(out, t.Item)
	}
	return out, nil
}

// selectGeneric is a standalone generic function, not a method: Go methods
// cannot carry their own type parameters beyond the receiver's.
func selectGeneric[T any](s *Selector, ctx context.Context, query []float32, items []T, idOf func(T) string, k int) ([]T, error) {
	top, err := FindTopK(ctx, query, items, func(it T) []float32 { return s.vectorOf(ctx, idOf(it)) }, k, DefaultMinSimilarity)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(top))
	for _, t := range top {
		out = append(out, t.Item)
	}
	return out, nil
}

func (s *Selector) selectWithDesireGap(ctx context.Context, query []float32, topics []types.Topic, k int) ([]types.Topic, error) {
	semantic, err := selectGeneric(s, ctx, query, topics, func(t types.Topic) string { return t.ID }, k)
	if err != nil {
		return nil, err
	}
	picked := make(map[string]bool, len(semantic))
	for _, t := range semantic {
		picked[t.ID] = true
	}

	gapped := highDesireGapTopics(topics, picked)
	out := append([]types.Topic(nil), semantic...)
	for i := 0; i < DesireGapBlendCount && i < len(gapped); i++ {
		out = append(out, gapped[i])
	}
	return out, nil
}

func highDesireGapTopics(topics []types.Topic, exclude map[string]bool) []types.Topic {
	var candidates []types.Topic
	for _, t := range topics {
		if exclude[t.ID] {
			continue
		}
		if t.DesireGap() > 0.3 && t.Sentiment > -0.5 {
			candidates = append(candidates, t)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].DesireGap() > candidates[j].DesireGap()
	})
	return candidates
}

func (s *Selector) selectWithDesireGapPeople(ctx context.Context, query []float32, people []types.Person, k int) ([]types.Person, error) {
	semantic, err := selectGeneric(s, ctx, query, people, func(p types.Person) string { return p.ID }, k)
	if err != nil {
		return nil, err
	}
	picked := make(map[string]bool, len(semantic))
	for _, p := range semantic {
		picked[p.ID] = true
	}

	var candidates []types.Person
	for _, p := range people {
		if picked[p.ID] {
			continue
		}
		if p.DesireGap() > 0.3 && p.Sentiment > -0.5 {
			candidates = append(candidates, p)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].DesireGap() > candidates[j].DesireGap()
	})

	out := append([]types.Person(nil), semantic...)
	for i := 0; i < DesireGapBlendCount && i < len(candidates); i++ {
		out = append(out, candidates[i])
	}
	return out, nil
}
