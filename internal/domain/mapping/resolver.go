package mapping

import "context"

// Resolver is one stage of the resolution pipeline. Resolvers receive the
// already-normalized term and return zero or more candidates; an empty
// slice means the stage has nothing to offer and the pipeline moves on.
type Resolver interface {
	Name() string
	Resolve(ctx context.Context, normalizedTerm string) ([]Candidate, error)
}

// ExactResolver looks the term up in the current mapping snapshot. An exact
// hit is authoritative: confidence 1.0, and the pipeline stops.
type ExactResolver struct {
	snapshots *SnapshotStore
}

func NewExactResolver(snapshots *SnapshotStore) *ExactResolver {
	return &ExactResolver{snapshots: snapshots}
}

func (r *ExactResolver) Name() string { return StageExact }

func (r *ExactResolver) Resolve(ctx context.Context, normalizedTerm string) ([]Candidate, error) {
	entry, ok := r.snapshots.Current().Lookup(normalizedTerm)
	if !ok {
		return nil, nil
	}
	return []Candidate{{
		ICDCode:      entry.ICDCode,
		ICDTitle:     entry.ICDTitle,
		LexicalScore: 1.0,
		Confidence:   1.0,
		Stage:        StageExact,
	}}, nil
}

// RuleResolver applies the keyword heuristics.
type RuleResolver struct {
	rules *RuleSet
}

func NewRuleResolver(rules *RuleSet) *RuleResolver {
	return &RuleResolver{rules: rules}
}

func (r *RuleResolver) Name() string { return StageRule }

func (r *RuleResolver) Resolve(ctx context.Context, normalizedTerm string) ([]Candidate, error) {
	return r.rules.Match(normalizedTerm), nil
}
