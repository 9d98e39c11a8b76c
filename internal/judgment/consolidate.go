package judgment

import "strings"

// ContradictionDetector inspects a merged profile for patterns whose
// guidance conflicts with a hard constraint. Findings are advisory; the
// engine surfaces them alongside the merge result and never acts on them.
//
// The built-in detector emits no findings. It exists so a semantic
// implementation can be substituted without changing any caller.
type ContradictionDetector interface {
	FindContradictions(patterns []Pattern, constraints []Constraint) []ContradictionFlag
}

// NoopDetector is the reference ContradictionDetector: it always returns
// an empty set of findings.
type NoopDetector struct{}

// FindContradictions implements ContradictionDetector.
func (NoopDetector) FindContradictions([]Pattern, []Constraint) []ContradictionFlag {
	return []ContradictionFlag{}
}

// ConsolidationResult is the output of a single consolidation pass.
type ConsolidationResult struct {
	Profile        Profile
	ReviewRequired []ContradictionFlag
}

// Engine merges draft judgment fragments into an existing profile.
// Consolidate is a pure function over its inputs; persistence belongs to
// the caller.
type Engine struct {
	detector ContradictionDetector
}

// NewEngine creates a consolidation engine. A nil detector defaults to
// NoopDetector.
func NewEngine(detector ContradictionDetector) *Engine {
	if detector == nil {
		detector = NoopDetector{}
	}
	return &Engine{detector: detector}
}

// Consolidate merges a draft fragment into an existing profile and returns
// the merged profile together with any contradiction flags for human review.
//
// When existing is nil (an untrained agent), the result is the draft
// verbatim; a draft without a confidence map gets the default three-range
// map. Otherwise:
//
//   - Patterns matching an existing pattern by case-folded name are
//     deepened in place: the draft description is appended and confidence
//     is raised by 0.1, capped at 1.0. Non-matching patterns are appended.
//   - Constraints are de-duplicated by case-folded rule text, triggers by
//     case-folded description; non-matching drafts are appended verbatim.
//   - A draft confidence map fully replaces the existing one; an absent
//     draft map leaves the existing map untouched.
//
// Matching is by normalized text, never by id. As the sole id-based
// fallback, a non-matching draft entry whose id is already present in the
// profile is skipped rather than appended: re-running extraction on the
// same transcript reproduces the same content-derived ids, so the skip
// keeps re-ingestion from duplicating entries while preserving id
// uniqueness. Such entries are never deepened.
//
// The existing profile is never mutated; deepened patterns are copies.
func (e *Engine) Consolidate(existing *Profile, draft Fragment) ConsolidationResult {
	var merged Profile

	if existing == nil {
		merged = Profile{
			Patterns:      append([]Pattern(nil), draft.Patterns...),
			Constraints:   append([]Constraint(nil), draft.Constraints...),
			Triggers:      append([]Trigger(nil), draft.Triggers...),
			ConfidenceMap: append([]ConfidenceRange(nil), draft.ConfidenceMap...),
		}
		if len(merged.ConfidenceMap) == 0 {
			merged.ConfidenceMap = DefaultConfidenceMap()
		}
	} else {
		merged = Profile{
			Patterns:    mergePatterns(existing.Patterns, draft.Patterns),
			Constraints: mergeConstraints(existing.Constraints, draft.Constraints),
			Triggers:    mergeTriggers(existing.Triggers, draft.Triggers),
		}
		if len(draft.ConfidenceMap) > 0 {
			merged.ConfidenceMap = append([]ConfidenceRange(nil), draft.ConfidenceMap...)
		} else {
			merged.ConfidenceMap = append([]ConfidenceRange(nil), existing.ConfidenceMap...)
		}
	}

	merged.SourceTranscriptHash = draft.SourceContentHash

	flags := e.detector.FindContradictions(merged.Patterns, merged.Constraints)
	if flags == nil {
		flags = []ContradictionFlag{}
	}

	return ConsolidationResult{Profile: merged, ReviewRequired: flags}
}

// mergePatterns deepens name matches and appends the rest.
func mergePatterns(existing, draft []Pattern) []Pattern {
	merged := append([]Pattern(nil), existing...)

	byName := make(map[string]int, len(merged))
	ids := make(map[string]bool, len(merged))
	for i, p := range merged {
		byName[strings.ToLower(p.Name)] = i
		ids[p.ID] = true
	}

	for _, p := range draft {
		if idx, ok := byName[strings.ToLower(p.Name)]; ok {
			merged[idx].Description += "\nDeepened: " + p.Description
			merged[idx].Confidence = min(1.0, merged[idx].Confidence+0.1)
			continue
		}
		if ids[p.ID] {
			// Same id, different name: re-extraction of known content.
			continue
		}
		merged = append(merged, p)
		byName[strings.ToLower(p.Name)] = len(merged) - 1
		ids[p.ID] = true
	}

	return merged
}

// mergeConstraints de-duplicates by case-folded rule text.
func mergeConstraints(existing, draft []Constraint) []Constraint {
	merged := append([]Constraint(nil), existing...)

	rules := make(map[string]bool, len(merged))
	ids := make(map[string]bool, len(merged))
	for _, c := range merged {
		rules[strings.ToLower(c.Rule)] = true
		ids[c.ID] = true
	}

	for _, c := range draft {
		if rules[strings.ToLower(c.Rule)] || ids[c.ID] {
			continue
		}
		merged = append(merged, c)
		rules[strings.ToLower(c.Rule)] = true
		ids[c.ID] = true
	}

	return merged
}

// mergeTriggers de-duplicates by case-folded description text.
func mergeTriggers(existing, draft []Trigger) []Trigger {
	merged := append([]Trigger(nil), existing...)

	descs := make(map[string]bool, len(merged))
	ids := make(map[string]bool, len(merged))
	for _, t := range merged {
		descs[strings.ToLower(t.Description)] = true
		ids[t.ID] = true
	}

	for _, t := range draft {
		if descs[strings.ToLower(t.Description)] || ids[t.ID] {
			continue
		}
		merged = append(merged, t)
		descs[strings.ToLower(t.Description)] = true
		ids[t.ID] = true
	}

	return merged
}
