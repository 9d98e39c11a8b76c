package judgment

import "fmt"

// VersionDiff describes what changed in the judgment layer between two
// versions, so a company can review a new training version before adopting it.
type VersionDiff struct {
	VersionA           string       `json:"version_a"`
	VersionB           string       `json:"version_b"`
	AddedPatterns      []Pattern    `json:"added_patterns"`
	RemovedPatterns    []Pattern    `json:"removed_patterns"`
	ChangedConstraints []Constraint `json:"changed_constraints"`
	Summary            string       `json:"summary"`
}

// DiffProfiles compares two profile versions by entry id. Patterns present
// only in b are added, only in a removed; constraints whose content differs
// between versions (or which are new in b) are reported as changed.
func DiffProfiles(a, b VersionRecord) VersionDiff {
	diff := VersionDiff{
		VersionA:           a.VersionHash,
		VersionB:           b.VersionHash,
		AddedPatterns:      []Pattern{},
		RemovedPatterns:    []Pattern{},
		ChangedConstraints: []Constraint{},
	}

	aPatterns := make(map[string]Pattern, len(a.Profile.Patterns))
	for _, p := range a.Profile.Patterns {
		aPatterns[p.ID] = p
	}
	bPatterns := make(map[string]Pattern, len(b.Profile.Patterns))
	for _, p := range b.Profile.Patterns {
		bPatterns[p.ID] = p
	}

	for _, p := range b.Profile.Patterns {
		if _, ok := aPatterns[p.ID]; !ok {
			diff.AddedPatterns = append(diff.AddedPatterns, p)
		}
	}
	for _, p := range a.Profile.Patterns {
		if _, ok := bPatterns[p.ID]; !ok {
			diff.RemovedPatterns = append(diff.RemovedPatterns, p)
		}
	}

	aConstraints := make(map[string]Constraint, len(a.Profile.Constraints))
	for _, c := range a.Profile.Constraints {
		aConstraints[c.ID] = c
	}
	for _, c := range b.Profile.Constraints {
		prev, ok := aConstraints[c.ID]
		if !ok || prev != c {
			diff.ChangedConstraints = append(diff.ChangedConstraints, c)
		}
	}

	diff.Summary = fmt.Sprintf(
		"%d patterns added, %d removed, %d constraints changed between %s and %s.",
		len(diff.AddedPatterns), len(diff.RemovedPatterns), len(diff.ChangedConstraints),
		a.VersionHash, b.VersionHash,
	)

	return diff
}
