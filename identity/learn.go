package identity

import (
	"encoding/json"

	"condoreconcile/models"
)

func unmarshalSnapshot(raw json.RawMessage, out *models.PropertyMergeSnapshot) error {
	return json.Unmarshal(raw, out)
}

// LearnedEquivalences derives (layout, direction) equivalence classes from a
// building's PropertyMergeHistory: pairs that were previously merged are
// treated as the same property identity for future matching.
type LearnedEquivalences struct {
	// parent maps a "layout|direction" key to its equivalence-class
	// representative, union-find style but flattened at construction time
	// since merge chains are short in practice.
	parent map[string]string
}

// NewLearnedEquivalences builds the equivalence map from a building's merge
// history. Each PropertyMergeHistory row's MergeDetails snapshot carries the
// merged property's (layout, direction) and, in PrimaryLayout/
// PrimaryDirection, the surviving (direct-primary) property's key; the two
// keys are unioned into one class. Rows with an incomplete snapshot are
// skipped rather than erroring — learning is an advisory heuristic.
func NewLearnedEquivalences(history []*models.PropertyMergeHistory) *LearnedEquivalences {
	le := &LearnedEquivalences{parent: make(map[string]string)}
	for _, h := range history {
		var snap models.PropertyMergeSnapshot
		if h.MergeDetails == nil {
			continue
		}
		if err := unmarshalSnapshot(h.MergeDetails, &snap); err != nil {
			continue
		}
		if snap.Layout == nil || snap.Direction == nil || snap.PrimaryLayout == nil || snap.PrimaryDirection == nil {
			continue
		}
		mergedKey := key(NormalizeLayout(*snap.Layout), NormalizeDirection(*snap.Direction))
		primaryKey := key(NormalizeLayout(*snap.PrimaryLayout), NormalizeDirection(*snap.PrimaryDirection))
		le.union(mergedKey, primaryKey)
	}
	return le
}

func key(layout, direction string) string {
	return layout + "|" + direction
}

func (le *LearnedEquivalences) find(k string) string {
	root, ok := le.parent[k]
	if !ok {
		return k
	}
	if root == k {
		return k
	}
	return le.find(root)
}

func (le *LearnedEquivalences) union(a, b string) {
	ra, rb := le.find(a), le.find(b)
	if ra == rb {
		le.parent[ra] = ra
		return
	}
	le.parent[ra] = rb
}

// Collapse groups candidates whose (layout, direction) fall in the same
// equivalence class and returns one representative per class, preferring
// the first candidate encountered in each class. When no class has more
// than one member, candidates pass through unchanged.
func (le *LearnedEquivalences) Collapse(candidates []*models.MasterProperty) []*models.MasterProperty {
	seen := make(map[string]bool)
	out := make([]*models.MasterProperty, 0, len(candidates))
	for _, c := range candidates {
		layout, direction := "", ""
		if c.Layout != nil {
			layout = NormalizeLayout(*c.Layout)
		}
		if c.Direction != nil {
			direction = NormalizeDirection(*c.Direction)
		}
		k := le.find(key(layout, direction))
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, c)
	}
	return out
}
