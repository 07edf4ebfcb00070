package identity

import "strings"

// SearchPatternSet is a typed set of OR-joined search patterns generated
// from a user query, avoiding ad hoc string concatenation when building the
// ILIKE clause.
type SearchPatternSet struct {
	Patterns []string
}

// Columns SearchPatternSet is tested against.
var SearchColumns = []string{"normalized_name", "canonical_name", "building_listing_name.canonical_name"}

// ExpandSearchPatterns produces the query-variant family the original
// search_normalizer.py generates: Normalize, Canonicalize, a
// nakaguro-stripped variant, a whitespace-stripped variant, a full-width
// uppercase variant, and a hyphen-normalized variant. Duplicates are
// dropped while preserving first-seen order.
func ExpandSearchPatterns(query string) SearchPatternSet {
	query = strings.TrimSpace(query)
	if query == "" {
		return SearchPatternSet{}
	}

	candidates := []string{
		Normalize(query),
		Canonicalize(query),
		stripNakaguro(Normalize(query)),
		strings.ReplaceAll(Normalize(query), " ", ""),
		toFullWidthUpper(query),
		normalizeHyphens(Normalize(query)),
	}

	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return SearchPatternSet{Patterns: out}
}

func stripNakaguro(s string) string {
	return strings.NewReplacer("・", "", "·", "").Replace(s)
}

// normalizeHyphens collapses the family of dash-like runes to a single
// ASCII hyphen, so "ー", "−", "–", "—" all compare equal.
func normalizeHyphens(s string) string {
	r := strings.NewReplacer("ー", "-", "−", "-", "–", "-", "—", "-", "〜", "-", "～", "-")
	return r.Replace(s)
}

// toFullWidthUpper is the inverse of foldWidth: folds half-width ASCII
// letters/digits back to full-width, for matching names that were entered
// in full-width form by a different source site.
func toFullWidthUpper(s string) string {
	s = strings.ToUpper(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r - 'A' + 0xFF21)
		case r >= '0' && r <= '9':
			b.WriteRune(r - '0' + 0xFF10)
		case r == ' ':
			b.WriteRune(0x3000)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
