// Package identity implements the Name Normalizer (C1) and the Identity
// Resolver (C2): the rules that turn a scraped building name into a stable
// search/display key, and a RawListing into a (Building, MasterProperty)
// attachment.
package identity

import (
	"regexp"
	"strings"
)

// branchSuffixes is the trailing building-wing marker set stripped by
// Canonicalize.
var branchSuffixes = []string{
	"EAST", "WEST", "NORTH", "SOUTH",
	"E棟", "W棟", "N棟", "S棟",
	"東棟", "西棟", "南棟", "北棟", "棟",
}

// canonicalSymbols is the symbol set stripped by Canonicalize, in addition
// to whitespace.
var canonicalSymbols = []string{"・", "·", "〜", "～", "—", "–", "−", "ー", "-", "/", "／", ","}

var multiSpace = regexp.MustCompile(`\s+`)

// Normalize produces the display/equality form: full-width ASCII digits and
// letters folded to half-width, hiragana folded to katakana, case-folded to
// uppercase, internal whitespace runs collapsed to a single space, trimmed.
func Normalize(name string) string {
	if name == "" {
		return ""
	}
	s := hiraganaToKatakana(name)
	s = foldWidth(s)
	s = strings.ToUpper(s)
	s = multiSpace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Canonicalize produces the search key: Normalize, then strip all
// whitespace and the symbol set, then strip a trailing branch suffix.
func Canonicalize(name string) string {
	s := Normalize(name)
	s = strings.ReplaceAll(s, " ", "")
	for _, sym := range canonicalSymbols {
		s = strings.ReplaceAll(s, sym, "")
	}
	for _, suffix := range branchSuffixes {
		if strings.HasSuffix(s, suffix) && len(s) > len(suffix) {
			s = strings.TrimSuffix(s, suffix)
			break
		}
	}
	return s
}

var (
	bracketExclaim = regexp.MustCompile(`≪.+≫|【.+】`)
	stationWalkTime = regexp.MustCompile(`徒歩\d+分|駅近|駅徒歩`)
	priceInText = regexp.MustCompile(`\d+(万円|億円)`)
	layoutOnlyName = regexp.MustCompile(`^\d+(LDK|SLDK|DK|K|R)$`)
	buildingAge = regexp.MustCompile(`築\d+年|新築|築浅`)
)

// IsAdvertisingText reports whether s looks like ad copy rather than a real
// building name: bracketed exclamations, station/walk-time patterns,
// price mentions, a bare layout code, building-age phrases, or shorter than
// 3 runes. Names flagged here are admissible at the listing level but must
// never become a building's primary name, and their majority-vote weight is
// multiplied by 0.1.
func IsAdvertisingText(s string) bool {
	if s == "" {
		return true
	}
	trimmed := strings.TrimSpace(s)
	if len([]rune(trimmed)) < 3 {
		return true
	}
	normalized := Normalize(trimmed)
	switch {
	case bracketExclaim.MatchString(trimmed):
		return true
	case stationWalkTime.MatchString(trimmed):
		return true
	case priceInText.MatchString(trimmed):
		return true
	case layoutOnlyName.MatchString(normalized):
		return true
	case buildingAge.MatchString(trimmed):
		return true
	}
	return false
}

// hiraganaToKatakana folds U+3040-U+309F to U+30A0-U+30FF (codepoint +0x60),
// the same range shift search_normalizer.py's per-character loop performs.
func hiraganaToKatakana(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= 0x3040 && r <= 0x309f {
			b.WriteRune(r + 0x60)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// foldWidth folds full-width ASCII letters/digits/space to half-width, and
// full-width punctuation used in building names to a canonical form.
func foldWidth(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
			case r >= 0xFF21 && r <= 0xFF3A: // full-width A-Z
			b.WriteRune(r - 0xFF21 + 'A')
			case r >= 0xFF41 && r <= 0xFF5A: // full-width a-z
			b.WriteRune(r - 0xFF41 + 'a')
			case r >= 0xFF10 && r <= 0xFF19: // full-width 0-9
			b.WriteRune(r - 0xFF10 + '0')
			case r == 0x3000: // full-width space
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
