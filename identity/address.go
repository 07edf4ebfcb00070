package identity

import (
	"regexp"
	"strings"
)

// chomeSuffix matches a trailing chō-me (city-block number) token: digits
// followed by 丁目, optionally followed by banchi/gō digits and punctuation.
// e.g. "港区白金台5丁目18-1" -> the match starts at "5丁目", leaving "港区白金台".
var chomeSuffix = regexp.MustCompile(`\d+丁目.*$`)

var fullWidthDigits = strings.NewReplacer(
	"0", "0", "１", "1", "２", "2", "３", "3", "４", "4",
	"５", "5", "６", "6", "７", "7", "８", "8", "９", "9", "０", "0",
)

// NormalizeAddress folds full-width digits to half-width and collapses
// whitespace, for majority-vote bucketing of the address attribute.
func NormalizeAddress(addr string) string {
	s := foldWidth(strings.TrimSpace(addr))
	s = multiSpace.ReplaceAllString(s, " ")
	return s
}

// AddressPrefix returns the address up to (and not including) the chō-me
// boundary, used both to match a building candidate and as the
// stored normalized_address prefix-matching key. Addresses without a
// chō-me token are returned unchanged (already a prefix).
func AddressPrefix(addr string) string {
	norm := NormalizeAddress(addr)
	loc := chomeSuffix.FindStringIndex(norm)
	if loc == nil {
		return norm
	}
	return strings.TrimSpace(norm[:loc[0]])
}
