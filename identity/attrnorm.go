package identity

import "strings"

// layoutEquivalents collapses layout spellings that denote the same plan.
var layoutEquivalents = strings.NewReplacer(
	"+", "",
	"Ｓ", "S",
	"Ｌ", "L",
	"Ｄ", "D",
	"Ｋ", "K",
)

// NormalizeLayout buckets a layout string ("2LDK", "1S+LDK", "１ＳＬＤＫ")
// into a canonical form for majority-vote grouping.
func NormalizeLayout(layout string) string {
	s := foldWidth(strings.TrimSpace(layout))
	s = strings.ToUpper(s)
	s = layoutEquivalents.Replace(s)
	return s
}

// directionAliases maps the eight Japanese compass-direction spellings
// (kanji and their English abbreviation) to one canonical code.
var directionAliases = map[string]string{
	"北": "N", "NORTH": "N",
	"南": "S", "SOUTH": "S",
	"東": "E", "EAST": "E",
	"西": "W", "WEST": "W",
	"北東": "NE", "東北": "NE", "NORTHEAST": "NE",
	"北西": "NW", "西北": "NW", "NORTHWEST": "NW",
	"南東": "SE", "東南": "SE", "SOUTHEAST": "SE",
	"南西": "SW", "西南": "SW", "SOUTHWEST": "SW",
}

// NormalizeDirection buckets a balcony-direction string ("南西", "SW",
// "南西向き") into one of the eight canonical compass codes. Unrecognized
// input is returned normalized but unmapped.
func NormalizeDirection(direction string) string {
	s := Normalize(direction)
	// Normalize has already folded the hiragana き of 向き to キ.
	s = strings.TrimSuffix(s, "向キ")
	s = strings.TrimSuffix(s, "向")
	if code, ok := directionAliases[s]; ok {
		return code
	}
	return s
}
