package identity

import "testing"

func TestNormalizeLayoutCollapsesPlusNotation(t *testing.T) {
	a := NormalizeLayout("1S+LDK")
	b := NormalizeLayout("1SLDK")
	if a != b {
		t.Errorf("NormalizeLayout(%q) = %q, NormalizeLayout(%q) = %q, want equal", "1S+LDK", a, "1SLDK", b)
	}
}

func TestNormalizeLayoutFoldsFullWidth(t *testing.T) {
	got := NormalizeLayout("１ＳＬＤＫ")
	want := "1SLDK"
	if got != want {
		t.Errorf("NormalizeLayout() = %q, want %q", got, want)
	}
}

func TestNormalizeLayoutTrimsAndUppercases(t *testing.T) {
	got := NormalizeLayout(" 2ldk ")
	want := "2LDK"
	if got != want {
		t.Errorf("NormalizeLayout() = %q, want %q", got, want)
	}
}

func TestNormalizeDirectionMapsKanjiToCode(t *testing.T) {
	cases := map[string]string{
		"北":  "N",
		"南西": "SW",
		"東南": "SE",
		"西北": "NW",
	}
	for in, want := range cases {
		if got := NormalizeDirection(in); got != want {
			t.Errorf("NormalizeDirection(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeDirectionStripsMukiSuffix(t *testing.T) {
	got := NormalizeDirection("南西向き")
	if got != "SW" {
		t.Errorf("NormalizeDirection(%q) = %q, want %q", "南西向き", got, "SW")
	}
}

func TestNormalizeDirectionAcceptsEnglishAlias(t *testing.T) {
	if got := NormalizeDirection("SOUTHEAST"); got != "SE" {
		t.Errorf("NormalizeDirection(%q) = %q, want %q", "SOUTHEAST", got, "SE")
	}
}

func TestNormalizeDirectionPassesThroughUnrecognized(t *testing.T) {
	got := NormalizeDirection("不明")
	if got != "不明" {
		t.Errorf("NormalizeDirection() = %q, want passthrough %q", got, "不明")
	}
}
