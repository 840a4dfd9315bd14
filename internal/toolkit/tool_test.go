package toolkit

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("expected untouched string, got %q", got)
	}
	if got := truncate("abcdef", 3); got != "abc"+truncatedMarker {
		t.Errorf("unexpected truncation %q", got)
	}
}

func TestTruncate_RuneBoundary(t *testing.T) {
	// "é" is two bytes, so a cut at 2 lands inside it.
	got := truncate("aé€b", 2)
	if !utf8.ValidString(got) {
		t.Fatalf("truncated text is not valid UTF-8: %q", got)
	}
	if got != "a"+truncatedMarker {
		t.Errorf("expected cut before the split rune, got %q", got)
	}

	// "€" is three bytes starting at offset 3; a cut at 5 backs off to 3.
	got = truncate("aé€b", 5)
	if !strings.HasPrefix(got, "aé") || strings.Contains(got, "€") || !utf8.ValidString(got) {
		t.Errorf("unexpected truncation %q", got)
	}
}

func TestGetString(t *testing.T) {
	params := map[string]any{"s": "101", "f": float64(102), "i": 103, "b": true}
	for key, want := range map[string]string{"s": "101", "f": "102", "i": "103", "b": "", "missing": ""} {
		if got := getString(params, key); got != want {
			t.Errorf("getString(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestGetInt(t *testing.T) {
	params := map[string]any{"f": float64(3), "s": "8080", "frac": 1.5, "bad": "x"}
	if n, err := getInt(params, "f", 0); err != nil || n != 3 {
		t.Errorf("unexpected %d, %v", n, err)
	}
	if n, err := getInt(params, "s", 0); err != nil || n != 8080 {
		t.Errorf("unexpected %d, %v", n, err)
	}
	if n, err := getInt(params, "missing", 7); err != nil || n != 7 {
		t.Errorf("expected fallback, got %d, %v", n, err)
	}
	if _, err := getInt(params, "frac", 0); err == nil {
		t.Error("expected error for fractional value")
	}
	if _, err := getInt(params, "bad", 0); err == nil {
		t.Error("expected error for non-numeric string")
	}
}
