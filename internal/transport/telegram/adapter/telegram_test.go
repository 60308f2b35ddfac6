package adapter

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitTextShortPassthrough(t *testing.T) {
	got := splitText("hello", 10)
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("splitText = %q", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	line := strings.Repeat("a", 6)
	text := line + "\n" + line + "\n" + line
	got := splitText(text, 10)
	if len(got) != 3 {
		t.Fatalf("chunks = %d (%q), want 3", len(got), got)
	}
	for _, c := range got {
		if c != line {
			t.Fatalf("unexpected chunk %q", c)
		}
	}
}

func TestSplitTextRespectsRuneLimit(t *testing.T) {
	text := strings.Repeat("é", 25)
	for _, c := range splitText(text, 10) {
		if n := utf8.RuneCountInString(c); n > 10 {
			t.Fatalf("chunk has %d runes, limit 10", n)
		}
	}
}
