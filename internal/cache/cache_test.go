package cache

import (
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"already canonical", "transformer attention", "transformer attention"},
		{"mixed case", "Transformer Attention", "transformer attention"},
		{"collapsed whitespace", "  transformer \t\n attention  ", "transformer attention"},
		{"korean preserved", "  트랜스포머가   뭐야?  ", "트랜스포머가 뭐야?"},
		{"empty", "   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.query); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.query, got, tt.want)
			}
		})
	}
}

func TestDigest(t *testing.T) {
	d := Digest("Transformer가 뭐야?")

	if len(d) != 32 {
		t.Fatalf("digest length = %d, want 32", len(d))
	}
	if strings.ToLower(d) != d {
		t.Errorf("digest %q is not lower-case hex", d)
	}

	// Queries differing only in case and spacing share a digest.
	if got := Digest("  transformer가   뭐야? "); got != d {
		t.Errorf("equivalent queries digest to %q and %q", d, got)
	}

	if got := Digest("BERT가 뭐야?"); got == d {
		t.Error("distinct queries share a digest")
	}
}
