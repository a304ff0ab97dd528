package specifics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		found    bool
	}{
		{name: "exact variant", input: "colour", expected: "Colour", found: true},
		{name: "american spelling", input: "color", expected: "Colour", found: true},
		{name: "mixed case", input: "CoLoUr NaMe", expected: "Colour", found: true},
		{name: "surrounding whitespace", input: "  size  ", expected: "Size", found: true},
		{name: "collapsed internal whitespace", input: "size   name", expected: "Size", found: true},
		{name: "punctuation ignored", input: "colour:", expected: "Colour", found: true},
		{name: "canonical form maps to itself", input: "Colour", expected: "Colour", found: true},
		{name: "unknown key", input: "frobnication level", found: false},
		{name: "empty key", input: "", found: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Normalize(tt.input)
			assert.Equal(t, tt.found, ok)
			if tt.found {
				assert.Equal(t, tt.expected, got)
			}
		})
	}
}

// Re-normalizing a canonical output must never produce a different canonical
// value. For every entry in the static map, the canonical side either maps to
// itself or is unknown.
func TestNormalizeIdempotent(t *testing.T) {
	for variant, canonical := range commonNames {
		got, ok := Normalize(canonical)
		if ok {
			assert.Equal(t, canonical, got,
				"canonical %q (via variant %q) re-normalized to a different value", canonical, variant)
		}
	}
}

func TestNormalizeKeys(t *testing.T) {
	in := map[string]string{
		"color":       "Blue",
		"Size Name":   "Large",
		"Secret Sauce": "yes",
	}

	out := NormalizeKeys(in)

	assert.Equal(t, map[string]string{
		"Colour":       "Blue",
		"Size":         "Large",
		"Secret Sauce": "yes", // unmapped keys survive unchanged
	}, out)

	// Input must not be mutated.
	assert.Equal(t, "Blue", in["color"])

	assert.Nil(t, NormalizeKeys(nil))
}

func TestFoldKey(t *testing.T) {
	assert.Equal(t, "colour name", FoldKey("  Colour-Name "))
	assert.Equal(t, "ram size", FoldKey("RAM   Size"))
	assert.Equal(t, "", FoldKey("  ?! "))
}
