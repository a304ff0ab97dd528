package specifics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMerge(t *testing.T) {
	tests := []struct {
		name     string
		dicts    []map[string]string
		expected map[string]string
	}{
		{
			name:     "no arguments",
			dicts:    nil,
			expected: map[string]string{},
		},
		{
			name: "later wins on collision",
			dicts: []map[string]string{
				{"Colour": "Red"},
				{"Colour": "Blue"},
			},
			expected: map[string]string{"Colour": "Blue"},
		},
		{
			name: "keys are case-sensitive",
			dicts: []map[string]string{
				{"Colour": "Red"},
				{"colour": "Blue"},
			},
			expected: map[string]string{"Colour": "Red", "colour": "Blue"},
		},
		{
			name: "nil dicts skipped",
			dicts: []map[string]string{
				nil,
				{"Size": "Large"},
				nil,
			},
			expected: map[string]string{"Size": "Large"},
		},
		{
			name: "disjoint keys accumulate",
			dicts: []map[string]string{
				{"Brand": "Acme"},
				{"Size": "M", "Colour": "Green"},
			},
			expected: map[string]string{"Brand": "Acme", "Size": "M", "Colour": "Green"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Merge(tt.dicts...))
		})
	}
}

func TestMergeDoesNotMutateArguments(t *testing.T) {
	a := map[string]string{"Colour": "Red"}
	b := map[string]string{"Colour": "Blue"}

	got := Merge(a, b)
	got["Colour"] = "Green"

	assert.Equal(t, "Red", a["Colour"])
	assert.Equal(t, "Blue", b["Colour"])
}

func TestStringify(t *testing.T) {
	out := Stringify(map[string]any{
		"Quantity": 3,
		"Colour":   "Blue",
		"Weight":   1.5,
		"Missing":  nil,
	})

	assert.Equal(t, map[string]string{
		"Quantity": "3",
		"Colour":   "Blue",
		"Weight":   "1.5",
		"Missing":  "",
	}, out)

	assert.Nil(t, Stringify(nil))
}
