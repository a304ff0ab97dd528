package specifics

import (
	"fmt"
)

// Merge combines attribute dictionaries left to right: a key appearing in a
// later dict overwrites the earlier value. Key comparison is case-sensitive
// on purpose, aspect names are exact-case contracts with the marketplace and
// case folding already happened in the normalizer. Nil dicts are skipped.
func Merge(dicts ...map[string]string) map[string]string {
	merged := make(map[string]string)
	for _, d := range dicts {
		for k, v := range d {
			merged[k] = v
		}
	}
	return merged
}

// Stringify converts a loosely typed attribute map, such as one decoded from
// JSON, into the string-valued form the marketplace API expects.
func Stringify(d map[string]any) map[string]string {
	if d == nil {
		return nil
	}
	out := make(map[string]string, len(d))
	for k, v := range d {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
			out[k] = ""
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}
