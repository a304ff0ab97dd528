package specifics

import (
	"strings"
	"unicode"
)

// commonNames maps freeform attribute names, as they appear in scraped Amazon
// detail tables and pasted bulk text, to the exact eBay aspect name. Lookup
// keys are folded at load time, so entries here can stay human-readable.
var commonNames = map[string]string{
	"brand":                    "Brand",
	"brand name":               "Brand",
	"manufacturer":             "Brand",
	"colour":                   "Colour",
	"colour name":              "Colour",
	"color":                    "Colour",
	"color name":               "Colour",
	"size":                     "Size",
	"size name":                "Size",
	"style":                    "Style",
	"style name":               "Style",
	"material":                 "Material",
	"fabric type":              "Material",
	"outer material":           "Material",
	"pattern":                  "Pattern",
	"model":                    "Model",
	"model name":               "Model",
	"model number":             "MPN",
	"part number":              "MPN",
	"manufacturer part number": "MPN",
	"type":                     "Type",
	"item type":                "Type",
	"capacity":                 "Capacity",
	"storage":                  "Storage Capacity",
	"storage capacity":         "Storage Capacity",
	"ram":                      "RAM Size",
	"ram size":                 "RAM Size",
	"memory size":              "RAM Size",
	"connectivity":             "Connectivity",
	"connectivity technology":  "Connectivity",
	"platform":                 "Platform",
	"edition":                  "Edition",
	"flavour":                  "Flavour",
	"flavour name":             "Flavour",
	"flavor":                   "Flavour",
	"flavor name":              "Flavour",
	"shape":                    "Shape",
	"fit":                      "Fit",
	"fit type":                 "Fit",
	"waist":                    "Waist Size",
	"waist size":               "Waist Size",
	"chest":                    "Chest Size",
	"chest size":               "Chest Size",
	"gender":                   "Department",
	"department":               "Department",
	"age range":                "Age Level",
	"age range description":    "Age Level",
	"power":                    "Wattage",
	"wattage":                  "Wattage",
	"voltage":                  "Voltage",
	"pack size":                "Number of Items",
	"number of items":          "Number of Items",
	"unit count":               "Number of Items",
	"item weight":              "Item Weight",
	"weight":                   "Item Weight",
	"length":                   "Length",
	"width":                    "Width",
	"height":                   "Height",
	"ean":                      "EAN",
	"barcode":                  "EAN",
	"upc":                      "UPC",
	"variant":                  "Variant",
	"scent":                    "Scent",
	"finish":                   "Finish",
}

// canonicalByFold is the runtime lookup table, keyed by the folded form of
// every variant in commonNames. Built once at init, never mutated.
var canonicalByFold map[string]string

func init() {
	canonicalByFold = make(map[string]string, len(commonNames))
	for variant, canonical := range commonNames {
		canonicalByFold[FoldKey(variant)] = canonical
	}
}

// FoldKey reduces an attribute name to its comparison form: lowercase,
// punctuation stripped, internal whitespace collapsed to single spaces.
func FoldKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	space := false
	for _, r := range strings.TrimSpace(key) {
		switch {
		case unicode.IsSpace(r):
			space = true
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// Normalize maps a freeform attribute name onto the marketplace's exact
// aspect name. The second return is false when no mapping exists.
func Normalize(key string) (string, bool) {
	canonical, ok := canonicalByFold[FoldKey(key)]
	return canonical, ok
}

// NormalizeKeys rewrites every key of d through Normalize. Keys with no
// mapping are kept unchanged: an unmapped custom attribute may already be a
// marketplace-exact name, and dropping it would lose user data.
func NormalizeKeys(d map[string]string) map[string]string {
	if d == nil {
		return nil
	}
	out := make(map[string]string, len(d))
	for k, v := range d {
		if canonical, ok := Normalize(k); ok {
			out[canonical] = v
		} else {
			out[k] = v
		}
	}
	return out
}
