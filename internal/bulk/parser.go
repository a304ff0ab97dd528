package bulk

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/marketflip/relister/internal/specifics"
)

// specKeyAllowList is the fixed set of custom-specific key names the parser
// recognizes in pasted text. A colon-containing line is only treated as a
// specifics line when every key on it is in this set, which keeps unrelated
// free text (e.g. a title like "4:1 Extract") from being misparsed. The
// ambiguity is inherent to freeform input; a smarter grammar would not fix it.
var specKeyAllowList = map[string]struct{}{
	"size": {}, "size name": {}, "style": {}, "style name": {},
	"colour": {}, "colour name": {}, "color": {}, "pattern": {},
	"model": {}, "material": {}, "capacity": {}, "length": {},
	"width": {}, "height": {}, "flavour": {}, "flavor": {},
	"pack size": {}, "variant": {}, "type": {}, "edition": {},
	"storage": {}, "ram": {}, "connectivity": {}, "platform": {},
	"shape": {}, "fit": {}, "waist": {}, "chest": {},
	"age range": {}, "gender": {}, "power": {}, "wattage": {}, "voltage": {},
}

var (
	urlRe      = regexp.MustCompile(`(?i)https?://\S+`)
	qtyRe      = regexp.MustCompile(`(?i)^\s*(?:qty|quantity)\s*:\s*(\d+)\s*$`)
	noteRe     = regexp.MustCompile(`(?i)^\s*note\b[:\s]\s*(.+)$`)
	bareNumRe  = regexp.MustCompile(`^\s*\d+\s*$`)
	labelStart = regexp.MustCompile(`(?i)^\s*(?:qty|quantity|note)\b`)
)

// ParseItems splits raw pasted bulk text into work items. Records are
// separated by blank lines or lines holding only an item number. A record
// without a URL never becomes an item; its text carries forward as a sticky
// header note (e.g. "Box 107") applied to the items that follow it.
func ParseItems(text string) []*Item {
	var blocks [][]string
	var current []string
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		line = strings.TrimRight(line, " \t\r")
		if strings.TrimSpace(line) == "" || bareNumRe.MatchString(line) {
			if len(current) > 0 {
				blocks = append(blocks, current)
				current = nil
			}
			continue
		}
		current = append(current, line)
	}
	if len(current) > 0 {
		blocks = append(blocks, current)
	}

	var items []*Item
	headerNote := ""
	for _, block := range blocks {
		item := parseBlock(block)
		if item.URL == "" {
			// Stray text block: becomes the header note for later items.
			if content := strings.TrimSpace(strings.Join(block, " ")); content != "" {
				headerNote = content
			}
			continue
		}
		if headerNote != "" {
			if item.Note != "" {
				item.Note = headerNote + " \n " + item.Note
			} else {
				item.Note = headerNote
			}
		}
		item.Index = len(items) + 1
		items = append(items, item)
	}
	return items
}

func parseBlock(block []string) *Item {
	item := &Item{
		Quantity:        1,
		Status:          StatusReady,
		CustomSpecifics: map[string]string{},
	}
	var notes []string
	seenNotes := map[string]struct{}{}

	for _, line := range block {
		if item.URL == "" {
			if m := urlRe.FindString(line); m != "" {
				item.URL = strings.TrimRight(m, ").,]")
				continue
			}
		}
		if m := qtyRe.FindStringSubmatch(line); m != nil {
			if qty, err := strconv.Atoi(m[1]); err == nil && qty > 0 {
				item.Quantity = qty
			}
			continue
		}
		if m := noteRe.FindStringSubmatch(line); m != nil {
			note := strings.TrimSpace(m[1])
			if _, dup := seenNotes[note]; note != "" && !dup {
				seenNotes[note] = struct{}{}
				notes = append(notes, note)
			}
			continue
		}
		if strings.Contains(line, ":") && !labelStart.MatchString(line) && !urlRe.MatchString(line) {
			for k, v := range parseSpecificsLine(line) {
				item.CustomSpecifics[k] = v
			}
		}
	}

	item.Note = strings.Join(notes, " \n ")
	return item
}

// parseSpecificsLine parses "Key: Value | Key: Value" into a map. Every key
// must be on the allow list or the whole line is rejected as ordinary text.
func parseSpecificsLine(line string) map[string]string {
	segments := []string{strings.TrimSpace(line)}
	if strings.Contains(line, "|") {
		segments = strings.Split(line, "|")
	}

	pairs := make(map[string]string, len(segments))
	for _, seg := range segments {
		key, value, ok := strings.Cut(seg, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			return nil
		}
		if _, allowed := specKeyAllowList[specifics.FoldKey(key)]; !allowed {
			return nil
		}
		pairs[key] = value
	}
	if len(pairs) == 0 {
		return nil
	}
	return pairs
}
