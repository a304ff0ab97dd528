package ebay

import (
	"regexp"
	"strings"
)

// Listing text must not reference the source marketplace or promise
// services the reseller does not provide. Any sentence containing one of
// these phrases is dropped wholesale.
var bannedRe = regexp.MustCompile(`(?i)(\bwarranty\b|customer support|customer service|contact us|\bamazon\b)`)

// sentenceSplitRe splits after terminal punctuation, keeping the
// punctuation with its sentence.
var sentenceSplitRe = regexp.MustCompile(`([^.!?]*[.!?])\s*`)

// SanitizeText removes every sentence that contains a banned phrase. Text
// with no match is returned untouched so spacing is never mangled.
func SanitizeText(text string) string {
	if text == "" || !bannedRe.MatchString(text) {
		return text
	}

	var kept []string
	consumed := 0
	for _, match := range sentenceSplitRe.FindAllStringSubmatchIndex(text, -1) {
		sentence := strings.TrimSpace(text[match[2]:match[3]])
		consumed = match[1]
		if sentence != "" && !bannedRe.MatchString(sentence) {
			kept = append(kept, sentence)
		}
	}
	// Trailing fragment without terminal punctuation.
	if rest := strings.TrimSpace(text[consumed:]); rest != "" && !bannedRe.MatchString(rest) {
		kept = append(kept, rest)
	}
	return strings.Join(kept, " ")
}

var xmlReplacer = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// EscapeXML escapes the characters eBay's Trading API rejects in element
// content.
func EscapeXML(s string) string {
	return xmlReplacer.Replace(s)
}
