package telegram

import (
	"strings"
	"unicode"
)

var offensiveWords = map[string]struct{}{
	"fuck":    {},
	"shit":    {},
	"bitch":   {},
	"asshole": {},
	"idiot":   {},
	"stupid":  {},
}

// containsOffensive reports whether any whole word of text is on the list.
func containsOffensive(text string) bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	for _, w := range words {
		if _, ok := offensiveWords[w]; ok {
			return true
		}
	}
	return false
}
