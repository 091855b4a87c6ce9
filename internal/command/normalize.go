package command

import (
	"strings"
	"unicode"
)

var turkishFold = strings.NewReplacer(
	"ı", "i", "İ", "i", "ğ", "g", "Ğ", "g", "ü", "u", "Ü", "u",
	"ş", "s", "Ş", "s", "ö", "o", "Ö", "o", "ç", "c", "Ç", "c",
	"$", " dolar ", "€", " euro ",
)

// Normalize lower-cases text, folds Turkish letters to ASCII, strips
// punctuation and collapses whitespace. A '.' or ',' between two digits is
// kept as a decimal separator.
func Normalize(text string) string {
	runes := []rune(strings.ToLower(turkishFold.Replace(text)))
	var b strings.Builder
	b.Grow(len(runes))
	for i, r := range runes {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case (r == '.' || r == ',') && i > 0 && i < len(runes)-1 &&
			unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1]):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// containsPhrase reports whether the words of phrase appear consecutively in tokens.
func containsPhrase(tokens, phrase []string) bool {
	if len(phrase) == 0 || len(phrase) > len(tokens) {
		return false
	}
	for i := 0; i+len(phrase) <= len(tokens); i++ {
		match := true
		for j, w := range phrase {
			if tokens[i+j] != w {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
