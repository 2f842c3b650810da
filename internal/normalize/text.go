// Package normalize applies Brazilian-Portuguese text conventions to
// registry records at the storage boundary.
package normalize

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Prepositions and articles that stay lowercase in title case.
var lowercaseWords = map[string]bool{
	"de": true, "da": true, "do": true, "dos": true, "das": true,
	"e": true, "em": true, "na": true, "no": true, "nas": true,
	"nos": true, "para": true, "por": true, "com": true, "sem": true,
	"sob": true, "ao": true, "aos": true, "à": true, "às": true,
}

var (
	upper = cases.Upper(language.BrazilianPortuguese)
	lower = cases.Lower(language.BrazilianPortuguese)
)

func capitalize(word string) string {
	runes := []rune(word)
	if len(runes) == 0 {
		return word
	}
	return upper.String(string(runes[:1])) + lower.String(string(runes[1:]))
}

func capitalizeWord(word string, isFirst bool) string {
	// '/' separates compound specialty names; each segment is capitalized.
	if strings.Contains(word, "/") {
		parts := strings.Split(word, "/")
		for j, p := range parts {
			parts[j] = capitalizeWord(p, isFirst && j == 0)
		}
		return strings.Join(parts, "/")
	}

	lowered := lower.String(word)
	if isFirst || !lowercaseWords[lowered] {
		return capitalize(word)
	}
	return lowered
}

// TitleCase converts ALL-CAPS registry text to title case, keeping
// Portuguese prepositions and articles lowercase.
//
//	TitleCase("UNIVERSIDADE FEDERAL DO PARANA") == "Universidade Federal do Parana"
//	TitleCase("JOSE DA SILVA DOS SANTOS") == "Jose da Silva dos Santos"
func TitleCase(text string) string {
	if text == "" {
		return text
	}

	words := strings.Fields(strings.TrimSpace(text))
	if len(words) == 0 {
		return text
	}

	for i, w := range words {
		words[i] = capitalizeWord(w, i == 0)
	}
	return strings.Join(words, " ")
}
