package schema

import (
	"strings"
	"unicode"

	"github.com/go-text/typesetting/language"
)

// SplitText partitions a mixed-script string into language slots: tokens
// carrying Arabic script go to AR, everything else to EN, token order
// preserved within each slot. Strings without Arabic script land verbatim
// in EN, all-Arabic strings verbatim in AR, so single-language input is
// never reformatted.
func SplitText(s string) Text {
	s = strings.TrimSpace(s)
	if s == "" {
		return Text{}
	}
	if !containsScript(s, language.Arabic) {
		return Text{EN: s}
	}
	if !containsScript(s, language.Latin) {
		return Text{AR: s}
	}

	var en, ar []string
	for _, tok := range strings.Fields(s) {
		if containsScript(tok, language.Arabic) {
			ar = append(ar, tok)
		} else {
			en = append(en, tok)
		}
	}
	return Text{EN: strings.Join(en, " "), AR: strings.Join(ar, " ")}
}

func containsScript(s string, want language.Script) bool {
	for _, r := range s {
		if scriptFromRune(r) == want {
			return true
		}
	}
	return false
}

func scriptFromRune(r rune) language.Script {
	switch {
	case unicode.Is(unicode.Arabic, r):
		return language.Arabic
	case unicode.Is(unicode.Latin, r):
		return language.Latin
	}
	return language.Unknown
}
