// Package moderation flags chat messages that contain configured banned
// words, including common obfuscations such as "s.c.4.m".
package moderation

import (
	"fmt"
	"regexp"
	"strings"
)

var separators = regexp.MustCompile(`[\s_.\-*/\\|]+`)

var leet = strings.NewReplacer(
	"@", "a", "4", "a",
	"3", "e", "€", "e",
	"1", "i", "!", "i", "¡", "i",
	"0", "o", "()", "o", "[]", "o",
	"$", "s", "5", "s",
	"7", "t", "+", "t",
	"9", "g", "8", "b",
	"ph", "f",
)

type rule struct {
	word  string
	regex *regexp.Regexp
}

// Filter is safe for concurrent use once built.
type Filter struct {
	rules []rule
}

func NewFilter(words []string) *Filter {
	f := &Filter{}
	seen := make(map[string]struct{}, len(words))

	for _, word := range words {
		base := strings.ReplaceAll(normalizeText(word), " ", "")
		if base == "" {
			continue
		}
		if _, dup := seen[base]; dup {
			continue
		}
		seen[base] = struct{}{}

		f.rules = append(f.rules, rule{word: strings.TrimSpace(word), regex: compile(base)})
	}
	return f
}

// compile lets any run of non-letters sit between the letters of base.
func compile(base string) *regexp.Regexp {
	letters := make([]string, 0, len(base))
	for _, r := range base {
		letters = append(letters, regexp.QuoteMeta(string(r)))
	}
	return regexp.MustCompile(`(?:^|[^\p{L}])` + strings.Join(letters, `[^\p{L}]*`) + `(?:$|[^\p{L}])`)
}

func (f *Filter) Len() int {
	return len(f.rules)
}

// Review reports whether content matches a banned word and names it.
func (f *Filter) Review(content string) (bool, string) {
	if content == "" || len(f.rules) == 0 {
		return false, ""
	}

	normalized := normalizeText(content)
	for _, r := range f.rules {
		if r.regex.MatchString(normalized) {
			return true, fmt.Sprintf("contains banned word %q", r.word)
		}
	}
	return false, ""
}

func normalizeText(text string) string {
	s := strings.ToLower(text)
	s = strings.Map(func(r rune) rune {
		switch r {
		case 'á', 'à', 'â', 'ä', 'ã', 'å':
			return 'a'
		case 'é', 'è', 'ê', 'ë':
			return 'e'
		case 'í', 'ì', 'î', 'ï':
			return 'i'
		case 'ó', 'ò', 'ô', 'ö', 'õ':
			return 'o'
		case 'ú', 'ù', 'û', 'ü':
			return 'u'
		case 'ñ':
			return 'n'
		case 'ç':
			return 'c'
		default:
			return r
		}
	}, s)

	s = leet.Replace(s)
	return strings.TrimSpace(separators.ReplaceAllString(s, " "))
}
