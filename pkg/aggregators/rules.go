package aggregators

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Candidate is the view an exclusion rule gets of one terminal mark.
// Preceding runs from the last confirmed boundary up to the mark,
// Following is everything after it.
type Candidate struct {
	Preceding string
	Mark      rune
	Following string
}

// Rule rejects a candidate boundary when Excludes returns true.
type Rule struct {
	Name     string
	Excludes func(c Candidate) bool
}

const danda = '।'

var (
	currencyTailRe  = regexp.MustCompile(`[$€£¥₹₩₽][\d,]*\d$`)
	thousandsTailRe = regexp.MustCompile(`\d,\d{3}$`)
	schemeRe        = regexp.MustCompile(`(?i)(https?://|www\.)\S*$`)
)

var defaultAbbreviations = []string{
	"mr", "mrs", "ms", "dr", "prof", "sr", "jr", "st", "mt", "rs",
	"vs", "etc", "inc", "ltd", "co", "corp", "dept", "est", "fig",
	"no", "approx", "e.g", "i.e", "a.m", "p.m", "u.s", "jan", "feb",
	"aug", "sept", "oct", "nov", "dec", "govt", "capt", "lt", "col", "gen",
}

// DefaultRules returns the ordered exclusion table: numeric context,
// abbreviations, URL/domain shapes, then ellipsis and stacked marks.
func DefaultRules(abbreviations []string) []Rule {
	set := make(map[string]struct{}, len(defaultAbbreviations)+len(abbreviations))
	for _, a := range defaultAbbreviations {
		set[a] = struct{}{}
	}
	for _, a := range abbreviations {
		a = strings.Trim(strings.ToLower(strings.TrimSpace(a)), ".")
		if a != "" {
			set[a] = struct{}{}
		}
	}
	return []Rule{
		{Name: "numeric", Excludes: numericContext},
		{Name: "abbreviation", Excludes: func(c Candidate) bool { return abbreviationContext(c, set) }},
		{Name: "url", Excludes: urlContext},
		{Name: "ellipsis", Excludes: ellipsisContext},
	}
}

func numericContext(c Candidate) bool {
	if c.Mark != '.' {
		return false
	}
	before, hasBefore := lastRune(c.Preceding)
	after, hasAfter := firstRune(c.Following)
	if hasBefore && unicode.IsDigit(before) {
		// A number may still be arriving ("3." then "14").
		if !hasAfter || unicode.IsDigit(after) {
			return true
		}
	}
	return currencyTailRe.MatchString(c.Preceding) || thousandsTailRe.MatchString(c.Preceding)
}

func abbreviationContext(c Candidate, set map[string]struct{}) bool {
	if c.Mark != '.' {
		return false
	}
	word := lastWord(c.Preceding)
	if word == "" {
		return false
	}
	_, ok := set[strings.ToLower(strings.Trim(word, "."))]
	return ok
}

func urlContext(c Candidate) bool {
	if c.Mark != '.' {
		return false
	}
	after, hasAfter := firstRune(c.Following)
	if !hasAfter || unicode.IsSpace(after) {
		return false
	}
	if schemeRe.MatchString(c.Preceding) {
		return true
	}
	before, hasBefore := lastRune(c.Preceding)
	// "example.com", "api.v2": a dot glued between word characters.
	return hasBefore && isWordRune(before) && (isWordRune(after) || after == '/')
}

func ellipsisContext(c Candidate) bool {
	if before, ok := lastRune(c.Preceding); ok && isTerminal(before) {
		return true
	}
	after, ok := firstRune(c.Following)
	return ok && isTerminal(after)
}

// confirms applies the final acceptance step once no rule excluded the mark.
func confirms(c Candidate) bool {
	if c.Mark != '.' {
		return true
	}
	next, ok := firstRune(strings.TrimLeftFunc(c.Following, func(r rune) bool {
		return unicode.IsSpace(r) || isOpening(r) || isClosing(r)
	}))
	if !ok {
		return true
	}
	return isCapital(next)
}

// isCapital treats caseless script letters (Devanagari, CJK) as capitals.
func isCapital(r rune) bool {
	if unicode.IsUpper(r) || unicode.IsTitle(r) {
		return true
	}
	return unicode.IsLetter(r) && !unicode.IsLower(r)
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == danda || r == '…'
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-'
}

func isOpening(r rune) bool {
	switch r {
	case '"', '\'', '“', '‘', '(', '[', '«':
		return true
	}
	return false
}

func isClosing(r rune) bool {
	switch r {
	case '"', '\'', '”', '’', ')', ']', '»':
		return true
	}
	return false
}

func lastWord(s string) string {
	i := len(s)
	for i > 0 {
		r, size := utf8.DecodeLastRuneInString(s[:i])
		if !unicode.IsLetter(r) && r != '.' {
			break
		}
		i -= size
	}
	return s[i:]
}

func lastRune(s string) (rune, bool) {
	if s == "" {
		return 0, false
	}
	r, _ := utf8.DecodeLastRuneInString(s)
	return r, true
}

func firstRune(s string) (rune, bool) {
	for _, r := range s {
		return r, true
	}
	return 0, false
}
