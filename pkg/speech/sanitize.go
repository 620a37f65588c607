package speech

import (
	"regexp"
	"strings"
	"unicode"
)

var defaultAcronyms = []string{
	"AI", "API", "ATM", "CEO", "EMI", "FAQ", "GST", "HTML", "ID", "KYC",
	"OTP", "PAN", "PDF", "SMS", "SQL", "UPI", "URL", "USB", "USA", "UK",
}

var (
	bulletRe   = regexp.MustCompile(`(?m)^[ \t]*(?:[-*+•◦▪]|\d{1,3}[.)])[ \t]+`)
	headingRe  = regexp.MustCompile(`(?m)^[ \t]*#{1,6}[ \t]*`)
	linkRe     = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	emphasisRe = regexp.MustCompile("(\\*\\*|__|\\*|`+|~~)")
	acronymRe  = regexp.MustCompile(`\b[A-Z]{2,5}\b`)
	spacesRe   = regexp.MustCompile(`[ \t]+`)
)

// Sanitizer prepares sentence text for synthesis: markdown noise and emoji
// go, known acronyms are spelled out letter by letter.
type Sanitizer struct {
	acronyms map[string]struct{}
}

func NewSanitizer(acronyms []string) *Sanitizer {
	if len(acronyms) == 0 {
		acronyms = defaultAcronyms
	}
	set := make(map[string]struct{}, len(acronyms))
	for _, a := range acronyms {
		if a = strings.ToUpper(strings.TrimSpace(a)); a != "" {
			set[a] = struct{}{}
		}
	}
	return &Sanitizer{acronyms: set}
}

func (s *Sanitizer) Clean(text string) string {
	out := linkRe.ReplaceAllString(text, "$1")
	out = bulletRe.ReplaceAllString(out, "")
	out = headingRe.ReplaceAllString(out, "")
	out = emphasisRe.ReplaceAllString(out, "")
	out = strings.Map(dropEmoji, out)
	out = acronymRe.ReplaceAllStringFunc(out, func(w string) string {
		if _, ok := s.acronyms[w]; !ok {
			return w
		}
		return strings.Join(strings.Split(w, ""), " ")
	})
	out = strings.ReplaceAll(out, "\n", " ")
	out = spacesRe.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}

// dropEmoji removes pictographs, dingbats, flags and joiners. Currency
// symbols (₹ $ € …) are category Sc and are kept.
func dropEmoji(r rune) rune {
	switch {
	case r >= 0x1F000 && r <= 0x1FAFF,
		r >= 0x2600 && r <= 0x27BF,
		r >= 0x2B00 && r <= 0x2BFF,
		r >= 0xFE00 && r <= 0xFE0F,
		r == 0x200D, r == 0x20E3:
		return -1
	case unicode.Is(unicode.Sc, r):
		return r
	case unicode.Is(unicode.So, r) && r > 0x2100:
		return -1
	}
	return r
}
