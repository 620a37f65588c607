package speech

import "strings"

// VoiceResolver maps a language and gender hint to a provider voice id.
// Override, when set, wins over everything.
type VoiceResolver struct {
	Override string
	// Table is keyed by lower-case language ("en", "en-in") then gender
	// ("female", "male", "default").
	Table   map[string]map[string]string
	Default string
}

// Resolve is deterministic: the same inputs always give the same voice.
// "en-IN" falls back to "en" before the default voice is used.
func (r VoiceResolver) Resolve(language, gender string) string {
	if v := strings.TrimSpace(r.Override); v != "" {
		return v
	}
	gender = normalizeGender(gender)
	for _, lang := range languageChain(language) {
		voices, ok := r.Table[lang]
		if !ok {
			continue
		}
		if v := voices[gender]; v != "" {
			return v
		}
		if v := voices["default"]; v != "" {
			return v
		}
	}
	return r.Default
}

func languageChain(language string) []string {
	lang := strings.ToLower(strings.TrimSpace(strings.ReplaceAll(language, "_", "-")))
	if lang == "" {
		return nil
	}
	if base, _, ok := strings.Cut(lang, "-"); ok {
		return []string{lang, base}
	}
	return []string{lang}
}

func normalizeGender(g string) string {
	switch strings.ToLower(strings.TrimSpace(g)) {
	case "f", "female", "woman":
		return "female"
	case "m", "male", "man":
		return "male"
	default:
		return "default"
	}
}
