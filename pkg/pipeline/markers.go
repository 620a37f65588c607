package pipeline

import "strings"

// Inline markers a generator may embed in its text. They are legacy: a
// separate suggestions unit always wins over inline suggestions.
const (
	suggestionsOpen  = "[SUGGESTIONS]"
	suggestionsClose = "[/SUGGESTIONS]"
	intentOpen       = "[INTENT:"
	maxIntentLen     = 64
)

type MarkerKind int

const (
	MarkerSuggestions MarkerKind = iota + 1
	MarkerIntent
)

type Marker struct {
	Kind   MarkerKind
	Intent string
	Items  []string
}

// MarkerScanner strips inline markers from streamed text. A marker may be
// split across any number of units; text that could still turn into a
// marker is held back until it is decided.
type MarkerScanner struct {
	pending string
	inBlock bool
	block   strings.Builder
}

func NewMarkerScanner() *MarkerScanner {
	return &MarkerScanner{}
}

// Feed returns the text safe to emit now and any markers completed by s.
func (m *MarkerScanner) Feed(s string) (string, []Marker) {
	buf := m.pending + s
	m.pending = ""
	var out strings.Builder
	var found []Marker

	for buf != "" {
		if m.inBlock {
			idx := strings.Index(buf, suggestionsClose)
			if idx < 0 {
				keep := partialSuffix(buf, suggestionsClose)
				m.block.WriteString(buf[:len(buf)-keep])
				m.pending = buf[len(buf)-keep:]
				break
			}
			m.block.WriteString(buf[:idx])
			found = append(found, Marker{Kind: MarkerSuggestions, Items: splitSuggestions(m.block.String())})
			m.block.Reset()
			m.inBlock = false
			buf = buf[idx+len(suggestionsClose):]
			continue
		}

		i := strings.IndexByte(buf, '[')
		if i < 0 {
			out.WriteString(buf)
			break
		}
		out.WriteString(buf[:i])
		rest := buf[i:]
		switch {
		case strings.HasPrefix(rest, suggestionsOpen):
			m.inBlock = true
			buf = rest[len(suggestionsOpen):]
		case strings.HasPrefix(rest, intentOpen):
			j := strings.IndexByte(rest, ']')
			if j < 0 {
				if len(rest) > len(intentOpen)+maxIntentLen {
					out.WriteByte('[')
					buf = rest[1:]
					continue
				}
				m.pending = rest
				buf = ""
				continue
			}
			if name := strings.TrimSpace(rest[len(intentOpen):j]); name != "" {
				found = append(found, Marker{Kind: MarkerIntent, Intent: name})
			}
			buf = rest[j+1:]
		case isPrefix(rest, suggestionsOpen) || isPrefix(rest, intentOpen):
			m.pending = rest
			buf = ""
		default:
			out.WriteByte('[')
			buf = rest[1:]
		}
	}
	return out.String(), found
}

// Flush ends the stream. Held-back text is returned as is; an unterminated
// suggestions block still yields its items.
func (m *MarkerScanner) Flush() (string, []Marker) {
	defer m.Reset()
	if m.inBlock {
		m.block.WriteString(m.pending)
		items := splitSuggestions(m.block.String())
		if len(items) == 0 {
			return "", nil
		}
		return "", []Marker{{Kind: MarkerSuggestions, Items: items}}
	}
	return m.pending, nil
}

func (m *MarkerScanner) Reset() {
	m.pending = ""
	m.inBlock = false
	m.block.Reset()
}

// isPrefix reports whether s is a proper prefix of tag.
func isPrefix(s, tag string) bool {
	return len(s) < len(tag) && strings.HasPrefix(tag, s)
}

// partialSuffix is the length of the longest suffix of s that begins tag.
func partialSuffix(s, tag string) int {
	n := len(tag) - 1
	if n > len(s) {
		n = len(s)
	}
	for ; n > 0; n-- {
		if strings.HasPrefix(tag, s[len(s)-n:]) {
			return n
		}
	}
	return 0
}

func splitSuggestions(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == '\n' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// FinalizeSuggestions trims, drops case-insensitive duplicates and keeps at
// most max items in their original order.
func FinalizeSuggestions(items []string, max int) []string {
	if max <= 0 {
		max = DefaultMaxSuggestions
	}
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, min(len(items), max))
	for _, item := range items {
		item = strings.Join(strings.Fields(item), " ")
		if item == "" {
			continue
		}
		key := strings.ToLower(item)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
		if len(out) == max {
			break
		}
	}
	return out
}
