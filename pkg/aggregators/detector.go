package aggregators

import (
	"strings"
	"sync"
	"unicode/utf8"
)

// SentenceDetector accumulates streamed text and finds safe places to cut it
// into sentences for synthesis. One instance belongs to one stream.
type SentenceDetector struct {
	mu       sync.Mutex
	cfg      DetectorConfig
	rules    []Rule
	marks    map[rune]struct{}
	buf      string
	boundary int
	scanned  bool
	history  []string
}

func NewSentenceDetector(cfg DetectorConfig) *SentenceDetector {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 10
	}
	rules := cfg.Rules
	if len(rules) == 0 {
		rules = DefaultRules(cfg.Abbreviations)
	}
	marks := map[rune]struct{}{'.': {}, '!': {}, '?': {}, danda: {}}
	for _, m := range cfg.ExtraMarks {
		marks[m] = struct{}{}
	}
	return &SentenceDetector{cfg: cfg, rules: rules, marks: marks}
}

func (d *SentenceDetector) AddUnit(text string) {
	if text == "" {
		return
	}
	d.mu.Lock()
	d.buf += text
	d.scanned = false
	d.mu.Unlock()
}

func (d *SentenceDetector) HasCompleteSentence() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastBoundary() > 0
}

// ExtractSentence returns every complete sentence buffered so far, trimmed,
// and keeps the unfinished tail. It returns "" when no boundary is safe yet.
func (d *SentenceDetector) ExtractSentence() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	end := d.lastBoundary()
	if end <= 0 {
		return ""
	}
	out := strings.TrimSpace(d.buf[:end])
	d.buf = d.buf[end:]
	d.scanned = false
	d.appendHistory(out)
	return out
}

func (d *SentenceDetector) Remaining() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buf
}

// Flush hands back the unterminated tail as-is and empties the buffer.
func (d *SentenceDetector) Flush() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := strings.TrimSpace(d.buf)
	d.buf = ""
	d.scanned = false
	if out != "" {
		d.appendHistory(out)
	}
	return out
}

func (d *SentenceDetector) Reset() {
	d.mu.Lock()
	d.buf = ""
	d.boundary = 0
	d.scanned = false
	d.history = nil
	d.mu.Unlock()
}

func (d *SentenceDetector) History() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.history))
	copy(out, d.history)
	return out
}

// lastBoundary scans backwards and returns the byte offset just past the
// last confirmed mark, or 0. Callers hold d.mu.
func (d *SentenceDetector) lastBoundary() int {
	if d.scanned {
		return d.boundary
	}
	d.scanned = true
	d.boundary = 0
	for i := len(d.buf); i > 0; {
		r, size := utf8.DecodeLastRuneInString(d.buf[:i])
		i -= size
		if _, ok := d.marks[r]; !ok {
			continue
		}
		c := Candidate{Preceding: d.buf[:i], Mark: r, Following: d.buf[i+size:]}
		if d.excluded(c) || !confirms(c) {
			continue
		}
		d.boundary = absorbClosers(d.buf, i+size)
		return d.boundary
	}
	return 0
}

func (d *SentenceDetector) excluded(c Candidate) bool {
	for _, rule := range d.rules {
		if rule.Excludes != nil && rule.Excludes(c) {
			return true
		}
	}
	return false
}

func (d *SentenceDetector) appendHistory(text string) {
	d.history = append(d.history, text)
	if len(d.history) > d.cfg.MaxHistory {
		d.history = d.history[len(d.history)-d.cfg.MaxHistory:]
	}
}

// absorbClosers extends a boundary over closing quotes and brackets so
// `He said "Go."` is cut after the quote.
func absorbClosers(s string, end int) int {
	for end < len(s) {
		r, size := utf8.DecodeRuneInString(s[end:])
		if !isClosing(r) {
			break
		}
		end += size
	}
	return end
}

var _ Detector = (*SentenceDetector)(nil)
