package aggregators

// DetectorConfig tunes a SentenceDetector. Zero values pick the defaults.
type DetectorConfig struct {
	// Abbreviations extends the built-in honorific/abbreviation set.
	Abbreviations []string
	// ExtraMarks adds script-specific full stops on top of . ! ? and the danda.
	ExtraMarks []rune
	// Rules replaces the default exclusion table when non-empty.
	Rules []Rule
	// MaxHistory bounds how many extracted sentences are remembered.
	MaxHistory int
}

// Detector is the contract the stream orchestrator drives.
type Detector interface {
	AddUnit(text string)
	HasCompleteSentence() bool
	ExtractSentence() string
	Remaining() string
	Reset()
}
