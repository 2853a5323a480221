package events

const (
	// KindCorrection identifies corrected transcripts.
	KindCorrection Kind = "refinement.correction"
	// KindTranslation identifies translated transcripts.
	KindTranslation Kind = "refinement.translation"
)

// Correction carries the corrected version of a final transcript.
type Correction struct {
	Base
	SegmentID    uint64
	Text         string
	OriginalText string
}

// NewCorrection creates a correction event.
func NewCorrection(session string, segment uint64, text, original string) Correction {
	return Correction{Base: NewBase(KindCorrection, session), SegmentID: segment, Text: text, OriginalText: original}
}

// Translation carries the translated version of a final transcript.
type Translation struct {
	Base
	SegmentID      uint64
	Text           string
	OriginalText   string
	TargetLanguage string
}

// NewTranslation creates a translation event.
func NewTranslation(session string, segment uint64, text, original, targetLanguage string) Translation {
	return Translation{
		Base:           NewBase(KindTranslation, session),
		SegmentID:      segment,
		Text:           text,
		OriginalText:   original,
		TargetLanguage: targetLanguage,
	}
}
