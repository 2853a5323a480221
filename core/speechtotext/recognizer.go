// Package speechtotext defines the contract between the dictation pipeline
// and speech recognition backends.
package speechtotext

import "context"

// Recognizer transcribes a complete buffer of audio.
type Recognizer interface {
	Transcribe(ctx context.Context, audio []byte, opts ...TranscriptionOption) (string, error)
}

type PrepareStage string

const (
	PrepareDownloading PrepareStage = "downloading"
	PrepareLoading     PrepareStage = "loading"
)

// Preparer is implemented by recognizers that need to fetch or load a model
// before the first transcription. Prepare may be called repeatedly and
// should return quickly once the model is ready.
type Preparer interface {
	Prepare(ctx context.Context, report func(PrepareStage)) error
}
