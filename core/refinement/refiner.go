// Package refinement post-processes final transcripts with a chat model:
// correction of recognition errors and translation.
package refinement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/koscakluka/ema-dictation/core/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const DefaultTimeout = 10 * time.Second

var (
	ErrEmptyResponse      = errors.New("model returned an empty response")
	ErrMissingTranslation = errors.New("model response has no translated section")
)

type Stage string

const (
	StageCorrecting  Stage = "correcting"
	StageTranslating Stage = "translating"
)

type Request struct {
	SegmentID uint64
	Text      string
	Language  string
	// Context holds the preceding final transcripts, oldest first.
	Context []string

	Correct        bool
	TargetLanguage string
}

func (r Request) Enabled() bool {
	return strings.TrimSpace(r.Text) != "" && (r.Correct || r.TargetLanguage != "")
}

type Text struct {
	Text     string
	Original string
}

// Result holds whatever refinements succeeded. Failed steps are reported in
// Errors and leave their field nil.
type Result struct {
	SegmentID  uint64
	Corrected  *Text
	Translated *Text
	Errors     []error
}

type Refiner struct {
	completer llms.Completer
	timeout   time.Duration
}

type Option func(*Refiner)

func WithTimeout(timeout time.Duration) Option {
	return func(r *Refiner) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

func New(completer llms.Completer, opts ...Option) *Refiner {
	r := &Refiner{completer: completer, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Refiner) Timeout() time.Duration { return r.timeout }

// Refine corrects and then translates the request text. Translation works on
// the corrected text when correction succeeded. Each model call gets its own
// timeout; a failure never prevents the remaining step.
func (r *Refiner) Refine(ctx context.Context, req Request, progress func(Stage)) Result {
	result := Result{SegmentID: req.SegmentID}
	if !req.Enabled() {
		return result
	}
	if progress == nil {
		progress = func(Stage) {}
	}

	ctx, span := tracer.Start(ctx, "refine transcript")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("segment.id", int64(req.SegmentID)),
		attribute.Bool("request.correct", req.Correct),
		attribute.String("request.target_language", req.TargetLanguage),
	)

	source := req.Text
	if req.Correct {
		progress(StageCorrecting)
		corrected, err := r.correct(ctx, req)
		if err != nil {
			result.Errors = append(result.Errors, err)
		} else {
			result.Corrected = &Text{Text: corrected, Original: req.Text}
			source = corrected
		}
	}

	if req.TargetLanguage != "" {
		progress(StageTranslating)
		translated, err := r.translate(ctx, source, req)
		if err != nil {
			result.Errors = append(result.Errors, err)
		} else {
			result.Translated = &Text{Text: translated, Original: source}
		}
	}

	if len(result.Errors) > 0 {
		err := errors.Join(result.Errors...)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("refinement degraded", "segment", req.SegmentID, "error", err)
	}
	return result
}

func (r *Refiner) correct(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	response, err := r.completer.Complete(ctx, correctionMessages(req.Text, req.Language, req.Context))
	if err != nil {
		return "", fmt.Errorf("failed to correct transcript: %w", err)
	}

	corrected := strings.TrimSpace(response)
	if corrected == "" {
		return "", fmt.Errorf("failed to correct transcript: %w", ErrEmptyResponse)
	}
	return corrected, nil
}

func (r *Refiner) translate(ctx context.Context, text string, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	response, err := r.completer.Complete(ctx, translationMessages(text, req.TargetLanguage, req.Context))
	if err != nil {
		return "", fmt.Errorf("failed to translate transcript: %w", err)
	}

	translated, ok := extractTranslation(response)
	if !ok {
		return "", fmt.Errorf("failed to translate transcript: %w", ErrMissingTranslation)
	}
	return translated, nil
}
