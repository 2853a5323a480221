package refinement

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/koscakluka/ema-dictation/core/llms"
)

type completerStub struct {
	mu       sync.Mutex
	calls    [][]llms.Message
	complete func(ctx context.Context, messages []llms.Message) (string, error)
}

func (c *completerStub) Complete(ctx context.Context, messages []llms.Message, _ ...llms.CompletionOption) (string, error) {
	c.mu.Lock()
	c.calls = append(c.calls, messages)
	c.mu.Unlock()
	return c.complete(ctx, messages)
}

func isTranslation(messages []llms.Message) bool {
	return strings.Contains(messages[0].Content, "translator")
}

func TestRefineCorrectsThenTranslatesCorrectedText(t *testing.T) {
	stub := &completerStub{complete: func(_ context.Context, messages []llms.Message) (string, error) {
		if isTranslation(messages) {
			last := messages[len(messages)-1].Content
			if !strings.Contains(last, "Hello world.") {
				t.Errorf("expected translation of corrected text, got %q", last)
			}
			return "Sure! <translated>Hallo Welt.</translated>", nil
		}
		return "Hello world.", nil
	}}

	var stages []Stage
	result := New(stub).Refine(context.Background(), Request{
		SegmentID:      7,
		Text:           "hello world",
		Context:        []string{"earlier words"},
		Correct:        true,
		TargetLanguage: "German",
	}, func(stage Stage) { stages = append(stages, stage) })

	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
	if result.Corrected == nil || result.Corrected.Text != "Hello world." || result.Corrected.Original != "hello world" {
		t.Fatalf("unexpected correction %+v", result.Corrected)
	}
	if result.Translated == nil || result.Translated.Text != "Hallo Welt." || result.Translated.Original != "Hello world." {
		t.Fatalf("unexpected translation %+v", result.Translated)
	}
	if len(stages) != 2 || stages[0] != StageCorrecting || stages[1] != StageTranslating {
		t.Fatalf("unexpected progress %v", stages)
	}

	if !strings.Contains(stub.calls[0][1].Content, "earlier words") {
		t.Fatalf("expected context in the correction prompt, got %+v", stub.calls[0])
	}
}

func TestRefineTimeoutIsSoft(t *testing.T) {
	stub := &completerStub{complete: func(ctx context.Context, messages []llms.Message) (string, error) {
		if isTranslation(messages) {
			return "<translated>bonjour</translated>", nil
		}
		<-ctx.Done()
		return "", ctx.Err()
	}}

	start := time.Now()
	result := New(stub, WithTimeout(50*time.Millisecond)).Refine(context.Background(), Request{
		Text: "hello", Correct: true, TargetLanguage: "French",
	}, nil)

	if time.Since(start) > time.Second {
		t.Fatalf("expected the timeout to bound the call")
	}
	if result.Corrected != nil {
		t.Fatalf("expected no correction after timeout")
	}
	if len(result.Errors) != 1 || !errors.Is(result.Errors[0], context.DeadlineExceeded) {
		t.Fatalf("expected a deadline error, got %v", result.Errors)
	}
	if result.Translated == nil || result.Translated.Original != "hello" {
		t.Fatalf("expected translation of the uncorrected text, got %+v", result.Translated)
	}
}

func TestRefineRequiresTranslatedTag(t *testing.T) {
	stub := &completerStub{complete: func(context.Context, []llms.Message) (string, error) {
		return "Bonjour", nil
	}}

	result := New(stub).Refine(context.Background(), Request{Text: "hello", TargetLanguage: "French"}, nil)
	if result.Translated != nil {
		t.Fatalf("expected no translation without the tag")
	}
	if len(result.Errors) != 1 || !errors.Is(result.Errors[0], ErrMissingTranslation) {
		t.Fatalf("expected missing translation error, got %v", result.Errors)
	}
}

func TestRefineRejectsEmptyCorrection(t *testing.T) {
	stub := &completerStub{complete: func(context.Context, []llms.Message) (string, error) {
		return "   ", nil
	}}

	result := New(stub).Refine(context.Background(), Request{Text: "hello", Correct: true}, nil)
	if result.Corrected != nil || !errors.Is(result.Errors[0], ErrEmptyResponse) {
		t.Fatalf("expected empty response failure, got %+v", result)
	}
}

func TestRefineSkipsDisabledOrEmptyRequests(t *testing.T) {
	stub := &completerStub{complete: func(context.Context, []llms.Message) (string, error) {
		t.Fatalf("completer should not be called")
		return "", nil
	}}

	r := New(stub)
	r.Refine(context.Background(), Request{Text: "hello"}, nil)
	r.Refine(context.Background(), Request{Text: "  ", Correct: true, TargetLanguage: "German"}, nil)
}

func TestExtractTranslationSpansLines(t *testing.T) {
	text, ok := extractTranslation("<translated>\nline one\nline two\n</translated>")
	if !ok || text != "line one\nline two" {
		t.Fatalf("unexpected extraction %q %v", text, ok)
	}
}
