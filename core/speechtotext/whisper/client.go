// Package whisper transcribes audio through a local whisper.cpp server
// (`whisper-server`), which keeps the model resident between requests.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/koscakluka/ema-dictation/core/audio"
	"github.com/koscakluka/ema-dictation/core/speechtotext"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const DefaultEndpoint = "http://127.0.0.1:8080"

type Client struct {
	endpoint   string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.httpClient = client }
}

func NewClient(endpoint string, opts ...Option) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	c := &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(operationName string, request *http.Request) string {
				return operationName + " " + request.URL.Path
			}),
		)},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type inferenceResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

func (c *Client) Transcribe(ctx context.Context, pcm []byte, opts ...speechtotext.TranscriptionOption) (string, error) {
	options := speechtotext.NewTranscriptionOptions(opts...)

	ctx, span := tracer.Start(ctx, "transcribe audio")
	defer span.End()
	span.SetAttributes(
		attribute.Bool("request.partial", options.Partial),
		attribute.Int("request.audio_bytes", len(pcm)),
	)

	if options.EncodingInfo.Format != audio.EncodingLinear16 {
		err := fmt.Errorf("unsupported encoding %q", options.EncodingInfo.Format.Name())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	wav, err := audio.EncodeWAV(pcm, options.EncodingInfo.SampleRate)
	if err != nil {
		err = fmt.Errorf("failed to encode audio: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	body, contentType, err := inferenceForm(wav, options)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/inference", body)
	if err != nil {
		err = fmt.Errorf("error creating HTTP request: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = fmt.Errorf("error sending request: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
	responseBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		err = fmt.Errorf("error reading response body: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("non-OK HTTP status: %s: %s", resp.Status, strings.TrimSpace(string(responseBytes)))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	var response inferenceResponse
	if err := json.Unmarshal(responseBytes, &response); err != nil {
		err = fmt.Errorf("error unmarshalling response body: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	if response.Error != "" {
		err := fmt.Errorf("inference failed: %s", response.Error)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	transcript := normaliseTranscript(response.Text)
	if options.HypothesisCallback != nil && transcript != "" {
		options.HypothesisCallback(transcript)
	}
	return transcript, nil
}

func inferenceForm(wav []byte, options speechtotext.TranscriptionOptions) (io.Reader, string, error) {
	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)

	file, err := form.CreateFormFile("file", "segment.wav")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := file.Write(wav); err != nil {
		return nil, "", fmt.Errorf("failed to write form file: %w", err)
	}

	fields := map[string]string{
		"response_format": "json",
		"temperature":     "0.0",
		"language":        normaliseLanguage(options.Language),
	}
	if options.Partial {
		// Partials are thrown away quickly, greedy decoding is enough.
		fields["best_of"] = "1"
		fields["beam_size"] = "1"
	}
	for name, value := range fields {
		if err := form.WriteField(name, value); err != nil {
			return nil, "", fmt.Errorf("failed to write form field %s: %w", name, err)
		}
	}

	if err := form.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close form: %w", err)
	}
	return body, form.FormDataContentType(), nil
}

// Prepare waits for the server to report a loaded model. whisper-server
// answers 503 while loading.
func (c *Client) Prepare(ctx context.Context, report func(speechtotext.PrepareStage)) error {
	ctx, span := tracer.Start(ctx, "prepare recognizer")
	defer span.End()

	reported := false
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		ready, err := c.health(ctx)
		if err != nil {
			err = fmt.Errorf("whisper server unavailable: %w", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		if ready {
			return nil
		}

		if !reported && report != nil {
			report(speechtotext.PrepareLoading)
			reported = true
		}

		select {
		case <-ctx.Done():
			span.RecordError(ctx.Err())
			span.SetStatus(codes.Error, ctx.Err().Error())
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) health(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/health", nil)
	if err != nil {
		return false, fmt.Errorf("error creating HTTP request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusServiceUnavailable:
		logger.Debug("whisper server is still loading the model")
		return false, nil
	default:
		return false, fmt.Errorf("unexpected health status: %s", resp.Status)
	}
}

func normaliseTranscript(text string) string {
	text = strings.TrimSpace(text)
	// whisper marks non-speech with bracketed tags like [BLANK_AUDIO]
	if strings.HasPrefix(text, "[") && strings.HasSuffix(text, "]") && !strings.Contains(text[1:], "[") {
		return ""
	}
	return text
}

func normaliseLanguage(language string) string {
	if trimmed := strings.TrimSpace(language); trimmed != "" {
		return trimmed
	}
	return "auto"
}
