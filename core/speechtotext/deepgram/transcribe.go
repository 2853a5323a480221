// Package deepgram transcribes buffered audio with Deepgram's streaming
// listen API. Each Transcribe call opens its own socket, streams the buffer
// and waits for the service to flush every final result.
package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-dictation/core/audio"
	"github.com/koscakluka/ema-dictation/core/speechtotext"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultListenURL = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"

	chunkDuration = 100 * time.Millisecond
)

type TranscriptionClient struct {
	apiKey    string
	listenURL string
	model     string
	dialer    *websocket.Dialer
}

type Option func(*TranscriptionClient)

func WithModel(model string) Option {
	return func(c *TranscriptionClient) { c.model = model }
}

// WithListenURL points the client at a different listen endpoint, such as a
// self-hosted deployment.
func WithListenURL(listenURL string) Option {
	return func(c *TranscriptionClient) { c.listenURL = listenURL }
}

func NewTranscriptionClient(apiKey string, opts ...Option) (*TranscriptionClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("deepgram api key not set")
	}

	c := &TranscriptionClient{
		apiKey:    apiKey,
		listenURL: defaultListenURL,
		model:     defaultModel,
		dialer:    &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *TranscriptionClient) Transcribe(ctx context.Context, pcm []byte, opts ...speechtotext.TranscriptionOption) (string, error) {
	options := speechtotext.NewTranscriptionOptions(opts...)

	ctx, span := tracer.Start(ctx, "transcribe audio")
	defer span.End()
	span.SetAttributes(
		attribute.Bool("request.partial", options.Partial),
		attribute.Int("request.audio_bytes", len(pcm)),
	)

	transcript, err := c.transcribe(ctx, pcm, options)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return transcript, nil
}

func (c *TranscriptionClient) transcribe(ctx context.Context, pcm []byte, options speechtotext.TranscriptionOptions) (string, error) {
	encoding := options.EncodingInfo
	if encoding.IsZero() {
		encoding = audio.GetDefaultEncodingInfo()
	}
	if err := checkEncoding(encoding); err != nil {
		return "", err
	}

	listenURL, err := c.buildURL(encoding, options)
	if err != nil {
		return "", err
	}

	conn, _, err := c.dialer.DialContext(ctx, listenURL, http.Header{"Authorization": {"Token " + c.apiKey}})
	if err != nil {
		return "", fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}
	defer conn.Close()

	// Unblock reads and writes when the caller gives up.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	writeErr := make(chan error, 1)
	go func() { writeErr <- streamAudio(conn, pcm, encoding.BytesPerSecond()) }()

	var finals []string
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return "", fmt.Errorf("failed to read deepgram message: %w", err)
			}
			break
		}
		if msgType == websocket.BinaryMessage {
			continue
		}

		final, interim, err := parseMessage(msg)
		if err != nil {
			logger.Debug("failed to parse deepgram message", "error", err)
			continue
		}
		if final != "" {
			finals = append(finals, final)
		}
		if options.HypothesisCallback != nil && (final != "" || interim != "") {
			options.HypothesisCallback(hypothesis(finals, interim))
		}
	}

	if err := <-writeErr; err != nil {
		return "", err
	}
	return strings.Join(finals, " "), nil
}

func (c *TranscriptionClient) buildURL(encoding audio.EncodingInfo, options speechtotext.TranscriptionOptions) (string, error) {
	listenURL, err := url.Parse(c.listenURL)
	if err != nil {
		return "", fmt.Errorf("invalid listen url: %w", err)
	}

	queryParams := listenURL.Query()
	queryParams.Set("encoding", encoding.Format.Name())
	queryParams.Set("sample_rate", strconv.Itoa(encoding.SampleRate))
	queryParams.Set("channels", "1")
	queryParams.Set("model", c.model)
	queryParams.Set("smart_format", "true")
	if options.Language != "" {
		queryParams.Set("language", options.Language)
	} else {
		queryParams.Set("detect_language", "true")
	}
	if options.HypothesisCallback != nil {
		queryParams.Set("interim_results", "true")
	}

	listenURL.RawQuery = queryParams.Encode()
	return listenURL.String(), nil
}

func streamAudio(conn *websocket.Conn, pcm []byte, bytesPerSecond int) error {
	chunkSize := max(bytesPerSecond*int(chunkDuration/time.Millisecond)/1000, 1)
	for start := 0; start < len(pcm); start += chunkSize {
		end := min(start+chunkSize, len(pcm))
		if err := conn.WriteMessage(websocket.BinaryMessage, pcm[start:end]); err != nil {
			return fmt.Errorf("failed to write to deepgram client: %w", err)
		}
	}

	if err := conn.WriteJSON(struct {
		Type string `json:"type"`
	}{Type: string(api.TypeCloseStreamResponse)}); err != nil {
		return fmt.Errorf("failed to close deepgram stream: %w", err)
	}
	return nil
}

// parseMessage extracts either a final or an interim transcript from a
// listen response.
func parseMessage(msg []byte) (final string, interim string, err error) {
	var parsedMsg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &parsedMsg); err != nil {
		return "", "", err
	}

	switch api.TypeResponse(parsedMsg.Type) {
	case api.TypeMessageResponse:
		var msgResp api.MessageResponse
		if err := json.Unmarshal(msg, &msgResp); err != nil {
			return "", "", err
		}
		if len(msgResp.Channel.Alternatives) == 0 {
			return "", "", nil
		}

		transcript := strings.TrimSpace(msgResp.Channel.Alternatives[0].Transcript)
		if msgResp.IsFinal {
			return transcript, "", nil
		}
		return "", transcript, nil
	}

	return "", "", nil
}

func hypothesis(finals []string, interim string) string {
	text := strings.Join(finals, " ")
	if interim == "" {
		return text
	}
	return strings.TrimSpace(text + " " + interim)
}
