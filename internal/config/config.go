// Package config loads the daemon configuration from a YAML file, a .env
// file and the environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	VAD       VADConfig       `yaml:"vad"`
	ASR       ASRConfig       `yaml:"asr"`
	LLM       LLMConfig       `yaml:"llm"`
	Session   SessionConfig   `yaml:"session"`
	Channel   ChannelConfig   `yaml:"channel"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ServerConfig struct {
	Address string `yaml:"address" validate:"required"`
	Port    int    `yaml:"port" validate:"min=1,max=65535"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Address, s.Port)
}

type AudioConfig struct {
	Backend string `yaml:"backend" validate:"oneof=miniaudio portaudio"`
	// QueueCapacity is the soft limit of queued capture chunks.
	QueueCapacity int `yaml:"queue_capacity" validate:"min=1"`
	// BufferSize is the PortAudio frames per buffer.
	BufferSize int `yaml:"buffer_size" validate:"min=64"`
}

type VADConfig struct {
	Threshold       float32       `yaml:"threshold" validate:"gt=0,lte=1"`
	StartFrames     int           `yaml:"start_frames" validate:"min=1"`
	Hangover        time.Duration `yaml:"hangover" validate:"gt=0"`
	MaxDuration     time.Duration `yaml:"max_duration" validate:"gtfield=Hangover"`
	ClassifyTimeout time.Duration `yaml:"classify_timeout" validate:"gt=0"`
	// EnergyReference is the RMS treated as certain speech.
	EnergyReference float64 `yaml:"energy_reference" validate:"gt=0"`
}

type ASRConfig struct {
	Provider string `yaml:"provider" validate:"oneof=whisper deepgram"`
	// Endpoint is the whisper.cpp server URL.
	Endpoint string `yaml:"endpoint" validate:"omitempty,url"`
	APIKey   string `yaml:"api_key" validate:"required_if=Provider deepgram"`
	Model    string `yaml:"model"`
	Language string `yaml:"language"`

	FinalTimeout    time.Duration `yaml:"final_timeout" validate:"gt=0"`
	PartialInterval time.Duration `yaml:"partial_interval" validate:"gt=0"`
	PartialMinAudio time.Duration `yaml:"partial_min_audio" validate:"gte=0"`
	PartialTimeout  time.Duration `yaml:"partial_timeout" validate:"gt=0"`
	DisablePartials bool          `yaml:"disable_partials"`
}

type LLMConfig struct {
	Provider    string        `yaml:"provider" validate:"oneof=openai ollama groq"`
	APIBase     string        `yaml:"api_base" validate:"omitempty,url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Timeout     time.Duration `yaml:"timeout" validate:"gt=0"`
	Temperature float64       `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int           `yaml:"max_tokens" validate:"min=1"`
	Concurrency int           `yaml:"concurrency" validate:"min=1,max=8"`
}

// Enabled reports whether refinement can reach a model. Ollama runs
// locally and needs no key.
func (c LLMConfig) Enabled() bool {
	return c.APIKey != "" || c.Provider == "ollama"
}

type SessionConfig struct {
	CorrectionEnabled  bool   `yaml:"correction_enabled"`
	TranslationEnabled bool   `yaml:"translation_enabled"`
	TargetLanguage     string `yaml:"target_language"`
	ContextCount       int    `yaml:"context_count" validate:"min=0,max=32"`
	AutoInput          bool   `yaml:"auto_input"`
	ReportSpeaking     bool   `yaml:"report_speaking"`
}

type ChannelConfig struct {
	OutboxCapacity int           `yaml:"outbox_capacity" validate:"min=1"`
	PingInterval   time.Duration `yaml:"ping_interval" validate:"gt=0"`
	PongWait       time.Duration `yaml:"pong_wait" validate:"gtfield=PingInterval"`
	DrainGrace     time.Duration `yaml:"drain_grace" validate:"gte=0"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
	// StreamHistory is how many records /ws/logs replays on connect.
	StreamHistory int `yaml:"stream_history" validate:"min=1,max=10000"`
}

type TelemetryConfig struct {
	ServiceName string `yaml:"service_name" validate:"required"`
	// OTLPEndpoint is host:port of an OTLP/HTTP collector. Tracing stays
	// off when empty.
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	Insecure     bool    `yaml:"insecure"`
	SampleRate   float64 `yaml:"sample_rate" validate:"gte=0,lte=1"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{Address: "127.0.0.1", Port: 8765},
		Audio:  AudioConfig{Backend: "miniaudio", QueueCapacity: 256, BufferSize: 512},
		VAD: VADConfig{
			Threshold:       0.5,
			StartFrames:     2,
			Hangover:        600 * time.Millisecond,
			MaxDuration:     30 * time.Second,
			ClassifyTimeout: 100 * time.Millisecond,
			EnergyReference: 1500,
		},
		ASR: ASRConfig{
			Provider:        "whisper",
			Endpoint:        "http://127.0.0.1:8080",
			FinalTimeout:    30 * time.Second,
			PartialInterval: time.Second,
			PartialMinAudio: 500 * time.Millisecond,
			PartialTimeout:  5 * time.Second,
		},
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			Timeout:     10 * time.Second,
			Temperature: 0.3,
			MaxTokens:   500,
			Concurrency: 2,
		},
		Session: SessionConfig{ContextCount: 3},
		Channel: ChannelConfig{
			OutboxCapacity: 1024,
			PingInterval:   20 * time.Second,
			PongWait:       60 * time.Second,
			DrainGrace:     2 * time.Second,
		},
		Logging:   LoggingConfig{Level: "info", Format: "text", StreamHistory: 100},
		Telemetry: TelemetryConfig{ServiceName: "ema-dictation", Insecure: true, SampleRate: 1},
	}
}

// Load reads path over the defaults, then envFile, then the environment.
// Missing files are skipped.
func Load(path, envFile string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &config); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}
	if err := config.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &config, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, target *string) {
		if v, ok := lookup(key); ok && v != "" {
			*target = v
		}
	}
	str("LLM_PROVIDER", &c.LLM.Provider)
	str("LLM_API_KEY", &c.LLM.APIKey)
	str("LLM_API_BASE", &c.LLM.APIBase)
	str("LLM_MODEL", &c.LLM.Model)
	str("ASR_LANGUAGE", &c.ASR.Language)
	str("ASR_PROVIDER", &c.ASR.Provider)
	str("DEEPGRAM_API_KEY", &c.ASR.APIKey)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Telemetry.OTLPEndpoint)

	if v, ok := lookup("LLM_TIMEOUT"); ok && v != "" {
		timeout, err := parseSeconds(v)
		if err != nil {
			return fmt.Errorf("invalid LLM_TIMEOUT: %w", err)
		}
		c.LLM.Timeout = timeout
	}
	if v, ok := lookup("LLM_TEMPERATURE"); ok && v != "" {
		temperature, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid LLM_TEMPERATURE: %w", err)
		}
		c.LLM.Temperature = temperature
	}
	if v, ok := lookup("EMA_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid EMA_PORT: %w", err)
		}
		c.Server.Port = port
	}
	return nil
}

// parseSeconds accepts both Go durations and plain seconds.
func parseSeconds(v string) (time.Duration, error) {
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var validationErrors validator.ValidationErrors
		if !errors.As(err, &validationErrors) {
			return err
		}

		messages := make([]string, 0, len(validationErrors))
		for _, e := range validationErrors {
			messages = append(messages, fmt.Sprintf("%s: failed %q (value %v)", e.Namespace(), e.Tag(), e.Value()))
		}
		return errors.New(strings.Join(messages, "; "))
	}

	if c.ASR.Provider == "whisper" && c.ASR.Endpoint == "" {
		return errors.New("asr.endpoint is required for the whisper provider")
	}
	if c.Session.TranslationEnabled && c.Session.TargetLanguage == "" {
		return errors.New("session.target_language is required when translation is enabled")
	}
	return nil
}
