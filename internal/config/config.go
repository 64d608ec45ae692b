package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the voice interview service
type Config struct {
	// Server configuration
	Port           string `envconfig:"PORT" default:"8080"`
	GRPCHealthPort string `envconfig:"GRPC_HEALTH_PORT" default:"9090"` // empty disables the gRPC health server
	PublicURL      string `envconfig:"PUBLIC_URL" default:""`           // only used for the startup log line

	// Chat completion
	LLMProvider    string  `envconfig:"LLM_PROVIDER" default:"openai"` // openai, gemini
	OpenAIAPIKey   string  `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL  string  `envconfig:"OPENAI_BASE_URL" default:""` // any OpenAI-compatible endpoint
	OpenAIModel    string  `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	GeminiAPIKey   string  `envconfig:"GEMINI_API_KEY"`
	GeminiModel    string  `envconfig:"GEMINI_MODEL" default:"gemini-2.0-flash"`
	LLMTemperature float32 `envconfig:"LLM_TEMPERATURE" default:"0.7"`
	LLMMaxTokens   int     `envconfig:"LLM_MAX_TOKENS" default:"8192"`

	// Speech recognition
	ASRProvider      string `envconfig:"ASR_PROVIDER" default:"openai"` // openai (whisper), deepgram
	WhisperModel     string `envconfig:"WHISPER_MODEL" default:"whisper-1"`
	ASRLanguage      string `envconfig:"ASR_LANGUAGE" default:"zh"`
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY"`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"zh-CN"`
	DeepgramTimeout  int    `envconfig:"DEEPGRAM_RESULT_TIMEOUT" default:"5"` // seconds to wait for final results

	// Speech synthesis
	TTSProvider     string `envconfig:"TTS_PROVIDER" default:"openai"` // openai, cartesia
	OpenAITTSModel  string `envconfig:"OPENAI_TTS_MODEL" default:"tts-1"`
	OpenAITTSVoice  string `envconfig:"OPENAI_TTS_VOICE" default:"alloy"`
	CartesiaAPIKey  string `envconfig:"CARTESIA_API_KEY"`
	CartesiaVoiceID string `envconfig:"CARTESIA_VOICE_ID" default:""`
	CartesiaModelID string `envconfig:"CARTESIA_MODEL_ID" default:"sonic"`
	TTSSampleRate   int    `envconfig:"TTS_SAMPLE_RATE" default:"24000"` // rate the provider renders at

	// Outbound audio
	OutputEncoding   string `envconfig:"OUTPUT_ENCODING" default:"pcm16"` // pcm16, mulaw
	OutputSampleRate int    `envconfig:"OUTPUT_SAMPLE_RATE" default:"0"`  // 0 keeps the TTS rate

	// Persistence
	StoreDriver string `envconfig:"STORE_DRIVER" default:"sqlite"` // sqlite, postgres
	DBPath      string `envconfig:"DB_PATH" default:"data/interview.db"`
	DatabaseURL string `envconfig:"DATABASE_URL" default:""`
	TopicsFile  string `envconfig:"TOPICS_FILE" default:"data/config/questions.json"`
	SnowflakeID int64  `envconfig:"SNOWFLAKE_NODE" default:"0"`

	// Conversation memory and maintenance
	ContextMaxLen       int `envconfig:"CONTEXT_MAX_LEN" default:"5000"`
	MaintenanceInterval int `envconfig:"MAINTENANCE_INTERVAL" default:"30"` // seconds
	RegistryIdleTTL     int `envconfig:"REGISTRY_IDLE_TTL" default:"1800"`  // seconds
	SegmentMinChars     int `envconfig:"SEGMENT_MIN_CHARS" default:"10"`

	// Endpointing and VAD
	EndpointMinBufferMs int     `envconfig:"ENDPOINT_MIN_BUFFER_MS" default:"500"`
	EndpointSilenceMs   int     `envconfig:"ENDPOINT_SILENCE_MS" default:"200"`
	EndpointNoiseMs     int     `envconfig:"ENDPOINT_NOISE_MS" default:"250"` // a lone voiced run from offset 0 shorter than this is noise
	MaxUtteranceSeconds int     `envconfig:"MAX_UTTERANCE_SECONDS" default:"30"`
	VADEnergyThreshold  float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"`
	VADFrameMs          int     `envconfig:"VAD_FRAME_MS" default:"20"`
	VADSilenceFrames    int     `envconfig:"VAD_SILENCE_FRAMES" default:"5"`
	VADMinSpeechFrames  int     `envconfig:"VAD_MIN_SPEECH_FRAMES" default:"2"`
	SessionQueueSize    int     `envconfig:"SESSION_QUEUE_SIZE" default:"64"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // seconds
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"` // milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"` // debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load reads configuration from a .env file (if present) and then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that every selected provider has its credentials and that
// numeric settings are usable.
func (c *Config) Validate() error {
	var errs []error

	switch c.LLMProvider {
	case "openai":
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required for LLM_PROVIDER=openai"))
		}
	case "gemini":
		if c.GeminiAPIKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY is required for LLM_PROVIDER=gemini"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported LLM_PROVIDER %q", c.LLMProvider))
	}

	switch c.ASRProvider {
	case "openai":
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required for ASR_PROVIDER=openai"))
		}
	case "deepgram":
		if c.DeepgramAPIKey == "" {
			errs = append(errs, errors.New("DEEPGRAM_API_KEY is required for ASR_PROVIDER=deepgram"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported ASR_PROVIDER %q", c.ASRProvider))
	}

	switch c.TTSProvider {
	case "openai":
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required for TTS_PROVIDER=openai"))
		}
	case "cartesia":
		if c.CartesiaAPIKey == "" || c.CartesiaVoiceID == "" {
			errs = append(errs, errors.New("CARTESIA_API_KEY and CARTESIA_VOICE_ID are required for TTS_PROVIDER=cartesia"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported TTS_PROVIDER %q", c.TTSProvider))
	}

	switch c.StoreDriver {
	case "sqlite":
	case "postgres":
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for STORE_DRIVER=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver))
	}

	if c.OutputEncoding != "pcm16" && c.OutputEncoding != "mulaw" {
		errs = append(errs, fmt.Errorf("unsupported OUTPUT_ENCODING %q", c.OutputEncoding))
	}
	if c.ContextMaxLen <= 0 {
		errs = append(errs, errors.New("CONTEXT_MAX_LEN must be positive"))
	}
	if c.MaintenanceInterval <= 0 {
		errs = append(errs, errors.New("MAINTENANCE_INTERVAL must be positive"))
	}
	if c.SessionQueueSize <= 0 {
		errs = append(errs, errors.New("SESSION_QUEUE_SIZE must be positive"))
	}
	if c.VADFrameMs <= 0 {
		errs = append(errs, errors.New("VAD_FRAME_MS must be positive"))
	}

	return errors.Join(errs...)
}

// Maintenance returns the sweep period.
func (c *Config) Maintenance() time.Duration {
	return time.Duration(c.MaintenanceInterval) * time.Second
}

// IdleTTL returns how long an unused registry entry is kept in memory.
func (c *Config) IdleTTL() time.Duration {
	return time.Duration(c.RegistryIdleTTL) * time.Second
}

// BreakerReset returns the circuit breaker cool-down.
func (c *Config) BreakerReset() time.Duration {
	return time.Duration(c.CircuitBreakerResetTimeout) * time.Second
}

// RetryBackoff returns the first retry delay.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.RetryInitialBackoff) * time.Millisecond
}

// OutputRate is the sample rate of audio sent to clients.
func (c *Config) OutputRate() int {
	if c.OutputSampleRate > 0 {
		return c.OutputSampleRate
	}
	if c.OutputEncoding == "mulaw" {
		return 8000
	}
	return c.TTSSampleRate
}

// LoadTopics reads the interview topic list. A missing file means no topics.
// JSON arrays are valid YAML, so a questions.json list loads as-is.
func LoadTopics(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read topics file: %w", err)
	}

	var topics []string
	if err := yaml.Unmarshal(data, &topics); err != nil {
		return nil, fmt.Errorf("failed to parse topics file %s: %w", path, err)
	}

	out := topics[:0]
	for _, t := range topics {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out, nil
}
