package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Provider names accepted by STT_PROVIDER and TTS_PROVIDER.
const (
	ProviderElevenLabs = "elevenlabs"
	ProviderDeepgram   = "deepgram"
	ProviderCartesia   = "cartesia"
)

// Config holds all configuration for the voice bridge service
type Config struct {
	// Server configuration
	Port        string `envconfig:"PORT" default:"8080"`
	GRPCPort    string `envconfig:"GRPC_PORT" default:"9090"`
	GRPCEnabled bool   `envconfig:"GRPC_ENABLED" default:"true"`

	// Public host name Twilio reaches us on (e.g. xxx.ngrok-free.app).
	// Used in the TwiML <Stream> URL; falls back to the request Host header.
	PublicHost string `envconfig:"PUBLIC_HOST" default:""`

	// Shared secret for the query endpoint (x-api-key header / gRPC metadata)
	APIKey string `envconfig:"API_KEY" required:"true"`

	// Twilio REST credentials, used to end calls
	TwilioAccountSID string `envconfig:"TWILIO_ACCOUNT_SID" required:"true"`
	TwilioAuthToken  string `envconfig:"TWILIO_AUTH_TOKEN" required:"true"`

	// Provider selection
	STTProvider string `envconfig:"STT_PROVIDER" default:"elevenlabs"` // elevenlabs, deepgram
	TTSProvider string `envconfig:"TTS_PROVIDER" default:"elevenlabs"` // elevenlabs, cartesia
	Language    string `envconfig:"LANGUAGE" default:"es"`             // Recognition/synthesis language code

	// ElevenLabs configuration
	ElevenLabsAPIKey          string  `envconfig:"ELEVENLABS_API_KEY"`
	ElevenLabsBaseURL         string  `envconfig:"ELEVENLABS_BASE_URL" default:"https://api.elevenlabs.io"`
	ElevenLabsSTTModel        string  `envconfig:"ELEVENLABS_STT_MODEL" default:"scribe_v1"`
	ElevenLabsTTSModel        string  `envconfig:"ELEVENLABS_TTS_MODEL" default:"eleven_flash_v2_5"`
	ElevenLabsVoiceID         string  `envconfig:"ELEVENLABS_VOICE_ID" default:"5IDdqnXnlsZ1FCxoOFYg"`
	ElevenLabsStability       float64 `envconfig:"ELEVENLABS_STABILITY" default:"0.0"`
	ElevenLabsSimilarityBoost float64 `envconfig:"ELEVENLABS_SIMILARITY_BOOST" default:"1.0"`
	ElevenLabsStyle           float64 `envconfig:"ELEVENLABS_STYLE" default:"1.0"`
	ElevenLabsSpeakerBoost    bool    `envconfig:"ELEVENLABS_SPEAKER_BOOST" default:"true"`
	ElevenLabsSpeed           float64 `envconfig:"ELEVENLABS_SPEED" default:"1.0"`

	// Deepgram STT API configuration
	DeepgramAPIKey string `envconfig:"DEEPGRAM_API_KEY"`
	DeepgramModel  string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"` // nova-2, enhanced, base

	// Cartesia TTS API configuration
	CartesiaAPIKey  string `envconfig:"CARTESIA_API_KEY"`
	CartesiaBaseURL string `envconfig:"CARTESIA_BASE_URL" default:"https://api.cartesia.ai"`
	CartesiaVoiceID string `envconfig:"CARTESIA_VOICE_ID" default:"sonic-spanish"`
	CartesiaModelID string `envconfig:"CARTESIA_MODEL_ID" default:"sonic"`

	// Provider HTTP timeout
	ProviderTimeout int `envconfig:"PROVIDER_TIMEOUT" default:"30"` // seconds

	// Turn-taking configuration
	VADEnergyThreshold   float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"`       // RMS energy threshold for VAD
	VADSilenceFrames     int     `envconfig:"VAD_SILENCE_FRAMES" default:"140"`           // Trailing silence frames that close an utterance
	TalkTimeout          int     `envconfig:"TALK_TIMEOUT" default:"50"`                  // seconds; reply wait and idle threshold
	QueryTimeout         int     `envconfig:"QUERY_TIMEOUT" default:"30"`                 // seconds; default query endpoint wait
	OutboundPollInterval int     `envconfig:"OUTBOUND_POLL_INTERVAL" default:"200"`       // milliseconds
	OutboundChunkBytes   int     `envconfig:"OUTBOUND_CHUNK_BYTES" default:"8000"`        // PCM bytes per outbound media event
	PlaybackMarkName     string  `envconfig:"PLAYBACK_MARK_NAME" default:"endOfPlayback"` // mark the far end echoes after playback

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`         // Maximum reconnection attempts
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // Reconnection backoff in milliseconds

	// Lifecycle event fan-out (disabled when NATS_URL is empty)
	NATSURL           string `envconfig:"NATS_URL" default:""`
	NATSSubjectPrefix string `envconfig:"NATS_SUBJECT_PREFIX" default:"voicebridge"`

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
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

// Validate checks cross-field requirements envconfig cannot express.
func (c *Config) Validate() error {
	switch c.STTProvider {
	case ProviderElevenLabs:
		if c.ElevenLabsAPIKey == "" {
			return fmt.Errorf("ELEVENLABS_API_KEY is required when STT_PROVIDER=%s", c.STTProvider)
		}
	case ProviderDeepgram:
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required when STT_PROVIDER=%s", c.STTProvider)
		}
	default:
		return fmt.Errorf("unsupported STT_PROVIDER %q", c.STTProvider)
	}

	switch c.TTSProvider {
	case ProviderElevenLabs:
		if c.ElevenLabsAPIKey == "" {
			return fmt.Errorf("ELEVENLABS_API_KEY is required when TTS_PROVIDER=%s", c.TTSProvider)
		}
	case ProviderCartesia:
		if c.CartesiaAPIKey == "" {
			return fmt.Errorf("CARTESIA_API_KEY is required when TTS_PROVIDER=%s", c.TTSProvider)
		}
	default:
		return fmt.Errorf("unsupported TTS_PROVIDER %q", c.TTSProvider)
	}

	if c.VADSilenceFrames < 1 {
		return fmt.Errorf("VAD_SILENCE_FRAMES must be at least 1")
	}
	if c.TalkTimeout <= 0 || c.QueryTimeout <= 0 || c.OutboundPollInterval <= 0 {
		return fmt.Errorf("TALK_TIMEOUT, QUERY_TIMEOUT and OUTBOUND_POLL_INTERVAL must be positive")
	}
	if c.OutboundChunkBytes <= 0 || c.OutboundChunkBytes%2 != 0 {
		return fmt.Errorf("OUTBOUND_CHUNK_BYTES must be a positive even number")
	}
	return nil
}

func (c *Config) TalkTimeoutDuration() time.Duration {
	return time.Duration(c.TalkTimeout) * time.Second
}

func (c *Config) QueryTimeoutDuration() time.Duration {
	return time.Duration(c.QueryTimeout) * time.Second
}

func (c *Config) OutboundPollDuration() time.Duration {
	return time.Duration(c.OutboundPollInterval) * time.Millisecond
}

func (c *Config) ProviderTimeoutDuration() time.Duration {
	return time.Duration(c.ProviderTimeout) * time.Second
}

func (c *Config) CircuitBreakerResetDuration() time.Duration {
	return time.Duration(c.CircuitBreakerResetTimeout) * time.Second
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
