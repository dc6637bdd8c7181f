package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lexiqai/voice-bridge/internal/config"
	"github.com/lexiqai/voice-bridge/internal/resilience"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	cartesiaAPIVersion = "2024-06-10"
	cartesiaSampleRate = 24000 // Cartesia renders at 24kHz; resampled before sending
)

// CartesiaSynthesizer implements Synthesizer using Cartesia's bytes endpoint
type CartesiaSynthesizer struct {
	apiKey     string
	baseURL    string
	voiceID    string
	modelID    string
	language   string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	retry      *resilience.RetryConfig
	logger     zerolog.Logger
}

// CartesiaRequest represents the request payload for Cartesia TTS API
type CartesiaRequest struct {
	ModelID      string               `json:"model_id"`
	Transcript   string               `json:"transcript"`
	Voice        CartesiaVoice        `json:"voice"`
	OutputFormat CartesiaOutputFormat `json:"output_format"`
	Language     string               `json:"language,omitempty"`
}

type CartesiaVoice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type CartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// NewCartesiaSynthesizer creates a new Cartesia TTS client
func NewCartesiaSynthesizer(cfg *config.Config) *CartesiaSynthesizer {
	return &CartesiaSynthesizer{
		apiKey:     cfg.CartesiaAPIKey,
		baseURL:    strings.TrimRight(cfg.CartesiaBaseURL, "/"),
		voiceID:    cfg.CartesiaVoiceID,
		modelID:    cfg.CartesiaModelID,
		language:   cfg.Language,
		httpClient: &http.Client{Timeout: cfg.ProviderTimeoutDuration()},
		breaker: resilience.NewInstrumentedCircuitBreaker(
			"cartesia",
			cfg.CircuitBreakerMaxFailures,
			cfg.CircuitBreakerResetDuration(),
		),
		retry:  retryConfig(cfg),
		logger: log.With().Str("component", "tts").Str("provider", "cartesia").Logger(),
	}
}

// Synthesize converts text to 24kHz PCM
func (c *CartesiaSynthesizer) Synthesize(ctx context.Context, text string) (*Synthesis, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	var pcm []byte
	err := c.breaker.Call(func() error {
		return resilience.Retry(ctx, func(ctx context.Context) error {
			var err error
			pcm, err = c.synthesizeOnce(ctx, text)
			return err
		}, c.retry, resilience.IsRetryableNetworkError)
	})
	if err != nil {
		return nil, fmt.Errorf("cartesia synthesize: %w", err)
	}
	return &Synthesis{PCM: pcm, SampleRate: cartesiaSampleRate}, nil
}

func (c *CartesiaSynthesizer) synthesizeOnce(ctx context.Context, text string) ([]byte, error) {
	jsonData, err := json.Marshal(CartesiaRequest{
		ModelID:    c.modelID,
		Transcript: text,
		Voice:      CartesiaVoice{Mode: "id", ID: c.voiceID},
		OutputFormat: CartesiaOutputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: cartesiaSampleRate,
		},
		Language: c.language,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tts/bytes", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Cartesia-Version", cartesiaAPIVersion)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus("cartesia", resp.StatusCode, audioData)
	}
	if len(audioData) == 0 {
		return nil, resilience.NewRetryableError(fmt.Errorf("cartesia returned empty audio"))
	}
	if len(audioData)%2 != 0 {
		audioData = audioData[:len(audioData)-1]
	}

	c.logger.Debug().Int("pcm_bytes", len(audioData)).Dur("latency", time.Since(start)).Msg("Synthesis received")
	return audioData, nil
}
