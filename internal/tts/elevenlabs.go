package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lexiqai/voice-bridge/internal/audio"
	"github.com/lexiqai/voice-bridge/internal/config"
	"github.com/lexiqai/voice-bridge/internal/resilience"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// elevenLabsOutputFormat asks for raw 8 kHz PCM so no resampling is needed.
const elevenLabsOutputFormat = "pcm_8000"

// ElevenLabsSynthesizer implements Synthesizer using the ElevenLabs streaming
// text-to-speech endpoint.
type ElevenLabsSynthesizer struct {
	apiKey     string
	baseURL    string
	voiceID    string
	model      string
	language   string
	settings   VoiceSettings
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	retry      *resilience.RetryConfig
	logger     zerolog.Logger
}

// VoiceSettings tunes the ElevenLabs voice.
type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
	Speed           float64 `json:"speed"`
}

type elevenLabsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	LanguageCode  string        `json:"language_code,omitempty"`
	VoiceSettings VoiceSettings `json:"voice_settings"`
}

// NewElevenLabsSynthesizer creates a synthesizer from config.
func NewElevenLabsSynthesizer(cfg *config.Config) *ElevenLabsSynthesizer {
	return &ElevenLabsSynthesizer{
		apiKey:   cfg.ElevenLabsAPIKey,
		baseURL:  strings.TrimRight(cfg.ElevenLabsBaseURL, "/"),
		voiceID:  cfg.ElevenLabsVoiceID,
		model:    cfg.ElevenLabsTTSModel,
		language: cfg.Language,
		settings: VoiceSettings{
			Stability:       cfg.ElevenLabsStability,
			SimilarityBoost: cfg.ElevenLabsSimilarityBoost,
			Style:           cfg.ElevenLabsStyle,
			UseSpeakerBoost: cfg.ElevenLabsSpeakerBoost,
			Speed:           cfg.ElevenLabsSpeed,
		},
		httpClient: &http.Client{Timeout: cfg.ProviderTimeoutDuration()},
		breaker: resilience.NewInstrumentedCircuitBreaker(
			"elevenlabs_tts",
			cfg.CircuitBreakerMaxFailures,
			cfg.CircuitBreakerResetDuration(),
		),
		retry:  retryConfig(cfg),
		logger: log.With().Str("component", "tts").Str("provider", "elevenlabs").Logger(),
	}
}

// Synthesize implements Synthesizer.
func (s *ElevenLabsSynthesizer) Synthesize(ctx context.Context, text string) (*Synthesis, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	var pcm []byte
	err := s.breaker.Call(func() error {
		return resilience.Retry(ctx, func(ctx context.Context) error {
			var err error
			pcm, err = s.synthesizeOnce(ctx, text)
			return err
		}, s.retry, resilience.IsRetryableNetworkError)
	})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs synthesize: %w", err)
	}
	return &Synthesis{PCM: pcm, SampleRate: audio.SampleRate}, nil
}

func (s *ElevenLabsSynthesizer) synthesizeOnce(ctx context.Context, text string) ([]byte, error) {
	body, err := json.Marshal(elevenLabsRequest{
		Text:          text,
		ModelID:       s.model,
		LanguageCode:  s.language,
		VoiceSettings: s.settings,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s/stream?output_format=%s",
		s.baseURL, url.PathEscape(s.voiceID), elevenLabsOutputFormat)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", s.apiKey)

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus("elevenlabs", resp.StatusCode, pcm)
	}
	if len(pcm) == 0 {
		return nil, resilience.NewRetryableError(fmt.Errorf("elevenlabs returned empty audio"))
	}
	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}

	s.logger.Debug().
		Int("text_len", len(text)).
		Int("pcm_bytes", len(pcm)).
		Dur("latency", time.Since(start)).
		Msg("Synthesis received")
	return pcm, nil
}

func retryConfig(cfg *config.Config) *resilience.RetryConfig {
	return &resilience.RetryConfig{
		MaxAttempts:       cfg.RetryMaxAttempts,
		InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}
