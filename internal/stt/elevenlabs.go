package stt

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

	"github.com/lexiqai/voice-bridge/internal/config"
	"github.com/lexiqai/voice-bridge/internal/resilience"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ElevenLabsRecognizer implements Recognizer using the ElevenLabs batch
// speech-to-text endpoint.
type ElevenLabsRecognizer struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	retry      *resilience.RetryConfig
	logger     zerolog.Logger
}

type elevenLabsTranscript struct {
	Text         string  `json:"text"`
	LanguageCode string  `json:"language_code"`
	Probability  float64 `json:"language_probability"`
}

// NewElevenLabsRecognizer creates a recognizer from config.
func NewElevenLabsRecognizer(cfg *config.Config) *ElevenLabsRecognizer {
	return &ElevenLabsRecognizer{
		apiKey:     cfg.ElevenLabsAPIKey,
		baseURL:    strings.TrimRight(cfg.ElevenLabsBaseURL, "/"),
		model:      cfg.ElevenLabsSTTModel,
		httpClient: &http.Client{Timeout: cfg.ProviderTimeoutDuration()},
		breaker: resilience.NewInstrumentedCircuitBreaker(
			"elevenlabs_stt",
			cfg.CircuitBreakerMaxFailures,
			cfg.CircuitBreakerResetDuration(),
		),
		retry: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
		logger: log.With().Str("component", "stt").Str("provider", "elevenlabs").Logger(),
	}
}

// Transcribe implements Recognizer.
func (r *ElevenLabsRecognizer) Transcribe(ctx context.Context, wav []byte, language string) (string, error) {
	if len(wav) == 0 {
		return "", ErrEmptyAudio
	}

	var text string
	err := r.breaker.Call(func() error {
		return resilience.Retry(ctx, func(ctx context.Context) error {
			var err error
			text, err = r.transcribeOnce(ctx, wav, language)
			return err
		}, r.retry, resilience.IsRetryableNetworkError)
	})
	if err != nil {
		return "", fmt.Errorf("elevenlabs transcribe: %w", err)
	}
	return text, nil
}

func (r *ElevenLabsRecognizer) transcribeOnce(ctx context.Context, wav []byte, language string) (string, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	if err := form.WriteField("model_id", r.model); err != nil {
		return "", err
	}
	if language != "" {
		if err := form.WriteField("language_code", language); err != nil {
			return "", err
		}
	}
	part, err := form.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(wav); err != nil {
		return "", err
	}
	if err := form.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/speech-to-text", &body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("xi-api-key", r.apiKey)

	start := time.Now()
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus("elevenlabs", resp.StatusCode, payload)
	}

	var out elevenLabsTranscript
	if err := json.Unmarshal(payload, &out); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	r.logger.Debug().
		Int("wav_bytes", len(wav)).
		Dur("latency", time.Since(start)).
		Str("language", out.LanguageCode).
		Msg("Transcription received")
	return strings.TrimSpace(out.Text), nil
}
