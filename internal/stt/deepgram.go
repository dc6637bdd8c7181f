package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/lexiqai/voice-bridge/internal/config"
	"github.com/lexiqai/voice-bridge/internal/resilience"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// deepgramTranscriber is the slice of the SDK's REST client we use.
type deepgramTranscriber interface {
	FromStream(ctx context.Context, src *bytes.Reader, options *interfaces.PreRecordedTranscriptionOptions) (any, error)
}

// sdkTranscriber adapts the SDK client to deepgramTranscriber.
type sdkTranscriber struct {
	client *api.Client
}

func (s sdkTranscriber) FromStream(ctx context.Context, src *bytes.Reader, options *interfaces.PreRecordedTranscriptionOptions) (any, error) {
	return s.client.FromStream(ctx, src, options)
}

// DeepgramRecognizer implements Recognizer using Deepgram's pre-recorded API.
type DeepgramRecognizer struct {
	model   string
	dg      deepgramTranscriber
	breaker *resilience.CircuitBreaker
	retry   *resilience.RetryConfig
	logger  zerolog.Logger
}

// NewDeepgramRecognizer creates a Deepgram recognizer from config.
func NewDeepgramRecognizer(cfg *config.Config) *DeepgramRecognizer {
	listenClient.InitWithDefault()
	c := listenClient.NewREST(cfg.DeepgramAPIKey, &interfaces.ClientOptions{})

	return &DeepgramRecognizer{
		model: cfg.DeepgramModel,
		dg:    sdkTranscriber{client: api.New(c)},
		breaker: resilience.NewInstrumentedCircuitBreaker(
			"deepgram",
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
		logger: log.With().Str("component", "stt").Str("provider", "deepgram").Logger(),
	}
}

// deepgramResponse is the subset of the pre-recorded response we read.
type deepgramResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe implements Recognizer.
func (d *DeepgramRecognizer) Transcribe(ctx context.Context, wav []byte, language string) (string, error) {
	if len(wav) == 0 {
		return "", ErrEmptyAudio
	}

	options := &interfaces.PreRecordedTranscriptionOptions{
		Model:       d.model,
		Language:    language,
		Punctuate:   true,
		SmartFormat: true,
	}

	var raw any
	err := d.breaker.Call(func() error {
		return resilience.Retry(ctx, func(ctx context.Context) error {
			var err error
			raw, err = d.dg.FromStream(ctx, bytes.NewReader(wav), options)
			return err
		}, d.retry, resilience.IsRetryableNetworkError)
	})
	if err != nil {
		return "", fmt.Errorf("deepgram transcribe: %w", err)
	}

	text, confidence, err := extractDeepgramTranscript(raw)
	if err != nil {
		return "", err
	}
	d.logger.Debug().Int("wav_bytes", len(wav)).Float64("confidence", confidence).Msg("Transcription received")
	return text, nil
}

// extractDeepgramTranscript reads the best alternative of the first channel.
func extractDeepgramTranscript(raw any) (string, float64, error) {
	payload, err := json.Marshal(raw)
	if err != nil {
		return "", 0, fmt.Errorf("deepgram: encode response: %w", err)
	}
	var res deepgramResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return "", 0, fmt.Errorf("deepgram: decode response: %w", err)
	}
	if len(res.Results.Channels) == 0 || len(res.Results.Channels[0].Alternatives) == 0 {
		return "", 0, nil
	}
	alt := res.Results.Channels[0].Alternatives[0]
	return strings.TrimSpace(alt.Transcript), alt.Confidence, nil
}
