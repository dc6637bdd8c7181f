package tts

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/lexiqai/voice-bridge/internal/audio"
	"github.com/lexiqai/voice-bridge/internal/resilience"
)

// ErrEmptyText is returned when Synthesize is called without text.
var ErrEmptyText = errors.New("tts: empty text")

// Synthesis is one rendered reply: mono 16-bit little-endian PCM.
type Synthesis struct {
	PCM        []byte
	SampleRate int
}

// Telephony returns the audio at the 8 kHz rate the media stream expects.
func (s *Synthesis) Telephony() ([]byte, error) {
	if s.SampleRate == audio.SampleRate {
		return s.PCM, nil
	}
	return audio.ResamplePCM(s.PCM, s.SampleRate, audio.SampleRate)
}

// Synthesizer renders reply text to PCM audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (*Synthesis, error)
}

// ProviderError is a non-2xx response from a synthesis provider.
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Body)
}

func classifyStatus(provider string, status int, body []byte) error {
	if len(body) > 512 {
		body = body[:512]
	}
	err := &ProviderError{Provider: provider, StatusCode: status, Body: string(body)}
	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		return resilience.NewRetryableError(err)
	}
	return err
}
