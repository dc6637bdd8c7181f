package stt

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/lexiqai/voice-bridge/internal/resilience"
)

// ErrEmptyAudio is returned when Transcribe is called without audio.
var ErrEmptyAudio = errors.New("stt: empty audio")

// Recognizer turns one WAV-framed utterance into text.
type Recognizer interface {
	// Transcribe sends a complete mono 16-bit WAV blob and returns the transcript.
	// An empty transcript with a nil error means nothing intelligible was said.
	Transcribe(ctx context.Context, wav []byte, language string) (string, error)
}

// ProviderError is a non-2xx response from a recognition provider.
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// classifyStatus marks throttling and server errors as retryable.
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
