package stt

import (
	"fmt"

	"github.com/lexiqai/voice-bridge/internal/config"
)

// New returns the Recognizer selected by STT_PROVIDER.
func New(cfg *config.Config) (Recognizer, error) {
	switch cfg.STTProvider {
	case config.ProviderElevenLabs:
		return NewElevenLabsRecognizer(cfg), nil
	case config.ProviderDeepgram:
		return NewDeepgramRecognizer(cfg), nil
	default:
		return nil, fmt.Errorf("stt: unsupported provider %q", cfg.STTProvider)
	}
}
