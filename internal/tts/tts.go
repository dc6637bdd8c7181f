package tts

import (
	"fmt"

	"github.com/lexiqai/voice-bridge/internal/config"
)

// New returns the Synthesizer selected by TTS_PROVIDER.
func New(cfg *config.Config) (Synthesizer, error) {
	switch cfg.TTSProvider {
	case config.ProviderElevenLabs:
		return NewElevenLabsSynthesizer(cfg), nil
	case config.ProviderCartesia:
		return NewCartesiaSynthesizer(cfg), nil
	default:
		return nil, fmt.Errorf("tts: unsupported provider %q", cfg.TTSProvider)
	}
}
