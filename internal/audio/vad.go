package audio

import (
	"fmt"
	"math"
)

// Classifier decides whether a single PCM16LE frame contains speech.
// Implementations must be safe to call on every accepted frame and hold no
// segmentation state.
type Classifier interface {
	IsSpeech(pcm []byte) (bool, error)
}

// VADConfig holds configuration for Voice Activity Detection
type VADConfig struct {
	EnergyThreshold float64 // RMS energy threshold for speech detection
	TriggerFrames   int     // Trailing silence frames that close an utterance
	FrameSize       int     // Samples per frame (160 for 20ms at 8kHz)
}

// DefaultVADConfig returns a default VAD configuration
func DefaultVADConfig() *VADConfig {
	return &VADConfig{
		EnergyThreshold: 500.0,
		TriggerFrames:   140, // ~2.8s of trailing silence at 20ms per frame
		FrameSize:       SamplesPerFrame,
	}
}

// EnergyClassifier flags a frame as speech when its RMS energy exceeds a threshold.
type EnergyClassifier struct {
	threshold float64
	frameSize int
}

// NewEnergyClassifier creates a classifier from config. A nil config uses defaults.
func NewEnergyClassifier(config *VADConfig) *EnergyClassifier {
	if config == nil {
		config = DefaultVADConfig()
	}
	return &EnergyClassifier{
		threshold: config.EnergyThreshold,
		frameSize: config.FrameSize,
	}
}

// IsSpeech classifies one frame. Frames that are empty, not sample aligned, or
// larger than a Twilio media chunk are rejected.
func (c *EnergyClassifier) IsSpeech(pcm []byte) (bool, error) {
	if len(pcm) == 0 {
		return false, ErrEmptyFrame
	}
	if len(pcm)%2 != 0 {
		return false, fmt.Errorf("classify %d bytes: %w", len(pcm), ErrOddLength)
	}
	if c.frameSize > 0 && len(pcm)/2 > c.frameSize*4 {
		return false, fmt.Errorf("classify: frame of %d samples exceeds limit %d", len(pcm)/2, c.frameSize*4)
	}
	return CalculateRMS(BytesToSamples(pcm)) > c.threshold, nil
}

// CalculateRMS calculates the root mean square (RMS) of audio samples
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}
