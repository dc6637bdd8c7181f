package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Telephony line format: 8kHz mono G.711 μ-law, 20ms frames.
const (
	SampleRate      = 8000
	FrameDuration   = 20 // milliseconds
	SamplesPerFrame = SampleRate * FrameDuration / 1000
)

var (
	// ErrEmptyFrame is returned when a codec call receives no audio.
	ErrEmptyFrame = errors.New("audio: empty frame")

	// ErrOddLength is returned when PCM16 input is not sample aligned.
	ErrOddLength = errors.New("audio: pcm length must be even (16-bit samples)")
)

const (
	mulawBias = 0x84
	mulawClip = 32635
)

// DecodeMulaw converts a G.711 PCMU frame to 16-bit little-endian linear PCM.
// The output is exactly twice the input length.
func DecodeMulaw(frame []byte) ([]byte, error) {
	if len(frame) == 0 {
		return nil, ErrEmptyFrame
	}

	pcm := make([]byte, len(frame)*2)
	for i, b := range frame {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(mulawToLinear(b)))
	}
	return pcm, nil
}

// EncodeMulaw converts 16-bit little-endian linear PCM to G.711 PCMU.
// The output has one byte per input sample.
func EncodeMulaw(pcm []byte) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, ErrEmptyFrame
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("encode %d bytes: %w", len(pcm), ErrOddLength)
	}

	out := make([]byte, len(pcm)/2)
	for i := range out {
		out[i] = linearToMulaw(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return out, nil
}

// linearToMulaw encodes one 16-bit sample (ITU-T G.711).
func linearToMulaw(sample int16) byte {
	magnitude := int32(sample)
	var sign byte
	if magnitude < 0 {
		sign = 0x80
		magnitude = -magnitude
	}
	if magnitude > mulawClip {
		magnitude = mulawClip
	}
	magnitude += mulawBias

	// Segment is the position of the highest set bit above bit 7.
	segment := byte(7)
	for mask := int32(0x4000); magnitude&mask == 0 && segment > 0; mask >>= 1 {
		segment--
	}

	mantissa := byte((magnitude >> (segment + 3)) & 0x0F)
	return ^(sign | segment<<4 | mantissa)
}

// mulawToLinear decodes one μ-law byte to a 16-bit sample.
func mulawToLinear(b byte) int16 {
	b = ^b

	sign := b & 0x80
	segment := (b >> 4) & 0x07
	mantissa := int32(b & 0x0F)

	magnitude := ((mantissa << 3) + mulawBias) << segment
	magnitude -= mulawBias

	if sign != 0 {
		return int16(-magnitude)
	}
	return int16(magnitude)
}

// BytesToSamples reinterprets PCM16LE bytes as samples. A trailing odd byte is ignored.
func BytesToSamples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}

// SamplesToBytes serializes samples as PCM16LE.
func SamplesToBytes(samples []int16) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return pcm
}
