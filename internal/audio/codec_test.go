package audio

import (
	"errors"
	"math"
	"testing"
)

func toneFrame(amplitude float64, freq float64) []byte {
	samples := make([]int16, SamplesPerFrame)
	for i := range samples {
		samples[i] = int16(amplitude * math.Sin(2*math.Pi*freq*float64(i)/SampleRate))
	}
	return SamplesToBytes(samples)
}

func TestDecodeMulaw_Length(t *testing.T) {
	frame := make([]byte, SamplesPerFrame)
	for i := range frame {
		frame[i] = byte(i)
	}

	pcm, err := DecodeMulaw(frame)
	if err != nil {
		t.Fatalf("DecodeMulaw failed: %v", err)
	}
	if len(pcm) != len(frame)*2 {
		t.Errorf("Expected PCM length %d, got %d", len(frame)*2, len(pcm))
	}
}

func TestDecodeMulaw_KnownValues(t *testing.T) {
	tests := []struct {
		in   byte
		want int16
	}{
		{0xFF, 0},
		{0x7F, 0},
		{0x00, -32124},
		{0x80, 32124},
	}

	for _, tt := range tests {
		if got := mulawToLinear(tt.in); got != tt.want {
			t.Errorf("mulawToLinear(%#x) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestEncodeMulaw_Silence(t *testing.T) {
	encoded, err := EncodeMulaw(make([]byte, 8))
	if err != nil {
		t.Fatalf("EncodeMulaw failed: %v", err)
	}
	for i, b := range encoded {
		if b != 0xFF {
			t.Errorf("Expected 0xFF for zero sample at %d, got %#x", i, b)
		}
	}
}

func TestEncodeMulaw_Errors(t *testing.T) {
	if _, err := EncodeMulaw(nil); !errors.Is(err, ErrEmptyFrame) {
		t.Errorf("Expected ErrEmptyFrame, got %v", err)
	}
	if _, err := EncodeMulaw([]byte{1, 2, 3}); !errors.Is(err, ErrOddLength) {
		t.Errorf("Expected ErrOddLength, got %v", err)
	}
	if _, err := DecodeMulaw(nil); !errors.Is(err, ErrEmptyFrame) {
		t.Errorf("Expected ErrEmptyFrame on decode, got %v", err)
	}
}

func TestMulaw_RoundTrip(t *testing.T) {
	pcm := toneFrame(8000, 440)

	encoded, err := EncodeMulaw(pcm)
	if err != nil {
		t.Fatalf("EncodeMulaw failed: %v", err)
	}
	if len(encoded) != SamplesPerFrame {
		t.Fatalf("Expected %d encoded bytes, got %d", SamplesPerFrame, len(encoded))
	}

	decoded, err := DecodeMulaw(encoded)
	if err != nil {
		t.Fatalf("DecodeMulaw failed: %v", err)
	}
	if len(decoded) != len(pcm) {
		t.Fatalf("Round trip changed length: %d -> %d", len(pcm), len(decoded))
	}

	// μ-law quantization error stays within a few percent of the sample magnitude.
	orig := BytesToSamples(pcm)
	got := BytesToSamples(decoded)
	for i := range orig {
		diff := math.Abs(float64(orig[i]) - float64(got[i]))
		limit := math.Max(math.Abs(float64(orig[i]))*0.07, 16)
		if diff > limit {
			t.Errorf("Sample %d: original %d decoded %d (diff %.0f > %.0f)", i, orig[i], got[i], diff, limit)
		}
	}
}

func TestMulaw_RoundTripClassification(t *testing.T) {
	classifier := NewEnergyClassifier(nil)

	cases := []struct {
		name   string
		pcm    []byte
		speech bool
	}{
		{"tone", toneFrame(6000, 1000), true},
		{"silence", make([]byte, SamplesPerFrame*2), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before, err := classifier.IsSpeech(tc.pcm)
			if err != nil {
				t.Fatalf("IsSpeech failed: %v", err)
			}

			encoded, err := EncodeMulaw(tc.pcm)
			if err != nil {
				t.Fatalf("EncodeMulaw failed: %v", err)
			}
			decoded, err := DecodeMulaw(encoded)
			if err != nil {
				t.Fatalf("DecodeMulaw failed: %v", err)
			}

			after, err := classifier.IsSpeech(decoded)
			if err != nil {
				t.Fatalf("IsSpeech failed: %v", err)
			}
			if before != tc.speech || after != tc.speech {
				t.Errorf("Expected speech=%v before and after, got %v / %v", tc.speech, before, after)
			}
		})
	}
}

func TestResamplePCM(t *testing.T) {
	samples := make([]int16, 2400) // 0.1 seconds at 24kHz
	for i := range samples {
		samples[i] = int16(i % 1000)
	}

	out, err := ResamplePCM(SamplesToBytes(samples), 24000, 8000)
	if err != nil {
		t.Fatalf("ResamplePCM failed: %v", err)
	}
	if len(out) != 800*2 {
		t.Errorf("Expected %d bytes, got %d", 800*2, len(out))
	}

	same, err := ResamplePCM(SamplesToBytes(samples), 8000, 8000)
	if err != nil {
		t.Fatalf("ResamplePCM failed: %v", err)
	}
	if len(same) != len(samples)*2 {
		t.Errorf("Expected passthrough length %d, got %d", len(samples)*2, len(same))
	}

	if _, err := ResamplePCM([]byte{1}, 24000, 8000); !errors.Is(err, ErrOddLength) {
		t.Errorf("Expected ErrOddLength, got %v", err)
	}
}

func TestEncodeChunks(t *testing.T) {
	pcm := make([]byte, 20000)

	chunks, err := EncodeChunks(pcm, DefaultChunkBytes)
	if err != nil {
		t.Fatalf("EncodeChunks failed: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("Expected 3 chunks, got %d", len(chunks))
	}
	if len(chunks[0]) != 4000 || len(chunks[1]) != 4000 || len(chunks[2]) != 2000 {
		t.Errorf("Unexpected chunk sizes %d/%d/%d", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}

	// Chunks are already μ-law: one byte per sample, odd sample counts allowed.
	tail, err := EncodeChunks(make([]byte, DefaultChunkBytes+6), DefaultChunkBytes)
	if err != nil {
		t.Fatalf("EncodeChunks failed: %v", err)
	}
	if len(tail) != 2 || len(tail[1]) != 3 {
		t.Errorf("Expected a 3-byte tail chunk, got %d chunks", len(tail))
	}
	if _, err := DecodeMulaw(tail[1]); err != nil {
		t.Errorf("Tail chunk should decode as μ-law: %v", err)
	}

	if _, err := EncodeChunks(nil, DefaultChunkBytes); !errors.Is(err, ErrEmptyFrame) {
		t.Errorf("Expected ErrEmptyFrame, got %v", err)
	}
	if _, err := EncodeChunks(pcm, 7); err == nil {
		t.Error("Expected error for odd chunk size")
	}
}
