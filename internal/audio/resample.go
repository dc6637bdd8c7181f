package audio

import "fmt"

// ResamplePCM converts PCM16LE audio between sample rates.
// Synthesis providers that cannot emit 8kHz (Cartesia outputs 24kHz) go through here
// before μ-law encoding.
func ResamplePCM(pcm []byte, inputRate, outputRate int) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("resample %d bytes: %w", len(pcm), ErrOddLength)
	}
	if inputRate <= 0 || outputRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates %d -> %d", inputRate, outputRate)
	}
	if inputRate == outputRate {
		return pcm, nil
	}
	return SamplesToBytes(resample(BytesToSamples(pcm), inputRate, outputRate)), nil
}

// resample performs simple linear interpolation resampling
// This is a basic implementation - for production, consider using a library
// with better quality algorithms (e.g., sinc interpolation)
func resample(samples []int16, inputRate, outputRate int) []int16 {
	if inputRate == outputRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(outputRate) / float64(inputRate)
	outputLength := int(float64(len(samples)) * ratio)
	output := make([]int16, outputLength)

	for i := 0; i < outputLength; i++ {
		srcPos := float64(i) / ratio

		idx0 := int(srcPos)
		idx1 := idx0 + 1
		if idx1 >= len(samples) {
			idx1 = len(samples) - 1
		}

		fraction := srcPos - float64(idx0)
		output[i] = int16(float64(samples[idx0])*(1.0-fraction) + float64(samples[idx1])*fraction)
	}

	return output
}
