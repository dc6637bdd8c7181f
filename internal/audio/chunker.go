package audio

import "fmt"

// DefaultChunkBytes is the PCM16 transmission chunk size (0.5s at 8kHz).
const DefaultChunkBytes = 8000

// EncodeChunks splits 8kHz PCM16LE audio into chunkBytes-sized pieces and encodes
// each to μ-law. The final chunk may be shorter. A trailing odd byte is dropped.
func EncodeChunks(pcm []byte, chunkBytes int) ([][]byte, error) {
	if chunkBytes <= 0 || chunkBytes%2 != 0 {
		return nil, fmt.Errorf("chunk size %d must be positive and even", chunkBytes)
	}
	pcm = pcm[:len(pcm)&^1]
	if len(pcm) == 0 {
		return nil, ErrEmptyFrame
	}

	chunks := make([][]byte, 0, (len(pcm)+chunkBytes-1)/chunkBytes)
	for start := 0; start < len(pcm); start += chunkBytes {
		end := start + chunkBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		encoded, err := EncodeMulaw(pcm[start:end])
		if err != nil {
			return nil, fmt.Errorf("chunk at %d: %w", start, err)
		}
		chunks = append(chunks, encoded)
	}
	return chunks, nil
}
