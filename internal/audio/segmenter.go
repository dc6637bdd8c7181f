package audio

// SegmentState is the segmenter's position within a candidate utterance.
type SegmentState int

const (
	SegmentIdle            SegmentState = iota // no speech seen yet
	SegmentSpeaking                            // speech frames being appended
	SegmentTrailingSilence                     // silence after speech, counting toward completion
)

func (s SegmentState) String() string {
	switch s {
	case SegmentIdle:
		return "idle"
	case SegmentSpeaking:
		return "speaking"
	case SegmentTrailingSilence:
		return "trailing-silence"
	default:
		return "unknown"
	}
}

// Segmenter accumulates classified frames into utterances. An utterance
// completes when a run of trailing silence reaches the trigger threshold.
// Trailing silence is kept in the buffer so the recognizer sees natural
// boundaries. A Segmenter is owned by a single goroutine.
type Segmenter struct {
	trigger    int
	state      SegmentState
	silenceRun int
	buffer     []byte
}

// NewSegmenter creates a segmenter that closes an utterance after triggerFrames
// consecutive silence frames. Values below 1 are treated as 1.
func NewSegmenter(triggerFrames int) *Segmenter {
	if triggerFrames < 1 {
		triggerFrames = 1
	}
	return &Segmenter{trigger: triggerFrames}
}

// Push feeds one decoded frame with its classification. When the frame completes
// an utterance, the accumulated audio is returned with done=true and the
// segmenter is back in idle. The returned slice is owned by the caller.
func (s *Segmenter) Push(pcm []byte, speech bool) (utterance []byte, done bool) {
	switch s.state {
	case SegmentIdle:
		if !speech {
			return nil, false
		}
		s.buffer = append(s.buffer, pcm...)
		s.silenceRun = 0
		s.state = SegmentSpeaking

	case SegmentSpeaking:
		s.buffer = append(s.buffer, pcm...)
		if speech {
			s.silenceRun = 0
			return nil, false
		}
		s.silenceRun = 1
		s.state = SegmentTrailingSilence

	case SegmentTrailingSilence:
		s.buffer = append(s.buffer, pcm...)
		if speech {
			s.silenceRun = 0
			s.state = SegmentSpeaking
			return nil, false
		}
		s.silenceRun++
	}

	if s.state == SegmentTrailingSilence && s.silenceRun >= s.trigger {
		utterance = s.buffer
		s.buffer = nil
		s.silenceRun = 0
		s.state = SegmentIdle
		return utterance, true
	}
	return nil, false
}

// Reset drops any partial utterance.
func (s *Segmenter) Reset() {
	s.buffer = nil
	s.silenceRun = 0
	s.state = SegmentIdle
}

// State returns the current segmentation state.
func (s *Segmenter) State() SegmentState { return s.state }

// SilenceRun returns the length of the current trailing-silence run in frames.
func (s *Segmenter) SilenceRun() int { return s.silenceRun }

// Buffered returns the number of bytes accumulated for the current utterance.
func (s *Segmenter) Buffered() int { return len(s.buffer) }
