// Package telephony bridges Twilio Media Streams to the per-call turn machine.
package telephony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lexiqai/voice-bridge/internal/audio"
	"github.com/lexiqai/voice-bridge/internal/config"
	"github.com/lexiqai/voice-bridge/internal/eventbus"
	"github.com/lexiqai/voice-bridge/internal/observability"
	"github.com/lexiqai/voice-bridge/internal/session"
	"github.com/lexiqai/voice-bridge/internal/stt"
	"github.com/lexiqai/voice-bridge/internal/tts"
	"github.com/lexiqai/voice-bridge/internal/turn"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var errSendFailed = errors.New("telephony: send failed")

// Conn is the subset of *websocket.Conn used by a stream.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v interface{}) error
	Close() error
}

// Calls resolves a Twilio call SID to its session.
type Calls interface {
	Acquire(id string, fresh bool) (*session.Call, error)
}

// StreamOptions tunes the media pipelines.
type StreamOptions struct {
	Language     string
	PollInterval time.Duration
	ChunkBytes   int
	MarkName     string
	VAD          *audio.VADConfig
}

// StreamOptionsFromConfig maps service config onto stream options.
func StreamOptionsFromConfig(cfg *config.Config) StreamOptions {
	return StreamOptions{
		Language:     cfg.Language,
		PollInterval: cfg.OutboundPollDuration(),
		ChunkBytes:   cfg.OutboundChunkBytes,
		MarkName:     cfg.PlaybackMarkName,
		VAD: &audio.VADConfig{
			EnergyThreshold: cfg.VADEnergyThreshold,
			TriggerFrames:   cfg.VADSilenceFrames,
			FrameSize:       audio.SamplesPerFrame,
		},
	}
}

func (o *StreamOptions) applyDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 200 * time.Millisecond
	}
	if o.ChunkBytes <= 0 {
		o.ChunkBytes = audio.DefaultChunkBytes
	}
	if o.MarkName == "" {
		o.MarkName = "endOfPlayback"
	}
	if o.VAD == nil {
		o.VAD = audio.DefaultVADConfig()
	}
}

// StreamSession runs one media websocket: the inbound pipeline captures and
// segments caller audio, the outbound pipeline speaks replies.
type StreamSession struct {
	conn        Conn
	calls       Calls
	recognizer  stt.Recognizer
	synthesizer tts.Synthesizer
	opts        StreamOptions

	// owned by the inbound goroutine
	classifier audio.Classifier
	segmenter  *audio.Segmenter

	mu      sync.RWMutex
	call    *session.Call
	started chan struct{}

	closed    chan struct{}
	closeOnce sync.Once

	recognitions sync.WaitGroup
	logger       zerolog.Logger
}

// NewStreamSession wires a stream to its collaborators. Nothing runs until Run.
func NewStreamSession(conn Conn, calls Calls, recognizer stt.Recognizer, synthesizer tts.Synthesizer, opts StreamOptions) *StreamSession {
	opts.applyDefaults()
	return &StreamSession{
		conn:        conn,
		calls:       calls,
		recognizer:  recognizer,
		synthesizer: synthesizer,
		opts:        opts,
		classifier:  audio.NewEnergyClassifier(opts.VAD),
		segmenter:   audio.NewSegmenter(opts.VAD.TriggerFrames),
		started:     make(chan struct{}),
		closed:      make(chan struct{}),
		logger:      observability.GetLogger().With().Str("component", "media_stream").Logger(),
	}
}

// Run blocks until the stream ends: on a stop event, idle timeout, send or read
// failure, or ctx cancellation. The websocket is closed before Run returns.
func (s *StreamSession) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readLoop(gctx) })
	g.Go(func() error { return s.writeLoop(gctx) })
	g.Go(func() error { return s.closer(gctx) })

	err := g.Wait()
	s.recognitions.Wait()
	return err
}

// Call returns the session attached by the start event, or nil.
func (s *StreamSession) Call() *session.Call {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.call
}

// terminate ends the call, if any, and releases the closer.
func (s *StreamSession) terminate(ctx context.Context, reason session.EndReason) {
	if call := s.Call(); call != nil {
		call.End(ctx, reason)
	}
	s.closeOnce.Do(func() { close(s.closed) })
}

// log returns the call's logger once the stream is attached.
func (s *StreamSession) log() *zerolog.Logger {
	if call := s.Call(); call != nil {
		l := call.Logger().With().Str("component", "media_stream").Logger()
		return &l
	}
	return &s.logger
}

func (s *StreamSession) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// closer closes the websocket once the stream or its call is over, which also
// unblocks the inbound read.
func (s *StreamSession) closer(ctx context.Context) error {
	select {
	case <-ctx.Done():
		s.terminate(context.WithoutCancel(ctx), session.ReasonShutdown)
	case <-s.closed:
	case <-s.started:
		select {
		case <-ctx.Done():
			s.terminate(context.WithoutCancel(ctx), session.ReasonShutdown)
		case <-s.closed:
		case <-s.Call().Done():
			s.terminate(ctx, s.Call().EndReason())
		}
	}
	_ = s.conn.Close()
	return nil
}

func (s *StreamSession) readLoop(ctx context.Context) error {
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if !s.isClosed() {
				s.log().Info().Err(err).Msg("Media stream closed by peer")
				s.terminate(ctx, session.ReasonHangup)
			}
			return nil
		}

		var msg TwilioMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.log().Warn().Err(err).Msg("Failed to parse Twilio message")
			continue
		}

		if call := s.Call(); call != nil && call.Idle() {
			s.log().Info().Dur("talk_timeout", call.TalkTimeout()).Msg("Call idle, ending")
			s.terminate(ctx, session.ReasonIdle)
			return nil
		}

		switch msg.Event {
		case EventConnected:
			s.log().Info().Str("protocol", msg.Protocol).Msg("Twilio stream connected")

		case EventStart:
			if err := s.handleStart(&msg); err != nil {
				s.log().Error().Err(err).Msg("Rejecting media stream")
				s.terminate(ctx, session.ReasonHangup)
				return nil
			}

		case EventMedia:
			s.handleMedia(ctx, msg.Media)

		case EventMark:
			s.handleMark(msg.Mark)

		case EventStop:
			s.log().Info().Msg("Call stopped")
			s.terminate(ctx, session.ReasonStop)
			return nil

		default:
			s.log().Debug().Str("event", msg.Event).Msg("Unknown Twilio event")
		}
	}
}

func (s *StreamSession) handleStart(msg *TwilioMessage) error {
	if msg.Start == nil || msg.Start.CallSid == "" {
		return fmt.Errorf("start event without call sid")
	}
	if s.Call() != nil {
		s.log().Warn().Str("call_sid", msg.Start.CallSid).Msg("Ignoring duplicate start event")
		return nil
	}

	streamSid := msg.StreamSid
	if streamSid == "" {
		streamSid = msg.Start.StreamSid
	}

	call, err := s.calls.Acquire(msg.Start.CallSid, false)
	if err != nil {
		return fmt.Errorf("acquire call %s: %w", msg.Start.CallSid, err)
	}
	if call.Ended() {
		return fmt.Errorf("call %s already ended", call.ID())
	}
	if err := call.AttachStream(streamSid); err != nil {
		return fmt.Errorf("attach stream %s: %w", streamSid, err)
	}
	call.Touch()

	s.mu.Lock()
	s.call = call
	s.mu.Unlock()
	close(s.started)

	evt := s.log().Info().Str("account_sid", msg.Start.AccountSid)
	if f := msg.Start.MediaFormat; f != nil {
		evt = evt.Str("encoding", f.Encoding).Int("sample_rate", f.SampleRate)
	}
	evt.Interface("custom_parameters", msg.Start.CustomParameters).Msg("Call started")
	return nil
}

// handleMedia gates, decodes and segments one inbound frame. Completed
// utterances are handed to a recognition goroutine so reads never block.
func (s *StreamSession) handleMedia(ctx context.Context, media *TwilioMedia) {
	call := s.Call()
	if call == nil || media == nil {
		return
	}
	metrics := call.Metrics()

	if media.Track != "" && media.Track != "inbound" {
		metrics.RecordFrameDropped("track")
		return
	}
	frame, err := base64.StdEncoding.DecodeString(media.Payload)
	if err != nil || len(frame) == 0 {
		metrics.RecordFrameDropped("payload")
		return
	}
	metrics.RecordAudioBytes("in", int64(len(frame)))

	machine := call.Machine()
	if !machine.CanCapture() {
		metrics.RecordFrameDropped("gated")
		return
	}

	pcm, err := audio.DecodeMulaw(frame)
	if err != nil {
		metrics.RecordFrameDropped("decode")
		return
	}
	speech, err := s.classifier.IsSpeech(pcm)
	if err != nil {
		metrics.RecordError("vad_error", "vad")
		s.log().Debug().Err(err).Int("bytes", len(pcm)).Msg("VAD failed, frame counted as silence")
		speech = false
	}

	utterance, done := s.segmenter.Push(pcm, speech)
	if !done {
		return
	}
	if err := machine.BeginRecognition(); err != nil {
		s.log().Warn().Err(err).Msg("Dropping utterance")
		return
	}

	s.recognitions.Add(1)
	go func() {
		defer s.recognitions.Done()
		s.recognize(ctx, call, utterance)
	}()
}

func (s *StreamSession) recognize(ctx context.Context, call *session.Call, utterance []byte) {
	metrics := call.Metrics()
	machine := call.Machine()
	logger := call.Logger()

	fail := func(outcome string, err error) {
		metrics.RecordUtterance(outcome)
		logger.Warn().Err(err).Str("outcome", outcome).Msg("Recognition produced no utterance")
		if err := machine.RecognitionFailed(); err != nil {
			logger.Debug().Err(err).Msg("Not re-arming capture")
		}
	}

	wav, err := audio.EncodeWAV(utterance, audio.SampleRate)
	if err != nil {
		fail("encode_error", err)
		return
	}

	metrics.RecordSTTStart()
	start := time.Now()
	text, err := s.recognizer.Transcribe(ctx, wav, s.opts.Language)
	metrics.RecordSTTEnd(err == nil)
	if err != nil {
		metrics.RecordError("stt_error", "stt")
		fail("stt_error", err)
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		fail("empty", nil)
		return
	}

	// The turn flips before the utterance becomes visible to queries.
	if err := machine.UtteranceReady(); err != nil {
		logger.Debug().Err(err).Msg("Discarding transcript")
		return
	}
	if err := call.Exchange().PublishUtterance(text); err != nil {
		logger.Warn().Err(err).Msg("Failed to publish utterance")
		return
	}
	metrics.RecordUtterance("published")
	logger.Info().
		Int("audio_bytes", len(utterance)).
		Int("chars", len(text)).
		Dur("latency", time.Since(start)).
		Msg("Utterance recognized")
}

func (s *StreamSession) handleMark(mark *TwilioMark) {
	call := s.Call()
	if call == nil || mark == nil {
		return
	}
	call.Touch()
	if call.Machine().ObserveMark(mark.Name) {
		s.log().Debug().Str("mark", mark.Name).Msg("Playback acknowledged, capture open")
	} else {
		s.log().Debug().Str("mark", mark.Name).Msg("Ignoring mark")
	}
}

func (s *StreamSession) writeLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.closed:
			return nil
		case <-ticker.C:
		}

		call := s.Call()
		if call == nil {
			continue
		}
		if call.Ended() {
			return nil
		}
		if call.Idle() {
			s.log().Info().Dur("talk_timeout", call.TalkTimeout()).Msg("Call idle, ending")
			s.terminate(ctx, session.ReasonIdle)
			return nil
		}
		if call.Machine().Turn() != turn.User {
			continue
		}

		reply, err := call.Exchange().WaitReply(ctx, call.TalkTimeout())
		switch {
		case err == nil:
		case errors.Is(err, eventbus.ErrTimeout), errors.Is(err, eventbus.ErrStale):
			continue
		case errors.Is(err, eventbus.ErrTerminated), ctx.Err() != nil:
			return nil
		default:
			s.log().Error().Err(err).Msg("Waiting for reply failed")
			continue
		}

		if err := s.speak(ctx, call, reply); err != nil {
			if errors.Is(err, errSendFailed) {
				s.log().Error().Err(err).Msg("Media stream write failed")
				call.Metrics().RecordError("twilio_send_error", "telephony")
				s.terminate(ctx, session.ReasonHangup)
				return nil
			}
			s.log().Error().Err(err).Msg("Reply not spoken")
		}
	}
}

// speak synthesizes a reply, streams it as μ-law chunks and sends the playback
// mark. The turn returns to the agent only after the mark is on the wire.
func (s *StreamSession) speak(ctx context.Context, call *session.Call, text string) error {
	metrics := call.Metrics()
	streamSid := call.StreamSid()

	metrics.RecordTTSStart()
	synth, err := s.synthesizer.Synthesize(ctx, text)
	metrics.RecordTTSEnd(err == nil)
	if err != nil {
		metrics.RecordError("tts_error", "tts")
		return fmt.Errorf("synthesize: %w", err)
	}

	pcm, err := synth.Telephony()
	if err != nil {
		return fmt.Errorf("resample: %w", err)
	}
	chunks, err := audio.EncodeChunks(pcm, s.opts.ChunkBytes)
	if err != nil {
		return fmt.Errorf("chunk: %w", err)
	}

	for _, ulaw := range chunks {
		msg := newOutboundMedia(streamSid, base64.StdEncoding.EncodeToString(ulaw))
		if err := s.conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("%w: media: %v", errSendFailed, err)
		}
		metrics.RecordAudioBytes("out", int64(len(ulaw)))
	}

	// The echo can arrive before WriteJSON returns.
	if err := call.Machine().ExpectMark(); err != nil {
		return fmt.Errorf("expect mark: %w", err)
	}
	if err := s.conn.WriteJSON(newOutboundMark(streamSid, s.opts.MarkName)); err != nil {
		return fmt.Errorf("%w: mark: %v", errSendFailed, err)
	}
	if err := call.Machine().ReplySent(); err != nil {
		return fmt.Errorf("reply sent: %w", err)
	}
	metrics.RecordReplySent()

	s.log().Info().Int("chunks", len(chunks)).Int("pcm_bytes", len(pcm)).Msg("Reply spoken")
	return nil
}
