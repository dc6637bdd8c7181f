package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lexiqai/voice-bridge/internal/eventbus"
)

var (
	// ErrNoContent means nothing was recognized within the wait. It is also
	// returned for ended calls, with GenerateResult.Ended set.
	ErrNoContent = errors.New("session: no content")

	// ErrReplyPending means the previous reply has not been picked up by the
	// outbound pipeline yet.
	ErrReplyPending = errors.New("session: previous reply not consumed")

	ErrInvalidRequest = errors.New("session: invalid request")
)

// GenerateRequest is one poll from the automation caller.
type GenerateRequest struct {
	CallID      string
	First       bool          // start of a conversation; no reply is submitted
	Timeout     time.Duration // wait for the next utterance; zero uses the default
	Input       string        // reply text to speak before waiting
	TalkTimeout time.Duration // per-call override; zero keeps the current value
}

// GenerateResult carries the recognized utterance.
type GenerateResult struct {
	Text  string
	Ended bool
}

// Generate submits the caller's reply, if any, and waits for the next user
// utterance. Provider failures and plain silence both surface as ErrNoContent.
func (r *Registry) Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	if req.CallID == "" {
		return GenerateResult{}, fmt.Errorf("%w: missing call id", ErrInvalidRequest)
	}
	if req.Timeout < 0 || req.TalkTimeout < 0 {
		return GenerateResult{}, fmt.Errorf("%w: negative timeout", ErrInvalidRequest)
	}

	call, err := r.Acquire(req.CallID, req.First)
	if err != nil {
		return GenerateResult{}, err
	}
	call.Touch()
	call.SetTalkTimeout(req.TalkTimeout)

	logger := call.Logger()
	if call.Ended() {
		return GenerateResult{Ended: true}, ErrNoContent
	}

	if !req.First && req.Input != "" {
		if err := call.Exchange().SubmitReply(req.Input); err != nil {
			switch {
			case errors.Is(err, eventbus.ErrPending):
				return GenerateResult{}, ErrReplyPending
			case errors.Is(err, eventbus.ErrTerminated):
				return GenerateResult{Ended: true}, ErrNoContent
			default:
				return GenerateResult{}, fmt.Errorf("submit reply: %w", err)
			}
		}
		logger.Debug().Int("chars", len(req.Input)).Msg("Reply submitted")
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = r.opts.QueryTimeout
	}

	utt, err := call.Exchange().WaitUtterance(ctx, timeout)
	switch {
	case err == nil && utt.Ended:
		return GenerateResult{Ended: true}, ErrNoContent
	case err == nil:
		call.Touch()
		return GenerateResult{Text: utt.Text}, nil
	case errors.Is(err, eventbus.ErrTerminated):
		return GenerateResult{Ended: true}, ErrNoContent
	case errors.Is(err, eventbus.ErrTimeout), errors.Is(err, eventbus.ErrStale):
		logger.Debug().Err(err).Msg("No utterance within wait")
		return GenerateResult{}, ErrNoContent
	default:
		return GenerateResult{}, err
	}
}
