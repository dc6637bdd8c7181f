package eventbus

import (
	"context"
	"time"
)

// EndedText is the transcript carried by the synthetic result published when a
// call ends, so automation callers can recognise the terminal marker.
const EndedText = "Conversation ended by Twilio"

// Utterance is one recognition result, or the terminal marker when Ended is set.
type Utterance struct {
	Text  string
	Ended bool
}

// Exchange pairs the utterance-ready and reply-ready signals of one call.
type Exchange struct {
	utterances *Signal[Utterance]
	replies    *Signal[string]
}

func NewExchange() *Exchange {
	return &Exchange{
		utterances: NewSignal[Utterance](),
		replies:    NewSignal[string](),
	}
}

// PublishUtterance makes a recognized transcript available to the query endpoint.
func (e *Exchange) PublishUtterance(text string) error {
	return e.utterances.Fire(Utterance{Text: text})
}

func (e *Exchange) WaitUtterance(ctx context.Context, timeout time.Duration) (Utterance, error) {
	return e.utterances.Wait(ctx, timeout)
}

// SubmitReply hands reply text to the outbound pipeline.
func (e *Exchange) SubmitReply(text string) error {
	return e.replies.Fire(text)
}

func (e *Exchange) WaitReply(ctx context.Context, timeout time.Duration) (string, error) {
	return e.replies.Wait(ctx, timeout)
}

// ReplyPending reports whether a submitted reply has not been picked up yet.
func (e *Exchange) ReplyPending() bool {
	return e.replies.Pending()
}

// Terminate releases every waiter. A blocked utterance waiter receives the
// ended marker instead of a bare termination error.
func (e *Exchange) Terminate() {
	// ErrPending means a real transcript is still unread; it is delivered first.
	_ = e.utterances.Fire(Utterance{Text: EndedText, Ended: true})
	e.utterances.Terminate()
	e.replies.Terminate()
}

func (e *Exchange) Terminated() bool {
	return e.utterances.Terminated()
}
