package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// publishAfter simulates the inbound pipeline completing an utterance.
func publishAfter(t *testing.T, call *Call, d time.Duration, text string) {
	t.Helper()
	go func() {
		time.Sleep(d)
		m := call.Machine()
		if err := m.BeginRecognition(); err != nil {
			t.Errorf("BeginRecognition: %v", err)
			return
		}
		if err := m.UtteranceReady(); err != nil {
			t.Errorf("UtteranceReady: %v", err)
			return
		}
		if err := call.Exchange().PublishUtterance(text); err != nil {
			t.Errorf("PublishUtterance: %v", err)
		}
	}()
}

func TestGenerate_FirstTurn(t *testing.T) {
	reg, _ := newTestRegistry(t, Hooks{})
	call, err := reg.Acquire("CA1", false)
	require.NoError(t, err)

	publishAfter(t, call, 20*time.Millisecond, "hola, ¿quién habla?")

	res, err := reg.Generate(context.Background(), GenerateRequest{
		CallID:      "CA1",
		First:       true,
		Timeout:     time.Second,
		TalkTimeout: 80 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, "hola, ¿quién habla?", res.Text)
	assert.False(t, res.Ended)
	assert.Equal(t, 80*time.Second, call.TalkTimeout())
	assert.False(t, call.Exchange().ReplyPending(), "first turn submits no reply")
}

func TestGenerate_TimeoutIsNoContent(t *testing.T) {
	reg, _ := newTestRegistry(t, Hooks{})

	start := time.Now()
	res, err := reg.Generate(context.Background(), GenerateRequest{CallID: "CA1", First: true})
	assert.ErrorIs(t, err, ErrNoContent)
	assert.False(t, res.Ended)
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond, "default query timeout applies")
}

func TestGenerate_SubmitsReply(t *testing.T) {
	reg, _ := newTestRegistry(t, Hooks{})
	call, _ := reg.Acquire("CA1", true)

	_, err := reg.Generate(context.Background(), GenerateRequest{
		CallID:  "CA1",
		Input:   "hola",
		Timeout: 10 * time.Millisecond,
	})
	assert.ErrorIs(t, err, ErrNoContent)
	assert.True(t, call.Exchange().ReplyPending())

	_, err = reg.Generate(context.Background(), GenerateRequest{
		CallID:  "CA1",
		Input:   "otra vez",
		Timeout: 10 * time.Millisecond,
	})
	assert.ErrorIs(t, err, ErrReplyPending)

	reply, err := call.Exchange().WaitReply(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hola", reply, "the first reply is never lost")
}

func TestGenerate_EndedWhileWaiting(t *testing.T) {
	reg, _ := newTestRegistry(t, Hooks{})
	call, _ := reg.Acquire("CA1", true)

	go func() {
		time.Sleep(20 * time.Millisecond)
		call.End(context.Background(), ReasonIdle)
	}()

	res, err := reg.Generate(context.Background(), GenerateRequest{CallID: "CA1", Timeout: 5 * time.Second})
	assert.ErrorIs(t, err, ErrNoContent)
	assert.True(t, res.Ended)

	// Later polls for the same call learn it ended without waiting.
	start := time.Now()
	res, err = reg.Generate(context.Background(), GenerateRequest{CallID: "CA1", Input: "¿sigue ahí?", Timeout: 5 * time.Second})
	assert.ErrorIs(t, err, ErrNoContent)
	assert.True(t, res.Ended)
	assert.Less(t, time.Since(start), time.Second)
}

func TestGenerate_InvalidRequest(t *testing.T) {
	reg, _ := newTestRegistry(t, Hooks{})

	_, err := reg.Generate(context.Background(), GenerateRequest{})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = reg.Generate(context.Background(), GenerateRequest{CallID: "CA1", Timeout: -time.Second})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestGenerate_ContextCancelled(t *testing.T) {
	reg, _ := newTestRegistry(t, Hooks{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := reg.Generate(ctx, GenerateRequest{CallID: "CA1", First: true, Timeout: time.Second})
	assert.ErrorIs(t, err, context.Canceled)
}
