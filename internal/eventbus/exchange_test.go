package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExchange_RoundTrip(t *testing.T) {
	ex := NewExchange()

	require.NoError(t, ex.PublishUtterance("buenos días"))
	utt, err := ex.WaitUtterance(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, Utterance{Text: "buenos días"}, utt)

	require.NoError(t, ex.SubmitReply("hola"))
	assert.True(t, ex.ReplyPending())
	assert.ErrorIs(t, ex.SubmitReply("otra"), ErrPending)

	reply, err := ex.WaitReply(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hola", reply)
	assert.False(t, ex.ReplyPending())
}

func TestExchange_TerminateReleasesUtteranceWaiter(t *testing.T) {
	ex := NewExchange()

	got := make(chan Utterance, 1)
	go func() {
		utt, err := ex.WaitUtterance(context.Background(), 10*time.Second)
		if err == nil {
			got <- utt
		}
	}()

	time.Sleep(20 * time.Millisecond)
	ex.Terminate()

	select {
	case utt := <-got:
		assert.True(t, utt.Ended)
		assert.Equal(t, EndedText, utt.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter not released by Terminate")
	}

	assert.True(t, ex.Terminated())
	_, err := ex.WaitUtterance(context.Background(), 10*time.Second)
	assert.ErrorIs(t, err, ErrTerminated)
	_, err = ex.WaitReply(context.Background(), 10*time.Second)
	assert.ErrorIs(t, err, ErrTerminated)
}

func TestExchange_TerminateKeepsUnreadTranscript(t *testing.T) {
	ex := NewExchange()
	require.NoError(t, ex.PublishUtterance("adiós"))

	ex.Terminate()
	ex.Terminate()

	utt, err := ex.WaitUtterance(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "adiós", utt.Text)
	assert.False(t, utt.Ended)
}
