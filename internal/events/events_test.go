package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/voice-bridge/internal/session"
)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	mu      sync.Mutex
	msgs    []published
	err     error
	status  nats.Status
	drained bool
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{subject, data})
	return nil
}

func (f *fakeConn) Status() nats.Status { return f.status }

func (f *fakeConn) Drain() error {
	f.drained = true
	return nil
}

func TestNATSPublisher_LifecycleEvents(t *testing.T) {
	conn := &fakeConn{status: nats.CONNECTED}
	pub := newNATSPublisher(conn, "voicebridge.", zerolog.Nop())

	reg := session.NewRegistry(session.Options{}, session.Hooks{
		OnCreate: func(c *session.Call) {
			require.NoError(t, pub.Publish(context.Background(), CallCreated(c)))
		},
		OnEnd: func(ctx context.Context, c *session.Call, reason session.EndReason) {
			require.NoError(t, pub.Publish(ctx, CallEnded(c, reason)))
		},
	})

	call, err := reg.Acquire("CA1", true)
	require.NoError(t, err)
	require.NoError(t, call.AttachStream("MZ1"))
	time.Sleep(2 * time.Millisecond)
	call.End(context.Background(), session.ReasonStop)

	require.Len(t, conn.msgs, 2)
	assert.Equal(t, "voicebridge.call.created", conn.msgs[0].subject)
	assert.Equal(t, "voicebridge.call.ended", conn.msgs[1].subject)

	var created, ended CallEvent
	require.NoError(t, json.Unmarshal(conn.msgs[0].data, &created))
	require.NoError(t, json.Unmarshal(conn.msgs[1].data, &ended))

	assert.Equal(t, "CA1", created.CallID)
	assert.Equal(t, call.CorrelationID(), created.CorrelationID)
	assert.NotEmpty(t, created.ID)
	assert.NotEqual(t, created.ID, ended.ID)

	assert.Equal(t, TypeCallEnded, ended.Type)
	assert.Equal(t, "stop", ended.Reason)
	assert.Equal(t, "MZ1", ended.StreamSid)
	assert.Positive(t, ended.DurationMs)
}

func TestNATSPublisher_Errors(t *testing.T) {
	conn := &fakeConn{err: errors.New("nats: connection closed"), status: nats.CLOSED}
	pub := newNATSPublisher(conn, "", zerolog.Nop())

	err := pub.Publish(context.Background(), CallEvent{Type: TypeCallCreated, CallID: "CA1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "call.created")
	assert.False(t, pub.Healthy())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, pub.Publish(ctx, CallEvent{Type: TypeCallEnded}), context.Canceled)

	pub.Close()
	assert.True(t, conn.drained)
}

func TestNoop(t *testing.T) {
	var p Publisher = Noop{}
	assert.NoError(t, p.Publish(context.Background(), CallEvent{}))
	assert.True(t, p.Healthy())
	p.Close()
}
