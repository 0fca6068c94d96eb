package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hezronokwach/soshi/internal/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errConnClosed = errors.New("conn closed")

// fakeConn feeds scripted frames to the read loop and records writes.
type fakeConn struct {
	frames chan []byte

	mu      sync.Mutex
	written []any
	once    sync.Once
}

func newFakeConn(frames ...string) *fakeConn {
	c := &fakeConn{frames: make(chan []byte, len(frames)+1)}
	for _, f := range frames {
		c.frames <- []byte(f)
	}
	return c
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	raw, ok := <-c.frames
	if !ok {
		return nil, errConnClosed
	}
	return raw, nil
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, v)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.frames) })
	return nil
}

// fakeDialer hands out queued conns; when the queue is empty every dial fails,
// sending the manager through the retry path.
type fakeDialer struct {
	mu    sync.Mutex
	conns []Conn
	dials int
}

func (d *fakeDialer) Dial(ctx context.Context) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.conns) == 0 {
		return nil, errors.New("dial refused")
	}
	conn := d.conns[0]
	d.conns = d.conns[1:]
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type envelopeRecorder struct {
	mu   sync.Mutex
	envs []ws.Envelope
}

func (r *envelopeRecorder) record(env ws.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, env)
}

func (r *envelopeRecorder) snapshot() []ws.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ws.Envelope, len(r.envs))
	copy(out, r.envs)
	return out
}

func TestManagerDeliversInOrder(t *testing.T) {
	conn := newFakeConn(
		`{"type":"user_online_status","user_id":1,"is_online":true}`,
		`{"type":"user_online_status","user_id":2,"is_online":true}`,
		`{"type":"user_online_status","user_id":3,"is_online":false}`,
	)
	dialer := &fakeDialer{conns: []Conn{conn}}
	m := NewManager(dialer)
	m.ReconnectDelay = 10 * time.Millisecond
	rec := &envelopeRecorder{}

	require.NoError(t, m.Connect(rec.record))
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 3 }, time.Second, 5*time.Millisecond)

	envs := rec.snapshot()
	assert.Equal(t, []int64{1, 2, 3}, []int64{envs[0].UserID, envs[1].UserID, envs[2].UserID})
	m.Close()
}

func TestManagerDropsBadAndUnknownFrames(t *testing.T) {
	conn := newFakeConn(
		`not json at all`,
		`{"type":"some_future_event","data":1}`,
		`{"type":"typing_indicator","user_id":2,"recipient_id":1,"is_typing":true}`,
	)
	dialer := &fakeDialer{conns: []Conn{conn}}
	m := NewManager(dialer)
	m.ReconnectDelay = 10 * time.Millisecond
	rec := &envelopeRecorder{}

	require.NoError(t, m.Connect(rec.record))
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, ws.EventTyping, rec.snapshot()[0].Type)
	m.Close()
}

func TestManagerReconnects(t *testing.T) {
	dead := newFakeConn() // closes as soon as it is read
	dead.Close()
	alive := newFakeConn(`{"type":"user_online_status","user_id":9,"is_online":true}`)

	dialer := &fakeDialer{conns: []Conn{dead, alive}}
	m := NewManager(dialer)
	m.ReconnectDelay = 10 * time.Millisecond
	rec := &envelopeRecorder{}

	require.NoError(t, m.Connect(rec.record))

	// The frame only arrives over the second connection.
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, dialer.dialCount(), 2)
	m.Close()
}

func TestManagerCloseStopsReconnecting(t *testing.T) {
	conn := newFakeConn()
	conn.Close()
	dialer := &fakeDialer{conns: []Conn{conn}}
	m := NewManager(dialer)
	m.ReconnectDelay = 10 * time.Millisecond

	require.NoError(t, m.Connect(func(ws.Envelope) {}))
	time.Sleep(30 * time.Millisecond)
	m.Close()

	settled := dialer.dialCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, dialer.dialCount(), "no dials after Close")
	assert.False(t, m.Connected())
}

func TestManagerConnectTwice(t *testing.T) {
	m := NewManager(&fakeDialer{})
	require.NoError(t, m.Connect(func(ws.Envelope) {}))
	assert.Error(t, m.Connect(func(ws.Envelope) {}))
	m.Close()
}

func TestManagerSendTypingWhileDisconnected(t *testing.T) {
	m := NewManager(&fakeDialer{})
	err := m.SendTyping(1, 2, true)
	assert.ErrorIs(t, err, errNotConnected)
}

func TestManagerSendTypingWritesFrame(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []Conn{conn}}
	m := NewManager(dialer)
	m.ReconnectDelay = 10 * time.Millisecond

	require.NoError(t, m.Connect(func(ws.Envelope) {}))
	require.Eventually(t, m.Connected, time.Second, 5*time.Millisecond)

	require.NoError(t, m.SendTyping(1, 2, true))
	conn.mu.Lock()
	defer conn.mu.Unlock()
	require.Equal(t, 1, len(conn.written))
	env, ok := conn.written[0].(ws.Envelope)
	require.True(t, ok)
	assert.Equal(t, ws.EventTyping, env.Type)
	assert.Equal(t, int64(2), env.RecipientID)
	m.Close()
}
