package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hezronokwach/soshi/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePresence struct {
	mu    sync.Mutex
	calls []presenceCall
}

type presenceCall struct {
	userID int64
	online bool
}

func (f *fakePresence) SetOnline(ctx context.Context, userID int64, online bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, presenceCall{userID: userID, online: online})
	return nil
}

func (f *fakePresence) last() (presenceCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return presenceCall{}, false
	}
	return f.calls[len(f.calls)-1], true
}

func (f *fakePresence) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeGroups struct {
	members map[int64][]int64
}

func (f *fakeGroups) MemberIDs(ctx context.Context, groupID int64) ([]int64, error) {
	return f.members[groupID], nil
}

// hubFixture runs a hub behind a test server whose /ws endpoint authenticates
// by the uid query parameter.
type hubFixture struct {
	hub      *Hub
	presence *fakePresence
	server   *httptest.Server
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func newHubFixture(t *testing.T, groups GroupMembers) *hubFixture {
	t.Helper()
	f := &hubFixture{presence: &fakePresence{}}
	if groups == nil {
		groups = &fakeGroups{}
	}
	f.hub = NewHub(f.presence, groups, 100, nil)

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.hub.Run(ctx)
	}()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := strconv.ParseInt(r.URL.Query().Get("uid"), 10, 64)
		if err != nil {
			http.Error(w, "bad uid", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		cctx, ccancel := context.WithCancel(context.Background())
		client := NewClient(f.hub, conn, userID)
		client.Start(cctx, ccancel)
		f.hub.Register(client)
	}))

	t.Cleanup(func() {
		f.server.Close()
		f.cancel()
		f.wg.Wait()
	})
	return f
}

func (f *hubFixture) dial(t *testing.T, userID int64) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?uid=" + strconv.FormatInt(userID, 10)
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := Decode(raw)
	require.NoError(t, err)
	return env
}

func TestHubPresenceLifecycle(t *testing.T) {
	f := newHubFixture(t, nil)

	conn1 := f.dial(t, 1)
	require.Eventually(t, func() bool { return f.hub.IsOnline(1) }, time.Second, 10*time.Millisecond)
	call, ok := f.presence.last()
	require.True(t, ok)
	assert.Equal(t, presenceCall{userID: 1, online: true}, call)

	// A second user coming online is broadcast to the first.
	f.dial(t, 2)
	env := readEnvelope(t, conn1)
	assert.Equal(t, EventUserStatus, env.Type)
	assert.Equal(t, int64(2), env.UserID)
	require.NotNil(t, env.IsOnline)
	assert.True(t, *env.IsOnline)
}

func TestHubSecondSocketDoesNotFlipPresence(t *testing.T) {
	f := newHubFixture(t, nil)

	f.dial(t, 1)
	require.Eventually(t, func() bool { return f.hub.IsOnline(1) }, time.Second, 10*time.Millisecond)
	before := f.presence.count()

	// Same user, second tab: no new presence write, no broadcast.
	f.dial(t, 1)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, before, f.presence.count())
}

func TestHubOfflineOnLastSocket(t *testing.T) {
	f := newHubFixture(t, nil)

	conn1 := f.dial(t, 1)
	connA := f.dial(t, 2)
	connB := f.dial(t, 2)
	require.Eventually(t, func() bool { return f.hub.IsOnline(2) }, time.Second, 10*time.Millisecond)
	readEnvelope(t, conn1) // user 2 online

	connA.Close()
	time.Sleep(100 * time.Millisecond)
	assert.True(t, f.hub.IsOnline(2), "still one socket open")

	connB.Close()
	env := readEnvelope(t, conn1)
	assert.Equal(t, EventUserStatus, env.Type)
	assert.Equal(t, int64(2), env.UserID)
	require.NotNil(t, env.IsOnline)
	assert.False(t, *env.IsOnline)
}

func TestHubRoutesTypingToRecipient(t *testing.T) {
	f := newHubFixture(t, nil)

	conn1 := f.dial(t, 1)
	conn2 := f.dial(t, 2)
	require.Eventually(t, func() bool { return f.hub.IsOnline(1) && f.hub.IsOnline(2) }, time.Second, 10*time.Millisecond)
	readEnvelope(t, conn1) // user 2 online

	// The sender id in the frame is ignored; the connection identity wins.
	require.NoError(t, conn1.WriteJSON(Typing(999, 2, true)))

	env := readEnvelope(t, conn2)
	assert.Equal(t, EventTyping, env.Type)
	assert.Equal(t, int64(1), env.UserID)
	require.NotNil(t, env.IsTyping)
	assert.True(t, *env.IsTyping)
}

func TestHubIgnoresUnknownAndNonTypingFrames(t *testing.T) {
	f := newHubFixture(t, nil)

	conn1 := f.dial(t, 1)
	conn2 := f.dial(t, 2)
	require.Eventually(t, func() bool { return f.hub.IsOnline(1) && f.hub.IsOnline(2) }, time.Second, 10*time.Millisecond)
	readEnvelope(t, conn1) // user 2 online

	// Clients cannot inject messages or unknown types over the socket.
	require.NoError(t, conn1.WriteMessage(websocket.TextMessage, []byte(`{"type":"mystery"}`)))
	require.NoError(t, conn1.WriteJSON(PrivateMessage(&model.Message{ID: 1, SenderID: 1, RecipientID: 2, Content: "spoof"})))
	require.NoError(t, conn1.WriteJSON(Typing(1, 2, true)))

	// Only the typing frame comes out the other side.
	env := readEnvelope(t, conn2)
	assert.Equal(t, EventTyping, env.Type)
}

func TestHubSendToUserReachesAllSockets(t *testing.T) {
	f := newHubFixture(t, nil)

	connA := f.dial(t, 1)
	connB := f.dial(t, 1)
	require.Eventually(t, func() bool { return f.hub.IsOnline(1) }, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond) // let the second socket register

	msg := &model.Message{ID: 10, SenderID: 2, RecipientID: 1, Content: "hi", CreatedAt: time.Now()}
	f.hub.SendToUser(1, PrivateMessage(msg))

	for _, conn := range []*websocket.Conn{connA, connB} {
		env := readEnvelope(t, conn)
		assert.Equal(t, EventPrivateMessage, env.Type)
		require.NotNil(t, env.Message)
		assert.Equal(t, int64(10), env.Message.ID)
	}
}

func TestHubBroadcastToGroup(t *testing.T) {
	groups := &fakeGroups{members: map[int64][]int64{7: {1, 2, 3}}}
	f := newHubFixture(t, groups)

	conn1 := f.dial(t, 1)
	conn2 := f.dial(t, 2)
	require.Eventually(t, func() bool { return f.hub.IsOnline(1) && f.hub.IsOnline(2) }, time.Second, 10*time.Millisecond)
	readEnvelope(t, conn1) // user 2 online

	msg := &model.Message{ID: 11, SenderID: 1, GroupID: 7, Content: "all", CreatedAt: time.Now()}
	f.hub.BroadcastToGroup(context.Background(), 7, GroupMessage(msg))

	// Member 3 has no socket; members 1 and 2 both receive it.
	for _, conn := range []*websocket.Conn{conn1, conn2} {
		env := readEnvelope(t, conn)
		assert.Equal(t, EventGroupMessage, env.Type)
		assert.Equal(t, int64(7), env.GroupID)
	}
}
