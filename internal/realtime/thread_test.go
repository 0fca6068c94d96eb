package realtime

import (
	"testing"
	"time"

	"github.com/hezronokwach/soshi/internal/model"
	"github.com/hezronokwach/soshi/internal/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	self int64 = 1
	peer int64 = 2
)

func privateEnv(id, senderID, recipientID int64, content string) ws.Envelope {
	return ws.PrivateMessage(&model.Message{
		ID:          id,
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     content,
		CreatedAt:   time.Now(),
	})
}

func TestThreadOptimisticSendConfirm(t *testing.T) {
	th := NewThread(self, peer)

	tempID := th.AppendLocal("hello")
	require.NotEmpty(t, tempID)
	require.Equal(t, 1, th.Len())
	assert.True(t, th.Messages()[0].Pending)

	// The authoritative copy comes back addressed from self to peer; it must
	// replace the provisional entry in place, not duplicate it.
	changed := th.Apply(privateEnv(100, self, peer, "hello"))
	assert.True(t, changed)
	require.Equal(t, 1, th.Len())
	got := th.Messages()[0]
	assert.False(t, got.Pending)
	assert.Equal(t, int64(100), got.ID)
}

func TestThreadDuplicateDelivery(t *testing.T) {
	th := NewThread(self, peer)

	env := privateEnv(100, peer, self, "hi")
	assert.True(t, th.Apply(env))
	assert.False(t, th.Apply(env), "second delivery of the same id must be a no-op")
	assert.Equal(t, 1, th.Len())
}

func TestThreadRollback(t *testing.T) {
	th := NewThread(self, peer)

	tempID := th.AppendLocal("doomed")
	th.Rollback(tempID)
	assert.Equal(t, 0, th.Len())

	// Confirmation winning the race against the failing HTTP response: the
	// entry is no longer provisional, rollback must leave it alone.
	tempID = th.AppendLocal("kept")
	th.Apply(privateEnv(101, self, peer, "kept"))
	th.Rollback(tempID)
	require.Equal(t, 1, th.Len())
	assert.Equal(t, int64(101), th.Messages()[0].ID)
}

func TestThreadAppendLocalDedupesInflight(t *testing.T) {
	th := NewThread(self, peer)

	first := th.AppendLocal("same text")
	second := th.AppendLocal("same text")
	assert.Equal(t, first, second)
	assert.Equal(t, 1, th.Len())
}

func TestThreadTempIDsDistinctWithinMillisecond(t *testing.T) {
	th := NewThread(self, peer)

	first := th.AppendLocal("one")
	second := th.AppendLocal("two")
	require.NotEqual(t, first, second)

	// Rolling back the first send must not take the second entry with it.
	th.Rollback(first)
	require.Equal(t, 1, th.Len())
	assert.Equal(t, "two", th.Messages()[0].Content)
}

func TestThreadIgnoresOtherConversations(t *testing.T) {
	th := NewThread(self, peer)

	assert.False(t, th.Apply(privateEnv(1, 3, self, "from someone else")))
	assert.False(t, th.Apply(ws.GroupMessage(&model.Message{ID: 2, SenderID: peer, GroupID: 9, Content: "x"})))
	assert.Equal(t, 0, th.Len())
}

func TestGroupThreadAddressing(t *testing.T) {
	th := NewGroupThread(self, 9)

	assert.True(t, th.Apply(ws.GroupMessage(&model.Message{ID: 1, SenderID: peer, GroupID: 9, Content: "in"})))
	assert.False(t, th.Apply(ws.GroupMessage(&model.Message{ID: 2, SenderID: peer, GroupID: 8, Content: "other group"})))
	assert.False(t, th.Apply(privateEnv(3, peer, self, "direct")))
	assert.Equal(t, 1, th.Len())
}

func TestThreadSetHistoryKeepsPending(t *testing.T) {
	th := NewThread(self, peer)
	th.AppendLocal("in flight")

	th.SetHistory([]model.Message{
		{ID: 1, SenderID: peer, RecipientID: self, Content: "old", CreatedAt: time.Now().Add(-time.Hour)},
		{ID: 2, SenderID: self, RecipientID: peer, Content: "older reply", CreatedAt: time.Now().Add(-time.Minute)},
	})

	msgs := th.Messages()
	require.Equal(t, 3, len(msgs))
	assert.Equal(t, int64(1), msgs[0].ID)
	assert.True(t, msgs[2].Pending, "pending entry stays at the tail")
}

func TestThreadGrouping(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	th := NewThread(self, peer)
	th.SetHistory([]model.Message{
		{ID: 1, SenderID: peer, RecipientID: self, Content: "a", CreatedAt: base},
		{ID: 2, SenderID: peer, RecipientID: self, Content: "b", CreatedAt: base.Add(time.Minute)},
		{ID: 3, SenderID: self, RecipientID: peer, Content: "c", CreatedAt: base.Add(2 * time.Minute)},
		{ID: 4, SenderID: self, RecipientID: peer, Content: "d", CreatedAt: base.Add(20 * time.Minute)},
	})

	// Avatar on the first message of each sender run.
	assert.True(t, th.ShowAvatar(0))
	assert.False(t, th.ShowAvatar(1))
	assert.True(t, th.ShowAvatar(2))
	assert.False(t, th.ShowAvatar(3))

	// Timestamp on run ends and across >5min gaps.
	assert.False(t, th.ShowTimestamp(0))
	assert.True(t, th.ShowTimestamp(1))
	assert.True(t, th.ShowTimestamp(2), "gap to the next message exceeds the threshold")
	assert.True(t, th.ShowTimestamp(3), "last message always shows a timestamp")
}

func TestThreadArrivalOrder(t *testing.T) {
	th := NewThread(self, peer)
	th.Apply(privateEnv(10, peer, self, "first"))
	th.Apply(privateEnv(11, self, peer, "second"))
	th.Apply(privateEnv(12, peer, self, "third"))

	msgs := th.Messages()
	require.Equal(t, 3, len(msgs))
	assert.Equal(t, []int64{10, 11, 12}, []int64{msgs[0].ID, msgs[1].ID, msgs[2].ID})
}
