package ws

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hezronokwach/soshi/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
		unknown bool
		check   func(t *testing.T, env Envelope)
	}{
		{
			name: "private message",
			raw:  `{"type":"private_message","message":{"id":7,"sender_id":1,"recipient_id":2,"content":"hi"}}`,
			check: func(t *testing.T, env Envelope) {
				assert.Equal(t, EventPrivateMessage, env.Type)
				require.NotNil(t, env.Message)
				assert.Equal(t, int64(7), env.Message.ID)
			},
		},
		{
			name: "group message",
			raw:  `{"type":"group_message","group_id":3,"message":{"id":8,"sender_id":1,"group_id":3,"content":"hi"}}`,
			check: func(t *testing.T, env Envelope) {
				assert.Equal(t, EventGroupMessage, env.Type)
				assert.Equal(t, int64(3), env.GroupID)
			},
		},
		{
			name: "typing indicator",
			raw:  `{"type":"typing_indicator","user_id":1,"recipient_id":2,"is_typing":true}`,
			check: func(t *testing.T, env Envelope) {
				require.NotNil(t, env.IsTyping)
				assert.True(t, *env.IsTyping)
			},
		},
		{
			name: "online status",
			raw:  `{"type":"user_online_status","user_id":5,"is_online":false}`,
			check: func(t *testing.T, env Envelope) {
				require.NotNil(t, env.IsOnline)
				assert.False(t, *env.IsOnline)
			},
		},
		{
			name: "notification",
			raw:  `{"type":"notification","notification":{"id":1,"user_id":2,"type":"message_request","content":"x"}}`,
			check: func(t *testing.T, env Envelope) {
				require.NotNil(t, env.Notification)
				assert.Equal(t, model.NotificationMessageRequest, env.Notification.Type)
			},
		},
		{
			// Newer server versions may introduce types this client does not
			// know; they must be droppable without tearing the connection down.
			name:    "unknown type",
			raw:     `{"type":"reaction_added","message_id":9}`,
			wantErr: true,
			unknown: true,
		},
		{name: "missing type", raw: `{"message":{"id":1}}`, wantErr: true},
		{name: "not json", raw: `{{{`, wantErr: true},
		{name: "private message without participants", raw: `{"type":"private_message","message":{"id":7,"content":"hi"}}`, wantErr: true},
		{name: "typing without is_typing", raw: `{"type":"typing_indicator","user_id":1,"recipient_id":2}`, wantErr: true},
		{name: "status without is_online", raw: `{"type":"user_online_status","user_id":5}`, wantErr: true},
		{name: "group message without group", raw: `{"type":"group_message","message":{"id":8,"sender_id":1,"content":"hi"}}`, wantErr: true},
		{name: "notification without payload", raw: `{"type":"notification"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Decode([]byte(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.unknown, errors.Is(err, ErrUnknownType))
				return
			}
			require.NoError(t, err)
			if tt.check != nil {
				tt.check(t, env)
			}
		})
	}
}

func TestConstructorsRoundTrip(t *testing.T) {
	msg := &model.Message{ID: 42, SenderID: 1, RecipientID: 2, Content: "hello", CreatedAt: time.Now().UTC()}

	for _, env := range []Envelope{
		PrivateMessage(msg),
		GroupMessage(&model.Message{ID: 43, SenderID: 1, GroupID: 9, Content: "hey"}),
		Typing(1, 2, true),
		UserStatus(5, true),
		Notification(&model.Notification{ID: 1, UserID: 2, Type: model.NotificationSystem, Content: "x"}),
	} {
		raw, err := json.Marshal(env)
		require.NoError(t, err)
		decoded, err := Decode(raw)
		require.NoError(t, err, "type %s", env.Type)
		assert.Equal(t, env.Type, decoded.Type)
	}
}
