package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/status"
)

func TestDecodeChatMessage(t *testing.T) {
	frame := `{"header":{"version":"1.0","type":"chat_message","message_id":"170-abcd","timestamp":1700000000,"sender_id":2,"chat_id":5},
		"body":{"content":"hello","message_type":"text","reply_to_id":9}}`

	kind, evt, err := decodeEvent([]byte(frame))
	require.NoError(t, err)
	assert.Equal(t, bus.KindPushNewMessage, kind)

	msg, ok := evt.(NewMessage)
	require.True(t, ok)
	assert.Equal(t, "170-abcd", msg.ClientMessageID)
	assert.Equal(t, int64(5), msg.ChatID)
	assert.Equal(t, int64(2), msg.SenderID)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, int64(9), msg.ReplyToID)
	assert.Equal(t, time.Unix(1700000000, 0), msg.SentAt)
}

func TestDecodeControlFrames(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		kind  string
		want  any
	}{
		{
			name:  "read",
			frame: `{"header":{"type":"read","sender_id":3,"chat_id":5},"body":{"message_id":"m1"}}`,
			kind:  bus.KindPushReadAck,
			want:  ReadReceiptAck{MessageID: "m1", ChatID: 5, ReaderID: 3},
		},
		{
			name:  "ack ok",
			frame: `{"header":{"type":"ack"},"body":{"message_id":"c-1","status":"ok"}}`,
			kind:  bus.KindPushSendAck,
			want:  SendAck{MessageID: "c-1", OK: true},
		},
		{
			name:  "ack error",
			frame: `{"header":{"type":"ack"},"body":{"message_id":"c-1","status":"error"}}`,
			kind:  bus.KindPushSendAck,
			want:  SendAck{MessageID: "c-1", OK: false},
		},
		{
			name:  "added to group",
			frame: `{"header":{"type":"added_to_group","sender_id":4},"body":{"chat_id":12,"chat_name":"G","added_by":7}}`,
			kind:  bus.KindPushMembershipChange,
			want:  MembershipChanged{ChatID: 12, Reason: "added_to_group", ActorID: 7},
		},
		{
			name:  "chat created",
			frame: `{"header":{"type":"chat_created","sender_id":4},"body":{"chat_id":13,"chat_type":"private"}}`,
			kind:  bus.KindPushMembershipChange,
			want:  MembershipChanged{ChatID: 13, Reason: "chat_created", ActorID: 4},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, evt, err := decodeEvent([]byte(tt.frame))
			require.NoError(t, err)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.want, evt)
		})
	}
}

func TestDecodeIgnoresAndRejects(t *testing.T) {
	_, evt, err := decodeEvent([]byte(`{"header":{"type":"typing","chat_id":5},"body":{"is_typing":true}}`))
	require.NoError(t, err)
	assert.Nil(t, evt, "typing frames are not consumed")

	_, _, err = decodeEvent([]byte(`{"header":{"type":"chat_message","message_id":"x"},"body":{}}`))
	assert.Error(t, err, "chat_message needs a chat id")

	_, _, err = decodeEvent([]byte(`not json`))
	assert.Error(t, err)
}

func TestPushURL(t *testing.T) {
	assert.Equal(t, "wss://chat.example.com/ws", PushURL("https://chat.example.com/"))
	assert.Equal(t, "ws://localhost:8080/ws", PushURL("http://localhost:8080"))
}

// wsServer accepts one connection, sends frames, and records what the
// client writes.
func wsServer(t *testing.T, frames []string, received chan<- []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "tok" {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.CloseNow() }()
		ctx := r.Context()
		for _, f := range frames {
			if err := conn.Write(ctx, websocket.MessageText, []byte(f)); err != nil {
				return
			}
		}
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			received <- data
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestPushChannelPublishesAndSends(t *testing.T) {
	received := make(chan []byte, 10)
	srv := wsServer(t, []string{
		`{"header":{"type":"chat_message","message_id":"m1","sender_id":2,"chat_id":5,"timestamp":1},"body":{"content":"hi","message_type":"text"}}`,
	}, received)

	b := bus.New()
	events, unsub := b.Subscribe(bus.NamespacePush, 10)
	defer unsub()
	machine := status.NewMachine(b)

	p := NewPushChannel(PushConfig{URL: wsURL(srv), Token: "tok", HeartbeatInterval: time.Hour}, b, machine, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	var gotConnected, gotMessage bool
	timeout := time.After(5 * time.Second)
	for !gotConnected || !gotMessage {
		select {
		case evt := <-events:
			switch evt.Kind {
			case bus.KindPushConnected:
				gotConnected = true
			case bus.KindPushNewMessage:
				gotMessage = true
				assert.Equal(t, "hi", evt.Payload.(NewMessage).Content)
			}
		case <-timeout:
			t.Fatal("timeout waiting for push events")
		}
	}
	assert.Equal(t, status.Syncing, machine.Current())
	assert.True(t, p.Connected())

	require.NoError(t, p.SendTextMessage(ctx, 5, 1, "yo", "170-cafe", 0))
	select {
	case data := <-received:
		var env envelope
		require.NoError(t, json.Unmarshal(data, &env))
		assert.Equal(t, "chat_message", env.Header.Type)
		assert.Equal(t, "170-cafe", env.Header.MessageID)
		assert.Equal(t, protocolVersion, env.Header.Version)
		require.NotNil(t, env.Header.ChatID)
		assert.Equal(t, int64(5), *env.Header.ChatID)
	case <-time.After(5 * time.Second):
		t.Fatal("server never received the message")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestPushChannelRejectedToken(t *testing.T) {
	srv := wsServer(t, nil, make(chan []byte, 1))

	b := bus.New()
	machine := status.NewMachine(b)
	p := NewPushChannel(PushConfig{URL: wsURL(srv), Token: "wrong"}, b, machine, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := p.Run(ctx)
	require.Error(t, err)
	assert.Equal(t, status.AuthRequired, machine.Current())
}

func TestSendWhileDisconnected(t *testing.T) {
	p := NewPushChannel(PushConfig{URL: "ws://127.0.0.1:1"}, bus.New(), status.NewMachine(nil), zap.NewNop())
	err := p.SendReadReceipt(context.Background(), "m1", 5, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotConnected)
}
