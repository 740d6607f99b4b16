package remote

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/matheus3301/chatsync/internal/bus"
)

const protocolVersion = "1.0"

// Frame types exchanged over the push channel.
const (
	frameChatMessage  = "chat_message"
	frameRead         = "read"
	frameAck          = "ack"
	frameHeartbeat    = "heartbeat"
	frameChatCreated  = "chat_created"
	frameAddedToGroup = "added_to_group"
	frameRemoved      = "removed_from_group"
)

// envelope is a single push frame.
type envelope struct {
	Header header          `json:"header"`
	Body   json.RawMessage `json:"body"`
}

type header struct {
	Version     string `json:"version"`
	Type        string `json:"type"`
	MessageID   string `json:"message_id"`
	Timestamp   int64  `json:"timestamp"` // unix seconds
	SenderID    int64  `json:"sender_id,omitempty"`
	RecipientID *int64 `json:"recipient_id,omitempty"`
	ChatID      *int64 `json:"chat_id,omitempty"`
}

type chatMessageBody struct {
	Content     string `json:"content,omitempty"`
	MessageType string `json:"message_type"`
	MediaURL    string `json:"media_url,omitempty"`
	MediaType   string `json:"media_type,omitempty"`
	FileSize    *int64 `json:"file_size,omitempty"`
	ReplyToID   *int64 `json:"reply_to_id,omitempty"`
}

type messageRefBody struct {
	MessageID string `json:"message_id"`
}

type ackBody struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

type membershipBody struct {
	ChatID  int64 `json:"chat_id"`
	AddedBy int64 `json:"added_by,omitempty"`
}

func newEnvelope(typ, messageID string, senderID int64, chatID *int64, body any) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s body: %w", typ, err)
	}
	if messageID == "" {
		messageID = uuid.NewString()
	}
	return json.Marshal(envelope{
		Header: header{
			Version:   protocolVersion,
			Type:      typ,
			MessageID: messageID,
			Timestamp: time.Now().Unix(),
			SenderID:  senderID,
			ChatID:    chatID,
		},
		Body: raw,
	})
}

// decodeEvent turns a frame into one of the inbound event types. It returns
// (nil, nil) for frames the engine does not consume (typing, presence,
// heartbeats).
func decodeEvent(data []byte) (kind string, event any, err error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("decode frame: %w", err)
	}
	h := env.Header

	switch h.Type {
	case frameChatMessage:
		if h.ChatID == nil {
			return "", nil, fmt.Errorf("chat_message %s without chat_id", h.MessageID)
		}
		var b chatMessageBody
		if err := json.Unmarshal(env.Body, &b); err != nil {
			return "", nil, fmt.Errorf("decode chat_message body: %w", err)
		}
		msg := NewMessage{
			ClientMessageID: h.MessageID,
			ChatID:          *h.ChatID,
			SenderID:        h.SenderID,
			Type:            b.MessageType,
			Content:         b.Content,
			MediaURL:        b.MediaURL,
			MediaType:       b.MediaType,
			SentAt:          time.Unix(h.Timestamp, 0),
		}
		if b.FileSize != nil {
			msg.FileSize = *b.FileSize
		}
		if b.ReplyToID != nil {
			msg.ReplyToID = *b.ReplyToID
		}
		return bus.KindPushNewMessage, msg, nil

	case frameRead:
		var b messageRefBody
		if err := json.Unmarshal(env.Body, &b); err != nil {
			return "", nil, fmt.Errorf("decode read body: %w", err)
		}
		ack := ReadReceiptAck{MessageID: b.MessageID, ReaderID: h.SenderID}
		if h.ChatID != nil {
			ack.ChatID = *h.ChatID
		}
		return bus.KindPushReadAck, ack, nil

	case frameAck:
		var b ackBody
		if err := json.Unmarshal(env.Body, &b); err != nil {
			return "", nil, fmt.Errorf("decode ack body: %w", err)
		}
		return bus.KindPushSendAck, SendAck{MessageID: b.MessageID, OK: b.Status == "ok"}, nil

	case frameChatCreated, frameAddedToGroup, frameRemoved:
		var b membershipBody
		if len(env.Body) > 0 {
			if err := json.Unmarshal(env.Body, &b); err != nil {
				return "", nil, fmt.Errorf("decode %s body: %w", h.Type, err)
			}
		}
		if b.ChatID == 0 && h.ChatID != nil {
			b.ChatID = *h.ChatID
		}
		if b.ChatID == 0 {
			return "", nil, fmt.Errorf("%s without chat id", h.Type)
		}
		actor := b.AddedBy
		if actor == 0 {
			actor = h.SenderID
		}
		return bus.KindPushMembershipChange, MembershipChanged{ChatID: b.ChatID, Reason: h.Type, ActorID: actor}, nil
	}
	return "", nil, nil
}
