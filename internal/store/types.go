package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ChatType distinguishes one-to-one chats from groups.
type ChatType string

const (
	ChatPrivate ChatType = "private"
	ChatGroup   ChatType = "group"
)

// MutedForever is the MutedUntil sentinel for an indefinite mute.
const MutedForever int64 = math.MaxInt64

// PlaceholderChatName is used for a chat row created before its remote
// snapshot could be fetched.
const PlaceholderChatName = "New Chat"

// Chat is a cached chat row. Remote-owned and locally-owned fields live in
// the same row; see the merge package for who writes what.
type Chat struct {
	ID             int64
	Type           ChatType
	GroupType      string
	Name           string
	Username       string
	Description    string
	AvatarURL      string
	CreatedBy      int64
	ParticipantIDs IDList
	MemberCount    int
	CreatedAt      int64 // unix ms
	UpdatedAt      int64 // unix ms, remote updated_at

	UnreadCount          int
	MutedUntil           int64 // unix ms; 0 = not muted
	IsPinned             bool
	PinnedAt             int64 // unix ms; 0 when unpinned
	IsHidden             bool
	FolderID             int64
	LastMessageID        string
	LastReadMessageID    string
	FirstUnreadMessageID string

	// Placeholder marks a row created from a push event for a chat whose
	// snapshot could not be fetched yet.
	Placeholder bool
}

// Muted reports whether the chat is muted at now.
func (c *Chat) Muted(now time.Time) bool {
	if c.MutedUntil == MutedForever {
		return true
	}
	return c.MutedUntil > 0 && now.UnixMilli() < c.MutedUntil
}

// IsGroup reports whether the chat is a group chat.
func (c *Chat) IsGroup() bool {
	return c.Type == ChatGroup
}

// MessageType is the content kind of a message.
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageMedia  MessageType = "media"
	MessageFile   MessageType = "file"
	MessageVoice  MessageType = "voice"
	MessageSystem MessageType = "system"
)

// MessageStatus is the delivery status of a message.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusError     MessageStatus = "error"
)

var statusRank = map[MessageStatus]int{
	StatusSending:   0,
	StatusError:     0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// Advances reports whether moving from s to next is forward progress.
func (s MessageStatus) Advances(next MessageStatus) bool {
	return statusRank[next] > statusRank[s]
}

// MessageID is either Pending(clientID) or Confirmed(clientID, serverID).
// Key never changes across confirmation, so anything referencing a message
// by key stays valid once the server assigns its id.
type MessageID struct {
	key      string
	serverID int64
}

// PendingID returns the id of a locally created message not yet confirmed.
func PendingID(clientID string) MessageID {
	return MessageID{key: clientID}
}

// ConfirmedID returns the id of a message known to the server. clientID may
// be empty for messages that never carried one, in which case the key is
// derived from the server id.
func ConfirmedID(clientID string, serverID int64) MessageID {
	if clientID == "" {
		clientID = serverKey(serverID)
	}
	return MessageID{key: clientID, serverID: serverID}
}

func serverKey(serverID int64) string {
	return "srv-" + strconv.FormatInt(serverID, 10)
}

// HasClientID reports whether the key is a client id the server knows the
// message by, rather than one derived from the server id.
func (id MessageID) HasClientID() bool {
	return id.serverID == 0 || id.key != serverKey(id.serverID)
}

// Key is the stable local key.
func (id MessageID) Key() string { return id.key }

// IsPending reports whether the server has not confirmed the message yet.
func (id MessageID) IsPending() bool { return id.serverID == 0 }

// ServerID returns the server-assigned id, if confirmed.
func (id MessageID) ServerID() (int64, bool) { return id.serverID, id.serverID != 0 }

// Confirm returns the confirmed form of id.
func (id MessageID) Confirm(serverID int64) MessageID {
	return MessageID{key: id.key, serverID: serverID}
}

func (id MessageID) String() string {
	if id.IsPending() {
		return "pending(" + id.key + ")"
	}
	return fmt.Sprintf("confirmed(%s, %d)", id.key, id.serverID)
}

// NewClientMessageID builds a client id of the form "<unix-millis>-<suffix>".
func NewClientMessageID(now time.Time) string {
	return fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString()[:8])
}

// Message is a cached message. ReplyToServerID is the server id of the
// replied-to message; reads resolve it to ReplyTo once that message is
// cached.
type Message struct {
	ID              MessageID
	ChatID          int64
	SenderID        int64
	Type            MessageType
	Body            string
	MediaURL        string
	MediaType       string
	FileSize        int64
	Duration        int
	ReplyTo         string // key of the replied-to message
	ReplyToServerID int64
	Status          MessageStatus
	IsEdited        bool
	CreatedAt       int64 // unix ms
}

// FromSelf reports whether selfID sent the message.
func (m *Message) FromSelf(selfID int64) bool {
	return m.SenderID == selfID
}

// Folder is a cached chat folder.
type Folder struct {
	ID                 int64
	Name               string
	Icon               string
	Color              string
	Position           int
	IncludeContacts    bool
	IncludeNonContacts bool
	IncludeGroups      bool
	IncludeChannels    bool
	IncludeBots        bool
	IncludedChatIDs    IDList
	ExcludedChatIDs    IDList
}

// User is a cached participant profile.
type User struct {
	ID           int64
	Username     string
	DisplayName  string
	AvatarURL    string
	OnlineStatus string
}

// OutboxEntry represents a pending outgoing message.
type OutboxEntry struct {
	ID           int64
	ClientMsgID  string
	ChatID       int64
	Body         string
	ReplyTo      string
	Status       string // queued, sending, sent, failed
	Attempts     int
	ErrorMessage string
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message
	Snippet string
}

// ChatFilter narrows ListChats.
type ChatFilter struct {
	IncludeHidden bool
	Limit         int
	Offset        int
}

// IDList is a list of ids stored as a JSON array column.
type IDList []int64

// Contains reports whether id is in the list.
func (l IDList) Contains(id int64) bool {
	return slices.Contains(l, id)
}

// Without returns a copy of l with id removed.
func (l IDList) Without(id int64) IDList {
	out := make(IDList, 0, len(l))
	for _, v := range l {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// With returns a copy of l with ids appended, skipping duplicates.
func (l IDList) With(ids ...int64) IDList {
	out := slices.Clone(l)
	for _, id := range ids {
		if !out.Contains(id) {
			out = append(out, id)
		}
	}
	return out
}

// Value implements driver.Valuer.
func (l IDList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]int64(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *IDList) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = IDList{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("scan id list: unsupported type %T", src)
	}
	var ids []int64
	if err := json.Unmarshal(raw, &ids); err != nil {
		return fmt.Errorf("scan id list: %w", err)
	}
	if ids == nil {
		ids = []int64{}
	}
	*l = ids
	return nil
}
