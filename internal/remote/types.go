package remote

import (
	"time"

	"github.com/matheus3301/chatsync/internal/store"
)

// Chat is the server's view of a chat. It deliberately carries no
// per-device fields: mute, pin, hide, and unread state are never read from
// the wire.
type Chat struct {
	ID             int64     `json:"id"`
	Type           string    `json:"type"`
	GroupType      string    `json:"group_type,omitempty"`
	Name           string    `json:"name,omitempty"`
	Username       string    `json:"username,omitempty"`
	Description    string    `json:"description,omitempty"`
	AvatarURL      string    `json:"avatar_url,omitempty"`
	CreatedBy      *int64    `json:"created_by,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	ParticipantIDs []int64   `json:"participant_ids,omitempty"`
	MemberCount    int       `json:"member_count,omitempty"`
	LastMessage    *Message  `json:"last_message,omitempty"`
}

// Message is a message as returned by the history endpoint.
type Message struct {
	ID          int64     `json:"id"`
	MessageID   string    `json:"message_id"`
	ChatID      int64     `json:"chat_id"`
	SenderID    int64     `json:"sender_id"`
	MessageType string    `json:"message_type"`
	Content     string    `json:"content,omitempty"`
	MediaURL    string    `json:"media_url,omitempty"`
	MediaType   string    `json:"media_type,omitempty"`
	FileSize    *int64    `json:"file_size,omitempty"`
	Duration    *int      `json:"duration,omitempty"`
	ReplyToID   *int64    `json:"reply_to_id,omitempty"`
	IsEdited    bool      `json:"is_edited"`
	IsDeleted   bool      `json:"is_deleted"`
	Status      string    `json:"status,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// LocalID returns the identity the message is cached under. Messages that
// were created by a client keep that client's id as key.
func (m *Message) LocalID() store.MessageID {
	if m.ID == 0 {
		return store.PendingID(m.MessageID)
	}
	return store.ConfirmedID(m.MessageID, m.ID)
}

// User is a participant profile.
type User struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	DisplayName  string `json:"display_name"`
	AvatarURL    string `json:"avatar_url"`
	OnlineStatus string `json:"online_status,omitempty"`
}

// Folder is a chat folder with its override sets.
type Folder struct {
	ID                 int64   `json:"id"`
	Name               string  `json:"name"`
	Icon               string  `json:"icon"`
	Color              string  `json:"color"`
	Position           int     `json:"position"`
	IncludeContacts    bool    `json:"include_contacts"`
	IncludeNonContacts bool    `json:"include_non_contacts"`
	IncludeGroups      bool    `json:"include_groups"`
	IncludeChannels    bool    `json:"include_channels"`
	IncludeBots        bool    `json:"include_bots"`
	IncludedChats      []int64 `json:"included_chats"`
	ExcludedChats      []int64 `json:"excluded_chats,omitempty"`
}

// ToStore converts the folder to its cached form.
func (f *Folder) ToStore() store.Folder {
	return store.Folder{
		ID:                 f.ID,
		Name:               f.Name,
		Icon:               f.Icon,
		Color:              f.Color,
		Position:           f.Position,
		IncludeContacts:    f.IncludeContacts,
		IncludeNonContacts: f.IncludeNonContacts,
		IncludeGroups:      f.IncludeGroups,
		IncludeChannels:    f.IncludeChannels,
		IncludeBots:        f.IncludeBots,
		IncludedChatIDs:    store.IDList(f.IncludedChats).With(),
		ExcludedChatIDs:    store.IDList(f.ExcludedChats).With(),
	}
}

// FolderFromStore converts a cached folder to its wire form.
func FolderFromStore(f store.Folder) Folder {
	return Folder{
		ID:                 f.ID,
		Name:               f.Name,
		Icon:               f.Icon,
		Color:              f.Color,
		Position:           f.Position,
		IncludeContacts:    f.IncludeContacts,
		IncludeNonContacts: f.IncludeNonContacts,
		IncludeGroups:      f.IncludeGroups,
		IncludeChannels:    f.IncludeChannels,
		IncludeBots:        f.IncludeBots,
		IncludedChats:      append([]int64{}, f.IncludedChatIDs...),
		ExcludedChats:      append([]int64{}, f.ExcludedChatIDs...),
	}
}

// InviteLink is a group invite.
type InviteLink struct {
	ID        int64      `json:"id"`
	Code      string     `json:"code"`
	CreatorID int64      `json:"creator_id"`
	MaxUses   int        `json:"max_uses"`
	UsesCount int        `json:"uses_count"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// MuteRequest is the body of a mute call. Exactly one of Duration (a
// token such as "1h") or Until is set.
type MuteRequest struct {
	Duration string     `json:"duration,omitempty"`
	Until    *time.Time `json:"until,omitempty"`
}

// NewMessage is an inbound chat message delivered by the push channel.
type NewMessage struct {
	ClientMessageID string
	ChatID          int64
	SenderID        int64
	Type            string
	Content         string
	MediaURL        string
	MediaType       string
	FileSize        int64
	ReplyToID       int64
	SentAt          time.Time
}

// ReadReceiptAck reports that ReaderID read the message with the given
// client id.
type ReadReceiptAck struct {
	MessageID string
	ChatID    int64
	ReaderID  int64
}

// MembershipChanged reports that the local user's membership in a chat
// changed (added, created, removed).
type MembershipChanged struct {
	ChatID  int64
	Reason  string
	ActorID int64
}

// SendAck is the server's acknowledgement of an outbound frame.
type SendAck struct {
	MessageID string
	OK        bool
}
