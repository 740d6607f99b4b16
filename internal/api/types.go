package api

import (
	"time"

	"github.com/matheus3301/chatsync/internal/folder"
	"github.com/matheus3301/chatsync/internal/store"
)

// Empty is the request or response of calls that carry no data.
type Empty struct{}

// ChatRef names one chat.
type ChatRef struct {
	ChatID int64 `json:"chat_id"`
}

// ListChatsRequest filters ListChats and WatchChats. FolderID 0 is the
// "All" view.
type ListChatsRequest struct {
	FolderID      int64 `json:"folder_id,omitempty"`
	IncludeHidden bool  `json:"include_hidden,omitempty"`
}

// Chat is a chat as shown to clients.
type Chat struct {
	ID                   int64   `json:"id"`
	Type                 string  `json:"type"`
	Name                 string  `json:"name"`
	Username             string  `json:"username,omitempty"`
	Description          string  `json:"description,omitempty"`
	AvatarURL            string  `json:"avatar_url,omitempty"`
	ParticipantIDs       []int64 `json:"participant_ids,omitempty"`
	MemberCount          int     `json:"member_count,omitempty"`
	UnreadCount          int     `json:"unread_count"`
	Muted                bool    `json:"muted"`
	MutedForever         bool    `json:"muted_forever,omitempty"`
	MutedUntil           int64   `json:"muted_until,omitempty"`
	IsPinned             bool    `json:"is_pinned"`
	PinnedAt             int64   `json:"pinned_at,omitempty"`
	IsHidden             bool    `json:"is_hidden"`
	FolderID             int64   `json:"folder_id,omitempty"`
	LastMessageID        string  `json:"last_message_id,omitempty"`
	LastReadMessageID    string  `json:"last_read_message_id,omitempty"`
	FirstUnreadMessageID string  `json:"first_unread_message_id,omitempty"`
	Placeholder          bool    `json:"placeholder,omitempty"`
	UpdatedAt            int64   `json:"updated_at,omitempty"`
}

// ChatList is a list of chats.
type ChatList struct {
	Chats []Chat `json:"chats"`
}

// MessagesRequest pages through a chat's messages.
type MessagesRequest struct {
	ChatID   int64 `json:"chat_id"`
	Limit    int   `json:"limit,omitempty"`
	Offset   int   `json:"offset,omitempty"`
	BeforeMs int64 `json:"before_ms,omitempty"`
}

// Message is a message as shown to clients. ReplyToServerID is set when
// the replied-to message is not cached.
type Message struct {
	Key             string `json:"key"`
	ServerID        int64  `json:"server_id,omitempty"`
	Pending         bool   `json:"pending"`
	ChatID          int64  `json:"chat_id"`
	SenderID        int64  `json:"sender_id"`
	Type            string `json:"type"`
	Body            string `json:"body,omitempty"`
	MediaURL        string `json:"media_url,omitempty"`
	ReplyTo         string `json:"reply_to,omitempty"`
	ReplyToServerID int64  `json:"reply_to_server_id,omitempty"`
	Status          string `json:"status"`
	IsEdited        bool   `json:"is_edited,omitempty"`
	CreatedAt       int64  `json:"created_at"`
}

// MessageList is a list of messages.
type MessageList struct {
	Messages []Message `json:"messages"`
}

// SearchRequest is a full-text message search.
type SearchRequest struct {
	Query  string `json:"query"`
	ChatID int64  `json:"chat_id,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// SearchHit is one search result.
type SearchHit struct {
	Message Message `json:"message"`
	Snippet string  `json:"snippet"`
}

// SearchResults is the response of SearchMessages.
type SearchResults struct {
	Results []SearchHit `json:"results"`
}

// MarkReadResponse reports whether a read receipt was sent.
type MarkReadResponse struct {
	Sent bool `json:"sent"`
}

// MuteRequest mutes a chat for Duration ("1h", "1d", "1m", "forever").
type MuteRequest struct {
	ChatID   int64  `json:"chat_id"`
	Duration string `json:"duration"`
}

// MoveRequest assigns a chat to a folder.
type MoveRequest struct {
	ChatID   int64 `json:"chat_id"`
	FolderID int64 `json:"folder_id"`
}

// MessageRef names one message by its local key.
type MessageRef struct {
	Key string `json:"key"`
}

// InviteRequest creates a group invite.
type InviteRequest struct {
	ChatID           int64 `json:"chat_id"`
	UsageLimit       int   `json:"usage_limit,omitempty"`
	ExpiresInSeconds int64 `json:"expires_in_seconds,omitempty"`
}

// Invite is a created invite link.
type Invite struct {
	Code      string `json:"code"`
	MaxUses   int    `json:"max_uses,omitempty"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
}

// JoinRequest joins a group by invite code.
type JoinRequest struct {
	Code string `json:"code"`
}

// Folder is a folder as shown to clients. ChatCount is derived live.
type Folder struct {
	ID                 int64   `json:"id"`
	Name               string  `json:"name"`
	Icon               string  `json:"icon,omitempty"`
	Color              string  `json:"color,omitempty"`
	Position           int     `json:"position"`
	IncludeContacts    bool    `json:"include_contacts,omitempty"`
	IncludeNonContacts bool    `json:"include_non_contacts,omitempty"`
	IncludeGroups      bool    `json:"include_groups,omitempty"`
	IncludeChannels    bool    `json:"include_channels,omitempty"`
	IncludeBots        bool    `json:"include_bots,omitempty"`
	IncludedChatIDs    []int64 `json:"included_chat_ids,omitempty"`
	ExcludedChatIDs    []int64 `json:"excluded_chat_ids,omitempty"`
	ChatCount          int     `json:"chat_count"`
}

// FolderList is a list of folders.
type FolderList struct {
	Folders []Folder `json:"folders"`
}

// FolderRef names one folder.
type FolderRef struct {
	FolderID int64 `json:"folder_id"`
}

// ReorderRequest sets folder positions.
type ReorderRequest struct {
	Positions map[int64]int `json:"positions"`
}

// FolderChatsRequest adds chats to a folder.
type FolderChatsRequest struct {
	FolderID int64   `json:"folder_id"`
	ChatIDs  []int64 `json:"chat_ids"`
}

// FolderChatRequest removes a chat from a folder.
type FolderChatRequest struct {
	FolderID int64 `json:"folder_id"`
	ChatID   int64 `json:"chat_id"`
}

// SendRequest queues a text message.
type SendRequest struct {
	ChatID  int64  `json:"chat_id"`
	Content string `json:"content"`
	ReplyTo string `json:"reply_to,omitempty"`
}

// SendResponse carries the local key of a queued message.
type SendResponse struct {
	Key string `json:"key"`
}

// Status describes the daemon.
type Status struct {
	Session       string `json:"session"`
	State         string `json:"state"`
	UptimeMs      int64  `json:"uptime_ms"`
	SelfID        int64  `json:"self_id"`
	ChatCount     int64  `json:"chat_count"`
	MessageCount  int64  `json:"message_count"`
	LastRefreshMs int64  `json:"last_refresh_ms,omitempty"`
	PushConnected bool   `json:"push_connected"`
}

func chatView(c *store.Chat, now time.Time) Chat {
	v := Chat{
		ID:                   c.ID,
		Type:                 string(c.Type),
		Name:                 c.Name,
		Username:             c.Username,
		Description:          c.Description,
		AvatarURL:            c.AvatarURL,
		ParticipantIDs:       c.ParticipantIDs,
		MemberCount:          c.MemberCount,
		UnreadCount:          c.UnreadCount,
		Muted:                c.Muted(now),
		IsPinned:             c.IsPinned,
		PinnedAt:             c.PinnedAt,
		IsHidden:             c.IsHidden,
		FolderID:             c.FolderID,
		LastMessageID:        c.LastMessageID,
		LastReadMessageID:    c.LastReadMessageID,
		FirstUnreadMessageID: c.FirstUnreadMessageID,
		Placeholder:          c.Placeholder,
		UpdatedAt:            c.UpdatedAt,
	}
	// Large sentinels do not survive the float64 wire encoding.
	if c.MutedUntil == store.MutedForever {
		v.MutedForever = true
	} else {
		v.MutedUntil = c.MutedUntil
	}
	return v
}

func chatList(chats []store.Chat, now time.Time) ChatList {
	out := ChatList{Chats: make([]Chat, 0, len(chats))}
	for i := range chats {
		out.Chats = append(out.Chats, chatView(&chats[i], now))
	}
	return out
}

func messageView(m *store.Message) Message {
	sid, _ := m.ID.ServerID()
	out := Message{
		Key:       m.ID.Key(),
		ServerID:  sid,
		Pending:   m.ID.IsPending(),
		ChatID:    m.ChatID,
		SenderID:  m.SenderID,
		Type:      string(m.Type),
		Body:      m.Body,
		MediaURL:  m.MediaURL,
		ReplyTo:   m.ReplyTo,
		Status:    string(m.Status),
		IsEdited:  m.IsEdited,
		CreatedAt: m.CreatedAt,
	}
	if m.ReplyTo == "" {
		out.ReplyToServerID = m.ReplyToServerID
	}
	return out
}

func messageList(msgs []store.Message) MessageList {
	out := MessageList{Messages: make([]Message, 0, len(msgs))}
	for i := range msgs {
		out.Messages = append(out.Messages, messageView(&msgs[i]))
	}
	return out
}

func folderView(f *store.Folder, count int) Folder {
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
		IncludedChatIDs:    f.IncludedChatIDs,
		ExcludedChatIDs:    f.ExcludedChatIDs,
		ChatCount:          count,
	}
}

func folderList(folders []store.Folder, chats []store.Chat) FolderList {
	counts := folder.Counts(chats, folders)
	out := FolderList{Folders: make([]Folder, 0, len(folders))}
	for i := range folders {
		out.Folders = append(out.Folders, folderView(&folders[i], counts[folders[i].ID]))
	}
	return out
}

// ToStore converts a client folder to its cached form.
func (f Folder) ToStore() store.Folder {
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
		IncludedChatIDs:    store.IDList(f.IncludedChatIDs).With(),
		ExcludedChatIDs:    store.IDList(f.ExcludedChatIDs).With(),
	}
}
