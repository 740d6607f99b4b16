// Package merge reconciles remote snapshots with cached rows. Every function
// here is pure: callers read the current row, merge, and write the result
// inside one store transaction.
package merge

import (
	"time"

	"github.com/matheus3301/chatsync/internal/remote"
	"github.com/matheus3301/chatsync/internal/store"
)

// Owner says which side is authoritative for a field.
type Owner int

const (
	// Remote fields always take the server's value, defaulted when absent.
	Remote Owner = iota
	// Local fields are never read from the server.
	Local
	// RemoteIfPresent fields take the server's value when it reports one
	// and keep the cached value otherwise.
	RemoteIfPresent
)

func (o Owner) String() string {
	switch o {
	case Remote:
		return "remote"
	case Local:
		return "local"
	case RemoteIfPresent:
		return "remote-if-present"
	}
	return "unknown"
}

// Field is one row of the chat ownership table. Apply writes the field into
// dst given the remote snapshot and the cached row (nil for a new chat).
type Field struct {
	Name  string
	Owner Owner
	Apply func(dst *store.Chat, r *remote.Chat, local *store.Chat)
}

// ChatFields is the ownership table for chats. It is the single place where
// remote defaults and local overlays are decided.
var ChatFields = []Field{
	{"id", Remote, func(d *store.Chat, r *remote.Chat, _ *store.Chat) { d.ID = r.ID }},
	{"type", Remote, func(d *store.Chat, r *remote.Chat, _ *store.Chat) { d.Type = chatType(r.Type) }},
	{"group_type", Remote, func(d *store.Chat, r *remote.Chat, _ *store.Chat) { d.GroupType = r.GroupType }},
	{"name", Remote, func(d *store.Chat, r *remote.Chat, _ *store.Chat) { d.Name = r.Name }},
	{"username", Remote, func(d *store.Chat, r *remote.Chat, _ *store.Chat) { d.Username = r.Username }},
	{"description", Remote, func(d *store.Chat, r *remote.Chat, _ *store.Chat) { d.Description = r.Description }},
	{"avatar_url", Remote, func(d *store.Chat, r *remote.Chat, _ *store.Chat) { d.AvatarURL = r.AvatarURL }},
	{"created_by", Remote, func(d *store.Chat, r *remote.Chat, _ *store.Chat) {
		d.CreatedBy = 0
		if r.CreatedBy != nil {
			d.CreatedBy = *r.CreatedBy
		}
	}},
	{"participant_ids", Remote, func(d *store.Chat, r *remote.Chat, _ *store.Chat) {
		d.ParticipantIDs = store.IDList{}.With(r.ParticipantIDs...)
	}},
	{"member_count", Remote, func(d *store.Chat, r *remote.Chat, _ *store.Chat) { d.MemberCount = r.MemberCount }},
	{"created_at", Remote, func(d *store.Chat, r *remote.Chat, _ *store.Chat) { d.CreatedAt = millis(r.CreatedAt) }},
	{"updated_at", Remote, func(d *store.Chat, r *remote.Chat, _ *store.Chat) { d.UpdatedAt = millis(r.UpdatedAt) }},
	{"placeholder", Remote, func(d *store.Chat, _ *remote.Chat, _ *store.Chat) { d.Placeholder = false }},

	{"unread_count", Local, func(d *store.Chat, _ *remote.Chat, l *store.Chat) { d.UnreadCount = localOr(l).UnreadCount }},
	{"muted_until", Local, func(d *store.Chat, _ *remote.Chat, l *store.Chat) { d.MutedUntil = localOr(l).MutedUntil }},
	{"is_pinned", Local, func(d *store.Chat, _ *remote.Chat, l *store.Chat) { d.IsPinned = localOr(l).IsPinned }},
	{"pinned_at", Local, func(d *store.Chat, _ *remote.Chat, l *store.Chat) { d.PinnedAt = localOr(l).PinnedAt }},
	{"is_hidden", Local, func(d *store.Chat, _ *remote.Chat, l *store.Chat) { d.IsHidden = localOr(l).IsHidden }},
	{"folder_id", Local, func(d *store.Chat, _ *remote.Chat, l *store.Chat) { d.FolderID = localOr(l).FolderID }},
	{"last_read_message_id", Local, func(d *store.Chat, _ *remote.Chat, l *store.Chat) {
		d.LastReadMessageID = localOr(l).LastReadMessageID
	}},
	{"first_unread_message_id", Local, func(d *store.Chat, _ *remote.Chat, l *store.Chat) {
		d.FirstUnreadMessageID = localOr(l).FirstUnreadMessageID
	}},

	{"last_message_id", RemoteIfPresent, func(d *store.Chat, r *remote.Chat, l *store.Chat) {
		if r.LastMessage != nil && (r.LastMessage.MessageID != "" || r.LastMessage.ID != 0) {
			d.LastMessageID = r.LastMessage.LocalID().Key()
			return
		}
		d.LastMessageID = localOr(l).LastMessageID
	}},
}

var zeroChat store.Chat

func localOr(l *store.Chat) *store.Chat {
	if l == nil {
		return &zeroChat
	}
	return l
}

// Chat merges a remote chat snapshot with the cached row, which may be nil.
func Chat(r remote.Chat, local *store.Chat) store.Chat {
	var out store.Chat
	for _, f := range ChatFields {
		f.Apply(&out, &r, local)
	}
	return out
}

// Stale reports whether the snapshot is older than the cached row, as when a
// slow full listing finishes after a newer single-chat fetch. Snapshots
// without an update time are never stale.
func Stale(r remote.Chat, local *store.Chat) bool {
	return local != nil && !r.UpdatedAt.IsZero() && millis(r.UpdatedAt) < local.UpdatedAt
}

// Message merges a remote message with the cached one, which may be nil.
// The cached key is kept, status never moves backwards, and content is
// overwritten only for edits.
func Message(r remote.Message, local *store.Message) store.Message {
	out := store.Message{
		ID:        r.LocalID(),
		ChatID:    r.ChatID,
		SenderID:  r.SenderID,
		Type:      messageType(r.MessageType),
		Body:      r.Content,
		MediaURL:  r.MediaURL,
		MediaType: r.MediaType,
		Status:    messageStatus(r.Status),
		IsEdited:  r.IsEdited,
		CreatedAt: millis(r.CreatedAt),
	}
	if r.FileSize != nil {
		out.FileSize = *r.FileSize
	}
	if r.Duration != nil {
		out.Duration = *r.Duration
	}
	if r.ReplyToID != nil {
		out.ReplyToServerID = *r.ReplyToID
	}
	if local == nil {
		return out
	}

	out.ID = local.ID
	if r.ID != 0 {
		out.ID = local.ID.Confirm(r.ID)
	}
	out.ChatID = local.ChatID
	out.CreatedAt = local.CreatedAt
	out.ReplyTo = local.ReplyTo
	if local.ReplyToServerID != 0 {
		out.ReplyToServerID = local.ReplyToServerID
	}
	if !r.IsEdited {
		out.Body = local.Body
		out.IsEdited = local.IsEdited
	}
	if !local.Status.Advances(out.Status) {
		out.Status = local.Status
	}
	return out
}

// FromPush builds the cached form of a pushed message.
func FromPush(m remote.NewMessage) store.Message {
	out := store.Message{
		ID:        store.PendingID(m.ClientMessageID),
		ChatID:    m.ChatID,
		SenderID:  m.SenderID,
		Type:      messageType(m.Type),
		Body:      m.Content,
		MediaURL:  m.MediaURL,
		MediaType: m.MediaType,
		FileSize:  m.FileSize,
		Status:    store.StatusSent,
		CreatedAt: millis(m.SentAt),
	}
	out.ReplyToServerID = m.ReplyToID
	return out
}

// User converts a participant profile. The store keeps cached values for
// any field left empty here.
func User(r remote.User) store.User {
	return store.User{
		ID:           r.ID,
		Username:     r.Username,
		DisplayName:  r.DisplayName,
		AvatarURL:    r.AvatarURL,
		OnlineStatus: r.OnlineStatus,
	}
}

func chatType(s string) store.ChatType {
	if s == string(store.ChatGroup) {
		return store.ChatGroup
	}
	return store.ChatPrivate
}

func messageType(s string) store.MessageType {
	switch store.MessageType(s) {
	case store.MessageMedia, store.MessageFile, store.MessageVoice, store.MessageSystem:
		return store.MessageType(s)
	case "image", "video":
		return store.MessageMedia
	}
	return store.MessageText
}

func messageStatus(s string) store.MessageStatus {
	switch store.MessageStatus(s) {
	case store.StatusDelivered, store.StatusRead, store.StatusError, store.StatusSending:
		return store.MessageStatus(s)
	}
	return store.StatusSent
}

// millis converts a wire timestamp to unix ms. The zero time maps to 0,
// never to now.
func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
