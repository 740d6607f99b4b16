package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	ID        string
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Namespaces used for Subscribe prefixes.
const (
	NamespaceStore   = "store."
	NamespacePush    = "push."
	NamespaceSession = "session."
	NamespaceOutbox  = "outbox."
)

// Local store change notifications, published after a successful commit.
const (
	KindChatUpserted    = "store.chat.upserted"
	KindChatDeleted     = "store.chat.deleted"
	KindMessageUpserted = "store.message.upserted"
	KindMessageDeleted  = "store.message.deleted"
	KindFolderChanged   = "store.folder.changed"
)

// Inbound push channel events. Payloads are remote.* event types.
const (
	KindPushNewMessage       = "push.new_message"
	KindPushReadAck          = "push.read_ack"
	KindPushMembershipChange = "push.membership_changed"
	KindPushSendAck          = "push.send_ack"
	KindPushConnected        = "push.connected"
	KindPushDisconnected     = "push.disconnected"
)

const (
	KindStatusChanged = "session.status_changed"
	KindSendFailed    = "outbox.send_failed"
	KindSendConfirmed = "outbox.send_confirmed"
)

// ChatChange is the payload of chat upsert/delete notifications.
type ChatChange struct {
	ChatIDs []int64
}

// MessageChange is the payload of message notifications. Key is the stable
// local message key; empty when a whole chat was cleared.
type MessageChange struct {
	ChatID int64
	Key    string
}

// FolderChange is the payload of folder notifications. FolderID is 0 when
// the whole folder list was replaced.
type FolderChange struct {
	FolderID int64
}
