// Package remote is the client side of the chat service: a REST gateway for
// request/response calls and a push channel for live events.
package remote

import (
	"context"
	"time"
)

// Gateway is the request/response surface of the chat service. Every call
// fails with a TransportFailure when no response was received, Rejected when
// the server answered with a non-success status, or NotFound for 404s.
type Gateway interface {
	ListChats(ctx context.Context) ([]Chat, error)
	GetChat(ctx context.Context, chatID int64) (*Chat, error)
	ListMessages(ctx context.Context, chatID int64, limit, offset int) ([]Message, error)

	MuteChat(ctx context.Context, chatID int64, req MuteRequest) error
	UnmuteChat(ctx context.Context, chatID int64) error
	PinChat(ctx context.Context, chatID int64) error
	UnpinChat(ctx context.Context, chatID int64) error

	DeleteChat(ctx context.Context, chatID int64) error
	ClearChatMessages(ctx context.Context, chatID int64) error
	DeleteMessage(ctx context.Context, messageID string) error

	CreateInviteLink(ctx context.Context, chatID int64, usageLimit int, expiresIn time.Duration) (*InviteLink, error)
	JoinByInviteCode(ctx context.Context, code string) (*Chat, error)
	LeaveGroup(ctx context.Context, chatID, selfID int64) error

	GetUser(ctx context.Context, userID int64) (*User, error)

	ListFolders(ctx context.Context) ([]Folder, error)
	CreateFolder(ctx context.Context, f Folder) (*Folder, error)
	UpdateFolder(ctx context.Context, f Folder) (*Folder, error)
	DeleteFolder(ctx context.Context, folderID int64) error
	ReorderFolders(ctx context.Context, positions map[int64]int) error
	AddChatsToFolder(ctx context.Context, folderID int64, chatIDs []int64) error
	RemoveChatFromFolder(ctx context.Context, folderID, chatID int64) error
}

// Pusher sends outbound events over the push channel.
type Pusher interface {
	SendTextMessage(ctx context.Context, chatID, senderID int64, content, clientMessageID string, replyToID int64) error
	SendReadReceipt(ctx context.Context, messageID string, chatID, userID int64) error
}
