// Package mutation applies user-initiated changes to chats. Device-local
// facts (mute, pin, hide, folder) are written locally first and rolled back
// if the server refuses; destructive changes reach the server first and
// touch the cache only after it agreed.
package mutation

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/errors"
	"github.com/matheus3301/chatsync/internal/remote"
	"github.com/matheus3301/chatsync/internal/store"
)

// Syncer is the part of the sync coordinator the manager relies on.
type Syncer interface {
	LockChat(chatID int64) func()
	GetChatByID(ctx context.Context, chatID int64) (*store.Chat, error)
	MergeRemoteChat(ctx context.Context, r remote.Chat) (*store.Chat, error)
	SelfID() int64
}

// Manager executes chat mutations.
type Manager struct {
	db     *store.DB
	gw     remote.Gateway
	sync   Syncer
	now    func() time.Time
	tracer trace.Tracer
	logger *zap.Logger
}

// NewManager creates a mutation manager.
func NewManager(db *store.DB, gw remote.Gateway, s Syncer, logger *zap.Logger) *Manager {
	return &Manager{
		db:     db,
		gw:     gw,
		sync:   s,
		now:    time.Now,
		tracer: otel.Tracer("github.com/matheus3301/chatsync/internal/mutation"),
		logger: logger,
	}
}

// optimistic is one local-first mutation: write applies the new local
// value, restore puts back the previous one, call is the remote step.
type optimistic struct {
	name    string
	write   func(ctx context.Context, q *store.Queries) error
	restore func(ctx context.Context, q *store.Queries, prev *store.Chat) error
	call    func(ctx context.Context) error
}

func (m *Manager) apply(ctx context.Context, chatID int64, op optimistic) (err error) {
	ctx, span := m.tracer.Start(ctx, "mutation."+op.name, trace.WithAttributes(attribute.Int64("chat.id", chatID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	unlock := m.sync.LockChat(chatID)
	defer unlock()

	prev, err := m.db.GetChat(ctx, chatID)
	if err != nil {
		return errors.LocalStore(err, "read chat")
	}
	if prev == nil {
		return errors.NotFound("chat", chatID)
	}
	if err := op.write(ctx, &m.db.Queries); err != nil {
		return errors.LocalStore(err, op.name)
	}
	if op.call == nil {
		return nil
	}
	if err := op.call(ctx); err != nil {
		if rerr := op.restore(context.WithoutCancel(ctx), &m.db.Queries, prev); rerr != nil {
			m.logger.Error("rollback failed", zap.String("op", op.name), zap.Int64("chat_id", chatID), zap.Error(rerr))
		}
		m.logger.Info("mutation rolled back", zap.String("op", op.name), zap.Int64("chat_id", chatID), zap.Error(err))
		return err
	}
	return nil
}

// reconcile refreshes the chat after a successful remote change. Failures
// are logged only; the mutation already succeeded.
func (m *Manager) reconcile(ctx context.Context, chatID int64) {
	if _, err := m.sync.GetChatByID(ctx, chatID); err != nil {
		m.logger.Warn("post-mutation refresh failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// Mute mutes a chat for the duration named by token ("1h", "1d", "1m",
// "forever"). The deadline is computed once, now.
func (m *Manager) Mute(ctx context.Context, chatID int64, token string) error {
	until, err := ParseMuteDuration(token, m.now())
	if err != nil {
		return err
	}
	err = m.apply(ctx, chatID, optimistic{
		name:    "Mute",
		write:   func(ctx context.Context, q *store.Queries) error { return q.SetMutedUntil(ctx, chatID, until) },
		restore: restoreMute(chatID),
		call: func(ctx context.Context) error {
			return m.gw.MuteChat(ctx, chatID, remote.MuteRequest{Duration: token})
		},
	})
	if err != nil {
		return err
	}
	m.reconcile(ctx, chatID)
	return nil
}

// Unmute clears a chat's mute.
func (m *Manager) Unmute(ctx context.Context, chatID int64) error {
	err := m.apply(ctx, chatID, optimistic{
		name:    "Unmute",
		write:   func(ctx context.Context, q *store.Queries) error { return q.SetMutedUntil(ctx, chatID, 0) },
		restore: restoreMute(chatID),
		call:    func(ctx context.Context) error { return m.gw.UnmuteChat(ctx, chatID) },
	})
	if err != nil {
		return err
	}
	m.reconcile(ctx, chatID)
	return nil
}

func restoreMute(chatID int64) func(context.Context, *store.Queries, *store.Chat) error {
	return func(ctx context.Context, q *store.Queries, prev *store.Chat) error {
		return q.SetMutedUntil(ctx, chatID, prev.MutedUntil)
	}
}

// Pin pins a chat, stamping the pin time used to order pinned chats.
func (m *Manager) Pin(ctx context.Context, chatID int64) error {
	pinnedAt := m.now().UnixMilli()
	return m.apply(ctx, chatID, optimistic{
		name:    "Pin",
		write:   func(ctx context.Context, q *store.Queries) error { return q.SetPinned(ctx, chatID, true, pinnedAt) },
		restore: restorePin(chatID),
		call:    func(ctx context.Context) error { return m.gw.PinChat(ctx, chatID) },
	})
}

// Unpin unpins a chat.
func (m *Manager) Unpin(ctx context.Context, chatID int64) error {
	return m.apply(ctx, chatID, optimistic{
		name:    "Unpin",
		write:   func(ctx context.Context, q *store.Queries) error { return q.SetPinned(ctx, chatID, false, 0) },
		restore: restorePin(chatID),
		call:    func(ctx context.Context) error { return m.gw.UnpinChat(ctx, chatID) },
	})
}

func restorePin(chatID int64) func(context.Context, *store.Queries, *store.Chat) error {
	return func(ctx context.Context, q *store.Queries, prev *store.Chat) error {
		return q.SetPinned(ctx, chatID, prev.IsPinned, prev.PinnedAt)
	}
}

// Hide hides a chat from the default list. Hidden state lives on this
// device only.
func (m *Manager) Hide(ctx context.Context, chatID int64) error {
	return m.setHidden(ctx, chatID, true)
}

// Unhide reverses Hide.
func (m *Manager) Unhide(ctx context.Context, chatID int64) error {
	return m.setHidden(ctx, chatID, false)
}

func (m *Manager) setHidden(ctx context.Context, chatID int64, hidden bool) error {
	name := "Unhide"
	if hidden {
		name = "Hide"
	}
	return m.apply(ctx, chatID, optimistic{
		name:  name,
		write: func(ctx context.Context, q *store.Queries) error { return q.SetHidden(ctx, chatID, hidden) },
	})
}

// MoveToFolder assigns a chat to folderID, or to no folder when folderID is
// 0. The server is told to add it to the new folder and drop it from the
// old one.
func (m *Manager) MoveToFolder(ctx context.Context, chatID, folderID int64) error {
	var from int64
	return m.apply(ctx, chatID, optimistic{
		name: "MoveToFolder",
		write: func(ctx context.Context, q *store.Queries) error {
			c, err := q.GetChat(ctx, chatID)
			if err != nil {
				return err
			}
			from = c.FolderID
			return q.SetFolder(ctx, chatID, folderID)
		},
		restore: func(ctx context.Context, q *store.Queries, prev *store.Chat) error {
			return q.SetFolder(ctx, chatID, prev.FolderID)
		},
		call: func(ctx context.Context) error {
			if folderID != 0 && folderID != from {
				if err := m.gw.AddChatsToFolder(ctx, folderID, []int64{chatID}); err != nil {
					return err
				}
			}
			if from != 0 && from != folderID {
				return m.gw.RemoveChatFromFolder(ctx, from, chatID)
			}
			return nil
		},
	})
}

// DeleteChat deletes a chat on the server, then from the cache.
func (m *Manager) DeleteChat(ctx context.Context, chatID int64) error {
	if err := m.gw.DeleteChat(ctx, chatID); err != nil {
		return err
	}
	return m.dropChat(ctx, chatID)
}

// LeaveGroup leaves a group on the server, then drops it from the cache.
func (m *Manager) LeaveGroup(ctx context.Context, chatID int64) error {
	if err := m.gw.LeaveGroup(ctx, chatID, m.sync.SelfID()); err != nil {
		return err
	}
	return m.dropChat(ctx, chatID)
}

func (m *Manager) dropChat(ctx context.Context, chatID int64) error {
	unlock := m.sync.LockChat(chatID)
	defer unlock()
	return errors.LocalStore(m.db.DeleteChats(ctx, []int64{chatID}), "delete chat")
}

// ClearChatMessages clears a chat's history on the server, then locally.
func (m *Manager) ClearChatMessages(ctx context.Context, chatID int64) error {
	if err := m.gw.ClearChatMessages(ctx, chatID); err != nil {
		return err
	}
	unlock := m.sync.LockChat(chatID)
	defer unlock()
	return errors.LocalStore(m.db.ClearChatMessages(ctx, chatID), "clear messages")
}

// DeleteMessage deletes a message by its local key on the server, then
// locally.
func (m *Manager) DeleteMessage(ctx context.Context, key string) error {
	msg, err := m.db.GetMessage(ctx, key)
	if err != nil {
		return errors.LocalStore(err, "read message")
	}
	if msg == nil {
		return errors.NotFound("message", key)
	}
	if err := m.gw.DeleteMessage(ctx, key); err != nil {
		return err
	}
	unlock := m.sync.LockChat(msg.ChatID)
	defer unlock()
	return errors.LocalStore(m.db.DeleteMessage(ctx, msg.ChatID, key), "delete message")
}

// JoinByInviteCode joins a group and caches the returned chat.
func (m *Manager) JoinByInviteCode(ctx context.Context, code string) (*store.Chat, error) {
	if code == "" {
		return nil, errors.InvalidInput("invite code is required")
	}
	r, err := m.gw.JoinByInviteCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return m.sync.MergeRemoteChat(ctx, *r)
}

// CreateInviteLink creates an invite link for a group.
func (m *Manager) CreateInviteLink(ctx context.Context, chatID int64, usageLimit int, expiresIn time.Duration) (*remote.InviteLink, error) {
	if usageLimit < 0 || expiresIn < 0 {
		return nil, errors.InvalidInput("usage limit and expiry must not be negative")
	}
	return m.gw.CreateInviteLink(ctx, chatID, usageLimit, expiresIn)
}
