// Package receipt sends read receipts when the user opens a chat, at most
// once per observed incoming message for the life of the process.
package receipt

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/errors"
	"github.com/matheus3301/chatsync/internal/remote"
	"github.com/matheus3301/chatsync/internal/store"
)

// ChatLocker serializes work on one chat.
type ChatLocker interface {
	LockChat(chatID int64) func()
}

// Dispatcher marks chats read and emits the matching read receipts.
type Dispatcher struct {
	db     *store.DB
	pusher remote.Pusher
	locks  ChatLocker
	selfID int64
	logger *zap.Logger

	mu       sync.Mutex
	lastSent map[int64]string
}

// NewDispatcher creates a dispatcher with no receipts recorded.
func NewDispatcher(db *store.DB, pusher remote.Pusher, locks ChatLocker, selfID int64, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		db:       db,
		pusher:   pusher,
		locks:    locks,
		selfID:   selfID,
		logger:   logger,
		lastSent: make(map[int64]string),
	}
}

// MarkAsRead zeroes the chat's unread counter and sends a receipt for its
// latest incoming message, unless one was already sent for that message.
// sent reports whether a receipt went out. A failed send keeps the chat
// marked read and leaves the receipt unrecorded so the next call retries.
func (d *Dispatcher) MarkAsRead(ctx context.Context, chatID int64) (sent bool, err error) {
	unlock := d.locks.LockChat(chatID)
	defer unlock()

	latest, err := d.db.LatestIncoming(ctx, chatID, d.selfID)
	if err != nil {
		return false, errors.LocalStore(err, "find latest incoming message")
	}
	if latest == nil {
		return false, errors.LocalStore(d.db.MarkRead(ctx, chatID, ""), "mark chat read")
	}

	key := latest.ID.Key()
	if d.sentFor(chatID) == key {
		return false, nil
	}
	if err := d.db.MarkRead(ctx, chatID, key); err != nil {
		return false, errors.LocalStore(err, "mark chat read")
	}
	if !latest.ID.HasClientID() {
		// The server matches receipts by client id; there is none to send.
		d.logger.Debug("no client id for read receipt", zap.Int64("chat_id", chatID), zap.String("message_id", key))
		d.record(chatID, key)
		return false, nil
	}
	if err := d.pusher.SendReadReceipt(ctx, key, chatID, d.selfID); err != nil {
		d.logger.Warn("read receipt not sent", zap.Int64("chat_id", chatID), zap.String("message_id", key), zap.Error(err))
		return false, err
	}

	d.record(chatID, key)
	return true, nil
}

func (d *Dispatcher) record(chatID int64, key string) {
	d.mu.Lock()
	d.lastSent[chatID] = key
	d.mu.Unlock()
}

func (d *Dispatcher) sentFor(chatID int64) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastSent[chatID]
}
