// Package outbox sends locally composed text messages. A message is stored
// as pending the moment it is queued and confirmed once the server
// acknowledges it.
package outbox

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/errors"
	"github.com/matheus3301/chatsync/internal/remote"
	"github.com/matheus3301/chatsync/internal/store"
)

// Options tunes a Sender.
type Options struct {
	SelfID      int64
	Interval    time.Duration
	MaxAttempts int
}

// Sender drains the outbox over the push channel.
type Sender struct {
	db     *store.DB
	pusher remote.Pusher
	bus    *bus.Bus
	opts   Options
	logger *zap.Logger
	kick   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSender creates a new outbox sender.
func NewSender(db *store.DB, pusher remote.Pusher, b *bus.Bus, opts Options, logger *zap.Logger) *Sender {
	if opts.Interval <= 0 {
		opts.Interval = 500 * time.Millisecond
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	return &Sender{
		db:     db,
		pusher: pusher,
		bus:    b,
		opts:   opts,
		logger: logger,
		kick:   make(chan struct{}, 1),
	}
}

// Queue stores a pending text message and schedules it for sending.
// replyTo is the local key of the message being answered, or empty.
func (s *Sender) Queue(ctx context.Context, chatID int64, content, replyTo string) (store.MessageID, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return store.MessageID{}, errors.InvalidInput("message content is empty")
	}
	chat, err := s.db.GetChat(ctx, chatID)
	if err != nil {
		return store.MessageID{}, errors.LocalStore(err, "read chat")
	}
	if chat == nil {
		return store.MessageID{}, errors.NotFound("chat", chatID)
	}

	now := time.Now()
	id := store.PendingID(store.NewClientMessageID(now))
	err = s.db.InTx(ctx, func(tx *store.Tx) error {
		msg := store.Message{
			ID:        id,
			ChatID:    chatID,
			SenderID:  s.opts.SelfID,
			Type:      store.MessageText,
			Body:      content,
			ReplyTo:   replyTo,
			Status:    store.StatusSending,
			CreatedAt: now.UnixMilli(),
		}
		if _, err := tx.InsertMessage(ctx, &msg); err != nil {
			return err
		}
		if err := tx.SetLastMessage(ctx, chatID, id.Key()); err != nil {
			return err
		}
		return tx.QueueOutbox(ctx, id.Key(), chatID, content, replyTo)
	})
	if err != nil {
		return store.MessageID{}, errors.LocalStore(err, "queue message")
	}
	s.wake()
	return id, nil
}

func (s *Sender) wake() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Start requeues entries interrupted by a previous run and begins draining
// the outbox.
func (s *Sender) Start(ctx context.Context) {
	if n, err := s.db.RequeueOutbox(ctx); err != nil {
		s.logger.Error("failed to requeue outbox", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("requeued interrupted sends", zap.Int64("count", n))
	}

	ctx, s.cancel = context.WithCancel(ctx)
	events, unsub := s.bus.SubscribeLossless(bus.NamespacePush, 64)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer unsub()
		s.loop(ctx, events)
	}()
}

// Stop stops the sender loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Sender) loop(ctx context.Context, events <-chan bus.Event) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processPending(ctx)
		case <-s.kick:
			s.processPending(ctx)
		case evt := <-events:
			switch p := evt.Payload.(type) {
			case remote.SendAck:
				s.HandleAck(ctx, p)
			default:
				if evt.Kind == bus.KindPushConnected {
					s.processPending(ctx)
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) connected() bool {
	c, ok := s.pusher.(interface{ Connected() bool })
	return !ok || c.Connected()
}

func (s *Sender) processPending(ctx context.Context) {
	if !s.connected() {
		return
	}
	pending, err := s.db.PendingOutbox(ctx)
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if ctx.Err() != nil {
			return
		}
		s.send(ctx, entry)
	}
}

func (s *Sender) send(ctx context.Context, entry store.OutboxEntry) {
	log := s.logger.With(zap.String("client_msg_id", entry.ClientMsgID), zap.Int64("chat_id", entry.ChatID))
	if err := s.db.MarkOutboxSending(ctx, entry.ClientMsgID); err != nil {
		log.Error("failed to mark sending", zap.Error(err))
		return
	}

	var replyToID int64
	if entry.ReplyTo != "" {
		if ref, err := s.db.GetMessage(ctx, entry.ReplyTo); err == nil && ref != nil {
			replyToID, _ = ref.ID.ServerID()
		}
	}

	err := s.pusher.SendTextMessage(ctx, entry.ChatID, s.opts.SelfID, entry.Body, entry.ClientMsgID, replyToID)
	if err != nil {
		terminal, ferr := s.db.MarkOutboxFailed(ctx, entry.ClientMsgID, err.Error(), s.opts.MaxAttempts)
		if ferr != nil {
			log.Error("failed to record send failure", zap.Error(ferr))
			return
		}
		if !terminal {
			log.Warn("send failed, will retry", zap.Int("attempt", entry.Attempts+1), zap.Error(err))
			return
		}
		log.Error("giving up on message", zap.Error(err))
		s.fail(ctx, entry.ChatID, entry.ClientMsgID)
		return
	}

	if err := s.db.MarkOutboxSent(ctx, entry.ClientMsgID); err != nil {
		log.Error("failed to mark sent", zap.Error(err))
	}
	log.Debug("message handed to push channel")
}

func (s *Sender) fail(ctx context.Context, chatID int64, key string) {
	if err := s.db.SetMessageStatus(ctx, key, store.StatusError); err != nil {
		s.logger.Error("failed to mark message failed", zap.String("client_msg_id", key), zap.Error(err))
	}
	s.bus.Emit(bus.KindSendFailed, bus.MessageChange{ChatID: chatID, Key: key})
}

// HandleAck applies the server's acknowledgement of a sent message.
func (s *Sender) HandleAck(ctx context.Context, ack remote.SendAck) {
	msg, err := s.db.GetMessage(ctx, ack.MessageID)
	if err != nil || msg == nil {
		if err != nil {
			s.logger.Warn("failed to read acked message", zap.String("client_msg_id", ack.MessageID), zap.Error(err))
		}
		return
	}
	if !ack.OK {
		s.fail(ctx, msg.ChatID, ack.MessageID)
		return
	}
	if !msg.Status.Advances(store.StatusSent) {
		return
	}
	if err := s.db.SetMessageStatus(ctx, ack.MessageID, store.StatusSent); err != nil {
		s.logger.Error("failed to confirm message", zap.String("client_msg_id", ack.MessageID), zap.Error(err))
		return
	}
	s.bus.Emit(bus.KindSendConfirmed, bus.MessageChange{ChatID: msg.ChatID, Key: ack.MessageID})
}
