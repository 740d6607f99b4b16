// Package sync keeps the local cache converged with the chat service: full
// and single-chat refreshes, message history, and live push events.
package sync

import (
	"context"
	stderrors "errors"
	"strconv"
	gosync "sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/errors"
	"github.com/matheus3301/chatsync/internal/merge"
	"github.com/matheus3301/chatsync/internal/remote"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
)

const tracerName = "github.com/matheus3301/chatsync/internal/sync"

// Options tunes a Coordinator.
type Options struct {
	SelfID          int64
	WarmConcurrency int
	PushBuffer      int
}

// Coordinator drives remote snapshots through the merge package into the
// store. Every read-merge-write for a chat runs under that chat's lock and
// inside one store transaction.
type Coordinator struct {
	db         *store.DB
	gw         remote.Gateway
	bus        *bus.Bus
	machine    *status.Machine
	fg         Foreground
	reconciler *Reconciler
	locks      *KeyedMutex
	flight     singleflight.Group
	opts       Options
	tracer     trace.Tracer
	logger     *zap.Logger
	cancel     context.CancelFunc
	done       chan struct{}
	bg         gosync.WaitGroup
}

// NewCoordinator creates a coordinator. machine may be nil.
func NewCoordinator(db *store.DB, gw remote.Gateway, b *bus.Bus, machine *status.Machine, fg Foreground, opts Options, logger *zap.Logger) *Coordinator {
	if opts.WarmConcurrency <= 0 {
		opts.WarmConcurrency = 4
	}
	if opts.PushBuffer <= 0 {
		opts.PushBuffer = 256
	}
	if fg == nil {
		fg = NewForegroundTracker()
	}
	return &Coordinator{
		db:         db,
		gw:         gw,
		bus:        b,
		machine:    machine,
		fg:         fg,
		reconciler: NewReconciler(db, logger),
		locks:      NewKeyedMutex(),
		opts:       opts,
		tracer:     otel.Tracer(tracerName),
		logger:     logger,
	}
}

// LockChat acquires the per-chat lock shared by every writer of chat rows.
func (c *Coordinator) LockChat(chatID int64) func() {
	return c.locks.Lock(chatID)
}

// SelfID returns the local user's id.
func (c *Coordinator) SelfID() int64 {
	return c.opts.SelfID
}

// Reconciler exposes the checkpoint store.
func (c *Coordinator) Reconciler() *Reconciler {
	return c.reconciler
}

// RefreshChats replaces the cached chat list with the server's. Chats the
// server no longer lists are deleted; every listed chat is merged against
// its current row. On failure to list, the cache is left untouched.
func (c *Coordinator) RefreshChats(ctx context.Context) (err error) {
	ctx, span := c.tracer.Start(ctx, "sync.RefreshChats")
	defer func() { endSpan(span, err) }()

	chats, err := c.gw.ListChats(ctx)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.Int("chats.remote", len(chats)))

	remoteIDs := make(map[int64]struct{}, len(chats))
	for _, r := range chats {
		remoteIDs[r.ID] = struct{}{}
	}
	localIDs, err := c.db.ListChatIDs(ctx)
	if err != nil {
		return errors.LocalStore(err, "list cached chats")
	}

	var removed int
	for _, id := range localIDs {
		if _, ok := remoteIDs[id]; ok {
			continue
		}
		if err := c.deleteChat(ctx, id); err != nil {
			return err
		}
		removed++
	}

	for _, r := range chats {
		if _, err := c.mergeChat(ctx, r); err != nil {
			return err
		}
	}

	if err := c.reconciler.RecordFullRefresh(ctx, time.Now(), len(chats)); err != nil {
		c.logger.Warn("failed to record refresh checkpoint", zap.Error(err))
	}
	c.logger.Info("chat list refreshed", zap.Int("chats", len(chats)), zap.Int("removed", removed))
	return nil
}

type chatResult struct {
	chat      *store.Chat
	remoteErr error
}

// GetChatByID refreshes one chat from the server and returns the merged row.
// If the server cannot be asked, the cached row is returned as-is; if there
// is none, the error is NotFound. Concurrent calls for the same id share
// one round trip.
func (c *Coordinator) GetChatByID(ctx context.Context, chatID int64) (*store.Chat, error) {
	res, err := c.refreshChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return res.chat, nil
}

func (c *Coordinator) refreshChat(ctx context.Context, chatID int64) (chatResult, error) {
	v, err, _ := c.flight.Do(strconv.FormatInt(chatID, 10), func() (any, error) {
		return c.fetchChat(ctx, chatID)
	})
	if err != nil {
		return chatResult{}, err
	}
	return v.(chatResult), nil
}

func (c *Coordinator) fetchChat(ctx context.Context, chatID int64) (res chatResult, err error) {
	ctx, span := c.tracer.Start(ctx, "sync.GetChatByID", trace.WithAttributes(attribute.Int64("chat.id", chatID)))
	defer func() { endSpan(span, err) }()

	r, remoteErr := c.gw.GetChat(ctx, chatID)
	if remoteErr == nil {
		chat, err := c.mergeChat(ctx, *r)
		if err != nil {
			return chatResult{}, err
		}
		c.warmParticipants(ctx, chat.ParticipantIDs)
		return chatResult{chat: chat}, nil
	}

	c.logger.Debug("remote chat fetch failed, using cache", zap.Int64("chat_id", chatID), zap.Error(remoteErr))
	local, err := c.db.GetChat(ctx, chatID)
	if err != nil {
		return chatResult{}, errors.LocalStore(err, "read cached chat")
	}
	if local != nil {
		return chatResult{chat: local, remoteErr: remoteErr}, nil
	}
	nf := errors.NotFound("chat", chatID)
	nf.Cause = remoteErr
	return chatResult{}, nf
}

// warmParticipants caches participant profiles. Failures are logged only.
func (c *Coordinator) warmParticipants(ctx context.Context, ids []int64) {
	var g errgroup.Group
	g.SetLimit(c.opts.WarmConcurrency)
	for _, uid := range ids {
		if uid == c.opts.SelfID {
			continue
		}
		g.Go(func() error {
			u, err := c.gw.GetUser(ctx, uid)
			if err != nil {
				c.logger.Debug("participant warm-up failed", zap.Int64("user_id", uid), zap.Error(err))
				return nil
			}
			cached := merge.User(*u)
			if err := c.db.UpsertUser(ctx, &cached); err != nil {
				c.logger.Warn("failed to cache participant", zap.Int64("user_id", uid), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// MergeRemoteChat merges a snapshot obtained elsewhere (e.g. from joining a
// group) into the cache.
func (c *Coordinator) MergeRemoteChat(ctx context.Context, r remote.Chat) (*store.Chat, error) {
	return c.mergeChat(ctx, r)
}

func (c *Coordinator) mergeChat(ctx context.Context, r remote.Chat) (*store.Chat, error) {
	unlock := c.locks.Lock(r.ID)
	defer unlock()

	var merged store.Chat
	err := c.db.InTx(ctx, func(tx *store.Tx) error {
		existing, err := tx.GetChat(ctx, r.ID)
		if err != nil {
			return err
		}
		if merge.Stale(r, existing) {
			merged = *existing
			return nil
		}
		// Only the last-message pointer is taken; the row is left to push
		// and history sync so its push still counts as unread.
		merged = merge.Chat(r, existing)
		return tx.UpsertChat(ctx, &merged)
	})
	if err != nil {
		return nil, errors.LocalStore(err, "merge chat")
	}
	return &merged, nil
}

func hasIdentity(m *remote.Message) bool {
	return m != nil && (m.ID != 0 || m.MessageID != "")
}

// putRemoteMessage merges a server message with whatever row already holds
// it, found by server id first and by key second.
func putRemoteMessage(ctx context.Context, tx *store.Tx, rm remote.Message) (store.Message, error) {
	var existing *store.Message
	var err error
	if rm.ID != 0 {
		if existing, err = tx.GetMessageByServerID(ctx, rm.ID); err != nil {
			return store.Message{}, err
		}
	}
	if existing == nil {
		if existing, err = tx.GetMessage(ctx, rm.LocalID().Key()); err != nil {
			return store.Message{}, err
		}
	}
	m := merge.Message(rm, existing)
	if existing == nil && rm.ReplyToID != nil {
		ref, err := tx.GetMessageByServerID(ctx, *rm.ReplyToID)
		if err != nil {
			return store.Message{}, err
		}
		if ref != nil {
			m.ReplyTo = ref.ID.Key()
		}
	}
	return m, tx.UpsertMessage(ctx, &m)
}

func (c *Coordinator) deleteChat(ctx context.Context, chatID int64) error {
	unlock := c.locks.Lock(chatID)
	defer unlock()
	return errors.LocalStore(c.db.DeleteChats(ctx, []int64{chatID}), "delete chat")
}

// SyncMessages fetches a page of history and merges it into the cache. When
// the server is unreachable the cached page is returned instead, if any.
func (c *Coordinator) SyncMessages(ctx context.Context, chatID int64, limit, offset int) (msgs []store.Message, err error) {
	ctx, span := c.tracer.Start(ctx, "sync.SyncMessages", trace.WithAttributes(attribute.Int64("chat.id", chatID)))
	defer func() { endSpan(span, err) }()

	if limit <= 0 {
		limit = 50
	}
	page, err := c.gw.ListMessages(ctx, chatID, limit, offset)
	if err != nil {
		if !errors.IsTransport(err) {
			return nil, err
		}
		cached, lerr := c.db.ListMessages(ctx, chatID, 0, limit)
		if lerr != nil {
			return nil, errors.LocalStore(lerr, "read cached messages")
		}
		if len(cached) == 0 {
			return nil, err
		}
		return cached, nil
	}

	if err := c.ensureChat(ctx, chatID); err != nil {
		return nil, err
	}

	unlock := c.locks.Lock(chatID)
	err = c.db.InTx(ctx, func(tx *store.Tx) error {
		msgs = msgs[:0]
		for _, rm := range page {
			if !hasIdentity(&rm) {
				continue
			}
			if rm.ChatID == 0 {
				rm.ChatID = chatID
			}
			if rm.IsDeleted {
				if err := tx.DeleteMessage(ctx, chatID, rm.LocalID().Key()); err != nil {
					return err
				}
				continue
			}
			m, err := putRemoteMessage(ctx, tx, rm)
			if err != nil {
				return err
			}
			msgs = append(msgs, m)
		}
		return nil
	})
	unlock()
	if err != nil {
		return nil, errors.LocalStore(err, "merge messages")
	}

	if err := c.reconciler.RecordMessageSync(ctx, chatID, time.Now()); err != nil {
		c.logger.Warn("failed to record message checkpoint", zap.Int64("chat_id", chatID), zap.Error(err))
	}
	return msgs, nil
}

// ensureChat guarantees a chat row exists before anything referencing it is
// written: a single-chat refresh first, a placeholder row if that fails.
func (c *Coordinator) ensureChat(ctx context.Context, chatID int64) error {
	existing, err := c.db.GetChat(ctx, chatID)
	if err != nil {
		return errors.LocalStore(err, "read chat")
	}
	if existing != nil {
		return nil
	}
	_, ferr := c.GetChatByID(ctx, chatID)
	if ferr == nil {
		return nil
	}
	c.logger.Warn("unknown chat could not be fetched, creating placeholder", zap.Int64("chat_id", chatID), zap.Error(ferr))
	_, err = c.db.EnsurePlaceholderChat(ctx, chatID, "")
	return errors.LocalStore(err, "create placeholder chat")
}

// ApplyNewMessage applies a pushed message. The unread counter moves only
// when the message was newly inserted, so redelivered events are no-ops.
func (c *Coordinator) ApplyNewMessage(ctx context.Context, ev remote.NewMessage) (err error) {
	ctx, span := c.tracer.Start(ctx, "sync.ApplyNewMessage", trace.WithAttributes(attribute.Int64("chat.id", ev.ChatID)))
	defer func() { endSpan(span, err) }()

	if ev.ClientMessageID == "" || ev.ChatID == 0 {
		return errors.InvalidInput("pushed message without id or chat")
	}
	if err := c.ensureChat(ctx, ev.ChatID); err != nil {
		return err
	}

	fromSelf := ev.SenderID == c.opts.SelfID
	foreground := c.fg.IsForeground(ev.ChatID)
	msg := merge.FromPush(ev)
	key := msg.ID.Key()

	unlock := c.locks.Lock(ev.ChatID)
	defer unlock()
	err = c.db.InTx(ctx, func(tx *store.Tx) error {
		if fromSelf {
			// Echo of a message this device sent: confirm delivery to the
			// server instead of inserting a duplicate.
			existing, err := tx.GetMessage(ctx, key)
			if err != nil {
				return err
			}
			if existing != nil {
				if existing.Status.Advances(store.StatusSent) {
					return tx.SetMessageStatus(ctx, key, store.StatusSent)
				}
				return nil
			}
		}
		if ev.ReplyToID != 0 {
			ref, err := tx.GetMessageByServerID(ctx, ev.ReplyToID)
			if err != nil {
				return err
			}
			if ref != nil {
				msg.ReplyTo = ref.ID.Key()
			}
		}

		inserted, err := tx.InsertMessage(ctx, &msg)
		if err != nil || !inserted {
			return err
		}
		if err := tx.SetLastMessage(ctx, ev.ChatID, key); err != nil {
			return err
		}
		if fromSelf || foreground {
			return nil
		}
		return tx.IncrementUnread(ctx, ev.ChatID, key)
	})
	return errors.LocalStore(err, "apply pushed message")
}

// ApplyMembershipChange refreshes the affected chat. If the server no longer
// knows the chat for us, the cached row is removed.
func (c *Coordinator) ApplyMembershipChange(ctx context.Context, ev remote.MembershipChanged) (err error) {
	ctx, span := c.tracer.Start(ctx, "sync.ApplyMembershipChange", trace.WithAttributes(
		attribute.Int64("chat.id", ev.ChatID), attribute.String("reason", ev.Reason)))
	defer func() { endSpan(span, err) }()

	res, err := c.refreshChat(ctx, ev.ChatID)
	if err != nil {
		return err
	}
	if errors.IsNotFound(res.remoteErr) {
		c.logger.Info("chat gone after membership change", zap.Int64("chat_id", ev.ChatID))
		return c.deleteChat(ctx, ev.ChatID)
	}
	return nil
}

// ApplyReadAck applies a read receipt. A receipt from the local user (read
// on another device) clears the unread counter; a receipt from anyone else
// marks our message read.
func (c *Coordinator) ApplyReadAck(ctx context.Context, ev remote.ReadReceiptAck) error {
	msg, err := c.db.GetMessage(ctx, ev.MessageID)
	if err != nil {
		return errors.LocalStore(err, "read message")
	}
	if msg == nil {
		return nil
	}

	if ev.ReaderID == c.opts.SelfID {
		unlock := c.locks.Lock(msg.ChatID)
		defer unlock()
		return errors.LocalStore(c.db.MarkRead(ctx, msg.ChatID, msg.ID.Key()), "mark chat read")
	}
	if !msg.FromSelf(c.opts.SelfID) || !msg.Status.Advances(store.StatusRead) {
		return nil
	}
	return errors.LocalStore(c.db.SetMessageStatus(ctx, msg.ID.Key(), store.StatusRead), "mark message read")
}

// Start subscribes to push events on the bus and applies them until Stop.
// The subscription is lossless: a slow apply holds back the push reader
// rather than losing events.
func (c *Coordinator) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	ch, unsub := c.bus.SubscribeLossless(bus.NamespacePush, c.opts.PushBuffer)

	go func() {
		defer close(c.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				c.handleEvent(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the push pump and waits for in-flight work.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
	c.bg.Wait()
}

// handleEvent applies one push event. Failures are logged and the event is
// dropped so one bad event cannot stall the ones behind it.
func (c *Coordinator) handleEvent(ctx context.Context, evt bus.Event) {
	var err error
	switch p := evt.Payload.(type) {
	case remote.NewMessage:
		err = c.ApplyNewMessage(ctx, p)
	case remote.MembershipChanged:
		err = c.ApplyMembershipChange(ctx, p)
	case remote.ReadReceiptAck:
		err = c.ApplyReadAck(ctx, p)
	default:
		if evt.Kind == bus.KindPushConnected {
			c.bg.Go(func() { c.catchUp(ctx) })
		}
		return
	}
	if err != nil && !stderrors.Is(err, context.Canceled) {
		c.logger.Warn("dropping push event", zap.String("kind", evt.Kind), zap.String("event_id", evt.ID), zap.Error(err))
	}
}

// catchUp runs a full refresh after the push channel (re)connects, since
// events may have been missed while it was down.
func (c *Coordinator) catchUp(ctx context.Context) {
	if err := c.RefreshChats(ctx); err != nil {
		c.logger.Warn("catch-up refresh failed", zap.Error(err))
		c.transition(status.Degraded)
		return
	}
	c.transition(status.Ready)
}

func (c *Coordinator) transition(to status.State) {
	if c.machine == nil {
		return
	}
	if err := c.machine.Transition(to); err != nil {
		c.logger.Debug("status transition skipped", zap.Error(err))
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
