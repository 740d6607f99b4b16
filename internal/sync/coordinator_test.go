package sync

import (
	"context"
	stderrors "errors"
	"fmt"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/errors"
	"github.com/matheus3301/chatsync/internal/remote"
	"github.com/matheus3301/chatsync/internal/remote/remotetest"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
)

const selfID = 1

type fixture struct {
	db  *store.DB
	gw  *remotetest.Gateway
	bus *bus.Bus
	fg  *ForegroundTracker
	c   *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b := bus.New()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"), b)
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	gw := remotetest.NewGateway()
	fg := NewForegroundTracker()
	c := NewCoordinator(db, gw, b, status.NewMachine(b), fg, Options{SelfID: selfID}, zap.NewNop())
	return &fixture{db: db, gw: gw, bus: b, fg: fg, c: c}
}

func (f *fixture) localChat(t *testing.T, c store.Chat) {
	t.Helper()
	if c.Type == "" {
		c.Type = store.ChatPrivate
	}
	require.NoError(t, f.db.UpsertChat(context.Background(), &c))
}

func (f *fixture) chat(t *testing.T, id int64) *store.Chat {
	t.Helper()
	c, err := f.db.GetChat(context.Background(), id)
	require.NoError(t, err)
	return c
}

func pushed(chatID, sender int64, clientID string) remote.NewMessage {
	return remote.NewMessage{
		ClientMessageID: clientID,
		ChatID:          chatID,
		SenderID:        sender,
		Type:            "text",
		Content:         "hi",
		SentAt:          time.UnixMilli(5000),
	}
}

func TestRefreshChatsDeletesChatsMissingRemotely(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []int64{1, 2, 3} {
		f.localChat(t, store.Chat{ID: id, Name: "local"})
	}
	f.gw.PutChat(remote.Chat{ID: 1, Type: "private", Name: "one"})
	f.gw.PutChat(remote.Chat{ID: 3, Type: "private", Name: "three"})

	require.NoError(t, f.c.RefreshChats(ctx))

	ids, err := f.db.ListChatIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 3}, ids)

	_, count, ok, err := f.c.Reconciler().LastFullRefresh(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, count)
}

func TestRefreshChatsPreservesLocalFields(t *testing.T) {
	f := newFixture(t)
	f.localChat(t, store.Chat{ID: 5, Name: "Old", UnreadCount: 3, MutedUntil: store.MutedForever, IsPinned: true, PinnedAt: 77})
	f.gw.PutChat(remote.Chat{ID: 5, Type: "group", Name: "New", UpdatedAt: time.UnixMilli(9000)})

	require.NoError(t, f.c.RefreshChats(context.Background()))

	c := f.chat(t, 5)
	assert.Equal(t, "New", c.Name)
	assert.Equal(t, store.ChatGroup, c.Type)
	assert.Equal(t, int64(9000), c.UpdatedAt)
	assert.Equal(t, 3, c.UnreadCount)
	assert.Equal(t, store.MutedForever, c.MutedUntil)
	assert.True(t, c.IsPinned)
	assert.Equal(t, int64(77), c.PinnedAt)
}

func TestRefreshChatsFailureLeavesCacheUntouched(t *testing.T) {
	f := newFixture(t)
	f.localChat(t, store.Chat{ID: 1, Name: "kept"})
	f.gw.Fail("ListChats", remotetest.Down())

	err := f.c.RefreshChats(context.Background())
	assert.True(t, errors.IsTransport(err))
	assert.Equal(t, "kept", f.chat(t, 1).Name)
}

func TestRefreshChatsTakesLastMessagePointerOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gw.PutChat(remote.Chat{ID: 2, Type: "private", LastMessage: &remote.Message{
		ID: 44, MessageID: "c-44", SenderID: 9, MessageType: "text", Content: "latest", CreatedAt: time.UnixMilli(100),
	}})

	require.NoError(t, f.c.RefreshChats(ctx))

	assert.Equal(t, "c-44", f.chat(t, 2).LastMessageID)
	n, err := f.db.MessageCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// The push of that message still counts as new.
	require.NoError(t, f.c.ApplyNewMessage(ctx, pushed(2, 9, "c-44")))
	c := f.chat(t, 2)
	assert.Equal(t, 1, c.UnreadCount)
	assert.Equal(t, "c-44", c.LastMessageID)
}

func TestSlowRefreshDoesNotOverwriteNewerRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.localChat(t, store.Chat{ID: 5, Name: "v1", UpdatedAt: 1000})
	f.gw.PutChat(remote.Chat{ID: 5, Type: "group", Name: "v1", UpdatedAt: time.UnixMilli(1000)})
	f.gw.PutChat(remote.Chat{ID: 6, Type: "group", Name: "six", UpdatedAt: time.UnixMilli(1000)})

	entered, release := f.gw.Hold("ListChats")
	defer release()
	done := make(chan error, 1)
	go func() { done <- f.c.RefreshChats(ctx) }()
	<-entered

	// While the listing is in flight the chat changes remotely and locally.
	f.gw.PutChat(remote.Chat{ID: 5, Type: "group", Name: "v2", UpdatedAt: time.UnixMilli(2000)})
	c, err := f.c.GetChatByID(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, "v2", c.Name)
	unlock := f.c.LockChat(5)
	require.NoError(t, f.db.SetPinned(ctx, 5, true, 123))
	unlock()

	release()
	require.NoError(t, <-done)

	c = f.chat(t, 5)
	assert.Equal(t, "v2", c.Name)
	assert.Equal(t, int64(2000), c.UpdatedAt)
	assert.True(t, c.IsPinned)
	assert.Equal(t, int64(123), c.PinnedAt)
	assert.Equal(t, "six", f.chat(t, 6).Name)
}

func TestConcurrentMergesKeepLocalWrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.localChat(t, store.Chat{ID: 5})
	f.gw.PutChat(remote.Chat{ID: 5, Type: "group", Name: "team"})

	var wg gosync.WaitGroup
	for i := range 20 {
		wg.Go(func() {
			assert.NoError(t, f.c.RefreshChats(ctx))
		})
		wg.Go(func() {
			_, err := f.c.GetChatByID(ctx, 5)
			assert.NoError(t, err)
		})
		wg.Go(func() {
			assert.NoError(t, f.c.ApplyNewMessage(ctx, pushed(5, 2, fmt.Sprintf("m%d", i))))
		})
	}
	wg.Wait()

	c := f.chat(t, 5)
	assert.Equal(t, "team", c.Name)
	assert.Equal(t, 20, c.UnreadCount)
}

func TestApplyNewMessageCountsUnreadOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.localChat(t, store.Chat{ID: 7})

	ev := pushed(7, 2, "m1")
	require.NoError(t, f.c.ApplyNewMessage(ctx, ev))
	require.NoError(t, f.c.ApplyNewMessage(ctx, ev))

	c := f.chat(t, 7)
	assert.Equal(t, 1, c.UnreadCount)
	assert.Equal(t, "m1", c.LastMessageID)
	assert.Equal(t, "m1", c.FirstUnreadMessageID)
	n, err := f.db.MessageCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestApplyNewMessageSkipsUnreadForForegroundAndSelf(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.localChat(t, store.Chat{ID: 7})

	closeView := f.fg.Open(7)
	require.NoError(t, f.c.ApplyNewMessage(ctx, pushed(7, 2, "seen")))
	closeView()
	require.NoError(t, f.c.ApplyNewMessage(ctx, pushed(7, selfID, "mine")))

	c := f.chat(t, 7)
	assert.Equal(t, 0, c.UnreadCount)
	assert.Equal(t, "mine", c.LastMessageID)

	require.NoError(t, f.c.ApplyNewMessage(ctx, pushed(7, 2, "later")))
	assert.Equal(t, 1, f.chat(t, 7).UnreadCount)
}

func TestApplyNewMessageConfirmsOwnEcho(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.localChat(t, store.Chat{ID: 7})
	_, err := f.db.InsertMessage(ctx, &store.Message{
		ID: store.PendingID("out-1"), ChatID: 7, SenderID: selfID, Type: store.MessageText,
		Body: "hi", Status: store.StatusSending, CreatedAt: 10,
	})
	require.NoError(t, err)

	require.NoError(t, f.c.ApplyNewMessage(ctx, pushed(7, selfID, "out-1")))

	m, err := f.db.GetMessage(ctx, "out-1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusSent, m.Status)
	assert.Equal(t, 0, f.chat(t, 7).UnreadCount)
}

func TestApplyNewMessageFetchesUnknownChat(t *testing.T) {
	f := newFixture(t)
	f.gw.PutChat(remote.Chat{ID: 9, Type: "group", Name: "Nine"})

	require.NoError(t, f.c.ApplyNewMessage(context.Background(), pushed(9, 2, "m1")))

	c := f.chat(t, 9)
	require.NotNil(t, c)
	assert.Equal(t, "Nine", c.Name)
	assert.False(t, c.Placeholder)
	assert.Equal(t, 1, c.UnreadCount)
}

func TestApplyNewMessageCreatesPlaceholderWhenFetchFails(t *testing.T) {
	f := newFixture(t)
	f.gw.Fail("GetChat", remotetest.Down())

	require.NoError(t, f.c.ApplyNewMessage(context.Background(), pushed(9, 2, "m1")))

	c := f.chat(t, 9)
	require.NotNil(t, c)
	assert.True(t, c.Placeholder)
	assert.Equal(t, store.PlaceholderChatName, c.Name)
	assert.Equal(t, 1, c.UnreadCount)
}

func TestApplyNewMessageRejectsMissingID(t *testing.T) {
	f := newFixture(t)
	err := f.c.ApplyNewMessage(context.Background(), pushed(9, 2, ""))
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
}

func TestGetChatByIDFallsBackToCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.localChat(t, store.Chat{ID: 3, Name: "cached"})
	f.gw.Fail("GetChat", remotetest.Down())

	c, err := f.c.GetChatByID(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "cached", c.Name)

	_, err = f.c.GetChatByID(ctx, 4)
	assert.True(t, errors.IsNotFound(err))
	assert.True(t, errors.IsTransport(stderrors.Unwrap(err)))
}

func TestGetChatByIDWarmsParticipantsIgnoringFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gw.PutChat(remote.Chat{ID: 3, Type: "group", Name: "G", ParticipantIDs: []int64{selfID, 2, 3}})
	f.gw.Users[2] = remote.User{ID: 2, Username: "bob"}

	c, err := f.c.GetChatByID(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "G", c.Name)
	assert.Equal(t, 2, f.gw.Called("GetUser"))

	u, err := f.db.GetUser(ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "bob", u.Username)
}

func TestApplyMembershipChangeRemovesChatGoneRemotely(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.localChat(t, store.Chat{ID: 5})
	f.localChat(t, store.Chat{ID: 6})
	f.gw.PutChat(remote.Chat{ID: 6, Type: "group", Name: "still here"})

	require.NoError(t, f.c.ApplyMembershipChange(ctx, remote.MembershipChanged{ChatID: 5, Reason: "removed_from_group"}))
	require.NoError(t, f.c.ApplyMembershipChange(ctx, remote.MembershipChanged{ChatID: 6, Reason: "added_to_group"}))

	assert.Nil(t, f.chat(t, 5))
	assert.Equal(t, "still here", f.chat(t, 6).Name)
}

func TestApplyMembershipChangeKeepsChatWhenUnreachable(t *testing.T) {
	f := newFixture(t)
	f.localChat(t, store.Chat{ID: 5})
	f.gw.Fail("GetChat", remotetest.Down())

	require.NoError(t, f.c.ApplyMembershipChange(context.Background(), remote.MembershipChanged{ChatID: 5}))
	assert.NotNil(t, f.chat(t, 5))
}

func TestApplyReadAck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.localChat(t, store.Chat{ID: 7})
	require.NoError(t, f.c.ApplyNewMessage(ctx, pushed(7, 2, "theirs")))
	_, err := f.db.InsertMessage(ctx, &store.Message{
		ID: store.PendingID("ours"), ChatID: 7, SenderID: selfID, Type: store.MessageText, Status: store.StatusSent, CreatedAt: 10,
	})
	require.NoError(t, err)

	require.NoError(t, f.c.ApplyReadAck(ctx, remote.ReadReceiptAck{MessageID: "theirs", ChatID: 7, ReaderID: selfID}))
	c := f.chat(t, 7)
	assert.Equal(t, 0, c.UnreadCount)
	assert.Equal(t, "theirs", c.LastReadMessageID)

	require.NoError(t, f.c.ApplyReadAck(ctx, remote.ReadReceiptAck{MessageID: "ours", ChatID: 7, ReaderID: 2}))
	m, err := f.db.GetMessage(ctx, "ours")
	require.NoError(t, err)
	assert.Equal(t, store.StatusRead, m.Status)

	require.NoError(t, f.c.ApplyReadAck(ctx, remote.ReadReceiptAck{MessageID: "unknown", ReaderID: 2}))
}

func TestSyncMessagesMergesAndFallsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.localChat(t, store.Chat{ID: 7})
	f.gw.Messages[7] = []remote.Message{
		{ID: 1, MessageID: "a", SenderID: 2, MessageType: "text", Content: "first", CreatedAt: time.UnixMilli(100)},
		{ID: 2, MessageID: "b", SenderID: 2, MessageType: "text", Content: "second", CreatedAt: time.UnixMilli(200)},
		{ID: 3, MessageID: "c", SenderID: 2, MessageType: "text", IsDeleted: true, CreatedAt: time.UnixMilli(300)},
	}

	msgs, err := f.c.SyncMessages(ctx, 7, 10, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	last, err := f.c.Reconciler().LastMessageSync(ctx, 7)
	require.NoError(t, err)
	assert.False(t, last.IsZero())

	f.gw.Fail("ListMessages", remotetest.Down())
	cached, err := f.c.SyncMessages(ctx, 7, 10, 0)
	require.NoError(t, err)
	require.Len(t, cached, 2)
	assert.Equal(t, "second", cached[0].Body)

	_, err = f.c.SyncMessages(ctx, 8, 10, 0)
	assert.True(t, errors.IsTransport(err))
}

func TestSyncMessagesConfirmsPendingByKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.localChat(t, store.Chat{ID: 7})
	require.NoError(t, f.c.ApplyNewMessage(ctx, pushed(7, 2, "k1")))
	f.gw.Messages[7] = []remote.Message{{ID: 50, MessageID: "k1", SenderID: 2, MessageType: "text", Content: "hi", CreatedAt: time.UnixMilli(5000)}}

	_, err := f.c.SyncMessages(ctx, 7, 10, 0)
	require.NoError(t, err)

	m, err := f.db.GetMessageByServerID(ctx, 50)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "k1", m.ID.Key())
	n, err := f.db.MessageCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPumpAppliesPushEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.localChat(t, store.Chat{ID: 7})
	f.c.Start(ctx)
	defer f.c.Stop()

	f.bus.Emit(bus.KindPushNewMessage, pushed(7, 2, "m1"))

	require.Eventually(t, func() bool {
		c := f.chat(t, 7)
		return c != nil && c.UnreadCount == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPumpCatchUpMovesToReady(t *testing.T) {
	f := newFixture(t)
	machine := f.c.machine
	require.NoError(t, machine.Path(status.Connecting, status.Syncing))
	f.gw.PutChat(remote.Chat{ID: 1, Type: "private"})

	f.c.Start(context.Background())
	defer f.c.Stop()
	f.bus.Emit(bus.KindPushConnected, nil)

	require.Eventually(t, func() bool { return machine.Current() == status.Ready }, 2*time.Second, 10*time.Millisecond)
	assert.NotNil(t, f.chat(t, 1))
}

func TestPumpCatchUpDegradesOnFailure(t *testing.T) {
	f := newFixture(t)
	machine := f.c.machine
	require.NoError(t, machine.Path(status.Connecting, status.Syncing))
	f.gw.Fail("ListChats", remotetest.Down())

	f.c.Start(context.Background())
	defer f.c.Stop()
	f.bus.Emit(bus.KindPushConnected, nil)

	require.Eventually(t, func() bool { return machine.Current() == status.Degraded }, 2*time.Second, 10*time.Millisecond)
}

func TestPumpAppliesEveryEventInABurst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.localChat(t, store.Chat{ID: 5})
	f.c.Start(ctx)
	defer f.c.Stop()

	const n = 1000
	go func() {
		for i := range n {
			f.bus.Emit(bus.KindPushNewMessage, pushed(5, 2, fmt.Sprintf("burst-%d", i)))
		}
	}()

	require.Eventually(t, func() bool {
		c := f.chat(t, 5)
		return c != nil && c.UnreadCount == n
	}, 20*time.Second, 20*time.Millisecond)
	count, err := f.db.MessageCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(n), count)
	assert.Zero(t, f.bus.Dropped())
}
