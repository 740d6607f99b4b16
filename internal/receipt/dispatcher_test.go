package receipt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/errors"
	"github.com/matheus3301/chatsync/internal/remote/remotetest"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/sync"
)

const selfID = 1

type keyed struct{ *sync.KeyedMutex }

func (k keyed) LockChat(chatID int64) func() { return k.Lock(chatID) }

func setup(t *testing.T) (*Dispatcher, *store.DB, *remotetest.Pusher) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.UpsertChat(context.Background(), &store.Chat{ID: 7, Type: store.ChatPrivate}))
	p := &remotetest.Pusher{}
	return NewDispatcher(db, p, keyed{sync.NewKeyedMutex()}, selfID, zap.NewNop()), db, p
}

func incoming(t *testing.T, db *store.DB, key string, sender, at int64) {
	t.Helper()
	ctx := context.Background()
	_, err := db.InsertMessage(ctx, &store.Message{
		ID: store.PendingID(key), ChatID: 7, SenderID: sender, Type: store.MessageText, Status: store.StatusSent, CreatedAt: at,
	})
	require.NoError(t, err)
	if sender != selfID {
		require.NoError(t, db.IncrementUnread(ctx, 7, key))
	}
}

func unread(t *testing.T, db *store.DB) int {
	t.Helper()
	c, err := db.GetChat(context.Background(), 7)
	require.NoError(t, err)
	return c.UnreadCount
}

func TestMarkAsReadWithoutIncomingSendsNothing(t *testing.T) {
	d, db, p := setup(t)
	incoming(t, db, "mine", selfID, 10)
	require.NoError(t, db.SetUnread(context.Background(), 7, 2))

	sent, err := d.MarkAsRead(context.Background(), 7)
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Equal(t, 0, unread(t, db))
	assert.Empty(t, p.Sent())
}

func TestMarkAsReadSendsOncePerMessage(t *testing.T) {
	d, db, p := setup(t)
	ctx := context.Background()
	incoming(t, db, "a", 2, 10)
	incoming(t, db, "b", 2, 20)

	sent, err := d.MarkAsRead(ctx, 7)
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Equal(t, 0, unread(t, db))

	sent, err = d.MarkAsRead(ctx, 7)
	require.NoError(t, err)
	assert.False(t, sent)

	require.Len(t, p.Sent(), 1)
	assert.Equal(t, "b", p.Sent()[0].MessageID)

	c, err := db.GetChat(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "b", c.LastReadMessageID)

	incoming(t, db, "c", 2, 30)
	sent, err = d.MarkAsRead(ctx, 7)
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Len(t, p.Sent(), 2)
}

func TestMarkAsReadFailureKeepsChatReadAndRetries(t *testing.T) {
	d, db, p := setup(t)
	ctx := context.Background()
	incoming(t, db, "a", 2, 10)
	p.SetErr(errors.Transport(context.DeadlineExceeded, "push down"))

	sent, err := d.MarkAsRead(ctx, 7)
	assert.Error(t, err)
	assert.False(t, sent)
	assert.Equal(t, 0, unread(t, db))

	p.SetErr(nil)
	sent, err = d.MarkAsRead(ctx, 7)
	require.NoError(t, err)
	assert.True(t, sent)
}

func TestMarkAsReadWithoutClientIDSkipsReceipt(t *testing.T) {
	d, db, p := setup(t)
	ctx := context.Background()
	_, err := db.InsertMessage(ctx, &store.Message{
		ID: store.ConfirmedID("", 88), ChatID: 7, SenderID: 2, Type: store.MessageText, Status: store.StatusSent, CreatedAt: 10,
	})
	require.NoError(t, err)
	require.NoError(t, db.IncrementUnread(ctx, 7, "srv-88"))

	sent, err := d.MarkAsRead(ctx, 7)
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Equal(t, 0, unread(t, db))
	assert.Empty(t, p.Sent())

	incoming(t, db, "c-2", 2, 20)
	sent, err = d.MarkAsRead(ctx, 7)
	require.NoError(t, err)
	assert.True(t, sent)
	require.Len(t, p.Sent(), 1)
	assert.Equal(t, "c-2", p.Sent()[0].MessageID)
}
