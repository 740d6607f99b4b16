package sync

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/store"
)

const (
	checkpointFullRefresh  = "chats.last_full_refresh"
	checkpointRefreshCount = "chats.last_refresh_count"
)

func messageSyncKey(chatID int64) string {
	return "messages." + strconv.FormatInt(chatID, 10) + ".last_sync"
}

// Reconciler manages sync checkpoints.
type Reconciler struct {
	db     *store.DB
	logger *zap.Logger
}

// NewReconciler creates a new reconciler.
func NewReconciler(db *store.DB, logger *zap.Logger) *Reconciler {
	return &Reconciler{db: db, logger: logger}
}

// RecordFullRefresh stores when the last full chat list refresh completed
// and how many chats it returned.
func (r *Reconciler) RecordFullRefresh(ctx context.Context, at time.Time, count int) error {
	if err := r.db.SetCheckpoint(ctx, checkpointFullRefresh, strconv.FormatInt(at.UnixMilli(), 10)); err != nil {
		return err
	}
	return r.db.SetCheckpoint(ctx, checkpointRefreshCount, strconv.Itoa(count))
}

// LastFullRefresh returns the time and chat count of the last completed full
// refresh. ok is false if none happened yet.
func (r *Reconciler) LastFullRefresh(ctx context.Context) (at time.Time, count int, ok bool, err error) {
	v, ok, err := r.db.Checkpoint(ctx, checkpointFullRefresh)
	if err != nil || !ok {
		return time.Time{}, 0, false, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		r.logger.Warn("corrupt checkpoint", zap.String("key", checkpointFullRefresh), zap.String("value", v))
		return time.Time{}, 0, false, nil
	}
	if c, found, err := r.db.Checkpoint(ctx, checkpointRefreshCount); err == nil && found {
		count, _ = strconv.Atoi(c)
	}
	return time.UnixMilli(ms), count, true, nil
}

// RecordMessageSync stores when a chat's history was last fetched.
func (r *Reconciler) RecordMessageSync(ctx context.Context, chatID int64, at time.Time) error {
	return r.db.SetCheckpoint(ctx, messageSyncKey(chatID), strconv.FormatInt(at.UnixMilli(), 10))
}

// LastMessageSync returns when a chat's history was last fetched; the zero
// time if never.
func (r *Reconciler) LastMessageSync(ctx context.Context, chatID int64) (time.Time, error) {
	v, ok, err := r.db.Checkpoint(ctx, messageSyncKey(chatID))
	if err != nil || !ok {
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, nil
	}
	return time.UnixMilli(ms), nil
}
