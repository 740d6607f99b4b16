package folder

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/errors"
	"github.com/matheus3301/chatsync/internal/remote"
	"github.com/matheus3301/chatsync/internal/store"
)

// Service is a read-through cache of the server's folder list. Edits to an
// existing folder are applied locally first and rolled back if the server
// refuses them; the next Load supersedes any local patch.
type Service struct {
	db     *store.DB
	gw     remote.Gateway
	logger *zap.Logger
	mu     sync.Mutex
}

// NewService creates a folder service.
func NewService(db *store.DB, gw remote.Gateway, logger *zap.Logger) *Service {
	return &Service{db: db, gw: gw, logger: logger}
}

// Load replaces the cached folders with the server's list. When the server
// is unreachable the cached list is returned if there is one.
func (s *Service) Load(ctx context.Context) ([]store.Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.gw.ListFolders(ctx)
	if err != nil {
		if !errors.IsTransport(err) {
			return nil, err
		}
		cached, lerr := s.db.ListFolders(ctx)
		if lerr != nil {
			return nil, errors.LocalStore(lerr, "read cached folders")
		}
		if len(cached) == 0 {
			return nil, err
		}
		s.logger.Debug("folder list unavailable, serving cache", zap.Error(err))
		return cached, nil
	}

	folders := make([]store.Folder, 0, len(list))
	for i := range list {
		folders = append(folders, list[i].ToStore())
	}
	err = s.db.InTx(ctx, func(tx *store.Tx) error {
		return tx.ReplaceFolders(ctx, folders)
	})
	if err != nil {
		return nil, errors.LocalStore(err, "replace folders")
	}
	return s.db.ListFolders(ctx)
}

// List returns the cached folders.
func (s *Service) List(ctx context.Context) ([]store.Folder, error) {
	folders, err := s.db.ListFolders(ctx)
	return folders, errors.LocalStore(err, "list folders")
}

// Create creates a folder on the server and caches the result. The id is
// assigned by the server, so there is nothing to apply beforehand.
func (s *Service) Create(ctx context.Context, f store.Folder) (*store.Folder, error) {
	if f.Name == "" {
		return nil, errors.InvalidInput("folder name is required")
	}
	created, err := s.gw.CreateFolder(ctx, remote.FolderFromStore(f))
	if err != nil {
		return nil, err
	}
	out := created.ToStore()
	if err := s.db.UpsertFolder(ctx, &out); err != nil {
		return nil, errors.LocalStore(err, "cache folder")
	}
	return &out, nil
}

// Update replaces a folder's name, look and rules.
func (s *Service) Update(ctx context.Context, f store.Folder) (*store.Folder, error) {
	if f.Name == "" {
		return nil, errors.InvalidInput("folder name is required")
	}
	var out *store.Folder
	err := s.patch(ctx, f.ID, func(cur *store.Folder) {
		pos := cur.Position
		*cur = f
		cur.Position = pos
	}, func(ctx context.Context, next store.Folder) error {
		updated, err := s.gw.UpdateFolder(ctx, remote.FolderFromStore(next))
		if err != nil {
			return err
		}
		u := updated.ToStore()
		out = &u
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.db.UpsertFolder(ctx, out); err != nil {
		return nil, errors.LocalStore(err, "cache folder")
	}
	return out, nil
}

// Delete removes a folder on the server, then from the cache.
func (s *Service) Delete(ctx context.Context, folderID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.gw.DeleteFolder(ctx, folderID); err != nil {
		return err
	}
	return errors.LocalStore(s.db.DeleteFolder(ctx, folderID), "delete folder")
}

// Reorder sets folder positions.
func (s *Service) Reorder(ctx context.Context, positions map[int64]int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.db.ListFolders(ctx)
	if err != nil {
		return errors.LocalStore(err, "list folders")
	}
	next := make([]store.Folder, 0, len(prev))
	for _, f := range prev {
		if pos, ok := positions[f.ID]; ok {
			f.Position = pos
		}
		next = append(next, f)
	}
	if err := s.replace(ctx, next); err != nil {
		return err
	}
	if err := s.gw.ReorderFolders(ctx, positions); err != nil {
		if rerr := s.replace(context.WithoutCancel(ctx), prev); rerr != nil {
			s.logger.Error("folder order rollback failed", zap.Error(rerr))
		}
		return err
	}
	return nil
}

func (s *Service) replace(ctx context.Context, folders []store.Folder) error {
	return errors.LocalStore(s.db.InTx(ctx, func(tx *store.Tx) error {
		return tx.ReplaceFolders(ctx, folders)
	}), "replace folders")
}

// AddChats explicitly includes chats in a folder, lifting any exclusion.
func (s *Service) AddChats(ctx context.Context, folderID int64, chatIDs []int64) error {
	if len(chatIDs) == 0 {
		return nil
	}
	return s.patch(ctx, folderID, func(f *store.Folder) {
		f.IncludedChatIDs = f.IncludedChatIDs.With(chatIDs...)
		for _, id := range chatIDs {
			f.ExcludedChatIDs = f.ExcludedChatIDs.Without(id)
		}
	}, func(ctx context.Context, _ store.Folder) error {
		return s.gw.AddChatsToFolder(ctx, folderID, chatIDs)
	})
}

// RemoveChat drops a chat from a folder's explicit inclusions.
func (s *Service) RemoveChat(ctx context.Context, folderID, chatID int64) error {
	return s.patch(ctx, folderID, func(f *store.Folder) {
		f.IncludedChatIDs = f.IncludedChatIDs.Without(chatID)
	}, func(ctx context.Context, _ store.Folder) error {
		return s.gw.RemoveChatFromFolder(ctx, folderID, chatID)
	})
}

// patch applies edit to the cached folder, runs call, and restores the
// previous folder if call fails.
func (s *Service) patch(ctx context.Context, folderID int64, edit func(*store.Folder), call func(context.Context, store.Folder) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.db.GetFolder(ctx, folderID)
	if err != nil {
		return errors.LocalStore(err, "read folder")
	}
	if prev == nil {
		return errors.NotFound("folder", folderID)
	}
	next := *prev
	edit(&next)
	next.ID = folderID
	if err := s.db.UpsertFolder(ctx, &next); err != nil {
		return errors.LocalStore(err, "patch folder")
	}
	if err := call(ctx, next); err != nil {
		if rerr := s.db.UpsertFolder(context.WithoutCancel(ctx), prev); rerr != nil {
			s.logger.Error("folder rollback failed", zap.Int64("folder_id", folderID), zap.Error(rerr))
		}
		return err
	}
	return nil
}

// Chats returns the visible chats of a folder; folderID 0 is the "All"
// view.
func (s *Service) Chats(ctx context.Context, folderID int64) ([]store.Chat, error) {
	chats, err := s.db.ListChats(ctx, store.ChatFilter{})
	if err != nil {
		return nil, errors.LocalStore(err, "list chats")
	}
	if folderID == 0 {
		return chats, nil
	}
	f, err := s.db.GetFolder(ctx, folderID)
	if err != nil {
		return nil, errors.LocalStore(err, "read folder")
	}
	if f == nil {
		return nil, errors.NotFound("folder", folderID)
	}
	return Filter(chats, f), nil
}

// Counts returns the live chat count of every cached folder.
func (s *Service) Counts(ctx context.Context) (map[int64]int, error) {
	chats, err := s.db.ListChats(ctx, store.ChatFilter{})
	if err != nil {
		return nil, errors.LocalStore(err, "list chats")
	}
	folders, err := s.db.ListFolders(ctx)
	if err != nil {
		return nil, errors.LocalStore(err, "list folders")
	}
	return Counts(chats, folders), nil
}
