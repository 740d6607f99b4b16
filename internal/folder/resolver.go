// Package folder resolves which chats belong to which user folder and keeps
// the folder list cached.
package folder

import (
	"github.com/matheus3301/chatsync/internal/store"
)

// Matches reports whether chat belongs in f. Exclusion wins over
// everything; explicit inclusion (override set or the chat's assigned
// folder) wins over the auto-include rules.
func Matches(chat *store.Chat, f *store.Folder) bool {
	if f.ExcludedChatIDs.Contains(chat.ID) {
		return false
	}
	if f.IncludedChatIDs.Contains(chat.ID) || (chat.FolderID != 0 && chat.FolderID == f.ID) {
		return true
	}
	switch chat.Type {
	case store.ChatGroup:
		return f.IncludeGroups
	case store.ChatPrivate:
		return f.IncludeContacts || f.IncludeNonContacts
	}
	return false
}

// All returns the chats shown in the implicit "All" view: every chat that
// is not hidden.
func All(chats []store.Chat) []store.Chat {
	out := make([]store.Chat, 0, len(chats))
	for _, c := range chats {
		if !c.IsHidden {
			out = append(out, c)
		}
	}
	return out
}

// Filter returns the chats of chats that belong in f, in their input order.
func Filter(chats []store.Chat, f *store.Folder) []store.Chat {
	var out []store.Chat
	for i := range chats {
		if Matches(&chats[i], f) {
			out = append(out, chats[i])
		}
	}
	return out
}

// Partition maps every folder id to the ids of the chats it contains. A
// chat may appear under any number of folders.
func Partition(chats []store.Chat, folders []store.Folder) map[int64][]int64 {
	out := make(map[int64][]int64, len(folders))
	for fi := range folders {
		f := &folders[fi]
		ids := []int64{}
		for ci := range chats {
			if Matches(&chats[ci], f) {
				ids = append(ids, chats[ci].ID)
			}
		}
		out[f.ID] = ids
	}
	return out
}

// Counts returns the number of visible chats per folder. Counts are always
// derived from the current chats and rules, never stored.
func Counts(chats []store.Chat, folders []store.Folder) map[int64]int {
	parts := Partition(All(chats), folders)
	out := make(map[int64]int, len(parts))
	for id, ids := range parts {
		out[id] = len(ids)
	}
	return out
}
