package folder

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/matheus3301/chatsync/internal/store"
)

func TestMatches(t *testing.T) {
	group := store.Chat{ID: 1, Type: store.ChatGroup}
	private := store.Chat{ID: 2, Type: store.ChatPrivate}

	tests := []struct {
		name   string
		chat   store.Chat
		folder store.Folder
		want   bool
	}{
		{"no rules", group, store.Folder{ID: 9}, false},
		{"groups flag", group, store.Folder{ID: 9, IncludeGroups: true}, true},
		{"groups flag ignores private", private, store.Folder{ID: 9, IncludeGroups: true}, false},
		{"contacts flag", private, store.Folder{ID: 9, IncludeContacts: true}, true},
		{"non-contacts flag", private, store.Folder{ID: 9, IncludeNonContacts: true}, true},
		{"explicit include beats rules", group, store.Folder{ID: 9, IncludedChatIDs: store.IDList{1}}, true},
		{"exclude beats flags", group, store.Folder{ID: 9, IncludeGroups: true, ExcludedChatIDs: store.IDList{1}}, false},
		{"exclude beats include", group, store.Folder{ID: 9, IncludedChatIDs: store.IDList{1}, ExcludedChatIDs: store.IDList{1}}, false},
		{"assigned folder", store.Chat{ID: 3, Type: store.ChatPrivate, FolderID: 9}, store.Folder{ID: 9}, true},
		{"assigned folder still excluded", store.Chat{ID: 3, FolderID: 9}, store.Folder{ID: 9, ExcludedChatIDs: store.IDList{3}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(&tt.chat, &tt.folder))
		})
	}
}

func TestPartitionAndCounts(t *testing.T) {
	chats := []store.Chat{
		{ID: 1, Type: store.ChatGroup},
		{ID: 2, Type: store.ChatPrivate},
		{ID: 3, Type: store.ChatGroup, IsHidden: true},
	}
	folders := []store.Folder{
		{ID: 10, IncludeGroups: true},
		{ID: 11, IncludeContacts: true, IncludedChatIDs: store.IDList{1}},
		{ID: 12},
	}

	parts := Partition(chats, folders)
	assert.Equal(t, []int64{1, 3}, parts[10])
	assert.Equal(t, []int64{1, 2}, parts[11])
	assert.Empty(t, parts[12])

	counts := Counts(chats, folders)
	assert.Equal(t, map[int64]int{10: 1, 11: 2, 12: 0}, counts)

	all := All(chats)
	assert.Len(t, all, 2)
	assert.Equal(t, []store.Chat{chats[0]}, Filter(all, &folders[0]))
}
