package sync

import gosync "sync"

// Foreground reports whether a chat is currently open in some UI, in which
// case incoming messages do not count as unread.
type Foreground interface {
	IsForeground(chatID int64) bool
}

// ForegroundTracker counts open views per chat. Several clients may have
// the same chat open at once.
type ForegroundTracker struct {
	mu    gosync.Mutex
	views map[int64]int
}

// NewForegroundTracker returns a tracker with no open chats.
func NewForegroundTracker() *ForegroundTracker {
	return &ForegroundTracker{views: make(map[int64]int)}
}

// Open marks chatID as shown and returns the function that closes the view.
func (f *ForegroundTracker) Open(chatID int64) (closeView func()) {
	f.mu.Lock()
	f.views[chatID]++
	f.mu.Unlock()

	var once gosync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if f.views[chatID]--; f.views[chatID] <= 0 {
				delete(f.views, chatID)
			}
		})
	}
}

func (f *ForegroundTracker) IsForeground(chatID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.views[chatID] > 0
}
