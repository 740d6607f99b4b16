package mutation

import (
	"time"

	"github.com/matheus3301/chatsync/internal/errors"
	"github.com/matheus3301/chatsync/internal/store"
)

const day = 24 * time.Hour

var muteDurations = map[string]time.Duration{
	"1h": time.Hour,
	"1d": day,
	"1m": 30 * day,
}

// ParseMuteDuration turns a mute token into an absolute MutedUntil value
// relative to now.
func ParseMuteDuration(token string, now time.Time) (int64, error) {
	if token == "forever" {
		return store.MutedForever, nil
	}
	d, ok := muteDurations[token]
	if !ok {
		return 0, errors.InvalidInput("unknown mute duration " + token).WithContext("token", token)
	}
	return now.Add(d).UnixMilli(), nil
}
