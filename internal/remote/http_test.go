package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/errors"
)

// fakeServer is a minimal chat service exposing the routes the gateway uses.
type fakeServer struct {
	*httptest.Server
	lastAuth  string
	lastMute  MuteRequest
	lastBody  map[string]any
	listCalls atomic.Int32
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{}
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/chats", func(w http.ResponseWriter, r *http.Request) {
		fs.listCalls.Add(1)
		fs.lastAuth = r.Header.Get("Authorization")
		writeJSON(w, []map[string]any{
			{"id": 5, "type": "group", "name": "Team", "participant_ids": []int{1, 2},
				"unread_count": 9, "is_pinned": true,
				"last_message": map[string]any{"id": 42, "message_id": "c-42", "chat_id": 5, "content": "hi"}},
			{"id": 6, "type": "private", "name": "Ana"},
		})
	}).Methods("GET")
	api.HandleFunc("/chats/{id:[0-9]+}", func(w http.ResponseWriter, r *http.Request) {
		if mux.Vars(r)["id"] == "404" {
			http.Error(w, "chat not found", http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]any{"id": 5, "type": "group", "name": "Team"})
	}).Methods("GET")
	api.HandleFunc("/chats/{id:[0-9]+}/mute", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&fs.lastMute)
		w.WriteHeader(http.StatusOK)
	}).Methods("POST")
	api.HandleFunc("/chats/{id:[0-9]+}/pin", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "pin limit reached", http.StatusBadRequest)
	}).Methods("POST")
	api.HandleFunc("/chats/{id:[0-9]+}/unpin", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}).Methods("POST")
	api.HandleFunc("/messages/history", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("chat_id") != "5" || q.Get("limit") != "20" || q.Get("offset") != "40" {
			http.Error(w, "bad query", http.StatusBadRequest)
			return
		}
		writeJSON(w, []map[string]any{{"id": 1, "message_id": "c-1", "chat_id": 5, "content": "yo"}})
	}).Methods("GET")
	api.HandleFunc("/messages/delete", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&fs.lastBody)
		w.WriteHeader(http.StatusOK)
	}).Methods("POST")
	api.HandleFunc("/chats/groups/{id:[0-9]+}/invites", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&fs.lastBody)
		writeJSON(w, map[string]any{"id": 1, "code": "abc123", "max_uses": 3})
	}).Methods("POST")
	api.HandleFunc("/folders/reorder", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&fs.lastBody)
		w.WriteHeader(http.StatusOK)
	}).Methods("PUT")

	fs.Server = httptest.NewServer(r)
	t.Cleanup(fs.Close)
	return fs
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(url string) *HTTPClient {
	return NewHTTPClient(HTTPConfig{
		BaseURL:             url,
		Token:               "tok",
		Timeout:             2 * time.Second,
		UnreachableCooldown: time.Minute,
	}, zap.NewNop())
}

func TestListChatsDecodesRemoteFieldsOnly(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(fs.URL)

	chats, err := c.ListChats(context.Background())
	require.NoError(t, err)
	require.Len(t, chats, 2)

	assert.Equal(t, "Bearer tok", fs.lastAuth)
	assert.Equal(t, int64(5), chats[0].ID)
	assert.Equal(t, []int64{1, 2}, chats[0].ParticipantIDs)
	require.NotNil(t, chats[0].LastMessage)
	assert.Equal(t, "c-42", chats[0].LastMessage.LocalID().Key())
	assert.Nil(t, chats[1].LastMessage)
}

func TestGetChatNotFound(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(fs.URL)

	_, err := c.GetChat(context.Background(), 404)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err), "got %v", err)
}

func TestRejectionsAreClassified(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(fs.URL)
	ctx := context.Background()

	err := c.PinChat(ctx, 5)
	require.Error(t, err)
	assert.True(t, errors.IsRejected(err))
	assert.False(t, errors.IsRetryable(err), "400 is not retryable")
	assert.Contains(t, err.Error(), "pin limit reached")

	err = c.UnpinChat(ctx, 5)
	require.Error(t, err)
	assert.True(t, errors.IsRejected(err))
	assert.True(t, errors.IsRetryable(err), "503 is retryable")

	// Rejections prove the server is reachable.
	assert.True(t, c.Reachable())
}

func TestMuteSendsDurationToken(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(fs.URL)

	require.NoError(t, c.MuteChat(context.Background(), 5, MuteRequest{Duration: "1d"}))
	assert.Equal(t, "1d", fs.lastMute.Duration)
	assert.Nil(t, fs.lastMute.Until)
}

func TestListMessagesQuery(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(fs.URL)

	msgs, err := c.ListMessages(context.Background(), 5, 20, 40)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	id := msgs[0].LocalID()
	assert.Equal(t, "c-1", id.Key())
	assert.False(t, id.IsPending())
}

func TestDeleteMessageAndInviteBodies(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(fs.URL)
	ctx := context.Background()

	require.NoError(t, c.DeleteMessage(ctx, "c-9"))
	assert.Equal(t, "c-9", fs.lastBody["message_id"])

	link, err := c.CreateInviteLink(ctx, 5, 3, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "abc123", link.Code)
	assert.EqualValues(t, 3, fs.lastBody["usage_limit"])
	assert.EqualValues(t, 3600, fs.lastBody["expires_in"])
}

func TestReorderFoldersUsesStringKeys(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(fs.URL)

	require.NoError(t, c.ReorderFolders(context.Background(), map[int64]int{7: 0, 3: 1}))
	positions, ok := fs.lastBody["positions"].(map[string]any)
	require.True(t, ok, "positions = %T", fs.lastBody["positions"])
	assert.EqualValues(t, 0, positions["7"])
	assert.EqualValues(t, 1, positions["3"])
}

func TestUnreachableServerShortCircuits(t *testing.T) {
	fs := newFakeServer(t)
	url := fs.URL
	fs.Close()

	c := newTestClient(url)
	ctx := context.Background()

	_, err := c.ListChats(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsTransport(err))
	assert.False(t, c.Reachable())

	// Second call fails fast without a network round trip.
	start := time.Now()
	_, err = c.ListChats(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsTransport(err))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestCancelledCallDoesNotMarkServerDown(t *testing.T) {
	fs := newFakeServer(t)
	c := newTestClient(fs.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.ListChats(ctx)
	require.Error(t, err)
	assert.True(t, c.Reachable())
}

func TestAvailabilityGateCooldown(t *testing.T) {
	now := time.Unix(1000, 0)
	g := newAvailabilityGate(15 * time.Second)
	g.now = func() time.Time { return now }

	assert.True(t, g.Allow())
	g.MarkDown()
	assert.False(t, g.Allow())
	assert.Equal(t, now.Add(15*time.Second), g.RetryAt())

	now = now.Add(15 * time.Second)
	assert.True(t, g.Allow())
	assert.True(t, g.RetryAt().IsZero())

	g.MarkDown()
	g.MarkUp()
	assert.True(t, g.Allow())
}

func TestRouteName(t *testing.T) {
	assert.Equal(t, "/chats/{id}/mute", routeName("/chats/5/mute"))
	assert.Equal(t, "/messages/history", routeName("/messages/history?chat_id=5"))
	assert.Equal(t, "/folders/{id}/chats/{id}", routeName("/folders/1/chats/2"))
}
