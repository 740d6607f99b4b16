package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/client"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/folder"
	"github.com/matheus3301/chatsync/internal/mutation"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/receipt"
	"github.com/matheus3301/chatsync/internal/remote"
	"github.com/matheus3301/chatsync/internal/remote/remotetest"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	intsync "github.com/matheus3301/chatsync/internal/sync"
)

const selfID = 1

type harness struct {
	db      *store.DB
	gw      *remotetest.Gateway
	pusher  *remotetest.Pusher
	machine *status.Machine
	client  *client.Client
}

// startDaemon serves the full component graph over a Unix socket, backed by
// an in-memory chat service.
func startDaemon(t *testing.T) *harness {
	t.Helper()
	// Use a short path to avoid macOS 104-char Unix socket limit.
	tmpDir, err := os.MkdirTemp("/tmp", "chatsync-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(tmpDir) })

	logger := zap.NewNop()
	b := bus.New()
	db, err := store.Open(filepath.Join(tmpDir, "chatsync.db"), b)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	gw := remotetest.NewGateway()
	pusher := &remotetest.Pusher{}
	machine := status.NewMachine(b)
	fg := intsync.NewForegroundTracker()
	coord := intsync.NewCoordinator(db, gw, b, machine, fg, intsync.Options{SelfID: selfID}, logger)

	svc := api.NewService(api.Deps{
		Session:    "test",
		DB:         db,
		Bus:        b,
		Machine:    machine,
		Sync:       coord,
		Foreground: fg,
		Mutations:  mutation.NewManager(db, gw, coord, logger),
		Receipts:   receipt.NewDispatcher(db, pusher, coord, selfID, logger),
		Folders:    folder.NewService(db, gw, logger),
		Outbox:     outbox.NewSender(db, pusher, b, outbox.Options{SelfID: selfID}, logger),
		Logger:     logger,
	})

	socketPath := filepath.Join(tmpDir, "d.sock")
	srv, err := NewServer(Params{SessionName: "test", SocketPath: socketPath}, logger, svc)
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Start() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Stop(ctx)
	})

	c, err := client.New(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })

	return &harness{db: db, gw: gw, pusher: pusher, machine: machine, client: c}
}

func (h *harness) seed() {
	h.gw.PutChat(remote.Chat{ID: 10, Type: "private", Name: "Alice", ParticipantIDs: []int64{selfID, 2}})
	h.gw.PutChat(remote.Chat{ID: 20, Type: "group", Name: "Team", ParticipantIDs: []int64{selfID, 2, 3}})
}

func TestDaemonLifecycle(t *testing.T) {
	h := startDaemon(t)
	ctx := context.Background()

	st, err := h.client.Status(ctx)
	if err != nil {
		t.Fatalf("Status error = %v", err)
	}
	if st.Session != "test" {
		t.Errorf("session = %q, want test", st.Session)
	}
	if st.State != string(status.Booting) {
		t.Errorf("state = %q, want BOOTING", st.State)
	}
	if st.SelfID != selfID {
		t.Errorf("self id = %d, want %d", st.SelfID, selfID)
	}

	chats, err := h.client.ListChats(ctx, api.ListChatsRequest{})
	if err != nil {
		t.Fatalf("ListChats error = %v", err)
	}
	if len(chats) != 0 {
		t.Errorf("expected 0 chats, got %d", len(chats))
	}

	h.seed()
	if err := h.client.RefreshChats(ctx); err != nil {
		t.Fatalf("RefreshChats error = %v", err)
	}
	chats, err = h.client.ListChats(ctx, api.ListChatsRequest{})
	if err != nil {
		t.Fatalf("ListChats error = %v", err)
	}
	if len(chats) != 2 {
		t.Fatalf("expected 2 chats, got %d", len(chats))
	}

	if err := h.client.ChatAction(ctx, "Pin", 10); err != nil {
		t.Fatalf("Pin error = %v", err)
	}
	info, err := h.client.ChatInfo(ctx, 10)
	if err != nil {
		t.Fatalf("ChatInfo error = %v", err)
	}
	if !info.IsPinned || info.PinnedAt == 0 {
		t.Errorf("chat 10 pinned = %v at %d, want pinned", info.IsPinned, info.PinnedAt)
	}

	key, err := h.client.SendText(ctx, 10, "hello world", "")
	if err != nil {
		t.Fatalf("SendText error = %v", err)
	}
	msgs, err := h.client.ListMessages(ctx, api.MessagesRequest{ChatID: 10})
	if err != nil {
		t.Fatalf("ListMessages error = %v", err)
	}
	if len(msgs) != 1 || msgs[0].Key != key {
		t.Fatalf("messages = %+v, want the queued message %s", msgs, key)
	}
	if !msgs[0].Pending || msgs[0].Status != string(store.StatusSending) {
		t.Errorf("queued message pending=%v status=%q", msgs[0].Pending, msgs[0].Status)
	}

	hits, err := h.client.Search(ctx, api.SearchRequest{Query: "hello"})
	if err != nil {
		t.Fatalf("Search error = %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("expected 1 search result, got %d", len(hits))
	}

	st, err = h.client.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.ChatCount != 2 || st.MessageCount != 1 || st.LastRefreshMs == 0 {
		t.Errorf("status counts = %d chats, %d messages, refresh %d", st.ChatCount, st.MessageCount, st.LastRefreshMs)
	}
}

func TestStatusReflectsTransitions(t *testing.T) {
	h := startDaemon(t)
	ctx := context.Background()

	if err := h.machine.Path(status.Connecting, status.Syncing, status.Ready); err != nil {
		t.Fatal(err)
	}
	st, err := h.client.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.State != string(status.Ready) {
		t.Errorf("state = %q, want READY", st.State)
	}
}

func TestErrorCodes(t *testing.T) {
	h := startDaemon(t)
	ctx := context.Background()
	h.seed()
	if err := h.client.RefreshChats(ctx); err != nil {
		t.Fatal(err)
	}

	_, err := h.client.ChatInfo(ctx, 99)
	if code := grpcstatus.Code(err); code != codes.NotFound {
		t.Errorf("unknown chat code = %v, want NotFound", code)
	}

	if err := h.client.Mute(ctx, 10, "2w"); grpcstatus.Code(err) != codes.InvalidArgument {
		t.Errorf("bad mute token code = %v, want InvalidArgument", grpcstatus.Code(err))
	}

	h.gw.Fail("PinChat", remotetest.Down())
	if err := h.client.ChatAction(ctx, "Pin", 10); grpcstatus.Code(err) != codes.Unavailable {
		t.Errorf("unreachable pin code = %v, want Unavailable", grpcstatus.Code(err))
	}
	info, err := h.client.ChatInfo(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if info.IsPinned {
		t.Error("failed pin was not rolled back")
	}

	h.gw.Fail("*", remotetest.Down())
	if err := h.client.RefreshChats(ctx); grpcstatus.Code(err) != codes.Unavailable {
		t.Errorf("refresh while down code = %v, want Unavailable", grpcstatus.Code(err))
	}
	chats, err := h.client.ListChats(ctx, api.ListChatsRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 2 {
		t.Errorf("cache lost chats while offline: got %d", len(chats))
	}
}

func TestMarkReadSendsReceipt(t *testing.T) {
	h := startDaemon(t)
	ctx := context.Background()
	h.seed()
	h.gw.Messages[10] = []remote.Message{
		{ID: 500, MessageID: "m-500", ChatID: 10, SenderID: 2, MessageType: "text", Content: "hi", CreatedAt: time.UnixMilli(1000)},
	}

	if _, err := h.client.SyncMessages(ctx, api.MessagesRequest{ChatID: 10}); err != nil {
		t.Fatalf("SyncMessages error = %v", err)
	}
	sent, err := h.client.MarkRead(ctx, 10)
	if err != nil {
		t.Fatalf("MarkRead error = %v", err)
	}
	if !sent {
		t.Fatal("expected a read receipt to be sent")
	}
	if sent, _ := h.client.MarkRead(ctx, 10); sent {
		t.Error("second MarkRead sent a duplicate receipt")
	}
	if n := len(h.pusher.Sent()); n != 1 {
		t.Errorf("pushed %d frames, want 1", n)
	}
}

func TestWatchChats(t *testing.T) {
	h := startDaemon(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lists := make(chan []api.Chat, 16)
	go func() {
		_ = h.client.WatchChats(ctx, api.ListChatsRequest{}, func(chats []api.Chat) error {
			lists <- chats
			return nil
		})
	}()

	select {
	case got := <-lists:
		if len(got) != 0 {
			t.Fatalf("initial list has %d chats, want 0", len(got))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no initial chat list")
	}

	h.seed()
	if err := h.client.RefreshChats(context.Background()); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-lists:
			if len(got) == 2 {
				return
			}
		case <-deadline:
			t.Fatal("watch never delivered the refreshed chats")
		}
	}
}

// TestFxModuleWiring verifies the fx dependency graph resolves without
// constructing anything.
func TestFxModuleWiring(t *testing.T) {
	cfg := config.Default()
	cfg.Account.Token = "token"
	p := Params{SessionName: "fxtest", SocketPath: "/tmp/unused.sock", Config: cfg, SelfID: selfID}
	if err := fx.ValidateApp(Module(p)); err != nil {
		t.Fatalf("fx graph invalid: %v", err)
	}
}

func TestNewServerUsesSocketOverride(t *testing.T) {
	tmpDir, err := os.MkdirTemp("/tmp", "chatsync-fx-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	socketPath := filepath.Join(tmpDir, "d.sock")
	srv, err := NewServer(Params{SessionName: "fxtest", SocketPath: socketPath}, zap.NewNop(), api.NewService(api.Deps{}))
	if err != nil {
		t.Fatalf("NewServer() failed: %v", err)
	}

	if _, statErr := os.Stat(socketPath); statErr != nil {
		t.Fatalf("socket not created at %s: %v", socketPath, statErr)
	}
	info, _ := os.Stat(socketPath)
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("socket permission = %o, want 0600", perm)
	}

	srv.Stop(context.Background())
	if _, statErr := os.Stat(socketPath); !os.IsNotExist(statErr) {
		t.Error("socket not removed on stop")
	}
}
