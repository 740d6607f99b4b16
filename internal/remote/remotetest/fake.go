// Package remotetest provides an in-memory chat service for tests.
package remotetest

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/errors"
	"github.com/matheus3301/chatsync/internal/remote"
)

// Gateway is a scripted remote.Gateway. Chats, users and folders are served
// from its maps; Errs injects a failure per method name.
type Gateway struct {
	mu       sync.Mutex
	Chats    map[int64]remote.Chat
	Messages map[int64][]remote.Message
	Users    map[int64]remote.User
	Folders  map[int64]remote.Folder
	Errs     map[string]error
	Calls    []string
	Mutes    map[int64]remote.MuteRequest
	nextID   int64
	holds    map[string]*hold
}

type hold struct {
	entered chan struct{}
	release chan struct{}
}

// NewGateway returns an empty fake.
func NewGateway() *Gateway {
	return &Gateway{
		Chats:    map[int64]remote.Chat{},
		Messages: map[int64][]remote.Message{},
		Users:    map[int64]remote.User{},
		Folders:  map[int64]remote.Folder{},
		Errs:     map[string]error{},
		Mutes:    map[int64]remote.MuteRequest{},
		nextID:   1000,
	}
}

// Down makes every method fail with a transport error.
func Down() error {
	return errors.Transport(context.DeadlineExceeded, "chat service unreachable")
}

// Fail injects err for the named method. A nil err clears it.
func (g *Gateway) Fail(method string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.Errs, method)
		return
	}
	g.Errs[method] = err
}

// PutChat adds or replaces a chat.
func (g *Gateway) PutChat(c remote.Chat) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Chats[c.ID] = c
}

// RemoveChat removes a chat.
func (g *Gateway) RemoveChat(id int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.Chats, id)
}

// Hold pauses the next call of method after it has read its result, until
// release is called. entered is closed once the call is paused. Only
// ListChats honours holds.
func (g *Gateway) Hold(method string) (entered <-chan struct{}, release func()) {
	h := &hold{entered: make(chan struct{}), release: make(chan struct{})}
	g.mu.Lock()
	if g.holds == nil {
		g.holds = map[string]*hold{}
	}
	g.holds[method] = h
	g.mu.Unlock()
	var once sync.Once
	return h.entered, func() { once.Do(func() { close(h.release) }) }
}

func (g *Gateway) pause(method string) {
	g.mu.Lock()
	h := g.holds[method]
	delete(g.holds, method)
	g.mu.Unlock()
	if h == nil {
		return
	}
	close(h.entered)
	<-h.release
}

// Called returns how many times method was invoked.
func (g *Gateway) Called(method string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.Calls {
		if c == method {
			n++
		}
	}
	return n
}

func (g *Gateway) enter(method string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Calls = append(g.Calls, method)
	if err, ok := g.Errs[method]; ok {
		return err
	}
	return g.Errs["*"]
}

func (g *Gateway) ListChats(ctx context.Context) ([]remote.Chat, error) {
	if err := g.enter("ListChats"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	out := make([]remote.Chat, 0, len(g.Chats))
	for _, c := range g.Chats {
		out = append(out, c)
	}
	g.mu.Unlock()
	slices.SortFunc(out, func(a, b remote.Chat) int { return int(a.ID - b.ID) })
	g.pause("ListChats")
	return out, nil
}

func (g *Gateway) GetChat(ctx context.Context, chatID int64) (*remote.Chat, error) {
	if err := g.enter("GetChat"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.Chats[chatID]
	if !ok {
		return nil, errors.NotFound("chat", chatID)
	}
	return &c, nil
}

func (g *Gateway) ListMessages(ctx context.Context, chatID int64, limit, offset int) ([]remote.Message, error) {
	if err := g.enter("ListMessages"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	msgs := g.Messages[chatID]
	if offset >= len(msgs) {
		return nil, nil
	}
	end := min(offset+limit, len(msgs))
	return slices.Clone(msgs[offset:end]), nil
}

func (g *Gateway) MuteChat(ctx context.Context, chatID int64, req remote.MuteRequest) error {
	if err := g.enter("MuteChat"); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Mutes[chatID] = req
	return nil
}

func (g *Gateway) UnmuteChat(ctx context.Context, chatID int64) error {
	if err := g.enter("UnmuteChat"); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.Mutes, chatID)
	return nil
}

func (g *Gateway) PinChat(ctx context.Context, chatID int64) error {
	return g.enter("PinChat")
}

func (g *Gateway) UnpinChat(ctx context.Context, chatID int64) error {
	return g.enter("UnpinChat")
}

func (g *Gateway) DeleteChat(ctx context.Context, chatID int64) error {
	if err := g.enter("DeleteChat"); err != nil {
		return err
	}
	g.RemoveChat(chatID)
	return nil
}

func (g *Gateway) ClearChatMessages(ctx context.Context, chatID int64) error {
	if err := g.enter("ClearChatMessages"); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.Messages, chatID)
	return nil
}

func (g *Gateway) DeleteMessage(ctx context.Context, messageID string) error {
	return g.enter("DeleteMessage")
}

func (g *Gateway) CreateInviteLink(ctx context.Context, chatID int64, usageLimit int, expiresIn time.Duration) (*remote.InviteLink, error) {
	if err := g.enter("CreateInviteLink"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	link := &remote.InviteLink{ID: g.nextID, Code: "invite-code", MaxUses: usageLimit, CreatedAt: time.Now()}
	if expiresIn > 0 {
		at := time.Now().Add(expiresIn)
		link.ExpiresAt = &at
	}
	return link, nil
}

func (g *Gateway) JoinByInviteCode(ctx context.Context, code string) (*remote.Chat, error) {
	if err := g.enter("JoinByInviteCode"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range g.Chats {
		if c.Username == code {
			return &c, nil
		}
	}
	return nil, errors.NotFound("invite", code)
}

func (g *Gateway) LeaveGroup(ctx context.Context, chatID, selfID int64) error {
	if err := g.enter("LeaveGroup"); err != nil {
		return err
	}
	g.RemoveChat(chatID)
	return nil
}

func (g *Gateway) GetUser(ctx context.Context, userID int64) (*remote.User, error) {
	if err := g.enter("GetUser"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	u, ok := g.Users[userID]
	if !ok {
		return nil, errors.NotFound("user", userID)
	}
	return &u, nil
}

func (g *Gateway) ListFolders(ctx context.Context) ([]remote.Folder, error) {
	if err := g.enter("ListFolders"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]remote.Folder, 0, len(g.Folders))
	for _, f := range g.Folders {
		out = append(out, f)
	}
	slices.SortFunc(out, func(a, b remote.Folder) int { return a.Position - b.Position })
	return out, nil
}

func (g *Gateway) CreateFolder(ctx context.Context, f remote.Folder) (*remote.Folder, error) {
	if err := g.enter("CreateFolder"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	f.ID = g.nextID
	g.Folders[f.ID] = f
	return &f, nil
}

func (g *Gateway) UpdateFolder(ctx context.Context, f remote.Folder) (*remote.Folder, error) {
	if err := g.enter("UpdateFolder"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.Folders[f.ID]; !ok {
		return nil, errors.NotFound("folder", f.ID)
	}
	g.Folders[f.ID] = f
	return &f, nil
}

func (g *Gateway) DeleteFolder(ctx context.Context, folderID int64) error {
	if err := g.enter("DeleteFolder"); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.Folders, folderID)
	return nil
}

func (g *Gateway) ReorderFolders(ctx context.Context, positions map[int64]int) error {
	if err := g.enter("ReorderFolders"); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, pos := range positions {
		if f, ok := g.Folders[id]; ok {
			f.Position = pos
			g.Folders[id] = f
		}
	}
	return nil
}

func (g *Gateway) AddChatsToFolder(ctx context.Context, folderID int64, chatIDs []int64) error {
	if err := g.enter("AddChatsToFolder"); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	f, ok := g.Folders[folderID]
	if !ok {
		return errors.NotFound("folder", folderID)
	}
	for _, id := range chatIDs {
		if !slices.Contains(f.IncludedChats, id) {
			f.IncludedChats = append(f.IncludedChats, id)
		}
	}
	g.Folders[folderID] = f
	return nil
}

func (g *Gateway) RemoveChatFromFolder(ctx context.Context, folderID, chatID int64) error {
	if err := g.enter("RemoveChatFromFolder"); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	f, ok := g.Folders[folderID]
	if !ok {
		return errors.NotFound("folder", folderID)
	}
	f.IncludedChats = slices.DeleteFunc(slices.Clone(f.IncludedChats), func(id int64) bool { return id == chatID })
	g.Folders[folderID] = f
	return nil
}

// Sent is one outbound push recorded by Pusher.
type Sent struct {
	Kind            string
	ChatID          int64
	Content         string
	ClientMessageID string
	MessageID       string
	ReplyToID       int64
}

// Pusher is a recording remote.Pusher. Err fails every send while set.
type Pusher struct {
	mu   sync.Mutex
	Err  error
	sent []Sent
}

// SetErr sets the error returned by subsequent sends.
func (p *Pusher) SetErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Err = err
}

// Sent returns a copy of everything sent so far.
func (p *Pusher) Sent() []Sent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.sent)
}

func (p *Pusher) SendTextMessage(ctx context.Context, chatID, senderID int64, content, clientMessageID string, replyToID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.sent = append(p.sent, Sent{Kind: "chat_message", ChatID: chatID, Content: content, ClientMessageID: clientMessageID, ReplyToID: replyToID})
	return nil
}

func (p *Pusher) SendReadReceipt(ctx context.Context, messageID string, chatID, userID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.sent = append(p.sent, Sent{Kind: "read", ChatID: chatID, MessageID: messageID})
	return nil
}

var (
	_ remote.Gateway = (*Gateway)(nil)
	_ remote.Pusher  = (*Pusher)(nil)
)
