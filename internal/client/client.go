// Package client talks to a running chatsync daemon over its Unix socket.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/chatsync/internal/api"
)

// Client wraps the gRPC connection to the daemon.
type Client struct {
	conn *grpc.ClientConn
}

// New dials the daemon's Unix domain socket.
func New(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// NewFromConn wraps an existing connection.
func NewFromConn(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func call[Resp any](ctx context.Context, c *Client, method string, req any) (Resp, error) {
	var resp Resp
	in, err := api.Encode(req)
	if err != nil {
		return resp, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, api.Method(method), in, out); err != nil {
		return resp, err
	}
	return resp, api.Decode(out, &resp)
}

func (c *Client) Status(ctx context.Context) (api.Status, error) {
	return call[api.Status](ctx, c, "GetStatus", api.Empty{})
}

func (c *Client) RefreshChats(ctx context.Context) error {
	_, err := call[api.Empty](ctx, c, "RefreshChats", api.Empty{})
	return err
}

func (c *Client) ChatInfo(ctx context.Context, chatID int64) (api.Chat, error) {
	return call[api.Chat](ctx, c, "GetChatInfo", api.ChatRef{ChatID: chatID})
}

func (c *Client) ListChats(ctx context.Context, req api.ListChatsRequest) ([]api.Chat, error) {
	resp, err := call[api.ChatList](ctx, c, "ListChats", req)
	return resp.Chats, err
}

func (c *Client) ListMessages(ctx context.Context, req api.MessagesRequest) ([]api.Message, error) {
	resp, err := call[api.MessageList](ctx, c, "ListMessages", req)
	return resp.Messages, err
}

func (c *Client) SyncMessages(ctx context.Context, req api.MessagesRequest) ([]api.Message, error) {
	resp, err := call[api.MessageList](ctx, c, "SyncMessages", req)
	return resp.Messages, err
}

func (c *Client) Search(ctx context.Context, req api.SearchRequest) ([]api.SearchHit, error) {
	resp, err := call[api.SearchResults](ctx, c, "SearchMessages", req)
	return resp.Results, err
}

func (c *Client) MarkRead(ctx context.Context, chatID int64) (bool, error) {
	resp, err := call[api.MarkReadResponse](ctx, c, "MarkChatAsRead", api.ChatRef{ChatID: chatID})
	return resp.Sent, err
}

// ChatAction runs one of the chat-scoped mutations that take only a chat
// id: Unmute, Pin, Unpin, Hide, Unhide, DeleteChat, ClearChatMessages,
// LeaveGroup.
func (c *Client) ChatAction(ctx context.Context, method string, chatID int64) error {
	_, err := call[api.Empty](ctx, c, method, api.ChatRef{ChatID: chatID})
	return err
}

func (c *Client) Mute(ctx context.Context, chatID int64, duration string) error {
	_, err := call[api.Empty](ctx, c, "Mute", api.MuteRequest{ChatID: chatID, Duration: duration})
	return err
}

func (c *Client) MoveToFolder(ctx context.Context, chatID, folderID int64) error {
	_, err := call[api.Empty](ctx, c, "MoveToFolder", api.MoveRequest{ChatID: chatID, FolderID: folderID})
	return err
}

func (c *Client) DeleteMessage(ctx context.Context, key string) error {
	_, err := call[api.Empty](ctx, c, "DeleteMessage", api.MessageRef{Key: key})
	return err
}

func (c *Client) JoinByInviteCode(ctx context.Context, code string) (api.Chat, error) {
	return call[api.Chat](ctx, c, "JoinByInviteCode", api.JoinRequest{Code: code})
}

func (c *Client) CreateInviteLink(ctx context.Context, chatID int64, usageLimit int, expiresIn time.Duration) (api.Invite, error) {
	return call[api.Invite](ctx, c, "CreateInviteLink", api.InviteRequest{
		ChatID: chatID, UsageLimit: usageLimit, ExpiresInSeconds: int64(expiresIn / time.Second),
	})
}

// Folders returns the cached folders, or reloads them from the server first
// when reload is set.
func (c *Client) Folders(ctx context.Context, reload bool) ([]api.Folder, error) {
	method := "ListFolders"
	if reload {
		method = "LoadFolders"
	}
	resp, err := call[api.FolderList](ctx, c, method, api.Empty{})
	return resp.Folders, err
}

func (c *Client) CreateFolder(ctx context.Context, f api.Folder) (api.Folder, error) {
	return call[api.Folder](ctx, c, "CreateFolder", f)
}

func (c *Client) UpdateFolder(ctx context.Context, f api.Folder) (api.Folder, error) {
	return call[api.Folder](ctx, c, "UpdateFolder", f)
}

func (c *Client) DeleteFolder(ctx context.Context, folderID int64) error {
	_, err := call[api.Empty](ctx, c, "DeleteFolder", api.FolderRef{FolderID: folderID})
	return err
}

func (c *Client) ReorderFolders(ctx context.Context, positions map[int64]int) error {
	_, err := call[api.Empty](ctx, c, "ReorderFolders", api.ReorderRequest{Positions: positions})
	return err
}

func (c *Client) AddChatsToFolder(ctx context.Context, folderID int64, chatIDs []int64) error {
	_, err := call[api.Empty](ctx, c, "AddChatsToFolder", api.FolderChatsRequest{FolderID: folderID, ChatIDs: chatIDs})
	return err
}

func (c *Client) RemoveChatFromFolder(ctx context.Context, folderID, chatID int64) error {
	_, err := call[api.Empty](ctx, c, "RemoveChatFromFolder", api.FolderChatRequest{FolderID: folderID, ChatID: chatID})
	return err
}

func (c *Client) SendText(ctx context.Context, chatID int64, content, replyTo string) (string, error) {
	resp, err := call[api.SendResponse](ctx, c, "SendText", api.SendRequest{ChatID: chatID, Content: content, ReplyTo: replyTo})
	return resp.Key, err
}

func watch[Resp any](ctx context.Context, c *Client, method string, req any, fn func(Resp) error) error {
	in, err := api.Encode(req)
	if err != nil {
		return err
	}
	stream, err := c.conn.NewStream(ctx, &grpc.StreamDesc{StreamName: method, ServerStreams: true}, api.Method(method))
	if err != nil {
		return err
	}
	if err := stream.SendMsg(in); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		out := new(structpb.Struct)
		if err := stream.RecvMsg(out); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		var resp Resp
		if err := api.Decode(out, &resp); err != nil {
			return err
		}
		if err := fn(resp); err != nil {
			return err
		}
	}
}

// WatchChats calls fn with the chat list every time it changes, until ctx
// is done or fn fails.
func (c *Client) WatchChats(ctx context.Context, req api.ListChatsRequest, fn func([]api.Chat) error) error {
	return watch(ctx, c, "WatchChats", req, func(l api.ChatList) error { return fn(l.Chats) })
}

// WatchMessages calls fn with a chat's latest messages every time they
// change. The chat counts as open while watched.
func (c *Client) WatchMessages(ctx context.Context, chatID int64, limit int, fn func([]api.Message) error) error {
	return watch(ctx, c, "WatchMessages", api.MessagesRequest{ChatID: chatID, Limit: limit}, func(l api.MessageList) error { return fn(l.Messages) })
}
