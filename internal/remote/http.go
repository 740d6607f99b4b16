package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/errors"
)

const tracerName = "github.com/matheus3301/chatsync/internal/remote"

// maxErrorBody caps how much of a rejection body ends up in error messages.
const maxErrorBody = 512

// HTTPConfig configures an HTTPClient.
type HTTPConfig struct {
	BaseURL             string
	Token               string
	Timeout             time.Duration
	UnreachableCooldown time.Duration
}

// HTTPClient implements Gateway over the chat service's REST API.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
	gate    *availabilityGate
	tracer  trace.Tracer
	logger  *zap.Logger
}

// NewHTTPClient creates a REST gateway rooted at cfg.BaseURL.
func NewHTTPClient(cfg HTTPConfig, logger *zap.Logger) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/") + "/api",
		token:   cfg.Token,
		client:  &http.Client{Timeout: timeout},
		gate:    newAvailabilityGate(cfg.UnreachableCooldown),
		tracer:  otel.Tracer(tracerName),
		logger:  logger,
	}
}

// Reachable reports whether the last round trip reached the server, or
// the unreachable cooldown has elapsed since.
func (c *HTTPClient) Reachable() bool {
	return c.gate.Allow()
}

func (c *HTTPClient) ListChats(ctx context.Context) ([]Chat, error) {
	var chats []Chat
	if err := c.do(ctx, http.MethodGet, "/chats", nil, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

func (c *HTTPClient) GetChat(ctx context.Context, chatID int64) (*Chat, error) {
	var chat Chat
	if err := c.do(ctx, http.MethodGet, "/chats/"+id(chatID), nil, &chat); err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.NotFound("chat", chatID)
		}
		return nil, err
	}
	return &chat, nil
}

func (c *HTTPClient) ListMessages(ctx context.Context, chatID int64, limit, offset int) ([]Message, error) {
	q := url.Values{}
	q.Set("chat_id", id(chatID))
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	var msgs []Message
	if err := c.do(ctx, http.MethodGet, "/messages/history?"+q.Encode(), nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (c *HTTPClient) MuteChat(ctx context.Context, chatID int64, req MuteRequest) error {
	return c.do(ctx, http.MethodPost, "/chats/"+id(chatID)+"/mute", req, nil)
}

func (c *HTTPClient) UnmuteChat(ctx context.Context, chatID int64) error {
	return c.do(ctx, http.MethodPost, "/chats/"+id(chatID)+"/unmute", nil, nil)
}

func (c *HTTPClient) PinChat(ctx context.Context, chatID int64) error {
	return c.do(ctx, http.MethodPost, "/chats/"+id(chatID)+"/pin", nil, nil)
}

func (c *HTTPClient) UnpinChat(ctx context.Context, chatID int64) error {
	return c.do(ctx, http.MethodPost, "/chats/"+id(chatID)+"/unpin", nil, nil)
}

func (c *HTTPClient) DeleteChat(ctx context.Context, chatID int64) error {
	return c.do(ctx, http.MethodDelete, "/chats/"+id(chatID), nil, nil)
}

func (c *HTTPClient) ClearChatMessages(ctx context.Context, chatID int64) error {
	return c.do(ctx, http.MethodDelete, "/chats/"+id(chatID)+"/messages", nil, nil)
}

func (c *HTTPClient) DeleteMessage(ctx context.Context, messageID string) error {
	body := map[string]string{"message_id": messageID}
	return c.do(ctx, http.MethodPost, "/messages/delete", body, nil)
}

func (c *HTTPClient) CreateInviteLink(ctx context.Context, chatID int64, usageLimit int, expiresIn time.Duration) (*InviteLink, error) {
	body := struct {
		UsageLimit *int `json:"usage_limit,omitempty"`
		ExpiresIn  *int `json:"expires_in,omitempty"`
	}{}
	if usageLimit > 0 {
		body.UsageLimit = &usageLimit
	}
	if expiresIn > 0 {
		secs := int(expiresIn / time.Second)
		body.ExpiresIn = &secs
	}
	var link InviteLink
	if err := c.do(ctx, http.MethodPost, "/chats/groups/"+id(chatID)+"/invites", body, &link); err != nil {
		return nil, err
	}
	return &link, nil
}

func (c *HTTPClient) JoinByInviteCode(ctx context.Context, code string) (*Chat, error) {
	var chat Chat
	body := map[string]string{"invite_code": code}
	if err := c.do(ctx, http.MethodPost, "/chats/groups/join", body, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

func (c *HTTPClient) LeaveGroup(ctx context.Context, chatID, selfID int64) error {
	return c.do(ctx, http.MethodDelete, "/chats/groups/"+id(chatID)+"/members/"+id(selfID), nil, nil)
}

func (c *HTTPClient) GetUser(ctx context.Context, userID int64) (*User, error) {
	var u User
	if err := c.do(ctx, http.MethodGet, "/users/"+id(userID), nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *HTTPClient) ListFolders(ctx context.Context) ([]Folder, error) {
	var folders []Folder
	if err := c.do(ctx, http.MethodGet, "/folders", nil, &folders); err != nil {
		return nil, err
	}
	return folders, nil
}

func (c *HTTPClient) CreateFolder(ctx context.Context, f Folder) (*Folder, error) {
	var created Folder
	if err := c.do(ctx, http.MethodPost, "/folders", f, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *HTTPClient) UpdateFolder(ctx context.Context, f Folder) (*Folder, error) {
	var updated Folder
	if err := c.do(ctx, http.MethodPut, "/folders/"+id(f.ID), f, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (c *HTTPClient) DeleteFolder(ctx context.Context, folderID int64) error {
	return c.do(ctx, http.MethodDelete, "/folders/"+id(folderID), nil, nil)
}

func (c *HTTPClient) ReorderFolders(ctx context.Context, positions map[int64]int) error {
	wire := make(map[string]int, len(positions))
	for fid, pos := range positions {
		wire[id(fid)] = pos
	}
	body := map[string]any{"positions": wire}
	return c.do(ctx, http.MethodPut, "/folders/reorder", body, nil)
}

func (c *HTTPClient) AddChatsToFolder(ctx context.Context, folderID int64, chatIDs []int64) error {
	body := map[string][]int64{"chat_ids": chatIDs}
	return c.do(ctx, http.MethodPost, "/folders/"+id(folderID)+"/chats", body, nil)
}

func (c *HTTPClient) RemoveChatFromFolder(ctx context.Context, folderID, chatID int64) error {
	return c.do(ctx, http.MethodDelete, "/folders/"+id(folderID)+"/chats/"+id(chatID), nil, nil)
}

// do performs one JSON round trip and classifies the outcome into the
// error taxonomy. out may be nil when the response body is ignored.
func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) (err error) {
	ctx, span := c.tracer.Start(ctx, "remote "+method+" "+routeName(path),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.method", method)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if !c.gate.Allow() {
		return errors.Transport(nil, "server unreachable, retrying after "+c.gate.RetryAt().Format(time.TimeOnly)).
			WithContext("path", path)
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, errors.CodeInternal, "encode request")
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "build request")
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// A cancelled caller says nothing about the server.
		if ctx.Err() == nil {
			c.gate.MarkDown()
			c.logger.Warn("server unreachable", zap.String("path", path), zap.Error(err))
		}
		return errors.Transport(err, method+" "+path).WithContext("path", path)
	}
	defer func() { _ = resp.Body.Close() }()
	c.gate.MarkUp()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := strings.TrimSpace(string(raw))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		if resp.StatusCode == http.StatusNotFound {
			return errors.New(errors.CodeNotFound, msg).WithContext("path", path)
		}
		return errors.Rejected(resp.StatusCode, msg).WithContext("path", path)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		// The server answered; a body we cannot read is its fault.
		return errors.Wrap(err, errors.CodeRejected, fmt.Sprintf("decode %s response", path))
	}
	return nil
}

func id(v int64) string {
	return strconv.FormatInt(v, 10)
}

// routeName turns "/chats/5/mute?x=1" into "/chats/{id}/mute" for span names.
func routeName(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if _, err := strconv.ParseInt(p, 10, 64); err == nil {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

var _ Gateway = (*HTTPClient)(nil)
