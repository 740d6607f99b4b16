package remote

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/errors"
	"github.com/matheus3301/chatsync/internal/status"
)

// ErrNotConnected is returned by sends while the push channel is down.
var ErrNotConnected = stderrors.New("push channel not connected")

// PushConfig configures a PushChannel.
type PushConfig struct {
	URL               string
	Token             string
	HeartbeatInterval time.Duration
	// MaxReconnectElapsed bounds how long Run keeps redialling after a
	// disconnect before giving up. Zero redials forever.
	MaxReconnectElapsed time.Duration
}

// PushChannel is the WebSocket push connection. Inbound frames are decoded
// and published on the bus under the push. namespace; connection changes
// drive the status machine. Publishing waits on lossless subscribers, so a
// slow consumer holds back reads instead of losing frames.
type PushChannel struct {
	cfg     PushConfig
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewPushChannel creates an unconnected push channel.
func NewPushChannel(cfg PushConfig, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *PushChannel {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	return &PushChannel{cfg: cfg, bus: b, machine: machine, logger: logger}
}

// Run dials, reads until the connection drops, and redials with exponential
// backoff until ctx is done. A rejected token stops the loop.
func (p *PushChannel) Run(ctx context.Context) error {
	_ = p.machine.Transition(status.Connecting)
	opts := []backoff.RetryOption{
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithNotify(func(err error, next time.Duration) {
			p.logger.Warn("push dial failed", zap.Error(err), zap.Duration("retry_in", next))
		}),
	}
	if p.cfg.MaxReconnectElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(p.cfg.MaxReconnectElapsed))
	}
	for {
		conn, err := backoff.Retry(ctx, func() (*websocket.Conn, error) {
			return p.dial(ctx)
		}, opts...)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return nil
			case errors.IsRejected(err):
				_ = p.machine.Transition(status.AuthRequired)
				return fmt.Errorf("push channel: %w", err)
			case p.cfg.MaxReconnectElapsed > 0:
				return fmt.Errorf("push channel: %w", err)
			}
			// Retry's own elapsed cap ran out; start a fresh cycle.
			continue
		}

		p.setConn(conn)
		_ = p.machine.Transition(status.Syncing)
		p.bus.Emit(bus.KindPushConnected, nil)
		p.logger.Info("push channel connected")

		err = p.serve(ctx, conn)

		p.setConn(nil)
		_ = conn.CloseNow()
		if ctx.Err() != nil {
			return nil
		}
		p.logger.Warn("push channel disconnected", zap.Error(err))
		p.bus.Emit(bus.KindPushDisconnected, nil)
		_ = p.machine.Path(status.Reconnecting, status.Connecting)
	}
}

// Connected reports whether a connection is currently up.
func (p *PushChannel) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil
}

// SendTextMessage emits a chat_message frame whose message id is the
// client id, so the server's ack and echo can be matched to the pending
// local message.
func (p *PushChannel) SendTextMessage(ctx context.Context, chatID, senderID int64, content, clientMessageID string, replyToID int64) error {
	body := chatMessageBody{Content: content, MessageType: "text"}
	if replyToID != 0 {
		body.ReplyToID = &replyToID
	}
	frame, err := newEnvelope(frameChatMessage, clientMessageID, senderID, &chatID, body)
	if err != nil {
		return err
	}
	return p.write(ctx, frame)
}

// SendReadReceipt emits a read frame for messageID on behalf of userID.
func (p *PushChannel) SendReadReceipt(ctx context.Context, messageID string, chatID, userID int64) error {
	frame, err := newEnvelope(frameRead, "", userID, &chatID, messageRefBody{MessageID: messageID})
	if err != nil {
		return err
	}
	return p.write(ctx, frame)
}

func (p *PushChannel) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(p.cfg.URL)
	if err != nil {
		return nil, backoff.Permanent(errors.Wrap(err, errors.CodeInvalidInput, "push url"))
	}
	if p.cfg.Token != "" {
		q := u.Query()
		q.Set("token", p.cfg.Token)
		u.RawQuery = q.Encode()
	}

	hdr := http.Header{}
	if p.cfg.Token != "" {
		hdr.Set("Authorization", "Bearer "+p.cfg.Token)
	}
	conn, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, backoff.Permanent(errors.Rejected(resp.StatusCode, "push token rejected"))
		}
		return nil, errors.Transport(err, "dial push channel")
	}
	conn.SetReadLimit(1 << 20)
	return conn, nil
}

// serve reads frames until the connection fails, sending heartbeats in the
// background.
func (p *PushChannel) serve(ctx context.Context, conn *websocket.Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go p.heartbeat(ctx, conn)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		p.handleFrame(data)
	}
}

func (p *PushChannel) handleFrame(data []byte) {
	kind, evt, err := decodeEvent(data)
	if err != nil {
		p.logger.Warn("dropping malformed push frame", zap.Error(err))
		return
	}
	if evt == nil {
		return
	}
	p.bus.Emit(kind, evt)
}

func (p *PushChannel) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame, err := newEnvelope(frameHeartbeat, "", 0, nil, struct{}{})
			if err != nil {
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
				p.logger.Debug("heartbeat failed", zap.Error(err))
				_ = conn.Close(websocket.StatusGoingAway, "heartbeat failed")
				return
			}
		}
	}
}

func (p *PushChannel) write(ctx context.Context, frame []byte) error {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return errors.Transport(ErrNotConnected, "push send")
	}
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		return errors.Transport(err, "push send")
	}
	return nil
}

func (p *PushChannel) setConn(conn *websocket.Conn) {
	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()
}

// PushURL derives the push endpoint from the REST base URL when none is
// configured: http(s)://host -> ws(s)://host/ws.
func PushURL(baseURL string) string {
	u := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}

var _ Pusher = (*PushChannel)(nil)
