package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const dialTimeout = 10 * time.Second

var errGatewayClosed = errors.New("gateway connection closed")

// GatewayDialer dials the WhatsApp gateway sidecar.
type GatewayDialer struct {
	url   string
	creds *CredStore
}

// NewGatewayDialer returns a Dialer for the gateway at url, authenticating
// with credentials from creds.
func NewGatewayDialer(url string, creds *CredStore) *GatewayDialer {
	return &GatewayDialer{url: url, creds: creds}
}

// Dial connects to the gateway, sends the stored credentials, and returns a
// live Socket. The gateway answers with qr/open/close events on its own.
func (d *GatewayDialer) Dial(ctx context.Context) (Socket, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, d.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial gateway %s: %w", d.url, err)
	}

	creds, err := d.creds.Load()
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "credential load failed")
		return nil, err
	}

	g := &Gateway{
		conn:     conn,
		creds:    d.creds,
		events:   make(chan Event, 32),
		detached: make(chan struct{}),
		pending:  make(map[uint64]chan *frame),
	}

	if err := g.writeFrame(ctx, &frame{Type: "connect", Creds: creds}); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "connect frame failed")
		return nil, fmt.Errorf("send connect frame: %w", err)
	}

	go g.readLoop()
	return g, nil
}

// frame is the JSON envelope exchanged with the gateway.
type frame struct {
	Type string `json:"type"`
	ID   uint64 `json:"id,omitempty"`

	// Outbound fields.
	Creds     json.RawMessage `json:"creds,omitempty"`
	To        string          `json:"to,omitempty"`
	Text      string          `json:"text,omitempty"`
	ImagePath string          `json:"image_path,omitempty"`
	Presence  string          `json:"presence,omitempty"`
	Phone     string          `json:"phone,omitempty"`

	// Inbound fields.
	Code      string           `json:"code,omitempty"`
	SelfJID   string           `json:"self_jid,omitempty"`
	Status    int              `json:"status,omitempty"`
	Message   *IncomingMessage `json:"message,omitempty"`
	Exists    bool             `json:"exists,omitempty"`
	JID       string           `json:"jid,omitempty"`
	MessageID string           `json:"message_id,omitempty"`
	RemoteJID string           `json:"remote_jid,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// Gateway is a Socket backed by one websocket connection to the gateway.
// The read loop is the sole owner of the event channel and of the pending
// result channels: it alone sends on them and it alone closes them, so a
// concurrent Close never races a delivery.
type Gateway struct {
	conn  *websocket.Conn
	creds *CredStore

	events chan Event

	// detached closes when the consumer calls Close; event delivery stops
	// without blocking on a reader that is gone.
	detached   chan struct{}
	detachOnce sync.Once

	writeMu sync.Mutex

	mu      sync.Mutex
	selfJID string
	nextID  uint64
	pending map[uint64]chan *frame
	stopped bool
}

// Events returns the socket's event stream.
func (g *Gateway) Events() <-chan Event { return g.events }

// SelfJID returns the bot's own address, empty until the session opens.
func (g *Gateway) SelfJID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.selfJID
}

// Send delivers a message through the gateway.
func (g *Gateway) Send(ctx context.Context, to string, msg OutgoingMessage) (*SendReceipt, error) {
	resp, err := g.request(ctx, &frame{
		Type:      "send",
		To:        to,
		Text:      msg.Text,
		ImagePath: msg.ImagePath,
	})
	if err != nil {
		return nil, fmt.Errorf("send to %s: %w", to, err)
	}
	return &SendReceipt{MessageID: resp.MessageID, RemoteJID: resp.RemoteJID}, nil
}

// SendPresence updates the bot's presence indicator in a chat.
// Fire-and-forget: the gateway does not acknowledge presence frames.
func (g *Gateway) SendPresence(ctx context.Context, to string, presence Presence) error {
	return g.writeFrame(ctx, &frame{Type: "presence", To: to, Presence: string(presence)})
}

// ProbeReachable checks whether a phone number is on the platform.
func (g *Gateway) ProbeReachable(ctx context.Context, phone string) (*ProbeResult, error) {
	resp, err := g.request(ctx, &frame{Type: "probe", Phone: phone})
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", phone, err)
	}
	return &ProbeResult{Exists: resp.Exists, JID: resp.JID}, nil
}

// Close tears down the connection. Safe to call more than once. Teardown of
// the event stream happens on the read loop once its read fails; Close only
// detaches the consumer and drops the websocket.
func (g *Gateway) Close() error {
	g.detachOnce.Do(func() { close(g.detached) })
	// Close errors after the peer already dropped are expected noise.
	if err := g.conn.Close(websocket.StatusNormalClosure, "session ended"); err != nil {
		slog.Debug("Failed to close gateway websocket", "error", err)
	}
	return nil
}

// request sends a correlated frame and waits for the gateway's reply.
func (g *Gateway) request(ctx context.Context, f *frame) (*frame, error) {
	ch := make(chan *frame, 1)

	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return nil, errGatewayClosed
	}
	g.nextID++
	f.ID = g.nextID
	g.pending[f.ID] = ch
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.pending, f.ID)
		g.mu.Unlock()
	}()

	if err := g.writeFrame(ctx, f); err != nil {
		return nil, err
	}

	select {
	case resp, ok := <-ch:
		if !ok || resp == nil {
			return nil, errGatewayClosed
		}
		if resp.Error != "" {
			return nil, errors.New(resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *Gateway) writeFrame(ctx context.Context, f *frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	return g.conn.Write(ctx, websocket.MessageText, data)
}

func (g *Gateway) readLoop() {
	closeStatus := 0
	for {
		_, data, err := g.conn.Read(context.Background())
		if err != nil {
			if status := int(websocket.CloseStatus(err)); status > 0 {
				closeStatus = status
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				slog.Debug("Gateway connection closed by peer")
			} else {
				slog.Warn("Gateway read error", "error", err)
			}
			break
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			slog.Warn("Unparseable gateway frame", "error", err)
			continue
		}

		if f.Type == "close" {
			closeStatus = f.Status
			break
		}
		g.dispatch(&f)
	}
	g.teardown(closeStatus)
}

func (g *Gateway) dispatch(f *frame) {
	switch f.Type {
	case "qr":
		g.emit(Event{Kind: EventQR, QRCode: f.Code})
	case "open":
		g.mu.Lock()
		g.selfJID = f.SelfJID
		g.mu.Unlock()
		g.emit(Event{Kind: EventOpen, SelfJID: f.SelfJID})
	case "message":
		if f.Message != nil {
			g.emit(Event{Kind: EventMessage, Message: f.Message})
		}
	case "creds":
		if err := g.creds.Save(f.Creds); err != nil {
			slog.Error("Failed to persist updated credentials", "error", err)
		}
	case "result":
		g.mu.Lock()
		ch, ok := g.pending[f.ID]
		g.mu.Unlock()
		if ok {
			ch <- f
		} else {
			slog.Debug("Gateway result with no pending request", "id", f.ID)
		}
	default:
		slog.Debug("Unknown gateway frame type", "type", f.Type)
	}
}

// emit delivers ev to the consumer, or drops it once the consumer has
// detached so a full buffer with no reader never blocks the read loop.
func (g *Gateway) emit(ev Event) {
	select {
	case g.events <- ev:
	case <-g.detached:
	}
}

// teardown runs on the read-loop goroutine after its final read, so nothing
// races the channel closes: fail outstanding requests, deliver the close
// event, then end the stream.
func (g *Gateway) teardown(status int) {
	g.mu.Lock()
	g.stopped = true
	for id, ch := range g.pending {
		close(ch)
		delete(g.pending, id)
	}
	g.mu.Unlock()

	g.emit(Event{Kind: EventClose, StatusCode: status})
	close(g.events)
}
