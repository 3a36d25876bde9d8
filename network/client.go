package network

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 1 << 20
)

var newline = []byte{'\n'}

var (
	// ErrClosed is returned when sending on a closed client.
	ErrClosed = errors.New("client closed")
	// ErrSendBufferFull is returned when the outbound queue is full.
	ErrSendBufferFull = errors.New("send buffer full")
)

// ClientOptions configures the connection to the game server.
type ClientOptions struct {
	// Server is the websocket address of the game server, e.g. ws://localhost:8080.
	Server     string
	Name       string
	AvatarHash string
	Session    string
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
	Logger logr.Logger
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub    *Hub
	logger logr.Logger

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the game server as the local player.
func Dial(ctx context.Context, hub *Hub, opts ClientOptions) (*Client, error) {
	if opts.Logger.GetSink() == nil {
		opts.Logger = logr.Discard()
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	u, err := serverURL(opts)
	if err != nil {
		return nil, err
	}
	conn, _, err := dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", u, err)
	}
	opts.Logger.Info("connected", "server", u)

	return &Client{
		hub:    hub,
		logger: opts.Logger,
		conn:   conn,
		send:   make(chan []byte, 256),
		done:   make(chan struct{}),
	}, nil
}

func serverURL(opts ClientOptions) (string, error) {
	u, err := url.Parse(opts.Server)
	if err != nil {
		return "", fmt.Errorf("invalid server address %q: %w", opts.Server, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("invalid server address %q: scheme must be ws or wss", opts.Server)
	}
	if !strings.HasSuffix(u.Path, "/ws") {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	}
	q := u.Query()
	q.Set("name", opts.Name)
	q.Set("avatar", opts.AvatarHash)
	q.Set("session", opts.Session)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Run requests the world state and pumps events to the hub until the
// connection closes or ctx is done.
func (c *Client) Run(ctx context.Context) error {
	go c.writePump()
	stop := context.AfterFunc(ctx, c.Close)
	defer stop()

	if err := c.Send(Event{Name: EventSyncWorld}); err != nil {
		return err
	}
	return c.readPump(ctx)
}

// Send queues an event for the server.
func (c *Client) Send(e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", e.Name, err)
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close closes the connection. It is safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// readPump pumps messages from the websocket connection to the hub.
//
// All reads happen on the goroutine calling Run, so there is at most one
// reader on the connection.
func (c *Client) readPump(ctx context.Context) error {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	c.conn.SetPingHandler(func(data string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		err := c.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return nil
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("server closed the connection")
				return nil
			}
			c.logger.Error(err, "connection lost")
			return fmt.Errorf("connection lost: %w", err)
		}

		// The server may batch several events into one message.
		for _, raw := range bytes.Split(data, newline) {
			if len(bytes.TrimSpace(raw)) == 0 {
				continue
			}
			var e Event
			if err := json.Unmarshal(raw, &e); err != nil {
				c.logger.Error(err, "unable to decode event")
				continue
			}
			if err := c.hub.Dispatch(ctx, e); err != nil {
				return nil
			}
		}
	}
}

// writePump pumps messages from the send queue to the websocket connection.
//
// A goroutine running writePump is started for each connection. All writes
// except pongs happen on this goroutine.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
		c.conn.Close()
	}()
	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Error(err, "unable to send event")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
