package sockio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

//Reserved events dispatched by the client itself
const (
	EventConnect      = "connect"
	EventDisconnect   = "disconnect"
	EventConnectError = "connect_error"
	EventError        = "error"
)

var (
	DefaultReconnectDelay = 2 * time.Second
	defaultPingInterval   = 25 * time.Second
	writeWait             = 10 * time.Second

	originRe = regexp.MustCompile(`^(http|ws)(s)?://([^/]*)/?`)

	ErrClosed = errors.New("socket closed")
)

//Handler receives the first argument of an event (nil when there is none)
type Handler func(data json.RawMessage)

//Client is a minimal socket.io (engine.io v3) client using the websocket transport only
type Client struct {
	URL            string
	Header         http.Header
	Dialer         *websocket.Dialer
	ReconnectDelay time.Duration
	Log            *logrus.Entry

	mu        sync.RWMutex
	handlers  map[string][]Handler
	connected bool

	writeMu sync.Mutex
	conn    *websocket.Conn
}

//SocketURL derives the socket.io websocket endpoint from an http(s) or ws(s) origin
func SocketURL(origin string) (string, error) {
	m := originRe.FindStringSubmatch(origin)
	if m == nil || m[3] == "" {
		return "", fmt.Errorf("cannot determine websocket url from %q", origin)
	}
	u := url.URL{
		Scheme:   "ws" + m[2],
		Host:     m[3],
		Path:     "/socket.io/",
		RawQuery: "EIO=3&transport=websocket",
	}
	return u.String(), nil
}

//New creates a client for the socket.io server at origin
func New(origin string, log *logrus.Entry) (*Client, error) {
	u, err := SocketURL(origin)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{
		URL:            u,
		Dialer:         websocket.DefaultDialer,
		ReconnectDelay: DefaultReconnectDelay,
		Log:            log,
		handlers:       make(map[string][]Handler),
	}, nil
}

//On registers h for event
func (c *Client) On(event string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handlers == nil {
		c.handlers = make(map[string][]Handler)
	}
	c.handlers[event] = append(c.handlers[event], h)
}

//Connected reports whether the socket.io session is established
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *Client) dispatch(event string, data json.RawMessage) {
	c.mu.RLock()
	hs := append([]Handler(nil), c.handlers[event]...)
	c.mu.RUnlock()
	for _, h := range hs {
		h(data)
	}
}

func (c *Client) dispatchString(event, s string) {
	data, _ := json.Marshal(s)
	c.dispatch(event, data)
}

func (c *Client) setConnected(v bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	was := c.connected
	c.connected = v
	return was
}

//Emit sends event with args to the server
func (c *Client) Emit(event string, args ...interface{}) error {
	frame, err := EncodeEvent("", event, args...)
	if err != nil {
		return err
	}
	return c.write(frame)
}

func (c *Client) write(frame string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return ErrClosed
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, []byte(frame))
}

//Run keeps a session open, reconnecting after ReconnectDelay, until ctx is done
func (c *Client) Run(ctx context.Context) error {
	delay := c.ReconnectDelay
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	for {
		err := c.serve(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.Log.Debugf("socket %s: %v", c.URL, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

//serve runs one websocket session
func (c *Client) serve(ctx context.Context) error {
	dialer := c.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, c.URL, c.Header)
	if err != nil {
		c.dispatchString(EventConnectError, err.Error())
		return err
	}

	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()

	done := make(chan struct{})
	defer func() {
		close(done)
		c.writeMu.Lock()
		c.conn = nil
		c.writeMu.Unlock()
		conn.Close()
		if c.setConnected(false) {
			c.dispatchString(EventDisconnect, "transport close")
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if err := c.handleFrame(string(msg), done); err != nil {
			if errors.Is(err, ErrClosed) {
				return err
			}
			c.Log.Debugf("socket %s: dropping frame: %v", c.URL, err)
		}
	}
}

func (c *Client) handleFrame(frame string, done <-chan struct{}) error {
	t, payload, err := DecodeEngine(frame)
	if err != nil {
		return err
	}
	switch t {
	case EngineOpen:
		var open OpenPayload
		if err := json.Unmarshal([]byte(payload), &open); err != nil {
			return err
		}
		interval := time.Duration(open.PingInterval) * time.Millisecond
		if interval <= 0 {
			interval = defaultPingInterval
		}
		go c.pingLoop(interval, done)
	case EngineClose:
		return ErrClosed
	case EnginePing:
		return c.write(string(EnginePong) + payload)
	case EngineMessage:
		return c.handlePacket(payload)
	}
	return nil
}

func (c *Client) handlePacket(payload string) error {
	p, err := DecodePacket(payload)
	if err != nil {
		return err
	}
	switch p.Type {
	case SocketConnect:
		if !c.setConnected(true) {
			c.dispatch(EventConnect, nil)
		}
	case SocketDisconnect:
		if c.setConnected(false) {
			c.dispatchString(EventDisconnect, "io server disconnect")
		}
	case SocketError:
		c.dispatch(EventError, p.Data)
	case SocketEvent, SocketBinaryEvent:
		name, args, err := p.Event()
		if err != nil {
			return err
		}
		var first json.RawMessage
		if len(args) > 0 {
			first = args[0]
		}
		c.dispatch(name, first)
	}
	return nil
}

func (c *Client) pingLoop(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.write(string(EnginePing)); err != nil {
				return
			}
		}
	}
}

//Text returns the payload of a reserved event as plain text
func Text(data json.RawMessage) string {
	var s string
	if json.Unmarshal(data, &s) == nil {
		return s
	}
	return strings.TrimSpace(string(data))
}
