package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultReadLimit bounds a single inbound frame
const DefaultReadLimit = 64 << 20

var ErrNotConnected = errors.New("control connection is not established")

// Conn is the subset of *websocket.Conn the session uses
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v interface{}) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// WSDialer dials the coordinator with gorilla/websocket
type WSDialer struct {
	HandshakeTimeout time.Duration
	ReadLimit        int64
}

func (d WSDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}

	limit := d.ReadLimit
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	conn.SetReadLimit(limit)
	return conn, nil
}

// Outbox serializes all writes to the current connection. A job keeps
// reporting through it across reconnects.
type Outbox struct {
	mu           sync.Mutex
	conn         Conn
	writeTimeout time.Duration
}

func NewOutbox(writeTimeout time.Duration) *Outbox {
	return &Outbox{writeTimeout: writeTimeout}
}

func (o *Outbox) Send(v any) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.conn == nil {
		return ErrNotConnected
	}
	if o.writeTimeout > 0 {
		_ = o.conn.SetWriteDeadline(time.Now().Add(o.writeTimeout))
	}
	return o.conn.WriteJSON(v)
}

// Ping writes a websocket ping control frame to the current connection
func (o *Outbox) Ping() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.conn == nil {
		return ErrNotConnected
	}
	timeout := o.writeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return o.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeout))
}

func (o *Outbox) attach(c Conn) {
	o.mu.Lock()
	o.conn = c
	o.mu.Unlock()
}

// detach clears c only if it is still the current connection
func (o *Outbox) detach(c Conn) {
	o.mu.Lock()
	if o.conn == c {
		o.conn = nil
	}
	o.mu.Unlock()
}
