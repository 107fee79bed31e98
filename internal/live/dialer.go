package live

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/net/websocket"
)

// Conn is an established channel carrying text frames.
type Conn interface {
	// Read blocks until the next frame arrives or the connection ends.
	Read() ([]byte, error)
	Write(data []byte) error
	Close() error
}

// Dialer opens channels. Implementations must honor ctx cancellation while connecting.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// WebsocketDialer dials channels over websocket.
type WebsocketDialer struct {
	// Token, when set, supplies a bearer credential for the handshake.
	Token func() string
}

func (d WebsocketDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	cfg, err := websocket.NewConfig(endpoint, HTTPOrigin(endpoint))
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %s: %w", endpoint, err)
	}
	if d.Token != nil {
		if tok := d.Token(); tok != "" {
			cfg.Header = http.Header{"Authorization": []string{"Bearer " + tok}}
		}
	}

	ws, err := cfg.DialContext(ctx)
	if err != nil {
		return nil, err
	}
	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) Read() ([]byte, error) {
	var frame string
	if err := websocket.Message.Receive(c.ws, &frame); err != nil {
		return nil, err
	}
	return []byte(frame), nil
}

func (c *wsConn) Write(data []byte) error {
	return websocket.Message.Send(c.ws, string(data))
}

func (c *wsConn) Close() error { return c.ws.Close() }
