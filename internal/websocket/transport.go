// Package websocket adapts coder/websocket connections to chat transports.
package websocket

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"github.com/nfrund/pairchat/internal/chat"
)

// Options controls how connections are accepted.
type Options struct {
	// AllowedOrigins are host patterns accepted in addition to the request host.
	// "*" disables origin checks.
	AllowedOrigins []string
	// ReadLimit caps a single inbound frame in bytes.
	ReadLimit int64
}

// Conn is a chat.Transport over a WebSocket connection.
type Conn struct {
	conn *websocket.Conn
}

var _ chat.Transport = (*Conn)(nil)

// Accept upgrades the request. On failure coder/websocket has already written
// an HTTP error response.
func Accept(w http.ResponseWriter, r *http.Request, opts Options) (*Conn, error) {
	acceptOpts := &websocket.AcceptOptions{}
	for _, o := range opts.AllowedOrigins {
		if o == "*" {
			acceptOpts.InsecureSkipVerify = true
			continue
		}
		acceptOpts.OriginPatterns = append(acceptOpts.OriginPatterns, o)
	}

	conn, err := websocket.Accept(w, r, acceptOpts)
	if err != nil {
		return nil, err
	}
	if opts.ReadLimit > 0 {
		conn.SetReadLimit(opts.ReadLimit)
	}
	return &Conn{conn: conn}, nil
}

// Read returns the next data frame.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

// Write sends one text frame.
func (c *Conn) Write(ctx context.Context, frame []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, frame)
}

// Close performs the close handshake with code and reason.
func (c *Conn) Close(code int, reason string) error {
	return c.conn.Close(websocket.StatusCode(code), reason)
}
