package connector

import (
	"context"
	"net"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/goldpoll/goldpoll/internal/config"
)

// Websocket is for websocket connection.
type Websocket struct {
	Conn net.Conn
	Cfg  *config.WS
}

// NewWebsocket creates a new websocket connection for the given feed url.
func NewWebsocket(appCtx context.Context, cfg *config.WS, url string) (Websocket, error) {
	ctx := appCtx
	if cfg.ConnTimeoutSec > 0 {
		timeoutCtx, cancel := context.WithTimeout(appCtx, time.Duration(cfg.ConnTimeoutSec)*time.Second)
		ctx = timeoutCtx
		defer cancel()
	}
	conn, _, _, err := ws.Dial(ctx, url)
	if err != nil {
		return Websocket{}, err
	}
	return Websocket{Conn: conn, Cfg: cfg}, nil
}

// Write writes data frame on websocket connection.
func (w *Websocket) Write(data []byte) error {
	return wsutil.WriteClientText(w.Conn, data)
}

// Read reads data frame from websocket connection.
func (w *Websocket) Read() ([]byte, error) {
	if w.Cfg.ReadTimeoutSec > 0 {
		err := w.Conn.SetReadDeadline(time.Now().Add(time.Duration(w.Cfg.ReadTimeoutSec) * time.Second))
		if err != nil {
			return nil, err
		}
	}
	return wsutil.ReadServerText(w.Conn)
}

// Close closes the underlying connection.
func (w *Websocket) Close() error {
	if w.Conn == nil {
		return nil
	}
	return w.Conn.Close()
}
