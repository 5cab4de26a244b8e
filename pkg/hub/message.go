// Package hub fans telemetry out to every connected operator and funnels
// their commands into a single handler, using a channel-based broadcast loop.
package hub

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/teslashibe/go-bonbon/pkg/protocol"
)

// Conn is the part of a websocket connection the hub uses. Both the fiber
// websocket and gorilla connections satisfy it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Websocket frame types.
const (
	textMessage  = websocket.TextMessage
	closeMessage = websocket.CloseMessage
	pingMessage  = websocket.PingMessage
)

// Handler receives every command an operator sends.
type Handler func(clientID string, msg *protocol.Message)
