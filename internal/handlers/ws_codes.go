// internal/handlers/ws_codes.go
package handlers

import "github.com/coder/websocket"

// Custom WebSocket close codes used by the notification stream.
const (
	BadSubprotocolError websocket.StatusCode = 3000 // Client connected with an unsupported subprotocol.
)

// notifySubprotocol is what clients must offer when opening /ws.
const notifySubprotocol = "arena"
