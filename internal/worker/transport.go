package worker

import "github.com/gorilla/websocket"

// wsConn is the subset of *websocket.Conn the worker needs. Declaring
// it here (rather than depending on *websocket.Conn directly in
// WorkerSession) follows the teacher's consumer-declared-interface
// idiom (api/interfaces.go in the original ai-kms source) and lets
// tests substitute a fake transport.
type wsConn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

var _ wsConn = (*websocket.Conn)(nil)
