package gateway

import (
	"sync"
	"time"

	clipmodel "ClipSync/module/clip/model"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// WSTransport adapts a gorilla websocket to the hub's Transport. The hub's
// writer goroutine and the read loop's direct replies (pong, err) share the
// socket, so writes are serialized here.
type WSTransport struct {
	mu           sync.Mutex
	ws           *websocket.Conn
	writeTimeout time.Duration
}

func NewWSTransport(ws *websocket.Conn, writeTimeout time.Duration) *WSTransport {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &WSTransport{ws: ws, writeTimeout: writeTimeout}
}

func (t *WSTransport) SendItem(item *clipmodel.ClipItem) error {
	return t.SendFrame(BuildDeliver(item))
}

func (t *WSTransport) SendFrame(f *ServerFrame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.ws.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	return t.ws.WriteMessage(websocket.TextMessage, data)
}

func (t *WSTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.ws.SetWriteDeadline(time.Now().Add(time.Second))
	_ = t.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return t.ws.Close()
}
