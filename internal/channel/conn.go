package channel

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// conn wraps the channel connection with a write mutex.
// gorilla/websocket does not support concurrent writes.
type conn struct {
	ws  *websocket.Conn
	wmu sync.Mutex
}

func (c *conn) writeText(msg string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, []byte(msg))
}

func (c *conn) closeNormal(reason string) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		time.Now().Add(time.Second))
}
