package devserver

import (
	"bytes"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	reloadPath  = "/__zoetrope/ws"
	writeWait   = 5 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = pongWait * 9 / 10
	closingBody = "</body>"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// reloadScript reconnects after the server restarts and reloads the page on
// every "reload" message.
const reloadScript = `<script>
(() => {
  const url = (location.protocol === "https:" ? "wss://" : "ws://") + location.host + "` + reloadPath + `";
  let retry = 0;
  const connect = () => {
    const ws = new WebSocket(url);
    ws.onopen = () => {
      if (retry > 0) location.reload();
    };
    ws.onmessage = (e) => {
      const { type } = JSON.parse(e.data);
      if (type === "reload") location.reload();
    };
    ws.onclose = () => {
      retry++;
      setTimeout(connect, Math.min(1000 * retry, 5000));
    };
  };
  connect();
})();
</script>
`

// injectReloadScript puts the reload client right before the last
// </body>, or at the end when there is none.
func injectReloadScript(page []byte) []byte {
	i := bytes.LastIndex(bytes.ToLower(page), []byte(closingBody))
	if i < 0 {
		return append(page[:len(page):len(page)], reloadScript...)
	}
	out := make([]byte, 0, len(page)+len(reloadScript))
	out = append(out, page[:i]...)
	out = append(out, reloadScript...)
	return append(out, page[i:]...)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warningf("reload channel upgrade failed: %v", err)
		return
	}

	c := &client{id: uuid.NewString(), send: make(chan message, clientBuffer)}
	c.send <- message{Type: messageHello, ID: c.id, At: time.Now()}
	if !s.hub.join(c) {
		conn.Close()
		return
	}
	s.logger.Debugf("reload client %s connected", c.id)

	go writePump(conn, c)
	readPump(conn)

	s.hub.leave(c)
	s.logger.Debugf("reload client %s disconnected", c.id)
}

// writePump is the only writer on conn. It closes conn once the hub
// closes c.send.
func writePump(conn *websocket.Conn, c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client messages and returns when the connection dies.
func readPump(conn *websocket.Conn) {
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
