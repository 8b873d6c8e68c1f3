package transport

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// WebsocketTransport is the dial-side SocketTransport over a single
// gorilla/websocket connection.
type WebsocketTransport struct {
	conn   *websocket.Conn
	log    *log.Logger
	send   chan Event
	events chan Event
	stop   chan struct{}
	done   chan struct{}

	mu        sync.RWMutex
	connected bool
}

// Dial connects to the socket endpoint and starts the read and write
// pumps.
func Dial(url string, header http.Header, logger *log.Logger) (*WebsocketTransport, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		return nil, err
	}

	t := &WebsocketTransport{
		conn:      conn,
		log:       logger,
		send:      make(chan Event, 256),
		events:    make(chan Event, 256),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		connected: true,
	}

	go t.writePump()
	go t.readPump()

	return t, nil
}

func (t *WebsocketTransport) Emit(evt Event) error {
	if !t.Connected() {
		return ErrNotConnected
	}

	select {
	case t.send <- evt:
		return nil
	default:
		t.log.Println("outbound buffer full, dropping", evt.Name)
		return ErrSendBufferFull
	}
}

func (t *WebsocketTransport) Events() <-chan Event {
	return t.events
}

func (t *WebsocketTransport) Connected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

func (t *WebsocketTransport) setConnected(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = v
}

func (t *WebsocketTransport) Close() error {
	t.setConnected(false)
	close(t.stop)
	err := t.conn.Close()
	<-t.done
	return err
}

func (t *WebsocketTransport) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		t.conn.Close()
		t.log.Println("write pump exiting")
	}()

	for {
		select {
		case evt := <-t.send:
			bytes, err := json.Marshal(evt)
			if err != nil {
				t.log.Println("failed to serialize event:", err)
				continue
			}

			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.TextMessage, bytes); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway,
					websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
					t.log.Printf("write message: %s", err)
				}
				return
			}
		case <-t.stop:
			return
		case <-ticker.C:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (t *WebsocketTransport) readPump() {
	defer func() {
		t.setConnected(false)
		t.conn.Close()
		close(t.events)
		close(t.done)
		t.log.Println("read pump exiting")
	}()

	t.conn.SetReadLimit(maxMessageSize)
	t.conn.SetReadDeadline(time.Now().Add(pongWait))
	t.conn.SetPongHandler(func(appData string) error {
		t.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				t.log.Printf("ws: read: %v", err)
			}
			return
		}

		var evt Event
		if err := json.Unmarshal(raw, &evt); err != nil {
			t.log.Println("error parsing event:", err)
			continue
		}

		// Inbound events must not be dropped: block until the
		// reconciler drains the channel or the transport stops.
		select {
		case t.events <- evt:
		case <-t.stop:
			return
		}
	}
}
