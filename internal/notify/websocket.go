package notify

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsReadLimit  = 512
	wsCloseGrace = time.Second
)

// WebSocketSink writes one text message per frame. Clients are not expected to
// send anything; a read error means they went away.
type WebSocketSink struct {
	conn    *websocket.Conn
	upgrade func() (*websocket.Conn, error)
	gone    chan struct{}
	once    sync.Once
}

// NewWebSocketSink takes ownership of conn.
func NewWebSocketSink(conn *websocket.Conn) *WebSocketSink {
	return &WebSocketSink{conn: conn, gone: make(chan struct{})}
}

// UpgradeOnOpen defers the protocol switch until the stream is served. Until
// then the request can still be answered with an ordinary HTTP response.
func UpgradeOnOpen(upgrader *websocket.Upgrader, w http.ResponseWriter, r *http.Request) *WebSocketSink {
	return &WebSocketSink{
		upgrade: func() (*websocket.Conn, error) { return upgrader.Upgrade(w, r, nil) },
		gone:    make(chan struct{}),
	}
}

func (s *WebSocketSink) Open() error {
	if s.conn == nil {
		if s.upgrade == nil {
			return fmt.Errorf("notify: websocket sink has no connection")
		}
		conn, err := s.upgrade()
		if err != nil {
			return err
		}
		s.conn = conn
	}
	s.conn.SetReadLimit(wsReadLimit)
	go s.readPump()
	return nil
}

func (s *WebSocketSink) readPump() {
	defer s.once.Do(func() { close(s.gone) })
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Gone is closed when the client closes the connection.
func (s *WebSocketSink) Gone() <-chan struct{} {
	return s.gone
}

func (s *WebSocketSink) Write(frame Frame) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, frame.Data)
}

func (s *WebSocketSink) Close() error {
	if s.conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsCloseGrace))
	return s.conn.Close()
}

// NewUpgrader returns an upgrader that accepts same-host origins, or only the
// listed origins when any are configured.
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	origins := make(map[string]bool)
	hosts := make(map[string]bool)
	for _, origin := range allowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		origins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			hosts[parsed.Host] = true
		}
	}

	return &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			parsed, err := url.Parse(origin)
			if err != nil || parsed.Host == "" {
				return false
			}
			if len(origins) > 0 {
				return origins[origin] || hosts[parsed.Host]
			}
			return parsed.Host == r.Host
		},
	}
}
