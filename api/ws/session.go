package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	sendChanBuf   = 256
	writeDeadline = 10 * time.Second
	readDeadlineS = 60 * time.Second
	pingInterval  = 30 * time.Second // server-side WS ping
)

// Packet is the unified WS message envelope.
type Packet struct {
	Seq     uint64          `json:"seq"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Session represents one connected realtime client.
type Session struct {
	userID string
	Conn   *websocket.Conn

	SendChan chan []byte
	Done     chan struct{}
	TraceID  string
	LastSeq  uint64

	mu   sync.Mutex
	subs map[string]func() // channel → unsubscribe

	logger *zap.Logger
}

// NewSession creates a Session with its write goroutine started.
func NewSession(userID string, conn *websocket.Conn, logger *zap.Logger) *Session {
	s := &Session{
		userID:   userID,
		Conn:     conn,
		SendChan: make(chan []byte, sendChanBuf),
		Done:     make(chan struct{}),
		subs:     make(map[string]func()),
		logger:   logger,
	}
	go s.writePump()
	return s
}

// UserID returns the authenticated user this session belongs to.
func (s *Session) UserID() string { return s.userID }

// writePump drains SendChan and writes to the WebSocket connection.
// Also sends periodic WebSocket pings to detect dead connections quickly.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer s.Conn.Close()
	for {
		select {
		case data, ok := <-s.SendChan:
			if !ok {
				return
			}
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Warn("ws write error",
					zap.String("user_id", s.userID),
					zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.Done:
			_ = s.Conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send encodes pkt and sends it non-blocking. Drops if channel full or closed.
func (s *Session) Send(pkt *Packet) {
	data, err := json.Marshal(pkt)
	if err != nil {
		return
	}
	s.SendRaw(data)
}

// SendRaw sends raw bytes non-blocking. Returns false when the session is
// closed or its buffer is full.
func (s *Session) SendRaw(data []byte) bool {
	if s.IsClosed() {
		return false
	}
	select {
	case s.SendChan <- data:
		return true
	case <-s.Done:
		return false
	default:
		if !s.IsClosed() {
			s.logger.Warn("send channel full, dropping packet",
				zap.String("user_id", s.userID))
		}
		return false
	}
}

// Close signals the writePump to shut down and cancels all subscriptions.
func (s *Session) Close() {
	select {
	case <-s.Done:
	default:
		close(s.Done)
	}
	s.ClearSubs()
}

// IsClosed returns true if the session has been closed.
func (s *Session) IsClosed() bool {
	select {
	case <-s.Done:
		return true
	default:
		return false
	}
}

// AddSub records a pub/sub subscription keyed by channel, replacing (and
// cancelling) any previous subscription on the same channel.
func (s *Session) AddSub(channel string, cancel func()) {
	s.mu.Lock()
	old := s.subs[channel]
	s.subs[channel] = cancel
	s.mu.Unlock()
	if old != nil {
		old()
	}
}

// RemoveSub cancels and forgets the subscription on channel. Returns false
// when no such subscription exists.
func (s *Session) RemoveSub(channel string) bool {
	s.mu.Lock()
	cancel, ok := s.subs[channel]
	delete(s.subs, channel)
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// ClearSubs cancels every live subscription.
func (s *Session) ClearSubs() {
	s.mu.Lock()
	cancels := make([]func(), 0, len(s.subs))
	for _, c := range s.subs {
		cancels = append(cancels, c)
	}
	s.subs = make(map[string]func())
	s.mu.Unlock()
	for _, c := range cancels {
		c()
	}
}

// SetReadDeadline pushes the read deadline forward. Called on connect and on
// every inbound frame.
func (s *Session) SetReadDeadline() {
	_ = s.Conn.SetReadDeadline(time.Now().Add(readDeadlineS))
}
