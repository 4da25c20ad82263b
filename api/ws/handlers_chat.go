package ws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/whisprlabs/whispr/server/cache"
	"github.com/whisprlabs/whispr/server/chat"
	"github.com/whisprlabs/whispr/server/feed"
	"github.com/whisprlabs/whispr/server/model"
	"github.com/whisprlabs/whispr/server/presence"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ChatHandlers wires the realtime chat operations into the packet router.
type ChatHandlers struct {
	db     *gorm.DB
	svc    *chat.Service
	ps     cache.PubSub
	pm     *presence.Manager
	logger *zap.Logger
}

// NewChatHandlers creates the handler set.
func NewChatHandlers(db *gorm.DB, svc *chat.Service, ps cache.PubSub, pm *presence.Manager, logger *zap.Logger) *ChatHandlers {
	return &ChatHandlers{db: db, svc: svc, ps: ps, pm: pm, logger: logger}
}

// Register attaches all chat message types to the router.
func (h *ChatHandlers) Register(r *Router) {
	r.On("subscribe", h.Subscribe)
	r.On("unsubscribe", h.Unsubscribe)
	r.On("message_send", h.MessageSend)
	r.On("presence_set", h.PresenceSet)
	r.On("ping", h.Ping)
}

type errorPayload struct {
	Request string `json:"request"`
	Message string `json:"message"`
}

func (h *ChatHandlers) sendError(s *Session, request, message string) {
	payload, _ := json.Marshal(errorPayload{Request: request, Message: message})
	s.Send(&Packet{Type: "error", Payload: payload})
}

type subscribePayload struct {
	UserID        string `json:"user_id"`
	ChatSessionID string `json:"chat_session_id"`
}

// resolveSession turns a subscribe/unsubscribe payload into a session ID the
// caller is allowed to address: either the conversation with user_id, or a
// chat_session_id the client got from an earlier ack or message payload. A
// session ID naming someone else's conversation is rejected.
func resolveSession(s *Session, req subscribePayload) (string, bool) {
	if req.ChatSessionID != "" {
		if !chat.IsParticipant(req.ChatSessionID, s.UserID()) {
			return "", false
		}
		return req.ChatSessionID, true
	}
	if req.UserID == "" || req.UserID == s.UserID() {
		return "", false
	}
	return chat.SessionID(s.UserID(), req.UserID), true
}

// Subscribe handles {"type":"subscribe","payload":{"user_id":...}} (or
// chat_session_id for resubscribes after reconnect). The session joins the
// conversation's live feed and receives the cached recent window
// immediately.
func (h *ChatHandlers) Subscribe(ctx context.Context, s *Session, payload json.RawMessage) error {
	var req subscribePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		h.sendError(s, "subscribe", "malformed payload")
		return nil
	}
	sessionID, ok := resolveSession(s, req)
	if !ok {
		h.sendError(s, "subscribe", "invalid session")
		return nil
	}
	channel := feed.ChatChannel(sessionID)

	subCtx, cancel := context.WithCancel(context.Background())
	msgCh, unsub, err := h.ps.Subscribe(subCtx, channel)
	if err != nil {
		cancel()
		h.sendError(s, "subscribe", "subscribe failed")
		return err
	}
	s.AddSub(channel, func() {
		unsub()
		cancel()
	})

	go func() {
		for msg := range msgCh {
			s.Send(&Packet{Type: "chat_event", Payload: json.RawMessage(msg.Payload)})
		}
	}()

	recent := h.svc.Recent(ctx, sessionID)
	ack, _ := json.Marshal(map[string]interface{}{
		"chat_session_id": sessionID,
		"recent":          recent,
	})
	s.Send(&Packet{Type: "subscribed", Payload: ack})
	return nil
}

// Unsubscribe handles {"type":"unsubscribe","payload":{"user_id":...}} (or
// chat_session_id, matching Subscribe).
func (h *ChatHandlers) Unsubscribe(ctx context.Context, s *Session, payload json.RawMessage) error {
	var req subscribePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		h.sendError(s, "unsubscribe", "malformed payload")
		return nil
	}

	sessionID, ok := resolveSession(s, req)
	if !ok {
		h.sendError(s, "unsubscribe", "invalid session")
		return nil
	}
	if !s.RemoveSub(feed.ChatChannel(sessionID)) {
		h.sendError(s, "unsubscribe", "not subscribed")
		return nil
	}
	ack, _ := json.Marshal(map[string]string{"chat_session_id": sessionID})
	s.Send(&Packet{Type: "unsubscribed", Payload: ack})
	return nil
}

type messageSendPayload struct {
	UserID   string `json:"user_id"`
	ClientID string `json:"client_id"`
	Content  string `json:"content"`
}

// MessageSend handles {"type":"message_send",...}. Delivery to subscribers
// rides the feed; the sender additionally gets a direct ack echoing the
// idempotency token.
func (h *ChatHandlers) MessageSend(ctx context.Context, s *Session, payload json.RawMessage) error {
	var req messageSendPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		h.sendError(s, "message_send", "malformed payload")
		return nil
	}

	view, _, err := h.svc.Send(ctx, s.UserID(), req.UserID, req.ClientID, req.Content)
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		return nil // silent no-op, same as the REST path
	case err != nil:
		h.sendError(s, "message_send", err.Error())
		return nil
	}

	ack, _ := json.Marshal(map[string]interface{}{
		"client_id": view.ClientID,
		"message":   view,
	})
	s.Send(&Packet{Type: "message_ack", Payload: ack})
	return nil
}

type presencePayload struct {
	OnlineStatus string `json:"online_status"`
}

// PresenceSet handles {"type":"presence_set","payload":{"online_status":...}}.
func (h *ChatHandlers) PresenceSet(ctx context.Context, s *Session, payload json.RawMessage) error {
	var req presencePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		h.sendError(s, "presence_set", "malformed payload")
		return nil
	}
	if !model.ValidOnlineStatus(req.OnlineStatus) {
		h.sendError(s, "presence_set", "invalid online status")
		return nil
	}

	if err := h.db.Model(&model.Profile{}).Where("id = ?", s.UserID()).
		Update("online_status", req.OnlineStatus).Error; err != nil {
		h.sendError(s, "presence_set", "internal error")
		return err
	}
	if err := h.pm.SetStatus(ctx, s.UserID(), req.OnlineStatus); err != nil {
		h.sendError(s, "presence_set", "internal error")
		return err
	}

	ack, _ := json.Marshal(presencePayload{OnlineStatus: req.OnlineStatus})
	s.Send(&Packet{Type: "presence_ack", Payload: ack})
	return nil
}

type pingPayload struct {
	ClientTS int64 `json:"client_ts"`
}

// Ping answers an application-level heartbeat with server time.
func (h *ChatHandlers) Ping(ctx context.Context, s *Session, payload json.RawMessage) error {
	var req pingPayload
	_ = json.Unmarshal(payload, &req)
	pong, _ := json.Marshal(map[string]int64{
		"client_ts": req.ClientTS,
		"server_ts": time.Now().UnixMilli(),
	})
	s.Send(&Packet{Type: "pong", Payload: pong})
	return nil
}
