package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/whisprlabs/whispr/server/cache"
	"github.com/whisprlabs/whispr/server/config"
	"github.com/whisprlabs/whispr/server/model"
	"gorm.io/gorm"
)

// Send failure modes the transports translate into their own status codes.
var (
	ErrEmptyMessage    = errors.New("empty message")
	ErrMessageTooLong  = errors.New("message too long")
	ErrSelfMessage     = errors.New("cannot message yourself")
	ErrParticipantGone = errors.New("participant not found")
)

// Events receives the fan-out side effects of a stored message. Implemented
// by the feed publisher.
type Events interface {
	MessageInserted(ctx context.Context, view *MessageView)
	NotificationInserted(ctx context.Context, n *model.Notification)
}

// Service owns the direct-message pipeline shared by the REST and WebSocket
// transports.
type Service struct {
	db     *gorm.DB
	cache  cache.Cache
	events Events
	cfg    config.ChatConfig
}

// NewService creates a Service.
func NewService(db *gorm.DB, c cache.Cache, events Events, cfg config.ChatConfig) *Service {
	return &Service{db: db, cache: c, events: events, cfg: cfg}
}

// Send stores a message from senderID to recipientID. Whitespace-only
// content returns ErrEmptyMessage. A clientID already stored for the session
// returns the existing row with created=false and emits no events.
func (s *Service) Send(ctx context.Context, senderID, recipientID, clientID, content string) (*MessageView, bool, error) {
	if recipientID == senderID {
		return nil, false, ErrSelfMessage
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, false, ErrEmptyMessage
	}
	if len([]rune(content)) > s.cfg.MaxMessageRunes {
		return nil, false, ErrMessageTooLong
	}

	refs, err := s.loadRefs(senderID, recipientID)
	if err != nil {
		return nil, false, err
	}

	sessionID := SessionID(senderID, recipientID)

	if clientID != "" {
		var existing model.Message
		err := s.db.Where("chat_session_id = ? AND client_id = ?", sessionID, clientID).
			First(&existing).Error
		if err == nil {
			return s.view(&existing, refs), false, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, err
		}
	}

	msg := model.Message{
		ChatSessionID: sessionID,
		SenderID:      senderID,
		RecipientID:   recipientID,
		ClientID:      clientID,
		Content:       content,
	}
	if err := s.db.Create(&msg).Error; err != nil {
		// Concurrent retry won the race; surface its row.
		var existing model.Message
		if clientID != "" {
			if e := s.db.Where("chat_session_id = ? AND client_id = ?", sessionID, clientID).
				First(&existing).Error; e == nil {
				return s.view(&existing, refs), false, nil
			}
		}
		return nil, false, err
	}

	view := s.view(&msg, refs)
	s.afterSend(ctx, view, refs[senderID].Username)
	return view, true, nil
}

// History returns the full session between a and b, oldest first.
func (s *Service) History(a, b string) (string, []MessageView, error) {
	refs, err := s.loadRefs(a, b)
	if err != nil {
		return "", nil, err
	}

	sessionID := SessionID(a, b)
	var messages []model.Message
	if err := s.db.Where("chat_session_id = ?", sessionID).
		Order("created_at ASC").Find(&messages).Error; err != nil {
		return "", nil, err
	}

	views := make([]MessageView, len(messages))
	for i := range messages {
		views[i] = *s.view(&messages[i], refs)
	}
	return sessionID, views, nil
}

// Recent returns the cached tail of a session, newest first. Used to seed a
// realtime subscriber joining mid-conversation.
func (s *Service) Recent(ctx context.Context, sessionID string) []MessageView {
	entries, err := s.cache.LRange(ctx, recentKey(sessionID), 0, int64(s.cfg.HistoryCacheSize)-1)
	if err != nil {
		return nil
	}
	views := make([]MessageView, 0, len(entries))
	for _, e := range entries {
		var v MessageView
		if json.Unmarshal([]byte(e), &v) == nil {
			views = append(views, v)
		}
	}
	return views
}

// afterSend fans out the side effects of a stored message: the recent-window
// cache, the session's live feed, and the recipient's inbox.
func (s *Service) afterSend(ctx context.Context, view *MessageView, senderName string) {
	cacheCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if data, err := json.Marshal(view); err == nil {
		key := recentKey(view.ChatSessionID)
		_ = s.cache.LPush(cacheCtx, key, string(data))
		_ = s.cache.LTrim(cacheCtx, key, 0, int64(s.cfg.HistoryCacheSize)-1)
	}

	s.events.MessageInserted(ctx, view)

	n := model.Notification{
		FromUserID:      view.SenderID,
		ToUserID:        view.RecipientID,
		Type:            model.NotifNewMessage,
		Message:         fmt.Sprintf("New message from %s", senderName),
		RelatedEntityID: view.ChatSessionID,
	}
	if err := s.db.Create(&n).Error; err == nil {
		s.events.NotificationInserted(ctx, &n)
	}
}

func (s *Service) view(m *model.Message, refs map[string]model.ProfileRef) *MessageView {
	return &MessageView{
		Message:   *m,
		Sender:    refs[m.SenderID],
		Recipient: refs[m.RecipientID],
	}
}

// loadRefs fetches the two participants' profile projections keyed by ID.
// Returns ErrParticipantGone when either side is missing.
func (s *Service) loadRefs(a, b string) (map[string]model.ProfileRef, error) {
	var profiles []model.Profile
	if err := s.db.Where("id IN ?", []string{a, b}).Find(&profiles).Error; err != nil {
		return nil, err
	}
	if len(profiles) != 2 {
		return nil, ErrParticipantGone
	}
	refs := make(map[string]model.ProfileRef, 2)
	for _, p := range profiles {
		refs[p.ID] = p.Ref()
	}
	return refs, nil
}

func recentKey(sessionID string) string {
	return "chat:recent:" + sessionID
}
