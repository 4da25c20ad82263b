package feed

import (
	"context"
	"encoding/json"

	"github.com/whisprlabs/whispr/server/cache"
	"github.com/whisprlabs/whispr/server/chat"
	"github.com/whisprlabs/whispr/server/model"
	"go.uber.org/zap"
)

// Change operations, mirroring the row-level events a subscriber sees.
const (
	OpInsert = "INSERT"
	OpUpdate = "UPDATE"
	OpDelete = "DELETE"
)

// Tables a change event can originate from.
const (
	TableNotifications = "notifications"
	TableMessages      = "messages"
)

// Event is one row-level change delivered over the live feed.
type Event struct {
	Table string          `json:"table"`
	Op    string          `json:"op"`
	Row   json.RawMessage `json:"row"`
}

// NotifyChannel is the pub/sub channel carrying a user's notification
// changes.
func NotifyChannel(userID string) string {
	return "feed:notify:" + userID
}

// ChatChannel is the pub/sub channel carrying insert events for one chat
// session.
func ChatChannel(sessionID string) string {
	return "feed:chat:" + sessionID
}

// Publisher fans row-level change events out through pub/sub. Delivery is
// best-effort: a failed publish is logged, never surfaced to the write path
// that triggered it.
type Publisher struct {
	ps     cache.PubSub
	logger *zap.Logger
}

// NewPublisher creates a Publisher.
func NewPublisher(ps cache.PubSub, logger *zap.Logger) *Publisher {
	return &Publisher{ps: ps, logger: logger}
}

// Notification publishes a change event for n on its recipient's channel.
func (p *Publisher) Notification(ctx context.Context, op string, n *model.Notification) {
	p.publish(ctx, NotifyChannel(n.ToUserID), TableNotifications, op, n)
}

// NotificationInserted publishes the insert event for n on its recipient's
// channel.
func (p *Publisher) NotificationInserted(ctx context.Context, n *model.Notification) {
	p.Notification(ctx, OpInsert, n)
}

// MessageInserted publishes the insert event for a delivered message on its
// session channel. The payload carries the joined profile projections and
// echoes the sender's idempotency token.
func (p *Publisher) MessageInserted(ctx context.Context, view *chat.MessageView) {
	p.publish(ctx, ChatChannel(view.ChatSessionID), TableMessages, OpInsert, view)
}

func (p *Publisher) publish(ctx context.Context, channel, table, op string, row interface{}) {
	rowJSON, err := json.Marshal(row)
	if err != nil {
		p.logger.Error("feed marshal failed", zap.String("table", table), zap.Error(err))
		return
	}
	ev, err := json.Marshal(Event{Table: table, Op: op, Row: rowJSON})
	if err != nil {
		p.logger.Error("feed marshal failed", zap.String("table", table), zap.Error(err))
		return
	}
	if err := p.ps.Publish(ctx, channel, string(ev)); err != nil {
		p.logger.Error("feed publish failed",
			zap.String("channel", channel),
			zap.String("op", op),
			zap.Error(err))
	}
}
