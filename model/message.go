package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Message is one direct message inside a two-party chat session. Messages
// are immutable once created. ClientID is the sender-generated idempotency
// token: the unique index on (chat_session_id, client_id) turns a retried
// send into a read of the existing row, and the realtime payload echoes the
// token so the sender can reconcile its optimistic entry exactly.
type Message struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	ChatSessionID string    `gorm:"index:idx_msg_session;uniqueIndex:uniq_msg_client,priority:1;size:80;not null" json:"chat_session_id"`
	SenderID      string    `gorm:"size:36;not null" json:"sender_id"`
	RecipientID   string    `gorm:"size:36;not null" json:"recipient_id"`
	ClientID      string    `gorm:"uniqueIndex:uniq_msg_client,priority:2;size:36;not null" json:"client_id"`
	Content       string    `gorm:"type:text;not null" json:"content"`
	CreatedAt     time.Time `gorm:"index:idx_msg_created;autoCreateTime" json:"created_at"`
}

// BeforeCreate assigns UUIDs for the primary key and, when the sender did
// not supply one, the idempotency token.
func (m *Message) BeforeCreate(*gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.ClientID == "" {
		m.ClientID = uuid.NewString()
	}
	return nil
}
