package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Notification types.
const (
	NotifFriendRequest = "friend_request"
	NotifNewMessage    = "new_message"
	NotifProfileView   = "profile_view"
)

// Notification is an inbox entry for a user. Friend-request notifications
// are never merely marked read; they leave the inbox by being accepted or
// denied. All other types flip IsRead and stay until deleted.
type Notification struct {
	ID              string         `gorm:"primaryKey;size:36" json:"id"`
	FromUserID      string         `gorm:"index:idx_notif_from;size:36;not null" json:"from_user_id"`
	ToUserID        string         `gorm:"index:idx_notif_to;size:36;not null" json:"to_user_id"`
	Type            string         `gorm:"size:32;not null" json:"type"`
	Message         string         `gorm:"size:255" json:"message"`
	IsRead          bool           `gorm:"default:false" json:"is_read"`
	RelatedEntityID string         `gorm:"size:80" json:"related_entity_id"`
	Data            datatypes.JSON `json:"data"`
	CreatedAt       time.Time      `gorm:"index:idx_notif_created;autoCreateTime" json:"created_at"`
}

// BeforeCreate assigns a UUID primary key when none is set.
func (n *Notification) BeforeCreate(*gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return nil
}
