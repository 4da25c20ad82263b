package model

import "time"

// Online status values a profile may carry.
const (
	StatusOnline  = "online"
	StatusAway    = "away"
	StatusDND     = "dnd"
	StatusOffline = "offline"
)

// ValidOnlineStatus reports whether s is one of the recognized presence states.
func ValidOnlineStatus(s string) bool {
	switch s {
	case StatusOnline, StatusAway, StatusDND, StatusOffline:
		return true
	}
	return false
}

// Profile is the public-facing record for a user. It shares its ID with the
// owning User row. Only the owner may mutate it; any authenticated user may
// read it.
type Profile struct {
	ID                    string    `gorm:"primaryKey;size:36" json:"id"`
	Username              string    `gorm:"uniqueIndex;size:32;not null" json:"username"`
	DisplayName           string    `gorm:"size:64" json:"display_name"`
	ProfileImage          string    `gorm:"size:512" json:"profile_image"`
	ThemeColor            string    `gorm:"size:16" json:"theme_color"`
	Bio                   string    `gorm:"type:text" json:"bio"`
	PublicStatus          string    `gorm:"size:128" json:"public_status"`
	OnlineStatus          string    `gorm:"size:10;default:'offline'" json:"online_status"`
	ChatBubbleColor       string    `gorm:"size:16" json:"chat_bubble_color"`
	DefaultChatBackground string    `gorm:"size:512" json:"default_chat_background"`
	CreatedAt             time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ProfileRef is the projection of a Profile that rides along with messages
// and friend listings.
type ProfileRef struct {
	ID              string `json:"id"`
	Username        string `json:"username"`
	DisplayName     string `json:"display_name"`
	ProfileImage    string `json:"profile_image"`
	ChatBubbleColor string `json:"chat_bubble_color"`
}

// Ref returns the message/listing projection of the profile.
func (p *Profile) Ref() ProfileRef {
	return ProfileRef{
		ID:              p.ID,
		Username:        p.Username,
		DisplayName:     p.DisplayName,
		ProfileImage:    p.ProfileImage,
		ChatBubbleColor: p.ChatBubbleColor,
	}
}
