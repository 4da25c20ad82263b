package model

import "time"

// PasswordReset is a single-use password reset token delivered by email.
// Expired rows are pruned by a scheduler task.
type PasswordReset struct {
	Token     string    `gorm:"primaryKey;size:36" json:"token"`
	UserID    string    `gorm:"index:idx_reset_user;size:36;not null" json:"user_id"`
	ExpiresAt time.Time `gorm:"not null" json:"expires_at"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
