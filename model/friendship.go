package model

import "time"

// Friendship is one directed edge of a symmetric friend relation. Accepting
// a request inserts both (A,B) and (B,A) in a single transaction, so no
// single-direction edge is valid at rest. The composite primary key makes a
// duplicate insert of the same direction a constraint violation rather than
// a second row.
type Friendship struct {
	UserID    string    `gorm:"primaryKey;size:36" json:"user_id"`
	FriendID  string    `gorm:"primaryKey;size:36" json:"friend_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
