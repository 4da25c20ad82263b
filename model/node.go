package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Node member roles.
const (
	NodeRoleOwner  = "owner"
	NodeRoleMember = "member"
)

// Channel kinds.
const (
	ChannelText  = "text"
	ChannelVoice = "voice"
)

// Node is a community grouping containing channels and members.
type Node struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	Name        string    `gorm:"uniqueIndex;size:64;not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	IconURL     string    `gorm:"size:512" json:"icon_url"`
	OwnerID     string    `gorm:"size:36;not null" json:"owner_id"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// BeforeCreate assigns a UUID primary key when none is set.
func (n *Node) BeforeCreate(*gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return nil
}

// Channel is a text or voice sub-space within a node.
type Channel struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	NodeID    string    `gorm:"index:idx_channel_node;size:36;not null" json:"node_id"`
	Name      string    `gorm:"size:64;not null" json:"name"`
	Kind      string    `gorm:"size:10;default:'text'" json:"kind"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// BeforeCreate assigns a UUID primary key when none is set.
func (c *Channel) BeforeCreate(*gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// NodeMember links a user to a node with a role.
type NodeMember struct {
	NodeID   string    `gorm:"primaryKey;size:36" json:"node_id"`
	UserID   string    `gorm:"primaryKey;size:36" json:"user_id"`
	Role     string    `gorm:"size:10;default:'member'" json:"role"`
	JoinedAt time.Time `gorm:"autoCreateTime" json:"joined_at"`
}
