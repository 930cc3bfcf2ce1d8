package model

import (
	"time"
)

type ConversationKind string

const (
	KindDirect ConversationKind = "direct"
	KindGroup  ConversationKind = "group"
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Conversation is either a direct (exactly two users) or a group chat.
// DirectKey holds the sorted "a:b" pair for direct conversations and is NULL for groups;
// its unique index is what deduplicates direct conversations.
type Conversation struct {
	ID             uint             `gorm:"primaryKey" json:"id"`
	Kind           ConversationKind `gorm:"not null;index:idx_conversations_kind_activity,priority:1" json:"kind"`
	DirectKey      *string          `gorm:"uniqueIndex" json:"-"`
	Name           string           `json:"name,omitempty"`
	Description    string           `json:"description,omitempty"`
	CreatorID      uint             `gorm:"not null" json:"creator_id"`
	Settings       map[string]any   `gorm:"serializer:json" json:"settings,omitempty"`
	LastActivityAt *time.Time       `gorm:"index:idx_conversations_kind_activity,priority:2" json:"last_activity_at"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`

	Participations []Participation `gorm:"foreignKey:ConversationID" json:"participants,omitempty"`
}

// Participation binds a user to a conversation. The composite primary key
// enforces one row per (conversation, user).
type Participation struct {
	ConversationID uint           `gorm:"primaryKey;autoIncrement:false" json:"conversation_id"`
	UserID         uint           `gorm:"primaryKey;autoIncrement:false;index:idx_participations_user_read,priority:1" json:"user_id"`
	Role           Role           `gorm:"not null;default:member" json:"role"`
	JoinedAt       time.Time      `gorm:"not null" json:"joined_at"`
	LastReadAt     *time.Time     `gorm:"index:idx_participations_user_read,priority:2" json:"last_read_at"`
	Settings       map[string]any `gorm:"serializer:json" json:"settings,omitempty"`

	User User `gorm:"foreignKey:UserID" json:"user"`
}
