package model

import "time"

type MessageType string

const (
	TypeText  MessageType = "text"
	TypeImage MessageType = "image"
	TypeFile  MessageType = "file"
	TypeAudio MessageType = "audio"
	TypeVideo MessageType = "video"
)

// Attachment is the descriptor handed back by the storage collaborator.
type Attachment struct {
	Path     string `json:"path" validate:"required"`
	MimeType string `json:"mime_type" validate:"required"`
	Size     int64  `json:"size" validate:"gte=0"`
	Name     string `json:"name"`
}

// Reactions maps a reaction kind to the ids of the users who reacted with it.
type Reactions map[string][]uint

type Message struct {
	ID             uint         `gorm:"primaryKey" json:"id"`
	ConversationID uint         `gorm:"not null;index:idx_messages_conversation_created,priority:1" json:"conversation_id"`
	SenderID       uint         `gorm:"not null" json:"sender_id"`
	Content        string       `json:"content"`
	Type           MessageType  `gorm:"not null;default:text" json:"type"`
	Attachments    []Attachment `gorm:"serializer:json" json:"attachments"`
	ReplyToID      *uint        `json:"reply_to_id"`
	Reactions      Reactions    `gorm:"serializer:json" json:"reactions"`
	IsEdited       bool         `gorm:"not null;default:false" json:"is_edited"`
	EditedAt       *time.Time   `json:"edited_at"`
	IsDeleted      bool         `gorm:"not null;default:false" json:"is_deleted"`
	DeletedAt      *time.Time   `json:"deleted_at"`
	CreatedAt      time.Time    `gorm:"not null;index:idx_messages_conversation_created,priority:2" json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`

	Sender  User     `gorm:"foreignKey:SenderID" json:"sender"`
	ReplyTo *Message `gorm:"foreignKey:ReplyToID" json:"-"`
}
