package messenger

import (
	"context"
	"time"

	"messenger-core/model"

	"gorm.io/gorm"
)

// ReadState tracks how far each participant has read.
type ReadState struct {
	db        *gorm.DB
	directory *Directory
	now       Clock
}

func NewReadState(db *gorm.DB, directory *Directory, now Clock) *ReadState {
	return &ReadState{db: db, directory: directory, now: now}
}

// MarkRead moves the participant's last read time forward to at (now when nil).
// An earlier time than the stored one leaves it untouched.
func (r *ReadState) MarkRead(ctx context.Context, conversationID, userID uint, at *time.Time) error {
	db := r.db.WithContext(ctx)
	if _, err := conversation(db, conversationID); err != nil {
		return err
	}
	if _, err := r.directory.participation(db, conversationID, userID); err != nil {
		return err
	}
	// marks never run ahead of the clock
	readAt := r.now()
	if at != nil && at.Before(readAt) {
		readAt = at.UTC()
	}
	err := db.Model(&model.Participation{}).
		Where("conversation_id = ? AND user_id = ? AND (last_read_at IS NULL OR last_read_at < ?)", conversationID, userID, readAt).
		Update("last_read_at", readAt).Error
	return storeError(err)
}

// UnreadCount counts the non-deleted messages the participant has not read yet.
func (r *ReadState) UnreadCount(ctx context.Context, conversationID, userID uint) (int64, error) {
	db := r.db.WithContext(ctx)
	if _, err := conversation(db, conversationID); err != nil {
		return 0, err
	}
	p, err := r.directory.participation(db, conversationID, userID)
	if err != nil {
		return 0, err
	}
	return unreadCount(db, conversationID, p.LastReadAt)
}

// unreadCount is derived from the messages on every call; nothing is denormalized.
func unreadCount(db *gorm.DB, conversationID uint, lastReadAt *time.Time) (int64, error) {
	q := db.Model(&model.Message{}).Where("conversation_id = ? AND is_deleted = ?", conversationID, false)
	if lastReadAt != nil {
		q = q.Where("created_at > ?", lastReadAt.UTC())
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return 0, storeError(err)
	}
	return count, nil
}
