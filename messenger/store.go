package messenger

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"unicode/utf8"

	"messenger-core/model"

	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AppendHook is invoked once a message is durably stored.
type AppendHook interface {
	OnMessageAppended(ctx context.Context, message model.Message, conversation model.Conversation)
}

// SendInput is the payload of a message append.
type SendInput struct {
	Content     string
	Type        model.MessageType  `validate:"omitempty,oneof=text image file audio video"`
	Attachments []model.Attachment `validate:"dive"`
	ReplyToID   *uint
}

// Store appends, edits, soft-deletes and lists messages.
type Store struct {
	db               *gorm.DB
	directory        *Directory
	hook             AppendHook
	log              *slog.Logger
	now              Clock
	maxContentLength int
	mediaBaseURL     string
}

func NewStore(db *gorm.DB, directory *Directory, hook AppendHook, log *slog.Logger, now Clock, maxContentLength int, mediaBaseURL string) *Store {
	return &Store{
		db:               db,
		directory:        directory,
		hook:             hook,
		log:              log,
		now:              now,
		maxContentLength: maxContentLength,
		mediaBaseURL:     mediaBaseURL,
	}
}

// Append persists a message from a participant and advances the conversation's last activity.
// The append hook runs after commit; its outcome never changes the result.
func (s *Store) Append(ctx context.Context, conversationID, senderID uint, in SendInput) (model.Message, error) {
	db := s.db.WithContext(ctx)
	conv, err := conversation(db, conversationID)
	if err != nil {
		return model.Message{}, err
	}
	if _, err := s.directory.authorize(db, conversationID, senderID, ObjectMessage, ActionSend); err != nil {
		return model.Message{}, err
	}
	if in.Type == "" {
		in.Type = model.TypeText
	}
	if err := s.validateContent(in.Content, len(in.Attachments) > 0); err != nil {
		return model.Message{}, err
	}
	if err := validate.Struct(in); err != nil {
		return model.Message{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if in.ReplyToID != nil {
		if err := s.checkReplyTarget(db, conversationID, *in.ReplyToID); err != nil {
			return model.Message{}, err
		}
	}

	now := s.now()
	message := model.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        in.Content,
		Type:           in.Type,
		Attachments:    in.Attachments,
		ReplyToID:      in.ReplyToID,
		Reactions:      model.Reactions{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&message).Error; err != nil {
			return err
		}
		// a concurrent, later message may already have moved the pointer forward
		return tx.Model(&model.Conversation{}).
			Where("id = ? AND (last_activity_at IS NULL OR last_activity_at < ?)", conversationID, now).
			Updates(map[string]any{"last_activity_at": now, "updated_at": now}).Error
	})
	if err != nil {
		return model.Message{}, storeError(err)
	}
	conv.LastActivityAt = &now

	stored, err := s.message(db, message.ID)
	if err != nil {
		// the message is persisted; hand back what we have
		s.log.Warn("Failed to reload appended message", "message", message.ID, "error", err)
		stored = message
		stored.Sender = model.User{Model: gorm.Model{ID: senderID}}
		if users, err := s.directory.users(db, []uint{senderID}); err == nil {
			stored.Sender = users[0]
		}
	}
	if s.hook != nil {
		s.hook.OnMessageAppended(ctx, stored, conv)
	}
	return stored, nil
}

func (s *Store) validateContent(content string, hasAttachments bool) error {
	if strings.TrimSpace(content) == "" && !hasAttachments {
		return fmt.Errorf("%w: content or at least one attachment is required", ErrValidation)
	}
	if s.maxContentLength > 0 && utf8.RuneCountInString(content) > s.maxContentLength {
		return fmt.Errorf("%w: content exceeds %d characters", ErrValidation, s.maxContentLength)
	}
	return nil
}

func (s *Store) checkReplyTarget(db *gorm.DB, conversationID, replyToID uint) error {
	var target model.Message
	err := db.Select("id", "conversation_id", "is_deleted").
		Where("id = ? AND conversation_id = ?", replyToID, conversationID).
		Limit(1).Find(&target).Error
	if err != nil {
		return storeError(err)
	}
	if target.ID == 0 {
		return fmt.Errorf("%w: reply target %d is not in conversation %d", ErrValidation, replyToID, conversationID)
	}
	if target.IsDeleted {
		return fmt.Errorf("%w: reply target %d was deleted", ErrValidation, replyToID)
	}
	return nil
}

// Edit replaces the content of a message. Only its sender may edit it.
func (s *Store) Edit(ctx context.Context, messageID, actingUserID uint, newContent string) (model.Message, error) {
	db := s.db.WithContext(ctx)
	message, err := s.message(db, messageID)
	if err != nil {
		return model.Message{}, err
	}
	if message.IsDeleted {
		return model.Message{}, fmt.Errorf("%w: message %d", ErrNotFound, messageID)
	}
	if message.SenderID != actingUserID {
		return model.Message{}, fmt.Errorf("%w: only the sender may edit message %d", ErrForbidden, messageID)
	}
	if _, err := s.directory.participation(db, message.ConversationID, actingUserID); err != nil {
		return model.Message{}, err
	}
	if err := s.validateContent(newContent, len(message.Attachments) > 0); err != nil {
		return model.Message{}, err
	}

	now := s.now()
	res := db.Model(&model.Message{}).
		Where("id = ? AND is_deleted = ?", messageID, false).
		Updates(map[string]any{"content": newContent, "is_edited": true, "edited_at": now, "updated_at": now})
	if res.Error != nil {
		return model.Message{}, storeError(res.Error)
	}
	if res.RowsAffected == 0 {
		// deleted in between
		return model.Message{}, fmt.Errorf("%w: message %d", ErrNotFound, messageID)
	}
	message.Content = newContent
	message.IsEdited = true
	message.EditedAt = &now
	message.UpdatedAt = now
	return message, nil
}

// SoftDelete hides a message. The sender or a conversation admin may delete it.
// The stored content and attachments are kept.
func (s *Store) SoftDelete(ctx context.Context, messageID, actingUserID uint) error {
	db := s.db.WithContext(ctx)
	message, err := s.message(db, messageID)
	if err != nil {
		return err
	}
	if message.IsDeleted {
		return fmt.Errorf("%w: message %d", ErrNotFound, messageID)
	}
	if message.SenderID != actingUserID {
		if _, err := s.directory.authorize(db, message.ConversationID, actingUserID, ObjectMessage, ActionModerate); err != nil {
			return err
		}
	}

	now := s.now()
	res := db.Model(&model.Message{}).
		Where("id = ? AND is_deleted = ?", messageID, false).
		Updates(map[string]any{"is_deleted": true, "deleted_at": now, "updated_at": now})
	if res.Error != nil {
		return storeError(res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: message %d", ErrNotFound, messageID)
	}
	s.log.Info("Message deleted", "message", messageID, "conversation", message.ConversationID, "by", actingUserID)
	return nil
}

// List returns a page of non-deleted messages, newest first, with reply targets resolved.
func (s *Store) List(ctx context.Context, conversationID, requesterID uint, page Page) ([]MessageView, *Page, error) {
	page = page.normalized()
	db := s.db.WithContext(ctx)
	if _, err := conversation(db, conversationID); err != nil {
		return nil, nil, err
	}
	if _, err := s.directory.participation(db, conversationID, requesterID); err != nil {
		return nil, nil, err
	}

	var messages []model.Message
	err := withRelations(db).
		Where("conversation_id = ? AND is_deleted = ?", conversationID, false).
		Order("created_at desc, id desc").
		Offset(page.Offset).Limit(page.Limit + 1).
		Find(&messages).Error
	if err != nil {
		return nil, nil, storeError(err)
	}
	messages, next := paginate(messages, page)
	views := lo.Map(messages, func(m model.Message, _ int) MessageView {
		return NewMessageView(m, s.mediaBaseURL)
	})
	return views, next, nil
}

// Latest returns the newest non-deleted message of a conversation, nil when there is none.
func (s *Store) Latest(ctx context.Context, conversationID uint) (*model.Message, error) {
	var messages []model.Message
	err := withRelations(s.db.WithContext(ctx)).
		Where("conversation_id = ? AND is_deleted = ?", conversationID, false).
		Order("created_at desc, id desc").
		Limit(1).Find(&messages).Error
	if err != nil {
		return nil, storeError(err)
	}
	if len(messages) == 0 {
		return nil, nil
	}
	return &messages[0], nil
}

// ToggleReaction adds the user to the reaction set of kind, or removes it when already there.
func (s *Store) ToggleReaction(ctx context.Context, messageID, userID uint, kind string) (model.Message, error) {
	kind = strings.TrimSpace(kind)
	if kind == "" || utf8.RuneCountInString(kind) > 32 {
		return model.Message{}, fmt.Errorf("%w: reaction kind must be 1 to 32 characters", ErrValidation)
	}
	db := s.db.WithContext(ctx)

	var message model.Message
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&message, messageID).Error; err != nil {
			return notFound(err, fmt.Sprintf("message %d", messageID))
		}
		if message.IsDeleted {
			return fmt.Errorf("%w: message %d", ErrNotFound, messageID)
		}
		if _, err := s.directory.authorize(tx, message.ConversationID, userID, ObjectMessage, ActionReact); err != nil {
			return err
		}
		// struct updates go through the json serializer, map updates would not
		return tx.Model(&model.Message{ID: messageID}).Select("reactions", "updated_at").
			Updates(&model.Message{Reactions: toggle(message.Reactions, kind, userID), UpdatedAt: s.now()}).Error
	})
	if err != nil {
		return model.Message{}, storeError(err)
	}
	return s.message(db, messageID)
}

func toggle(reactions model.Reactions, kind string, userID uint) model.Reactions {
	out := make(model.Reactions, len(reactions)+1)
	for k, users := range reactions {
		out[k] = slices.Clone(users)
	}
	if slices.Contains(out[kind], userID) {
		out[kind] = lo.Without(out[kind], userID)
		if len(out[kind]) == 0 {
			delete(out, kind)
		}
		return out
	}
	out[kind] = append(out[kind], userID)
	return out
}

// message loads a message with its sender and reply target, whatever its deletion state.
func (s *Store) message(db *gorm.DB, messageID uint) (model.Message, error) {
	var message model.Message
	if err := withRelations(db).First(&message, messageID).Error; err != nil {
		return model.Message{}, notFound(err, fmt.Sprintf("message %d", messageID))
	}
	return message, nil
}

func withRelations(db *gorm.DB) *gorm.DB {
	return db.Preload("Sender").Preload("ReplyTo").Preload("ReplyTo.Sender")
}
