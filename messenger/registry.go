package messenger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"messenger-core/model"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var validate = validator.New()

// GroupInput carries the user supplied part of a group creation.
type GroupInput struct {
	Name           string `validate:"required,max=100"`
	Description    string `validate:"max=500"`
	ParticipantIDs []uint
}

// Registry creates and looks up conversations and manages their participants.
type Registry struct {
	db        *gorm.DB
	directory *Directory
	log       *slog.Logger
	now       Clock
}

func NewRegistry(db *gorm.DB, directory *Directory, log *slog.Logger, now Clock) *Registry {
	return &Registry{db: db, directory: directory, log: log, now: now}
}

// DirectKey is the canonical, order independent key of a user pair.
func DirectKey(a, b uint) string {
	return fmt.Sprintf("%d:%d", min(a, b), max(a, b))
}

// CreateOrGetDirect returns the direct conversation of the pair, creating it on first use.
// Concurrent callers for the same pair race on the unique direct key; the loser re-reads
// and returns the winner's conversation.
func (r *Registry) CreateOrGetDirect(ctx context.Context, requesterID, otherUserID uint) (model.Conversation, error) {
	if requesterID == otherUserID {
		return model.Conversation{}, fmt.Errorf("%w: cannot open a direct conversation with yourself", ErrInvalidParticipant)
	}
	db := r.db.WithContext(ctx)
	key := DirectKey(requesterID, otherUserID)

	if conv, found, err := r.findDirect(db, key); err != nil || found {
		return conv, err
	}
	if _, err := r.directory.users(db, []uint{requesterID, otherUserID}); err != nil {
		return model.Conversation{}, err
	}

	now := r.now()
	conv := model.Conversation{
		Kind:      model.KindDirect,
		DirectKey: &key,
		CreatorID: requesterID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&conv).Error; err != nil {
			return err
		}
		return tx.Omit(clause.Associations).Create([]model.Participation{
			{ConversationID: conv.ID, UserID: requesterID, Role: model.RoleMember, JoinedAt: now},
			{ConversationID: conv.ID, UserID: otherUserID, Role: model.RoleMember, JoinedAt: now},
		}).Error
	})
	if err != nil {
		if ctx.Err() != nil {
			return model.Conversation{}, storeError(ctx.Err())
		}
		// most likely lost the race on the unique key
		winner, found, findErr := r.findDirect(db, key)
		if findErr != nil {
			return model.Conversation{}, findErr
		}
		if !found {
			return model.Conversation{}, fmt.Errorf("%w: direct conversation %s: %v", ErrConflict, key, err)
		}
		r.log.Debug("Direct conversation creation lost a race, returning winner", "key", key, "conversation", winner.ID)
		return winner, nil
	}

	r.log.Info("Direct conversation created", "conversation", conv.ID, "key", key)
	return r.load(db, conv.ID)
}

func (r *Registry) findDirect(db *gorm.DB, key string) (model.Conversation, bool, error) {
	var conv model.Conversation
	err := db.Preload("Participations", func(db *gorm.DB) *gorm.DB {
		return db.Order("joined_at asc, user_id asc")
	}).Preload("Participations.User").
		Where("kind = ? AND direct_key = ?", model.KindDirect, key).
		Limit(1).Find(&conv).Error
	if err != nil {
		return model.Conversation{}, false, storeError(err)
	}
	return conv, conv.ID != 0, nil
}

// CreateGroup creates a group whose only admin is the requester.
func (r *Registry) CreateGroup(ctx context.Context, requesterID uint, in GroupInput) (model.Conversation, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := validate.Struct(in); err != nil {
		return model.Conversation{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	db := r.db.WithContext(ctx)

	ids := lo.Uniq(append([]uint{requesterID}, in.ParticipantIDs...))
	if _, err := r.directory.users(db, ids); err != nil {
		return model.Conversation{}, err
	}

	now := r.now()
	conv := model.Conversation{
		Kind:        model.KindGroup,
		Name:        in.Name,
		Description: in.Description,
		CreatorID:   requesterID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&conv).Error; err != nil {
			return err
		}
		participations := lo.Map(ids, func(id uint, _ int) model.Participation {
			role := model.RoleMember
			if id == requesterID {
				role = model.RoleAdmin
			}
			return model.Participation{ConversationID: conv.ID, UserID: id, Role: role, JoinedAt: now}
		})
		return tx.Omit(clause.Associations).Create(&participations).Error
	})
	if err != nil {
		return model.Conversation{}, storeError(err)
	}

	r.log.Info("Group conversation created", "conversation", conv.ID, "participants", len(ids))
	return r.load(db, conv.ID)
}

// Get returns the conversation with its participants, visible to participants only.
func (r *Registry) Get(ctx context.Context, conversationID, requesterID uint) (model.Conversation, error) {
	db := r.db.WithContext(ctx)
	conv, err := r.load(db, conversationID)
	if err != nil {
		return model.Conversation{}, err
	}
	if !lo.ContainsBy(conv.Participations, func(p model.Participation) bool { return p.UserID == requesterID }) {
		return model.Conversation{}, fmt.Errorf("%w: user %d is not a participant of conversation %d", ErrForbidden, requesterID, conversationID)
	}
	return conv, nil
}

// ListFor returns a page of the user's conversations, most recently active first.
func (r *Registry) ListFor(ctx context.Context, userID uint, page Page) ([]model.Conversation, *Page, error) {
	page = page.normalized()
	var convs []model.Conversation
	err := r.db.WithContext(ctx).
		Preload("Participations", func(db *gorm.DB) *gorm.DB {
			return db.Order("joined_at asc, user_id asc")
		}).Preload("Participations.User").
		Joins("JOIN participations ON participations.conversation_id = conversations.id AND participations.user_id = ?", userID).
		Order("(conversations.last_activity_at IS NULL) asc").
		Order("conversations.last_activity_at desc").
		Order("conversations.created_at desc").
		Order("conversations.id desc").
		Offset(page.Offset).Limit(page.Limit + 1).
		Find(&convs).Error
	if err != nil {
		return nil, nil, storeError(err)
	}
	convs, next := paginate(convs, page)
	return convs, next, nil
}

// AddParticipant lets any current participant of a group add a new member.
func (r *Registry) AddParticipant(ctx context.Context, conversationID, actingUserID, targetUserID uint) error {
	db := r.db.WithContext(ctx)
	if _, err := r.groupActor(db, conversationID, actingUserID, ActionAdd); err != nil {
		return err
	}
	if _, err := r.directory.users(db, []uint{targetUserID}); err != nil {
		return err
	}
	member, err := r.directory.isParticipant(db, conversationID, targetUserID)
	if err != nil {
		return err
	}
	if member {
		return fmt.Errorf("%w: user %d in conversation %d", ErrAlreadyMember, targetUserID, conversationID)
	}

	p := model.Participation{
		ConversationID: conversationID,
		UserID:         targetUserID,
		Role:           model.RoleMember,
		JoinedAt:       r.now(),
	}
	if err := db.Omit(clause.Associations).Create(&p).Error; err != nil {
		// a concurrent add of the same user trips the primary key
		if member, checkErr := r.directory.isParticipant(db, conversationID, targetUserID); checkErr == nil && member {
			return fmt.Errorf("%w: user %d in conversation %d", ErrAlreadyMember, targetUserID, conversationID)
		}
		return storeError(err)
	}
	r.log.Info("Participant added", "conversation", conversationID, "user", targetUserID, "by", actingUserID)
	return nil
}

// RemoveParticipant removes the target when present; removing an absent user succeeds.
// When the last admin leaves, the earliest joined remaining participant becomes admin.
func (r *Registry) RemoveParticipant(ctx context.Context, conversationID, actingUserID, targetUserID uint) error {
	db := r.db.WithContext(ctx)
	if _, err := r.groupActor(db, conversationID, actingUserID, ActionRemove); err != nil {
		return err
	}

	removed := false
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := lockConversation(tx, conversationID); err != nil {
			return err
		}
		participants, err := r.directory.participants(tx, conversationID)
		if err != nil {
			return err
		}
		target, ok := lo.Find(participants, func(p model.Participation) bool { return p.UserID == targetUserID })
		if !ok {
			return nil
		}
		if len(participants) == 1 {
			return fmt.Errorf("%w: cannot remove the last participant of conversation %d", ErrValidation, conversationID)
		}
		if err := tx.Where("conversation_id = ? AND user_id = ?", conversationID, targetUserID).
			Delete(&model.Participation{}).Error; err != nil {
			return err
		}
		removed = true

		remaining := lo.Reject(participants, func(p model.Participation, _ int) bool { return p.UserID == targetUserID })
		if target.Role != model.RoleAdmin || lo.ContainsBy(remaining, isAdmin) {
			return nil
		}
		heir := remaining[0]
		r.log.Info("Last admin left, promoting earliest member", "conversation", conversationID, "user", heir.UserID)
		return tx.Model(&model.Participation{}).
			Where("conversation_id = ? AND user_id = ?", conversationID, heir.UserID).
			Update("role", model.RoleAdmin).Error
	})
	if err != nil {
		return storeError(err)
	}
	if removed {
		r.log.Info("Participant removed", "conversation", conversationID, "user", targetUserID, "by", actingUserID)
	}
	return nil
}

// SetRole changes a participant's role. Only admins may do it and a group keeps at least one admin.
func (r *Registry) SetRole(ctx context.Context, conversationID, actingUserID, targetUserID uint, role model.Role) error {
	if role != model.RoleAdmin && role != model.RoleMember {
		return fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}
	db := r.db.WithContext(ctx)
	if _, err := r.groupActor(db, conversationID, actingUserID, ActionAssign); err != nil {
		return err
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := lockConversation(tx, conversationID); err != nil {
			return err
		}
		participants, err := r.directory.participants(tx, conversationID)
		if err != nil {
			return err
		}
		target, ok := lo.Find(participants, func(p model.Participation) bool { return p.UserID == targetUserID })
		if !ok {
			return fmt.Errorf("%w: user %d is not a participant of conversation %d", ErrNotFound, targetUserID, conversationID)
		}
		if target.Role == role {
			return nil
		}
		if target.Role == model.RoleAdmin && lo.CountBy(participants, isAdmin) == 1 {
			return fmt.Errorf("%w: conversation %d needs at least one admin", ErrValidation, conversationID)
		}
		return tx.Model(&model.Participation{}).
			Where("conversation_id = ? AND user_id = ?", conversationID, targetUserID).
			Update("role", role).Error
	})
	if err != nil {
		return storeError(err)
	}
	r.log.Info("Participant role changed", "conversation", conversationID, "user", targetUserID, "role", role)
	return nil
}

// groupActor enforces the shared precondition of membership mutations:
// the conversation is a group and the acting user may perform action on participants.
func (r *Registry) groupActor(db *gorm.DB, conversationID, actingUserID uint, action string) (model.Conversation, error) {
	conv, err := conversation(db, conversationID)
	if err != nil {
		return model.Conversation{}, err
	}
	if conv.Kind != model.KindGroup {
		return model.Conversation{}, fmt.Errorf("%w: participants of a %s conversation are fixed", ErrForbidden, conv.Kind)
	}
	if _, err := r.directory.authorize(db, conversationID, actingUserID, ObjectParticipant, action); err != nil {
		return model.Conversation{}, err
	}
	return conv, nil
}

func (r *Registry) load(db *gorm.DB, conversationID uint) (model.Conversation, error) {
	var conv model.Conversation
	err := db.Preload("Participations", func(db *gorm.DB) *gorm.DB {
		return db.Order("joined_at asc, user_id asc")
	}).Preload("Participations.User").First(&conv, conversationID).Error
	if err != nil {
		return model.Conversation{}, notFound(err, fmt.Sprintf("conversation %d", conversationID))
	}
	return conv, nil
}

// conversation loads the bare conversation row.
func conversation(db *gorm.DB, conversationID uint) (model.Conversation, error) {
	var conv model.Conversation
	if err := db.First(&conv, conversationID).Error; err != nil {
		return model.Conversation{}, notFound(err, fmt.Sprintf("conversation %d", conversationID))
	}
	return conv, nil
}

// lockConversation serializes membership changes of one conversation. Sqlite ignores the clause
// and relies on its single writer instead.
func lockConversation(tx *gorm.DB, conversationID uint) error {
	var conv model.Conversation
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").First(&conv, conversationID).Error
	return notFound(err, fmt.Sprintf("conversation %d", conversationID))
}

func isAdmin(p model.Participation) bool {
	return p.Role == model.RoleAdmin
}
