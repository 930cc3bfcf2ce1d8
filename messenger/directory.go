package messenger

import (
	"context"
	"errors"
	"fmt"

	"messenger-core/model"

	"github.com/samber/lo"
	"gorm.io/gorm"
)

// Directory resolves conversation membership and roles. Every other component
// goes through it before touching a conversation on behalf of a user.
type Directory struct {
	db       *gorm.DB
	enforcer Enforcer
}

func NewDirectory(db *gorm.DB, enforcer Enforcer) *Directory {
	return &Directory{db: db, enforcer: enforcer}
}

// IsParticipant is a pure membership check.
func (d *Directory) IsParticipant(ctx context.Context, conversationID, userID uint) (bool, error) {
	return d.isParticipant(d.db.WithContext(ctx), conversationID, userID)
}

func (d *Directory) isParticipant(db *gorm.DB, conversationID, userID uint) (bool, error) {
	var count int64
	err := db.Model(&model.Participation{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Count(&count).Error
	if err != nil {
		return false, storeError(err)
	}
	return count > 0, nil
}

// Participation returns the membership row, ErrForbidden when the user is not a participant.
func (d *Directory) Participation(ctx context.Context, conversationID, userID uint) (model.Participation, error) {
	return d.participation(d.db.WithContext(ctx), conversationID, userID)
}

func (d *Directory) participation(db *gorm.DB, conversationID, userID uint) (model.Participation, error) {
	var p model.Participation
	err := db.Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Limit(1).Find(&p).Error
	if err != nil {
		return model.Participation{}, storeError(err)
	}
	if p.ConversationID == 0 {
		return model.Participation{}, fmt.Errorf("%w: user %d is not a participant of conversation %d", ErrForbidden, userID, conversationID)
	}
	return p, nil
}

// Role returns the participant's role; ok is false for non-participants.
func (d *Directory) Role(ctx context.Context, conversationID, userID uint) (model.Role, bool, error) {
	p, err := d.participation(d.db.WithContext(ctx), conversationID, userID)
	if errors.Is(err, ErrForbidden) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return p.Role, true, nil
}

// Authorize requires membership and then checks the participant's role against the policy.
func (d *Directory) Authorize(ctx context.Context, conversationID, userID uint, object, action string) (model.Participation, error) {
	return d.authorize(d.db.WithContext(ctx), conversationID, userID, object, action)
}

func (d *Directory) authorize(db *gorm.DB, conversationID, userID uint, object, action string) (model.Participation, error) {
	p, err := d.participation(db, conversationID, userID)
	if err != nil {
		return model.Participation{}, err
	}
	ok, err := d.Can(p.Role, object, action)
	if err != nil {
		return model.Participation{}, err
	}
	if !ok {
		return model.Participation{}, fmt.Errorf("%w: role %s may not %s %s", ErrForbidden, p.Role, action, object)
	}
	return p, nil
}

// Can reports whether role may perform action on object.
func (d *Directory) Can(role model.Role, object, action string) (bool, error) {
	ok, err := d.enforcer.Enforce(string(role), object, action)
	if err != nil {
		return false, fmt.Errorf("policy enforcement failed: %w", err)
	}
	return ok, nil
}

// Participants lists the current participants with their public profile, earliest joined first.
func (d *Directory) Participants(ctx context.Context, conversationID uint) ([]model.Participation, error) {
	return d.participants(d.db.WithContext(ctx), conversationID)
}

func (d *Directory) participants(db *gorm.DB, conversationID uint) ([]model.Participation, error) {
	var ps []model.Participation
	err := db.Preload("User").
		Where("conversation_id = ?", conversationID).
		Order("joined_at asc, user_id asc").
		Find(&ps).Error
	return ps, storeError(err)
}

// Users resolves every id, failing with ErrValidation when one of them is unknown.
func (d *Directory) Users(ctx context.Context, ids []uint) ([]model.User, error) {
	return d.users(d.db.WithContext(ctx), ids)
}

func (d *Directory) users(db *gorm.DB, ids []uint) ([]model.User, error) {
	ids = lo.Uniq(ids)
	var users []model.User
	if err := db.Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, storeError(err)
	}
	if len(users) != len(ids) {
		known := lo.Map(users, func(u model.User, _ int) uint { return u.ID })
		missing, _ := lo.Difference(ids, known)
		return nil, fmt.Errorf("%w: unknown users %v", ErrValidation, missing)
	}
	return users, nil
}
