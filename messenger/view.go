package messenger

import (
	"strings"
	"time"
	"unicode/utf8"

	"messenger-core/model"

	"github.com/samber/lo"
)

// Clock returns the current time. Timestamps are kept in UTC.
type Clock func() time.Time

func SystemClock() time.Time {
	return time.Now().UTC()
}

// Page addresses a slice of an ordered listing.
type Page struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// normalized defaults an unset limit and clamps a negative offset.
func (p Page) normalized() Page {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 {
		p.Limit = defaultPageSize
	}
	return p
}

// paginate trims the extra lookahead row and returns the next page, nil on the last one.
func paginate[T any](items []T, page Page) ([]T, *Page) {
	if page.Limit <= 0 || len(items) <= page.Limit {
		return items, nil
	}
	return items[:page.Limit], &Page{Offset: page.Offset + page.Limit, Limit: page.Limit}
}

// replyPreviewLength bounds the reply content carried in delivery events.
const replyPreviewLength = 100

const unavailableReply = "reference unavailable"

// PublicUser is the profile subset shared with other participants.
type PublicUser struct {
	ID          uint   `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Avatar      string `json:"avatar"`
}

func NewPublicUser(u model.User) PublicUser {
	return PublicUser{ID: u.ID, Username: u.Username, DisplayName: u.DisplayName, Avatar: u.Avatar}
}

// ReplySummary is the inline view of a reply target.
// Unavailable is set when the target has since been deleted.
type ReplySummary struct {
	ID          uint   `json:"id"`
	Content     string `json:"content"`
	Username    string `json:"username"`
	Unavailable bool   `json:"unavailable,omitempty"`
}

// NewReplySummary resolves the reply target of m; limit > 0 truncates the content.
func NewReplySummary(m model.Message, limit int) *ReplySummary {
	if m.ReplyToID == nil {
		return nil
	}
	if m.ReplyTo == nil || m.ReplyTo.IsDeleted {
		return &ReplySummary{ID: *m.ReplyToID, Content: unavailableReply, Unavailable: true}
	}
	content := m.ReplyTo.Content
	if limit > 0 {
		content = truncate(content, limit)
	}
	return &ReplySummary{ID: m.ReplyTo.ID, Content: content, Username: m.ReplyTo.Sender.Username}
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "…"
}

// MediaURL is an attachment addressed through the public media base.
type MediaURL struct {
	URL  string `json:"url"`
	Type string `json:"type"`
	Size int64  `json:"size"`
	Name string `json:"name"`
}

// MediaURLs derives public URLs from stored attachment paths.
func MediaURLs(attachments []model.Attachment, base string) []MediaURL {
	base = strings.TrimRight(base, "/")
	return lo.Map(attachments, func(a model.Attachment, _ int) MediaURL {
		return MediaURL{
			URL:  base + "/" + strings.TrimLeft(a.Path, "/"),
			Type: a.MimeType,
			Size: a.Size,
			Name: a.Name,
		}
	})
}

// MessageView is a message as listed to participants.
type MessageView struct {
	ID             uint               `json:"id"`
	ConversationID uint               `json:"conversation_id"`
	Sender         PublicUser         `json:"sender"`
	Content        string             `json:"content"`
	Type           model.MessageType  `json:"type"`
	Attachments    []model.Attachment `json:"attachments"`
	MediaURLs      []MediaURL         `json:"media_urls"`
	ReplyTo        *ReplySummary      `json:"reply_to"`
	Reactions      model.Reactions    `json:"reactions"`
	IsEdited       bool               `json:"is_edited"`
	EditedAt       *time.Time         `json:"edited_at"`
	CreatedAt      time.Time          `json:"created_at"`
}

func NewMessageView(m model.Message, mediaBase string) MessageView {
	return MessageView{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Sender:         NewPublicUser(m.Sender),
		Content:        m.Content,
		Type:           m.Type,
		Attachments:    m.Attachments,
		MediaURLs:      MediaURLs(m.Attachments, mediaBase),
		ReplyTo:        NewReplySummary(m, 0),
		Reactions:      m.Reactions,
		IsEdited:       m.IsEdited,
		EditedAt:       m.EditedAt,
		CreatedAt:      m.CreatedAt,
	}
}

// ParticipantView is a participant with its public profile.
type ParticipantView struct {
	User       PublicUser `json:"user"`
	Role       model.Role `json:"role"`
	JoinedAt   time.Time  `json:"joined_at"`
	LastReadAt *time.Time `json:"last_read_at"`
}

// ConversationSummary is one entry of a user's conversation list.
// UnreadCount, LastMessage and OtherParticipant are derived on demand.
type ConversationSummary struct {
	ID               uint                   `json:"id"`
	Kind             model.ConversationKind `json:"kind"`
	Name             string                 `json:"name,omitempty"`
	Description      string                 `json:"description,omitempty"`
	CreatorID        uint                   `json:"creator_id"`
	Settings         map[string]any         `json:"settings,omitempty"`
	LastActivityAt   *time.Time             `json:"last_activity_at"`
	CreatedAt        time.Time              `json:"created_at"`
	Participants     []ParticipantView      `json:"participants"`
	UnreadCount      int64                  `json:"unread_count"`
	LastMessage      *MessageView           `json:"last_message"`
	OtherParticipant *PublicUser            `json:"other_participant,omitempty"`
}

func NewParticipantViews(ps []model.Participation) []ParticipantView {
	return lo.Map(ps, func(p model.Participation, _ int) ParticipantView {
		return ParticipantView{User: NewPublicUser(p.User), Role: p.Role, JoinedAt: p.JoinedAt, LastReadAt: p.LastReadAt}
	})
}

// OtherParticipant is the counterpart of userID in a direct conversation, nil for groups.
func OtherParticipant(conv model.Conversation, userID uint) *PublicUser {
	if conv.Kind != model.KindDirect {
		return nil
	}
	other, ok := lo.Find(conv.Participations, func(p model.Participation) bool { return p.UserID != userID })
	if !ok {
		return nil
	}
	return lo.ToPtr(NewPublicUser(other.User))
}
