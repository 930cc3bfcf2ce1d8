package messenger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"messenger-core/model"

	"gorm.io/gorm"
)

// Options configures a Service. Zero values fall back to the defaults below.
type Options struct {
	Log              *slog.Logger
	Clock            Clock
	Enforcer         Enforcer
	Broadcaster      Broadcaster
	StoreTimeout     time.Duration
	DeliveryTimeout  time.Duration
	PageSize         int
	MaxPageSize      int
	MaxContentLength int
	MediaBaseURL     string
}

const (
	defaultTimeout          = 5 * time.Second
	defaultPageSize         = 50
	defaultMaxPageSize      = 100
	defaultMaxContentLength = 2000
)

// Service is the entry point of the messenger core. Every operation takes the caller's
// identity explicitly and is bounded by the store timeout unless ctx expires sooner.
type Service struct {
	Directory *Directory
	Registry  *Registry
	Store     *Store
	ReadState *ReadState
	Fanout    *Fanout

	log         *slog.Logger
	timeout     time.Duration
	pageSize    int
	maxPageSize int
}

func New(db *gorm.DB, opts Options) (*Service, error) {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	if opts.Enforcer == nil {
		e, err := NewPolicy(nil)
		if err != nil {
			return nil, err
		}
		opts.Enforcer = e
	}
	if opts.Broadcaster == nil {
		return nil, fmt.Errorf("a broadcaster is required")
	}
	opts.StoreTimeout = durationOr(opts.StoreTimeout, defaultTimeout)
	opts.DeliveryTimeout = durationOr(opts.DeliveryTimeout, defaultTimeout)
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.MaxPageSize < opts.PageSize {
		opts.MaxPageSize = max(defaultMaxPageSize, opts.PageSize)
	}
	if opts.MaxContentLength <= 0 {
		opts.MaxContentLength = defaultMaxContentLength
	}

	directory := NewDirectory(db, opts.Enforcer)
	fanout := NewFanout(directory, opts.Broadcaster, opts.Log, opts.DeliveryTimeout)
	return &Service{
		Directory:   directory,
		Registry:    NewRegistry(db, directory, opts.Log, opts.Clock),
		Store:       NewStore(db, directory, fanout, opts.Log, opts.Clock, opts.MaxContentLength, opts.MediaBaseURL),
		ReadState:   NewReadState(db, directory, opts.Clock),
		Fanout:      fanout,
		log:         opts.Log,
		timeout:     opts.StoreTimeout,
		pageSize:    opts.PageSize,
		maxPageSize: opts.MaxPageSize,
	}, nil
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// bound applies the store timeout; a caller deadline that is sooner wins.
func (s *Service) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// finish reports an expired deadline as ErrTimeout whatever the driver made of it.
func finish(ctx context.Context, err error) error {
	if err == nil || errors.Is(err, ErrTimeout) {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

func (s *Service) page(p Page) Page {
	if p.Limit <= 0 {
		p.Limit = s.pageSize
	}
	p = p.normalized()
	p.Limit = min(p.Limit, s.maxPageSize)
	return p
}

func (s *Service) CreateOrGetDirect(ctx context.Context, requesterID, otherUserID uint) (model.Conversation, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	conv, err := s.Registry.CreateOrGetDirect(ctx, requesterID, otherUserID)
	return conv, finish(ctx, err)
}

func (s *Service) CreateGroup(ctx context.Context, requesterID uint, name, description string, participantIDs []uint) (model.Conversation, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	conv, err := s.Registry.CreateGroup(ctx, requesterID, GroupInput{
		Name:           name,
		Description:    description,
		ParticipantIDs: participantIDs,
	})
	return conv, finish(ctx, err)
}

func (s *Service) AddParticipant(ctx context.Context, conversationID, actingUserID, targetUserID uint) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return finish(ctx, s.Registry.AddParticipant(ctx, conversationID, actingUserID, targetUserID))
}

func (s *Service) RemoveParticipant(ctx context.Context, conversationID, actingUserID, targetUserID uint) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return finish(ctx, s.Registry.RemoveParticipant(ctx, conversationID, actingUserID, targetUserID))
}

func (s *Service) SetRole(ctx context.Context, conversationID, actingUserID, targetUserID uint, role model.Role) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return finish(ctx, s.Registry.SetRole(ctx, conversationID, actingUserID, targetUserID, role))
}

func (s *Service) IsParticipant(ctx context.Context, conversationID, userID uint) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	ok, err := s.Directory.IsParticipant(ctx, conversationID, userID)
	return ok, finish(ctx, err)
}

// GetConversation returns the conversation as seen by the requester.
func (s *Service) GetConversation(ctx context.Context, conversationID, requesterID uint) (ConversationSummary, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	conv, err := s.Registry.Get(ctx, conversationID, requesterID)
	if err != nil {
		return ConversationSummary{}, finish(ctx, err)
	}
	summary, err := s.summarize(ctx, conv, requesterID)
	return summary, finish(ctx, err)
}

// ListConversations returns the user's conversations, most recently active first.
func (s *Service) ListConversations(ctx context.Context, userID uint, page Page) ([]ConversationSummary, *Page, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	convs, next, err := s.Registry.ListFor(ctx, userID, s.page(page))
	if err != nil {
		return nil, nil, finish(ctx, err)
	}
	summaries := make([]ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		summary, err := s.summarize(ctx, conv, userID)
		if err != nil {
			return nil, nil, finish(ctx, err)
		}
		summaries = append(summaries, summary)
	}
	return summaries, next, nil
}

func (s *Service) summarize(ctx context.Context, conv model.Conversation, userID uint) (ConversationSummary, error) {
	summary := ConversationSummary{
		ID:               conv.ID,
		Kind:             conv.Kind,
		Name:             conv.Name,
		Description:      conv.Description,
		CreatorID:        conv.CreatorID,
		Settings:         conv.Settings,
		LastActivityAt:   conv.LastActivityAt,
		CreatedAt:        conv.CreatedAt,
		Participants:     NewParticipantViews(conv.Participations),
		OtherParticipant: OtherParticipant(conv, userID),
	}
	for _, p := range conv.Participations {
		if p.UserID != userID {
			continue
		}
		count, err := unreadCount(s.ReadState.db.WithContext(ctx), conv.ID, p.LastReadAt)
		if err != nil {
			return ConversationSummary{}, err
		}
		summary.UnreadCount = count
	}
	last, err := s.Store.Latest(ctx, conv.ID)
	if err != nil {
		return ConversationSummary{}, err
	}
	if last != nil {
		view := NewMessageView(*last, s.Store.mediaBaseURL)
		summary.LastMessage = &view
	}
	return summary, nil
}

func (s *Service) Append(ctx context.Context, conversationID, senderID uint, in SendInput) (model.Message, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	m, err := s.Store.Append(ctx, conversationID, senderID, in)
	return m, finish(ctx, err)
}

func (s *Service) Edit(ctx context.Context, messageID, actingUserID uint, newContent string) (model.Message, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	m, err := s.Store.Edit(ctx, messageID, actingUserID, newContent)
	return m, finish(ctx, err)
}

func (s *Service) SoftDelete(ctx context.Context, messageID, actingUserID uint) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return finish(ctx, s.Store.SoftDelete(ctx, messageID, actingUserID))
}

func (s *Service) ListMessages(ctx context.Context, conversationID, requesterID uint, page Page) ([]MessageView, *Page, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	views, next, err := s.Store.List(ctx, conversationID, requesterID, s.page(page))
	return views, next, finish(ctx, err)
}

func (s *Service) ToggleReaction(ctx context.Context, messageID, userID uint, kind string) (model.Message, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	m, err := s.Store.ToggleReaction(ctx, messageID, userID, kind)
	return m, finish(ctx, err)
}

func (s *Service) MarkRead(ctx context.Context, conversationID, userID uint, at *time.Time) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return finish(ctx, s.ReadState.MarkRead(ctx, conversationID, userID, at))
}

func (s *Service) UnreadCount(ctx context.Context, conversationID, userID uint) (int64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	count, err := s.ReadState.UnreadCount(ctx, conversationID, userID)
	return count, finish(ctx, err)
}
