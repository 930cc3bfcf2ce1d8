//go:generate go run go.uber.org/mock/mockgen -source=fanout.go -destination=../mocks/mock_fanout.go -package=mocks
package messenger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"messenger-core/model"

	"github.com/samber/lo"
)

const EventMessageSent = "message.sent"

// Broadcaster hands a delivery to the transport that pushes it to connected clients.
type Broadcaster interface {
	Deliver(ctx context.Context, delivery Delivery) error
}

// Delivery asks the transport to push one event to one recipient of a conversation channel.
type Delivery struct {
	Channel     string          `json:"channel"`
	RecipientID uint            `json:"recipient_id"`
	Event       string          `json:"event"`
	Payload     DeliveryPayload `json:"payload"`
}

type DeliveryPayload struct {
	ID             uint               `json:"id"`
	ConversationID uint               `json:"conversation_id"`
	Sender         PublicUser         `json:"sender"`
	Content        string             `json:"content"`
	Type           model.MessageType  `json:"type"`
	Attachments    []model.Attachment `json:"attachments"`
	ReplyTo        *ReplySummary      `json:"reply_to"`
	CreatedAt      string             `json:"created_at"`
}

// Channel names the broadcast channel of a conversation.
func Channel(conversationID uint) string {
	return fmt.Sprintf("conversation:%d", conversationID)
}

func NewDeliveryPayload(m model.Message) DeliveryPayload {
	return DeliveryPayload{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Sender:         NewPublicUser(m.Sender),
		Content:        m.Content,
		Type:           m.Type,
		Attachments:    m.Attachments,
		ReplyTo:        NewReplySummary(m, replyPreviewLength),
		CreatedAt:      m.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// Recipients is every participant but the sender.
func Recipients(participations []model.Participation, senderID uint) []uint {
	return lo.FilterMap(participations, func(p model.Participation, _ int) (uint, bool) {
		return p.UserID, p.UserID != senderID
	})
}

// Fanout emits exactly one delivery per recipient of an appended message.
// Transport failures are logged, never returned to the sender.
type Fanout struct {
	directory   *Directory
	broadcaster Broadcaster
	log         *slog.Logger
	timeout     time.Duration
}

func NewFanout(directory *Directory, broadcaster Broadcaster, log *slog.Logger, timeout time.Duration) *Fanout {
	return &Fanout{directory: directory, broadcaster: broadcaster, log: log, timeout: timeout}
}

// OnMessageAppended is the post-commit hook of the message store.
func (f *Fanout) OnMessageAppended(ctx context.Context, message model.Message, conversation model.Conversation) {
	f.Emit(ctx, message, conversation)
}

// Emit computes the recipients at call time and hands each one delivery.
// It returns the number of deliveries the transport accepted.
func (f *Fanout) Emit(ctx context.Context, message model.Message, conversation model.Conversation) int {
	// the sender's request may end right after the append; delivery must not die with it
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
	defer cancel()

	participations, err := f.directory.Participants(ctx, conversation.ID)
	if err != nil {
		f.log.Error("Fan-out could not resolve recipients", "conversation", conversation.ID, "message", message.ID, "error", err)
		return 0
	}
	recipients := Recipients(participations, message.SenderID)
	if len(recipients) == 0 {
		f.log.Debug("No recipient for message", "conversation", conversation.ID, "message", message.ID)
		return 0
	}

	payload := NewDeliveryPayload(message)
	accepted := 0
	for _, recipient := range recipients {
		delivery := Delivery{
			Channel:     Channel(conversation.ID),
			RecipientID: recipient,
			Event:       EventMessageSent,
			Payload:     payload,
		}
		if err := f.broadcaster.Deliver(ctx, delivery); err != nil {
			f.log.Error("Delivery failed", "conversation", conversation.ID, "message", message.ID, "recipient", recipient, "error", err)
			continue
		}
		accepted++
	}
	f.log.Debug("Message fanned out", "conversation", conversation.ID, "message", message.ID, "recipients", len(recipients), "accepted", accepted)
	return accepted
}

// Broadcasters delivers to several transports; every transport is tried.
type Broadcasters []Broadcaster

func (b Broadcasters) Deliver(ctx context.Context, delivery Delivery) error {
	var errs []error
	for _, broadcaster := range b {
		if err := broadcaster.Deliver(ctx, delivery); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
