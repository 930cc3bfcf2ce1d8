package controller

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"messenger-core/messenger"
	"messenger-core/middleware"
	"messenger-core/model"
	"messenger-core/storage"

	"github.com/gofiber/fiber/v2"
	"github.com/samber/lo"
)

// Uploader stores an uploaded file and describes it as an attachment.
type Uploader interface {
	Save(ctx context.Context, name string, r io.Reader) (model.Attachment, error)
	Remove(ctx context.Context, path string) error
}

type DirectInput struct {
	UserID uint `json:"user_id"`
}

type GroupInput struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	ParticipantIDs []uint `json:"participant_ids"`
}

type ParticipantInput struct {
	UserID uint `json:"user_id"`
}

type RoleInput struct {
	Role model.Role `json:"role"`
}

type MessageInput struct {
	Content   string            `json:"content"`
	Type      model.MessageType `json:"type"`
	ReplyToID *uint             `json:"reply_to_id"`
}

type EditInput struct {
	Content string `json:"content"`
}

type ReactionInput struct {
	Kind string `json:"kind"`
}

type ReadInput struct {
	At *time.Time `json:"at"`
}

// Messenger serves the REST surface of the messenger core. The caller is always the
// user resolved by the identity middleware.
type Messenger struct {
	service   *messenger.Service
	uploader  Uploader
	mediaBase string
	log       *slog.Logger
}

func NewMessenger(service *messenger.Service, uploader Uploader, mediaBase string, log *slog.Logger) *Messenger {
	return &Messenger{service: service, uploader: uploader, mediaBase: mediaBase, log: log}
}

func (m *Messenger) ListConversations(c *fiber.Ctx) error {
	summaries, next, err := m.service.ListConversations(c.UserContext(), middleware.UserID(c), pageOf(c))
	if err != nil {
		return fail(c, m.log, err)
	}
	return success(c, fiber.StatusOK, page(summaries, next))
}

func (m *Messenger) CreateDirect(c *fiber.Ctx) error {
	input := new(DirectInput)
	if err := c.BodyParser(input); err != nil || input.UserID == 0 {
		return badInput(c)
	}
	conv, err := m.service.CreateOrGetDirect(c.UserContext(), middleware.UserID(c), input.UserID)
	if err != nil {
		return fail(c, m.log, err)
	}
	return m.conversation(c, conv.ID, fiber.StatusOK)
}

func (m *Messenger) CreateGroup(c *fiber.Ctx) error {
	input := new(GroupInput)
	if err := c.BodyParser(input); err != nil {
		return badInput(c)
	}
	conv, err := m.service.CreateGroup(c.UserContext(), middleware.UserID(c), input.Name, input.Description, input.ParticipantIDs)
	if err != nil {
		return fail(c, m.log, err)
	}
	return m.conversation(c, conv.ID, fiber.StatusCreated)
}

func (m *Messenger) GetConversation(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return badInput(c)
	}
	return m.conversation(c, uint(id), fiber.StatusOK)
}

func (m *Messenger) conversation(c *fiber.Ctx, id uint, status int) error {
	summary, err := m.service.GetConversation(c.UserContext(), id, middleware.UserID(c))
	if err != nil {
		return fail(c, m.log, err)
	}
	return success(c, status, summary)
}

func (m *Messenger) AddParticipant(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	input := new(ParticipantInput)
	if err != nil || id <= 0 || c.BodyParser(input) != nil || input.UserID == 0 {
		return badInput(c)
	}
	if err := m.service.AddParticipant(c.UserContext(), uint(id), middleware.UserID(c), input.UserID); err != nil {
		return fail(c, m.log, err)
	}
	return m.conversation(c, uint(id), fiber.StatusOK)
}

func (m *Messenger) RemoveParticipant(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	user, userErr := c.ParamsInt("user")
	if err != nil || userErr != nil || id <= 0 || user <= 0 {
		return badInput(c)
	}
	if err := m.service.RemoveParticipant(c.UserContext(), uint(id), middleware.UserID(c), uint(user)); err != nil {
		return fail(c, m.log, err)
	}
	return success(c, fiber.StatusOK, nil)
}

func (m *Messenger) SetRole(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	user, userErr := c.ParamsInt("user")
	input := new(RoleInput)
	if err != nil || userErr != nil || id <= 0 || user <= 0 || c.BodyParser(input) != nil {
		return badInput(c)
	}
	if err := m.service.SetRole(c.UserContext(), uint(id), middleware.UserID(c), uint(user), input.Role); err != nil {
		return fail(c, m.log, err)
	}
	return m.conversation(c, uint(id), fiber.StatusOK)
}

func (m *Messenger) ListMessages(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return badInput(c)
	}
	views, next, err := m.service.ListMessages(c.UserContext(), uint(id), middleware.UserID(c), pageOf(c))
	if err != nil {
		return fail(c, m.log, err)
	}
	return success(c, fiber.StatusOK, page(views, next))
}

// SendMessage accepts a JSON body, or a multipart form whose "files" become attachments.
func (m *Messenger) SendMessage(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return badInput(c)
	}
	ctx := c.UserContext()
	caller := middleware.UserID(c)

	var in messenger.SendInput
	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		// membership is checked before anything touches the disk
		if _, err := m.service.GetConversation(ctx, uint(id), caller); err != nil {
			return fail(c, m.log, err)
		}
		in, err = m.multipart(c)
		if err != nil {
			return fail(c, m.log, err)
		}
	} else {
		input := new(MessageInput)
		if err := c.BodyParser(input); err != nil {
			return badInput(c)
		}
		in = messenger.SendInput{Content: input.Content, Type: input.Type, ReplyToID: input.ReplyToID}
	}

	message, err := m.service.Append(ctx, uint(id), caller, in)
	if err != nil {
		m.discard(ctx, in.Attachments)
		return fail(c, m.log, err)
	}
	return success(c, fiber.StatusCreated, messenger.NewMessageView(message, m.mediaBase))
}

// discard removes uploads whose message was never stored.
func (m *Messenger) discard(ctx context.Context, attachments []model.Attachment) {
	ctx = context.WithoutCancel(ctx)
	for _, attachment := range attachments {
		if err := m.uploader.Remove(ctx, attachment.Path); err != nil {
			m.log.Warn("Failed to remove orphaned upload", "path", attachment.Path, "error", err)
		}
	}
}

func (m *Messenger) multipart(c *fiber.Ctx) (messenger.SendInput, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return messenger.SendInput{}, fmt.Errorf("%w: %v", messenger.ErrValidation, err)
	}
	in := messenger.SendInput{
		Content: first(form.Value["content"]),
		Type:    model.MessageType(first(form.Value["type"])),
	}
	if raw := first(form.Value["reply_to_id"]); raw != "" {
		replyTo, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return messenger.SendInput{}, fmt.Errorf("%w: reply_to_id %q", messenger.ErrValidation, raw)
		}
		in.ReplyToID = lo.ToPtr(uint(replyTo))
	}
	for _, fh := range form.File["files"] {
		file, err := fh.Open()
		if err != nil {
			m.discard(c.UserContext(), in.Attachments)
			return messenger.SendInput{}, err
		}
		attachment, err := m.uploader.Save(c.UserContext(), fh.Filename, file)
		_ = file.Close()
		if err != nil {
			m.discard(c.UserContext(), in.Attachments)
			return messenger.SendInput{}, err
		}
		in.Attachments = append(in.Attachments, attachment)
	}
	if in.Type == "" && len(in.Attachments) > 0 {
		in.Type = storage.MessageType(in.Attachments[0].MimeType)
	}
	return in, nil
}

func (m *Messenger) EditMessage(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	input := new(EditInput)
	if err != nil || id <= 0 || c.BodyParser(input) != nil {
		return badInput(c)
	}
	message, err := m.service.Edit(c.UserContext(), uint(id), middleware.UserID(c), input.Content)
	if err != nil {
		return fail(c, m.log, err)
	}
	return success(c, fiber.StatusOK, messenger.NewMessageView(message, m.mediaBase))
}

func (m *Messenger) DeleteMessage(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return badInput(c)
	}
	if err := m.service.SoftDelete(c.UserContext(), uint(id), middleware.UserID(c)); err != nil {
		return fail(c, m.log, err)
	}
	return success(c, fiber.StatusOK, nil)
}

func (m *Messenger) ToggleReaction(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	input := new(ReactionInput)
	if err != nil || id <= 0 || c.BodyParser(input) != nil {
		return badInput(c)
	}
	message, err := m.service.ToggleReaction(c.UserContext(), uint(id), middleware.UserID(c), input.Kind)
	if err != nil {
		return fail(c, m.log, err)
	}
	return success(c, fiber.StatusOK, messenger.NewMessageView(message, m.mediaBase))
}

func (m *Messenger) MarkRead(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return badInput(c)
	}
	input := new(ReadInput)
	if len(c.Body()) > 0 {
		if err := c.BodyParser(input); err != nil {
			return badInput(c)
		}
	}
	if err := m.service.MarkRead(c.UserContext(), uint(id), middleware.UserID(c), input.At); err != nil {
		return fail(c, m.log, err)
	}
	return m.unread(c, uint(id))
}

func (m *Messenger) UnreadCount(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return badInput(c)
	}
	return m.unread(c, uint(id))
}

func (m *Messenger) unread(c *fiber.Ctx, id uint) error {
	count, err := m.service.UnreadCount(c.UserContext(), id, middleware.UserID(c))
	if err != nil {
		return fail(c, m.log, err)
	}
	return success(c, fiber.StatusOK, fiber.Map{"unread_count": count})
}

func Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func pageOf(c *fiber.Ctx) messenger.Page {
	return messenger.Page{Offset: c.QueryInt("offset", 0), Limit: c.QueryInt("limit", 0)}
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
