package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"messenger-core/controller"
	"messenger-core/messenger"
	"messenger-core/model"
	"messenger-core/socketio"

	"github.com/zishang520/socket.io/v2/socket"
)

type SocketPage struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

type SocketConversation struct {
	ConversationID uint `json:"conversation_id"`
	SocketPage
}

type SocketSend struct {
	ConversationID uint              `json:"conversation_id"`
	Content        string            `json:"content"`
	Type           model.MessageType `json:"type"`
	ReplyToID      *uint             `json:"reply_to_id"`
}

type SocketRead struct {
	ConversationID uint       `json:"conversation_id"`
	At             *time.Time `json:"at"`
}

type SocketError struct {
	Event   string `json:"event"`
	Status  int    `json:"status"`
	Message string `json:"message"`
}

type SocketList struct {
	Items any             `json:"items"`
	Next  *messenger.Page `json:"next"`
}

var errUnauthenticated = errors.New("unauthenticated socket")

// Socket binds the realtime API. Each event answers the calling socket with an event of the
// same name, or with "error". New messages reach other participants through the fan-out.
func Socket(server *socketio.Server, service *messenger.Service, mediaBase string, log *slog.Logger) {
	server.On("connection", func(clients ...interface{}) {
		client := clients[0].(*socket.Socket)

		handle(client, log, "conversation_list", func(ctx context.Context, user uint, args []any) (any, error) {
			var in SocketPage
			if err := decode(args, &in); err != nil {
				return nil, err
			}
			summaries, next, err := service.ListConversations(ctx, user, messenger.Page{Offset: in.Offset, Limit: in.Limit})
			return SocketList{Items: summaries, Next: next}, err
		})

		handle(client, log, "conversation_messages", func(ctx context.Context, user uint, args []any) (any, error) {
			var in SocketConversation
			if err := decode(args, &in); err != nil {
				return nil, err
			}
			views, next, err := service.ListMessages(ctx, in.ConversationID, user, messenger.Page{Offset: in.Offset, Limit: in.Limit})
			return SocketList{Items: views, Next: next}, err
		})

		handle(client, log, "message_send", func(ctx context.Context, user uint, args []any) (any, error) {
			var in SocketSend
			if err := decode(args, &in); err != nil {
				return nil, err
			}
			message, err := service.Append(ctx, in.ConversationID, user, messenger.SendInput{
				Content:   in.Content,
				Type:      in.Type,
				ReplyToID: in.ReplyToID,
			})
			if err != nil {
				return nil, err
			}
			return messenger.NewMessageView(message, mediaBase), nil
		})

		handle(client, log, "message_read", func(ctx context.Context, user uint, args []any) (any, error) {
			var in SocketRead
			if err := decode(args, &in); err != nil {
				return nil, err
			}
			if err := service.MarkRead(ctx, in.ConversationID, user, in.At); err != nil {
				return nil, err
			}
			count, err := service.UnreadCount(ctx, in.ConversationID, user)
			return map[string]any{"conversation_id": in.ConversationID, "unread_count": count}, err
		})
	})
}

type socketHandler func(ctx context.Context, user uint, args []any) (any, error)

func handle(client *socket.Socket, log *slog.Logger, event string, h socketHandler) {
	client.On(event, func(args ...interface{}) {
		user, ok := socketio.Identity(client)
		if !ok {
			client.Emit("error", socketError(event, errUnauthenticated))
			return
		}
		result, err := h(context.Background(), user, args)
		if err != nil {
			if status, _ := controller.Status(err); status >= 500 {
				log.Error("Socket event failed", "event", event, "user", user, "error", err)
			}
			client.Emit("error", socketError(event, err))
			return
		}
		client.Emit(event, result)
	})
}

func socketError(event string, err error) SocketError {
	if errors.Is(err, errUnauthenticated) {
		return SocketError{Event: event, Status: 401, Message: "Invalid or expired JWT"}
	}
	status, message := controller.Status(err)
	return SocketError{Event: event, Status: status, Message: message}
}

// decode reads the first event argument, a JSON object or string, into v.
func decode(args []any, v any) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: missing event payload", messenger.ErrValidation)
	}
	var raw []byte
	switch arg := args[0].(type) {
	case string:
		raw = []byte(arg)
	case []byte:
		raw = arg
	default:
		var err error
		if raw, err = json.Marshal(arg); err != nil {
			return fmt.Errorf("%w: %v", messenger.ErrValidation, err)
		}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", messenger.ErrValidation, err)
	}
	return nil
}
