package router

import (
	"messenger-core/controller"
	"messenger-core/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
)

// Rest mounts the REST API. Uploaded media is served read-only from uploadDir under /storage.
func Rest(app *fiber.App, m *controller.Messenger, accessKey string, uploadDir string) {
	app.Get("/health", controller.Health)
	if uploadDir != "" {
		app.Static("/storage", uploadDir, fiber.Static{Browse: false})
	}

	api := app.Group("/v1", logger.New(), middleware.JWT(accessKey), middleware.OTP(), middleware.Identity())

	// User
	api.Get("/user/profile", m.UserProfile)

	// Conversations
	conversations := api.Group("/conversations")
	conversations.Get("", m.ListConversations)
	conversations.Post("/direct", m.CreateDirect)
	conversations.Post("/group", m.CreateGroup)
	conversations.Get("/:id", m.GetConversation)
	conversations.Post("/:id/participants", m.AddParticipant)
	conversations.Delete("/:id/participants/:user", m.RemoveParticipant)
	conversations.Put("/:id/participants/:user/role", m.SetRole)
	conversations.Get("/:id/messages", m.ListMessages)
	conversations.Post("/:id/messages", m.SendMessage)
	conversations.Post("/:id/read", m.MarkRead)
	conversations.Get("/:id/unread", m.UnreadCount)

	// Messages
	messages := api.Group("/messages")
	messages.Patch("/:id", m.EditMessage)
	messages.Delete("/:id", m.DeleteMessage)
	messages.Post("/:id/reactions", m.ToggleReaction)
}
