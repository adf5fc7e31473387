package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/recall/recall-backend/internal/api/middleware"
	"github.com/recall/recall-backend/internal/chat"
)

// CreateConversation handles POST /api/v1/conversations
func CreateConversation(orchestrator *chat.Orchestrator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req struct {
			Title string `json:"title"`
		}
		if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}

		conversation, err := orchestrator.CreateConversation(c.Context(), middleware.GetUserID(c), req.Title)
		if err != nil {
			return errorResponse(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(conversation)
	}
}

// ListConversations handles GET /api/v1/conversations?q=
func ListConversations(orchestrator *chat.Orchestrator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		conversations, err := orchestrator.ListConversations(c.Context(), middleware.GetUserID(c), c.Query("q"))
		if err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(fiber.Map{"conversations": conversations})
	}
}

// GetConversation handles GET /api/v1/conversations/:id
func GetConversation(orchestrator *chat.Orchestrator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		conversationID, err := parseID(c)
		if err != nil {
			return errorResponse(c, err)
		}
		conversation, err := orchestrator.GetConversation(c.Context(), middleware.GetUserID(c), conversationID)
		if err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(conversation)
	}
}

// ListTurns handles GET /api/v1/conversations/:id/turns
func ListTurns(orchestrator *chat.Orchestrator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		conversationID, err := parseID(c)
		if err != nil {
			return errorResponse(c, err)
		}
		turns, err := orchestrator.ListTurns(c.Context(), middleware.GetUserID(c), conversationID)
		if err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(fiber.Map{"turns": turns})
	}
}

// RenameConversation handles PATCH /api/v1/conversations/:id
func RenameConversation(orchestrator *chat.Orchestrator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		conversationID, err := parseID(c)
		if err != nil {
			return errorResponse(c, err)
		}
		var req struct {
			Title string `json:"title"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
		if err := orchestrator.RenameConversation(c.Context(), middleware.GetUserID(c), conversationID, req.Title); err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(fiber.Map{"status": "renamed"})
	}
}

// DeleteConversation handles DELETE /api/v1/conversations/:id
func DeleteConversation(orchestrator *chat.Orchestrator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		conversationID, err := parseID(c)
		if err != nil {
			return errorResponse(c, err)
		}
		if err := orchestrator.DeleteConversation(c.Context(), middleware.GetUserID(c), conversationID); err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(fiber.Map{"status": "deleted"})
	}
}

// GetContextReport handles GET /api/v1/conversations/:id/context
func GetContextReport(orchestrator *chat.Orchestrator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		conversationID, err := parseID(c)
		if err != nil {
			return errorResponse(c, err)
		}
		report, err := orchestrator.BuildContextReport(c.Context(), middleware.GetUserID(c), conversationID)
		if err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(report)
	}
}

func parseID(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, &chat.ValidationError{Reason: "invalid conversation id"}
	}
	return id, nil
}
