package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/recall/recall-backend/internal/api/middleware"
	"github.com/recall/recall-backend/internal/chat"
)

type sendMessageRequest struct {
	Content    string `json:"content"`
	Attachment string `json:"attachment,omitempty"`
}

// streamEvent is the JSON shape of one SSE/WebSocket stream element.
type streamEvent struct {
	Type  string `json:"type"` // "fragment", "error", "done"
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// SendMessage handles POST /api/v1/conversations/:id/messages
func SendMessage(orchestrator *chat.Orchestrator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		conversationID, err := parseID(c)
		if err != nil {
			return errorResponse(c, err)
		}
		var req sendMessageRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}

		modelTurn, err := orchestrator.SendMessage(c.Context(), middleware.GetUserID(c), conversationID, req.Content, req.Attachment)
		if err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(modelTurn)
	}
}

// RegenerateLast handles POST /api/v1/conversations/:id/regenerate
func RegenerateLast(orchestrator *chat.Orchestrator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		conversationID, err := parseID(c)
		if err != nil {
			return errorResponse(c, err)
		}
		modelTurn, err := orchestrator.RegenerateLast(c.Context(), middleware.GetUserID(c), conversationID)
		if err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(modelTurn)
	}
}

// StreamMessageSSE handles POST /api/v1/conversations/:id/messages/stream
func StreamMessageSSE(orchestrator *chat.Orchestrator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		conversationID, err := parseID(c)
		if err != nil {
			return errorResponse(c, err)
		}
		var req sendMessageRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}

		// The request context is not canceled when the client drops, so the
		// stream runs under its own context. Disconnects show up as flush
		// failures and are propagated through cancel.
		ctx, cancel := context.WithCancel(context.Background())

		// Validation and the user-turn persist happen before headers are
		// committed, so pre-stream failures still map to real statuses.
		stream, err := orchestrator.SendMessageStream(ctx, middleware.GetUserID(c), conversationID, req.Content, req.Attachment)
		if err != nil {
			cancel()
			return errorResponse(c, err)
		}

		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")

		c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
			defer cancel()
			for fragment := range stream {
				event := streamEvent{Type: "fragment", Text: fragment.Text}
				if fragment.Err != nil {
					event = streamEvent{Type: "error", Error: fragment.Err.Error()}
				}
				data, _ := json.Marshal(event)
				fmt.Fprintf(w, "data: %s\n\n", data)
				if w.Flush() != nil {
					// Client gone. Cancel and drain so the relay can finish,
					// commit the partial reply, and release the conversation.
					cancel()
					for range stream {
					}
					return
				}
			}
			fmt.Fprintf(w, "data: %s\n\n", `{"type":"done"}`)
			w.Flush()
		})

		return nil
	}
}

// StreamMessageWS handles the WebSocket variant at
// GET /api/v1/conversations/:id/stream. One message request per connection.
func StreamMessageWS(orchestrator *chat.Orchestrator) func(*websocket.Conn) {
	return func(conn *websocket.Conn) {
		defer conn.Close()

		userID, _ := conn.Locals("user_id").(uuid.UUID)
		conversationID, err := uuid.Parse(conn.Params("id"))
		if err != nil {
			conn.WriteJSON(streamEvent{Type: "error", Error: "invalid conversation id"})
			return
		}

		var req sendMessageRequest
		if err := conn.ReadJSON(&req); err != nil {
			conn.WriteJSON(streamEvent{Type: "error", Error: "invalid request"})
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		stream, err := orchestrator.SendMessageStream(ctx, userID, conversationID, req.Content, req.Attachment)
		if err != nil {
			conn.WriteJSON(streamEvent{Type: "error", Error: err.Error()})
			return
		}

		for fragment := range stream {
			event := streamEvent{Type: "fragment", Text: fragment.Text}
			if fragment.Err != nil {
				event = streamEvent{Type: "error", Error: fragment.Err.Error()}
			}
			if err := conn.WriteJSON(event); err != nil {
				// Client disconnected; cancel so the orchestrator stops
				// consuming and commits the partial reply.
				cancel()
				for range stream {
				}
				return
			}
		}
		conn.WriteJSON(streamEvent{Type: "done"})
	}
}
