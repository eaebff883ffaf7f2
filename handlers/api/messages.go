package api

import (
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nicksnyder/go-i18n/v2/i18n"

	"buddygate/messaging"
	"buddygate/models"
	"buddygate/utils"
)

// MessageHandler exposes the conversation engine to the mobile client.
type MessageHandler struct {
	validate *validator.Validate
}

// NewMessageHandler creates a new message handler
func NewMessageHandler() *MessageHandler {
	return &MessageHandler{validate: validator.New()}
}

// HandleThreads returns the (optionally filtered) thread list. The search
// query is part of store state so repeated polls stay consistent with the
// client's filter box.
func (h *MessageHandler) HandleThreads(c *fiber.Ctx) error {
	session := CurrentSession(c)

	store := session.Store
	store.SetSearch(c.Query("search"))
	if err := store.LoadThreads(c.Context()); err != nil {
		return err
	}

	snapshot := store.Snapshot()
	return c.JSON(fiber.Map{
		"success": true,
		"threads": snapshot.Filtered,
		"total":   len(snapshot.Threads),
		"flags":   snapshot.Flags,
	})
}

// HandleOpenThread makes the thread the active conversation and returns
// the counterparty selection plus the loaded messages.
func (h *MessageHandler) HandleOpenThread(c *fiber.Ctx) error {
	session := CurrentSession(c)
	threadID, err := threadParam(c)
	if err != nil {
		return err
	}

	selection, err := session.Store.OpenConversation(c.Context(), threadID)
	if err != nil {
		return err
	}

	snapshot := session.Store.Snapshot()
	return c.JSON(fiber.Map{
		"success":   true,
		"selection": selection,
		"messages":  activeMessages(snapshot),
		"flags":     snapshot.Flags,
	})
}

// HandleCloseThread discards the active conversation.
func (h *MessageHandler) HandleCloseThread(c *fiber.Ctx) error {
	CurrentSession(c).Store.CloseConversation()
	return c.JSON(fiber.Map{"success": true})
}

// HandleMessages returns the current conversation view, reflecting the
// provisional/confirmed lifecycle of any in-flight send.
func (h *MessageHandler) HandleMessages(c *fiber.Ctx) error {
	session := CurrentSession(c)
	threadID, err := threadParam(c)
	if err != nil {
		return err
	}

	snapshot := session.Store.Snapshot()
	if snapshot.Active == nil || snapshot.Active.ThreadID != threadID {
		if _, err := session.Store.OpenConversation(c.Context(), threadID); err != nil {
			return err
		}
		snapshot = session.Store.Snapshot()
	}

	return c.JSON(fiber.Map{
		"success":  true,
		"messages": activeMessages(snapshot),
		"draft":    snapshot.Draft,
		"flags":    snapshot.Flags,
	})
}

// SendRequest is the send-message payload.
type SendRequest struct {
	Message string `json:"message" validate:"required"`
}

// HandleSend performs an optimistic send into the active conversation.
// On delivery failure the provisional message has already been rolled
// back and the typed text is echoed back for the input field.
func (h *MessageHandler) HandleSend(c *fiber.Ctx) error {
	session := CurrentSession(c)
	threadID, err := threadParam(c)
	if err != nil {
		return err
	}

	var req SendRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.BadRequestError("Invalid request", err)
	}
	if err := h.validate.Struct(&req); err != nil {
		return utils.BadRequestError("Message text is required", err)
	}

	snapshot := session.Store.Snapshot()
	if snapshot.Active == nil || snapshot.Active.ThreadID != threadID {
		if _, err := session.Store.OpenConversation(c.Context(), threadID); err != nil {
			return err
		}
	}

	provisional, err := session.Store.Send(c.Context(), req.Message)
	if err != nil {
		if appErr, ok := err.(*utils.AppError); ok && appErr.Retryable {
			localizer, _ := c.Locals("localizer").(*i18n.Localizer)
			return c.Status(appErr.Code).JSON(fiber.Map{
				"success":   false,
				"error":     utils.T(localizer, "error_send_failed"),
				"retryable": true,
				"draft":     session.Store.Draft(),
			})
		}
		return err
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"success": true,
		"message": provisional,
	})
}

// HandleMarkRead clears the unread count for a thread.
func (h *MessageHandler) HandleMarkRead(c *fiber.Ctx) error {
	session := CurrentSession(c)
	threadID, err := threadParam(c)
	if err != nil {
		return err
	}

	session.Store.MarkRead(c.Context(), threadID)

	localizer, _ := c.Locals("localizer").(*i18n.Localizer)
	return c.JSON(fiber.Map{
		"success": true,
		"notice":  utils.T(localizer, "notice_marked_read"),
	})
}

// HandleStar stars a message in the active conversation.
func (h *MessageHandler) HandleStar(c *fiber.Ctx) error {
	return h.setStarred(c, true)
}

// HandleUnstar removes the star.
func (h *MessageHandler) HandleUnstar(c *fiber.Ctx) error {
	return h.setStarred(c, false)
}

func (h *MessageHandler) setStarred(c *fiber.Ctx, starred bool) error {
	session := CurrentSession(c)
	messageID := c.Params("id")
	if messageID == "" {
		return utils.BadRequestError("Message ID required", nil)
	}

	if err := session.Store.SetStarred(c.Context(), messageID, starred); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true})
}

// HandleRefresh reloads the active conversation and the thread list.
func (h *MessageHandler) HandleRefresh(c *fiber.Ctx) error {
	session := CurrentSession(c)
	if err := session.Store.Refresh(c.Context()); err != nil {
		return err
	}

	snapshot := session.Store.Snapshot()
	return c.JSON(fiber.Map{
		"success":  true,
		"threads":  snapshot.Filtered,
		"messages": activeMessages(snapshot),
		"flags":    snapshot.Flags,
	})
}

func threadParam(c *fiber.Ctx) (int, error) {
	threadID, err := strconv.Atoi(c.Params("id"))
	if err != nil || threadID <= 0 {
		return 0, utils.BadRequestError("Invalid thread ID", err)
	}
	return threadID, nil
}

func activeMessages(snapshot messaging.Snapshot) []models.ChatMessage {
	if snapshot.Active == nil {
		return []models.ChatMessage{}
	}
	return snapshot.Active.Messages
}
