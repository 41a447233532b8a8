package stub

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/KhoaHoangTrinhAnh/shopin-client/internal/adminchat"
	"github.com/KhoaHoangTrinhAnh/shopin-client/internal/chat"
)

func (s *Server) registerChatRoutes() {
	s.app.Get("/api/chat/conversation", s.getConversation)
	s.app.Get("/api/chat/messages", s.getMessages)
	s.app.Post("/api/chat/messages", s.sendMessage)
	s.app.Put("/api/chat/messages/mark-read", s.markMessagesRead)
	s.app.Get("/api/chat/unread-count", s.unreadCount)

	s.app.Get("/api/admin/chat/conversations", s.adminListConversations)
	s.app.Get("/api/admin/chat/conversations/:id/messages", s.adminGetMessages)
	s.app.Put("/api/admin/chat/conversations/:id/mark-read", s.adminMarkRead)
	s.app.Put("/api/admin/chat/conversations/:id/status", s.adminUpdateStatus)
	s.app.Post("/api/admin/chat/messages", s.adminSendMessage)
}

func (s *Server) getConversation(c *fiber.Ctx) error {
	id, _, err := identityFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}
	conv, _ := s.state.ConversationFor(id, false)
	return c.JSON(fiber.Map{"conversation": conv})
}

func (s *Server) getMessages(c *fiber.Ctx) error {
	id, _, err := identityFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}
	conv, _ := s.state.ConversationFor(id, false)
	if conv == nil {
		return c.JSON(fiber.Map{"messages": []chat.Message{}})
	}
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	return c.JSON(fiber.Map{"messages": s.state.Messages(conv.ID, limit)})
}

type sendMessageRequest struct {
	Message string `json:"message"`
	TempID  string `json:"tempId"`
}

func (s *Server) sendMessage(c *fiber.Ctx) error {
	id, _, err := identityFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}
	payload := new(sendMessageRequest)
	if err := c.BodyParser(payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	}
	if payload.Message == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "message required"})
	}

	// the first message creates the conversation
	conv, created := s.state.ConversationFor(id, true)
	msg := s.state.AppendMessage(conv, chat.Message{
		SenderID:   id,
		SenderRole: chat.RoleUser,
		Message:    payload.Message,
		TempID:     payload.TempID,
	})

	if created {
		s.hub.BroadcastNewConversation(*conv)
	}
	s.hub.BroadcastMessage(conv.ID, msg)
	s.hub.BroadcastConversationUpdated(*conv)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":      msg,
		"conversation": conv,
	})
}

func (s *Server) markMessagesRead(c *fiber.Ctx) error {
	id, _, err := identityFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}
	conv, _ := s.state.ConversationFor(id, false)
	if conv == nil {
		return c.SendStatus(fiber.StatusNoContent)
	}
	s.state.MarkMessagesRead(conv.ID, chat.RoleUser)
	s.hub.BroadcastMarkedRead(conv.ID, id)
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) unreadCount(c *fiber.Ctx) error {
	id, _, err := identityFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
	}
	conv, _ := s.state.ConversationFor(id, false)
	if conv == nil {
		return c.JSON(fiber.Map{"unreadCount": 0})
	}
	return c.JSON(fiber.Map{"unreadCount": s.state.UnreadCount(conv.ID)})
}

// requireAdmin writes the error response itself; on false the handler
// must return nil without touching the context again.
func (s *Server) requireAdmin(c *fiber.Ctx) (string, bool) {
	id, role, err := identityFromCtx(c)
	if err != nil {
		_ = c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
		return "", false
	}
	if role != chat.RoleAdmin {
		_ = c.Status(fiber.StatusForbidden).JSON(fiber.Map{"message": "admin role required"})
		return "", false
	}
	return id, true
}

func (s *Server) adminListConversations(c *fiber.Ctx) error {
	if _, ok := s.requireAdmin(c); !ok {
		return nil
	}
	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	convs, total := s.state.Conversations(c.Query("status"), c.Query("search"), page, limit)
	if convs == nil {
		convs = []chat.Conversation{}
	}
	totalPages := (total + limit - 1) / limit
	return c.JSON(fiber.Map{
		"conversations": convs,
		"pagination": adminchat.Pagination{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: totalPages,
		},
	})
}

func (s *Server) adminGetMessages(c *fiber.Ctx) error {
	if _, ok := s.requireAdmin(c); !ok {
		return nil
	}
	conv, err := s.state.ConversationByID(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "conversation not found"})
	}
	limit, _ := strconv.Atoi(c.Query("limit", "100"))
	return c.JSON(fiber.Map{"messages": s.state.Messages(conv.ID, limit)})
}

func (s *Server) adminMarkRead(c *fiber.Ctx) error {
	adminID, ok := s.requireAdmin(c)
	if !ok {
		return nil
	}
	conv, cerr := s.state.ConversationByID(c.Params("id"))
	if cerr != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "conversation not found"})
	}
	s.state.MarkMessagesRead(conv.ID, chat.RoleAdmin)
	s.hub.BroadcastMarkedRead(conv.ID, adminID)
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) adminUpdateStatus(c *fiber.Ctx) error {
	if _, ok := s.requireAdmin(c); !ok {
		return nil
	}
	payload := new(struct {
		Status string `json:"status"`
	})
	if err := c.BodyParser(payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	}
	switch chat.ConversationStatus(payload.Status) {
	case chat.StatusOpen, chat.StatusPending, chat.StatusClosed:
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "invalid status"})
	}
	conv, err := s.state.SetConversationStatus(c.Params("id"), chat.ConversationStatus(payload.Status))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "conversation not found"})
	}
	s.hub.BroadcastConversationUpdated(*conv)
	return c.JSON(conv)
}

type adminSendRequest struct {
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
	TempID         string `json:"tempId"`
}

func (s *Server) adminSendMessage(c *fiber.Ctx) error {
	adminID, ok := s.requireAdmin(c)
	if !ok {
		return nil
	}
	payload := new(adminSendRequest)
	if err := c.BodyParser(payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	}
	if payload.Message == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "message required"})
	}
	conv, cerr := s.state.ConversationByID(payload.ConversationID)
	if cerr != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "conversation not found"})
	}
	msg := s.state.AppendMessage(conv, chat.Message{
		SenderID:   adminID,
		SenderRole: chat.RoleAdmin,
		Message:    payload.Message,
		TempID:     payload.TempID,
	})
	s.hub.BroadcastMessage(conv.ID, msg)
	s.hub.BroadcastConversationUpdated(*conv)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": msg})
}
