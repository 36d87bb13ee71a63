package handlers

import (
	"context"
	"errors"
	"log"
	"strings"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/saeid-a/ChambaBack/internal/middleware"
	"github.com/saeid-a/ChambaBack/internal/models"
	"github.com/saeid-a/ChambaBack/internal/services"
	chatws "github.com/saeid-a/ChambaBack/internal/websocket"
	"github.com/saeid-a/ChambaBack/pkg/utils"
)

type conversationService interface {
	Create(ctx context.Context, actorID int64, role string, input services.CreateConversationInput) (*models.ConversationDetail, bool, error)
	GetExisting(ctx context.Context, actorID int64, role string, companyID int64, workerID int64) (*models.ConversationDetail, error)
	Get(ctx context.Context, actorID int64, role string, conversationID int64) (*models.ConversationDetail, error)
	ListForUser(ctx context.Context, actorID int64, role string) ([]models.ConversationSummary, error)
	Close(ctx context.Context, actorID int64, role string, conversationID int64) (*models.ConversationDetail, error)
	UnreadTotal(ctx context.Context, actorID int64, role string) (int, error)
}

type messageService interface {
	Append(ctx context.Context, actorID int64, role string, conversationID int64, input services.SendMessageInput) (*models.Message, error)
	AppendFile(ctx context.Context, actorID int64, role string, conversationID int64, upload services.AttachmentUpload) (*models.Message, error)
	ListByConversation(ctx context.Context, actorID int64, role string, conversationID int64, page services.MessagePageRequest) (*models.MessagePage, error)
	MarkRead(ctx context.Context, actorID int64, role string, conversationID int64) (*services.ReadReceipt, error)
	Edit(ctx context.Context, actorID int64, role string, messageID int64, content string) (*models.Message, error)
	Delete(ctx context.Context, actorID int64, role string, messageID int64) error
	AttachmentURL(ctx context.Context, actorID int64, role string, messageID int64) (string, error)
}

type ChatHandler struct {
	conversations conversationService
	messages      messageService
	hub           *chatws.Hub
	jwtSecret     string
}

type createConversationRequest struct {
	WorkerID  int64  `json:"worker_id"`
	JobPostID *int64 `json:"job_post_id"`
}

func NewChatHandler(
	conversations conversationService,
	messages messageService,
	hub *chatws.Hub,
	jwtSecret string,
) *ChatHandler {
	return &ChatHandler{
		conversations: conversations,
		messages:      messages,
		hub:           hub,
		jwtSecret:     jwtSecret,
	}
}

func (h *ChatHandler) ListConversations(c *fiber.Ctx) error {
	actorID, role, ok, err := currentActor(c)
	if !ok {
		return err
	}

	conversations, err := h.conversations.ListForUser(c.Context(), actorID, role)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"conversations": conversations})
}

func (h *ChatHandler) CreateConversation(c *fiber.Ctx) error {
	actorID, role, ok, err := currentActor(c)
	if !ok {
		return err
	}

	var req createConversationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	conversation, created, err := h.conversations.Create(c.Context(), actorID, role, services.CreateConversationInput{
		WorkerID:  req.WorkerID,
		JobPostID: req.JobPostID,
	})
	if err != nil {
		return mapChatError(c, err)
	}

	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(fiber.Map{"conversation": conversation, "created": created})
}

func (h *ChatHandler) GetExistingConversation(c *fiber.Ctx) error {
	actorID, role, ok, err := currentActor(c)
	if !ok {
		return err
	}

	companyID, okCompany := parseIDQuery(c, "company_id")
	workerID, okWorker := parseIDQuery(c, "worker_id")
	if !okCompany || !okWorker {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "company_id and worker_id are required"})
	}

	conversation, err := h.conversations.GetExisting(c.Context(), actorID, role, companyID, workerID)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"conversation": conversation})
}

func (h *ChatHandler) GetConversation(c *fiber.Ctx) error {
	actorID, role, ok, err := currentActor(c)
	if !ok {
		return err
	}

	conversationID, valid := parseIDParam(c, "id")
	if !valid {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation id"})
	}

	conversation, err := h.conversations.Get(c.Context(), actorID, role, conversationID)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"conversation": conversation})
}

func (h *ChatHandler) CloseConversation(c *fiber.Ctx) error {
	actorID, role, ok, err := currentActor(c)
	if !ok {
		return err
	}

	conversationID, valid := parseIDParam(c, "id")
	if !valid {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation id"})
	}

	conversation, err := h.conversations.Close(c.Context(), actorID, role, conversationID)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"conversation": conversation})
}

func (h *ChatHandler) UnreadTotal(c *fiber.Ctx) error {
	actorID, role, ok, err := currentActor(c)
	if !ok {
		return err
	}

	total, err := h.conversations.UnreadTotal(c.Context(), actorID, role)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"unread_count": total})
}

func (h *ChatHandler) WebSocketAuth(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{"error": "WebSocket upgrade required"})
	}

	claims, err := h.parseWSClaims(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid or expired token"})
	}
	if bound, err := middleware.BindActor(c, claims); !bound {
		return err
	}
	return c.Next()
}

func (h *ChatHandler) HandleWebSocket(conn *websocket.Conn) {
	userID, _ := conn.Locals("user_id").(string)
	role, _ := conn.Locals("role").(string)
	client := chatws.NewClient(h.hub, conn, userID)

	if !h.hub.Register(client) {
		_ = conn.Close()
		return
	}
	go client.WritePump()
	client.ReadPump(h.messages, role)
}

func (h *ChatHandler) parseWSClaims(c *fiber.Ctx) (*utils.Claims, error) {
	tokenString := strings.TrimSpace(c.Query("token"))
	if tokenString == "" {
		tokenString, _ = middleware.BearerToken(c.Get("Authorization"))
	}

	if tokenString == "" {
		return nil, errors.New("missing token")
	}

	return utils.ValidateToken(tokenString, h.jwtSecret)
}

func mapChatError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrEmptyContent):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Message content is empty"})
	case errors.Is(err, services.ErrContentTooLong):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Message content is too long"})
	case errors.Is(err, services.ErrUnsupportedKind):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Unsupported message kind"})
	case errors.Is(err, services.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	case errors.Is(err, services.ErrAttachmentTooLarge):
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{"error": "Attachment exceeds size limit"})
	case errors.Is(err, services.ErrAttachmentType):
		return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{"error": "Only PDF and Word documents are allowed"})
	case errors.Is(err, services.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	case errors.Is(err, services.ErrWorkerNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Worker not found"})
	case errors.Is(err, services.ErrJobPostNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Job post not found"})
	case errors.Is(err, services.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Not found"})
	case errors.Is(err, services.ErrConversationClosed):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Conversation is closed"})
	case errors.Is(err, services.ErrStorageUnavailable):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Attachment storage is not configured"})
	case errors.Is(err, services.ErrStoreUnavailable):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Service temporarily unavailable"})
	default:
		log.Printf("chat request %s %s: %v", c.Method(), c.Path(), err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process chat request"})
	}
}
