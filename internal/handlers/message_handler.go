package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/saeid-a/ChambaBack/internal/models"
	"github.com/saeid-a/ChambaBack/internal/services"
)

type sendMessageRequest struct {
	Kind    models.MessageKind `json:"kind"`
	Content string             `json:"content"`
}

type editMessageRequest struct {
	Content string `json:"content"`
}

func (h *ChatHandler) GetMessages(c *fiber.Ctx) error {
	actorID, role, ok, err := currentActor(c)
	if !ok {
		return err
	}

	conversationID, valid := parseIDParam(c, "id")
	if !valid {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation id"})
	}

	page, err := parseMessagePage(c.Query("before_seq"), c.Query("limit"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid before_seq"})
	}

	result, err := h.messages.ListByConversation(c.Context(), actorID, role, conversationID, page)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(result)
}

func (h *ChatHandler) SendMessage(c *fiber.Ctx) error {
	actorID, role, ok, err := currentActor(c)
	if !ok {
		return err
	}

	conversationID, valid := parseIDParam(c, "id")
	if !valid {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation id"})
	}

	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.Kind == "" {
		req.Kind = models.MessageKindText
	}

	message, err := h.messages.Append(c.Context(), actorID, role, conversationID, services.SendMessageInput{
		Kind:    req.Kind,
		Content: req.Content,
	})
	if err != nil {
		return mapChatError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": message})
}

func (h *ChatHandler) UploadAttachment(c *fiber.Ctx) error {
	actorID, role, ok, err := currentActor(c)
	if !ok {
		return err
	}

	conversationID, valid := parseIDParam(c, "id")
	if !valid {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation id"})
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "file is required"})
	}

	file, err := fileHeader.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid file"})
	}
	defer file.Close()

	message, err := h.messages.AppendFile(c.Context(), actorID, role, conversationID, services.AttachmentUpload{
		Filename: fileHeader.Filename,
		Size:     fileHeader.Size,
		MimeType: fileHeader.Header.Get("Content-Type"),
		Body:     file,
	})
	if err != nil {
		return mapChatError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": message})
}

func (h *ChatHandler) MarkRead(c *fiber.Ctx) error {
	actorID, role, ok, err := currentActor(c)
	if !ok {
		return err
	}

	conversationID, valid := parseIDParam(c, "id")
	if !valid {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation id"})
	}

	receipt, err := h.messages.MarkRead(c.Context(), actorID, role, conversationID)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(receipt)
}

func (h *ChatHandler) EditMessage(c *fiber.Ctx) error {
	actorID, role, ok, err := currentActor(c)
	if !ok {
		return err
	}

	messageID, valid := parseIDParam(c, "id")
	if !valid {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid message id"})
	}

	var req editMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	message, err := h.messages.Edit(c.Context(), actorID, role, messageID, req.Content)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"message": message})
}

func (h *ChatHandler) DeleteMessage(c *fiber.Ctx) error {
	actorID, role, ok, err := currentActor(c)
	if !ok {
		return err
	}

	messageID, valid := parseIDParam(c, "id")
	if !valid {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid message id"})
	}

	if err := h.messages.Delete(c.Context(), actorID, role, messageID); err != nil {
		return mapChatError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ChatHandler) GetAttachmentURL(c *fiber.Ctx) error {
	actorID, role, ok, err := currentActor(c)
	if !ok {
		return err
	}

	messageID, valid := parseIDParam(c, "id")
	if !valid {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid message id"})
	}

	url, err := h.messages.AttachmentURL(c.Context(), actorID, role, messageID)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"url": url})
}
