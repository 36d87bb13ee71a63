package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/saeid-a/ChambaBack/internal/changefeed"
	"github.com/saeid-a/ChambaBack/internal/models"
	"github.com/saeid-a/ChambaBack/internal/repository"
)

const (
	defaultMessagePageLimit = 50
	maxMessagePageLimit     = 200
)

type messageStore interface {
	GetConversation(ctx context.Context, conversationID int64) (*models.Conversation, error)
	GetMessage(ctx context.Context, messageID int64) (*models.Message, error)
	ListMessages(ctx context.Context, conversationID int64, beforeSeq int64, limit int) ([]models.Message, error)
	AppendMessage(ctx context.Context, conversationID, senderID int64, body models.MessageBody, guard repository.ConversationGuard) (*models.Conversation, *models.Message, error)
	MarkRead(ctx context.Context, conversationID, readerID int64, guard repository.ConversationGuard) (*models.Conversation, int64, error)
	EditMessage(ctx context.Context, messageID int64, body models.MessageBody, guard repository.MessageGuard) (*models.Conversation, *models.Message, error)
	DeleteMessage(ctx context.Context, messageID int64, guard repository.MessageGuard) (*models.Conversation, *models.Message, error)
}

type MessageService struct {
	store              messageStore
	storage            StorageService
	feed               changefeed.Feed
	timeout            time.Duration
	maxAttachmentBytes int64
}

type SendMessageInput struct {
	Kind    models.MessageKind
	Content string
}

// MessagePageRequest selects a window of history. The zero value returns the
// full history.
type MessagePageRequest struct {
	BeforeSeq int64
	Limit     int
}

type ReadReceipt struct {
	ConversationID int64 `json:"conversation_id"`
	Marked         int64 `json:"marked"`
	UnreadCount    int   `json:"unread_count"`
}

func NewMessageService(
	store messageStore,
	storage StorageService,
	feed changefeed.Feed,
	timeout time.Duration,
	maxAttachmentBytes int64,
) *MessageService {
	if maxAttachmentBytes <= 0 {
		maxAttachmentBytes = DefaultMaxAttachmentBytes
	}
	return &MessageService{
		store:              store,
		storage:            storage,
		feed:               feed,
		timeout:            timeout,
		maxAttachmentBytes: maxAttachmentBytes,
	}
}

// canSend is the send policy: the sender participates and the conversation
// is still active.
func canSend(senderID int64) repository.ConversationGuard {
	return func(conversation *models.Conversation) error {
		if !conversation.IsParticipant(senderID) {
			return ErrForbidden
		}
		if !conversation.CanSendMessages() {
			return ErrConversationClosed
		}
		return nil
	}
}

func isParticipant(actorID int64) repository.ConversationGuard {
	return func(conversation *models.Conversation) error {
		if !conversation.IsParticipant(actorID) {
			return ErrForbidden
		}
		return nil
	}
}

// Append stores a text or emoji message. Files go through AppendFile.
func (s *MessageService) Append(
	ctx context.Context,
	actorID int64,
	role string,
	conversationID int64,
	input SendMessageInput,
) (*models.Message, error) {
	if !models.ValidRole(role) {
		return nil, ErrForbidden
	}
	if conversationID <= 0 {
		return nil, ErrInvalidInput
	}

	body, err := buildMessageBody(input.Kind, input.Content)
	if err != nil {
		return nil, err
	}

	return s.append(ctx, actorID, conversationID, body)
}

func (s *MessageService) append(
	ctx context.Context,
	actorID int64,
	conversationID int64,
	body models.MessageBody,
) (*models.Message, error) {
	ctx, cancel := withStoreTimeout(ctx, s.timeout)
	defer cancel()

	conversation, message, err := s.store.AppendMessage(ctx, conversationID, actorID, body, canSend(actorID))
	if err != nil {
		return nil, storeError(err, ErrNotFound)
	}

	publishChange(ctx, s.feed, changefeed.EntityMessages, changefeed.OpInsert, conversation)
	publishChange(ctx, s.feed, changefeed.EntityConversations, changefeed.OpUpdate, conversation)
	return message, nil
}

// AppendFile validates the attachment before touching storage, uploads it and
// appends a file message. The object is removed again if the append fails.
func (s *MessageService) AppendFile(
	ctx context.Context,
	actorID int64,
	role string,
	conversationID int64,
	upload AttachmentUpload,
) (*models.Message, error) {
	if !models.ValidRole(role) {
		return nil, ErrForbidden
	}
	if conversationID <= 0 {
		return nil, ErrInvalidInput
	}

	mimeType, err := validateAttachment(upload, s.maxAttachmentBytes)
	if err != nil {
		return nil, err
	}
	if s.storage == nil {
		return nil, ErrStorageUnavailable
	}

	lookupCtx, cancel := withStoreTimeout(ctx, s.timeout)
	conversation, err := s.store.GetConversation(lookupCtx, conversationID)
	cancel()
	if err != nil {
		return nil, storeError(err, ErrNotFound)
	}
	if err := canSend(actorID)(conversation); err != nil {
		return nil, err
	}

	fileURL, err := s.storage.UploadFile(
		ctx,
		upload.Body,
		mimeType,
		buildAttachmentFilename(upload.Filename),
		attachmentFolder(conversationID),
	)
	if err != nil {
		return nil, fmt.Errorf("upload attachment: %w", err)
	}

	message, err := s.append(ctx, actorID, conversationID, models.FileBody{
		URL:      fileURL,
		Name:     displayFilename(upload.Filename),
		MimeType: mimeType,
	})
	if err != nil {
		cleanupErr := s.storage.DeleteFile(context.WithoutCancel(ctx), fileURL)
		if cleanupErr != nil {
			return nil, errors.Join(err, fmt.Errorf("cleanup failed: %w", cleanupErr))
		}
		return nil, err
	}

	return message, nil
}

func (s *MessageService) ListByConversation(
	ctx context.Context,
	actorID int64,
	role string,
	conversationID int64,
	page MessagePageRequest,
) (*models.MessagePage, error) {
	if !models.ValidRole(role) {
		return nil, ErrForbidden
	}
	if conversationID <= 0 || page.BeforeSeq < 0 || page.Limit < 0 {
		return nil, ErrInvalidInput
	}

	ctx, cancel := withStoreTimeout(ctx, s.timeout)
	defer cancel()

	conversation, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, storeError(err, ErrNotFound)
	}
	if !conversation.IsParticipant(actorID) {
		return nil, ErrForbidden
	}

	if page.Limit == 0 && page.BeforeSeq == 0 {
		messages, err := s.store.ListMessages(ctx, conversationID, 0, 0)
		if err != nil {
			return nil, storeError(err, ErrNotFound)
		}
		return &models.MessagePage{Messages: messages}, nil
	}

	limit := page.Limit
	if limit == 0 {
		limit = defaultMessagePageLimit
	}
	if limit > maxMessagePageLimit {
		limit = maxMessagePageLimit
	}

	messages, err := s.store.ListMessages(ctx, conversationID, page.BeforeSeq, limit+1)
	if err != nil {
		return nil, storeError(err, ErrNotFound)
	}

	result := &models.MessagePage{Messages: messages}
	if len(messages) > limit {
		result.Messages = messages[1:]
		result.HasMore = true
		next := result.Messages[0].Seq
		result.NextBeforeSeq = &next
	}
	return result, nil
}

func (s *MessageService) MarkRead(
	ctx context.Context,
	actorID int64,
	role string,
	conversationID int64,
) (*ReadReceipt, error) {
	if !models.ValidRole(role) {
		return nil, ErrForbidden
	}
	if conversationID <= 0 {
		return nil, ErrInvalidInput
	}

	ctx, cancel := withStoreTimeout(ctx, s.timeout)
	defer cancel()

	conversation, marked, err := s.store.MarkRead(ctx, conversationID, actorID, isParticipant(actorID))
	if err != nil {
		return nil, storeError(err, ErrNotFound)
	}

	if marked > 0 {
		publishChange(ctx, s.feed, changefeed.EntityMessages, changefeed.OpUpdate, conversation)
	}

	return &ReadReceipt{
		ConversationID: conversationID,
		Marked:         marked,
		UnreadCount:    conversation.UnreadFor(actorID),
	}, nil
}

func (s *MessageService) Edit(
	ctx context.Context,
	actorID int64,
	role string,
	messageID int64,
	content string,
) (*models.Message, error) {
	if !models.ValidRole(role) {
		return nil, ErrForbidden
	}
	if messageID <= 0 {
		return nil, ErrInvalidInput
	}

	ctx, cancel := withStoreTimeout(ctx, s.timeout)
	defer cancel()

	current, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, storeError(err, ErrNotFound)
	}
	if current.SenderID != actorID {
		return nil, ErrForbidden
	}

	body, err := buildMessageBody(current.Kind(), content)
	if err != nil {
		return nil, err
	}

	conversation, edited, err := s.store.EditMessage(ctx, messageID, body, func(conversation *models.Conversation, locked *models.Message) error {
		if locked.IsDeleted {
			return ErrNotFound
		}
		if locked.SenderID != actorID {
			return ErrForbidden
		}
		if locked.Kind() != body.Kind() {
			return ErrUnsupportedKind
		}
		if !conversation.CanSendMessages() {
			return ErrConversationClosed
		}
		return nil
	})
	if err != nil {
		return nil, storeError(err, ErrNotFound)
	}

	publishChange(ctx, s.feed, changefeed.EntityMessages, changefeed.OpUpdate, conversation)
	return edited, nil
}

func (s *MessageService) Delete(
	ctx context.Context,
	actorID int64,
	role string,
	messageID int64,
) error {
	if !models.ValidRole(role) {
		return ErrForbidden
	}
	if messageID <= 0 {
		return ErrInvalidInput
	}

	ctx, cancel := withStoreTimeout(ctx, s.timeout)
	defer cancel()

	conversation, _, err := s.store.DeleteMessage(ctx, messageID, func(_ *models.Conversation, locked *models.Message) error {
		if locked.IsDeleted {
			return ErrNotFound
		}
		if locked.SenderID != actorID {
			return ErrForbidden
		}
		return nil
	})
	if err != nil {
		return storeError(err, ErrNotFound)
	}

	publishChange(ctx, s.feed, changefeed.EntityMessages, changefeed.OpUpdate, conversation)
	publishChange(ctx, s.feed, changefeed.EntityConversations, changefeed.OpUpdate, conversation)
	return nil
}

func (s *MessageService) AttachmentURL(
	ctx context.Context,
	actorID int64,
	role string,
	messageID int64,
) (string, error) {
	if !models.ValidRole(role) {
		return "", ErrForbidden
	}
	if messageID <= 0 {
		return "", ErrInvalidInput
	}
	if s.storage == nil {
		return "", ErrStorageUnavailable
	}

	ctx, cancel := withStoreTimeout(ctx, s.timeout)
	defer cancel()

	message, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return "", storeError(err, ErrNotFound)
	}
	conversation, err := s.store.GetConversation(ctx, message.ConversationID)
	if err != nil {
		return "", storeError(err, ErrNotFound)
	}
	if !conversation.IsParticipant(actorID) {
		return "", ErrForbidden
	}

	file, ok := message.Body.(models.FileBody)
	if !ok {
		return "", fmt.Errorf("%w: message has no attachment", ErrInvalidInput)
	}

	return s.storage.GetSignedURL(ctx, file.URL)
}
