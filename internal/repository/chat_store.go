package repository

import (
	"context"
	"fmt"

	"github.com/saeid-a/ChambaBack/internal/models"
)

// ConversationGuard runs against the locked conversation row and aborts the
// transaction by returning an error.
type ConversationGuard func(conversation *models.Conversation) error

type MessageGuard func(conversation *models.Conversation, message *models.Message) error

type pool interface {
	DBTX
	txBeginner
}

type ChatStore struct {
	db               pool
	conversationRepo *ConversationRepository
	messageRepo      *MessageRepository
}

func NewChatStore(db pool) *ChatStore {
	return &ChatStore{
		db:               db,
		conversationRepo: NewConversationRepository(db),
		messageRepo:      NewMessageRepository(db),
	}
}

func (s *ChatStore) withTx(
	ctx context.Context,
	fn func(conversations *ConversationRepository, messages *MessageRepository) error,
) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(NewConversationRepository(tx), NewMessageRepository(tx)); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *ChatStore) CreateConversation(
	ctx context.Context,
	companyID int64,
	workerID int64,
	jobPostID *int64,
) (*models.Conversation, bool, error) {
	return s.conversationRepo.Create(ctx, companyID, workerID, jobPostID)
}

func (s *ChatStore) GetConversation(ctx context.Context, conversationID int64) (*models.Conversation, error) {
	return s.conversationRepo.GetByID(ctx, conversationID)
}

func (s *ChatStore) GetConversationByPair(ctx context.Context, companyID, workerID int64) (*models.Conversation, error) {
	return s.conversationRepo.GetByPair(ctx, companyID, workerID)
}

func (s *ChatStore) GetConversationDetail(ctx context.Context, conversationID int64) (*models.ConversationDetail, error) {
	return s.conversationRepo.GetDetail(ctx, conversationID)
}

func (s *ChatStore) ListConversations(ctx context.Context, participantID int64) ([]models.ConversationSummary, error) {
	return s.conversationRepo.ListForParticipant(ctx, participantID)
}

func (s *ChatStore) UnreadTotal(ctx context.Context, participantID int64) (int, error) {
	return s.conversationRepo.UnreadTotal(ctx, participantID)
}

func (s *ChatStore) ListMessages(
	ctx context.Context,
	conversationID int64,
	beforeSeq int64,
	limit int,
) ([]models.Message, error) {
	return s.messageRepo.ListByConversation(ctx, conversationID, beforeSeq, limit)
}

func (s *ChatStore) GetMessage(ctx context.Context, messageID int64) (*models.Message, error) {
	return s.messageRepo.GetByID(ctx, messageID)
}

func (s *ChatStore) CloseConversation(
	ctx context.Context,
	conversationID int64,
	closedBy int64,
	guard ConversationGuard,
) (*models.Conversation, bool, error) {
	var (
		result  *models.Conversation
		changed bool
	)
	err := s.withTx(ctx, func(conversations *ConversationRepository, _ *MessageRepository) error {
		current, err := conversations.GetByIDForUpdate(ctx, conversationID)
		if err != nil {
			return err
		}
		if err := guard(current); err != nil {
			return err
		}
		if current.Status == models.ConversationStatusClosed {
			result = current
			return nil
		}

		closed, err := conversations.MarkClosed(ctx, conversationID, closedBy)
		if err != nil {
			return err
		}
		result = closed
		changed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, changed, nil
}

func (s *ChatStore) AppendMessage(
	ctx context.Context,
	conversationID int64,
	senderID int64,
	body models.MessageBody,
	guard ConversationGuard,
) (*models.Conversation, *models.Message, error) {
	var (
		conversation *models.Conversation
		message      *models.Message
	)
	err := s.withTx(ctx, func(conversations *ConversationRepository, messages *MessageRepository) error {
		current, err := conversations.GetByIDForUpdate(ctx, conversationID)
		if err != nil {
			return err
		}
		if err := guard(current); err != nil {
			return err
		}

		reserved, err := conversations.ReserveMessageSlot(ctx, conversationID, senderID)
		if err != nil {
			return err
		}

		created, err := messages.Create(ctx, CreateMessageInput{
			ConversationID: conversationID,
			SenderID:       senderID,
			Seq:            reserved.LastSeq,
			Body:           body,
			CreatedAt:      reserved.LastMessageAt,
		})
		if err != nil {
			return err
		}

		if err := conversations.SetLastMessage(ctx, conversationID, created.ID); err != nil {
			return err
		}
		reserved.LastMessageID = &created.ID

		conversation = reserved
		message = created
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return conversation, message, nil
}

func (s *ChatStore) MarkRead(
	ctx context.Context,
	conversationID int64,
	readerID int64,
	guard ConversationGuard,
) (*models.Conversation, int64, error) {
	var (
		conversation *models.Conversation
		changed      int64
	)
	err := s.withTx(ctx, func(conversations *ConversationRepository, messages *MessageRepository) error {
		current, err := conversations.GetByIDForUpdate(ctx, conversationID)
		if err != nil {
			return err
		}
		if err := guard(current); err != nil {
			return err
		}

		changed, err = messages.MarkConversationRead(ctx, conversationID, readerID)
		if err != nil {
			return err
		}
		if err := conversations.ResetUnread(ctx, conversationID, readerID); err != nil {
			return err
		}

		switch readerID {
		case current.CompanyID:
			current.CompanyUnread = 0
		case current.WorkerID:
			current.WorkerUnread = 0
		}
		conversation = current
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return conversation, changed, nil
}

func (s *ChatStore) EditMessage(
	ctx context.Context,
	messageID int64,
	body models.MessageBody,
	guard MessageGuard,
) (*models.Conversation, *models.Message, error) {
	var (
		conversation *models.Conversation
		edited       *models.Message
	)
	err := s.withLockedMessage(ctx, messageID, guard, func(conversations *ConversationRepository, messages *MessageRepository, current *models.Conversation, _ *models.Message) error {
		updated, err := messages.UpdateBody(ctx, messageID, body)
		if err != nil {
			return err
		}
		conversation = current
		edited = updated
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return conversation, edited, nil
}

func (s *ChatStore) DeleteMessage(
	ctx context.Context,
	messageID int64,
	guard MessageGuard,
) (*models.Conversation, *models.Message, error) {
	var (
		conversation *models.Conversation
		deleted      *models.Message
	)
	err := s.withLockedMessage(ctx, messageID, guard, func(conversations *ConversationRepository, messages *MessageRepository, current *models.Conversation, _ *models.Message) error {
		removed, err := messages.SoftDelete(ctx, messageID)
		if err != nil {
			return err
		}

		if !removed.IsRead {
			recipientID := current.CounterpartOf(removed.SenderID)
			if err := conversations.DecrementUnread(ctx, current.ID, recipientID); err != nil {
				return err
			}
		}
		if current.LastMessageID != nil && *current.LastMessageID == removed.ID {
			if err := conversations.RefreshLastMessage(ctx, current.ID); err != nil {
				return err
			}
		}

		refreshed, err := conversations.GetByID(ctx, current.ID)
		if err != nil {
			return err
		}
		conversation = refreshed
		deleted = removed
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return conversation, deleted, nil
}

// withLockedMessage locks the conversation before the message so it takes
// row locks in the same order as AppendMessage and MarkRead.
func (s *ChatStore) withLockedMessage(
	ctx context.Context,
	messageID int64,
	guard MessageGuard,
	fn func(*ConversationRepository, *MessageRepository, *models.Conversation, *models.Message) error,
) error {
	target, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return err
	}

	return s.withTx(ctx, func(conversations *ConversationRepository, messages *MessageRepository) error {
		current, err := conversations.GetByIDForUpdate(ctx, target.ConversationID)
		if err != nil {
			return err
		}
		locked, err := messages.GetByIDForUpdate(ctx, messageID)
		if err != nil {
			return err
		}
		if err := guard(current, locked); err != nil {
			return err
		}
		return fn(conversations, messages, current, locked)
	})
}
