package services

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/saeid-a/ChambaBack/internal/changefeed"
	"github.com/saeid-a/ChambaBack/internal/models"
	"github.com/saeid-a/ChambaBack/internal/notify"
	"github.com/saeid-a/ChambaBack/internal/repository"
	"golang.org/x/sync/singleflight"
)

type conversationStore interface {
	CreateConversation(ctx context.Context, companyID, workerID int64, jobPostID *int64) (*models.Conversation, bool, error)
	GetConversationByPair(ctx context.Context, companyID, workerID int64) (*models.Conversation, error)
	GetConversationDetail(ctx context.Context, conversationID int64) (*models.ConversationDetail, error)
	ListConversations(ctx context.Context, participantID int64) ([]models.ConversationSummary, error)
	UnreadTotal(ctx context.Context, participantID int64) (int, error)
	CloseConversation(ctx context.Context, conversationID, closedBy int64, guard repository.ConversationGuard) (*models.Conversation, bool, error)
}

type actorReader interface {
	GetByID(ctx context.Context, id int64) (*models.Actor, error)
}

type jobPostReader interface {
	GetByID(ctx context.Context, id int64) (*models.JobPost, error)
}

type ConversationService struct {
	store    conversationStore
	actors   actorReader
	jobPosts jobPostReader
	feed     changefeed.Feed
	hooks    notificationSink
	timeout  time.Duration

	// lists collapses concurrent list requests for the same user.
	lists singleflight.Group
}

type CreateConversationInput struct {
	WorkerID  int64
	JobPostID *int64
}

func NewConversationService(
	store conversationStore,
	actors actorReader,
	jobPosts jobPostReader,
	feed changefeed.Feed,
	hooks notificationSink,
	timeout time.Duration,
) *ConversationService {
	return &ConversationService{
		store:    store,
		actors:   actors,
		jobPosts: jobPosts,
		feed:     feed,
		hooks:    hooks,
		timeout:  timeout,
	}
}

func (s *ConversationService) Create(
	ctx context.Context,
	actorID int64,
	role string,
	input CreateConversationInput,
) (*models.ConversationDetail, bool, error) {
	if role != models.RoleCompany {
		return nil, false, ErrForbidden
	}
	if input.WorkerID <= 0 || input.WorkerID == actorID {
		return nil, false, ErrInvalidInput
	}
	if input.JobPostID != nil && *input.JobPostID <= 0 {
		return nil, false, ErrInvalidInput
	}

	ctx, cancel := withStoreTimeout(ctx, s.timeout)
	defer cancel()

	worker, err := s.actors.GetByID(ctx, input.WorkerID)
	if err != nil {
		return nil, false, storeError(err, ErrWorkerNotFound)
	}
	if worker.Role != models.RoleWorker {
		return nil, false, ErrWorkerNotFound
	}

	if input.JobPostID != nil {
		post, err := s.jobPosts.GetByID(ctx, *input.JobPostID)
		if err != nil {
			return nil, false, storeError(err, ErrJobPostNotFound)
		}
		if post.CompanyID != actorID {
			return nil, false, ErrForbidden
		}
	}

	existing, err := s.store.GetConversationByPair(ctx, actorID, input.WorkerID)
	switch {
	case err == nil:
		detail, err := s.store.GetConversationDetail(ctx, existing.ID)
		if err != nil {
			return nil, false, storeError(err, ErrNotFound)
		}
		return detail, false, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, false, storeError(err, ErrNotFound)
	}

	conversation, created, err := s.store.CreateConversation(ctx, actorID, input.WorkerID, input.JobPostID)
	if err != nil {
		return nil, false, storeError(err, ErrNotFound)
	}

	detail, err := s.store.GetConversationDetail(ctx, conversation.ID)
	if err != nil {
		return nil, false, storeError(err, ErrNotFound)
	}

	if created {
		publishChange(ctx, s.feed, changefeed.EntityConversations, changefeed.OpInsert, conversation)
		s.fire(notify.ConversationCreated, conversation)
	}

	return detail, created, nil
}

// GetExisting returns the conversation for the pair, or nil when none exists.
func (s *ConversationService) GetExisting(
	ctx context.Context,
	actorID int64,
	role string,
	companyID int64,
	workerID int64,
) (*models.ConversationDetail, error) {
	if !models.ValidRole(role) {
		return nil, ErrForbidden
	}
	if companyID <= 0 || workerID <= 0 {
		return nil, ErrInvalidInput
	}
	if actorID != companyID && actorID != workerID {
		return nil, ErrForbidden
	}

	ctx, cancel := withStoreTimeout(ctx, s.timeout)
	defer cancel()

	conversation, err := s.store.GetConversationByPair(ctx, companyID, workerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, storeError(err, ErrNotFound)
	}

	detail, err := s.store.GetConversationDetail(ctx, conversation.ID)
	if err != nil {
		return nil, storeError(err, ErrNotFound)
	}
	return detail, nil
}

func (s *ConversationService) Get(
	ctx context.Context,
	actorID int64,
	role string,
	conversationID int64,
) (*models.ConversationDetail, error) {
	if !models.ValidRole(role) {
		return nil, ErrForbidden
	}
	if conversationID <= 0 {
		return nil, ErrInvalidInput
	}

	ctx, cancel := withStoreTimeout(ctx, s.timeout)
	defer cancel()

	detail, err := s.store.GetConversationDetail(ctx, conversationID)
	if err != nil {
		return nil, storeError(err, ErrNotFound)
	}
	if !detail.IsParticipant(actorID) {
		return nil, ErrForbidden
	}
	return detail, nil
}

func (s *ConversationService) ListForUser(
	ctx context.Context,
	actorID int64,
	role string,
) ([]models.ConversationSummary, error) {
	if !models.ValidRole(role) {
		return nil, ErrForbidden
	}

	// The shared load must not inherit one caller's cancellation.
	flightCtx := context.WithoutCancel(ctx)
	ch := s.lists.DoChan(strconv.FormatInt(actorID, 10), func() (any, error) {
		listCtx, cancel := withStoreTimeout(flightCtx, s.timeout)
		defer cancel()
		return s.store.ListConversations(listCtx, actorID)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, storeError(ctx.Err(), ErrNotFound)
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, storeError(res.Err, ErrNotFound)
	}

	shared := res.Val.([]models.ConversationSummary)
	summaries := make([]models.ConversationSummary, len(shared))
	copy(summaries, shared)
	return summaries, nil
}

func (s *ConversationService) Close(
	ctx context.Context,
	actorID int64,
	role string,
	conversationID int64,
) (*models.ConversationDetail, error) {
	if role != models.RoleCompany {
		return nil, ErrForbidden
	}
	if conversationID <= 0 {
		return nil, ErrInvalidInput
	}

	ctx, cancel := withStoreTimeout(ctx, s.timeout)
	defer cancel()

	conversation, changed, err := s.store.CloseConversation(ctx, conversationID, actorID, func(current *models.Conversation) error {
		if current.CompanyID != actorID {
			return ErrForbidden
		}
		return nil
	})
	if err != nil {
		return nil, storeError(err, ErrNotFound)
	}

	if changed {
		publishChange(ctx, s.feed, changefeed.EntityConversations, changefeed.OpUpdate, conversation)
		s.fire(notify.ConversationClosed, conversation)
	}

	detail, err := s.store.GetConversationDetail(ctx, conversation.ID)
	if err != nil {
		return nil, storeError(err, ErrNotFound)
	}
	return detail, nil
}

func (s *ConversationService) UnreadTotal(ctx context.Context, actorID int64, role string) (int, error) {
	if !models.ValidRole(role) {
		return 0, ErrForbidden
	}

	ctx, cancel := withStoreTimeout(ctx, s.timeout)
	defer cancel()

	total, err := s.store.UnreadTotal(ctx, actorID)
	if err != nil {
		return 0, storeError(err, ErrNotFound)
	}
	return total, nil
}

func (s *ConversationService) fire(eventType notify.EventType, conversation *models.Conversation) {
	if s.hooks == nil {
		return
	}
	s.hooks.Fire(notify.NewConversationNotification(eventType, conversation))
}
