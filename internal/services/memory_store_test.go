package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/saeid-a/ChambaBack/internal/models"
	"github.com/saeid-a/ChambaBack/internal/repository"
)

// memoryStore mirrors ChatStore semantics in memory: one conversation per
// pair, per-conversation seq, denormalised unread counters and last message.
type memoryStore struct {
	mu sync.Mutex

	now           time.Time
	nextID        int64
	actors        map[int64]*models.Actor
	names         map[int64]string
	jobPosts      map[int64]*models.JobPost
	conversations map[int64]*models.Conversation
	messages      map[int64]*models.Message

	appendCalls int
	listCalls   int
	listGate    chan struct{}
	listEntered chan struct{}
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		now:           time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		actors:        make(map[int64]*models.Actor),
		names:         make(map[int64]string),
		jobPosts:      make(map[int64]*models.JobPost),
		conversations: make(map[int64]*models.Conversation),
		messages:      make(map[int64]*models.Message),
	}
}

func (m *memoryStore) tick() time.Time {
	m.now = m.now.Add(time.Second)
	return m.now
}

func (m *memoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memoryStore) addActor(role, name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.id()
	m.actors[id] = &models.Actor{ID: id, Role: role, CreatedAt: m.now}
	m.names[id] = name
	return id
}

func (m *memoryStore) addJobPost(companyID int64, title string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.id()
	m.jobPosts[id] = &models.JobPost{ID: id, CompanyID: companyID, Title: title, CreatedAt: m.now}
	return id
}

type memoryActors struct{ store *memoryStore }

func (a memoryActors) GetByID(_ context.Context, id int64) (*models.Actor, error) {
	a.store.mu.Lock()
	defer a.store.mu.Unlock()
	actor, ok := a.store.actors[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *actor
	return &copied, nil
}

type memoryJobPosts struct{ store *memoryStore }

func (j memoryJobPosts) GetByID(_ context.Context, id int64) (*models.JobPost, error) {
	j.store.mu.Lock()
	defer j.store.mu.Unlock()
	post, ok := j.store.jobPosts[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *post
	return &copied, nil
}

func (m *memoryStore) CreateConversation(_ context.Context, companyID, workerID int64, jobPostID *int64) (*models.Conversation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.conversations {
		if existing.CompanyID == companyID && existing.WorkerID == workerID {
			copied := *existing
			return &copied, false, nil
		}
	}

	now := m.tick()
	conversation := &models.Conversation{
		ID:            m.id(),
		CompanyID:     companyID,
		WorkerID:      workerID,
		JobPostID:     jobPostID,
		Status:        models.ConversationStatusActive,
		LastMessageAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.conversations[conversation.ID] = conversation
	copied := *conversation
	return &copied, true, nil
}

func (m *memoryStore) GetConversation(_ context.Context, conversationID int64) (*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conversation, ok := m.conversations[conversationID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *conversation
	return &copied, nil
}

func (m *memoryStore) GetConversationByPair(_ context.Context, companyID, workerID int64) (*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, conversation := range m.conversations {
		if conversation.CompanyID == companyID && conversation.WorkerID == workerID {
			copied := *conversation
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *memoryStore) detail(conversation *models.Conversation) models.ConversationDetail {
	detail := models.ConversationDetail{
		Conversation: *conversation,
		Company:      models.Participant{ID: conversation.CompanyID, Role: models.RoleCompany, Name: m.names[conversation.CompanyID]},
		Worker:       models.Participant{ID: conversation.WorkerID, Role: models.RoleWorker, Name: m.names[conversation.WorkerID]},
	}
	if conversation.JobPostID != nil {
		if post, ok := m.jobPosts[*conversation.JobPostID]; ok {
			detail.JobPost = &models.JobPostRef{ID: post.ID, Title: post.Title}
		}
	}
	return detail
}

func (m *memoryStore) GetConversationDetail(_ context.Context, conversationID int64) (*models.ConversationDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conversation, ok := m.conversations[conversationID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	detail := m.detail(conversation)
	return &detail, nil
}

func (m *memoryStore) ListConversations(ctx context.Context, participantID int64) ([]models.ConversationSummary, error) {
	if m.listEntered != nil {
		m.listEntered <- struct{}{}
	}
	if m.listGate != nil {
		select {
		case <-m.listGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++

	summaries := make([]models.ConversationSummary, 0)
	for _, conversation := range m.conversations {
		if !conversation.IsParticipant(participantID) {
			continue
		}
		summary := models.ConversationSummary{
			ConversationDetail: m.detail(conversation),
			UnreadCount:        conversation.UnreadFor(participantID),
		}
		if conversation.LastMessageID != nil {
			if last, ok := m.messages[*conversation.LastMessageID]; ok && !last.IsDeleted {
				copied := *last
				summary.LastMessage = &copied
			}
		}
		summaries = append(summaries, summary)
	}

	sort.Slice(summaries, func(i, j int) bool {
		if !summaries[i].LastMessageAt.Equal(summaries[j].LastMessageAt) {
			return summaries[i].LastMessageAt.After(summaries[j].LastMessageAt)
		}
		return summaries[i].ID > summaries[j].ID
	})
	return summaries, nil
}

func (m *memoryStore) UnreadTotal(_ context.Context, participantID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, conversation := range m.conversations {
		total += conversation.UnreadFor(participantID)
	}
	return total, nil
}

func (m *memoryStore) CloseConversation(_ context.Context, conversationID, closedBy int64, guard repository.ConversationGuard) (*models.Conversation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conversation, ok := m.conversations[conversationID]
	if !ok {
		return nil, false, pgx.ErrNoRows
	}
	snapshot := *conversation
	if err := guard(&snapshot); err != nil {
		return nil, false, err
	}
	if conversation.Status == models.ConversationStatusClosed {
		return &snapshot, false, nil
	}

	now := m.tick()
	conversation.Status = models.ConversationStatusClosed
	conversation.ClosedBy = &closedBy
	conversation.ClosedAt = &now
	conversation.UpdatedAt = now
	copied := *conversation
	return &copied, true, nil
}

func (m *memoryStore) GetMessage(_ context.Context, messageID int64) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	message, ok := m.messages[messageID]
	if !ok || message.IsDeleted {
		return nil, pgx.ErrNoRows
	}
	copied := *message
	return &copied, nil
}

func (m *memoryStore) ListMessages(_ context.Context, conversationID int64, beforeSeq int64, limit int) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]models.Message, 0)
	for _, message := range m.messages {
		if message.ConversationID != conversationID || message.IsDeleted {
			continue
		}
		if beforeSeq > 0 && message.Seq >= beforeSeq {
			continue
		}
		all = append(all, *message)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Seq < all[j].Seq })

	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (m *memoryStore) AppendMessage(_ context.Context, conversationID, senderID int64, body models.MessageBody, guard repository.ConversationGuard) (*models.Conversation, *models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendCalls++

	conversation, ok := m.conversations[conversationID]
	if !ok {
		return nil, nil, pgx.ErrNoRows
	}
	snapshot := *conversation
	if err := guard(&snapshot); err != nil {
		return nil, nil, err
	}

	now := m.tick()
	if now.Before(conversation.LastMessageAt) {
		now = conversation.LastMessageAt
	}
	conversation.LastSeq++
	conversation.LastMessageAt = now
	conversation.UpdatedAt = now
	switch senderID {
	case conversation.CompanyID:
		conversation.WorkerUnread++
	case conversation.WorkerID:
		conversation.CompanyUnread++
	}

	message := &models.Message{
		ID:             m.id(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Seq:            conversation.LastSeq,
		Body:           body,
		CreatedAt:      now,
	}
	m.messages[message.ID] = message
	conversation.LastMessageID = &message.ID

	copiedConversation := *conversation
	copiedMessage := *message
	return &copiedConversation, &copiedMessage, nil
}

func (m *memoryStore) MarkRead(_ context.Context, conversationID, readerID int64, guard repository.ConversationGuard) (*models.Conversation, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conversation, ok := m.conversations[conversationID]
	if !ok {
		return nil, 0, pgx.ErrNoRows
	}
	snapshot := *conversation
	if err := guard(&snapshot); err != nil {
		return nil, 0, err
	}

	now := m.tick()
	var marked int64
	for _, message := range m.messages {
		if message.ConversationID != conversationID || message.SenderID == readerID || message.IsRead || message.IsDeleted {
			continue
		}
		message.IsRead = true
		readAt := now
		message.ReadAt = &readAt
		marked++
	}

	switch readerID {
	case conversation.CompanyID:
		conversation.CompanyUnread = 0
	case conversation.WorkerID:
		conversation.WorkerUnread = 0
	}
	copied := *conversation
	return &copied, marked, nil
}

func (m *memoryStore) lockedMessage(messageID int64, guard repository.MessageGuard) (*models.Conversation, *models.Message, error) {
	message, ok := m.messages[messageID]
	if !ok {
		return nil, nil, pgx.ErrNoRows
	}
	conversation := m.conversations[message.ConversationID]
	conversationSnapshot := *conversation
	messageSnapshot := *message
	if err := guard(&conversationSnapshot, &messageSnapshot); err != nil {
		return nil, nil, err
	}
	return conversation, message, nil
}

func (m *memoryStore) EditMessage(_ context.Context, messageID int64, body models.MessageBody, guard repository.MessageGuard) (*models.Conversation, *models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conversation, message, err := m.lockedMessage(messageID, guard)
	if err != nil {
		return nil, nil, err
	}
	now := m.tick()
	message.Body = body
	message.EditedAt = &now

	copiedConversation := *conversation
	copiedMessage := *message
	return &copiedConversation, &copiedMessage, nil
}

func (m *memoryStore) DeleteMessage(_ context.Context, messageID int64, guard repository.MessageGuard) (*models.Conversation, *models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conversation, message, err := m.lockedMessage(messageID, guard)
	if err != nil {
		return nil, nil, err
	}
	message.IsDeleted = true

	if !message.IsRead {
		switch conversation.CounterpartOf(message.SenderID) {
		case conversation.CompanyID:
			if conversation.CompanyUnread > 0 {
				conversation.CompanyUnread--
			}
		case conversation.WorkerID:
			if conversation.WorkerUnread > 0 {
				conversation.WorkerUnread--
			}
		}
	}

	if conversation.LastMessageID != nil && *conversation.LastMessageID == message.ID {
		conversation.LastMessageID = nil
		var newest *models.Message
		for _, candidate := range m.messages {
			if candidate.ConversationID != conversation.ID || candidate.IsDeleted {
				continue
			}
			if newest == nil || candidate.Seq > newest.Seq {
				newest = candidate
			}
		}
		if newest != nil {
			id := newest.ID
			conversation.LastMessageID = &id
		}
	}

	copiedConversation := *conversation
	copiedMessage := *message
	return &copiedConversation, &copiedMessage, nil
}
