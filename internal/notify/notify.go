// Package notify delivers conversation lifecycle events to an external
// webhook. Delivery never blocks or fails the operation that produced the
// event; failures are logged.
package notify

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/saeid-a/ChambaBack/internal/models"
)

type EventType string

const (
	ConversationCreated EventType = "conversation.created"
	ConversationClosed  EventType = "conversation.closed"
)

type Notification struct {
	ID         uuid.UUID           `json:"id"`
	Type       EventType           `json:"type"`
	OccurredAt time.Time           `json:"occurred_at"`
	Data       ConversationPayload `json:"data"`
}

type ConversationPayload struct {
	ConversationID int64      `json:"conversation_id"`
	CompanyID      int64      `json:"company_id"`
	WorkerID       int64      `json:"worker_id"`
	JobPostID      *int64     `json:"job_post_id,omitempty"`
	Status         string     `json:"status"`
	ClosedBy       *int64     `json:"closed_by,omitempty"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
}

func NewConversationNotification(eventType EventType, conversation *models.Conversation) Notification {
	return Notification{
		ID:         uuid.New(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Data: ConversationPayload{
			ConversationID: conversation.ID,
			CompanyID:      conversation.CompanyID,
			WorkerID:       conversation.WorkerID,
			JobPostID:      conversation.JobPostID,
			Status:         conversation.Status,
			ClosedBy:       conversation.ClosedBy,
			ClosedAt:       conversation.ClosedAt,
		},
	}
}

// Hook hands a notification to its transport.
type Hook interface {
	Notify(ctx context.Context, notification Notification) error
}

// Dispatcher fires notifications in the background. A nil Dispatcher or one
// without a hook drops everything.
type Dispatcher struct {
	hook    Hook
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewDispatcher(hook Hook, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{hook: hook, timeout: timeout}
}

func (d *Dispatcher) Fire(notification Notification) {
	if d == nil || d.hook == nil {
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := d.hook.Notify(ctx, notification); err != nil {
			log.Printf("notify: %s for conversation %d failed: %v", notification.Type, notification.Data.ConversationID, err)
		}
	}()
}

// Wait blocks until in-flight deliveries finish.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}
