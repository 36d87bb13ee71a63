package models

import "time"

const (
	ConversationStatusActive = "active"
	ConversationStatusClosed = "closed"
)

type Conversation struct {
	ID            int64      `json:"id"`
	CompanyID     int64      `json:"company_id"`
	WorkerID      int64      `json:"worker_id"`
	JobPostID     *int64     `json:"job_post_id,omitempty"`
	Status        string     `json:"status"`
	ClosedBy      *int64     `json:"closed_by,omitempty"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
	LastMessageID *int64     `json:"last_message_id,omitempty"`
	LastMessageAt time.Time  `json:"last_message_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`

	LastSeq       int64 `json:"-"`
	CompanyUnread int   `json:"-"`
	WorkerUnread  int   `json:"-"`
}

func (c *Conversation) IsParticipant(actorID int64) bool {
	return c != nil && (c.CompanyID == actorID || c.WorkerID == actorID)
}

// CounterpartOf returns the other participant, or 0 when actorID is not one.
func (c *Conversation) CounterpartOf(actorID int64) int64 {
	switch actorID {
	case c.CompanyID:
		return c.WorkerID
	case c.WorkerID:
		return c.CompanyID
	default:
		return 0
	}
}

func (c *Conversation) CanSendMessages() bool {
	return c != nil && c.Status == ConversationStatusActive
}

func (c *Conversation) UnreadFor(actorID int64) int {
	switch actorID {
	case c.CompanyID:
		return c.CompanyUnread
	case c.WorkerID:
		return c.WorkerUnread
	default:
		return 0
	}
}

func (c *Conversation) ParticipantIDs() []int64 {
	return []int64{c.CompanyID, c.WorkerID}
}

type Participant struct {
	ID        int64   `json:"id"`
	Role      string  `json:"role"`
	Name      string  `json:"name"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

type JobPostRef struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

// ConversationDetail is a conversation plus the display info of both sides.
type ConversationDetail struct {
	Conversation
	Company Participant `json:"company"`
	Worker  Participant `json:"worker"`
	JobPost *JobPostRef `json:"job_post,omitempty"`
}

type ConversationSummary struct {
	ConversationDetail
	LastMessage *Message `json:"last_message,omitempty"`
	UnreadCount int      `json:"unread_count"`
}
