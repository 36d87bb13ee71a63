package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/saeid-a/ChambaBack/internal/models"
)

var conversationColumnList = []string{
	"id",
	"company_id",
	"worker_id",
	"job_post_id",
	"status",
	"closed_by",
	"closed_at",
	"last_seq",
	"last_message_id",
	"last_message_at",
	"company_unread",
	"worker_unread",
	"created_at",
	"updated_at",
}

func conversationColumns(alias string) string {
	if alias == "" {
		return strings.Join(conversationColumnList, ", ")
	}
	prefixed := make([]string, len(conversationColumnList))
	for i, column := range conversationColumnList {
		prefixed[i] = alias + "." + column
	}
	return strings.Join(prefixed, ", ")
}

func conversationFields(c *models.Conversation) []any {
	return []any{
		&c.ID,
		&c.CompanyID,
		&c.WorkerID,
		&c.JobPostID,
		&c.Status,
		&c.ClosedBy,
		&c.ClosedAt,
		&c.LastSeq,
		&c.LastMessageID,
		&c.LastMessageAt,
		&c.CompanyUnread,
		&c.WorkerUnread,
		&c.CreatedAt,
		&c.UpdatedAt,
	}
}

func scanConversation(row pgx.Row) (*models.Conversation, error) {
	var conversation models.Conversation
	if err := row.Scan(conversationFields(&conversation)...); err != nil {
		return nil, err
	}
	return &conversation, nil
}

const conversationDetailJoins = `
	FROM conversations c
	LEFT JOIN company_profiles cp ON cp.actor_id = c.company_id
	LEFT JOIN worker_profiles wp ON wp.actor_id = c.worker_id
	LEFT JOIN job_posts jp ON jp.id = c.job_post_id
`

const participantColumns = `
	COALESCE(cp.name, ''),
	cp.avatar_url,
	COALESCE(wp.full_name, ''),
	wp.avatar_url,
	jp.id,
	jp.title
`

type detailScan struct {
	detail   models.ConversationDetail
	jobID    sql.NullInt64
	jobTitle sql.NullString
}

func (d *detailScan) fields() []any {
	fields := conversationFields(&d.detail.Conversation)
	return append(fields,
		&d.detail.Company.Name,
		&d.detail.Company.AvatarURL,
		&d.detail.Worker.Name,
		&d.detail.Worker.AvatarURL,
		&d.jobID,
		&d.jobTitle,
	)
}

func (d *detailScan) finish() models.ConversationDetail {
	d.detail.Company.ID = d.detail.CompanyID
	d.detail.Company.Role = models.RoleCompany
	d.detail.Worker.ID = d.detail.WorkerID
	d.detail.Worker.Role = models.RoleWorker
	if d.jobID.Valid {
		d.detail.JobPost = &models.JobPostRef{ID: d.jobID.Int64, Title: d.jobTitle.String}
	}
	return d.detail
}

type ConversationRepository struct {
	db DBTX
}

func NewConversationRepository(db DBTX) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// Create inserts a conversation for the pair. When the pair already has one,
// the existing row is returned with created=false.
func (r *ConversationRepository) Create(
	ctx context.Context,
	companyID int64,
	workerID int64,
	jobPostID *int64,
) (*models.Conversation, bool, error) {
	query := `
		INSERT INTO conversations (company_id, worker_id, job_post_id, status)
		VALUES ($1, $2, $3, 'active')
		ON CONFLICT (company_id, worker_id) DO NOTHING
		RETURNING ` + conversationColumns("")

	conversation, err := scanConversation(r.db.QueryRow(ctx, query, companyID, workerID, jobPostID))
	if err == nil {
		return conversation, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}

	existing, err := r.GetByPair(ctx, companyID, workerID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *ConversationRepository) GetByID(ctx context.Context, conversationID int64) (*models.Conversation, error) {
	query := `SELECT ` + conversationColumns("") + ` FROM conversations WHERE id = $1`
	return scanConversation(r.db.QueryRow(ctx, query, conversationID))
}

func (r *ConversationRepository) GetByIDForUpdate(ctx context.Context, conversationID int64) (*models.Conversation, error) {
	query := `SELECT ` + conversationColumns("") + ` FROM conversations WHERE id = $1 FOR UPDATE`
	return scanConversation(r.db.QueryRow(ctx, query, conversationID))
}

func (r *ConversationRepository) GetByPair(
	ctx context.Context,
	companyID int64,
	workerID int64,
) (*models.Conversation, error) {
	query := `
		SELECT ` + conversationColumns("") + `
		FROM conversations
		WHERE company_id = $1 AND worker_id = $2
	`
	return scanConversation(r.db.QueryRow(ctx, query, companyID, workerID))
}

func (r *ConversationRepository) GetDetail(ctx context.Context, conversationID int64) (*models.ConversationDetail, error) {
	query := `SELECT ` + conversationColumns("c") + `, ` + participantColumns + conversationDetailJoins + `
		WHERE c.id = $1`

	var scan detailScan
	if err := r.db.QueryRow(ctx, query, conversationID).Scan(scan.fields()...); err != nil {
		return nil, err
	}
	detail := scan.finish()
	return &detail, nil
}

func (r *ConversationRepository) ListForParticipant(
	ctx context.Context,
	participantID int64,
) ([]models.ConversationSummary, error) {
	query := `
		SELECT ` + conversationColumns("c") + `, ` + participantColumns + `,
			lm.id,
			lm.sender_id,
			lm.seq,
			lm.kind,
			lm.content,
			lm.file_url,
			lm.file_name,
			lm.file_mime_type,
			lm.is_read,
			lm.read_at,
			lm.created_at,
			lm.edited_at
		` + conversationDetailJoins + `
		LEFT JOIN messages lm ON lm.id = c.last_message_id AND lm.is_deleted = FALSE
		WHERE c.company_id = $1 OR c.worker_id = $1
		ORDER BY c.last_message_at DESC, c.id DESC
	`

	rows, err := r.db.Query(ctx, query, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := make([]models.ConversationSummary, 0)
	for rows.Next() {
		var scan detailScan
		var messageID sql.NullInt64
		var messageSenderID sql.NullInt64
		var messageSeq sql.NullInt64
		var messageKind sql.NullString
		var messageContent sql.NullString
		var last models.Message
		var cols models.MessageColumns
		var messageIsRead sql.NullBool
		var messageCreatedAt sql.NullTime

		fields := append(scan.fields(),
			&messageID,
			&messageSenderID,
			&messageSeq,
			&messageKind,
			&messageContent,
			&cols.FileURL,
			&cols.FileName,
			&cols.FileMimeType,
			&messageIsRead,
			&last.ReadAt,
			&messageCreatedAt,
			&last.EditedAt,
		)
		if err := rows.Scan(fields...); err != nil {
			return nil, err
		}

		summary := models.ConversationSummary{ConversationDetail: scan.finish()}
		summary.UnreadCount = summary.UnreadFor(participantID)

		if messageID.Valid {
			cols.Kind = models.MessageKind(messageKind.String)
			cols.Content = messageContent.String
			body, err := models.BodyFromColumns(cols)
			if err != nil {
				return nil, err
			}
			last.ID = messageID.Int64
			last.ConversationID = summary.ID
			last.SenderID = messageSenderID.Int64
			last.Seq = messageSeq.Int64
			last.Body = body
			last.IsRead = messageIsRead.Bool
			last.CreatedAt = messageCreatedAt.Time
			summary.LastMessage = &last
		}

		summaries = append(summaries, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return summaries, nil
}

func (r *ConversationRepository) UnreadTotal(ctx context.Context, participantID int64) (int, error) {
	var total int
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(
			CASE WHEN company_id = $1 THEN company_unread ELSE worker_unread END
		), 0)
		FROM conversations
		WHERE company_id = $1 OR worker_id = $1
	`, participantID).Scan(&total)
	return total, err
}

// ReserveMessageSlot allocates the next sequence number and creation time for
// a message and bumps the recipient's unread counter. The caller must hold the
// row lock taken by GetByIDForUpdate.
func (r *ConversationRepository) ReserveMessageSlot(
	ctx context.Context,
	conversationID int64,
	senderID int64,
) (*models.Conversation, error) {
	query := `
		UPDATE conversations
		SET last_seq = last_seq + 1,
			last_message_at = GREATEST(last_message_at, clock_timestamp()),
			company_unread = company_unread + CASE WHEN worker_id = $2 THEN 1 ELSE 0 END,
			worker_unread = worker_unread + CASE WHEN company_id = $2 THEN 1 ELSE 0 END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + conversationColumns("")
	return scanConversation(r.db.QueryRow(ctx, query, conversationID, senderID))
}

func (r *ConversationRepository) SetLastMessage(ctx context.Context, conversationID int64, messageID int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE conversations
		SET last_message_id = $2
		WHERE id = $1
	`, conversationID, messageID)
	return err
}

func (r *ConversationRepository) RefreshLastMessage(ctx context.Context, conversationID int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE conversations
		SET last_message_id = (
			SELECT id FROM messages
			WHERE conversation_id = $1 AND is_deleted = FALSE
			ORDER BY seq DESC
			LIMIT 1
		),
		updated_at = NOW()
		WHERE id = $1
	`, conversationID)
	return err
}

func (r *ConversationRepository) ResetUnread(ctx context.Context, conversationID int64, readerID int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE conversations
		SET company_unread = CASE WHEN company_id = $2 THEN 0 ELSE company_unread END,
			worker_unread = CASE WHEN worker_id = $2 THEN 0 ELSE worker_unread END
		WHERE id = $1
	`, conversationID, readerID)
	return err
}

func (r *ConversationRepository) DecrementUnread(ctx context.Context, conversationID int64, recipientID int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE conversations
		SET company_unread = CASE WHEN company_id = $2 THEN GREATEST(company_unread - 1, 0) ELSE company_unread END,
			worker_unread = CASE WHEN worker_id = $2 THEN GREATEST(worker_unread - 1, 0) ELSE worker_unread END
		WHERE id = $1
	`, conversationID, recipientID)
	return err
}

func (r *ConversationRepository) MarkClosed(
	ctx context.Context,
	conversationID int64,
	closedBy int64,
) (*models.Conversation, error) {
	query := `
		UPDATE conversations
		SET status = 'closed',
			closed_by = $2,
			closed_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND status = 'active'
		RETURNING ` + conversationColumns("")
	return scanConversation(r.db.QueryRow(ctx, query, conversationID, closedBy))
}
