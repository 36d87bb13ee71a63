package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/saeid-a/ChambaBack/internal/models"
)

const messageColumns = `
	id, conversation_id, sender_id, seq, kind, content,
	file_url, file_name, file_mime_type,
	is_read, read_at, is_deleted, created_at, edited_at
`

func scanMessage(row pgx.Row) (*models.Message, error) {
	var message models.Message
	var cols models.MessageColumns
	var kind string
	if err := row.Scan(
		&message.ID,
		&message.ConversationID,
		&message.SenderID,
		&message.Seq,
		&kind,
		&cols.Content,
		&cols.FileURL,
		&cols.FileName,
		&cols.FileMimeType,
		&message.IsRead,
		&message.ReadAt,
		&message.IsDeleted,
		&message.CreatedAt,
		&message.EditedAt,
	); err != nil {
		return nil, err
	}

	cols.Kind = models.MessageKind(kind)
	body, err := models.BodyFromColumns(cols)
	if err != nil {
		return nil, err
	}
	message.Body = body
	return &message, nil
}

type MessageRepository struct {
	db DBTX
}

func NewMessageRepository(db DBTX) *MessageRepository {
	return &MessageRepository{db: db}
}

type CreateMessageInput struct {
	ConversationID int64
	SenderID       int64
	Seq            int64
	Body           models.MessageBody
	CreatedAt      time.Time
}

func (r *MessageRepository) Create(ctx context.Context, input CreateMessageInput) (*models.Message, error) {
	cols, err := models.BodyColumns(input.Body)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO messages (
			conversation_id, sender_id, seq, kind, content,
			file_url, file_name, file_mime_type, is_read, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, $9)
		RETURNING ` + messageColumns

	return scanMessage(r.db.QueryRow(ctx, query,
		input.ConversationID,
		input.SenderID,
		input.Seq,
		string(cols.Kind),
		cols.Content,
		cols.FileURL,
		cols.FileName,
		cols.FileMimeType,
		input.CreatedAt,
	))
}

func (r *MessageRepository) GetByID(ctx context.Context, messageID int64) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1 AND is_deleted = FALSE`
	return scanMessage(r.db.QueryRow(ctx, query, messageID))
}

// ListByConversation returns non-deleted messages in ascending seq order.
// A non-positive limit returns the whole history; otherwise the newest
// limit messages with seq below beforeSeq (when beforeSeq > 0).
func (r *MessageRepository) ListByConversation(
	ctx context.Context,
	conversationID int64,
	beforeSeq int64,
	limit int,
) ([]models.Message, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if limit <= 0 {
		rows, err = r.db.Query(ctx, `
			SELECT `+messageColumns+`
			FROM messages
			WHERE conversation_id = $1 AND is_deleted = FALSE
			ORDER BY seq ASC
		`, conversationID)
	} else {
		rows, err = r.db.Query(ctx, `
			SELECT `+messageColumns+`
			FROM (
				SELECT `+messageColumns+`
				FROM messages
				WHERE conversation_id = $1
				  AND is_deleted = FALSE
				  AND ($2::bigint <= 0 OR seq < $2::bigint)
				ORDER BY seq DESC
				LIMIT $3
			) page
			ORDER BY seq ASC
		`, conversationID, beforeSeq, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *message)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return messages, nil
}

func (r *MessageRepository) MarkConversationRead(
	ctx context.Context,
	conversationID int64,
	readerID int64,
) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE messages
		SET is_read = TRUE,
			read_at = NOW()
		WHERE conversation_id = $1
		  AND sender_id <> $2
		  AND is_read = FALSE
		  AND is_deleted = FALSE
	`, conversationID, readerID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *MessageRepository) UpdateBody(
	ctx context.Context,
	messageID int64,
	body models.MessageBody,
) (*models.Message, error) {
	cols, err := models.BodyColumns(body)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE messages
		SET kind = $2,
			content = $3,
			edited_at = NOW()
		WHERE id = $1 AND is_deleted = FALSE AND kind <> 'file'
		RETURNING ` + messageColumns
	return scanMessage(r.db.QueryRow(ctx, query, messageID, string(cols.Kind), cols.Content))
}

func (r *MessageRepository) SoftDelete(ctx context.Context, messageID int64) (*models.Message, error) {
	query := `
		UPDATE messages
		SET is_deleted = TRUE
		WHERE id = $1 AND is_deleted = FALSE
		RETURNING ` + messageColumns
	return scanMessage(r.db.QueryRow(ctx, query, messageID))
}

func (r *MessageRepository) GetByIDForUpdate(ctx context.Context, messageID int64) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1 FOR UPDATE`
	return scanMessage(r.db.QueryRow(ctx, query, messageID))
}
