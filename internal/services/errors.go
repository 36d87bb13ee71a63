package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrEmptyContent       = fmt.Errorf("%w: content is empty", ErrInvalidInput)
	ErrContentTooLong     = fmt.Errorf("%w: content is too long", ErrInvalidInput)
	ErrUnsupportedKind    = fmt.Errorf("%w: unsupported message kind", ErrInvalidInput)
	ErrWorkerNotFound     = errors.New("worker not found")
	ErrJobPostNotFound    = errors.New("job post not found")
	ErrConversationClosed = errors.New("conversation is closed")
	ErrAttachmentTooLarge = errors.New("attachment exceeds size limit")
	ErrAttachmentType     = errors.New("attachment type not allowed")
	ErrStorageUnavailable = errors.New("storage service is not configured")
	ErrStoreUnavailable   = errors.New("store temporarily unavailable")
)

// storeError maps repository errors onto the service taxonomy. Missing rows
// become notFound; timeouts and retryable connection failures become
// ErrStoreUnavailable.
func storeError(err error, notFound error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound
	}
	if isTransient(err) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	var connectErr *pgconn.ConnectError
	return errors.As(err, &connectErr)
}
