package services

import (
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/saeid-a/ChambaBack/internal/models"
)

const (
	MaxTextRunes              = 5000
	MaxEmojiBytes             = 32
	DefaultMaxAttachmentBytes = 10 * 1024 * 1024
)

var allowedAttachmentTypes = map[string]string{
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

type AttachmentUpload struct {
	Filename string
	Size     int64
	MimeType string
	Body     io.Reader
}

func buildMessageBody(kind models.MessageKind, content string) (models.MessageBody, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil, ErrEmptyContent
	}

	switch kind {
	case models.MessageKindText:
		if utf8.RuneCountInString(trimmed) > MaxTextRunes {
			return nil, ErrContentTooLong
		}
		return models.TextBody{Text: trimmed}, nil
	case models.MessageKindEmoji:
		if len(trimmed) > MaxEmojiBytes {
			return nil, ErrContentTooLong
		}
		return models.EmojiBody{Glyph: trimmed}, nil
	default:
		return nil, ErrUnsupportedKind
	}
}

// validateAttachment checks size, extension and declared MIME type and
// returns the canonical MIME type for the file.
func validateAttachment(upload AttachmentUpload, maxBytes int64) (string, error) {
	if upload.Body == nil || strings.TrimSpace(upload.Filename) == "" {
		return "", ErrInvalidInput
	}
	if upload.Size <= 0 {
		return "", fmt.Errorf("%w: attachment is empty", ErrInvalidInput)
	}
	if upload.Size > maxBytes {
		return "", ErrAttachmentTooLarge
	}

	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(upload.Filename)))
	expected, ok := allowedAttachmentTypes[ext]
	if !ok {
		return "", ErrAttachmentType
	}

	declared, _, err := mime.ParseMediaType(upload.MimeType)
	if err != nil || !strings.EqualFold(declared, expected) {
		return "", ErrAttachmentType
	}
	return expected, nil
}

func buildAttachmentFilename(original string) string {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(original)))
	return uuid.NewString() + ext
}

func attachmentFolder(conversationID int64) string {
	return fmt.Sprintf("chat/%d", conversationID)
}

func displayFilename(original string) string {
	name := filepath.Base(strings.ReplaceAll(strings.TrimSpace(original), "\\", "/"))
	if name == "." || name == "/" {
		return "attachment"
	}
	return name
}
