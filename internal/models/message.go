package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type MessageKind string

const (
	MessageKindText  MessageKind = "text"
	MessageKindEmoji MessageKind = "emoji"
	MessageKindFile  MessageKind = "file"
)

var ErrInvalidMessageBody = errors.New("invalid message body")

// MessageBody is implemented only by TextBody, EmojiBody and FileBody.
type MessageBody interface {
	Kind() MessageKind
	isMessageBody()
}

type TextBody struct {
	Text string
}

type EmojiBody struct {
	Glyph string
}

type FileBody struct {
	URL      string `json:"url"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
}

func (TextBody) Kind() MessageKind  { return MessageKindText }
func (EmojiBody) Kind() MessageKind { return MessageKindEmoji }
func (FileBody) Kind() MessageKind  { return MessageKindFile }

func (TextBody) isMessageBody()  {}
func (EmojiBody) isMessageBody() {}
func (FileBody) isMessageBody()  {}

type Message struct {
	ID             int64
	ConversationID int64
	SenderID       int64
	Seq            int64
	Body           MessageBody
	IsRead         bool
	ReadAt         *time.Time
	IsDeleted      bool
	CreatedAt      time.Time
	EditedAt       *time.Time
}

// Content is the display text: the text itself, the glyph, or the file name.
func (m *Message) Content() string {
	switch body := m.Body.(type) {
	case TextBody:
		return body.Text
	case EmojiBody:
		return body.Glyph
	case FileBody:
		return body.Name
	default:
		return ""
	}
}

func (m *Message) Kind() MessageKind {
	if m.Body == nil {
		return ""
	}
	return m.Body.Kind()
}

// MessageColumns is the flat storage form of a message body.
type MessageColumns struct {
	Kind         MessageKind
	Content      string
	FileURL      *string
	FileName     *string
	FileMimeType *string
}

func BodyColumns(body MessageBody) (MessageColumns, error) {
	switch b := body.(type) {
	case TextBody:
		return MessageColumns{Kind: MessageKindText, Content: b.Text}, nil
	case EmojiBody:
		return MessageColumns{Kind: MessageKindEmoji, Content: b.Glyph}, nil
	case FileBody:
		if b.URL == "" || b.Name == "" || b.MimeType == "" {
			return MessageColumns{}, ErrInvalidMessageBody
		}
		url, name, mimeType := b.URL, b.Name, b.MimeType
		return MessageColumns{
			Kind:         MessageKindFile,
			Content:      b.Name,
			FileURL:      &url,
			FileName:     &name,
			FileMimeType: &mimeType,
		}, nil
	default:
		return MessageColumns{}, fmt.Errorf("%w: %T", ErrInvalidMessageBody, body)
	}
}

func BodyFromColumns(cols MessageColumns) (MessageBody, error) {
	switch cols.Kind {
	case MessageKindText:
		return TextBody{Text: cols.Content}, nil
	case MessageKindEmoji:
		return EmojiBody{Glyph: cols.Content}, nil
	case MessageKindFile:
		if cols.FileURL == nil || cols.FileName == nil || cols.FileMimeType == nil {
			return nil, ErrInvalidMessageBody
		}
		return FileBody{URL: *cols.FileURL, Name: *cols.FileName, MimeType: *cols.FileMimeType}, nil
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrInvalidMessageBody, cols.Kind)
	}
}

type messageJSON struct {
	ID             int64       `json:"id"`
	ConversationID int64       `json:"conversation_id"`
	SenderID       int64       `json:"sender_id"`
	Seq            int64       `json:"seq"`
	Kind           MessageKind `json:"kind"`
	Content        string      `json:"content"`
	File           *FileBody   `json:"file,omitempty"`
	IsRead         bool        `json:"is_read"`
	ReadAt         *time.Time  `json:"read_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	EditedAt       *time.Time  `json:"edited_at,omitempty"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	out := messageJSON{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Seq:            m.Seq,
		Kind:           m.Kind(),
		Content:        m.Content(),
		IsRead:         m.IsRead,
		ReadAt:         m.ReadAt,
		CreatedAt:      m.CreatedAt,
		EditedAt:       m.EditedAt,
	}
	if file, ok := m.Body.(FileBody); ok {
		out.File = &file
	}
	return json.Marshal(out)
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var in messageJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	cols := MessageColumns{Kind: in.Kind, Content: in.Content}
	if in.File != nil {
		cols.FileURL = &in.File.URL
		cols.FileName = &in.File.Name
		cols.FileMimeType = &in.File.MimeType
	}
	body, err := BodyFromColumns(cols)
	if err != nil {
		return err
	}

	*m = Message{
		ID:             in.ID,
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Seq:            in.Seq,
		Body:           body,
		IsRead:         in.IsRead,
		ReadAt:         in.ReadAt,
		CreatedAt:      in.CreatedAt,
		EditedAt:       in.EditedAt,
	}
	return nil
}

type MessagePage struct {
	Messages      []Message `json:"messages"`
	HasMore       bool      `json:"has_more"`
	NextBeforeSeq *int64    `json:"next_before_seq,omitempty"`
}
