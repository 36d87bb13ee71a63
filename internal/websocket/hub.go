package chatws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"time"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"github.com/saeid-a/ChambaBack/internal/changefeed"
	"github.com/saeid-a/ChambaBack/internal/models"
	"github.com/saeid-a/ChambaBack/internal/services"
)

const (
	FrameResync     = "resync"
	FrameInvalidate = "invalidate"
	FrameAck        = "ack"
	FrameError      = "error"

	clientBuffer  = 32
	actionTimeout = 10 * time.Second
)

type Hub struct {
	clients    map[string]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan outbound
	done       chan struct{}
}

type Client struct {
	id     uuid.UUID
	hub    *Hub
	conn   *websocket.Conn
	userID string
	send   chan []byte
}

// outbound is a payload for one client, a set of users, or, with neither
// set, every connected client.
type outbound struct {
	client  *Client
	userIDs []string
	payload []byte
}

type chatActions interface {
	Append(ctx context.Context, actorID int64, role string, conversationID int64, input services.SendMessageInput) (*models.Message, error)
	MarkRead(ctx context.Context, actorID int64, role string, conversationID int64) (*services.ReadReceipt, error)
}

// Frame is every server to client payload. Invalidate frames only say what
// changed; clients re-read through the HTTP API.
type Frame struct {
	Type           string                `json:"type"`
	Entity         changefeed.Entity     `json:"entity,omitempty"`
	ConversationID int64                 `json:"conversation_id,omitempty"`
	Message        *models.Message       `json:"message,omitempty"`
	Receipt        *services.ReadReceipt `json:"receipt,omitempty"`
	Error          string                `json:"error,omitempty"`
	Timestamp      time.Time             `json:"timestamp"`
}

type incomingFrame struct {
	Type           string             `json:"type"`
	ConversationID int64              `json:"conversation_id"`
	Kind           models.MessageKind `json:"kind"`
	Content        string             `json:"content"`
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan outbound, 256),
		done:       make(chan struct{}),
	}
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		id:     uuid.New(),
		hub:    hub,
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, clientBuffer),
	}
}

func (c *Client) ID() uuid.UUID {
	return c.id
}

// Run owns the client registry until ctx is cancelled, then closes every
// client send channel.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for userID, set := range h.clients {
				for client := range set {
					close(client.send)
				}
				delete(h.clients, userID)
			}
			return
		case client := <-h.register:
			set, ok := h.clients[client.userID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[client.userID] = set
			}
			set[client] = struct{}{}
			// A fresh socket may have missed anything; make it re-fetch.
			h.sendToClient(set, client, encodeFrame(Frame{Type: FrameResync}))
		case client := <-h.unregister:
			set, ok := h.clients[client.userID]
			if !ok {
				continue
			}
			if _, exists := set[client]; exists {
				delete(set, client)
				close(client.send)
			}
			if len(set) == 0 {
				delete(h.clients, client.userID)
			}
		case message := <-h.broadcast:
			h.deliver(message)
		}
	}
}

// Register reports false when the hub has stopped. The client's send channel
// is closed in that case.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		close(client.send)
		return false
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) Attach(feed changefeed.Feed) changefeed.Unsubscribe {
	stopMessages := feed.Subscribe(changefeed.EntityMessages, h.HandleEvent)
	stopConversations := feed.Subscribe(changefeed.EntityConversations, h.HandleEvent)
	return func() {
		stopMessages()
		stopConversations()
	}
}

func (h *Hub) HandleEvent(event changefeed.Event) {
	if event.Op == changefeed.OpResync {
		h.enqueue(outbound{payload: encodeFrame(Frame{Type: FrameResync})})
		return
	}
	if len(event.ParticipantIDs) == 0 {
		return
	}

	userIDs := make([]string, 0, len(event.ParticipantIDs))
	for _, id := range event.ParticipantIDs {
		userIDs = append(userIDs, strconv.FormatInt(id, 10))
	}
	h.enqueue(outbound{
		userIDs: userIDs,
		payload: encodeFrame(Frame{
			Type:           FrameInvalidate,
			Entity:         event.Entity,
			ConversationID: event.ConversationID,
		}),
	})
}

func (h *Hub) enqueue(message outbound) {
	if message.payload == nil {
		return
	}
	select {
	case h.broadcast <- message:
	case <-h.done:
	}
}

func (h *Hub) deliver(message outbound) {
	if message.client != nil {
		set := h.clients[message.client.userID]
		if _, ok := set[message.client]; ok {
			h.sendToClient(set, message.client, message.payload)
			if len(set) == 0 {
				delete(h.clients, message.client.userID)
			}
		}
		return
	}
	if message.userIDs == nil {
		for userID := range h.clients {
			h.sendToUser(userID, message.payload)
		}
		return
	}
	for _, userID := range message.userIDs {
		h.sendToUser(userID, message.payload)
	}
}

func (h *Hub) sendToUser(userID string, payload []byte) {
	set, ok := h.clients[userID]
	if !ok {
		return
	}

	for client := range set {
		h.sendToClient(set, client, payload)
	}
	if len(set) == 0 {
		delete(h.clients, userID)
	}
}

func (h *Hub) sendToClient(set map[*Client]struct{}, client *Client, payload []byte) {
	if payload == nil {
		return
	}
	select {
	case client.send <- payload:
	default:
		log.Printf("chat hub dropping slow client %s (user %s)", client.id, client.userID)
		delete(set, client)
		close(client.send)
	}
}

func encodeFrame(frame Frame) []byte {
	if frame.Timestamp.IsZero() {
		frame.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		log.Printf("chat hub encode frame: %v", err)
		return nil
	}
	return payload
}

func (c *Client) ReadPump(actions chatActions, role string) {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	actorID, err := strconv.ParseInt(c.userID, 10, 64)
	if err != nil {
		c.reply(Frame{Type: FrameError, Error: "invalid user"})
		return
	}

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.reply(c.handle(actions, actorID, role, payload))
	}
}

// handle runs one client frame through the services and returns the reply
// for the sender. Other participants learn about the change from the feed.
func (c *Client) handle(actions chatActions, actorID int64, role string, payload []byte) Frame {
	var incoming incomingFrame
	if err := json.Unmarshal(payload, &incoming); err != nil {
		return Frame{Type: FrameError, Error: "invalid message payload"}
	}
	if incoming.ConversationID <= 0 {
		return Frame{Type: FrameError, Error: "invalid conversation id"}
	}

	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	switch incoming.Type {
	case "message":
		kind := incoming.Kind
		if kind == "" {
			kind = models.MessageKindText
		}
		message, err := actions.Append(ctx, actorID, role, incoming.ConversationID, services.SendMessageInput{
			Kind:    kind,
			Content: incoming.Content,
		})
		if err != nil {
			return errorFrame(incoming.ConversationID, err)
		}
		return Frame{Type: FrameAck, ConversationID: incoming.ConversationID, Message: message}
	case "mark_read":
		receipt, err := actions.MarkRead(ctx, actorID, role, incoming.ConversationID)
		if err != nil {
			return errorFrame(incoming.ConversationID, err)
		}
		return Frame{Type: FrameAck, ConversationID: incoming.ConversationID, Receipt: receipt}
	default:
		return Frame{Type: FrameError, ConversationID: incoming.ConversationID, Error: "unsupported message type"}
	}
}

func errorFrame(conversationID int64, err error) Frame {
	frame := Frame{Type: FrameError, ConversationID: conversationID}
	switch {
	case errors.Is(err, services.ErrForbidden):
		frame.Error = "forbidden"
	case errors.Is(err, services.ErrNotFound):
		frame.Error = "conversation not found"
	case errors.Is(err, services.ErrConversationClosed):
		frame.Error = "conversation is closed"
	case errors.Is(err, services.ErrInvalidInput):
		frame.Error = err.Error()
	default:
		log.Printf("chat hub action for conversation %d: %v", conversationID, err)
		frame.Error = "failed to process message"
	}
	return frame
}

// reply goes through the hub loop so a client that was already dropped is
// never written to.
func (c *Client) reply(frame Frame) {
	c.hub.enqueue(outbound{client: c, payload: encodeFrame(frame)})
}

func (c *Client) WritePump() {
	defer func() {
		_ = c.conn.Close()
	}()

	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}
