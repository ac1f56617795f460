package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8192
)

var (
	newline = []byte{'\n'}
	space   = []byte{' '}
)

// Client is a middleman between one ws connection and the Hub. The
// connection's owning user is authenticated before the Client exists; the
// handshake rejects anonymous sockets.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound marshaled events.
	send chan []byte

	// ID and display name of the authenticated user.
	id       string
	username string

	// Access to chat features, shared with the request path.
	chatService ChatService

	logger zerolog.Logger
}

func NewClient(hub *Hub, conn *websocket.Conn, send chan []byte, id string, username string, chatService ChatService, logger zerolog.Logger) *Client {
	return &Client{
		hub:         hub,
		conn:        conn,
		send:        send,
		id:          id,
		username:    username,
		chatService: chatService,
		logger:      logger.With().Str("uid", id).Logger(),
	}
}

// ReadPump pumps events from the ws connection into the Hub and the chat
// service. It is the only reader of the connection, so events from one
// socket are processed strictly in arrival order.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("could not close network connection")
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("unable to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Msg("unexpected close")
			}
			return
		}
		raw = bytes.TrimSpace(bytes.Replace(raw, newline, space, -1))

		var event IncomingEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			c.logger.Warn().Err(err).Msg("could not decode incoming event")
			c.sendError("malformed event")
			continue
		}

		c.handleEvent(context.Background(), event)
	}
}

func (c *Client) handleEvent(ctx context.Context, event IncomingEvent) {
	switch event.Event {
	case EventJoinConversation:
		// Same predicate as the request path: a user who cannot read a
		// conversation over HTTP cannot join its room either.
		if !c.chatService.IsParticipant(ctx, c.id, event.ConversationId) {
			c.sendError("not a participant of this conversation")
			return
		}
		c.hub.Join(c, event.ConversationId)

	case EventLeaveConversation:
		c.hub.Leave(c, event.ConversationId)

	case EventSendMessage:
		message, _, err := c.chatService.SendMessage(ctx, c.id, NewMessage{
			ConversationId: event.ConversationId,
			Content:        event.Content,
			ImageUrl:       event.ImageUrl,
		})
		if err != nil {
			c.sendServiceError(err)
			return
		}

		c.hub.CastRoom(event.ConversationId, OutgoingEvent{
			Event: EventNewMessage,
			Data:  NewMessageData{Message: message, TempId: event.TempId},
		}, c)

		// Ack to the originating socket only, correlated by the
		// client-supplied temp id for optimistic-UI reconciliation.
		c.enqueue(OutgoingEvent{
			Event: EventMessageSent,
			Data:  MessageSentData{TempId: event.TempId, Message: message},
		})

	case EventTypingStart:
		c.hub.SetTyping(c, event.ConversationId, true)

	case EventTypingStop:
		c.hub.SetTyping(c, event.ConversationId, false)

	case EventMarkRead:
		if err := c.chatService.MarkConversationRead(ctx, c.id, event.ConversationId); err != nil {
			c.sendServiceError(err)
			return
		}
		c.hub.CastRoom(event.ConversationId, OutgoingEvent{
			Event: EventMessagesRead,
			Data:  MessagesReadData{ConversationId: event.ConversationId, ReadBy: c.id},
		}, c)

	default:
		c.sendError("unknown event")
	}
}

func (c *Client) sendServiceError(err error) {
	switch {
	case errors.Is(err, ErrForbidden):
		c.sendError("not a participant of this conversation")
	case errors.Is(err, ErrNotFound):
		c.sendError("conversation not found")
	case IsValidation(err):
		c.sendError(err.Error())
	default:
		c.logger.Error().Err(err).Msg("socket operation failed")
		c.sendError("internal error")
	}
}

func (c *Client) sendError(message string) {
	c.enqueue(OutgoingEvent{Event: EventError, Data: ErrorData{Message: message}})
}

func (c *Client) enqueue(event OutgoingEvent) {
	data := event.marshal()
	if data == nil {
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn().Msg("send buffer full, dropping event")
	}
}

// WritePump pumps marshaled events from the Hub to the ws connection. It
// is the only writer of the connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(data)

			// Add queued events to the current ws message.
			n := len(c.send)
			for i := 0; i < n; i++ {
				_, _ = w.Write(newline)
				_, _ = w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
