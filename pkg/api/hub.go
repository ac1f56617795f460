package api

import (
	"github.com/rs/zerolog"

	"melodiChat/pkg/metrics"
)

// Hub owns every piece of cross-connection state: the online set (clients
// keyed by user id, one slice entry per open connection), room membership
// and the per-conversation typing sets. A single goroutine runs the event
// loop, so none of the maps need locking; everything reaches them through
// channels.
//
// One Hub per process. Presence and typing state are not shared across
// instances; running several gateways side by side needs an external
// pub/sub this service does not provide.
type Hub struct {
	// Connections per user id. A user is online while at least one
	// connection remains.
	clients map[string][]*Client

	// Room membership, keyed by conversation id.
	rooms map[string]map[*Client]bool

	// Typing user ids, keyed by conversation id.
	typing map[string]map[string]bool

	// Register requests from the clients.
	Register chan *Client

	unregister chan *Client
	join       chan roomRequest
	leave      chan roomRequest
	cast       chan roomCast
	typingReq  chan typingRequest

	logger zerolog.Logger
}

type roomRequest struct {
	client         *Client
	conversationId string
}

type roomCast struct {
	conversationId string
	event          OutgoingEvent
	exclude        *Client
}

type typingRequest struct {
	client         *Client
	conversationId string
	active         bool
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string][]*Client),
		rooms:      make(map[string]map[*Client]bool),
		typing:     make(map[string]map[string]bool),
		Register:   make(chan *Client),
		unregister: make(chan *Client),
		join:       make(chan roomRequest),
		leave:      make(chan roomRequest),
		cast:       make(chan roomCast),
		typingReq:  make(chan typingRequest),
		logger:     logger,
	}
}

// Unregister removes the client from presence, rooms and typing state.
// Called from the client's read goroutine on disconnect.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Join adds the client to a conversation's room. Callers must have
// verified participation first.
func (h *Hub) Join(client *Client, conversationId string) {
	h.join <- roomRequest{client: client, conversationId: conversationId}
}

// Leave removes the client from a conversation's room.
func (h *Hub) Leave(client *Client, conversationId string) {
	h.leave <- roomRequest{client: client, conversationId: conversationId}
}

// CastRoom delivers an event to every connection joined to the
// conversation's room, except exclude when non-nil.
func (h *Hub) CastRoom(conversationId string, event OutgoingEvent, exclude *Client) {
	h.cast <- roomCast{conversationId: conversationId, event: event, exclude: exclude}
}

// SetTyping records or clears the client's typing signal for a
// conversation and fans the change out to the rest of the room.
func (h *Hub) SetTyping(client *Client, conversationId string, active bool) {
	h.typingReq <- typingRequest{client: client, conversationId: conversationId, active: active}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)

		case req := <-h.join:
			members, ok := h.rooms[req.conversationId]
			if !ok {
				members = make(map[*Client]bool)
				h.rooms[req.conversationId] = members
			}
			members[req.client] = true

		case req := <-h.leave:
			h.removeFromRoom(req.client, req.conversationId)

		case cast := <-h.cast:
			h.castToRoom(cast.conversationId, cast.event, cast.exclude)

		case req := <-h.typingReq:
			h.setTyping(req)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	firstConnection := len(h.clients[client.id]) == 0
	h.clients[client.id] = append(h.clients[client.id], client)
	metrics.WSConnections.Inc()

	// Only the first connection flips the user online; further tabs or
	// devices are invisible to the rest of the world.
	if firstConnection {
		h.castToAll(OutgoingEvent{Event: EventUserOnline, Data: PresenceData{UserId: client.id}})
	}
}

func (h *Hub) removeClient(client *Client) {
	connections, ok := h.clients[client.id]
	if !ok {
		return
	}

	for i := range connections {
		if connections[i] != client {
			continue
		}
		length := len(connections) - 1
		connections[i] = connections[length]
		connections[length] = nil
		connections = connections[:length]
		metrics.WSConnections.Dec()
		break
	}
	h.clients[client.id] = connections

	close(client.send)

	for conversationId := range h.rooms {
		h.removeFromRoom(client, conversationId)
	}

	// Drop any typing signal the user had pending; each affected room is
	// told the typing stopped.
	for conversationId, typists := range h.typing {
		if typists[client.id] {
			delete(typists, client.id)
			if len(typists) == 0 {
				delete(h.typing, conversationId)
			}
			h.castToRoom(conversationId, OutgoingEvent{
				Event: EventUserStoppedTyping,
				Data:  TypingData{ConversationId: conversationId, UserId: client.id},
			}, client)
		}
	}

	if len(connections) == 0 {
		delete(h.clients, client.id)
		h.castToAll(OutgoingEvent{Event: EventUserOffline, Data: PresenceData{UserId: client.id}})
	}
}

func (h *Hub) removeFromRoom(client *Client, conversationId string) {
	members, ok := h.rooms[conversationId]
	if !ok {
		return
	}
	delete(members, client)
	if len(members) == 0 {
		delete(h.rooms, conversationId)
	}
}

func (h *Hub) setTyping(req typingRequest) {
	// Typing signals only count inside the room the client has joined.
	if !h.rooms[req.conversationId][req.client] {
		return
	}

	typists, ok := h.typing[req.conversationId]
	if req.active {
		if !ok {
			typists = make(map[string]bool)
			h.typing[req.conversationId] = typists
		}
		if typists[req.client.id] {
			return
		}
		typists[req.client.id] = true
		h.castToRoom(req.conversationId, OutgoingEvent{
			Event: EventUserTyping,
			Data:  TypingData{ConversationId: req.conversationId, UserId: req.client.id, Username: req.client.username},
		}, req.client)
		return
	}

	if !ok || !typists[req.client.id] {
		return
	}
	delete(typists, req.client.id)
	if len(typists) == 0 {
		delete(h.typing, req.conversationId)
	}
	h.castToRoom(req.conversationId, OutgoingEvent{
		Event: EventUserStoppedTyping,
		Data:  TypingData{ConversationId: req.conversationId, UserId: req.client.id},
	}, req.client)
}

func (h *Hub) castToRoom(conversationId string, event OutgoingEvent, exclude *Client) {
	members, ok := h.rooms[conversationId]
	if !ok {
		return
	}

	data := event.marshal()
	if data == nil {
		return
	}

	for client := range members {
		if client == exclude {
			continue
		}
		h.deliver(client, data)
	}
}

func (h *Hub) castToAll(event OutgoingEvent) {
	data := event.marshal()
	if data == nil {
		return
	}

	for _, connections := range h.clients {
		for _, client := range connections {
			h.deliver(client, data)
		}
	}
}

// deliver drops the event when the connection's buffer is full rather than
// blocking the loop; the slow consumer catches up from the store.
func (h *Hub) deliver(client *Client, data []byte) {
	select {
	case client.send <- data:
	default:
		h.logger.Warn().Str("uid", client.id).Msg("send buffer full, dropping event")
	}
}
