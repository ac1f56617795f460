package api

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// Client → server events.
const (
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventSendMessage       = "send_message"
	EventTypingStart       = "typing_start"
	EventTypingStop        = "typing_stop"
	EventMarkRead          = "mark_read"
)

// Server → client events.
const (
	EventUserOnline        = "user_online"
	EventUserOffline       = "user_offline"
	EventNewMessage        = "new_message"
	EventMessageSent       = "message_sent"
	EventUserTyping        = "user_typing"
	EventUserStoppedTyping = "user_stopped_typing"
	EventMessagesRead      = "messages_read"
	EventError             = "error"
)

// IncomingEvent is the envelope read off a socket connection.
type IncomingEvent struct {
	Event          string `json:"event"`
	ConversationId string `json:"conversationId,omitempty"`
	Content        string `json:"content,omitempty"`
	ImageUrl       string `json:"imageUrl,omitempty"`
	TempId         string `json:"tempId,omitempty"`
}

// OutgoingEvent is the envelope written to socket connections.
type OutgoingEvent struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

type PresenceData struct {
	UserId string `json:"userId"`
}

type NewMessageData struct {
	Message *MessageDTO `json:"message"`
	TempId  string      `json:"tempId,omitempty"`
}

type MessageSentData struct {
	TempId  string      `json:"tempId,omitempty"`
	Message *MessageDTO `json:"message"`
}

type TypingData struct {
	ConversationId string `json:"conversationId"`
	UserId         string `json:"userId"`
	Username       string `json:"username,omitempty"`
}

type MessagesReadData struct {
	ConversationId string `json:"conversationId"`
	ReadBy         string `json:"readBy"`
}

type ErrorData struct {
	Message string `json:"message"`
}

func (e OutgoingEvent) marshal() []byte {
	data, err := json.Marshal(e)
	if err != nil {
		log.Error().Err(err).Str("event", e.Event).Msg("could not marshal outgoing event")
		return nil
	}
	return data
}
