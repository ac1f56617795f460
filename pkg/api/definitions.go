package api

import (
	"errors"
	"fmt"
	"time"
)

// Conversation is a persisted two-party messaging thread. Participants are
// stored in creation order; the unordered pair is unique at the store level.
type Conversation struct {
	Id             string     `db:"id"`
	ParticipantOne string     `db:"participant_one"`
	ParticipantTwo string     `db:"participant_two"`
	LastMessage    *string    `db:"last_message"`
	LastMessageAt  *time.Time `db:"last_message_at"`
	CreatedAt      time.Time  `db:"created_at"`
}

// HasParticipant reports whether uid is one of the two participants.
func (c *Conversation) HasParticipant(uid string) bool {
	return c.ParticipantOne == uid || c.ParticipantTwo == uid
}

// OtherParticipant returns the first participant that is not uid, or the
// first participant when both match.
func (c *Conversation) OtherParticipant(uid string) string {
	if c.ParticipantOne != uid {
		return c.ParticipantOne
	}
	return c.ParticipantTwo
}

// Participants returns both participant ids.
func (c *Conversation) Participants() []string {
	return []string{c.ParticipantOne, c.ParticipantTwo}
}

type Message struct {
	Id             string    `db:"id"`
	ConversationId string    `db:"conversation_id"`
	SenderId       string    `db:"sender_id"`
	Content        string    `db:"content"`
	ImageUrl       *string   `db:"image_url"`
	IsRead         bool      `db:"is_read"`
	CreatedAt      time.Time `db:"created_at"`
}

type UserModel struct {
	UID       string     `db:"uid"`
	Email     string     `db:"email"`
	Username  string     `db:"username"`
	FirstName *string    `db:"first_name"`
	LastName  *string    `db:"last_name"`
	PhotoUrl  *string    `db:"photo_url"`
	FcmToken  *string    `db:"fcm_token"`
	CreatedAt *time.Time `db:"created_at"`
}

func (u *UserModel) ConvertToDTO() UserSummary {
	var name string
	if u.FirstName != nil && u.LastName != nil {
		name = *u.FirstName + " " + *u.LastName
	}
	return UserSummary{
		Id:       u.UID,
		Username: u.Username,
		Name:     name,
		Avatar:   u.PhotoUrl,
	}
}

// UserSummary is the sender/participant shape attached to API responses.
type UserSummary struct {
	Id       string  `json:"id"`
	Username string  `json:"username"`
	Name     string  `json:"name,omitempty"`
	Avatar   *string `json:"avatar,omitempty"`
}

// ConversationSummary is one row of the conversation list, annotated with
// the participant that is not the caller.
type ConversationSummary struct {
	Id            string      `json:"id"`
	OtherUser     UserSummary `json:"otherUser"`
	LastMessage   string      `json:"lastMessage,omitempty"`
	LastMessageAt *time.Time  `json:"lastMessageAt,omitempty"`
}

type MessageDTO struct {
	Id             string       `json:"id"`
	ConversationId string       `json:"conversationId"`
	SenderId       string       `json:"senderId"`
	Content        string       `json:"content,omitempty"`
	ImageUrl       string       `json:"imageUrl,omitempty"`
	IsRead         bool         `json:"isRead"`
	CreatedAt      time.Time    `json:"createdAt"`
	Sender         *UserSummary `json:"sender,omitempty"`
}

// NewMessage is a send request, shared by the HTTP and socket paths.
type NewMessage struct {
	ConversationId string `json:"conversationId"`
	Content        string `json:"content,omitempty"`
	ImageUrl       string `json:"imageUrl,omitempty"`
}

// NewConversation is the POST /conversations request body.
type NewConversation struct {
	ParticipantId string `json:"participantId"`
}

var (
	// ErrNotFound maps to 404 on the request path and an error event on
	// the socket path.
	ErrNotFound = errors.New("not found")

	// ErrForbidden means the caller is authenticated but not a
	// participant of the conversation it is acting on.
	ErrForbidden = errors.New("forbidden")
)

// ValidationError carries field-level detail for malformed input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}
