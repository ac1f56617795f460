package api

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"melodiChat/pkg/metrics"
)

// ImagePreview is the conversation preview written for image-only messages.
const ImagePreview = "📷 Photo"

const maxContentLength = 4000

// ChatService is the single implementation of conversation and message
// semantics. Both the HTTP handlers and the socket clients go through it,
// so authorization and the atomic message write behave identically on
// either path.
type ChatService interface {
	// IsParticipant fails closed: a lookup miss or store error reads as
	// "not a participant".
	IsParticipant(ctx context.Context, userId string, conversationId string) bool

	GetConversations(ctx context.Context, userId string) ([]ConversationSummary, error)
	CreateConversation(ctx context.Context, userId string, participantId string) (string, error)

	// GetMessages marks every message not authored by userId as read
	// before returning the full history in chronological order.
	GetMessages(ctx context.Context, userId string, conversationId string) ([]MessageDTO, error)

	// SendMessage persists the message and the conversation preview as one
	// atomic unit, then dispatches a notification to the other participant.
	// The returned participant list is used by the gateway for room fanout.
	SendMessage(ctx context.Context, senderId string, in NewMessage) (*MessageDTO, []string, error)

	// MarkConversationRead batches the unread→read transition for every
	// message in the conversation not authored by userId.
	MarkConversationRead(ctx context.Context, userId string, conversationId string) error
}

type ChatRepository interface {
	GetConversation(ctx context.Context, conversationId string) (*Conversation, error)
	GetConversations(ctx context.Context, userId string) ([]Conversation, error)
	FindOrCreateConversation(ctx context.Context, userId string, participantId string) (*Conversation, error)
	GetMessages(ctx context.Context, conversationId string) ([]Message, error)
	AddMessage(ctx context.Context, conversationId string, senderId string, content string, imageUrl string, preview string) (*Message, error)
	MarkMessagesRead(ctx context.Context, conversationId string, readerId string) error
}

type chatService struct {
	storage  ChatRepository
	users    UserRepository
	notifier Notifier
	logger   zerolog.Logger
}

func NewChatService(storage ChatRepository, users UserRepository, notifier Notifier, logger zerolog.Logger) ChatService {
	return &chatService{storage: storage, users: users, notifier: notifier, logger: logger}
}

func (c *chatService) IsParticipant(ctx context.Context, userId string, conversationId string) bool {
	conversation, err := c.storage.GetConversation(ctx, conversationId)
	if err != nil || conversation == nil {
		return false
	}
	return conversation.HasParticipant(userId)
}

func (c *chatService) GetConversations(ctx context.Context, userId string) ([]ConversationSummary, error) {
	conversations, err := c.storage.GetConversations(ctx, userId)
	if err != nil {
		return nil, err
	}
	if len(conversations) == 0 {
		return []ConversationSummary{}, nil
	}

	otherIds := make([]string, 0, len(conversations))
	for i := range conversations {
		otherIds = append(otherIds, conversations[i].OtherParticipant(userId))
	}

	users, err := c.users.GetUserByIds(ctx, otherIds)
	if err != nil {
		return nil, err
	}
	byId := make(map[string]*UserModel, len(users))
	for _, user := range users {
		byId[user.UID] = user
	}

	summaries := make([]ConversationSummary, 0, len(conversations))
	for i := range conversations {
		conversation := &conversations[i]

		summary := ConversationSummary{
			Id:            conversation.Id,
			LastMessageAt: conversation.LastMessageAt,
		}
		if conversation.LastMessage != nil {
			summary.LastMessage = *conversation.LastMessage
		}

		otherId := conversation.OtherParticipant(userId)
		if user, ok := byId[otherId]; ok {
			summary.OtherUser = user.ConvertToDTO()
		} else {
			summary.OtherUser = UserSummary{Id: otherId}
		}

		summaries = append(summaries, summary)
	}

	return summaries, nil
}

func (c *chatService) CreateConversation(ctx context.Context, userId string, participantId string) (string, error) {
	if participantId == "" {
		return "", &ValidationError{Field: "participantId", Reason: "is required"}
	}
	if participantId == userId {
		return "", &ValidationError{Field: "participantId", Reason: "cannot start a conversation with yourself"}
	}

	users, err := c.users.GetUserByIds(ctx, []string{participantId})
	if err != nil {
		return "", err
	}
	if len(users) == 0 {
		return "", ErrNotFound
	}

	conversation, err := c.storage.FindOrCreateConversation(ctx, userId, participantId)
	if err != nil {
		return "", err
	}

	return conversation.Id, nil
}

func (c *chatService) GetMessages(ctx context.Context, userId string, conversationId string) ([]MessageDTO, error) {
	conversation, err := c.storage.GetConversation(ctx, conversationId)
	if err != nil {
		return nil, err
	}
	if conversation == nil {
		return nil, ErrNotFound
	}
	if !conversation.HasParticipant(userId) {
		return nil, ErrForbidden
	}

	// Viewing acknowledges: everything the other participant sent becomes
	// read before the history is returned.
	if err := c.storage.MarkMessagesRead(ctx, conversationId, userId); err != nil {
		return nil, err
	}

	messages, err := c.storage.GetMessages(ctx, conversationId)
	if err != nil {
		return nil, err
	}

	users, err := c.users.GetUserByIds(ctx, conversation.Participants())
	if err != nil {
		return nil, err
	}
	senders := make(map[string]UserSummary, len(users))
	for _, user := range users {
		senders[user.UID] = user.ConvertToDTO()
	}

	dtos := make([]MessageDTO, 0, len(messages))
	for i := range messages {
		dto := convertMessage(&messages[i])
		if sender, ok := senders[messages[i].SenderId]; ok {
			s := sender
			dto.Sender = &s
		}
		dtos = append(dtos, dto)
	}

	return dtos, nil
}

func (c *chatService) SendMessage(ctx context.Context, senderId string, in NewMessage) (*MessageDTO, []string, error) {
	if in.ConversationId == "" {
		return nil, nil, &ValidationError{Field: "conversationId", Reason: "is required"}
	}
	if in.Content == "" && in.ImageUrl == "" {
		return nil, nil, &ValidationError{Field: "content", Reason: "is required when no image is attached"}
	}
	if len(in.Content) > maxContentLength {
		return nil, nil, &ValidationError{Field: "content", Reason: "is too long"}
	}

	conversation, err := c.storage.GetConversation(ctx, in.ConversationId)
	if err != nil {
		return nil, nil, err
	}
	if conversation == nil {
		return nil, nil, ErrNotFound
	}
	if !conversation.HasParticipant(senderId) {
		return nil, nil, ErrForbidden
	}

	preview := in.Content
	if preview == "" {
		preview = ImagePreview
	}

	message, err := c.storage.AddMessage(ctx, in.ConversationId, senderId, in.Content, in.ImageUrl, preview)
	if err != nil {
		return nil, nil, err
	}
	metrics.MessagesSent.Inc()

	dto := convertMessage(message)

	senders, err := c.users.GetUserByIds(ctx, []string{senderId})
	if err == nil && len(senders) > 0 {
		sender := senders[0].ConvertToDTO()
		dto.Sender = &sender
	}

	c.dispatchNotification(conversation.OtherParticipant(senderId), dto)

	return &dto, conversation.Participants(), nil
}

func (c *chatService) MarkConversationRead(ctx context.Context, userId string, conversationId string) error {
	conversation, err := c.storage.GetConversation(ctx, conversationId)
	if err != nil {
		return err
	}
	if conversation == nil {
		return ErrNotFound
	}
	if !conversation.HasParticipant(userId) {
		return ErrForbidden
	}

	return c.storage.MarkMessagesRead(ctx, conversationId, userId)
}

// dispatchNotification is best-effort: a failed dispatch never fails or
// delays the send that triggered it.
func (c *chatService) dispatchNotification(recipientId string, message MessageDTO) {
	title := "New message"
	if message.Sender != nil && message.Sender.Username != "" {
		title = message.Sender.Username
	}
	body := message.Content
	if body == "" {
		body = ImagePreview
	}

	go func() {
		err := c.notifier.Notify(context.Background(), recipientId, "message", title, body, "/messages/"+message.ConversationId)
		if err != nil {
			metrics.NotificationFailures.Inc()
			c.logger.Warn().Err(err).Str("recipient", recipientId).Msg("notification dispatch failed")
		}
	}()
}

func convertMessage(m *Message) MessageDTO {
	dto := MessageDTO{
		Id:             m.Id,
		ConversationId: m.ConversationId,
		SenderId:       m.SenderId,
		Content:        m.Content,
		IsRead:         m.IsRead,
		CreatedAt:      m.CreatedAt,
	}
	if m.ImageUrl != nil {
		dto.ImageUrl = *m.ImageUrl
	}
	return dto
}

// IsValidation reports whether err is a field-level validation failure.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
