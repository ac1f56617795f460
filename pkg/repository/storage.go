package repository

import (
	"context"
	"fmt"
	"strconv"

	"github.com/georgysavva/scany/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"melodiChat/pkg/api"
	"melodiChat/pkg/metrics"
)

type Storage interface {
	api.ChatRepository
	api.UserRepository
}

type storage struct {
	db *pgxpool.Pool
}

func NewStorage(db *pgxpool.Pool) Storage {
	return &storage{db: db}
}

func (s *storage) GetConversation(ctx context.Context, conversationId string) (*api.Conversation, error) {
	var conversation api.Conversation
	err := pgxscan.Get(ctx, s.db, &conversation,
		`SELECT id, participant_one, participant_two, last_message, last_message_at, created_at
		 FROM conversation WHERE id = $1`, conversationId)
	if pgxscan.NotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting conversation: %w", err)
	}
	return &conversation, nil
}

func (s *storage) GetConversations(ctx context.Context, userId string) ([]api.Conversation, error) {
	var conversations []api.Conversation
	err := pgxscan.Select(ctx, s.db, &conversations,
		`SELECT id, participant_one, participant_two, last_message, last_message_at, created_at
		 FROM conversation
		 WHERE participant_one = $1 OR participant_two = $1
		 ORDER BY last_message_at DESC NULLS LAST, created_at DESC`, userId)
	if err != nil {
		return nil, fmt.Errorf("selecting conversations: %w", err)
	}
	return conversations, nil
}

// FindOrCreateConversation returns the unique conversation for the
// unordered pair, creating it when absent. The unique index over the
// sorted pair makes concurrent creation attempts collapse onto one row:
// the loser of the race inserts nothing and re-reads the winner's row.
func (s *storage) FindOrCreateConversation(ctx context.Context, userId string, participantId string) (*api.Conversation, error) {
	existing, err := s.findByPair(ctx, userId, participantId)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	var conversation api.Conversation
	err = pgxscan.Get(ctx, s.db, &conversation,
		`INSERT INTO conversation (id, participant_one, participant_two)
		 VALUES ($1, $2, $3)
		 ON CONFLICT ((LEAST(participant_one, participant_two)), (GREATEST(participant_one, participant_two)))
		 DO NOTHING
		 RETURNING id, participant_one, participant_two, last_message, last_message_at, created_at`,
		uuid.NewString(), userId, participantId)
	if err == nil {
		metrics.ConversationsCreated.Inc()
		return &conversation, nil
	}
	if !pgxscan.NotFound(err) {
		return nil, fmt.Errorf("inserting conversation: %w", err)
	}

	// Lost the race; the conflicting row is the one we want.
	existing, err = s.findByPair(ctx, userId, participantId)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("conversation for pair %s/%s vanished after conflict", userId, participantId)
	}
	return existing, nil
}

func (s *storage) findByPair(ctx context.Context, a string, b string) (*api.Conversation, error) {
	var conversation api.Conversation
	err := pgxscan.Get(ctx, s.db, &conversation,
		`SELECT id, participant_one, participant_two, last_message, last_message_at, created_at
		 FROM conversation
		 WHERE (participant_one = $1 AND participant_two = $2)
		    OR (participant_one = $2 AND participant_two = $1)`, a, b)
	if pgxscan.NotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting conversation by pair: %w", err)
	}
	return &conversation, nil
}

func (s *storage) GetMessages(ctx context.Context, conversationId string) ([]api.Message, error) {
	var messages []api.Message
	err := pgxscan.Select(ctx, s.db, &messages,
		`SELECT id, conversation_id, sender_id, content, image_url, is_read, created_at
		 FROM message
		 WHERE conversation_id = $1
		 ORDER BY created_at ASC, id ASC`, conversationId)
	if err != nil {
		return nil, fmt.Errorf("selecting messages: %w", err)
	}
	return messages, nil
}

// AddMessage inserts the message and refreshes the parent conversation's
// preview in one transaction; a partial write never becomes visible.
func (s *storage) AddMessage(ctx context.Context, conversationId string, senderId string, content string, imageUrl string, preview string) (*api.Message, error) {
	var message api.Message

	err := s.db.BeginFunc(ctx, func(tx pgx.Tx) error {
		var image interface{}
		if imageUrl != "" {
			image = imageUrl
		}

		if err := pgxscan.Get(ctx, tx, &message,
			`INSERT INTO message (id, conversation_id, sender_id, content, image_url)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING id, conversation_id, sender_id, content, image_url, is_read, created_at`,
			uuid.NewString(), conversationId, senderId, content, image); err != nil {
			return fmt.Errorf("inserting message: %w", err)
		}

		tag, err := tx.Exec(ctx,
			`UPDATE conversation SET last_message = $1, last_message_at = $2 WHERE id = $3`,
			preview, message.CreatedAt, conversationId)
		if err != nil {
			return fmt.Errorf("updating conversation preview: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("conversation %s missing while adding message", conversationId)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return &message, nil
}

func (s *storage) MarkMessagesRead(ctx context.Context, conversationId string, readerId string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE message SET is_read = TRUE
		 WHERE conversation_id = $1 AND sender_id <> $2 AND is_read = FALSE`,
		conversationId, readerId)
	if err != nil {
		return fmt.Errorf("marking messages read: %w", err)
	}
	return nil
}

func (s *storage) GetUserByIds(ctx context.Context, uIds []string) ([]*api.UserModel, error) {
	if len(uIds) == 0 {
		return nil, nil
	}

	var users []*api.UserModel
	ids := make([]interface{}, len(uIds))
	inStmt := "$1"
	ids[0] = uIds[0]
	for i := 1; i < len(uIds); i++ {
		inStmt = inStmt + ",$" + strconv.Itoa(i+1)
		ids[i] = uIds[i]
	}
	if err := pgxscan.Select(ctx, s.db, &users,
		"SELECT uid, email, username, first_name, last_name, photo_url, fcm_token, created_at FROM user_account WHERE uid IN ("+inStmt+")", ids...); err != nil {
		return nil, fmt.Errorf("selecting users: %w", err)
	}
	return users, nil
}
