package notification

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/rs/zerolog"

	"melodiChat/pkg/api"
)

// FcmNotifier dispatches push notifications through Firebase Cloud
// Messaging. The recipient's device token is looked up from the user
// store; users without a registered device are silently skipped.
type FcmNotifier struct {
	client *messaging.Client
	users  api.UserRepository
	logger zerolog.Logger
}

func NewFcmNotifier(firebaseApp *firebase.App, users api.UserRepository, logger zerolog.Logger) (*FcmNotifier, error) {
	client, err := firebaseApp.Messaging(context.Background())
	if err != nil {
		return nil, fmt.Errorf("creating messaging client: %w", err)
	}
	return &FcmNotifier{client: client, users: users, logger: logger}, nil
}

func (n *FcmNotifier) Notify(ctx context.Context, userId, notificationType, title, body, link string) error {
	users, err := n.users.GetUserByIds(ctx, []string{userId})
	if err != nil {
		return fmt.Errorf("looking up notification recipient: %w", err)
	}
	if len(users) == 0 || users[0].FcmToken == nil || *users[0].FcmToken == "" {
		n.logger.Debug().Str("uid", userId).Msg("no device token, skipping notification")
		return nil
	}

	_, err = n.client.Send(ctx, &messaging.Message{
		Token: *users[0].FcmToken,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: map[string]string{
			"type": notificationType,
			"link": link,
		},
	})
	if err != nil {
		return fmt.Errorf("sending fcm message: %w", err)
	}

	return nil
}
