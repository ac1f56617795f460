package api

import "context"

// Notifier delivers out-of-band notifications after a message has been
// persisted. Implementations must be safe for concurrent use; callers
// treat Notify as fire-and-forget and swallow its errors.
type Notifier interface {
	Notify(ctx context.Context, userId string, notificationType string, title string, body string, link string) error
}

// NopNotifier discards every notification. Used when no push credentials
// are configured and in tests.
type NopNotifier struct{}

func (NopNotifier) Notify(ctx context.Context, userId, notificationType, title, body, link string) error {
	return nil
}
