package hooks

import (
	"context"
	"fmt"

	"github.com/goliatone/go-dispatch/core"
)

// Notification is one in-app notification row to be created for a user.
type Notification struct {
	UserID      string
	PrincipalID string
	Kind        core.NotificationKind
	PostID      string
	Excerpt     string
	EventID     string
}

type NotificationCreator interface {
	Create(ctx context.Context, notification Notification) (notificationID string, err error)
}

// NotificationHandler writes in-app notifications through an injected
// creator, typically backed by the application's notification table.
type NotificationHandler struct {
	creator NotificationCreator
}

func NewNotificationHandler(creator NotificationCreator) (*NotificationHandler, error) {
	if creator == nil {
		return nil, fmt.Errorf("hooks: notification creator is required")
	}
	return &NotificationHandler{creator: creator}, nil
}

func (h *NotificationHandler) Name() string {
	return "notification"
}

func (h *NotificationHandler) Run(ctx context.Context, event core.Event, target core.HookTarget) (core.HookResult, error) {
	if h == nil || h.creator == nil {
		return core.HookResult{}, fmt.Errorf("hooks: notification handler is not configured")
	}
	userID := target.TargetString("user_id")
	if userID == "" {
		return failure(core.NewNonRetryableError("hooks: notification target user id is required")), nil
	}

	notificationID, err := h.creator.Create(ctx, Notification{
		UserID:      userID,
		PrincipalID: target.TargetString("principal_id"),
		Kind:        core.NotificationKind(target.ConfigString("kind")),
		PostID:      target.ConfigString("post_id"),
		Excerpt:     target.ConfigString("excerpt"),
		EventID:     event.ID,
	})
	if err != nil {
		return failure(err), nil
	}
	return core.HookResult{Success: true, ExternalID: notificationID}, nil
}

var _ core.HookHandler = (*NotificationHandler)(nil)
