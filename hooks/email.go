package hooks

import (
	"context"
	"fmt"

	"github.com/goliatone/go-dispatch/core"
)

// EmailMessage is the handler-to-sender contract. The sender owns
// templating and transport; the handler owns addressing and retry
// classification.
type EmailMessage struct {
	To               string
	PrincipalID      string
	Kind             core.NotificationKind
	PostID           string
	Excerpt          string
	UnsubscribeToken string
}

type EmailSender interface {
	Send(ctx context.Context, message EmailMessage) (messageID string, err error)
}

// EmailHandler delivers subscriber notification emails through an injected
// sender. Sender errors pass through unwrapped so their retry
// classification survives.
type EmailHandler struct {
	sender EmailSender
}

func NewEmailHandler(sender EmailSender) (*EmailHandler, error) {
	if sender == nil {
		return nil, fmt.Errorf("hooks: email sender is required")
	}
	return &EmailHandler{sender: sender}, nil
}

func (h *EmailHandler) Name() string {
	return "email"
}

func (h *EmailHandler) Run(ctx context.Context, event core.Event, target core.HookTarget) (core.HookResult, error) {
	if h == nil || h.sender == nil {
		return core.HookResult{}, fmt.Errorf("hooks: email handler is not configured")
	}
	to := target.TargetString("email")
	if to == "" {
		return failure(core.NewNonRetryableError("hooks: email target address is required")), nil
	}

	messageID, err := h.sender.Send(ctx, EmailMessage{
		To:               to,
		PrincipalID:      target.TargetString("principal_id"),
		Kind:             core.NotificationKind(target.ConfigString("kind")),
		PostID:           target.ConfigString("post_id"),
		Excerpt:          target.ConfigString("excerpt"),
		UnsubscribeToken: target.ConfigString("unsubscribe_token"),
	})
	if err != nil {
		return failure(err), nil
	}
	return core.HookResult{Success: true, ExternalID: messageID}, nil
}

var _ core.HookHandler = (*EmailHandler)(nil)
