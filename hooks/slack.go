package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goliatone/go-dispatch/core"
)

const slackPostMessageURL = "https://slack.com/api/chat.postMessage"

// slackTransientErrors are API error codes worth retrying; everything else
// the API rejects (bad token, unknown channel) will not heal on its own.
var slackTransientErrors = map[string]struct{}{
	"ratelimited":      {},
	"rate_limited":     {},
	"service_error":    {},
	"internal_error":   {},
	"request_timeout":  {},
	"fatal_error":      {},
	"message_limit":    {},
	"accesslimited":    {},
	"too_many_reqs":    {},
	"org_login_needed": {},
}

// SlackHandler posts event summaries to a workspace channel using the bot
// token carried in the integration mapping config.
type SlackHandler struct {
	client *http.Client
	apiURL string
}

type SlackOption func(*SlackHandler)

func WithSlackClient(client *http.Client) SlackOption {
	return func(h *SlackHandler) {
		if client != nil {
			h.client = client
		}
	}
}

func WithSlackAPIURL(apiURL string) SlackOption {
	return func(h *SlackHandler) {
		if apiURL != "" {
			h.apiURL = apiURL
		}
	}
}

func NewSlackHandler(options ...SlackOption) *SlackHandler {
	handler := &SlackHandler{
		client: &http.Client{Timeout: 10 * time.Second},
		apiURL: slackPostMessageURL,
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(handler)
	}
	return handler
}

func (h *SlackHandler) Name() string {
	return "slack"
}

func (h *SlackHandler) Run(ctx context.Context, event core.Event, target core.HookTarget) (core.HookResult, error) {
	if h == nil || h.client == nil {
		return core.HookResult{}, fmt.Errorf("hooks: slack handler is not configured")
	}
	channelID := target.TargetString("channel_id")
	if channelID == "" {
		return failure(core.NewNonRetryableError("hooks: slack channel id is required")), nil
	}
	token := target.ConfigString("bot_token")
	if token == "" {
		return failure(core.NewNonRetryableError("hooks: slack bot token is required")), nil
	}

	payload, err := json.Marshal(map[string]any{
		"channel": channelID,
		"text":    slackMessageText(event),
	})
	if err != nil {
		return failure(core.NewNonRetryableError("hooks: encode slack payload: " + err.Error())), nil
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, h.apiURL, bytes.NewReader(payload))
	if err != nil {
		return failure(core.NewNonRetryableError("hooks: build slack request: " + err.Error())), nil
	}
	request.Header.Set("Content-Type", "application/json; charset=utf-8")
	request.Header.Set("Authorization", "Bearer "+token)

	response, err := h.client.Do(request)
	if err != nil {
		return failure(core.WrapRetryable(err, "hooks: slack delivery failed")), nil
	}
	defer func() {
		_ = response.Body.Close()
	}()

	if core.RetryableStatus(response.StatusCode) {
		return failure(core.NewRetryableError(fmt.Sprintf("hooks: slack api returned %d", response.StatusCode))), nil
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return failure(core.NewNonRetryableError(fmt.Sprintf("hooks: slack api returned %d", response.StatusCode))), nil
	}

	var body struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
		TS    string `json:"ts"`
	}
	if err := json.NewDecoder(io.LimitReader(response.Body, 4096)).Decode(&body); err != nil {
		return failure(core.WrapRetryable(err, "hooks: decode slack response")), nil
	}
	if !body.OK {
		cause := fmt.Errorf("hooks: slack api error: %s", body.Error)
		if _, transient := slackTransientErrors[body.Error]; transient {
			return failure(core.WrapRetryable(cause, "hooks: slack delivery rejected")), nil
		}
		return failure(core.NewNonRetryableError(cause.Error())), nil
	}
	return core.HookResult{Success: true, ExternalID: body.TS}, nil
}

// TestConnection posts auth.test semantics via an empty-channel probe: a
// bad token fails, a good token with a missing channel still proves auth.
func (h *SlackHandler) TestConnection(ctx context.Context, target core.HookTarget) error {
	result, err := h.Run(ctx, core.Event{
		ID:         "connection-test",
		Type:       core.EventPostCreated,
		OccurredAt: time.Now().UTC(),
		Actor:      core.ServiceActor("connection-test"),
		Data:       map[string]any{"title": "Connection test"},
	}, target)
	if err != nil {
		return err
	}
	if !result.Success {
		return result.Err
	}
	return nil
}

func slackMessageText(event core.Event) string {
	title := eventField(event, "title")
	switch event.Type {
	case core.EventPostCreated:
		return fmt.Sprintf("New post: %s", title)
	case core.EventPostStatusChanged:
		return fmt.Sprintf("Post status changed: %s -> %s",
			eventField(event, "from_status"), eventField(event, "to_status"))
	case core.EventCommentCreated:
		return "New comment on a post"
	case core.EventChangelogPublished:
		return fmt.Sprintf("Changelog published: %s", title)
	default:
		return string(event.Type)
	}
}

func eventField(event core.Event, key string) string {
	if len(event.Data) == 0 {
		return ""
	}
	value, _ := event.Data[key].(string)
	return value
}

var (
	_ core.HookHandler      = (*SlackHandler)(nil)
	_ core.ConnectionTester = (*SlackHandler)(nil)
)
