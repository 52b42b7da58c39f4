package hooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-dispatch/core"
)

const (
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
	HeaderEvent     = "X-Event"

	signaturePrefix = "sha256="

	// responsePeekLimit bounds how much of an error response body is kept
	// for the webhook's last_error field.
	responsePeekLimit = 512
)

// WebhookHandler delivers HMAC-signed events to user-supplied URLs. It is
// the reference handler: every other delivery mechanism shares its result
// and retry contract.
type WebhookHandler struct {
	client *http.Client
	guard  *SSRFGuard
	store  core.WebhookStore
	obs    core.Instrumentation
	now    func() time.Time
}

type WebhookOption func(*WebhookHandler)

func WithWebhookClient(client *http.Client) WebhookOption {
	return func(h *WebhookHandler) {
		if client != nil {
			h.client = client
		}
	}
}

func WithSSRFGuard(guard *SSRFGuard) WebhookOption {
	return func(h *WebhookHandler) {
		if guard != nil {
			h.guard = guard
		}
	}
}

func WithWebhookInstrumentation(obs core.Instrumentation) WebhookOption {
	return func(h *WebhookHandler) {
		h.obs = obs
	}
}

func NewWebhookHandler(store core.WebhookStore, timeout time.Duration, options ...WebhookOption) (*WebhookHandler, error) {
	if store == nil {
		return nil, fmt.Errorf("hooks: webhook store is required")
	}
	if timeout <= 0 {
		timeout = core.DefaultConfig().Webhook.Timeout
	}
	handler := &WebhookHandler{
		// Redirects are never followed: a 3xx could retarget the request at
		// an address the guard already rejected.
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		guard: NewSSRFGuard(),
		store: store,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(handler)
	}
	return handler, nil
}

func (h *WebhookHandler) Name() string {
	return "webhook"
}

func (h *WebhookHandler) Run(ctx context.Context, event core.Event, target core.HookTarget) (core.HookResult, error) {
	if h == nil || h.client == nil {
		return core.HookResult{}, fmt.Errorf("hooks: webhook handler is not configured")
	}
	rawURL := target.TargetString("url")
	if rawURL == "" {
		return failure(core.NewNonRetryableError("hooks: webhook target url is required")), nil
	}
	webhookID := target.ConfigString("webhook_id")
	secret := target.ConfigString("secret")

	if err := h.guard.Validate(ctx, rawURL); err != nil {
		return failure(err), nil
	}

	body, err := canonicalPayload(event)
	if err != nil {
		return failure(core.NewNonRetryableError("hooks: encode webhook payload: " + err.Error())), nil
	}

	timestamp := h.now().Unix()
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return failure(core.NewNonRetryableError("hooks: build webhook request: " + err.Error())), nil
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set(HeaderSignature, signaturePrefix+sign(secret, timestamp, body))
	request.Header.Set(HeaderTimestamp, strconv.FormatInt(timestamp, 10))
	request.Header.Set(HeaderEvent, string(event.Type))

	response, err := h.client.Do(request)
	if err != nil {
		// Timeouts, resets, refused connections: the endpoint may recover.
		return failure(core.WrapRetryable(err, "hooks: webhook delivery failed")), nil
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, responsePeekLimit))
		_ = response.Body.Close()
	}()

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		h.recordSuccess(ctx, webhookID)
		return core.HookResult{Success: true}, nil
	}

	peek, _ := io.ReadAll(io.LimitReader(response.Body, responsePeekLimit))
	cause := fmt.Errorf("hooks: webhook endpoint returned %d: %s", response.StatusCode, strings.TrimSpace(string(peek)))
	if core.RetryableStatus(response.StatusCode) {
		return failure(core.WrapRetryable(cause, "hooks: webhook delivery rejected")), nil
	}
	return failure(core.NewNonRetryableError(cause.Error())), nil
}

// TestConnection sends a signed ping without touching failure accounting.
func (h *WebhookHandler) TestConnection(ctx context.Context, target core.HookTarget) error {
	if h == nil || h.client == nil {
		return fmt.Errorf("hooks: webhook handler is not configured")
	}
	rawURL := target.TargetString("url")
	if rawURL == "" {
		return fmt.Errorf("hooks: webhook target url is required")
	}
	if err := h.guard.Validate(ctx, rawURL); err != nil {
		return err
	}

	body := []byte(`{"type":"ping"}`)
	timestamp := h.now().Unix()
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set(HeaderSignature, signaturePrefix+sign(target.ConfigString("secret"), timestamp, body))
	request.Header.Set(HeaderTimestamp, strconv.FormatInt(timestamp, 10))
	request.Header.Set(HeaderEvent, "ping")

	response, err := h.client.Do(request)
	if err != nil {
		return err
	}
	defer func() {
		_ = response.Body.Close()
	}()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return fmt.Errorf("hooks: webhook test returned %d", response.StatusCode)
	}
	return nil
}

func (h *WebhookHandler) recordSuccess(ctx context.Context, webhookID string) {
	if h.store == nil || webhookID == "" {
		return
	}
	if err := h.store.RecordSuccess(ctx, webhookID, h.now()); err != nil {
		h.obs.Error(ctx, "webhook success bookkeeping failed", map[string]any{
			"webhook_id": webhookID,
			"error":      err.Error(),
		})
	}
}

// canonicalPayload is the stable wire body {id, type, createdAt, data};
// receivers recompute the signature over "{timestamp}.{body}".
func canonicalPayload(event core.Event) ([]byte, error) {
	envelope := struct {
		ID        string         `json:"id"`
		Type      string         `json:"type"`
		CreatedAt string         `json:"createdAt"`
		Data      map[string]any `json:"data"`
	}{
		ID:        event.ID,
		Type:      string(event.Type),
		CreatedAt: event.OccurredAt.UTC().Format(time.RFC3339),
		Data:      event.Data,
	}
	return json.Marshal(envelope)
}

func sign(secret string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = fmt.Fprintf(mac, "%d.", timestamp)
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func failure(err error) core.HookResult {
	return core.HookResult{
		Success:     false,
		Err:         err,
		ShouldRetry: core.Retryable(err),
	}
}

var (
	_ core.HookHandler      = (*WebhookHandler)(nil)
	_ core.ConnectionTester = (*WebhookHandler)(nil)
)
