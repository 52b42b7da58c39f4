package hooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/goliatone/go-dispatch/core"
)

type recordingStore struct {
	successes []string
	failures  []string
}

func (s *recordingStore) ListActiveForEvent(ctx context.Context, eventType core.EventType) ([]core.Webhook, error) {
	return nil, nil
}

func (s *recordingStore) Get(ctx context.Context, id string) (core.Webhook, error) {
	return core.Webhook{}, core.ErrWebhookNotFound
}

func (s *recordingStore) RecordSuccess(ctx context.Context, id string, at time.Time) error {
	s.successes = append(s.successes, id)
	return nil
}

func (s *recordingStore) RecordFailure(ctx context.Context, id string, cause error, threshold int) (bool, error) {
	s.failures = append(s.failures, id)
	return false, nil
}

// newDeliveryHandler wires the handler at a public-looking hostname whose
// traffic is rerouted to the test server, so the address guard exercises its
// real resolution path.
func newDeliveryHandler(t *testing.T, server *httptest.Server, store core.WebhookStore) *WebhookHandler {
	t.Helper()
	client := &http.Client{
		Timeout: 2 * time.Second,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return net.Dial("tcp", server.Listener.Addr().String())
			},
		},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	guard := &SSRFGuard{lookup: func(ctx context.Context, host string) ([]net.IPAddr, error) {
		return []net.IPAddr{{IP: net.ParseIP("93.184.216.34")}}, nil
	}}
	handler, err := NewWebhookHandler(store, 2*time.Second, WithWebhookClient(client), WithSSRFGuard(guard))
	if err != nil {
		t.Fatalf("new webhook handler: %v", err)
	}
	return handler
}

func deliveryTarget() core.HookTarget {
	return core.HookTarget{
		HookType: "webhook",
		Target:   map[string]any{"url": "http://hooks.example.test/deliver"},
		Config:   map[string]any{"webhook_id": "wh-1", "secret": "shh"},
	}
}

func deliveryEvent() core.Event {
	return core.Event{
		ID:         "event-1",
		Type:       core.EventPostCreated,
		OccurredAt: time.Date(2025, time.August, 10, 12, 0, 0, 0, time.UTC),
		Actor:      core.ServiceActor("importer"),
		Data:       map[string]any{"post_id": "post-1", "title": "Dark mode"},
	}
}

func TestWebhookHandler_DeliversSignedPayload(t *testing.T) {
	var (
		gotSignature string
		gotTimestamp string
		gotEvent     string
		gotBody      []byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get(HeaderSignature)
		gotTimestamp = r.Header.Get(HeaderTimestamp)
		gotEvent = r.Header.Get(HeaderEvent)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := &recordingStore{}
	handler := newDeliveryHandler(t, server, store)

	result, err := handler.Run(context.Background(), deliveryEvent(), deliveryTarget())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}

	if gotEvent != "post.created" {
		t.Fatalf("event header = %q", gotEvent)
	}
	timestamp, err := strconv.ParseInt(gotTimestamp, 10, 64)
	if err != nil {
		t.Fatalf("timestamp header %q: %v", gotTimestamp, err)
	}

	mac := hmac.New(sha256.New, []byte("shh"))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10) + "."))
	mac.Write(gotBody)
	want := signaturePrefix + hex.EncodeToString(mac.Sum(nil))
	if gotSignature != want {
		t.Fatalf("signature = %q, want %q", gotSignature, want)
	}

	var envelope struct {
		ID        string         `json:"id"`
		Type      string         `json:"type"`
		CreatedAt string         `json:"createdAt"`
		Data      map[string]any `json:"data"`
	}
	if err := json.Unmarshal(gotBody, &envelope); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if envelope.ID != "event-1" || envelope.Type != "post.created" {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}
	if envelope.CreatedAt != "2025-08-10T12:00:00Z" {
		t.Fatalf("createdAt = %q", envelope.CreatedAt)
	}
	if envelope.Data["post_id"] != "post-1" {
		t.Fatalf("payload data lost: %v", envelope.Data)
	}

	if len(store.successes) != 1 || store.successes[0] != "wh-1" {
		t.Fatalf("expected success bookkeeping for wh-1, got %v", store.successes)
	}
	if len(store.failures) != 0 {
		t.Fatalf("handler must never record failures itself")
	}
}

func TestWebhookHandler_StatusClassification(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{status: http.StatusTooManyRequests, retryable: true},
		{status: http.StatusInternalServerError, retryable: true},
		{status: http.StatusServiceUnavailable, retryable: true},
		{status: http.StatusBadRequest, retryable: false},
		{status: http.StatusNotFound, retryable: false},
		{status: http.StatusGone, retryable: false},
	}
	for _, tc := range cases {
		t.Run(strconv.Itoa(tc.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer server.Close()

			store := &recordingStore{}
			handler := newDeliveryHandler(t, server, store)

			result, err := handler.Run(context.Background(), deliveryEvent(), deliveryTarget())
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if result.Success {
				t.Fatalf("expected failure for status %d", tc.status)
			}
			if result.ShouldRetry != tc.retryable {
				t.Fatalf("status %d: ShouldRetry = %v, want %v", tc.status, result.ShouldRetry, tc.retryable)
			}
			if len(store.successes) != 0 {
				t.Fatalf("failed delivery must not record success")
			}
			if len(store.failures) != 0 {
				t.Fatalf("failure accounting belongs to the permanent-failure listener")
			}
		})
	}
}

func TestWebhookHandler_NetworkErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	handler := newDeliveryHandler(t, server, &recordingStore{})

	result, err := handler.Run(context.Background(), deliveryEvent(), deliveryTarget())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Success || !result.ShouldRetry {
		t.Fatalf("connection failure must be retryable, got %+v", result)
	}
}

func TestWebhookHandler_BlockedDestination(t *testing.T) {
	store := &recordingStore{}
	handler, err := NewWebhookHandler(store, time.Second)
	if err != nil {
		t.Fatalf("new webhook handler: %v", err)
	}

	target := deliveryTarget()
	target.Target["url"] = "http://169.254.169.254/latest/meta-data/"
	result, err := handler.Run(context.Background(), deliveryEvent(), target)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Success || result.ShouldRetry {
		t.Fatalf("blocked destination must fail permanently, got %+v", result)
	}
	if !errors.Is(result.Err, core.ErrBlockedDestination) {
		t.Fatalf("expected blocked destination error, got %v", result.Err)
	}
}

func TestWebhookHandler_MissingURL(t *testing.T) {
	handler, err := NewWebhookHandler(&recordingStore{}, time.Second)
	if err != nil {
		t.Fatalf("new webhook handler: %v", err)
	}
	result, err := handler.Run(context.Background(), deliveryEvent(), core.HookTarget{HookType: "webhook"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Success || result.ShouldRetry {
		t.Fatalf("missing url must fail permanently, got %+v", result)
	}
}

func TestWebhookHandler_TestConnection(t *testing.T) {
	var gotBody []byte
	var gotEvent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotEvent = r.Header.Get(HeaderEvent)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := &recordingStore{}
	handler := newDeliveryHandler(t, server, store)

	if err := handler.TestConnection(context.Background(), deliveryTarget()); err != nil {
		t.Fatalf("test connection: %v", err)
	}
	if string(gotBody) != `{"type":"ping"}` {
		t.Fatalf("ping body = %s", gotBody)
	}
	if gotEvent != "ping" {
		t.Fatalf("event header = %q", gotEvent)
	}
	if len(store.successes) != 0 {
		t.Fatalf("connection tests must not touch failure accounting")
	}
}

func TestWebhookHandler_TestConnectionFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	handler := newDeliveryHandler(t, server, &recordingStore{})
	if err := handler.TestConnection(context.Background(), deliveryTarget()); err == nil {
		t.Fatalf("expected connection test failure")
	}
}
