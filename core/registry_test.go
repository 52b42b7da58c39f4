package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type stubHandler struct {
	name   string
	result HookResult
	err    error
	calls  int
}

func (h *stubHandler) Name() string { return h.name }

func (h *stubHandler) Run(ctx context.Context, event Event, target HookTarget) (HookResult, error) {
	h.calls++
	return h.result, h.err
}

type stubIntegrationResolver struct {
	handlers map[string]HookHandler
}

func (r *stubIntegrationResolver) Resolve(hookType string) (HookHandler, bool) {
	handler, ok := r.handlers[hookType]
	return handler, ok
}

func TestHookRegistry_ResolutionOrder(t *testing.T) {
	registry := NewHookRegistry()
	builtin := &stubHandler{name: "webhook"}
	if err := registry.Register("webhook", builtin); err != nil {
		t.Fatalf("register builtin: %v", err)
	}

	lazy := &stubHandler{name: "scheduled_publish"}
	if err := registry.RegisterLazy("scheduled_publish", func() (HookHandler, error) {
		return lazy, nil
	}); err != nil {
		t.Fatalf("register lazy: %v", err)
	}

	integration := &stubHandler{name: "jira"}
	registry.SetIntegrationResolver(&stubIntegrationResolver{
		handlers: map[string]HookHandler{"jira": integration},
	})

	got, err := registry.Get("webhook")
	if err != nil || got != builtin {
		t.Fatalf("expected builtin handler, got %v err %v", got, err)
	}
	got, err = registry.Get("scheduled_publish")
	if err != nil || got != lazy {
		t.Fatalf("expected lazy handler, got %v err %v", got, err)
	}
	got, err = registry.Get("jira")
	if err != nil || got != integration {
		t.Fatalf("expected integration handler, got %v err %v", got, err)
	}
}

func TestHookRegistry_UnknownTypeIsPermanent(t *testing.T) {
	registry := NewHookRegistry()
	_, err := registry.Get("telegram")
	if !errors.Is(err, ErrUnknownHookType) {
		t.Fatalf("expected ErrUnknownHookType, got %v", err)
	}
	if Retryable(err) {
		t.Fatalf("unknown hook type must not be retryable")
	}
}

func TestHookRegistry_LazyConstructorRunsOnce(t *testing.T) {
	registry := NewHookRegistry()
	constructed := 0
	handler := &stubHandler{name: "scheduled_publish"}
	if err := registry.RegisterLazy("scheduled_publish", func() (HookHandler, error) {
		constructed++
		return handler, nil
	}); err != nil {
		t.Fatalf("register lazy: %v", err)
	}

	for i := 0; i < 3; i++ {
		got, err := registry.Get("scheduled_publish")
		if err != nil || got != handler {
			t.Fatalf("get %d: got %v err %v", i, got, err)
		}
	}
	if constructed != 1 {
		t.Fatalf("constructor ran %d times, expected 1", constructed)
	}
}

func TestHookRegistry_LazyConstructorErrorIsCached(t *testing.T) {
	registry := NewHookRegistry()
	constructed := 0
	if err := registry.RegisterLazy("broken", func() (HookHandler, error) {
		constructed++
		return nil, fmt.Errorf("boom")
	}); err != nil {
		t.Fatalf("register lazy: %v", err)
	}

	if _, err := registry.Get("broken"); err == nil {
		t.Fatalf("expected constructor error")
	}
	if _, err := registry.Get("broken"); err == nil {
		t.Fatalf("expected cached constructor error")
	}
	if constructed != 1 {
		t.Fatalf("constructor ran %d times, expected 1", constructed)
	}
}

func TestHookRegistry_DuplicateRegistrationRejected(t *testing.T) {
	registry := NewHookRegistry()
	if err := registry.Register("webhook", &stubHandler{name: "webhook"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Register("webhook", &stubHandler{name: "webhook"}); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
	if err := registry.RegisterLazy("webhook", func() (HookHandler, error) {
		return &stubHandler{name: "webhook"}, nil
	}); err == nil {
		t.Fatalf("expected lazy registration over builtin to fail")
	}
}

func TestHookRegistry_TypesDeterministicOrder(t *testing.T) {
	registry := NewHookRegistry()
	for _, name := range []string{"webhook", "email", "slack"} {
		if err := registry.Register(name, &stubHandler{name: name}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	if err := registry.RegisterLazy("scheduled_publish", func() (HookHandler, error) {
		return &stubHandler{name: "scheduled_publish"}, nil
	}); err != nil {
		t.Fatalf("register lazy: %v", err)
	}

	got := registry.Types()
	want := []string{"email", "scheduled_publish", "slack", "webhook"}
	if len(got) != len(want) {
		t.Fatalf("expected %d types, got %v", len(want), got)
	}
	for idx := range want {
		if got[idx] != want[idx] {
			t.Fatalf("unexpected ordering at index %d: got %v want %v", idx, got, want)
		}
	}
}
