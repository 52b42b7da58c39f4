package hooks

import (
	"context"
	"fmt"

	"github.com/goliatone/go-dispatch/core"
)

// EnrichmentRequest asks the AI subsystem to analyze newly created content.
type EnrichmentRequest struct {
	PostID  string
	BoardID string
	EventID string
	Kind    core.EventType
	Excerpt string
}

type Enricher interface {
	Enrich(ctx context.Context, request EnrichmentRequest) (jobRef string, err error)
}

// AIHandler forwards content to an injected enrichment backend. The backend
// is expected to be slow and flaky; its errors pass through so the worker
// classifies them.
type AIHandler struct {
	enricher Enricher
}

func NewAIHandler(enricher Enricher) (*AIHandler, error) {
	if enricher == nil {
		return nil, fmt.Errorf("hooks: enricher is required")
	}
	return &AIHandler{enricher: enricher}, nil
}

func (h *AIHandler) Name() string {
	return "ai"
}

func (h *AIHandler) Run(ctx context.Context, event core.Event, target core.HookTarget) (core.HookResult, error) {
	if h == nil || h.enricher == nil {
		return core.HookResult{}, fmt.Errorf("hooks: ai handler is not configured")
	}
	postID := target.TargetString("post_id")
	if postID == "" {
		return failure(core.NewNonRetryableError("hooks: ai target post id is required")), nil
	}

	jobRef, err := h.enricher.Enrich(ctx, EnrichmentRequest{
		PostID:  postID,
		BoardID: target.TargetString("board_id"),
		EventID: event.ID,
		Kind:    event.Type,
		Excerpt: target.ConfigString("excerpt"),
	})
	if err != nil {
		return failure(err), nil
	}
	return core.HookResult{Success: true, ExternalID: jobRef}, nil
}

var _ core.HookHandler = (*AIHandler)(nil)
