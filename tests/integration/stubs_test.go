package integration

import (
	"context"
	"fmt"

	"github.com/Bhavani-S-M/scoping-bot-2/internal/artifact"
	"github.com/Bhavani-S-M/scoping-bot-2/internal/orchestration"
	"github.com/Bhavani-S-M/scoping-bot-2/internal/scope"
)

// stubEngine replaces the scope engine service. It echoes the current
// document back, optionally overridden per test.
type stubEngine struct {
	scopeText string
	summary   string
}

func (e *stubEngine) RegenerateScope(ctx context.Context, projectID string, doc *scope.Document, instruction string) (*orchestration.RegenerationResult, error) {
	text := e.scopeText
	if text == "" {
		serialized, err := doc.Serialize()
		if err != nil {
			return nil, err
		}
		text = serialized
	}
	return &orchestration.RegenerationResult{ScopeText: text, Summary: e.summary}, nil
}

func (e *stubEngine) IsHealthy(ctx context.Context) bool { return true }

// stubRender replaces the render service with fixed payloads per kind.
type stubRender struct{}

func (r *stubRender) Render(ctx context.Context, kind artifact.Kind, doc *scope.Document, onProgress func(percent int)) ([]byte, string, error) {
	if onProgress != nil {
		onProgress(100)
	}
	serialized, err := doc.Serialize()
	if err != nil {
		return nil, "", err
	}
	payload := []byte(fmt.Sprintf("%s rendition of %s", kind, serialized))
	return payload, kind.MediaType(), nil
}
