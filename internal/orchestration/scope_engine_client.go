package orchestration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/Bhavani-S-M/scoping-bot-2/internal/scope"
)

// RegenerationClient sends a scope revision instruction to the AI scope
// engine and returns the regenerated document text plus an optional summary.
type RegenerationClient interface {
	RegenerateScope(ctx context.Context, projectID string, doc *scope.Document, instruction string) (*RegenerationResult, error)
	IsHealthy(ctx context.Context) bool
}

// RegenerationResult is the scope engine's response.
type RegenerationResult struct {
	ScopeText string
	Summary   string
}

// ScopeEngineClient handles communication with the scope engine service.
type ScopeEngineClient struct {
	baseURL    string
	httpClient *http.Client
	tracer     trace.Tracer
	breaker    *gobreaker.CircuitBreaker
}

type regenerateRequest struct {
	ProjectID   string          `json:"project_id"`
	Scope       json.RawMessage `json:"scope"`
	Instruction string          `json:"instruction"`
}

type regenerateResponse struct {
	Scope   json.RawMessage `json:"scope"`
	Summary string          `json:"summary,omitempty"`
}

// NewScopeEngineClient creates a scope engine client.
func NewScopeEngineClient() *ScopeEngineClient {
	baseURL := os.Getenv("SCOPE_ENGINE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8001"
		log.Printf("WARN: SCOPE_ENGINE_URL not set, defaulting to %s", baseURL)
	}

	settings := gobreaker.Settings{
		Name:        "scope-engine",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s changed from %s to %s", name, from, to)
		},
	}

	return &ScopeEngineClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			// Regeneration is an LLM round trip; give it room.
			Timeout: 120 * time.Second,
		},
		tracer:  otel.Tracer("scope-engine-client"),
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// SetBaseURL sets the base URL for testing purposes
func (c *ScopeEngineClient) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
}

// RegenerateScope sends the current document and the user instruction to the
// engine. Each instruction is a single attempt; there is no automatic retry.
func (c *ScopeEngineClient) RegenerateScope(ctx context.Context, projectID string, doc *scope.Document, instruction string) (*RegenerationResult, error) {
	ctx, span := c.tracer.Start(ctx, "scope_engine.regenerate")
	defer span.End()

	span.SetAttributes(
		attribute.String("project_id", projectID),
		attribute.Int("instruction_length", len(instruction)),
	)

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.regenerateInternal(ctx, projectID, doc, instruction)
	})

	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to regenerate scope: %w", err)
	}

	return result.(*RegenerationResult), nil
}

// regenerateInternal performs the actual HTTP request
func (c *ScopeEngineClient) regenerateInternal(ctx context.Context, projectID string, doc *scope.Document, instruction string) (*RegenerationResult, error) {
	scopeJSON, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal current scope: %w", err)
	}

	reqBody := regenerateRequest{
		ProjectID:   projectID,
		Scope:       scopeJSON,
		Instruction: instruction,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/scope-engine/regenerate", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	// Inject trace context
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("scope engine returned status %d (failed to read body: %w)", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("scope engine returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var engineResp regenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&engineResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(engineResp.Scope) == 0 {
		return nil, fmt.Errorf("scope engine response carries no scope")
	}

	return &RegenerationResult{
		ScopeText: string(engineResp.Scope),
		Summary:   engineResp.Summary,
	}, nil
}

// IsHealthy checks if the scope engine service is healthy.
func (c *ScopeEngineClient) IsHealthy(ctx context.Context) bool {
	ctx, span := c.tracer.Start(ctx, "scope_engine.health_check")
	defer span.End()

	if c.breaker.State() == gobreaker.StateOpen {
		span.SetAttributes(attribute.Bool("healthy", false), attribute.String("reason", "circuit_breaker_open"))
		return false
	}

	url := fmt.Sprintf("%s/health", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		span.RecordError(err)
		return false
	}

	// Short timeout for health checks
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		return false
	}
	defer resp.Body.Close()

	healthy := resp.StatusCode == http.StatusOK
	span.SetAttributes(attribute.Bool("healthy", healthy))

	return healthy
}
