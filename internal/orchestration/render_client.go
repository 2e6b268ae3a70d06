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

	"github.com/Bhavani-S-M/scoping-bot-2/internal/artifact"
	"github.com/Bhavani-S-M/scoping-bot-2/internal/scope"
)

// RenderServiceClient talks to the artifact rendering service that turns a
// scope document into an Excel or PDF binary. It implements
// artifact.RenderClient. Transfers stream the response body so progress can
// be reported and cancellation takes effect mid-download.
type RenderServiceClient struct {
	baseURL    string
	httpClient *http.Client
	tracer     trace.Tracer
	breaker    *gobreaker.CircuitBreaker
}

// NewRenderServiceClient creates a render service client.
func NewRenderServiceClient() *RenderServiceClient {
	baseURL := os.Getenv("RENDER_SERVICE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8002"
		log.Printf("WARN: RENDER_SERVICE_URL not set, defaulting to %s", baseURL)
	}

	settings := gobreaker.Settings{
		Name:        "render-service",
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

	return &RenderServiceClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		tracer:  otel.Tracer("render-service-client"),
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// SetBaseURL sets the base URL for testing purposes
func (c *RenderServiceClient) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
}

type renderedArtifact struct {
	payload   []byte
	mediaType string
}

// Render posts the document to /render/{kind} and streams the binary back,
// reporting percent progress from Content-Length when the service sends one.
func (c *RenderServiceClient) Render(ctx context.Context, kind artifact.Kind, doc *scope.Document, onProgress func(percent int)) ([]byte, string, error) {
	ctx, span := c.tracer.Start(ctx, "render_service.render")
	defer span.End()

	span.SetAttributes(attribute.String("artifact_kind", string(kind)))

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.renderInternal(ctx, kind, doc, onProgress)
	})

	if err != nil {
		span.RecordError(err)
		return nil, "", fmt.Errorf("failed to render %s artifact: %w", kind, err)
	}

	rendered := result.(*renderedArtifact)
	span.SetAttributes(attribute.Int("artifact_bytes", len(rendered.payload)))
	return rendered.payload, rendered.mediaType, nil
}

// renderInternal performs the actual HTTP request
func (c *RenderServiceClient) renderInternal(ctx context.Context, kind artifact.Kind, doc *scope.Document, onProgress func(percent int)) (*renderedArtifact, error) {
	jsonData, err := json.Marshal(map[string]interface{}{"scope": doc})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal scope: %w", err)
	}

	url := fmt.Sprintf("%s/render/%s", c.baseURL, kind)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", kind.MediaType())

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
			return nil, fmt.Errorf("render service returned status %d (failed to read body: %w)", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("render service returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	mediaType := resp.Header.Get("Content-Type")
	if mediaType == "" {
		mediaType = kind.MediaType()
	}

	payload, err := readWithProgress(ctx, resp.Body, resp.ContentLength, onProgress)
	if err != nil {
		return nil, fmt.Errorf("failed to read render response: %w", err)
	}

	return &renderedArtifact{payload: payload, mediaType: mediaType}, nil
}

// readWithProgress drains r in chunks, reporting percent progress against
// total when known. Cancellation is checked between chunks so an aborted
// transfer stops promptly rather than after the full body.
func readWithProgress(ctx context.Context, r io.Reader, total int64, onProgress func(percent int)) ([]byte, error) {
	if onProgress == nil {
		onProgress = func(int) {}
	}

	var buf bytes.Buffer
	chunk := make([]byte, 32*1024)
	var read int64
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := r.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			read += int64(n)
			if total > 0 {
				percent := int(read * 100 / total)
				if percent > 99 {
					percent = 99
				}
				onProgress(percent)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	onProgress(100)
	return buf.Bytes(), nil
}
