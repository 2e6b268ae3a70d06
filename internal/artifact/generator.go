package artifact

import (
	"context"
	"fmt"
	"sync"

	"github.com/Bhavani-S-M/scoping-bot-2/internal/scope"
)

// EmptyArtifactError marks a zero-byte or wrong-media-type binary received
// despite transport-level success.
type EmptyArtifactError struct {
	Kind   Kind
	Reason string
}

func (e *EmptyArtifactError) Error() string {
	return fmt.Sprintf("%s artifact unusable: %s", e.Kind, e.Reason)
}

// RenderClient renders a draft document into a binary. Implementations
// report transfer progress in percent and honor context cancellation.
type RenderClient interface {
	Render(ctx context.Context, kind Kind, doc *scope.Document, onProgress func(percent int)) ([]byte, string, error)
}

// FinalizedSource fetches the externally persisted finalized binary for a
// kind; nil bytes mean no finalized artifact exists.
type FinalizedSource interface {
	DownloadArtifact(ctx context.Context, projectID, ext string) ([]byte, error)
}

type cacheEntry struct {
	fingerprint string
	payload     []byte
	mediaType   string
}

// Generator produces per-kind export binaries, memoized by the document
// fingerprint. JSON is serialized locally; Excel and PDF are rendered by the
// external collaborator for drafts and fetched from the finalized copies
// once the document is finalized, so exports match exactly what was
// finalized.
type Generator struct {
	projectID string
	render    RenderClient
	finalized FinalizedSource

	mu    sync.Mutex
	cache map[Kind]cacheEntry
}

// NewGenerator creates a generator for one project. Register its Invalidate
// with the scope store so any mutation drops the cache.
func NewGenerator(projectID string, render RenderClient, finalized FinalizedSource) *Generator {
	return &Generator{
		projectID: projectID,
		render:    render,
		finalized: finalized,
		cache:     map[Kind]cacheEntry{},
	}
}

// Invalidate drops every cached artifact.
func (g *Generator) Invalidate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cache = map[Kind]cacheEntry{}
}

// Generate returns the binary and media type for a kind. A cached entry is
// honored only when its fingerprint matches and the payload is non-empty
// with the expected media type; anything else is regenerated.
func (g *Generator) Generate(ctx context.Context, doc *scope.Document, state scope.State, kind Kind, onProgress func(percent int)) ([]byte, string, error) {
	if onProgress == nil {
		onProgress = func(int) {}
	}
	fingerprint := scope.Fingerprint(doc, state)

	g.mu.Lock()
	entry, ok := g.cache[kind]
	g.mu.Unlock()
	if ok && entry.fingerprint == fingerprint && len(entry.payload) > 0 && entry.mediaType == kind.MediaType() {
		onProgress(100)
		return entry.payload, entry.mediaType, nil
	}

	payload, mediaType, err := g.generate(ctx, doc, state, kind, onProgress)
	if err != nil {
		return nil, "", err
	}
	if len(payload) == 0 {
		return nil, "", &EmptyArtifactError{Kind: kind, Reason: "generated binary is empty"}
	}
	if mediaType != kind.MediaType() {
		return nil, "", &EmptyArtifactError{Kind: kind, Reason: fmt.Sprintf("unexpected media type %q", mediaType)}
	}

	g.mu.Lock()
	g.cache[kind] = cacheEntry{fingerprint: fingerprint, payload: payload, mediaType: mediaType}
	g.mu.Unlock()
	onProgress(100)
	return payload, mediaType, nil
}

func (g *Generator) generate(ctx context.Context, doc *scope.Document, state scope.State, kind Kind, onProgress func(percent int)) ([]byte, string, error) {
	switch kind {
	case KindJSON:
		text, err := doc.Serialize()
		if err != nil {
			return nil, "", err
		}
		return []byte(text), KindJSON.MediaType(), nil
	case KindExcel, KindPDF:
		if state == scope.StateFinalized {
			payload, err := g.finalized.DownloadArtifact(ctx, g.projectID, kind.Ext())
			if err != nil {
				return nil, "", fmt.Errorf("failed to fetch finalized %s artifact: %w", kind, err)
			}
			if payload != nil {
				return payload, kind.MediaType(), nil
			}
			// No finalized binary persisted yet; render the finalized document.
		}
		return g.render.Render(ctx, kind, doc, onProgress)
	default:
		return nil, "", fmt.Errorf("kind %q is not directly generable", kind)
	}
}
