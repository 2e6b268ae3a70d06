package scope

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// State is the finalization state of the scope document.
type State int

const (
	StateDraft State = iota
	StateFinalized
)

func (s State) String() string {
	if s == StateFinalized {
		return "finalized"
	}
	return "draft"
}

// Origin tags every document mutation so demotion and cache invalidation
// can act on the cause instead of suppression flags.
type Origin int

const (
	// OriginUserEdit covers text edits and table edits from the user.
	OriginUserEdit Origin = iota
	// OriginInternalRefresh is the designated post-finalize re-read; it is
	// the only origin that does not demote a finalized document.
	OriginInternalRefresh
	// OriginRegeneration marks documents returned by the regeneration engine.
	OriginRegeneration
)

func (o Origin) String() string {
	switch o {
	case OriginInternalRefresh:
		return "internal-refresh"
	case OriginRegeneration:
		return "regeneration"
	default:
		return "user-edit"
	}
}

// Persistence is the external scope persistence collaborator. A nil document
// with a nil error means no finalized copy exists.
type Persistence interface {
	GetFinalizedScope(ctx context.Context, projectID string) (*Document, error)
	FinalizeScope(ctx context.Context, projectID string, doc *Document) error
}

// Store owns the canonical scope document and its finalization state for one
// project. All caches and dependents hang off this instance; there are no
// package-level singletons.
type Store struct {
	mu          sync.Mutex
	projectID   string
	persistence Persistence

	doc      *Document
	text     string
	parseErr *ParseError
	state    State
	version  uint64

	// fingerprint of the last finalized copy observed, used by Reconcile
	// to distinguish a newer server-side copy from what we already hold.
	finalizedFP string

	onInvalidate []func()
}

// NewStore creates a store for the given project.
func NewStore(projectID string, persistence Persistence) *Store {
	return &Store{projectID: projectID, persistence: persistence}
}

// OnInvalidate registers a callback fired on every successful document or
// finalization-state change. Artifact and preview caches register here.
func (s *Store) OnInvalidate(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onInvalidate = append(s.onInvalidate, fn)
}

// Load initializes the store: the finalized document if one is persisted,
// else the supplied draft fallback, else an empty document.
func (s *Store) Load(ctx context.Context, fallback *Document) error {
	finalized, err := s.persistence.GetFinalizedScope(ctx, s.projectID)
	if err != nil {
		return fmt.Errorf("failed to load finalized scope for project %s: %w", s.projectID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case finalized != nil:
		s.doc = finalized
		s.state = StateFinalized
		s.finalizedFP = Fingerprint(finalized, StateFinalized)
	case fallback != nil:
		s.doc = fallback
		s.state = StateDraft
	default:
		s.doc = &Document{}
		s.state = StateDraft
	}
	text, err := s.doc.Serialize()
	if err != nil {
		return err
	}
	s.text = text
	s.parseErr = nil
	s.version++
	s.invalidateLocked()
	return nil
}

// SetDocumentText parses raw and, on success, replaces the canonical
// document. On a parse failure the prior structured document is left
// untouched and a parse-error marker is set; the raw text is still recorded
// so it stays editable. Any origin other than the internal refresh demotes
// a finalized document back to draft.
func (s *Store) SetDocumentText(raw string, origin Origin) error {
	doc, err := Parse(raw)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.text = raw
	if err != nil {
		perr, ok := err.(*ParseError)
		if !ok {
			perr = &ParseError{Err: err}
		}
		s.parseErr = perr
		return perr
	}
	s.applyLocked(doc, origin)
	return nil
}

// SetDocument replaces the canonical document with an already-parsed one,
// regenerating the derived text. Used for table edits and regeneration results.
func (s *Store) SetDocument(doc *Document, origin Origin) error {
	text, err := doc.Serialize()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.text = text
	s.applyLocked(doc, origin)
	return nil
}

func (s *Store) applyLocked(doc *Document, origin Origin) {
	s.doc = doc
	s.parseErr = nil
	s.version++
	if origin != OriginInternalRefresh && s.state == StateFinalized {
		s.state = StateDraft
	}
	s.invalidateLocked()
}

// Finalize persists the current document externally, marks it finalized, and
// re-reads the persisted copy to realign local state with any server-side
// normalization. Fails with a ValidationError while a parse error is set or
// the document is empty.
func (s *Store) Finalize(ctx context.Context) error {
	s.mu.Lock()
	if s.parseErr != nil {
		s.mu.Unlock()
		return &ValidationError{Reason: "document text has unresolved parse errors"}
	}
	if s.doc.Empty() {
		s.mu.Unlock()
		return &ValidationError{Reason: "document is empty"}
	}
	doc := s.doc
	s.mu.Unlock()

	if err := s.persistence.FinalizeScope(ctx, s.projectID, doc); err != nil {
		return fmt.Errorf("failed to persist finalized scope for project %s: %w", s.projectID, err)
	}

	s.mu.Lock()
	s.state = StateFinalized
	s.version++
	s.finalizedFP = Fingerprint(s.doc, StateFinalized)
	s.invalidateLocked()
	s.mu.Unlock()

	persisted, err := s.persistence.GetFinalizedScope(ctx, s.projectID)
	if err != nil || persisted == nil {
		// The finalize itself succeeded; keep the local copy.
		log.Printf(`{"level":"warn","message":"finalized scope re-read failed","project_id":"%s","error":"%v"}`, s.projectID, err)
		return nil
	}

	text, serr := persisted.Serialize()
	if serr != nil {
		return nil
	}
	s.mu.Lock()
	s.doc = persisted
	s.text = text
	s.parseErr = nil
	s.version++
	s.finalizedFP = Fingerprint(persisted, StateFinalized)
	s.invalidateLocked()
	s.mu.Unlock()
	return nil
}

// Reconcile is a read-only refresh (focus/navigation). It adopts the
// server-side finalized copy only when that copy is confirmed and differs
// from the one last observed; unsaved local edits are never clobbered
// speculatively.
func (s *Store) Reconcile(ctx context.Context) error {
	finalized, err := s.persistence.GetFinalizedScope(ctx, s.projectID)
	if err != nil {
		return fmt.Errorf("failed to reconcile scope for project %s: %w", s.projectID, err)
	}
	if finalized == nil {
		return nil
	}
	fp := Fingerprint(finalized, StateFinalized)

	s.mu.Lock()
	defer s.mu.Unlock()
	if fp == s.finalizedFP {
		return nil
	}
	text, serr := finalized.Serialize()
	if serr != nil {
		return serr
	}
	s.doc = finalized
	s.text = text
	s.parseErr = nil
	s.state = StateFinalized
	s.finalizedFP = fp
	s.version++
	s.invalidateLocked()
	return nil
}

func (s *Store) invalidateLocked() {
	for _, fn := range s.onInvalidate {
		fn()
	}
}

// Document returns a deep copy of the canonical document.
func (s *Store) Document() *Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone()
}

// Text returns the current document text as last set or serialized.
func (s *Store) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text
}

// ParseErr returns the current parse-error marker, or nil.
func (s *Store) ParseErr() *ParseError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.parseErr
}

// State returns the current finalization state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Version returns a monotonically increasing token bumped on every mutation.
// In-flight preview results captured against an older version are discarded.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Fingerprint returns the cache key for the current document and state.
func (s *Store) Fingerprint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Fingerprint(s.doc, s.state)
}

// ProjectID returns the owning project id.
func (s *Store) ProjectID() string { return s.projectID }
