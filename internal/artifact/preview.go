package artifact

import "sync"

// PreviewCache holds the most recent rendered preview binary keyed by
// document fingerprint, guarding against stale completions: a result is
// applied only while the version token captured at request time still
// matches the latest document version, so an in-flight older request can
// never overwrite a newer one.
type PreviewCache struct {
	latestVersion func() uint64

	mu          sync.Mutex
	fingerprint string
	payload     []byte
	mediaType   string
}

// NewPreviewCache creates a preview cache bound to a version-token source
// (typically scope.Store.Version).
func NewPreviewCache(latestVersion func() uint64) *PreviewCache {
	return &PreviewCache{latestVersion: latestVersion}
}

// Get returns the cached preview for a fingerprint, if any.
func (c *PreviewCache) Get(fingerprint string) ([]byte, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fingerprint != fingerprint || len(c.payload) == 0 {
		return nil, "", false
	}
	return c.payload, c.mediaType, true
}

// Apply stores a completed preview if the request's version token is still
// current. It reports whether the result was applied; stale completions are
// discarded.
func (c *PreviewCache) Apply(requestVersion uint64, fingerprint string, payload []byte, mediaType string) bool {
	if requestVersion != c.latestVersion() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fingerprint = fingerprint
	c.payload = payload
	c.mediaType = mediaType
	return true
}

// Invalidate drops the cached preview.
func (c *PreviewCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fingerprint = ""
	c.payload = nil
	c.mediaType = ""
}
