package download

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"

	"github.com/klauspost/compress/flate"
	"golang.org/x/sync/errgroup"

	"github.com/Bhavani-S-M/scoping-bot-2/internal/artifact"
)

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// SafeFilename lowercases a project name and collapses every run of
// characters outside [a-zA-Z0-9_-] into a single underscore. When nothing
// usable remains it falls back to project_<id>.
func SafeFilename(name, projectID string) string {
	cleaned := unsafeFilenameChars.ReplaceAllString(name, "_")
	cleaned = strings.Trim(cleaned, "_")
	if cleaned == "" {
		return "project_" + projectID
	}
	return strings.ToLower(cleaned)
}

// FetchKind produces the bytes of one artifact kind.
type FetchKind func(ctx context.Context, kind artifact.Kind, onProgress func(percent int)) ([]byte, error)

// DownloadAll fetches the JSON, Excel, and PDF renditions concurrently and
// bundles them into one zip archive. The first failure aborts the remaining
// fetches and no partial archive is returned. Per-kind progress is weighted
// equally into a combined percentage.
func DownloadAll(ctx context.Context, baseName string, fetch FetchKind, onProgress func(percent int)) ([]byte, error) {
	kinds := artifact.RenderKinds

	var mu sync.Mutex
	perKind := make(map[artifact.Kind]int, len(kinds))
	report := func(kind artifact.Kind, percent int) {
		if onProgress == nil {
			return
		}
		mu.Lock()
		perKind[kind] = clamp(percent)
		total := 0
		for _, k := range kinds {
			total += perKind[k]
		}
		mu.Unlock()
		onProgress(total / len(kinds))
	}

	payloads := make([][]byte, len(kinds))
	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range kinds {
		g.Go(func() error {
			data, err := fetch(gctx, kind, func(percent int) { report(kind, percent) })
			if err != nil {
				return fmt.Errorf("fetch %s: %w", kind, err)
			}
			if len(data) == 0 {
				return &artifact.EmptyArtifactError{Kind: kind, Reason: "empty rendition in archive"}
			}
			payloads[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.DefaultCompression)
	})
	for i, kind := range kinds {
		entry, err := zw.Create(baseName + kind.Ext())
		if err != nil {
			return nil, fmt.Errorf("create archive entry for %s: %w", kind, err)
		}
		if _, err := entry.Write(payloads[i]); err != nil {
			return nil, fmt.Errorf("write archive entry for %s: %w", kind, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}
	return buf.Bytes(), nil
}
