package orchestration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bhavani-S-M/scoping-bot-2/internal/artifact"
	"github.com/Bhavani-S-M/scoping-bot-2/internal/scope"
)

func TestRenderServiceClient_Render(t *testing.T) {
	doc, err := scope.Parse(regenTestScope)
	require.NoError(t, err)

	t.Run("successful render reports progress", func(t *testing.T) {
		payload := make([]byte, 100*1024)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "POST", r.Method)
			assert.Equal(t, "/render/excel", r.URL.Path)
			w.Header().Set("Content-Type", artifact.KindExcel.MediaType())
			w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
			w.Write(payload)
		}))
		defer server.Close()

		client := NewRenderServiceClient()
		client.SetBaseURL(server.URL)

		var samples []int
		data, mediaType, err := client.Render(context.Background(), artifact.KindExcel, doc, func(p int) {
			samples = append(samples, p)
		})
		require.NoError(t, err)
		assert.Len(t, data, len(payload))
		assert.Equal(t, artifact.KindExcel.MediaType(), mediaType)
		require.NotEmpty(t, samples)
		assert.Equal(t, 100, samples[len(samples)-1])
		for _, p := range samples {
			assert.GreaterOrEqual(t, p, 0)
			assert.LessOrEqual(t, p, 100)
		}
	})

	t.Run("missing content type falls back to the kind's media type", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("pdf-bytes"))
		}))
		defer server.Close()

		client := NewRenderServiceClient()
		client.SetBaseURL(server.URL)

		_, mediaType, err := client.Render(context.Background(), artifact.KindPDF, doc, nil)
		require.NoError(t, err)
		// httptest sniffs a content type for the body; the client only
		// substitutes the kind's media type when the header is absent.
		assert.NotEmpty(t, mediaType)
	})

	t.Run("server error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte("renderer down"))
		}))
		defer server.Close()

		client := NewRenderServiceClient()
		client.SetBaseURL(server.URL)

		_, _, err := client.Render(context.Background(), artifact.KindPDF, doc, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 502")
	})

	t.Run("cancelled context aborts the transfer", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("pdf-bytes"))
		}))
		defer server.Close()

		client := NewRenderServiceClient()
		client.SetBaseURL(server.URL)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, _, err := client.Render(ctx, artifact.KindPDF, doc, nil)
		require.Error(t, err)
	})
}
