package gateway

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Bhavani-S-M/scoping-bot-2/internal/orchestration"
)

var wsTracer = otel.Tracer("download-stream")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// TODO: Implement proper origin checking for production
		return true
	},
}

// DownloadStream pushes export task progress events over WebSocket.
type DownloadStream struct {
	orchestrationService *orchestration.Service
	tracer               trace.Tracer
}

// NewDownloadStream creates a new download progress stream handler
func NewDownloadStream(orchestrationService *orchestration.Service) *DownloadStream {
	return &DownloadStream{
		orchestrationService: orchestrationService,
		tracer:               wsTracer,
	}
}

// StreamDownloads handles WebSocket /api/ws/projects/:id/downloads
// @Summary Stream export download progress
// @Description WebSocket endpoint streaming per-kind task status and progress events
// @Tags exports
// @Param id path string true "Project ID"
// @Param Authorization header string true "Bearer token"
// @Success 101 "Switching Protocols"
// @Failure 400 {object} map[string]string
// @Security BearerAuth
// @Router /ws/projects/{id}/downloads [get]
func (s *DownloadStream) StreamDownloads(c *gin.Context) {
	ctx, span := s.tracer.Start(c.Request.Context(), "download_stream.stream")
	defer span.End()

	projectID := c.Param("id")
	span.SetAttributes(attribute.String("project.id", projectID))

	sess, err := s.orchestrationService.Session(ctx, projectID)
	if err != nil {
		span.RecordError(err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to load scope session"})
		return
	}

	clientConn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.RecordError(err)
		log.Printf("Failed to upgrade connection: %v", err)
		return
	}
	defer clientConn.Close()

	events, unsubscribe := sess.SubscribeDownloads()
	defer unsubscribe()

	log.Printf("Download stream opened for project_id: %s", projectID)

	// Client -> close detection only; this is a one-way stream to the client.
	clientClosed := make(chan struct{})
	go func() {
		defer close(clientClosed)
		for {
			if _, _, err := clientConn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-clientClosed:
			log.Printf("Download stream closed by client for project_id: %s", projectID)
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := clientConn.WriteJSON(ev); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					span.RecordError(err)
					log.Printf("Download stream write error: %v", err)
				}
				return
			}
		}
	}
}
