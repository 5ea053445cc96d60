package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"virtual-tryon-backend/internal/jobs"
	"virtual-tryon-backend/internal/models"
	"virtual-tryon-backend/internal/progress"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

type EventsHandler struct {
	jobs     JobReader
	events   progress.Subscriber
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewEventsHandler(jobs JobReader, events progress.Subscriber, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{
		jobs:   jobs,
		events: events,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// auth is enforced by the JWT middleware, not the origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.Named("events"),
	}
}

// Stream godoc
// @Summary     Stream job progress
// @Description Upgrades to a websocket and sends progress events for a job or video job until it reaches a terminal state. Browsers may pass the token as ?access_token=.
// @Tags        jobs
// @Param       job_id path string true "Job or video job ID"
// @Success     101
// @Security    Bearer
// @Router      /jobs/{job_id}/events [get]
func (h *EventsHandler) Stream(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	jobID, ok := pathUUID(c, "job_id")
	if !ok {
		return
	}

	snapshot, err := h.snapshot(c.Request.Context(), jobID, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if err := writeEvent(conn, snapshot); err != nil || snapshot.Terminal() {
		closeNormal(conn)
		return
	}

	// detached from the request so the subscription outlives the handshake
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, unsubscribe, err := h.events.Subscribe(ctx, jobID)
	if err != nil {
		h.logger.Error("failed to subscribe to job events", zap.String("job_id", jobID.String()), zap.Error(err))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscription failed"), time.Now().Add(writeWait))
		return
	}
	defer unsubscribe()

	go readPump(conn, cancel)

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(conn, e); err != nil {
				return
			}
			if e.Terminal() {
				closeNormal(conn)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// snapshot turns the stored row into an event so the client sees the
// current state before any live update arrives.
func (h *EventsHandler) snapshot(ctx context.Context, id, userID uuid.UUID) (progress.Event, error) {
	job, err := h.jobs.Get(ctx, id, userID)
	if err == nil {
		return statusEvent(id, job.Status, job.ResultURL.String, job.ErrorMessage.String), nil
	}
	if !errors.Is(err, jobs.ErrJobNotFound) {
		return progress.Event{}, err
	}

	video, err := h.jobs.GetVideo(ctx, id, userID)
	if err != nil {
		return progress.Event{}, err
	}
	return statusEvent(id, video.Status, video.VideoURL.String, video.ErrorMessage.String), nil
}

func statusEvent(id uuid.UUID, status, resultURL, errMsg string) progress.Event {
	switch status {
	case models.JobStatusCompleted:
		return progress.Completed(id, resultURL)
	case models.JobStatusFailed:
		return progress.Failed(id, errMsg)
	case models.JobStatusProcessing:
		return progress.Processing(id, 10, 0, "")
	default:
		return progress.Queued(id, 0)
	}
}

func writeEvent(conn *websocket.Conn, e progress.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(e)
}

func closeNormal(conn *websocket.Conn) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

// readPump drains client frames so pongs and close frames are processed.
func readPump(conn *websocket.Conn, done context.CancelFunc) {
	defer done()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
