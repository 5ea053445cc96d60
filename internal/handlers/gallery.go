package handlers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"virtual-tryon-backend/internal/gallery"
	"virtual-tryon-backend/internal/jobs"
	"virtual-tryon-backend/internal/models"
	"virtual-tryon-backend/internal/orchestrator"
)

type GalleryService interface {
	List(ctx context.Context, userID uuid.UUID, filter jobs.Filter) ([]jobs.DateGroup, int, error)
	Regenerate(ctx context.Context, userID, jobID uuid.UUID, params map[string]interface{}) (*orchestrator.Admission, error)
	GenerateVideo(ctx context.Context, userID, jobID uuid.UUID, opts orchestrator.VideoOptions) (*orchestrator.Admission, error)
	BulkDownload(ctx context.Context, userID uuid.UUID, jobIDs []uuid.UUID, w io.Writer) (int, error)
}

type GalleryHandler struct {
	gallery     GalleryService
	generations *GenerationsHandler
}

func NewGalleryHandler(gallery GalleryService, generations *GenerationsHandler) *GalleryHandler {
	return &GalleryHandler{gallery: gallery, generations: generations}
}

// List godoc
// @Summary     List completed results grouped by date
// @Tags        gallery
// @Produce     json
// @Param       search query string false "Product or model name substring"
// @Param       gender query string false "Model gender"
// @Param       limit  query int    false "Page size"
// @Param       offset query int    false "Offset"
// @Success     200 {object} models.GalleryResponse
// @Security    Bearer
// @Router      /gallery [get]
func (h *GalleryHandler) List(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	groups, total, err := h.gallery.List(c.Request.Context(), userID, jobs.Filter{
		Search: c.Query("search"),
		Gender: c.Query("gender"),
		Limit:  queryInt(c, "limit", 0),
		Offset: queryInt(c, "offset", 0),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	resp := models.GalleryResponse{Groups: make([]models.GalleryGroup, 0, len(groups)), Total: total}
	for _, g := range groups {
		group := models.GalleryGroup{Date: g.Date.Format(time.DateOnly)}
		for i := range g.Jobs {
			group.Jobs = append(group.Jobs, models.NewJobResponse(&g.Jobs[i]))
		}
		resp.Groups = append(resp.Groups, group)
	}
	c.JSON(http.StatusOK, resp)
}

// Regenerate godoc
// @Summary     Regenerate a completed result
// @Description Starts a new job on the same inputs with a fresh seed. The original job is unchanged.
// @Tags        gallery
// @Produce     json
// @Param       job_id path string true "Completed job ID"
// @Success     202 {object} models.JobResponse
// @Failure     409 {object} models.ErrorResponse
// @Security    Bearer
// @Router      /jobs/{job_id}/regenerate [post]
func (h *GalleryHandler) Regenerate(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	jobID, ok := pathUUID(c, "job_id")
	if !ok {
		return
	}

	admission, err := h.gallery.Regenerate(c.Request.Context(), userID, jobID, nil)
	if err != nil {
		respondError(c, err)
		return
	}
	h.generations.respondAdmitted(c, userID, admission)
}

// GenerateVideo godoc
// @Summary     Animate a completed result
// @Tags        videos
// @Accept      json
// @Produce     json
// @Param       job_id  path string              true  "Completed job ID"
// @Param       request body models.VideoRequest false "Video options"
// @Success     202 {object} models.VideoJobResponse
// @Security    Bearer
// @Router      /jobs/{job_id}/video [post]
func (h *GalleryHandler) GenerateVideo(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	jobID, ok := pathUUID(c, "job_id")
	if !ok {
		return
	}

	var req models.VideoRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request body", Message: err.Error()})
			return
		}
	}

	admission, err := h.gallery.GenerateVideo(c.Request.Context(), userID, jobID, orchestrator.VideoOptions{
		Duration:    req.Duration,
		AspectRatio: req.AspectRatio,
		Prompt:      req.Prompt,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	h.generations.respondAdmitted(c, userID, admission)
}

// Download godoc
// @Summary     Download several results as a zip
// @Tags        gallery
// @Accept      json
// @Produce     application/zip
// @Param       request body models.BulkDownloadRequest true "Job IDs"
// @Success     200 {file} binary
// @Security    Bearer
// @Router      /gallery/download [post]
func (h *GalleryHandler) Download(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req models.BulkDownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request body", Message: err.Error()})
		return
	}
	ids := make([]uuid.UUID, 0, len(req.JobIDs))
	for _, raw := range req.JobIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid job id", Message: raw})
			return
		}
		ids = append(ids, id)
	}

	// buffer so a failure can still become a JSON error
	var buf bytes.Buffer
	n, err := h.gallery.BulkDownload(c.Request.Context(), userID, ids, &buf)
	if err != nil {
		respondError(c, err)
		return
	}
	if n == 0 {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "no downloadable results"})
		return
	}

	filename := fmt.Sprintf("tryon-results-%s.zip", time.Now().UTC().Format("20060102-150405"))
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "application/zip", buf.Bytes())
}

var _ GalleryService = (*gallery.Service)(nil)
