package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"virtual-tryon-backend/internal/models"
	"virtual-tryon-backend/internal/orchestrator"
)

type Starter interface {
	Start(ctx context.Context, req orchestrator.Request) (*orchestrator.Admission, error)
}

type JobReader interface {
	Get(ctx context.Context, jobID, userID uuid.UUID) (*models.Job, error)
	GetVideo(ctx context.Context, videoID, userID uuid.UUID) (*models.VideoJob, error)
	ListVideosForJob(ctx context.Context, parentJobID, userID uuid.UUID) ([]models.VideoJob, error)
}

type GenerationsHandler struct {
	starter Starter
	jobs    JobReader
}

func NewGenerationsHandler(starter Starter, jobs JobReader) *GenerationsHandler {
	return &GenerationsHandler{starter: starter, jobs: jobs}
}

// Create godoc
// @Summary     Start a try-on generation
// @Description Debits credits, submits the product image and model photo to the provider and returns the pending job. Poll GET /jobs/{job_id} or subscribe to /jobs/{job_id}/events for progress.
// @Tags        generations
// @Accept      json
// @Produce     json
// @Param       request body models.CreateGenerationRequest true "Inputs"
// @Success     202 {object} models.JobResponse
// @Failure     402 {object} models.ErrorResponse
// @Security    Bearer
// @Router      /generations [post]
func (h *GenerationsHandler) Create(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req models.CreateGenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request body", Message: err.Error()})
		return
	}
	productID, err := uuid.Parse(req.ProductImageID)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid product_image_id"})
		return
	}
	modelID, err := uuid.Parse(req.ModelPhotoID)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid model_photo_id"})
		return
	}

	admission, err := h.starter.Start(c.Request.Context(), orchestrator.Request{
		Kind:           models.JobKindTryOn,
		UserID:         userID,
		ProductImageID: productID,
		ModelPhotoID:   modelID,
		Params:         req.Params,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	h.respondAdmitted(c, userID, admission)
}

func (h *GenerationsHandler) respondAdmitted(c *gin.Context, userID uuid.UUID, admission *orchestrator.Admission) {
	if admission.Kind == models.JobKindVideo {
		video, err := h.jobs.GetVideo(c.Request.Context(), admission.JobID, userID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, models.NewVideoJobResponse(video))
		return
	}

	job, err := h.jobs.Get(c.Request.Context(), admission.JobID, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, models.NewJobResponse(job))
}

// GetJob godoc
// @Summary     Get a job
// @Tags        jobs
// @Produce     json
// @Param       job_id path string true "Job ID"
// @Success     200 {object} models.JobResponse
// @Failure     404 {object} models.ErrorResponse
// @Security    Bearer
// @Router      /jobs/{job_id} [get]
func (h *GenerationsHandler) GetJob(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	jobID, ok := pathUUID(c, "job_id")
	if !ok {
		return
	}

	job, err := h.jobs.Get(c.Request.Context(), jobID, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.NewJobResponse(job))
}

// ListVideos godoc
// @Summary     List videos generated from a job
// @Tags        videos
// @Produce     json
// @Param       job_id path string true "Job ID"
// @Success     200 {object} models.VideoListResponse
// @Security    Bearer
// @Router      /jobs/{job_id}/videos [get]
func (h *GenerationsHandler) ListVideos(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	jobID, ok := pathUUID(c, "job_id")
	if !ok {
		return
	}

	videos, err := h.jobs.ListVideosForJob(c.Request.Context(), jobID, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := models.VideoListResponse{Videos: make([]models.VideoJobResponse, 0, len(videos))}
	for i := range videos {
		resp.Videos = append(resp.Videos, models.NewVideoJobResponse(&videos[i]))
	}
	c.JSON(http.StatusOK, resp)
}

// GetVideo godoc
// @Summary     Get a video job
// @Tags        videos
// @Produce     json
// @Param       video_id path string true "Video job ID"
// @Success     200 {object} models.VideoJobResponse
// @Security    Bearer
// @Router      /videos/{video_id} [get]
func (h *GenerationsHandler) GetVideo(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	videoID, ok := pathUUID(c, "video_id")
	if !ok {
		return
	}

	video, err := h.jobs.GetVideo(c.Request.Context(), videoID, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.NewVideoJobResponse(video))
}
