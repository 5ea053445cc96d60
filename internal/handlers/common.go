package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"virtual-tryon-backend/internal/gallery"
	"virtual-tryon-backend/internal/inference"
	"virtual-tryon-backend/internal/jobs"
	"virtual-tryon-backend/internal/ledger"
	"virtual-tryon-backend/internal/middleware"
	"virtual-tryon-backend/internal/models"
	"virtual-tryon-backend/internal/orchestrator"
)

// currentUser reads the authenticated user id. It writes the error
// response itself and returns false when there is none.
func currentUser(c *gin.Context) (uuid.UUID, bool) {
	userIDStr, exists := c.Get(middleware.UserIDKey)
	if !exists {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "user id not found"})
		return uuid.Nil, false
	}

	userID, err := uuid.Parse(userIDStr.(string))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid user id"})
		return uuid.Nil, false
	}
	return userID, true
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return def
	}
	return v
}

// respondError maps domain errors onto HTTP status codes.
func respondError(c *gin.Context, err error) {
	var subErr *inference.SubmissionError
	switch {
	case errors.Is(err, ledger.ErrInsufficientCredits):
		c.JSON(http.StatusPaymentRequired, models.ErrorResponse{Error: "insufficient credits", Message: err.Error()})
	case errors.Is(err, jobs.ErrJobNotFound):
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "job not found"})
	case errors.Is(err, models.ErrArtifactNotFound):
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "input not found", Message: err.Error()})
	case errors.Is(err, orchestrator.ErrSourceNotCompleted):
		c.JSON(http.StatusConflict, models.ErrorResponse{Error: "job is not completed"})
	case errors.Is(err, orchestrator.ErrInvalidRequest), errors.Is(err, gallery.ErrTooManyItems),
		errors.Is(err, ledger.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request", Message: err.Error()})
	case errors.As(err, &subErr):
		c.JSON(http.StatusBadGateway, models.ErrorResponse{Error: "generation provider rejected the request", Message: subErr.Reason})
	default:
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "internal error", Message: err.Error()})
	}
}
