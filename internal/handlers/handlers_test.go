package handlers_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"virtual-tryon-backend/internal/gallery"
	"virtual-tryon-backend/internal/handlers"
	"virtual-tryon-backend/internal/inference"
	"virtual-tryon-backend/internal/jobs"
	"virtual-tryon-backend/internal/ledger"
	"virtual-tryon-backend/internal/memstore"
	"virtual-tryon-backend/internal/middleware"
	"virtual-tryon-backend/internal/models"
	"virtual-tryon-backend/internal/orchestrator"
	"virtual-tryon-backend/internal/progress"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

// fakeStarter admits by creating a pending job, or fails with err.
type fakeStarter struct {
	jobs *jobs.Store
	err  error
}

func (s *fakeStarter) Start(ctx context.Context, req orchestrator.Request) (*orchestrator.Admission, error) {
	if s.err != nil {
		return nil, s.err
	}
	job, err := s.jobs.Create(ctx, jobs.CreateParams{
		UserID:         req.UserID,
		ProductImageID: req.ProductImageID,
		ModelPhotoID:   req.ModelPhotoID,
		Kind:           models.JobKindTryOn,
		CreditsUsed:    10,
	})
	if err != nil {
		return nil, err
	}
	return &orchestrator.Admission{JobID: job.ID, Kind: job.Kind, Cost: 10}, nil
}

type fakeFetcher struct{}

func (fakeFetcher) Download(context.Context, string) ([]byte, string, error) {
	return []byte("webp"), "image/webp", nil
}

type testServer struct {
	router  *gin.Engine
	mem     *memstore.Store
	jobs    *jobs.Store
	starter *fakeStarter
	broker  *progress.MemoryBroker
	userID  uuid.UUID
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ts := &testServer{mem: memstore.New(), broker: progress.NewMemoryBroker(time.Hour), userID: uuid.New()}
	ts.jobs = jobs.NewStore(ts.mem, nil)
	ts.starter = &fakeStarter{jobs: ts.jobs}

	generations := handlers.NewGenerationsHandler(ts.starter, ts.jobs)
	galleryHandler := handlers.NewGalleryHandler(
		gallery.NewService(ts.jobs, ts.starter, fakeFetcher{}, time.UTC, nil), generations)
	wallet := handlers.NewWalletHandler(ledger.New(ts.mem, 100, nil))
	events := handlers.NewEventsHandler(ts.jobs, ts.broker, zap.NewNop())

	router := gin.New()
	router.GET("/health", handlers.HealthHandler(fakePinger{}))

	api := router.Group("/api/v1")
	api.Use(func(c *gin.Context) {
		if c.GetHeader("X-Test-User") != "" {
			c.Set(middleware.UserIDKey, c.GetHeader("X-Test-User"))
		} else if q := c.Query("user"); q != "" {
			c.Set(middleware.UserIDKey, q)
		}
		c.Next()
	})
	api.POST("/generations", generations.Create)
	api.GET("/jobs/:job_id", generations.GetJob)
	api.GET("/jobs/:job_id/events", events.Stream)
	api.POST("/jobs/:job_id/regenerate", galleryHandler.Regenerate)
	api.GET("/gallery", galleryHandler.List)
	api.POST("/gallery/download", galleryHandler.Download)
	api.GET("/wallet", wallet.GetWallet)
	api.GET("/wallet/transactions", wallet.ListTransactions)

	ts.router = router
	return ts
}

func (ts *testServer) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, _ := http.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-User", ts.userID.String())
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) putJob(status string) models.Job {
	job := models.Job{ID: uuid.New(), UserID: ts.userID, Kind: models.JobKindTryOn, Status: status, CreatedAt: time.Now(), ProductName: "Shirt"}
	switch status {
	case models.JobStatusCompleted:
		job.ResultURL = sql.NullString{String: "https://storage.test/r.webp", Valid: true}
	case models.JobStatusFailed:
		job.ErrorMessage = sql.NullString{String: "generation timed out", Valid: true}
	}
	ts.mem.PutJob(job)
	return job
}

func TestHealthHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/health", handlers.HealthHandler(fakePinger{}))
	router.GET("/health-down", handlers.HealthHandler(fakePinger{err: errors.New("down")}))

	req, _ := http.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")

	req, _ = http.NewRequest("GET", "/health-down", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMissingUserIsUnauthorized(t *testing.T) {
	ts := newTestServer(t)
	req, _ := http.NewRequest("GET", "/api/v1/wallet", nil)
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWallet(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do("GET", "/api/v1/wallet", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var wallet models.WalletResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &wallet))
	assert.Equal(t, 100, wallet.Credits)

	w = ts.do("GET", "/api/v1/wallet/transactions?limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var txs models.TransactionListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &txs))
	require.Len(t, txs.Transactions, 1)
	assert.Equal(t, models.TransactionBonus, txs.Transactions[0].Type)
}

func TestCreateGeneration(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do("POST", "/api/v1/generations", map[string]string{
		"product_image_id": uuid.NewString(),
		"model_photo_id":   uuid.NewString(),
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	var job models.JobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, models.JobStatusPending, job.Status)

	w = ts.do("GET", "/api/v1/jobs/"+job.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateGeneration_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		body map[string]string
		code int
	}{
		{"missing fields", nil, map[string]string{}, http.StatusBadRequest},
		{"bad uuid", nil, map[string]string{"product_image_id": "x", "model_photo_id": uuid.NewString()}, http.StatusBadRequest},
		{"insufficient credits", ledger.ErrInsufficientCredits, nil, http.StatusPaymentRequired},
		{"unknown input", models.ErrArtifactNotFound, nil, http.StatusNotFound},
		{"provider rejected", &inference.SubmissionError{Reason: "provider rejected request"}, nil, http.StatusBadGateway},
		{"store down", errors.New("connection refused"), nil, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.starter.err = tt.err
			body := tt.body
			if body == nil {
				body = map[string]string{"product_image_id": uuid.NewString(), "model_photo_id": uuid.NewString()}
			}
			w := ts.do("POST", "/api/v1/generations", body)
			assert.Equal(t, tt.code, w.Code)
		})
	}
}

func TestGetJob_NotFoundAndInvalid(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, ts.do("GET", "/api/v1/jobs/not-a-uuid", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do("GET", "/api/v1/jobs/"+uuid.NewString(), nil).Code)
}

func TestRegenerate_SourceNotCompleted(t *testing.T) {
	ts := newTestServer(t)
	ts.starter.err = orchestrator.ErrSourceNotCompleted
	job := ts.putJob(models.JobStatusProcessing)

	w := ts.do("POST", "/api/v1/jobs/"+job.ID.String()+"/regenerate", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGalleryListAndDownload(t *testing.T) {
	ts := newTestServer(t)
	done := ts.putJob(models.JobStatusCompleted)
	ts.putJob(models.JobStatusProcessing)

	w := ts.do("GET", "/api/v1/gallery?search=shirt", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp models.GalleryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)
	require.Len(t, resp.Groups, 1)
	assert.Equal(t, done.ID.String(), resp.Groups[0].Jobs[0].ID)

	w = ts.do("POST", "/api/v1/gallery/download", map[string][]string{"job_ids": {done.ID.String()}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/zip", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")

	w = ts.do("POST", "/api/v1/gallery/download", map[string][]string{"job_ids": {uuid.NewString()}})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do("POST", "/api/v1/gallery/download", map[string][]string{"job_ids": {"nope"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func dialEvents(t *testing.T, ts *testServer, jobID uuid.UUID) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(ts.router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/jobs/" + jobID.String() + "/events?user=" + ts.userID.String()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestEvents_TerminalSnapshot(t *testing.T) {
	ts := newTestServer(t)
	job := ts.putJob(models.JobStatusFailed)

	conn := dialEvents(t, ts, job.ID)

	var e progress.Event
	require.NoError(t, conn.ReadJSON(&e))
	assert.Equal(t, "failed", e.Status)
	assert.Equal(t, "generation timed out", e.Message)

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

func TestEvents_LiveUpdates(t *testing.T) {
	ts := newTestServer(t)
	job := ts.putJob(models.JobStatusProcessing)

	conn := dialEvents(t, ts, job.ID)

	var e progress.Event
	require.NoError(t, conn.ReadJSON(&e))
	assert.Equal(t, "processing", e.Status)

	// kept as the last event, so it arrives even if the subscription is not up yet
	require.NoError(t, ts.broker.Publish(context.Background(), progress.Processing(job.ID, 50, 4, "")))
	require.NoError(t, conn.ReadJSON(&e))
	assert.Equal(t, 50, e.Progress)

	require.NoError(t, ts.broker.Publish(context.Background(), progress.Completed(job.ID, "https://storage.test/r.webp")))
	require.NoError(t, conn.ReadJSON(&e))
	assert.Equal(t, "completed", e.Status)
}

func TestEvents_CompletedBetweenSnapshotAndSubscribe(t *testing.T) {
	ts := newTestServer(t)
	job := ts.putJob(models.JobStatusProcessing)
	// the broker already saw the terminal event the stored row has not caught up with
	require.NoError(t, ts.broker.Publish(context.Background(), progress.Completed(job.ID, "https://storage.test/r.webp")))

	conn := dialEvents(t, ts, job.ID)

	var e progress.Event
	require.NoError(t, conn.ReadJSON(&e))
	assert.Equal(t, "processing", e.Status)

	require.NoError(t, conn.ReadJSON(&e))
	assert.Equal(t, "completed", e.Status)

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

func TestEvents_UnknownJob(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do("GET", "/api/v1/jobs/"+uuid.NewString()+"/events", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminGrantCredits(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mem := memstore.New()
	credits := ledger.New(mem, 100, nil)

	router := gin.New()
	admin := router.Group("/api/v1/admin")
	admin.Use(middleware.AdminKeyMiddleware("admin-key"))
	admin.POST("/wallets/:user_id/credits", handlers.NewAdminHandler(credits).GrantCredits)

	userID := uuid.New()
	grant := func(key string, body interface{}) *httptest.ResponseRecorder {
		raw, _ := json.Marshal(body)
		req, _ := http.NewRequest("POST", "/api/v1/admin/wallets/"+userID.String()+"/credits", bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
		if key != "" {
			req.Header.Set(middleware.AdminKeyHeader, key)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusUnauthorized, grant("", map[string]interface{}{"amount": 50, "type": "purchase"}).Code)
	assert.Equal(t, http.StatusUnauthorized, grant("wrong", map[string]interface{}{"amount": 50, "type": "purchase"}).Code)
	assert.Equal(t, http.StatusBadRequest, grant("admin-key", map[string]interface{}{"amount": 50, "type": "refund"}).Code)
	assert.Equal(t, http.StatusBadRequest, grant("admin-key", map[string]interface{}{"amount": -5, "type": "bonus"}).Code)

	w := grant("admin-key", map[string]interface{}{"amount": 50, "type": "purchase"})
	require.Equal(t, http.StatusOK, w.Code)
	var wallet models.WalletResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &wallet))
	assert.Equal(t, 150, wallet.Credits)

	txs := mem.Transactions(userID)
	require.Len(t, txs, 2)
}
