package jobs_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"virtual-tryon-backend/internal/jobs"
	"virtual-tryon-backend/internal/memstore"
	"virtual-tryon-backend/internal/models"
)

func newStore() (*jobs.Store, *memstore.Store) {
	mem := memstore.New()
	return jobs.NewStore(mem, nil), mem
}

func createJob(t *testing.T, s *jobs.Store, userID uuid.UUID, product, model, gender string) *models.Job {
	t.Helper()
	job, err := s.Create(context.Background(), jobs.CreateParams{
		UserID:         userID,
		ProductImageID: uuid.New(),
		ModelPhotoID:   uuid.New(),
		Kind:           models.JobKindTryOn,
		CreditsUsed:    10,
		ProductName:    product,
		ModelName:      model,
		ModelGender:    gender,
	})
	require.NoError(t, err)
	return job
}

func TestStore_Lifecycle(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()
	userID := uuid.New()

	job := createJob(t, s, userID, "Linen Shirt", "Ava", "female")
	assert.Equal(t, models.JobStatusPending, job.Status)

	require.NoError(t, s.MarkProcessing(ctx, job.ID, "fal-ai/fashn/tryon/v1.6|req-1"))
	require.NoError(t, s.Complete(ctx, job.ID, "https://storage.test/result.webp", map[string]interface{}{"seed": 7}))

	got, err := s.Get(ctx, job.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, "fal-ai/fashn/tryon/v1.6|req-1", got.ExternalHandle.String)
	assert.JSONEq(t, `{"seed":7}`, string(got.Metadata))

	assert.ErrorIs(t, s.Fail(ctx, job.ID, "late"), jobs.ErrJobTerminal)
	assert.ErrorIs(t, s.MarkProcessing(ctx, job.ID, "x|y"), jobs.ErrJobTerminal)
}

func TestStore_CompleteRequiresURL(t *testing.T) {
	s, _ := newStore()
	job := createJob(t, s, uuid.New(), "p", "m", "")
	assert.Error(t, s.Complete(context.Background(), job.ID, "", nil))
}

func TestStore_GetIsUserScoped(t *testing.T) {
	s, _ := newStore()
	job := createJob(t, s, uuid.New(), "p", "m", "")

	_, err := s.Get(context.Background(), job.ID, uuid.New())
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)
	assert.ErrorIs(t, s.Fail(context.Background(), uuid.New(), "x"), jobs.ErrJobNotFound)
}

func TestStore_CreateRejectsVideoKind(t *testing.T) {
	s, _ := newStore()
	_, err := s.Create(context.Background(), jobs.CreateParams{UserID: uuid.New(), Kind: models.JobKindVideo})
	assert.Error(t, err)
}

func TestStore_ListCompletedFilters(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()
	userID := uuid.New()

	shirt := createJob(t, s, userID, "Linen Shirt", "Ava", "female")
	dress := createJob(t, s, userID, "Summer Dress", "Ben", "male")
	pending := createJob(t, s, userID, "Linen Pants", "Ava", "female")
	createJob(t, s, uuid.New(), "Linen Shirt", "Ava", "female")

	for _, j := range []*models.Job{shirt, dress} {
		require.NoError(t, s.Complete(ctx, j.ID, "https://storage.test/"+j.ID.String()+".webp", nil))
	}
	_ = pending

	all, err := s.ListCompleted(ctx, userID, jobs.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	linen, err := s.ListCompleted(ctx, userID, jobs.Filter{Search: "linen"})
	require.NoError(t, err)
	require.Len(t, linen, 1)
	assert.Equal(t, shirt.ID, linen[0].ID)

	byModel, err := s.ListCompleted(ctx, userID, jobs.Filter{Search: "BEN"})
	require.NoError(t, err)
	require.Len(t, byModel, 1)
	assert.Equal(t, dress.ID, byModel[0].ID)

	female, err := s.ListCompleted(ctx, userID, jobs.Filter{Gender: "female"})
	require.NoError(t, err)
	require.Len(t, female, 1)
	assert.Equal(t, shirt.ID, female[0].ID)
}

func TestStore_VideoLifecycle(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()
	userID := uuid.New()
	parent := createJob(t, s, userID, "p", "m", "")

	video, err := s.CreateVideo(ctx, jobs.CreateVideoParams{
		UserID: userID, ParentJobID: parent.ID, CreditsUsed: 50, DurationSeconds: 5, AspectRatio: "9:16",
	})
	require.NoError(t, err)

	lc := s.Videos()
	require.NoError(t, lc.MarkProcessing(ctx, video.ID, "m|r"))
	require.NoError(t, lc.Complete(ctx, video.ID, "https://storage.test/result.mp4", nil))
	assert.ErrorIs(t, lc.Fail(ctx, video.ID, "late"), jobs.ErrJobTerminal)

	videos, err := s.ListVideosForJob(ctx, parent.ID, userID)
	require.NoError(t, err)
	require.Len(t, videos, 1)
	assert.Equal(t, "https://storage.test/result.mp4", videos[0].VideoURL.String)

	_, err = s.GetVideo(ctx, video.ID, uuid.New())
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)
}

func TestStore_ListStale(t *testing.T) {
	s, mem := newStore()
	old := models.Job{ID: uuid.New(), UserID: uuid.New(), Status: models.JobStatusProcessing, CreatedAt: time.Now().Add(-time.Hour)}
	done := models.Job{ID: uuid.New(), UserID: uuid.New(), Status: models.JobStatusCompleted, CreatedAt: time.Now().Add(-time.Hour)}
	mem.PutJob(old)
	mem.PutJob(done)
	createJob(t, s, uuid.New(), "p", "m", "")

	stale, err := s.ListStale(context.Background(), time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)
}

func TestGroupByDate(t *testing.T) {
	day1 := time.Date(2026, 3, 2, 23, 30, 0, 0, time.UTC)
	day0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	list := []models.Job{
		{ID: uuid.New(), CreatedAt: day1},
		{ID: uuid.New(), CreatedAt: day1.Add(-time.Hour)},
		{ID: uuid.New(), CreatedAt: day0},
	}

	groups := jobs.GroupByDate(list, time.UTC)
	require.Len(t, groups, 2)
	assert.Equal(t, "2026-03-02", groups[0].Date.Format(time.DateOnly))
	assert.Len(t, groups[0].Jobs, 2)
	assert.Equal(t, list[0].ID, groups[0].Jobs[0].ID)
	assert.Equal(t, "2026-03-01", groups[1].Date.Format(time.DateOnly))

	// 23:30 UTC is the next day in Tokyo
	tokyo := time.FixedZone("JST", 9*3600)
	groups = jobs.GroupByDate(list, tokyo)
	require.Len(t, groups, 2)
	assert.Equal(t, "2026-03-03", groups[0].Date.Format(time.DateOnly))
	assert.Len(t, groups[0].Jobs, 1)
	assert.Equal(t, "2026-03-02", groups[1].Date.Format(time.DateOnly))
	assert.Len(t, groups[1].Jobs, 2)

	assert.Empty(t, jobs.GroupByDate(nil, time.UTC))
}
