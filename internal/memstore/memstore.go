// Package memstore is an in-process implementation of the ledger and job
// repositories with the same guarantees as the SQL store: conditional
// debits, one refund per job, and terminal-state guards. It backs tests
// and local runs without a database.
package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"virtual-tryon-backend/internal/jobs"
	"virtual-tryon-backend/internal/ledger"
	"virtual-tryon-backend/internal/models"
)

type Store struct {
	mu       sync.Mutex
	wallets  map[uuid.UUID]*models.Wallet
	txs      []models.CreditTransaction
	refunded map[uuid.UUID]bool
	jobs     map[uuid.UUID]*models.Job
	videos   map[uuid.UUID]*models.VideoJob
	now      func() time.Time
}

func New() *Store {
	return &Store{
		wallets:  make(map[uuid.UUID]*models.Wallet),
		refunded: make(map[uuid.UUID]bool),
		jobs:     make(map[uuid.UUID]*models.Job),
		videos:   make(map[uuid.UUID]*models.VideoJob),
		now:      time.Now,
	}
}

// SetWallet overwrites a wallet balance, creating it if needed.
func (s *Store) SetWallet(userID uuid.UUID, credits int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.wallets[userID] = &models.Wallet{UserID: userID, Credits: credits, TotalEarned: credits, CreatedAt: now, UpdatedAt: now}
}

func (s *Store) Transactions(userID uuid.UUID) []models.CreditTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CreditTransaction
	for _, tx := range s.txs {
		if tx.UserID == userID {
			out = append(out, tx)
		}
	}
	return out
}

func (s *Store) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// PutJob stores a job as-is; used to seed fixtures.
func (s *Store) PutJob(job models.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = &job
}

func (s *Store) EnsureWallet(_ context.Context, userID uuid.UUID, startingCredits int) (*models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.wallets[userID]; ok {
		c := *w
		return &c, nil
	}
	now := s.now()
	w := &models.Wallet{UserID: userID, Credits: startingCredits, TotalEarned: startingCredits, CreatedAt: now, UpdatedAt: now}
	s.wallets[userID] = w
	if startingCredits > 0 {
		s.appendTx(userID, models.TransactionBonus, startingCredits, 0, startingCredits, "welcome credits", uuid.NullUUID{})
	}
	c := *w
	return &c, nil
}

func (s *Store) DebitWallet(_ context.Context, userID uuid.UUID, amount int, description string, relatedJobID uuid.NullUUID) (*models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[userID]
	if !ok || w.Credits < amount {
		return nil, ledger.ErrInsufficientCredits
	}
	w.Credits -= amount
	w.TotalSpent += amount
	w.UpdatedAt = s.now()
	s.appendTx(userID, models.TransactionDeduct, -amount, w.Credits+amount, w.Credits, description, relatedJobID)
	c := *w
	return &c, nil
}

func (s *Store) RefundWallet(_ context.Context, userID uuid.UUID, amount int, description string, relatedJobID uuid.NullUUID) (*models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[userID]
	if !ok {
		return nil, ledger.ErrWalletNotFound
	}
	if relatedJobID.Valid && s.refunded[relatedJobID.UUID] {
		return nil, ledger.ErrAlreadyRefunded
	}
	if relatedJobID.Valid {
		s.refunded[relatedJobID.UUID] = true
	}
	w.Credits += amount
	w.TotalSpent = max(w.TotalSpent-amount, 0)
	w.UpdatedAt = s.now()
	s.appendTx(userID, models.TransactionRefund, amount, w.Credits-amount, w.Credits, description, relatedJobID)
	c := *w
	return &c, nil
}

func (s *Store) GrantCredits(_ context.Context, userID uuid.UUID, amount int, txType, description string) (*models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[userID]
	if !ok {
		return nil, ledger.ErrWalletNotFound
	}
	w.Credits += amount
	w.TotalEarned += amount
	w.UpdatedAt = s.now()
	s.appendTx(userID, txType, amount, w.Credits-amount, w.Credits, description, uuid.NullUUID{})
	c := *w
	return &c, nil
}

func (s *Store) ListTransactions(_ context.Context, userID uuid.UUID, limit int) ([]models.CreditTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CreditTransaction
	for i := len(s.txs) - 1; i >= 0 && len(out) < limit; i-- {
		if s.txs[i].UserID == userID {
			out = append(out, s.txs[i])
		}
	}
	return out, nil
}

func (s *Store) appendTx(userID uuid.UUID, txType string, amount, before, after int, description string, related uuid.NullUUID) {
	s.txs = append(s.txs, models.CreditTransaction{
		ID:            uuid.New(),
		UserID:        userID,
		Type:          txType,
		Amount:        amount,
		CreditsBefore: before,
		CreditsAfter:  after,
		Description:   description,
		RelatedJobID:  related,
		CreatedAt:     s.now(),
	})
}

func (s *Store) InsertJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.Status = models.JobStatusPending
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now()
	}
	c := *job
	s.jobs[job.ID] = &c
	return nil
}

func (s *Store) MarkJobProcessing(_ context.Context, jobID uuid.UUID, handle string) error {
	return s.updateJob(jobID, func(j *models.Job) {
		j.Status = models.JobStatusProcessing
		j.ExternalHandle.String, j.ExternalHandle.Valid = handle, true
		if !j.ProcessingStartedAt.Valid {
			j.ProcessingStartedAt.Time, j.ProcessingStartedAt.Valid = s.now(), true
		}
	})
}

func (s *Store) CompleteJob(_ context.Context, jobID uuid.UUID, resultURL string, metadata json.RawMessage) error {
	return s.updateJob(jobID, func(j *models.Job) {
		j.Status = models.JobStatusCompleted
		j.ResultURL.String, j.ResultURL.Valid = resultURL, true
		j.Metadata = metadata
		j.ProcessingCompletedAt.Time, j.ProcessingCompletedAt.Valid = s.now(), true
	})
}

func (s *Store) FailJob(_ context.Context, jobID uuid.UUID, message string) error {
	return s.updateJob(jobID, func(j *models.Job) {
		j.Status = models.JobStatusFailed
		j.ErrorMessage.String, j.ErrorMessage.Valid = message, true
		j.ProcessingCompletedAt.Time, j.ProcessingCompletedAt.Valid = s.now(), true
	})
}

func (s *Store) updateJob(jobID uuid.UUID, fn func(*models.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return jobs.ErrJobNotFound
	}
	if j.IsTerminal() {
		return jobs.ErrJobTerminal
	}
	fn(j)
	return nil
}

func (s *Store) GetJob(_ context.Context, jobID, userID uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok || j.UserID != userID {
		return nil, jobs.ErrJobNotFound
	}
	c := *j
	return &c, nil
}

func (s *Store) ListCompletedJobs(_ context.Context, userID uuid.UUID, filter jobs.Filter) ([]models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	var out []models.Job
	for _, j := range s.jobs {
		if j.UserID != userID || j.Status != models.JobStatusCompleted {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(j.ProductName), search) &&
			!strings.Contains(strings.ToLower(j.ModelName), search) {
			continue
		}
		if filter.Gender != "" && j.ModelGender != filter.Gender {
			continue
		}
		out = append(out, *j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return page(out, filter.Offset, filter.Limit), nil
}

func (s *Store) ListStaleJobs(_ context.Context, createdBefore time.Time) ([]models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Job
	for _, j := range s.jobs {
		if !j.IsTerminal() && j.CreatedAt.Before(createdBefore) {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (s *Store) InsertVideoJob(_ context.Context, video *models.VideoJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	video.Status = models.JobStatusPending
	if video.CreatedAt.IsZero() {
		video.CreatedAt = s.now()
	}
	c := *video
	s.videos[video.ID] = &c
	return nil
}

func (s *Store) MarkVideoJobProcessing(_ context.Context, videoID uuid.UUID, handle string) error {
	return s.updateVideo(videoID, func(v *models.VideoJob) {
		v.Status = models.JobStatusProcessing
		v.ExternalHandle.String, v.ExternalHandle.Valid = handle, true
		if !v.ProcessingStartedAt.Valid {
			v.ProcessingStartedAt.Time, v.ProcessingStartedAt.Valid = s.now(), true
		}
	})
}

func (s *Store) CompleteVideoJob(_ context.Context, videoID uuid.UUID, videoURL string) error {
	return s.updateVideo(videoID, func(v *models.VideoJob) {
		v.Status = models.JobStatusCompleted
		v.VideoURL.String, v.VideoURL.Valid = videoURL, true
		v.ProcessingCompletedAt.Time, v.ProcessingCompletedAt.Valid = s.now(), true
	})
}

func (s *Store) FailVideoJob(_ context.Context, videoID uuid.UUID, message string) error {
	return s.updateVideo(videoID, func(v *models.VideoJob) {
		v.Status = models.JobStatusFailed
		v.ErrorMessage.String, v.ErrorMessage.Valid = message, true
		v.ProcessingCompletedAt.Time, v.ProcessingCompletedAt.Valid = s.now(), true
	})
}

func (s *Store) updateVideo(videoID uuid.UUID, fn func(*models.VideoJob)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.videos[videoID]
	if !ok {
		return jobs.ErrJobNotFound
	}
	if v.IsTerminal() {
		return jobs.ErrJobTerminal
	}
	fn(v)
	return nil
}

func (s *Store) GetVideoJob(_ context.Context, videoID, userID uuid.UUID) (*models.VideoJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.videos[videoID]
	if !ok || v.UserID != userID {
		return nil, jobs.ErrJobNotFound
	}
	c := *v
	return &c, nil
}

func (s *Store) ListVideoJobs(_ context.Context, parentJobID, userID uuid.UUID) ([]models.VideoJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.VideoJob
	for _, v := range s.videos {
		if v.ParentJobID == parentJobID && v.UserID == userID {
			out = append(out, *v)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return out, nil
}

func (s *Store) ListStaleVideoJobs(_ context.Context, createdBefore time.Time) ([]models.VideoJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.VideoJob
	for _, v := range s.videos {
		if !v.IsTerminal() && v.CreatedAt.Before(createdBefore) {
			out = append(out, *v)
		}
	}
	return out, nil
}

func page(jobs []models.Job, offset, limit int) []models.Job {
	if offset >= len(jobs) {
		return nil
	}
	jobs = jobs[offset:]
	if limit > 0 && limit < len(jobs) {
		jobs = jobs[:limit]
	}
	return jobs
}
