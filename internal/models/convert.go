package models

import (
	"encoding/json"
	"time"
)

func NewJobResponse(job *Job) JobResponse {
	resp := JobResponse{
		ID:             job.ID.String(),
		Kind:           job.Kind,
		Status:         job.Status,
		ProductImageID: job.ProductImageID.String(),
		ModelPhotoID:   job.ModelPhotoID.String(),
		CreditsUsed:    job.CreditsUsed,
		ProductName:    job.ProductName,
		ModelName:      job.ModelName,
		ModelGender:    job.ModelGender,
		CreatedAt:      job.CreatedAt,
	}
	if job.SourceJobID.Valid {
		resp.SourceJobID = job.SourceJobID.UUID.String()
	}
	if job.ResultURL.Valid {
		resp.ResultURL = job.ResultURL.String
	}
	if job.ErrorMessage.Valid {
		resp.ErrorMessage = job.ErrorMessage.String
	}
	if len(job.Metadata) > 0 {
		var metadata map[string]interface{}
		if err := json.Unmarshal(job.Metadata, &metadata); err == nil {
			resp.Metadata = metadata
		}
	}
	resp.ProcessingStartedAt = timePtr(job.ProcessingStartedAt.Time, job.ProcessingStartedAt.Valid)
	resp.ProcessingCompletedAt = timePtr(job.ProcessingCompletedAt.Time, job.ProcessingCompletedAt.Valid)
	return resp
}

func NewVideoJobResponse(v *VideoJob) VideoJobResponse {
	resp := VideoJobResponse{
		ID:              v.ID.String(),
		ParentJobID:     v.ParentJobID.String(),
		Status:          v.Status,
		CreditsUsed:     v.CreditsUsed,
		DurationSeconds: v.DurationSeconds,
		AspectRatio:     v.AspectRatio,
		CreatedAt:       v.CreatedAt,
	}
	if v.VideoURL.Valid {
		resp.VideoURL = v.VideoURL.String
	}
	if v.ErrorMessage.Valid {
		resp.ErrorMessage = v.ErrorMessage.String
	}
	resp.ProcessingCompletedAt = timePtr(v.ProcessingCompletedAt.Time, v.ProcessingCompletedAt.Valid)
	return resp
}

func NewWalletResponse(w *Wallet) WalletResponse {
	return WalletResponse{
		Credits:     w.Credits,
		TotalEarned: w.TotalEarned,
		TotalSpent:  w.TotalSpent,
		UpdatedAt:   w.UpdatedAt,
	}
}

func NewTransactionResponse(tx *CreditTransaction) TransactionResponse {
	resp := TransactionResponse{
		ID:            tx.ID.String(),
		Type:          tx.Type,
		Amount:        tx.Amount,
		CreditsBefore: tx.CreditsBefore,
		CreditsAfter:  tx.CreditsAfter,
		Description:   tx.Description,
		CreatedAt:     tx.CreatedAt,
	}
	if tx.RelatedJobID.Valid {
		resp.RelatedJobID = tx.RelatedJobID.UUID.String()
	}
	return resp
}

func timePtr(t time.Time, valid bool) *time.Time {
	if !valid {
		return nil
	}
	return &t
}
