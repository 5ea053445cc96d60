package models

import "time"

type JobResponse struct {
	ID                    string                 `json:"job_id"`
	Kind                  string                 `json:"kind"`
	Status                string                 `json:"status"`
	ProductImageID        string                 `json:"product_image_id"`
	ModelPhotoID          string                 `json:"model_photo_id"`
	SourceJobID           string                 `json:"source_job_id,omitempty"`
	ResultURL             string                 `json:"result_url,omitempty"`
	CreditsUsed           int                    `json:"credits_used"`
	ErrorMessage          string                 `json:"error_message,omitempty"`
	ProductName           string                 `json:"product_name,omitempty"`
	ModelName             string                 `json:"model_name,omitempty"`
	ModelGender           string                 `json:"model_gender,omitempty"`
	Metadata              map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt             time.Time              `json:"created_at"`
	ProcessingStartedAt   *time.Time             `json:"processing_started_at,omitempty"`
	ProcessingCompletedAt *time.Time             `json:"processing_completed_at,omitempty"`
}

type VideoJobResponse struct {
	ID                    string     `json:"video_job_id"`
	ParentJobID           string     `json:"parent_job_id"`
	Status                string     `json:"status"`
	VideoURL              string     `json:"video_url,omitempty"`
	CreditsUsed           int        `json:"credits_used"`
	DurationSeconds       int        `json:"duration_seconds"`
	AspectRatio           string     `json:"aspect_ratio"`
	ErrorMessage          string     `json:"error_message,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	ProcessingCompletedAt *time.Time `json:"processing_completed_at,omitempty"`
}

type VideoListResponse struct {
	Videos []VideoJobResponse `json:"videos"`
}

type GalleryGroup struct {
	Date string        `json:"date"`
	Jobs []JobResponse `json:"jobs"`
}

type GalleryResponse struct {
	Groups []GalleryGroup `json:"groups"`
	Total  int            `json:"total"`
}

type WalletResponse struct {
	Credits     int       `json:"credits"`
	TotalEarned int       `json:"total_earned"`
	TotalSpent  int       `json:"total_spent"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type TransactionResponse struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Amount        int       `json:"amount"`
	CreditsBefore int       `json:"credits_before"`
	CreditsAfter  int       `json:"credits_after"`
	Description   string    `json:"description"`
	RelatedJobID  string    `json:"related_job_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type TransactionListResponse struct {
	Transactions []TransactionResponse `json:"transactions"`
}

type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
}
