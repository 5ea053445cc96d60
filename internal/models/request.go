package models

type CreateGenerationRequest struct {
	ProductImageID string `json:"product_image_id" binding:"required" example:"6f1c0d4e-0a4e-4c0e-9a53-8e2f4c7e2a10"`
	ModelPhotoID   string `json:"model_photo_id" binding:"required" example:"0b8f5a71-3c1d-4c57-9a5e-8c0f2d6b1e44"`
	// Optional provider knobs (garment category, mode)
	Params map[string]interface{} `json:"params,omitempty"`
}

type VideoRequest struct {
	// Duration in seconds, 5 or 10
	Duration    int    `json:"duration,omitempty" example:"5"`
	AspectRatio string `json:"aspect_ratio,omitempty" example:"9:16"`
	Prompt      string `json:"prompt,omitempty"`
}

type BulkDownloadRequest struct {
	JobIDs []string `json:"job_ids" binding:"required,min=1"`
}

type GrantCreditsRequest struct {
	Amount int    `json:"amount" binding:"required,gt=0" example:"100"`
	Type   string `json:"type" binding:"required,oneof=purchase bonus" example:"purchase"`
	Reason string `json:"reason,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
