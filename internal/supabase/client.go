package supabase

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/supabase-community/supabase-go"
	"virtual-tryon-backend/internal/config"
	"virtual-tryon-backend/internal/models"
)

// Client reads the user's uploaded inputs (product images, model photos)
// through PostgREST. Rows are always filtered by owner.
type Client struct {
	Supabase *supabase.Client
	Config   *config.Config
}

func NewClient(cfg *config.Config) (*Client, error) {
	client, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseServiceRoleKey, nil)
	if err != nil {
		return nil, err
	}

	return &Client{
		Supabase: client,
		Config:   cfg,
	}, nil
}

func (c *Client) GetProductImage(_ context.Context, userID, imageID uuid.UUID) (*models.ProductImage, error) {
	data, _, err := c.Supabase.From("product_images").
		Select("id,user_id,name,image_url,category", "exact", false).
		Eq("id", imageID.String()).
		Eq("user_id", userID.String()).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to query product_images: %w", err)
	}

	var images []models.ProductImage
	if err := json.Unmarshal(data, &images); err != nil {
		return nil, fmt.Errorf("failed to parse product_images response: %w", err)
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("product image %s: %w", imageID, models.ErrArtifactNotFound)
	}
	return &images[0], nil
}

func (c *Client) GetModelPhoto(_ context.Context, userID, photoID uuid.UUID) (*models.ModelPhoto, error) {
	data, _, err := c.Supabase.From("model_photos").
		Select("id,user_id,name,gender,image_url", "exact", false).
		Eq("id", photoID.String()).
		Eq("user_id", userID.String()).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to query model_photos: %w", err)
	}

	var photos []models.ModelPhoto
	if err := json.Unmarshal(data, &photos); err != nil {
		return nil, fmt.Errorf("failed to parse model_photos response: %w", err)
	}
	if len(photos) == 0 {
		return nil, fmt.Errorf("model photo %s: %w", photoID, models.ErrArtifactNotFound)
	}
	return &photos[0], nil
}
