package supabase

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	storage "github.com/supabase-community/storage-go"
)

type StorageClient struct {
	client  *storage.Client
	bucket  string
	baseURL string
}

func NewStorageClient(supabaseURL, serviceRoleKey, bucket string) (*StorageClient, error) {
	baseURL := strings.TrimSuffix(supabaseURL, "/")
	if baseURL == "" {
		return nil, fmt.Errorf("supabase url is required")
	}
	client := storage.NewClient(baseURL+"/storage/v1", serviceRoleKey, nil)

	return &StorageClient{
		client:  client,
		bucket:  bucket,
		baseURL: baseURL,
	}, nil
}

// JobObjectPath is users/{user_id}/jobs/{job_id}/{filename}.
func JobObjectPath(userID, jobID uuid.UUID, filename string) string {
	return fmt.Sprintf("users/%s/jobs/%s/%s", userID.String(), jobID.String(), filename)
}

// Put uploads a job artifact and returns its storage path and public URL.
// Existing objects are overwritten so a retried persist is harmless.
func (s *StorageClient) Put(_ context.Context, userID, jobID uuid.UUID, filename, contentType string, data []byte) (string, string, error) {
	storagePath := JobObjectPath(userID, jobID, filename)

	upsert := true
	_, err := s.client.UploadFile(s.bucket, storagePath, bytes.NewReader(data), storage.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to upload file: %w", err)
	}

	return storagePath, s.GetPublicURL(storagePath), nil
}

func (s *StorageClient) GetPublicURL(storagePath string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.baseURL, s.bucket, storagePath)
}

// PathFromPublicURL reverses GetPublicURL; ok is false for foreign URLs.
func (s *StorageClient) PathFromPublicURL(publicURL string) (string, bool) {
	prefix := fmt.Sprintf("%s/storage/v1/object/public/%s/", s.baseURL, s.bucket)
	if !strings.HasPrefix(publicURL, prefix) {
		return "", false
	}
	return strings.TrimPrefix(publicURL, prefix), true
}

// DeleteJobFiles removes everything stored under a job's prefix.
func (s *StorageClient) DeleteJobFiles(_ context.Context, userID, jobID uuid.UUID) error {
	prefix := fmt.Sprintf("users/%s/jobs/%s/", userID.String(), jobID.String())

	files, err := s.client.ListFiles(s.bucket, prefix, storage.FileSearchOptions{
		Limit: 1000,
	})
	if err != nil {
		return fmt.Errorf("failed to list files: %w", err)
	}

	if len(files) > 0 {
		filePaths := make([]string, len(files))
		for i, file := range files {
			filePaths[i] = prefix + file.Name
		}
		if _, err := s.client.RemoveFile(s.bucket, filePaths); err != nil {
			return fmt.Errorf("failed to delete files: %w", err)
		}
	}

	return nil
}

// Download reads an artifact back by its public URL. Only objects in this
// bucket are served.
func (s *StorageClient) Download(_ context.Context, publicURL string) ([]byte, string, error) {
	storagePath, ok := s.PathFromPublicURL(publicURL)
	if !ok {
		return nil, "", fmt.Errorf("not an object in bucket %s: %s", s.bucket, publicURL)
	}
	data, err := s.client.DownloadFile(s.bucket, storagePath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download file: %w", err)
	}
	return data, http.DetectContentType(data), nil
}
