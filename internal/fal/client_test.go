package fal_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"virtual-tryon-backend/internal/fal"
)

func TestClient_RetryWithBackoff(t *testing.T) {
	client := fal.NewClient("https://queue.test", "test-key").WithBackoffs(0)

	callCount := 0
	err := client.RetryWithBackoff(context.Background(), func() error {
		callCount++
		if callCount < 3 {
			return assert.AnError
		}
		return nil
	}, 3)

	assert.NoError(t, err)
	assert.Equal(t, 3, callCount)
}

func TestClient_RetryWithBackoff_Exhausted(t *testing.T) {
	client := fal.NewClient("https://queue.test", "test-key").WithBackoffs(0)

	err := client.RetryWithBackoff(context.Background(), func() error {
		return assert.AnError
	}, 3)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 3 retries")
	assert.ErrorIs(t, err, assert.AnError)
}

func TestAppID(t *testing.T) {
	assert.Equal(t, "fal-ai/fashn", fal.AppID("fal-ai/fashn/tryon/v1.6"))
	assert.Equal(t, "fal-ai/kling-video", fal.AppID("/fal-ai/kling-video/v2.1/standard/image-to-video"))
	assert.Equal(t, "fal-ai/flux", fal.AppID("fal-ai/flux"))
}

func TestClient_SubmitStatusResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Key test-key", r.Header.Get("Authorization"))

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/fal-ai/fashn/tryon/v1.6":
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "https://img/model.png", body["model_image"])
			_, _ = w.Write([]byte(`{"request_id":"req-1"}`))
		case r.URL.Path == "/fal-ai/fashn/requests/req-1/status":
			assert.Equal(t, "1", r.URL.Query().Get("logs"))
			_, _ = w.Write([]byte(`{"status":"IN_PROGRESS","logs":[{"message":"step 3/10"}]}`))
		case r.URL.Path == "/fal-ai/fashn/requests/req-1":
			_, _ = w.Write([]byte(`{"images":[{"url":"https://cdn/out.png"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := fal.NewClient(srv.URL+"/", "test-key")
	ctx := context.Background()

	sub, err := client.Submit(ctx, "fal-ai/fashn/tryon/v1.6", map[string]string{"model_image": "https://img/model.png"})
	require.NoError(t, err)
	assert.Equal(t, "req-1", sub.RequestID)

	status, err := client.Status(ctx, "fal-ai/fashn/tryon/v1.6", "req-1")
	require.NoError(t, err)
	assert.Equal(t, fal.StatusInProgress, status.Status)
	require.Len(t, status.Logs, 1)

	var out struct {
		Images []struct {
			URL string `json:"url"`
		} `json:"images"`
	}
	require.NoError(t, client.Result(ctx, "fal-ai/fashn/tryon/v1.6", "req-1", &out))
	require.Len(t, out.Images, 1)
	assert.Equal(t, "https://cdn/out.png", out.Images[0].URL)
}

func TestClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"detail":"bad image"}`))
	}))
	defer srv.Close()

	_, err := fal.NewClient(srv.URL, "k").Submit(context.Background(), "fal-ai/fashn/tryon/v1.6", map[string]string{})
	require.Error(t, err)

	var apiErr *fal.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.False(t, apiErr.Temporary())
	assert.True(t, (&fal.APIError{StatusCode: http.StatusServiceUnavailable}).Temporary())
	assert.True(t, (&fal.APIError{StatusCode: http.StatusTooManyRequests}).Temporary())
}

func TestClient_Download(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte("mp4-bytes"))
	}))
	defer srv.Close()

	data, contentType, err := fal.NewClient("https://queue.test", "k").Download(context.Background(), srv.URL+"/out.mp4")
	require.NoError(t, err)
	assert.Equal(t, []byte("mp4-bytes"), data)
	assert.Equal(t, "video/mp4", contentType)
}

func TestClient_DownloadSizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/chunked.mp4" {
			// flushing first drops Content-Length
			w.(http.Flusher).Flush()
		}
		_, _ = w.Write(make([]byte, 64))
	}))
	defer srv.Close()

	client := fal.NewClient("https://queue.test", "k").WithMaxArtifactSize(32)

	for _, path := range []string{"/sized.mp4", "/chunked.mp4"} {
		t.Run(path, func(t *testing.T) {
			_, _, err := client.Download(context.Background(), srv.URL+path)
			assert.ErrorIs(t, err, fal.ErrArtifactTooLarge)
		})
	}

	data, _, err := fal.NewClient("https://queue.test", "k").WithMaxArtifactSize(64).Download(context.Background(), srv.URL+"/sized.mp4")
	require.NoError(t, err)
	assert.Len(t, data, 64)
}
