package storage

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/invoices/backend/internal/domain/shared"
	"github.com/invoices/backend/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDocumentStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryDocumentStore()

	body := []byte(`{"signature":"abc"}`)
	require.NoError(t, store.Put(ctx, "inv/1.json", body, "application/json"))
	body[0] = 'X'

	got, err := store.Get(ctx, "inv/1.json")
	require.NoError(t, err)
	assert.Equal(t, `{"signature":"abc"}`, string(got), "stored copy is isolated from the caller")

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, shared.ErrNotFound)

	url, err := store.URL(ctx, "inv/1.json", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "memory://inv/1.json", url)
	assert.Equal(t, 1, store.Len())
}

func TestNew_DefaultsToMemory(t *testing.T) {
	store, err := New(context.Background(), config.StorageConfig{Backend: "memory"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryDocumentStore{}, store)
}

func TestNewS3DocumentStore_Validation(t *testing.T) {
	_, err := NewS3DocumentStore(context.Background(), config.StorageConfig{})
	assert.ErrorContains(t, err, "bucket")
}

func TestS3DocumentStore_PresignAndPrefix(t *testing.T) {
	store, err := NewS3DocumentStore(context.Background(), config.StorageConfig{
		Bucket:          "signed-docs",
		Region:          "eu-south-2",
		Endpoint:        "http://localhost:9000",
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		UsePathStyle:    true,
		Prefix:          "/signed/",
	})
	require.NoError(t, err)
	assert.Equal(t, "signed-docs", store.Bucket())
	assert.Equal(t, "signed/a/b.json", store.objectKey("a/b.json"))

	url, err := store.URL(context.Background(), "a/b.json", time.Minute)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "http://localhost:9000/signed-docs/signed/a/b.json?"), url)
	assert.Contains(t, url, "X-Amz-Expires=60")
}

// TestS3DocumentStore_RoundTrip runs against an S3-compatible endpoint
// given in VERIFACTU_TEST_S3_ENDPOINT (for example a local MinIO).
func TestS3DocumentStore_RoundTrip(t *testing.T) {
	endpoint := os.Getenv("VERIFACTU_TEST_S3_ENDPOINT")
	if endpoint == "" {
		t.Skip("VERIFACTU_TEST_S3_ENDPOINT not set")
	}
	ctx := context.Background()
	store, err := NewS3DocumentStore(ctx, config.StorageConfig{
		Bucket:          "verifactu-test",
		Region:          "us-east-1",
		Endpoint:        endpoint,
		AccessKeyID:     os.Getenv("VERIFACTU_TEST_S3_ACCESS_KEY"),
		SecretAccessKey: os.Getenv("VERIFACTU_TEST_S3_SECRET_KEY"),
		UsePathStyle:    true,
	})
	require.NoError(t, err)
	require.NoError(t, store.EnsureBucket(ctx))

	key := uuid.NewString() + ".json"
	require.NoError(t, store.Put(ctx, key, []byte("{}"), "application/json"))
	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(got))

	_, err = store.Get(ctx, "missing-"+key)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}
