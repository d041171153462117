package s3

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-cloudfiles/pkg/swiftsim/storage/storagetest"
)

func TestS3Backend_Configuration(t *testing.T) {
	t.Run("EmptyBucket", func(t *testing.T) {
		_, err := New(Config{Region: "us-east-1"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bucket name is required")
	})

	t.Run("Prefix", func(t *testing.T) {
		backend, err := New(Config{
			Bucket:          "test-bucket",
			Prefix:          "swiftsim/",
			AccessKeyID:     "test-key",
			SecretAccessKey: "test-secret",
		})
		require.NoError(t, err)
		b := backend.(*Backend)
		assert.Equal(t, "swiftsim/blobs/a", *b.key("blobs/a"))
		assert.Equal(t, "us-east-1", b.config.Region)
	})
}

// TestS3Backend_Integration runs against MinIO or S3 when S3_TEST_ENDPOINT is set.
func TestS3Backend_Integration(t *testing.T) {
	endpoint := os.Getenv("S3_TEST_ENDPOINT")
	if endpoint == "" {
		t.Skip("S3_TEST_ENDPOINT not set")
	}

	backend, err := New(Config{
		Region:                 "us-east-1",
		Bucket:                 "swiftsim-test",
		AccessKeyID:            os.Getenv("S3_TEST_ACCESS_KEY"),
		SecretAccessKey:        os.Getenv("S3_TEST_SECRET_KEY"),
		Endpoint:               endpoint,
		UsePathStyle:           true,
		CreateBucketIfNotExist: true,
	})
	require.NoError(t, err)
	storagetest.Run(t, backend)
}
