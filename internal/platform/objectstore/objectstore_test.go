package objectstore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/botforge-backend/internal/platform/logger"
)

func TestGenerateKey(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	assert.Equal(t, "uploads/u1/1700000000123-my_report__v2_.pdf", GenerateKey("", "u1", "my report (v2).pdf", now))
	assert.Equal(t, "sources/a1/1700000000123-passwd", GenerateKey("/sources/", "a1", "../../etc/passwd", now))
	assert.Equal(t, "uploads/u1/1700000000123-file", GenerateKey("uploads", "u1", "", now))
}

func TestKeyFromPath(t *testing.T) {
	cases := []struct {
		raw, bucket, want string
	}{
		{"https://bucket.r2.example.com/uploads/u1/1-a.pdf", "bucket", "uploads/u1/1-a.pdf"},
		{"https://r2.example.com/bucket/uploads/u1/1-a.pdf", "bucket", "uploads/u1/1-a.pdf"},
		{"https://storage.googleapis.com/bucket/k.txt", "bucket", "k.txt"},
		{"memory://objects/uploads/x", "", "uploads/x"},
		{"uploads/u1/plain-key.txt", "bucket", "uploads/u1/plain-key.txt"},
	}
	for _, tc := range cases {
		got, err := keyFromPath(tc.raw, tc.bucket)
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
	}
	_, err := keyFromPath("https://host.example.com/", "bucket")
	require.Error(t, err)
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, m.Put(ctx, "uploads/a/1-x.txt", strings.NewReader("hello"), 5, "text/plain"))

	got, err := m.Get(ctx, "uploads/a/1-x.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	key, err := m.KeyFromURL(m.URL("uploads/a/1-x.txt"))
	require.NoError(t, err)
	assert.Equal(t, "uploads/a/1-x.txt", key)

	u, err := m.PresignGet(ctx, "uploads/a/1-x.txt", time.Minute)
	require.NoError(t, err)
	assert.Contains(t, u, "expires=")

	require.NoError(t, m.Delete(ctx, "uploads/a/1-x.txt"))
	_, err = m.Get(ctx, "uploads/a/1-x.txt")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		code ConfigErrorCode
	}{
		{"memory", Config{Provider: ProviderMemory}, ""},
		{"unknown", Config{Provider: "ftp"}, ConfigErrorInvalidProvider},
		{"s3 no bucket", Config{Provider: ProviderS3}, ConfigErrorMissingBucket},
		{"s3 no creds", Config{Provider: ProviderS3, Bucket: "b"}, ConfigErrorMissingCredentials},
		{"s3 bad endpoint", Config{Provider: ProviderS3, Bucket: "b", AccessKeyID: "k", SecretAccessKey: "s", Endpoint: "r2"}, ConfigErrorInvalidURL},
		{"s3 ok", Config{Provider: ProviderS3, Bucket: "b", AccessKeyID: "k", SecretAccessKey: "s", Endpoint: "https://acct.r2.cloudflarestorage.com"}, ""},
		{"gcs ok", Config{Provider: ProviderGCS, Bucket: "b"}, ""},
		{"emulator no host", Config{Provider: ProviderGCSEmulator, Bucket: "b"}, ConfigErrorMissingEmulatorHost},
	}
	for _, tc := range cases {
		err := tc.cfg.Validate()
		if tc.code == "" {
			assert.NoError(t, err, tc.name)
			continue
		}
		var ce *ConfigError
		require.ErrorAs(t, err, &ce, tc.name)
		assert.Equal(t, tc.code, ce.Code, tc.name)
	}
}

func TestConfigFromEnvDefaultsToMemory(t *testing.T) {
	for _, k := range []string{"OBJECT_STORAGE_PROVIDER", "S3_BUCKET_NAME", "GCS_BUCKET_NAME", "STORAGE_EMULATOR_HOST", "OBJECT_STORAGE_PUBLIC_BASE_URL", "S3_ACCESS_KEY_ID", "S3_SECRET_ACCESS_KEY", "S3_ENDPOINT"} {
		t.Setenv(k, "")
	}
	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, ProviderMemory, cfg.Provider)

	t.Setenv("S3_BUCKET_NAME", "kb-files")
	_, err = ConfigFromEnv()
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ConfigErrorMissingCredentials, ce.Code)
}

func TestS3StorePresignIsOffline(t *testing.T) {
	s, err := NewS3Store(context.Background(), logger.Nop(), Config{
		Bucket:          "kb-files",
		Endpoint:        "https://acct.r2.cloudflarestorage.com",
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
		UsePathStyle:    true,
	})
	require.NoError(t, err)

	u, err := s.PresignGet(context.Background(), "uploads/u1/1-a.pdf", 10*time.Minute)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "https://acct.r2.cloudflarestorage.com/kb-files/uploads/u1/1-a.pdf?"), u)
	assert.Contains(t, u, "X-Amz-Signature=")
	assert.Contains(t, u, "X-Amz-Expires=600")

	put, err := s.PresignPut(context.Background(), "uploads/u1/1-a.pdf", "application/pdf", 0)
	require.NoError(t, err)
	assert.Contains(t, put, "X-Amz-Expires=3600")

	key, err := s.KeyFromURL(s.URL("uploads/u1/1-a.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "uploads/u1/1-a.pdf", key)
}
