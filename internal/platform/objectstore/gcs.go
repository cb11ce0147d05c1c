package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/yungbote/botforge-backend/internal/platform/logger"
)

type GCSStore struct {
	log          *logger.Logger
	client       *storage.Client
	bucket       string
	emulatorHost string
	public       string
}

func NewGCSStore(ctx context.Context, log *logger.Logger, cfg Config) (*GCSStore, error) {
	if cfg.Provider != ProviderGCSEmulator {
		cfg.Provider = ProviderGCS
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := newStorageClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("service", "GCSObjectStore")
	log.Info("Object storage initialized", "provider", cfg.Provider, "bucket", cfg.Bucket, "emulator_host", cfg.EmulatorHost)

	public := cfg.PublicBaseURL
	if public == "" && cfg.Provider == ProviderGCSEmulator {
		public = strings.TrimRight(cfg.EmulatorHost, "/")
	}
	return &GCSStore{
		log:          log,
		client:       client,
		bucket:       cfg.Bucket,
		emulatorHost: strings.TrimRight(cfg.EmulatorHost, "/"),
		public:       public,
	}, nil
}

func newStorageClient(ctx context.Context, cfg Config) (*storage.Client, error) {
	if cfg.Provider == ProviderGCSEmulator {
		_ = os.Setenv("STORAGE_EMULATOR_HOST", strings.TrimRight(cfg.EmulatorHost, "/"))
		return storage.NewClient(ctx, option.WithoutAuthentication())
	}
	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	if creds := strings.TrimSpace(cfg.CredentialsJSONOrFile); creds != "" {
		if strings.HasPrefix(creds, "{") {
			opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
		} else {
			opts = append(opts, option.WithCredentialsFile(creds))
		}
	}
	return storage.NewClient(ctx, opts...)
}

func (g *GCSStore) Name() string { return string(ProviderGCS) }

func (g *GCSStore) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, body); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return nil
}

func (g *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	r, err := g.client.Bucket(g.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to open GCS reader: %w", err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (g *GCSStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	err := g.client.Bucket(g.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete GCS object: %w", err)
	}
	return nil
}

func (g *GCSStore) PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	return g.signedURL(key, http.MethodPut, contentType, ttl)
}

func (g *GCSStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return g.signedURL(key, http.MethodGet, "", ttl)
}

func (g *GCSStore) signedURL(key, method, contentType string, ttl time.Duration) (string, error) {
	if g.emulatorHost != "" {
		// The emulator does not verify signatures.
		return g.URL(key), nil
	}
	if ttl <= 0 {
		ttl = DefaultPresignTTL
	}
	u, err := g.client.Bucket(g.bucket).SignedURL(key, &storage.SignedURLOptions{
		Scheme:      storage.SigningSchemeV4,
		Method:      method,
		ContentType: contentType,
		Expires:     time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("gcs signed url: %w", err)
	}
	return u, nil
}

func (g *GCSStore) URL(key string) string {
	if g.public != "" {
		return fmt.Sprintf("%s/%s/%s", g.public, g.bucket, key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", g.bucket, key)
}

func (g *GCSStore) KeyFromURL(raw string) (string, error) {
	return keyFromPath(raw, g.bucket)
}

func (g *GCSStore) Close() error { return g.client.Close() }
