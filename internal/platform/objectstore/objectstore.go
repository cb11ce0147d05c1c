// Package objectstore stores uploaded source files and issues presigned URLs for them.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"
)

var ErrNotFound = errors.New("object not found")

const DefaultPresignTTL = time.Hour

type Store interface {
	Name() string
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	// URL is the stable, unsigned location of key. KeyFromURL inverts it.
	URL(key string) string
	KeyFromURL(raw string) (string, error)
}

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9.-]`)

// GenerateKey builds "{folder}/{ownerID}/{unixMillis}-{sanitizedName}".
func GenerateKey(folder, ownerID, originalName string, now time.Time) string {
	folder = strings.Trim(strings.TrimSpace(folder), "/")
	if folder == "" {
		folder = "uploads"
	}
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(originalName), "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "file"
	}
	return fmt.Sprintf("%s/%s/%d-%s", folder, ownerID, now.UnixMilli(), unsafeName.ReplaceAllString(name, "_"))
}

// keyFromPath strips the leading slash and, for path-style URLs, the bucket segment.
func keyFromPath(raw, bucket string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid object url %q: %w", raw, err)
	}
	p := u.Path
	if u.Scheme == "" && u.Host == "" {
		p = raw
	}
	key := strings.TrimPrefix(p, "/")
	if bucket != "" && strings.HasPrefix(key, bucket+"/") && !strings.HasPrefix(u.Host, bucket+".") {
		key = strings.TrimPrefix(key, bucket+"/")
	}
	if key == "" {
		return "", fmt.Errorf("no object key in url %q", raw)
	}
	return key, nil
}
