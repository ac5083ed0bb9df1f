package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOConfig configures presigned URL generation against MinIO or any
// S3-compatible endpoint.
type MinIOConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Bucket          string
	Region          string

	// Expiry is how long a presigned URL stays valid. It should exceed the
	// longest expected playback session.
	Expiry time.Duration
}

const (
	defaultPresignExpiry = 6 * time.Hour
	defaultRegion        = "us-east-1"
	maxPresignExpiry     = 7 * 24 * time.Hour
)

type presigned struct {
	url     string
	expires time.Time
}

// MinIOResolver hands out presigned GET URLs for private audio objects. URLs
// are reused until half their lifetime has passed so a session keeps a stable
// address for each file.
type MinIOResolver struct {
	client *minio.Client
	bucket string
	expiry time.Duration
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]presigned
}

// NewMinIOResolver creates the client. No request is made until a URL is
// resolved, and with a region set presigning never contacts the server.
func NewMinIOResolver(cfg MinIOConfig) (*MinIOResolver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("minio resolver: bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = defaultRegion
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = defaultPresignExpiry
	}
	if cfg.Expiry > maxPresignExpiry {
		cfg.Expiry = maxPresignExpiry
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	return &MinIOResolver{
		client: client,
		bucket: cfg.Bucket,
		expiry: cfg.Expiry,
		now:    time.Now,
		cache:  make(map[string]presigned),
	}, nil
}

// ResolveURL implements URLResolver.
func (r *MinIOResolver) ResolveURL(ctx context.Context, path string) (string, error) {
	if path == "" {
		return "", ErrEmptyPath
	}
	if isAbsoluteURL(path) {
		return path, nil
	}
	key := strings.TrimLeft(path, "/")
	now := r.now()

	r.mu.Lock()
	if p, ok := r.cache[key]; ok && now.Before(p.expires.Add(-r.expiry/2)) {
		r.mu.Unlock()
		return p.url, nil
	}
	r.mu.Unlock()

	u, err := r.client.PresignedGetObject(ctx, r.bucket, key, r.expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s/%s: %w", r.bucket, key, err)
	}

	r.mu.Lock()
	r.cache[key] = presigned{url: u.String(), expires: now.Add(r.expiry)}
	r.mu.Unlock()
	return u.String(), nil
}
