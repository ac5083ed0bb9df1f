package storage

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticResolver(t *testing.T) {
	r, err := NewStaticResolver("https://cdn.example.com/audio")
	require.NoError(t, err)
	ctx := context.Background()

	got, err := r.ResolveURL(ctx, "t1/high.m4a")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/audio/t1/high.m4a", got)

	got, err = r.ResolveURL(ctx, "/t1/hifi/index.m3u8")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/audio/t1/hifi/index.m3u8", got)

	got, err = r.ResolveURL(ctx, "https://other.example.com/x.mp3")
	require.NoError(t, err)
	assert.Equal(t, "https://other.example.com/x.mp3", got)

	_, err = r.ResolveURL(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyPath)
}

func TestNewStaticResolver_relative_base(t *testing.T) {
	_, err := NewStaticResolver("audio/")
	assert.Error(t, err)
}

func TestMinIOResolver_presigns_and_reuses(t *testing.T) {
	r, err := NewMinIOResolver(MinIOConfig{
		Endpoint:        "localhost:9000",
		AccessKeyID:     "minioadmin",
		SecretAccessKey: "minioadmin",
		Bucket:          "tracks",
		Region:          "us-east-1",
		Expiry:          time.Hour,
	})
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	ctx := context.Background()

	first, err := r.ResolveURL(ctx, "t1/hifi.flac")
	require.NoError(t, err)
	u, err := url.Parse(first)
	require.NoError(t, err)
	assert.Equal(t, "localhost:9000", u.Host)
	assert.Equal(t, "/tracks/t1/hifi.flac", u.Path)
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
	assert.Equal(t, "3600", u.Query().Get("X-Amz-Expires"))

	now = now.Add(10 * time.Minute)
	second, err := r.ResolveURL(ctx, "/t1/hifi.flac")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Past half of the lifetime a fresh URL is issued.
	now = now.Add(30 * time.Minute)
	third, err := r.ResolveURL(ctx, "t1/hifi.flac")
	require.NoError(t, err)
	assert.NotEmpty(t, third)
}

func TestNewMinIOResolver_requires_bucket(t *testing.T) {
	_, err := NewMinIOResolver(MinIOConfig{Endpoint: "localhost:9000"})
	assert.Error(t, err)
}
