// Package storage maps stored object paths to URLs a player can fetch.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// URLResolver maps a stored relative path to a fetchable URL. Resolved URLs
// stay valid for at least the lifetime of a playback session.
type URLResolver interface {
	ResolveURL(ctx context.Context, path string) (string, error)
}

// ErrEmptyPath is returned when asked to resolve an empty path.
var ErrEmptyPath = errors.New("empty object path")

// StaticResolver joins paths onto a public base URL. Paths that are already
// absolute URLs are returned unchanged.
type StaticResolver struct {
	base *url.URL
}

// NewStaticResolver parses baseURL, which must be absolute.
func NewStaticResolver(baseURL string) (*StaticResolver, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse storage base url: %w", err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("storage base url %q is not absolute", baseURL)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return &StaticResolver{base: u}, nil
}

// ResolveURL implements URLResolver.
func (r *StaticResolver) ResolveURL(_ context.Context, path string) (string, error) {
	if path == "" {
		return "", ErrEmptyPath
	}
	if isAbsoluteURL(path) {
		return path, nil
	}
	ref, err := url.Parse(strings.TrimLeft(path, "/"))
	if err != nil {
		return "", fmt.Errorf("parse object path %q: %w", path, err)
	}
	return r.base.ResolveReference(ref).String(), nil
}

func isAbsoluteURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.IsAbs() && u.Host != ""
}
