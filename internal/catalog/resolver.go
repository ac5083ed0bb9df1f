package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"

	"tunestream/internal/quality"
)

const (
	defaultMaxRetries   = 2
	defaultRetryBackoff = 100 * time.Millisecond
)

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithRetry sets how many times a failing lookup is retried and the initial
// backoff between attempts.
func WithRetry(maxRetries int, initial time.Duration) ResolverOption {
	return func(r *Resolver) {
		r.maxRetries = maxRetries
		r.retryBackoff = initial
	}
}

// Resolver turns store rows into validated catalogs. Successful results are
// cached per track id for the lifetime of the Resolver, so one Resolver
// should be created per playback session rather than shared globally.
type Resolver struct {
	store Store
	log   *slog.Logger

	maxRetries   int
	retryBackoff time.Duration

	group singleflight.Group

	mu    sync.RWMutex
	cache map[string]quality.Catalog
}

// NewResolver returns a Resolver reading from store.
func NewResolver(store Store, log *slog.Logger, opts ...ResolverOption) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	r := &Resolver{
		store:        store,
		log:          log,
		maxRetries:   defaultMaxRetries,
		retryBackoff: defaultRetryBackoff,
		cache:        make(map[string]quality.Catalog),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve returns the catalog for trackID. Errors wrap ErrCatalogUnavailable,
// and also ErrTrackNotFound when the track does not exist. Callers fall back
// to a single default tier on error instead of blocking playback.
func (r *Resolver) Resolve(ctx context.Context, trackID string) (quality.Catalog, error) {
	r.mu.RLock()
	c, ok := r.cache[trackID]
	r.mu.RUnlock()
	if ok {
		return c, nil
	}

	v, err, _ := r.group.Do(trackID, func() (interface{}, error) {
		return r.lookup(ctx, trackID)
	})
	if err != nil {
		return quality.Catalog{}, err
	}
	c = v.(quality.Catalog)

	r.mu.Lock()
	r.cache[trackID] = c
	r.mu.Unlock()
	return c, nil
}

// Forget drops the cached catalog of trackID.
func (r *Resolver) Forget(trackID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, trackID)
}

func (r *Resolver) lookup(ctx context.Context, trackID string) (quality.Catalog, error) {
	var records []Record
	op := func() error {
		var err error
		records, err = r.store.QualityRecords(ctx, trackID)
		if errors.Is(err, ErrTrackNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}

	ebo := backoff.NewExponentialBackOff()
	ebo.InitialInterval = r.retryBackoff
	ebo.Reset()
	var bo backoff.BackOff = ebo
	if r.maxRetries >= 0 {
		bo = backoff.WithMaxRetries(ebo, uint64(r.maxRetries))
	}

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return quality.Catalog{}, fmt.Errorf("%w: track %s: %w", ErrCatalogUnavailable, trackID, err)
	}

	variants := make([]quality.Variant, 0, len(records))
	seen := make(map[quality.Tier]bool, len(records))
	for _, rec := range records {
		v, err := rec.ToVariant()
		if err != nil {
			r.log.Warn("dropping malformed quality record",
				slog.String("track_id", trackID),
				slog.String("tier", rec.Tier),
				slog.String("error", err.Error()))
			continue
		}
		if v.TrackID != trackID {
			r.log.Warn("dropping quality record for another track",
				slog.String("track_id", trackID),
				slog.String("record_track_id", v.TrackID))
			continue
		}
		if seen[v.Tier] {
			r.log.Warn("dropping duplicate quality tier",
				slog.String("track_id", trackID),
				slog.String("tier", v.Tier.String()))
			continue
		}
		seen[v.Tier] = true
		variants = append(variants, v)
	}
	if len(variants) == 0 {
		return quality.Catalog{}, fmt.Errorf("%w: track %s has no usable renditions", ErrCatalogUnavailable, trackID)
	}
	return quality.NewCatalog(trackID, variants)
}
