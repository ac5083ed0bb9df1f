package catalog

import (
	"context"
	"sort"
	"sync"
)

// Store is the read side of the catalog backend. Implementations can be
// in-memory, SQL, or a remote service.
type Store interface {
	// Track returns the track record or ErrTrackNotFound.
	Track(ctx context.Context, trackID string) (Track, error)

	// QualityRecords returns the raw rendition rows for a track. A known track
	// with no renditions yields an empty slice and no error.
	QualityRecords(ctx context.Context, trackID string) ([]Record, error)
}

// InMemoryStore is a concurrency-safe in-memory Store.
type InMemoryStore struct {
	mu      sync.RWMutex
	tracks  map[string]Track
	records map[string][]Record
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		tracks:  make(map[string]Track),
		records: make(map[string][]Record),
	}
}

// PutTrack inserts or replaces a track.
func (s *InMemoryStore) PutTrack(t Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks[t.ID] = t
}

// PutRecord appends a rendition row. Rows are not validated here; that is
// the resolver's job.
func (s *InMemoryStore) PutRecord(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.TrackID] = append(s.records[r.TrackID], r)
}

// Track implements Store.Track.
func (s *InMemoryStore) Track(ctx context.Context, trackID string) (Track, error) {
	if err := ctx.Err(); err != nil {
		return Track{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tracks[trackID]
	if !ok {
		return Track{}, ErrTrackNotFound
	}
	return t, nil
}

// QualityRecords implements Store.QualityRecords.
func (s *InMemoryStore) QualityRecords(ctx context.Context, trackID string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.tracks[trackID]; !ok {
		return nil, ErrTrackNotFound
	}
	out := make([]Record, len(s.records[trackID]))
	copy(out, s.records[trackID])
	return out, nil
}

// TrackIDs returns all known track ids, sorted.
func (s *InMemoryStore) TrackIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.tracks))
	for id := range s.tracks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
