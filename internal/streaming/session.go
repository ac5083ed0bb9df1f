package streaming

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tunestream/internal/bandwidth"
	"tunestream/internal/catalog"
	"tunestream/internal/platform/metrics"
	"tunestream/internal/playback"
	"tunestream/internal/quality"
	"tunestream/internal/remote"
)

// Session is one websocket client driving a playback controller. Client
// requests arrive through the remote.Session methods; snapshots flow back as
// state messages.
type Session struct {
	id          SessionID
	connectedAt time.Time
	store       catalog.Store
	sink        *remote.Sink
	ctrl        *playback.Controller
	log         *slog.Logger
	metrics     *metrics.Metrics

	mu      sync.RWMutex
	trackID string
}

var _ remote.Session = (*Session)(nil)

func (s *Session) ID() SessionID { return s.id }

// Bind looks the track up and starts playing it in place of the current one.
func (s *Session) Bind(ctx context.Context, trackID string, autoplay bool) error {
	track, err := s.store.Track(ctx, trackID)
	if err != nil {
		return fmt.Errorf("bind %q: %w", trackID, err)
	}
	if err := s.ctrl.Bind(track, autoplay); err != nil {
		return err
	}
	s.mu.Lock()
	s.trackID = track.ID
	s.mu.Unlock()
	s.log.Info("track bound", slog.String("track_id", track.ID), slog.Bool("autoplay", autoplay))
	return nil
}

func (s *Session) Play() error                        { return s.ctrl.Play() }
func (s *Session) Pause() error                       { return s.ctrl.Pause() }
func (s *Session) SelectTier(tier quality.Tier) error { return s.ctrl.SelectTier(tier) }
func (s *Session) EnableAuto() error                  { return s.ctrl.EnableAuto() }

func (s *Session) ReportSegmentLoad(bytes int64, d time.Duration) error {
	if s.metrics != nil {
		s.metrics.IncSegmentLoad()
	}
	return s.ctrl.ReportSegmentLoad(bytes, d)
}

func (s *Session) ObserveConnection(info bandwidth.ConnectionInfo) error {
	return s.ctrl.ObserveConnection(info)
}

// Teardown stops playback and leaves the session connected but idle.
func (s *Session) Teardown() error {
	if err := s.ctrl.Teardown(); err != nil {
		return err
	}
	s.mu.Lock()
	s.trackID = ""
	s.mu.Unlock()
	return nil
}

// Info returns the session's public view.
func (s *Session) Info() SessionInfo {
	s.mu.RLock()
	trackID := s.trackID
	s.mu.RUnlock()
	info := SessionInfo{ID: s.id, TrackID: trackID, ConnectedAt: s.connectedAt}
	if s.ctrl != nil {
		info.State = s.ctrl.Snapshot()
	}
	return info
}

// publish runs on the controller loop for every snapshot change.
func (s *Session) publish(snap playback.Snapshot) {
	if err := s.sink.SendState(context.Background(), string(s.id), snap); err != nil {
		s.log.Debug("sending state to client", slog.String("error", err.Error()))
	}
}
