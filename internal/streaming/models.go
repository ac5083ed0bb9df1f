// Package streaming is the HTTP surface of the server: rendition listings,
// master playlists, and websocket playback sessions.
package streaming

import (
	"errors"
	"time"

	"tunestream/internal/playback"
	"tunestream/internal/quality"
)

// SessionID uniquely identifies a connected playback session.
type SessionID string

var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionExists       = errors.New("session already registered")
	ErrNoSegmentedDelivery = errors.New("track has no segmented renditions")
)

// QualityOption is one entry of a track's quality picker.
type QualityOption struct {
	quality.Badge

	Format       quality.Format `json:"format,omitempty"`
	BitrateKbps  int            `json:"bitrate_kbps,omitempty"`
	SampleRateHz int            `json:"sample_rate_hz,omitempty"`
	BitDepth     int            `json:"bit_depth,omitempty"`
	Channels     int            `json:"channels,omitempty"`
	Segmented    bool           `json:"segmented"`
}

// QualitiesResponse lists the tiers a track can be played at. Degraded is set
// when the rendition catalog could not be read and only the track's default
// audio file is offered.
type QualitiesResponse struct {
	TrackID   string          `json:"track_id"`
	Degraded  bool            `json:"degraded"`
	Qualities []QualityOption `json:"qualities"`
}

// SessionInfo is the public view of a connected session.
type SessionInfo struct {
	ID          SessionID         `json:"id"`
	TrackID     string            `json:"track_id,omitempty"`
	ConnectedAt time.Time         `json:"connected_at"`
	State       playback.Snapshot `json:"state"`
}

func optionFor(v quality.Variant) QualityOption {
	return QualityOption{
		Badge:        quality.BadgeFor(v),
		Format:       v.Format,
		BitrateKbps:  v.BitrateKbps,
		SampleRateHz: v.SampleRateHz,
		BitDepth:     v.BitDepth,
		Channels:     v.Channels,
		Segmented:    v.Segmented(),
	}
}
