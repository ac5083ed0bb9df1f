// Package playback implements the adaptive streaming session: a pure reducer
// over session events and a Controller that serializes events, runs the
// reducer and carries out its effects against a media sink and an optional
// adaptive engine.
package playback

import (
	"slices"

	"tunestream/internal/quality"
)

// State is the lifecycle state of a playback session.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
	StateEnded   State = "ended"
	StateErrored State = "errored"
)

// transitions lists the legal edges. Teardown back to idle is handled by the
// controller and is always allowed.
var transitions = map[State][]State{
	StateIdle:    {StateLoading},
	StateLoading: {StateReady, StatePlaying, StateErrored},
	StateReady:   {StatePlaying, StateErrored},
	StatePlaying: {StatePaused, StateReady, StateEnded, StateErrored},
	StatePaused:  {StatePlaying, StateEnded, StateErrored},
	StateEnded:   {StatePlaying},
	StateErrored: {},
}

// CanTransition reports whether a session may move from one state to another.
func CanTransition(from, to State) bool {
	if from == to || to == StateIdle {
		return true
	}
	return slices.Contains(transitions[from], to)
}

// Delivery is how audio reaches the media sink.
type Delivery string

const (
	DeliveryNone      Delivery = ""
	DeliveryWholeFile Delivery = "whole_file"
	DeliverySegmented Delivery = "segmented"
)

// Snapshot is the externally visible state of a session.
type Snapshot struct {
	Generation          uint64         `json:"generation"`
	State               State          `json:"state"`
	TrackID             string         `json:"track_id,omitempty"`
	CurrentTier         quality.Tier   `json:"current_tier,omitempty"`
	CurrentBitrateBps   int64          `json:"current_bitrate_bps"`
	IsAdaptive          bool           `json:"is_adaptive"`
	PinnedTier          quality.Tier   `json:"pinned_tier,omitempty"`
	BufferHealthSeconds float64        `json:"buffer_health_seconds"`
	IsBuffering         bool           `json:"is_buffering"`
	Delivery            Delivery       `json:"delivery,omitempty"`
	Position            float64        `json:"position"`
	Duration            float64        `json:"duration"`
	EstimateBps         float64        `json:"estimate_bps"`
	Degraded            bool           `json:"degraded"`
	Tiers               []quality.Tier `json:"tiers,omitempty"`
	Indicator           string         `json:"indicator"`
	Err                 *SessionError  `json:"error,omitempty"`
}

func (s Snapshot) equal(o Snapshot) bool {
	return s.Generation == o.Generation &&
		s.State == o.State &&
		s.TrackID == o.TrackID &&
		s.CurrentTier == o.CurrentTier &&
		s.CurrentBitrateBps == o.CurrentBitrateBps &&
		s.IsAdaptive == o.IsAdaptive &&
		s.PinnedTier == o.PinnedTier &&
		s.BufferHealthSeconds == o.BufferHealthSeconds &&
		s.IsBuffering == o.IsBuffering &&
		s.Delivery == o.Delivery &&
		s.Position == o.Position &&
		s.Duration == o.Duration &&
		s.EstimateBps == o.EstimateBps &&
		s.Degraded == o.Degraded &&
		slices.Equal(s.Tiers, o.Tiers) &&
		s.Err == o.Err
}
