// Package remote drives a player on the far side of a websocket. The server
// side holds the playback controller; the client owns the audio element,
// executes commands and reports element events back.
package remote

import (
	"tunestream/internal/playback"
)

// Server to client message types.
const (
	MsgSetSource = "set_source"
	MsgPlay      = "play"
	MsgPause     = "pause"
	MsgSeek      = "seek"
	MsgSegment   = "segment"
	MsgState     = "state"
	MsgError     = "error"
)

// Client to server message types. Element events carry the source_id of
// the set_source they belong to.
const (
	MsgBind        = "bind"
	MsgPlayReq     = "play"
	MsgPauseReq    = "pause"
	MsgSelectTier  = "select_tier"
	MsgAuto        = "auto"
	MsgConnection  = "connection"
	MsgSegmentLoad = "segment_load"
	MsgTeardown    = "teardown"

	MsgLoadedMetadata = "loadedmetadata"
	MsgTimeUpdate     = "timeupdate"
	MsgProgress       = "progress"
	MsgWaiting        = "waiting"
	MsgEnded          = "ended"
	MsgMediaError     = "media_error"
	MsgPlayRejected   = "play_rejected"
)

// Command is a server to client message.
type Command struct {
	Type      string             `json:"type"`
	SessionID string             `json:"session_id,omitempty"`
	SourceID  int64              `json:"source_id,omitempty"`
	URL       string             `json:"url,omitempty"`
	Position  *float64           `json:"position,omitempty"`
	Level     *int               `json:"level,omitempty"`
	Bytes     int                `json:"bytes,omitempty"`
	State     *playback.Snapshot `json:"state,omitempty"`
	Message   string             `json:"message,omitempty"`
}

// ClientMessage is a client to server message. Only the fields relevant to
// Type are set.
type ClientMessage struct {
	Type     string `json:"type"`
	SourceID int64  `json:"source_id,omitempty"`

	TrackID   string `json:"track_id,omitempty"`
	Title     string `json:"title,omitempty"`
	AudioPath string `json:"audio_path,omitempty"`
	Autoplay  bool   `json:"autoplay,omitempty"`
	Tier      string `json:"tier,omitempty"`

	EffectiveType string  `json:"effective_type,omitempty"`
	DownlinkMbps  float64 `json:"downlink_mbps,omitempty"`

	Bytes      int64   `json:"bytes,omitempty"`
	DurationMs float64 `json:"duration_ms,omitempty"`

	Duration    float64 `json:"duration,omitempty"`
	CurrentTime float64 `json:"current_time,omitempty"`
	BufferedEnd float64 `json:"buffered_end,omitempty"`

	// Kind is the media error class: network, decode, unsupported or
	// aborted. For play_rejected it is blocked or unsupported.
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}
