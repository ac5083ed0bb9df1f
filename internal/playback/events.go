package playback

import (
	"time"

	"tunestream/internal/bandwidth"
	"tunestream/internal/catalog"
	"tunestream/internal/quality"
)

// Event is anything that can change a session: sink and engine callbacks,
// network signals, user requests and async results.
type Event interface {
	sessionEvent()
}

// Media sink events.
type (
	MetadataLoaded struct{ Duration float64 }
	TimeUpdate     struct{ CurrentTime float64 }
	BufferProgress struct{ BufferedEnd, CurrentTime float64 }
	Stalled        struct{}
	PlaybackEnded  struct{}
	PlayBlocked    struct{ Err error }

	// MediaFailure is reported by sinks (always fatal) and engines.
	MediaFailure struct {
		Kind  FailureKind
		Fatal bool
		Err   error
	}
)

// Adaptive engine events.
type (
	LevelSwitched struct {
		Index      int
		BitrateBps int64
	}
	SegmentLoaded struct {
		Bytes      int64
		DurationMs float64
	}
)

// ConnectionChanged carries the passive network signal.
type ConnectionChanged struct{ Info bandwidth.ConnectionInfo }

// Requests and internal results. Fields the controller fills in before
// reducing are noted.
type (
	TrackBound struct {
		Track    catalog.Track
		Autoplay bool
		// EstimateBps is set by the controller.
		EstimateBps float64
	}
	CatalogResolved struct {
		Catalog quality.Catalog
		Err     error
	}
	PlayRequested  struct{}
	PauseRequested struct{}
	TierSelected   struct {
		Tier quality.Tier
		// Playhead and At are set by the controller.
		Playhead float64
		At       time.Time
	}
	AutoSelected struct {
		// Playhead is set by the controller.
		Playhead float64
	}
	BandwidthEstimated struct {
		Bps      float64
		At       time.Time
		Playhead float64
	}
	TeardownRequested struct{}
)

func (MetadataLoaded) sessionEvent()     {}
func (TimeUpdate) sessionEvent()         {}
func (BufferProgress) sessionEvent()     {}
func (Stalled) sessionEvent()            {}
func (PlaybackEnded) sessionEvent()      {}
func (PlayBlocked) sessionEvent()        {}
func (MediaFailure) sessionEvent()       {}
func (LevelSwitched) sessionEvent()      {}
func (SegmentLoaded) sessionEvent()      {}
func (ConnectionChanged) sessionEvent()  {}
func (TrackBound) sessionEvent()         {}
func (CatalogResolved) sessionEvent()    {}
func (PlayRequested) sessionEvent()      {}
func (PauseRequested) sessionEvent()     {}
func (TierSelected) sessionEvent()       {}
func (AutoSelected) sessionEvent()       {}
func (BandwidthEstimated) sessionEvent() {}
func (TeardownRequested) sessionEvent()  {}
