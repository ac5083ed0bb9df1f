package playback

import (
	"context"

	"tunestream/internal/quality"
)

// Listener receives events from a media sink or adaptive engine.
type Listener func(Event)

// TimeRange is a buffered span of media time in seconds.
type TimeRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// BufferedEndAt returns the end of the buffered range containing t, or t
// itself when t is not buffered.
func BufferedEndAt(ranges []TimeRange, t float64) float64 {
	for _, r := range ranges {
		if r.Start <= t && t <= r.End {
			return r.End
		}
	}
	return t
}

// MediaSink is the playable element a session drives. Implementations emit
// MetadataLoaded, TimeUpdate, BufferProgress, Stalled, PlaybackEnded,
// MediaFailure and PlayBlocked to the current listener.
type MediaSink interface {
	SetSource(ctx context.Context, url string) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Seek(ctx context.Context, seconds float64) error
	CurrentTime() float64
	Buffered() []TimeRange

	// Listen replaces the sink's listener. The returned func detaches it.
	Listen(l Listener) (stop func())
}

// SegmentAppender is implemented by sinks that take segment bytes directly
// from an adaptive engine rather than fetching a URL themselves.
type SegmentAppender interface {
	AppendSegment(ctx context.Context, level int, data []byte) error
}

// Level is one rendition an adaptive engine can switch between. Levels are
// ordered by ascending bitrate.
type Level struct {
	Tier       quality.Tier `json:"tier"`
	BitrateBps int64        `json:"bitrate_bps"`
	URI        string       `json:"uri"`
}

// AutoLevel hands level choice back to the engine's own ABR.
const AutoLevel = -1

// AdaptiveEngine loads segmented media into a sink and arbitrates between
// levels. It emits MetadataLoaded, LevelSwitched, SegmentLoaded and
// MediaFailure (fatal or not).
type AdaptiveEngine interface {
	Attach(sink MediaSink) error
	Load(ctx context.Context, levels []Level, startLevel int, startAt float64) error
	Levels() []Level

	// SetLevel forces a level index, or AutoLevel.
	SetLevel(index int) error

	// StartLoad restarts loading at position after a network failure.
	StartLoad(ctx context.Context, position float64) error

	// RecoverMedia resets the media pipeline after a decode failure.
	RecoverMedia(ctx context.Context) error

	Listen(l Listener) (stop func())
	Destroy() error
}

// EngineFactory builds an adaptive engine per session. A nil factory means
// segmented delivery is unsupported.
type EngineFactory func() (AdaptiveEngine, error)
