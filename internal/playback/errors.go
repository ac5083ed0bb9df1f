package playback

import "errors"

// ErrorKind tags a session error.
type ErrorKind string

const (
	KindCatalogUnavailable ErrorKind = "catalog_unavailable"
	KindSourceMissing      ErrorKind = "source_missing"
	KindTransport          ErrorKind = "transport_error"
	KindMedia              ErrorKind = "media_error"
	KindPlaybackBlocked    ErrorKind = "playback_blocked"
)

const (
	msgNoAudio     = "track has no audio attached"
	msgTransport   = "network error: playback could not be recovered"
	msgUnsupported = "format not supported"
	msgBlocked     = "playback blocked by autoplay policy; user interaction required"
)

// SessionError is what a session reports to its caller. Raw transport errors
// are kept in Err for logs and never serialized.
type SessionError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *SessionError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *SessionError) Unwrap() error { return e.Err }

// Terminal reports whether the session cannot continue without a new bind.
// A blocked play only needs an explicit user play.
func (e *SessionError) Terminal() bool { return e.Kind != KindPlaybackBlocked }

// FailureKind classifies a failure reported by a media sink or engine.
type FailureKind string

const (
	FailureNetwork     FailureKind = "network"
	FailureDecode      FailureKind = "decode"
	FailureUnsupported FailureKind = "unsupported"
	FailureAborted     FailureKind = "aborted"
)

var (
	// ErrPlaybackBlocked is returned by MediaSink.Play when the host refuses
	// to start playback without user interaction.
	ErrPlaybackBlocked = errors.New("playback blocked by autoplay policy")

	// ErrFormatUnsupported is returned by a sink that cannot decode a source.
	ErrFormatUnsupported = errors.New("media format not supported")

	// ErrClosed is returned when enqueueing on a controller that has stopped.
	ErrClosed = errors.New("playback controller closed")

	// ErrAlreadyRunning is returned by a second call to Controller.Run.
	ErrAlreadyRunning = errors.New("playback controller already running")

	errIllegalTransition = errors.New("illegal state transition")
)
