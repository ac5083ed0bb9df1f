package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tunestream/internal/playback"
)

const defaultWriteTimeout = 5 * time.Second

// Sink is a playback.MediaSink whose element lives on a websocket client.
// Element events are accepted only for the latest source, so reports from a
// source that has since been replaced never reach the controller.
type Sink struct {
	conn *websocket.Conn
	log  *slog.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	listener playback.Listener
	token    int
	sourceID int64
	current  float64
	buffered []playback.TimeRange
}

var (
	_ playback.MediaSink       = (*Sink)(nil)
	_ playback.SegmentAppender = (*Sink)(nil)
)

func NewSink(conn *websocket.Conn, log *slog.Logger) *Sink {
	if log == nil {
		log = slog.Default()
	}
	return &Sink{conn: conn, log: log}
}

func (s *Sink) SetSource(ctx context.Context, url string) error {
	s.mu.Lock()
	s.sourceID++
	id := s.sourceID
	s.current = 0
	s.buffered = nil
	s.mu.Unlock()
	return s.send(ctx, Command{Type: MsgSetSource, SourceID: id, URL: url})
}

// Play asks the client to start playback. A refusal arrives later as a
// play_rejected message and is reported as playback.PlayBlocked.
func (s *Sink) Play(ctx context.Context) error {
	return s.send(ctx, Command{Type: MsgPlay, SourceID: s.source()})
}

func (s *Sink) Pause(ctx context.Context) error {
	return s.send(ctx, Command{Type: MsgPause, SourceID: s.source()})
}

func (s *Sink) Seek(ctx context.Context, seconds float64) error {
	s.mu.Lock()
	s.current = seconds
	id := s.sourceID
	s.mu.Unlock()
	return s.send(ctx, Command{Type: MsgSeek, SourceID: id, Position: &seconds})
}

func (s *Sink) CurrentTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Sink) Buffered() []playback.TimeRange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]playback.TimeRange(nil), s.buffered...)
}

func (s *Sink) Listen(l playback.Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token++
	tok := s.token
	s.listener = l
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.token == tok {
			s.listener = nil
		}
	}
}

// AppendSegment sends a segment header followed by the segment as a binary
// frame. The pair is written atomically with respect to other commands.
func (s *Sink) AppendSegment(ctx context.Context, level int, data []byte) error {
	header, err := json.Marshal(Command{Type: MsgSegment, SourceID: s.source(), Level: &level, Bytes: len(data)})
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(deadline(ctx)); err != nil {
		return err
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, header); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

// SendState pushes a session snapshot to the client.
func (s *Sink) SendState(ctx context.Context, sessionID string, snap playback.Snapshot) error {
	return s.send(ctx, Command{Type: MsgState, SessionID: sessionID, State: &snap})
}

// SendError reports a protocol problem to the client.
func (s *Sink) SendError(ctx context.Context, msg string) error {
	return s.send(ctx, Command{Type: MsgError, Message: msg})
}

func (s *Sink) source() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sourceID
}

func (s *Sink) send(ctx context.Context, cmd Command) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(deadline(ctx)); err != nil {
		return err
	}
	if err := s.conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("remote %s: %w", cmd.Type, err)
	}
	return nil
}

func (s *Sink) ping() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(defaultWriteTimeout))
}

// handleElementEvent turns a client element report into a playback event.
// It reports false for messages that are not element events.
func (s *Sink) handleElementEvent(msg ClientMessage) bool {
	var ev playback.Event
	s.mu.Lock()
	stale := msg.SourceID != s.sourceID
	switch msg.Type {
	case MsgLoadedMetadata:
		ev = playback.MetadataLoaded{Duration: msg.Duration}
	case MsgTimeUpdate:
		if !stale {
			s.current = msg.CurrentTime
		}
		ev = playback.TimeUpdate{CurrentTime: msg.CurrentTime}
	case MsgProgress:
		if !stale {
			s.current = msg.CurrentTime
			s.buffered = []playback.TimeRange{{Start: 0, End: msg.BufferedEnd}}
		}
		ev = playback.BufferProgress{BufferedEnd: msg.BufferedEnd, CurrentTime: msg.CurrentTime}
	case MsgWaiting:
		ev = playback.Stalled{}
	case MsgEnded:
		ev = playback.PlaybackEnded{}
	case MsgMediaError:
		ev = playback.MediaFailure{Kind: failureKind(msg.Kind), Fatal: true, Err: clientError(msg)}
	case MsgPlayRejected:
		if msg.Kind == "unsupported" {
			ev = playback.MediaFailure{Kind: playback.FailureUnsupported, Fatal: true, Err: clientError(msg)}
		} else {
			ev = playback.PlayBlocked{Err: fmt.Errorf("%w: %s", playback.ErrPlaybackBlocked, msg.Message)}
		}
	default:
		s.mu.Unlock()
		return false
	}
	l := s.listener
	s.mu.Unlock()

	if stale {
		s.log.Debug("ignoring event for replaced source", "type", msg.Type, "source_id", msg.SourceID)
		return true
	}
	if l != nil {
		l(ev)
	}
	return true
}

func failureKind(kind string) playback.FailureKind {
	switch playback.FailureKind(kind) {
	case playback.FailureDecode, playback.FailureUnsupported, playback.FailureAborted:
		return playback.FailureKind(kind)
	}
	return playback.FailureNetwork
}

var errClientMedia = errors.New("client media error")

func clientError(msg ClientMessage) error {
	if msg.Message == "" {
		return errClientMedia
	}
	return fmt.Errorf("%w: %s", errClientMedia, msg.Message)
}

func deadline(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now().Add(defaultWriteTimeout)
}
