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

	"tunestream/internal/bandwidth"
	"tunestream/internal/quality"
)

const (
	maxMessageSize      = 64 << 10
	defaultPingInterval = 10 * time.Second
	defaultPongWait     = 30 * time.Second
)

// Session is what a client's requests act on.
type Session interface {
	Bind(ctx context.Context, trackID string, autoplay bool) error
	Play() error
	Pause() error
	SelectTier(tier quality.Tier) error
	EnableAuto() error
	ReportSegmentLoad(bytes int64, d time.Duration) error
	ObserveConnection(info bandwidth.ConnectionInfo) error
	Teardown() error
}

// Peer reads one client's messages, routing element events to its Sink and
// requests to its Session.
type Peer struct {
	conn    *websocket.Conn
	sink    *Sink
	session Session
	log     *slog.Logger

	PingInterval time.Duration
	PongWait     time.Duration
}

func NewPeer(conn *websocket.Conn, sink *Sink, session Session, log *slog.Logger) *Peer {
	if log == nil {
		log = slog.Default()
	}
	return &Peer{
		conn:         conn,
		sink:         sink,
		session:      session,
		log:          log,
		PingInterval: defaultPingInterval,
		PongWait:     defaultPongWait,
	}
}

// Serve reads until the client disconnects or ctx is cancelled. It closes
// the connection before returning. A normal close returns nil.
func (p *Peer) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	p.conn.SetReadLimit(maxMessageSize)
	_ = p.conn.SetReadDeadline(time.Now().Add(p.PongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(p.PongWait))
	})

	wg.Add(2)
	go func() {
		defer wg.Done()
		p.pingLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		<-ctx.Done()
		_ = p.conn.Close()
	}()

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		_ = p.conn.SetReadDeadline(time.Now().Add(p.PongWait))

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			p.reject(ctx, fmt.Errorf("malformed message: %w", err))
			continue
		}
		if err := p.dispatch(ctx, msg); err != nil {
			p.reject(ctx, err)
		}
	}
}

func (p *Peer) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(p.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.sink.ping(); err != nil {
				return
			}
		}
	}
}

var errUnknownMessage = errors.New("unknown message type")

func (p *Peer) dispatch(ctx context.Context, msg ClientMessage) error {
	if p.sink.handleElementEvent(msg) {
		return nil
	}
	switch msg.Type {
	case MsgBind:
		if msg.TrackID == "" {
			return errors.New("bind: track_id is required")
		}
		return p.session.Bind(ctx, msg.TrackID, msg.Autoplay)
	case MsgPlayReq:
		return p.session.Play()
	case MsgPauseReq:
		return p.session.Pause()
	case MsgSelectTier:
		tier, err := quality.ParseTier(msg.Tier)
		if err != nil {
			return err
		}
		return p.session.SelectTier(tier)
	case MsgAuto:
		return p.session.EnableAuto()
	case MsgConnection:
		return p.session.ObserveConnection(bandwidth.ConnectionInfo{
			EffectiveType: msg.EffectiveType,
			DownlinkMbps:  msg.DownlinkMbps,
		})
	case MsgSegmentLoad:
		return p.session.ReportSegmentLoad(msg.Bytes, time.Duration(msg.DurationMs*float64(time.Millisecond)))
	case MsgTeardown:
		return p.session.Teardown()
	}
	return fmt.Errorf("%w: %q", errUnknownMessage, msg.Type)
}

func (p *Peer) reject(ctx context.Context, err error) {
	p.log.Warn("rejected client message", "error", err)
	if sendErr := p.sink.SendError(ctx, err.Error()); sendErr != nil {
		p.log.Debug("sending error to client", "error", sendErr)
	}
}
