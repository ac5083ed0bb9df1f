package hls

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"tunestream/internal/bandwidth"
	"tunestream/internal/playback"
)

const (
	DefaultMaxBufferAhead  = 30 * time.Second
	DefaultBandwidthFactor = 0.8
	DefaultFetchRetries    = 3

	defaultRetryInterval = 200 * time.Millisecond
	defaultPollInterval  = 250 * time.Millisecond
)

var (
	ErrFetch         = errors.New("hls fetch failed")
	ErrNotAttached   = errors.New("hls engine has no sink attached")
	ErrNoLevels      = errors.New("hls engine needs at least one level")
	ErrEngineStopped = errors.New("hls engine destroyed")
)

// EngineConfig tunes an Engine. Zero values take the defaults.
type EngineConfig struct {
	Client *http.Client

	// Estimator drives automatic level choice. A supplied estimator is only
	// read: its owner records the SegmentLoaded events the engine emits, as
	// the playback controller does. When nil the engine keeps its own and
	// records each transfer into it.
	Estimator *bandwidth.Estimator

	// MaxBufferAhead caps how far past the playhead segments are loaded.
	MaxBufferAhead time.Duration

	// BandwidthFactor is the share of the estimate a level may use.
	BandwidthFactor float64

	FetchRetries  int
	RetryInterval time.Duration
	PollInterval  time.Duration
	Logger        *slog.Logger
}

// Engine loads HLS media playlists and segments over HTTP and appends them
// to a sink that implements playback.SegmentAppender. Level choice is
// automatic unless a level is forced with SetLevel.
type Engine struct {
	client        *http.Client
	est           *bandwidth.Estimator
	ownsEstimator bool
	maxAhead      float64
	factor        float64
	retries       int
	retryInterval time.Duration
	poll          time.Duration
	log           *slog.Logger

	wg sync.WaitGroup

	mu        sync.Mutex
	listener  playback.Listener
	token     int
	sink      playback.MediaSink
	appender  playback.SegmentAppender
	levels    []playback.Level
	playlists map[int]MediaPlaylist
	forced    int
	current   int
	loaded    int
	metaSent  bool
	cancel    context.CancelFunc
	destroyed bool
}

var _ playback.AdaptiveEngine = (*Engine)(nil)

// NewEngine returns an engine with no levels loaded.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	ownsEstimator := cfg.Estimator == nil
	if ownsEstimator {
		cfg.Estimator = bandwidth.NewEstimator(bandwidth.Config{})
	}
	if cfg.MaxBufferAhead <= 0 {
		cfg.MaxBufferAhead = DefaultMaxBufferAhead
	}
	if cfg.BandwidthFactor <= 0 || cfg.BandwidthFactor > 1 {
		cfg.BandwidthFactor = DefaultBandwidthFactor
	}
	if cfg.FetchRetries < 0 {
		cfg.FetchRetries = 0
	} else if cfg.FetchRetries == 0 {
		cfg.FetchRetries = DefaultFetchRetries
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		client:        cfg.Client,
		est:           cfg.Estimator,
		ownsEstimator: ownsEstimator,
		maxAhead:      cfg.MaxBufferAhead.Seconds(),
		factor:        cfg.BandwidthFactor,
		retries:       cfg.FetchRetries,
		retryInterval: cfg.RetryInterval,
		poll:          cfg.PollInterval,
		log:           cfg.Logger,
		forced:        playback.AutoLevel,
		loaded:        -1,
	}
}

// Factory builds a fresh engine per playback session.
func Factory(cfg EngineConfig) playback.EngineFactory {
	return func() (playback.AdaptiveEngine, error) {
		return NewEngine(cfg), nil
	}
}

func (e *Engine) Attach(sink playback.MediaSink) error {
	appender, ok := sink.(playback.SegmentAppender)
	if !ok {
		return fmt.Errorf("%w: sink cannot take segments", playback.ErrFormatUnsupported)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sink = sink
	e.appender = appender
	return nil
}

// Load starts loading levels from startAt seconds, beginning with startLevel.
func (e *Engine) Load(ctx context.Context, levels []playback.Level, startLevel int, startAt float64) error {
	if len(levels) == 0 {
		return ErrNoLevels
	}
	if startLevel < 0 || startLevel >= len(levels) {
		startLevel = 0
	}
	e.mu.Lock()
	switch {
	case e.destroyed:
		e.mu.Unlock()
		return ErrEngineStopped
	case e.sink == nil:
		e.mu.Unlock()
		return ErrNotAttached
	}
	e.levels = append([]playback.Level(nil), levels...)
	e.playlists = make(map[int]MediaPlaylist, len(levels))
	e.current = startLevel
	e.loaded = -1
	e.metaSent = false
	e.mu.Unlock()

	e.restart(ctx, startAt)
	return nil
}

func (e *Engine) Levels() []playback.Level {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]playback.Level(nil), e.levels...)
}

// SetLevel forces index from the next segment on, or returns to automatic
// choice with playback.AutoLevel.
func (e *Engine) SetLevel(index int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if index != playback.AutoLevel && (index < 0 || index >= len(e.levels)) {
		return fmt.Errorf("hls: level %d out of range [0,%d)", index, len(e.levels))
	}
	e.forced = index
	return nil
}

func (e *Engine) StartLoad(ctx context.Context, position float64) error {
	if e.isDestroyed() {
		return ErrEngineStopped
	}
	e.restart(ctx, position)
	return nil
}

// RecoverMedia drops cached playlists and reloads from the playhead.
func (e *Engine) RecoverMedia(ctx context.Context) error {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return ErrEngineStopped
	}
	e.playlists = make(map[int]MediaPlaylist, len(e.levels))
	e.loaded = -1
	sink := e.sink
	e.mu.Unlock()

	at := 0.0
	if sink != nil {
		at = sink.CurrentTime()
	}
	e.restart(ctx, at)
	return nil
}

func (e *Engine) Listen(l playback.Listener) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.token++
	tok := e.token
	e.listener = l
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.token == tok {
			e.listener = nil
		}
	}
}

// Destroy stops loading and waits for the loader to exit.
func (e *Engine) Destroy() error {
	e.stopLoop()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.destroyed = true
	e.listener = nil
	return nil
}

func (e *Engine) isDestroyed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.destroyed
}

func (e *Engine) restart(ctx context.Context, at float64) {
	e.stopLoop()
	loopCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go e.run(loopCtx, at)
}

func (e *Engine) stopLoop() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
}

func (e *Engine) run(ctx context.Context, next float64) {
	defer e.wg.Done()

	e.mu.Lock()
	level := e.current
	e.mu.Unlock()

	for ctx.Err() == nil {
		pl, err := e.playlist(ctx, level)
		if err != nil {
			e.fail(ctx, playback.FailureNetwork, err)
			return
		}
		e.sendMetadata(ctx, pl)

		idx, start, ok := pl.SegmentAt(next)
		if !ok {
			if pl.Ended {
				e.log.Debug("all segments loaded", "level", level)
				return
			}
			// Live playlist: wait for it to grow.
			e.forget(level)
			if !e.sleep(ctx) {
				return
			}
			continue
		}
		if start-e.playhead() >= e.maxAhead {
			if !e.sleep(ctx) {
				return
			}
			level = e.chooseLevel()
			continue
		}

		seg := pl.Segments[idx]
		data, elapsed, err := e.fetch(ctx, seg.URI)
		if err != nil {
			e.fail(ctx, playback.FailureNetwork, err)
			return
		}
		ms := float64(elapsed) / float64(time.Millisecond)
		if e.ownsEstimator {
			e.est.RecordSegmentLoad(int64(len(data)), ms)
		}
		e.emit(ctx, playback.SegmentLoaded{Bytes: int64(len(data)), DurationMs: ms})

		if err := e.appendSegment(ctx, level, data); err != nil {
			e.fail(ctx, playback.FailureDecode, err)
			return
		}
		e.markLoaded(ctx, level)
		e.log.Debug("segment loaded",
			"level", level,
			"sequence", seg.Sequence,
			"bytes", len(data),
			"ms", int64(ms),
		)

		next = start + seg.Duration
		level = e.chooseLevel()
	}
}

// chooseLevel returns the forced level, or the highest level whose bitrate
// fits within the discounted estimate.
func (e *Engine) chooseLevel() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.forced != playback.AutoLevel {
		e.current = e.forced
		return e.current
	}
	budget := e.est.CurrentEstimateBps() * e.factor
	choice := 0
	for i, l := range e.levels {
		if float64(l.BitrateBps) <= budget {
			choice = i
		}
	}
	e.current = choice
	return choice
}

func (e *Engine) playhead() float64 {
	e.mu.Lock()
	sink := e.sink
	e.mu.Unlock()
	if sink == nil {
		return 0
	}
	return sink.CurrentTime()
}

func (e *Engine) playlist(ctx context.Context, level int) (MediaPlaylist, error) {
	e.mu.Lock()
	pl, ok := e.playlists[level]
	uri := e.levels[level].URI
	e.mu.Unlock()
	if ok {
		return pl, nil
	}

	data, _, err := e.fetch(ctx, uri)
	if err != nil {
		return MediaPlaylist{}, err
	}
	pl, err = ParseMediaPlaylist(bytes.NewReader(data))
	if err != nil {
		return MediaPlaylist{}, fmt.Errorf("level %d: %w", level, err)
	}
	for i := range pl.Segments {
		pl.Segments[i].URI = resolveReference(uri, pl.Segments[i].URI)
	}

	e.mu.Lock()
	if e.playlists != nil {
		e.playlists[level] = pl
	}
	e.mu.Unlock()
	return pl, nil
}

func (e *Engine) forget(level int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.playlists, level)
}

func (e *Engine) sendMetadata(ctx context.Context, pl MediaPlaylist) {
	e.mu.Lock()
	sent := e.metaSent
	e.metaSent = true
	e.mu.Unlock()
	if sent {
		return
	}
	duration := 0.0
	if pl.Ended {
		duration = pl.TotalDuration()
	}
	e.emit(ctx, playback.MetadataLoaded{Duration: duration})
}

func (e *Engine) appendSegment(ctx context.Context, level int, data []byte) error {
	e.mu.Lock()
	appender := e.appender
	e.mu.Unlock()
	return appender.AppendSegment(ctx, level, data)
}

func (e *Engine) markLoaded(ctx context.Context, level int) {
	e.mu.Lock()
	changed := e.loaded != level
	e.loaded = level
	bitrate := e.levels[level].BitrateBps
	e.mu.Unlock()
	if changed {
		e.emit(ctx, playback.LevelSwitched{Index: level, BitrateBps: bitrate})
	}
}

// fetch GETs rawURL with retries. 4xx responses are not retried.
func (e *Engine) fetch(ctx context.Context, rawURL string) ([]byte, time.Duration, error) {
	var (
		body    []byte
		elapsed time.Duration
	)
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		started := time.Now()
		resp, err := e.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return backoff.Permanent(fmt.Errorf("%w: %s: %s", ErrFetch, rawURL, resp.Status))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%w: %s: %s", ErrFetch, rawURL, resp.Status)
		}
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		body, elapsed = b, time.Since(started)
		return nil
	}

	ebo := backoff.NewExponentialBackOff()
	ebo.InitialInterval = e.retryInterval
	ebo.Reset()
	bo := backoff.WithContext(backoff.WithMaxRetries(ebo, uint64(e.retries)), ctx)

	notify := func(err error, wait time.Duration) {
		e.log.Warn("retrying hls fetch", "url", rawURL, "error", err, "backoff", wait)
		e.emit(ctx, playback.MediaFailure{Kind: playback.FailureNetwork, Err: err})
	}
	if err := backoff.RetryNotify(op, bo, notify); err != nil {
		return nil, 0, err
	}
	return body, elapsed, nil
}

func (e *Engine) fail(ctx context.Context, kind playback.FailureKind, err error) {
	if ctx.Err() != nil {
		return
	}
	e.log.Error("hls loading stopped", "kind", kind, "error", err)
	e.emit(ctx, playback.MediaFailure{Kind: kind, Fatal: true, Err: err})
}

func (e *Engine) emit(ctx context.Context, ev playback.Event) {
	if ctx.Err() != nil {
		return
	}
	e.mu.Lock()
	l := e.listener
	e.mu.Unlock()
	if l != nil {
		l(ev)
	}
}

func (e *Engine) sleep(ctx context.Context) bool {
	t := time.NewTimer(e.poll)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// resolveReference resolves a segment URI against its playlist URL.
func resolveReference(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
