package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"tunestream/internal/bandwidth"
	"tunestream/internal/catalog"
	"tunestream/internal/quality"
	"tunestream/internal/storage"
)

const (
	defaultLowBufferSeconds = 2.0
	defaultRecoveryGrace    = 5.0
	defaultQueueSize        = 256
)

// CatalogResolver returns the rendition catalog for a track.
type CatalogResolver interface {
	Resolve(ctx context.Context, trackID string) (quality.Catalog, error)
}

// catalogForgetter is implemented by resolvers that cache catalogs. Binding a
// track again after it failed drops its cached catalog first.
type catalogForgetter interface {
	Forget(trackID string)
}

// Metrics receives session telemetry. All methods must be safe to call from
// the controller loop; a nil Metrics disables reporting.
type Metrics interface {
	IncTierSwitch(reason string)
	IncSessionError(kind string)
	IncBufferingEvent()
	IncStaleEvent()
	ObserveBandwidth(bps float64)
}

// Options configures a Controller. Sink, Catalog and URLs are required.
type Options struct {
	Sink    MediaSink
	Catalog CatalogResolver
	URLs    storage.URLResolver

	// Engines builds adaptive engines for segmented delivery. Nil limits the
	// controller to whole-file delivery.
	Engines EngineFactory

	Estimator        *bandwidth.Estimator
	Hysteresis       quality.Hysteresis
	LowBufferSeconds float64

	// RecoveryGrace is how far playback must progress past a recovered
	// failure, in seconds, before the retry budget refills.
	RecoveryGrace float64

	QueueSize int
	Logger    *slog.Logger
	Metrics   Metrics

	// OnUpdate is called from the controller loop whenever the snapshot
	// changes. It must not block on the controller.
	OnUpdate func(Snapshot)

	Now func() time.Time
}

type envelope struct {
	// gen is zero for requests, which always target the current session.
	gen uint64
	ev  Event
}

// Controller owns one playback surface. Every mutation goes through a single
// loop started by Run, so sink callbacks, engine callbacks, catalog results
// and user requests are applied one at a time in arrival order.
type Controller struct {
	sink      MediaSink
	resolver  CatalogResolver
	urls      storage.URLResolver
	engines   EngineFactory
	estimator *bandwidth.Estimator
	log       *slog.Logger
	metrics   Metrics
	onUpdate  func(Snapshot)
	now       func() time.Time
	env       env

	events  chan envelope
	done    chan struct{}
	started atomic.Bool
	wg      sync.WaitGroup

	// Loop-owned.
	pending    []envelope
	gen        uint64
	sess       session
	sessCtx    context.Context
	sessCancel context.CancelFunc
	stopSink   func()
	engine     AdaptiveEngine
	stopEngine func()

	mu   sync.RWMutex
	snap Snapshot
}

// NewController validates opts and builds an idle controller.
func NewController(opts Options) (*Controller, error) {
	if opts.Sink == nil || opts.Catalog == nil || opts.URLs == nil {
		return nil, errors.New("playback: sink, catalog and url resolver are required")
	}
	if opts.Estimator == nil {
		opts.Estimator = bandwidth.NewEstimator(bandwidth.Config{})
	}
	if opts.Hysteresis == (quality.Hysteresis{}) {
		opts.Hysteresis = quality.DefaultHysteresis()
	}
	if opts.LowBufferSeconds <= 0 {
		opts.LowBufferSeconds = defaultLowBufferSeconds
	}
	if opts.RecoveryGrace <= 0 {
		opts.RecoveryGrace = defaultRecoveryGrace
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Controller{
		sink:      opts.Sink,
		resolver:  opts.Catalog,
		urls:      opts.URLs,
		engines:   opts.Engines,
		estimator: opts.Estimator,
		log:       opts.Logger,
		metrics:   opts.Metrics,
		onUpdate:  opts.OnUpdate,
		now:       opts.Now,
		env: env{
			hysteresis:         opts.Hysteresis,
			lowBufferSeconds:   opts.LowBufferSeconds,
			recoveryGrace:      opts.RecoveryGrace,
			segmentedSupported: opts.Engines != nil,
		},
		events: make(chan envelope, opts.QueueSize),
		done:   make(chan struct{}),
	}
	c.sess = newSession(0, "", c.estimator.CurrentEstimateBps())
	c.snap = c.sess.snapshot()
	return c, nil
}

// Run processes events until ctx is cancelled, then releases the sink and any
// engine. It returns ctx.Err().
func (c *Controller) Run(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	for {
		select {
		case <-ctx.Done():
			close(c.done)
			c.release()
			c.wg.Wait()
			return ctx.Err()
		case in := <-c.events:
			c.handle(ctx, in)
			for len(c.pending) > 0 {
				next := c.pending[0]
				c.pending = c.pending[1:]
				c.handle(ctx, next)
			}
		}
	}
}

// Bind starts a new session for track, replacing any current one. Events
// still in flight for the previous session are discarded.
func (c *Controller) Bind(track catalog.Track, autoplay bool) error {
	return c.enqueue(envelope{ev: TrackBound{Track: track, Autoplay: autoplay}})
}

func (c *Controller) Play() error  { return c.enqueue(envelope{ev: PlayRequested{}}) }
func (c *Controller) Pause() error { return c.enqueue(envelope{ev: PauseRequested{}}) }

// SelectTier pins quality to tier. The pin outlives the current track.
func (c *Controller) SelectTier(tier quality.Tier) error {
	if !tier.Valid() {
		return fmt.Errorf("%w: %q", quality.ErrUnknownTier, tier)
	}
	return c.enqueue(envelope{ev: TierSelected{Tier: tier}})
}

// EnableAuto clears any pin and returns quality choice to the estimator.
func (c *Controller) EnableAuto() error { return c.enqueue(envelope{ev: AutoSelected{}}) }

// ReportSegmentLoad feeds a completed transfer into the bandwidth estimate.
func (c *Controller) ReportSegmentLoad(bytes int64, duration time.Duration) error {
	return c.enqueue(envelope{ev: SegmentLoaded{Bytes: bytes, DurationMs: float64(duration) / float64(time.Millisecond)}})
}

// ObserveConnection feeds the passive network signal into the estimate.
func (c *Controller) ObserveConnection(info bandwidth.ConnectionInfo) error {
	return c.enqueue(envelope{ev: ConnectionChanged{Info: info}})
}

// Teardown ends the current session and releases its resources.
func (c *Controller) Teardown() error { return c.enqueue(envelope{ev: TeardownRequested{}}) }

// Snapshot returns the last published session state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Done is closed once Run has stopped accepting events.
func (c *Controller) Done() <-chan struct{} { return c.done }

func (c *Controller) enqueue(in envelope) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.events <- in:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// listener stamps sink and engine events with the generation they belong to.
func (c *Controller) listener(gen uint64) Listener {
	return func(ev Event) {
		_ = c.enqueue(envelope{gen: gen, ev: ev})
	}
}

func (c *Controller) handle(ctx context.Context, in envelope) {
	if in.gen != 0 && in.gen != c.gen {
		c.log.Debug("dropping stale event",
			"event", eventName(in.ev),
			"event_generation", in.gen,
			"generation", c.gen,
		)
		if c.metrics != nil {
			c.metrics.IncStaleEvent()
		}
		return
	}

	ev := in.ev
	switch e := ev.(type) {
	case TrackBound:
		if f, ok := c.resolver.(catalogForgetter); ok && c.sess.state == StateErrored && c.sess.track.ID == e.Track.ID {
			f.Forget(e.Track.ID)
		}
		c.reset(ctx)
		c.stopSink = c.sink.Listen(c.listener(c.gen))
		e.EstimateBps = c.estimator.CurrentEstimateBps()
		ev = e
	case TeardownRequested:
		c.reset(ctx)
		c.log.Info("playback session torn down", "generation", c.gen)
		c.publish()
		return
	case SegmentLoaded:
		inst, ok := c.estimator.RecordSegmentLoad(e.Bytes, e.DurationMs)
		if !ok {
			return
		}
		c.log.Debug("segment throughput",
			"inst_bps", inst,
			"samples", c.estimator.Samples())
		ev = c.bandwidthEvent()
	case ConnectionChanged:
		if !c.estimator.ObserveConnection(e.Info) {
			return
		}
		ev = c.bandwidthEvent()
	case TierSelected:
		e.Playhead = c.sink.CurrentTime()
		e.At = c.now()
		ev = e
	case AutoSelected:
		e.Playhead = c.sink.CurrentTime()
		ev = e
	case MediaFailure:
		if !e.Fatal {
			c.log.Warn("recoverable media error", "kind", e.Kind, "error", e.Err)
			return
		}
	}

	prev := c.sess
	next, cmds, err := reduce(prev, ev, c.env)
	if err != nil {
		c.log.Warn("rejected playback event",
			"event", eventName(ev),
			"state", prev.state,
			"error", err,
		)
		return
	}
	c.sess = next
	c.observe(prev, next, ev)
	for _, cmd := range cmds {
		c.exec(cmd)
	}
	c.publish()
}

// reset releases the current session and starts a new idle generation.
func (c *Controller) reset(ctx context.Context) {
	c.release()
	c.gen++
	c.sess = newSession(c.gen, c.sess.pinned, c.estimator.CurrentEstimateBps())
	c.sessCtx, c.sessCancel = context.WithCancel(ctx)
}

func (c *Controller) release() {
	if c.sessCancel != nil {
		c.sessCancel()
		c.sessCancel = nil
	}
	c.stopEngineNow()
	if c.stopSink != nil {
		c.stopSink()
		c.stopSink = nil
	}
	if c.sess.state == StatePlaying {
		if err := c.sink.Pause(context.Background()); err != nil {
			c.log.Warn("pausing sink on release", "error", err)
		}
	}
}

func (c *Controller) bandwidthEvent() BandwidthEstimated {
	bps := c.estimator.CurrentEstimateBps()
	if c.metrics != nil {
		c.metrics.ObserveBandwidth(bps)
	}
	return BandwidthEstimated{Bps: bps, At: c.now(), Playhead: c.sink.CurrentTime()}
}

// exec performs one reducer command. Failures are fed back as events so they
// pass through the reducer like any sink error.
func (c *Controller) exec(cmd command) {
	ctx := c.sessCtx
	gen := c.gen
	// Synchronous failures are handled right after the current event.
	feedback := func(ev Event) {
		c.pending = append(c.pending, envelope{gen: gen, ev: ev})
	}

	switch cmd := cmd.(type) {
	case cmdResolveCatalog:
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			cat, err := c.resolver.Resolve(ctx, cmd.trackID)
			if ctx.Err() != nil {
				return
			}
			_ = c.enqueue(envelope{gen: gen, ev: CatalogResolved{Catalog: cat, Err: err}})
		}()

	case cmdLoadSource:
		url, err := c.urls.ResolveURL(ctx, cmd.path)
		if err != nil {
			feedback(MediaFailure{Kind: FailureNetwork, Fatal: true, Err: err})
			return
		}
		c.log.Debug("loading source", "url", url, "tier", c.sess.tier)
		if err := c.sink.SetSource(ctx, url); err != nil {
			feedback(sinkFailure(err))
		}

	case cmdSeek:
		if err := c.sink.Seek(ctx, cmd.position); err != nil {
			c.log.Warn("seek failed", "position", cmd.position, "error", err)
		}

	case cmdPlay:
		if err := c.sink.Play(ctx); err != nil {
			if errors.Is(err, ErrPlaybackBlocked) {
				feedback(PlayBlocked{Err: err})
				return
			}
			feedback(sinkFailure(err))
		}

	case cmdPause:
		if err := c.sink.Pause(ctx); err != nil {
			c.log.Warn("pause failed", "error", err)
		}

	case cmdStartAdaptive:
		if err := c.startEngine(ctx, cmd); err != nil {
			feedback(sinkFailure(err))
		}

	case cmdStopAdaptive:
		c.stopEngineNow()

	case cmdSetLevel:
		if c.engine == nil {
			return
		}
		if err := c.engine.SetLevel(cmd.index); err != nil {
			c.log.Warn("engine level change failed", "level", cmd.index, "error", err)
		}

	case cmdEngineStartLoad:
		if c.engine == nil {
			return
		}
		c.log.Info("restarting segment loading after network error", "position", cmd.position)
		if err := c.engine.StartLoad(ctx, cmd.position); err != nil {
			feedback(MediaFailure{Kind: FailureNetwork, Fatal: true, Err: err})
		}

	case cmdEngineRecover:
		if c.engine == nil {
			return
		}
		c.log.Info("recovering media pipeline after decode error")
		if err := c.engine.RecoverMedia(ctx); err != nil {
			feedback(MediaFailure{Kind: FailureDecode, Fatal: true, Err: err})
		}
	}
}

func (c *Controller) startEngine(ctx context.Context, cmd cmdStartAdaptive) error {
	c.stopEngineNow()
	eng, err := c.engines()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFormatUnsupported, err)
	}
	levels := make([]Level, len(cmd.levels))
	for i, l := range cmd.levels {
		uri, err := c.urls.ResolveURL(ctx, l.URI)
		if err != nil {
			_ = eng.Destroy()
			return err
		}
		l.URI = uri
		levels[i] = l
	}
	c.engine = eng
	c.stopEngine = eng.Listen(c.listener(c.gen))
	if err := eng.Attach(c.sink); err != nil {
		return err
	}
	if err := eng.Load(ctx, levels, cmd.startLevel, cmd.startAt); err != nil {
		return err
	}
	if cmd.forced {
		return eng.SetLevel(cmd.startLevel)
	}
	return nil
}

func (c *Controller) stopEngineNow() {
	if c.stopEngine != nil {
		c.stopEngine()
		c.stopEngine = nil
	}
	if c.engine != nil {
		if err := c.engine.Destroy(); err != nil {
			c.log.Warn("destroying adaptive engine", "error", err)
		}
		c.engine = nil
	}
}

// observe logs and counts what changed between two session states.
func (c *Controller) observe(prev, next session, ev Event) {
	if prev.state != next.state {
		c.log.Debug("playback state changed",
			"track_id", next.track.ID,
			"from", prev.state,
			"to", next.state,
		)
	}
	if prev.tier != "" && next.tier != prev.tier {
		reason := switchReason(ev)
		c.log.Info("quality tier switched",
			"track_id", next.track.ID,
			"from", prev.tier,
			"to", next.tier,
			"reason", reason,
			"estimate_bps", int64(next.estimate),
		)
		if c.metrics != nil {
			c.metrics.IncTierSwitch(reason)
		}
	}
	if !prev.buffering && next.buffering {
		c.log.Debug("buffer running low", "track_id", next.track.ID, "buffer_seconds", next.bufferHealth)
		if c.metrics != nil {
			c.metrics.IncBufferingEvent()
		}
	}
	if !prev.degraded && next.degraded {
		cause := errors.New("catalog empty")
		if cr, ok := ev.(CatalogResolved); ok && cr.Err != nil {
			cause = cr.Err
		}
		c.log.Warn("quality catalog unavailable, using default audio",
			"track_id", next.track.ID,
			"error", cause,
		)
		if c.metrics != nil {
			c.metrics.IncSessionError(string(KindCatalogUnavailable))
		}
	}
	if next.netRetries > prev.netRetries || next.mediaRetries > prev.mediaRetries {
		c.log.Warn("recovering playback", "track_id", next.track.ID, "position", next.position)
	}
	if next.err != nil && next.err != prev.err {
		level := slog.LevelError
		if !next.err.Terminal() {
			level = slog.LevelWarn
		}
		c.log.Log(context.Background(), level, "playback error",
			"track_id", next.track.ID,
			"kind", next.err.Kind,
			"error", next.err,
		)
		if c.metrics != nil {
			c.metrics.IncSessionError(string(next.err.Kind))
		}
	}
}

func (c *Controller) publish() {
	snap := c.sess.snapshot()
	c.mu.Lock()
	changed := !snap.equal(c.snap)
	c.snap = snap
	c.mu.Unlock()
	if changed && c.onUpdate != nil {
		c.onUpdate(snap)
	}
}

// sinkFailure classifies an error returned synchronously by a sink or engine.
func sinkFailure(err error) MediaFailure {
	kind := FailureNetwork
	switch {
	case errors.Is(err, ErrFormatUnsupported):
		kind = FailureUnsupported
	case errors.Is(err, context.Canceled):
		kind = FailureAborted
	}
	return MediaFailure{Kind: kind, Fatal: true, Err: err}
}

func switchReason(ev Event) string {
	switch ev.(type) {
	case BandwidthEstimated:
		return "bandwidth"
	case TierSelected:
		return "manual"
	case AutoSelected:
		return "auto"
	case LevelSwitched:
		return "engine"
	default:
		return "reload"
	}
}

func eventName(ev Event) string {
	return fmt.Sprintf("%T", ev)
}
