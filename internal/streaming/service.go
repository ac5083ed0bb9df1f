package streaming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"tunestream/internal/bandwidth"
	"tunestream/internal/catalog"
	"tunestream/internal/hls"
	"tunestream/internal/platform/metrics"
	"tunestream/internal/playback"
	"tunestream/internal/quality"
	"tunestream/internal/remote"
	"tunestream/internal/storage"
)

// Config tunes the sessions a Service creates. Zero values take the
// defaults of the packages they are passed to.
type Config struct {
	Estimator        bandwidth.Config
	Hysteresis       quality.Hysteresis
	LowBufferSeconds float64

	// Engine configures segmented delivery. Its Estimator and Logger are
	// replaced per session.
	Engine hls.EngineConfig

	// DisableSegmented restricts sessions to whole-file delivery.
	DisableSegmented bool

	ResolverOptions []catalog.ResolverOption
}

// Service holds the catalog, URL resolution and the live sessions.
type Service struct {
	store    catalog.Store
	urls     storage.URLResolver
	registry *Registry
	cfg      Config
	log      *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	// root is cancelled by Close and parents every session.
	root   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService returns a service. met may be nil.
func NewService(store catalog.Store, urls storage.URLResolver, registry *Registry, cfg Config, log *slog.Logger, met *metrics.Metrics) *Service {
	if log == nil {
		log = slog.Default()
	}
	root, cancel := context.WithCancel(context.Background())
	return &Service{
		store:    store,
		urls:     urls,
		registry: registry,
		cfg:      cfg,
		log:      log,
		metrics:  met,
		now:      time.Now,
		root:     root,
		cancel:   cancel,
	}
}

// Qualities lists the tiers trackID can be played at. When the rendition
// catalog is unavailable it offers the default audio file as a single
// normal tier and marks the response degraded.
func (s *Service) Qualities(ctx context.Context, trackID string) (QualitiesResponse, error) {
	track, err := s.store.Track(ctx, trackID)
	if err != nil {
		return QualitiesResponse{}, err
	}

	resp := QualitiesResponse{TrackID: track.ID}
	cat, err := s.resolver().Resolve(ctx, track.ID)
	if err != nil {
		s.log.Warn("quality catalog unavailable, offering default audio",
			slog.String("track_id", track.ID),
			slog.String("error", err.Error()))
		cat, err = catalog.Fallback(track)
		if err != nil {
			return QualitiesResponse{}, err
		}
		resp.Degraded = true
	}

	variants := cat.Variants()
	resp.Qualities = make([]QualityOption, 0, len(variants))
	for _, v := range variants {
		resp.Qualities = append(resp.Qualities, optionFor(v))
	}
	return resp, nil
}

// MasterPlaylist renders an HLS master playlist over the segmented
// renditions of trackID, for players that run their own adaptation.
func (s *Service) MasterPlaylist(ctx context.Context, trackID string) (string, error) {
	track, err := s.store.Track(ctx, trackID)
	if err != nil {
		return "", err
	}
	cat, err := s.resolver().Resolve(ctx, track.ID)
	if err != nil {
		return "", err
	}
	segmented := cat.SegmentedVariants()
	if len(segmented) == 0 {
		return "", ErrNoSegmentedDelivery
	}

	streams := make([]hls.VariantStream, 0, len(segmented))
	for _, v := range segmented {
		uri, err := s.urls.ResolveURL(ctx, v.SegmentPlaylistPath)
		if err != nil {
			return "", fmt.Errorf("resolve %s playlist: %w", v.Tier, err)
		}
		streams = append(streams, hls.VariantStream{
			BandwidthBps: v.NominalBitrateBps(),
			Codecs:       hls.CodecsFor(string(v.Format)),
			Name:         v.Tier.Label(),
			URI:          uri,
		})
	}
	return hls.BuildMasterPlaylist(streams), nil
}

// Serve runs a playback session over conn until the client disconnects, ctx
// is cancelled, or the service is closed. The session is registered for its
// whole lifetime.
func (s *Service) Serve(ctx context.Context, conn *websocket.Conn) error {
	s.wg.Add(1)
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.root, cancel)
	defer stop()

	id := SessionID(uuid.NewString())
	log := s.log.With(slog.String("session_id", string(id)))
	sink := remote.NewSink(conn, log)
	sess := &Session{
		id:          id,
		connectedAt: s.now(),
		store:       s.store,
		sink:        sink,
		log:         log,
		metrics:     s.metrics,
	}

	ctrl, err := s.newController(sess, log)
	if err != nil {
		_ = conn.Close()
		return err
	}
	sess.ctrl = ctrl
	if err := s.registry.Add(sess); err != nil {
		_ = conn.Close()
		return err
	}
	defer s.registry.Remove(id)
	if s.metrics != nil {
		s.metrics.IncSessionsStarted()
	}
	log.Info("session connected")

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = ctrl.Run(ctx)
	}()

	err = remote.NewPeer(conn, sink, sess, log).Serve(ctx)
	cancel()
	<-runDone
	if err != nil {
		log.Warn("session ended with error", slog.String("error", err.Error()))
		return err
	}
	log.Info("session disconnected")
	return nil
}

func (s *Service) newController(sess *Session, log *slog.Logger) (*playback.Controller, error) {
	est := bandwidth.NewEstimator(s.cfg.Estimator)
	opts := playback.Options{
		Sink:             sess.sink,
		Catalog:          s.resolver(),
		URLs:             s.urls,
		Estimator:        est,
		Hysteresis:       s.cfg.Hysteresis,
		LowBufferSeconds: s.cfg.LowBufferSeconds,
		Logger:           log,
		OnUpdate:         sess.publish,
	}
	if !s.cfg.DisableSegmented {
		engineCfg := s.cfg.Engine
		// Engines read est; the controller is its only writer.
		engineCfg.Estimator = est
		engineCfg.Logger = log
		opts.Engines = hls.Factory(engineCfg)
	}
	if s.metrics != nil {
		opts.Metrics = s.metrics
	}
	return playback.NewController(opts)
}

// resolver returns a fresh catalog resolver. Resolvers cache for their whole
// lifetime, so each session and each request gets its own.
func (s *Service) resolver() *catalog.Resolver {
	return catalog.NewResolver(s.store, s.log, s.cfg.ResolverOptions...)
}

// Session returns the info of a connected session.
func (s *Service) Session(id SessionID) (SessionInfo, error) {
	sess, ok := s.registry.Get(id)
	if !ok {
		return SessionInfo{}, ErrSessionNotFound
	}
	return sess.Info(), nil
}

// Sessions lists the connected sessions.
func (s *Service) Sessions() []SessionInfo { return s.registry.List() }

// EndSession tears down playback of a connected session. The client stays
// connected and may bind another track.
func (s *Service) EndSession(id SessionID) error {
	sess, ok := s.registry.Get(id)
	if !ok {
		return ErrSessionNotFound
	}
	if err := sess.Teardown(); err != nil {
		if errors.Is(err, playback.ErrClosed) {
			return ErrSessionNotFound
		}
		return err
	}
	return nil
}

// ActiveSessions returns the number of connected sessions.
func (s *Service) ActiveSessions() int { return s.registry.ActiveCount() }

// Close disconnects every session and waits for them to finish.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}
