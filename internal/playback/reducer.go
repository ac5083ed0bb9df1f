package playback

import (
	"time"

	"tunestream/internal/catalog"
	"tunestream/internal/quality"
)

// session is the reducer's state. It is owned by the controller loop and
// copied by value through reduce.
type session struct {
	gen   uint64
	state State
	track catalog.Track

	// autoplay is the pending intent to play once the source is ready.
	autoplay bool

	catalog  quality.Catalog
	degraded bool
	delivery Delivery
	levels   []Level

	tier       quality.Tier
	bitrateBps int64
	adaptive   bool
	pinned     quality.Tier
	lastSwitch time.Time
	estimate   float64

	position     float64
	duration     float64
	bufferHealth float64
	buffering    bool

	// restore is applied on the next MetadataLoaded after a source change.
	restore *restorePoint

	netRetries   int
	mediaRetries int
	recoveryAt   float64

	err *SessionError
}

type restorePoint struct {
	position float64
	resume   bool
}

// newSession starts a fresh idle session that keeps the user's pinned tier.
func newSession(gen uint64, pinned quality.Tier, estimate float64) session {
	return session{
		gen:      gen,
		state:    StateIdle,
		pinned:   pinned,
		adaptive: pinned == "",
		estimate: estimate,
	}
}

func (s session) snapshot() Snapshot {
	return Snapshot{
		Generation:          s.gen,
		State:               s.state,
		TrackID:             s.track.ID,
		CurrentTier:         s.tier,
		CurrentBitrateBps:   s.bitrateBps,
		IsAdaptive:          s.adaptive,
		PinnedTier:          s.pinned,
		BufferHealthSeconds: s.bufferHealth,
		IsBuffering:         s.buffering,
		Delivery:            s.delivery,
		Position:            s.position,
		Duration:            s.duration,
		EstimateBps:         s.estimate,
		Degraded:            s.degraded,
		Tiers:               s.catalog.Tiers(),
		Indicator:           quality.Indicator(s.tier, s.adaptive, s.bitrateBps),
		Err:                 s.err,
	}
}

// settled reports whether a source is bound and switching is meaningful.
func (s session) settled() bool {
	return s.state == StateReady || s.state == StatePlaying || s.state == StatePaused
}

// env holds the tunables reduce depends on.
type env struct {
	hysteresis         quality.Hysteresis
	lowBufferSeconds   float64
	recoveryGrace      float64
	segmentedSupported bool
}

// commands are the effects reduce asks the controller to perform, in order.
type command interface{ isCommand() }

type (
	cmdResolveCatalog struct{ trackID string }
	cmdLoadSource     struct{ path string }
	cmdSeek           struct{ position float64 }
	cmdPlay           struct{}
	cmdPause          struct{}
	cmdStartAdaptive  struct {
		levels     []Level
		startLevel int
		forced     bool
		startAt    float64
	}
	cmdStopAdaptive    struct{}
	cmdSetLevel        struct{ index int }
	cmdEngineStartLoad struct{ position float64 }
	cmdEngineRecover   struct{}
)

func (cmdResolveCatalog) isCommand()  {}
func (cmdLoadSource) isCommand()      {}
func (cmdSeek) isCommand()            {}
func (cmdPlay) isCommand()            {}
func (cmdPause) isCommand()           {}
func (cmdStartAdaptive) isCommand()   {}
func (cmdStopAdaptive) isCommand()    {}
func (cmdSetLevel) isCommand()        {}
func (cmdEngineStartLoad) isCommand() {}
func (cmdEngineRecover) isCommand()   {}

// reduce applies ev to s. It never performs I/O. An event that would take the
// session along an illegal edge is rejected and s is returned unchanged.
func reduce(s session, ev Event, e env) (session, []command, error) {
	next, cmds := apply(s, ev, e)
	if !CanTransition(s.state, next.state) {
		return s, nil, errIllegalTransition
	}
	return next, cmds, nil
}

func apply(s session, ev Event, e env) (session, []command) {
	switch ev := ev.(type) {
	case TrackBound:
		return s.bind(ev)
	case CatalogResolved:
		return s.catalogResolved(ev, e)
	case MetadataLoaded:
		return s.metadataLoaded(ev)
	case TimeUpdate:
		return s.timeUpdate(ev.CurrentTime, e), nil
	case BufferProgress:
		return s.bufferProgress(ev, e), nil
	case Stalled:
		if s.settled() {
			s.buffering = true
		}
		return s, nil
	case PlaybackEnded:
		if s.state == StatePlaying || s.state == StatePaused {
			s.state = StateEnded
			if s.duration > 0 {
				s.position = s.duration
			}
			s.buffering = false
		}
		return s, nil
	case PlayRequested:
		return s.play()
	case PauseRequested:
		return s.pause()
	case PlayBlocked:
		return s.blocked(ev), nil
	case TierSelected:
		return s.selectTier(ev, e)
	case AutoSelected:
		return s.selectAuto(ev, e)
	case BandwidthEstimated:
		return s.bandwidth(ev, e)
	case LevelSwitched:
		if s.delivery == DeliverySegmented && ev.BitrateBps > 0 {
			s.tier = quality.ClassifyLevelBitrate(ev.BitrateBps)
			s.bitrateBps = ev.BitrateBps
		}
		return s, nil
	case MediaFailure:
		return s.failure(ev, e)
	}
	return s, nil
}

func (s session) bind(ev TrackBound) (session, []command) {
	if s.state != StateIdle {
		return s, nil
	}
	s.state = StateLoading
	s.track = ev.Track
	s.autoplay = ev.Autoplay
	s.adaptive = s.pinned == ""
	if ev.EstimateBps > 0 {
		s.estimate = ev.EstimateBps
	}
	return s, []command{cmdResolveCatalog{trackID: ev.Track.ID}}
}

func (s session) catalogResolved(ev CatalogResolved, e env) (session, []command) {
	if s.state != StateLoading || s.catalog.Len() > 0 {
		return s, nil
	}
	cat := ev.Catalog
	if ev.Err != nil || cat.Len() == 0 {
		fb, err := catalog.Fallback(s.track)
		if err != nil {
			return s.fail(KindSourceMissing, msgNoAudio, err)
		}
		cat = fb
		s.degraded = true
	}
	s.catalog = cat
	return s.deliver(e, 0, s.autoplay)
}

// deliver picks a delivery mode and starting tier for the current catalog
// and emits the commands that load it, restoring at with resume on ready.
func (s session) deliver(e env, at float64, resume bool) (session, []command) {
	segs := s.catalog.SegmentedVariants()
	useSegments := e.segmentedSupported && len(segs) > 0
	if useSegments && s.pinned != "" && !hasTier(segs, s.pinned) {
		useSegments = false
	}
	if useSegments {
		s.levels = levelsFrom(segs)
		start := 0
		if s.pinned != "" {
			start = levelIndex(s.levels, s.pinned)
		} else {
			start = levelIndex(s.levels, quality.SelectTier(s.estimate, tiersOf(s.levels)))
		}
		s.delivery = DeliverySegmented
		s.tier = s.levels[start].Tier
		s.bitrateBps = s.levels[start].BitrateBps
		s.restore = &restorePoint{position: at, resume: resume}
		return s, []command{cmdStartAdaptive{
			levels:     s.levels,
			startLevel: start,
			forced:     s.pinned != "",
			startAt:    at,
		}}
	}

	tiers := s.catalog.FileTiers()
	if len(tiers) == 0 {
		return s.fail(KindSourceMissing, "no playable source for track "+s.track.ID, nil)
	}
	var tier quality.Tier
	if s.pinned != "" {
		tier = quality.NearestAtOrBelow(s.pinned, tiers)
	} else {
		tier = quality.SelectTier(s.estimate, tiers)
	}
	v, _ := s.catalog.Lookup(tier)
	s.delivery = DeliveryWholeFile
	s.levels = nil
	return s.loadFile(v, at, resume)
}

func (s session) loadFile(v quality.Variant, at float64, resume bool) (session, []command) {
	s.tier = v.Tier
	s.bitrateBps = v.NominalBitrateBps()
	s.restore = &restorePoint{position: at, resume: resume}
	s.position = at
	return s, []command{cmdLoadSource{path: v.FilePath}}
}

func (s session) metadataLoaded(ev MetadataLoaded) (session, []command) {
	if s.state == StateIdle || s.state == StateErrored {
		return s, nil
	}
	if ev.Duration > 0 {
		s.duration = ev.Duration
	}
	r := s.restore
	s.restore = nil
	if r == nil {
		if s.state == StateLoading {
			s.state = StateReady
		}
		return s, nil
	}
	var cmds []command
	if r.position > 0 {
		s.position = r.position
		cmds = append(cmds, cmdSeek{position: r.position})
	}
	switch {
	case r.resume:
		s.state = StatePlaying
		s.autoplay = false
		cmds = append(cmds, cmdPlay{})
	case s.state == StateLoading:
		s.state = StateReady
	}
	return s, cmds
}

func (s session) timeUpdate(t float64, e env) session {
	// While a source change is pending the playhead is held at the restore
	// point; the new source reports from zero until the seek lands.
	if !s.settled() || s.restore != nil {
		return s
	}
	s.position = t
	if (s.netRetries > 0 || s.mediaRetries > 0) && t >= s.recoveryAt+e.recoveryGrace {
		s.netRetries, s.mediaRetries = 0, 0
	}
	return s
}

func (s session) bufferProgress(ev BufferProgress, e env) session {
	if !s.settled() || s.restore != nil {
		return s
	}
	s = s.timeUpdate(ev.CurrentTime, e)
	health := ev.BufferedEnd - ev.CurrentTime
	if health < 0 {
		health = 0
	}
	s.bufferHealth = health
	// A track buffered through to its end is never starving.
	fullyBuffered := s.duration > 0 && ev.BufferedEnd >= s.duration
	s.buffering = health < e.lowBufferSeconds && !fullyBuffered
	return s
}

func (s session) play() (session, []command) {
	switch s.state {
	case StateLoading:
		s.autoplay = true
		s.setResume(true)
		return s, nil
	case StateReady, StatePaused:
		s.clearBlocked()
		s.state = StatePlaying
		s.setResume(true)
		return s, []command{cmdPlay{}}
	case StateEnded:
		s.position = 0
		s.state = StatePlaying
		return s, []command{cmdSeek{position: 0}, cmdPlay{}}
	}
	return s, nil
}

func (s session) pause() (session, []command) {
	switch s.state {
	case StateLoading:
		s.autoplay = false
		s.setResume(false)
		return s, nil
	case StatePlaying:
		s.state = StatePaused
		s.setResume(false)
		return s, []command{cmdPause{}}
	}
	return s, nil
}

// setResume updates a pending restore without aliasing the previous session.
func (s *session) setResume(resume bool) {
	if s.restore == nil {
		return
	}
	r := *s.restore
	r.resume = resume
	s.restore = &r
}

func (s session) blocked(ev PlayBlocked) session {
	if s.state != StatePlaying {
		return s
	}
	s.err = &SessionError{Kind: KindPlaybackBlocked, Message: msgBlocked, Err: ev.Err}
	s.autoplay = false
	if s.position > 0 {
		s.state = StatePaused
	} else {
		s.state = StateReady
	}
	return s
}

func (s *session) clearBlocked() {
	if s.err != nil && s.err.Kind == KindPlaybackBlocked {
		s.err = nil
	}
}

func (s session) selectTier(ev TierSelected, e env) (session, []command) {
	if !ev.Tier.Valid() {
		return s, nil
	}
	if !s.settled() {
		// Before the catalog is known the pin is a preference only.
		if s.state == StateIdle || s.state == StateLoading || s.state == StateEnded {
			s.pinned = ev.Tier
			s.adaptive = false
		}
		return s, nil
	}
	v, ok := s.catalog.Lookup(ev.Tier)
	if !ok {
		return s, nil
	}
	s.pinned = ev.Tier
	s.adaptive = false
	resume := s.state == StatePlaying
	at := s.switchPoint(ev.Playhead)

	if s.delivery == DeliverySegmented {
		if idx := levelIndex(s.levels, ev.Tier); idx >= 0 {
			s.tier = s.levels[idx].Tier
			s.bitrateBps = s.levels[idx].BitrateBps
			s.lastSwitch = ev.At
			return s, []command{cmdSetLevel{index: idx}}
		}
		if v.FilePath == "" {
			return s, nil
		}
		s.delivery = DeliveryWholeFile
		s.levels = nil
		s.lastSwitch = ev.At
		next, cmds := s.loadFile(v, at, resume)
		return next, append([]command{cmdStopAdaptive{}}, cmds...)
	}

	if ev.Tier == s.tier {
		return s, nil
	}
	if v.FilePath == "" {
		if !e.segmentedSupported || !v.Segmented() {
			return s, nil
		}
		s.lastSwitch = ev.At
		return s.deliver(e, at, resume)
	}
	s.lastSwitch = ev.At
	return s.loadFile(v, at, resume)
}

func (s session) selectAuto(ev AutoSelected, e env) (session, []command) {
	s.pinned = ""
	s.adaptive = true
	if !s.settled() {
		return s, nil
	}
	switch {
	case s.delivery == DeliverySegmented:
		return s, []command{cmdSetLevel{index: AutoLevel}}
	case e.segmentedSupported && len(s.catalog.SegmentedVariants()) > 0:
		return s.deliver(e, s.switchPoint(ev.Playhead), s.state == StatePlaying)
	}
	return s, nil
}

// switchPoint is where a source change resumes. While an earlier change is
// still loading, the sink reports the new source's position, so the pending
// restore point is kept instead.
func (s session) switchPoint(playhead float64) float64 {
	if s.restore != nil {
		return s.restore.position
	}
	return playhead
}

func (s session) bandwidth(ev BandwidthEstimated, e env) (session, []command) {
	if ev.Bps > 0 {
		s.estimate = ev.Bps
	}
	// Segmented delivery leaves level choice to the engine.
	if !s.adaptive || s.delivery != DeliveryWholeFile || !s.settled() || s.restore != nil {
		return s, nil
	}
	next := e.hysteresis.Next(s.tier, s.lastSwitch, ev.At, s.estimate, s.catalog.FileTiers())
	if next == s.tier || !next.Valid() {
		return s, nil
	}
	v, ok := s.catalog.Lookup(next)
	if !ok {
		return s, nil
	}
	s.lastSwitch = ev.At
	return s.loadFile(v, ev.Playhead, s.state == StatePlaying)
}

func (s session) failure(ev MediaFailure, e env) (session, []command) {
	if !ev.Fatal || s.state == StateIdle || s.state == StateErrored || s.state == StateEnded {
		return s, nil
	}
	switch ev.Kind {
	case FailureAborted:
		return s, nil
	case FailureUnsupported:
		return s.fail(KindMedia, msgUnsupported, ev.Err)
	case FailureDecode:
		if s.mediaRetries >= 1 {
			return s.fail(KindMedia, msgUnsupported, ev.Err)
		}
		s.mediaRetries++
		s.recoveryAt = s.position
		if s.delivery == DeliverySegmented {
			return s, []command{cmdEngineRecover{}}
		}
		return s.reload()
	default:
		if s.netRetries >= 1 {
			return s.fail(KindTransport, msgTransport, ev.Err)
		}
		s.netRetries++
		s.recoveryAt = s.position
		if s.delivery == DeliverySegmented {
			return s, []command{cmdEngineStartLoad{position: s.position}}
		}
		return s.reload()
	}
}

// reload re-requests the current whole-file source at the playhead.
func (s session) reload() (session, []command) {
	v, ok := s.catalog.Lookup(s.tier)
	if !ok || v.FilePath == "" {
		return s.fail(KindSourceMissing, "no playable source for track "+s.track.ID, nil)
	}
	resume := s.state == StatePlaying || (s.state == StateLoading && s.autoplay)
	if s.restore != nil {
		resume = s.restore.resume
	}
	return s.loadFile(v, s.position, resume)
}

func (s session) fail(kind ErrorKind, msg string, err error) (session, []command) {
	var cmds []command
	if s.delivery == DeliverySegmented {
		cmds = append(cmds, cmdStopAdaptive{})
	}
	s.state = StateErrored
	s.err = &SessionError{Kind: kind, Message: msg, Err: err}
	s.restore = nil
	s.buffering = false
	return s, cmds
}

func levelsFrom(vs []quality.Variant) []Level {
	out := make([]Level, 0, len(vs))
	for _, v := range vs {
		out = append(out, Level{Tier: v.Tier, BitrateBps: v.NominalBitrateBps(), URI: v.SegmentPlaylistPath})
	}
	return out
}

func levelIndex(levels []Level, t quality.Tier) int {
	for i, l := range levels {
		if l.Tier == t {
			return i
		}
	}
	return -1
}

func tiersOf(levels []Level) []quality.Tier {
	out := make([]quality.Tier, len(levels))
	for i, l := range levels {
		out[i] = l.Tier
	}
	return out
}

func hasTier(vs []quality.Variant, t quality.Tier) bool {
	for _, v := range vs {
		if v.Tier == t {
			return true
		}
	}
	return false
}
