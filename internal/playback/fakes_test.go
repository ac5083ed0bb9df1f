package playback

import (
	"context"
	"sync"
	"sync/atomic"

	"tunestream/internal/quality"
)

// fakeSink records what the controller asks of it. When duration is set,
// SetSource reports MetadataLoaded straight away.
type fakeSink struct {
	mu       sync.Mutex
	listener Listener
	token    int
	sources  []string
	seeks    []float64
	plays    int
	pauses   int
	current  float64
	playErr  error
	duration float64
}

func (f *fakeSink) SetSource(_ context.Context, url string) error {
	f.mu.Lock()
	f.sources = append(f.sources, url)
	f.current = 0
	l, d := f.listener, f.duration
	f.mu.Unlock()
	if l != nil && d > 0 {
		l(MetadataLoaded{Duration: d})
	}
	return nil
}

func (f *fakeSink) Play(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plays++
	return f.playErr
}

func (f *fakeSink) Pause(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauses++
	return nil
}

func (f *fakeSink) Seek(_ context.Context, seconds float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeks = append(f.seeks, seconds)
	f.current = seconds
	return nil
}

func (f *fakeSink) CurrentTime() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeSink) Buffered() []TimeRange { return nil }

func (f *fakeSink) Listen(l Listener) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token++
	tok := f.token
	f.listener = l
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.token == tok {
			f.listener = nil
		}
	}
}

// advance moves the playhead and reports it.
func (f *fakeSink) advance(t float64) {
	f.mu.Lock()
	f.current = t
	l := f.listener
	f.mu.Unlock()
	if l != nil {
		l(TimeUpdate{CurrentTime: t})
	}
}

func (f *fakeSink) emit(ev Event) {
	if l := f.currentListener(); l != nil {
		l(ev)
	}
}

func (f *fakeSink) currentListener() Listener {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listener
}

func (f *fakeSink) setPlayErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playErr = err
}

func (f *fakeSink) snapshot() (sources []string, seeks []float64, plays int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sources...), append([]float64(nil), f.seeks...), f.plays
}

// fakeEngine reports MetadataLoaded on Load and records level changes.
type fakeEngine struct {
	mu        sync.Mutex
	listener  Listener
	sink      MediaSink
	levels    []Level
	start     int
	setLevels []int
	destroyed bool
	duration  float64
}

func (e *fakeEngine) Attach(s MediaSink) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sink = s
	return nil
}

func (e *fakeEngine) Load(_ context.Context, levels []Level, start int, _ float64) error {
	e.mu.Lock()
	e.levels = levels
	e.start = start
	l := e.listener
	e.mu.Unlock()
	if l != nil {
		l(MetadataLoaded{Duration: e.duration})
	}
	return nil
}

func (e *fakeEngine) Levels() []Level {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.levels
}

func (e *fakeEngine) SetLevel(i int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setLevels = append(e.setLevels, i)
	return nil
}

func (e *fakeEngine) StartLoad(context.Context, float64) error { return nil }
func (e *fakeEngine) RecoverMedia(context.Context) error       { return nil }

func (e *fakeEngine) Listen(l Listener) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listener = l
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.listener = nil
	}
}

func (e *fakeEngine) Destroy() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.destroyed = true
	return nil
}

func (e *fakeEngine) emit(ev Event) {
	e.mu.Lock()
	l := e.listener
	e.mu.Unlock()
	if l != nil {
		l(ev)
	}
}

func (e *fakeEngine) isDestroyed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.destroyed
}

type catalogFunc func(ctx context.Context, trackID string) (quality.Catalog, error)

func (f catalogFunc) Resolve(ctx context.Context, trackID string) (quality.Catalog, error) {
	return f(ctx, trackID)
}

// cachingCatalog counts lookups and the entries it was told to drop.
type cachingCatalog struct {
	mu        sync.Mutex
	resolves  int
	forgotten []string
}

func (c *cachingCatalog) Resolve(_ context.Context, trackID string) (quality.Catalog, error) {
	c.mu.Lock()
	c.resolves++
	c.mu.Unlock()
	return quality.NewCatalog(trackID, []quality.Variant{normalFile, highFile})
}

func (c *cachingCatalog) Forget(trackID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forgotten = append(c.forgotten, trackID)
}

func (c *cachingCatalog) counts() (int, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolves, append([]string(nil), c.forgotten...)
}

type fakeMetrics struct {
	switches      atomic.Int64
	errors        sync.Map
	bufferingHits atomic.Int64
	stale         atomic.Int64
	bandwidth     atomic.Int64
}

func (m *fakeMetrics) IncTierSwitch(string) { m.switches.Add(1) }

func (m *fakeMetrics) IncSessionError(kind string) {
	v, _ := m.errors.LoadOrStore(kind, new(atomic.Int64))
	v.(*atomic.Int64).Add(1)
}

func (m *fakeMetrics) IncBufferingEvent()         { m.bufferingHits.Add(1) }
func (m *fakeMetrics) IncStaleEvent()             { m.stale.Add(1) }
func (m *fakeMetrics) ObserveBandwidth(float64)   { m.bandwidth.Add(1) }

func (m *fakeMetrics) errorCount(kind string) int64 {
	v, ok := m.errors.Load(kind)
	if !ok {
		return 0
	}
	return v.(*atomic.Int64).Load()
}
