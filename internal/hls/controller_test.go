package hls

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tunestream/internal/bandwidth"
	"tunestream/internal/catalog"
	"tunestream/internal/playback"
	"tunestream/internal/quality"
	"tunestream/internal/storage"
)

type staticCatalog []quality.Variant

func (c staticCatalog) Resolve(_ context.Context, trackID string) (quality.Catalog, error) {
	return quality.NewCatalog(trackID, c)
}

func TestEngine_driven_by_controller(t *testing.T) {
	verifyNoLeaks(t)
	o := newOrigin(t)

	urls, err := storage.NewStaticResolver(o.srv.URL + "/")
	require.NoError(t, err)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	// One estimator shared by the controller and every engine it builds, the
	// way the streaming service wires them.
	est := bandwidth.NewEstimator(bandwidth.Config{SeedBps: 100_000})
	sink := &appendSink{}
	c, err := playback.NewController(playback.Options{
		Sink: sink,
		Catalog: staticCatalog{
			{TrackID: "t1", Tier: quality.Normal, Format: quality.FormatAAC, BitrateKbps: 128, SegmentPlaylistPath: "normal/index.m3u8"},
			{TrackID: "t1", Tier: quality.HiFi, Format: quality.FormatFLAC, SampleRateHz: 44100, BitDepth: 16, Channels: 2, SegmentPlaylistPath: "high/index.m3u8"},
		},
		URLs: urls,
		Engines: Factory(EngineConfig{
			Client:          o.srv.Client(),
			Estimator:       est,
			BandwidthFactor: 1e-9,
			RetryInterval:   time.Millisecond,
			PollInterval:    5 * time.Millisecond,
			Logger:          log,
		}),
		Estimator: est,
		Logger:    log,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(2 * time.Second):
			t.Error("Run did not return after cancel")
		}
	})

	// Pinning before the bind forces the engine onto the lossless level.
	require.NoError(t, c.SelectTier(quality.HiFi))
	require.NoError(t, c.Bind(catalog.Track{ID: "t1"}, true))

	require.Eventually(t, func() bool { return len(sink.appended()) == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"high/seg0", "high/seg1", "high/seg2"}, sink.appended())

	require.Eventually(t, func() bool { return est.Samples() == 3 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		snap := c.Snapshot()
		return snap.State == playback.StatePlaying && snap.CurrentBitrateBps == 1_411_200
	}, 2*time.Second, 5*time.Millisecond)

	snap := c.Snapshot()
	assert.Equal(t, playback.DeliverySegmented, snap.Delivery)
	assert.Equal(t, quality.HiRes, snap.CurrentTier, "level bitrate decides the reported tier")
	assert.False(t, snap.IsAdaptive)
	assert.Equal(t, 3, est.Samples(), "one sample per loaded segment")
}
