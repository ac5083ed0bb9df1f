package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBadgeFor(t *testing.T) {
	lossy := BadgeFor(Variant{TrackID: "t", Tier: High, Format: FormatAAC, BitrateKbps: 320})
	assert.Equal(t, "High", lossy.Label)
	assert.Equal(t, "320 kbps AAC", lossy.Detail)
	assert.False(t, lossy.Lossless)

	hires := BadgeFor(Variant{TrackID: "t", Tier: HiRes, Format: FormatFLAC, SampleRateHz: 96_000, BitDepth: 24})
	assert.Equal(t, "Hi-Res", hires.Label)
	assert.Equal(t, "24-bit / 96 kHz FLAC", hires.Detail)
	assert.True(t, hires.Lossless)

	cd := BadgeFor(Variant{TrackID: "t", Tier: HiFi, SampleRateHz: 44_100, BitDepth: 16})
	assert.Equal(t, "16-bit / 44.1 kHz", cd.Detail)
}

func TestIndicator(t *testing.T) {
	assert.Equal(t, "HiFi (fixed)", Indicator(HiFi, false, 1_411_200))
	assert.Equal(t, "Auto · High · 320 kbps", Indicator(High, true, 320_000))
	assert.Equal(t, "Auto · Normal", Indicator(Normal, true, 0))
}
