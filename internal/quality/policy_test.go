package quality

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSelectTier_thresholds(t *testing.T) {
	all := Ordered
	cases := []struct {
		bps  float64
		want Tier
	}{
		{0, Normal},
		{199_999, Normal},
		{200_000, Normal},
		{499_999, Normal},
		{500_000, High},
		{1_999_999, High},
		{2_000_000, HiFi},
		{4_999_999, HiFi},
		{5_000_000, HiRes},
		{50_000_000, HiRes},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, SelectTier(tc.bps, all), "bps=%v", tc.bps)
	}
}

func TestSelectTier_monotonic_and_member(t *testing.T) {
	sets := [][]Tier{
		Ordered,
		{Normal, High},
		{High, HiFi},
		{HiRes},
		{Normal, HiRes},
		{HiFi, Normal},
	}
	for _, set := range sets {
		prev := -1
		for bps := 0.0; bps <= 8_000_000; bps += 25_000 {
			got := SelectTier(bps, set)
			assert.Contains(t, set, got, "set=%v bps=%v", set, bps)
			assert.GreaterOrEqual(t, got.Rank(), prev, "set=%v bps=%v regressed", set, bps)
			prev = got.Rank()
		}
	}
}

func TestSelectTier_zero_bandwidth(t *testing.T) {
	assert.Equal(t, Normal, SelectTier(0, []Tier{HiRes, Normal}))
	assert.Equal(t, High, SelectTier(0, []Tier{HiRes, High, HiFi}))
	assert.Equal(t, Normal, SelectTier(0, nil))
}

func TestSelectTier_unavailable_upper_tiers(t *testing.T) {
	assert.Equal(t, High, SelectTier(10_000_000, []Tier{Normal, High}))
}

func TestClassifyLevelBitrate(t *testing.T) {
	assert.Equal(t, Normal, ClassifyLevelBitrate(128_000))
	assert.Equal(t, High, ClassifyLevelBitrate(300_000))
	assert.Equal(t, High, ClassifyLevelBitrate(320_000))
	assert.Equal(t, HiFi, ClassifyLevelBitrate(800_000))
	assert.Equal(t, HiRes, ClassifyLevelBitrate(1_411_200))
}

func TestHysteresis_Next(t *testing.T) {
	h := Hysteresis{UpgradeMargin: 0.2, MinDwell: 10 * time.Second}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	all := Ordered

	t.Run("downgrade_is_immediate", func(t *testing.T) {
		got := h.Next(HiFi, base, base.Add(time.Second), 300_000, all)
		assert.Equal(t, Normal, got)
	})

	t.Run("upgrade_needs_margin", func(t *testing.T) {
		// 550k clears high's 500k but not 500k*1.2.
		got := h.Next(Normal, time.Time{}, base, 550_000, all)
		assert.Equal(t, Normal, got)
		got = h.Next(Normal, time.Time{}, base, 650_000, all)
		assert.Equal(t, High, got)
	})

	t.Run("upgrade_waits_for_dwell", func(t *testing.T) {
		got := h.Next(Normal, base, base.Add(5*time.Second), 3_000_000, all)
		assert.Equal(t, Normal, got)
		got = h.Next(Normal, base, base.Add(11*time.Second), 3_000_000, all)
		assert.Equal(t, HiFi, got)
	})

	t.Run("flapping_estimate_switches_once", func(t *testing.T) {
		cur := High
		last := base
		now := base
		switches := 0
		for i := 0; i < 20; i++ {
			now = now.Add(time.Second)
			bps := 480_000.0
			if i%2 == 1 {
				bps = 560_000
			}
			next := h.Next(cur, last, now, bps, all)
			if next != cur {
				switches++
				last = now
			}
			cur = next
		}
		assert.Equal(t, 1, switches)
		assert.Equal(t, Normal, cur)
	})

	t.Run("current_missing_from_set", func(t *testing.T) {
		got := h.Next(HiRes, base, base, 600_000, []Tier{Normal, High})
		assert.Equal(t, High, got)
	})
}

func TestNearestAtOrBelow(t *testing.T) {
	assert.Equal(t, HiFi, NearestAtOrBelow(HiFi, Ordered))
	assert.Equal(t, High, NearestAtOrBelow(HiRes, []Tier{Normal, High}))
	assert.Equal(t, HiFi, NearestAtOrBelow(Normal, []Tier{HiFi, HiRes}))
	assert.Equal(t, Tier(""), NearestAtOrBelow(High, nil))
}
