package quality

import "time"

// Threshold is the minimum bandwidth at which a tier may be requested.
type Threshold struct {
	Tier   Tier
	MinBps float64
}

// RequestThresholds are evaluated high to low; the first match wins. The
// normal floor is always treated as satisfied.
var RequestThresholds = []Threshold{
	{Tier: HiRes, MinBps: 5_000_000},
	{Tier: HiFi, MinBps: 2_000_000},
	{Tier: High, MinBps: 500_000},
	{Tier: Normal, MinBps: 200_000},
}

// SelectTier returns the highest tier in available whose threshold is met by
// bandwidthBps. When nothing above the floor qualifies it returns normal if
// available, otherwise the lowest available tier. An empty set yields normal.
func SelectTier(bandwidthBps float64, available []Tier) Tier {
	for _, th := range RequestThresholds {
		if th.Tier == Normal {
			break
		}
		if bandwidthBps >= th.MinBps && contains(available, th.Tier) {
			return th.Tier
		}
	}
	if contains(available, Normal) {
		return Normal
	}
	if t := lowest(available); t != "" {
		return t
	}
	return Normal
}

// Level classification thresholds for renditions an adaptive engine reports.
// These classify bitrates that are already encoded and are lower than the
// request thresholds on purpose.
const (
	levelHiResBps = 1_400_000
	levelHiFiBps  = 800_000
	levelHighBps  = 300_000
)

// ClassifyLevelBitrate maps the bitrate of an adaptive-engine level to a tier.
func ClassifyLevelBitrate(bps int64) Tier {
	switch {
	case bps >= levelHiResBps:
		return HiRes
	case bps >= levelHiFiBps:
		return HiFi
	case bps >= levelHighBps:
		return High
	default:
		return Normal
	}
}

const (
	DefaultUpgradeMargin = 0.15
	DefaultMinDwell      = 8 * time.Second
)

// Hysteresis damps tier flapping around a threshold. Downgrades take effect
// at once; upgrades need headroom above the threshold and a minimum time on
// the current tier.
type Hysteresis struct {
	// UpgradeMargin is the fraction by which the estimate must clear the
	// next tier's threshold before an upgrade.
	UpgradeMargin float64
	// MinDwell is the minimum time since the previous switch before an
	// upgrade.
	MinDwell time.Duration
}

// DefaultHysteresis returns the damping used when none is configured.
func DefaultHysteresis() Hysteresis {
	return Hysteresis{UpgradeMargin: DefaultUpgradeMargin, MinDwell: DefaultMinDwell}
}

// Next returns the tier to use after a bandwidth sample. lastSwitch is the
// time of the previous switch; the zero time means there was none.
func (h Hysteresis) Next(current Tier, lastSwitch, now time.Time, bandwidthBps float64, available []Tier) Tier {
	target := SelectTier(bandwidthBps, available)
	if !current.Valid() || !contains(available, current) || target.Rank() <= current.Rank() {
		return target
	}
	if !lastSwitch.IsZero() && now.Sub(lastSwitch) < h.MinDwell {
		return current
	}
	margin := h.UpgradeMargin
	if margin < 0 {
		margin = 0
	}
	damped := SelectTier(bandwidthBps/(1+margin), available)
	if damped.Rank() <= current.Rank() {
		return current
	}
	return damped
}
