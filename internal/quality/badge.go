package quality

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// Badge is the display form of a variant used by quality pickers.
type Badge struct {
	Tier     Tier   `json:"tier"`
	Label    string `json:"label"`
	Detail   string `json:"detail"`
	Lossless bool   `json:"lossless"`
}

var tierLabels = map[Tier]string{
	Normal: "Normal",
	High:   "High",
	HiFi:   "HiFi",
	HiRes:  "Hi-Res",
}

// Label returns the human name of a tier.
func (t Tier) Label() string {
	if l, ok := tierLabels[t]; ok {
		return l
	}
	return string(t)
}

// BadgeFor renders v. Lossless renditions show bit depth and sample rate,
// lossy ones show their bitrate; both are followed by the codec family.
func BadgeFor(v Variant) Badge {
	b := Badge{Tier: v.Tier, Label: v.Tier.Label(), Lossless: v.Lossless()}
	var parts []string
	if v.Lossless() {
		parts = append(parts, fmt.Sprintf("%d-bit / %s", v.BitDepth, humanize.SI(float64(v.SampleRateHz), "Hz")))
	} else {
		parts = append(parts, FormatBitrate(v.NominalBitrateBps()))
	}
	if v.Format != "" {
		parts = append(parts, strings.ToUpper(string(v.Format)))
	}
	b.Detail = strings.Join(parts, " ")
	return b
}

// FormatBitrate renders a bitrate with an SI prefix, e.g. "320 kbps".
func FormatBitrate(bps int64) string {
	if bps <= 0 {
		return "0 bps"
	}
	return humanize.SIWithDigits(float64(bps), 1, "bps")
}

// Indicator is the short status line shown next to the player, e.g.
// "Auto · HiFi · 1.4 Mbps" or "High (fixed)".
func Indicator(current Tier, adaptive bool, bitrateBps int64) string {
	label := current.Label()
	if current == "" {
		label = "…"
	}
	if !adaptive {
		return label + " (fixed)"
	}
	if bitrateBps <= 0 {
		return "Auto · " + label
	}
	return "Auto · " + label + " · " + FormatBitrate(bitrateBps)
}
