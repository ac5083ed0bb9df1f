package bandwidth

import "strings"

// ConnectionInfo is the coarse network signal a client reports: an effective
// connection class and an optional downlink estimate.
type ConnectionInfo struct {
	EffectiveType string  `json:"effective_type,omitempty"`
	DownlinkMbps  float64 `json:"downlink_mbps,omitempty"`
}

// Representative rates per effective connection class. Each is the upper
// bound of its class except 4g, which is open-ended.
var classBps = map[string]float64{
	"slow-2g": 50_000,
	"2g":      70_000,
	"3g":      700_000,
	"4g":      4_000_000,
}

// RepresentativeBps maps the signal to a single rate. A positive downlink
// figure wins over the class.
func (c ConnectionInfo) RepresentativeBps() (float64, bool) {
	if c.DownlinkMbps > 0 {
		return c.DownlinkMbps * 1_000_000, true
	}
	bps, ok := classBps[strings.ToLower(strings.TrimSpace(c.EffectiveType))]
	return bps, ok
}
