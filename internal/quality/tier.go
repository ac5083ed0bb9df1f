// Package quality holds the audio quality tiers of a track, the catalog of
// encoded renditions, and the policy that picks a tier for a given bandwidth.
package quality

import (
	"errors"
	"fmt"
	"strings"
)

// Tier is a named quality level. Tiers are totally ordered:
// normal < high < hifi < hires.
type Tier string

const (
	Normal Tier = "normal"
	High   Tier = "high"
	HiFi   Tier = "hifi"
	HiRes  Tier = "hires"
)

// Ordered lists every tier from lowest to highest.
var Ordered = []Tier{Normal, High, HiFi, HiRes}

// ErrUnknownTier is returned when a tier name is not one of the known tiers.
var ErrUnknownTier = errors.New("unknown quality tier")

// ParseTier converts a tier name to a Tier. Matching is case-insensitive and
// ignores surrounding whitespace.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, s)
	}
	return t, nil
}

// Rank returns the position of t in Ordered, or -1 for an unknown tier.
func (t Tier) Rank() int {
	switch t {
	case Normal:
		return 0
	case High:
		return 1
	case HiFi:
		return 2
	case HiRes:
		return 3
	default:
		return -1
	}
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool { return t.Rank() >= 0 }

func (t Tier) String() string { return string(t) }

// lowest returns the lowest-ranked valid tier in tiers, or "" if none.
func lowest(tiers []Tier) Tier {
	var out Tier
	for _, t := range tiers {
		if !t.Valid() {
			continue
		}
		if out == "" || t.Rank() < out.Rank() {
			out = t
		}
	}
	return out
}

func contains(tiers []Tier, t Tier) bool {
	for _, x := range tiers {
		if x == t {
			return true
		}
	}
	return false
}

// NearestAtOrBelow returns want if it is in available, otherwise the highest
// available tier ranked below want, otherwise the lowest available tier.
// It returns "" when available holds no valid tier.
func NearestAtOrBelow(want Tier, available []Tier) Tier {
	if contains(available, want) {
		return want
	}
	var best Tier
	for _, t := range available {
		if !t.Valid() || t.Rank() > want.Rank() {
			continue
		}
		if best == "" || t.Rank() > best.Rank() {
			best = t
		}
	}
	if best != "" {
		return best
	}
	return lowest(available)
}
