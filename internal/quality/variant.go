package quality

import (
	"errors"
	"fmt"
	"sort"
)

// Format is the codec family of an encoded rendition. It is informational:
// the policy never looks at it.
type Format string

const (
	FormatAAC  Format = "aac"
	FormatMP3  Format = "mp3"
	FormatOpus Format = "opus"
	FormatFLAC Format = "flac"
	FormatALAC Format = "alac"
	FormatWAV  Format = "wav"
)

// Lossless reports whether f is a lossless codec family.
func (f Format) Lossless() bool {
	switch f {
	case FormatFLAC, FormatALAC, FormatWAV:
		return true
	}
	return false
}

const defaultChannels = 2

// Variant is one encoded rendition of a track.
type Variant struct {
	TrackID string `json:"track_id"`
	Tier    Tier   `json:"tier"`
	Format  Format `json:"format"`

	// BitrateKbps is zero when absent, which marks a lossless rendition whose
	// rate is derived from sample rate, bit depth and channel count.
	BitrateKbps  int `json:"bitrate_kbps,omitempty"`
	SampleRateHz int `json:"sample_rate_hz,omitempty"`
	BitDepth     int `json:"bit_depth,omitempty"`
	Channels     int `json:"channels,omitempty"`

	FilePath            string `json:"file_path,omitempty"`
	SegmentPlaylistPath string `json:"segment_playlist_path,omitempty"`
}

// Lossless reports whether the variant has no nominal bitrate.
func (v Variant) Lossless() bool { return v.BitrateKbps == 0 }

// Segmented reports whether the variant can be delivered as segments.
func (v Variant) Segmented() bool { return v.SegmentPlaylistPath != "" }

// NominalBitrateBps returns the advertised bitrate of the rendition in bits
// per second.
func (v Variant) NominalBitrateBps() int64 {
	if v.BitrateKbps > 0 {
		return int64(v.BitrateKbps) * 1000
	}
	ch := v.Channels
	if ch <= 0 {
		ch = defaultChannels
	}
	return int64(v.SampleRateHz) * int64(v.BitDepth) * int64(ch)
}

var (
	ErrInvalidVariant = errors.New("invalid quality variant")
	ErrDuplicateTier  = errors.New("duplicate tier in catalog")
	ErrTrackMismatch  = errors.New("variant belongs to another track")
)

// Validate checks the fields the policy and controller depend on.
func (v Variant) Validate() error {
	switch {
	case v.TrackID == "":
		return fmt.Errorf("%w: empty track id", ErrInvalidVariant)
	case !v.Tier.Valid():
		return fmt.Errorf("%w: %w %q", ErrInvalidVariant, ErrUnknownTier, v.Tier)
	case v.BitrateKbps < 0 || v.SampleRateHz < 0 || v.BitDepth < 0 || v.Channels < 0:
		return fmt.Errorf("%w: negative numeric field on tier %s", ErrInvalidVariant, v.Tier)
	case v.Lossless() && (v.SampleRateHz == 0 || v.BitDepth == 0):
		return fmt.Errorf("%w: tier %s has neither bitrate nor sample rate and bit depth", ErrInvalidVariant, v.Tier)
	}
	return nil
}

// Catalog is the validated set of renditions for one track: at most one
// variant per tier, ordered from lowest to highest tier.
type Catalog struct {
	trackID  string
	variants []Variant
}

// NewCatalog validates variants and builds a Catalog for trackID.
func NewCatalog(trackID string, variants []Variant) (Catalog, error) {
	seen := make(map[Tier]bool, len(variants))
	out := make([]Variant, 0, len(variants))
	for _, v := range variants {
		if err := v.Validate(); err != nil {
			return Catalog{}, err
		}
		if v.TrackID != trackID {
			return Catalog{}, fmt.Errorf("%w: %s on catalog for %s", ErrTrackMismatch, v.TrackID, trackID)
		}
		if seen[v.Tier] {
			return Catalog{}, fmt.Errorf("%w: %s", ErrDuplicateTier, v.Tier)
		}
		seen[v.Tier] = true
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tier.Rank() < out[j].Tier.Rank() })
	return Catalog{trackID: trackID, variants: out}, nil
}

// TrackID returns the track the catalog describes.
func (c Catalog) TrackID() string { return c.trackID }

// Len returns the number of variants.
func (c Catalog) Len() int { return len(c.variants) }

// Variants returns a copy of the variants, lowest tier first.
func (c Catalog) Variants() []Variant {
	out := make([]Variant, len(c.variants))
	copy(out, c.variants)
	return out
}

// Lookup returns the variant for tier t.
func (c Catalog) Lookup(t Tier) (Variant, bool) {
	for _, v := range c.variants {
		if v.Tier == t {
			return v, true
		}
	}
	return Variant{}, false
}

// Tiers returns the tiers present in the catalog, lowest first.
func (c Catalog) Tiers() []Tier {
	return c.tiersWhere(func(Variant) bool { return true })
}

// FileTiers returns the tiers that have a whole-file rendition.
func (c Catalog) FileTiers() []Tier {
	return c.tiersWhere(func(v Variant) bool { return v.FilePath != "" })
}

// SegmentedVariants returns the variants carrying a segment manifest, lowest
// tier first.
func (c Catalog) SegmentedVariants() []Variant {
	var out []Variant
	for _, v := range c.variants {
		if v.Segmented() {
			out = append(out, v)
		}
	}
	return out
}

func (c Catalog) tiersWhere(keep func(Variant) bool) []Tier {
	var out []Tier
	for _, v := range c.variants {
		if keep(v) {
			out = append(out, v.Tier)
		}
	}
	return out
}
