// Package catalog resolves the quality renditions available for a track.
package catalog

import (
	"errors"
	"fmt"

	"tunestream/internal/quality"
)

// Track is the part of a track record the player needs: its id and the
// default audio file used when no rendition catalog is available.
type Track struct {
	ID        string `json:"id"`
	Title     string `json:"title,omitempty"`
	AudioPath string `json:"audio_path,omitempty"`
}

// Record is a rendition row as the backing store returns it. Numeric fields
// are nullable and tier/format are free text; ToVariant turns it into a
// validated quality.Variant.
type Record struct {
	TrackID             string
	Tier                string
	Format              string
	BitrateKbps         *int
	SampleRateHz        *int
	BitDepth            *int
	Channels            *int
	FilePath            string
	SegmentPlaylistPath string
}

var (
	// ErrTrackNotFound is returned when the store has no track with the given id.
	ErrTrackNotFound = errors.New("track not found")

	// ErrCatalogUnavailable is returned when the lookup failed or produced no
	// usable rendition.
	ErrCatalogUnavailable = errors.New("quality catalog unavailable")

	// ErrNoAudio is returned when neither a rendition nor a default audio file
	// exists for a track.
	ErrNoAudio = errors.New("track has no audio attached")

	errNoLocation = errors.New("rendition has neither file path nor segment playlist")
)

// ToVariant validates r and converts it.
func (r Record) ToVariant() (quality.Variant, error) {
	tier, err := quality.ParseTier(r.Tier)
	if err != nil {
		return quality.Variant{}, fmt.Errorf("%w: %w", quality.ErrInvalidVariant, err)
	}
	v := quality.Variant{
		TrackID:             r.TrackID,
		Tier:                tier,
		Format:              quality.Format(r.Format),
		BitrateKbps:         deref(r.BitrateKbps),
		SampleRateHz:        deref(r.SampleRateHz),
		BitDepth:            deref(r.BitDepth),
		Channels:            deref(r.Channels),
		FilePath:            r.FilePath,
		SegmentPlaylistPath: r.SegmentPlaylistPath,
	}
	if err := v.Validate(); err != nil {
		return quality.Variant{}, err
	}
	if v.FilePath == "" && v.SegmentPlaylistPath == "" {
		return quality.Variant{}, fmt.Errorf("%w: %w", quality.ErrInvalidVariant, errNoLocation)
	}
	return v, nil
}

// Fallback builds the single-tier catalog used when the rendition catalog is
// unavailable: the track's default audio file served whole as normal.
func Fallback(t Track) (quality.Catalog, error) {
	if t.AudioPath == "" {
		return quality.Catalog{}, ErrNoAudio
	}
	return quality.NewCatalog(t.ID, []quality.Variant{{
		TrackID:     t.ID,
		Tier:        quality.Normal,
		BitrateKbps: fallbackBitrateKbps,
		FilePath:    t.AudioPath,
	}})
}

// fallbackBitrateKbps is the nominal rate reported for a default audio file
// whose encoding is unknown.
const fallbackBitrateKbps = 128

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

// IntPtr is a helper for building Records.
func IntPtr(n int) *int { return &n }
