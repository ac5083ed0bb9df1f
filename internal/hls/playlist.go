// Package hls reads and writes the HLS playlists used for segmented audio
// delivery and provides an adaptive engine that loads them.
package hls

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Segment is one media segment of a playlist.
type Segment struct {
	Sequence int64   `json:"sequence"`
	Duration float64 `json:"duration"`
	URI      string  `json:"uri"`
}

// MediaPlaylist is a parsed media playlist.
type MediaPlaylist struct {
	TargetDuration int
	MediaSequence  int64
	Segments       []Segment
	Ended          bool
}

var ErrInvalidPlaylist = errors.New("invalid m3u8 playlist")

// TotalDuration is the sum of segment durations in seconds.
func (p MediaPlaylist) TotalDuration() float64 {
	total := 0.0
	for _, s := range p.Segments {
		total += s.Duration
	}
	return total
}

// SegmentAt returns the index and start time of the segment covering t.
// ok is false when t is at or past the end of the playlist.
func (p MediaPlaylist) SegmentAt(t float64) (idx int, start float64, ok bool) {
	const epsilon = 1e-6
	if t < 0 {
		t = 0
	}
	for i, s := range p.Segments {
		if t+epsilon < start+s.Duration {
			return i, start, true
		}
		start += s.Duration
	}
	return len(p.Segments), start, false
}

// BuildMediaPlaylist writes a VOD or live media playlist for segments,
// ordered by sequence ascending. If ended is true, #EXT-X-ENDLIST is appended.
// An empty segments slice produces a minimal valid playlist with media
// sequence 0.
func BuildMediaPlaylist(segments []Segment, ended bool) string {
	var b strings.Builder

	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")

	if len(segments) == 0 {
		b.WriteString("#EXT-X-TARGETDURATION:1\n")
		b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
		if ended {
			b.WriteString("#EXT-X-ENDLIST\n")
		}
		return b.String()
	}

	if ended {
		b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")
	}
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", targetDuration(segments))
	fmt.Fprintf(&b, "#EXT-X-MEDIA-SEQUENCE:%d\n\n", segments[0].Sequence)

	for _, seg := range segments {
		fmt.Fprintf(&b, "#EXTINF:%.3f,\n", seg.Duration)
		b.WriteString(seg.URI)
		b.WriteString("\n")
	}

	if ended {
		b.WriteString("#EXT-X-ENDLIST\n")
	}
	return b.String()
}

// targetDuration is the ceiling of the longest segment in whole seconds.
func targetDuration(segments []Segment) int {
	longest := 0.0
	for _, seg := range segments {
		longest = math.Max(longest, seg.Duration)
	}
	if longest <= 0 {
		return 1
	}
	return int(math.Ceil(longest))
}

// ParseMediaPlaylist reads a media playlist. Unknown tags are skipped.
func ParseMediaPlaylist(r io.Reader) (MediaPlaylist, error) {
	var (
		p        MediaPlaylist
		header   bool
		pending  = -1.0
		sequence int64
		lineNo   int
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !header {
			if line != "#EXTM3U" {
				return MediaPlaylist{}, fmt.Errorf("%w: missing #EXTM3U header", ErrInvalidPlaylist)
			}
			header = true
			continue
		}

		tag, value, _ := strings.Cut(line, ":")
		switch tag {
		case "#EXT-X-TARGETDURATION":
			n, err := strconv.Atoi(value)
			if err != nil {
				return MediaPlaylist{}, fmt.Errorf("%w: line %d: target duration %q", ErrInvalidPlaylist, lineNo, value)
			}
			p.TargetDuration = n
		case "#EXT-X-MEDIA-SEQUENCE":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return MediaPlaylist{}, fmt.Errorf("%w: line %d: media sequence %q", ErrInvalidPlaylist, lineNo, value)
			}
			p.MediaSequence = n
			sequence = n
		case "#EXTINF":
			durText, _, _ := strings.Cut(value, ",")
			d, err := strconv.ParseFloat(durText, 64)
			if err != nil || d < 0 {
				return MediaPlaylist{}, fmt.Errorf("%w: line %d: segment duration %q", ErrInvalidPlaylist, lineNo, durText)
			}
			pending = d
		case "#EXT-X-ENDLIST":
			p.Ended = true
		default:
			if strings.HasPrefix(line, "#") {
				continue
			}
			if pending < 0 {
				return MediaPlaylist{}, fmt.Errorf("%w: line %d: segment without #EXTINF", ErrInvalidPlaylist, lineNo)
			}
			p.Segments = append(p.Segments, Segment{Sequence: sequence, Duration: pending, URI: line})
			sequence++
			pending = -1
		}
	}
	if err := sc.Err(); err != nil {
		return MediaPlaylist{}, err
	}
	if !header {
		return MediaPlaylist{}, fmt.Errorf("%w: empty", ErrInvalidPlaylist)
	}
	return p, nil
}
