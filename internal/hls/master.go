package hls

import (
	"fmt"
	"strings"
)

// VariantStream is one #EXT-X-STREAM-INF entry of a master playlist.
type VariantStream struct {
	BandwidthBps int64
	Codecs       string
	Name         string
	URI          string
}

// BuildMasterPlaylist lists the variant streams of a track, in the order
// given.
func BuildMasterPlaylist(variants []VariantStream) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	b.WriteString("#EXT-X-INDEPENDENT-SEGMENTS\n")
	for _, v := range variants {
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d", v.BandwidthBps)
		if v.Codecs != "" {
			fmt.Fprintf(&b, ",CODECS=%q", v.Codecs)
		}
		if v.Name != "" {
			fmt.Fprintf(&b, ",NAME=%q", v.Name)
		}
		b.WriteString("\n")
		b.WriteString(v.URI)
		b.WriteString("\n")
	}
	return b.String()
}

// CodecsFor maps a rendition format to the RFC 6381 codec string players
// expect in CODECS. Unknown formats yield "".
func CodecsFor(format string) string {
	switch strings.ToLower(format) {
	case "aac":
		return "mp4a.40.2"
	case "mp3":
		return "mp4a.40.34"
	case "opus":
		return "opus"
	case "flac":
		return "fLaC"
	case "alac":
		return "alac"
	}
	return ""
}
