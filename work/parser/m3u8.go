package parser

import (
	"strings"

	"chanrelay/work/logger"

	"github.com/grafov/m3u8"
)

// PlaylistKind classifies an HLS manifest.
type PlaylistKind string

const (
	KindMaster  PlaylistKind = "master"
	KindMedia   PlaylistKind = "media"
	KindUnknown PlaylistKind = "unknown"
)

// PlaylistInfo summarizes a manifest for metrics and logging.
type PlaylistInfo struct {
	Kind      PlaylistKind
	Variants  int  // master playlists only
	Segments  int  // media playlists only
	Encrypted bool // media playlist carries at least one key
	Live      bool // media playlist without #EXT-X-ENDLIST
}

// Inspect decodes content with grafov/m3u8 and falls back to tag sniffing
// when the decoder rejects it. It never fails; unrecognized content is
// reported as KindUnknown.
func Inspect(content string) PlaylistInfo {
	playlist, listType, err := m3u8.DecodeFrom(strings.NewReader(content), false)
	if err == nil {
		switch listType {
		case m3u8.MASTER:
			if master, ok := playlist.(*m3u8.MasterPlaylist); ok {
				return PlaylistInfo{Kind: KindMaster, Variants: len(master.Variants)}
			}
		case m3u8.MEDIA:
			if media, ok := playlist.(*m3u8.MediaPlaylist); ok {
				return inspectMedia(media)
			}
		}
	}

	logger.Debug("{parser/m3u8 - Inspect} Decoder could not classify playlist, sniffing tags: %v", err)
	return sniff(content)
}

func inspectMedia(media *m3u8.MediaPlaylist) PlaylistInfo {
	info := PlaylistInfo{
		Kind:      KindMedia,
		Segments:  int(media.Count()),
		Live:      !media.Closed,
		Encrypted: media.Key != nil,
	}
	for _, seg := range media.Segments {
		if seg == nil {
			break
		}
		if seg.Key != nil {
			info.Encrypted = true
			break
		}
	}
	return info
}

// sniff classifies by tags alone.
func sniff(content string) PlaylistInfo {
	switch {
	case strings.Contains(content, "#EXT-X-STREAM-INF"):
		return PlaylistInfo{
			Kind:     KindMaster,
			Variants: strings.Count(content, "#EXT-X-STREAM-INF"),
		}
	case strings.Contains(content, "#EXTINF") || strings.Contains(content, "#EXT-X-TARGETDURATION"):
		return PlaylistInfo{
			Kind:      KindMedia,
			Segments:  strings.Count(content, "#EXTINF"),
			Encrypted: strings.Contains(content, "#EXT-X-KEY"),
			Live:      !strings.Contains(content, "#EXT-X-ENDLIST"),
		}
	default:
		return PlaylistInfo{Kind: KindUnknown}
	}
}
