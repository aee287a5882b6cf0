package hls

import (
	"fmt"
	"strings"
)

// Variant describes the single rendition a session exposes in its master
// playlist.
type Variant struct {
	MediaURI   string
	Bandwidth  int64
	Width      int
	Height     int
	VideoCodec string
	AudioCodec string
}

// RenderMaster renders the master playlist for one variant.
func RenderMaster(v Variant) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:7\n")

	attrs := []string{fmt.Sprintf("BANDWIDTH=%d", max(v.Bandwidth, 1))}
	if v.Width > 0 && v.Height > 0 {
		attrs = append(attrs, fmt.Sprintf("RESOLUTION=%dx%d", v.Width, v.Height))
	}
	if codecs := codecsAttr(v.VideoCodec, v.AudioCodec); codecs != "" {
		attrs = append(attrs, fmt.Sprintf("CODECS=%q", codecs))
	}
	fmt.Fprintf(&b, "#EXT-X-STREAM-INF:%s\n", strings.Join(attrs, ","))
	b.WriteString(v.MediaURI)
	b.WriteByte('\n')
	return b.String()
}

// codecsAttr maps codec names to the RFC 6381 tags players use for decoder
// selection. Unknown codecs are omitted rather than guessed.
func codecsAttr(video, audio string) string {
	var tags []string
	if tag := rfc6381Tag(video); tag != "" {
		tags = append(tags, tag)
	}
	if tag := rfc6381Tag(audio); tag != "" {
		tags = append(tags, tag)
	}
	return strings.Join(tags, ",")
}

func rfc6381Tag(name string) string {
	switch name {
	case "h264":
		return "avc1.640029"
	case "h265", "hevc":
		return "hvc1.1.6.L123.B0"
	case "av1":
		return "av01.0.08M.08"
	case "vp9":
		return "vp09.00.40.08"
	case "aac":
		return "mp4a.40.2"
	case "mp3":
		return "mp4a.40.34"
	case "ac3":
		return "ac-3"
	case "eac3":
		return "ec-3"
	case "opus":
		return "opus"
	default:
		return ""
	}
}
