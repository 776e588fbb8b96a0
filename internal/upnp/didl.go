package upnp

import (
	"regexp"

	"github.com/unairplay/unairplay-go/internal/device"
	"github.com/unairplay/unairplay-go/internal/events"
)

// DIDL-Lite as actually sent by music apps. The standard shape is
// <tag>text</tag>; some controllers wrap values in CDATA, and some use
// dc:creator instead of upnp:artist.
var (
	didlTitleRe       = regexp.MustCompile(`<dc:title>([^<]+)</dc:title>`)
	didlTitleCDATARe  = regexp.MustCompile(`<dc:title><!\[CDATA\[([^\]]+)\]\]></dc:title>`)
	didlArtistRe      = regexp.MustCompile(`<upnp:artist[^>]*>([^<]+)</upnp:artist>`)
	didlArtistCDATARe = regexp.MustCompile(`<upnp:artist[^>]*><!\[CDATA\[([^\]]+)\]\]></upnp:artist>`)
	didlCreatorRe     = regexp.MustCompile(`<dc:creator>([^<]+)</dc:creator>`)
	didlAlbumRe       = regexp.MustCompile(`<upnp:album>([^<]+)</upnp:album>`)
	didlAlbumCDATARe  = regexp.MustCompile(`<upnp:album><!\[CDATA\[([^\]]+)\]\]></upnp:album>`)
	didlAlbumArtRe    = regexp.MustCompile(`<upnp:albumArtURI[^>]*>([^<]+)</upnp:albumArtURI>`)
	didlDurationRe    = regexp.MustCompile(`duration="([^"]+)"`)
)

// parseDIDL extracts track metadata from a CurrentURIMetaData document.
// Missing fields stay empty; an unparseable duration stays zero.
func parseDIDL(metadata string) events.Metadata {
	meta := events.Metadata{
		Title:    firstMatch(metadata, didlTitleRe, didlTitleCDATARe),
		Artist:   firstMatch(metadata, didlArtistRe, didlArtistCDATARe, didlCreatorRe),
		Album:    firstMatch(metadata, didlAlbumRe, didlAlbumCDATARe),
		CoverURL: firstMatch(metadata, didlAlbumArtRe),
	}
	if match := didlDurationRe.FindStringSubmatch(metadata); match != nil {
		if seconds, err := device.ParseTime(match[1]); err == nil {
			meta.Duration = seconds
		}
	}
	return meta
}

func firstMatch(s string, patterns ...*regexp.Regexp) string {
	for _, re := range patterns {
		if match := re.FindStringSubmatch(s); match != nil {
			return xmlUnescape(match[1])
		}
	}
	return ""
}
