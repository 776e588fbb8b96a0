package upnp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDIDLStandardForm(t *testing.T) {
	meta := parseDIDL(`<DIDL-Lite xmlns:dc="http://purl.org/dc/elements/1.1/">
		<item>
			<dc:title>Night Drive</dc:title>
			<upnp:artist role="Performer">Some Band</upnp:artist>
			<upnp:album>City Lights</upnp:album>
			<upnp:albumArtURI>http://img.local/cover.jpg</upnp:albumArtURI>
			<res duration="00:03:20">http://media.local/a.mp3</res>
		</item>
	</DIDL-Lite>`)

	assert.Equal(t, "Night Drive", meta.Title)
	assert.Equal(t, "Some Band", meta.Artist)
	assert.Equal(t, "City Lights", meta.Album)
	assert.Equal(t, "http://img.local/cover.jpg", meta.CoverURL)
	assert.InDelta(t, 200.0, meta.Duration, 0.001)
}

func TestParseDIDLCDATAForm(t *testing.T) {
	meta := parseDIDL(`<item>
		<dc:title><![CDATA[Night Drive]]></dc:title>
		<upnp:artist><![CDATA[Some Band]]></upnp:artist>
		<upnp:album><![CDATA[City Lights]]></upnp:album>
	</item>`)

	assert.Equal(t, "Night Drive", meta.Title)
	assert.Equal(t, "Some Band", meta.Artist)
	assert.Equal(t, "City Lights", meta.Album)
}

func TestParseDIDLCreatorFallback(t *testing.T) {
	meta := parseDIDL(`<item><dc:title>Song</dc:title><dc:creator>Writer</dc:creator></item>`)
	assert.Equal(t, "Writer", meta.Artist)
}

func TestParseDIDLDecodesEntities(t *testing.T) {
	meta := parseDIDL(`<item><dc:title>Rock &amp; Roll</dc:title></item>`)
	assert.Equal(t, "Rock & Roll", meta.Title)
}

func TestParseDIDLEmpty(t *testing.T) {
	meta := parseDIDL("")
	assert.Empty(t, meta.Title)
	assert.Zero(t, meta.Duration)
}

func TestParseSOAPAction(t *testing.T) {
	body := `<s:Envelope><s:Body><u:Play xmlns:u="urn:schemas-upnp-org:service:AVTransport:1"><InstanceID>0</InstanceID></u:Play></s:Body></s:Envelope>`
	assert.Equal(t, "Play", parseSOAPAction(body))
	assert.Equal(t, "", parseSOAPAction("not soap"))
}

func TestTransportActions(t *testing.T) {
	assert.Equal(t, "Pause,Stop,Seek", transportActions("PLAYING"))
	assert.Equal(t, "Play,Stop", transportActions("PAUSED_PLAYBACK"))
	assert.Equal(t, "Stop", transportActions("TRANSITIONING"))
	assert.Equal(t, "Play", transportActions("STOPPED"))
}
