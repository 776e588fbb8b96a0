package media

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPCMFormatMapping(t *testing.T) {
	assert.Equal(t, "pcm_s16le", S16LE.Codec())
	assert.Equal(t, "s16le", S16LE.FormatName())
	assert.Equal(t, 2, S16LE.BytesPerSample())

	assert.Equal(t, "pcm_f32le", F32LE.Codec())
	assert.Equal(t, "f32le", F32LE.FormatName())
	assert.Equal(t, 4, F32LE.BytesPerSample())
}

func TestFormatBitrate(t *testing.T) {
	assert.Equal(t, "", FormatBitrate(0))
	assert.Equal(t, "500 bps", FormatBitrate(500))
	assert.Equal(t, "320 kbps", FormatBitrate(320000))
	assert.Equal(t, "1 Mbps", FormatBitrate(1411000))
}

func TestIsStreamingDuration(t *testing.T) {
	assert.True(t, IsStreamingDuration(0))
	assert.True(t, IsStreamingDuration(-1))
	assert.True(t, IsStreamingDuration(86401))

	assert.False(t, IsStreamingDuration(180))
	assert.False(t, IsStreamingDuration(86400))
}

func TestDownloaderFilePathAndSize(t *testing.T) {
	dir := t.TempDir()
	d := NewDownloader(DownloaderConfig{CacheDir: dir, CacheFilename: "dev1_airplay_cache"}, "")

	want := filepath.Join(dir, "dev1_airplay_cache.mkv")
	assert.Equal(t, want, d.FilePath())
	assert.EqualValues(t, 0, d.FileSize())

	require.NoError(t, os.WriteFile(want, make([]byte, 2048), 0o644))
	assert.EqualValues(t, 2048, d.FileSize())

	d.CleanupFile()
	assert.EqualValues(t, 0, d.FileSize())
}

func TestDecoderBytesPerFrame(t *testing.T) {
	d := NewDecoder(DecoderConfig{SampleRate: 48000, Channels: 2, Format: S16LE}, "")
	assert.Equal(t, 4, d.BytesPerFrame())

	d = NewDecoder(DecoderConfig{SampleRate: 48000, Channels: 2, Format: F32LE}, "")
	assert.Equal(t, 8, d.BytesPerFrame())
}

func TestSwapToBigEndian(t *testing.T) {
	buf := []byte{0x01, 0x02, 0x03, 0x04}
	swapToBigEndian(buf)
	assert.Equal(t, []byte{0x02, 0x01, 0x04, 0x03}, buf)
}
