package media

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/unairplay/unairplay-go/internal/dsp"
)

const (
	// minCacheBytes is how much of the cache must exist before decode
	// starts. Below this ffmpeg tends to misparse a half-written header.
	minCacheBytes = 100 * 1024
	cacheWaitMax  = 30 * time.Second
)

// SourceConfig wires a Source to its track and device context.
type SourceConfig struct {
	URL          string
	SeekPosition float64
	SampleRate   int
	Channels     int
	Duration     float64 // seconds, 0 = unknown
	CacheDir     string
	CacheName    string // e.g. "<device-id>_airplay_cache"

	Enhancer   *dsp.Enhancer
	DSPEnabled func() bool // live flag; nil means no DSP
	// OnFirstFrame fires once when the first PCM block leaves the decoder,
	// which is the moment audio actually starts flowing to the sink.
	OnFirstFrame func()
}

// Source is the pull-model PCM source handed to the AirPlay client. It lazily
// starts the download on the first read, waits for the cache warm-up, decodes
// S16LE, runs the DSP chain and returns big-endian samples (the AirPlay
// client expects S16BE and this host is almost always little-endian).
type Source struct {
	cfg        SourceConfig
	downloader *Downloader
	decoder    *Decoder

	mu         sync.Mutex
	started    bool
	closed     bool
	eof        bool
	firstFrame bool
}

// NewSource creates a source for one playback. One source per Play call.
func NewSource(cfg SourceConfig) *Source {
	return &Source{
		cfg: cfg,
		downloader: NewDownloader(DownloaderConfig{
			CacheDir:      cfg.CacheDir,
			CacheFilename: cfg.CacheName,
		}, "AIRPLAY"),
	}
}

func (s *Source) SampleRate() int   { return s.cfg.SampleRate }
func (s *Source) Channels() int     { return s.cfg.Channels }
func (s *Source) SampleSize() int   { return 2 }
func (s *Source) Duration() float64 { return s.cfg.Duration }

// start launches the download, blocks for the cache warm-up, then starts the
// decoder against the cache file. The cache already begins at the seek
// offset, so the decoder itself never seeks.
func (s *Source) start() error {
	if err := s.downloader.Start(s.cfg.URL, s.cfg.SeekPosition); err != nil {
		return fmt.Errorf("start download: %w", err)
	}

	log.Printf("AIRPLAY: waiting for cache buffer (%dKB)", minCacheBytes/1024)
	deadline := time.Now().Add(cacheWaitMax)
	for {
		if size := s.downloader.FileSize(); size >= minCacheBytes || s.downloader.Completed() {
			log.Printf("AIRPLAY: cache buffer ready (%dKB)", size/1024)
			break
		}
		if err := s.downloader.Err(); err != nil {
			return fmt.Errorf("download failed: %w", err)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("cache buffer timeout after %s", cacheWaitMax)
		}
		time.Sleep(100 * time.Millisecond)
	}

	s.decoder = NewDecoder(DecoderConfig{
		SampleRate: s.cfg.SampleRate,
		Channels:   s.cfg.Channels,
		Format:     S16LE,
	}, "AIRPLAY")
	if err := s.decoder.Start(s.downloader.FilePath()); err != nil {
		return err
	}
	return nil
}

// ReadFrames returns up to nframes frames of big-endian S16 PCM. A nil slice
// with io.EOF signals the end of the stream.
func (s *Source) ReadFrames(nframes int) ([]byte, error) {
	s.mu.Lock()
	if s.closed || s.eof {
		s.mu.Unlock()
		return nil, io.EOF
	}
	if !s.started {
		s.started = true
		if err := s.start(); err != nil {
			s.eof = true
			s.mu.Unlock()
			log.Printf("AIRPLAY: source start failed: %v", err)
			return nil, io.EOF
		}
	}
	decoder := s.decoder
	s.mu.Unlock()

	bytesPerFrame := s.cfg.Channels * 2
	buf := make([]byte, nframes*bytesPerFrame)
	n, err := decoder.Read(buf)
	if n == 0 || err == io.EOF {
		s.mu.Lock()
		s.eof = true
		s.mu.Unlock()
		return nil, io.EOF
	}
	buf = buf[:n-n%bytesPerFrame]

	s.mu.Lock()
	fire := !s.firstFrame
	s.firstFrame = true
	s.mu.Unlock()
	if fire && s.cfg.OnFirstFrame != nil {
		s.cfg.OnFirstFrame()
	}

	if s.cfg.Enhancer != nil && s.cfg.DSPEnabled != nil && s.cfg.DSPEnabled() {
		s.applyDSP(buf)
	}

	swapToBigEndian(buf)
	return buf, nil
}

// applyDSP round-trips the block through the enhancer: S16LE to planar
// floats, process, back to S16LE in place.
func (s *Source) applyDSP(pcm []byte) {
	channels := s.cfg.Channels
	frames := len(pcm) / (channels * 2)
	planar := make([][]float64, channels)
	for ch := range planar {
		planar[ch] = make([]float64, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			raw := int16(binary.LittleEndian.Uint16(pcm[(i*channels+ch)*2:]))
			planar[ch][i] = float64(raw) / 32768
		}
	}

	s.cfg.Enhancer.Process(planar)

	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			v := planar[ch][i]
			if v > 1 {
				v = 1
			} else if v < -1 {
				v = -1
			}
			binary.LittleEndian.PutUint16(pcm[(i*channels+ch)*2:], uint16(int16(v*32767)))
		}
	}
}

// Close stops the decoder and download and removes the cache file.
func (s *Source) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	decoder := s.decoder
	s.mu.Unlock()

	if decoder != nil {
		decoder.Stop()
	}
	s.downloader.Cleanup()
}

func swapToBigEndian(pcm []byte) {
	for i := 0; i+1 < len(pcm); i += 2 {
		pcm[i], pcm[i+1] = pcm[i+1], pcm[i]
	}
}
