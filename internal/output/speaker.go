package output

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"math"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/unairplay/unairplay-go/internal/dsp"
	"github.com/unairplay/unairplay-go/internal/media"
)

var paInit sync.Once

// HasOutputDevice reports whether the host exposes a usable audio output.
// Best effort; probe failures count as absent.
func HasOutputDevice() bool {
	var initErr error
	paInit.Do(func() { initErr = portaudio.Initialize() })
	if initErr != nil {
		return false
	}
	dev, err := portaudio.DefaultOutputDevice()
	return err == nil && dev != nil && dev.MaxOutputChannels > 0
}

// SpeakerConfig configures the host sound card output.
type SpeakerConfig struct {
	Name         string
	SampleRate   int
	Channels     int
	ChunkFrames  int // frames per pipeline chunk
	BufferChunks int // queue depth before drop-oldest

	CacheDir  string
	CacheName string // e.g. "server_speaker_play_cache"

	Enhancer   *dsp.Enhancer
	DSPEnabled func() bool

	// OnFirstChunk fires when decoded audio first reaches the queue.
	// OnPlaybackDone fires when the decoder hits EOF on its own.
	OnFirstChunk   func()
	OnPlaybackDone func()
}

// LocalSpeaker plays a track on the host sound device. A decode goroutine
// waits for the download cache, reads F32LE PCM, runs the DSP chain and
// queues interleaved chunks; the playback goroutine feeds portaudio with
// queued chunks or silence. When the queue is full the oldest chunk is
// dropped so a stalled device never blocks the decoder.
type LocalSpeaker struct {
	cfg        SpeakerConfig
	downloader *media.Downloader
	sysVolume  *systemVolume

	mu       sync.Mutex
	stream   *portaudio.Stream
	outBuf   []float32
	queue    chan []float32
	leftover []float32
	running  bool
	playing  bool
	gen      int
	decoder  *media.Decoder
	volume   int
	muted    bool
	lastURL  string

	wg sync.WaitGroup
}

// NewLocalSpeaker creates a stopped speaker output.
func NewLocalSpeaker(cfg SpeakerConfig) *LocalSpeaker {
	return &LocalSpeaker{
		cfg: cfg,
		downloader: media.NewDownloader(media.DownloaderConfig{
			CacheDir:      cfg.CacheDir,
			CacheFilename: cfg.CacheName,
		}, "SPEAKER"),
		sysVolume: newSystemVolume(),
		volume:    100,
	}
}

// Start opens the default output device and begins feeding it. Idempotent.
func (s *LocalSpeaker) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	var initErr error
	paInit.Do(func() { initErr = portaudio.Initialize() })
	if initErr != nil {
		return fmt.Errorf("portaudio init: %w", initErr)
	}

	s.outBuf = make([]float32, s.cfg.ChunkFrames*s.cfg.Channels)
	stream, err := portaudio.OpenDefaultStream(
		0, s.cfg.Channels, float64(s.cfg.SampleRate), s.cfg.ChunkFrames, s.outBuf)
	if err != nil {
		return fmt.Errorf("open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("start output stream: %w", err)
	}

	s.stream = stream
	s.queue = make(chan []float32, s.cfg.BufferChunks)
	s.running = true

	s.wg.Add(1)
	go s.playbackLoop()

	log.Printf("SPEAKER: output started rate=%d channels=%d", s.cfg.SampleRate, s.cfg.Channels)
	return nil
}

// playbackLoop keeps the device fed: queued audio when available, silence
// otherwise, scaled by the software volume.
func (s *LocalSpeaker) playbackLoop() {
	defer s.wg.Done()
	samplesPerChunk := s.cfg.ChunkFrames * s.cfg.Channels

	for {
		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			return
		}
		stream := s.stream
		queue := s.queue
		gain := s.currentGainLocked()
		s.mu.Unlock()

		chunk := s.nextChunk(queue, samplesPerChunk)
		for i, v := range chunk {
			s.outBuf[i] = v * gain
		}
		if err := stream.Write(); err != nil {
			// Output underflow is routine when silence alternates with audio.
			if err != portaudio.OutputUnderflowed {
				log.Printf("SPEAKER: write: %v", err)
			}
		}
	}
}

// nextChunk assembles exactly samplesPerChunk samples from leftover plus the
// queue, padding with silence when the decoder is behind.
func (s *LocalSpeaker) nextChunk(queue chan []float32, samplesPerChunk int) []float32 {
	out := make([]float32, 0, samplesPerChunk)

	s.mu.Lock()
	if len(s.leftover) > 0 {
		take := min(len(s.leftover), samplesPerChunk)
		out = append(out, s.leftover[:take]...)
		s.leftover = s.leftover[take:]
	}
	s.mu.Unlock()

	for len(out) < samplesPerChunk {
		select {
		case chunk := <-queue:
			need := samplesPerChunk - len(out)
			if len(chunk) > need {
				out = append(out, chunk[:need]...)
				s.mu.Lock()
				s.leftover = append(s.leftover, chunk[need:]...)
				s.mu.Unlock()
			} else {
				out = append(out, chunk...)
			}
		default:
			for len(out) < samplesPerChunk {
				out = append(out, 0)
			}
		}
	}
	return out
}

func (s *LocalSpeaker) currentGainLocked() float32 {
	if s.muted {
		return 0
	}
	return float32(s.volume) / 100
}

// Play starts playback of url at position seconds, replacing any current
// playback. Resuming the track kept warm by Pause decodes straight from the
// cache file instead of downloading again.
func (s *LocalSpeaker) Play(url string, position float64) error {
	if err := s.Start(); err != nil {
		return err
	}
	s.stopPlayback(true)

	s.mu.Lock()
	sameURL := url == s.lastURL
	s.lastURL = url
	s.mu.Unlock()

	offset := 0.0
	if canResumeFromCache(sameURL, s.downloader.Completed(),
		s.downloader.FileSize(), position, s.downloader.SeekPosition()) {
		offset = position - s.downloader.SeekPosition()
		log.Printf("SPEAKER: resuming from cache at %.1fs", position)
	} else {
		s.downloader.CleanupFile()
		if err := s.downloader.Start(url, position); err != nil {
			return fmt.Errorf("start download: %w", err)
		}
	}

	s.mu.Lock()
	s.playing = true
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	s.wg.Add(1)
	go s.decodeLoop(gen, offset)

	if position > 0 {
		log.Printf("SPEAKER: playing %s (seek %.1fs)", s.cfg.Name, position)
	} else {
		log.Printf("SPEAKER: playing %s", s.cfg.Name)
	}
	return nil
}

// canResumeFromCache decides whether the pause cache can serve a new Play:
// same track, fully downloaded, and the requested position is not before the
// cache's own start offset. Partial downloads re-fetch so a torn file never
// plays.
func canResumeFromCache(sameURL, completed bool, cacheSize int64, position, cacheStart float64) bool {
	return sameURL && completed && cacheSize > 0 && position >= cacheStart
}

// decodeLoop waits for the cache warm-up, then pushes DSP-processed chunks
// until EOF or stop. offset seeks the decoder within the cache file.
func (s *LocalSpeaker) decodeLoop(gen int, offset float64) {
	defer s.wg.Done()

	const minCacheBytes = 100 * 1024
	deadline := time.Now().Add(30 * time.Second)
	for {
		if !s.stillPlaying(gen) {
			return
		}
		if size := s.downloader.FileSize(); size >= minCacheBytes || s.downloader.Completed() {
			log.Printf("SPEAKER: cache buffer ready (%dKB)", size/1024)
			break
		}
		if err := s.downloader.Err(); err != nil {
			log.Printf("SPEAKER: download failed: %v", err)
			s.finishPlayback(gen)
			return
		}
		if time.Now().After(deadline) {
			log.Printf("SPEAKER: cache buffer timeout")
			s.finishPlayback(gen)
			return
		}
		time.Sleep(100 * time.Millisecond)
	}

	decoder := media.NewDecoder(media.DecoderConfig{
		SampleRate:   s.cfg.SampleRate,
		Channels:     s.cfg.Channels,
		Format:       media.F32LE,
		SeekPosition: offset,
	}, "SPEAKER")
	if err := decoder.Start(s.downloader.FilePath()); err != nil {
		log.Printf("SPEAKER: decoder start failed: %v", err)
		s.finishPlayback(gen)
		return
	}
	s.mu.Lock()
	s.decoder = decoder
	queue := s.queue
	s.mu.Unlock()
	defer decoder.Stop()

	chunkBytes := s.cfg.ChunkFrames * s.cfg.Channels * 4
	buf := make([]byte, chunkBytes)
	first := true

	for s.stillPlaying(gen) {
		n, err := decoder.Read(buf)
		if n == 0 || err == io.EOF {
			if s.stillPlaying(gen) {
				log.Printf("SPEAKER: playback finished")
				s.finishPlayback(gen)
			}
			return
		}
		if first {
			first = false
			if s.cfg.OnFirstChunk != nil {
				s.cfg.OnFirstChunk()
			}
		}

		chunk := s.processChunk(buf[:n-n%4])
		select {
		case queue <- chunk:
		default:
			// Queue full, drop the oldest chunk to stay near real time.
			select {
			case <-queue:
			default:
			}
			select {
			case queue <- chunk:
			default:
			}
		}
	}
}

// processChunk converts F32LE bytes to planar samples, runs the DSP chain
// and returns an interleaved chunk.
func (s *LocalSpeaker) processChunk(raw []byte) []float32 {
	channels := s.cfg.Channels
	frames := len(raw) / (4 * channels)

	useDSP := s.cfg.Enhancer != nil && s.cfg.DSPEnabled != nil && s.cfg.DSPEnabled()
	if !useDSP {
		out := make([]float32, frames*channels)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		return out
	}

	planar := make([][]float64, channels)
	for ch := range planar {
		planar[ch] = make([]float64, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			bits := binary.LittleEndian.Uint32(raw[(i*channels+ch)*4:])
			planar[ch][i] = float64(math.Float32frombits(bits))
		}
	}

	s.cfg.Enhancer.Process(planar)

	out := make([]float32, frames*channels)
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			out[i*channels+ch] = float32(planar[ch][i])
		}
	}
	return out
}

func (s *LocalSpeaker) stillPlaying(gen int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing && gen == s.gen
}

// finishPlayback marks natural end of stream and notifies.
func (s *LocalSpeaker) finishPlayback(gen int) {
	s.mu.Lock()
	if !s.playing || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.playing = false
	s.mu.Unlock()

	if s.cfg.OnPlaybackDone != nil {
		s.cfg.OnPlaybackDone()
	}
}

// stopPlayback halts download and decode. keepCache leaves the cache file
// for a cheap resume after Pause.
func (s *LocalSpeaker) stopPlayback(keepCache bool) {
	s.mu.Lock()
	s.playing = false
	s.gen++
	decoder := s.decoder
	s.decoder = nil
	queue := s.queue
	s.leftover = nil
	s.mu.Unlock()

	s.downloader.Stop()
	if decoder != nil {
		decoder.Stop()
	}
	if queue != nil {
		for {
			select {
			case <-queue:
			default:
				goto drained
			}
		}
	}
drained:
	if !keepCache {
		s.downloader.CleanupFile()
	}
}

// Stop ends playback and discards the cache. The device stays open.
func (s *LocalSpeaker) Stop() {
	s.stopPlayback(false)
	log.Printf("SPEAKER: playback stopped")
}

// Pause halts playback but keeps the cache file so the device layer can
// resume by replaying from the recorded position.
func (s *LocalSpeaker) Pause() {
	s.stopPlayback(true)
	log.Printf("SPEAKER: paused")
}

// SetVolume applies a 0-100 software gain and mirrors it to the OS mixer
// when one is controllable.
func (s *LocalSpeaker) SetVolume(volume int) {
	if volume < 0 {
		volume = 0
	} else if volume > 100 {
		volume = 100
	}
	s.mu.Lock()
	s.volume = volume
	s.mu.Unlock()
	s.sysVolume.Set(volume)
}

// SetMute silences the output without losing the volume level.
func (s *LocalSpeaker) SetMute(muted bool) {
	s.mu.Lock()
	s.muted = muted
	s.mu.Unlock()
}

// Volume reports the software gain, which is always authoritative for the
// local speaker.
func (s *LocalSpeaker) Volume() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume, true
}

// Muted reports the live mute state.
func (s *LocalSpeaker) Muted() (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted, true
}

// Close tears down playback and the sound device.
func (s *LocalSpeaker) Close() {
	s.stopPlayback(false)

	s.mu.Lock()
	running := s.running
	s.running = false
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	if !running {
		return
	}
	if stream != nil {
		stream.Stop()
	}
	s.wg.Wait()
	if stream != nil {
		stream.Close()
	}
	log.Printf("SPEAKER: output closed")
}
