package media

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

// DecoderConfig configures a PCM decode.
type DecoderConfig struct {
	SampleRate   int
	Channels     int
	Format       PCMFormat
	Realtime     bool    // -re, decode at playback rate
	SeekPosition float64 // -ss before the input
}

// Decoder runs ffmpeg decoding an input (file or URL) to raw interleaved PCM
// on stdout. Reads block while the writer side of a growing cache file is
// ahead of ffmpeg; a short read with io.EOF means the input is really done.
type Decoder struct {
	cfg DecoderConfig
	tag string

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdout  io.Reader
	started bool
}

// NewDecoder creates an idle decoder.
func NewDecoder(cfg DecoderConfig, tag string) *Decoder {
	if tag == "" {
		tag = "MEDIA"
	}
	return &Decoder{cfg: cfg, tag: tag}
}

// BytesPerFrame returns channels times sample width.
func (d *Decoder) BytesPerFrame() int {
	return d.cfg.Channels * d.cfg.Format.BytesPerSample()
}

// Start launches the ffmpeg process. Calling Start on a running decoder is a
// no-op.
func (d *Decoder) Start(input string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return nil
	}

	args := []string{"-hide_banner", "-loglevel", "error"}
	if d.cfg.SeekPosition > 0 {
		args = append(args, "-ss", strconv.FormatFloat(d.cfg.SeekPosition, 'f', -1, 64))
	}
	if d.cfg.Realtime {
		args = append(args, "-re")
	}
	args = append(args,
		"-i", input,
		"-vn",
		"-acodec", d.cfg.Format.Codec(),
		"-ar", strconv.Itoa(d.cfg.SampleRate),
		"-ac", strconv.Itoa(d.cfg.Channels),
		"-f", d.cfg.Format.FormatName(),
		"pipe:1",
	)

	cmd := exec.Command("ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("decoder stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start decoder: %w", err)
	}

	log.Printf("%s: decoder started format=%s rate=%d channels=%d",
		d.tag, d.cfg.Format, d.cfg.SampleRate, d.cfg.Channels)

	d.cmd = cmd
	d.stdout = bufio.NewReaderSize(stdout, 64*1024)
	d.started = true
	return nil
}

// Running reports whether the decode process is alive.
func (d *Decoder) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started && d.cmd != nil && d.cmd.ProcessState == nil
}

// Read fills p with PCM bytes, blocking until p is full or the stream ends.
// Returns 0, io.EOF once the decoder output is exhausted.
func (d *Decoder) Read(p []byte) (int, error) {
	d.mu.Lock()
	stdout := d.stdout
	d.mu.Unlock()
	if stdout == nil {
		return 0, io.EOF
	}
	n, err := io.ReadFull(stdout, p)
	if err == io.ErrUnexpectedEOF {
		err = nil // final partial block
	}
	return n, err
}

// Stop terminates the decode process.
func (d *Decoder) Stop() {
	d.mu.Lock()
	cmd := d.cmd
	d.cmd = nil
	d.stdout = nil
	d.started = false
	d.mu.Unlock()

	terminateProcess(cmd, 2*time.Second)
}
