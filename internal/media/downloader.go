package media

import (
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// DownloaderConfig configures the cache file a download writes into.
// Matroska holds any audio codec, so the stream copy never re-encodes.
type DownloaderConfig struct {
	CacheDir        string
	CacheFilename   string // without extension
	ContainerFormat string // defaults to matroska
	FileExtension   string // defaults to mkv
}

// Downloader stream-copies a URL into a local cache file with ffmpeg. The
// file grows while a decoder reads it, which decouples network stalls from
// playback. A seek position makes the cache start at that offset, so the
// decoder always decodes from zero.
type Downloader struct {
	cfg DownloaderConfig
	tag string

	mu          sync.Mutex
	cmd         *exec.Cmd
	downloading bool
	completed   bool
	err         error
	seekPos     float64
	generation  int
	done        chan struct{}
}

// NewDownloader creates an idle downloader.
func NewDownloader(cfg DownloaderConfig, tag string) *Downloader {
	if cfg.ContainerFormat == "" {
		cfg.ContainerFormat = "matroska"
	}
	if cfg.FileExtension == "" {
		cfg.FileExtension = "mkv"
	}
	if tag == "" {
		tag = "MEDIA"
	}
	return &Downloader{cfg: cfg, tag: tag}
}

// FilePath returns the full cache file path.
func (d *Downloader) FilePath() string {
	return filepath.Join(d.cfg.CacheDir, d.cfg.CacheFilename+"."+d.cfg.FileExtension)
}

// FileSize returns the current cache size in bytes, 0 when absent.
func (d *Downloader) FileSize() int64 {
	info, err := os.Stat(d.FilePath())
	if err != nil {
		return 0
	}
	return info.Size()
}

// Downloading reports whether a copy is in flight.
func (d *Downloader) Downloading() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.downloading
}

// Completed reports whether the last download finished cleanly.
func (d *Downloader) Completed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.completed
}

// Err returns the last download error, nil while running or after success.
func (d *Downloader) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// SeekPosition returns the offset (seconds) the cache file starts at.
func (d *Downloader) SeekPosition() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seekPos
}

// Start begins downloading url into the cache file, replacing any previous
// download and cache content. Returns immediately; the copy runs on its own
// goroutine.
func (d *Downloader) Start(url string, seekPosition float64) error {
	d.Stop()
	d.CleanupFile()

	args := []string{"-y"}
	if seekPosition > 0 {
		args = append(args, "-ss", strconv.FormatFloat(seekPosition, 'f', -1, 64))
	}
	args = append(args,
		"-i", url,
		"-vn",
		"-c:a", "copy",
		"-f", d.cfg.ContainerFormat,
		d.FilePath(),
	)

	if err := os.MkdirAll(d.cfg.CacheDir, 0o755); err != nil {
		return err
	}

	cmd := exec.Command("ffmpeg", args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		d.mu.Lock()
		d.err = err
		d.mu.Unlock()
		return err
	}

	d.mu.Lock()
	d.cmd = cmd
	d.downloading = true
	d.completed = false
	d.err = nil
	d.seekPos = seekPosition
	d.generation++
	gen := d.generation
	done := make(chan struct{})
	d.done = done
	d.mu.Unlock()

	if seekPosition > 0 {
		log.Printf("%s: download started (seek %.1fs)", d.tag, seekPosition)
	} else {
		log.Printf("%s: download started", d.tag)
	}

	go func() {
		defer close(done)
		err := cmd.Wait()

		d.mu.Lock()
		defer d.mu.Unlock()
		if gen != d.generation || !d.downloading {
			// Stopped or superseded by a newer Start.
			return
		}
		d.downloading = false
		d.cmd = nil
		if err != nil {
			d.err = err
			log.Printf("%s: download failed: %v", d.tag, err)
			return
		}
		d.completed = true
	}()
	return nil
}

// Stop cancels an in-flight download. The cache file is left in place.
func (d *Downloader) Stop() {
	d.mu.Lock()
	cmd := d.cmd
	done := d.done
	d.downloading = false
	d.cmd = nil
	d.mu.Unlock()

	if cmd == nil {
		return
	}
	// The run goroutine owns cmd.Wait; just signal and give it a grace
	// period before escalating to Kill.
	_ = cmd.Process.Signal(stopSignal)
	if done != nil {
		select {
		case <-done:
			return
		case <-time.After(2 * time.Second):
		}
	}
	_ = cmd.Process.Kill()
	if done != nil {
		<-done
	}
}

// CleanupFile removes the cache file.
func (d *Downloader) CleanupFile() {
	if err := os.Remove(d.FilePath()); err != nil && !os.IsNotExist(err) {
		log.Printf("%s: cache cleanup failed: %v", d.tag, err)
	}
}

// Cleanup stops the download and removes the cache file.
func (d *Downloader) Cleanup() {
	d.Stop()
	d.CleanupFile()
}
