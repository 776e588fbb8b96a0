// Package configstore persists per-device DSP settings to a JSON file. The
// store subscribes to DSP change events and saves automatically; writes are
// debounced and atomic (temp file + rename). An fsnotify watcher reloads the
// file when it is edited externally.
package configstore

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/unairplay/unairplay-go/internal/dsp"
	"github.com/unairplay/unairplay-go/internal/events"
)

const debounceDelay = 500 * time.Millisecond

// DeviceConfig is one device's persisted DSP entry.
type DeviceConfig struct {
	DSPEnabled bool         `json:"dsp_enabled"`
	DSPConfig  dsp.Settings `json:"dsp_config"`
}

type fileFormat struct {
	Devices map[string]DeviceConfig `json:"devices"`
}

// Store holds the in-memory copy of the config file.
type Store struct {
	mu      sync.Mutex
	path    string
	devices map[string]DeviceConfig

	timer   *time.Timer
	pending bool

	watcher *fsnotify.Watcher
	subID   int64
	bus     *events.Bus
}

// New loads the store from path. A missing or corrupt file yields an empty
// store rather than an error.
func New(path string) *Store {
	s := &Store{path: path, devices: make(map[string]DeviceConfig)}
	s.load()
	return s
}

// Attach subscribes the store to DSP change events on the bus and starts the
// file watcher. Call Close to undo both.
func (s *Store) Attach(bus *events.Bus) {
	s.bus = bus
	s.subID = bus.Subscribe(events.DSPChanged, s.onDSPChanged)
	s.startWatcher()
}

// Close flushes pending writes and releases the watcher and subscription.
func (s *Store) Close() {
	if s.bus != nil {
		s.bus.Unsubscribe(s.subID)
	}
	if s.watcher != nil {
		s.watcher.Close()
	}
	if err := s.Flush(); err != nil {
		log.Printf("CONFIG: flush on close failed: %v", err)
	}
}

func (s *Store) onDSPChanged(e events.Event) {
	payload, ok := e.Data.(events.DSPPayload)
	if !ok || payload.Settings == nil {
		return
	}
	s.SetDeviceConfig(e.DeviceID, payload.Enabled, *payload.Settings)
}

// DeviceConfig returns the stored entry for deviceID, if any.
func (s *Store) DeviceConfig(deviceID string) (DeviceConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.devices[deviceID]
	return cfg, ok
}

// SetDeviceConfig stores an entry and schedules a debounced save.
func (s *Store) SetDeviceConfig(deviceID string, enabled bool, settings dsp.Settings) {
	s.mu.Lock()
	s.devices[deviceID] = DeviceConfig{DSPEnabled: enabled, DSPConfig: settings}
	s.scheduleSaveLocked()
	s.mu.Unlock()
}

// RemoveDevice drops a device's entry. Used when a renderer is removed for
// good; the entry survives scan flapping because removal is explicit.
func (s *Store) RemoveDevice(deviceID string) {
	s.mu.Lock()
	if _, ok := s.devices[deviceID]; ok {
		delete(s.devices, deviceID)
		s.scheduleSaveLocked()
	}
	s.mu.Unlock()
}

// Flush writes any pending state immediately.
func (s *Store) Flush() error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if !s.pending {
		s.mu.Unlock()
		return nil
	}
	s.pending = false
	data, err := s.marshalLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.writeAtomic(data)
}

func (s *Store) scheduleSaveLocked() {
	s.pending = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(debounceDelay, func() {
		if err := s.Flush(); err != nil {
			log.Printf("CONFIG: save failed: %v", err)
		}
	})
}

func (s *Store) marshalLocked() ([]byte, error) {
	return json.MarshalIndent(fileFormat{Devices: s.devices}, "", "  ")
}

func (s *Store) writeAtomic(data []byte) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Printf("CONFIG: read %s: %v", s.path, err)
		}
		return
	}
	var parsed fileFormat
	if err := json.Unmarshal(data, &parsed); err != nil {
		log.Printf("CONFIG: corrupt config %s, starting empty: %v", s.path, err)
		return
	}
	s.mu.Lock()
	if parsed.Devices != nil {
		s.devices = parsed.Devices
	}
	s.mu.Unlock()
	log.Printf("CONFIG: loaded %d device entries from %s", len(parsed.Devices), s.path)
}

// startWatcher reloads the store when the file changes on disk. Renames are
// how our own atomic writes land, so only external create/write events that
// arrive while nothing is pending trigger a reload.
func (s *Store) startWatcher() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("CONFIG: fsnotify unavailable: %v", err)
		return
	}
	s.watcher = watcher

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		log.Printf("CONFIG: cannot watch %s: %v", dir, err)
		watcher.Close()
		s.watcher = nil
		return
	}

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != s.path {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				s.mu.Lock()
				skip := s.pending
				s.mu.Unlock()
				if skip {
					continue
				}
				log.Printf("CONFIG: %s changed on disk, reloading", s.path)
				s.load()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("CONFIG: watcher error: %v", err)
			}
		}
	}()
}
