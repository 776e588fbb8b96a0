// Package scanner discovers AirPlay speakers over mDNS. It browses the
// _raop._tcp and _airplay._tcp services, merges the results per speaker and
// reports found, missed and lost devices to the device layer. A speaker is
// only reported lost after a configurable number of consecutive missed
// scans, so one dropped multicast reply never tears a renderer down.
package scanner

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/robfig/cron/v3"
)

const (
	serviceRAOP    = "_raop._tcp"
	serviceAirPlay = "_airplay._tcp"
)

// DeviceInfo is one discovered speaker.
type DeviceInfo struct {
	Identifier string // normalized device id (uppercase hex, no separators)
	Name       string
	Address    string
	Port       int
	Model      string
}

// Config tunes scan timing and wires the device-layer callbacks.
type Config struct {
	Interval         time.Duration
	Timeout          time.Duration
	OfflineThreshold int // consecutive misses before OnLost fires

	// Excluded filters discovery results before any callback runs. Each
	// entry is either an exact IP address or a case-insensitive substring
	// of the speaker name.
	Excluded []string

	// OnFound fires on every scan hit, including repeats. OnMissed fires on
	// every miss below the threshold; OnLost fires once when the threshold
	// is reached.
	OnFound  func(DeviceInfo)
	OnMissed func(identifier string)
	OnLost   func(identifier string)
}

// browseFunc performs one network scan. Swappable in tests.
type browseFunc func(ctx context.Context, timeout time.Duration) ([]DeviceInfo, error)

// Scanner runs periodic discovery scans on a cron schedule.
type Scanner struct {
	cfg    Config
	browse browseFunc

	mu      sync.Mutex
	devices map[string]DeviceInfo
	misses  map[string]int
	running bool

	cron   *cron.Cron
	cancel context.CancelFunc
}

// New creates a stopped scanner.
func New(cfg Config) *Scanner {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.OfflineThreshold <= 0 {
		cfg.OfflineThreshold = 3
	}
	return &Scanner{
		cfg:     cfg,
		browse:  browseNetwork,
		devices: make(map[string]DeviceInfo),
		misses:  make(map[string]int),
	}
}

// Start runs an immediate scan and schedules periodic rescans.
func (s *Scanner) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.cron = cron.New()
	s.mu.Unlock()

	spec := fmt.Sprintf("@every %s", s.cfg.Interval)
	if _, err := s.cron.AddFunc(spec, func() { s.scanTick(ctx) }); err != nil {
		return fmt.Errorf("schedule scan: %w", err)
	}
	s.cron.Start()

	go s.scanTick(ctx)
	log.Printf("SCANNER: started, interval=%s timeout=%s threshold=%d excluded=%d",
		s.cfg.Interval, s.cfg.Timeout, s.cfg.OfflineThreshold, len(s.cfg.Excluded))
	return nil
}

// Stop halts scanning. Known devices are kept so Resolve still answers.
func (s *Scanner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	c := s.cron
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c != nil {
		c.Stop()
	}
	log.Printf("SCANNER: stopped")
}

func (s *Scanner) scanTick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	discovered, err := s.browse(ctx, s.cfg.Timeout)
	if err != nil {
		log.Printf("SCANNER: scan failed: %v", err)
		return
	}
	s.processScan(discovered)
}

// excluded matches a scan hit against the exclusion list.
func (s *Scanner) excluded(info DeviceInfo) bool {
	for _, pattern := range s.cfg.Excluded {
		p := strings.TrimSpace(pattern)
		if p == "" {
			continue
		}
		if info.Address == p || strings.Contains(strings.ToLower(info.Name), strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// processScan diffs one scan result against the known set and drives the
// callbacks. Excluded speakers are dropped first, so to the rest of the
// bridge they simply do not exist. Exported behavior is tested through
// this path.
func (s *Scanner) processScan(discovered []DeviceInfo) {
	type missed struct {
		id   string
		lost bool
	}

	if len(s.cfg.Excluded) > 0 {
		kept := make([]DeviceInfo, 0, len(discovered))
		for _, info := range discovered {
			if s.excluded(info) {
				continue
			}
			kept = append(kept, info)
		}
		discovered = kept
	}

	s.mu.Lock()
	seen := make(map[string]bool, len(discovered))
	for _, info := range discovered {
		seen[info.Identifier] = true
		s.devices[info.Identifier] = info
		s.misses[info.Identifier] = 0
	}

	var misses []missed
	for id := range s.devices {
		if seen[id] {
			continue
		}
		s.misses[id]++
		if s.misses[id] >= s.cfg.OfflineThreshold {
			delete(s.devices, id)
			delete(s.misses, id)
			misses = append(misses, missed{id: id, lost: true})
		} else {
			misses = append(misses, missed{id: id})
		}
	}
	s.mu.Unlock()

	for _, info := range discovered {
		if s.cfg.OnFound != nil {
			s.cfg.OnFound(info)
		}
	}
	for _, m := range misses {
		if m.lost {
			log.Printf("SCANNER: device %s lost", m.id)
			if s.cfg.OnLost != nil {
				s.cfg.OnLost(m.id)
			}
		} else if s.cfg.OnMissed != nil {
			s.cfg.OnMissed(m.id)
		}
	}
}

// Devices returns the currently known speakers, sorted by name.
func (s *Scanner) Devices() []DeviceInfo {
	s.mu.Lock()
	out := make([]DeviceInfo, 0, len(s.devices))
	for _, info := range s.devices {
		out = append(out, info)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Device returns the cached info for one identifier.
func (s *Scanner) Device(identifier string) (DeviceInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.devices[NormalizeIdentifier(identifier)]
	return info, ok
}

// Resolve rescans for one speaker and returns its current address, falling
// back to the cached one. Satisfies the output layer's reconnect hook.
func (s *Scanner) Resolve(ctx context.Context, identifier string) (string, error) {
	id := NormalizeIdentifier(identifier)

	discovered, err := s.browse(ctx, s.cfg.Timeout)
	if err == nil {
		s.processScan(discovered)
		for _, info := range discovered {
			if info.Identifier == id {
				return info.Address, nil
			}
		}
	} else {
		log.Printf("SCANNER: resolve rescan failed: %v", err)
	}

	if info, ok := s.Device(id); ok && info.Address != "" {
		return info.Address, nil
	}
	return "", fmt.Errorf("device %s not found on the network", identifier)
}

// NormalizeIdentifier folds the two mDNS id spellings (AA:BB:CC:DD:EE:FF
// and aabbccddeeff) into one key.
func NormalizeIdentifier(id string) string {
	id = strings.ReplaceAll(id, ":", "")
	id = strings.ReplaceAll(id, "-", "")
	return strings.ToUpper(strings.TrimSpace(id))
}

// browseNetwork scans both AirPlay service types and merges the entries per
// speaker. The _airplay records carry the display name, the _raop records
// exist for audio-only speakers that never advertise _airplay.
func browseNetwork(ctx context.Context, timeout time.Duration) ([]DeviceInfo, error) {
	raop, raopErr := browseService(ctx, serviceRAOP, timeout)
	airplay, airplayErr := browseService(ctx, serviceAirPlay, timeout)
	if raopErr != nil && airplayErr != nil {
		return nil, fmt.Errorf("browse: %w", raopErr)
	}

	merged := make(map[string]DeviceInfo)
	for _, info := range raop {
		merged[info.Identifier] = info
	}
	for _, info := range airplay {
		if existing, ok := merged[info.Identifier]; ok {
			if info.Name != "" {
				existing.Name = info.Name
			}
			if info.Model != "" {
				existing.Model = info.Model
			}
			if info.Address != "" {
				existing.Address = info.Address
			}
			merged[info.Identifier] = existing
		} else {
			merged[info.Identifier] = info
		}
	}

	out := make([]DeviceInfo, 0, len(merged))
	for _, info := range merged {
		if info.Identifier != "" && info.Address != "" {
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out, nil
}

func browseService(ctx context.Context, service string, timeout time.Duration) ([]DeviceInfo, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	if err := resolver.Browse(ctx, service, "local.", entries); err != nil {
		return nil, fmt.Errorf("browse %s: %w", service, err)
	}

	var out []DeviceInfo
	for entry := range entries {
		if info, ok := entryToDevice(service, entry); ok {
			out = append(out, info)
		}
	}
	return out, nil
}

func entryToDevice(service string, entry *zeroconf.ServiceEntry) (DeviceInfo, bool) {
	info := DeviceInfo{Port: entry.Port}
	if len(entry.AddrIPv4) > 0 {
		info.Address = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		info.Address = entry.AddrIPv6[0].String()
	}

	txt := parseTXT(entry.Text)
	switch service {
	case serviceRAOP:
		// RAOP instances are "<deviceid>@<display name>".
		id, name, ok := strings.Cut(entry.Instance, "@")
		if !ok {
			return DeviceInfo{}, false
		}
		info.Identifier = NormalizeIdentifier(id)
		info.Name = name
		info.Model = txt["am"]
	case serviceAirPlay:
		info.Identifier = NormalizeIdentifier(txt["deviceid"])
		info.Name = entry.Instance
		info.Model = txt["model"]
	}

	if info.Identifier == "" {
		return DeviceInfo{}, false
	}
	return info, true
}

func parseTXT(records []string) map[string]string {
	out := make(map[string]string, len(records))
	for _, record := range records {
		if key, value, ok := strings.Cut(record, "="); ok {
			out[strings.ToLower(key)] = value
		}
	}
	return out
}
