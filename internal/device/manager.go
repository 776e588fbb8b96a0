package device

import (
	"log"
	"sort"
	"sync"

	"github.com/unairplay/unairplay-go/internal/configstore"
	"github.com/unairplay/unairplay-go/internal/dsp"
	"github.com/unairplay/unairplay-go/internal/events"
	"github.com/unairplay/unairplay-go/internal/output"
)

// OutputFactory builds the playback sink and DSP chain for a freshly created
// device. It runs after the device exists so callbacks can reference it.
type OutputFactory func(d *VirtualDevice) (output.Output, *dsp.Enhancer)

// ManagerConfig configures the device fleet.
type ManagerConfig struct {
	DeviceSuffix        string
	ServerSpeakerName   string
	EnableServerSpeaker bool
	// HasAudioOutput probes for a usable host output device. nil means
	// assume one is present.
	HasAudioOutput func() bool
	OutputFactory  OutputFactory
}

// Manager owns every virtual device. Discovery results flow in through the
// OnAirPlay* methods; the DLNA and web layers look devices up by id, DLNA
// uuid or AirPlay id.
type Manager struct {
	cfg   ManagerConfig
	bus   *events.Bus
	store *configstore.Store

	mu        sync.Mutex
	devices   map[string]*VirtualDevice
	byAirPlay map[string]string // airplay id -> device id
}

// NewManager creates an empty fleet.
func NewManager(cfg ManagerConfig, bus *events.Bus, store *configstore.Store) *Manager {
	return &Manager{
		cfg:       cfg,
		bus:       bus,
		store:     store,
		devices:   make(map[string]*VirtualDevice),
		byAirPlay: make(map[string]string),
	}
}

// Start creates the server speaker renderer when enabled. AirPlay devices
// arrive later via discovery.
func (m *Manager) Start() {
	if !m.cfg.EnableServerSpeaker {
		return
	}
	if m.cfg.HasAudioOutput != nil && !m.cfg.HasAudioOutput() {
		log.Printf("DEVICE: no host audio output device, server speaker disabled")
		return
	}
	d := NewServerSpeaker(m.cfg.ServerSpeakerName, m.cfg.DeviceSuffix)
	m.registerDevice(d)
	log.Printf("DEVICE: server speaker %q ready", d.Name())
}

// registerDevice wires outputs, persisted DSP state and bus handlers, then
// announces the device.
func (m *Manager) registerDevice(d *VirtualDevice) {
	if m.cfg.OutputFactory != nil {
		out, enhancer := m.cfg.OutputFactory(d)
		d.AttachOutput(out, enhancer)
	}
	if m.store != nil {
		if stored, ok := m.store.DeviceConfig(d.ID); ok {
			d.ApplyStoredDSP(stored.DSPEnabled, stored.DSPConfig)
			log.Printf("DEVICE: restored DSP config for %s", d.Name())
		}
	}
	d.SubscribeCommands(m.bus)

	m.mu.Lock()
	m.devices[d.ID] = d
	if d.AirPlayID != "" {
		m.byAirPlay[d.AirPlayID] = d.ID
	}
	address := ""
	model := ""
	m.mu.Unlock()
	if d.DeviceType == TypeAirPlay {
		snap := d.Snapshot()
		address, model = snap.Address, snap.Model
	}

	m.bus.Publish(events.NewDeviceAdded(d.ID, events.DeviceInfoPayload{
		Name:       d.Name(),
		DeviceType: d.DeviceType,
		Address:    address,
		Model:      model,
	}))
}

// OnAirPlayFound handles a discovery hit: refresh an existing device or
// create a new renderer.
func (m *Manager) OnAirPlayFound(airplayID, name, address, model string) {
	m.mu.Lock()
	deviceID, known := m.byAirPlay[airplayID]
	var existing *VirtualDevice
	if known {
		existing = m.devices[deviceID]
	}
	m.mu.Unlock()

	if existing != nil {
		if wasOffline := existing.UpdateInfo(name, address, model); wasOffline {
			log.Printf("DEVICE: %s back online", existing.Name())
			m.bus.Publish(events.NewDeviceConnected(existing.ID))
		}
		return
	}

	d := NewAirPlayDevice(airplayID, name, address, model, m.cfg.DeviceSuffix)
	log.Printf("DEVICE: new AirPlay speaker %q at %s (%s)", d.Name(), address, d.ID)
	m.registerDevice(d)
}

// OnAirPlayMissed marks a device unreachable after a scan miss, before the
// offline threshold removes it.
func (m *Manager) OnAirPlayMissed(airplayID string) {
	d, ok := m.DeviceByAirPlayID(airplayID)
	if !ok {
		return
	}
	if d.Connected() {
		d.SetConnected(false)
		log.Printf("DEVICE: %s missed a scan", d.Name())
		m.bus.Publish(events.NewDeviceDisconnected(d.ID))
	}
}

// OnAirPlayLost removes a device whose consecutive scan misses reached the
// offline threshold. Playback is stopped through the normal command path so
// DLNA subscribers get the final transport notification; the persisted DSP
// entry is kept for when the speaker returns.
func (m *Manager) OnAirPlayLost(airplayID string) {
	m.mu.Lock()
	deviceID, known := m.byAirPlay[airplayID]
	var d *VirtualDevice
	if known {
		d = m.devices[deviceID]
		delete(m.byAirPlay, airplayID)
		delete(m.devices, deviceID)
	}
	m.mu.Unlock()

	if d == nil {
		return
	}

	log.Printf("DEVICE: %s offline threshold reached, removing", d.Name())
	m.bus.Publish(events.NewOfflineThresholdHit(d.ID, airplayID))
	m.bus.Publish(events.NewStop(d.ID))

	d.UnsubscribeCommands()
	if out := d.Output(); out != nil {
		out.Close()
	}
	m.bus.Publish(events.NewDeviceRemoved(d.ID))
}

// Device looks a renderer up by device id.
func (m *Manager) Device(id string) (*VirtualDevice, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	return d, ok
}

// DeviceByUUID looks a renderer up by its DLNA uuid (with or without the
// "uuid:" prefix).
func (m *Manager) DeviceByUUID(dlnaUUID string) (*VirtualDevice, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.devices {
		if d.DLNAUUID == dlnaUUID || d.DLNAUUID == "uuid:"+dlnaUUID {
			return d, true
		}
	}
	return nil, false
}

// DeviceByAirPlayID looks a renderer up by the scanner-reported AirPlay id.
func (m *Manager) DeviceByAirPlayID(airplayID string) (*VirtualDevice, bool) {
	m.mu.Lock()
	deviceID, ok := m.byAirPlay[airplayID]
	if !ok {
		m.mu.Unlock()
		return nil, false
	}
	d, ok := m.devices[deviceID]
	m.mu.Unlock()
	return d, ok
}

// ServerSpeaker returns the host speaker renderer when enabled.
func (m *Manager) ServerSpeaker() (*VirtualDevice, bool) {
	return m.Device(ServerSpeakerID)
}

// All returns the fleet, server speaker first, then AirPlay devices by name.
func (m *Manager) All() []*VirtualDevice {
	m.mu.Lock()
	out := make([]*VirtualDevice, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if (out[i].ID == ServerSpeakerID) != (out[j].ID == ServerSpeakerID) {
			return out[i].ID == ServerSpeakerID
		}
		return out[i].Name() < out[j].Name()
	})
	return out
}

// Snapshots captures the whole fleet for the control panel.
func (m *Manager) Snapshots() []Snapshot {
	devices := m.All()
	out := make([]Snapshot, 0, len(devices))
	for _, d := range devices {
		out = append(out, d.Snapshot())
	}
	return out
}

// KnownAirPlayIDs returns the AirPlay ids currently mapped to renderers.
func (m *Manager) KnownAirPlayIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.byAirPlay))
	for id := range m.byAirPlay {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close stops every output and drops all bus subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	devices := make([]*VirtualDevice, 0, len(m.devices))
	for _, d := range m.devices {
		devices = append(devices, d)
	}
	m.devices = make(map[string]*VirtualDevice)
	m.byAirPlay = make(map[string]string)
	m.mu.Unlock()

	for _, d := range devices {
		d.UnsubscribeCommands()
		if out := d.Output(); out != nil {
			out.Close()
		}
	}
}
