package device

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unairplay/unairplay-go/internal/configstore"
	"github.com/unairplay/unairplay-go/internal/dsp"
	"github.com/unairplay/unairplay-go/internal/events"
	"github.com/unairplay/unairplay-go/internal/output"
)

func newTestManager(t *testing.T, bus *events.Bus, enableServer bool) (*Manager, map[string]*fakeOutput) {
	t.Helper()
	outputs := make(map[string]*fakeOutput)
	store := configstore.New(filepath.Join(t.TempDir(), "device_config.json"))

	m := NewManager(ManagerConfig{
		DeviceSuffix:        "[D]",
		ServerSpeakerName:   "Server Speaker",
		EnableServerSpeaker: enableServer,
		OutputFactory: func(d *VirtualDevice) (output.Output, *dsp.Enhancer) {
			out := &fakeOutput{}
			outputs[d.ID] = out
			return out, dsp.NewEnhancer(48000, 2)
		},
	}, bus, store)
	return m, outputs
}

func TestManagerCreatesServerSpeaker(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	var added []string
	bus.Subscribe(events.DeviceAdded, func(e events.Event) {
		added = append(added, e.DeviceID)
	})

	m, outputs := newTestManager(t, bus, true)
	m.Start()
	defer m.Close()

	d, ok := m.ServerSpeaker()
	require.True(t, ok)
	assert.Equal(t, "Server Speaker [D]", d.Name())
	assert.Equal(t, []string{ServerSpeakerID}, added)
	assert.Contains(t, outputs, ServerSpeakerID)
}

func TestManagerSkipsServerSpeakerWithoutAudioOutput(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	store := configstore.New(filepath.Join(t.TempDir(), "device_config.json"))
	m := NewManager(ManagerConfig{
		DeviceSuffix:        "[D]",
		ServerSpeakerName:   "Server Speaker",
		EnableServerSpeaker: true,
		HasAudioOutput:      func() bool { return false },
		OutputFactory: func(d *VirtualDevice) (output.Output, *dsp.Enhancer) {
			return &fakeOutput{}, dsp.NewEnhancer(48000, 2)
		},
	}, bus, store)
	m.Start()
	defer m.Close()

	_, ok := m.ServerSpeaker()
	assert.False(t, ok)
	assert.Empty(t, m.All())
}

func TestManagerAddsAndUpdatesAirPlayDevice(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	var added, connected []string
	bus.Subscribe(events.DeviceAdded, func(e events.Event) { added = append(added, e.DeviceID) })
	bus.Subscribe(events.DeviceConnected, func(e events.Event) { connected = append(connected, e.DeviceID) })

	m, _ := newTestManager(t, bus, false)
	defer m.Close()

	m.OnAirPlayFound("AA:BB", "Kitchen", "192.168.1.50", "HomePod")
	require.Len(t, added, 1)

	d, ok := m.DeviceByAirPlayID("AA:BB")
	require.True(t, ok)
	assert.Equal(t, "Kitchen [D]", d.Name())

	// A repeat hit updates in place instead of duplicating.
	m.OnAirPlayFound("AA:BB", "Kitchen", "192.168.1.99", "HomePod")
	assert.Len(t, added, 1)
	assert.Len(t, m.All(), 1)
	assert.Equal(t, "192.168.1.99", d.Snapshot().Address)
	assert.Empty(t, connected)

	// A hit after a miss announces reconnection.
	m.OnAirPlayMissed("AA:BB")
	m.OnAirPlayFound("AA:BB", "Kitchen", "192.168.1.99", "HomePod")
	assert.Equal(t, []string{d.ID}, connected)
}

func TestManagerMissPublishesDisconnectedOnce(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	var disconnected int
	bus.Subscribe(events.DeviceDisconnected, func(events.Event) { disconnected++ })

	m, _ := newTestManager(t, bus, false)
	defer m.Close()

	m.OnAirPlayFound("AA:BB", "Kitchen", "192.168.1.50", "")
	m.OnAirPlayMissed("AA:BB")
	m.OnAirPlayMissed("AA:BB")
	assert.Equal(t, 1, disconnected)
}

func TestManagerLostRemovesDeviceAndStopsPlayback(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	var order []events.Type
	for _, typ := range []events.Type{
		events.DeviceOfflineThresholdHit, events.StateChanged, events.DeviceRemoved,
	} {
		typ := typ
		bus.Subscribe(typ, func(events.Event) { order = append(order, typ) })
	}

	m, outputs := newTestManager(t, bus, false)
	defer m.Close()

	m.OnAirPlayFound("AA:BB", "Kitchen", "192.168.1.50", "")
	d, _ := m.DeviceByAirPlayID("AA:BB")
	bus.Publish(events.NewPlay(d.ID, "http://media.local/a.mp3", 0, events.Metadata{}))

	m.OnAirPlayLost("AA:BB")

	_, ok := m.DeviceByAirPlayID("AA:BB")
	assert.False(t, ok)
	assert.Empty(t, m.All())
	assert.True(t, outputs[d.ID].closed)
	assert.GreaterOrEqual(t, outputs[d.ID].stops, 1)

	// Threshold event, final stopped state, then removal.
	require.NotEmpty(t, order)
	assert.Equal(t, events.DeviceOfflineThresholdHit, order[0])
	assert.Equal(t, events.DeviceRemoved, order[len(order)-1])
}

func TestManagerRestoresStoredDSP(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	path := filepath.Join(t.TempDir(), "device_config.json")
	store := configstore.New(path)

	settings := dsp.DefaultSettings()
	settings.EQ125 = -3.5
	store.SetDeviceConfig(GenerateID("AA:BB"), true, settings)

	m := NewManager(ManagerConfig{DeviceSuffix: "[D]"}, bus, store)
	defer m.Close()

	m.OnAirPlayFound("AA:BB", "Kitchen", "192.168.1.50", "")
	d, ok := m.DeviceByAirPlayID("AA:BB")
	require.True(t, ok)

	enabled, restored := d.DSPState()
	assert.True(t, enabled)
	assert.Equal(t, -3.5, restored.EQ125)
}

func TestManagerLookupByUUID(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	m, _ := newTestManager(t, bus, false)
	defer m.Close()

	m.OnAirPlayFound("AA:BB", "Kitchen", "192.168.1.50", "")
	d, _ := m.DeviceByAirPlayID("AA:BB")

	found, ok := m.DeviceByUUID(d.DLNAUUID)
	require.True(t, ok)
	assert.Same(t, d, found)

	// Bare uuid without the scheme prefix also resolves.
	bare := d.DLNAUUID[len("uuid:"):]
	found, ok = m.DeviceByUUID(bare)
	require.True(t, ok)
	assert.Same(t, d, found)
}
