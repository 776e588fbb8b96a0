package upnp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unairplay/unairplay-go/internal/device"
	"github.com/unairplay/unairplay-go/internal/events"
)

func newTestSSDP(t *testing.T) (*SSDP, *device.Manager) {
	t.Helper()
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	manager := device.NewManager(device.ManagerConfig{DeviceSuffix: "[D]"}, bus, nil)
	t.Cleanup(manager.Close)
	return NewSSDP(SSDPConfig{Host: "192.168.1.10", HTTPPort: 8088}, manager, bus), manager
}

func TestSearchResponseFormat(t *testing.T) {
	s, _ := newTestSSDP(t)

	resp := string(s.buildSearchResponse("dev1", "uuid:dlna-bridge-abcd1234",
		"urn:schemas-upnp-org:device:MediaRenderer:1"))

	assert.Contains(t, resp, "HTTP/1.1 200 OK\r\n")
	assert.Contains(t, resp, "LOCATION: http://192.168.1.10:8088/device/dev1/device.xml\r\n")
	assert.Contains(t, resp, "USN: uuid:dlna-bridge-abcd1234::urn:schemas-upnp-org:device:MediaRenderer:1\r\n")
	assert.Contains(t, resp, "CACHE-CONTROL: max-age=1800\r\n")
	assert.Contains(t, resp, "SERVER: unairplay/2.0 UPnP/1.0\r\n")
	assert.Contains(t, resp, "EXT:\r\n")
}

func TestNotifyFormat(t *testing.T) {
	s, _ := newTestSSDP(t)

	msg := string(s.buildNotify("dev1", "uuid:dlna-bridge-abcd1234",
		"upnp:rootdevice", "ssdp:byebye"))

	assert.Contains(t, msg, "NOTIFY * HTTP/1.1\r\n")
	assert.Contains(t, msg, "HOST: 239.255.255.250:1900\r\n")
	assert.Contains(t, msg, "NT: upnp:rootdevice\r\n")
	assert.Contains(t, msg, "NTS: ssdp:byebye\r\n")
	assert.Contains(t, msg, "USN: uuid:dlna-bridge-abcd1234::upnp:rootdevice\r\n")
}

func TestSearchTargetsCoverRendererServices(t *testing.T) {
	require.Len(t, ssdpTargets, 5)
	assert.Contains(t, ssdpTargets, "upnp:rootdevice")
	assert.Contains(t, ssdpTargets, "urn:schemas-upnp-org:device:MediaRenderer:1")
	assert.Contains(t, ssdpTargets, "urn:schemas-upnp-org:service:AVTransport:1")
	assert.Contains(t, ssdpTargets, "urn:schemas-upnp-org:service:RenderingControl:1")
	assert.Contains(t, ssdpTargets, "urn:schemas-upnp-org:service:ConnectionManager:1")
}

func TestUUIDCacheFollowsLifecycleEvents(t *testing.T) {
	s, manager := newTestSSDP(t)
	manager.OnAirPlayFound("AABBCCDDEEFF", "Kitchen", "192.168.1.50", "HomePod")
	d, ok := manager.DeviceByAirPlayID("AABBCCDDEEFF")
	require.True(t, ok)

	s.onDeviceAdded(events.NewDeviceAdded(d.ID, events.DeviceInfoPayload{}))
	assert.Equal(t, d.DLNAUUID, s.uuids[d.ID])

	// Removal consumes the cached uuid even though the manager no longer
	// knows the device.
	s.onDeviceRemoved(events.NewDeviceRemoved(d.ID))
	_, cached := s.uuids[d.ID]
	assert.False(t, cached)
}
