package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unairplay/unairplay-go/internal/device"
	"github.com/unairplay/unairplay-go/internal/events"
	"github.com/unairplay/unairplay-go/internal/upnp"
	"github.com/unairplay/unairplay-go/internal/web"
)

func TestWebHandlerServesHealthAndPanel(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	manager := device.NewManager(device.ManagerConfig{DeviceSuffix: "[D]"}, bus, nil)
	defer manager.Close()

	panel := web.NewServer(manager, bus)
	handler := NewWebHandler(panel)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"healthy"`)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/devices", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestDLNAHandlerServesDescriptions(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	manager := device.NewManager(device.ManagerConfig{DeviceSuffix: "[D]"}, bus, nil)
	defer manager.Close()
	manager.OnAirPlayFound("AABBCCDDEEFF", "Kitchen", "192.168.1.50", "HomePod")
	d, ok := manager.DeviceByAirPlayID("AABBCCDDEEFF")
	require.True(t, ok)

	service := upnp.NewService(upnp.ServiceConfig{Host: "192.168.1.10", HTTPPort: 8088}, manager, bus)
	handler := NewDLNAHandler(service)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/device/"+d.ID+"/device.xml", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "MediaRenderer")
}
