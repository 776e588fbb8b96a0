package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unairplay/unairplay-go/internal/device"
	"github.com/unairplay/unairplay-go/internal/events"
)

func newTestServer(t *testing.T) (*Server, *device.Manager, *events.Bus, chi.Router) {
	t.Helper()
	bus := events.NewBus()
	t.Cleanup(bus.Close)

	manager := device.NewManager(device.ManagerConfig{DeviceSuffix: "[D]"}, bus, nil)
	t.Cleanup(manager.Close)
	manager.OnAirPlayFound("AABBCCDDEEFF", "Kitchen", "192.168.1.50", "HomePod")

	s := NewServer(manager, bus)
	s.Attach()
	t.Cleanup(s.Close)

	router := chi.NewRouter()
	s.RegisterRoutes(router)
	return s, manager, bus, router
}

func kitchenID(t *testing.T, manager *device.Manager) string {
	t.Helper()
	d, ok := manager.DeviceByAirPlayID("AABBCCDDEEFF")
	require.True(t, ok)
	return d.ID
}

func TestDevicesEndpoint(t *testing.T) {
	_, _, _, router := newTestServer(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/devices", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var payload struct {
		Devices []device.Snapshot `json:"devices"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	require.Len(t, payload.Devices, 1)
	assert.Equal(t, "Kitchen [D]", payload.Devices[0].Name)
	assert.Equal(t, "airplay", payload.Devices[0].DeviceType)
}

func TestDeviceEndpoint(t *testing.T) {
	_, manager, _, router := newTestServer(t)
	id := kitchenID(t, manager)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/device/"+id, nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var snap device.Snapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	assert.Equal(t, id, snap.DeviceID)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/device/nope", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "device not found")
}

func TestSetDSPMergesPartialConfig(t *testing.T) {
	_, manager, bus, router := newTestServer(t)
	id := kitchenID(t, manager)

	var got []events.DSPPayload
	bus.Subscribe(events.CmdSetDSP, func(e events.Event) {
		got = append(got, e.Data.(events.DSPPayload))
	})

	body := `{"enabled": true, "config": {"eq_125": -3.5, "use_stereo": true}}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/device/"+id+"/dsp",
		strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].Settings)
	assert.True(t, got[0].Enabled)
	assert.InDelta(t, -3.5, got[0].Settings.EQ125, 0.001)
	assert.True(t, got[0].Settings.UseStereo)
	// Untouched keys keep their current values.
	assert.InDelta(t, 1.3, got[0].Settings.HighFreqGain, 0.001)
	assert.Equal(t, "fft", got[0].Settings.SpectralMode)
}

func TestSetDSPEnabledOnly(t *testing.T) {
	_, manager, bus, router := newTestServer(t)
	id := kitchenID(t, manager)

	var got []events.DSPPayload
	bus.Subscribe(events.CmdSetDSP, func(e events.Event) {
		got = append(got, e.Data.(events.DSPPayload))
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/device/"+id+"/dsp",
		strings.NewReader(`{"enabled": true}`)))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, got, 1)
	assert.True(t, got[0].Enabled)
	assert.Nil(t, got[0].Settings)
}

func TestSetDSPRejectsMalformedBody(t *testing.T) {
	_, manager, bus, router := newTestServer(t)
	id := kitchenID(t, manager)

	var published int
	bus.Subscribe(events.CmdSetDSP, func(events.Event) { published++ })

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/device/"+id+"/dsp",
		strings.NewReader(`{"enabled":`)))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Zero(t, published)
}

func TestResetDSP(t *testing.T) {
	_, manager, bus, router := newTestServer(t)
	id := kitchenID(t, manager)

	var resets int
	bus.Subscribe(events.CmdResetDSP, func(events.Event) { resets++ })

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/device/"+id+"/dsp/reset", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, resets)
}

func TestWebsocketPushesSnapshots(t *testing.T) {
	_, manager, bus, router := newTestServer(t)
	id := kitchenID(t, manager)

	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	readMessage := func() map[string]any {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var msg map[string]any
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	}

	// Connecting yields the current fleet immediately.
	msg := readMessage()
	assert.Equal(t, "devices", msg["type"])

	// A volume command flows through the device and back out as a fresh
	// snapshot push.
	bus.Publish(events.NewSetVolume(id, 55))
	msg = readMessage()
	assert.Equal(t, "devices", msg["type"])
	devices := msg["devices"].([]any)
	require.Len(t, devices, 1)
	assert.InDelta(t, 55, devices[0].(map[string]any)["volume"], 0.001)
}
