package upnp

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unairplay/unairplay-go/internal/device"
	"github.com/unairplay/unairplay-go/internal/events"
)

// trackURL points at a closed port so background probes fail immediately.
const trackURL = "http://127.0.0.1:1/track.mp3"

type testRig struct {
	bus     *events.Bus
	manager *device.Manager
	service *Service
	router  chi.Router
	device  *device.VirtualDevice
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	bus := events.NewBus()
	t.Cleanup(bus.Close)

	manager := device.NewManager(device.ManagerConfig{DeviceSuffix: "[D]"}, bus, nil)
	t.Cleanup(manager.Close)
	manager.OnAirPlayFound("AABBCCDDEEFF", "Kitchen", "192.168.1.50", "HomePod")
	d, ok := manager.DeviceByAirPlayID("AABBCCDDEEFF")
	require.True(t, ok)

	service := NewService(ServiceConfig{Host: "192.168.1.10", HTTPPort: 8088}, manager, bus)
	service.Attach()
	t.Cleanup(service.Close)

	router := chi.NewRouter()
	service.RegisterRoutes(router)

	return &testRig{bus: bus, manager: manager, service: service, router: router, device: d}
}

func soapBody(action, args string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">
  <s:Body><u:%s xmlns:u="urn:schemas-upnp-org:service:AVTransport:1"><InstanceID>0</InstanceID>%s</u:%s></s:Body>
</s:Envelope>`, action, args, action)
}

func (rig *testRig) control(service, action, args, ip string) *httptest.ResponseRecorder {
	body := soapBody(action, args)
	req := httptest.NewRequest(http.MethodPost,
		"/device/"+rig.device.ID+"/ctl/"+service, strings.NewReader(body))
	req.RemoteAddr = ip + ":50000"
	rr := httptest.NewRecorder()
	rig.router.ServeHTTP(rr, req)
	return rr
}

func (rig *testRig) subscribe(t *testing.T, ip, callback string) string {
	t.Helper()
	req := httptest.NewRequest("SUBSCRIBE",
		"/device/"+rig.device.ID+"/evt/AVTransport", nil)
	req.RemoteAddr = ip + ":50000"
	req.Header.Set("CALLBACK", "<"+callback+">")
	req.Header.Set("TIMEOUT", "Second-1800")
	rr := httptest.NewRecorder()
	rig.router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NotEmpty(t, rr.Header().Get("SID"))
	return rr.Header().Get("SID")
}

func (rig *testRig) castTrack(t *testing.T, ip string, duration float64) {
	t.Helper()
	meta := fmt.Sprintf(
		`&lt;item&gt;&lt;dc:title&gt;Song&lt;/dc:title&gt;&lt;res duration=%q&gt;x&lt;/res&gt;&lt;/item&gt;`,
		device.FormatTime(duration))
	rr := rig.control(serviceAVTransport, "SetAVTransportURI",
		"<CurrentURI>"+trackURL+"</CurrentURI><CurrentURIMetaData>"+meta+"</CurrentURIMetaData>", ip)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestDeviceDescriptionServed(t *testing.T) {
	rig := newTestRig(t)

	req := httptest.NewRequest(http.MethodGet, "/device/"+rig.device.ID+"/device.xml", nil)
	rr := httptest.NewRecorder()
	rig.router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Kitchen [D]")
	assert.Contains(t, rr.Body.String(), rig.device.DLNAUUID)
	assert.Contains(t, rr.Body.String(), "MediaRenderer")

	req = httptest.NewRequest(http.MethodGet, "/device/nope/device.xml", nil)
	rr = httptest.NewRecorder()
	rig.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCastWithoutSubscriptionCreatesTemporaryBinding(t *testing.T) {
	rig := newTestRig(t)

	rig.castTrack(t, "10.0.0.2", 180)

	assert.Equal(t, device.StateTransitioning, rig.device.State())
	assert.Equal(t, trackURL, rig.device.CurrentURL())
	assert.Equal(t, "Song", rig.device.Meta().Title)

	ip, sid := rig.device.ActiveClient()
	assert.Equal(t, "10.0.0.2", ip)
	assert.NotEmpty(t, sid)
	assert.Equal(t, trackURL, rig.service.subs.LastPlayURL(rig.device.ID, sid))
}

func TestPlayUsesSubscribersLastPlayURL(t *testing.T) {
	rig := newTestRig(t)

	var plays []events.PlayPayload
	rig.bus.Subscribe(events.CmdPlay, func(e events.Event) {
		plays = append(plays, e.Data.(events.PlayPayload))
	})

	rig.castTrack(t, "10.0.0.2", 180)
	rr := rig.control(serviceAVTransport, "Play", "<Speed>1</Speed>", "10.0.0.2")

	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, plays, 1)
	assert.Equal(t, trackURL, plays[0].URL)
	assert.Zero(t, plays[0].Position)
}

func TestPlayWithoutSubscriptionFaults(t *testing.T) {
	rig := newTestRig(t)

	rr := rig.control(serviceAVTransport, "Play", "<Speed>1</Speed>", "10.0.0.9")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "<errorCode>701</errorCode>")
}

func TestStopFromForeignClientRejected(t *testing.T) {
	rig := newTestRig(t)

	var stops int
	rig.bus.Subscribe(events.CmdStop, func(events.Event) { stops++ })

	rig.castTrack(t, "10.0.0.2", 180)
	rig.control(serviceAVTransport, "Play", "<Speed>1</Speed>", "10.0.0.2")

	// Unsubscribed foreign IP.
	rr := rig.control(serviceAVTransport, "Stop", "", "10.0.0.3")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "<errorCode>701</errorCode>")

	// Subscribed but not the active client.
	rig.subscribe(t, "10.0.0.3", "http://127.0.0.1:1/cb")
	rr = rig.control(serviceAVTransport, "Stop", "", "10.0.0.3")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Zero(t, stops)

	// The active client may stop.
	rr = rig.control(serviceAVTransport, "Stop", "", "10.0.0.2")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, stops)
}

func TestSeekValidation(t *testing.T) {
	rig := newTestRig(t)

	var seeks []float64
	rig.bus.Subscribe(events.CmdSeek, func(e events.Event) {
		seeks = append(seeks, e.Data.(events.SeekPayload).Position)
	})

	rig.castTrack(t, "10.0.0.2", 180)

	rr := rig.control(serviceAVTransport, "Seek",
		"<Unit>REL_TIME</Unit><Target>00:03:05</Target>", "10.0.0.2")
	assert.Contains(t, rr.Body.String(), "<errorCode>714</errorCode>")

	rr = rig.control(serviceAVTransport, "Seek",
		"<Unit>REL_TIME</Unit><Target>garbage</Target>", "10.0.0.2")
	assert.Contains(t, rr.Body.String(), "<errorCode>402</errorCode>")

	rr = rig.control(serviceAVTransport, "Seek",
		"<Unit>REL_TIME</Unit><Target>00:01:00</Target>", "10.0.0.2")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []float64{60}, seeks)

	// Within a second of the current position: acknowledged, not executed.
	rr = rig.control(serviceAVTransport, "Seek",
		"<Unit>REL_TIME</Unit><Target>00:01:00</Target>", "10.0.0.2")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, seeks, 1)
}

func TestVolumeGatedToActiveClient(t *testing.T) {
	rig := newTestRig(t)

	var volumes []int
	rig.bus.Subscribe(events.CmdSetVolume, func(e events.Event) {
		volumes = append(volumes, e.Data.(events.VolumePayload).Volume)
	})

	rig.castTrack(t, "10.0.0.2", 180)

	rr := rig.control(serviceRenderingControl, "SetVolume",
		"<Channel>Master</Channel><DesiredVolume>30</DesiredVolume>", "10.0.0.3")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "<errorCode>402</errorCode>")
	assert.Empty(t, volumes)

	rr = rig.control(serviceRenderingControl, "SetVolume",
		"<Channel>Master</Channel><DesiredVolume>30</DesiredVolume>", "10.0.0.2")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []int{30}, volumes)

	rr = rig.control(serviceRenderingControl, "SetVolume",
		"<Channel>Master</Channel><DesiredVolume>150</DesiredVolume>", "10.0.0.2")
	assert.Contains(t, rr.Body.String(), "<errorCode>402</errorCode>")
}

func TestGetPositionAndTransportInfo(t *testing.T) {
	rig := newTestRig(t)
	rig.castTrack(t, "10.0.0.2", 180)

	rr := rig.control(serviceAVTransport, "GetPositionInfo", "", "10.0.0.2")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "<TrackDuration>00:03:00</TrackDuration>")
	assert.Contains(t, rr.Body.String(), "<RelTime>00:00:00</RelTime>")

	rr = rig.control(serviceAVTransport, "GetTransportInfo", "", "10.0.0.2")
	assert.Contains(t, rr.Body.String(), "<CurrentTransportState>TRANSITIONING</CurrentTransportState>")
}

func TestGetMediaInfoReportsZeroDurationForLiveStreams(t *testing.T) {
	rig := newTestRig(t)

	rig.castTrack(t, "10.0.0.2", 180)
	rr := rig.control(serviceAVTransport, "GetMediaInfo", "", "10.0.0.2")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "<MediaDuration>00:03:00</MediaDuration>")

	// A 25h duration marks a live stream; DLNA clients expect 0 there.
	rig.castTrack(t, "10.0.0.2", 90000)
	rr = rig.control(serviceAVTransport, "GetMediaInfo", "", "10.0.0.2")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "<MediaDuration>00:00:00</MediaDuration>")
}

func TestGetProtocolInfoListsAudioSinks(t *testing.T) {
	rig := newTestRig(t)

	rr := rig.control("ConnectionManager", "GetProtocolInfo", "", "10.0.0.2")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "http-get:*:audio/flac:*")
	assert.Contains(t, rr.Body.String(), "http-get:*:audio/mpeg:*")
}

func TestSubscribeRenewUnsubscribe(t *testing.T) {
	rig := newTestRig(t)
	sid := rig.subscribe(t, "10.0.0.2", "http://127.0.0.1:1/cb")

	renew := httptest.NewRequest("SUBSCRIBE", "/device/"+rig.device.ID+"/evt/AVTransport", nil)
	renew.RemoteAddr = "10.0.0.2:50000"
	renew.Header.Set("SID", sid)
	renew.Header.Set("TIMEOUT", "Second-600")
	rr := httptest.NewRecorder()
	rig.router.ServeHTTP(rr, renew)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Second-600", rr.Header().Get("TIMEOUT"))

	bad := httptest.NewRequest("SUBSCRIBE", "/device/"+rig.device.ID+"/evt/AVTransport", nil)
	bad.RemoteAddr = "10.0.0.2:50000"
	bad.Header.Set("SID", "uuid:unknown")
	rr = httptest.NewRecorder()
	rig.router.ServeHTTP(rr, bad)
	assert.Equal(t, http.StatusPreconditionFailed, rr.Code)

	unsub := httptest.NewRequest("UNSUBSCRIBE", "/device/"+rig.device.ID+"/evt/AVTransport", nil)
	unsub.RemoteAddr = "10.0.0.2:50000"
	unsub.Header.Set("SID", sid)
	rr = httptest.NewRecorder()
	rig.router.ServeHTTP(rr, unsub)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	rig.router.ServeHTTP(rr, unsub)
	assert.Equal(t, http.StatusPreconditionFailed, rr.Code)
}

type notifyRecord struct {
	Path string
	SID  string
	Seq  string
	Body string
}

func TestNotifyFanOutOverridesInactiveSubscribers(t *testing.T) {
	rig := newTestRig(t)

	notifies := make(chan notifyRecord, 16)
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		notifies <- notifyRecord{
			Path: r.URL.Path,
			SID:  r.Header.Get("SID"),
			Seq:  r.Header.Get("SEQ"),
			Body: string(body),
		}
	}))
	defer receiver.Close()

	activeSID := rig.subscribe(t, "10.0.0.2", receiver.URL+"/active")
	rig.subscribe(t, "10.0.0.3", receiver.URL+"/other")

	// Initial NOTIFYs carry the true (stopped) state with SEQ 0.
	for i := 0; i < 2; i++ {
		select {
		case rec := <-notifies:
			assert.Equal(t, "0", rec.Seq)
			assert.Contains(t, rec.Body, "STOPPED")
		case <-time.After(2 * time.Second):
			t.Fatal("initial NOTIFY not delivered")
		}
	}

	rig.device.SetActiveClient("10.0.0.2", activeSID)
	rig.bus.Publish(events.NewStateChanged(rig.device.ID, device.StatePlaying))

	got := make(map[string]notifyRecord)
	for i := 0; i < 2; i++ {
		select {
		case rec := <-notifies:
			got[rec.Path] = rec
		case <-time.After(2 * time.Second):
			t.Fatal("state NOTIFY not delivered")
		}
	}

	require.Contains(t, got, "/active")
	require.Contains(t, got, "/other")
	assert.Contains(t, got["/active"].Body, "PLAYING")
	assert.NotContains(t, got["/other"].Body, `TransportState val=&quot;PLAYING&quot;`)
	assert.Contains(t, got["/other"].Body, "PAUSED_PLAYBACK")
	assert.Equal(t, "1", got["/active"].Seq)
	assert.Equal(t, "1", got["/other"].Seq)
}

// A state change racing the subscription must not steal SEQ 0: the initial
// NOTIFY owns it, the fan-out gets SEQ 1, whichever is delivered first.
func TestInitialNotifyOwnsSequenceZero(t *testing.T) {
	rig := newTestRig(t)

	notifies := make(chan notifyRecord, 16)
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		notifies <- notifyRecord{
			SID:  r.Header.Get("SID"),
			Seq:  r.Header.Get("SEQ"),
			Body: string(body),
		}
	}))
	defer receiver.Close()

	sid := rig.subscribe(t, "10.0.0.2", receiver.URL+"/cb")
	rig.device.SetActiveClient("10.0.0.2", sid)
	rig.bus.Publish(events.NewStateChanged(rig.device.ID, device.StatePlaying))

	bySeq := make(map[string]notifyRecord)
	for i := 0; i < 2; i++ {
		select {
		case rec := <-notifies:
			bySeq[rec.Seq] = rec
		case <-time.After(2 * time.Second):
			t.Fatal("NOTIFY not delivered")
		}
	}

	require.Contains(t, bySeq, "0")
	require.Contains(t, bySeq, "1")
	assert.Contains(t, bySeq["0"].Body, "STOPPED")
	assert.Contains(t, bySeq["1"].Body, "PLAYING")
}
