// Package upnp implements the DLNA frontend: SSDP discovery, per-device
// UPnP description documents, AVTransport/RenderingControl/ConnectionManager
// SOAP control and GENA event subscriptions, all on one HTTP port with
// device-id routing.
package upnp

import (
	"fmt"
	"io"
	"log"
	"math"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/unairplay/unairplay-go/internal/device"
	"github.com/unairplay/unairplay-go/internal/events"
	"github.com/unairplay/unairplay-go/internal/media"
)

func init() {
	chi.RegisterMethod("SUBSCRIBE")
	chi.RegisterMethod("UNSUBSCRIBE")
}

var timeoutHeaderRe = regexp.MustCompile(`Second-(\d+)`)
var callbackHeaderRe = regexp.MustCompile(`<([^>]+)>`)

// ServiceConfig configures the DLNA HTTP frontend.
type ServiceConfig struct {
	Host                string
	HTTPPort            int
	SubscriptionTimeout time.Duration
}

// Service is the DLNA control surface for every virtual renderer. Transport
// commands are published on the bus; state changes come back as events and
// fan out as GENA NOTIFY messages.
//
// Authorization: transport control requires an AVTransport subscription
// (fault 701). Stop, Pause, SetVolume and SetMute are further restricted to
// the active client, the control point that last issued SetAVTransportURI,
// Play or Seek. Controllers that cast without subscribing get a temporary
// subscription keyed to their IP so the binding still works.
type Service struct {
	cfg     ServiceConfig
	manager *device.Manager
	bus     *events.Bus
	subs    *subTable
	client  *http.Client

	subIDs []int64
}

// NewService builds the frontend around an existing device fleet.
func NewService(cfg ServiceConfig, manager *device.Manager, bus *events.Bus) *Service {
	if cfg.SubscriptionTimeout <= 0 {
		cfg.SubscriptionTimeout = 1800 * time.Second
	}
	return &Service{
		cfg:     cfg,
		manager: manager,
		bus:     bus,
		subs:    newSubTable(),
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// Attach wires the service to bus events. Call Close to detach.
func (s *Service) Attach() {
	s.subIDs = append(s.subIDs,
		s.bus.Subscribe(events.StateChanged, s.onStateChanged),
		s.bus.Subscribe(events.DeviceRemoved, s.onDeviceRemoved),
	)
}

// Close drops the bus subscriptions.
func (s *Service) Close() {
	for _, id := range s.subIDs {
		s.bus.Unsubscribe(id)
	}
	s.subIDs = nil
}

// RegisterRoutes mounts every DLNA endpoint on the router.
func (s *Service) RegisterRoutes(r chi.Router) {
	r.Get("/device/{deviceID}/device.xml", s.handleDeviceXML)
	r.Get("/device/{deviceID}/AVTransport.xml", serveSCPD(avTransportSCPD))
	r.Get("/device/{deviceID}/RenderingControl.xml", serveSCPD(renderingControlSCPD))
	r.Get("/device/{deviceID}/ConnectionManager.xml", serveSCPD(connectionManagerSCPD))
	r.Post("/device/{deviceID}/ctl/AVTransport", s.handleAVTransport)
	r.Post("/device/{deviceID}/ctl/RenderingControl", s.handleRenderingControl)
	r.Post("/device/{deviceID}/ctl/ConnectionManager", s.handleConnectionManager)
	r.Method("SUBSCRIBE", "/device/{deviceID}/evt/{service}", http.HandlerFunc(s.handleSubscribe))
	r.Method("UNSUBSCRIBE", "/device/{deviceID}/evt/{service}", http.HandlerFunc(s.handleUnsubscribe))
}

func (s *Service) deviceFromRequest(r *http.Request) (*device.VirtualDevice, bool) {
	return s.manager.Device(chi.URLParam(r, "deviceID"))
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func serveSCPD(doc string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeXML(w, http.StatusOK, doc)
	}
}

func (s *Service) handleDeviceXML(w http.ResponseWriter, r *http.Request) {
	d, ok := s.deviceFromRequest(r)
	if !ok {
		http.Error(w, "device not found", http.StatusNotFound)
		return
	}
	writeXML(w, http.StatusOK, deviceDescriptionXML(d))
}

// ================= AVTransport =================

func (s *Service) handleAVTransport(w http.ResponseWriter, r *http.Request) {
	d, ok := s.deviceFromRequest(r)
	if !ok {
		http.Error(w, "device not found", http.StatusNotFound)
		return
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	body := string(raw)
	action := parseSOAPAction(body)
	ip := clientIP(r)
	log.Printf("DLNA: %s from %s for %s", action, ip, d.Name())

	switch action {
	case "SetAVTransportURI":
		s.doSetAVTransportURI(w, d, body, ip)
	case "Play":
		s.doPlay(w, d, ip)
	case "Stop":
		s.doStopPause(w, d, ip, events.NewStop(d.ID), "Stop")
	case "Pause":
		s.doStopPause(w, d, ip, events.NewPause(d.ID), "Pause")
	case "Seek":
		s.doSeek(w, d, body, ip)
	case "GetPositionInfo":
		s.doGetPositionInfo(w, d)
	case "GetTransportInfo":
		writeSOAP(w, soapResponse("GetTransportInfo", serviceAVTransport, fmt.Sprintf(`
      <CurrentTransportState>%s</CurrentTransportState>
      <CurrentTransportStatus>OK</CurrentTransportStatus>
      <CurrentSpeed>1</CurrentSpeed>`, d.State())))
	case "GetMediaInfo":
		s.doGetMediaInfo(w, d)
	case "GetCurrentTransportActions":
		writeSOAP(w, soapResponse("GetCurrentTransportActions", serviceAVTransport,
			fmt.Sprintf("<Actions>%s</Actions>", transportActions(d.State()))))
	default:
		if action == "" {
			action = "Unknown"
		}
		writeSOAP(w, soapResponse(action, serviceAVTransport, ""))
	}
}

func (s *Service) doSetAVTransportURI(w http.ResponseWriter, d *device.VirtualDevice, body, ip string) {
	uriRaw, ok := soapArg(body, "CurrentURI")
	if !ok {
		writeFault(w, faultInvalidArgs, "CurrentURI missing")
		return
	}
	uri := xmlUnescape(uriRaw)

	meta := events.Metadata{}
	if metaRaw, ok := soapArg(body, "CurrentURIMetaData"); ok {
		meta = parseDIDL(xmlUnescape(metaRaw))
	}

	// Controllers that cast without subscribing still need a slot for the
	// play-url and the active-client binding.
	sub, ok := s.subs.FindByIP(d.ID, serviceAVTransport, ip)
	if !ok {
		sub = s.subs.AddTemporary(d.ID, ip)
		log.Printf("DLNA: temporary subscription for %s on %s", ip, d.Name())
	}
	s.subs.SetLastPlayURL(d.ID, sub.SID, uri)
	d.SetActiveClient(ip, sub.SID)

	d.SetTransportURI(uri, meta)
	writeSOAP(w, soapResponse("SetAVTransportURI", serviceAVTransport, ""))
}

func (s *Service) doPlay(w http.ResponseWriter, d *device.VirtualDevice, ip string) {
	sub, ok := s.subs.FindByIP(d.ID, serviceAVTransport, ip)
	if !ok {
		writeFault(w, faultNotAvailable, "no subscription for this device")
		return
	}

	url := s.subs.LastPlayURL(d.ID, sub.SID)
	if url == "" {
		url = d.CurrentURL()
	}
	if url == "" {
		writeFault(w, faultNotAvailable, "no media to play")
		return
	}

	position := 0.0
	if d.State() == device.StatePaused {
		position = d.CurrentPosition()
	}
	d.SetActiveClient(ip, sub.SID)

	log.Printf("DLNA: play %s on %s", url, d.Name())
	s.bus.Publish(events.NewPlay(d.ID, url, position, d.Meta()))
	writeSOAP(w, soapResponse("Play", serviceAVTransport, ""))
}

func (s *Service) doStopPause(w http.ResponseWriter, d *device.VirtualDevice, ip string, cmd events.Event, action string) {
	if _, ok := s.subs.FindByIP(d.ID, serviceAVTransport, ip); !ok {
		writeFault(w, faultNotAvailable, "no subscription for this device")
		return
	}
	if activeIP, _ := d.ActiveClient(); activeIP != "" && activeIP != ip {
		writeFault(w, faultNotAvailable, "transport is controlled by another client")
		return
	}

	log.Printf("DLNA: %s on %s", strings.ToLower(action), d.Name())
	s.bus.Publish(cmd)
	writeSOAP(w, soapResponse(action, serviceAVTransport, ""))
}

func (s *Service) doSeek(w http.ResponseWriter, d *device.VirtualDevice, body, ip string) {
	sub, ok := s.subs.FindByIP(d.ID, serviceAVTransport, ip)
	if !ok {
		writeFault(w, faultNotAvailable, "no subscription for this device")
		return
	}

	target, ok := soapArg(body, "Target")
	if !ok {
		writeFault(w, faultInvalidArgs, "Target missing")
		return
	}
	position, err := device.ParseTime(target)
	if err != nil {
		writeFault(w, faultInvalidArgs, "malformed seek target")
		return
	}
	if duration := d.Duration(); duration > 0 && position > duration {
		writeFault(w, faultInvalidSeekTarget, "seek target beyond track end")
		return
	}

	d.SetActiveClient(ip, sub.SID)

	// Some controllers re-send the current position in a tight loop; a
	// sub-second seek is treated as already satisfied.
	if math.Abs(position-d.CurrentPosition()) < 1.0 {
		writeSOAP(w, soapResponse("Seek", serviceAVTransport, ""))
		return
	}

	log.Printf("DLNA: seek to %s on %s", target, d.Name())
	s.bus.Publish(events.NewSeek(d.ID, position))
	writeSOAP(w, soapResponse("Seek", serviceAVTransport, ""))
}

func (s *Service) doGetPositionInfo(w http.ResponseWriter, d *device.VirtualDevice) {
	position := device.FormatTime(d.CurrentPosition())
	duration := device.FormatTime(d.Duration())
	writeSOAP(w, soapResponse("GetPositionInfo", serviceAVTransport, fmt.Sprintf(`
      <Track>1</Track>
      <TrackDuration>%s</TrackDuration>
      <TrackMetaData></TrackMetaData>
      <TrackURI>%s</TrackURI>
      <RelTime>%s</RelTime>
      <AbsTime>%s</AbsTime>
      <RelCount>2147483647</RelCount>
      <AbsCount>2147483647</AbsCount>`,
		duration, xmlEscape(d.CurrentURL()), position, position)))
}

func (s *Service) doGetMediaInfo(w http.ResponseWriter, d *device.VirtualDevice) {
	// Live streams report an unbounded (zero) duration rather than an
	// implausible one.
	duration := d.Duration()
	if media.IsStreamingDuration(duration) {
		duration = 0
	}
	writeSOAP(w, soapResponse("GetMediaInfo", serviceAVTransport, fmt.Sprintf(`
      <NrTracks>1</NrTracks>
      <MediaDuration>%s</MediaDuration>
      <CurrentURI>%s</CurrentURI>
      <CurrentURIMetaData></CurrentURIMetaData>
      <NextURI></NextURI>
      <NextURIMetaData></NextURIMetaData>
      <PlayMedium>NETWORK</PlayMedium>
      <RecordMedium>NOT_IMPLEMENTED</RecordMedium>
      <WriteStatus>NOT_IMPLEMENTED</WriteStatus>`,
		device.FormatTime(duration), xmlEscape(d.CurrentURL()))))
}

// ================= RenderingControl =================

func (s *Service) handleRenderingControl(w http.ResponseWriter, r *http.Request) {
	d, ok := s.deviceFromRequest(r)
	if !ok {
		http.Error(w, "device not found", http.StatusNotFound)
		return
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	body := string(raw)
	action := parseSOAPAction(body)
	ip := clientIP(r)

	switch action {
	case "GetVolume":
		volume, _ := d.Volume()
		writeSOAP(w, soapResponse("GetVolume", serviceRenderingControl,
			fmt.Sprintf("<CurrentVolume>%d</CurrentVolume>", volume)))

	case "GetMute":
		_, muted := d.Volume()
		value := "0"
		if muted {
			value = "1"
		}
		writeSOAP(w, soapResponse("GetMute", serviceRenderingControl,
			fmt.Sprintf("<CurrentMute>%s</CurrentMute>", value)))

	case "SetVolume":
		if !s.volumeAuthorized(d, ip) {
			writeFault(w, faultInvalidArgs, "volume is controlled by another client")
			return
		}
		raw, ok := soapArg(body, "DesiredVolume")
		if !ok {
			writeFault(w, faultInvalidArgs, "DesiredVolume missing")
			return
		}
		volume, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || volume < 0 || volume > 100 {
			writeFault(w, faultInvalidArgs, "DesiredVolume out of range")
			return
		}
		log.Printf("DLNA: volume %d on %s", volume, d.Name())
		s.bus.Publish(events.NewSetVolume(d.ID, volume))
		writeSOAP(w, soapResponse("SetVolume", serviceRenderingControl, ""))

	case "SetMute":
		if !s.volumeAuthorized(d, ip) {
			writeFault(w, faultInvalidArgs, "mute is controlled by another client")
			return
		}
		raw, ok := soapArg(body, "DesiredMute")
		if !ok {
			writeFault(w, faultInvalidArgs, "DesiredMute missing")
			return
		}
		var muted bool
		switch strings.TrimSpace(raw) {
		case "1":
			muted = true
		case "0":
			muted = false
		default:
			writeFault(w, faultInvalidArgs, "DesiredMute must be 0 or 1")
			return
		}
		s.bus.Publish(events.NewSetMute(d.ID, muted))
		writeSOAP(w, soapResponse("SetMute", serviceRenderingControl, ""))

	default:
		if action == "" {
			action = "Unknown"
		}
		writeSOAP(w, soapResponse(action, serviceRenderingControl, ""))
	}
}

// volumeAuthorized restricts volume and mute to the active client. An
// unbound device accepts anyone.
func (s *Service) volumeAuthorized(d *device.VirtualDevice, ip string) bool {
	activeIP, _ := d.ActiveClient()
	return activeIP == "" || activeIP == ip
}

func (s *Service) handleConnectionManager(w http.ResponseWriter, r *http.Request) {
	writeSOAP(w, soapResponse("GetProtocolInfo", "ConnectionManager",
		fmt.Sprintf("<Source></Source><Sink>%s</Sink>", sinkFormats)))
}

// ================= GENA =================

func (s *Service) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	d, ok := s.deviceFromRequest(r)
	if !ok {
		http.Error(w, "device not found", http.StatusNotFound)
		return
	}
	service := chi.URLParam(r, "service")
	timeout := parseTimeoutHeader(r.Header.Get("TIMEOUT"), s.cfg.SubscriptionTimeout)

	if sid := r.Header.Get("SID"); sid != "" {
		if !s.subs.Renew(d.ID, sid, timeout) {
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
		w.Header().Set("SID", sid)
		w.Header().Set("TIMEOUT", fmt.Sprintf("Second-%d", int(timeout.Seconds())))
		w.WriteHeader(http.StatusOK)
		return
	}

	match := callbackHeaderRe.FindStringSubmatch(r.Header.Get("CALLBACK"))
	if match == nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	callback := match[1]

	sub := s.subs.Add(d.ID, service, callback, clientIP(r), timeout, false)
	log.Printf("DLNA: new %s subscription from %s for %s", service, sub.ClientIP, d.Name())

	// SEQ 0 belongs to the initial event; claim it before the response goes
	// out so a concurrent state-change fan-out cannot take it first.
	initialSeq := -1
	if service == serviceAVTransport {
		if seq, ok := s.subs.ClaimSeq(d.ID, sub.SID); ok {
			initialSeq = seq
		}
	}

	w.Header().Set("SID", sub.SID)
	w.Header().Set("TIMEOUT", fmt.Sprintf("Second-%d", int(timeout.Seconds())))
	w.WriteHeader(http.StatusOK)

	if initialSeq >= 0 {
		go s.sendInitialNotify(d, sub.SID, callback, initialSeq)
	}
}

func (s *Service) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	d, ok := s.deviceFromRequest(r)
	if !ok {
		http.Error(w, "device not found", http.StatusNotFound)
		return
	}
	sid := r.Header.Get("SID")
	if sid == "" || !s.subs.Remove(d.ID, sid) {
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func parseTimeoutHeader(header string, fallback time.Duration) time.Duration {
	if match := timeoutHeaderRe.FindStringSubmatch(header); match != nil {
		if seconds, err := strconv.Atoi(match[1]); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}

// ================= NOTIFY fan-out =================

func (s *Service) onStateChanged(e events.Event) {
	payload, ok := e.Data.(events.StatePayload)
	if !ok {
		return
	}
	d, ok := s.manager.Device(e.DeviceID)
	if !ok {
		return
	}
	go s.notifySubscribers(d, payload.State)
}

func (s *Service) onDeviceRemoved(e events.Event) {
	s.subs.RemoveDevice(e.DeviceID)
}

// notifySubscribers delivers the transport state to every live AVTransport
// subscriber. The active client sees the true state; everyone else is told
// PAUSED_PLAYBACK so no second controller starts acting as the owner.
func (s *Service) notifySubscribers(d *device.VirtualDevice, state string) {
	targets := s.subs.ClaimAVTransportTargets(d.ID)
	if len(targets) == 0 {
		return
	}

	_, activeSID := d.ActiveClient()
	url := d.CurrentURL()

	for _, target := range targets {
		visible := state
		if target.SID != activeSID {
			visible = device.StatePaused
		}
		body := buildEventXML(visible, url)
		if err := s.sendNotify(target.Callback, target.SID, target.Seq, body); err != nil {
			log.Printf("DLNA: notify %s: %v", target.ClientIP, err)
		}
	}
}

func (s *Service) sendInitialNotify(d *device.VirtualDevice, sid, callback string, seq int) {
	body := buildEventXML(d.State(), d.CurrentURL())
	if err := s.sendNotify(callback, sid, seq, body); err != nil {
		log.Printf("DLNA: initial notify failed: %v", err)
	}
}

func (s *Service) sendNotify(callback, sid string, seq int, body string) error {
	req, err := http.NewRequest("NOTIFY", callback, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("NT", "upnp:event")
	req.Header.Set("NTS", "upnp:propchange")
	req.Header.Set("SID", sid)
	req.Header.Set("SEQ", strconv.Itoa(seq))
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify rejected with %d", resp.StatusCode)
	}
	return nil
}

func transportActions(state string) string {
	switch state {
	case device.StatePlaying:
		return "Pause,Stop,Seek"
	case device.StatePaused:
		return "Play,Stop"
	case device.StateTransitioning:
		return "Stop"
	default:
		return "Play"
	}
}

// buildEventXML renders the GENA propertyset with an escaped LastChange
// document inside.
func buildEventXML(state, url string) string {
	inner := fmt.Sprintf(`<Event xmlns="urn:schemas-upnp-org:metadata-1-0/AVT/">
  <InstanceID val="0">
    <TransportState val="%s"/>
    <TransportStatus val="OK"/>
    <CurrentTransportActions val="%s"/>
    <AVTransportURI val="%s"/>
    <CurrentTrackURI val="%s"/>
  </InstanceID>
</Event>`, state, transportActions(state), xmlEscape(url), xmlEscape(url))

	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<e:propertyset xmlns:e="urn:schemas-upnp-org:event-1-0">
  <e:property>
    <LastChange>%s</LastChange>
  </e:property>
</e:propertyset>`, xmlEscape(inner))
}
