package upnp

import (
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/unairplay/unairplay-go/internal/device"
	"github.com/unairplay/unairplay-go/internal/events"
)

const ssdpMulticastAddr = "239.255.255.250:1900"

// SSDPConfig ties the responder to the HTTP frontend.
type SSDPConfig struct {
	Host           string // LAN address advertised in LOCATION urls
	HTTPPort       int
	MaxAge         int // CACHE-CONTROL seconds
	NotifyInterval time.Duration
}

const ssdpServerHeader = "unairplay/2.0 UPnP/1.0"

// SSDP answers M-SEARCH queries and advertises every virtual renderer with
// periodic ssdp:alive announcements. One multicast socket serves all
// devices; each renderer is announced under its own DLNA uuid.
type SSDP struct {
	cfg     SSDPConfig
	manager *device.Manager
	bus     *events.Bus

	mu      sync.Mutex
	conn    *net.UDPConn
	running bool
	done    chan struct{}
	uuids   map[string]string // device id -> DLNA uuid, survives removal until byebye
	wg      sync.WaitGroup

	subIDs []int64
}

// NewSSDP creates a stopped responder.
func NewSSDP(cfg SSDPConfig, manager *device.Manager, bus *events.Bus) *SSDP {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 1800
	}
	if cfg.NotifyInterval <= 0 {
		cfg.NotifyInterval = 30 * time.Second
	}
	return &SSDP{cfg: cfg, manager: manager, bus: bus, uuids: make(map[string]string)}
}

// Start joins the SSDP multicast group and begins answering and
// advertising.
func (s *SSDP) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	addr, err := net.ResolveUDPAddr("udp4", ssdpMulticastAddr)
	if err != nil {
		return fmt.Errorf("resolve ssdp address: %w", err)
	}
	conn, err := net.ListenMulticastUDP("udp4", nil, addr)
	if err != nil {
		return fmt.Errorf("join ssdp multicast: %w", err)
	}

	s.conn = conn
	s.running = true
	s.done = make(chan struct{})
	for _, d := range s.manager.All() {
		s.uuids[d.ID] = d.DLNAUUID
	}
	s.subIDs = append(s.subIDs,
		s.bus.Subscribe(events.DeviceAdded, s.onDeviceAdded),
		s.bus.Subscribe(events.DeviceRemoved, s.onDeviceRemoved),
	)

	s.wg.Add(2)
	go s.listen()
	go s.advertise()

	log.Printf("SSDP: listener started on %s", ssdpMulticastAddr)
	return nil
}

// onDeviceAdded records the renderer's uuid and announces it right away
// instead of waiting for the next periodic alive.
func (s *SSDP) onDeviceAdded(e events.Event) {
	d, ok := s.manager.Device(e.DeviceID)
	if !ok {
		return
	}
	s.mu.Lock()
	running := s.running
	s.uuids[d.ID] = d.DLNAUUID
	s.mu.Unlock()

	if running {
		s.sendNotify(d.ID, d.DLNAUUID, "ssdp:alive")
	}
}

// onDeviceRemoved says goodbye for a renderer that is already gone from the
// fleet, using the uuid cached at announce time.
func (s *SSDP) onDeviceRemoved(e events.Event) {
	s.mu.Lock()
	dlnaUUID, ok := s.uuids[e.DeviceID]
	delete(s.uuids, e.DeviceID)
	running := s.running
	s.mu.Unlock()

	if ok && running {
		s.sendNotify(e.DeviceID, dlnaUUID, "ssdp:byebye")
	}
}

// Stop multicasts ssdp:byebye for every device and closes the socket.
func (s *SSDP) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.done)
	conn := s.conn
	s.mu.Unlock()

	for _, id := range s.subIDs {
		s.bus.Unsubscribe(id)
	}
	s.subIDs = nil

	s.notifyAll("ssdp:byebye")
	if conn != nil {
		conn.Close()
	}
	s.wg.Wait()
	log.Printf("SSDP: stopped")
}

func (s *SSDP) listen() {
	defer s.wg.Done()
	buf := make([]byte, 4096)

	for {
		select {
		case <-s.done:
			return
		default:
		}

		s.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, remote, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-s.done:
				return
			default:
				log.Printf("SSDP: read: %v", err)
				time.Sleep(time.Second)
				continue
			}
		}

		message := string(buf[:n])
		if strings.HasPrefix(message, "M-SEARCH") {
			s.handleSearch(message, remote)
		}
	}
}

// handleSearch replies unicast with one response per device per matching
// search target.
func (s *SSDP) handleSearch(message string, remote *net.UDPAddr) {
	for _, d := range s.manager.All() {
		for _, st := range ssdpTargets {
			if !strings.Contains(message, st) && !strings.Contains(message, "ssdp:all") {
				continue
			}
			response := s.buildSearchResponse(d.ID, d.DLNAUUID, st)
			if _, err := s.conn.WriteToUDP(response, remote); err != nil {
				log.Printf("SSDP: search response to %s: %v", remote.IP, err)
			}
		}
	}
}

func (s *SSDP) advertise() {
	defer s.wg.Done()

	s.notifyAll("ssdp:alive")
	ticker := time.NewTicker(s.cfg.NotifyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.notifyAll("ssdp:alive")
		}
	}
}

func (s *SSDP) notifyAll(nts string) {
	for _, d := range s.manager.All() {
		s.sendNotify(d.ID, d.DLNAUUID, nts)
	}
}

func (s *SSDP) sendNotify(deviceID, dlnaUUID, nts string) {
	addr, err := net.ResolveUDPAddr("udp4", ssdpMulticastAddr)
	if err != nil {
		return
	}
	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		log.Printf("SSDP: notify dial: %v", err)
		return
	}
	defer conn.Close()

	for _, nt := range ssdpTargets {
		if _, err := conn.Write(s.buildNotify(deviceID, dlnaUUID, nt, nts)); err != nil {
			log.Printf("SSDP: notify send: %v", err)
			return
		}
	}
}

func (s *SSDP) location(deviceID string) string {
	return fmt.Sprintf("http://%s:%d/device/%s/device.xml", s.cfg.Host, s.cfg.HTTPPort, deviceID)
}

func (s *SSDP) buildSearchResponse(deviceID, dlnaUUID, st string) []byte {
	return []byte(fmt.Sprintf(
		"HTTP/1.1 200 OK\r\n"+
			"LOCATION: %s\r\n"+
			"ST: %s\r\n"+
			"USN: %s::%s\r\n"+
			"CACHE-CONTROL: max-age=%d\r\n"+
			"SERVER: %s\r\n"+
			"EXT:\r\n"+
			"\r\n",
		s.location(deviceID), st, dlnaUUID, st, s.cfg.MaxAge, ssdpServerHeader))
}

func (s *SSDP) buildNotify(deviceID, dlnaUUID, nt, nts string) []byte {
	return []byte(fmt.Sprintf(
		"NOTIFY * HTTP/1.1\r\n"+
			"HOST: %s\r\n"+
			"NT: %s\r\n"+
			"NTS: %s\r\n"+
			"USN: %s::%s\r\n"+
			"LOCATION: %s\r\n"+
			"CACHE-CONTROL: max-age=%d\r\n"+
			"SERVER: %s\r\n"+
			"\r\n",
		ssdpMulticastAddr, nt, nts, dlnaUUID, nt, s.location(deviceID), s.cfg.MaxAge, ssdpServerHeader))
}
