// Package web serves the control panel API and the websocket state feed on
// the web port, separate from the DLNA frontend. Handlers never touch device
// state directly; every mutation is published as a command on the bus.
package web

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/unairplay/unairplay-go/internal/api"
	"github.com/unairplay/unairplay-go/internal/device"
	"github.com/unairplay/unairplay-go/internal/events"
)

const clientSendBuffer = 8

// Server is the control panel backend.
type Server struct {
	manager  *device.Manager
	bus      *events.Bus
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte

	subIDs []int64
}

// NewServer builds the panel backend around the fleet.
func NewServer(manager *device.Manager, bus *events.Bus) *Server {
	return &Server{
		manager: manager,
		bus:     bus,
		upgrader: websocket.Upgrader{
			// Panel and bridge share the LAN; same-origin checks only get in
			// the way of the local frontend.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]chan []byte),
	}
}

// Attach subscribes to the bus events that change what the panel displays.
func (s *Server) Attach() {
	for _, t := range []events.Type{
		events.StateChanged,
		events.MetadataUpdated,
		events.VolumeChanged,
		events.DSPChanged,
		events.DeviceAdded,
		events.DeviceRemoved,
		events.DeviceConnected,
		events.DeviceDisconnected,
	} {
		s.subIDs = append(s.subIDs, s.bus.Subscribe(t, s.onDeviceEvent))
	}
}

// Close detaches from the bus and disconnects every websocket client.
func (s *Server) Close() {
	for _, id := range s.subIDs {
		s.bus.Unsubscribe(id)
	}
	s.subIDs = nil

	s.mu.Lock()
	clients := s.clients
	s.clients = make(map[*websocket.Conn]chan []byte)
	s.mu.Unlock()

	for conn, send := range clients {
		close(send)
		conn.Close()
	}
}

// RegisterRoutes mounts the panel API.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Method(http.MethodGet, "/api/devices", api.Handler(s.handleDevices))
	r.Method(http.MethodGet, "/api/device/{deviceID}", api.Handler(s.handleDevice))
	r.Method(http.MethodPost, "/api/device/{deviceID}/dsp", api.Handler(s.handleSetDSP))
	r.Method(http.MethodPost, "/api/device/{deviceID}/dsp/reset", api.Handler(s.handleResetDSP))
	r.Get("/ws", s.handleWebsocket)
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) error {
	return api.WriteJSON(w, http.StatusOK, map[string]any{
		"devices": s.manager.Snapshots(),
	})
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) error {
	d, ok := s.manager.Device(chi.URLParam(r, "deviceID"))
	if !ok {
		return api.Errorf(http.StatusNotFound, "device not found")
	}
	return api.WriteJSON(w, http.StatusOK, d.Snapshot())
}

func (s *Server) handleSetDSP(w http.ResponseWriter, r *http.Request) error {
	d, ok := s.manager.Device(chi.URLParam(r, "deviceID"))
	if !ok {
		return api.Errorf(http.StatusNotFound, "device not found")
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return api.Errorf(http.StatusBadRequest, "read body: %v", err)
	}
	var req struct {
		Enabled bool            `json:"enabled"`
		Config  json.RawMessage `json:"config"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return api.Errorf(http.StatusBadRequest, "malformed request: %v", err)
	}

	if len(req.Config) == 0 {
		s.bus.Publish(events.NewSetDSP(d.ID, req.Enabled, nil))
		return api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}

	// Partial updates overlay the device's current settings so a panel that
	// sends a single slider value does not reset the rest.
	_, settings := d.DSPState()
	if err := settings.Merge(req.Config); err != nil {
		return api.Errorf(http.StatusBadRequest, "malformed dsp config: %v", err)
	}
	log.Printf("WEB: dsp update for %s (enabled=%v)", d.Name(), req.Enabled)
	s.bus.Publish(events.NewSetDSP(d.ID, req.Enabled, &settings))
	return api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleResetDSP(w http.ResponseWriter, r *http.Request) error {
	d, ok := s.manager.Device(chi.URLParam(r, "deviceID"))
	if !ok {
		return api.Errorf(http.StatusNotFound, "device not found")
	}
	log.Printf("WEB: dsp reset for %s", d.Name())
	s.bus.Publish(events.NewResetDSP(d.ID))
	return api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ================= websocket feed =================

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WEB: websocket upgrade: %v", err)
		return
	}

	send := make(chan []byte, clientSendBuffer)
	s.mu.Lock()
	s.clients[conn] = send
	s.mu.Unlock()

	go s.writeLoop(conn, send)
	go s.readLoop(conn)

	if msg, err := s.snapshotMessage(); err == nil {
		select {
		case send <- msg:
		default:
		}
	}
}

func (s *Server) writeLoop(conn *websocket.Conn, send chan []byte) {
	for msg := range send {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			s.dropClient(conn)
			break
		}
	}
	conn.Close()
}

// readLoop discards client frames; its job is noticing the disconnect.
func (s *Server) readLoop(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.dropClient(conn)
			return
		}
	}
}

func (s *Server) dropClient(conn *websocket.Conn) {
	s.mu.Lock()
	send, ok := s.clients[conn]
	if ok {
		delete(s.clients, conn)
	}
	s.mu.Unlock()

	if ok {
		close(send)
	}
}

func (s *Server) onDeviceEvent(events.Event) {
	msg, err := s.snapshotMessage()
	if err != nil {
		log.Printf("WEB: snapshot marshal: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, send := range s.clients {
		// Slow clients lose updates, never block the bus.
		select {
		case send <- msg:
		default:
		}
	}
}

func (s *Server) snapshotMessage() ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":    "devices",
		"devices": s.manager.Snapshots(),
	})
}
