// Package device holds the virtual renderer model: one VirtualDevice per
// discovered speaker (plus the optional server speaker), and the manager
// that keeps the fleet in sync with discovery results.
package device

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unairplay/unairplay-go/internal/dsp"
	"github.com/unairplay/unairplay-go/internal/events"
	"github.com/unairplay/unairplay-go/internal/media"
	"github.com/unairplay/unairplay-go/internal/output"
)

// Device types.
const (
	TypeAirPlay       = "airplay"
	TypeServerSpeaker = "server_speaker"
)

// DLNA transport states.
const (
	StateStopped       = "STOPPED"
	StatePlaying       = "PLAYING"
	StatePaused        = "PAUSED_PLAYBACK"
	StateTransitioning = "TRANSITIONING"
)

// ServerSpeakerID is the fixed device id of the host speaker renderer.
const ServerSpeakerID = "server_speaker"

// GenerateID derives a stable device id from an AirPlay identifier.
func GenerateID(airplayID string) string {
	sum := md5.Sum([]byte(airplayID))
	return hex.EncodeToString(sum[:])[:16]
}

func newDLNAUUID() string {
	return "uuid:dlna-bridge-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Snapshot is the JSON shape of a device handed to the control panel.
type Snapshot struct {
	ID         string `json:"device_id"`
	Name       string `json:"name"`
	DeviceType string `json:"device_type"`
	AirPlayID  string `json:"airplay_id,omitempty"`
	Address    string `json:"address,omitempty"`
	Model      string `json:"model,omitempty"`
	DLNAUUID   string `json:"dlna_uuid"`
	Connected  bool   `json:"connected"`

	State    string  `json:"playback_state"`
	Volume   int     `json:"volume"`
	Muted    bool    `json:"muted"`
	URL      string  `json:"current_url,omitempty"`
	Title    string  `json:"title,omitempty"`
	Artist   string  `json:"artist,omitempty"`
	Album    string  `json:"album,omitempty"`
	CoverURL string  `json:"cover_url,omitempty"`
	Duration float64 `json:"duration"`
	Position float64 `json:"position"`

	AudioCodec      string `json:"audio_codec,omitempty"`
	AudioBitrate    string `json:"audio_bitrate,omitempty"`
	AudioSampleRate int    `json:"audio_sample_rate,omitempty"`
	AudioChannels   int    `json:"audio_channels,omitempty"`
	IsStreaming     bool   `json:"is_streaming"`

	DSPEnabled bool         `json:"dsp_enabled"`
	DSP        dsp.Settings `json:"dsp_config"`
}

// VirtualDevice is one DLNA-facing renderer bound to one playback sink. It
// executes transport commands arriving on the bus, tracks playback position
// against a wall-clock anchor and owns the per-device DSP state.
type VirtualDevice struct {
	ID         string
	DeviceType string
	AirPlayID  string
	DLNAUUID   string

	now func() time.Time

	mu        sync.Mutex
	name      string
	address   string
	model     string
	connected bool

	state    string
	url      string
	meta     events.Metadata
	position float64   // seconds at the anchor
	anchor   time.Time // wall clock when position was recorded, PLAYING only

	audio media.MediaInfo

	volume int
	muted  bool

	dspEnabled  bool
	dspSettings dsp.Settings
	enhancer    *dsp.Enhancer

	activeIP  string
	activeSID string

	out output.Output
	bus *events.Bus
}

// NewAirPlayDevice builds the virtual renderer for a discovered speaker.
// suffix is appended to the advertised name so DLNA controllers can tell
// the bridge apart from any native endpoint.
func NewAirPlayDevice(airplayID, name, address, model, suffix string) *VirtualDevice {
	return &VirtualDevice{
		ID:          GenerateID(airplayID),
		DeviceType:  TypeAirPlay,
		AirPlayID:   airplayID,
		DLNAUUID:    newDLNAUUID(),
		now:         time.Now,
		name:        strings.TrimSpace(name + " " + suffix),
		address:     address,
		model:       model,
		connected:   true,
		state:       StateStopped,
		volume:      100,
		dspSettings: dsp.DefaultSettings(),
	}
}

// NewServerSpeaker builds the virtual renderer for the host sound device.
func NewServerSpeaker(name, suffix string) *VirtualDevice {
	return &VirtualDevice{
		ID:          ServerSpeakerID,
		DeviceType:  TypeServerSpeaker,
		DLNAUUID:    newDLNAUUID(),
		now:         time.Now,
		name:        strings.TrimSpace(name + " " + suffix),
		connected:   true,
		state:       StateStopped,
		volume:      100,
		dspSettings: dsp.DefaultSettings(),
	}
}

// AttachOutput binds the playback sink and its DSP chain. Must be called
// before commands are subscribed.
func (d *VirtualDevice) AttachOutput(out output.Output, enhancer *dsp.Enhancer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.out = out
	d.enhancer = enhancer
	if enhancer != nil {
		enhancer.Apply(d.dspSettings)
	}
}

// SubscribeCommands registers the transport and DSP command handlers for
// this device on the bus.
func (d *VirtualDevice) SubscribeCommands(bus *events.Bus) {
	d.mu.Lock()
	d.bus = bus
	d.mu.Unlock()

	bus.SubscribeDevice(d.ID, events.CmdPlay, d.handlePlay)
	bus.SubscribeDevice(d.ID, events.CmdStop, d.handleStop)
	bus.SubscribeDevice(d.ID, events.CmdPause, d.handlePause)
	bus.SubscribeDevice(d.ID, events.CmdSeek, d.handleSeek)
	bus.SubscribeDevice(d.ID, events.CmdSetVolume, d.handleSetVolume)
	bus.SubscribeDevice(d.ID, events.CmdSetMute, d.handleSetMute)
	bus.SubscribeDevice(d.ID, events.CmdSetDSP, d.handleSetDSP)
	bus.SubscribeDevice(d.ID, events.CmdResetDSP, d.handleResetDSP)
}

// UnsubscribeCommands removes every bus handler registered for this device.
func (d *VirtualDevice) UnsubscribeCommands() {
	d.mu.Lock()
	bus := d.bus
	d.mu.Unlock()
	if bus != nil {
		bus.UnsubscribeDevice(d.ID)
	}
}

func (d *VirtualDevice) publish(e events.Event) {
	d.mu.Lock()
	bus := d.bus
	d.mu.Unlock()
	if bus != nil {
		bus.Publish(e)
	}
}

func (d *VirtualDevice) handlePlay(e events.Event) {
	payload, ok := e.Data.(events.PlayPayload)
	if !ok {
		return
	}

	d.mu.Lock()
	if d.url != payload.URL {
		d.audio = media.MediaInfo{}
	}
	d.url = payload.URL
	d.meta = payload.Meta
	d.position = payload.Position
	d.anchor = d.now()
	d.state = StatePlaying
	needProbe := d.audio.Codec == ""
	out := d.out
	name := d.name
	d.mu.Unlock()

	if out != nil {
		if err := out.Play(payload.URL, payload.Position); err != nil {
			log.Printf("DEVICE: %s play failed: %v", name, err)
			d.mu.Lock()
			d.state = StateStopped
			d.position = 0
			d.mu.Unlock()
			d.publish(events.NewStateChanged(d.ID, StateStopped))
			return
		}
	}

	log.Printf("DEVICE: %s playing %s", name, payload.URL)
	d.publish(events.NewStateChanged(d.ID, StatePlaying))
	d.publish(events.NewMetadataUpdated(d.ID, payload.Meta))

	if needProbe {
		go d.probeAudio(payload.URL)
	}
}

// SetTransportURI records the track handed over by a DLNA SetAVTransportURI
// call. The device goes TRANSITIONING until the follow-up Play; stream
// details are probed in the background.
func (d *VirtualDevice) SetTransportURI(url string, meta events.Metadata) {
	d.mu.Lock()
	d.url = url
	d.meta = meta
	d.position = 0
	d.state = StateTransitioning
	d.audio = media.MediaInfo{}
	d.mu.Unlock()

	d.publish(events.NewStateChanged(d.ID, StateTransitioning))
	d.publish(events.NewMetadataUpdated(d.ID, meta))

	go d.probeAudio(url)
}

// probeAudio fills stream details in the background; a failed probe leaves
// the metadata from the play command untouched.
func (d *VirtualDevice) probeAudio(url string) {
	info, err := media.Probe(context.Background(), url)
	if err != nil {
		log.Printf("DEVICE: probe %s: %v", url, err)
		return
	}

	d.mu.Lock()
	if d.url != url {
		d.mu.Unlock()
		return
	}
	d.audio = *info
	if d.meta.Duration == 0 && info.Duration > 0 {
		d.meta.Duration = info.Duration
	}
	if d.meta.Title == "" {
		d.meta.Title = info.Title
	}
	if d.meta.Artist == "" {
		d.meta.Artist = info.Artist
	}
	if d.meta.Album == "" {
		d.meta.Album = info.Album
	}
	meta := d.meta
	d.mu.Unlock()

	d.publish(events.NewMetadataUpdated(d.ID, meta))
}

func (d *VirtualDevice) handleStop(events.Event) {
	d.mu.Lock()
	out := d.out
	d.state = StateStopped
	d.position = 0
	d.mu.Unlock()

	if out != nil {
		out.Stop()
	}
	d.publish(events.NewStateChanged(d.ID, StateStopped))
}

func (d *VirtualDevice) handlePause(events.Event) {
	d.mu.Lock()
	if d.state != StatePlaying {
		d.mu.Unlock()
		return
	}
	d.position += d.now().Sub(d.anchor).Seconds()
	d.state = StatePaused
	out := d.out
	d.mu.Unlock()

	if out != nil {
		out.Pause()
	}
	d.publish(events.NewStateChanged(d.ID, StatePaused))
}

func (d *VirtualDevice) handleSeek(e events.Event) {
	payload, ok := e.Data.(events.SeekPayload)
	if !ok {
		return
	}

	d.mu.Lock()
	d.position = payload.Position
	playing := d.state == StatePlaying
	if playing {
		d.anchor = d.now()
	}
	out := d.out
	url := d.url
	duration := d.meta.Duration
	d.mu.Unlock()

	// Restarting the stream at the new offset is the only seek both sinks
	// support.
	if playing && out != nil && url != "" {
		if err := out.Play(url, payload.Position); err != nil {
			log.Printf("DEVICE: seek restart failed: %v", err)
		}
	}
	d.publish(events.NewPositionUpdated(d.ID, payload.Position, duration))
}

func (d *VirtualDevice) handleSetVolume(e events.Event) {
	payload, ok := e.Data.(events.VolumePayload)
	if !ok {
		return
	}
	volume := payload.Volume
	if volume < 0 {
		volume = 0
	} else if volume > 100 {
		volume = 100
	}

	d.mu.Lock()
	d.volume = volume
	muted := d.muted
	out := d.out
	d.mu.Unlock()

	if out != nil {
		out.SetVolume(volume)
	}
	d.publish(events.NewVolumeChanged(d.ID, volume, muted))
}

func (d *VirtualDevice) handleSetMute(e events.Event) {
	payload, ok := e.Data.(events.MutePayload)
	if !ok {
		return
	}

	d.mu.Lock()
	d.muted = payload.Muted
	volume := d.volume
	out := d.out
	d.mu.Unlock()

	if out != nil {
		out.SetMute(payload.Muted)
	}
	d.publish(events.NewVolumeChanged(d.ID, volume, payload.Muted))
}

func (d *VirtualDevice) handleSetDSP(e events.Event) {
	payload, ok := e.Data.(events.DSPPayload)
	if !ok {
		return
	}

	d.mu.Lock()
	d.dspEnabled = payload.Enabled
	if payload.Settings != nil {
		d.dspSettings = *payload.Settings
	}
	settings := d.dspSettings
	enhancer := d.enhancer
	d.mu.Unlock()

	if enhancer != nil {
		enhancer.Apply(settings)
	}
	d.publish(events.NewDSPChanged(d.ID, payload.Enabled, settings))
}

func (d *VirtualDevice) handleResetDSP(events.Event) {
	settings := dsp.DefaultSettings()

	d.mu.Lock()
	d.dspEnabled = false
	d.dspSettings = settings
	enhancer := d.enhancer
	d.mu.Unlock()

	if enhancer != nil {
		enhancer.Apply(settings)
		enhancer.Reset()
	}
	d.publish(events.NewDSPChanged(d.ID, false, settings))
}

// CurrentPosition returns the playback position in seconds, extrapolated
// from the anchor while playing and clamped to the track duration.
func (d *VirtualDevice) CurrentPosition() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	position := d.position
	if d.state == StatePlaying {
		position += d.now().Sub(d.anchor).Seconds()
	}
	if d.meta.Duration > 0 && position > d.meta.Duration {
		position = d.meta.Duration
	}
	if position < 0 {
		position = 0
	}
	return position
}

// State returns the DLNA transport state.
func (d *VirtualDevice) State() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Name returns the advertised (suffixed) device name.
func (d *VirtualDevice) Name() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.name
}

// CurrentURL returns the media URL of the current or last track.
func (d *VirtualDevice) CurrentURL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url
}

// Meta returns the current track metadata.
func (d *VirtualDevice) Meta() events.Metadata {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.meta
}

// Volume returns the volume and mute flag, preferring the sink's live
// values over the device cache when the sink can be read.
func (d *VirtualDevice) Volume() (int, bool) {
	d.mu.Lock()
	volume, muted := d.volume, d.muted
	out := d.out
	d.mu.Unlock()

	if out != nil {
		if v, ok := out.Volume(); ok {
			volume = v
		}
		if m, ok := out.Muted(); ok {
			muted = m
		}
	}
	return volume, muted
}

// DSPEnabled reports whether the DSP chain should run. Outputs call this on
// the audio path.
func (d *VirtualDevice) DSPEnabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dspEnabled
}

// DSPState returns the enabled flag with the current settings snapshot.
func (d *VirtualDevice) DSPState() (bool, dsp.Settings) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dspEnabled, d.dspSettings
}

// ApplyStoredDSP restores persisted DSP state without publishing; used when
// a device is (re)created from the config store.
func (d *VirtualDevice) ApplyStoredDSP(enabled bool, settings dsp.Settings) {
	d.mu.Lock()
	d.dspEnabled = enabled
	d.dspSettings = settings
	enhancer := d.enhancer
	d.mu.Unlock()

	if enhancer != nil {
		enhancer.Apply(settings)
	}
}

// Duration returns the current track duration in seconds.
func (d *VirtualDevice) Duration() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.meta.Duration
}

// SetActiveClient binds the controller allowed to drive the transport.
func (d *VirtualDevice) SetActiveClient(ip, sid string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.activeIP = ip
	d.activeSID = sid
}

// ActiveClient returns the bound controller, empty strings when unbound.
func (d *VirtualDevice) ActiveClient() (ip, sid string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.activeIP, d.activeSID
}

// ClearActiveClient releases the transport binding.
func (d *VirtualDevice) ClearActiveClient() {
	d.SetActiveClient("", "")
}

// MarkStreamStart re-anchors the position clock when the first audio frame
// reaches the sink, so buffering time does not count as playback.
func (d *VirtualDevice) MarkStreamStart() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == StatePlaying {
		d.anchor = d.now()
	}
}

// MarkPlaybackDone records a naturally finished stream and notifies
// subscribers.
func (d *VirtualDevice) MarkPlaybackDone() {
	d.mu.Lock()
	if d.state != StatePlaying {
		d.mu.Unlock()
		return
	}
	d.state = StateStopped
	d.position = 0
	name := d.name
	d.mu.Unlock()

	log.Printf("DEVICE: %s playback finished", name)
	d.publish(events.NewStateChanged(d.ID, StateStopped))
}

// UpdateInfo refreshes discovery-sourced fields on a rescan hit and reports
// whether the device was offline before.
func (d *VirtualDevice) UpdateInfo(name, address, model string) (wasOffline bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	wasOffline = !d.connected
	if address != "" {
		d.address = address
	}
	if model != "" {
		d.model = model
	}
	d.connected = true
	return wasOffline
}

// SetConnected flips the reachability flag.
func (d *VirtualDevice) SetConnected(connected bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = connected
}

// Connected reports discovery reachability.
func (d *VirtualDevice) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// Output returns the attached playback sink.
func (d *VirtualDevice) Output() output.Output {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.out
}

// Enhancer returns the DSP chain shared with the sink.
func (d *VirtualDevice) Enhancer() *dsp.Enhancer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enhancer
}

// Snapshot captures the full device state for the control panel.
func (d *VirtualDevice) Snapshot() Snapshot {
	position := d.CurrentPosition()

	d.mu.Lock()
	defer d.mu.Unlock()

	snap := Snapshot{
		ID:          d.ID,
		Name:        d.name,
		DeviceType:  d.DeviceType,
		AirPlayID:   d.AirPlayID,
		Address:     d.address,
		Model:       d.model,
		DLNAUUID:    d.DLNAUUID,
		Connected:   d.connected,
		State:       d.state,
		Volume:      d.volume,
		Muted:       d.muted,
		URL:         d.url,
		Title:       d.meta.Title,
		Artist:      d.meta.Artist,
		Album:       d.meta.Album,
		CoverURL:    d.meta.CoverURL,
		Duration:    d.meta.Duration,
		Position:    position,
		IsStreaming: media.IsStreamingDuration(d.meta.Duration),
		DSPEnabled:  d.dspEnabled,
		DSP:         d.dspSettings,
	}
	if d.audio.Codec != "" {
		snap.AudioCodec = d.audio.Codec
		snap.AudioBitrate = media.FormatBitrate(d.audio.Bitrate)
		snap.AudioSampleRate = d.audio.SampleRate
		snap.AudioChannels = d.audio.Channels
	}
	return snap
}
