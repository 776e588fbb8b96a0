// Package events defines the in-process event bus that decouples the DLNA
// frontend, the web panel, the device layer and the outputs. Components
// communicate only by publishing and subscribing; nobody holds a reference
// across layer boundaries.
package events

import (
	"time"

	"github.com/unairplay/unairplay-go/internal/dsp"
)

// Type identifies an event.
type Type string

// Command events, published by the DLNA service and the web panel and
// consumed by the owning VirtualDevice.
const (
	CmdPlay      Type = "CMD_PLAY"
	CmdStop      Type = "CMD_STOP"
	CmdPause     Type = "CMD_PAUSE"
	CmdSeek      Type = "CMD_SEEK"
	CmdSetVolume Type = "CMD_SET_VOLUME"
	CmdSetMute   Type = "CMD_SET_MUTE"
	CmdSetDSP    Type = "CMD_SET_DSP"
	CmdResetDSP  Type = "CMD_RESET_DSP"
)

// Device lifecycle events, published by the DeviceManager.
const (
	DeviceAdded              Type = "DEVICE_ADDED"
	DeviceRemoved            Type = "DEVICE_REMOVED"
	DeviceConnected          Type = "DEVICE_CONNECTED"
	DeviceDisconnected       Type = "DEVICE_DISCONNECTED"
	DeviceOfflineThresholdHit Type = "DEVICE_OFFLINE_THRESHOLD_REACHED"
)

// State events, published by VirtualDevice.
const (
	StateChanged    Type = "STATE_CHANGED"
	PositionUpdated Type = "POSITION_UPDATED"
	MetadataUpdated Type = "METADATA_UPDATED"
	DSPChanged      Type = "DSP_CHANGED"
	VolumeChanged   Type = "VOLUME_CHANGED"
)

// System events.
const (
	SystemStartup  Type = "SYSTEM_STARTUP"
	SystemShutdown Type = "SYSTEM_SHUTDOWN"
)

// Event is a single bus message. DeviceID is empty for broadcast events.
// Data holds one of the payload structs below, keyed by Type.
type Event struct {
	Type     Type
	DeviceID string
	Data     any
	Time     time.Time
}

// Metadata describes the track attached to a play command.
type Metadata struct {
	Title    string
	Artist   string
	Album    string
	CoverURL string
	Duration float64
}

// PlayPayload carries CmdPlay.
type PlayPayload struct {
	URL      string
	Position float64
	Meta     Metadata
}

// SeekPayload carries CmdSeek.
type SeekPayload struct {
	Position float64
}

// VolumePayload carries CmdSetVolume and VolumeChanged.
type VolumePayload struct {
	Volume int
	Muted  bool
}

// MutePayload carries CmdSetMute.
type MutePayload struct {
	Muted bool
}

// DSPPayload carries CmdSetDSP and DSPChanged. Settings is nil on a set
// command that only flips the enabled bit.
type DSPPayload struct {
	Enabled  bool
	Settings *dsp.Settings
}

// StatePayload carries StateChanged.
type StatePayload struct {
	State string
}

// PositionPayload carries PositionUpdated.
type PositionPayload struct {
	Position float64
	Duration float64
}

// DeviceInfoPayload carries DeviceAdded.
type DeviceInfoPayload struct {
	Name       string
	DeviceType string
	Address    string
	Model      string
}

// OfflinePayload carries DeviceOfflineThresholdHit.
type OfflinePayload struct {
	AirPlayID string
}

func newEvent(t Type, deviceID string, data any) Event {
	return Event{Type: t, DeviceID: deviceID, Data: data, Time: time.Now()}
}

// Factories keep publish sites short and payload types consistent.

func NewPlay(deviceID, url string, position float64, meta Metadata) Event {
	return newEvent(CmdPlay, deviceID, PlayPayload{URL: url, Position: position, Meta: meta})
}

func NewStop(deviceID string) Event  { return newEvent(CmdStop, deviceID, nil) }
func NewPause(deviceID string) Event { return newEvent(CmdPause, deviceID, nil) }

func NewSeek(deviceID string, position float64) Event {
	return newEvent(CmdSeek, deviceID, SeekPayload{Position: position})
}

func NewSetVolume(deviceID string, volume int) Event {
	return newEvent(CmdSetVolume, deviceID, VolumePayload{Volume: volume})
}

func NewSetMute(deviceID string, muted bool) Event {
	return newEvent(CmdSetMute, deviceID, MutePayload{Muted: muted})
}

func NewSetDSP(deviceID string, enabled bool, settings *dsp.Settings) Event {
	return newEvent(CmdSetDSP, deviceID, DSPPayload{Enabled: enabled, Settings: settings})
}

func NewResetDSP(deviceID string) Event { return newEvent(CmdResetDSP, deviceID, nil) }

func NewStateChanged(deviceID, state string) Event {
	return newEvent(StateChanged, deviceID, StatePayload{State: state})
}

func NewPositionUpdated(deviceID string, position, duration float64) Event {
	return newEvent(PositionUpdated, deviceID, PositionPayload{Position: position, Duration: duration})
}

func NewMetadataUpdated(deviceID string, meta Metadata) Event {
	return newEvent(MetadataUpdated, deviceID, meta)
}

func NewDSPChanged(deviceID string, enabled bool, settings dsp.Settings) Event {
	s := settings
	return newEvent(DSPChanged, deviceID, DSPPayload{Enabled: enabled, Settings: &s})
}

func NewVolumeChanged(deviceID string, volume int, muted bool) Event {
	return newEvent(VolumeChanged, deviceID, VolumePayload{Volume: volume, Muted: muted})
}

func NewDeviceAdded(deviceID string, info DeviceInfoPayload) Event {
	return newEvent(DeviceAdded, deviceID, info)
}

func NewDeviceRemoved(deviceID string) Event { return newEvent(DeviceRemoved, deviceID, nil) }

func NewDeviceConnected(deviceID string) Event    { return newEvent(DeviceConnected, deviceID, nil) }
func NewDeviceDisconnected(deviceID string) Event { return newEvent(DeviceDisconnected, deviceID, nil) }

func NewOfflineThresholdHit(deviceID, airplayID string) Event {
	return newEvent(DeviceOfflineThresholdHit, deviceID, OfflinePayload{AirPlayID: airplayID})
}
