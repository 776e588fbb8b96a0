package output

import "context"

// RAOPClient is one AirPlay/RAOP session. The concrete implementation (RTSP
// handshake, ALAC encoding, RTP transport) lives in an external library; the
// sender only drives this surface. Without such a client the AirPlay output
// variant is unavailable while the local speaker keeps working.
type RAOPClient interface {
	// Connect establishes a session with the speaker at address. identifier
	// is the scanner-reported device id used to verify the target.
	Connect(ctx context.Context, identifier, address string) error
	// Stream pulls frames from src until EOF or ctx cancellation. Blocking.
	Stream(ctx context.Context, src AudioSource) error
	// SetVolume takes the library's 0-100 scale.
	SetVolume(volume float64) error
	Close() error
}

// RAOPDialer creates a fresh client per connection attempt.
type RAOPDialer func() RAOPClient

// Rescanner re-resolves a device's current address by identifier. The sender
// uses it to reconnect after a speaker drops and comes back with a new
// address.
type Rescanner interface {
	Resolve(ctx context.Context, identifier string) (address string, err error)
}
