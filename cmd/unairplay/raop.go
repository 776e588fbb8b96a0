package main

import (
	"context"
	"fmt"

	"github.com/unairplay/unairplay-go/internal/output"
)

// raopDial supplies the RAOP transport for AirPlay senders. The RTSP/RTP
// protocol implementation is pluggable; builds that bundle one replace this
// variable. The default refuses to stream, which keeps the server speaker,
// the panel and all DLNA control working without a transport.
var raopDial output.RAOPDialer = func() output.RAOPClient { return unavailableRAOP{} }

type unavailableRAOP struct{}

func (unavailableRAOP) Connect(ctx context.Context, identifier, address string) error {
	return fmt.Errorf("no RAOP transport linked into this build")
}

func (unavailableRAOP) Stream(ctx context.Context, src output.AudioSource) error {
	return fmt.Errorf("no RAOP transport linked into this build")
}

func (unavailableRAOP) SetVolume(volume float64) error { return nil }
func (unavailableRAOP) Close() error                   { return nil }
