package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/unairplay/unairplay-go/internal/config"
	"github.com/unairplay/unairplay-go/internal/configstore"
	"github.com/unairplay/unairplay-go/internal/device"
	"github.com/unairplay/unairplay-go/internal/dsp"
	"github.com/unairplay/unairplay-go/internal/events"
	"github.com/unairplay/unairplay-go/internal/media"
	"github.com/unairplay/unairplay-go/internal/output"
	"github.com/unairplay/unairplay-go/internal/scanner"
	"github.com/unairplay/unairplay-go/internal/server"
	"github.com/unairplay/unairplay-go/internal/upnp"
	"github.com/unairplay/unairplay-go/internal/web"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := media.CheckFFmpeg(); err != nil {
		log.Fatalf("startup check failed: %v", err)
	}

	host := cfg.Host
	if host == "" {
		host = localIP()
	}

	bus := events.NewBus()
	store := configstore.New(cfg.DSPConfigPath)
	store.Attach(bus)

	// Assigned below; AirPlay outputs are only built once scanning has
	// produced a device, well after this is set.
	var airplayScanner *scanner.Scanner

	manager := device.NewManager(device.ManagerConfig{
		DeviceSuffix:        cfg.DeviceSuffix,
		ServerSpeakerName:   cfg.ServerSpeakerName,
		EnableServerSpeaker: cfg.EnableServerSpeaker,
		HasAudioOutput:      output.HasOutputDevice,
		OutputFactory: func(d *device.VirtualDevice) (output.Output, *dsp.Enhancer) {
			enhancer := dsp.NewEnhancer(cfg.SampleRate, cfg.Channels)
			if d.DeviceType == device.TypeServerSpeaker {
				return output.NewLocalSpeaker(output.SpeakerConfig{
					Name:           d.Name(),
					SampleRate:     cfg.SampleRate,
					Channels:       cfg.Channels,
					ChunkFrames:    cfg.ChunkFrames(),
					BufferChunks:   cfg.BufferChunks,
					CacheDir:       cfg.CacheDir,
					CacheName:      d.ID + "_play_cache",
					Enhancer:       enhancer,
					DSPEnabled:     d.DSPEnabled,
					OnFirstChunk:   d.MarkStreamStart,
					OnPlaybackDone: d.MarkPlaybackDone,
				}), enhancer
			}
			snap := d.Snapshot()
			return output.NewAirPlaySender(output.AirPlayConfig{
				Identifier:    d.AirPlayID,
				Name:          d.Name(),
				Address:       snap.Address,
				SampleRate:    cfg.SampleRate,
				Channels:      cfg.Channels,
				CacheDir:      cfg.CacheDir,
				CacheName:     d.ID + "_airplay_cache",
				Dial:          raopDial,
				Rescan:        airplayScanner,
				Enhancer:      enhancer,
				DSPEnabled:    d.DSPEnabled,
				Duration:      d.Duration,
				OnStreamStart: d.MarkStreamStart,
				OnStreamDone:  d.MarkPlaybackDone,
			}), enhancer
		},
	}, bus, store)

	airplayScanner = scanner.New(scanner.Config{
		Interval:         time.Duration(cfg.ScanIntervalSec) * time.Second,
		Timeout:          time.Duration(cfg.ScanTimeoutSec) * time.Second,
		OfflineThreshold: cfg.OfflineThreshold,
		Excluded:         cfg.ExcludedDevices,
		OnFound: func(info scanner.DeviceInfo) {
			manager.OnAirPlayFound(info.Identifier, info.Name, info.Address, info.Model)
		},
		OnMissed: manager.OnAirPlayMissed,
		OnLost:   manager.OnAirPlayLost,
	})

	manager.Start()

	dlnaService := upnp.NewService(upnp.ServiceConfig{
		Host:                host,
		HTTPPort:            cfg.HTTPPort,
		SubscriptionTimeout: time.Duration(cfg.SubscriptionTimeoutSec) * time.Second,
	}, manager, bus)
	dlnaService.Attach()

	ssdp := upnp.NewSSDP(upnp.SSDPConfig{
		Host:           host,
		HTTPPort:       cfg.HTTPPort,
		MaxAge:         cfg.SSDPMaxAgeSec,
		NotifyInterval: time.Duration(cfg.SSDPNotifyIntervalSec) * time.Second,
	}, manager, bus)

	panel := web.NewServer(manager, bus)
	panel.Attach()

	dlnaSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           server.NewDLNAHandler(dlnaService),
		ReadHeaderTimeout: 5 * time.Second,
	}
	webSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WebPort),
		Handler:           server.NewWebHandler(panel),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if err := ssdp.Start(); err != nil {
		log.Fatalf("ssdp start: %v", err)
	}
	if err := airplayScanner.Start(); err != nil {
		log.Fatalf("scanner start: %v", err)
	}

	errCh := make(chan error, 2)
	go func() { errCh <- dlnaSrv.ListenAndServe() }()
	go func() { errCh <- webSrv.ListenAndServe() }()

	log.Printf("unairplay bridge up: DLNA on http://%s:%d, panel on http://%s:%d",
		host, cfg.HTTPPort, host, cfg.WebPort)

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-shutdownCh:
		log.Printf("received %v, shutting down", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Printf("server error: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ssdp.Stop()
	airplayScanner.Stop()
	if err := dlnaSrv.Shutdown(ctx); err != nil {
		log.Printf("dlna shutdown: %v", err)
	}
	if err := webSrv.Shutdown(ctx); err != nil {
		log.Printf("web shutdown: %v", err)
	}
	dlnaService.Close()
	panel.Close()
	manager.Close()
	store.Close()
	bus.Close()
}

// localIP finds the LAN address to advertise in SSDP LOCATION urls. The
// probe never sends a packet; dialing just selects the outbound interface.
func localIP() string {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
