package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the bridge configuration.
type Config struct {
	Host     string `yaml:"host"`
	HTTPPort int    `yaml:"http_port"` // DLNA control/description/eventing
	WebPort  int    `yaml:"web_port"`  // control panel API

	// Audio pipeline
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	ChunkDurationMs int    `yaml:"chunk_duration_ms"`
	BufferChunks    int    `yaml:"buffer_chunks"`
	OutputBitrate   string `yaml:"output_bitrate"`
	CacheDir        string `yaml:"cache_dir"`

	// AirPlay discovery
	ScanIntervalSec  int      `yaml:"scan_interval_sec"`
	ScanTimeoutSec   int      `yaml:"scan_timeout_sec"`
	OfflineThreshold int      `yaml:"offline_threshold"` // consecutive missed scans before removal
	ExcludedDevices  []string `yaml:"excluded_devices"`  // IPs or name substrings never exposed

	// Virtual renderer naming
	DeviceSuffix        string `yaml:"device_suffix"`
	ServerSpeakerName   string `yaml:"server_speaker_name"`
	EnableServerSpeaker bool   `yaml:"enable_server_speaker"`

	// SSDP / GENA
	SSDPMaxAgeSec          int `yaml:"ssdp_max_age_sec"`
	SSDPNotifyIntervalSec  int `yaml:"ssdp_notify_interval_sec"`
	SubscriptionTimeoutSec int `yaml:"subscription_timeout_sec"`

	// DSP config persistence
	DSPConfigPath string `yaml:"dsp_config_path"`
}

// Load reads configuration from an optional YAML file (UNAIRPLAY_CONFIG) with
// environment variables layered on top.
func Load() (Config, error) {
	cfg := Config{
		Host:                   "",
		HTTPPort:               8088,
		WebPort:                8089,
		SampleRate:             48000,
		Channels:               2,
		ChunkDurationMs:        100,
		BufferChunks:           10,
		OutputBitrate:          "320k",
		CacheDir:               os.TempDir(),
		ScanIntervalSec:        30,
		ScanTimeoutSec:         5,
		OfflineThreshold:       3,
		DeviceSuffix:           "[D]",
		ServerSpeakerName:      "Server Speaker",
		EnableServerSpeaker:    true,
		SSDPMaxAgeSec:          1800,
		SSDPNotifyIntervalSec:  30,
		SubscriptionTimeoutSec: 1800,
		DSPConfigPath:          "./dsp_config.json",
	}

	if path := os.Getenv("UNAIRPLAY_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.Host = envString("HOST", cfg.Host)
	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.WebPort = envInt("WEB_PORT", cfg.WebPort)
	cfg.SampleRate = envInt("SAMPLE_RATE", cfg.SampleRate)
	cfg.Channels = envInt("CHANNELS", cfg.Channels)
	cfg.ChunkDurationMs = envInt("CHUNK_DURATION_MS", cfg.ChunkDurationMs)
	cfg.BufferChunks = envInt("BUFFER_SIZE", cfg.BufferChunks)
	cfg.OutputBitrate = envString("OUTPUT_BITRATE", cfg.OutputBitrate)
	cfg.CacheDir = envString("CACHE_DIR", cfg.CacheDir)
	cfg.ScanIntervalSec = envInt("AIRPLAY_SCAN_INTERVAL", cfg.ScanIntervalSec)
	cfg.ScanTimeoutSec = envInt("AIRPLAY_SCAN_TIMEOUT", cfg.ScanTimeoutSec)
	cfg.OfflineThreshold = envInt("OFFLINE_THRESHOLD", cfg.OfflineThreshold)
	cfg.ExcludedDevices = envList("EXCLUDED_DEVICES", cfg.ExcludedDevices)
	cfg.DeviceSuffix = envString("DEVICE_SUFFIX", cfg.DeviceSuffix)
	cfg.ServerSpeakerName = envString("SERVER_SPEAKER_NAME", cfg.ServerSpeakerName)
	cfg.EnableServerSpeaker = envBool("ENABLE_SERVER_SPEAKER", cfg.EnableServerSpeaker)
	cfg.SSDPMaxAgeSec = envInt("SSDP_MAX_AGE", cfg.SSDPMaxAgeSec)
	cfg.SSDPNotifyIntervalSec = envInt("SSDP_NOTIFY_INTERVAL", cfg.SSDPNotifyIntervalSec)
	cfg.SubscriptionTimeoutSec = envInt("SUBSCRIPTION_TIMEOUT", cfg.SubscriptionTimeoutSec)
	cfg.DSPConfigPath = envString("DSP_CONFIG_PATH", cfg.DSPConfigPath)

	if cfg.HTTPPort == cfg.WebPort {
		return Config{}, fmt.Errorf("HTTP_PORT and WEB_PORT must differ (both %d)", cfg.HTTPPort)
	}
	if cfg.Channels < 1 || cfg.Channels > 2 {
		return Config{}, fmt.Errorf("CHANNELS must be 1 or 2, got %d", cfg.Channels)
	}
	if cfg.OfflineThreshold < 1 {
		return Config{}, fmt.Errorf("OFFLINE_THRESHOLD must be >= 1, got %d", cfg.OfflineThreshold)
	}

	return cfg, nil
}

// ChunkFrames returns the number of PCM frames in one pipeline chunk.
func (c Config) ChunkFrames() int {
	return c.SampleRate * c.ChunkDurationMs / 1000
}

func envString(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func envInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

// envList parses a comma-separated list, e.g. "192.168.1.40, TV".
func envList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func envBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return strings.EqualFold(val, "true")
}
