package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Remote    RemoteConfig    `yaml:"remote"`
	Database  DatabaseConfig  `yaml:"database"`
	Downloads DownloadsConfig `yaml:"downloads"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Trickplay TrickplayConfig `yaml:"trickplay"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type RemoteConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Token          string        `yaml:"token"`
	DeviceID       string        `yaml:"device_id"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type DownloadsConfig struct {
	Dir          string        `yaml:"dir"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Concurrency  int           `yaml:"concurrency"`
}

type PlaybackConfig struct {
	// Backend selects the player implementation: "mpv" or "clock".
	// The choice is made once per session, never mid-session.
	Backend           string        `yaml:"backend"`
	MPVPath           string        `yaml:"mpv_path"`
	ProgressInterval  time.Duration `yaml:"progress_interval"`
	SegmentInterval   time.Duration `yaml:"segment_interval"`
	ExtendedTitles    bool          `yaml:"extended_titles"`
	SegmentsEnabled   bool          `yaml:"segments_enabled"`
	NextEpisodeWithin time.Duration `yaml:"next_episode_within"`
}

type TrickplayConfig struct {
	Dir           string `yaml:"dir"`
	CacheCapacity int    `yaml:"cache_capacity"`
	CacheMaxSize  int64  `yaml:"cache_max_size"` // bytes
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         6710,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 0,
		},
		Remote: RemoteConfig{
			DeviceID:       "playdeck",
			RequestTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "data/playdeck.db",
		},
		Downloads: DownloadsConfig{
			Dir:          "data/downloads",
			PollInterval: 10 * time.Second,
			Concurrency:  2,
		},
		Playback: PlaybackConfig{
			Backend:           "mpv",
			MPVPath:           "mpv",
			ProgressInterval:  5 * time.Second,
			SegmentInterval:   time.Second,
			ExtendedTitles:    true,
			SegmentsEnabled:   true,
			NextEpisodeWithin: 20 * time.Second,
		},
		Trickplay: TrickplayConfig{
			Dir:           "data/trickplay",
			CacheCapacity: 256,
			CacheMaxSize:  128 * 1024 * 1024, // 128 MB
		},
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: true,
		},
	}

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
