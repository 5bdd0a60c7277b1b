package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port       string `yaml:"port"`
		AdminToken string `yaml:"admin_token"`
		BotSecret  string `yaml:"bot_secret"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Postgres struct {
		URL     string `yaml:"url"`
		PoolTTL string `yaml:"pool_ttl"`
	} `yaml:"postgres"`
	Game struct {
		Rounds        int    `yaml:"rounds"`
		RoundTime     string `yaml:"round_time"`
		PhaseTime     string `yaml:"phase_time"`
		RestBetween   string `yaml:"rest_between"`
		Countdown     string `yaml:"countdown"`
		RevealPause   string `yaml:"reveal_pause"`
		OptionCount   int    `yaml:"option_count"`
		RoomPollTime  string `yaml:"room_poll_time"`
		RoomPauseTime string `yaml:"room_pause_time"`
	} `yaml:"game"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Duration parses a duration string or returns the fallback if empty or
// malformed.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
