package config

import "fmt"

// Config holds all curator configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Curator  CuratorConfig  `toml:"curator"`
}

type ServerConfig struct {
	Bind string `toml:"bind"`
	Port int    `toml:"port"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type CuratorConfig struct {
	ArchiveInactiveDays int     `toml:"archive_inactive_days"` // days without use before a sweep archives
	SimilarityThreshold float64 `toml:"similarity_threshold"`  // for the lexical matcher
	Matcher             string  `toml:"matcher"`               // "exact" or "lexical"
	SweepIntervalHours  int     `toml:"sweep_interval_hours"`
	RetrieveTopK        int     `toml:"retrieve_top_k"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37888,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		Curator: CuratorConfig{
			ArchiveInactiveDays: 30,
			SimilarityThreshold: 0.85,
			Matcher:             "exact",
			SweepIntervalHours:  24,
			RetrieveTopK:        10,
		},
	}
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
