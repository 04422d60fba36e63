// Package config loads process configuration from an optional TOML
// file, overridable by flags, with flags always winning over the file
// and the file winning over defaults.
package config

import (
	"time"

	"github.com/BurntSushi/toml"
)

// Coordinator holds a coordinator process's configuration.
type Coordinator struct {
	ListenAddr       string `toml:"listen_addr"`
	DataDir          string `toml:"data_dir"`
	DefaultTimeoutMS int64  `toml:"default_timeout_ms"`
	AbortRetries     uint64 `toml:"abort_retries"`
	LogLevel         string `toml:"log_level"`
}

func (c Coordinator) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutMS) * time.Millisecond
}

// Participant holds a participant process's configuration.
type Participant struct {
	ID                  string `toml:"id"`
	ListenAddr          string `toml:"listen_addr"`
	AdvertiseAddr       string `toml:"advertise_addr"`
	DataDir             string `toml:"data_dir"`
	PrepareTimeoutMS    int64  `toml:"prepare_timeout_ms"`
	CoordinatorEndpoint string `toml:"coordinator_endpoint"`
	LogLevel            string `toml:"log_level"`
}

func (p Participant) PrepareTimeout() time.Duration {
	return time.Duration(p.PrepareTimeoutMS) * time.Millisecond
}

func DefaultCoordinator() Coordinator {
	return Coordinator{
		ListenAddr:       ":50050",
		DataDir:          "./data/coordinator",
		DefaultTimeoutMS: 30_000,
		AbortRetries:     5,
		LogLevel:         "info",
	}
}

func DefaultParticipant() Participant {
	return Participant{
		ListenAddr:       ":50051",
		DataDir:          "./data/participant",
		PrepareTimeoutMS: 30_000,
		LogLevel:         "info",
	}
}

// LoadCoordinatorFile reads path over the defaults. Flag overrides are
// applied by the caller after this returns, since cobra owns flag
// parsing in cmd/coordinator.
func LoadCoordinatorFile(path string) (Coordinator, error) {
	cfg := DefaultCoordinator()
	if path == "" {
		return cfg, nil
	}
	_, err := toml.DecodeFile(path, &cfg)
	return cfg, err
}

// LoadParticipantFile reads path over the defaults. Flag overrides are
// applied by the caller after this returns.
func LoadParticipantFile(path string) (Participant, error) {
	cfg := DefaultParticipant()
	if path == "" {
		return cfg, nil
	}
	_, err := toml.DecodeFile(path, &cfg)
	return cfg, err
}
