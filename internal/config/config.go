// Package config binds the server and client's process-wide settings
// through viper, overlaying environment variables on top of cobra flag
// defaults. No config file is read.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// SyncPolicy selects when the block cache flushes to the backing file.
type SyncPolicy string

const (
	SyncImmediate SyncPolicy = "immediate"
	SyncOnExit    SyncPolicy = "on-exit"
	SyncScheduled SyncPolicy = "scheduled"
)

func (p SyncPolicy) Valid() bool {
	switch p {
	case SyncImmediate, SyncOnExit, SyncScheduled:
		return true
	default:
		return false
	}
}

// ScheduledSyncIntervalSeconds is the fixed period, in seconds, of the
// scheduled write-back policy.
const ScheduledSyncIntervalSeconds = 60

// Server holds every setting the daemon needs once flags and environment
// have been layered by viper.
type Server struct {
	ListenAddr string     `mapstructure:"listen-addr"`
	DiskPath   string     `mapstructure:"disk-path"`
	SyncPolicy SyncPolicy `mapstructure:"sync-policy"`
	Format     bool       `mapstructure:"format"`
}

// Client holds the settings the interactive shell needs to reach a server.
type Client struct {
	ServerAddr string `mapstructure:"server-addr"`
	Username   string `mapstructure:"username"`
}

// BindServerFlags registers the daemon's flags on fs and returns a viper
// instance layering SIMDISKD_-prefixed env vars over them, the way
// gcsfuse's cmd/ packages wire cobra and viper together.
func BindServerFlags(fs *pflag.FlagSet) (*viper.Viper, error) {
	fs.String("listen-addr", "127.0.0.1:8080", "control channel listen address")
	fs.String("disk-path", "simdisk.img", "path to the backing file")
	fs.String("sync-policy", string(SyncOnExit), "cache write-back policy: immediate, on-exit, scheduled")
	fs.Bool("format", false, "create or overwrite the backing file before serving")

	v := viper.New()
	v.SetEnvPrefix("simdiskd")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("config: bind flags: %w", err)
	}
	return v, nil
}

// LoadServer decodes a viper instance populated by BindServerFlags into a
// validated Server.
func LoadServer(v *viper.Viper) (Server, error) {
	var s Server
	if err := v.Unmarshal(&s); err != nil {
		return Server{}, fmt.Errorf("config: unmarshal server config: %w", err)
	}
	if !s.SyncPolicy.Valid() {
		return Server{}, fmt.Errorf("config: unknown sync-policy %q", s.SyncPolicy)
	}
	if s.ListenAddr == "" {
		return Server{}, fmt.Errorf("config: listen-addr must not be empty")
	}
	if s.DiskPath == "" {
		return Server{}, fmt.Errorf("config: disk-path must not be empty")
	}
	return s, nil
}

// BindClientFlags registers the shell's flags and returns a viper instance
// layering SIMDISK_-prefixed env vars over them.
func BindClientFlags(fs *pflag.FlagSet) (*viper.Viper, error) {
	fs.String("server-addr", "127.0.0.1:8080", "control channel address to connect to")
	fs.String("username", "", "username to log in as (prompted if empty)")

	v := viper.New()
	v.SetEnvPrefix("simdisk")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("config: bind flags: %w", err)
	}
	return v, nil
}

// LoadClient decodes a viper instance populated by BindClientFlags.
func LoadClient(v *viper.Viper) (Client, error) {
	var c Client
	if err := v.Unmarshal(&c); err != nil {
		return Client{}, fmt.Errorf("config: unmarshal client config: %w", err)
	}
	if c.ServerAddr == "" {
		return Client{}, fmt.Errorf("config: server-addr must not be empty")
	}
	return c, nil
}
