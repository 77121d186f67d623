// Package config loads the CLI configuration from defaults, an optional
// config file, WEBCAST_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/lucsky/cuid"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. WEBCAST_PEER_ID.
const EnvPrefix = "WEBCAST"

// ErrUsage reports invalid command-line input.
var ErrUsage = errors.New("usage error")

// Keys shared by viper, the config file and the cobra flags.
const (
	KeyConfig      = "config"
	KeyURL         = "url"
	KeyClientID    = "client-id"
	KeyPeerID      = "peer-id"
	KeySTUN        = "stun"
	KeyVideo       = "video"
	KeyCodec       = "codec"
	KeyFPS         = "fps"
	KeyICEPortMin  = "ice-port-min"
	KeyICEPortMax  = "ice-port-max"
	KeyMetricsAddr = "metrics-addr"
	KeyDebug       = "debug"
	KeyListen      = "listen"
)

// Defaults.
const (
	DefaultPeerID = "browser1"
	DefaultSTUN   = "stun:stun.l.google.com:19302"
	DefaultFPS    = 30
	DefaultListen = ":8443"
)

var codecs = map[string]bool{"h264": true, "vp8": true, "vp9": true, "av1": true}

// Config stores every parameter of a streaming session.
type Config struct {
	URL         string   `mapstructure:"url"`
	ClientID    string   `mapstructure:"client-id"`
	PeerID      string   `mapstructure:"peer-id"`
	STUN        []string `mapstructure:"stun"`
	Video       string   `mapstructure:"video"`        // .ivf or .h264 file; empty leaves the track idle
	Codec       string   `mapstructure:"codec"`        // derived from Video when empty
	FPS         int      `mapstructure:"fps"`          // H.264 pacing
	ICEPortMin  int      `mapstructure:"ice-port-min"` // 0 lets the OS choose
	ICEPortMax  int      `mapstructure:"ice-port-max"`
	MetricsAddr string   `mapstructure:"metrics-addr"` // empty disables /metrics
	Debug       bool     `mapstructure:"debug"`
}

// RelayConfig stores the parameters of the relay subcommand.
type RelayConfig struct {
	Listen string `mapstructure:"listen"`
	Debug  bool   `mapstructure:"debug"`
}

// NewViper returns a viper instance carrying the defaults and reading
// WEBCAST_* environment variables.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyConfig, "")
	v.SetDefault(KeyURL, "")
	v.SetDefault(KeyClientID, "")
	v.SetDefault(KeyPeerID, DefaultPeerID)
	v.SetDefault(KeySTUN, []string{DefaultSTUN})
	v.SetDefault(KeyVideo, "")
	v.SetDefault(KeyCodec, "")
	v.SetDefault(KeyFPS, DefaultFPS)
	v.SetDefault(KeyICEPortMin, 0)
	v.SetDefault(KeyICEPortMax, 0)
	v.SetDefault(KeyMetricsAddr, "")
	v.SetDefault(KeyDebug, false)
	v.SetDefault(KeyListen, DefaultListen)
	return v
}

// readFile merges the config file named by the "config" key, if any.
func readFile(v *viper.Viper) error {
	path := v.GetString(KeyConfig)
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// Load builds and validates the streaming Config. A missing client id is
// replaced with a fresh random one.
func Load(v *viper.Viper) (Config, error) {
	if err := readFile(v); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if cfg.ClientID == "" {
		cfg.ClientID = cuid.New()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadRelay builds the relay subcommand configuration.
func LoadRelay(v *viper.Viper) (RelayConfig, error) {
	if err := readFile(v); err != nil {
		return RelayConfig{}, err
	}

	var cfg RelayConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return RelayConfig{}, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Listen == "" {
		return RelayConfig{}, fmt.Errorf("%w: empty listen address", ErrUsage)
	}
	return cfg, nil
}

// Validate checks the Config and normalizes the signaling URL in place.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("%w: missing signaling server URL", ErrUsage)
	}
	u, err := NormalizeURL(c.URL)
	if err != nil {
		return err
	}
	c.URL = u

	if strings.ContainsAny(c.ClientID, " \t\r\n") {
		return fmt.Errorf("%w: client id %q contains whitespace", ErrUsage, c.ClientID)
	}
	if c.PeerID == "" || strings.ContainsAny(c.PeerID, " \t\r\n") {
		return fmt.Errorf("%w: invalid peer id %q", ErrUsage, c.PeerID)
	}

	c.Codec = strings.ToLower(c.Codec)
	if c.Codec != "" && !codecs[c.Codec] {
		return fmt.Errorf("%w: unsupported codec %q", ErrUsage, c.Codec)
	}
	if c.FPS < 1 || c.FPS > 240 {
		return fmt.Errorf("%w: fps must be 1~240", ErrUsage)
	}

	if c.ICEPortMin != 0 || c.ICEPortMax != 0 {
		if c.ICEPortMin < 1 || c.ICEPortMax > 65535 || c.ICEPortMin > c.ICEPortMax {
			return fmt.Errorf("%w: invalid ICE port range %d~%d", ErrUsage, c.ICEPortMin, c.ICEPortMax)
		}
	}
	return nil
}

// NormalizeURL validates a WebSocket URL. A bare host defaults to wss.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "wss://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: invalid WebSocket URL: %s", ErrUsage, raw)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("%w: unsupported scheme %q (want ws or wss)", ErrUsage, u.Scheme)
	}
	return u.String(), nil
}
