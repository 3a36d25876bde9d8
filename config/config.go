// Package config holds the settings of the avatarsync client.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"sigs.k8s.io/yaml"
)

// EnvServer overrides the server address of the loaded configuration.
const EnvServer = "AVATARSYNC_SERVER"

// Duration is a time.Duration written as a Go duration string, e.g. "10s".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Config is the client configuration.
type Config struct {
	// Server is the websocket address of the game server.
	Server string `json:"server"`
	// Name is shown to the other players.
	Name string `json:"name"`
	// AvatarHash is the content hash of the local player's avatar.
	AvatarHash string `json:"avatarHash,omitempty"`

	// AvatarsDir holds local and downloaded avatars.
	AvatarsDir string `json:"avatarsDir"`
	// DefaultAvatar is the file in AvatarsDir shown while an avatar loads.
	DefaultAvatar   string `json:"defaultAvatar"`
	ScanConcurrency int    `json:"scanConcurrency"`

	// LookupURL is the ModelSaber compatible API avatars are looked up on.
	// Empty disables downloads.
	LookupURL     string   `json:"lookupURL"`
	LookupTimeout Duration `json:"lookupTimeout"`
	StallTimeout  Duration `json:"stallTimeout"`

	// TickRate is the expected number of player updates per second.
	TickRate  float64 `json:"tickRate"`
	FrameRate float64 `json:"frameRate"`
	// Spacing in meters between players standing at the same spot.
	Spacing float64 `json:"spacing"`

	// MetricsAddr serves prometheus metrics when set.
	MetricsAddr string `json:"metricsAddr,omitempty"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server:          "ws://localhost:8080",
		Name:            "Player",
		AvatarsDir:      "CustomAvatars",
		DefaultAvatar:   "loading.avatar",
		ScanConcurrency: 4,
		LookupURL:       "https://modelsaber.com",
		LookupTimeout:   Duration{10 * time.Second},
		StallTimeout:    Duration{5 * time.Second},
		TickRate:        10,
		FrameRate:       90,
		Spacing:         1.5,
	}
}

// Load reads the configuration file at path over the defaults and applies the
// environment. An empty path only applies the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.UnmarshalStrict(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if server, ok := os.LookupEnv(EnvServer); ok && server != "" {
		cfg.Server = server
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if u, err := url.Parse(c.Server); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		errs = append(errs, fmt.Errorf("server %q must be a ws:// or wss:// address", c.Server))
	}
	if c.Name == "" {
		errs = append(errs, errors.New("name must not be empty"))
	}
	if c.AvatarsDir == "" {
		errs = append(errs, errors.New("avatarsDir must not be empty"))
	}
	if u, err := url.Parse(c.LookupURL); c.LookupURL != "" && (err != nil || u.Host == "") {
		errs = append(errs, fmt.Errorf("lookupURL %q is not an absolute URL", c.LookupURL))
	}
	if c.LookupTimeout.Duration <= 0 {
		errs = append(errs, errors.New("lookupTimeout must be positive"))
	}
	if c.StallTimeout.Duration <= 0 {
		errs = append(errs, errors.New("stallTimeout must be positive"))
	}
	if c.TickRate <= 0 {
		errs = append(errs, errors.New("tickRate must be positive"))
	}
	if c.FrameRate <= 0 {
		errs = append(errs, errors.New("frameRate must be positive"))
	}
	if c.Spacing < 0 {
		errs = append(errs, errors.New("spacing must not be negative"))
	}
	return errors.Join(errs...)
}
