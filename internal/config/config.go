package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const DefaultServer = "localhost:8000"

// Config holds the client and server settings.
type Config struct {
	Session        string
	Server         string
	Listen         string
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	Keepalive      time.Duration
	AMap           AMapConfig `mapstructure:"amap"`
	Map            MapConfig
}

// AMapConfig holds the map provider credential and REST endpoint.
type AMapConfig struct {
	Key      string
	Endpoint string
}

// MapConfig holds the initial viewport of the map surface.
type MapConfig struct {
	CenterLng float64 `mapstructure:"center_lng"`
	CenterLat float64 `mapstructure:"center_lat"`
	Zoom      int
}

// flagKeys maps command line flags to config keys.
var flagKeys = map[string]string{
	"session":         "session",
	"server":          "server",
	"listen":          "listen",
	"reconnect-delay": "reconnect_delay",
	"amap-key":        "amap.key",
}

// Load reads configuration from file, env and flags. Env var overrides use
// prefix NAVLINK_; AMAP_API_KEY is accepted as well.
func Load(fs *pflag.FlagSet) (Config, error) {
	v := viper.New()

	// default values
	v.SetDefault("session", "")
	v.SetDefault("server", DefaultServer)
	v.SetDefault("listen", ":8000")
	v.SetDefault("reconnect_delay", "5s")
	v.SetDefault("keepalive", "30s")
	v.SetDefault("amap.key", "")
	v.SetDefault("amap.endpoint", "https://restapi.amap.com")
	v.SetDefault("map.center_lng", 116.397428)
	v.SetDefault("map.center_lat", 39.90923)
	v.SetDefault("map.zoom", 13)

	v.SetConfigType("toml")

	cfgPath := os.Getenv("NAVLINK_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "navlink"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("NAVLINK")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	_ = v.BindEnv("amap.key", "NAVLINK_AMAP_KEY", "AMAP_API_KEY")

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	// read config file if present; an explicit path must exist
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgPath != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	c.Session = strings.TrimSpace(c.Session)
	return c, nil
}

// ClientID returns the persistent id of this client, creating it under dir
// on first use. An empty dir means ~/.navlink.
func ClientID(dir string) (string, error) {
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get user home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".navlink")
	}
	idFile := filepath.Join(dir, "id")

	// Check if ID file exists
	if data, err := os.ReadFile(idFile); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to read id file: %w", err)
	}

	// Create directory if not exists
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	id := uuid.NewString()
	if err := os.WriteFile(idFile, []byte(id), 0644); err != nil {
		return "", fmt.Errorf("failed to write id file: %w", err)
	}
	return id, nil
}
