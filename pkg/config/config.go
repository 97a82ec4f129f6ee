// Package config loads the control plane's runtime configuration from the
// environment.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds everything the control plane needs at startup.
type Config struct {
	// DatabaseURL is the Postgres connection string for the registry.
	DatabaseURL string

	// APIBaseURL is the base URL of the identity API used for sign-in.
	APIBaseURL string

	// SupabaseURL is the base URL of the Supabase project used for refresh.
	SupabaseURL string

	// SupabaseKey is the project API key sent on refresh requests.
	SupabaseKey string

	// JWTSecret is the HS256 secret used to validate bearer tokens.
	JWTSecret string

	// NetworkName is the bridge network MCP containers attach to.
	NetworkName string

	// MonitorInterval is the reconciler period. Zero disables the monitor.
	MonitorInterval time.Duration
}

// DefaultNetworkName is the bridge network created for MCP containers.
const DefaultNetworkName = "langconnect-network"

// DefaultMonitorInterval is how often the reconciler sweeps by default.
const DefaultMonitorInterval = 30 * time.Second

// Load reads configuration from the environment. The five credential and
// endpoint variables are required; missing ones are reported together.
func Load() (*Config, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()

	v.SetDefault("MCP_NETWORK_NAME", DefaultNetworkName)
	v.SetDefault("MCP_MONITOR_INTERVAL", DefaultMonitorInterval)

	cfg := &Config{
		DatabaseURL:     v.GetString("DATABASE_URL"),
		APIBaseURL:      strings.TrimRight(v.GetString("API_BASE_URL"), "/"),
		SupabaseURL:     strings.TrimRight(v.GetString("SUPABASE_URL"), "/"),
		SupabaseKey:     v.GetString("SUPABASE_KEY"),
		JWTSecret:       v.GetString("SUPABASE_JWT_SECRET"),
		NetworkName:     v.GetString("MCP_NETWORK_NAME"),
		MonitorInterval: v.GetDuration("MCP_MONITOR_INTERVAL"),
	}

	var missing []string
	for name, value := range map[string]string{
		"DATABASE_URL":        cfg.DatabaseURL,
		"API_BASE_URL":        cfg.APIBaseURL,
		"SUPABASE_URL":        cfg.SupabaseURL,
		"SUPABASE_KEY":        cfg.SupabaseKey,
		"SUPABASE_JWT_SECRET": cfg.JWTSecret,
	} {
		if value == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	return cfg, nil
}
