package config

import (
	"flag"
	"os"
)

// ServerConfig holds configuration for the relay server binary.
type ServerConfig struct {
	Addr     string
	LogLevel string
}

// ParseServerConfig parses server configuration from flags and environment
// variables. Flags take precedence over environment variables, and
// RELAY_ADDR takes precedence over the bare PORT convention common on PaaS
// platforms. Defaults: addr=":8080", logLevel="info".
func ParseServerConfig() ServerConfig {
	return parseServerConfigWithFlagSet(flag.CommandLine, os.Args[1:])
}

// parseServerConfigWithFlagSet is an internal helper for testing with
// isolated flag sets.
func parseServerConfigWithFlagSet(fs *flag.FlagSet, args []string) ServerConfig {
	cfg := ServerConfig{
		Addr:     ":8080",
		LogLevel: "info",
	}

	// Read from environment first, PORT before the more specific
	// RELAY_ADDR, so RELAY_ADDR always wins when both are set.
	if port := os.Getenv("PORT"); port != "" {
		cfg.Addr = ":" + port
	}
	if addr := os.Getenv("RELAY_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if logLevel := os.Getenv("RELAY_LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}

	// Flags override environment.
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.Parse(args)

	return cfg
}
