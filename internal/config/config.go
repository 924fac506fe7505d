// Package config loads the SS7-boost and ISDN span configuration from
// flags and environment variables, adapted from the teacher's
// services/signaling/config (spec §6 "Configuration").
package config

import (
	"flag"
	"os"
	"strconv"
	"strings"

	"github.com/sebas/tdmsig/internal/isdn"
)

// BoostConfig holds the SS7-boost connection parameters (spec §6's table:
// local_ip/local_port/remote_ip/remote_port, priority socket = port+1).
type BoostConfig struct {
	LocalIP    string
	LocalPort  int
	RemoteIP   string
	RemotePort int
	LogLevel   string
}

// DefaultBoostConfig matches spec §6's stated defaults.
func DefaultBoostConfig() BoostConfig {
	return BoostConfig{
		LocalIP:    "127.0.0.65",
		LocalPort:  53000,
		RemoteIP:   "127.0.0.66",
		RemotePort: 53000,
		LogLevel:   "info",
	}
}

// registerBoostFlags registers the SS7-boost flags into fs against cfg's
// defaults, without parsing — parsing is the caller's job, once, after
// every dialect's flags are registered (see Load).
func registerBoostFlags(fs *flag.FlagSet, cfg *BoostConfig) {
	fs.StringVar(&cfg.LocalIP, "boost-local-ip", cfg.LocalIP, "SS7-boost local bind address")
	fs.IntVar(&cfg.LocalPort, "boost-local-port", cfg.LocalPort, "SS7-boost local base UDP port (priority = port+1)")
	fs.StringVar(&cfg.RemoteIP, "boost-remote-ip", cfg.RemoteIP, "SS7-boost peer address")
	fs.IntVar(&cfg.RemotePort, "boost-remote-port", cfg.RemotePort, "SS7-boost peer base UDP port (priority = port+1)")
	fs.StringVar(&cfg.LogLevel, "loglevel", cfg.LogLevel, "log level (debug, info, warn, error)")
}

func applyBoostEnv(cfg *BoostConfig) {
	if v := os.Getenv("BOOST_LOCAL_IP"); v != "" {
		cfg.LocalIP = v
	}
	if v := os.Getenv("BOOST_LOCAL_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.LocalPort = p
		}
	}
	if v := os.Getenv("BOOST_REMOTE_IP"); v != "" {
		cfg.RemoteIP = v
	}
	if v := os.Getenv("BOOST_REMOTE_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.RemotePort = p
		}
	}
	if v := os.Getenv("LOGLEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

// ISDNConfig holds the ISDN configuration parameters (spec §6: Q.921 role,
// Q.931 dialect, option bitset).
type ISDNConfig struct {
	Role    isdn.Role
	Dialect string
	Options isdn.Option
}

// DefaultISDNConfig takes its role, dialect and options from
// isdn.DefaultConfig. ISDNConfig has no auto-ack fields; ToEngineConfig
// enables both auto-acks.
func DefaultISDNConfig() ISDNConfig {
	d := isdn.DefaultConfig()
	return ISDNConfig{Role: d.Role, Dialect: d.Dialect, Options: d.Options}
}

// registerISDNFlags registers the ISDN flags into fs against cfg's
// defaults, writing the role/options choices into role/options (string
// flags, resolved to their enum/bitset form after parsing in Load).
func registerISDNFlags(fs *flag.FlagSet, cfg *ISDNConfig, role, options *string) {
	*role = cfg.Role.String()
	fs.StringVar(role, "isdn-role", *role, "Q.921 role (net or user)")
	fs.StringVar(&cfg.Dialect, "isdn-dialect", cfg.Dialect, "Q.931 dialect")
	fs.StringVar(options, "isdn-options", "", "comma-separated ISDN options (suggest_channel)")
}

func applyISDNEnv(cfg *ISDNConfig, role, options *string) {
	if v := os.Getenv("ISDN_ROLE"); v != "" {
		*role = v
	}
	if v := os.Getenv("ISDN_DIALECT"); v != "" {
		cfg.Dialect = v
	}
	if v := os.Getenv("ISDN_OPTIONS"); v != "" {
		*options = v
	}
}

// Load registers every dialect's flags against a single FlagSet and
// parses once, then layers environment overrides on top (flags parsed
// first, env vars win if set, matching the teacher's override-precedence
// idiom in services/signaling/config.Load). Registering both dialects'
// flags before the one Parse call is required: flag.CommandLine is
// ExitOnError, so a second, later Parse call would reject any flag the
// first call didn't already know about.
func Load(args []string) (BoostConfig, ISDNConfig, error) {
	boostCfg := DefaultBoostConfig()
	isdnCfg := DefaultISDNConfig()

	fs := flag.NewFlagSet("signaling", flag.ContinueOnError)
	registerBoostFlags(fs, &boostCfg)
	var role, options string
	registerISDNFlags(fs, &isdnCfg, &role, &options)

	if err := fs.Parse(args); err != nil {
		return BoostConfig{}, ISDNConfig{}, err
	}

	applyBoostEnv(&boostCfg)
	applyISDNEnv(&isdnCfg, &role, &options)
	isdnCfg.Role = parseRole(role)
	isdnCfg.Options = parseOptions(options)

	return boostCfg, isdnCfg, nil
}

// ToEngineConfig converts the flag-loaded configuration into the engine's
// runtime isdn.Config, enabling the auto-ack behavior spec §4.5 requires.
func (c ISDNConfig) ToEngineConfig() isdn.Config {
	return isdn.Config{
		Role:           c.Role,
		Dialect:        c.Dialect,
		Options:        c.Options,
		AutoRestartAck: true,
		AutoConnectAck: true,
	}
}

func parseRole(s string) isdn.Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "network", "net":
		return isdn.RoleNetwork
	}
	return isdn.RoleUser
}

func parseOptions(s string) isdn.Option {
	var opts isdn.Option
	for _, part := range strings.Split(s, ",") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "suggest_channel":
			opts |= isdn.OptSuggestChannel
		}
	}
	return opts
}
