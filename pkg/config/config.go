package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied before file/env/flag layering.
const (
	DefaultAddr          = ":8080"
	DefaultDBPath        = "./.database"
	DefaultBackend       = "pebble"
	DefaultGraceWindow   = 30 * time.Second
	DefaultTypingTTL     = 10 * time.Second
	DefaultSweepInterval = 2 * time.Second
	DefaultPageSize      = 100
	DefaultMaxBodyBytes  = 16 * 1024
	DefaultWSRPS         = 20.0
	DefaultWSBurst       = 40
)

// Effective is the merged view of defaults, config file, env and flags,
// plus where the values came from.
type Effective struct {
	Config *Config
	Addr   string
	DBPath string
	Source string // comma-joined: flags, env, config
}

// Load reads the config file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseCommandFlags defines and parses command-line flags and returns their
// values along with a map indicating which flags were explicitly set.
func ParseCommandFlags() (addr, dbPath, backend, cfgPath string, setFlags map[string]bool) {
	addrPtr := flag.String("addr", DefaultAddr, "HTTP listen address")
	dbPtr := flag.String("db", DefaultDBPath, "message store path (pebble backend)")
	backendPtr := flag.String("backend", "", "storage backend: pebble or memory")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	setFlags = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return *addrPtr, *dbPtr, *backendPtr, *cfgPtr, setFlags
}

// ResolveConfigPath decides the config file path using the flag-provided
// value and ETHIOGRAM_CONFIG when the flag was not set.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("ETHIOGRAM_CONFIG"); p != "" {
		return p
	}
	return flagPath
}

// LoadEnvOverrides applies environment overrides onto cfg and reports
// whether any env vars were used.
func LoadEnvOverrides(cfg *Config) bool {
	envUsed := false
	parseList := func(v string) []string {
		if v == "" {
			return nil
		}
		var parts []string
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				parts = append(parts, s)
			}
		}
		return parts
	}

	if v := os.Getenv("ETHIOGRAM_ADDR"); v != "" {
		envUsed = true
		if h, p, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		} else {
			cfg.Server.Address = v
		}
	}
	if v := os.Getenv("ETHIOGRAM_DB_PATH"); v != "" {
		envUsed = true
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("ETHIOGRAM_STORAGE_BACKEND"); v != "" {
		envUsed = true
		cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("ETHIOGRAM_CORS_ORIGINS"); v != "" {
		envUsed = true
		cfg.Security.CORS.AllowedOrigins = parseList(v)
	}
	if v := os.Getenv("ETHIOGRAM_PRESENCE_GRACE"); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Presence.GraceWindow = Duration(d)
		}
	}
	if v := os.Getenv("ETHIOGRAM_TYPING_TTL"); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Typing.TTL = Duration(d)
		}
	}
	if v := os.Getenv("ETHIOGRAM_HISTORY_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.History.PageSize = n
		}
	}
	if v := os.Getenv("ETHIOGRAM_WS_RPS"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			envUsed = true
			cfg.Limits.WSRPS = f
		}
	}
	if v := os.Getenv("ETHIOGRAM_WS_BURST"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Limits.WSBurst = n
		}
	}
	if c := os.Getenv("ETHIOGRAM_TLS_CERT"); c != "" {
		envUsed = true
		cfg.Server.TLS.CertFile = c
	}
	if k := os.Getenv("ETHIOGRAM_TLS_KEY"); k != "" {
		envUsed = true
		cfg.Server.TLS.KeyFile = k
	}
	return envUsed
}

// applyDefaults fills zero values with the package defaults.
func applyDefaults(cfg *Config) {
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = DefaultBackend
	}
	if cfg.Storage.DBPath == "" {
		cfg.Storage.DBPath = DefaultDBPath
	}
	if cfg.Presence.GraceWindow == 0 {
		cfg.Presence.GraceWindow = Duration(DefaultGraceWindow)
	}
	if cfg.Typing.TTL == 0 {
		cfg.Typing.TTL = Duration(DefaultTypingTTL)
	}
	if cfg.Typing.SweepInterval == 0 {
		cfg.Typing.SweepInterval = Duration(DefaultSweepInterval)
	}
	if cfg.History.PageSize == 0 {
		cfg.History.PageSize = DefaultPageSize
	}
	if cfg.Limits.MaxBodyBytes == 0 {
		cfg.Limits.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Limits.WSRPS == 0 {
		cfg.Limits.WSRPS = DefaultWSRPS
	}
	if cfg.Limits.WSBurst == 0 {
		cfg.Limits.WSBurst = DefaultWSBurst
	}
	if cfg.Retention.BatchSize == 0 {
		cfg.Retention.BatchSize = 500
	}
}

// Addr returns host:port for the HTTP server.
func (c *Config) Addr() string {
	addr := c.Server.Address
	p := c.Server.Port
	if addr == "" && p == 0 {
		return DefaultAddr
	}
	if p == 0 {
		p = 8080
	}
	return fmt.Sprintf("%s:%d", addr, p)
}

// LoadEffective merges defaults, the config file at path, env overrides and
// explicit flags (flags win) into one Effective view.
func LoadEffective(cfgPath, addrFlag, dbFlag, backendFlag string, setFlags map[string]bool) (Effective, error) {
	var srcs []string
	cfg, err := Load(cfgPath)
	if err != nil {
		cfg = &Config{}
	} else {
		srcs = append(srcs, "config")
	}
	if LoadEnvOverrides(cfg) {
		srcs = append(srcs, "env")
	}
	if len(setFlags) > 0 {
		srcs = append(srcs, "flags")
	}
	if setFlags["db"] {
		cfg.Storage.DBPath = dbFlag
	}
	if setFlags["backend"] {
		cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(backendFlag))
	}
	applyDefaults(cfg)

	switch cfg.Storage.Backend {
	case "pebble", "memory":
	default:
		return Effective{}, fmt.Errorf("unknown storage backend: %q", cfg.Storage.Backend)
	}

	addr := cfg.Addr()
	if setFlags["addr"] {
		addr = addrFlag
	}
	return Effective{Config: cfg, Addr: addr, DBPath: cfg.Storage.DBPath, Source: strings.Join(srcs, ", ")}, nil
}
