// Package config provides centralized configuration management for the
// arena host.
//
// Values are resolved in three layers: the defaults in this file, an
// optional TOML file, then environment variables. Arena kinds live in a
// separate YAML file (see kinds.go).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds the public HTTP/websocket listener settings.
type ServerConfig struct {
	Port           int           `toml:"port"`
	AllowedOrigins []string      `toml:"allowed_origins"` // CORS and websocket origin check
	MaxConnections int           `toml:"max_connections"` // websocket connections, all IPs
	MaxPerIP       int           `toml:"max_per_ip"`      // websocket connections per IP
	SendQueue      int           `toml:"send_queue"`      // outbound frames buffered per connection
	WriteTimeout   time.Duration `toml:"write_timeout"`
	PingInterval   time.Duration `toml:"ping_interval"`
	MaxMessageSize int64         `toml:"max_message_size"` // bytes per inbound frame
	AdminToken     string        `toml:"admin_token"`      // bearer token for arena admin routes; empty leaves them open
}

// DefaultServer returns the default listener configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port: 3000,
		AllowedOrigins: []string{
			"http://localhost:*",
			"http://127.0.0.1:*",
		},
		MaxConnections: 5000,
		MaxPerIP:       10,
		SendQueue:      64,
		WriteTimeout:   5 * time.Second,
		PingInterval:   20 * time.Second,
		MaxMessageSize: 4096,
	}
}

func (c ServerConfig) fromEnv() ServerConfig {
	if port := getEnvInt("PORT", 0); port > 0 {
		c.Port = port
	}
	if origins := getEnvList("ALLOWED_ORIGINS"); len(origins) > 0 {
		c.AllowedOrigins = origins
	}
	if n := getEnvInt("MAX_WS_CONNECTIONS", 0); n > 0 {
		c.MaxConnections = n
	}
	if n := getEnvInt("MAX_WS_PER_IP", 0); n > 0 {
		c.MaxPerIP = n
	}
	if n := getEnvInt("WS_SEND_QUEUE", 0); n > 0 {
		c.SendQueue = n
	}
	if d := getEnvDuration("WS_WRITE_TIMEOUT", 0); d > 0 {
		c.WriteTimeout = d
	}
	if tok := os.Getenv("ADMIN_TOKEN"); tok != "" {
		c.AdminToken = tok
	}
	return c
}

// Addr is the listen address for the public server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// =============================================================================
// RATE LIMITS
// =============================================================================

// RateLimitConfig bounds HTTP requests per IP and inputs per connection.
type RateLimitConfig struct {
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
	InputsPerSecond   float64 `toml:"inputs_per_second"` // per websocket connection
	InputBurst        int     `toml:"input_burst"`
}

// DefaultRateLimit returns production-safe limits.
func DefaultRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 10,
		Burst:             20,
		InputsPerSecond:   30, // three inputs per tick at the default 10 Hz
		InputBurst:        10,
	}
}

func (c RateLimitConfig) fromEnv() RateLimitConfig {
	if rps := getEnvFloat("RATE_LIMIT_RPS", 0); rps > 0 {
		c.RequestsPerSecond = rps
	}
	if b := getEnvInt("RATE_LIMIT_BURST", 0); b > 0 {
		c.Burst = b
	}
	if ips := getEnvFloat("INPUT_RATE", 0); ips > 0 {
		c.InputsPerSecond = ips
	}
	if b := getEnvInt("INPUT_BURST", 0); b > 0 {
		c.InputBurst = b
	}
	return c
}

// =============================================================================
// HOST & SHUTDOWN
// =============================================================================

// HostConfig controls the arena registry and process shutdown.
type HostConfig struct {
	MaxArenas       int           `toml:"max_arenas"` // 0 means unlimited
	KindsFile       string        `toml:"kinds_file"` // YAML; empty uses DefaultKinds
	Warm            bool          `toml:"warm"`       // start a main arena per kind at boot
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
}

// DefaultHost returns the default registry settings.
func DefaultHost() HostConfig {
	return HostConfig{
		MaxArenas:       64,
		Warm:            true,
		ShutdownTimeout: 10 * time.Second,
	}
}

func (c HostConfig) fromEnv() HostConfig {
	if n := getEnvInt("MAX_ARENAS", -1); n >= 0 {
		c.MaxArenas = n
	}
	if path := os.Getenv("KINDS_FILE"); path != "" {
		c.KindsFile = path
	}
	if v := os.Getenv("WARM_ARENAS"); v != "" {
		c.Warm = v == "true" || v == "1"
	}
	if d := getEnvDuration("SHUTDOWN_TIMEOUT", 0); d > 0 {
		c.ShutdownTimeout = d
	}
	return c
}

// =============================================================================
// LOGGING & TRACE
// =============================================================================

// LoggingConfig selects the zap logger flavour.
type LoggingConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // json or console
}

// DefaultLogging returns the default logger settings.
func DefaultLogging() LoggingConfig {
	return LoggingConfig{Level: "info", Format: "json"}
}

func (c LoggingConfig) fromEnv() LoggingConfig {
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		c.Level = lvl
	}
	if f := os.Getenv("LOG_FORMAT"); f != "" {
		c.Format = f
	}
	return c
}

// TraceConfig enables the JSONL lifecycle trace.
type TraceConfig struct {
	Path string `toml:"path"` // empty disables the trace file
}

func (c TraceConfig) fromEnv() TraceConfig {
	if path := os.Getenv("TRACE_LOG"); path != "" {
		c.Path = path
	}
	return c
}

// =============================================================================
// NATS MIRROR
// =============================================================================

// NATSConfig mirrors outbound pushes onto a NATS bus when URL is set.
type NATSConfig struct {
	URL           string `toml:"url"`
	SubjectPrefix string `toml:"subject_prefix"`
}

// DefaultNATS returns the default mirror settings (disabled).
func DefaultNATS() NATSConfig {
	return NATSConfig{SubjectPrefix: "arena"}
}

func (c NATSConfig) fromEnv() NATSConfig {
	if url := os.Getenv("NATS_URL"); url != "" {
		c.URL = url
	}
	if p := os.Getenv("NATS_SUBJECT_PREFIX"); p != "" {
		c.SubjectPrefix = p
	}
	return c
}

// =============================================================================
// DEBUG SERVER
// =============================================================================

// DebugConfig is the localhost-only pprof and metrics listener.
type DebugConfig struct {
	Addr string `toml:"addr"` // empty disables it
}

// DefaultDebug returns the default debug listener.
func DefaultDebug() DebugConfig {
	return DebugConfig{Addr: "127.0.0.1:6060"}
}

func (c DebugConfig) fromEnv() DebugConfig {
	if addr, ok := os.LookupEnv("DEBUG_ADDR"); ok {
		c.Addr = addr
	}
	return c
}

// =============================================================================
// APPLICATION CONFIG
// =============================================================================

// AppConfig is the complete process configuration.
type AppConfig struct {
	Server    ServerConfig    `toml:"server"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Host      HostConfig      `toml:"host"`
	Logging   LoggingConfig   `toml:"logging"`
	Trace     TraceConfig     `toml:"trace"`
	NATS      NATSConfig      `toml:"nats"`
	Debug     DebugConfig     `toml:"debug"`
}

// Default returns every section at its defaults.
func Default() AppConfig {
	return AppConfig{
		Server:    DefaultServer(),
		RateLimit: DefaultRateLimit(),
		Host:      DefaultHost(),
		Logging:   DefaultLogging(),
		NATS:      DefaultNATS(),
		Debug:     DefaultDebug(),
	}
}

// Load reads the TOML file at path over the defaults, when path is not
// empty, then applies environment overrides.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return AppConfig{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return AppConfig{}, fmt.Errorf("config: unknown keys in %s: %v", path, undecoded)
		}
	}

	cfg.Server = cfg.Server.fromEnv()
	cfg.RateLimit = cfg.RateLimit.fromEnv()
	cfg.Host = cfg.Host.fromEnv()
	cfg.Logging = cfg.Logging.fromEnv()
	cfg.Trace = cfg.Trace.fromEnv()
	cfg.NATS = cfg.NATS.fromEnv()
	cfg.Debug = cfg.Debug.fromEnv()

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Validate reports settings the server cannot start with.
func (c AppConfig) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.SendQueue <= 0 {
		errs = append(errs, fmt.Errorf("server.send_queue must be positive"))
	}
	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.InputsPerSecond <= 0 {
		errs = append(errs, errors.New("rate limits must be positive"))
	}
	if c.Host.MaxArenas < 0 {
		errs = append(errs, fmt.Errorf("host.max_arenas %d is negative", c.Host.MaxArenas))
	}
	if c.Host.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("host.shutdown_timeout must be positive"))
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q: want json or console", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// getEnvList splits a comma separated variable, dropping empty items.
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
