package config

import (
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Getenv looks up one variable. An empty result counts as unset.
type Getenv func(key string) string

// Load reads configuration from the process environment, applies defaults
// and validates the result.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom is Load with an explicit variable source. The CLI and tests use
// it to layer flags or fixtures over the environment.
func LoadFrom(getenv Getenv) (*Config, error) {
	cfg := &Config{}

	if err := getenv.fill(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// MustLoad loads configuration and panics on error.
// Use this only in main() where early termination is desired.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

var durationType = reflect.TypeOf(time.Duration(0))

// fill walks the section structs and sets every field carrying an env tag.
func (getenv Getenv) fill(v reflect.Value) error {
	t := v.Type()

	for i := range t.NumField() {
		field, dst := t.Field(i), v.Field(i)
		if !dst.CanSet() {
			continue
		}
		if field.Type.Kind() == reflect.Struct {
			if err := getenv.fill(dst); err != nil {
				return err
			}
			continue
		}

		name := field.Tag.Get("env")
		if name == "" {
			continue
		}

		value := getenv.first(name, field.Tag.Get("envAlt"))
		if value == "" {
			if field.Tag.Get("required") == "true" {
				return fmt.Errorf("required environment variable %s is not set", name)
			}
			value = field.Tag.Get("default")
		}
		if value == "" {
			continue
		}

		if err := parseInto(dst, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", name, value, err)
		}
	}
	return nil
}

// first returns the value of name, falling back to the comma-separated
// alternates in order.
func (getenv Getenv) first(name, alts string) string {
	if v := getenv(name); v != "" {
		return v
	}
	for _, alt := range splitList(alts) {
		if v := getenv(alt); v != "" {
			return v
		}
	}
	return ""
}

// parseInto converts value to the field's kind. Durations use
// time.ParseDuration, string slices are comma-separated.
func parseInto(dst reflect.Value, value string) error {
	switch {
	case dst.Type() == durationType:
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		dst.SetInt(int64(d))

	case dst.Kind() == reflect.String:
		dst.SetString(value)

	case dst.CanInt():
		n, err := strconv.ParseInt(value, 10, dst.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		dst.SetInt(n)

	case dst.CanUint():
		n, err := strconv.ParseUint(value, 10, dst.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid unsigned integer: %w", err)
		}
		dst.SetUint(n)

	case dst.Kind() == reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		dst.SetBool(b)

	case dst.Kind() == reflect.Slice && dst.Type().Elem().Kind() == reflect.String:
		dst.Set(reflect.ValueOf(splitList(value)))

	default:
		return fmt.Errorf("unsupported field type: %s", dst.Type())
	}
	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// problems collects validation failures so one startup reports all of them.
type problems []string

func (p *problems) check(ok bool, format string, args ...any) {
	if !ok {
		*p = append(*p, fmt.Sprintf(format, args...))
	}
}

func (p problems) err() error {
	if len(p) == 0 {
		return nil
	}
	return fmt.Errorf("validation failed:\n  - %s", strings.Join(p, "\n  - "))
}

// Validate checks that the configuration is usable.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var p problems

	// Backend
	if c.Backend.URL == "" {
		p.check(false, "BACKEND_URL is required")
	} else {
		u, err := url.Parse(c.Backend.URL)
		p.check(err == nil && u.Scheme != "" && u.Host != "",
			"BACKEND_URL (%q) must be an absolute http(s) URL", c.Backend.URL)
	}
	p.check(c.Backend.Timeout > 0, "BACKEND_TIMEOUT must be positive")
	p.check(c.Backend.PollInterval > 0, "POLL_INTERVAL must be positive")
	p.check(c.Backend.BreakerMaxFailures > 0, "BREAKER_MAX_FAILURES must be positive")
	p.check(c.Backend.BreakerOpenTimeout > 0, "BREAKER_OPEN_TIMEOUT must be positive")

	// Pool sizes only matter when history is on
	if c.Database.Enabled() {
		p.check(c.Database.MaxConns >= c.Database.MinConns,
			"DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)", c.Database.MaxConns, c.Database.MinConns)
		p.check(c.Database.MaxConns > 0, "DB_MAX_CONNS must be positive")
		p.check(c.Database.MinConns >= 0, "DB_MIN_CONNS must be non-negative")
	}

	// Server
	p.check(c.Server.Port > 0 && c.Server.Port <= 65535, "SERVER_PORT (%d) must be 1-65535", c.Server.Port)
	p.check(c.Server.ReadTimeout >= 0, "SERVER_READ_TIMEOUT must be non-negative")
	p.check(c.Server.ShutdownTimeout > 0, "SERVER_SHUTDOWN_TIMEOUT must be positive")

	// Uploads and sessions
	p.check(c.Upload.MaxFileSize > 0, "UPLOAD_MAX_FILE_SIZE must be positive")
	p.check(c.Upload.MaxConcurrent > 0, "UPLOAD_MAX_CONCURRENT must be positive")
	p.check(c.Upload.MaxWaitTime > 0, "UPLOAD_MAX_WAIT_TIME must be positive")
	p.check(c.Session.Max > 0, "SESSION_MAX must be positive")
	p.check(c.Session.IdleTimeout >= 0, "SESSION_IDLE_TIMEOUT must be non-negative")
	p.check(c.Session.SweepInterval > 0, "SESSION_SWEEP_INTERVAL must be positive")

	p.check(!c.Rate.Enabled || c.Rate.RequestsPerMinute > 0,
		"RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	p.check(!c.Security.RequireAPIKey || len(c.Security.APIKeys) > 0,
		"REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		p.check(false, "LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		p.check(false, "LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format)
	}

	return p.err()
}

// String returns a safe representation of the config for logging.
// The database URL and API keys are masked.
func (c *Config) String() string {
	db := "{disabled}"
	if c.Database.Enabled() {
		db = fmt.Sprintf("{URL: [MASKED], MaxConns: %d, MinConns: %d}", c.Database.MaxConns, c.Database.MinConns)
	}

	sections := []string{
		fmt.Sprintf("Server: {Addr: %q}", c.Server.Addr()),
		fmt.Sprintf("Backend: {URL: %q, PollInterval: %s, BreakerMaxFailures: %d}",
			c.Backend.URL, c.Backend.PollInterval, c.Backend.BreakerMaxFailures),
		"Database: " + db,
		fmt.Sprintf("Upload: {MaxFileSize: %d, MaxConcurrent: %d}", c.Upload.MaxFileSize, c.Upload.MaxConcurrent),
		fmt.Sprintf("Session: {Max: %d, IdleTimeout: %s}", c.Session.Max, c.Session.IdleTimeout),
		fmt.Sprintf("Rate: {Enabled: %v, RequestsPerMinute: %d}", c.Rate.Enabled, c.Rate.RequestsPerMinute),
		fmt.Sprintf("Security: {RequireAPIKey: %v, APIKeys: %d}", c.Security.RequireAPIKey, len(c.Security.APIKeys)),
		fmt.Sprintf("Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format),
	}
	return "Config{" + strings.Join(sections, ", ") + "}"
}
