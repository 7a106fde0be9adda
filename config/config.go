package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendTables   = "tables"
	BackendRedis    = "redis"
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"
	BackendMySQL    = "mysql"
)

const (
	defaultPort         = "8080"
	defaultTable        = "tasks"
	defaultJWKSCacheTTL = 15 * time.Minute
	defaultEventWorkers = 4
	defaultEventBuffer  = 1024
	defaultEventTimeout = 10 * time.Second
	localAuthModeHS256  = "hs256"
	envFunctionsPort    = "FUNCTIONS_CUSTOMHANDLER_PORT"
	envStoreBackend     = "STORE_BACKEND"
	envStoreEndpoint    = "STORE_ENDPOINT"
	envStoreAccessKey   = "STORE_ACCESS_KEY"
	envStoreUsername    = "STORE_USERNAME"
	envStoreTable       = "STORE_TABLE"
	envAuthDomain       = "AUTH_DOMAIN"
	envAuthAudience     = "AUTH_AUDIENCE"
	envLocalAuthMode    = "LOCAL_AUTH_MODE"
	envLocalAuthSecret  = "LOCAL_AUTH_SHARED_SECRET"
	envJWKSCacheTTL     = "JWKS_CACHE_TTL"
	envScopeByOwner     = "SCOPE_BY_OWNER"
	envEventsConnString = "EVENTS_QUEUE_CONNECTION_STRING"
	envEventsQueue      = "EVENTS_QUEUE"
	envEventsWorkers    = "EVENTS_WORKERS"
	envEventsBuffer     = "EVENTS_BUFFER"
	envEventsTimeout    = "EVENTS_TIMEOUT"
	envSentryDSN        = "SENTRY_DSN"
	envDebug            = "DEBUG"
	envLogFormat        = "LOG_FORMAT"
)

// Config holds everything the service needs at startup. It is read once and
// passed explicitly to constructors.
type Config struct {
	ListenAddr string
	Debug      bool
	JSONLogs   bool
	SentryDSN  string

	Store  StoreConfig
	Auth   AuthConfig
	Events EventsConfig

	// ScopeByOwner restricts list, update and delete to the caller's own
	// tasks in the persistent variant.
	ScopeByOwner bool
}

// StoreConfig selects and locates the record store.
type StoreConfig struct {
	Backend   string
	Endpoint  string
	AccessKey string
	Username  string
	Table     string
}

// Persistent reports whether the configured backend survives restarts.
func (s StoreConfig) Persistent() bool {
	return s.Backend != BackendMemory
}

// AuthConfig configures the token verifier used by the persistent variant.
type AuthConfig struct {
	Domain       string
	Audience     string
	SharedSecret string
	JWKSCacheTTL time.Duration
}

// Local reports whether tokens are verified with a shared HS256 secret
// instead of a remote JWKS.
func (a AuthConfig) Local() bool {
	return a.SharedSecret != ""
}

// JWKSURL is the well-known key set location for Domain.
func (a AuthConfig) JWKSURL() string {
	return fmt.Sprintf("https://%s/.well-known/jwks.json", a.Domain)
}

// Issuer is the expected token issuer for Domain.
func (a AuthConfig) Issuer() string {
	if a.Domain == "" {
		return ""
	}
	return "https://" + a.Domain + "/"
}

// EventsConfig configures optional change-event publishing.
type EventsConfig struct {
	ConnectionString string
	Queue            string
	Workers          int
	Buffer           int
	Timeout          time.Duration
}

// Enabled reports whether change events should be published.
func (e EventsConfig) Enabled() bool {
	return e.Queue != ""
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (Config, error) {
	var errs []error

	cfg := Config{
		ListenAddr:   ":" + orDefault(getenv(envFunctionsPort), defaultPort),
		JSONLogs:     strings.EqualFold(getenv(envLogFormat), "json"),
		SentryDSN:    getenv(envSentryDSN),
		ScopeByOwner: true,
	}
	if raw := getenv(envDebug); raw != "" {
		dbg, err := strconv.ParseBool(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", envDebug, err))
		}
		cfg.Debug = dbg
	}
	if raw := getenv(envScopeByOwner); raw != "" {
		scope, err := strconv.ParseBool(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", envScopeByOwner, err))
		} else {
			cfg.ScopeByOwner = scope
		}
	}

	cfg.Store = StoreConfig{
		Backend:   strings.ToLower(orDefault(getenv(envStoreBackend), BackendMemory)),
		Endpoint:  getenv(envStoreEndpoint),
		AccessKey: getenv(envStoreAccessKey),
		Username:  getenv(envStoreUsername),
		Table:     orDefault(getenv(envStoreTable), defaultTable),
	}
	switch cfg.Store.Backend {
	case BackendMemory:
	case BackendTables, BackendRedis, BackendMongo, BackendPostgres, BackendMySQL:
		if cfg.Store.Endpoint == "" {
			errs = append(errs, fmt.Errorf("missing %s", envStoreEndpoint))
		}
		if cfg.Store.AccessKey == "" {
			errs = append(errs, fmt.Errorf("missing %s", envStoreAccessKey))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported %s %q", envStoreBackend, cfg.Store.Backend))
	}

	if cfg.Store.Persistent() {
		auth, err := loadAuth(getenv)
		if err != nil {
			errs = append(errs, err)
		}
		cfg.Auth = auth
	}

	events, err := loadEvents(getenv)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.Events = events

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, nil
}

func loadAuth(getenv func(string) string) (AuthConfig, error) {
	auth := AuthConfig{
		Domain:       getenv(envAuthDomain),
		Audience:     getenv(envAuthAudience),
		JWKSCacheTTL: defaultJWKSCacheTTL,
	}
	if raw := getenv(envJWKSCacheTTL); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil || ttl <= 0 {
			return auth, fmt.Errorf("invalid %s: %q", envJWKSCacheTTL, raw)
		}
		auth.JWKSCacheTTL = ttl
	}

	if mode := strings.ToLower(getenv(envLocalAuthMode)); mode != "" {
		if mode != localAuthModeHS256 {
			return auth, fmt.Errorf("unsupported %s %q", envLocalAuthMode, mode)
		}
		auth.SharedSecret = getenv(envLocalAuthSecret)
		if auth.SharedSecret == "" {
			return auth, fmt.Errorf("%s must be set when %s=%s", envLocalAuthSecret, envLocalAuthMode, localAuthModeHS256)
		}
		return auth, nil
	}

	if auth.Domain == "" || auth.Audience == "" {
		return auth, fmt.Errorf("missing auth config: %s and %s are required", envAuthDomain, envAuthAudience)
	}
	return auth, nil
}

func loadEvents(getenv func(string) string) (EventsConfig, error) {
	events := EventsConfig{
		ConnectionString: getenv(envEventsConnString),
		Queue:            getenv(envEventsQueue),
		Workers:          defaultEventWorkers,
		Buffer:           defaultEventBuffer,
		Timeout:          defaultEventTimeout,
	}
	if !events.Enabled() {
		return events, nil
	}
	if events.ConnectionString == "" {
		return events, fmt.Errorf("%s must be set when %s is set", envEventsConnString, envEventsQueue)
	}

	var err error
	if events.Workers, err = positiveInt(getenv, envEventsWorkers, defaultEventWorkers); err != nil {
		return events, err
	}
	if events.Buffer, err = positiveInt(getenv, envEventsBuffer, defaultEventBuffer); err != nil {
		return events, err
	}
	if raw := getenv(envEventsTimeout); raw != "" {
		d, perr := time.ParseDuration(raw)
		if perr != nil || d <= 0 {
			return events, fmt.Errorf("invalid %s: %q", envEventsTimeout, raw)
		}
		events.Timeout = d
	}
	return events, nil
}

func positiveInt(getenv func(string) string, key string, def int) (int, error) {
	raw := getenv(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be greater than zero", key)
	}
	return n, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
