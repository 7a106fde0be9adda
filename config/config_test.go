package config

import (
	"strings"
	"testing"
	"time"
)

func envFrom(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadDefaultsToMemory(t *testing.T) {
	cfg, err := load(envFrom(nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Backend != BackendMemory || cfg.Store.Persistent() {
		t.Fatalf("expected memory backend, got %+v", cfg.Store)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("unexpected listen addr %q", cfg.ListenAddr)
	}
	if !cfg.ScopeByOwner {
		t.Fatal("expected owner scoping to default on")
	}
	if cfg.Events.Enabled() {
		t.Fatal("expected events to be disabled by default")
	}
}

func TestLoadPersistentRequiresEndpointAndKey(t *testing.T) {
	_, err := load(envFrom(map[string]string{
		"STORE_BACKEND":            "tables",
		"LOCAL_AUTH_MODE":          "hs256",
		"LOCAL_AUTH_SHARED_SECRET": "s3cret",
	}))
	if err == nil {
		t.Fatal("expected error for missing store endpoint and key")
	}
	for _, want := range []string{"STORE_ENDPOINT", "STORE_ACCESS_KEY"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected error to mention %s, got %v", want, err)
		}
	}
}

func TestLoadPersistentRequiresAuth(t *testing.T) {
	_, err := load(envFrom(map[string]string{
		"STORE_BACKEND":    "redis",
		"STORE_ENDPOINT":   "redis://localhost:6379/0",
		"STORE_ACCESS_KEY": "pw",
	}))
	if err == nil || !strings.Contains(err.Error(), "AUTH_DOMAIN") {
		t.Fatalf("expected missing auth config error, got %v", err)
	}
}

func TestLoadPersistentWithJWKS(t *testing.T) {
	cfg, err := load(envFrom(map[string]string{
		"STORE_BACKEND":                "Postgres",
		"STORE_ENDPOINT":               "postgres://db:5432/tasks",
		"STORE_ACCESS_KEY":             "pw",
		"AUTH_DOMAIN":                  "tenant.example.com",
		"AUTH_AUDIENCE":                "api://tasks",
		"JWKS_CACHE_TTL":               "5m",
		"SCOPE_BY_OWNER":               "false",
		"FUNCTIONS_CUSTOMHANDLER_PORT": "7071",
		"DEBUG":                        "true",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Backend != BackendPostgres {
		t.Fatalf("expected backend to be normalized, got %q", cfg.Store.Backend)
	}
	if cfg.Auth.Local() {
		t.Fatal("expected remote JWKS auth")
	}
	if cfg.Auth.JWKSURL() != "https://tenant.example.com/.well-known/jwks.json" {
		t.Fatalf("unexpected jwks url %q", cfg.Auth.JWKSURL())
	}
	if cfg.Auth.Issuer() != "https://tenant.example.com/" {
		t.Fatalf("unexpected issuer %q", cfg.Auth.Issuer())
	}
	if cfg.Auth.JWKSCacheTTL != 5*time.Minute {
		t.Fatalf("unexpected jwks ttl %v", cfg.Auth.JWKSCacheTTL)
	}
	if cfg.ScopeByOwner {
		t.Fatal("expected owner scoping to be disabled")
	}
	if cfg.ListenAddr != ":7071" || !cfg.Debug {
		t.Fatalf("unexpected server config: %+v", cfg)
	}
	if cfg.Store.Table != "tasks" {
		t.Fatalf("unexpected default table %q", cfg.Store.Table)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	_, err := load(envFrom(map[string]string{"STORE_BACKEND": "cassandra"}))
	if err == nil || !strings.Contains(err.Error(), "cassandra") {
		t.Fatalf("expected unsupported backend error, got %v", err)
	}
}

func TestLoadLocalAuthModeRequiresSecret(t *testing.T) {
	_, err := load(envFrom(map[string]string{
		"STORE_BACKEND":    "mongo",
		"STORE_ENDPOINT":   "mongodb://localhost:27017",
		"STORE_ACCESS_KEY": "pw",
		"LOCAL_AUTH_MODE":  "hs256",
	}))
	if err == nil || !strings.Contains(err.Error(), "LOCAL_AUTH_SHARED_SECRET") {
		t.Fatalf("expected missing secret error, got %v", err)
	}
}

func TestLoadEvents(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
		check   func(t *testing.T, e EventsConfig)
	}{
		{
			name:    "queue without connection string",
			env:     map[string]string{"EVENTS_QUEUE": "task-events"},
			wantErr: "EVENTS_QUEUE_CONNECTION_STRING",
		},
		{
			name: "invalid workers",
			env: map[string]string{
				"EVENTS_QUEUE":                   "task-events",
				"EVENTS_QUEUE_CONNECTION_STRING": "UseDevelopmentStorage=true",
				"EVENTS_WORKERS":                 "0",
			},
			wantErr: "EVENTS_WORKERS",
		},
		{
			name: "overrides",
			env: map[string]string{
				"EVENTS_QUEUE":                   "task-events",
				"EVENTS_QUEUE_CONNECTION_STRING": "UseDevelopmentStorage=true",
				"EVENTS_WORKERS":                 "2",
				"EVENTS_BUFFER":                  "16",
				"EVENTS_TIMEOUT":                 "3s",
			},
			check: func(t *testing.T, e EventsConfig) {
				if !e.Enabled() || e.Workers != 2 || e.Buffer != 16 || e.Timeout != 3*time.Second {
					t.Fatalf("unexpected events config: %+v", e)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := load(envFrom(tt.env))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error mentioning %s, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			tt.check(t, cfg.Events)
		})
	}
}
