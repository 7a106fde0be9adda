package storage

import (
	"context"
	"fmt"

	"tasklist-api/config"
	"tasklist-api/domain"
)

// defaultUsername is used by backends that need a principal when
// STORE_USERNAME is unset.
const defaultUsername = "tasklist"

// Backend is a record store the task handler can be served from.
type Backend interface {
	ListTasks(ctx context.Context, owner string) ([]domain.Task, error)
	InsertTask(ctx context.Context, task domain.Task) (domain.Task, error)
	UpdateTask(ctx context.Context, owner, id string, patch domain.TaskPatch) (domain.Task, error)
	DeleteTask(ctx context.Context, owner, id string) error
	Close(ctx context.Context) error
}

var (
	_ Backend = (*Memory)(nil)
	_ Backend = (*Tables)(nil)
	_ Backend = (*Redis)(nil)
	_ Backend = (*Mongo)(nil)
	_ Backend = (*SQL)(nil)
)

// Open connects to the backend selected by cfg.
func Open(ctx context.Context, cfg config.StoreConfig) (Backend, error) {
	username := cfg.Username
	if username == "" {
		username = defaultUsername
	}
	switch cfg.Backend {
	case config.BackendMemory, "":
		return NewMemory(), nil
	case config.BackendTables:
		return NewTables(ctx, cfg.Endpoint, cfg.AccessKey, cfg.Table)
	case config.BackendRedis:
		return NewRedis(ctx, cfg.Endpoint, cfg.AccessKey, cfg.Table)
	case config.BackendMongo:
		return NewMongo(ctx, cfg.Endpoint, username, cfg.AccessKey, cfg.Table)
	case config.BackendPostgres:
		return NewPostgres(ctx, cfg.Endpoint, username, cfg.AccessKey, cfg.Table)
	case config.BackendMySQL:
		return NewMySQL(ctx, cfg.Endpoint, username, cfg.AccessKey, cfg.Table)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
