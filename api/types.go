package api

import (
	"context"

	"tasklist-api/domain"
)

// Storage abstracts the record store behind the handler. An empty owner
// means the call is not scoped to a single caller. UpdateTask and DeleteTask
// return domain.ErrNotFound when no visible task has the given id.
type Storage interface {
	ListTasks(ctx context.Context, owner string) ([]domain.Task, error)
	InsertTask(ctx context.Context, task domain.Task) (domain.Task, error)
	UpdateTask(ctx context.Context, owner, id string, patch domain.TaskPatch) (domain.Task, error)
	DeleteTask(ctx context.Context, owner, id string) error
}

// Authenticator resolves a bearer token to the caller's identity.
type Authenticator interface {
	UserIDFromBearer(token []byte) (string, error)
}

// EventPublisher delivers task change events to a downstream queue.
type EventPublisher interface {
	PublishTaskEvent(ctx context.Context, ev domain.TaskEvent) error
}

// eventSink accepts change events without blocking the request.
type eventSink interface {
	Send(ev domain.TaskEvent) bool
}
