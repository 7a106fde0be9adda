package storage

import (
	"context"
	"strconv"
	"sync"

	"tasklist-api/domain"
)

// Memory keeps tasks in process memory, in insertion order. Its contents are
// lost when the process exits.
type Memory struct {
	mu    sync.RWMutex
	tasks []domain.Task
	newID func() string
}

// NewMemory creates an empty in-memory store. Ids are decimal, strictly
// increasing nanosecond timestamps.
func NewMemory() *Memory {
	return &Memory{newID: func() string {
		return strconv.FormatInt(domain.NextTimestamp(), 10)
	}}
}

func (m *Memory) ListTasks(_ context.Context, owner string) ([]domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		if t.VisibleTo(owner) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *Memory) InsertTask(_ context.Context, task domain.Task) (domain.Task, error) {
	task.ID = m.newID()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, task)
	return task, nil
}

func (m *Memory) UpdateTask(_ context.Context, owner, id string, patch domain.TaskPatch) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(owner, id)
	if i < 0 {
		return domain.Task{}, domain.ErrNotFound
	}
	m.tasks[i] = patch.Apply(m.tasks[i])
	return m.tasks[i], nil
}

func (m *Memory) DeleteTask(_ context.Context, owner, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(owner, id)
	if i < 0 {
		return domain.ErrNotFound
	}
	m.tasks = append(m.tasks[:i], m.tasks[i+1:]...)
	return nil
}

func (m *Memory) Close(context.Context) error { return nil }

func (m *Memory) indexOf(owner, id string) int {
	for i, t := range m.tasks {
		if t.ID == id && t.VisibleTo(owner) {
			return i
		}
	}
	return -1
}
