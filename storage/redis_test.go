package storage

import (
	"context"
	"errors"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"tasklist-api/domain"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisWithClient(client, "tasks"), mr
}

func TestRedisListNewestFirst(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedis(t)

	var created []domain.Task
	for _, text := range []string{"one", "two", "three"} {
		task, err := store.InsertTask(ctx, domain.NewTask(text, "u1"))
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		if task.ID == "" || task.CreatedAt == 0 || task.Completed {
			t.Fatalf("unexpected created task: %+v", task)
		}
		created = append(created, task)
	}

	tasks, err := store.ListTasks(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(tasks))
	}
	for i := range tasks {
		want := created[len(created)-1-i]
		if tasks[i] != want {
			t.Fatalf("position %d: got %+v, want %+v", i, tasks[i], want)
		}
	}
}

func TestRedisListEmpty(t *testing.T) {
	store, _ := newTestRedis(t)
	tasks, err := store.ListTasks(context.Background(), "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if tasks == nil || len(tasks) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", tasks)
	}
}

func TestRedisUpdatePartial(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedis(t)
	created, _ := store.InsertTask(ctx, domain.NewTask("buy milk", "u1"))

	done := true
	updated, err := store.UpdateTask(ctx, "u1", created.ID, domain.TaskPatch{Completed: &done})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Text != "buy milk" || !updated.Completed || updated.CreatedAt != created.CreatedAt {
		t.Fatalf("unexpected updated task: %+v", updated)
	}
	if got := mr.HGet("tasks:task:"+created.ID, "completed"); got != "1" {
		t.Fatalf("expected stored completed flag 1, got %q", got)
	}
	if got := mr.HGet("tasks:task:"+created.ID, "text"); got != "buy milk" {
		t.Fatalf("expected stored text to be unchanged, got %q", got)
	}
}

func TestRedisOwnerScoping(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedis(t)
	alice, _ := store.InsertTask(ctx, domain.NewTask("alice's", "alice"))
	bob, _ := store.InsertTask(ctx, domain.NewTask("bob's", "bob"))

	tasks, err := store.ListTasks(ctx, "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != alice.ID {
		t.Fatalf("expected only alice's task, got %+v", tasks)
	}

	text := "hijacked"
	if _, err := store.UpdateTask(ctx, "alice", bob.ID, domain.TaskPatch{Text: &text}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound updating another owner's task, got %v", err)
	}
	if err := store.DeleteTask(ctx, "alice", bob.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting another owner's task, got %v", err)
	}

	// Unscoped access reaches any task.
	if _, err := store.UpdateTask(ctx, "", bob.ID, domain.TaskPatch{Text: &text}); err != nil {
		t.Fatalf("unscoped update: %v", err)
	}
}

func TestRedisDelete(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedis(t)
	keep, _ := store.InsertTask(ctx, domain.NewTask("keep", "u1"))
	drop, _ := store.InsertTask(ctx, domain.NewTask("drop", "u1"))

	if err := store.DeleteTask(ctx, "u1", drop.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if mr.Exists("tasks:task:" + drop.ID) {
		t.Fatal("expected task hash to be removed")
	}
	tasks, _ := store.ListTasks(ctx, "u1")
	if len(tasks) != 1 || tasks[0].ID != keep.ID {
		t.Fatalf("unexpected tasks after delete: %+v", tasks)
	}
	if err := store.DeleteTask(ctx, "u1", drop.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on repeated delete, got %v", err)
	}
}

func TestRedisOptionsConnectionString(t *testing.T) {
	opts := redisOptions("cache.example.com:6380,password=secret,ssl=True")
	if opts.Addr != "cache.example.com:6380" {
		t.Fatalf("unexpected addr %q", opts.Addr)
	}
	if opts.Password != "secret" {
		t.Fatalf("unexpected password %q", opts.Password)
	}
	if opts.TLSConfig == nil {
		t.Fatal("expected TLS to be enabled")
	}

	opts = redisOptions("redis://localhost:6379/2")
	if opts.Addr != "localhost:6379" || opts.DB != 2 {
		t.Fatalf("unexpected url options: %+v", opts)
	}
}

func TestDecodeTaskHashRejectsGarbage(t *testing.T) {
	if _, err := decodeTaskHash("x", map[string]string{"completed": "maybe"}); err == nil {
		t.Fatal("expected error for invalid completed flag")
	}
	if _, err := decodeTaskHash("x", map[string]string{"createdAt": "yesterday"}); err == nil {
		t.Fatal("expected error for invalid createdAt")
	}
}
