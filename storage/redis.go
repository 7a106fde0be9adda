package storage

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"tasklist-api/domain"
)

const (
	fieldText      = "text"
	fieldCompleted = "completed"
	fieldOwner     = "owner"
	fieldCreatedAt = "createdAt"
)

// errConcurrentUpdate is returned when a watched task changed between the
// read and the write of an update or delete.
var errConcurrentUpdate = errors.New("task modified concurrently")

// Redis stores each task as a hash and keeps creation order in sorted sets
// scored by a monotonically increasing sequence.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to the Redis server at endpoint. endpoint is either a
// redis:// URL or an "host:port,ssl=true" style connection string.
func NewRedis(ctx context.Context, endpoint, accessKey, prefix string) (*Redis, error) {
	opts := redisOptions(endpoint)
	opts.Password = accessKey
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisWithClient(client, prefix), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, prefix string) *Redis {
	if client == nil {
		panic("storage.NewRedisWithClient: client is nil")
	}
	return &Redis{client: client, prefix: prefix}
}

func redisOptions(conn string) *redis.Options {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}

func (r *Redis) taskKey(id string) string { return r.prefix + ":task:" + id }
func (r *Redis) seqKey() string           { return r.prefix + ":seq" }

func (r *Redis) indexKey(owner string) string {
	if owner == "" {
		return r.prefix + ":index"
	}
	return r.prefix + ":owner:" + owner
}

// ListTasks returns tasks newest first.
func (r *Redis) ListTasks(ctx context.Context, owner string) ([]domain.Task, error) {
	ids, err := r.client.ZRevRange(ctx, r.indexKey(owner), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []domain.Task{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, r.taskKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	tasks := make([]domain.Task, 0, len(ids))
	for i, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			return nil, err
		}
		if len(vals) == 0 {
			// Index entry outlived its hash; skip it.
			continue
		}
		t, err := decodeTaskHash(ids[i], vals)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (r *Redis) InsertTask(ctx context.Context, task domain.Task) (domain.Task, error) {
	seq, err := r.client.Incr(ctx, r.seqKey()).Result()
	if err != nil {
		return domain.Task{}, err
	}
	task.ID = uuid.NewString()
	task.CreatedAt = domain.NextTimestamp()

	member := redis.Z{Score: float64(seq), Member: task.ID}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.taskKey(task.ID), encodeTaskHash(task))
		pipe.ZAdd(ctx, r.indexKey(""), member)
		if task.Owner != "" {
			pipe.ZAdd(ctx, r.indexKey(task.Owner), member)
		}
		return nil
	})
	if err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

func (r *Redis) UpdateTask(ctx context.Context, owner, id string, patch domain.TaskPatch) (domain.Task, error) {
	key := r.taskKey(id)
	var updated domain.Task
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		task, err := r.loadVisible(ctx, tx, owner, id)
		if err != nil {
			return err
		}
		updated = patch.Apply(task)
		if patch.Empty() {
			return nil
		}
		fields := make(map[string]any, 2)
		if patch.Text != nil {
			fields[fieldText] = *patch.Text
		}
		if patch.Completed != nil {
			fields[fieldCompleted] = formatBool(*patch.Completed)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fields)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return domain.Task{}, errConcurrentUpdate
	}
	if err != nil {
		return domain.Task{}, err
	}
	return updated, nil
}

func (r *Redis) DeleteTask(ctx context.Context, owner, id string) error {
	key := r.taskKey(id)
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		task, err := r.loadVisible(ctx, tx, owner, id)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.ZRem(ctx, r.indexKey(""), id)
			if task.Owner != "" {
				pipe.ZRem(ctx, r.indexKey(task.Owner), id)
			}
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return errConcurrentUpdate
	}
	return err
}

func (r *Redis) Close(context.Context) error {
	return r.client.Close()
}

func (r *Redis) loadVisible(ctx context.Context, tx *redis.Tx, owner, id string) (domain.Task, error) {
	vals, err := tx.HGetAll(ctx, r.taskKey(id)).Result()
	if err != nil {
		return domain.Task{}, err
	}
	if len(vals) == 0 {
		return domain.Task{}, domain.ErrNotFound
	}
	task, err := decodeTaskHash(id, vals)
	if err != nil {
		return domain.Task{}, err
	}
	if !task.VisibleTo(owner) {
		return domain.Task{}, domain.ErrNotFound
	}
	return task, nil
}

func encodeTaskHash(t domain.Task) map[string]any {
	return map[string]any{
		fieldText:      t.Text,
		fieldCompleted: formatBool(t.Completed),
		fieldOwner:     t.Owner,
		fieldCreatedAt: strconv.FormatInt(t.CreatedAt, 10),
	}
}

func decodeTaskHash(id string, vals map[string]string) (domain.Task, error) {
	t := domain.Task{ID: id, Text: vals[fieldText], Owner: vals[fieldOwner]}
	if raw := vals[fieldCompleted]; raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return domain.Task{}, fmt.Errorf("task %s: invalid %s %q", id, fieldCompleted, raw)
		}
		t.Completed = b
	}
	if raw := vals[fieldCreatedAt]; raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return domain.Task{}, fmt.Errorf("task %s: invalid %s %q", id, fieldCreatedAt, raw)
		}
		t.CreatedAt = n
	}
	return t, nil
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
