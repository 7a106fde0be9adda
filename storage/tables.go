package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/google/uuid"

	"tasklist-api/domain"
)

// tasksPartition holds every task. Owner is a property so that unscoped
// lookups by id stay point reads.
const tasksPartition = "tasks"

const edmInt64 = "Edm.Int64"

// Tables stores tasks in an Azure Storage table.
type Tables struct {
	table *aztables.Client
}

// NewTables connects to the table service at endpoint using a shared account
// key, creating the table if it does not exist yet.
func NewTables(ctx context.Context, endpoint, accessKey, table string) (*Tables, error) {
	account, err := accountFromEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	cred, err := aztables.NewSharedKeyCredential(account, accessKey)
	if err != nil {
		return nil, fmt.Errorf("tables credential: %w", err)
	}
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Second * 30,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientWithSharedKey(endpoint, cred, &tablesClientOptions)
	if err != nil {
		return nil, fmt.Errorf("tables service client: %w", err)
	}
	client := svc.NewClient(table)
	if _, err := client.CreateTable(ctx, nil); err != nil {
		var respErr *azcore.ResponseError
		if !(errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists)) {
			return nil, fmt.Errorf("create table %s: %w", table, err)
		}
	}
	return &Tables{table: client}, nil
}

// accountFromEndpoint derives the storage account name from a service URL:
// the first host label for cloud endpoints, the first path segment for
// emulator style endpoints such as http://127.0.0.1:10002/devstoreaccount1.
func accountFromEndpoint(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid tables endpoint: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("invalid tables endpoint %q: missing host", endpoint)
	}
	if host == "localhost" || net.ParseIP(host) != nil {
		seg, _, _ := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
		if seg == "" {
			return "", fmt.Errorf("invalid tables endpoint %q: missing account path", endpoint)
		}
		return seg, nil
	}
	account, _, _ := strings.Cut(host, ".")
	return account, nil
}

type taskEntity struct {
	aztables.Entity
	Text          string `json:"Text"`
	Completed     bool   `json:"Completed"`
	Owner         string `json:"Owner"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
}

// taskUpdate carries the merge payload for a partial update.
type taskUpdate struct {
	PartitionKey string  `json:"PartitionKey"`
	RowKey       string  `json:"RowKey"`
	Text         *string `json:"Text,omitempty"`
	Completed    *bool   `json:"Completed,omitempty"`
}

func newTaskEntity(t domain.Task) taskEntity {
	return taskEntity{
		Entity:        aztables.Entity{PartitionKey: tasksPartition, RowKey: t.ID},
		Text:          t.Text,
		Completed:     t.Completed,
		Owner:         t.Owner,
		CreatedAt:     t.CreatedAt,
		CreatedAtType: edmInt64,
	}
}

func decodeTaskEntity(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	return domain.Task{
		ID:        ent.RowKey,
		Text:      ent.Text,
		Completed: ent.Completed,
		Owner:     ent.Owner,
		CreatedAt: ent.CreatedAt,
	}, nil
}

func listFilter(owner string) string {
	filter := "PartitionKey eq '" + tasksPartition + "'"
	if owner != "" {
		filter += " and Owner eq '" + escapeODataString(owner) + "'"
	}
	return filter
}

func escapeODataString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// ListTasks returns tasks newest first.
func (s *Tables) ListTasks(ctx context.Context, owner string) ([]domain.Task, error) {
	filter := listFilter(owner)
	pager := s.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			t, err := decodeTaskEntity(e)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, t)
		}
	}
	sortNewestFirst(tasks)
	return tasks, nil
}

func (s *Tables) InsertTask(ctx context.Context, task domain.Task) (domain.Task, error) {
	task.ID = uuid.NewString()
	task.CreatedAt = domain.NextTimestamp()
	payload, err := json.Marshal(newTaskEntity(task))
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := s.table.AddEntity(ctx, payload, nil); err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

// UpdateTask merges the patch into the stored entity. The write is
// conditional on the ETag read, so a concurrent change fails the update
// instead of being overwritten.
func (s *Tables) UpdateTask(ctx context.Context, owner, id string, patch domain.TaskPatch) (domain.Task, error) {
	task, etag, err := s.getTask(ctx, owner, id)
	if err != nil {
		return domain.Task{}, err
	}
	if patch.Empty() {
		return task, nil
	}

	payload, err := json.Marshal(taskUpdate{
		PartitionKey: tasksPartition,
		RowKey:       id,
		Text:         patch.Text,
		Completed:    patch.Completed,
	})
	if err != nil {
		return domain.Task{}, err
	}
	_, err = s.table.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeMerge})
	if isNotFound(err) {
		return domain.Task{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Task{}, err
	}
	return patch.Apply(task), nil
}

func (s *Tables) DeleteTask(ctx context.Context, owner, id string) error {
	if !validRowKey(id) {
		return domain.ErrNotFound
	}
	opts := &aztables.DeleteEntityOptions{}
	if owner != "" {
		_, etag, err := s.getTask(ctx, owner, id)
		if err != nil {
			return err
		}
		opts.IfMatch = &etag
	}
	_, err := s.table.DeleteEntity(ctx, tasksPartition, id, opts)
	if isNotFound(err) {
		return domain.ErrNotFound
	}
	return err
}

func (s *Tables) Close(context.Context) error { return nil }

func (s *Tables) getTask(ctx context.Context, owner, id string) (domain.Task, azcore.ETag, error) {
	if !validRowKey(id) {
		return domain.Task{}, "", domain.ErrNotFound
	}
	resp, err := s.table.GetEntity(ctx, tasksPartition, id, nil)
	if isNotFound(err) {
		return domain.Task{}, "", domain.ErrNotFound
	}
	if err != nil {
		return domain.Task{}, "", err
	}
	task, err := decodeTaskEntity(resp.Value)
	if err != nil {
		return domain.Task{}, "", err
	}
	if !task.VisibleTo(owner) {
		return domain.Task{}, "", domain.ErrNotFound
	}
	return task, resp.ETag, nil
}

// validRowKey rejects keys the table service refuses outright.
func validRowKey(id string) bool {
	return id != "" && !strings.ContainsAny(id, "/\\#?")
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

func sortNewestFirst(tasks []domain.Task) {
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].CreatedAt > tasks[j].CreatedAt })
}
