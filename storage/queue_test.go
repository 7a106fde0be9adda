package storage

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"tasklist-api/domain"
)

type fakeQueue struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (f *fakeQueue) EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error) {
	if f.err != nil {
		return azqueue.EnqueueMessagesResponse{}, f.err
	}
	f.mu.Lock()
	f.messages = append(f.messages, content)
	f.mu.Unlock()
	return azqueue.EnqueueMessagesResponse{}, nil
}

func TestQueuePublisherEnqueuesJSON(t *testing.T) {
	fq := &fakeQueue{}
	p := &QueuePublisher{queue: fq}
	task := domain.Task{ID: "t1", Text: "milk", Owner: "u1", CreatedAt: 10}

	ev := domain.TaskEvent{ID: "e1", Type: domain.EventTaskCreated, TaskID: "t1", Owner: "u1", Time: 11, Task: &task}
	if err := p.PublishTaskEvent(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(fq.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(fq.messages))
	}

	var got map[string]any
	if err := sonic.UnmarshalString(fq.messages[0], &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["type"] != "task-created" || got["taskId"] != "t1" {
		t.Fatalf("unexpected message: %v", got)
	}
	body, ok := got["task"].(map[string]any)
	if !ok || body["text"] != "milk" {
		t.Fatalf("task payload missing: %v", got)
	}
}

func TestQueuePublisherDeleteOmitsTask(t *testing.T) {
	fq := &fakeQueue{}
	p := &QueuePublisher{queue: fq}

	ev := domain.TaskEvent{ID: "e2", Type: domain.EventTaskDeleted, TaskID: "t1"}
	if err := p.PublishTaskEvent(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	var got map[string]any
	if err := sonic.UnmarshalString(fq.messages[0], &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := got["task"]; ok {
		t.Fatalf("delete event should not carry a task: %v", got)
	}
}

func TestQueuePublisherPropagatesErrors(t *testing.T) {
	want := errors.New("queue unavailable")
	p := &QueuePublisher{queue: &fakeQueue{err: want}}
	err := p.PublishTaskEvent(context.Background(), domain.TaskEvent{Type: domain.EventTaskUpdated})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}
