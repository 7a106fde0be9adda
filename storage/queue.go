package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"tasklist-api/domain"
)

type messageQueue interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// QueuePublisher writes task change events to an Azure Storage queue.
type QueuePublisher struct {
	queue messageQueue
}

// NewQueuePublisher connects to the named queue, creating it when missing.
func NewQueuePublisher(ctx context.Context, connStr, queueName string) (*QueuePublisher, error) {
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 30,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &queueClientOptions)
	if err != nil {
		return nil, fmt.Errorf("queue client: %w", err)
	}
	if _, err := q.Create(ctx, nil); err != nil {
		var respErr *azcore.ResponseError
		if !(errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists") {
			return nil, fmt.Errorf("create queue %s: %w", queueName, err)
		}
	}
	return &QueuePublisher{queue: q}, nil
}

// PublishTaskEvent enqueues ev as a JSON message.
func (p *QueuePublisher) PublishTaskEvent(ctx context.Context, ev domain.TaskEvent) error {
	data, err := encodeTaskEvent(ev)
	if err != nil {
		return err
	}
	_, err = p.queue.EnqueueMessage(ctx, data, nil)
	return err
}

func encodeTaskEvent(ev domain.TaskEvent) (string, error) {
	data, err := sonic.ConfigStd.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	return string(data), nil
}
