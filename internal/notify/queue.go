package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TaskWebhookDelivery = "notify:webhook"
	webhookQueue        = "notify"
	webhookMaxRetry     = 10
)

type taskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueHook hands notifications to asynq so cmd/worker delivers them with
// retries.
type QueueHook struct {
	client  taskEnqueuer
	timeout time.Duration
}

func NewQueueHook(client taskEnqueuer, timeout time.Duration) *QueueHook {
	return &QueueHook{client: client, timeout: timeout}
}

func (q *QueueHook) Notify(ctx context.Context, notification Notification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	opts := []asynq.Option{
		asynq.Queue(webhookQueue),
		asynq.MaxRetry(webhookMaxRetry),
		asynq.TaskID(notification.ID.String()),
	}
	if q.timeout > 0 {
		opts = append(opts, asynq.Timeout(q.timeout))
	}

	if _, err := q.client.EnqueueContext(ctx, asynq.NewTask(TaskWebhookDelivery, payload), opts...); err != nil {
		return fmt.Errorf("enqueue webhook: %w", err)
	}
	return nil
}

// NewRedisClientOpt parses REDIS_URL the way asynq expects it.
func NewRedisClientOpt(redisURL string) (asynq.RedisConnOpt, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}
	return opt, nil
}

// NewServeMux routes webhook delivery tasks to the webhook client.
func NewServeMux(webhook *WebhookClient) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskWebhookDelivery, func(ctx context.Context, task *asynq.Task) error {
		var notification Notification
		if err := json.Unmarshal(task.Payload(), &notification); err != nil {
			log.Printf("notify worker: dropping malformed task: %v", err)
			return fmt.Errorf("decode notification: %v: %w", err, asynq.SkipRetry)
		}
		return webhook.Deliver(ctx, task.Payload())
	})
	return mux
}

func NewServer(opt asynq.RedisConnOpt, concurrency int) *asynq.Server {
	if concurrency <= 0 {
		concurrency = 10
	}
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{webhookQueue: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Printf("notify worker: task %s failed: %v", task.Type(), err)
		}),
	})
}
