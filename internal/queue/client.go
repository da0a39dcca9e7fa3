package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

const (
	taskMaxRetry = 3
	taskTimeout  = 3 * time.Minute
)

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		queue:  queueName,
	}
}

// EnqueueProcessBatch schedules a job. The job id doubles as the task id so a
// repeated start request cannot queue the same job twice.
func (c *Client) EnqueueProcessBatch(ctx context.Context, payload ProcessBatchPayload) (*asynq.TaskInfo, error) {
	task, err := NewProcessBatchTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.TaskID(payload.JobID),
		asynq.MaxRetry(taskMaxRetry),
		asynq.Timeout(taskTimeout),
	)
}

func (c *Client) Queue() string {
	return c.queue
}

func (c *Client) Close() error {
	return c.client.Close()
}
