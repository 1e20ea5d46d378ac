package jobs

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskOverdueScan recalculates still-open receivables past their due date.
	TaskOverdueScan = "billing:overdue_scan"
	// TaskDunningNotice dispatches a payment reminder after an escalation.
	TaskDunningNotice = "billing:dunning_notice"
)

// DunningNoticePayload identifies the reminded receivable.
type DunningNoticePayload struct {
	OpenItemID int64 `json:"open_item_id"`
	Level      int   `json:"level"`
}

// NewOverdueScanTask constructs the periodic overdue scan task.
func NewOverdueScanTask() *asynq.Task {
	return asynq.NewTask(TaskOverdueScan, nil)
}

// NewDunningNoticeTask constructs a dunning notice task.
func NewDunningNoticeTask(payload DunningNoticePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDunningNotice, data), nil
}

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// EnqueueDunningNotice enqueues a dunning notice for asynchronous dispatch.
// Satisfies openitems.NoticeEnqueuer.
func (c *Client) EnqueueDunningNotice(ctx context.Context, openItemID int64, level int) error {
	task, err := NewDunningNoticeTask(DunningNoticePayload{OpenItemID: openItemID, Level: level})
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault))
	return err
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
