package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/billing/openitems"
)

// BillingHandlers builds the task handlers for the receivables ledger.
func BillingHandlers(svc *openitems.Service, logger *slog.Logger) []TaskHandler {
	return []TaskHandler{
		{Type: TaskOverdueScan, Handler: handleOverdueScan(svc, logger)},
		{Type: TaskDunningNotice, Handler: handleDunningNotice(svc, logger)},
	}
}

// handleOverdueScan flips unpinned OPEN items past their due date to OVERDUE
// by running the ledger recalculation over each.
func handleOverdueScan(svc *openitems.Service, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		n, err := svc.RecalculateDue(ctx, time.Now())
		if err != nil {
			logger.Error("overdue scan failed", slog.Any("error", err))
			return err
		}
		logger.Info("overdue scan complete", slog.Int("recalculated", n))
		return nil
	}
}

// handleDunningNotice dispatches the reminder for an escalated receivable.
// Delivery is a log line for now; the open item itself was already stamped
// by the escalation that enqueued this task.
func handleDunningNotice(svc *openitems.Service, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload DunningNoticePayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}

		item, err := svc.Get(ctx, payload.OpenItemID)
		if err != nil {
			logger.Error("dunning notice lookup failed", slog.Any("error", err),
				slog.Int64("open_item_id", payload.OpenItemID))
			return err
		}

		logger.Info("dunning notice dispatched",
			slog.Int64("open_item_id", item.ID),
			slog.Int64("customer_id", item.CustomerID),
			slog.Int("level", payload.Level),
			slog.Float64("open_amount", item.OpenAmount))
		return nil
	}
}
