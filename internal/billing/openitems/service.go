package openitems

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-erp/meridian-erp/internal/billing/shared"
	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	appshared "github.com/meridian-erp/meridian-erp/internal/shared"
)

// NoticeEnqueuer queues a dunning notice for asynchronous dispatch.
type NoticeEnqueuer interface {
	EnqueueDunningNotice(ctx context.Context, openItemID int64, level int) error
}

// Service owns the open item ledger: receivable creation, payment recording,
// balance recalculation and dunning escalation.
type Service struct {
	repo        Repository
	idempotency *appshared.IdempotencyStore
	enqueuer    NoticeEnqueuer
	metrics     *observability.Metrics
	logger      *slog.Logger
}

// NewService builds Service instance. idempotency, enqueuer and metrics may be
// nil; the corresponding behavior is skipped.
func NewService(repo Repository, idempotency *appshared.IdempotencyStore, enqueuer NoticeEnqueuer, metrics *observability.Metrics, logger *slog.Logger) *Service {
	return &Service{
		repo:        repo,
		idempotency: idempotency,
		enqueuer:    enqueuer,
		metrics:     metrics,
		logger:      logger,
	}
}

// Open creates a receivable for a payable document with the full amount outstanding.
func (s *Service) Open(ctx context.Context, req OpenRequest) (*OpenItem, error) {
	item := OpenItem{
		DocumentID:  req.DocumentID,
		CustomerID:  req.CustomerID,
		InvoiceDate: req.InvoiceDate,
		DueDate:     req.DueDate,
		TotalAmount: req.TotalAmount,
		PaidAmount:  0,
		OpenAmount:  req.TotalAmount,
		Status:      DeriveStatus(req.TotalAmount, 0, req.DueDate, time.Now()),
	}

	id, err := s.repo.Create(ctx, item)
	if err != nil {
		return nil, fmt.Errorf("create open item: %w", err)
	}
	return s.repo.Get(ctx, id)
}

// AddPayment validates and appends a payment, then recalculates the parent
// ledger. Both writes run in one transaction; the parent is resolved before
// the payment row is persisted so a missing item can never leave an orphan.
func (s *Service) AddPayment(ctx context.Context, openItemID int64, req AddPaymentRequest, idempotencyKey string) (*Payment, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: payment amount must be positive", httpx.ErrValidation)
	}

	if idempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, idempotencyKey, "openitems.payment"); err != nil {
			if errors.Is(err, appshared.ErrIdempotencyConflict) {
				return nil, fmt.Errorf("%w: payment already recorded for this idempotency key", httpx.ErrConflict)
			}
			return nil, err
		}
	}

	reference := ""
	if req.Reference != nil {
		reference = *req.Reference
	} else {
		reference = uuid.NewString()
	}

	var payment *Payment
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if _, err := s.getItem(ctx, repo, openItemID); err != nil {
			return err
		}

		id, err := repo.InsertPayment(ctx, Payment{
			OpenItemID:  openItemID,
			Amount:      req.Amount,
			PaymentDate: req.PaymentDate,
			Method:      req.Method,
			Reference:   reference,
		})
		if err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}

		payment, err = repo.GetPayment(ctx, id)
		if err != nil {
			return err
		}
		// A payment mutation legitimately supersedes a pinned REMINDED status.
		return s.recalculate(ctx, repo, openItemID, true)
	})
	if err != nil {
		if idempotencyKey != "" && s.idempotency != nil {
			if delErr := s.idempotency.Delete(ctx, idempotencyKey); delErr != nil && s.logger != nil {
				s.logger.Error("roll back idempotency key", slog.Any("error", delErr))
			}
		}
		return nil, err
	}

	s.metrics.PaymentRecorded()
	return payment, nil
}

// DeletePayment removes a payment and recalculates the parent ledger in one transaction.
func (s *Service) DeletePayment(ctx context.Context, paymentID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		payment, err := repo.GetPayment(ctx, paymentID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: payment %d", httpx.ErrNotFound, paymentID)
			}
			return err
		}

		if err := repo.DeletePayment(ctx, paymentID); err != nil {
			return fmt.Errorf("delete payment: %w", err)
		}
		return s.recalculate(ctx, repo, payment.OpenItemID, true)
	})
	if err != nil {
		return err
	}

	s.metrics.PaymentDeleted()
	return nil
}

// EscalateDunning advances the reminder level, stamps the reminder date and
// pins the REMINDED status. The pin survives incidental recalculations and is
// only superseded by an actual payment mutation.
func (s *Service) EscalateDunning(ctx context.Context, openItemID int64) (*OpenItem, error) {
	var level int
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		item, err := s.getItem(ctx, repo, openItemID)
		if err != nil {
			return err
		}
		if item.Status == StatusCancelled {
			return fmt.Errorf("%w: cannot escalate a cancelled item", httpx.ErrConflict)
		}
		if item.OpenAmount <= 0 {
			return fmt.Errorf("%w: nothing outstanding to remind about", httpx.ErrConflict)
		}

		level = item.DunningLevel + 1
		return repo.UpdateDunning(ctx, openItemID, level, time.Now())
	})
	if err != nil {
		return nil, err
	}

	s.metrics.DunningEscalated()
	if s.enqueuer != nil {
		if err := s.enqueuer.EnqueueDunningNotice(ctx, openItemID, level); err != nil && s.logger != nil {
			s.logger.Error("enqueue dunning notice", slog.Any("error", err), slog.Int64("open_item_id", openItemID))
		}
	}
	return s.repo.Get(ctx, openItemID)
}

// Recalculate re-derives the ledger fields of one open item without touching
// pinned statuses. Exposed for the overdue scan job.
func (s *Service) Recalculate(ctx context.Context, openItemID int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		return s.recalculate(ctx, repo, openItemID, false)
	})
}

// RecalculateDue runs Recalculate for every unpinned OPEN item past its due
// date, flipping them to OVERDUE. Returns the number of items processed.
func (s *Service) RecalculateDue(ctx context.Context, asOf time.Time) (int, error) {
	ids, err := s.repo.ListRecalculationDue(ctx, asOf)
	if err != nil {
		return 0, fmt.Errorf("list due items: %w", err)
	}
	for _, id := range ids {
		if err := s.Recalculate(ctx, id); err != nil {
			return 0, fmt.Errorf("recalculate item %d: %w", id, err)
		}
	}
	return len(ids), nil
}

// Get returns one open item.
func (s *Service) Get(ctx context.Context, id int64) (*OpenItem, error) {
	return s.getItem(ctx, s.repo, id)
}

// List returns open items matching the filter plus the total count.
func (s *Service) List(ctx context.Context, req ListOpenItemsRequest) ([]OpenItem, int, error) {
	if req.Limit <= 0 || req.Limit > 500 {
		req.Limit = 50
	}
	return s.repo.List(ctx, req)
}

// ListPayments returns all payments of one open item.
func (s *Service) ListPayments(ctx context.Context, openItemID int64) ([]Payment, error) {
	if _, err := s.getItem(ctx, s.repo, openItemID); err != nil {
		return nil, err
	}
	return s.repo.ListPayments(ctx, openItemID)
}

// recalculate is the ledger core: paid = sum of live payments, open = clamped
// remainder, status derived unless pinned. force marks recalculations caused
// by a payment mutation, which are allowed to unpin REMINDED. CANCELLED is
// never overwritten.
func (s *Service) recalculate(ctx context.Context, repo Repository, openItemID int64, force bool) error {
	item, err := s.getItem(ctx, repo, openItemID)
	if err != nil {
		return err
	}
	if item.Status == StatusCancelled {
		return nil
	}

	paid, err := repo.SumPayments(ctx, openItemID)
	if err != nil {
		return fmt.Errorf("sum payments: %w", err)
	}
	paid = shared.RoundMoney(paid)

	open := shared.RoundMoney(item.TotalAmount - paid)
	if open < 0 {
		open = 0
	}

	status := item.Status
	pinned := item.StatusPinned
	if force || !item.StatusPinned {
		status = DeriveStatus(item.TotalAmount, paid, item.DueDate, time.Now())
		pinned = false
	}

	if err := repo.UpdateLedger(ctx, openItemID, paid, open, status, pinned); err != nil {
		return fmt.Errorf("write recalculated ledger: %w", err)
	}

	// The document mirror is recomputed on every pass: settling or going
	// overdue stamps the document, and leaving either state (a deleted
	// payment reopening the item) reverts a previously mirrored marker to
	// SENT so the document can be cancelled again.
	switch status {
	case StatusPaid:
		return repo.UpdateDocumentStatus(ctx, item.DocumentID, "PAID")
	case StatusOverdue:
		return repo.UpdateDocumentStatus(ctx, item.DocumentID, "OVERDUE")
	default:
		return repo.ResetDocumentStatus(ctx, item.DocumentID, "SENT")
	}
}

func (s *Service) getItem(ctx context.Context, repo Repository, id int64) (*OpenItem, error) {
	item, err := repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: open item %d", httpx.ErrNotFound, id)
		}
		return nil, err
	}
	return item, nil
}
