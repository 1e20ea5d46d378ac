package documents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/meridian-erp/meridian-erp/internal/billing/offers"
	"github.com/meridian-erp/meridian-erp/internal/billing/openitems"
	"github.com/meridian-erp/meridian-erp/internal/billing/shared"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
)

const maxNumberAttempts = 3

// OfferSource reads offers when a document is derived from one.
type OfferSource interface {
	Get(ctx context.Context, id int64) (*offers.Offer, error)
}

// Service owns billing document creation and cancellation. Payable documents
// open a receivable in the same transaction.
type Service struct {
	repo       Repository
	offersRepo OfferSource
}

// NewService builds Service instance.
func NewService(repo Repository, offersRepo OfferSource) *Service {
	return &Service{repo: repo, offersRepo: offersRepo}
}

// Create creates a billing document, either derived from a finalized offer
// (amounts and customer copied over) or standalone. Number allocation, the
// document insert and the receivable insert share one transaction.
func (s *Service) Create(ctx context.Context, req CreateDocumentRequest) (*Document, error) {
	doc := Document{
		Type:     req.Type,
		Status:   StatusDraft,
		IssuedAt: time.Now(),
		DueDate:  req.DueDate,
	}

	var taxRate float64
	if req.OfferID != nil {
		offer, err := s.offersRepo.Get(ctx, *req.OfferID)
		if err != nil {
			if errors.Is(err, offers.ErrNotFound) {
				return nil, fmt.Errorf("%w: offer %d", httpx.ErrNotFound, *req.OfferID)
			}
			return nil, err
		}
		if offer.Status == offers.StatusDraft {
			return nil, fmt.Errorf("%w: documents can only be derived from finalized offers", httpx.ErrConflict)
		}
		if offer.Status == offers.StatusRejected {
			return nil, fmt.Errorf("%w: offer %d was rejected", httpx.ErrConflict, offer.ID)
		}

		doc.OfferID = &offer.ID
		doc.CustomerID = offer.CustomerID
		doc.NetAmount = offer.Amount
		taxRate = offer.TaxRate
	} else {
		if req.NetAmount == nil {
			return nil, fmt.Errorf("%w: net_amount required for standalone documents", httpx.ErrValidation)
		}
		if req.TaxRate != nil {
			taxRate = *req.TaxRate
		}
		doc.CustomerID = req.CustomerID
		doc.NetAmount = *req.NetAmount
	}
	_, doc.TaxAmount, doc.GrossAmount = shared.CalculateLineTotals(1, doc.NetAmount, 0, taxRate)

	var id int64
	var lastErr error
	for attempt := 0; attempt < maxNumberAttempts; attempt++ {
		err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
			prefix := doc.Type.numberPrefix()
			seq, err := repo.NextSequence(ctx, prefix)
			if err != nil {
				return fmt.Errorf("reserve sequence: %w", err)
			}
			doc.DocumentNumber = fmt.Sprintf("%s-%d", prefix, seq)

			id, err = repo.Create(ctx, doc)
			if err != nil {
				return fmt.Errorf("create document: %w", err)
			}

			if doc.Type.Payable() {
				_, err = repo.InsertOpenItem(ctx, openitems.OpenItem{
					DocumentID:  id,
					CustomerID:  doc.CustomerID,
					InvoiceDate: doc.IssuedAt,
					DueDate:     doc.DueDate,
					TotalAmount: doc.GrossAmount,
					PaidAmount:  0,
					OpenAmount:  doc.GrossAmount,
					Status:      openitems.DeriveStatus(doc.GrossAmount, 0, doc.DueDate, time.Now()),
				})
				if err != nil {
					return fmt.Errorf("open receivable: %w", err)
				}
			}
			return nil
		})
		if err == nil {
			return s.repo.Get(ctx, id)
		}
		if !isUniqueViolation(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("allocate document number: %w", lastErr)
}

// Cancel pins the CANCELLED status on a document and its receivable.
func (s *Service) Cancel(ctx context.Context, id int64) (*Document, error) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		doc, err := repo.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: document %d", httpx.ErrNotFound, id)
			}
			return err
		}
		if doc.Status == StatusCancelled {
			return fmt.Errorf("%w: document %d is already cancelled", httpx.ErrConflict, id)
		}
		if doc.Status == StatusPaid {
			return fmt.Errorf("%w: a paid document cannot be cancelled", httpx.ErrConflict)
		}

		if err := repo.UpdateStatus(ctx, id, StatusCancelled); err != nil {
			return fmt.Errorf("cancel document: %w", err)
		}
		return repo.CancelOpenItemByDocument(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// MarkSent transitions DRAFT -> SENT.
func (s *Service) MarkSent(ctx context.Context, id int64) (*Document, error) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		doc, err := repo.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: document %d", httpx.ErrNotFound, id)
			}
			return err
		}
		if doc.Status != StatusDraft {
			return fmt.Errorf("%w: send requires DRAFT status, document is %s", httpx.ErrConflict, doc.Status)
		}
		return repo.UpdateStatus(ctx, id, StatusSent)
	})
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// Get returns one document.
func (s *Service) Get(ctx context.Context, id int64) (*Document, error) {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: document %d", httpx.ErrNotFound, id)
		}
		return nil, err
	}
	return doc, nil
}

// List returns documents matching the filter plus the total count.
func (s *Service) List(ctx context.Context, req ListDocumentsRequest) ([]Document, int, error) {
	if req.Limit <= 0 || req.Limit > 500 {
		req.Limit = 50
	}
	return s.repo.List(ctx, req)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
