package offers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/meridian-erp/meridian-erp/internal/billing/shared"
	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
)

// maxNumberAttempts bounds allocator retries on unique-violation. The counter
// UPSERT already serializes allocation; the retry covers manually inserted
// legacy numbers colliding with the sequence.
const maxNumberAttempts = 3

// Service owns the offer lifecycle: draft creation, line item mutations with
// synchronous total aggregation, the one-way finalize transition with official
// number allocation, and the send/accept/reject status writes.
type Service struct {
	repo    Repository
	prefix  string
	metrics *observability.Metrics
}

// NewService builds a Service. prefix is the document number prefix, e.g. "OF".
func NewService(repo Repository, prefix string, metrics *observability.Metrics) *Service {
	if prefix == "" {
		prefix = "OF"
	}
	return &Service{repo: repo, prefix: prefix, metrics: metrics}
}

// Create creates a draft offer with an ephemeral draft number.
func (s *Service) Create(ctx context.Context, req CreateOfferRequest) (*Offer, error) {
	offer := Offer{
		Number:     s.draftNumber(),
		CustomerID: req.CustomerID,
		TaxRate:    req.TaxRate,
		Status:     StatusDraft,
		Notes:      req.Notes,
	}

	id, err := s.repo.Create(ctx, offer)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	return s.repo.Get(ctx, id)
}

// RegenerateDraftNumber replaces the cosmetic draft number. Legal only while DRAFT.
func (s *Service) RegenerateDraftNumber(ctx context.Context, id int64) (*Offer, error) {
	existing, err := s.getOffer(ctx, s.repo, id)
	if err != nil {
		return nil, err
	}
	if existing.Status != StatusDraft {
		return nil, fmt.Errorf("%w: number is immutable once the offer left DRAFT", httpx.ErrConflict)
	}
	if err := s.repo.UpdateNumber(ctx, id, s.draftNumber()); err != nil {
		return nil, fmt.Errorf("regenerate draft number: %w", err)
	}
	return s.repo.Get(ctx, id)
}

// AddItem inserts a line item and recomputes the offer amount in one transaction.
func (s *Service) AddItem(ctx context.Context, offerID int64, req ItemRequest) (*OfferItem, error) {
	var item *OfferItem
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		offer, err := s.getOffer(ctx, repo, offerID)
		if err != nil {
			return err
		}
		if offer.Status != StatusDraft {
			return fmt.Errorf("%w: items can only change while the offer is DRAFT", httpx.ErrConflict)
		}

		id, err := repo.InsertItem(ctx, OfferItem{
			OfferID:         offerID,
			Name:            req.Name,
			Quantity:        req.Quantity,
			UnitPrice:       req.UnitPrice,
			DiscountPercent: req.DiscountPercent,
			TaxRate:         req.TaxRate,
		})
		if err != nil {
			return fmt.Errorf("insert item: %w", err)
		}

		item, err = repo.GetItem(ctx, id)
		if err != nil {
			return err
		}
		return s.recalculateAmount(ctx, repo, offerID)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// UpdateItem patches a line item and recomputes the parent amount in one transaction.
func (s *Service) UpdateItem(ctx context.Context, itemID int64, req UpdateItemRequest) (*OfferItem, error) {
	var item *OfferItem
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		existing, err := repo.GetItem(ctx, itemID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: offer item %d", httpx.ErrNotFound, itemID)
			}
			return err
		}

		offer, err := s.getOffer(ctx, repo, existing.OfferID)
		if err != nil {
			return err
		}
		if offer.Status != StatusDraft {
			return fmt.Errorf("%w: items can only change while the offer is DRAFT", httpx.ErrConflict)
		}

		if err := repo.UpdateItem(ctx, itemID, req); err != nil {
			return fmt.Errorf("update item: %w", err)
		}

		item, err = repo.GetItem(ctx, itemID)
		if err != nil {
			return err
		}
		return s.recalculateAmount(ctx, repo, existing.OfferID)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// DeleteItem removes a line item and recomputes the parent amount in one transaction.
func (s *Service) DeleteItem(ctx context.Context, itemID int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		existing, err := repo.GetItem(ctx, itemID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: offer item %d", httpx.ErrNotFound, itemID)
			}
			return err
		}

		offer, err := s.getOffer(ctx, repo, existing.OfferID)
		if err != nil {
			return err
		}
		if offer.Status != StatusDraft {
			return fmt.Errorf("%w: items can only change while the offer is DRAFT", httpx.ErrConflict)
		}

		if err := repo.DeleteItem(ctx, itemID); err != nil {
			return fmt.Errorf("delete item: %w", err)
		}
		return s.recalculateAmount(ctx, repo, existing.OfferID)
	})
}

// Finalize performs the one-way DRAFT -> FINALIZED transition, allocating the
// immutable official number. The whole sequence (status check, sequence
// reservation, guarded update) runs in one transaction; a unique violation on
// the number rolls the transaction back and the allocation is retried
// transparently.
func (s *Service) Finalize(ctx context.Context, id int64) (*Offer, error) {
	var lastErr error
	for attempt := 0; attempt < maxNumberAttempts; attempt++ {
		err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
			offer, err := s.getOffer(ctx, repo, id)
			if err != nil {
				return err
			}
			if offer.Status != StatusDraft {
				return fmt.Errorf("%w: finalize requires DRAFT status, offer is %s", httpx.ErrConflict, offer.Status)
			}

			seq, err := repo.NextSequence(ctx, s.prefix)
			if err != nil {
				return fmt.Errorf("reserve sequence: %w", err)
			}
			number := fmt.Sprintf("%s-%d", s.prefix, seq)

			if err := repo.Finalize(ctx, id, number, time.Now()); err != nil {
				if errors.Is(err, ErrNotFound) {
					// Status flipped between the read and the guarded update.
					return fmt.Errorf("%w: offer %d is no longer DRAFT", httpx.ErrConflict, id)
				}
				return fmt.Errorf("finalize offer: %w", err)
			}
			return nil
		})
		if err == nil {
			s.metrics.OfferFinalized()
			return s.repo.Get(ctx, id)
		}
		if !isUniqueViolation(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("allocate official number: %w", lastErr)
}

// MarkSent transitions FINALIZED -> SENT.
func (s *Service) MarkSent(ctx context.Context, id int64) (*Offer, error) {
	return s.transition(ctx, id, StatusSent, StatusFinalized)
}

// Accept transitions SENT -> ACCEPTED.
func (s *Service) Accept(ctx context.Context, id int64) (*Offer, error) {
	return s.transition(ctx, id, StatusAccepted, StatusSent)
}

// Reject transitions SENT -> REJECTED.
func (s *Service) Reject(ctx context.Context, id int64) (*Offer, error) {
	return s.transition(ctx, id, StatusRejected, StatusSent)
}

// Delete removes an offer and its items. Permitted only while DRAFT; finalized
// offers keep their official number and must be rejected instead.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		offer, err := s.getOffer(ctx, repo, id)
		if err != nil {
			return err
		}
		if offer.Status != StatusDraft {
			return fmt.Errorf("%w: only DRAFT offers can be deleted", httpx.ErrConflict)
		}
		return repo.Delete(ctx, id)
	})
}

// Get returns an offer with its items.
func (s *Service) Get(ctx context.Context, id int64) (*Offer, error) {
	return s.getOffer(ctx, s.repo, id)
}

// List returns offers matching the filter plus the unfiltered total.
func (s *Service) List(ctx context.Context, req ListOffersRequest) ([]Offer, int, error) {
	if req.Limit <= 0 || req.Limit > 500 {
		req.Limit = 50
	}
	return s.repo.List(ctx, req)
}

func (s *Service) transition(ctx context.Context, id int64, to, from OfferStatus) (*Offer, error) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		offer, err := s.getOffer(ctx, repo, id)
		if err != nil {
			return err
		}
		if offer.Status != from {
			return fmt.Errorf("%w: %s requires %s status, offer is %s", httpx.ErrConflict, to, from, offer.Status)
		}
		return repo.UpdateStatus(ctx, id, to, time.Now())
	})
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// recalculateAmount is the single writer of offers.amount. It must run inside
// the same transaction as the item mutation that triggered it.
func (s *Service) recalculateAmount(ctx context.Context, repo Repository, offerID int64) error {
	items, err := repo.ListItems(ctx, offerID)
	if err != nil {
		return fmt.Errorf("list items for recalculation: %w", err)
	}

	var total float64
	for _, item := range items {
		total += shared.CalculateLineTotal(item.Quantity, item.UnitPrice, item.DiscountPercent)
	}

	if err := repo.UpdateAmount(ctx, offerID, shared.RoundMoney(total)); err != nil {
		return fmt.Errorf("write recalculated amount: %w", err)
	}
	return nil
}

func (s *Service) getOffer(ctx context.Context, repo Repository, id int64) (*Offer, error) {
	offer, err := repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: offer %d", httpx.ErrNotFound, id)
		}
		return nil, err
	}
	return offer, nil
}

// draftNumber builds the cosmetic PREFIX-YEAR-RANDOM4 identifier. Collisions
// are tolerated; only official numbers are unique-constrained.
func (s *Service) draftNumber() string {
	entropy := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:4])
	return fmt.Sprintf("%s-%d-%s", s.prefix, time.Now().Year(), entropy)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
