package documents

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/billing/offers"
	"github.com/meridian-erp/meridian-erp/internal/billing/openitems"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
)

type memoryDocumentRepo struct {
	mu        sync.Mutex
	docs      map[int64]*Document
	openItems map[int64]*openitems.OpenItem
	sequences map[string]int64
	nextDoc   int64
	nextItem  int64
}

func newMemoryDocumentRepo() *memoryDocumentRepo {
	return &memoryDocumentRepo{
		docs:      make(map[int64]*Document),
		openItems: make(map[int64]*openitems.OpenItem),
		sequences: make(map[string]int64),
	}
}

func (r *memoryDocumentRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return fn(ctx, r)
}

func (r *memoryDocumentRepo) Create(ctx context.Context, doc Document) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextDoc++
	doc.ID = r.nextDoc
	doc.CreatedAt = time.Now()
	doc.UpdatedAt = time.Now()
	r.docs[doc.ID] = &doc
	return doc.ID, nil
}

func (r *memoryDocumentRepo) Get(ctx context.Context, id int64) (*Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *doc
	return &copied, nil
}

func (r *memoryDocumentRepo) List(ctx context.Context, req ListDocumentsRequest) ([]Document, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []Document
	for _, doc := range r.docs {
		if req.Type != nil && doc.Type != *req.Type {
			continue
		}
		if req.Status != nil && doc.Status != *req.Status {
			continue
		}
		result = append(result, *doc)
	}
	return result, len(result), nil
}

func (r *memoryDocumentRepo) UpdateStatus(ctx context.Context, id int64, status DocumentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return ErrNotFound
	}
	doc.Status = status
	return nil
}

func (r *memoryDocumentRepo) NextSequence(ctx context.Context, docType string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sequences[docType]++
	return r.sequences[docType], nil
}

func (r *memoryDocumentRepo) InsertOpenItem(ctx context.Context, item openitems.OpenItem) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextItem++
	item.ID = r.nextItem
	r.openItems[item.ID] = &item
	return item.ID, nil
}

func (r *memoryDocumentRepo) CancelOpenItemByDocument(ctx context.Context, documentID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range r.openItems {
		if item.DocumentID == documentID {
			item.Status = openitems.StatusCancelled
			item.StatusPinned = true
		}
	}
	return nil
}

// stubOfferSource serves canned offers without an offers repository.
type stubOfferSource struct {
	offers map[int64]*offers.Offer
}

func (s *stubOfferSource) Get(ctx context.Context, id int64) (*offers.Offer, error) {
	offer, ok := s.offers[id]
	if !ok {
		return nil, offers.ErrNotFound
	}
	copied := *offer
	return &copied, nil
}

func newDocumentService(src ...*offers.Offer) (*Service, *memoryDocumentRepo) {
	repo := newMemoryDocumentRepo()
	source := &stubOfferSource{offers: make(map[int64]*offers.Offer)}
	for _, offer := range src {
		source.offers[offer.ID] = offer
	}
	return NewService(repo, source), repo
}

func finalizedOffer() *offers.Offer {
	return &offers.Offer{
		ID:         11,
		Number:     "OF-4",
		CustomerID: 7,
		Amount:     180,
		TaxRate:    19,
		Status:     offers.StatusFinalized,
	}
}

func TestCreateInvoiceFromOffer(t *testing.T) {
	svc, repo := newDocumentService(finalizedOffer())

	doc, err := svc.Create(context.Background(), CreateDocumentRequest{
		Type:    TypeInvoice,
		OfferID: int64Ptr(11),
		DueDate: time.Now().AddDate(0, 0, 14),
	})
	require.NoError(t, err)

	require.Equal(t, "INV-1", doc.DocumentNumber)
	require.Equal(t, int64(7), doc.CustomerID)
	require.Equal(t, 180.0, doc.NetAmount)
	require.Equal(t, 34.2, doc.TaxAmount)
	require.Equal(t, 214.2, doc.GrossAmount)
	require.Equal(t, StatusDraft, doc.Status)

	// An invoice opens a receivable over the gross amount in the same transaction.
	require.Len(t, repo.openItems, 1)
	for _, item := range repo.openItems {
		require.Equal(t, doc.ID, item.DocumentID)
		require.Equal(t, 214.2, item.TotalAmount)
		require.Equal(t, 214.2, item.OpenAmount)
		require.Equal(t, openitems.StatusOpen, item.Status)
	}
}

func TestCreateFromDraftOfferRejected(t *testing.T) {
	draft := finalizedOffer()
	draft.Status = offers.StatusDraft
	svc, _ := newDocumentService(draft)

	_, err := svc.Create(context.Background(), CreateDocumentRequest{
		Type:    TypeInvoice,
		OfferID: int64Ptr(11),
		DueDate: time.Now().AddDate(0, 0, 14),
	})
	require.ErrorIs(t, err, httpx.ErrConflict)
}

func TestCreateFromRejectedOfferRejected(t *testing.T) {
	rejected := finalizedOffer()
	rejected.Status = offers.StatusRejected
	svc, _ := newDocumentService(rejected)

	_, err := svc.Create(context.Background(), CreateDocumentRequest{
		Type:    TypeOrderConfirmation,
		OfferID: int64Ptr(11),
		DueDate: time.Now().AddDate(0, 0, 14),
	})
	require.ErrorIs(t, err, httpx.ErrConflict)
}

func TestCreateFromMissingOffer(t *testing.T) {
	svc, _ := newDocumentService()
	_, err := svc.Create(context.Background(), CreateDocumentRequest{
		Type:    TypeInvoice,
		OfferID: int64Ptr(999),
		DueDate: time.Now().AddDate(0, 0, 14),
	})
	require.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestCreateStandaloneDocument(t *testing.T) {
	svc, repo := newDocumentService()

	doc, err := svc.Create(context.Background(), CreateDocumentRequest{
		Type:       TypeCreditNote,
		CustomerID: 9,
		NetAmount:  floatPtr(100),
		TaxRate:    floatPtr(19),
		DueDate:    time.Now().AddDate(0, 0, 14),
	})
	require.NoError(t, err)
	require.Equal(t, "CN-1", doc.DocumentNumber)
	require.Equal(t, 119.0, doc.GrossAmount)
	require.Nil(t, doc.OfferID)

	// Credit notes are not payable; no receivable is opened.
	require.Empty(t, repo.openItems)
}

func TestCreateStandaloneRequiresNetAmount(t *testing.T) {
	svc, _ := newDocumentService()
	_, err := svc.Create(context.Background(), CreateDocumentRequest{
		Type:       TypeInvoice,
		CustomerID: 9,
		DueDate:    time.Now().AddDate(0, 0, 14),
	})
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestDocumentNumbersPerTypeSequence(t *testing.T) {
	svc, _ := newDocumentService()
	due := time.Now().AddDate(0, 0, 14)

	first, err := svc.Create(context.Background(), CreateDocumentRequest{
		Type: TypeInvoice, CustomerID: 9, NetAmount: floatPtr(50), DueDate: due,
	})
	require.NoError(t, err)
	second, err := svc.Create(context.Background(), CreateDocumentRequest{
		Type: TypeInvoice, CustomerID: 9, NetAmount: floatPtr(60), DueDate: due,
	})
	require.NoError(t, err)
	confirmation, err := svc.Create(context.Background(), CreateDocumentRequest{
		Type: TypeOrderConfirmation, CustomerID: 9, NetAmount: floatPtr(60), DueDate: due,
	})
	require.NoError(t, err)

	require.Equal(t, "INV-1", first.DocumentNumber)
	require.Equal(t, "INV-2", second.DocumentNumber)
	// Each type draws from its own counter.
	require.Equal(t, "OC-1", confirmation.DocumentNumber)
}

func TestCancelPinsDocumentAndReceivable(t *testing.T) {
	svc, repo := newDocumentService(finalizedOffer())

	doc, err := svc.Create(context.Background(), CreateDocumentRequest{
		Type:    TypeInvoice,
		OfferID: int64Ptr(11),
		DueDate: time.Now().AddDate(0, 0, 14),
	})
	require.NoError(t, err)

	cancelled, err := svc.Cancel(context.Background(), doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)

	for _, item := range repo.openItems {
		require.Equal(t, openitems.StatusCancelled, item.Status)
		require.True(t, item.StatusPinned)
	}

	_, err = svc.Cancel(context.Background(), doc.ID)
	require.ErrorIs(t, err, httpx.ErrConflict)
}

func TestCancelPaidDocumentRejected(t *testing.T) {
	svc, repo := newDocumentService(finalizedOffer())

	doc, err := svc.Create(context.Background(), CreateDocumentRequest{
		Type:    TypeInvoice,
		OfferID: int64Ptr(11),
		DueDate: time.Now().AddDate(0, 0, 14),
	})
	require.NoError(t, err)

	require.NoError(t, repo.UpdateStatus(context.Background(), doc.ID, StatusPaid))

	_, err = svc.Cancel(context.Background(), doc.ID)
	require.ErrorIs(t, err, httpx.ErrConflict)
}

func TestMarkSentRequiresDraft(t *testing.T) {
	svc, _ := newDocumentService()

	doc, err := svc.Create(context.Background(), CreateDocumentRequest{
		Type: TypeInvoice, CustomerID: 9, NetAmount: floatPtr(50), DueDate: time.Now().AddDate(0, 0, 14),
	})
	require.NoError(t, err)

	sent, err := svc.MarkSent(context.Background(), doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusSent, sent.Status)

	_, err = svc.MarkSent(context.Background(), doc.ID)
	require.ErrorIs(t, err, httpx.ErrConflict)
}

func int64Ptr(v int64) *int64     { return &v }
func floatPtr(v float64) *float64 { return &v }
