package openitems

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
)

type memoryLedgerRepo struct {
	mu          sync.Mutex
	items       map[int64]*OpenItem
	payments    map[int64]*Payment
	docStatuses map[int64]string
	nextItem    int64
	nextPayment int64
}

func newMemoryLedgerRepo() *memoryLedgerRepo {
	return &memoryLedgerRepo{
		items:       make(map[int64]*OpenItem),
		payments:    make(map[int64]*Payment),
		docStatuses: make(map[int64]string),
	}
}

func (r *memoryLedgerRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return fn(ctx, r)
}

func (r *memoryLedgerRepo) Create(ctx context.Context, item OpenItem) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextItem++
	item.ID = r.nextItem
	item.CreatedAt = time.Now()
	item.UpdatedAt = time.Now()
	r.items[item.ID] = &item
	return item.ID, nil
}

func (r *memoryLedgerRepo) Get(ctx context.Context, id int64) (*OpenItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *item
	return &copied, nil
}

func (r *memoryLedgerRepo) List(ctx context.Context, req ListOpenItemsRequest) ([]OpenItem, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []OpenItem
	for _, item := range r.items {
		if req.Status != nil && item.Status != *req.Status {
			continue
		}
		if req.CustomerID != nil && item.CustomerID != *req.CustomerID {
			continue
		}
		if req.OverdueOnly && (item.OpenAmount <= 0 || !item.DueDate.Before(time.Now())) {
			continue
		}
		result = append(result, *item)
	}
	return result, len(result), nil
}

func (r *memoryLedgerRepo) ListRecalculationDue(ctx context.Context, asOf time.Time) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []int64
	for _, item := range r.items {
		if item.Status == StatusOpen && !item.StatusPinned && item.DueDate.Before(asOf) {
			ids = append(ids, item.ID)
		}
	}
	return ids, nil
}

func (r *memoryLedgerRepo) UpdateLedger(ctx context.Context, id int64, paid, open float64, status Status, pinned bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return ErrNotFound
	}
	item.PaidAmount = paid
	item.OpenAmount = open
	item.Status = status
	item.StatusPinned = pinned
	return nil
}

func (r *memoryLedgerRepo) UpdateDunning(ctx context.Context, id int64, level int, lastDate time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return ErrNotFound
	}
	item.DunningLevel = level
	item.LastDunningDate = &lastDate
	item.Status = StatusReminded
	item.StatusPinned = true
	return nil
}

func (r *memoryLedgerRepo) InsertPayment(ctx context.Context, payment Payment) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextPayment++
	payment.ID = r.nextPayment
	payment.CreatedAt = time.Now()
	r.payments[payment.ID] = &payment
	return payment.ID, nil
}

func (r *memoryLedgerRepo) GetPayment(ctx context.Context, id int64) (*Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	payment, ok := r.payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *payment
	return &copied, nil
}

func (r *memoryLedgerRepo) DeletePayment(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.payments[id]; !ok {
		return ErrNotFound
	}
	delete(r.payments, id)
	return nil
}

func (r *memoryLedgerRepo) ListPayments(ctx context.Context, openItemID int64) ([]Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var payments []Payment
	for _, payment := range r.payments {
		if payment.OpenItemID == openItemID {
			payments = append(payments, *payment)
		}
	}
	return payments, nil
}

func (r *memoryLedgerRepo) SumPayments(ctx context.Context, openItemID int64) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sum float64
	for _, payment := range r.payments {
		if payment.OpenItemID == openItemID {
			sum += payment.Amount
		}
	}
	return sum, nil
}

func (r *memoryLedgerRepo) UpdateDocumentStatus(ctx context.Context, documentID int64, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docStatuses[documentID] = status
	return nil
}

func (r *memoryLedgerRepo) ResetDocumentStatus(ctx context.Context, documentID int64, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.docStatuses[documentID]; ok && (cur == "PAID" || cur == "OVERDUE") {
		r.docStatuses[documentID] = status
	}
	return nil
}

type recordingEnqueuer struct {
	mu      sync.Mutex
	notices []int // levels, in order
}

func (e *recordingEnqueuer) EnqueueDunningNotice(ctx context.Context, openItemID int64, level int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notices = append(e.notices, level)
	return nil
}

func newLedgerService() (*Service, *memoryLedgerRepo, *recordingEnqueuer) {
	repo := newMemoryLedgerRepo()
	enqueuer := &recordingEnqueuer{}
	return NewService(repo, nil, enqueuer, nil, nil), repo, enqueuer
}

func openItem(t *testing.T, svc *Service, total float64, due time.Time) *OpenItem {
	t.Helper()
	item, err := svc.Open(context.Background(), OpenRequest{
		DocumentID:  100,
		CustomerID:  7,
		TotalAmount: total,
		InvoiceDate: time.Now(),
		DueDate:     due,
	})
	require.NoError(t, err)
	return item
}

func paymentReq(amount float64) AddPaymentRequest {
	return AddPaymentRequest{Amount: amount, PaymentDate: time.Now(), Method: "BANK_TRANSFER"}
}

func TestOpenStartsFullyOutstanding(t *testing.T) {
	svc, _, _ := newLedgerService()
	item := openItem(t, svc, 1000, time.Now().AddDate(0, 0, 14))

	require.Equal(t, 1000.0, item.TotalAmount)
	require.Zero(t, item.PaidAmount)
	require.Equal(t, 1000.0, item.OpenAmount)
	require.Equal(t, StatusOpen, item.Status)
	require.False(t, item.StatusPinned)
}

func TestOpenPastDueIsImmediatelyOverdue(t *testing.T) {
	svc, _, _ := newLedgerService()
	item := openItem(t, svc, 500, time.Now().AddDate(0, 0, -3))
	require.Equal(t, StatusOverdue, item.Status)
}

func TestPaymentSequenceSettlesLedger(t *testing.T) {
	svc, repo, _ := newLedgerService()
	ctx := context.Background()
	item := openItem(t, svc, 1000, time.Now().AddDate(0, 0, 14))

	_, err := svc.AddPayment(ctx, item.ID, paymentReq(400), "")
	require.NoError(t, err)

	current, err := svc.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, 400.0, current.PaidAmount)
	require.Equal(t, 600.0, current.OpenAmount)
	require.Equal(t, StatusPartial, current.Status)

	_, err = svc.AddPayment(ctx, item.ID, paymentReq(600), "")
	require.NoError(t, err)

	current, err = svc.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, 1000.0, current.PaidAmount)
	require.Zero(t, current.OpenAmount)
	require.Equal(t, StatusPaid, current.Status)

	// Settlement is mirrored onto the billing document.
	require.Equal(t, "PAID", repo.docStatuses[100])
}

func TestOverpaymentClampsOpenAmount(t *testing.T) {
	svc, _, _ := newLedgerService()
	ctx := context.Background()
	item := openItem(t, svc, 300, time.Now().AddDate(0, 0, 14))

	_, err := svc.AddPayment(ctx, item.ID, paymentReq(350), "")
	require.NoError(t, err)

	current, err := svc.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, 350.0, current.PaidAmount)
	require.Zero(t, current.OpenAmount)
	require.Equal(t, StatusPaid, current.Status)
}

func TestPaymentRejectsNonPositiveAmount(t *testing.T) {
	svc, _, _ := newLedgerService()
	item := openItem(t, svc, 100, time.Now().AddDate(0, 0, 14))

	_, err := svc.AddPayment(context.Background(), item.ID, paymentReq(0), "")
	require.ErrorIs(t, err, httpx.ErrValidation)
	_, err = svc.AddPayment(context.Background(), item.ID, paymentReq(-50), "")
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestPaymentOnMissingItemLeavesNoOrphan(t *testing.T) {
	svc, repo, _ := newLedgerService()

	_, err := svc.AddPayment(context.Background(), 999, paymentReq(100), "")
	require.ErrorIs(t, err, httpx.ErrNotFound)
	require.Empty(t, repo.payments)
}

func TestDeletePaymentReopensLedger(t *testing.T) {
	svc, _, _ := newLedgerService()
	ctx := context.Background()
	item := openItem(t, svc, 1000, time.Now().AddDate(0, 0, 14))

	payment, err := svc.AddPayment(ctx, item.ID, paymentReq(1000), "")
	require.NoError(t, err)

	current, err := svc.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, current.Status)

	require.NoError(t, svc.DeletePayment(ctx, payment.ID))

	current, err = svc.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Zero(t, current.PaidAmount)
	require.Equal(t, 1000.0, current.OpenAmount)
	require.Equal(t, StatusOpen, current.Status)

	err = svc.DeletePayment(ctx, payment.ID)
	require.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestDeletePaymentRevertsDocumentMirror(t *testing.T) {
	svc, repo, _ := newLedgerService()
	ctx := context.Background()
	item := openItem(t, svc, 1000, time.Now().AddDate(0, 0, 14))

	payment, err := svc.AddPayment(ctx, item.ID, paymentReq(1000), "")
	require.NoError(t, err)
	require.Equal(t, "PAID", repo.docStatuses[100])

	require.NoError(t, svc.DeletePayment(ctx, payment.ID))

	current, err := svc.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, StatusOpen, current.Status)
	require.Equal(t, 1000.0, current.OpenAmount)
	// The stale PAID marker would otherwise block document cancellation.
	require.Equal(t, "SENT", repo.docStatuses[100])
}

func TestPartialRefundDowngradesDocumentMirror(t *testing.T) {
	svc, repo, _ := newLedgerService()
	ctx := context.Background()
	item := openItem(t, svc, 1000, time.Now().AddDate(0, 0, 14))

	_, err := svc.AddPayment(ctx, item.ID, paymentReq(400), "")
	require.NoError(t, err)
	settling, err := svc.AddPayment(ctx, item.ID, paymentReq(600), "")
	require.NoError(t, err)
	require.Equal(t, "PAID", repo.docStatuses[100])

	require.NoError(t, svc.DeletePayment(ctx, settling.ID))

	current, err := svc.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPartial, current.Status)
	require.Equal(t, "SENT", repo.docStatuses[100])
}

func TestDunningEscalationPinsReminded(t *testing.T) {
	svc, _, enqueuer := newLedgerService()
	ctx := context.Background()
	item := openItem(t, svc, 1000, time.Now().AddDate(0, 0, -10))

	first, err := svc.EscalateDunning(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, 1, first.DunningLevel)
	require.Equal(t, StatusReminded, first.Status)
	require.True(t, first.StatusPinned)
	require.NotNil(t, first.LastDunningDate)

	// Levels are uncapped.
	second, err := svc.EscalateDunning(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, 2, second.DunningLevel)

	require.Equal(t, []int{1, 2}, enqueuer.notices)
}

func TestRemindedSurvivesIncidentalRecalculation(t *testing.T) {
	svc, _, _ := newLedgerService()
	ctx := context.Background()
	item := openItem(t, svc, 1000, time.Now().AddDate(0, 0, -10))

	_, err := svc.EscalateDunning(ctx, item.ID)
	require.NoError(t, err)

	require.NoError(t, svc.Recalculate(ctx, item.ID))

	current, err := svc.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, StatusReminded, current.Status)
	require.True(t, current.StatusPinned)
}

func TestFullPaymentSupersedesReminded(t *testing.T) {
	svc, _, _ := newLedgerService()
	ctx := context.Background()
	item := openItem(t, svc, 1000, time.Now().AddDate(0, 0, -10))

	_, err := svc.EscalateDunning(ctx, item.ID)
	require.NoError(t, err)

	_, err = svc.AddPayment(ctx, item.ID, paymentReq(1000), "")
	require.NoError(t, err)

	current, err := svc.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, current.Status)
	require.False(t, current.StatusPinned)
	// The reminder history is kept even after settlement.
	require.Equal(t, 1, current.DunningLevel)

	_, err = svc.EscalateDunning(ctx, item.ID)
	require.ErrorIs(t, err, httpx.ErrConflict)
}

func TestCancelledIsNeverRecalculated(t *testing.T) {
	svc, repo, _ := newLedgerService()
	ctx := context.Background()
	item := openItem(t, svc, 1000, time.Now().AddDate(0, 0, -10))

	repo.mu.Lock()
	repo.items[item.ID].Status = StatusCancelled
	repo.items[item.ID].StatusPinned = true
	repo.mu.Unlock()

	require.NoError(t, svc.Recalculate(ctx, item.ID))
	current, err := svc.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, current.Status)

	_, err = svc.EscalateDunning(ctx, item.ID)
	require.ErrorIs(t, err, httpx.ErrConflict)
}

func TestOverdueScanFlipsDueItems(t *testing.T) {
	svc, repo, _ := newLedgerService()
	ctx := context.Background()

	// One due yesterday, one due in two weeks, one due yesterday but reminded.
	due := openItem(t, svc, 100, time.Now().AddDate(0, 0, 14))
	notDue := openItem(t, svc, 200, time.Now().AddDate(0, 0, 28))
	reminded := openItem(t, svc, 300, time.Now().AddDate(0, 0, -1))
	_, err := svc.EscalateDunning(ctx, reminded.ID)
	require.NoError(t, err)

	// Shift the first item past due without touching its OPEN status.
	repo.mu.Lock()
	repo.items[due.ID].DueDate = time.Now().AddDate(0, 0, -1)
	repo.mu.Unlock()

	processed, err := svc.RecalculateDue(ctx, time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, processed)

	current, err := svc.Get(ctx, due.ID)
	require.NoError(t, err)
	require.Equal(t, StatusOverdue, current.Status)
	require.Equal(t, "OVERDUE", repo.docStatuses[100])

	untouched, err := svc.Get(ctx, notDue.ID)
	require.NoError(t, err)
	require.Equal(t, StatusOpen, untouched.Status)

	pinned, err := svc.Get(ctx, reminded.ID)
	require.NoError(t, err)
	require.Equal(t, StatusReminded, pinned.Status)
}

func TestDeriveStatusTable(t *testing.T) {
	today := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	future := today.AddDate(0, 0, 10)
	past := today.AddDate(0, 0, -10)

	cases := []struct {
		name  string
		total float64
		paid  float64
		due   time.Time
		want  Status
	}{
		{"untouched before due", 1000, 0, future, StatusOpen},
		{"partially paid", 1000, 400, future, StatusPartial},
		{"partially paid past due stays partial", 1000, 400, past, StatusPartial},
		{"settled", 1000, 1000, past, StatusPaid},
		{"overpaid", 1000, 1200, future, StatusPaid},
		{"unpaid past due", 1000, 0, past, StatusOverdue},
		{"due today is not overdue", 1000, 0, today, StatusOpen},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, DeriveStatus(tc.total, tc.paid, tc.due, today))
		})
	}
}
