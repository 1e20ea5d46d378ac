package openitems

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

var (
	// ErrNotFound indicates the open item or payment does not exist.
	ErrNotFound = errors.New("openitems: record not found")
)

// Repository provides persistence for open items and payments.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Create(ctx context.Context, item OpenItem) (int64, error)
	Get(ctx context.Context, id int64) (*OpenItem, error)
	List(ctx context.Context, req ListOpenItemsRequest) ([]OpenItem, int, error)
	ListRecalculationDue(ctx context.Context, asOf time.Time) ([]int64, error)
	UpdateLedger(ctx context.Context, id int64, paid, open float64, status Status, pinned bool) error
	UpdateDunning(ctx context.Context, id int64, level int, lastDate time.Time) error

	InsertPayment(ctx context.Context, payment Payment) (int64, error)
	GetPayment(ctx context.Context, id int64) (*Payment, error)
	DeletePayment(ctx context.Context, id int64) error
	ListPayments(ctx context.Context, openItemID int64) ([]Payment, error)
	SumPayments(ctx context.Context, openItemID int64) (float64, error)

	UpdateDocumentStatus(ctx context.Context, documentID int64, status string) error
	ResetDocumentStatus(ctx context.Context, documentID int64, status string) error
}

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

type repository struct {
	db   dbtx
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

func (r *repository) Create(ctx context.Context, item OpenItem) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO open_items (document_id, customer_id, invoice_date, due_date,
			total_amount, paid_amount, open_amount, status, status_pinned, dunning_level,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		RETURNING id`,
		item.DocumentID,
		item.CustomerID,
		item.InvoiceDate,
		item.DueDate,
		item.TotalAmount,
		item.PaidAmount,
		item.OpenAmount,
		item.Status,
		item.StatusPinned,
		item.DunningLevel,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

const openItemColumns = `id, document_id, customer_id, invoice_date, due_date,
	total_amount, paid_amount, open_amount, status, status_pinned, dunning_level,
	last_dunning_date, created_at, updated_at`

func (r *repository) Get(ctx context.Context, id int64) (*OpenItem, error) {
	row := r.db.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM open_items WHERE id = $1`, openItemColumns), id)
	item, err := scanOpenItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return item, nil
}

func (r *repository) List(ctx context.Context, req ListOpenItemsRequest) ([]OpenItem, int, error) {
	var conditions []string
	var args []interface{}
	argPos := 1

	if req.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argPos))
		args = append(args, *req.Status)
		argPos++
	}
	if req.CustomerID != nil {
		conditions = append(conditions, fmt.Sprintf("customer_id = $%d", argPos))
		args = append(args, *req.CustomerID)
		argPos++
	}
	if req.OverdueOnly {
		conditions = append(conditions, fmt.Sprintf("open_amount > 0 AND due_date < $%d", argPos))
		args = append(args, time.Now())
		argPos++
	}

	whereClause := ""
	for i, cond := range conditions {
		if i == 0 {
			whereClause = "WHERE " + cond
		} else {
			whereClause += " AND " + cond
		}
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM open_items %s", whereClause)
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM open_items %s ORDER BY due_date, id LIMIT $%d OFFSET $%d`,
		openItemColumns, whereClause, argPos, argPos+1)
	args = append(args, req.Limit, req.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []OpenItem
	for rows.Next() {
		item, err := scanOpenItem(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, *item)
	}
	return result, total, rows.Err()
}

// ListRecalculationDue returns items still OPEN past their due date whose
// status is not pinned; the nightly overdue scan recalculates these.
func (r *repository) ListRecalculationDue(ctx context.Context, asOf time.Time) ([]int64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id FROM open_items
		WHERE status = $1 AND NOT status_pinned AND due_date < $2
		ORDER BY id`, StatusOpen, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateLedger writes the recalculated monetary fields and status in a single
// update. Nothing else may write these columns.
func (r *repository) UpdateLedger(ctx context.Context, id int64, paid, open float64, status Status, pinned bool) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE open_items
		SET paid_amount = $1, open_amount = $2, status = $3, status_pinned = $4, updated_at = NOW()
		WHERE id = $5`,
		paid, open, status, pinned, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateDunning advances the reminder level and pins the REMINDED status.
func (r *repository) UpdateDunning(ctx context.Context, id int64, level int, lastDate time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE open_items
		SET dunning_level = $1, last_dunning_date = $2, status = $3, status_pinned = TRUE, updated_at = NOW()
		WHERE id = $4`,
		level, lastDate, StatusReminded, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) InsertPayment(ctx context.Context, payment Payment) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO payments (open_item_id, amount, payment_date, payment_method, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING id`,
		payment.OpenItemID,
		payment.Amount,
		payment.PaymentDate,
		payment.Method,
		payment.Reference,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (r *repository) GetPayment(ctx context.Context, id int64) (*Payment, error) {
	var p Payment
	err := r.db.QueryRow(ctx, `
		SELECT id, open_item_id, amount, payment_date, payment_method, reference, created_at
		FROM payments WHERE id = $1`, id).
		Scan(&p.ID, &p.OpenItemID, &p.Amount, &p.PaymentDate, &p.Method, &p.Reference, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *repository) DeletePayment(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM payments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) ListPayments(ctx context.Context, openItemID int64) ([]Payment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, open_item_id, amount, payment_date, payment_method, reference, created_at
		FROM payments WHERE open_item_id = $1 ORDER BY payment_date, id`, openItemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.OpenItemID, &p.Amount, &p.PaymentDate, &p.Method, &p.Reference, &p.CreatedAt); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (r *repository) SumPayments(ctx context.Context, openItemID int64) (float64, error) {
	var sum float64
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM payments WHERE open_item_id = $1`, openItemID).Scan(&sum)
	if err != nil {
		return 0, err
	}
	return sum, nil
}

// UpdateDocumentStatus mirrors a fully settled or overdue receivable onto its
// billing document.
func (r *repository) UpdateDocumentStatus(ctx context.Context, documentID int64, status string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE documents SET status = $1, updated_at = NOW() WHERE id = $2`, status, documentID)
	return err
}

// ResetDocumentStatus clears a previously mirrored PAID/OVERDUE marker when
// the receivable reopens. The guard keeps every other document state intact.
func (r *repository) ResetDocumentStatus(ctx context.Context, documentID int64, status string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE documents SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status IN ('PAID', 'OVERDUE')`,
		status, documentID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOpenItem(row rowScanner) (*OpenItem, error) {
	var item OpenItem
	var lastDunning pgtype.Timestamptz

	err := row.Scan(
		&item.ID, &item.DocumentID, &item.CustomerID, &item.InvoiceDate, &item.DueDate,
		&item.TotalAmount, &item.PaidAmount, &item.OpenAmount, &item.Status,
		&item.StatusPinned, &item.DunningLevel, &lastDunning,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lastDunning.Valid {
		val := lastDunning.Time
		item.LastDunningDate = &val
	}
	return &item, nil
}
