package documents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/billing/openitems"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

var (
	// ErrNotFound indicates the document does not exist.
	ErrNotFound = errors.New("documents: record not found")
)

// Repository provides persistence for billing documents. Receivable opening
// and cancellation write the open_items table through here so they share the
// document's transaction.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Create(ctx context.Context, doc Document) (int64, error)
	Get(ctx context.Context, id int64) (*Document, error)
	List(ctx context.Context, req ListDocumentsRequest) ([]Document, int, error)
	UpdateStatus(ctx context.Context, id int64, status DocumentStatus) error
	NextSequence(ctx context.Context, docType string) (int64, error)

	InsertOpenItem(ctx context.Context, item openitems.OpenItem) (int64, error)
	CancelOpenItemByDocument(ctx context.Context, documentID int64) error
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

func (r *repository) Create(ctx context.Context, doc Document) (int64, error) {
	var id int64
	var offerID pgtype.Int8
	if doc.OfferID != nil {
		offerID = pgtype.Int8{Int64: *doc.OfferID, Valid: true}
	}

	err := r.db.QueryRow(ctx, `
		INSERT INTO documents (type, document_number, offer_id, customer_id,
			net_amount, tax_amount, gross_amount, status, issued_at, due_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		RETURNING id`,
		doc.Type,
		doc.DocumentNumber,
		offerID,
		doc.CustomerID,
		doc.NetAmount,
		doc.TaxAmount,
		doc.GrossAmount,
		doc.Status,
		doc.IssuedAt,
		doc.DueDate,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

const documentColumns = `id, type, document_number, offer_id, customer_id,
	net_amount, tax_amount, gross_amount, status, issued_at, due_date, created_at, updated_at`

func (r *repository) Get(ctx context.Context, id int64) (*Document, error) {
	row := r.db.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM documents WHERE id = $1`, documentColumns), id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return doc, nil
}

func (r *repository) List(ctx context.Context, req ListDocumentsRequest) ([]Document, int, error) {
	var conditions []string
	var args []interface{}
	argPos := 1

	if req.Type != nil {
		conditions = append(conditions, fmt.Sprintf("type = $%d", argPos))
		args = append(args, *req.Type)
		argPos++
	}
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

	whereClause := ""
	for i, cond := range conditions {
		if i == 0 {
			whereClause = "WHERE " + cond
		} else {
			whereClause += " AND " + cond
		}
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM documents %s", whereClause)
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM documents %s ORDER BY id DESC LIMIT $%d OFFSET $%d`,
		documentColumns, whereClause, argPos, argPos+1)
	args = append(args, req.Limit, req.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, *doc)
	}
	return result, total, rows.Err()
}

func (r *repository) UpdateStatus(ctx context.Context, id int64, status DocumentStatus) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE documents SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// NextSequence reserves the next official number for a document type prefix.
// Same serializing counter mechanism as the offer allocator.
func (r *repository) NextSequence(ctx context.Context, docType string) (int64, error) {
	var seq int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO document_sequences (doc_type, seq)
		VALUES ($1, 1)
		ON CONFLICT (doc_type)
		DO UPDATE SET seq = document_sequences.seq + 1
		RETURNING seq`,
		docType).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq, nil
}

func (r *repository) InsertOpenItem(ctx context.Context, item openitems.OpenItem) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO open_items (document_id, customer_id, invoice_date, due_date,
			total_amount, paid_amount, open_amount, status, status_pinned, dunning_level,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, 0, NOW(), NOW())
		RETURNING id`,
		item.DocumentID,
		item.CustomerID,
		item.InvoiceDate,
		item.DueDate,
		item.TotalAmount,
		item.PaidAmount,
		item.OpenAmount,
		item.Status,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (r *repository) CancelOpenItemByDocument(ctx context.Context, documentID int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE open_items
		SET status = $1, status_pinned = TRUE, updated_at = NOW()
		WHERE document_id = $2`,
		openitems.StatusCancelled, documentID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var doc Document
	var offerID pgtype.Int8
	var issuedAt, dueDate time.Time

	err := row.Scan(
		&doc.ID, &doc.Type, &doc.DocumentNumber, &offerID, &doc.CustomerID,
		&doc.NetAmount, &doc.TaxAmount, &doc.GrossAmount, &doc.Status,
		&issuedAt, &dueDate, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	doc.IssuedAt = issuedAt
	doc.DueDate = dueDate
	if offerID.Valid {
		val := offerID.Int64
		doc.OfferID = &val
	}
	return &doc, nil
}
