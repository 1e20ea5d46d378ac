package offers

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
	// ErrNotFound indicates the offer or item does not exist (or a guarded
	// update matched no row).
	ErrNotFound = errors.New("offers: record not found")
)

// Repository provides persistence for offers and their line items.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Create(ctx context.Context, offer Offer) (int64, error)
	Get(ctx context.Context, id int64) (*Offer, error)
	List(ctx context.Context, req ListOffersRequest) ([]Offer, int, error)
	UpdateNumber(ctx context.Context, id int64, number string) error
	Finalize(ctx context.Context, id int64, number string, at time.Time) error
	UpdateStatus(ctx context.Context, id int64, status OfferStatus, at time.Time) error
	UpdateAmount(ctx context.Context, id int64, amount float64) error
	Delete(ctx context.Context, id int64) error

	InsertItem(ctx context.Context, item OfferItem) (int64, error)
	GetItem(ctx context.Context, id int64) (*OfferItem, error)
	UpdateItem(ctx context.Context, id int64, patch UpdateItemRequest) error
	DeleteItem(ctx context.Context, id int64) error
	ListItems(ctx context.Context, offerID int64) ([]OfferItem, error)

	NextSequence(ctx context.Context, docType string) (int64, error)
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

func (r *repository) Create(ctx context.Context, offer Offer) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO offers (number, customer_id, amount, tax_rate, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING id`,
		offer.Number,
		offer.CustomerID,
		offer.Amount,
		offer.TaxRate,
		offer.Status,
		textOrNull(offer.Notes),
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

const offerColumns = `id, number, customer_id, amount, tax_rate, status, notes,
	finalized_at, sent_at, decided_at, created_at, updated_at`

func (r *repository) Get(ctx context.Context, id int64) (*Offer, error) {
	row := r.db.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM offers WHERE id = $1`, offerColumns), id)
	offer, err := scanOffer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	items, err := r.ListItems(ctx, id)
	if err != nil {
		return nil, err
	}
	offer.Items = items
	return offer, nil
}

func (r *repository) List(ctx context.Context, req ListOffersRequest) ([]Offer, int, error) {
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

	whereClause := ""
	for i, cond := range conditions {
		if i == 0 {
			whereClause = "WHERE " + cond
		} else {
			whereClause += " AND " + cond
		}
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM offers %s", whereClause)
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM offers %s ORDER BY id DESC LIMIT $%d OFFSET $%d`,
		offerColumns, whereClause, argPos, argPos+1)
	args = append(args, req.Limit, req.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []Offer
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, *offer)
	}
	return result, total, rows.Err()
}

func (r *repository) UpdateNumber(ctx context.Context, id int64, number string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE offers SET number = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
		number, id, StatusDraft)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Finalize assigns the official number and flips the status in one guarded
// UPDATE. The status predicate makes the draft -> finalized transition
// one-way even under concurrent callers.
func (r *repository) Finalize(ctx context.Context, id int64, number string, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE offers
		SET number = $1, status = $2, finalized_at = $3, updated_at = NOW()
		WHERE id = $4 AND status = $5`,
		number, StatusFinalized, at, id, StatusDraft)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) UpdateStatus(ctx context.Context, id int64, status OfferStatus, at time.Time) error {
	var query string
	switch status {
	case StatusSent:
		query = `UPDATE offers SET status = $1, sent_at = $2, updated_at = NOW() WHERE id = $3`
	case StatusAccepted, StatusRejected:
		query = `UPDATE offers SET status = $1, decided_at = $2, updated_at = NOW() WHERE id = $3`
	default:
		query = `UPDATE offers SET status = $1, updated_at = $2 WHERE id = $3`
	}
	tag, err := r.db.Exec(ctx, query, status, at, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) UpdateAmount(ctx context.Context, id int64, amount float64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE offers SET amount = $1, updated_at = NOW() WHERE id = $2`, amount, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) Delete(ctx context.Context, id int64) error {
	// offer_items cascade via FK
	tag, err := r.db.Exec(ctx, `DELETE FROM offers WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) InsertItem(ctx context.Context, item OfferItem) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO offer_items (offer_id, name, quantity, unit_price, discount_percent, tax_rate, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING id`,
		item.OfferID,
		item.Name,
		item.Quantity,
		item.UnitPrice,
		item.DiscountPercent,
		item.TaxRate,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (r *repository) GetItem(ctx context.Context, id int64) (*OfferItem, error) {
	var item OfferItem
	err := r.db.QueryRow(ctx, `
		SELECT id, offer_id, name, quantity, unit_price, discount_percent, tax_rate, created_at, updated_at
		FROM offer_items WHERE id = $1`, id).
		Scan(&item.ID, &item.OfferID, &item.Name, &item.Quantity, &item.UnitPrice,
			&item.DiscountPercent, &item.TaxRate, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

// UpdateItem writes only the whitelisted fields present in the patch.
func (r *repository) UpdateItem(ctx context.Context, id int64, patch UpdateItemRequest) error {
	query := "UPDATE offer_items SET updated_at = NOW()"
	var args []interface{}
	argPos := 1

	if patch.Name != nil {
		query += fmt.Sprintf(", name = $%d", argPos)
		args = append(args, *patch.Name)
		argPos++
	}
	if patch.Quantity != nil {
		query += fmt.Sprintf(", quantity = $%d", argPos)
		args = append(args, *patch.Quantity)
		argPos++
	}
	if patch.UnitPrice != nil {
		query += fmt.Sprintf(", unit_price = $%d", argPos)
		args = append(args, *patch.UnitPrice)
		argPos++
	}
	if patch.DiscountPercent != nil {
		query += fmt.Sprintf(", discount_percent = $%d", argPos)
		args = append(args, *patch.DiscountPercent)
		argPos++
	}
	if patch.TaxRate != nil {
		query += fmt.Sprintf(", tax_rate = $%d", argPos)
		args = append(args, *patch.TaxRate)
		argPos++
	}

	query += fmt.Sprintf(" WHERE id = $%d", argPos)
	args = append(args, id)

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) DeleteItem(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM offer_items WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) ListItems(ctx context.Context, offerID int64) ([]OfferItem, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, offer_id, name, quantity, unit_price, discount_percent, tax_rate, created_at, updated_at
		FROM offer_items WHERE offer_id = $1 ORDER BY id`, offerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []OfferItem
	for rows.Next() {
		var item OfferItem
		if err := rows.Scan(&item.ID, &item.OfferID, &item.Name, &item.Quantity, &item.UnitPrice,
			&item.DiscountPercent, &item.TaxRate, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// NextSequence reserves the next official sequence number for a document type.
// The UPSERT on the counter row serializes concurrent allocators: the second
// transaction blocks on the row lock until the first commits, so two finalize
// calls can never observe the same sequence value.
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOffer(row rowScanner) (*Offer, error) {
	var offer Offer
	var notes pgtype.Text
	var finalizedAt, sentAt, decidedAt pgtype.Timestamptz

	err := row.Scan(
		&offer.ID, &offer.Number, &offer.CustomerID, &offer.Amount, &offer.TaxRate,
		&offer.Status, &notes, &finalizedAt, &sentAt, &decidedAt,
		&offer.CreatedAt, &offer.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if notes.Valid {
		val := notes.String
		offer.Notes = &val
	}
	if finalizedAt.Valid {
		val := finalizedAt.Time
		offer.FinalizedAt = &val
	}
	if sentAt.Valid {
		val := sentAt.Time
		offer.SentAt = &val
	}
	if decidedAt.Valid {
		val := decidedAt.Time
		offer.DecidedAt = &val
	}
	return &offer, nil
}

func textOrNull(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{}
	}
	return pgtype.Text{String: *s, Valid: true}
}
