package openitems

import "time"

// Status enumerates open item states. The first four are derived by the
// ledger; REMINDED and CANCELLED are pinned by their own operations.
type Status string

const (
	StatusOpen      Status = "OPEN"
	StatusPartial   Status = "PARTIAL"
	StatusPaid      Status = "PAID"
	StatusOverdue   Status = "OVERDUE"
	StatusReminded  Status = "REMINDED"
	StatusCancelled Status = "CANCELLED"
)

// OpenItem is a receivable tracked against a billing document.
// open_amount = total_amount - paid_amount holds at all times (clamped at 0);
// the monetary fields are written only by the ledger recalculation.
type OpenItem struct {
	ID              int64      `json:"id"`
	DocumentID      int64      `json:"document_id"`
	CustomerID      int64      `json:"customer_id"`
	InvoiceDate     time.Time  `json:"invoice_date"`
	DueDate         time.Time  `json:"due_date"`
	TotalAmount     float64    `json:"total_amount"`
	PaidAmount      float64    `json:"paid_amount"`
	OpenAmount      float64    `json:"open_amount"`
	Status          Status     `json:"status"`
	StatusPinned    bool       `json:"status_pinned"`
	DunningLevel    int        `json:"dunning_level"`
	LastDunningDate *time.Time `json:"last_dunning_date,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Payment is one append-only payment event against an open item.
type Payment struct {
	ID          int64     `json:"id"`
	OpenItemID  int64     `json:"open_item_id"`
	Amount      float64   `json:"amount"`
	PaymentDate time.Time `json:"payment_date"`
	Method      string    `json:"payment_method"`
	Reference   string    `json:"reference,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// DeriveStatus computes the ledger status from the monetary state. It is a
// pure function over (total, paid, due, today) and only ever yields one of
// the four derived statuses.
func DeriveStatus(totalAmount, paidAmount float64, dueDate, today time.Time) Status {
	openAmount := totalAmount - paidAmount
	switch {
	case openAmount <= 0:
		return StatusPaid
	case paidAmount > 0:
		return StatusPartial
	case dueDate.Before(truncateDay(today)):
		return StatusOverdue
	default:
		return StatusOpen
	}
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
