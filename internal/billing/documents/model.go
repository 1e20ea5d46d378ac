package documents

import "time"

// DocumentType enumerates billing artifact kinds.
type DocumentType string

const (
	TypeOffer             DocumentType = "OFFER"
	TypeOrderConfirmation DocumentType = "ORDER_CONFIRMATION"
	TypeInvoice           DocumentType = "INVOICE"
	TypePartialInvoice    DocumentType = "PARTIAL_INVOICE"
	TypeCreditNote        DocumentType = "CREDIT_NOTE"
)

// DocumentStatus enumerates document states. PAID and OVERDUE are mirrored
// from the receivable ledger; CANCELLED is pinned by Cancel.
type DocumentStatus string

const (
	StatusDraft     DocumentStatus = "DRAFT"
	StatusSent      DocumentStatus = "SENT"
	StatusAccepted  DocumentStatus = "ACCEPTED"
	StatusRejected  DocumentStatus = "REJECTED"
	StatusPaid      DocumentStatus = "PAID"
	StatusOverdue   DocumentStatus = "OVERDUE"
	StatusCancelled DocumentStatus = "CANCELLED"
)

// Document is a billing artifact derived from an offer or created standalone.
// DocumentNumber is allocated once and immutable.
type Document struct {
	ID             int64          `json:"id"`
	Type           DocumentType   `json:"type"`
	DocumentNumber string         `json:"document_number"`
	OfferID        *int64         `json:"offer_id,omitempty"`
	CustomerID     int64          `json:"customer_id"`
	NetAmount      float64        `json:"net_amount"`
	TaxAmount      float64        `json:"tax_amount"`
	GrossAmount    float64        `json:"gross_amount"`
	Status         DocumentStatus `json:"status"`
	IssuedAt       time.Time      `json:"issued_at"`
	DueDate        time.Time      `json:"due_date"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Payable reports whether a document type opens a receivable.
func (t DocumentType) Payable() bool {
	return t == TypeInvoice || t == TypePartialInvoice
}

// numberPrefix maps document types to their official number prefixes.
func (t DocumentType) numberPrefix() string {
	switch t {
	case TypeOrderConfirmation:
		return "OC"
	case TypeInvoice:
		return "INV"
	case TypePartialInvoice:
		return "PINV"
	case TypeCreditNote:
		return "CN"
	default:
		return "DOC"
	}
}
