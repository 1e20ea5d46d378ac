package offers

import "time"

// OfferStatus enumerates offer lifecycle states.
type OfferStatus string

const (
	StatusDraft     OfferStatus = "DRAFT"
	StatusFinalized OfferStatus = "FINALIZED"
	StatusSent      OfferStatus = "SENT"
	StatusAccepted  OfferStatus = "ACCEPTED"
	StatusRejected  OfferStatus = "REJECTED"
)

// Offer is a quotation. Amount is the net sum of live item subtotals and is
// written exclusively by the aggregator; Number is immutable once the offer
// leaves DRAFT.
type Offer struct {
	ID          int64       `json:"id"`
	Number      string      `json:"number"`
	CustomerID  int64       `json:"customer_id"`
	Amount      float64     `json:"amount"`
	TaxRate     float64     `json:"tax_rate"`
	Status      OfferStatus `json:"status"`
	Notes       *string     `json:"notes,omitempty"`
	FinalizedAt *time.Time  `json:"finalized_at,omitempty"`
	SentAt      *time.Time  `json:"sent_at,omitempty"`
	DecidedAt   *time.Time  `json:"decided_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	Items       []OfferItem `json:"items,omitempty"`
}

// OfferItem is one priced line belonging to an offer.
type OfferItem struct {
	ID              int64     `json:"id"`
	OfferID         int64     `json:"offer_id"`
	Name            string    `json:"name"`
	Quantity        float64   `json:"quantity"`
	UnitPrice       float64   `json:"unit_price"`
	DiscountPercent float64   `json:"discount_percent"`
	TaxRate         float64   `json:"tax_rate"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
