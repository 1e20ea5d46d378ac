package documents

import "time"

// CreateDocumentRequest creates a billing document. When OfferID is set the
// monetary fields are copied from the finalized offer and must be omitted;
// standalone documents carry them explicitly.
type CreateDocumentRequest struct {
	Type       DocumentType `json:"type" validate:"required,oneof=OFFER ORDER_CONFIRMATION INVOICE PARTIAL_INVOICE CREDIT_NOTE"`
	OfferID    *int64       `json:"offer_id,omitempty" validate:"omitempty,gt=0"`
	CustomerID int64        `json:"customer_id" validate:"required_without=OfferID,omitempty,gt=0"`
	NetAmount  *float64     `json:"net_amount,omitempty" validate:"omitempty,gt=0"`
	TaxRate    *float64     `json:"tax_rate,omitempty" validate:"omitempty,gte=0,lte=100"`
	DueDate    time.Time    `json:"due_date" validate:"required"`
}

// ListDocumentsRequest filters the document listing.
type ListDocumentsRequest struct {
	Type       *DocumentType
	Status     *DocumentStatus
	CustomerID *int64
	Limit      int
	Offset     int
}
