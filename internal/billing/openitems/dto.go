package openitems

import "time"

// AddPaymentRequest appends a payment to an open item.
type AddPaymentRequest struct {
	Amount      float64   `json:"amount" validate:"required,gt=0"`
	PaymentDate time.Time `json:"payment_date" validate:"required"`
	Method      string    `json:"payment_method" validate:"required,max=50"`
	Reference   *string   `json:"reference,omitempty" validate:"omitempty,max=100"`
}

// OpenRequest creates a receivable for a payable document.
type OpenRequest struct {
	DocumentID  int64     `json:"document_id" validate:"required,gt=0"`
	CustomerID  int64     `json:"customer_id" validate:"required,gt=0"`
	TotalAmount float64   `json:"total_amount" validate:"required,gt=0"`
	InvoiceDate time.Time `json:"invoice_date" validate:"required"`
	DueDate     time.Time `json:"due_date" validate:"required"`
}

// ListOpenItemsRequest filters the open item listing.
type ListOpenItemsRequest struct {
	Status      *Status
	CustomerID  *int64
	OverdueOnly bool
	Limit       int
	Offset      int
}
