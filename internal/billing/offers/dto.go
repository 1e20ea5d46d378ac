package offers

// CreateOfferRequest creates a draft offer. A draft number is assigned immediately.
type CreateOfferRequest struct {
	CustomerID int64   `json:"customer_id" validate:"required,gt=0"`
	TaxRate    float64 `json:"tax_rate" validate:"gte=0,lte=100"`
	Notes      *string `json:"notes,omitempty"`
}

// ItemRequest creates or replaces an offer line item.
type ItemRequest struct {
	Name            string  `json:"name" validate:"required,max=255"`
	Quantity        float64 `json:"quantity" validate:"required,gt=0"`
	UnitPrice       float64 `json:"unit_price" validate:"gte=0"`
	DiscountPercent float64 `json:"discount_percent" validate:"gte=0,lte=100"`
	TaxRate         float64 `json:"tax_rate" validate:"gte=0,lte=100"`
}

// UpdateItemRequest patches a line item. Only non-nil fields are written;
// monetary aggregates are never patched directly.
type UpdateItemRequest struct {
	Name            *string  `json:"name,omitempty" validate:"omitempty,max=255"`
	Quantity        *float64 `json:"quantity,omitempty" validate:"omitempty,gt=0"`
	UnitPrice       *float64 `json:"unit_price,omitempty" validate:"omitempty,gte=0"`
	DiscountPercent *float64 `json:"discount_percent,omitempty" validate:"omitempty,gte=0,lte=100"`
	TaxRate         *float64 `json:"tax_rate,omitempty" validate:"omitempty,gte=0,lte=100"`
}

// ListOffersRequest filters the offer listing.
type ListOffersRequest struct {
	Status     *OfferStatus
	CustomerID *int64
	Limit      int
	Offset     int
}
