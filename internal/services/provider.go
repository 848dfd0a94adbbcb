package services

import "context"

// Observation is what a retailer probe returns for one product reference.
type Observation struct {
	Price   *float64 `json:"price,omitempty"`
	InStock bool     `json:"in_stock"`
	Title   string   `json:"title,omitempty"`
}

// Provider answers price/availability probes for one retailer.
// Implementations must be safe for concurrent probes across different
// references, each on an isolated session.
type Provider interface {
	// Probe checks price and availability for a product reference.
	Probe(ctx context.Context, reference string) (*Observation, error)
	// Close releases any underlying session resources. Called exactly
	// once when the scheduler stops.
	Close() error
}

// BuyRequest carries everything a retailer needs to place an order.
type BuyRequest struct {
	Reference  string  `json:"reference"`
	Quantity   int     `json:"quantity"`
	MaxPrice   float64 `json:"max_price"`
	PaymentRef string  `json:"payment_ref"`
}

// Confirmation is the retailer's acknowledgement of a placed order.
type Confirmation struct {
	OrderNo string  `json:"order_no"`
	Price   float64 `json:"price"`
	Total   float64 `json:"total"`
}

// Purchaser executes purchases against one retailer.
type Purchaser interface {
	Buy(ctx context.Context, req BuyRequest) (*Confirmation, error)
}
