package domain

import (
	"context"
	"time"
)

// Quote is the price of a symbol at a point in time.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Bid       float64   `json:"bid,omitempty"`
	Ask       float64   `json:"ask,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// PriceSource answers "what is the current price of this symbol". It must
// not have side effects observable by the caller. Implementations return
// ErrPriceUnavailable when no usable quote exists.
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string) (Quote, error)
}

// Authenticator is implemented by price sources that can hold credentials.
type Authenticator interface {
	IsAuthenticated() bool
}

// HealthChecker is implemented by collaborators that can report liveness.
type HealthChecker interface {
	Name() string
	HealthCheck(ctx context.Context) error
}
