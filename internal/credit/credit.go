// Package credit defines the prepaid balance contract. Implementations live
// in the store: the Postgres ledger serializes debits with a row lock so two
// concurrent campaigns can never jointly overdraw a business.
package credit

import (
	"context"
)

// Ledger is the transactional balance surface. Deduct must re-read the
// balance under a write lock and fail the whole transaction with
// core.ErrInsufficientCredit when balance < amount; the balance never goes
// negative.
type Ledger interface {
	Deduct(ctx context.Context, businessID string, amount int64, reason string) error
	Refund(ctx context.Context, businessID string, amount int64, reason string) error
	TopUp(ctx context.Context, businessID string, amount int64) error
	Balance(ctx context.Context, businessID string) (int64, error)
}
