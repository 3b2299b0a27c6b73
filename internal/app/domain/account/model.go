package account

import "time"

// Account is a holder of pinceladas. The balance is an integer number of
// points and is never negative; it is mutated exclusively by the ledger
// executor.
type Account struct {
	ID         string
	Name       string
	Balance    int64
	Privileged bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
