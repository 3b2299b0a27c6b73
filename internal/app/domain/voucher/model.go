package voucher

import "time"

// Voucher ("bono") is a redeemable code that debits a fixed cost from an
// account at most once per account. Redemption never mutates the voucher.
type Voucher struct {
	ID        string
	Name      string
	Cost      int64
	Category  string
	Code      string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Redemption marks that an account has redeemed a voucher. Keyed by
// (AccountID, VoucherID); written once and never updated or deleted.
type Redemption struct {
	AccountID   string
	VoucherID   string
	VoucherName string
	Cost        int64
	RedeemedAt  time.Time
}
