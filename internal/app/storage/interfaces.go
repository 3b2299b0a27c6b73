package storage

import (
	"context"
	"errors"

	"github.com/Atelier-Network/pinceladas_ledger/internal/app/domain/account"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/domain/catalog"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/domain/ledger"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/domain/voucher"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrConflict is returned when an atomic unit kept colliding with
// concurrent writers and the internal retry budget ran out. The unit left
// no writes behind; callers may retry.
var ErrConflict = errors.New("transient conflict: atomic unit retry budget exhausted")

// Tx is the view of the store inside one atomic unit. Reads observe
// committed state plus the unit's own staged writes; writes become visible
// to other readers only when the unit commits, and never if it aborts.
type Tx interface {
	GetAccount(id string) (account.Account, error)
	PutAccountBalance(id string, balance int64) error
	AppendEntry(e ledger.Entry) (ledger.Entry, error)

	GetItem(id string) (catalog.Item, error)
	PutItemStock(id string, stock int) error
	CreatePurchase(p catalog.Purchase) (catalog.Purchase, error)

	GetRedemption(accountID, voucherID string) (voucher.Redemption, bool, error)
	PutRedemption(r voucher.Redemption) error
}

// AtomicStore runs a set of reads and writes as one unit. The store retries
// the whole unit on write conflicts up to an internal bound; exhausting the
// bound surfaces as ErrConflict. An error returned by fn aborts the unit
// with zero writes and is returned unchanged.
type AtomicStore interface {
	RunAtomic(ctx context.Context, fn func(Tx) error) error
}

// AccountStore persists account records. Balances are written only through
// atomic units (see Tx); the CRUD surface here covers registration and
// reads.
type AccountStore interface {
	CreateAccount(ctx context.Context, acct account.Account) (account.Account, error)
	GetAccount(ctx context.Context, id string) (account.Account, error)
	GetAccountByName(ctx context.Context, name string) (account.Account, error)
	ListAccounts(ctx context.Context) ([]account.Account, error)
}

// LedgerStore reads the append-only audit log. Entries are appended only
// through atomic units.
type LedgerStore interface {
	ListEntries(ctx context.Context) ([]ledger.Entry, error)
	ListEntriesByAccount(ctx context.Context, accountID string) ([]ledger.Entry, error)
}

// VoucherStore persists vouchers and reads redemption markers. Markers are
// written only through atomic units.
type VoucherStore interface {
	CreateVoucher(ctx context.Context, v voucher.Voucher) (voucher.Voucher, error)
	UpdateVoucher(ctx context.Context, v voucher.Voucher) (voucher.Voucher, error)
	DeleteVoucher(ctx context.Context, id string) error
	GetVoucher(ctx context.Context, id string) (voucher.Voucher, error)
	GetVoucherByCode(ctx context.Context, code string) (voucher.Voucher, error)
	ListVouchers(ctx context.Context) ([]voucher.Voucher, error)
	ListRedemptions(ctx context.Context, accountID string) ([]voucher.Redemption, error)
}

// CatalogStore persists store items, purchases and store settings. Stock
// decrements and purchase records are written only through atomic units;
// administrative edits go through UpdateItem.
type CatalogStore interface {
	CreateItem(ctx context.Context, it catalog.Item) (catalog.Item, error)
	UpdateItem(ctx context.Context, it catalog.Item) (catalog.Item, error)
	DeleteItem(ctx context.Context, id string) error
	GetItem(ctx context.Context, id string) (catalog.Item, error)
	ListItems(ctx context.Context) ([]catalog.Item, error)
	ListPurchases(ctx context.Context) ([]catalog.Purchase, error)

	GetSettings(ctx context.Context) (catalog.Settings, error)
	PutSettings(ctx context.Context, s catalog.Settings) error
}
