package ledger

import "time"

// EntryType is the closed set of business reasons for a balance change.
type EntryType string

const (
	TypeAdjust   EntryType = "ADJUST"
	TypeBatch    EntryType = "BATCH"
	TypeP2P      EntryType = "P2P"
	TypeVoucher  EntryType = "VOUCHER"
	TypePurchase EntryType = "PURCHASE"
)

// entryTypeLabels maps every known type to its display label. The table is
// the single source of truth for type validity; adding a type means adding
// a row here.
var entryTypeLabels = map[EntryType]string{
	TypeAdjust:   "balance adjustment",
	TypeBatch:    "batch grant",
	TypeP2P:      "p2p transfer",
	TypeVoucher:  "voucher redemption",
	TypePurchase: "store purchase",
}

// Valid reports whether t is one of the known entry types.
func (t EntryType) Valid() bool {
	_, ok := entryTypeLabels[t]
	return ok
}

// Label returns the human-readable label for the type.
func (t EntryType) Label() string {
	if label, ok := entryTypeLabels[t]; ok {
		return label
	}
	return string(t)
}

// Entry is one immutable row of the audit log. Exactly one entry exists per
// successful balance change, written in the same atomic unit as the balance
// itself; entries are never updated or deleted.
type Entry struct {
	ID            string
	AccountID     string
	AccountName   string
	ActorID       string
	Amount        int64
	BalanceBefore int64
	BalanceAfter  int64
	Concept       string
	Type          EntryType
	Privileged    bool

	// Peer fields are set only for P2P entries and reference the other
	// side of the transfer.
	PeerAccountID   string
	PeerAccountName string

	CreatedAt time.Time
}
