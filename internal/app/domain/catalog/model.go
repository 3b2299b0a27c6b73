package catalog

import "time"

// UnlimitedStock is the sentinel stock value marking an item as having
// unlimited supply, exempt from decrement and out-of-stock checks.
const UnlimitedStock = -1

// Item is a purchasable entry of the store catalog.
type Item struct {
	ID          string
	Name        string
	Cost        int64
	Description string
	Stock       int
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Purchase records one completed sale. Immutable once written.
type Purchase struct {
	ID          string
	AccountID   string
	AccountName string
	ItemID      string
	ItemName    string
	Cost        int64
	ActorID     string
	CreatedAt   time.Time
}

// Settings holds store-wide switches. When SelfService is false only
// privileged actors may execute purchases.
type Settings struct {
	SelfService bool
}
