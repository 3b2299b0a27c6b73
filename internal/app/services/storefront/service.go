// Package storefront manages the item catalogue and executes purchases
// against the points ledger.
package storefront

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Atelier-Network/pinceladas_ledger/internal/app/domain/account"
	domain "github.com/Atelier-Network/pinceladas_ledger/internal/app/domain/catalog"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/domain/ledger"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/domain/session"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/metrics"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/storage"
	"github.com/Atelier-Network/pinceladas_ledger/pkg/logger"
)

var (
	// ErrInvalidItem is returned for malformed item definitions. Stock must
	// be non-negative or the unlimited sentinel.
	ErrInvalidItem = errors.New("invalid item definition")

	// ErrItemUnavailable is returned when the item does not exist or is not
	// active for sale.
	ErrItemUnavailable = errors.New("item not available for purchase")

	// ErrSoldOut is returned when the item's remaining stock is zero.
	ErrSoldOut = errors.New("item sold out")

	// ErrSelfServiceDisabled is returned when a non-privileged session tries
	// to purchase while the store only accepts staff-mediated sales.
	ErrSelfServiceDisabled = errors.New("self-service purchases are disabled")
)

// Applier is the slice of the executor used to debit inside the purchase's
// atomic unit.
type Applier interface {
	ApplyIn(tx storage.Tx, sess session.Session, accountID string, delta int64, concept string, kind ledger.EntryType, peerID string) (account.Account, ledger.Entry, error)
}

// Service manages store items, store settings and purchases.
type Service struct {
	catalog storage.CatalogStore
	atomic  storage.AtomicStore
	applier Applier
	log     *logger.Logger
}

func New(catalog storage.CatalogStore, atomic storage.AtomicStore, applier Applier, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("storefront")
	}
	return &Service{catalog: catalog, atomic: atomic, applier: applier, log: log}
}

// CreateItem adds an item to the catalogue. Privileged sessions only.
func (s *Service) CreateItem(ctx context.Context, sess session.Session, it domain.Item) (domain.Item, error) {
	if !sess.Privileged {
		return domain.Item{}, session.ErrUnauthorized
	}
	if err := validateItem(&it); err != nil {
		return domain.Item{}, err
	}
	created, err := s.catalog.CreateItem(ctx, it)
	if err != nil {
		return domain.Item{}, err
	}
	s.log.WithField("item_id", created.ID).WithField("cost", created.Cost).Info("store item created")
	return created, nil
}

// UpdateItem replaces an item definition. Privileged sessions only.
func (s *Service) UpdateItem(ctx context.Context, sess session.Session, it domain.Item) (domain.Item, error) {
	if !sess.Privileged {
		return domain.Item{}, session.ErrUnauthorized
	}
	if err := validateItem(&it); err != nil {
		return domain.Item{}, err
	}
	return s.catalog.UpdateItem(ctx, it)
}

// DeleteItem removes an item. Past purchases of it are kept. Privileged
// sessions only.
func (s *Service) DeleteItem(ctx context.Context, sess session.Session, id string) error {
	if !sess.Privileged {
		return session.ErrUnauthorized
	}
	return s.catalog.DeleteItem(ctx, id)
}

// GetItem returns an item by id.
func (s *Service) GetItem(ctx context.Context, id string) (domain.Item, error) {
	return s.catalog.GetItem(ctx, id)
}

// ListItems returns the catalogue, oldest first.
func (s *Service) ListItems(ctx context.Context) ([]domain.Item, error) {
	return s.catalog.ListItems(ctx)
}

// ListPurchases returns all purchases, newest first.
func (s *Service) ListPurchases(ctx context.Context) ([]domain.Purchase, error) {
	return s.catalog.ListPurchases(ctx)
}

// Settings returns the current store settings.
func (s *Service) Settings(ctx context.Context) (domain.Settings, error) {
	return s.catalog.GetSettings(ctx)
}

// SetSelfService toggles whether members can purchase for themselves or
// sales go through privileged staff only. Privileged sessions only.
func (s *Service) SetSelfService(ctx context.Context, sess session.Session, enabled bool) (domain.Settings, error) {
	if !sess.Privileged {
		return domain.Settings{}, session.ErrUnauthorized
	}
	settings := domain.Settings{SelfService: enabled}
	if err := s.catalog.PutSettings(ctx, settings); err != nil {
		return domain.Settings{}, err
	}
	s.log.WithField("self_service", enabled).Info("store settings updated")
	return settings, nil
}

// Purchase buys one unit of the item for the account. The stock check, the
// debit with its ledger entry, the purchase record and the stock decrement
// commit as one atomic unit: concurrent buyers of the last unit see exactly
// one success. A session may buy only for its own account unless privileged.
func (s *Service) Purchase(ctx context.Context, sess session.Session, accountID, itemID string) (account.Account, domain.Purchase, error) {
	if !sess.CanActFor(accountID) {
		metrics.RecordPurchase(false)
		return account.Account{}, domain.Purchase{}, session.ErrUnauthorized
	}

	if !sess.Privileged {
		settings, err := s.catalog.GetSettings(ctx)
		if err != nil {
			metrics.RecordPurchase(false)
			return account.Account{}, domain.Purchase{}, err
		}
		if !settings.SelfService {
			metrics.RecordPurchase(false)
			return account.Account{}, domain.Purchase{}, ErrSelfServiceDisabled
		}
	}

	var (
		updated  account.Account
		purchase domain.Purchase
	)
	err := s.atomic.RunAtomic(ctx, func(tx storage.Tx) error {
		it, err := tx.GetItem(itemID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ErrItemUnavailable
			}
			return err
		}
		if !it.Active {
			return ErrItemUnavailable
		}
		if it.Stock == 0 {
			return ErrSoldOut
		}

		concept := "Compra: " + it.Name
		acct, _, err := s.applier.ApplyIn(tx, sess, accountID, -it.Cost, concept, ledger.TypePurchase, "")
		if err != nil {
			return err
		}
		updated = acct

		purchase, err = tx.CreatePurchase(domain.Purchase{
			AccountID:   accountID,
			AccountName: acct.Name,
			ItemID:      it.ID,
			ItemName:    it.Name,
			Cost:        it.Cost,
			ActorID:     sess.ActorID,
		})
		if err != nil {
			return err
		}

		if it.Stock != domain.UnlimitedStock {
			return tx.PutItemStock(it.ID, it.Stock-1)
		}
		return nil
	})
	metrics.RecordPurchase(err == nil)
	if err != nil {
		return account.Account{}, domain.Purchase{}, err
	}

	s.log.WithField("account_id", accountID).
		WithField("item_id", itemID).
		WithField("cost", purchase.Cost).
		Info("item purchased")
	return updated, purchase, nil
}

func validateItem(it *domain.Item) error {
	it.Name = strings.TrimSpace(it.Name)
	if it.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidItem)
	}
	if it.Cost <= 0 {
		return fmt.Errorf("%w: cost must be positive", ErrInvalidItem)
	}
	if it.Stock < domain.UnlimitedStock {
		return fmt.Errorf("%w: stock must be >= 0 or %d for unlimited", ErrInvalidItem, domain.UnlimitedStock)
	}
	return nil
}
