// Package memory provides an in-memory implementation of the storage
// interfaces. It is safe for concurrent use and is primarily intended for
// tests and local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Atelier-Network/pinceladas_ledger/internal/app/domain/account"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/domain/catalog"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/domain/ledger"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/domain/voucher"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/storage"
)

// Store holds every collection behind one lock. Atomic units take the
// write lock for their whole duration, which gives them serializability
// without any conflict retries.
type Store struct {
	mu          sync.RWMutex
	nextID      int64
	accounts    map[string]account.Account
	entries     []ledger.Entry
	vouchers    map[string]voucher.Voucher
	redemptions map[string]voucher.Redemption
	items       map[string]catalog.Item
	purchases   []catalog.Purchase
	settings    catalog.Settings
}

var _ storage.AccountStore = (*Store)(nil)
var _ storage.LedgerStore = (*Store)(nil)
var _ storage.VoucherStore = (*Store)(nil)
var _ storage.CatalogStore = (*Store)(nil)
var _ storage.AtomicStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:      1,
		accounts:    make(map[string]account.Account),
		vouchers:    make(map[string]voucher.Voucher),
		redemptions: make(map[string]voucher.Redemption),
		items:       make(map[string]catalog.Item),
		settings:    catalog.Settings{SelfService: true},
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

func redemptionKey(accountID, voucherID string) string {
	return accountID + "/" + voucherID
}

// AtomicStore implementation ---------------------------------------------------

// RunAtomic executes fn under the store's write lock. Writes issued through
// the Tx are staged and applied only when fn returns nil, so an aborting
// unit leaves no trace.
func (s *Store) RunAtomic(_ context.Context, fn func(storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s, balances: make(map[string]int64), stocks: make(map[string]int)}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commitLocked()
	return nil
}

type memTx struct {
	store       *Store
	balances    map[string]int64
	stocks      map[string]int
	entries     []ledger.Entry
	redemptions []voucher.Redemption
	purchases   []catalog.Purchase
}

func (t *memTx) GetAccount(id string) (account.Account, error) {
	acct, ok := t.store.accounts[id]
	if !ok {
		return account.Account{}, fmt.Errorf("account %s: %w", id, storage.ErrNotFound)
	}
	if balance, staged := t.balances[id]; staged {
		acct.Balance = balance
	}
	return acct, nil
}

func (t *memTx) PutAccountBalance(id string, balance int64) error {
	if _, ok := t.store.accounts[id]; !ok {
		return fmt.Errorf("account %s: %w", id, storage.ErrNotFound)
	}
	t.balances[id] = balance
	return nil
}

func (t *memTx) AppendEntry(e ledger.Entry) (ledger.Entry, error) {
	if e.ID == "" {
		e.ID = t.store.nextIDLocked()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	t.entries = append(t.entries, e)
	return e, nil
}

func (t *memTx) GetItem(id string) (catalog.Item, error) {
	it, ok := t.store.items[id]
	if !ok {
		return catalog.Item{}, fmt.Errorf("item %s: %w", id, storage.ErrNotFound)
	}
	if stock, staged := t.stocks[id]; staged {
		it.Stock = stock
	}
	return it, nil
}

func (t *memTx) PutItemStock(id string, stock int) error {
	if _, ok := t.store.items[id]; !ok {
		return fmt.Errorf("item %s: %w", id, storage.ErrNotFound)
	}
	t.stocks[id] = stock
	return nil
}

func (t *memTx) CreatePurchase(p catalog.Purchase) (catalog.Purchase, error) {
	if p.ID == "" {
		p.ID = t.store.nextIDLocked()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	t.purchases = append(t.purchases, p)
	return p, nil
}

func (t *memTx) GetRedemption(accountID, voucherID string) (voucher.Redemption, bool, error) {
	for _, r := range t.redemptions {
		if r.AccountID == accountID && r.VoucherID == voucherID {
			return r, true, nil
		}
	}
	r, ok := t.store.redemptions[redemptionKey(accountID, voucherID)]
	return r, ok, nil
}

func (t *memTx) PutRedemption(r voucher.Redemption) error {
	if r.RedeemedAt.IsZero() {
		r.RedeemedAt = time.Now().UTC()
	}
	t.redemptions = append(t.redemptions, r)
	return nil
}

func (t *memTx) commitLocked() {
	now := time.Now().UTC()
	for id, balance := range t.balances {
		acct := t.store.accounts[id]
		acct.Balance = balance
		acct.UpdatedAt = now
		t.store.accounts[id] = acct
	}
	for id, stock := range t.stocks {
		it := t.store.items[id]
		it.Stock = stock
		it.UpdatedAt = now
		t.store.items[id] = it
	}
	t.store.entries = append(t.store.entries, t.entries...)
	t.store.purchases = append(t.store.purchases, t.purchases...)
	for _, r := range t.redemptions {
		t.store.redemptions[redemptionKey(r.AccountID, r.VoucherID)] = r
	}
}

// AccountStore implementation --------------------------------------------------

func (s *Store) CreateAccount(_ context.Context, acct account.Account) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if acct.ID == "" {
		acct.ID = s.nextIDLocked()
	} else if _, exists := s.accounts[acct.ID]; exists {
		return account.Account{}, fmt.Errorf("account %s already exists", acct.ID)
	}

	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now

	s.accounts[acct.ID] = acct
	return acct, nil
}

func (s *Store) GetAccount(_ context.Context, id string) (account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[id]
	if !ok {
		return account.Account{}, fmt.Errorf("account %s: %w", id, storage.ErrNotFound)
	}
	return acct, nil
}

func (s *Store) GetAccountByName(_ context.Context, name string) (account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, acct := range s.accounts {
		if strings.EqualFold(acct.Name, name) {
			return acct, nil
		}
	}
	return account.Account{}, fmt.Errorf("account named %q: %w", name, storage.ErrNotFound)
}

func (s *Store) ListAccounts(_ context.Context) ([]account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]account.Account, 0, len(s.accounts))
	for _, acct := range s.accounts {
		result = append(result, acct)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// LedgerStore implementation ---------------------------------------------------

func (s *Store) ListEntries(_ context.Context) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]ledger.Entry, len(s.entries))
	copy(result, s.entries)
	reverseEntries(result)
	return result, nil
}

func (s *Store) ListEntriesByAccount(_ context.Context, accountID string) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []ledger.Entry
	for _, e := range s.entries {
		if e.AccountID == accountID {
			result = append(result, e)
		}
	}
	reverseEntries(result)
	return result, nil
}

func reverseEntries(entries []ledger.Entry) {
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
}

// VoucherStore implementation --------------------------------------------------

func (s *Store) CreateVoucher(_ context.Context, v voucher.Voucher) (voucher.Voucher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v.ID == "" {
		v.ID = s.nextIDLocked()
	} else if _, exists := s.vouchers[v.ID]; exists {
		return voucher.Voucher{}, fmt.Errorf("voucher %s already exists", v.ID)
	}

	now := time.Now().UTC()
	v.CreatedAt = now
	v.UpdatedAt = now

	s.vouchers[v.ID] = v
	return v, nil
}

func (s *Store) UpdateVoucher(_ context.Context, v voucher.Voucher) (voucher.Voucher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.vouchers[v.ID]
	if !ok {
		return voucher.Voucher{}, fmt.Errorf("voucher %s: %w", v.ID, storage.ErrNotFound)
	}

	v.CreatedAt = original.CreatedAt
	v.UpdatedAt = time.Now().UTC()

	s.vouchers[v.ID] = v
	return v, nil
}

func (s *Store) DeleteVoucher(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.vouchers[id]; !ok {
		return fmt.Errorf("voucher %s: %w", id, storage.ErrNotFound)
	}
	delete(s.vouchers, id)
	return nil
}

func (s *Store) GetVoucher(_ context.Context, id string) (voucher.Voucher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.vouchers[id]
	if !ok {
		return voucher.Voucher{}, fmt.Errorf("voucher %s: %w", id, storage.ErrNotFound)
	}
	return v, nil
}

func (s *Store) GetVoucherByCode(_ context.Context, code string) (voucher.Voucher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, v := range s.vouchers {
		if v.Code == code {
			return v, nil
		}
	}
	return voucher.Voucher{}, fmt.Errorf("voucher code %q: %w", code, storage.ErrNotFound)
}

func (s *Store) ListVouchers(_ context.Context) ([]voucher.Voucher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]voucher.Voucher, 0, len(s.vouchers))
	for _, v := range s.vouchers {
		result = append(result, v)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) ListRedemptions(_ context.Context, accountID string) ([]voucher.Redemption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []voucher.Redemption
	for _, r := range s.redemptions {
		if r.AccountID == accountID {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].RedeemedAt.Before(result[j].RedeemedAt) })
	return result, nil
}

// CatalogStore implementation --------------------------------------------------

func (s *Store) CreateItem(_ context.Context, it catalog.Item) (catalog.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if it.ID == "" {
		it.ID = s.nextIDLocked()
	} else if _, exists := s.items[it.ID]; exists {
		return catalog.Item{}, fmt.Errorf("item %s already exists", it.ID)
	}

	now := time.Now().UTC()
	it.CreatedAt = now
	it.UpdatedAt = now

	s.items[it.ID] = it
	return it, nil
}

func (s *Store) UpdateItem(_ context.Context, it catalog.Item) (catalog.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.items[it.ID]
	if !ok {
		return catalog.Item{}, fmt.Errorf("item %s: %w", it.ID, storage.ErrNotFound)
	}

	it.CreatedAt = original.CreatedAt
	it.UpdatedAt = time.Now().UTC()

	s.items[it.ID] = it
	return it, nil
}

func (s *Store) DeleteItem(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return fmt.Errorf("item %s: %w", id, storage.ErrNotFound)
	}
	delete(s.items, id)
	return nil
}

func (s *Store) GetItem(_ context.Context, id string) (catalog.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.items[id]
	if !ok {
		return catalog.Item{}, fmt.Errorf("item %s: %w", id, storage.ErrNotFound)
	}
	return it, nil
}

func (s *Store) ListItems(_ context.Context) ([]catalog.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]catalog.Item, 0, len(s.items))
	for _, it := range s.items {
		result = append(result, it)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) ListPurchases(_ context.Context) ([]catalog.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]catalog.Purchase, len(s.purchases))
	copy(result, s.purchases)
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result, nil
}

func (s *Store) GetSettings(_ context.Context) (catalog.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings, nil
}

func (s *Store) PutSettings(_ context.Context, settings catalog.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	return nil
}
