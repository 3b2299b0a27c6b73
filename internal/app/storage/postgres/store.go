// Package postgres implements the storage interfaces on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Atelier-Network/pinceladas_ledger/internal/app/domain/account"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/domain/catalog"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/domain/ledger"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/domain/voucher"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/storage"
)

// maxAtomicAttempts bounds how often an atomic unit is replayed after a
// serialization conflict before ErrConflict is surfaced.
const maxAtomicAttempts = 5

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.AccountStore = (*Store)(nil)
var _ storage.LedgerStore = (*Store)(nil)
var _ storage.VoucherStore = (*Store)(nil)
var _ storage.CatalogStore = (*Store)(nil)
var _ storage.AtomicStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// --- AtomicStore ------------------------------------------------------------

// RunAtomic executes fn inside a SERIALIZABLE transaction. Serialization
// failures abort the whole unit and replay it, up to maxAtomicAttempts;
// after that the unit fails with storage.ErrConflict. An error from fn
// rolls the transaction back and is returned unchanged.
func (s *Store) RunAtomic(ctx context.Context, fn func(storage.Tx) error) error {
	for attempt := 0; attempt < maxAtomicAttempts; attempt++ {
		tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return fmt.Errorf("begin atomic unit: %w", err)
		}

		unit := &pgTx{ctx: ctx, tx: tx}
		if err := fn(unit); err != nil {
			_ = tx.Rollback()
			if isSerializationFailure(err) {
				continue
			}
			return err
		}

		if err := tx.Commit(); err != nil {
			if isSerializationFailure(err) {
				continue
			}
			return fmt.Errorf("commit atomic unit: %w", err)
		}
		return nil
	}
	return storage.ErrConflict
}

func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	// 40001 serialization_failure, 40P01 deadlock_detected
	return pqErr.Code == "40001" || pqErr.Code == "40P01"
}

type pgTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *pgTx) GetAccount(id string) (account.Account, error) {
	row := t.tx.QueryRowContext(t.ctx, `
		SELECT id, name, balance, privileged, created_at, updated_at
		FROM accounts WHERE id = $1
	`, id)

	var acct account.Account
	if err := row.Scan(&acct.ID, &acct.Name, &acct.Balance, &acct.Privileged, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return account.Account{}, fmt.Errorf("account %s: %w", id, storage.ErrNotFound)
		}
		return account.Account{}, err
	}
	return acct, nil
}

func (t *pgTx) PutAccountBalance(id string, balance int64) error {
	result, err := t.tx.ExecContext(t.ctx, `
		UPDATE accounts SET balance = $2, updated_at = $3 WHERE id = $1
	`, id, balance, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("account %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (t *pgTx) AppendEntry(e ledger.Entry) (ledger.Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO ledger_entries
			(id, account_id, account_name, actor_id, amount, balance_before, balance_after,
			 concept, type, privileged, peer_account_id, peer_account_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, e.ID, e.AccountID, e.AccountName, e.ActorID, e.Amount, e.BalanceBefore, e.BalanceAfter,
		e.Concept, string(e.Type), e.Privileged, e.PeerAccountID, e.PeerAccountName, e.CreatedAt)
	if err != nil {
		return ledger.Entry{}, err
	}
	return e, nil
}

func (t *pgTx) GetItem(id string) (catalog.Item, error) {
	row := t.tx.QueryRowContext(t.ctx, `
		SELECT id, name, cost, description, stock, active, created_at, updated_at
		FROM store_items WHERE id = $1
	`, id)

	var it catalog.Item
	if err := row.Scan(&it.ID, &it.Name, &it.Cost, &it.Description, &it.Stock, &it.Active, &it.CreatedAt, &it.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Item{}, fmt.Errorf("item %s: %w", id, storage.ErrNotFound)
		}
		return catalog.Item{}, err
	}
	return it, nil
}

func (t *pgTx) PutItemStock(id string, stock int) error {
	result, err := t.tx.ExecContext(t.ctx, `
		UPDATE store_items SET stock = $2, updated_at = $3 WHERE id = $1
	`, id, stock, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("item %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (t *pgTx) CreatePurchase(p catalog.Purchase) (catalog.Purchase, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO purchases (id, account_id, account_name, item_id, item_name, cost, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, p.ID, p.AccountID, p.AccountName, p.ItemID, p.ItemName, p.Cost, p.ActorID, p.CreatedAt)
	if err != nil {
		return catalog.Purchase{}, err
	}
	return p, nil
}

func (t *pgTx) GetRedemption(accountID, voucherID string) (voucher.Redemption, bool, error) {
	row := t.tx.QueryRowContext(t.ctx, `
		SELECT account_id, voucher_id, voucher_name, cost, redeemed_at
		FROM redemptions WHERE account_id = $1 AND voucher_id = $2
	`, accountID, voucherID)

	var r voucher.Redemption
	if err := row.Scan(&r.AccountID, &r.VoucherID, &r.VoucherName, &r.Cost, &r.RedeemedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return voucher.Redemption{}, false, nil
		}
		return voucher.Redemption{}, false, err
	}
	return r, true, nil
}

func (t *pgTx) PutRedemption(r voucher.Redemption) error {
	if r.RedeemedAt.IsZero() {
		r.RedeemedAt = time.Now().UTC()
	}
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO redemptions (account_id, voucher_id, voucher_name, cost, redeemed_at)
		VALUES ($1, $2, $3, $4, $5)
	`, r.AccountID, r.VoucherID, r.VoucherName, r.Cost, r.RedeemedAt)
	return err
}

// --- AccountStore -----------------------------------------------------------

func (s *Store) CreateAccount(ctx context.Context, acct account.Account) (account.Account, error) {
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, name, balance, privileged, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, acct.ID, acct.Name, acct.Balance, acct.Privileged, acct.CreatedAt, acct.UpdatedAt)
	if err != nil {
		return account.Account{}, err
	}
	return acct, nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (account.Account, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx, `
		SELECT id, name, balance, privileged, created_at, updated_at
		FROM accounts WHERE id = $1
	`, id), fmt.Sprintf("account %s", id))
}

func (s *Store) GetAccountByName(ctx context.Context, name string) (account.Account, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx, `
		SELECT id, name, balance, privileged, created_at, updated_at
		FROM accounts WHERE lower(name) = lower($1)
	`, name), fmt.Sprintf("account named %q", name))
}

func (s *Store) scanAccount(row *sql.Row, what string) (account.Account, error) {
	var acct account.Account
	if err := row.Scan(&acct.ID, &acct.Name, &acct.Balance, &acct.Privileged, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return account.Account{}, fmt.Errorf("%s: %w", what, storage.ErrNotFound)
		}
		return account.Account{}, err
	}
	return acct, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]account.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, balance, privileged, created_at, updated_at
		FROM accounts ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []account.Account
	for rows.Next() {
		var acct account.Account
		if err := rows.Scan(&acct.ID, &acct.Name, &acct.Balance, &acct.Privileged, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, acct)
	}
	return result, rows.Err()
}

// --- LedgerStore ------------------------------------------------------------

const entryColumns = `id, account_id, account_name, actor_id, amount, balance_before, balance_after,
	concept, type, privileged, peer_account_id, peer_account_name, created_at`

func (s *Store) ListEntries(ctx context.Context) ([]ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *Store) ListEntriesByAccount(ctx context.Context, accountID string) ([]ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries WHERE account_id = $1 ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]ledger.Entry, error) {
	var result []ledger.Entry
	for rows.Next() {
		var (
			e    ledger.Entry
			kind string
		)
		if err := rows.Scan(&e.ID, &e.AccountID, &e.AccountName, &e.ActorID, &e.Amount, &e.BalanceBefore,
			&e.BalanceAfter, &e.Concept, &kind, &e.Privileged, &e.PeerAccountID, &e.PeerAccountName, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = ledger.EntryType(kind)
		result = append(result, e)
	}
	return result, rows.Err()
}

// --- VoucherStore -----------------------------------------------------------

func (s *Store) CreateVoucher(ctx context.Context, v voucher.Voucher) (voucher.Voucher, error) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	v.CreatedAt = now
	v.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vouchers (id, name, cost, category, code, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, v.ID, v.Name, v.Cost, v.Category, v.Code, v.Active, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return voucher.Voucher{}, err
	}
	return v, nil
}

func (s *Store) UpdateVoucher(ctx context.Context, v voucher.Voucher) (voucher.Voucher, error) {
	v.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE vouchers SET name = $2, cost = $3, category = $4, code = $5, active = $6, updated_at = $7
		WHERE id = $1
	`, v.ID, v.Name, v.Cost, v.Category, v.Code, v.Active, v.UpdatedAt)
	if err != nil {
		return voucher.Voucher{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return voucher.Voucher{}, fmt.Errorf("voucher %s: %w", v.ID, storage.ErrNotFound)
	}
	return v, nil
}

func (s *Store) DeleteVoucher(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM vouchers WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("voucher %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) GetVoucher(ctx context.Context, id string) (voucher.Voucher, error) {
	return scanVoucher(s.db.QueryRowContext(ctx, `
		SELECT id, name, cost, category, code, active, created_at, updated_at
		FROM vouchers WHERE id = $1
	`, id), fmt.Sprintf("voucher %s", id))
}

func (s *Store) GetVoucherByCode(ctx context.Context, code string) (voucher.Voucher, error) {
	return scanVoucher(s.db.QueryRowContext(ctx, `
		SELECT id, name, cost, category, code, active, created_at, updated_at
		FROM vouchers WHERE code = $1
	`, code), fmt.Sprintf("voucher code %q", code))
}

func scanVoucher(row *sql.Row, what string) (voucher.Voucher, error) {
	var v voucher.Voucher
	if err := row.Scan(&v.ID, &v.Name, &v.Cost, &v.Category, &v.Code, &v.Active, &v.CreatedAt, &v.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return voucher.Voucher{}, fmt.Errorf("%s: %w", what, storage.ErrNotFound)
		}
		return voucher.Voucher{}, err
	}
	return v, nil
}

func (s *Store) ListVouchers(ctx context.Context) ([]voucher.Voucher, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, cost, category, code, active, created_at, updated_at
		FROM vouchers ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []voucher.Voucher
	for rows.Next() {
		var v voucher.Voucher
		if err := rows.Scan(&v.ID, &v.Name, &v.Cost, &v.Category, &v.Code, &v.Active, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

func (s *Store) ListRedemptions(ctx context.Context, accountID string) ([]voucher.Redemption, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id, voucher_id, voucher_name, cost, redeemed_at
		FROM redemptions WHERE account_id = $1 ORDER BY redeemed_at
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []voucher.Redemption
	for rows.Next() {
		var r voucher.Redemption
		if err := rows.Scan(&r.AccountID, &r.VoucherID, &r.VoucherName, &r.Cost, &r.RedeemedAt); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// --- CatalogStore -----------------------------------------------------------

func (s *Store) CreateItem(ctx context.Context, it catalog.Item) (catalog.Item, error) {
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	it.CreatedAt = now
	it.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO store_items (id, name, cost, description, stock, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, it.ID, it.Name, it.Cost, it.Description, it.Stock, it.Active, it.CreatedAt, it.UpdatedAt)
	if err != nil {
		return catalog.Item{}, err
	}
	return it, nil
}

func (s *Store) UpdateItem(ctx context.Context, it catalog.Item) (catalog.Item, error) {
	it.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE store_items SET name = $2, cost = $3, description = $4, stock = $5, active = $6, updated_at = $7
		WHERE id = $1
	`, it.ID, it.Name, it.Cost, it.Description, it.Stock, it.Active, it.UpdatedAt)
	if err != nil {
		return catalog.Item{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return catalog.Item{}, fmt.Errorf("item %s: %w", it.ID, storage.ErrNotFound)
	}
	return it, nil
}

func (s *Store) DeleteItem(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM store_items WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("item %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) GetItem(ctx context.Context, id string) (catalog.Item, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, cost, description, stock, active, created_at, updated_at
		FROM store_items WHERE id = $1
	`, id)

	var it catalog.Item
	if err := row.Scan(&it.ID, &it.Name, &it.Cost, &it.Description, &it.Stock, &it.Active, &it.CreatedAt, &it.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Item{}, fmt.Errorf("item %s: %w", id, storage.ErrNotFound)
		}
		return catalog.Item{}, err
	}
	return it, nil
}

func (s *Store) ListItems(ctx context.Context) ([]catalog.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, cost, description, stock, active, created_at, updated_at
		FROM store_items ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []catalog.Item
	for rows.Next() {
		var it catalog.Item
		if err := rows.Scan(&it.ID, &it.Name, &it.Cost, &it.Description, &it.Stock, &it.Active, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, it)
	}
	return result, rows.Err()
}

func (s *Store) ListPurchases(ctx context.Context) ([]catalog.Purchase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, account_name, item_id, item_name, cost, actor_id, created_at
		FROM purchases ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []catalog.Purchase
	for rows.Next() {
		var p catalog.Purchase
		if err := rows.Scan(&p.ID, &p.AccountID, &p.AccountName, &p.ItemID, &p.ItemName, &p.Cost, &p.ActorID, &p.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *Store) GetSettings(ctx context.Context) (catalog.Settings, error) {
	row := s.db.QueryRowContext(ctx, `SELECT self_service FROM store_settings WHERE id = 1`)

	var settings catalog.Settings
	if err := row.Scan(&settings.SelfService); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Settings{SelfService: true}, nil
		}
		return catalog.Settings{}, err
	}
	return settings, nil
}

func (s *Store) PutSettings(ctx context.Context, settings catalog.Settings) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO store_settings (id, self_service) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET self_service = EXCLUDED.self_service
	`, settings.SelfService)
	return err
}
