package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/Atelier-Network/pinceladas_ledger/internal/app/domain/account"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/domain/catalog"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/domain/ledger"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/domain/voucher"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/storage"
)

func TestRunAtomic_CommitsAllWrites(t *testing.T) {
	store := New()
	acct, err := store.CreateAccount(context.Background(), account.Account{Name: "Lucia", Balance: 10})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	item, err := store.CreateItem(context.Background(), catalog.Item{Name: "Mug", Cost: 5, Stock: 3, Active: true})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}

	err = store.RunAtomic(context.Background(), func(tx storage.Tx) error {
		if err := tx.PutAccountBalance(acct.ID, 5); err != nil {
			return err
		}
		if _, err := tx.AppendEntry(ledger.Entry{AccountID: acct.ID, Amount: -5, Type: ledger.TypePurchase, Concept: "Mug"}); err != nil {
			return err
		}
		if _, err := tx.CreatePurchase(catalog.Purchase{AccountID: acct.ID, ItemID: item.ID, Cost: 5}); err != nil {
			return err
		}
		return tx.PutItemStock(item.ID, 2)
	})
	if err != nil {
		t.Fatalf("run atomic: %v", err)
	}

	got, _ := store.GetAccount(context.Background(), acct.ID)
	if got.Balance != 5 {
		t.Fatalf("balance = %d, want 5", got.Balance)
	}
	entries, _ := store.ListEntriesByAccount(context.Background(), acct.ID)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	purchases, _ := store.ListPurchases(context.Background())
	if len(purchases) != 1 {
		t.Fatalf("expected 1 purchase, got %d", len(purchases))
	}
	it, _ := store.GetItem(context.Background(), item.ID)
	if it.Stock != 2 {
		t.Fatalf("stock = %d, want 2", it.Stock)
	}
}

func TestRunAtomic_AbortLeavesNoTrace(t *testing.T) {
	store := New()
	acct, err := store.CreateAccount(context.Background(), account.Account{Name: "Marco", Balance: 10})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	boom := errors.New("boom")
	err = store.RunAtomic(context.Background(), func(tx storage.Tx) error {
		if err := tx.PutAccountBalance(acct.ID, 0); err != nil {
			return err
		}
		if _, err := tx.AppendEntry(ledger.Entry{AccountID: acct.ID, Amount: -10, Type: ledger.TypeAdjust, Concept: "x"}); err != nil {
			return err
		}
		if err := tx.PutRedemption(voucher.Redemption{AccountID: acct.ID, VoucherID: "v1"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error to surface, got %v", err)
	}

	got, _ := store.GetAccount(context.Background(), acct.ID)
	if got.Balance != 10 {
		t.Fatalf("balance changed after abort: %d", got.Balance)
	}
	entries, _ := store.ListEntries(context.Background())
	if len(entries) != 0 {
		t.Fatalf("entries leaked after abort: %d", len(entries))
	}
	if _, exists, _ := redemptionProbe(store, acct.ID, "v1"); exists {
		t.Fatalf("redemption marker leaked after abort")
	}
}

// redemptionProbe checks marker visibility through a fresh atomic unit.
func redemptionProbe(store *Store, accountID, voucherID string) (voucher.Redemption, bool, error) {
	var (
		r      voucher.Redemption
		exists bool
	)
	err := store.RunAtomic(context.Background(), func(tx storage.Tx) error {
		var err error
		r, exists, err = tx.GetRedemption(accountID, voucherID)
		return err
	})
	return r, exists, err
}

func TestRunAtomic_StagedReadsSeeOwnWrites(t *testing.T) {
	store := New()
	acct, err := store.CreateAccount(context.Background(), account.Account{Name: "Ana", Balance: 100})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	err = store.RunAtomic(context.Background(), func(tx storage.Tx) error {
		if err := tx.PutAccountBalance(acct.ID, 60); err != nil {
			return err
		}
		staged, err := tx.GetAccount(acct.ID)
		if err != nil {
			return err
		}
		if staged.Balance != 60 {
			t.Fatalf("staged read = %d, want 60", staged.Balance)
		}
		return tx.PutAccountBalance(acct.ID, staged.Balance-10)
	})
	if err != nil {
		t.Fatalf("run atomic: %v", err)
	}

	got, _ := store.GetAccount(context.Background(), acct.ID)
	if got.Balance != 50 {
		t.Fatalf("balance = %d, want 50", got.Balance)
	}
}

func TestAccountLookupByNameIgnoresCase(t *testing.T) {
	store := New()
	if _, err := store.CreateAccount(context.Background(), account.Account{Name: "Lucia"}); err != nil {
		t.Fatalf("create account: %v", err)
	}
	found, err := store.GetAccountByName(context.Background(), "LUCIA")
	if err != nil {
		t.Fatalf("get by name: %v", err)
	}
	if found.Name != "Lucia" {
		t.Fatalf("unexpected account: %+v", found)
	}
	if _, err := store.GetAccountByName(context.Background(), "nobody"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
