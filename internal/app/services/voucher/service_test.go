package voucher

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Atelier-Network/pinceladas_ledger/internal/app/domain/account"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/domain/session"
	domain "github.com/Atelier-Network/pinceladas_ledger/internal/app/domain/voucher"
	ledgersvc "github.com/Atelier-Network/pinceladas_ledger/internal/app/services/ledger"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/storage/memory"
)

var adminSess = session.Session{ActorID: "admin-1", ActorName: "Admin", Privileged: true}

func setup(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	executor := ledgersvc.New(store, store, store, nil)
	return New(store, store, executor, nil), store
}

func seedAccount(t *testing.T, store *memory.Store, name string, balance int64) account.Account {
	t.Helper()
	acct, err := store.CreateAccount(context.Background(), account.Account{Name: name, Balance: balance})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	return acct
}

func seedVoucher(t *testing.T, svc *Service, name, code string, cost int64) domain.Voucher {
	t.Helper()
	v, err := svc.Create(context.Background(), adminSess, domain.Voucher{Name: name, Code: code, Cost: cost, Active: true})
	if err != nil {
		t.Fatalf("create voucher: %v", err)
	}
	return v
}

func TestService_CreateValidation(t *testing.T) {
	svc, _ := setup(t)

	member := session.Session{ActorID: "m1"}
	if _, err := svc.Create(context.Background(), member, domain.Voucher{Name: "x", Code: "c", Cost: 1}); !errors.Is(err, session.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := svc.Create(context.Background(), adminSess, domain.Voucher{Code: "c", Cost: 1}); !errors.Is(err, ErrInvalidVoucher) {
		t.Fatalf("expected invalid voucher for empty name, got %v", err)
	}
	if _, err := svc.Create(context.Background(), adminSess, domain.Voucher{Name: "x", Cost: 1}); !errors.Is(err, ErrInvalidVoucher) {
		t.Fatalf("expected invalid voucher for empty code, got %v", err)
	}
	if _, err := svc.Create(context.Background(), adminSess, domain.Voucher{Name: "x", Code: "c", Cost: 0}); !errors.Is(err, ErrInvalidVoucher) {
		t.Fatalf("expected invalid voucher for zero cost, got %v", err)
	}

	seedVoucher(t, svc, "Coffee", "CAFE", 10)
	if _, err := svc.Create(context.Background(), adminSess, domain.Voucher{Name: "Other", Code: "CAFE", Cost: 5, Active: true}); !errors.Is(err, ErrInvalidVoucher) {
		t.Fatalf("expected duplicate code rejection, got %v", err)
	}
}

func TestService_Redeem(t *testing.T) {
	svc, store := setup(t)
	acct := seedAccount(t, store, "Lucia", 50)
	v := seedVoucher(t, svc, "Coffee", "CAFE", 10)
	sess := session.Session{ActorID: acct.ID, ActorName: "Lucia"}

	updated, redemption, err := svc.Redeem(context.Background(), sess, acct.ID, "CAFE")
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if updated.Balance != 40 {
		t.Fatalf("balance = %d, want 40", updated.Balance)
	}
	if redemption.VoucherID != v.ID || redemption.Cost != 10 {
		t.Fatalf("unexpected redemption: %+v", redemption)
	}

	entries, err := store.ListEntriesByAccount(context.Background(), acct.ID)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Amount != -10 {
		t.Fatalf("debit entry missing: %+v", entries)
	}
	if entries[0].Concept != "Bono: Coffee" {
		t.Fatalf("unexpected concept: %q", entries[0].Concept)
	}

	// A second attempt must fail without touching the balance.
	if _, _, err := svc.Redeem(context.Background(), sess, acct.ID, "CAFE"); !errors.Is(err, ErrAlreadyRedeemed) {
		t.Fatalf("expected already redeemed, got %v", err)
	}
	after, err := store.GetAccount(context.Background(), acct.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if after.Balance != 40 {
		t.Fatalf("balance changed on duplicate redemption: %d", after.Balance)
	}

	redemptions, err := svc.ListRedemptions(context.Background(), acct.ID)
	if err != nil {
		t.Fatalf("list redemptions: %v", err)
	}
	if len(redemptions) != 1 {
		t.Fatalf("expected one redemption marker, got %d", len(redemptions))
	}
}

func TestService_RedeemRejections(t *testing.T) {
	svc, store := setup(t)
	acct := seedAccount(t, store, "Marco", 5)
	seedVoucher(t, svc, "Coffee", "CAFE", 10)
	inactive := seedVoucher(t, svc, "Old", "OLD", 3)
	inactive.Active = false
	if _, err := svc.Update(context.Background(), adminSess, inactive); err != nil {
		t.Fatalf("deactivate voucher: %v", err)
	}

	sess := session.Session{ActorID: acct.ID}

	if _, _, err := svc.Redeem(context.Background(), sess, acct.ID, "NOPE"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected invalid code, got %v", err)
	}
	if _, _, err := svc.Redeem(context.Background(), sess, acct.ID, "OLD"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected invalid code for inactive voucher, got %v", err)
	}
	if _, _, err := svc.Redeem(context.Background(), sess, acct.ID, "CAFE"); !errors.Is(err, ledgersvc.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	// Failed redemption leaves no marker, so a later funded attempt works.
	if _, _, err := ledgersvc.New(store, store, store, nil).Apply(context.Background(), adminSess, acct.ID, 20, "top up", "ADJUST", ""); err != nil {
		t.Fatalf("top up: %v", err)
	}
	if _, _, err := svc.Redeem(context.Background(), sess, acct.ID, "CAFE"); err != nil {
		t.Fatalf("redeem after top up: %v", err)
	}

	other := session.Session{ActorID: "someone-else"}
	if _, _, err := svc.Redeem(context.Background(), other, acct.ID, "CAFE"); !errors.Is(err, session.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestService_RedeemConcurrentSingleSuccess(t *testing.T) {
	svc, store := setup(t)
	acct := seedAccount(t, store, "Carla", 100)
	seedVoucher(t, svc, "Prize", "WIN", 10)
	sess := session.Session{ActorID: acct.ID}

	const attempts = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	var successes int
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			defer wg.Done()
			if _, _, err := svc.Redeem(context.Background(), sess, acct.ID, "WIN"); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly one successful redemption, got %d", successes)
	}
	final, err := store.GetAccount(context.Background(), acct.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if final.Balance != 90 {
		t.Fatalf("balance = %d, want 90", final.Balance)
	}
}
