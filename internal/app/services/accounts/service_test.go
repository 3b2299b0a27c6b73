package accounts

import (
	"context"
	"errors"
	"testing"

	"github.com/Atelier-Network/pinceladas_ledger/internal/app/domain/account"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/domain/session"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/storage/memory"
)

func TestService_Register(t *testing.T) {
	store := memory.New()
	svc := New(store, nil)
	sess := session.Session{ActorID: "anon"}

	acct, err := svc.Register(context.Background(), sess, "  Lucia  ", false)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if acct.Name != "Lucia" {
		t.Fatalf("name not trimmed: %q", acct.Name)
	}
	if acct.Balance != 0 {
		t.Fatalf("new account balance = %d, want 0", acct.Balance)
	}

	if _, err := svc.Register(context.Background(), sess, "lucia", false); !errors.Is(err, ErrNameTaken) {
		t.Fatalf("expected name taken for case-insensitive duplicate, got %v", err)
	}
	if _, err := svc.Register(context.Background(), sess, "   ", false); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected invalid name, got %v", err)
	}
	if _, err := svc.Register(context.Background(), sess, "Admin2", true); !errors.Is(err, session.ErrUnauthorized) {
		t.Fatalf("expected unauthorized privileged registration, got %v", err)
	}

	admin := session.Session{ActorID: "admin-1", Privileged: true}
	priv, err := svc.Register(context.Background(), admin, "Admin2", true)
	if err != nil {
		t.Fatalf("privileged register: %v", err)
	}
	if !priv.Privileged {
		t.Fatalf("account not privileged: %+v", priv)
	}

	found, err := svc.GetByName(context.Background(), "LUCIA")
	if err != nil {
		t.Fatalf("get by name: %v", err)
	}
	if found.ID != acct.ID {
		t.Fatalf("lookup returned wrong account: %+v", found)
	}
}

func TestService_Ranking(t *testing.T) {
	store := memory.New()
	svc := New(store, nil)

	balances := map[string]int64{"Ana": 10, "Bruno": 30, "Carla": 20}
	for _, name := range []string{"Ana", "Bruno", "Carla"} {
		if _, err := store.CreateAccount(context.Background(), account.Account{Name: name, Balance: balances[name]}); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}

	ranked, err := svc.Ranking(context.Background())
	if err != nil {
		t.Fatalf("ranking: %v", err)
	}
	if len(ranked) != 3 {
		t.Fatalf("expected 3 accounts, got %d", len(ranked))
	}
	want := []string{"Bruno", "Carla", "Ana"}
	for i, name := range want {
		if ranked[i].Name != name {
			t.Fatalf("position %d = %s, want %s", i, ranked[i].Name, name)
		}
	}
}
