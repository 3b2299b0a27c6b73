// Package accounts handles member registration and account reads.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Atelier-Network/pinceladas_ledger/internal/app/domain/account"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/domain/session"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/storage"
	"github.com/Atelier-Network/pinceladas_ledger/pkg/logger"
)

var (
	// ErrInvalidName is returned when the display name is empty after
	// trimming.
	ErrInvalidName = errors.New("account name is required")

	// ErrNameTaken is returned when another account already uses the name.
	// Comparison ignores case.
	ErrNameTaken = errors.New("account name already in use")
)

// Service manages account records. Balances are never written here; only the
// transaction executor touches them.
type Service struct {
	store storage.AccountStore
	log   *logger.Logger
}

func New(store storage.AccountStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("accounts")
	}
	return &Service{store: store, log: log}
}

// Register creates a new member account with a zero balance. Names are
// unique ignoring case. Privileged sessions may also register privileged
// accounts.
func (s *Service) Register(ctx context.Context, sess session.Session, name string, privileged bool) (account.Account, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return account.Account{}, ErrInvalidName
	}
	if privileged && !sess.Privileged {
		return account.Account{}, session.ErrUnauthorized
	}

	if _, err := s.store.GetAccountByName(ctx, name); err == nil {
		return account.Account{}, fmt.Errorf("%w: %q", ErrNameTaken, name)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return account.Account{}, err
	}

	created, err := s.store.CreateAccount(ctx, account.Account{Name: name, Privileged: privileged})
	if err != nil {
		return account.Account{}, err
	}
	s.log.WithField("account_id", created.ID).WithField("name", created.Name).Info("account registered")
	return created, nil
}

// Get returns one account.
func (s *Service) Get(ctx context.Context, id string) (account.Account, error) {
	return s.store.GetAccount(ctx, id)
}

// GetByName returns the account with the given display name, ignoring case.
func (s *Service) GetByName(ctx context.Context, name string) (account.Account, error) {
	return s.store.GetAccountByName(ctx, strings.TrimSpace(name))
}

// List returns all accounts in registration order.
func (s *Service) List(ctx context.Context) ([]account.Account, error) {
	return s.store.ListAccounts(ctx)
}

// Ranking returns accounts ordered by balance, highest first. Ties keep
// registration order.
func (s *Service) Ranking(ctx context.Context) ([]account.Account, error) {
	accts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(accts, func(i, j int) bool { return accts[i].Balance > accts[j].Balance })
	return accts, nil
}
