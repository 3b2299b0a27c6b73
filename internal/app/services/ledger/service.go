// Package ledger implements the balance transaction executor: the only
// component that mutates account balances or appends audit-log entries.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Atelier-Network/pinceladas_ledger/internal/app/domain/account"
	domain "github.com/Atelier-Network/pinceladas_ledger/internal/app/domain/ledger"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/domain/session"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/metrics"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/storage"
	"github.com/Atelier-Network/pinceladas_ledger/pkg/logger"
)

var (
	// ErrInsufficientFunds is returned when a debit would leave the account
	// balance negative. The atomic unit aborts with zero writes.
	ErrInsufficientFunds = errors.New("insufficient funds: balance would go negative")

	// ErrInvalidAmount is returned for a zero delta or, on batch grants,
	// a non-positive amount.
	ErrInvalidAmount = errors.New("amount must be a non-zero integer")

	// ErrInvalidConcept is returned when the audit concept is empty.
	ErrInvalidConcept = errors.New("concept is required")

	// ErrInvalidType is returned for a transaction type outside the closed
	// set of known entry types.
	ErrInvalidType = errors.New("unknown transaction type")
)

// Service applies signed balance deltas. Each Apply runs one atomic unit in
// which the balance write and its log entry are observed together or not at
// all.
type Service struct {
	accounts storage.AccountStore
	atomic   storage.AtomicStore
	entries  storage.LedgerStore
	log      *logger.Logger
}

// New constructs the executor.
func New(accounts storage.AccountStore, atomic storage.AtomicStore, entries storage.LedgerStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("ledger")
	}
	return &Service{
		accounts: accounts,
		atomic:   atomic,
		entries:  entries,
		log:      log,
	}
}

// Apply executes one signed balance delta against one account and appends
// the matching ledger entry, atomically. ADJUST and BATCH entries require a
// privileged session. peerID is set only for P2P entries and references the
// other side of the transfer.
func (s *Service) Apply(ctx context.Context, sess session.Session, accountID string, delta int64, concept string, kind domain.EntryType, peerID string) (account.Account, domain.Entry, error) {
	if err := validate(sess, delta, concept, kind); err != nil {
		metrics.RecordTransaction(string(kind), false)
		return account.Account{}, domain.Entry{}, err
	}

	var (
		updated account.Account
		entry   domain.Entry
	)
	err := s.atomic.RunAtomic(ctx, func(tx storage.Tx) error {
		var err error
		updated, entry, err = s.ApplyIn(tx, sess, accountID, delta, concept, kind, peerID)
		return err
	})
	metrics.RecordTransaction(string(kind), err == nil)
	if err != nil {
		return account.Account{}, domain.Entry{}, err
	}

	s.log.WithField("account_id", accountID).
		WithField("amount", delta).
		WithField("type", string(kind)).
		WithField("balance", updated.Balance).
		Info(kind.Label() + " applied")
	return updated, entry, nil
}

// ApplyIn applies the delta inside a caller-owned atomic unit so that
// orchestrators can compose the debit with their own reads and writes
// (redemption markers, stock decrements). The executor remains the sole
// writer of balances and entries; callers must not touch either directly.
func (s *Service) ApplyIn(tx storage.Tx, sess session.Session, accountID string, delta int64, concept string, kind domain.EntryType, peerID string) (account.Account, domain.Entry, error) {
	if err := validate(sess, delta, concept, kind); err != nil {
		return account.Account{}, domain.Entry{}, err
	}

	acct, err := tx.GetAccount(accountID)
	if err != nil {
		return account.Account{}, domain.Entry{}, err
	}

	before := acct.Balance
	after := before + delta
	if after < 0 {
		return account.Account{}, domain.Entry{}, ErrInsufficientFunds
	}

	if err := tx.PutAccountBalance(accountID, after); err != nil {
		return account.Account{}, domain.Entry{}, err
	}

	entry := domain.Entry{
		AccountID:     accountID,
		AccountName:   acct.Name,
		ActorID:       sess.ActorID,
		Amount:        delta,
		BalanceBefore: before,
		BalanceAfter:  after,
		Concept:       concept,
		Type:          kind,
		Privileged:    sess.Privileged,
		PeerAccountID: peerID,
	}
	if peerID != "" {
		peer, err := tx.GetAccount(peerID)
		switch {
		case err == nil:
			entry.PeerAccountName = peer.Name
		case errors.Is(err, storage.ErrNotFound):
			// keep the id reference even when the peer vanished
		default:
			return account.Account{}, domain.Entry{}, err
		}
	}

	entry, err = tx.AppendEntry(entry)
	if err != nil {
		return account.Account{}, domain.Entry{}, err
	}

	acct.Balance = after
	return acct, entry, nil
}

// BatchFailure describes one account a batch grant could not be applied to.
type BatchFailure struct {
	AccountID string
	Reason    string
}

// BatchResult summarises a batch grant. Successful grants are not rolled
// back when later ones fail; failures are reported per account.
type BatchResult struct {
	Applied  int
	Failures []BatchFailure
}

// ApplyBatch grants a positive amount to each listed account (type BATCH).
// Requires a privileged session.
func (s *Service) ApplyBatch(ctx context.Context, sess session.Session, accountIDs []string, amount int64, concept string) (BatchResult, error) {
	if !sess.Privileged {
		return BatchResult{}, session.ErrUnauthorized
	}
	if amount <= 0 {
		return BatchResult{}, fmt.Errorf("%w: batch grants must be positive", ErrInvalidAmount)
	}
	if strings.TrimSpace(concept) == "" {
		return BatchResult{}, ErrInvalidConcept
	}
	if len(accountIDs) == 0 {
		return BatchResult{}, fmt.Errorf("%w: at least one account is required", ErrInvalidAmount)
	}

	var result BatchResult
	for _, id := range accountIDs {
		if _, _, err := s.Apply(ctx, sess, id, amount, concept, domain.TypeBatch, ""); err != nil {
			result.Failures = append(result.Failures, BatchFailure{AccountID: id, Reason: err.Error()})
			continue
		}
		result.Applied++
	}

	if len(result.Failures) > 0 {
		s.log.WithField("applied", result.Applied).
			WithField("failed", len(result.Failures)).
			Warn("batch grant partially applied")
	}
	return result, nil
}

// History returns the account's ledger entries, newest first.
func (s *Service) History(ctx context.Context, accountID string) ([]domain.Entry, error) {
	if _, err := s.accounts.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return s.entries.ListEntriesByAccount(ctx, accountID)
}

// List returns all ledger entries, newest first.
func (s *Service) List(ctx context.Context) ([]domain.Entry, error) {
	return s.entries.ListEntries(ctx)
}

func validate(sess session.Session, delta int64, concept string, kind domain.EntryType) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, string(kind))
	}
	if delta == 0 {
		return ErrInvalidAmount
	}
	if strings.TrimSpace(concept) == "" {
		return ErrInvalidConcept
	}
	if (kind == domain.TypeAdjust || kind == domain.TypeBatch) && !sess.Privileged {
		return session.ErrUnauthorized
	}
	return nil
}
