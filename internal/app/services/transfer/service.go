// Package transfer moves points between two member accounts.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Atelier-Network/pinceladas_ledger/internal/app/domain/account"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/domain/ledger"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/domain/session"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/metrics"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/storage"
	"github.com/Atelier-Network/pinceladas_ledger/pkg/logger"
)

var (
	// ErrInvalidTransfer is returned for malformed requests: non-positive
	// amount or a transfer to oneself.
	ErrInvalidTransfer = errors.New("invalid transfer request")

	// ErrPartialTransfer is returned when the sender's debit committed but
	// the recipient's credit failed. The debited amount is not restored
	// automatically; manual reconciliation is required.
	ErrPartialTransfer = errors.New("transfer partially applied: debit committed without credit, manual reconciliation required")
)

// Applier is the slice of the executor the transfer service needs. The two
// legs run as independent atomic units.
type Applier interface {
	Apply(ctx context.Context, sess session.Session, accountID string, delta int64, concept string, kind ledger.EntryType, peerID string) (account.Account, ledger.Entry, error)
}

// Service orchestrates P2P transfers on top of the executor.
type Service struct {
	applier  Applier
	accounts storage.AccountStore
	log      *logger.Logger
}

func New(applier Applier, accounts storage.AccountStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("transfer")
	}
	return &Service{applier: applier, accounts: accounts, log: log}
}

// Transfer debits the sender and credits the recipient. A session may only
// send from its own account unless it is privileged. An empty concept
// defaults to per-leg transfer descriptions. The debit leg enforces the
// non-negative balance rule; if the credit leg then fails, the error is
// ErrPartialTransfer and the debit stands.
func (s *Service) Transfer(ctx context.Context, sess session.Session, fromID, toID string, amount int64, concept string) (account.Account, error) {
	if amount <= 0 {
		return account.Account{}, fmt.Errorf("%w: amount must be positive", ErrInvalidTransfer)
	}
	if fromID == toID {
		return account.Account{}, fmt.Errorf("%w: sender and recipient are the same account", ErrInvalidTransfer)
	}
	if !sess.CanActFor(fromID) {
		return account.Account{}, session.ErrUnauthorized
	}

	// Advisory existence check on the recipient before debiting. The credit
	// leg re-reads it; this only narrows the partial-failure window.
	recipient, err := s.accounts.GetAccount(ctx, toID)
	if err != nil {
		metrics.RecordTransfer("failed")
		return account.Account{}, fmt.Errorf("recipient: %w", err)
	}

	debitConcept, creditConcept := concept, concept
	if strings.TrimSpace(concept) == "" {
		from, err := s.accounts.GetAccount(ctx, fromID)
		if err != nil {
			metrics.RecordTransfer("failed")
			return account.Account{}, err
		}
		debitConcept = "Transferencia a " + recipient.Name
		creditConcept = "Transferencia de " + from.Name
	}

	sender, _, err := s.applier.Apply(ctx, sess, fromID, -amount, debitConcept, ledger.TypeP2P, toID)
	if err != nil {
		metrics.RecordTransfer("failed")
		return account.Account{}, err
	}

	if _, _, err := s.applier.Apply(ctx, sess, toID, amount, creditConcept, ledger.TypeP2P, fromID); err != nil {
		metrics.RecordTransfer("partial")
		s.log.WithError(err).
			WithField("from", fromID).
			WithField("to", toID).
			WithField("amount", amount).
			Error("credit leg failed after committed debit")
		return sender, fmt.Errorf("%w: credit leg: %v", ErrPartialTransfer, err)
	}

	metrics.RecordTransfer("success")
	s.log.WithField("from", fromID).
		WithField("to", toID).
		WithField("amount", amount).
		Info("transfer completed")
	return sender, nil
}
