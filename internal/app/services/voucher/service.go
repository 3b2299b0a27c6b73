// Package voucher manages redeemable bonus codes and their one-per-account
// redemption.
package voucher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Atelier-Network/pinceladas_ledger/internal/app/domain/account"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/domain/ledger"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/domain/session"
	domain "github.com/Atelier-Network/pinceladas_ledger/internal/app/domain/voucher"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/metrics"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/storage"
	"github.com/Atelier-Network/pinceladas_ledger/pkg/logger"
)

var (
	// ErrInvalidVoucher is returned for malformed voucher definitions.
	ErrInvalidVoucher = errors.New("invalid voucher definition")

	// ErrInvalidCode is returned when the presented code matches no active
	// voucher. Inactive vouchers are indistinguishable from unknown codes.
	ErrInvalidCode = errors.New("unknown or inactive voucher code")

	// ErrAlreadyRedeemed is returned when the account holds a redemption
	// marker for the voucher. Each account may redeem a voucher once.
	ErrAlreadyRedeemed = errors.New("voucher already redeemed by this account")
)

// Applier is the slice of the executor used to debit inside the redemption's
// atomic unit.
type Applier interface {
	ApplyIn(tx storage.Tx, sess session.Session, accountID string, delta int64, concept string, kind ledger.EntryType, peerID string) (account.Account, ledger.Entry, error)
}

// Service manages the voucher catalogue and executes redemptions.
type Service struct {
	vouchers storage.VoucherStore
	atomic   storage.AtomicStore
	applier  Applier
	log      *logger.Logger
}

func New(vouchers storage.VoucherStore, atomic storage.AtomicStore, applier Applier, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("voucher")
	}
	return &Service{vouchers: vouchers, atomic: atomic, applier: applier, log: log}
}

// Create registers a new voucher. Privileged sessions only.
func (s *Service) Create(ctx context.Context, sess session.Session, v domain.Voucher) (domain.Voucher, error) {
	if !sess.Privileged {
		return domain.Voucher{}, session.ErrUnauthorized
	}
	if err := validate(&v); err != nil {
		return domain.Voucher{}, err
	}
	if _, err := s.vouchers.GetVoucherByCode(ctx, v.Code); err == nil {
		return domain.Voucher{}, fmt.Errorf("%w: code %q already in use", ErrInvalidVoucher, v.Code)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return domain.Voucher{}, err
	}

	created, err := s.vouchers.CreateVoucher(ctx, v)
	if err != nil {
		return domain.Voucher{}, err
	}
	s.log.WithField("voucher_id", created.ID).WithField("cost", created.Cost).Info("voucher created")
	return created, nil
}

// Update replaces a voucher definition. Privileged sessions only.
func (s *Service) Update(ctx context.Context, sess session.Session, v domain.Voucher) (domain.Voucher, error) {
	if !sess.Privileged {
		return domain.Voucher{}, session.ErrUnauthorized
	}
	if err := validate(&v); err != nil {
		return domain.Voucher{}, err
	}
	if existing, err := s.vouchers.GetVoucherByCode(ctx, v.Code); err == nil && existing.ID != v.ID {
		return domain.Voucher{}, fmt.Errorf("%w: code %q already in use", ErrInvalidVoucher, v.Code)
	} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return domain.Voucher{}, err
	}
	return s.vouchers.UpdateVoucher(ctx, v)
}

// Delete removes a voucher. Redemption markers for it are kept so history
// stays intact. Privileged sessions only.
func (s *Service) Delete(ctx context.Context, sess session.Session, id string) error {
	if !sess.Privileged {
		return session.ErrUnauthorized
	}
	return s.vouchers.DeleteVoucher(ctx, id)
}

// Get returns a voucher by id.
func (s *Service) Get(ctx context.Context, id string) (domain.Voucher, error) {
	return s.vouchers.GetVoucher(ctx, id)
}

// List returns all vouchers, oldest first.
func (s *Service) List(ctx context.Context) ([]domain.Voucher, error) {
	return s.vouchers.ListVouchers(ctx)
}

// ListRedemptions returns the account's redemption history.
func (s *Service) ListRedemptions(ctx context.Context, accountID string) ([]domain.Redemption, error) {
	return s.vouchers.ListRedemptions(ctx, accountID)
}

// Redeem exchanges a voucher code for its point cost. The duplicate check,
// the debit with its ledger entry and the redemption marker all commit as
// one atomic unit, so concurrent attempts with the same code yield exactly
// one success. A session may redeem only for its own account unless
// privileged.
func (s *Service) Redeem(ctx context.Context, sess session.Session, accountID, code string) (account.Account, domain.Redemption, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		metrics.RecordRedemption(false)
		return account.Account{}, domain.Redemption{}, ErrInvalidCode
	}
	if !sess.CanActFor(accountID) {
		metrics.RecordRedemption(false)
		return account.Account{}, domain.Redemption{}, session.ErrUnauthorized
	}

	v, err := s.vouchers.GetVoucherByCode(ctx, code)
	if err != nil {
		metrics.RecordRedemption(false)
		if errors.Is(err, storage.ErrNotFound) {
			return account.Account{}, domain.Redemption{}, ErrInvalidCode
		}
		return account.Account{}, domain.Redemption{}, err
	}
	if !v.Active {
		metrics.RecordRedemption(false)
		return account.Account{}, domain.Redemption{}, ErrInvalidCode
	}

	var (
		updated    account.Account
		redemption domain.Redemption
	)
	err = s.atomic.RunAtomic(ctx, func(tx storage.Tx) error {
		if _, exists, err := tx.GetRedemption(accountID, v.ID); err != nil {
			return err
		} else if exists {
			return ErrAlreadyRedeemed
		}

		concept := "Bono: " + v.Name
		acct, _, err := s.applier.ApplyIn(tx, sess, accountID, -v.Cost, concept, ledger.TypeVoucher, "")
		if err != nil {
			return err
		}
		updated = acct

		redemption = domain.Redemption{
			AccountID:   accountID,
			VoucherID:   v.ID,
			VoucherName: v.Name,
			Cost:        v.Cost,
		}
		return tx.PutRedemption(redemption)
	})
	metrics.RecordRedemption(err == nil)
	if err != nil {
		return account.Account{}, domain.Redemption{}, err
	}

	s.log.WithField("account_id", accountID).
		WithField("voucher_id", v.ID).
		WithField("cost", v.Cost).
		Info("voucher redeemed")
	return updated, redemption, nil
}

func validate(v *domain.Voucher) error {
	v.Name = strings.TrimSpace(v.Name)
	v.Code = strings.TrimSpace(v.Code)
	if v.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidVoucher)
	}
	if v.Code == "" {
		return fmt.Errorf("%w: code is required", ErrInvalidVoucher)
	}
	if v.Cost <= 0 {
		return fmt.Errorf("%w: cost must be positive", ErrInvalidVoucher)
	}
	return nil
}
