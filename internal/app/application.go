package app

import (
	"context"
	"fmt"
	"time"

	"github.com/Atelier-Network/pinceladas_ledger/internal/app/services/accounts"
	ledgersvc "github.com/Atelier-Network/pinceladas_ledger/internal/app/services/ledger"
	storefrontsvc "github.com/Atelier-Network/pinceladas_ledger/internal/app/services/storefront"
	transfersvc "github.com/Atelier-Network/pinceladas_ledger/internal/app/services/transfer"
	vouchersvc "github.com/Atelier-Network/pinceladas_ledger/internal/app/services/voucher"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/storage"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/storage/memory"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/system"
	"github.com/Atelier-Network/pinceladas_ledger/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Accounts storage.AccountStore
	Ledger   storage.LedgerStore
	Vouchers storage.VoucherStore
	Catalog  storage.CatalogStore
	Atomic   storage.AtomicStore
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Accounts   *accounts.Service
	Ledger     *ledgersvc.Service
	Transfers  *transfersvc.Service
	Vouchers   *vouchersvc.Service
	Storefront *storefrontsvc.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Accounts == nil {
		stores.Accounts = mem
	}
	if stores.Ledger == nil {
		stores.Ledger = mem
	}
	if stores.Vouchers == nil {
		stores.Vouchers = mem
	}
	if stores.Catalog == nil {
		stores.Catalog = mem
	}
	if stores.Atomic == nil {
		stores.Atomic = mem
	}

	manager := system.NewManager()

	acctService := accounts.New(stores.Accounts, log)
	executor := ledgersvc.New(stores.Accounts, stores.Atomic, stores.Ledger, log)
	transferService := transfersvc.New(executor, stores.Accounts, log)
	voucherService := vouchersvc.New(stores.Vouchers, stores.Atomic, executor, log)
	storeService := storefrontsvc.New(stores.Catalog, stores.Atomic, executor, log)

	for _, name := range []string{"accounts", "ledger", "transfer", "voucher", "storefront"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}

	poller := ledgersvc.NewBalancePoller(stores.Accounts, 30*time.Second, log)
	if err := manager.Register(poller); err != nil {
		return nil, fmt.Errorf("register %s: %w", poller.Name(), err)
	}

	return &Application{
		manager:    manager,
		log:        log,
		Accounts:   acctService,
		Ledger:     executor,
		Transfers:  transferService,
		Vouchers:   voucherService,
		Storefront: storeService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
