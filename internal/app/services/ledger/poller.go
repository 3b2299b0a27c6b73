package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/Atelier-Network/pinceladas_ledger/internal/app/metrics"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/storage"
	"github.com/Atelier-Network/pinceladas_ledger/internal/app/system"
	"github.com/Atelier-Network/pinceladas_ledger/pkg/logger"
)

// BalancePoller periodically publishes the sum of all account balances as a
// gauge, so operators can watch total outstanding points.
type BalancePoller struct {
	accounts storage.AccountStore
	interval time.Duration
	log      *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

var _ system.Service = (*BalancePoller)(nil)

func NewBalancePoller(accounts storage.AccountStore, interval time.Duration, log *logger.Logger) *BalancePoller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if log == nil {
		log = logger.NewDefault("ledger-balance")
	}
	return &BalancePoller{
		accounts: accounts,
		interval: interval,
		log:      log,
	}
}

func (p *BalancePoller) Name() string { return "ledger-balance" }

func (p *BalancePoller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.tick(runCtx)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				p.tick(runCtx)
			}
		}
	}()

	p.log.Info("balance poller started")
	return nil
}

func (p *BalancePoller) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

func (p *BalancePoller) tick(ctx context.Context) {
	accounts, err := p.accounts.ListAccounts(ctx)
	if err != nil {
		p.log.WithError(err).Warn("list accounts failed")
		return
	}
	var total int64
	for _, acct := range accounts {
		total += acct.Balance
	}
	metrics.SetOutstandingBalance(total)
}
