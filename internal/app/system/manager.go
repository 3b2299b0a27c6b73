package system

import (
	"context"
	"fmt"
	"sync"

	"github.com/Atelier-Network/pinceladas_ledger/pkg/logger"
)

// Manager starts registered services in registration order and stops them in
// reverse. A failed start triggers a rollback of the already-started ones.
type Manager struct {
	log *logger.Logger

	mu       sync.Mutex
	services []Service
	names    map[string]struct{}
	started  []Service
	running  bool
}

// NewManager constructs an empty lifecycle manager.
func NewManager() *Manager {
	return &Manager{
		log:   logger.NewDefault("system"),
		names: make(map[string]struct{}),
	}
}

// Register adds a service to the managed set. Registration order defines
// start order. Names must be unique and registration must happen before
// Start.
func (m *Manager) Register(svc Service) error {
	if svc == nil {
		return fmt.Errorf("nil service")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("register %s: manager already started", svc.Name())
	}
	if _, dup := m.names[svc.Name()]; dup {
		return fmt.Errorf("register %s: duplicate service name", svc.Name())
	}
	m.names[svc.Name()] = struct{}{}
	m.services = append(m.services, svc)
	return nil
}

// Start brings up every registered service. On failure, services already
// started are stopped in reverse order before the error is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}

	for _, svc := range m.services {
		if err := svc.Start(ctx); err != nil {
			m.log.WithError(err).Errorf("service %s failed to start", svc.Name())
			m.stopLocked(ctx)
			return fmt.Errorf("start %s: %w", svc.Name(), err)
		}
		m.started = append(m.started, svc)
		m.log.Infof("service %s started", svc.Name())
	}
	m.running = true
	return nil
}

// Stop shuts down started services in reverse order. Errors are logged and
// the first one is returned after all services have been asked to stop.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.stopLocked(ctx)
	m.running = false
	return err
}

func (m *Manager) stopLocked(ctx context.Context) error {
	var firstErr error
	for i := len(m.started) - 1; i >= 0; i-- {
		svc := m.started[i]
		if err := svc.Stop(ctx); err != nil {
			m.log.WithError(err).Errorf("service %s failed to stop", svc.Name())
			if firstErr == nil {
				firstErr = fmt.Errorf("stop %s: %w", svc.Name(), err)
			}
			continue
		}
		m.log.Infof("service %s stopped", svc.Name())
	}
	m.started = nil
	return firstErr
}
