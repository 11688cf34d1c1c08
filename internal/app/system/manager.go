package system

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Manager starts registered services in registration order and stops them in
// reverse order.
type Manager struct {
	mu       sync.Mutex
	services []Service
	names    map[string]struct{}
	started  []Service
}

// NewManager returns an empty manager.
func NewManager() *Manager {
	return &Manager{names: make(map[string]struct{})}
}

// Register adds a service. Names must be unique and registration must happen
// before Start.
func (m *Manager) Register(svc Service) error {
	if svc == nil {
		return errors.New("service is nil")
	}
	name := svc.Name()
	if name == "" {
		return errors.New("service name is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.started) > 0 {
		return fmt.Errorf("register %s: manager already started", name)
	}
	if _, exists := m.names[name]; exists {
		return fmt.Errorf("service %s already registered", name)
	}
	m.names[name] = struct{}{}
	m.services = append(m.services, svc)
	return nil
}

// Services returns the registered service names in start order.
func (m *Manager) Services() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.services))
	for _, svc := range m.services {
		out = append(out, svc.Name())
	}
	return out
}

// Descriptors describes the registered services in start order.
func (m *Manager) Descriptors() []Descriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Descriptor, 0, len(m.services))
	for _, svc := range m.services {
		out = append(out, describe(svc))
	}
	return out
}

// Start starts every service. If one fails, the ones already started are
// stopped again and the error is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.started) > 0 {
		return nil
	}
	for _, svc := range m.services {
		if err := svc.Start(ctx); err != nil {
			startErr := fmt.Errorf("start %s: %w", svc.Name(), err)
			if stopErr := m.stopLocked(ctx); stopErr != nil {
				return errors.Join(startErr, stopErr)
			}
			return startErr
		}
		m.started = append(m.started, svc)
	}
	return nil
}

// Stop stops started services in reverse order and joins their errors.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked(ctx)
}

func (m *Manager) stopLocked(ctx context.Context) error {
	var errs []error
	for i := len(m.started) - 1; i >= 0; i-- {
		svc := m.started[i]
		if err := svc.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", svc.Name(), err))
		}
	}
	m.started = nil
	return errors.Join(errs...)
}

// NoopService satisfies Service for components without background work so
// they still show up in the service listing.
type NoopService struct {
	ServiceName string
}

func (n NoopService) Name() string                    { return n.ServiceName }
func (n NoopService) Start(ctx context.Context) error { return nil }
func (n NoopService) Stop(ctx context.Context) error  { return nil }
