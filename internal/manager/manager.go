// Package manager implements the process-wide ServiceManager directory
// (spec §4.H): create/lookup/stop services by id or name, and cross-service
// message posting.
package manager

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/webitel/corehub/internal/corerr"
	"github.com/webitel/corehub/internal/queue"
	"github.com/webitel/corehub/internal/service"
)

// Manager is a sync.RWMutex-protected directory of running services.
type Manager struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]*service.Service
	byName map[string]*service.Service

	breakersMu sync.Mutex
	breakers   map[uuid.UUID]*gobreaker.CircuitBreaker
}

func New() *Manager {
	return &Manager{
		byID:     make(map[uuid.UUID]*service.Service),
		byName:   make(map[string]*service.Service),
		breakers: make(map[uuid.UUID]*gobreaker.CircuitBreaker),
	}
}

// Create registers svc (already constructed via service.New) under its id
// and configured name, and starts it. A duplicate name is rejected with
// KindRepeat.
func (m *Manager) Create(svc *service.Service) error {
	m.mu.Lock()
	if _, exists := m.byName[svc.Config.Name]; exists {
		m.mu.Unlock()
		return corerr.New(corerr.KindRepeat, "service name already registered: "+svc.Config.Name)
	}
	m.byID[svc.ID] = svc
	m.byName[svc.Config.Name] = svc
	m.mu.Unlock()

	return svc.Start()
}

func (m *Manager) GetByID(id uuid.UUID) (*service.Service, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byID[id]
	return s, ok
}

func (m *Manager) GetByName(name string) (*service.Service, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byName[name]
	return s, ok
}

// Snapshot returns every currently-registered service, in no particular
// order. Used by read-only surfaces (internal/admin) that need to list
// everything without holding the Manager's lock while they render it.
func (m *Manager) Snapshot() []*service.Service {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*service.Service, 0, len(m.byID))
	for _, s := range m.byID {
		out = append(out, s)
	}
	return out
}

func (m *Manager) remove(svc *service.Service) {
	m.mu.Lock()
	delete(m.byID, svc.ID)
	delete(m.byName, svc.Config.Name)
	m.mu.Unlock()
}

// StopByID stops and deregisters one service, blocking until its OnStop
// has returned (spec §4.H: "the manager guarantees that a service's OnStop
// has returned before Stop* completes").
func (m *Manager) StopByID(id uuid.UUID) error {
	svc, ok := m.GetByID(id)
	if !ok {
		return corerr.New(corerr.KindNotFound, "no such service id")
	}
	err := svc.Stop()
	m.remove(svc)
	return err
}

func (m *Manager) StopByName(name string) error {
	svc, ok := m.GetByName(name)
	if !ok {
		return corerr.New(corerr.KindNotFound, "no such service name")
	}
	err := svc.Stop()
	m.remove(svc)
	return err
}

// StopAll fans out one goroutine per service via golang.org/x/sync/errgroup
// [ADDED] — each service's own Stop remains internally single-threaded —
// and aggregates any failures with github.com/hashicorp/go-multierror
// [ADDED].
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.RLock()
	services := make([]*service.Service, 0, len(m.byID))
	for _, s := range m.byID {
		services = append(services, s)
	}
	m.mu.RUnlock()

	g, _ := errgroup.WithContext(ctx)
	var mu sync.Mutex
	var merr *multierror.Error

	for _, svc := range services {
		svc := svc
		g.Go(func() error {
			err := svc.Stop()
			m.remove(svc)
			if err != nil {
				mu.Lock()
				merr = multierror.Append(merr, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if merr != nil {
		return merr.ErrorOrNil()
	}
	return nil
}

func (m *Manager) breakerFor(id uuid.UUID) *gobreaker.CircuitBreaker {
	m.breakersMu.Lock()
	defer m.breakersMu.Unlock()
	if b, ok := m.breakers[id]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{Name: "post-message:" + id.String()})
	m.breakers[id] = b
	return b
}

// PostMessage is a thin wrapper over the target service's MQ.Push (spec
// §4.H), wrapped in a sony/gobreaker.CircuitBreaker keyed by target service
// id [ADDED]: a tripped breaker fails fast with KindClosed instead of
// blocking the caller on a target whose queue keeps erroring out.
func (m *Manager) PostMessage(targetID uuid.UUID, env queue.Envelope) error {
	target, ok := m.GetByID(targetID)
	if !ok {
		return corerr.New(corerr.KindNotFound, "no such target service")
	}

	breaker := m.breakerFor(targetID)
	_, err := breaker.Execute(func() (interface{}, error) {
		return nil, target.MQ.Push(env)
	})
	if err != nil {
		return corerr.Wrap(corerr.KindClosed, "post message failed", err)
	}
	return nil
}
