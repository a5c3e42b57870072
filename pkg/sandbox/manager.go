package sandbox

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/openskills/openskills/pkg/logger"
	"github.com/openskills/openskills/pkg/skills"
)

// Strategy controls how executors are reused across script executions.
type Strategy string

const (
	// PerExecution creates a fresh sandbox for every call. Safest, slowest.
	PerExecution Strategy = "per_execution"
	// PerSkill caches one executor per skill name in a bounded LRU; the
	// least recently used entry is evicted and torn down when full.
	PerSkill Strategy = "per_skill"
	// Persistent shares a single executor for the whole process lifetime,
	// tracking which skills already had their dependencies installed.
	Persistent Strategy = "persistent"
)

// DefaultCacheSize bounds the PerSkill LRU.
const DefaultCacheSize = 10

// ErrNotAcquired is returned when the manager is used outside an
// Acquire/Release scope. This is a programming error, not a recoverable
// condition.
var ErrNotAcquired = errors.New("sandbox manager used outside Acquire/Release scope")

// ExecutorFactory creates and initializes a fresh executor.
type ExecutorFactory func(ctx context.Context) (*Executor, error)

// Manager pools sandbox executors under a reuse strategy. All access to the
// pool is serialized: LRU eviction plus teardown happens as one atomic unit
// under the lock, so concurrent callers never observe a partially evicted
// entry.
type Manager struct {
	factory   ExecutorFactory
	strategy  Strategy
	cacheSize int

	mu        sync.Mutex
	order     []string // LRU order, oldest first
	cache     map[string]*Executor
	shared    *Executor
	installed map[string]bool
	active    bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithStrategy selects the reuse strategy. Default: PerSkill.
func WithStrategy(s Strategy) ManagerOption {
	return func(m *Manager) { m.strategy = s }
}

// WithCacheSize bounds the PerSkill cache.
func WithCacheSize(n int) ManagerOption {
	return func(m *Manager) { m.cacheSize = n }
}

// WithExecutorFactory overrides executor construction (used in tests).
func WithExecutorFactory(f ExecutorFactory) ManagerOption {
	return func(m *Manager) { m.factory = f }
}

// NewManager creates a pool backed by the given sandbox endpoint.
func NewManager(baseURL string, events Events, opts ...ManagerOption) *Manager {
	m := &Manager{
		strategy:  PerSkill,
		cacheSize: DefaultCacheSize,
		cache:     make(map[string]*Executor),
		installed: make(map[string]bool),
	}
	m.factory = func(ctx context.Context) (*Executor, error) {
		exec := NewExecutor(NewClient(baseURL), WithEvents(events))
		if err := exec.Init(ctx); err != nil {
			return nil, err
		}
		return exec, nil
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire opens the pooling scope. Every Acquire must be paired with a
// Release.
func (m *Manager) Acquire() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = true
}

// Release tears down all pooled executors and closes the scope.
func (m *Manager) Release(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, name := range m.order {
		if exec := m.cache[name]; exec != nil {
			exec.Close(ctx)
		}
	}
	m.order = nil
	m.cache = make(map[string]*Executor)

	if m.shared != nil {
		m.shared.Close(ctx)
		m.shared = nil
	}
	m.installed = make(map[string]bool)
	m.active = false
}

// GetExecutor hands out an executor for the skill according to the
// strategy, provisioning the skill's dependencies exactly once per pooled
// session.
func (m *Manager) GetExecutor(ctx context.Context, skillName string, dep *skills.Dependency) (*Executor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active {
		return nil, ErrNotAcquired
	}

	switch m.strategy {
	case PerExecution:
		return m.create(ctx, dep)

	case Persistent:
		if m.shared == nil {
			exec, err := m.create(ctx, dep)
			if err != nil {
				return nil, err
			}
			m.shared = exec
			if dep != nil && dep.HasDependencies() {
				m.installed[skillName] = true
			}
			return m.shared, nil
		}
		if dep != nil && dep.HasDependencies() && !m.installed[skillName] {
			if err := m.shared.SetupEnvironment(ctx, *dep); err != nil {
				return nil, err
			}
			m.installed[skillName] = true
		}
		return m.shared, nil

	default: // PerSkill
		if exec, ok := m.cache[skillName]; ok {
			m.touch(skillName)
			return exec, nil
		}

		exec, err := m.create(ctx, dep)
		if err != nil {
			return nil, err
		}
		m.cache[skillName] = exec
		m.order = append(m.order, skillName)

		for len(m.order) > m.cacheSize {
			oldest := m.order[0]
			m.order = m.order[1:]
			if evicted := m.cache[oldest]; evicted != nil {
				evicted.Close(ctx)
			}
			delete(m.cache, oldest)
			logger.G(ctx).WithField("skill", oldest).Debug("evicted sandbox executor")
		}

		return exec, nil
	}
}

// create builds and provisions a new executor. Callers hold the lock.
func (m *Manager) create(ctx context.Context, dep *skills.Dependency) (*Executor, error) {
	exec, err := m.factory(ctx)
	if err != nil {
		return nil, err
	}

	if dep != nil && dep.HasDependencies() {
		if err := exec.SetupEnvironment(ctx, *dep); err != nil {
			exec.Close(ctx)
			return nil, err
		}
	} else {
		exec.MarkReady()
	}

	return exec, nil
}

// touch moves the skill to the most-recently-used position.
func (m *Manager) touch(skillName string) {
	for i, name := range m.order {
		if name == skillName {
			m.order = append(append(m.order[:i:i], m.order[i+1:]...), skillName)
			return
		}
	}
}

// Warmup eagerly creates the default executor so provisioning output
// surfaces during startup rather than mid-conversation.
func (m *Manager) Warmup(ctx context.Context) error {
	_, err := m.GetExecutor(ctx, "_default", nil)
	return err
}

// HealthCheck probes the sandbox via a short-lived executor.
func (m *Manager) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exec, err := m.factory(ctx)
	if err != nil {
		return false
	}
	defer exec.Close(ctx)
	return exec.Client().HealthCheck(ctx)
}

// CacheInfo is a point-in-time view of the pool for introspection.
type CacheInfo struct {
	Strategy     Strategy
	CacheSize    int
	CachedSkills []string
	HasShared    bool
}

// Info returns the current pool state.
func (m *Manager) Info() CacheInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return CacheInfo{
		Strategy:     m.strategy,
		CacheSize:    m.cacheSize,
		CachedSkills: append([]string{}, m.order...),
		HasShared:    m.shared != nil,
	}
}
