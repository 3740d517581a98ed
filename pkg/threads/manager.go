package threads

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

// State tracks where a thread handle is in its lifecycle.
type State int

const (
	StateUninitialized State = iota
	StateCreating
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateCreating:
		return "creating"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// CreatedVia records which writer won the thread id: an explicit create call
// or an id reported by the first event of a stream.
type CreatedVia string

const (
	CreatedExplicit       CreatedVia = "explicit"
	CreatedStreamReported CreatedVia = "stream-reported"
)

// Handle is the single source of truth for the active thread id. Once State
// is StateReady the ID is immutable until an explicit reset (new thread,
// switch thread, delete thread); it is never changed by a race.
type Handle struct {
	ID         string
	State      State
	CreatedVia CreatedVia
}

// Service is the slice of the transport the manager needs.
type Service interface {
	CreateThread(ctx context.Context, metadata map[string]interface{}) (string, error)
	DeleteThread(ctx context.Context, id string) error
}

var (
	ErrNoActiveThread = errors.New("no active thread and auto-create is disabled")
	ErrManagerNil     = errors.New("thread manager is nil")
)

// Manager arbitrates between the two asynchronous writers of the thread id:
// explicit creation and stream-reported ids. The tie-break is a strict
// precedence rule, not a lock: an explicitly created or selected thread
// always wins over an id reported by an in-flight stream.
type Manager struct {
	mu     sync.Mutex
	handle Handle

	svc        Service
	autoCreate bool
	metadata   map[string]interface{}

	inflight    chan struct{}
	inflightErr error
}

type ManagerOption func(*Manager)

// WithAutoCreate controls whether Ensure creates a thread on demand and
// whether deleting the active thread immediately recreates one.
func WithAutoCreate(enabled bool) ManagerOption {
	return func(m *Manager) {
		m.autoCreate = enabled
	}
}

// WithCreateMetadata sets metadata passed along on thread creation.
func WithCreateMetadata(metadata map[string]interface{}) ManagerOption {
	return func(m *Manager) {
		m.metadata = metadata
	}
}

func NewManager(svc Service, options ...ManagerOption) *Manager {
	ret := &Manager{
		svc:        svc,
		autoCreate: true,
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// Handle returns a copy of the current handle.
func (m *Manager) Handle() Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handle
}

// Ensure resolves the active thread id, creating a thread if none exists yet.
// Concurrent callers share a single creation round trip; a second create is
// never started while one is in flight.
func (m *Manager) Ensure(ctx context.Context) (string, error) {
	if m == nil {
		return "", ErrManagerNil
	}
	return m.ensure(ctx, false)
}

// CreateNew discards the current handle and explicitly creates a fresh
// thread, regardless of the auto-create setting.
func (m *Manager) CreateNew(ctx context.Context) (string, error) {
	if m == nil {
		return "", ErrManagerNil
	}
	m.Reset()
	return m.ensure(ctx, true)
}

func (m *Manager) ensure(ctx context.Context, force bool) (string, error) {
	m.mu.Lock()

	switch m.handle.State {
	case StateReady:
		id := m.handle.ID
		m.mu.Unlock()
		return id, nil

	case StateCreating:
		ch := m.inflight
		m.mu.Unlock()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ch:
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.handle.State == StateReady {
			return m.handle.ID, nil
		}
		return "", m.inflightErr

	case StateUninitialized:
		if !m.autoCreate && !force {
			m.mu.Unlock()
			return "", ErrNoActiveThread
		}
	}

	m.handle = Handle{State: StateCreating}
	ch := make(chan struct{})
	m.inflight = ch
	m.inflightErr = nil
	m.mu.Unlock()

	id, err := m.svc.CreateThread(ctx, m.metadata)

	m.mu.Lock()
	defer m.mu.Unlock()
	defer close(ch)

	if m.handle.State != StateCreating {
		// The user switched or reset while the create round trip was in
		// flight; their selection wins and the created id is dropped.
		log.Warn().Str("created_id", id).Str("active_id", m.handle.ID).
			Msg("discarding created thread id after concurrent reset")
		if m.handle.State == StateReady {
			return m.handle.ID, nil
		}
		return "", err
	}

	if err != nil {
		m.handle = Handle{State: StateUninitialized}
		m.inflightErr = err
		return "", err
	}

	m.handle = Handle{ID: id, State: StateReady, CreatedVia: CreatedExplicit}
	log.Debug().Str("thread_id", id).Msg("thread created")
	return id, nil
}

// AcceptReportedID offers a thread id learned from the first event of a
// stream. It is honored only while the handle is still uninitialized; if a
// thread has already been created or selected, the reported id is logged and
// discarded so that a user-initiated switch is never silently overridden by
// a stale stream.
func (m *Manager) AcceptReportedID(id string) bool {
	if m == nil || id == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handle.State != StateUninitialized {
		if m.handle.ID != id {
			log.Info().Str("reported_id", id).Str("active_id", m.handle.ID).
				Str("state", m.handle.State.String()).
				Msg("discarding stream-reported thread id")
		}
		return false
	}

	m.handle = Handle{ID: id, State: StateReady, CreatedVia: CreatedStreamReported}
	log.Debug().Str("thread_id", id).Msg("adopted stream-reported thread id")
	return true
}

// SwitchTo makes an existing thread the active one.
func (m *Manager) SwitchTo(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handle = Handle{ID: id, State: StateReady, CreatedVia: CreatedExplicit}
}

// Reset forces the handle back to uninitialized. Only explicit user actions
// (new thread, switch thread, delete thread) go through here.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handle = Handle{State: StateUninitialized}
}

// Delete removes a thread. Deleting the active thread resets the handle and,
// when auto-create is enabled, immediately creates a replacement so the
// session is never left without a thread. With auto-create disabled the
// handle stays uninitialized and Ensure surfaces ErrNoActiveThread.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.svc.DeleteThread(ctx, id); err != nil {
		return err
	}

	m.mu.Lock()
	active := m.handle.State == StateReady && m.handle.ID == id
	autoCreate := m.autoCreate
	m.mu.Unlock()

	if !active {
		return nil
	}

	m.Reset()
	if autoCreate {
		_, err := m.ensure(ctx, true)
		return err
	}
	return nil
}
