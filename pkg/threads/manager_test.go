package threads

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeService is a scriptable thread service. CreateThread blocks until
// release is closed when gate is set, which lets tests hold a creation
// round trip open while poking at the manager.
type fakeService struct {
	mu      sync.Mutex
	created []string
	deleted []string

	nextID    string
	createErr error
	gate      chan struct{}

	createCalls int32
}

func newFakeService(nextID string) *fakeService {
	return &fakeService{nextID: nextID}
}

func (s *fakeService) CreateThread(ctx context.Context, _ map[string]interface{}) (string, error) {
	atomic.AddInt32(&s.createCalls, 1)
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if s.createErr != nil {
		return "", s.createErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, s.nextID)
	return s.nextID, nil
}

func (s *fakeService) DeleteThread(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, id)
	return nil
}

func TestEnsureCreatesOnce(t *testing.T) {
	svc := newFakeService("th-1")
	m := NewManager(svc)

	id, err := m.Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "th-1", id)

	id, err = m.Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "th-1", id)
	assert.Equal(t, int32(1), atomic.LoadInt32(&svc.createCalls))

	h := m.Handle()
	assert.Equal(t, StateReady, h.State)
	assert.Equal(t, CreatedExplicit, h.CreatedVia)
}

func TestEnsureSharesInFlightCreate(t *testing.T) {
	svc := newFakeService("th-1")
	svc.gate = make(chan struct{})
	m := NewManager(svc)

	results := make(chan string, 2)
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			id, err := m.Ensure(context.Background())
			errs <- err
			results <- id
		}()
	}

	// let both goroutines reach the manager before releasing the create
	time.Sleep(50 * time.Millisecond)
	close(svc.gate)

	require.NoError(t, <-errs)
	require.NoError(t, <-errs)
	assert.Equal(t, "th-1", <-results)
	assert.Equal(t, "th-1", <-results)
	assert.Equal(t, int32(1), atomic.LoadInt32(&svc.createCalls))
}

func TestExplicitCreationWinsOverReportedID(t *testing.T) {
	svc := newFakeService("Y")
	svc.gate = make(chan struct{})
	m := NewManager(svc)

	done := make(chan struct{})
	var id string
	var err error
	go func() {
		defer close(done)
		id, err = m.Ensure(context.Background())
	}()

	// the stream reports an id while the explicit create is still in flight
	time.Sleep(50 * time.Millisecond)
	accepted := m.AcceptReportedID("X")
	assert.False(t, accepted)

	close(svc.gate)
	<-done

	require.NoError(t, err)
	assert.Equal(t, "Y", id)

	h := m.Handle()
	assert.Equal(t, "Y", h.ID)
	assert.Equal(t, CreatedExplicit, h.CreatedVia)
}

func TestAcceptReportedIDWhenUninitialized(t *testing.T) {
	m := NewManager(newFakeService("unused"))

	accepted := m.AcceptReportedID("th-stream")
	assert.True(t, accepted)

	h := m.Handle()
	assert.Equal(t, "th-stream", h.ID)
	assert.Equal(t, StateReady, h.State)
	assert.Equal(t, CreatedStreamReported, h.CreatedVia)
}

func TestAcceptReportedIDNeverOverridesSelection(t *testing.T) {
	m := NewManager(newFakeService("unused"))
	m.SwitchTo("th-chosen")

	accepted := m.AcceptReportedID("th-stale")
	assert.False(t, accepted)
	assert.Equal(t, "th-chosen", m.Handle().ID)
}

func TestEnsureFailureResetsState(t *testing.T) {
	svc := newFakeService("unused")
	svc.createErr = errors.New("boom")
	m := NewManager(svc)

	_, err := m.Ensure(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateUninitialized, m.Handle().State)

	// a later ensure tries again
	svc.createErr = nil
	svc.nextID = "th-2"
	id, err := m.Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "th-2", id)
}

func TestEnsureWithoutAutoCreate(t *testing.T) {
	m := NewManager(newFakeService("unused"), WithAutoCreate(false))

	_, err := m.Ensure(context.Background())
	assert.ErrorIs(t, err, ErrNoActiveThread)
}

func TestCreateNewIgnoresAutoCreate(t *testing.T) {
	svc := newFakeService("th-new")
	m := NewManager(svc, WithAutoCreate(false))

	id, err := m.CreateNew(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "th-new", id)
}

func TestDeleteActiveThreadRecreates(t *testing.T) {
	svc := newFakeService("th-1")
	m := NewManager(svc)

	id, err := m.Ensure(context.Background())
	require.NoError(t, err)

	svc.nextID = "th-2"
	require.NoError(t, m.Delete(context.Background(), id))

	h := m.Handle()
	assert.Equal(t, "th-2", h.ID)
	assert.Equal(t, StateReady, h.State)
	assert.Equal(t, []string{"th-1"}, svc.deleted)
}

func TestDeleteActiveThreadWithoutAutoCreate(t *testing.T) {
	svc := newFakeService("th-1")
	m := NewManager(svc)

	id, err := m.Ensure(context.Background())
	require.NoError(t, err)

	m2 := NewManager(svc, WithAutoCreate(false))
	m2.SwitchTo(id)
	require.NoError(t, m2.Delete(context.Background(), id))

	assert.Equal(t, StateUninitialized, m2.Handle().State)
	_, err = m2.Ensure(context.Background())
	assert.ErrorIs(t, err, ErrNoActiveThread)
}

func TestDeleteInactiveThreadKeepsHandle(t *testing.T) {
	svc := newFakeService("th-1")
	m := NewManager(svc)

	_, err := m.Ensure(context.Background())
	require.NoError(t, err)

	require.NoError(t, m.Delete(context.Background(), "th-other"))
	assert.Equal(t, "th-1", m.Handle().ID)
}

func TestSwitchDuringCreateWins(t *testing.T) {
	svc := newFakeService("th-created")
	svc.gate = make(chan struct{})
	m := NewManager(svc)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.Ensure(context.Background())
	}()

	time.Sleep(50 * time.Millisecond)
	m.SwitchTo("th-switched")
	close(svc.gate)
	<-done

	assert.Equal(t, "th-switched", m.Handle().ID)
}
