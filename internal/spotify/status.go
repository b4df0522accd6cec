package spotify

import (
	"sync"
	"time"
)

// Provider connectivity states. The reconciliation loop and the
// synchronous admin actions share this state per tenant, since both
// hit the same rate-limited API.
const (
	ConnConnected    = "connected"
	ConnDegraded     = "degraded"
	ConnDisconnected = "disconnected"
)

type connState struct {
	state     string
	failures  int
	retryAt   time.Time
	lastError string
}

// ConnTracker is the per-tenant provider connectivity state machine:
// connected → degraded (exponential backoff) → disconnected (fatal
// error; manual reset required).
type ConnTracker struct {
	mu      sync.Mutex
	tenants map[uint64]*connState

	baseBackoff time.Duration
	maxBackoff  time.Duration
	now         func() time.Time
}

// NewConnTracker builds a tracker with the given backoff bounds.
func NewConnTracker(base, max time.Duration) *ConnTracker {
	return &ConnTracker{
		tenants:     make(map[uint64]*connState),
		baseBackoff: base,
		maxBackoff:  max,
		now:         time.Now,
	}
}

func (t *ConnTracker) get(tenantID uint64) *connState {
	s, ok := t.tenants[tenantID]
	if !ok {
		s = &connState{state: ConnConnected}
		t.tenants[tenantID] = s
	}
	return s
}

// Allowed reports whether a provider call may proceed for the tenant
// right now. Disconnected tenants fail fast; degraded tenants wait
// out their backoff.
func (t *ConnTracker) Allowed(tenantID uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.get(tenantID)
	switch s.state {
	case ConnDisconnected:
		return false
	case ConnDegraded:
		return !t.now().Before(s.retryAt)
	default:
		return true
	}
}

// Success records a successful provider call, returning the tenant to
// connected and clearing backoff. A disconnected tenant stays
// disconnected until an explicit Reset.
func (t *ConnTracker) Success(tenantID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.get(tenantID)
	if s.state == ConnDisconnected {
		return
	}
	s.state = ConnConnected
	s.failures = 0
	s.retryAt = time.Time{}
	s.lastError = ""
}

// Failure records a failed provider call. Fatal errors (revoked
// authorization) transition straight to disconnected; transient ones
// enter or extend degraded with exponential backoff.
func (t *ConnTracker) Failure(tenantID uint64, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.get(tenantID)
	s.lastError = err.Error()
	if Fatal(err) {
		s.state = ConnDisconnected
		return
	}
	if s.state == ConnDisconnected {
		return
	}
	s.state = ConnDegraded
	backoff := t.baseBackoff << uint(s.failures)
	if backoff > t.maxBackoff || backoff <= 0 {
		backoff = t.maxBackoff
	}
	s.failures++
	s.retryAt = t.now().Add(backoff)
}

// State returns the tenant's connectivity state and last error for
// the admin status endpoint.
func (t *ConnTracker) State(tenantID uint64) (state string, lastError string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.get(tenantID)
	return s.state, s.lastError
}

// Reset clears backoff and disconnected state for a tenant. Intended
// for the operator after fixing credentials upstream.
func (t *ConnTracker) Reset(tenantID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tenants[tenantID] = &connState{state: ConnConnected}
}

// Forget drops tracker state entirely, used when a tenant
// disconnects their account.
func (t *ConnTracker) Forget(tenantID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tenants, tenantID)
}
