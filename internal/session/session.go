package session

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/benliew10/zuswhats/internal/catalog"
)

// Step identifies where a customer currently is in the purchase flow.
type Step string

const (
	StepIdle                     Step = "idle"
	StepAwaitingPaymentKeyword   Step = "awaiting_payment_keyword"
	StepAwaitingServiceSelection Step = "awaiting_service_selection"
	StepWaitingForPayment        Step = "waiting_for_payment"
	StepWaitingForCode           Step = "waiting_for_code"
)

// TaskHandle is an opaque cancellation handle for the active poll loop and
// deadline of one session. It is owned by the provisioning controller; no
// other component inspects it.
type TaskHandle struct {
	cancel context.CancelFunc
	once   sync.Once
}

// NewTaskHandle wraps a context cancel func into a handle.
func NewTaskHandle(cancel context.CancelFunc) *TaskHandle {
	return &TaskHandle{cancel: cancel}
}

// Cancel stops the associated poll loop and deadline. Safe to call more than
// once and on a nil handle.
func (h *TaskHandle) Cancel() {
	if h == nil {
		return
	}
	h.once.Do(h.cancel)
}

// Session is the conversation state for one customer.
type Session struct {
	Step            Step
	SelectedService *catalog.Service
	ActivationID    string
	Number          string
	NumberSentAt    time.Time
	Poller          *TaskHandle
}

type entry struct {
	mu sync.Mutex
	s  Session
}

// Store keyes sessions by customer identifier. Mutations for the same
// customer serialize on a per-entry lock so chat handling and provisioning
// callbacks never lose updates; unrelated customers do not block each other.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func NewStore() *Store {
	return &Store{entries: make(map[string]*entry)}
}

func (st *Store) entryFor(customerID string) *entry {
	st.mu.Lock()
	defer st.mu.Unlock()
	e, ok := st.entries[customerID]
	if !ok {
		e = &entry{s: Session{Step: StepIdle}}
		st.entries[customerID] = e
	}
	return e
}

// Get returns a copy of the customer's session, creating a fresh idle one on
// first access. It never fails.
func (st *Store) Get(customerID string) Session {
	e := st.entryFor(customerID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s
}

// Update applies fn to the stored session under the per-customer lock,
// creating the session first if absent.
func (st *Store) Update(customerID string, fn func(*Session)) {
	e := st.entryFor(customerID)
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.s)
}

// Reset replaces the session with a fresh idle one. Any outstanding poll
// handle is always cancelled before it is discarded so no orphaned timers
// survive the reset.
func (st *Store) Reset(customerID string) {
	st.Update(customerID, func(s *Session) {
		s.Poller.Cancel()
		*s = Session{Step: StepIdle}
	})
}

// Shutdown cancels every outstanding poll handle. Called on process exit so
// no timer fires against a torn-down transport.
func (st *Store) Shutdown() {
	st.mu.Lock()
	entries := make([]*entry, 0, len(st.entries))
	for _, e := range st.entries {
		entries = append(entries, e)
	}
	st.mu.Unlock()

	n := 0
	for _, e := range entries {
		e.mu.Lock()
		if e.s.Poller != nil {
			e.s.Poller.Cancel()
			e.s.Poller = nil
			n++
		}
		e.mu.Unlock()
	}
	if n > 0 {
		glog.Infof("cancelled %d active poll tasks on shutdown", n)
	}
}
