// Package claims parks customer-entered payer names until a matching bank
// payment event arrives or the claim expires.
package claims

import (
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/benliew10/zuswhats/internal/catalog"
	"github.com/benliew10/zuswhats/internal/match"
)

// DefaultTTL is how long an unmatched claim stays alive.
const DefaultTTL = 5 * time.Minute

// Claim is one customer's self-reported payer name with the service snapshot
// taken at claim time.
type Claim struct {
	EnteredName string
	Service     catalog.Service
	CreatedAt   time.Time
}

type claimEntry struct {
	claim Claim
	timer *time.Timer
}

// Registry holds at most one live claim per customer. Claims self-expire
// after the TTL unless matched first.
type Registry struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]*claimEntry
	order   []string // customer ids in insertion order, earliest first
}

func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		ttl:     ttl,
		entries: make(map[string]*claimEntry),
	}
}

// Record stores a claim for the customer, superseding any prior claim and
// rescheduling its expiry.
func (r *Registry) Record(customerID, name string, service catalog.Service) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.entries[customerID]; ok {
		old.timer.Stop()
		r.dropOrderLocked(customerID)
	}

	r.entries[customerID] = &claimEntry{
		claim: Claim{EnteredName: name, Service: service, CreatedAt: time.Now()},
		timer: time.AfterFunc(r.ttl, func() { r.expire(customerID) }),
	}
	r.order = append(r.order, customerID)
}

func (r *Registry) expire(customerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[customerID]; !ok {
		return
	}
	delete(r.entries, customerID)
	r.dropOrderLocked(customerID)
	glog.Infof("pending claim for %s expired after %s without a payment", customerID, r.ttl)
}

// FindAndRemove scans live claims in insertion order for one whose entered
// name matches the payer name and removes it atomically, so a claim can
// never consume two payments. Earliest claim wins when names collide.
func (r *Registry) FindAndRemove(payerName string) (string, Claim, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, customerID := range r.order {
		e, ok := r.entries[customerID]
		if !ok {
			continue
		}
		if match.Names(e.claim.EnteredName, payerName) {
			e.timer.Stop()
			delete(r.entries, customerID)
			r.dropOrderLocked(customerID)
			return customerID, e.claim, true
		}
	}
	return "", Claim{}, false
}

// Get returns the live claim for a customer, if any.
func (r *Registry) Get(customerID string) (Claim, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[customerID]
	if !ok {
		return Claim{}, false
	}
	return e.claim, true
}

// Len returns the number of live claims.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Stop cancels all expiry timers. Called on process shutdown.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		e.timer.Stop()
	}
	r.entries = make(map[string]*claimEntry)
	r.order = nil
}

func (r *Registry) dropOrderLocked(customerID string) {
	for i, id := range r.order {
		if id == customerID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}
