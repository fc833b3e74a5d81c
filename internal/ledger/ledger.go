// Package ledger parks amount-validated payment events until a matching
// customer claim appears. Together with the claims registry it implements a
// bidirectional rendezvous: whichever side arrives second triggers the match.
package ledger

import (
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/benliew10/zuswhats/internal/claims"
	"github.com/benliew10/zuswhats/internal/match"
)

// DefaultEventTTL bounds how long an unmatched payment event is retained.
// Deliberately longer than the claim TTL so a customer who types their name
// late can still be matched retroactively.
const DefaultEventTTL = 30 * time.Minute

// PaymentEvent is one observed incoming transfer that passed amount
// validation.
type PaymentEvent struct {
	PayerName     string
	Amount        string
	ObservedAt    time.Time
	SourceSubject string
}

// MatchResult is the outcome of RecordOrMatch.
type MatchResult struct {
	Matched    bool
	CustomerID string
	Claim      claims.Claim
}

// Ledger holds unmatched payment events in arrival order.
type Ledger struct {
	mu     sync.Mutex
	claims *claims.Registry
	ttl    time.Duration
	events []PaymentEvent
}

func New(registry *claims.Registry, eventTTL time.Duration) *Ledger {
	if eventTTL <= 0 {
		eventTTL = DefaultEventTTL
	}
	return &Ledger{claims: registry, ttl: eventTTL}
}

// RecordOrMatch first asks the claims registry whether a pending claim
// matches this payer name. On a hit the event is consumed immediately and
// never stored; otherwise it is appended to the ledger to wait for a later
// claim.
func (l *Ledger) RecordOrMatch(payerName, amount, sourceSubject string) MatchResult {
	if customerID, claim, ok := l.claims.FindAndRemove(payerName); ok {
		glog.Infof("payment from %q matched pending claim for %s", payerName, customerID)
		return MatchResult{Matched: true, CustomerID: customerID, Claim: claim}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(time.Now())
	l.events = append(l.events, PaymentEvent{
		PayerName:     payerName,
		Amount:        amount,
		ObservedAt:    time.Now(),
		SourceSubject: sourceSubject,
	})
	glog.Infof("no pending claim for payer %q, parked payment (%d unmatched)", payerName, len(l.events))
	return MatchResult{}
}

// FindAndRemove scans parked events earliest-first for a payer name matching
// the customer-entered name and consumes the first hit. A consumed event can
// never satisfy a second purchase.
func (l *Ledger) FindAndRemove(enteredName string) (PaymentEvent, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(time.Now())

	for i, ev := range l.events {
		if match.Names(enteredName, ev.PayerName) {
			l.events = append(l.events[:i], l.events[i+1:]...)
			return ev, true
		}
	}
	return PaymentEvent{}, false
}

// Len returns the number of unmatched events.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

func (l *Ledger) pruneLocked(now time.Time) {
	cutoff := now.Add(-l.ttl)
	kept := l.events[:0]
	dropped := 0
	for _, ev := range l.events {
		if ev.ObservedAt.Before(cutoff) {
			dropped++
			continue
		}
		kept = append(kept, ev)
	}
	l.events = kept
	if dropped > 0 {
		glog.Warningf("pruned %d unmatched payment events older than %s", dropped, l.ttl)
	}
}
