// Package bot is the conversation driver: it interprets inbound chat
// messages against session state, records pending claims, and hands matched
// payments to the provisioning controller.
package bot

import (
	"fmt"
	"strings"
	"sync"

	"github.com/golang/glog"

	"github.com/benliew10/zuswhats/internal/catalog"
	"github.com/benliew10/zuswhats/internal/claims"
	"github.com/benliew10/zuswhats/internal/event"
	"github.com/benliew10/zuswhats/internal/ledger"
	"github.com/benliew10/zuswhats/internal/session"
)

// dedupWindow bounds the set of recently seen message IDs kept to absorb
// transport-level redelivery.
const dedupWindow = 1000

// Provisioner runs the number acquisition sub-flow.
type Provisioner interface {
	Start(customerID string, svc catalog.Service)
	RequestReplacement(customerID string)
}

// Notifier sends outbound chat messages.
type Notifier interface {
	SendText(customerID, text string) error
}

// Driver is the purchase-flow state machine.
type Driver struct {
	sessions    *session.Store
	claims      *claims.Registry
	ledger      *ledger.Ledger
	provisioner Provisioner
	transport   Notifier
	catalog     *catalog.Catalog
	events      *event.Sender

	expectedAmount string
	bankAccount    string

	dedupMu    sync.Mutex
	dedupSeen  map[string]struct{}
	dedupOrder []string
}

func NewDriver(sessions *session.Store, registry *claims.Registry, l *ledger.Ledger,
	provisioner Provisioner, transport Notifier, cat *catalog.Catalog,
	expectedAmount, bankAccount string) *Driver {
	return &Driver{
		sessions:       sessions,
		claims:         registry,
		ledger:         l,
		provisioner:    provisioner,
		transport:      transport,
		catalog:        cat,
		expectedAmount: expectedAmount,
		bankAccount:    bankAccount,
		dedupSeen:      make(map[string]struct{}),
	}
}

// WithEvents attaches an optional order event sender.
func (d *Driver) WithEvents(s *event.Sender) *Driver {
	d.events = s
	return d
}

// OnChatMessage is the single entry point for inbound chat messages. Safe to
// call repeatedly with transport retries; exact messageID repeats are
// discarded before any state dispatch.
func (d *Driver) OnChatMessage(customerID, messageID, text string) {
	if d.alreadySeen(messageID) {
		glog.Infof("skipping duplicate message %s", messageID)
		return
	}
	d.dispatch(customerID, text, false)
}

func (d *Driver) alreadySeen(messageID string) bool {
	if messageID == "" {
		return false
	}
	d.dedupMu.Lock()
	defer d.dedupMu.Unlock()
	if _, ok := d.dedupSeen[messageID]; ok {
		return true
	}
	d.dedupSeen[messageID] = struct{}{}
	d.dedupOrder = append(d.dedupOrder, messageID)
	if len(d.dedupOrder) > dedupWindow {
		oldest := d.dedupOrder[0]
		d.dedupOrder = d.dedupOrder[1:]
		delete(d.dedupSeen, oldest)
	}
	return false
}

func (d *Driver) dispatch(customerID, text string, redispatched bool) {
	s := d.sessions.Get(customerID)
	upper := strings.ToUpper(strings.TrimSpace(text))

	glog.Infof("message from %s in step %s", customerID, s.Step)

	switch s.Step {
	case session.StepIdle, session.StepAwaitingPaymentKeyword:
		d.handleIdle(customerID, upper)
	case session.StepAwaitingServiceSelection:
		d.handleServiceSelection(customerID, text, upper)
	case session.StepWaitingForPayment:
		d.handleNameEntry(customerID, strings.TrimSpace(text), s)
	case session.StepWaitingForCode:
		d.handleWaitingForCode(customerID, upper)
	default:
		// Unrecognized step: recover by resetting and re-dispatching once.
		glog.Warningf("unrecognized step %q for %s, resetting", s.Step, customerID)
		d.sessions.Reset(customerID)
		if !redispatched {
			d.dispatch(customerID, text, true)
		}
	}
}

func (d *Driver) handleIdle(customerID, upper string) {
	if strings.Contains(upper, "PAYMENT") {
		d.send(customerID, d.catalog.Menu())
		d.sessions.Update(customerID, func(s *session.Session) {
			s.Step = session.StepAwaitingServiceSelection
		})
		return
	}
	d.send(customerID, `Please reply "PAYMENT" to start the process.`)
}

func (d *Driver) handleServiceSelection(customerID, text, upper string) {
	svc, ok := d.catalog.Select(text)
	if !ok {
		d.send(customerID, fmt.Sprintf("❌ Invalid selection. Please reply with a number from 1-%d.", d.catalog.Len()))
		return
	}

	d.send(customerID, d.orderDetails(svc))
	d.sessions.Update(customerID, func(s *session.Session) {
		s.Step = session.StepWaitingForPayment
		s.SelectedService = &svc
	})
}

func (d *Driver) orderDetails(svc catalog.Service) string {
	return fmt.Sprintf(
		"━━━━━━━━━━━━━━━━\n"+
			"Here is your order details!\n\n"+
			"Name: %s\n"+
			"Cost: %s\n\n"+
			"Please pay the exact amount %s ONLY\n"+
			"PAY MORE OR LESS YOUR PAYMENT WILL NOT PROCESS\n\n"+
			"Transfer to %s\n\n"+
			"After payment please send your FULL NAME for verification purpose\n"+
			"(Note: if you encounter the payment issue feel free to contact live agent)\n"+
			"━━━━━━━━━━━━━━━━",
		svc.Name, svc.Price, svc.Price, d.bankAccount)
}

// handleNameEntry treats the message body as a claimed payer name: consume a
// parked payment if one matches, otherwise park a claim for the payment path
// to find later.
func (d *Driver) handleNameEntry(customerID, enteredName string, s session.Session) {
	if s.SelectedService == nil {
		glog.Warningf("no selected service for %s in waiting_for_payment, resetting", customerID)
		d.sessions.Reset(customerID)
		return
	}

	if ev, ok := d.ledger.FindAndRemove(enteredName); ok {
		glog.Infof("name %q matched parked payment from %q", enteredName, ev.PayerName)
		d.events.Publish(event.OrderEvent{
			Type:       event.TypePaymentMatched,
			CustomerID: customerID,
			Service:    s.SelectedService.Name,
			Detail:     ev.SourceSubject,
		})
		d.provisioner.Start(customerID, *s.SelectedService)
		return
	}

	glog.Infof("no parked payment for %q, storing pending claim for %s", enteredName, customerID)
	d.claims.Record(customerID, enteredName, *s.SelectedService)
	d.send(customerID,
		"✅ Name received! Once payment is confirmed, your number will be sent automatically.\n\n"+
			"If you already made payment 5 mins ago and you don't receive the number, please contact live agent.")
}

func (d *Driver) handleWaitingForCode(customerID, upper string) {
	switch upper {
	case "CHANGE", "NEW", "CANCEL":
		d.provisioner.RequestReplacement(customerID)
	default:
		// Deliberately silent while a number is active.
		glog.V(1).Infof("ignoring message from %s during waiting_for_code", customerID)
	}
}

// OnPaymentObserved is the entry point for payment notifications scraped
// from the inbox. It validates the amount against the fixed catalog price,
// then runs the payment side of the rendezvous.
func (d *Driver) OnPaymentObserved(payerName, amount, sourceSubject string) {
	normalized := strings.ReplaceAll(strings.TrimSpace(amount), ",", "")
	if normalized != d.expectedAmount {
		glog.Warningf("payment amount mismatch: expected RM%s, got RM%s (payer %q)",
			d.expectedAmount, normalized, payerName)
		return
	}

	result := d.ledger.RecordOrMatch(payerName, normalized, sourceSubject)
	if !result.Matched {
		return
	}

	d.events.Publish(event.OrderEvent{
		Type:       event.TypePaymentMatched,
		CustomerID: result.CustomerID,
		Service:    result.Claim.Service.Name,
		Detail:     sourceSubject,
	})
	d.send(result.CustomerID, "✅ Payment verified! Processing your request now...")
	d.provisioner.Start(result.CustomerID, result.Claim.Service)
}

func (d *Driver) send(customerID, text string) {
	if err := d.transport.SendText(customerID, text); err != nil {
		glog.Errorf("error sending message to %s: %v", customerID, err)
	}
}
