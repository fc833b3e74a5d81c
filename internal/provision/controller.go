// Package provision owns the bounded lifecycle of number acquisition and
// code polling: exactly one poll loop and one deadline per session,
// replaceable under a minimum holding time.
package provision

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/golang/glog"

	"github.com/benliew10/zuswhats/internal/catalog"
	"github.com/benliew10/zuswhats/internal/event"
	"github.com/benliew10/zuswhats/internal/receipt"
	"github.com/benliew10/zuswhats/internal/session"
	"github.com/benliew10/zuswhats/internal/smsactivate"
)

const (
	// DefaultPollInterval is how often an activation is polled for its code.
	DefaultPollInterval = 2 * time.Second
	// DefaultDeadline bounds the total wait for a verification code.
	DefaultDeadline = 5 * time.Minute
	// DefaultMinHold is the minimum time a customer must keep a number
	// before requesting a replacement.
	DefaultMinHold = 2 * time.Minute

	// stillWaitingEvery controls the periodic reassurance message, in polls.
	stillWaitingEvery = 15
)

// NumberProvider is the provisioning adapter contract.
type NumberProvider interface {
	GetNumber(serviceCode string) (smsactivate.Activation, error)
	GetStatus(activationID string) (smsactivate.Status, error)
	Release(activationID string) error
	Finish(activationID string) error
}

// Notifier sends outbound chat messages.
type Notifier interface {
	SendText(customerID, text string) error
}

// Controller runs the acquire-and-poll sub-flow for sessions.
type Controller struct {
	sessions *session.Store
	numbers  NumberProvider
	notify   Notifier
	catalog  *catalog.Catalog
	events   *event.Sender
	receipts *receipt.Store

	pollInterval time.Duration
	deadline     time.Duration
	minHold      time.Duration
}

func NewController(sessions *session.Store, numbers NumberProvider, notify Notifier, cat *catalog.Catalog) *Controller {
	return &Controller{
		sessions:     sessions,
		numbers:      numbers,
		notify:       notify,
		catalog:      cat,
		pollInterval: DefaultPollInterval,
		deadline:     DefaultDeadline,
		minHold:      DefaultMinHold,
	}
}

// WithEvents attaches an optional order event sender.
func (c *Controller) WithEvents(s *event.Sender) *Controller {
	c.events = s
	return c
}

// WithReceipts attaches an optional receipt store.
func (c *Controller) WithReceipts(s *receipt.Store) *Controller {
	c.receipts = s
	return c
}

// WithTimings overrides the poll interval, deadline and minimum hold.
func (c *Controller) WithTimings(pollInterval, deadline, minHold time.Duration) *Controller {
	c.pollInterval = pollInterval
	c.deadline = deadline
	c.minHold = minHold
	return c
}

// Start acquires a number for the customer and begins polling for its code.
// Any previous poll loop and deadline for this session are cancelled first,
// so no two pollers are ever active for one customer.
func (c *Controller) Start(customerID string, svc catalog.Service) {
	c.sessions.Update(customerID, func(s *session.Session) {
		s.Poller.Cancel()
		s.Poller = nil
		s.Step = session.StepWaitingForCode
		s.SelectedService = &svc
		s.ActivationID = ""
		s.Number = ""
		s.NumberSentAt = time.Time{}
	})

	glog.Infof("getting number for %s (service %s, code %s)", customerID, svc.Name, svc.Code)

	activation, err := c.numbers.GetNumber(svc.Code)
	if err != nil {
		c.handleAcquireFailure(customerID, svc, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.deadline)
	handle := session.NewTaskHandle(cancel)

	c.sessions.Update(customerID, func(s *session.Session) {
		// A racing Start may have installed its own poller between our two
		// updates; it loses, this activation is the live one.
		s.Poller.Cancel()
		s.Poller = handle
		s.ActivationID = activation.ID
		s.Number = activation.Number
		s.NumberSentAt = time.Now()
	})

	c.send(customerID, fmt.Sprintf(
		"✅ %s Verification\n\n"+
			"📞 Phone Number: +%s\n\n"+
			"⏳ Waiting for verification code...\n"+
			"(This may take 1-5 minutes)\n\n"+
			"⚠️ After 2 minutes, you can request a new number by typing \"CHANGE\"",
		svc.Name, activation.Number))

	c.events.Publish(event.OrderEvent{
		Type:       event.TypeNumberIssued,
		CustomerID: customerID,
		Service:    svc.Name,
		Number:     activation.Number,
	})

	go c.pollLoop(ctx, customerID, svc, activation)
}

func (c *Controller) handleAcquireFailure(customerID string, svc catalog.Service, err error) {
	if errors.Is(err, smsactivate.ErrNoNumbers) {
		glog.Warningf("no numbers available for %s (%s)", svc.Name, svc.Code)
		c.send(customerID, fmt.Sprintf(
			"❌ Sorry, %s service is temporarily unavailable due to insufficient phone numbers.\n\n"+
				"Please select a different service or contact live agent.", svc.Name))
		c.sessions.Update(customerID, func(s *session.Session) {
			s.Step = session.StepAwaitingServiceSelection
		})
		c.send(customerID, c.catalog.Menu())
		return
	}

	glog.Errorf("failed to acquire number for %s: %v", customerID, err)
	c.send(customerID, fmt.Sprintf("❌ Error: %v. Please try again or contact live agent.", err))
	c.sessions.Reset(customerID)
}

// pollLoop polls the activation until a terminal status, an adapter error,
// the deadline, or cancellation by a superseding Start/Reset.
func (c *Controller) pollLoop(ctx context.Context, customerID string, svc catalog.Service, activation smsactivate.Activation) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	polls := 0
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				glog.Warningf("activation %s for %s timed out after %s", activation.ID, customerID, c.deadline)
				c.send(customerID, "⏰ Timeout: No code received within 5 minutes.")
				c.events.Publish(event.OrderEvent{
					Type:       event.TypeTimeout,
					CustomerID: customerID,
					Service:    svc.Name,
					Number:     activation.Number,
				})
				c.sessions.Reset(customerID)
			}
			// Plain cancellation means this loop was superseded or the
			// process is shutting down; the canceller owns the session.
			return
		case <-ticker.C:
		}

		status, err := c.numbers.GetStatus(activation.ID)
		if err != nil {
			glog.Errorf("error checking code for %s: %v", customerID, err)
			c.send(customerID, fmt.Sprintf("❌ Error: %v", err))
			c.sessions.Reset(customerID)
			return
		}

		switch status.State {
		case smsactivate.StatusOK:
			glog.Infof("code received for %s: %s", customerID, status.Code)
			if err := c.numbers.Finish(activation.ID); err != nil {
				glog.Warningf("failed to confirm activation %s: %v", activation.ID, err)
			}
			c.send(customerID, fmt.Sprintf(
				"✅ %s Verification Code Received!\n\n"+
					"🔐 Code: %s\n\n"+
					"📱 Full Message:\n%s\n\n"+
					"Thank you for your order!",
				svc.Name, status.Code, status.FullMessage))
			if err := c.receipts.Save(receipt.Receipt{
				CustomerID: customerID,
				Service:    svc.Name,
				Number:     activation.Number,
				Code:       status.Code,
			}); err != nil {
				glog.Warningf("failed to store receipt for %s: %v", customerID, err)
			}
			c.events.Publish(event.OrderEvent{
				Type:       event.TypeCodeDelivered,
				CustomerID: customerID,
				Service:    svc.Name,
				Number:     activation.Number,
			})
			c.sessions.Reset(customerID)
			return
		case smsactivate.StatusCancelled:
			glog.Infof("activation %s for %s cancelled by provider", activation.ID, customerID)
			c.send(customerID, "❌ Activation cancelled.")
			c.events.Publish(event.OrderEvent{
				Type:       event.TypeCancelled,
				CustomerID: customerID,
				Service:    svc.Name,
				Number:     activation.Number,
			})
			c.sessions.Reset(customerID)
			return
		default:
			polls++
			if polls%stillWaitingEvery == 0 {
				c.send(customerID, "⏳ Still waiting for code...")
			}
		}
	}
}

// RequestReplacement handles a CHANGE/NEW/CANCEL keyword while a number is
// active. Before the minimum hold elapses it only reports the remaining
// wait; afterwards it releases the old activation and starts over with the
// same service.
func (c *Controller) RequestReplacement(customerID string) {
	s := c.sessions.Get(customerID)

	if s.NumberSentAt.IsZero() {
		c.send(customerID, "❌ No active number to cancel.")
		c.sessions.Reset(customerID)
		return
	}

	elapsed := time.Since(s.NumberSentAt)
	if elapsed < c.minHold {
		remaining := int(math.Ceil((c.minHold - elapsed).Seconds()))
		c.send(customerID, fmt.Sprintf("⏳ Please wait %d more seconds before requesting a new number.", remaining))
		return
	}

	if s.ActivationID == "" || s.SelectedService == nil {
		c.send(customerID, "❌ No active number to cancel.")
		c.sessions.Reset(customerID)
		return
	}

	if err := c.numbers.Release(s.ActivationID); err != nil {
		glog.Warningf("failed to release activation %s: %v", s.ActivationID, err)
	}
	c.send(customerID, "⏳ Cancelling old number and getting a new one...")
	c.Start(customerID, *s.SelectedService)
}

func (c *Controller) send(customerID, text string) {
	if err := c.notify.SendText(customerID, text); err != nil {
		glog.Errorf("error sending message to %s: %v", customerID, err)
	}
}
