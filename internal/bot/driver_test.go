package bot

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benliew10/zuswhats/internal/catalog"
	"github.com/benliew10/zuswhats/internal/claims"
	"github.com/benliew10/zuswhats/internal/ledger"
	"github.com/benliew10/zuswhats/internal/provision"
	"github.com/benliew10/zuswhats/internal/session"
	"github.com/benliew10/zuswhats/internal/smsactivate"
)

type fakeTransport struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeTransport) SendText(customerID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, customerID+"|"+text)
	return nil
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func (f *fakeTransport) contains(substr string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

type fakeProvisioner struct {
	mu           sync.Mutex
	starts       map[string]int
	lastService  catalog.Service
	replacements int
}

func newFakeProvisioner() *fakeProvisioner {
	return &fakeProvisioner{starts: make(map[string]int)}
}

func (f *fakeProvisioner) Start(customerID string, svc catalog.Service) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts[customerID]++
	f.lastService = svc
}

func (f *fakeProvisioner) RequestReplacement(customerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replacements++
}

func (f *fakeProvisioner) startsFor(customerID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts[customerID]
}

type fixture struct {
	driver      *Driver
	sessions    *session.Store
	claims      *claims.Registry
	ledger      *ledger.Ledger
	transport   *fakeTransport
	provisioner *fakeProvisioner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sessions := session.NewStore()
	registry := claims.NewRegistry(claims.DefaultTTL)
	t.Cleanup(registry.Stop)
	l := ledger.New(registry, ledger.DefaultEventTTL)
	transport := &fakeTransport{}
	provisioner := newFakeProvisioner()
	d := NewDriver(sessions, registry, l, provisioner, transport, catalog.Default(),
		"1.68", "GXBank: 018-2804099")
	return &fixture{
		driver:      d,
		sessions:    sessions,
		claims:      registry,
		ledger:      l,
		transport:   transport,
		provisioner: provisioner,
	}
}

func TestSessionCreatedOnFirstMessage(t *testing.T) {
	f := newFixture(t)
	f.driver.OnChatMessage("cust", "m1", "hello")
	assert.Equal(t, session.StepIdle, f.sessions.Get("cust").Step)
	assert.True(t, f.transport.contains(`reply "PAYMENT"`))
}

func TestPaymentKeywordShowsMenu(t *testing.T) {
	f := newFixture(t)
	f.driver.OnChatMessage("cust", "m1", "payment please")

	assert.True(t, f.transport.contains("select your service"))
	assert.Equal(t, session.StepAwaitingServiceSelection, f.sessions.Get("cust").Step)
}

func TestServiceSelection(t *testing.T) {
	f := newFixture(t)
	f.driver.OnChatMessage("cust", "m1", "PAYMENT")
	f.driver.OnChatMessage("cust", "m2", "3")

	s := f.sessions.Get("cust")
	assert.Equal(t, session.StepWaitingForPayment, s.Step)
	require.NotNil(t, s.SelectedService)
	assert.Equal(t, "Chagee", s.SelectedService.Name)
	assert.True(t, f.transport.contains("Here is your order details!"))
	assert.True(t, f.transport.contains("GXBank: 018-2804099"))
}

func TestInvalidSelectionStaysInState(t *testing.T) {
	f := newFixture(t)
	f.driver.OnChatMessage("cust", "m1", "PAYMENT")
	f.driver.OnChatMessage("cust", "m2", "99")

	assert.True(t, f.transport.contains("Invalid selection"))
	assert.Equal(t, session.StepAwaitingServiceSelection, f.sessions.Get("cust").Step)
}

func TestNameEntryWithoutPaymentRecordsClaim(t *testing.T) {
	f := newFixture(t)
	f.driver.OnChatMessage("cust", "m1", "PAYMENT")
	f.driver.OnChatMessage("cust", "m2", "3")
	f.driver.OnChatMessage("cust", "m3", "John Tan")

	claim, ok := f.claims.Get("cust")
	require.True(t, ok)
	assert.Equal(t, "John Tan", claim.EnteredName)
	assert.Equal(t, "Chagee", claim.Service.Name)
	assert.True(t, f.transport.contains("Name received!"))
	assert.Equal(t, 0, f.provisioner.startsFor("cust"))
}

func TestClaimThenPaymentStartsProvisioningOnce(t *testing.T) {
	f := newFixture(t)
	f.driver.OnChatMessage("cust", "m1", "PAYMENT")
	f.driver.OnChatMessage("cust", "m2", "3")
	f.driver.OnChatMessage("cust", "m3", "Jane Doe")

	f.driver.OnPaymentObserved("Jane Doe", "1.68", "GXBank transfer")
	assert.Equal(t, 1, f.provisioner.startsFor("cust"))
	assert.Equal(t, "Chagee", f.provisioner.lastService.Name)
	assert.True(t, f.transport.contains("Payment verified!"))
	assert.Equal(t, 0, f.claims.Len())

	// A later identical payment parks instead of double-spending the claim.
	f.driver.OnPaymentObserved("Jane Doe", "1.68", "GXBank transfer")
	assert.Equal(t, 1, f.provisioner.startsFor("cust"))
}

func TestPaymentThenClaimStartsProvisioningOnce(t *testing.T) {
	f := newFixture(t)
	f.driver.OnPaymentObserved("Jane Doe", "1.68", "GXBank transfer")
	assert.Equal(t, 1, f.ledger.Len())

	f.driver.OnChatMessage("cust", "m1", "PAYMENT")
	f.driver.OnChatMessage("cust", "m2", "3")
	f.driver.OnChatMessage("cust", "m3", "Jane Doe")

	assert.Equal(t, 1, f.provisioner.startsFor("cust"))
	assert.Equal(t, 0, f.ledger.Len())
	assert.Equal(t, 0, f.claims.Len())
}

func TestAmountMismatchDiscarded(t *testing.T) {
	f := newFixture(t)
	f.driver.OnPaymentObserved("Jane Doe", "15,000.00", "GXBank transfer")
	assert.Equal(t, 0, f.ledger.Len())

	f.driver.OnPaymentObserved("Jane Doe", "1.68", "GXBank transfer")
	assert.Equal(t, 1, f.ledger.Len())
}

func TestDuplicateMessageIgnored(t *testing.T) {
	f := newFixture(t)
	f.driver.OnChatMessage("cust", "m1", "PAYMENT")
	before := f.transport.count()
	f.driver.OnChatMessage("cust", "m1", "PAYMENT")

	assert.Equal(t, before, f.transport.count())
	assert.Equal(t, session.StepAwaitingServiceSelection, f.sessions.Get("cust").Step)
}

func TestWaitingForCodeIsSilent(t *testing.T) {
	f := newFixture(t)
	f.sessions.Update("cust", func(s *session.Session) { s.Step = session.StepWaitingForCode })

	f.driver.OnChatMessage("cust", "m1", "hello?")
	assert.Equal(t, 0, f.transport.count())

	f.driver.OnChatMessage("cust", "m2", "change")
	assert.Equal(t, 1, f.provisioner.replacements)
}

func TestUnknownStepResetsAndRedispatches(t *testing.T) {
	f := newFixture(t)
	f.sessions.Update("cust", func(s *session.Session) { s.Step = session.Step("corrupted") })

	f.driver.OnChatMessage("cust", "m1", "PAYMENT")

	assert.Equal(t, session.StepAwaitingServiceSelection, f.sessions.Get("cust").Step)
	assert.True(t, f.transport.contains("select your service"))
}

func TestDedupWindowBounded(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < dedupWindow+10; i++ {
		f.driver.alreadySeen(fmt.Sprintf("m%d", i))
	}
	f.driver.dedupMu.Lock()
	defer f.driver.dedupMu.Unlock()
	assert.LessOrEqual(t, len(f.driver.dedupSeen), dedupWindow)
	assert.False(t, func() bool { _, ok := f.driver.dedupSeen["m0"]; return ok }())
}

// End-to-end: menu, selection, claim, payment, number, code, reset.
func TestFullPurchaseFlow(t *testing.T) {
	sessions := session.NewStore()
	registry := claims.NewRegistry(claims.DefaultTTL)
	defer registry.Stop()
	l := ledger.New(registry, ledger.DefaultEventTTL)
	transport := &fakeTransport{}

	provider := &scriptedProvider{}
	controller := provision.NewController(sessions, provider, transport, catalog.Default()).
		WithTimings(5*time.Millisecond, time.Second, 50*time.Millisecond)
	d := NewDriver(sessions, registry, l, controller, transport, catalog.Default(),
		"1.68", "GXBank: 018-2804099")

	d.OnChatMessage("cust", "m1", "PAYMENT")
	assert.True(t, transport.contains("3. Chagee - RM1.68"))

	d.OnChatMessage("cust", "m2", "3")
	assert.Equal(t, session.StepWaitingForPayment, sessions.Get("cust").Step)

	d.OnChatMessage("cust", "m3", "John Tan")
	assert.True(t, transport.contains("Name received!"))

	d.OnPaymentObserved("John Tan", "1.68", "GXBank: You've received RM1.68")
	assert.True(t, transport.contains("Payment verified!"))
	assert.True(t, transport.contains("Phone Number: +60123456789"))

	assert.Eventually(t, func() bool { return transport.contains("Code: 123456") },
		time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return sessions.Get("cust").Step == session.StepIdle },
		time.Second, 5*time.Millisecond)
}

type scriptedProvider struct{}

func (scriptedProvider) GetNumber(serviceCode string) (smsactivate.Activation, error) {
	return smsactivate.Activation{ID: "act-1", Number: "60123456789"}, nil
}

func (scriptedProvider) GetStatus(activationID string) (smsactivate.Status, error) {
	return smsactivate.Status{State: smsactivate.StatusOK, Code: "123456", FullMessage: "123456 is your code"}, nil
}

func (scriptedProvider) Release(activationID string) error { return nil }

func (scriptedProvider) Finish(activationID string) error { return nil }
