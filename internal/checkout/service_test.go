package checkout_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/robertarktes/event-ticketing/internal/checkout"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type staticCatalog struct {
	mu        sync.Mutex
	offerings []domain.TicketOffering
	err       error
}

func (c *staticCatalog) Offerings(context.Context, string) ([]domain.TicketOffering, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.TicketOffering(nil), c.offerings...), c.err
}

func (c *staticCatalog) IncrementSold(_ context.Context, _, offeringID string, qty int) error {
	return c.adjust(offeringID, qty)
}

func (c *staticCatalog) DecrementSold(_ context.Context, _, offeringID string, qty int) error {
	return c.adjust(offeringID, -qty)
}

func (c *staticCatalog) adjust(offeringID string, delta int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.offerings {
		o := &c.offerings[i]
		if o.ID != offeringID {
			continue
		}
		if o.SoldQuantity+delta > o.TotalQuantity {
			return domain.ErrExceedsAvailability
		}
		if o.SoldQuantity+delta < 0 {
			return domain.ErrConflict
		}
		o.SoldQuantity += delta
		return nil
	}
	return domain.ErrNotFound
}

func (c *staticCatalog) sold(offeringID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, o := range c.offerings {
		if o.ID == offeringID {
			return o.SoldQuantity
		}
	}
	return -1
}

type mockCreator struct {
	mock.Mock
}

func (m *mockCreator) Create(ctx context.Context, t domain.Transaction) error {
	return m.Called(ctx, t).Error(0)
}

type recordingAuditor struct {
	logged []domain.Transaction
}

func (a *recordingAuditor) LogTransaction(_ context.Context, t domain.Transaction) error {
	a.logged = append(a.logged, t)
	return nil
}

func twoOfferings() []domain.TicketOffering {
	return []domain.TicketOffering{
		{ID: "t1", Kind: domain.KindVIP, UnitPrice: 100000, TotalQuantity: 20},
		{ID: "t2", Kind: domain.KindRegular, UnitPrice: 50000, TotalQuantity: 20},
	}
}

func TestService_SetQuantityBuildsSummary(t *testing.T) {
	cat := &staticCatalog{offerings: twoOfferings()}
	svc := checkout.NewService(cat, cat, new(mockCreator), nil, 10, observability.NewNopLogger())
	ctx := context.Background()

	sum, err := svc.SetQuantity(ctx, domain.NewSelection("e1"), "t1", 1)
	require.NoError(t, err)
	sel, err := domain.SelectionFrom("e1", sum.Selection)
	require.NoError(t, err)

	sum, err = svc.SetQuantity(ctx, sel, "t2", 2)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"t1": 1, "t2": 2}, sum.Selection)
	assert.Equal(t, 3, sum.TotalQuantity)
	assert.Equal(t, int64(200000), sum.TotalPrice)
	require.Len(t, sum.Lines, 2)
	assert.Equal(t, checkout.Line{OfferingID: "t2", Kind: domain.KindRegular, Quantity: 2, UnitPrice: 50000, Subtotal: 100000}, sum.Lines[1])
}

func TestService_SetQuantityRespectsCap(t *testing.T) {
	cat := &staticCatalog{offerings: twoOfferings()}
	svc := checkout.NewService(cat, cat, new(mockCreator), nil, 10, observability.NewNopLogger())
	sel, _ := domain.SelectionFrom("e1", map[string]int{"t1": 4})

	sum, err := svc.SetQuantity(context.Background(), sel, "t1", 11)
	assert.ErrorIs(t, err, domain.ErrExceedsLimit)
	assert.Equal(t, map[string]int{"t1": 4}, sum.Selection)

	uncapped := checkout.NewService(cat, cat, new(mockCreator), nil, 0, observability.NewNopLogger())
	sum, err = uncapped.SetQuantity(context.Background(), sel, "t1", 11)
	require.NoError(t, err)
	assert.Equal(t, 11, sum.Selection["t1"])
}

func TestService_SetQuantityRejectionKeepsSelection(t *testing.T) {
	cat := &staticCatalog{offerings: []domain.TicketOffering{{ID: "t1", UnitPrice: 500000, TotalQuantity: 10, SoldQuantity: 8}}}
	svc := checkout.NewService(cat, cat, new(mockCreator), nil, 10, observability.NewNopLogger())
	sel, _ := domain.SelectionFrom("e1", map[string]int{"t1": 2})

	sum, err := svc.SetQuantity(context.Background(), sel, "t1", 3)
	assert.ErrorIs(t, err, domain.ErrExceedsAvailability)
	assert.Equal(t, 2, sum.Selection["t1"])
	assert.Equal(t, int64(1000000), sum.TotalPrice)
}

func TestService_CheckoutUsesLiveCatalog(t *testing.T) {
	browse := &staticCatalog{offerings: twoOfferings()}
	live := &staticCatalog{offerings: []domain.TicketOffering{
		{ID: "t1", Kind: domain.KindVIP, UnitPrice: 100000, TotalQuantity: 20, SoldQuantity: 20},
		{ID: "t2", Kind: domain.KindRegular, UnitPrice: 50000, TotalQuantity: 20},
	}}
	creator := new(mockCreator)
	svc := checkout.NewService(browse, live, creator, nil, 10, observability.NewNopLogger())
	sel, _ := domain.SelectionFrom("e1", map[string]int{"t1": 1})

	_, err := svc.Checkout(context.Background(), "u1", sel, "card")
	require.ErrorIs(t, err, domain.ErrExceedsAvailability)
	creator.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestService_CheckoutCreatesPendingTransaction(t *testing.T) {
	cat := &staticCatalog{offerings: twoOfferings()}
	creator := new(mockCreator)
	creator.On("Create", mock.Anything, mock.MatchedBy(func(tx domain.Transaction) bool {
		return tx.UserID == "u1" && tx.EventID == "e1" && tx.TotalAmount == 200000 && tx.Status == domain.StatusPending
	})).Return(nil)
	audit := &recordingAuditor{}
	svc := checkout.NewService(cat, cat, creator, audit, 10, observability.NewNopLogger())
	sel, _ := domain.SelectionFrom("e1", map[string]int{"t1": 1, "t2": 2})

	tx, err := svc.Checkout(context.Background(), "u1", sel, "card")
	require.NoError(t, err)
	assert.Len(t, tx.Items, 2)
	assert.Equal(t, "card", tx.PaymentMethod)
	require.Len(t, audit.logged, 1)
	assert.Equal(t, tx.ID, audit.logged[0].ID)
	creator.AssertExpectations(t)
}

func TestService_CheckoutEmptySelection(t *testing.T) {
	cat := &staticCatalog{offerings: twoOfferings()}
	svc := checkout.NewService(cat, cat, new(mockCreator), nil, 10, observability.NewNopLogger())

	_, err := svc.Checkout(context.Background(), "u1", domain.NewSelection("e1"), "card")
	assert.ErrorIs(t, err, domain.ErrEmptySelection)
}

func TestService_CheckoutPropagatesCreateFailure(t *testing.T) {
	cat := &staticCatalog{offerings: twoOfferings()}
	creator := new(mockCreator)
	creator.On("Create", mock.Anything, mock.Anything).Return(domain.ErrSerializationFailure)
	svc := checkout.NewService(cat, cat, creator, nil, 10, observability.NewNopLogger())
	sel, _ := domain.SelectionFrom("e1", map[string]int{"t1": 1})

	_, err := svc.Checkout(context.Background(), "u1", sel, "card")
	assert.True(t, errors.Is(err, domain.ErrSerializationFailure))
}

func TestService_CatalogFailure(t *testing.T) {
	cat := &staticCatalog{err: domain.ErrNotFound}
	svc := checkout.NewService(cat, cat, new(mockCreator), nil, 10, observability.NewNopLogger())

	_, err := svc.SetQuantity(context.Background(), domain.NewSelection("e1"), "t1", 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestService_CheckoutReservesLastTickets(t *testing.T) {
	cat := &staticCatalog{offerings: []domain.TicketOffering{{ID: "t1", UnitPrice: 100, TotalQuantity: 10, SoldQuantity: 8}}}
	creator := new(mockCreator)
	creator.On("Create", mock.Anything, mock.Anything).Return(nil)
	svc := checkout.NewService(cat, cat, creator, nil, 10, observability.NewNopLogger())
	sel, _ := domain.SelectionFrom("e1", map[string]int{"t1": 2})

	_, err := svc.Checkout(context.Background(), "alice", sel, "card")
	require.NoError(t, err)
	_, err = svc.Checkout(context.Background(), "bob", sel, "card")

	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domain.KindExceedsAvailability, derr.Kind)
	assert.Equal(t, 0, derr.Available)
	assert.Equal(t, 10, cat.sold("t1"))
	creator.AssertNumberOfCalls(t, "Create", 1)
}

func TestService_ConcurrentCheckoutsNeverOversell(t *testing.T) {
	cat := &staticCatalog{offerings: []domain.TicketOffering{{ID: "t1", UnitPrice: 100, TotalQuantity: 10, SoldQuantity: 8}}}
	creator := new(mockCreator)
	creator.On("Create", mock.Anything, mock.Anything).Return(nil)
	svc := checkout.NewService(cat, cat, creator, nil, 10, observability.NewNopLogger())
	sel, _ := domain.SelectionFrom("e1", map[string]int{"t1": 2})

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.Checkout(context.Background(), "buyer", sel, "card")
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrExceedsAvailability)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 10, cat.sold("t1"))
}

func TestService_CheckoutRollsBackPartialReservation(t *testing.T) {
	cat := &staticCatalog{offerings: []domain.TicketOffering{
		{ID: "t1", UnitPrice: 100, TotalQuantity: 10},
		{ID: "t2", UnitPrice: 100, TotalQuantity: 10, SoldQuantity: 9},
	}}
	live := &racingCatalog{staticCatalog: cat, grab: "t2"}
	creator := new(mockCreator)
	svc := checkout.NewService(cat, live, creator, nil, 10, observability.NewNopLogger())
	sel, _ := domain.SelectionFrom("e1", map[string]int{"t1": 3, "t2": 1})

	_, err := svc.Checkout(context.Background(), "u1", sel, "card")
	require.ErrorIs(t, err, domain.ErrExceedsAvailability)
	assert.Equal(t, 0, cat.sold("t1"))
	assert.Equal(t, 10, cat.sold("t2"))
	creator.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

// racingCatalog sells the last ticket of grab to someone else right after the
// offerings are read.
type racingCatalog struct {
	*staticCatalog
	grab string
}

func (c *racingCatalog) Offerings(ctx context.Context, eventID string) ([]domain.TicketOffering, error) {
	offerings, err := c.staticCatalog.Offerings(ctx, eventID)
	if c.grab != "" {
		c.staticCatalog.adjust(c.grab, 1)
		c.grab = ""
	}
	return offerings, err
}

func TestService_CheckoutReleasesOnCreateFailure(t *testing.T) {
	cat := &staticCatalog{offerings: twoOfferings()}
	creator := new(mockCreator)
	creator.On("Create", mock.Anything, mock.Anything).Return(domain.ErrSerializationFailure)
	svc := checkout.NewService(cat, cat, creator, nil, 10, observability.NewNopLogger())
	sel, _ := domain.SelectionFrom("e1", map[string]int{"t1": 1, "t2": 3})

	_, err := svc.Checkout(context.Background(), "u1", sel, "card")
	require.Error(t, err)
	assert.Equal(t, 0, cat.sold("t1"))
	assert.Equal(t, 0, cat.sold("t2"))
}

func TestService_CheckoutEnforcesCap(t *testing.T) {
	cat := &staticCatalog{offerings: []domain.TicketOffering{{ID: "t1", UnitPrice: 100, TotalQuantity: 1000}}}
	creator := new(mockCreator)
	svc := checkout.NewService(cat, cat, creator, nil, 10, observability.NewNopLogger())
	sel, err := domain.SelectionFrom("e1", map[string]int{"t1": 500})
	require.NoError(t, err)

	_, err = svc.Checkout(context.Background(), "u1", sel, "card")
	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domain.KindExceedsLimit, derr.Kind)
	assert.Equal(t, 10, derr.Available)
	assert.Equal(t, 0, cat.sold("t1"))
	creator.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestService_CheckoutUnknownEvent(t *testing.T) {
	browse := &staticCatalog{offerings: twoOfferings()}
	live := &staticCatalog{err: domain.ErrNotFound}
	creator := new(mockCreator)
	svc := checkout.NewService(browse, live, creator, nil, 10, observability.NewNopLogger())
	sel, _ := domain.SelectionFrom("no-such-event", map[string]int{"t1": 2})

	_, err := svc.Checkout(context.Background(), "u1", sel, "card")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	creator.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}
