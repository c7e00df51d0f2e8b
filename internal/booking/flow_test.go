package booking

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"motorent/internal/domain"
	"motorent/internal/models"
	"motorent/internal/pricing"
	"motorent/internal/rentalapi"
)

type mockAvailability struct {
	mock.Mock
}

func (m *mockAvailability) IsUnitAvailable(ctx context.Context, unitID int64, r models.DateRange) (bool, error) {
	args := m.Called(ctx, unitID, r)
	return args.Bool(0), args.Error(1)
}

type mockQuoter struct {
	mock.Mock
}

func (m *mockQuoter) CalculatePrice(ctx context.Context, req rentalapi.PriceRequest) (*models.PriceBreakdown, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PriceBreakdown), args.Error(1)
}

type mockCreator struct {
	mock.Mock
}

func (m *mockCreator) CreateBooking(ctx context.Context, req rentalapi.CreateBookingRequest, key string) (*models.Booking, error) {
	args := m.Called(ctx, req, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

type mockJournal struct {
	mock.Mock
}

func (m *mockJournal) Begin(ctx context.Context, key, fingerprint string) error {
	return m.Called(ctx, key, fingerprint).Error(0)
}

func (m *mockJournal) Pending(ctx context.Context, fingerprint string) (string, bool, error) {
	args := m.Called(ctx, fingerprint)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *mockJournal) Confirm(ctx context.Context, key string, bookingID int64) error {
	return m.Called(ctx, key, bookingID).Error(0)
}

func (m *mockJournal) Fail(ctx context.Context, key, reason string) error {
	return m.Called(ctx, key, reason).Error(0)
}

var (
	testCustomer = models.Customer{
		Name:     "Wayan Sudarta",
		Phone:    "+62 812-3456-7890",
		Address:  "Jl. Raya Ubud 12",
		IDNumber: "5171010101900001",
	}
	testUnit  = models.RentalUnit{ID: 7, Plate: "DK 1234 AB", DailyRate: 100000, Status: models.UnitAvailable}
	testRange = models.DateRange{StartDate: "2024-01-10", EndDate: "2024-01-12", StartTime: "10:00", EndTime: "10:00"}
)

func serverPrice(total int64) *models.PriceBreakdown {
	return &models.PriceBreakdown{FullDays: 2, BasePrice: total, Total: total}
}

func newTestFlow(t *testing.T, deps Deps) *Flow {
	t.Helper()
	if deps.Calculator == nil {
		deps.Calculator = pricing.NewCalculator(pricing.DefaultRates())
	}
	f := NewFlow(context.Background(), deps, zerolog.New(io.Discard))
	t.Cleanup(f.Close)
	return f
}

func toDetails(t *testing.T, f *Flow) {
	t.Helper()
	require.NoError(t, f.SetCustomer(testCustomer))
	require.NoError(t, f.Next(context.Background()))
	require.Equal(t, 2, f.Step())
}

func toConfirmation(t *testing.T, f *Flow) {
	t.Helper()
	toDetails(t, f)
	require.NoError(t, f.SelectUnit(testUnit))
	require.NoError(t, f.SetRange(testRange))
	require.NoError(t, f.Next(context.Background()))
	require.Equal(t, 3, f.Step())
}

func TestFlow_PersonalInfo(t *testing.T) {
	f := newTestFlow(t, Deps{})
	ctx := context.Background()

	assert.Equal(t, 1, f.Step())

	require.NoError(t, f.SetCustomer(models.Customer{Name: "Wayan"}))
	err := f.Next(ctx)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindValidation))
	assert.Equal(t, 1, f.Step())
	assert.Contains(t, f.ErrorMessage(), "phone")

	bad := testCustomer
	bad.Phone = "12ab"
	require.NoError(t, f.SetCustomer(bad))
	require.Error(t, f.Next(ctx))
	assert.Equal(t, "invalid phone number", f.ErrorMessage())

	require.NoError(t, f.SetCustomer(testCustomer))
	require.NoError(t, f.Next(ctx))
	assert.Equal(t, 2, f.Step())
	assert.Empty(t, f.ErrorMessage())
	assert.Equal(t, "+6281234567890", f.Draft().Customer.Phone)
}

func TestFlow_StepGating(t *testing.T) {
	f := newTestFlow(t, Deps{})

	assert.Error(t, f.SelectUnit(testUnit))
	assert.Error(t, f.SetRange(testRange))
	assert.Error(t, f.SetAddOns(models.AddOns{Helmets: 1}))
	assert.Error(t, f.Back())
	_, err := f.Submit(context.Background())
	assert.Error(t, err)

	toDetails(t, f)
	assert.Error(t, f.SetCustomer(testCustomer))
	assert.Error(t, f.SetAddOns(models.AddOns{Helmets: -1}))

	err = f.Next(context.Background())
	require.Error(t, err, "no unit selected")
	assert.Equal(t, 2, f.Step())
}

func TestFlow_UnavailableKeepsDetailsStep(t *testing.T) {
	avail := new(mockAvailability)
	avail.On("IsUnitAvailable", mock.Anything, int64(7), testRange).Return(false, nil)
	quoter := new(mockQuoter)

	f := newTestFlow(t, Deps{Availability: avail, Prices: quoter})
	toDetails(t, f)
	require.NoError(t, f.SelectUnit(testUnit))
	require.NoError(t, f.SetRange(testRange))

	err := f.Next(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnavailable)
	assert.Equal(t, 2, f.Step())
	assert.NotEmpty(t, f.ErrorMessage())
	assert.False(t, f.Draft().Available)
	assert.False(t, f.Loading(OpAvailability))
	quoter.AssertNotCalled(t, "CalculatePrice", mock.Anything, mock.Anything)
}

func TestFlow_AvailabilityRetriedOnce(t *testing.T) {
	avail := new(mockAvailability)
	avail.On("IsUnitAvailable", mock.Anything, int64(7), testRange).
		Return(false, domain.Transport("availability", errors.New("connection reset"))).Once()
	avail.On("IsUnitAvailable", mock.Anything, int64(7), testRange).Return(true, nil)
	quoter := new(mockQuoter)
	quoter.On("CalculatePrice", mock.Anything, mock.Anything).Return(serverPrice(210000), nil)

	f := newTestFlow(t, Deps{Availability: avail, Prices: quoter})
	toConfirmation(t, f)

	avail.AssertNumberOfCalls(t, "IsUnitAvailable", 2)
	d := f.Draft()
	assert.True(t, d.Available)
	require.NotNil(t, d.Price)
	assert.Equal(t, int64(210000), d.Price.Total)
	assert.Equal(t, models.PriceSourceServer, d.Price.Source)
}

func TestFlow_AvailabilityTransportFailure(t *testing.T) {
	avail := new(mockAvailability)
	avail.On("IsUnitAvailable", mock.Anything, int64(7), testRange).
		Return(false, domain.Transport("availability", errors.New("timeout")))

	f := newTestFlow(t, Deps{Availability: avail})
	toDetails(t, f)
	require.NoError(t, f.SelectUnit(testUnit))
	require.NoError(t, f.SetRange(testRange))

	err := f.Next(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))
	assert.Equal(t, 2, f.Step())
	assert.Equal(t, "Connection problem. Please try again.", f.ErrorMessage())
	avail.AssertNumberOfCalls(t, "IsUnitAvailable", 2)
}

func TestFlow_PriceFallsBackToLocal(t *testing.T) {
	avail := new(mockAvailability)
	avail.On("IsUnitAvailable", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
	quoter := new(mockQuoter)
	quoter.On("CalculatePrice", mock.Anything, mock.Anything).
		Return(nil, domain.Transport("price", errors.New("503")))

	f := newTestFlow(t, Deps{Availability: avail, Prices: quoter})
	toConfirmation(t, f)

	p := f.Draft().Price
	require.NotNil(t, p)
	assert.Equal(t, models.PriceSourceLocal, p.Source)
	assert.Equal(t, int64(200000), p.Total)

	require.NoError(t, f.SetAddOns(models.AddOns{Raincoats: 1, Helmets: 1}))
	assert.Nil(t, f.Draft().Price)
	p2, err := f.RefreshPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(210000), p2.Total)
}

type scriptedQuoter struct {
	mu      sync.Mutex
	calls   int
	started chan struct{}
	release chan struct{}
}

func (q *scriptedQuoter) CalculatePrice(ctx context.Context, _ rentalapi.PriceRequest) (*models.PriceBreakdown, error) {
	q.mu.Lock()
	q.calls++
	n := q.calls
	q.mu.Unlock()

	if n == 1 {
		close(q.started)
		select {
		case <-q.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return serverPrice(111), nil
	}
	return serverPrice(222), nil
}

func TestFlow_StalePriceIgnored(t *testing.T) {
	quoter := &scriptedQuoter{started: make(chan struct{}), release: make(chan struct{})}
	f := newTestFlow(t, Deps{Prices: quoter})
	toDetails(t, f)
	require.NoError(t, f.SelectUnit(testUnit))
	require.NoError(t, f.SetRange(testRange))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.RefreshPrice(context.Background())
	}()
	<-quoter.started
	assert.True(t, f.Loading(OpPrice))

	p, err := f.RefreshPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(222), p.Total)
	assert.False(t, f.Loading(OpPrice))

	close(quoter.release)
	<-done

	require.NotNil(t, f.Draft().Price)
	assert.Equal(t, int64(222), f.Draft().Price.Total, "older response must not win")
	assert.False(t, f.Loading(OpPrice))
}

func submitDeps(t *testing.T) (Deps, *mockCreator, *mockJournal) {
	t.Helper()
	avail := new(mockAvailability)
	avail.On("IsUnitAvailable", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
	quoter := new(mockQuoter)
	quoter.On("CalculatePrice", mock.Anything, mock.Anything).Return(serverPrice(200000), nil)
	creator := new(mockCreator)
	journal := new(mockJournal)
	return Deps{Availability: avail, Prices: quoter, Bookings: creator, Receipts: journal}, creator, journal
}

func keySequence(keys ...string) (func() string, *int) {
	n := 0
	return func() string {
		k := keys[n%len(keys)]
		n++
		return k
	}, &n
}

func TestFlow_SubmitSuccess(t *testing.T) {
	deps, creator, journal := submitDeps(t)
	f := newTestFlow(t, deps)
	f.newKey, _ = keySequence("key-1")
	toConfirmation(t, f)

	fp := Fingerprint(f.Draft())
	journal.On("Pending", mock.Anything, fp).Return("", false, nil)
	journal.On("Begin", mock.Anything, "key-1", fp).Return(nil)
	journal.On("Confirm", mock.Anything, "key-1", int64(77)).Return(nil)
	creator.On("CreateBooking", mock.Anything, mock.MatchedBy(func(req rentalapi.CreateBookingRequest) bool {
		return req.UnitID == 7 && req.Phone == "+6281234567890" && req.TotalPrice == 200000
	}), "key-1").Return(&models.Booking{ID: 77, UnitID: 7, Status: models.BookingPending}, nil).Once()

	b, err := f.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(77), b.ID)
	assert.Equal(t, StateSubmitted, f.State())
	assert.Equal(t, 0, f.Step())
	assert.Equal(t, b, f.Booking())
	assert.Equal(t, Draft{}, f.Draft())

	_, err = f.Submit(context.Background())
	assert.ErrorIs(t, err, domain.ErrClosed)
	creator.AssertNumberOfCalls(t, "CreateBooking", 1)
	journal.AssertExpectations(t)
}

func TestFlow_SubmitRetryReusesKey(t *testing.T) {
	deps, creator, journal := submitDeps(t)
	f := newTestFlow(t, deps)
	newKey, generated := keySequence("key-1", "key-2")
	f.newKey = newKey
	toConfirmation(t, f)

	journal.On("Pending", mock.Anything, mock.Anything).Return("", false, nil)
	journal.On("Begin", mock.Anything, "key-1", mock.Anything).Return(nil)
	journal.On("Confirm", mock.Anything, "key-1", int64(5)).Return(nil)
	creator.On("CreateBooking", mock.Anything, mock.Anything, "key-1").
		Return(nil, domain.Transport("create", errors.New("timeout"))).Once()
	creator.On("CreateBooking", mock.Anything, mock.Anything, "key-1").
		Return(&models.Booking{ID: 5}, nil).Once()

	_, err := f.Submit(context.Background())
	require.Error(t, err)
	assert.Equal(t, 3, f.Step(), "draft kept for retry")
	assert.Equal(t, "key-1", f.Draft().IdempotencyKey)

	b, err := f.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), b.ID)
	assert.Equal(t, 1, *generated)
	journal.AssertNotCalled(t, "Fail", mock.Anything, mock.Anything, mock.Anything)
	journal.AssertNumberOfCalls(t, "Pending", 1)
}

func TestFlow_SubmitConflictStartsOver(t *testing.T) {
	deps, creator, journal := submitDeps(t)
	f := newTestFlow(t, deps)
	f.newKey, _ = keySequence("key-1")
	toConfirmation(t, f)

	journal.On("Pending", mock.Anything, mock.Anything).Return("", false, nil)
	journal.On("Begin", mock.Anything, "key-1", mock.Anything).Return(nil)
	journal.On("Fail", mock.Anything, "key-1", mock.Anything).Return(nil)
	creator.On("CreateBooking", mock.Anything, mock.Anything, "key-1").
		Return(nil, domain.Conflict("create", domain.ErrUnavailable))

	_, err := f.Submit(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindConflict))
	assert.Equal(t, StateConfirmation, f.State())
	assert.NotEmpty(t, f.ErrorMessage())
	d := f.Draft()
	assert.Empty(t, d.IdempotencyKey)
	assert.False(t, d.Available)
	journal.AssertCalled(t, "Fail", mock.Anything, "key-1", mock.Anything)
}

func TestFlow_SubmitReusesJournalKey(t *testing.T) {
	deps, creator, journal := submitDeps(t)
	f := newTestFlow(t, deps)
	newKey, generated := keySequence("unused")
	f.newKey = newKey
	toConfirmation(t, f)

	journal.On("Pending", mock.Anything, mock.Anything).Return("from-last-run", true, nil)
	journal.On("Begin", mock.Anything, "from-last-run", mock.Anything).Return(nil)
	journal.On("Confirm", mock.Anything, "from-last-run", int64(9)).Return(nil)
	creator.On("CreateBooking", mock.Anything, mock.Anything, "from-last-run").Return(&models.Booking{ID: 9}, nil)

	_, err := f.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, *generated)
	journal.AssertExpectations(t)
}

func TestFlow_SubmitUnavailableAtFinalCheck(t *testing.T) {
	avail := new(mockAvailability)
	avail.On("IsUnitAvailable", mock.Anything, mock.Anything, mock.Anything).Return(true, nil).Once()
	avail.On("IsUnitAvailable", mock.Anything, mock.Anything, mock.Anything).Return(false, nil)
	creator := new(mockCreator)

	f := newTestFlow(t, Deps{Availability: avail, Bookings: creator})
	toConfirmation(t, f)

	_, err := f.Submit(context.Background())
	assert.ErrorIs(t, err, domain.ErrUnavailable)
	assert.Equal(t, 3, f.Step())
	creator.AssertNotCalled(t, "CreateBooking", mock.Anything, mock.Anything, mock.Anything)
}

func TestFlow_SubmitInProgress(t *testing.T) {
	deps, creator, _ := submitDeps(t)
	deps.Receipts = nil
	f := newTestFlow(t, deps)
	toConfirmation(t, f)

	started := make(chan struct{})
	release := make(chan struct{})
	creator.On("CreateBooking", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return(&models.Booking{ID: 1}, nil).Once()

	done := make(chan error, 1)
	go func() {
		_, err := f.Submit(context.Background())
		done <- err
	}()
	<-started
	assert.True(t, f.Loading(OpSubmit))

	_, err := f.Submit(context.Background())
	assert.ErrorIs(t, err, domain.ErrInProgress)

	close(release)
	require.NoError(t, <-done)
	creator.AssertNumberOfCalls(t, "CreateBooking", 1)
}

func TestFlow_MutationsRejectedDuringSubmit(t *testing.T) {
	deps, creator, _ := submitDeps(t)
	deps.Receipts = nil
	f := newTestFlow(t, deps)
	toConfirmation(t, f)

	started := make(chan struct{})
	release := make(chan struct{})
	creator.On("CreateBooking", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return(&models.Booking{ID: 3}, nil).Once()

	done := make(chan error, 1)
	go func() {
		_, err := f.Submit(context.Background())
		done <- err
	}()
	<-started

	ctx := context.Background()
	other := testRange
	other.EndDate = "2024-01-13"
	assert.ErrorIs(t, f.Back(), domain.ErrInProgress)
	assert.ErrorIs(t, f.SetAddOns(models.AddOns{Helmets: 1}), domain.ErrInProgress)
	assert.ErrorIs(t, f.SetRange(other), domain.ErrInProgress)
	assert.ErrorIs(t, f.SelectUnit(testUnit), domain.ErrInProgress)
	assert.ErrorIs(t, f.Next(ctx), domain.ErrInProgress)
	_, err := f.RefreshPrice(ctx)
	assert.ErrorIs(t, err, domain.ErrInProgress)
	assert.Equal(t, 3, f.Step())

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateSubmitted, f.State())
	require.NotNil(t, f.Booking())
	assert.Equal(t, int64(3), f.Booking().ID)
	assert.NoError(t, f.Err())
	creator.AssertNumberOfCalls(t, "CreateBooking", 1)
}

func TestFlow_UnreadableCreateAnswerKeepsKey(t *testing.T) {
	var (
		mu    sync.Mutex
		keys  []string
		posts int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		posts++
		n := posts
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		if n == 1 {
			_, _ = w.Write([]byte(`{"data":{"id":"B-123"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":{"id":9}}`))
	}))
	t.Cleanup(srv.Close)

	deps, _, journal := submitDeps(t)
	deps.Bookings = rentalapi.NewClient(srv.URL, "", zerolog.New(io.Discard))
	f := newTestFlow(t, deps)
	newKey, generated := keySequence("key-1", "key-2")
	f.newKey = newKey
	toConfirmation(t, f)

	journal.On("Pending", mock.Anything, mock.Anything).Return("", false, nil)
	journal.On("Begin", mock.Anything, "key-1", mock.Anything).Return(nil)
	journal.On("Confirm", mock.Anything, "key-1", int64(9)).Return(nil)

	_, err := f.Submit(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err), "the booking may exist")
	assert.Equal(t, 3, f.Step())
	assert.Equal(t, "key-1", f.Draft().IdempotencyKey)

	b, err := f.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(9), b.ID)
	assert.Equal(t, 1, *generated)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"key-1", "key-1"}, keys)
	journal.AssertNotCalled(t, "Fail", mock.Anything, mock.Anything, mock.Anything)
}

func TestFlow_NextWaitsForCurrentPrice(t *testing.T) {
	avail := new(mockAvailability)
	avail.On("IsUnitAvailable", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
	quoter := &scriptedQuoter{started: make(chan struct{}), release: make(chan struct{})}
	f := newTestFlow(t, Deps{Availability: avail, Prices: quoter})
	toDetails(t, f)
	require.NoError(t, f.SelectUnit(testUnit))
	require.NoError(t, f.SetRange(testRange))

	done := make(chan error, 1)
	go func() { done <- f.Next(context.Background()) }()
	<-quoter.started

	p, err := f.RefreshPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(222), p.Total)

	close(quoter.release)
	assert.ErrorIs(t, <-done, domain.ErrInProgress)
	assert.Equal(t, 2, f.Step())
	require.NotNil(t, f.Draft().Price)
	assert.Equal(t, int64(222), f.Draft().Price.Total)

	require.NoError(t, f.Next(context.Background()))
	assert.Equal(t, 3, f.Step())
}

func TestFlow_CloseCancelsInFlight(t *testing.T) {
	deps, creator, _ := submitDeps(t)
	deps.Receipts = nil
	f := newTestFlow(t, deps)
	toConfirmation(t, f)

	started := make(chan struct{})
	creator.On("CreateBooking", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			close(started)
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, domain.Transport("create", context.Canceled))

	done := make(chan error, 1)
	go func() {
		_, err := f.Submit(context.Background())
		done <- err
	}()
	<-started
	f.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, domain.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("submit was not cancelled")
	}
	assert.Equal(t, StateClosed, f.State())
	assert.Equal(t, Draft{}, f.Draft())
	assert.ErrorIs(t, f.Next(context.Background()), domain.ErrClosed)
}

func TestFlow_BackKeepsDraft(t *testing.T) {
	avail := new(mockAvailability)
	avail.On("IsUnitAvailable", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
	f := newTestFlow(t, Deps{Availability: avail})
	toConfirmation(t, f)

	require.NoError(t, f.Back())
	assert.Equal(t, 2, f.Step())
	d := f.Draft()
	require.NotNil(t, d.Unit)
	assert.Equal(t, int64(7), d.Unit.ID)
	assert.NotNil(t, d.Price)

	other := testRange
	other.EndDate = "2024-01-13"
	require.NoError(t, f.SetRange(other))
	d = f.Draft()
	assert.Nil(t, d.Price)
	assert.False(t, d.Available)

	require.NoError(t, f.Back())
	assert.Equal(t, 1, f.Step())
	assert.Equal(t, "+6281234567890", f.Draft().Customer.Phone)
}
