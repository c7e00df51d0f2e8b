package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"motorent/internal/domain"
	"motorent/internal/metrics"
	"motorent/internal/models"
	"motorent/internal/pricing"
	"motorent/internal/rentalapi"
)

// Operation names a logical asynchronous operation with its own loading flag.
type Operation string

const (
	OpAvailability Operation = "availability"
	OpPrice        Operation = "price"
	OpSubmit       Operation = "submit"
)

// AvailabilityChecker runs a live availability check for one unit.
type AvailabilityChecker interface {
	IsUnitAvailable(ctx context.Context, unitID int64, r models.DateRange) (bool, error)
}

// PriceQuoter returns the server-computed price.
type PriceQuoter interface {
	CalculatePrice(ctx context.Context, req rentalapi.PriceRequest) (*models.PriceBreakdown, error)
}

// LocalPricer computes the price on the client.
type LocalPricer interface {
	Compute(in pricing.Input) (models.PriceBreakdown, error)
}

// BookingCreator creates the booking on the backend.
type BookingCreator interface {
	CreateBooking(ctx context.Context, req rentalapi.CreateBookingRequest, idempotencyKey string) (*models.Booking, error)
}

// ReceiptJournal remembers idempotency keys across attempts.
type ReceiptJournal interface {
	Begin(ctx context.Context, key, fingerprint string) error
	Pending(ctx context.Context, fingerprint string) (string, bool, error)
	Confirm(ctx context.Context, key string, bookingID int64) error
	Fail(ctx context.Context, key, reason string) error
}

// Deps are the collaborators of a flow. Prices and Receipts are optional.
type Deps struct {
	Availability AvailabilityChecker
	Prices       PriceQuoter
	Calculator   LocalPricer
	Bookings     BookingCreator
	Receipts     ReceiptJournal
}

// Draft is the in-progress booking. It only lives inside a Flow.
type Draft struct {
	Customer       models.Customer
	Unit           *models.RentalUnit
	Range          models.DateRange
	AddOns         models.AddOns
	Price          *models.PriceBreakdown
	Available      bool
	IdempotencyKey string
}

// Flow drives one customer through personal info, rental details and
// confirmation. It is safe for concurrent use; results of requests that finish
// after Close are discarded.
type Flow struct {
	deps   Deps
	fsm    *FSM
	logger zerolog.Logger
	newKey func() string

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	draft      Draft
	err        error
	loading    map[Operation]bool
	priceSeq   uint64
	submitting bool
	booking    *models.Booking
}

// NewFlow starts a flow at the personal info step. Cancelling parent closes the flow.
func NewFlow(parent context.Context, deps Deps, logger zerolog.Logger) *Flow {
	ctx, cancel := context.WithCancel(parent)
	return &Flow{
		deps:    deps,
		fsm:     NewFSM(),
		logger:  logger.With().Str("component", "booking").Logger(),
		newKey:  uuid.NewString,
		ctx:     ctx,
		cancel:  cancel,
		state:   StatePersonalInfo,
		loading: make(map[Operation]bool),
	}
}

// State returns the current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Step returns the current wizard step (1..3), or 0 once the flow ended.
func (f *Flow) Step() int {
	return f.State().Step()
}

// Draft returns a copy of the draft.
func (f *Flow) Draft() Draft {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.draft
	if d.Unit != nil {
		u := *d.Unit
		d.Unit = &u
	}
	if d.Price != nil {
		p := *d.Price
		d.Price = &p
	}
	return d
}

// Err returns the last error surfaced by the flow.
func (f *Flow) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// ErrorMessage returns the customer-facing text of Err.
func (f *Flow) ErrorMessage() string {
	return domain.UserMessage(f.Err())
}

// Loading reports whether op is in flight.
func (f *Flow) Loading(op Operation) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loading[op]
}

// Booking returns the created booking after a successful submit.
func (f *Flow) Booking() *models.Booking {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.booking
}

// Close abandons the flow. In-flight requests are cancelled and their results ignored.
func (f *Flow) Close() {
	f.mu.Lock()
	if !f.state.Terminal() {
		f.state = StateClosed
		f.draft = Draft{}
	}
	f.mu.Unlock()
	f.cancel()
}

// SetCustomer stores the personal information. Only allowed on the first step.
func (f *Flow) SetCustomer(c models.Customer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.requireState("booking.SetCustomer", StatePersonalInfo); err != nil {
		return err
	}
	f.draft.Customer = c
	return nil
}

// SelectUnit chooses the motorcycle. Only allowed on the rental details step.
func (f *Flow) SelectUnit(u models.RentalUnit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.requireState("booking.SelectUnit", StateRentalDetails); err != nil {
		return err
	}
	f.draft.Unit = &u
	f.resetSelection()
	return nil
}

// SetRange chooses dates and times. Only allowed on the rental details step.
func (f *Flow) SetRange(r models.DateRange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.requireState("booking.SetRange", StateRentalDetails); err != nil {
		return err
	}
	f.draft.Range = r
	f.resetSelection()
	return nil
}

// SetAddOns changes the add-on counts. The price must be refreshed afterwards.
func (f *Flow) SetAddOns(a models.AddOns) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.requireState("booking.SetAddOns", StateRentalDetails, StateConfirmation); err != nil {
		return err
	}
	if a.Raincoats < 0 || a.Helmets < 0 {
		return domain.Validation("booking.SetAddOns", "add-on counts must not be negative")
	}
	f.draft.AddOns = a
	f.draft.Price = nil
	return nil
}

// Next validates the current step and advances. From rental details it
// re-checks availability against the backend and quotes the price first.
func (f *Flow) Next(ctx context.Context) error {
	const op = "booking.Next"

	f.mu.Lock()
	if f.ctx.Err() != nil || f.state.Terminal() {
		f.mu.Unlock()
		return domain.ErrClosed
	}
	if f.submitting {
		f.mu.Unlock()
		return domain.ErrInProgress
	}
	switch f.state {
	case StatePersonalInfo:
		defer f.mu.Unlock()
		if err := f.draft.Customer.Validate(); err != nil {
			f.err = domain.Validation(op, err.Error())
			return f.err
		}
		phone, _ := models.NormalizePhone(f.draft.Customer.Phone)
		f.draft.Customer.Phone = phone
		f.err = nil
		return f.transition(StateRentalDetails)
	case StateRentalDetails:
		f.mu.Unlock()
		return f.confirmDetails(ctx)
	default:
		state := f.state
		f.mu.Unlock()
		return domain.Validation(op, fmt.Sprintf("cannot advance from %s", state))
	}
}

// Back returns to the previous step. On steps 2 and 3 it only fails while a
// submit is in flight.
func (f *Flow) Back() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ctx.Err() != nil || f.state.Terminal() {
		return domain.ErrClosed
	}
	if f.submitting {
		return domain.ErrInProgress
	}
	prev, ok := f.fsm.Previous(f.state)
	if !ok {
		return domain.Validation("booking.Back", fmt.Sprintf("cannot go back from %s", f.state))
	}
	f.err = nil
	return f.transition(prev)
}

func (f *Flow) confirmDetails(ctx context.Context) error {
	const op = "booking.Next"

	f.mu.Lock()
	if f.loading[OpAvailability] {
		f.mu.Unlock()
		return domain.ErrInProgress
	}
	draft := f.draft
	if err := validateSelection(op, draft); err != nil {
		f.err = err
		f.mu.Unlock()
		return err
	}
	f.loading[OpAvailability] = true
	f.err = nil
	f.mu.Unlock()

	opCtx, done := f.opContext(ctx)
	available, err := f.checkAvailability(opCtx, op, draft)
	done()

	f.mu.Lock()
	f.loading[OpAvailability] = false
	if f.ctx.Err() != nil {
		f.mu.Unlock()
		return domain.ErrClosed
	}
	if !f.sameSelection(draft) {
		f.mu.Unlock()
		return domain.Validation(op, "selection changed while checking availability")
	}
	if err == nil && !available {
		err = domain.Conflict(op, domain.ErrUnavailable)
	}
	if err != nil {
		f.draft.Available = false
		f.err = err
		f.mu.Unlock()
		f.logger.Info().Err(err).Int64("unit_id", draft.Unit.ID).Msg("details not confirmed")
		return err
	}
	f.draft.Available = true
	f.mu.Unlock()

	if _, err := f.RefreshPrice(ctx); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateRentalDetails {
		return domain.ErrClosed
	}
	if f.draft.Price == nil {
		return domain.ErrInProgress
	}
	return f.transition(StateConfirmation)
}

// RefreshPrice quotes the current selection, preferring the server price and
// falling back to the local calculator. When several quotes race, only the one
// requested last is stored.
func (f *Flow) RefreshPrice(ctx context.Context) (models.PriceBreakdown, error) {
	const op = "booking.RefreshPrice"

	f.mu.Lock()
	if err := f.requireState(op, StateRentalDetails, StateConfirmation); err != nil {
		f.mu.Unlock()
		return models.PriceBreakdown{}, err
	}
	draft := f.draft
	if err := validateSelection(op, draft); err != nil {
		f.err = err
		f.mu.Unlock()
		return models.PriceBreakdown{}, err
	}
	f.priceSeq++
	seq := f.priceSeq
	f.loading[OpPrice] = true
	f.mu.Unlock()

	opCtx, done := f.opContext(ctx)
	p, err := f.quote(opCtx, draft)
	done()

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ctx.Err() != nil {
		return models.PriceBreakdown{}, domain.ErrClosed
	}
	if seq != f.priceSeq {
		// a newer quote was requested; this one must not overwrite it
		return models.PriceBreakdown{}, domain.ErrInProgress
	}
	f.loading[OpPrice] = false
	if err != nil {
		f.err = err
		return models.PriceBreakdown{}, err
	}
	f.draft.Price = &p
	return p, nil
}

// Submit books the confirmed draft: a final availability check, the
// authoritative price, then exactly one create call carrying an idempotency
// key. A failed submit keeps the draft for an explicit retry.
func (f *Flow) Submit(ctx context.Context) (*models.Booking, error) {
	const op = "booking.Submit"

	f.mu.Lock()
	if f.ctx.Err() != nil || f.state.Terminal() {
		f.mu.Unlock()
		return nil, domain.ErrClosed
	}
	if f.submitting {
		f.mu.Unlock()
		return nil, domain.ErrInProgress
	}
	if f.state != StateConfirmation {
		state := f.state
		f.mu.Unlock()
		return nil, domain.Validation(op, fmt.Sprintf("cannot submit from %s", state))
	}
	f.submitting = true
	f.loading[OpSubmit] = true
	f.err = nil
	draft := f.draft
	f.mu.Unlock()

	opCtx, done := f.opContext(ctx)
	defer done()

	booking, err := f.submit(opCtx, op, draft)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitting = false
	f.loading[OpSubmit] = false

	if f.state == StateClosed {
		if booking != nil {
			f.logger.Warn().Int64("booking_id", booking.ID).Msg("booking created after flow was closed")
		}
		return booking, domain.ErrClosed
	}
	if err != nil {
		metrics.IncBookingSubmitted(string(domain.KindOf(err)))
		f.err = err
		if domain.IsKind(err, domain.KindConflict) {
			f.draft.Available = false
		}
		if !domain.IsRetryable(err) {
			// the backend gave a definitive answer; the next attempt is a new booking
			f.draft.IdempotencyKey = ""
		}
		return nil, err
	}

	metrics.IncBookingSubmitted("created")
	f.booking = booking
	f.draft = Draft{}
	// the booking exists whatever step the flow reached meanwhile
	f.logger.Debug().Str("from", string(f.state)).Str("to", string(StateSubmitted)).Msg("state changed")
	f.state = StateSubmitted
	f.cancel()
	return booking, nil
}

func (f *Flow) submit(ctx context.Context, op string, draft Draft) (*models.Booking, error) {
	if err := validateSelection(op, draft); err != nil {
		return nil, err
	}

	available, err := f.checkAvailability(ctx, op, draft)
	if err != nil {
		return nil, err
	}
	if !available {
		return nil, domain.Conflict(op, domain.ErrUnavailable)
	}

	price, err := f.quote(ctx, draft)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	if f.state == StateConfirmation {
		f.draft.Price = &price
	}
	f.mu.Unlock()

	fingerprint := Fingerprint(draft)
	key := f.idempotencyKey(ctx, draft, fingerprint)

	req := rentalapi.CreateBookingRequest{
		CustomerName:  draft.Customer.Name,
		Phone:         draft.Customer.Phone,
		Address:       draft.Customer.Address,
		IDNumber:      draft.Customer.IDNumber,
		Email:         draft.Customer.Email,
		UnitID:        draft.Unit.ID,
		StartDate:     draft.Range.StartDate,
		EndDate:       draft.Range.EndDate,
		StartTime:     draft.Range.StartTime,
		EndTime:       draft.Range.EndTime,
		RaincoatCount: draft.AddOns.Raincoats,
		HelmetCount:   draft.AddOns.Helmets,
		TotalPrice:    price.Total,
	}

	booking, err := f.deps.Bookings.CreateBooking(ctx, req, key)
	journalCtx := context.WithoutCancel(ctx)
	if err != nil {
		err = asDomain(op, err)
		if !domain.IsRetryable(err) && f.deps.Receipts != nil {
			if jerr := f.deps.Receipts.Fail(journalCtx, key, err.Error()); jerr != nil {
				f.logger.Warn().Err(jerr).Str("key", key).Msg("mark receipt failed")
			}
		}
		f.logger.Warn().Err(err).Str("key", key).Bool("retryable", domain.IsRetryable(err)).Msg("create booking failed")
		return nil, err
	}

	if f.deps.Receipts != nil {
		if jerr := f.deps.Receipts.Confirm(journalCtx, key, booking.ID); jerr != nil {
			f.logger.Warn().Err(jerr).Str("key", key).Msg("confirm receipt")
		}
	}
	f.logger.Info().
		Int64("booking_id", booking.ID).
		Int64("unit_id", draft.Unit.ID).
		Int64("total", price.Total).
		Str("price_source", string(price.Source)).
		Msg("booking created")
	return booking, nil
}

// idempotencyKey reuses the key of a previous attempt of the same booking, from
// this flow or from the journal, and records it before the create call.
func (f *Flow) idempotencyKey(ctx context.Context, draft Draft, fingerprint string) string {
	key := draft.IdempotencyKey
	if key == "" && f.deps.Receipts != nil {
		pending, ok, err := f.deps.Receipts.Pending(ctx, fingerprint)
		if err != nil {
			f.logger.Warn().Err(err).Msg("look up pending receipt")
		} else if ok {
			key = pending
			f.logger.Info().Str("key", key).Msg("reusing pending idempotency key")
		}
	}
	if key == "" {
		key = f.newKey()
	}
	if f.deps.Receipts != nil {
		if err := f.deps.Receipts.Begin(ctx, key, fingerprint); err != nil {
			f.logger.Warn().Err(err).Str("key", key).Msg("record receipt")
		}
	}

	f.mu.Lock()
	if f.state == StateConfirmation {
		f.draft.IdempotencyKey = key
	}
	f.mu.Unlock()
	return key
}

// checkAvailability asks the backend once, retrying silently once more on a
// transport failure.
func (f *Flow) checkAvailability(ctx context.Context, op string, draft Draft) (bool, error) {
	var (
		available bool
		err       error
	)
	for attempt := 0; attempt < 2; attempt++ {
		available, err = f.deps.Availability.IsUnitAvailable(ctx, draft.Unit.ID, draft.Range)
		if err == nil {
			return available, nil
		}
		err = asDomain(op, err)
		if !domain.IsRetryable(err) || ctx.Err() != nil {
			break
		}
		f.logger.Debug().Err(err).Int("attempt", attempt+1).Msg("availability check failed")
	}
	return false, err
}

func (f *Flow) quote(ctx context.Context, draft Draft) (models.PriceBreakdown, error) {
	if f.deps.Prices != nil {
		p, err := f.deps.Prices.CalculatePrice(ctx, rentalapi.PriceRequest{
			UnitID:        draft.Unit.ID,
			StartDate:     draft.Range.StartDate,
			EndDate:       draft.Range.EndDate,
			StartTime:     draft.Range.StartTime,
			EndTime:       draft.Range.EndTime,
			RaincoatCount: draft.AddOns.Raincoats,
			HelmetCount:   draft.AddOns.Helmets,
		})
		if err == nil && p != nil {
			out := *p
			out.Source = models.PriceSourceServer
			return out, nil
		}
		if ctx.Err() != nil {
			return models.PriceBreakdown{}, domain.Transport("booking.quote", ctx.Err())
		}
		metrics.IncPriceFallback()
		f.logger.Warn().Err(err).Msg("server price unavailable, using local calculator")
	}

	return f.deps.Calculator.Compute(pricing.Input{
		DailyRate: draft.Unit.DailyRate,
		Range:     draft.Range,
		Raincoats: draft.AddOns.Raincoats,
		Helmets:   draft.AddOns.Helmets,
	})
}

// opContext derives a context for one request that is also cancelled by Close.
func (f *Flow) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	opCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(f.ctx, cancel)
	return opCtx, func() {
		stop()
		cancel()
	}
}

func (f *Flow) transition(to State) error {
	if !f.fsm.CanTransition(f.state, to) {
		return domain.Validation("booking.transition", fmt.Sprintf("%s -> %s is not allowed", f.state, to))
	}
	f.logger.Debug().Str("from", string(f.state)).Str("to", string(to)).Msg("state changed")
	f.state = to
	return nil
}

func (f *Flow) requireState(op string, allowed ...State) error {
	if f.ctx.Err() != nil || f.state.Terminal() {
		return domain.ErrClosed
	}
	if f.submitting {
		return domain.ErrInProgress
	}
	for _, s := range allowed {
		if f.state == s {
			return nil
		}
	}
	return domain.Validation(op, fmt.Sprintf("not allowed in %s", f.state))
}

func (f *Flow) resetSelection() {
	f.draft.Available = false
	f.draft.Price = nil
	f.draft.IdempotencyKey = ""
}

func (f *Flow) sameSelection(d Draft) bool {
	if f.draft.Unit == nil || d.Unit == nil {
		return f.draft.Unit == d.Unit
	}
	return f.draft.Unit.ID == d.Unit.ID && f.draft.Range == d.Range
}

func validateSelection(op string, d Draft) error {
	if d.Unit == nil {
		return domain.Validation(op, "select a motorcycle")
	}
	if err := d.Range.Validate(); err != nil {
		return domain.Validation(op, err.Error())
	}
	return nil
}

// asDomain makes sure collaborator failures carry a kind. Unknown failures,
// cancellations included, are treated as transport errors.
func asDomain(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := domain.As(err); ok || errors.Is(err, domain.ErrClosed) {
		return err
	}
	return domain.Transport(op, err)
}

// Fingerprint identifies a booking attempt for receipt reuse.
func Fingerprint(d Draft) string {
	var unitID int64
	if d.Unit != nil {
		unitID = d.Unit.ID
	}
	return fmt.Sprintf("%s|%d|%s|%s|%s|%s|%d|%d",
		d.Customer.Phone, unitID,
		d.Range.StartDate, d.Range.StartTime, d.Range.EndDate, d.Range.EndTime,
		d.AddOns.Raincoats, d.AddOns.Helmets)
}
