// Package rentalapi is the HTTP client for the rental backend REST API.
package rentalapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"motorent/internal/availability"
	"motorent/internal/domain"
	"motorent/internal/metrics"
	"motorent/internal/models"
)

const (
	DefaultTimeout = 30 * time.Second

	idempotencyHeader = "Idempotency-Key"
	maxErrorBody      = 4 << 10
)

// errUndecodable marks a 2xx response whose body could not be read or decoded.
var errUndecodable = errors.New("undecodable response")

// Client calls the rental backend. Every error it returns is a *domain.Error.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

// NewClient constructs a client with baseURL and an optional API key.
func NewClient(baseURL, apiKey string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     logger.With().Str("component", "rentalapi").Logger(),
	}
}

// SetTimeout changes the per-request timeout.
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.httpClient.Timeout = d
	}
}

// UseRateLimit throttles outbound calls to rps requests per second with the given burst.
func (c *Client) UseRateLimit(rps float64, burst int) {
	if rps <= 0 {
		c.limiter = nil
		return
	}
	if burst < 1 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
}

// StatusError is a non-2xx response from the backend.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// PriceRequest is the body of the price calculation call.
type PriceRequest struct {
	UnitID        int64  `json:"unitId"`
	StartDate     string `json:"startDate"`
	EndDate       string `json:"endDate"`
	StartTime     string `json:"startTime"`
	EndTime       string `json:"endTime"`
	RaincoatCount int    `json:"raincoatCount"`
	HelmetCount   int    `json:"helmetCount"`
}

// CreateBookingRequest is the body of the create booking call.
type CreateBookingRequest struct {
	CustomerName  string `json:"customerName"`
	Phone         string `json:"phone"`
	Address       string `json:"address,omitempty"`
	IDNumber      string `json:"idNumber,omitempty"`
	Email         string `json:"email,omitempty"`
	UnitID        int64  `json:"unitId"`
	StartDate     string `json:"startDate"`
	EndDate       string `json:"endDate"`
	StartTime     string `json:"startTime"`
	EndTime       string `json:"endTime"`
	RaincoatCount int    `json:"raincoatCount"`
	HelmetCount   int    `json:"helmetCount"`
	TotalPrice    int64  `json:"totalPrice,omitempty"`
}

type envelope struct {
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// Availability lists the units free for the query.
func (c *Client) Availability(ctx context.Context, q availability.Query) ([]models.RentalUnit, error) {
	const op = "rentalapi.Availability"
	endpoint := fmt.Sprintf("%s/api/motorcycles/availability?%s", c.baseURL, q.Values().Encode())
	var units []models.RentalUnit
	if err := c.doGet(ctx, op, endpoint, &units); err != nil {
		return nil, err
	}
	return units, nil
}

// CalculatePrice asks the backend for the authoritative price breakdown.
func (c *Client) CalculatePrice(ctx context.Context, body PriceRequest) (*models.PriceBreakdown, error) {
	const op = "rentalapi.CalculatePrice"
	endpoint := fmt.Sprintf("%s/api/transactions/calculate-price", c.baseURL)
	var p models.PriceBreakdown
	if err := c.doPost(ctx, op, endpoint, body, nil, &p); err != nil {
		return nil, err
	}
	p.Source = models.PriceSourceServer
	return &p, nil
}

// CreateBooking creates a booking. The call is never retried here; the key lets the
// backend recognize a repeated attempt.
func (c *Client) CreateBooking(ctx context.Context, body CreateBookingRequest, idempotencyKey string) (*models.Booking, error) {
	const op = "rentalapi.CreateBooking"
	endpoint := fmt.Sprintf("%s/api/transactions", c.baseURL)
	headers := map[string]string{}
	if idempotencyKey != "" {
		headers[idempotencyHeader] = idempotencyKey
	}
	var b models.Booking
	if err := c.doPost(ctx, op, endpoint, body, headers, &b); err != nil {
		if errors.Is(err, errUndecodable) {
			// the backend accepted the request; only its answer is unreadable
			return nil, domain.Transport(op, fmt.Errorf("booking outcome unknown: %w", err))
		}
		return nil, err
	}
	return &b, nil
}

// History returns past bookings made with phone.
func (c *Client) History(ctx context.Context, phone string) ([]models.Booking, error) {
	const op = "rentalapi.History"
	endpoint := fmt.Sprintf("%s/api/transactions/history?phone=%s", c.baseURL, url.QueryEscape(phone))
	var bookings []models.Booking
	if err := c.doGet(ctx, op, endpoint, &bookings); err != nil {
		return nil, err
	}
	return bookings, nil
}

// ListTypes returns all motorcycle types.
func (c *Client) ListTypes(ctx context.Context) ([]models.RentalType, error) {
	const op = "rentalapi.ListTypes"
	endpoint := fmt.Sprintf("%s/api/motorcycle-types", c.baseURL)
	var types []models.RentalType
	if err := c.doGet(ctx, op, endpoint, &types); err != nil {
		return nil, err
	}
	return types, nil
}

// HealthCheck checks if the backend answers.
func (c *Client) HealthCheck(ctx context.Context) error {
	const op = "rentalapi.HealthCheck"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", http.NoBody)
	if err != nil {
		return domain.Wrap(domain.KindInternal, op, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Transport(op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return classify(op, &StatusError{StatusCode: resp.StatusCode})
	}
	return nil
}

func (c *Client) doGet(ctx context.Context, op, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return domain.Wrap(domain.KindInternal, op, err)
	}
	c.addHeaders(req)
	return c.do(op, req, out)
}

func (c *Client) doPost(ctx context.Context, op, endpoint string, body any, headers map[string]string, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return domain.Wrap(domain.KindInternal, op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return domain.Wrap(domain.KindInternal, op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	c.addHeaders(req)
	return c.do(op, req, out)
}

func (c *Client) do(op string, req *http.Request, out any) (err error) {
	started := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(domain.KindOf(err))
		}
		metrics.ObserveAPIRequest(op, outcome, started)
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return domain.Transport(op, err)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("op", op).Msg("request failed")
		return domain.Transport(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return classify(op, readStatusError(resp))
	}
	if out == nil {
		return nil
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return domain.Wrap(domain.KindInternal, op, fmt.Errorf("%w: %w", errUndecodable, err))
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return domain.Wrap(domain.KindInternal, op, fmt.Errorf("%w: data: %w", errUndecodable, err))
	}
	return nil
}

func (c *Client) addHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
}

func readStatusError(resp *http.Response) *StatusError {
	se := &StatusError{StatusCode: resp.StatusCode}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(body) == 0 {
		return se
	}
	var env envelope
	if json.Unmarshal(body, &env) == nil && env.Message != "" {
		se.Message = env.Message
	}
	return se
}

// classify maps an HTTP status onto an error kind.
func classify(op string, se *StatusError) *domain.Error {
	var kind domain.Kind
	switch {
	case se.StatusCode == http.StatusBadRequest, se.StatusCode == http.StatusUnprocessableEntity:
		kind = domain.KindValidation
	case se.StatusCode == http.StatusNotFound:
		kind = domain.KindNotFound
	case se.StatusCode == http.StatusConflict:
		kind = domain.KindConflict
	case se.StatusCode == http.StatusRequestTimeout,
		se.StatusCode == http.StatusTooManyRequests,
		se.StatusCode >= 500:
		kind = domain.KindTransport
	default:
		kind = domain.KindInternal
	}
	return &domain.Error{Kind: kind, Op: op, Message: se.Message, Err: se}
}
