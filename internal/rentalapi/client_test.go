package rentalapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"motorent/internal/availability"
	"motorent/internal/domain"
	"motorent/internal/models"
)

const testAPIKey = "valid-key"

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", testAPIKey, zerolog.New(io.Discard))
}

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"message": msg})
}

func TestClient_Availability(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/motorcycles/availability", r.URL.Path)
		assert.Equal(t, testAPIKey, r.Header.Get("x-api-key"))
		assert.Equal(t, "2024-01-01", r.URL.Query().Get("startDate"))
		assert.Equal(t, "2024-01-03", r.URL.Query().Get("endDate"))
		assert.Equal(t, "08:00", r.URL.Query().Get("startTime"))
		assert.Equal(t, "5", r.URL.Query().Get("typeId"))
		assert.False(t, r.URL.Query().Has("endTime"))

		writeData(w, http.StatusOK, []map[string]any{
			{
				"id": 1, "plate": "DK 1234 AB", "color": "black", "dailyRate": 100000, "status": "AVAILABLE",
				"type": map[string]any{"id": 5, "brand": "Yamaha", "model": "NMAX", "displacement": 155, "image": "nmax.png"},
			},
		})
	})

	units, err := client.Availability(context.Background(), availability.Query{
		StartDate: "2024-01-01", EndDate: "2024-01-03", StartTime: "08:00", TypeID: 5,
	})
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, int64(100000), units[0].DailyRate)
	assert.Equal(t, models.UnitAvailable, units[0].Status)
	assert.Equal(t, "NMAX", units[0].Type.Model)
	assert.Equal(t, 155, units[0].Type.Displacement)
}

func TestClient_CalculatePrice(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/transactions/calculate-price", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body PriceRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, int64(7), body.UnitID)
		assert.Equal(t, 1, body.HelmetCount)

		writeData(w, http.StatusOK, map[string]any{
			"fullDays": 2, "extraHours": 0, "isOverdue": false,
			"basePrice": 200000, "helmetCost": 5000, "addOnCost": 5000, "total": 205000,
		})
	})

	p, err := client.CalculatePrice(context.Background(), PriceRequest{
		UnitID: 7, StartDate: "2024-01-01", EndDate: "2024-01-03", StartTime: "08:00", EndTime: "08:00", HelmetCount: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(205000), p.Total)
	assert.Equal(t, 2, p.FullDays)
	assert.Equal(t, models.PriceSourceServer, p.Source)
}

func TestClient_CreateBooking(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/transactions", r.URL.Path)
		assert.Equal(t, "key-1", r.Header.Get("Idempotency-Key"))

		var body CreateBookingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Budi", body.CustomerName)
		assert.Equal(t, int64(210000), body.TotalPrice)

		writeData(w, http.StatusCreated, map[string]any{
			"id": 42, "customerName": body.CustomerName, "unitId": body.UnitID,
			"startDate": body.StartDate, "endDate": body.EndDate, "totalPrice": body.TotalPrice, "status": "PENDING",
		})
	})

	b, err := client.CreateBooking(context.Background(), CreateBookingRequest{
		CustomerName: "Budi", Phone: "+6281234567", UnitID: 1,
		StartDate: "2024-01-01", EndDate: "2024-01-03", TotalPrice: 210000,
	}, "key-1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), b.ID)
	assert.Equal(t, models.BookingPending, b.Status)
}

func TestClient_CreateBookingUnreadableAnswerIsRetryable(t *testing.T) {
	bodies := map[string]string{
		"non-numeric id": `{"data":{"id":"B-123"}}`,
		"truncated":      `{"data":{"id":4`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusCreated)
				_, _ = w.Write([]byte(body))
			})

			b, err := client.CreateBooking(context.Background(), CreateBookingRequest{UnitID: 1}, "key-1")
			require.Error(t, err)
			assert.Nil(t, b)
			assert.Equal(t, domain.KindTransport, domain.KindOf(err))
			assert.True(t, domain.IsRetryable(err), "the booking may exist, the key must be kept")
		})
	}
}

func TestClient_HistoryAndTypes(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/transactions/history":
			assert.Equal(t, "+628123", r.URL.Query().Get("phone"))
			writeData(w, http.StatusOK, []map[string]any{{"id": 1, "status": "COMPLETED"}, {"id": 2, "status": "ACTIVE"}})
		case "/api/motorcycle-types":
			writeData(w, http.StatusOK, []map[string]any{{"id": 1, "brand": "Honda", "model": "PCX", "slug": "honda-pcx"}})
		default:
			writeMessage(w, http.StatusNotFound, "no route")
		}
	})
	ctx := context.Background()

	history, err := client.History(ctx, "+628123")
	require.NoError(t, err)
	assert.Len(t, history, 2)

	types, err := client.ListTypes(ctx)
	require.NoError(t, err)
	require.Len(t, types, 1)
	assert.Equal(t, "honda-pcx", types[0].Slug)
}

func TestClient_ErrorKinds(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		message   string
		kind      domain.Kind
		retryable bool
	}{
		{"bad request", http.StatusBadRequest, "phone is required", domain.KindValidation, false},
		{"unprocessable", http.StatusUnprocessableEntity, "invalid dates", domain.KindValidation, false},
		{"not found", http.StatusNotFound, "unit not found", domain.KindNotFound, false},
		{"conflict", http.StatusConflict, "already booked", domain.KindConflict, false},
		{"too many requests", http.StatusTooManyRequests, "", domain.KindTransport, true},
		{"server error", http.StatusBadGateway, "", domain.KindTransport, true},
		{"forbidden", http.StatusForbidden, "", domain.KindInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				writeMessage(w, tt.status, tt.message)
			})

			_, err := client.History(context.Background(), "1")
			require.Error(t, err)
			assert.Equal(t, tt.kind, domain.KindOf(err))
			assert.Equal(t, tt.retryable, domain.IsRetryable(err))

			var se *StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.status, se.StatusCode)
			assert.Equal(t, tt.message, se.Message)
		})
	}
}

func TestClient_TransportErrors(t *testing.T) {
	t.Run("timeout", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			time.Sleep(200 * time.Millisecond)
			writeData(w, http.StatusOK, nil)
		})
		client.SetTimeout(20 * time.Millisecond)

		_, err := client.ListTypes(context.Background())
		require.Error(t, err)
		assert.True(t, domain.IsRetryable(err))
	})

	t.Run("connection refused", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		addr := srv.URL
		srv.Close()

		client := NewClient(addr, "", zerolog.New(io.Discard))
		_, err := client.ListTypes(context.Background())
		require.Error(t, err)
		assert.Equal(t, domain.KindTransport, domain.KindOf(err))
	})

	t.Run("malformed body", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("<html>"))
		})
		_, err := client.ListTypes(context.Background())
		require.Error(t, err)
		assert.Equal(t, domain.KindInternal, domain.KindOf(err))
	})
}

func TestClient_RateLimit(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls++
		writeData(w, http.StatusOK, []any{})
	})
	client.UseRateLimit(0.001, 1)

	_, err := client.ListTypes(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = client.ListTypes(ctx)
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))
	assert.Equal(t, 1, calls)
}

func TestClient_HealthCheck(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	assert.NoError(t, client.HealthCheck(context.Background()))
}
