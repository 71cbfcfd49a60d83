package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sarathi/internal/auth"
	"sarathi/internal/pickup"
	"sarathi/internal/testutil"
	"sarathi/models"
	"sarathi/repository"
)

const testSecret = "test-secret"

type apiFixture struct {
	handler    http.Handler
	collectors *repository.CollectorRepository
}

func newAPIFixture(t *testing.T, name string, ready Pinger) *apiFixture {
	t.Helper()
	d := testutil.OpenInMemoryDB(t, name)
	collectors := repository.NewCollectorRepository(d)
	svc, err := pickup.New(pickup.Deps{
		Orders:        repository.NewOrderRepository(d),
		Collectors:    collectors,
		Citizens:      repository.NewCitizenRepository(d),
		Notifications: repository.NewNotificationRepository(d),
		Now:           func() time.Time { return time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC) },
		Location:      time.UTC,
	})
	require.NoError(t, err)
	return &apiFixture{
		handler:    NewRouter(Options{Service: svc, JWTSecret: testSecret, Ready: ready, Env: "test"}),
		collectors: collectors,
	}
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, dest any) {
	t.Helper()
	env := struct {
		Data json.RawMessage `json:"data"`
	}{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, dest))
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) apiError {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env.Error
}

// onboard creates an approved collector and returns its id and token.
func (f *apiFixture) onboard(t *testing.T, name string) (string, string) {
	t.Helper()
	c, err := f.collectors.Create(context.Background(), &models.Collector{Name: name, Phone: "+919800000001"})
	require.NoError(t, err)
	require.NoError(t, f.collectors.Approve(context.Background(), c.ID))
	return c.ID, testutil.GenerateJWTHS256(t, testSecret, c.ID, auth.KindCollector)
}

func orderBody() map[string]any {
	return map[string]any{
		"name":        "Asha",
		"phone":       "+919811111111",
		"address":     "12 MG Road",
		"lat":         12.9716,
		"lng":         77.5946,
		"category":    "dry",
		"weight_kg":   12,
		"pickup_date": "2026-03-02",
		"pickup_time": "10:00",
	}
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t, "http_health", nil)
	w := f.do(t, http.MethodGet, "/health/live", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "test", w.Header().Get("X-Sarathi-Env"))
	require.NotEmpty(t, w.Header().Get(requestIDHeader))

	w = f.do(t, http.MethodGet, "/health/ready", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	down := newAPIFixture(t, "http_health_down", func(context.Context) error { return errors.New("db gone") })
	w = down.do(t, http.MethodGet, "/health/ready", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Equal(t, "RETRIEVAL_ERROR", decodeError(t, w).Code)
}

func TestAuthAndRoleGate(t *testing.T) {
	f := newAPIFixture(t, "http_auth", nil)

	w := f.do(t, http.MethodGet, "/api/v1/citizen/orders", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/citizen/orders", "garbage", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	collector := testutil.GenerateJWTHS256(t, testSecret, "col-1", auth.KindCollector)
	w = f.do(t, http.MethodGet, "/api/v1/citizen/orders", collector, nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	citizen := testutil.GenerateJWTHS256(t, testSecret, "cit-1", auth.KindCitizen)
	w = f.do(t, http.MethodGet, "/api/v1/collector/tasks", citizen, nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/citizen/orders", citizen, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []models.Order
	decodeData(t, w, &list)
	require.Empty(t, list)
}

func TestCreateOrder_RejectsInvalidBodies(t *testing.T) {
	f := newAPIFixture(t, "http_create_invalid", nil)
	citizen := testutil.GenerateJWTHS256(t, testSecret, "cit-1", auth.KindCitizen)

	body := orderBody()
	body["category"] = "plutonium"
	w := f.do(t, http.MethodPost, "/api/v1/citizen/orders", citizen, body)
	require.Equal(t, http.StatusBadRequest, w.Code)
	apiErr := decodeError(t, w)
	require.Equal(t, "VALIDATION_ERROR", apiErr.Code)
	require.Contains(t, apiErr.Details, "category")

	body = orderBody()
	body["surprise"] = true
	w = f.do(t, http.MethodPost, "/api/v1/citizen/orders", citizen, body)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/citizen/orders", citizen, "{not json")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateOrder_WeightHasNoUpperBound(t *testing.T) {
	f := newAPIFixture(t, "http_create_weight", nil)
	citizen := testutil.GenerateJWTHS256(t, testSecret, "cit-1", auth.KindCitizen)

	body := orderBody()
	body["weight_kg"] = 2500
	w := f.do(t, http.MethodPost, "/api/v1/citizen/orders", citizen, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	body["weight_kg"] = -1
	w = f.do(t, http.MethodPost, "/api/v1/citizen/orders", citizen, body)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, decodeError(t, w).Details, "weight_kg")
}

func TestPickupFlowOverHTTP(t *testing.T) {
	f := newAPIFixture(t, "http_flow", nil)
	citizen := testutil.GenerateJWTHS256(t, testSecret, "cit-1", auth.KindCitizen)
	collectorID, collector := f.onboard(t, "Ravi")

	w := f.do(t, http.MethodPut, "/api/v1/collector/availability", collector, map[string]any{"online": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = f.do(t, http.MethodPut, "/api/v1/collector/location", collector, map[string]any{"lat": 12.98, "lng": 77.5946})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, http.MethodPost, "/api/v1/citizen/orders", citizen, orderBody())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created pickup.CreateOrderResult
	decodeData(t, w, &created)
	require.NotNil(t, created.Assignment)
	require.Equal(t, collectorID, created.Assignment.CollectorID)
	orderPath := "/api/v1/collector/tasks/" + created.Order.ID

	w = f.do(t, http.MethodGet, "/api/v1/citizen/orders/"+created.Order.ID+"/qr", citizen, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var qr qrResponse
	decodeData(t, w, &qr)
	require.Equal(t, created.QRPayload, qr.Payload)

	w = f.do(t, http.MethodPost, orderPath+"/verify", collector, map[string]any{"payload": qr.Payload})
	require.Equal(t, http.StatusConflict, w.Code, "verification before arrival")
	require.Equal(t, "INVALID_TRANSITION", decodeError(t, w).Code)

	w = f.do(t, http.MethodPost, orderPath+"/arrive", collector, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, http.MethodPost, orderPath+"/verify", collector, map[string]any{"payload": `{"orderId":"SAR-20260301-OTHER1"}`})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.Equal(t, "PAYLOAD_MISMATCH", decodeError(t, w).Code)

	w = f.do(t, http.MethodPost, orderPath+"/verify", collector, map[string]any{"payload": qr.Payload})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = f.do(t, http.MethodPost, orderPath+"/complete", collector, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var done models.Order
	decodeData(t, w, &done)
	require.Equal(t, models.OrderStatusCompleted, done.Status)
	require.Equal(t, 24, done.EcoPoints)

	w = f.do(t, http.MethodGet, "/api/v1/citizen/stats", citizen, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats pickup.CitizenStats
	decodeData(t, w, &stats)
	require.Equal(t, 24, stats.EcoPoints)
	require.Equal(t, 1, stats.CompletedOrders)

	w = f.do(t, http.MethodGet, "/api/v1/collector/stats", collector, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var cstats pickup.CollectorStats
	decodeData(t, w, &cstats)
	require.Equal(t, 1, cstats.CompletedToday)

	w = f.do(t, http.MethodGet, "/api/v1/collector/history", collector, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var history []models.Order
	decodeData(t, w, &history)
	require.Len(t, history, 1)
	require.Equal(t, created.Order.ID, history[0].ID)

	w = f.do(t, http.MethodGet, "/api/v1/collector/history", citizen, nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/citizen/notifications?limit=2", citizen, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var notes []models.Notification
	decodeData(t, w, &notes)
	require.Len(t, notes, 2)

	w = f.do(t, http.MethodGet, "/api/v1/citizen/notifications?limit=abc", citizen, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/citizen/orders/"+created.Order.ID+"/cancel", citizen, nil)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestCitizenCannotSeeOthersOrders(t *testing.T) {
	f := newAPIFixture(t, "http_isolation", nil)
	owner := testutil.GenerateJWTHS256(t, testSecret, "cit-1", auth.KindCitizen)
	other := testutil.GenerateJWTHS256(t, testSecret, "cit-2", auth.KindCitizen)

	w := f.do(t, http.MethodPost, "/api/v1/citizen/orders", owner, orderBody())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created pickup.CreateOrderResult
	decodeData(t, w, &created)
	require.Nil(t, created.Assignment)

	w = f.do(t, http.MethodGet, "/api/v1/citizen/orders/"+created.Order.ID, other, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	w = f.do(t, http.MethodGet, "/api/v1/citizen/orders/missing", owner, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/citizen/orders/"+created.Order.ID+"/cancel", owner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var cancelled models.Order
	decodeData(t, w, &cancelled)
	require.Equal(t, models.OrderStatusCancelled, cancelled.Status)
}

func TestRecoverer(t *testing.T) {
	h := Recoverer(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	apiErr := decodeError(t, w)
	require.Equal(t, "INTERNAL_ERROR", apiErr.Code)
	require.Equal(t, "internal server error", apiErr.Message)
}
