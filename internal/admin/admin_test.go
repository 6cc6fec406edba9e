package admin_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quynguyen1908/MobileShop-Backend-sub000/internal/admin"
	"github.com/quynguyen1908/MobileShop-Backend-sub000/pkg/breaker"
	"github.com/quynguyen1908/MobileShop-Backend-sub000/pkg/rpc"
)

const token = "s3cret"

func newServer(t *testing.T, health admin.Health) (*httptest.Server, *rpc.Dispatcher) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := breaker.NewRegistry(log)
	reg.Get("order-service")

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(reg)

	d := rpc.NewDispatcher(reg, log)
	srv := httptest.NewServer(admin.NewRouter(admin.Config{
		Service:    "payment-service",
		Log:        log,
		Gatherer:   promReg,
		Breakers:   d,
		Authorizer: admin.NewStaticTokenAuthorizer(token),
		Health:     health,
	}))
	t.Cleanup(srv.Close)
	return srv, d
}

func get(t *testing.T, url, bearer string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestBreakerRoutesRequireAdminToken(t *testing.T) {
	srv, _ := newServer(t, nil)

	code, _ := get(t, srv.URL+"/v1/health/circuit-breakers", "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = get(t, srv.URL+"/v1/health/circuit-breakers", "wrong")
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = get(t, srv.URL+"/v1/health/circuit-breakers/order-service/open", "")
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestBreakerStatus(t *testing.T) {
	srv, _ := newServer(t, nil)

	code, body := get(t, srv.URL+"/v1/health/circuit-breakers", token)
	require.Equal(t, http.StatusOK, code, string(body))

	var got map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &got))
	require.Contains(t, got, "order-service")
	var st breaker.Stats
	require.NoError(t, json.Unmarshal(got["order-service"], &st))
	assert.Equal(t, "CLOSED", st.State)
}

func TestOpenAndResetBreaker(t *testing.T) {
	srv, d := newServer(t, nil)

	code, body := get(t, srv.URL+"/v1/health/circuit-breakers/order-service/open", token)
	require.Equal(t, http.StatusOK, code, string(body))
	assert.JSONEq(t, `{"serviceId":"order-service","state":"OPEN"}`, stripSchema(t, body))
	assert.Equal(t, "OPEN", d.Status()["order-service"].State)

	code, body = get(t, srv.URL+"/v1/health/circuit-breakers/order-service/reset", token)
	require.Equal(t, http.StatusOK, code, string(body))
	assert.Equal(t, "CLOSED", d.Status()["order-service"].State)
}

func TestUnknownBreakerIsNotFound(t *testing.T) {
	srv, _ := newServer(t, nil)

	code, _ := get(t, srv.URL+"/v1/health/circuit-breakers/ghost/reset", token)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = get(t, srv.URL+"/v1/health/circuit-breakers/ghost/open", token)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	srv, _ := newServer(t, nil)

	code, body := get(t, srv.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", string(body))

	code, body = get(t, srv.URL+"/metrics", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `rpc_breaker_state{service_id="order-service"} 0`)
}

func TestHealthReportsNotReady(t *testing.T) {
	srv, _ := newServer(t, func(context.Context) error { return errors.New("rabbitmq: not connected") })

	code, body := get(t, srv.URL+"/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, string(body), "not connected")
}

func TestStaticTokenAuthorizerRejectsEverythingWithoutToken(t *testing.T) {
	a := admin.NewStaticTokenAuthorizer("")
	assert.ErrorIs(t, a.Authorize(context.Background(), ""), admin.ErrUnauthorized)
	assert.ErrorIs(t, a.Authorize(context.Background(), "anything"), admin.ErrUnauthorized)
	assert.NoError(t, admin.NewStaticTokenAuthorizer("t").Authorize(context.Background(), "t"))
}

// stripSchema drops the "$schema" link huma adds to response bodies.
func stripSchema(t *testing.T, body []byte) string {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(body, &m))
	delete(m, "$schema")
	out, err := json.Marshal(m)
	require.NoError(t, err)
	return strings.TrimSpace(string(out))
}
