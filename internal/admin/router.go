// Package admin serves the operational HTTP surface of a service: health,
// Prometheus metrics and the circuit-breaker admin API.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quynguyen1908/MobileShop-Backend-sub000/pkg/breaker"
)

// Breakers is the admin view of the RPC dispatcher.
type Breakers interface {
	Status() map[string]breaker.Stats
	ResetBreaker(serviceID string) error
	OpenBreaker(serviceID string) error
}

// Health reports readiness, e.g. the broker connection state.
type Health func(ctx context.Context) error

type Config struct {
	Service    string
	Log        *slog.Logger
	Gatherer   prometheus.Gatherer
	Breakers   Breakers
	Authorizer Authorizer
	Health     Health
}

type statusOutput struct {
	Body map[string]breaker.Stats
}

type serviceInput struct {
	ServiceID string `path:"serviceId" doc:"Downstream service id" minLength:"1"`
}

type breakerState struct {
	ServiceID string `json:"serviceId"`
	State     string `json:"state"`
}

type actionOutput struct {
	Body breakerState
}

func NewRouter(cfg Config) http.Handler {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(cfg.Log))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if cfg.Health != nil {
			if err := cfg.Health(req.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	api := humachi.New(r, huma.DefaultConfig(cfg.Service+" admin", "1.0.0"))
	api.UseMiddleware(bearerAuth(api, cfg.Authorizer))
	registerBreakers(api, cfg.Breakers)
	return r
}

func registerBreakers(api huma.API, b Breakers) {
	huma.Register(api, huma.Operation{
		OperationID: "circuit-breakers-status",
		Summary:     "Circuit breaker status",
		Method:      http.MethodGet,
		Path:        "/v1/health/circuit-breakers",
		Tags:        []string{"Health"},
	}, func(_ context.Context, _ *struct{}) (*statusOutput, error) {
		return &statusOutput{Body: b.Status()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "circuit-breaker-reset",
		Summary:     "Force a circuit closed",
		Method:      http.MethodGet,
		Path:        "/v1/health/circuit-breakers/{serviceId}/reset",
		Tags:        []string{"Health"},
	}, func(_ context.Context, in *serviceInput) (*actionOutput, error) {
		if err := b.ResetBreaker(in.ServiceID); err != nil {
			return nil, schemaError(err)
		}
		return &actionOutput{Body: breakerState{ServiceID: in.ServiceID, State: breaker.StateClosed.String()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "circuit-breaker-open",
		Summary:     "Force a circuit open",
		Method:      http.MethodGet,
		Path:        "/v1/health/circuit-breakers/{serviceId}/open",
		Tags:        []string{"Health"},
	}, func(_ context.Context, in *serviceInput) (*actionOutput, error) {
		if err := b.OpenBreaker(in.ServiceID); err != nil {
			return nil, schemaError(err)
		}
		return &actionOutput{Body: breakerState{ServiceID: in.ServiceID, State: breaker.StateOpen.String()}}, nil
	})
}

func schemaError(err error) error {
	if errors.Is(err, breaker.ErrUnknownBreaker) {
		return huma.Error404NotFound(err.Error())
	}
	return huma.Error500InternalServerError(err.Error())
}

func accessLog(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("http_request",
				slog.String("request_id", middleware.GetReqID(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}
