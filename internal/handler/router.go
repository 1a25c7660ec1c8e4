package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ragops-session/server/internal/handler/query"
	"github.com/ragops-session/server/internal/handler/session"
	"github.com/ragops-session/server/internal/metrics"
	"github.com/ragops-session/server/internal/session/conversations"
	"github.com/ragops-session/server/internal/session/orchestrator"
	"github.com/ragops-session/server/pkg/httpx"
	logx "github.com/ragops-session/server/pkg/logger"
)

const probeTimeout = 2 * time.Second

// Probe is one dependency reported by /healthz. A failing optional probe
// degrades the report without failing it.
type Probe struct {
	Name     string
	Ping     func(ctx context.Context) error
	Optional bool
}

// NewRouter wires HTTP routes to the session services.
func NewRouter(sessions *conversations.Service, orch *orchestrator.Orchestrator, m *metrics.Metrics, probes ...Probe) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(AccessLog)
	r.Use(middleware.Recoverer)

	sessionHandler := session.New(sessions)
	queryHandler := query.New(orch)

	r.Route("/api/v1/sessions", func(api chi.Router) {
		queryHandler.RegisterRoutes(api)
		sessionHandler.RegisterRoutes(api)
	})

	r.Get("/healthz", healthz(probes))
	r.Method(http.MethodGet, "/metrics", m.Handler())

	return r
}

type healthReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func healthz(probes []Probe) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := healthReport{Status: "ok", Checks: make(map[string]string, len(probes))}
		status := http.StatusOK

		for _, p := range probes {
			ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
			err := p.Ping(ctx)
			cancel()

			if err == nil {
				report.Checks[p.Name] = "ok"
				continue
			}
			report.Checks[p.Name] = err.Error()
			logx.Warn().Err(err).Str("probe", p.Name).Msg("health probe failed")
			if p.Optional {
				if report.Status == "ok" {
					report.Status = "degraded"
				}
				continue
			}
			report.Status = "unavailable"
			status = http.StatusServiceUnavailable
		}

		httpx.RespondJSON(w, status, report)
	}
}
