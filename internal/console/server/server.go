package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/opsguard/internal/console/handler"
	"github.com/xela07ax/opsguard/internal/infra/auth"
	"go.uber.org/zap"
)

type Options struct {
	// Validator проверяет RS256 токены на изменяющих маршрутах. nil, без авторизации.
	Validator auth.TokenValidator
	Toggler   handler.RuleToggler
	Journal   handler.JournalReader
}

// APIServer: HTTP API ядра мониторинга.
type APIServer struct {
	router *chi.Mux
	logger *zap.Logger
	opts   Options

	alertHandler    *handler.AlertHandler      // /v1/alerts
	ruleHandler     *handler.RuleHandler       // /v1/rules
	recoveryHandler *handler.RecoveryHandler   // /v1/recovery
	errorHandler    *handler.ErrorHandler      // /v1/errors
	reportHandler   *handler.ReportHandler     // /v1/components, /v1/report, /v1/journal
	monitorHandler  *handler.MonitoringHandler // /v1/samples, /v1/monitoring
	streamHandler   *handler.StreamHandler     // /v1/stream
	core            handler.Core
}

func NewAPIServer(core handler.Core, opts Options, logger *zap.Logger) *APIServer {
	logger = logger.Named("api")
	s := &APIServer{
		router:          chi.NewRouter(),
		logger:          logger,
		opts:            opts,
		core:            core,
		alertHandler:    handler.NewAlertHandler(core),
		ruleHandler:     handler.NewRuleHandler(core, opts.Toggler, logger),
		recoveryHandler: handler.NewRecoveryHandler(core),
		errorHandler:    handler.NewErrorHandler(core),
		reportHandler:   handler.NewReportHandler(core, opts.Journal),
		monitorHandler:  handler.NewMonitoringHandler(core),
		streamHandler:   handler.NewStreamHandler(core, logger),
	}
	s.routes()
	return s
}

func (s *APIServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware ---
	r.Use(TracingMiddleware)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", s.health)

	r.Route("/v1", func(r chi.Router) {
		// --- 2. Чтение открыто ---
		r.Get("/alerts", s.alertHandler.List)
		r.Get("/alerts/{id}", s.alertHandler.Get)
		r.Get("/components", s.reportHandler.Components)
		r.Get("/rules", s.ruleHandler.List)
		r.Get("/recovery/actions", s.recoveryHandler.Actions)
		r.Get("/recovery/history", s.recoveryHandler.History)
		r.Get("/errors", s.errorHandler.List)
		r.Get("/report", s.reportHandler.Export)
		r.Get("/journal", s.reportHandler.Journal)
		r.Get("/samples", s.monitorHandler.Samples)
		r.Get("/stream", s.streamHandler.Serve)

		// --- 3. Изменяющие операции (scope ops.write, если настроен ключ) ---
		r.Group(func(r chi.Router) {
			if s.opts.Validator != nil {
				r.Use(auth.NewMiddleware(s.opts.Validator, auth.ScopeOpsWrite, s.logger))
			}
			r.Post("/alerts/{id}/ack", s.alertHandler.Acknowledge)
			r.Post("/alerts/{id}/resolve", s.alertHandler.Resolve)
			r.Put("/rules/{id}", s.ruleHandler.Upsert)
			r.Post("/rules/{id}/enable", s.ruleHandler.Enable)
			r.Post("/rules/{id}/disable", s.ruleHandler.Disable)
			r.Post("/recovery/actions/{id}/execute", s.recoveryHandler.Execute)
			r.Post("/errors", s.errorHandler.Report)
			r.Post("/errors/{id}/resolve", s.errorHandler.Resolve)
			r.Post("/monitoring/pause", s.monitorHandler.Pause)
			r.Post("/monitoring/resume", s.monitorHandler.Resume)
		})
	})
}

func (s *APIServer) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !s.core.IsMonitoring() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"paused"}`))
		return
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// ServeHTTP позволяет использовать APIServer как стандартный http.Handler
func (s *APIServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
