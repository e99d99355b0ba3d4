package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xela07ax/netchange-gateway/internal/console/handler"
	"github.com/xela07ax/netchange-gateway/internal/infra"
	"github.com/xela07ax/netchange-gateway/internal/infra/auth"
	"go.uber.org/zap"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	// Проверка токенов (RS256)
	authValidator auth.TokenValidator

	// Обработчики бизнес-доменов
	authHandler   *handler.AuthHandler   // /auth/token
	changeHandler *handler.ChangeHandler // /v1/changes
	auditHandler  *handler.AuditHandler  // /v1/audit

	metricsReg prometheus.Gatherer
}

// NewConsoleServer инициализирует операторскую консоль со всеми зависимостями
func NewConsoleServer(
	cfg *infra.Config,
	logger *zap.Logger,
	validator auth.TokenValidator,
	authH *handler.AuthHandler,
	changeH *handler.ChangeHandler,
	auditH *handler.AuditHandler,
	metricsReg prometheus.Gatherer,
) *ConsoleServer {
	s := &ConsoleServer{
		router:        chi.NewRouter(),
		logger:        logger.Named("console-api"),
		cfg:           cfg,
		authValidator: validator,
		authHandler:   authH,
		changeHandler: changeH,
		auditHandler:  auditH,
		metricsReg:    metricsReg,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ (открыты для всех) ---
	r.Group(func(r chi.Router) {
		// Логин должен быть доступен без токена
		r.Post("/auth/token", s.authHandler.Login)

		// Healthcheck для мониторинга
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

		if s.metricsReg != nil {
			r.Method(http.MethodGet, "/metrics",
				promhttp.HandlerFor(s.metricsReg, promhttp.HandlerOpts{}))
		}
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (требует RS256 токен) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		// Изменения: подача, очередь подтверждений, решения
		r.Route("/v1/changes", func(r chi.Router) {
			r.Post("/", s.changeHandler.Submit)
			r.Get("/", s.changeHandler.List) // Очередь на подтверждение
			r.Post("/cancel", s.changeHandler.Cancel)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.changeHandler.Get)
				r.Post("/decide", s.changeHandler.Decide) // Approve/Reject + Redis Publish
			})
		})

		// Журнал изменений и откаты
		r.Route("/v1/audit", func(r chi.Router) {
			r.Get("/", s.auditHandler.List)
			r.Route("/{changeID}", func(r chi.Router) {
				r.Get("/", s.auditHandler.Get)
				r.Post("/rollback", s.auditHandler.Rollback)
			})
		})
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
