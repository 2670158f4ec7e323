package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"cratsale/core/events"
	"cratsale/native/bank"
	"cratsale/native/sale"
	"cratsale/observability"
	"cratsale/services/saled/storage"
)

// Journal is the append-only record of purchases and owner actions kept next
// to the engine state.
type Journal interface {
	NonceStore
	Ping(ctx context.Context) error
	RecordPurchase(ctx context.Context, p *storage.Purchase) error
	ListPurchases(ctx context.Context, buyer string, limit int) ([]storage.Purchase, error)
	RecordAdminAction(ctx context.Context, actor, action, details string) (storage.AdminAction, error)
	ListAdminActions(ctx context.Context, limit int) ([]storage.AdminAction, error)
}

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress   string
	MaxClockSkew    time.Duration
	RateLimit       RateLimit
	Operator        OperatorAuthConfig
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// Now overrides the clock used for signature freshness checks.
	Now func() time.Time
	// Events backs /v1/journal/events. Nil serves an empty list.
	Events EventLog
}

// EventLog exposes recently emitted engine and ledger events.
type EventLog interface {
	Events() []events.Event
}

// Server exposes the sale engine and its token ledger over HTTP.
type Server struct {
	cfg     Config
	engine  *sale.Engine
	ledger  *bank.Ledger
	journal Journal
	logger  *slog.Logger

	signer   *SignatureAuthenticator
	operator *OperatorAuthenticator
	limiter  *RateLimiter

	saleMetrics *observability.SaleMetrics
	httpMetrics *observability.HTTPMetrics
	tracer      trace.Tracer

	router http.Handler
}

// New wires the router. The engine, ledger and journal are required.
func New(cfg Config, engine *sale.Engine, ledger *bank.Ledger, journal Journal, logger *slog.Logger) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("sale engine required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("token ledger required")
	}
	if journal == nil {
		return nil, fmt.Errorf("journal required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	signer, err := NewSignatureAuthenticator(journal, cfg.MaxClockSkew, cfg.Now)
	if err != nil {
		return nil, err
	}
	signer.SetLogger(logger)
	srv := &Server{
		cfg:         cfg,
		engine:      engine,
		ledger:      ledger,
		journal:     journal,
		logger:      logger,
		signer:      signer,
		operator:    NewOperatorAuthenticator(cfg.Operator, logger),
		saleMetrics: observability.Sale(),
		httpMetrics: observability.HTTP(),
		tracer:      otel.Tracer("cratsale/saled"),
	}
	srv.limiter = NewRateLimiter(cfg.RateLimit, srv.httpMetrics)
	srv.router = srv.buildRouter()
	srv.recordState()
	return srv, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.ListenAddress,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.logger.Info("saled: http server listening", slog.String("address", s.cfg.ListenAddress))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.instrument)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Get("/state", s.handleState)
		api.Get("/accounts/{address}", s.handleAccount)
		api.Get("/quote", s.handleQuote)
		api.Get("/preview-rebate", s.handlePreviewRebate)
		api.Get("/convert", s.handleConvert)
		api.Get("/tokens", s.handleListTokens)
		api.Get("/tokens/{token}/balances/{owner}", s.handleBalance)
		api.Get("/tokens/{token}/allowances/{owner}/{spender}", s.handleAllowance)

		api.Group(func(signed chi.Router) {
			signed.Use(s.signer.Middleware)
			signed.With(s.limiter.Middleware("buy")).Post("/buy", s.handleBuy)
			signed.With(s.limiter.Middleware("tokens")).Post("/tokens/{token}/approve", s.handleApprove)
			signed.With(s.limiter.Middleware("tokens")).Post("/tokens/{token}/transfer", s.handleTransfer)
			signed.Route("/admin", func(admin chi.Router) {
				admin.Use(s.limiter.Middleware("admin"))
				admin.Post("/pause", s.handlePause)
				admin.Post("/unpause", s.handleUnpause)
				admin.Post("/referral-rate", s.handleReferralRate)
				admin.Post("/withdraw", s.handleWithdraw)
				admin.Post("/ownership", s.handleTransferOwnership)
				admin.Post("/ownership/renounce", s.handleRenounceOwnership)
			})
		})

		api.Group(func(ops chi.Router) {
			ops.Use(s.operator.Middleware(ScopeJournalRead))
			ops.Get("/journal/purchases", s.handleJournalPurchases)
			ops.Get("/journal/admin", s.handleJournalAdmin)
			ops.Get("/journal/events", s.handleJournalEvents)
		})
	})
	return otelhttp.NewHandler(r, "saled")
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(start)
		s.httpMetrics.Observe(route, status, elapsed)
		s.logger.Debug("saled: request",
			slog.String("request_id", chimw.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", route),
			slog.Int("status", status),
			slog.Duration("duration", elapsed))
	})
}

// observe runs one engine operation inside a span and records its outcome.
func (s *Server) observe(ctx context.Context, operation string, fn func() error) error {
	_, span := s.tracer.Start(ctx, "sale."+operation)
	defer span.End()
	start := time.Now()
	err := fn()
	s.saleMetrics.Observe(operation, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *Server) recordState() {
	st := s.engine.State()
	s.saleMetrics.RecordState(st.TotalFundsRaised, st.TokensSold, st.CurrentPrice, st.ReferralRateBps, st.Paused())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.journal.Ping(r.Context()); err != nil {
		s.logger.Warn("saled: journal unavailable", slog.Any("error", err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) symbolOf(token string) string {
	for _, info := range s.ledger.Tokens() {
		if strings.EqualFold(info.Address.Hex(), token) {
			return info.Symbol
		}
	}
	return token
}
