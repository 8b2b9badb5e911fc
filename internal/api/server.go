// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/stockmeta/internal/auth"
	"github.com/stockmeta/internal/logging"
	"github.com/stockmeta/internal/models"
	"github.com/stockmeta/internal/ratelimit"
	"github.com/stockmeta/internal/service"
	"github.com/stockmeta/internal/types"
)

// Service interfaces for dependency injection and testing

// UserServiceInterface defines the interface for account operations
type UserServiceInterface interface {
	Register(ctx context.Context, req *service.RegisterRequest) (*models.User, error)
	Login(ctx context.Context, req *service.LoginRequest) (*models.User, error)
	Get(ctx context.Context, userID string) (*models.User, error)
	List(ctx context.Context, limit, offset int) ([]*models.User, error)
	SetStatus(ctx context.Context, userID string, status types.UserStatus) error
	Grant(ctx context.Context, userID string, amount int64, reason string) (*models.User, error)
}

// LedgerServiceInterface defines the interface for credit ledger operations
type LedgerServiceInterface interface {
	Reserve(ctx context.Context, req *service.ReserveRequest) (*service.ReserveResult, error)
	Finalize(ctx context.Context, req *service.FinalizeRequest) (*service.FinalizeResult, error)
	Fail(ctx context.Context, jobToken string) (*models.Job, error)
	Balance(ctx context.Context, userID string) (*models.User, error)
	History(ctx context.Context, userID string, txType types.TransactionType, limit, offset int) ([]*models.Transaction, int64, error)
	Jobs(ctx context.Context, userID string, limit, offset int) ([]*models.Job, error)
}

// TopupServiceInterface defines the interface for top-up operations
type TopupServiceInterface interface {
	SubmitSlip(ctx context.Context, userID string, amountBaht int64) (*models.Slip, error)
	VerifySlip(ctx context.Context, slipID, adminID string) (*service.VerifyResult, error)
	RejectSlip(ctx context.Context, slipID, adminID string) (*models.Slip, error)
	PendingSlips(ctx context.Context, limit, offset int) ([]*models.Slip, error)
	UserSlips(ctx context.Context, userID string, limit, offset int) ([]*models.Slip, error)
}

// PromoServiceInterface defines the interface for promotion administration
type PromoServiceInterface interface {
	Create(ctx context.Context, promo *models.Promotion) error
	Get(ctx context.Context, id string) (*models.Promotion, error)
	List(ctx context.Context, limit, offset int) ([]*models.Promotion, error)
	SetStatus(ctx context.Context, promoID string, status types.PromoStatus) error
	ExpirePromotions(ctx context.Context) (int64, error)
}

// SweepServiceInterface defines the interface for expiry sweeping
type SweepServiceInterface interface {
	SweepOnce(ctx context.Context) (int, error)
	ForceExpire(ctx context.Context, jobID string) (*models.Job, error)
}

// ReportServiceInterface defines the interface for daily reporting
type ReportServiceInterface interface {
	GenerateDaily(ctx context.Context, day time.Time) (*models.DailyReport, error)
	GetByDate(ctx context.Context, date string) (*models.DailyReport, error)
	ListRecent(ctx context.Context, limit int) ([]*models.DailyReport, error)
}

// RateServiceInterface defines the interface for the rate card
type RateServiceInterface interface {
	Current(ctx context.Context) (*models.RateCard, error)
	Update(ctx context.Context, card *models.RateCard) error
}

// TokenSigner issues and verifies session tokens
type TokenSigner interface {
	Sign(userID string) (string, error)
	Verify(token string) (string, error)
}

// AuditLog is the audit trail read side for the admin console
type AuditLog interface {
	ListRecent(ctx context.Context, eventType string, limit int) ([]*models.AuditEvent, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*models.AuditEvent, error)
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server

	userService   UserServiceInterface
	ledgerService LedgerServiceInterface
	topupService  TopupServiceInterface
	promoService  PromoServiceInterface
	sweepService  SweepServiceInterface
	reportService ReportServiceInterface
	rateService   RateServiceInterface
	jobs          service.JobStore
	auditLog      AuditLog

	tokens  TokenSigner
	limiter *ratelimit.Limiter
	quota   *ratelimit.QuotaTracker
	config  *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	AdminKey        string
	RequestsPerMin  int
	Burst           int
}

// Deps bundles the collaborators a server needs.
type Deps struct {
	Users   UserServiceInterface
	Ledger  LedgerServiceInterface
	Topups  TopupServiceInterface
	Promos  PromoServiceInterface
	Sweeper SweepServiceInterface
	Reports ReportServiceInterface
	Rates   RateServiceInterface
	Jobs    service.JobStore
	Audit   AuditLog
	Tokens  TokenSigner
	// Quota is the optional Redis-backed request quota; nil disables it
	Quota *ratelimit.QuotaTracker
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, deps *Deps) *Server {
	s := &Server{
		router:        mux.NewRouter(),
		userService:   deps.Users,
		ledgerService: deps.Ledger,
		topupService:  deps.Topups,
		promoService:  deps.Promos,
		sweepService:  deps.Sweeper,
		reportService: deps.Reports,
		rateService:   deps.Rates,
		jobs:          deps.Jobs,
		auditLog:      deps.Audit,
		tokens:        deps.Tokens,
		limiter:       ratelimit.NewLimiter(config.RequestsPerMin, config.Burst),
		quota:         deps.Quota,
		config:        config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	// Middleware order matters: logging sees the final status, recovery
	// guards everything below it
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Public auth endpoints, rate limited by client address
	authRoutes := s.router.PathPrefix("/auth").Subrouter()
	authRoutes.Use(s.rateLimitMiddleware)
	authRoutes.HandleFunc("/register", s.handleRegister).Methods("POST")
	authRoutes.HandleFunc("/login", s.handleLogin).Methods("POST")

	// Credit endpoints require a session
	credit := s.router.PathPrefix("/credit").Subrouter()
	credit.Use(s.authMiddleware, s.rateLimitMiddleware)
	credit.HandleFunc("/balance", s.handleBalance).Methods("GET")
	credit.HandleFunc("/history", s.handleHistory).Methods("GET")
	credit.HandleFunc("/topup", s.handleTopup).Methods("POST")
	credit.HandleFunc("/slips", s.handleUserSlips).Methods("GET")

	// Job lifecycle endpoints require a session
	job := s.router.PathPrefix("/job").Subrouter()
	job.Use(s.authMiddleware, s.rateLimitMiddleware)
	job.HandleFunc("/reserve", s.handleReserve).Methods("POST")
	job.HandleFunc("/finalize", s.handleFinalize).Methods("POST")
	job.HandleFunc("/fail", s.handleFail).Methods("POST")
	job.HandleFunc("/list", s.handleUserJobs).Methods("GET")

	// Operational triggers, admin key only
	system := s.router.PathPrefix("/system").Subrouter()
	system.Use(s.adminMiddleware)
	system.HandleFunc("/cleanup-expired-jobs", s.handleCleanupExpiredJobs).Methods("POST")
	system.HandleFunc("/generate-daily-report", s.handleGenerateDailyReport).Methods("POST")
	system.HandleFunc("/expire-promotions", s.handleExpirePromotions).Methods("POST")

	// Admin console
	admin := s.router.PathPrefix("/admin").Subrouter()
	admin.Use(s.adminMiddleware)
	admin.HandleFunc("/users", s.handleListUsers).Methods("GET")
	admin.HandleFunc("/users/{id}/status", s.handleSetUserStatus).Methods("POST")
	admin.HandleFunc("/users/{id}/credits", s.handleGrantCredits).Methods("POST")
	admin.HandleFunc("/jobs", s.handleListJobs).Methods("GET")
	admin.HandleFunc("/jobs/{token}/refund", s.handleForceRefund).Methods("POST")
	admin.HandleFunc("/slips", s.handleListSlips).Methods("GET")
	admin.HandleFunc("/slips/{id}/verify", s.handleVerifySlip).Methods("POST")
	admin.HandleFunc("/slips/{id}/reject", s.handleRejectSlip).Methods("POST")
	admin.HandleFunc("/promotions", s.handleCreatePromotion).Methods("POST")
	admin.HandleFunc("/promotions", s.handleListPromotions).Methods("GET")
	admin.HandleFunc("/promotions/{id}", s.handleGetPromotion).Methods("GET")
	admin.HandleFunc("/promotions/{id}/status", s.handleSetPromotionStatus).Methods("POST")
	admin.HandleFunc("/rates", s.handleGetRates).Methods("GET")
	admin.HandleFunc("/rates", s.handleUpdateRates).Methods("PUT")
	admin.HandleFunc("/reports", s.handleListReports).Methods("GET")
	admin.HandleFunc("/reports/{date}", s.handleGetReport).Methods("GET")
	admin.HandleFunc("/audit", s.handleListAudit).Methods("GET")
}

// authMiddleware verifies the bearer token and puts the user ID on the
// request context.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token", nil)
			return
		}

		userID, err := s.tokens.Verify(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token", nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), userID)))
	})
}

// adminMiddleware gates admin and system routes on the shared admin key.
// An empty configured key disables the routes entirely.
func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.AdminKey == "" || r.Header.Get("X-Admin-Key") != s.config.AdminKey {
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "admin key required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware enforces the per-caller token bucket and, when Redis
// is wired, the shared sliding-window quota.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, authed := auth.UserIDFromContext(r.Context())
		if !authed {
			key = r.RemoteAddr
		}

		if !s.limiter.Allow(key) {
			respondError(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED",
				"Rate limit exceeded. Please try again later.", nil)
			return
		}

		if s.quota != nil && authed {
			allowed, retryAfter := s.quota.TryConsume(r.Context(), key)
			if !allowed {
				respondError(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED",
					"Request quota exceeded. Please try again later.", map[string]interface{}{
						"retryAfterMs": retryAfter.Milliseconds(),
					})
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "stockmeta-billing",
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.Infof("Starting API server on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}
