package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"sanaahub/internal/audit"
	"sanaahub/internal/auth"
	"sanaahub/internal/commission"
	"sanaahub/internal/config"
	"sanaahub/internal/db"
	"sanaahub/internal/email"
	"sanaahub/internal/escrow"
	"sanaahub/internal/gateway"
	"sanaahub/internal/ledger"
	"sanaahub/internal/payout"
	"sanaahub/internal/profile"
	"sanaahub/internal/workflow"
)

type Server struct {
	router *gin.Engine
	srv    *http.Server
	db     *sqlx.DB
	config *config.Config

	// Payouts is exposed so main can drive the stale-payout sweep.
	Payouts *payout.Service
}

func New(database *sqlx.DB, cfg *config.Config, emailService *email.Service) (*Server, error) {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(RequestLoggingMiddleware())
	router.Use(MetricsMiddleware())
	router.Use(RateLimitMiddleware(20, 40))

	runner := db.NewRunner(database)
	audits := audit.NewRepository(database)
	profiles := profile.NewRepository(database)
	ledgerStore := ledger.NewStore(database)
	gw := gateway.NewPaystack(cfg.PaystackBaseURL, cfg.PaystackSecretKey)

	engine, err := workflow.NewEngine(runner, workflow.NewRepository(database), audits, workflow.DefaultTransitions())
	if err != nil {
		return nil, err
	}

	payoutService := payout.NewService(
		runner,
		payout.NewRepository(database),
		ledgerStore,
		payout.NewEarningsSource(database),
		gw,
		audits,
		emailService,
		cfg.ReserveAmount,
	)
	escrowService := escrow.NewService(runner, workflow.NewRepository(database), engine, gw, audits, profiles, emailService)

	resolver := commission.NewResolver(commission.NewRepository(database), commission.DefaultLadders())

	payoutHandler := payout.NewHandler(payoutService)
	commissionHandler := commission.NewHandler(resolver, profiles)
	workflowHandler := workflow.NewHandler(engine, audits)
	escrowHandler := escrow.NewHandler(escrowService, gw)

	authMiddleware := auth.AuthMiddleware(cfg.JWTSecret)

	earnings := router.Group("/earnings")
	earnings.Use(authMiddleware)
	{
		earnings.GET("/summary", payoutHandler.GetSummary)
		earnings.POST("/cashout", payoutHandler.Cashout)
		earnings.GET("/payout-options", payoutHandler.GetPayoutOptions)
		earnings.POST("/commission/quote", auth.RequireRole(auth.RoleAdmin), commissionHandler.Quote)
	}

	admin := router.Group("/admin/projects")
	admin.Use(authMiddleware)
	{
		// Escrow funding and verification belong to the project client; the
		// remaining operations are back-office.
		admin.POST("/:projectID/escrow/initialize", escrowHandler.InitializeEscrow)
		admin.GET("/escrow/verify", escrowHandler.VerifyEscrow)

		adminOnly := auth.RequireRole(auth.RoleAdmin)
		admin.POST("/:projectID/transition", adminOnly, workflowHandler.Transition)
		admin.GET("/:projectID/history", adminOnly, workflowHandler.History)
		admin.POST("/:projectID/release-mentor", adminOnly, escrowHandler.ReleaseMentorPayment)
		admin.POST("/:projectID/release-student", adminOnly, escrowHandler.ReleaseStudentPayment)
		admin.POST("/:projectID/refund", adminOnly, escrowHandler.ProcessRefund)
		admin.POST("/:projectID/freeze", adminOnly, escrowHandler.FreezePayment)
		admin.POST("/:projectID/unfreeze", adminOnly, escrowHandler.UnfreezePayment)
	}

	// Gateway callbacks authenticate by body signature, not by bearer token.
	router.POST("/webhooks/paystack", escrowHandler.Webhook)

	router.GET("/health", Health)
	router.GET("/metrics", Metrics())
	router.GET("/test-email", TestEmail(emailService))

	return &Server{
		router:  router,
		db:      database,
		config:  cfg,
		Payouts: payoutService,
	}, nil
}

func (s *Server) Start(port string) error {
	s.srv = &http.Server{
		Addr:    ":" + port,
		Handler: s.router,
	}
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
