package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"library-service/config"
	"library-service/library"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	cfg     *config.Config
	mgr     *library.LibraryManager
	logger  *slog.Logger
	metrics *Metrics
	router  *gin.Engine
}

func New(cfg *config.Config, mgr *library.LibraryManager, logger *slog.Logger) *Server {
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	registerValidators()

	s := &Server{
		cfg:     cfg,
		mgr:     mgr,
		logger:  logger,
		metrics: NewMetrics(),
		router:  gin.New(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery(), s.requestLogger())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = s.cfg.CORS.AllowedOrigins
	corsConfig.AllowCredentials = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}

	s.router.Use(cors.New(corsConfig))
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.Health)
	if s.cfg.Metrics.Enabled {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	// Auth is served at the root and under /api/auth for older clients.
	for _, g := range []*gin.RouterGroup{&s.router.RouterGroup, s.router.Group("/api/auth")} {
		g.POST("/register", s.Register)
		g.POST("/login", s.Login)
		g.POST("/logout", s.Logout)
	}

	authed := s.router.Group("/", s.requireSession())
	{
		authed.GET("/me", s.require(library.OpManageProfile), s.Me)
		authed.PUT("/me", s.require(library.OpManageProfile), s.UpdateMe)
		authed.PUT("/me/password", s.require(library.OpManageProfile), s.ChangeMyPassword)

		authed.GET("/books", s.require(library.OpViewCatalog), s.ListBooks)
		authed.GET("/books/:id", s.require(library.OpViewCatalog), s.GetBook)
		authed.POST("/books/add", s.require(library.OpManageBooks), s.AddBook)
		authed.PUT("/books/update/:id", s.require(library.OpManageBooks), s.UpdateBook)
		authed.DELETE("/books/delete/:id", s.require(library.OpManageBooks), s.DeleteBook)
		authed.POST("/books/checkout/:id", s.require(library.OpCheckout), s.CheckoutBook)
		authed.POST("/books/return/:id", s.require(library.OpReturn), s.ReturnBook)
		authed.GET("/books/history/:id", s.require(library.OpViewBookHistory), s.BookHistory)
		authed.GET("/users/history/:id", s.UserHistory)
	}

	admin := s.router.Group("/admin", s.requireSession())
	{
		admin.GET("/users", s.require(library.OpManageUsers), s.ListUsers)
		admin.POST("/users", s.require(library.OpManageUsers), s.CreateUser)
		admin.PUT("/users/:id/role", s.require(library.OpManageUsers), s.SetUserRole)
		admin.PUT("/users/:id/status", s.require(library.OpManageUsers), s.SetUserStatus)
		admin.POST("/users/:id/toggle", s.require(library.OpManageUsers), s.ToggleUser)
		admin.PUT("/users/:id/password", s.require(library.OpManageUsers), s.ResetUserPassword)

		admin.GET("/history", s.require(library.OpViewAllHistory), s.AllHistory)
		admin.GET("/dashboard", s.require(library.OpViewDashboard), s.Dashboard)
		admin.GET("/audit", s.require(library.OpViewAudit), s.AuditLog)
		admin.POST("/availability/reconcile", s.require(library.OpReconcile), s.Reconcile)
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", srv.Addr, "env", s.cfg.App.Env)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "library-service"})
}
