package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"khata-system/config"
	"khata-system/internal/database"
	"khata-system/internal/gateway/handlers"
	"khata-system/internal/gateway/middleware"
	"khata-system/internal/ledger"
	"khata-system/internal/reconcile"
	"khata-system/internal/store/gormstore"
)

func main() {
	cfg := config.LoadConfig()
	logger := config.GetLogger()

	redisClient := config.NewRedisClient(cfg.Redis)
	defer redisClient.Close()

	db, err := database.NewConnection(cfg.DB.DSN)
	if err != nil {
		logger.Fatalf("Failed to connect to db: %v", err)
	}
	if err := database.MigrateKhataDB(db); err != nil {
		logger.Fatalf("Failed to migrate khata database: %v", err)
	}

	st := gormstore.New(db, redisClient, logger)
	balance := ledger.NewBalance(st, logger)
	salesService := ledger.NewSalesService(st, logger)
	paymentService := ledger.NewPaymentService(st, balance, logger)
	manager := reconcile.NewManager(st, cfg.Pager.SalesPageSize, cfg.Pager.PaymentsPageSize, logger)
	defer manager.CloseAll()

	authHandler := handlers.NewAuthHTTPHandler(db, cfg.Auth.TokenTTL)
	shopHandler := handlers.NewShopHTTPHandler(st, balance, cfg.Pager.FetchTimeout)
	productHandler := handlers.NewProductHTTPHandler(st, cfg.Pager.FetchTimeout)
	salesHandler := handlers.NewSalesHTTPHandler(st, salesService, cfg.Pager.FetchTimeout)
	paymentHandler := handlers.NewPaymentHTTPHandler(paymentService, cfg.Pager.FetchTimeout)
	reconcileHandler := handlers.NewReconcileHTTPHandler(manager, cfg.Pager.FetchTimeout)

	r := gin.Default()

	r.Use(middleware.CORS())
	r.Use(gin.Recovery())
	r.Use(middleware.RateLimit())

	// --- Public API Group ---
	public := r.Group("/api/v1")
	{
		auth := public.Group("/auth")
		{
			auth.POST("/login", authHandler.Login)
			auth.POST("/register", authHandler.Register)
		}
	}

	// --- Protected API Group ---
	protected := r.Group("/api/v1")
	protected.Use(middleware.JWTAuth())
	{
		shops := protected.Group("/shops")
		{
			shops.POST("", shopHandler.CreateShop)
			shops.GET("", shopHandler.ListShops)
			shops.GET("/:id", shopHandler.GetShop)
			shops.DELETE("/:id", shopHandler.DeleteShop)
			shops.POST("/:id/recompute-earnings", shopHandler.RecomputeEarnings)

			shops.POST("/:id/products", productHandler.CreateProduct)
			shops.GET("/:id/products", productHandler.ListProducts)
			shops.PUT("/:id/products/:productId", productHandler.UpdateProduct)
			shops.DELETE("/:id/products/:productId", productHandler.DeleteProduct)

			shops.POST("/:id/sales", salesHandler.CreateSalesEntry)
			shops.PUT("/:id/sales/:saleId", salesHandler.UpdateSalesEntry)
			shops.DELETE("/:id/sales/:saleId", salesHandler.DeleteSalesEntry)

			shops.POST("/:id/payments", paymentHandler.ReceivePayment)
			shops.PUT("/:id/payments/:paymentId", paymentHandler.EditPayment)
			shops.DELETE("/:id/payments/:paymentId", paymentHandler.DeletePayment)
			shops.POST("/:id/payments/:paymentId/resync", paymentHandler.ResyncPayment)
			shops.DELETE("/:id/entries/:saleId", paymentHandler.DeleteReconciledEntry)

			shops.GET("/:id/reconciliation", reconcileHandler.GetView)
			shops.POST("/:id/reconciliation/load-more", reconcileHandler.LoadMore)
			shops.DELETE("/:id/reconciliation", reconcileHandler.Release)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"message":   "Server is running",
			"timestamp": time.Now(),
		})
	})

	srv := &http.Server{
		Addr:    ":8080",
		Handler: r,
	}

	go func() {
		logger.Infof("Starting server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Forced shutdown: %v", err)
	}
}
