// internal/api/api.go
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/andresuchdata/smy-billing/backend-go/internal/api/handlers"
	"github.com/andresuchdata/smy-billing/backend-go/internal/api/middleware"
	"github.com/andresuchdata/smy-billing/backend-go/internal/ingest"
	"github.com/andresuchdata/smy-billing/backend-go/internal/service"
)

type Services struct {
	Importer       *ingest.Importer
	BatchService   *service.BatchService
	InvoiceService *service.InvoiceService
	// Health reports whether the backing store is reachable.
	Health func(ctx context.Context) error
}

func NewRouter(services *Services, allowedOrigins []string) *gin.Engine {
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Logger())
	router.Use(middleware.Recovery())
	defaultOrigins := []string{"http://localhost:3000", "http://127.0.0.1:3000"}
	corsConfig := cors.Config{
		AllowOrigins:     defaultOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) > 0 {
		normalizedOrigins, allowAll := normalizeAllowedOrigins(allowedOrigins)
		if allowAll {
			corsConfig.AllowOrigins = nil
			corsConfig.AllowOriginFunc = func(origin string) bool { return true }
		} else if len(normalizedOrigins) > 0 {
			corsConfig.AllowOrigins = normalizedOrigins
		}
	}
	router.Use(cors.New(corsConfig))

	router.GET("/health", healthHandler(services))

	apiGroup := router.Group("/api/v1")

	if services != nil {
		if services.Importer != nil && services.BatchService != nil {
			importHandler := handlers.NewImportHandler(services.Importer, services.BatchService)
			importGroup := apiGroup.Group("/imports")
			{
				importGroup.POST("", importHandler.UploadOrders)
				importGroup.GET("", importHandler.ListBatches)
				importGroup.GET("/:batch_id", importHandler.GetBatch)
			}
		}

		if services.InvoiceService != nil {
			invoiceHandler := handlers.NewInvoiceHandler(services.InvoiceService)
			invoiceGroup := apiGroup.Group("/invoices")
			{
				invoiceGroup.POST("/generate", invoiceHandler.Generate)
				invoiceGroup.GET("", invoiceHandler.List)
				invoiceGroup.GET("/:id", invoiceHandler.Get)
				invoiceGroup.PATCH("/:id/status", invoiceHandler.UpdateStatus)
				invoiceGroup.DELETE("/:id", invoiceHandler.Delete)
			}
		}
	}

	return router
}

func healthHandler(services *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		if services != nil && services.Health != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := services.Health(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func normalizeAllowedOrigins(origins []string) ([]string, bool) {
	var (
		parsed   []string
		allowAll bool
	)
	for _, origin := range origins {
		parts := strings.Split(origin, ",")
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed == "" {
				continue
			}
			if trimmed == "*" {
				allowAll = true
				continue
			}
			parsed = append(parsed, trimmed)
		}
	}
	return parsed, allowAll
}
