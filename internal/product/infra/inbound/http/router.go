package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterProductRoutes registra las rutas HTTP de producto bajo /v1/products.
func RegisterProductRoutes(r *gin.Engine, handler *ProductHandler) {
	products := r.Group("/v1/products")
	{
		products.POST("", handler.CreateProduct)
		products.GET("", handler.ListProducts)
		products.POST("/batch", handler.GetProductsBatch)
		products.POST("/reduce", handler.ReduceBulk)
		products.GET("/:id", handler.GetProduct)
		products.PATCH("/:id/inventory/reduce", handler.ReduceInventory)
		products.PATCH("/:id/inventory/increase", handler.IncreaseInventory)
		products.PATCH("/:id/activate", handler.Activate)
		products.PATCH("/:id/deactivate", handler.Deactivate)
		products.PATCH("/:id/price", handler.UpdatePrice)
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "UP"})
	})
}
