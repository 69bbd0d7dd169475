package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/davicafu/productflow/internal/product/application"
	productDomain "github.com/davicafu/productflow/internal/product/domain"
	sharedUtils "github.com/davicafu/productflow/internal/shared/infra/utils"
	"github.com/davicafu/productflow/pkg/utils"
)

// ProductHandler encapsula los endpoints HTTP de producto.
type ProductHandler struct {
	service *application.ProductService
	log     *zap.Logger
}

func NewProductHandler(service *application.ProductService, log *zap.Logger) *ProductHandler {
	return &ProductHandler{service: service, log: log}
}

// --- DTOs ---

type createProductRequest struct {
	Title             string          `json:"title" binding:"required"`
	Description       string          `json:"description"`
	Price             decimal.Decimal `json:"price"`
	AvailableQuantity int             `json:"availableQuantity"`
	SKU               string          `json:"sku" binding:"required"`
	Category          string          `json:"category"`
	Brand             string          `json:"brand"`
}

type batchRequest struct {
	IDs []uuid.UUID `json:"ids" binding:"required"`
}

type reduceItem struct {
	ProductID uuid.UUID `json:"productId" binding:"required"`
	Quantity  int       `json:"quantity"`
}

type bulkReduceRequest struct {
	Items []reduceItem `json:"items" binding:"required,dive"`
}

type bulkReduceResponse struct {
	Status              string      `json:"status"`
	ProcessedProductIDs []uuid.UUID `json:"processedProductIds"`
	ProcessedAt         time.Time   `json:"processedAt"`
}

// --- Alta y lecturas ---

// CreateProduct endpoint POST /v1/products
func (h *ProductHandler) CreateProduct(c *gin.Context) {
	var req createProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}

	product, err := h.service.CreateProduct(c.Request.Context(), application.CreateProductInput{
		Title:             req.Title,
		Description:       req.Description,
		Price:             req.Price,
		AvailableQuantity: req.AvailableQuantity,
		SKU:               req.SKU,
		Category:          req.Category,
		Brand:             req.Brand,
	})
	if err != nil {
		h.sendError(c, err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

// GetProduct endpoint GET /v1/products/:id
func (h *ProductHandler) GetProduct(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	product, err := h.service.GetProduct(c.Request.Context(), id)
	if err != nil {
		h.sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

// GetProductsBatch endpoint POST /v1/products/batch. Falla entero si falta un id.
func (h *ProductHandler) GetProductsBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}

	products, err := h.service.GetProductsByIDsStrict(c.Request.Context(), req.IDs)
	if err != nil {
		h.sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, products)
}

// ListProducts endpoint GET /v1/products?status=&category=
// Con category filtra por categoría (y por status si se indica); si no, por status, ACTIVE por defecto.
func (h *ProductHandler) ListProducts(c *gin.Context) {
	status := strings.ToUpper(c.Query("status"))
	category := c.Query("category")

	var (
		products []*productDomain.Product
		err      error
	)
	if status != "" && !productDomain.ProductStatus(status).Valid() {
		h.sendError(c, fmt.Errorf("%w: unknown status %q", productDomain.ErrInvalidRequest, status))
		return
	}
	if category != "" {
		products, err = h.service.ListByCategory(c.Request.Context(), category)
		if err == nil && status != "" {
			products = filterByStatus(products, productDomain.ProductStatus(status))
		}
	} else {
		products, err = h.service.ListByStatus(c.Request.Context(),
			productDomain.ProductStatus(sharedUtils.Ternary(status == "", string(productDomain.StatusActive), status)))
	}
	if err != nil {
		h.sendError(c, err)
		return
	}
	if products == nil {
		products = []*productDomain.Product{}
	}
	c.JSON(http.StatusOK, products)
}

func filterByStatus(products []*productDomain.Product, status productDomain.ProductStatus) []*productDomain.Product {
	out := products[:0]
	for _, p := range products {
		if p.Status == status {
			out = append(out, p)
		}
	}
	return out
}

// --- Inventario ---

// ReduceBulk endpoint POST /v1/products/reduce
func (h *ProductHandler) ReduceBulk(c *gin.Context) {
	var req bulkReduceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}

	items := make([]application.ReductionItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = application.ReductionItem{ProductID: it.ProductID, Quantity: it.Quantity}
	}

	res, err := h.service.ReduceQuantitiesBulk(c.Request.Context(), items)
	if err != nil {
		h.sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, bulkReduceResponse{
		Status:              "SUCCESS",
		ProcessedProductIDs: res.ProcessedProductIDs,
		ProcessedAt:         res.ProcessedAt,
	})
}

// ReduceInventory endpoint PATCH /v1/products/:id/inventory/reduce?quantity=
func (h *ProductHandler) ReduceInventory(c *gin.Context) {
	h.changeInventory(c, h.service.ReduceQuantity)
}

// IncreaseInventory endpoint PATCH /v1/products/:id/inventory/increase?quantity=
func (h *ProductHandler) IncreaseInventory(c *gin.Context) {
	h.changeInventory(c, h.service.IncreaseQuantity)
}

func (h *ProductHandler) changeInventory(c *gin.Context, op func(ctx context.Context, id uuid.UUID, qty int) error) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	qty, err := strconv.Atoi(c.Query("quantity"))
	if err != nil {
		utils.SendBadRequest(c, "quantity must be an integer")
		return
	}

	if err := op(c.Request.Context(), id, qty); err != nil {
		h.sendError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Estado y precio ---

// Activate endpoint PATCH /v1/products/:id/activate
func (h *ProductHandler) Activate(c *gin.Context) {
	h.changeProduct(c, h.service.ActivateProduct)
}

// Deactivate endpoint PATCH /v1/products/:id/deactivate
func (h *ProductHandler) Deactivate(c *gin.Context) {
	h.changeProduct(c, h.service.DeactivateProduct)
}

// UpdatePrice endpoint PATCH /v1/products/:id/price?price=
func (h *ProductHandler) UpdatePrice(c *gin.Context) {
	price, err := decimal.NewFromString(c.Query("price"))
	if err != nil {
		utils.SendBadRequest(c, "price must be a decimal number")
		return
	}
	h.changeProduct(c, func(ctx context.Context, id uuid.UUID) (*productDomain.Product, error) {
		return h.service.UpdatePrice(ctx, id, price)
	})
}

func (h *ProductHandler) changeProduct(c *gin.Context, op func(ctx context.Context, id uuid.UUID) (*productDomain.Product, error)) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	product, err := op(c.Request.Context(), id)
	if err != nil {
		h.sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

// --- Errores ---

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.SendBadRequest(c, "invalid product id")
		return uuid.Nil, false
	}
	return id, true
}

// sendError traduce los errores de dominio a códigos HTTP.
func (h *ProductHandler) sendError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, productDomain.ErrProductNotFound):
		utils.SendNotFound(c, err.Error())
	case errors.Is(err, productDomain.ErrProductNotActive):
		utils.SendConflict(c, "PRODUCT_NOT_ACTIVE", err.Error())
	case errors.Is(err, productDomain.ErrProductDiscontinued):
		utils.SendConflict(c, "PRODUCT_DISCONTINUED", err.Error())
	case errors.Is(err, productDomain.ErrInsufficientStock):
		utils.SendConflict(c, "INSUFFICIENT_STOCK", err.Error())
	case errors.Is(err, productDomain.ErrDuplicateSKU):
		utils.SendConflict(c, "DUPLICATE_SKU", err.Error())
	case errors.Is(err, productDomain.ErrInvalidRequest):
		utils.SendBadRequest(c, err.Error())
	case errors.Is(err, productDomain.ErrEventPublish):
		// La mutación ya está confirmada: reintentar la petición la aplicaría dos veces.
		h.log.Error("❌ Operación confirmada con eventos sin publicar", zap.String("path", c.FullPath()), zap.Error(err))
		utils.SendError(c, http.StatusInternalServerError, "EVENT_PUBLISH_FAILED", "operation committed but event publication failed")
	default:
		h.log.Error("❌ Error interno", zap.String("path", c.FullPath()), zap.Error(err))
		utils.SendInternalServerError(c, "internal error")
	}
}
