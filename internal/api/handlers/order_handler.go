package handlers

import (
	"net/http"

	"example.com/ricechain/internal/api/middleware"
	"example.com/ricechain/internal/models"
	"example.com/ricechain/internal/services"
	"example.com/ricechain/internal/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// OrderHandler handles retail-side HTTP requests: the package catalog,
// orders, payment confirmation and deliveries.
type OrderHandler struct {
	orderService *services.OrderService
	tracer       tracing.Tracer
}

// NewOrderHandler creates a new order handler
func NewOrderHandler(orderService *services.OrderService, tracer tracing.Tracer) *OrderHandler {
	return &OrderHandler{
		orderService: orderService,
		tracer:       tracer,
	}
}

// OrderItemRequest is one requested line of an order.
type OrderItemRequest struct {
	PackageSizeID uuid.UUID `json:"package_size_id" binding:"required"`
	Quantity      int       `json:"quantity" binding:"required"`
}

// PlaceOrderRequest creates a new order.
type PlaceOrderRequest struct {
	Items []OrderItemRequest `json:"items" binding:"required"`
}

// HandlePlaceOrder creates a pending order for the acting customer.
func (h *OrderHandler) HandlePlaceOrder(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-place-order")
	defer h.tracer.EndTransaction(txn)

	var req PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	items := make([]services.OrderItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.OrderItemInput{
			PackageSizeID: item.PackageSizeID,
			Quantity:      item.Quantity,
		})
	}

	order, err := h.orderService.PlaceOrder(c, middleware.ActorFrom(c), items)
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, order)
}

// HandleListOrders lists orders visible to the actor.
func (h *OrderHandler) HandleListOrders(c *gin.Context) {
	orders, err := h.orderService.ListOrders(c, middleware.ActorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

// HandleGetOrder gets one order with its items.
func (h *OrderHandler) HandleGetOrder(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, errors.Wrap(models.ErrValidation, "invalid order id"))
		return
	}

	order, err := h.orderService.GetOrder(c, middleware.ActorFrom(c), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// HandleAddItem appends a line item to a pending order.
func (h *OrderHandler) HandleAddItem(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, errors.Wrap(models.ErrValidation, "invalid order id"))
		return
	}

	var req OrderItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.orderService.AddItem(c, middleware.ActorFrom(c), orderID, services.OrderItemInput{
		PackageSizeID: req.PackageSizeID,
		Quantity:      req.Quantity,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// HandleRecomputeTotals re-derives order totals from its items.
func (h *OrderHandler) HandleRecomputeTotals(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, errors.Wrap(models.ErrValidation, "invalid order id"))
		return
	}

	order, err := h.orderService.RecomputeTotals(c, middleware.ActorFrom(c), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// SubmitTransactionRequest carries the customer's payment transaction code.
type SubmitTransactionRequest struct {
	Code string `json:"code" binding:"required"`
}

// HandleSubmitTransaction confirms payment of an order with a transaction
// code.
func (h *OrderHandler) HandleSubmitTransaction(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-submit-transaction")
	defer h.tracer.EndTransaction(txn)

	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, errors.Wrap(models.ErrValidation, "invalid order id"))
		return
	}

	var req SubmitTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.tracer.AddAttribute(txn, "order_id", orderID.String())

	payment, err := h.orderService.SubmitTransactionCode(c, middleware.ActorFrom(c), orderID, req.Code)
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, payment)
}

// AssignDeliveryRequest selects the personnel for an order.
type AssignDeliveryRequest struct {
	PersonnelID uuid.UUID `json:"personnel_id" binding:"required"`
}

// HandleAssignDelivery assigns a paid order to delivery personnel.
func (h *OrderHandler) HandleAssignDelivery(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, errors.Wrap(models.ErrValidation, "invalid order id"))
		return
	}

	var req AssignDeliveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	delivery, err := h.orderService.AssignDelivery(c, middleware.ActorFrom(c), orderID, req.PersonnelID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, delivery)
}

// HandleMarkDelivered completes an order's delivery.
func (h *OrderHandler) HandleMarkDelivered(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, errors.Wrap(models.ErrValidation, "invalid order id"))
		return
	}

	order, err := h.orderService.MarkDelivered(c, middleware.ActorFrom(c), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// HandleCancelOrder cancels a pending order.
func (h *OrderHandler) HandleCancelOrder(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, errors.Wrap(models.ErrValidation, "invalid order id"))
		return
	}

	order, err := h.orderService.CancelOrder(c, middleware.ActorFrom(c), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// HandleTrackDelivery returns the delivery attached to an order.
func (h *OrderHandler) HandleTrackDelivery(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, errors.Wrap(models.ErrValidation, "invalid order id"))
		return
	}

	delivery, err := h.orderService.TrackDelivery(c, middleware.ActorFrom(c), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, delivery)
}

// PackageRequest carries the admin-managed catalog fields.
type PackageRequest struct {
	Label           string          `json:"label" binding:"required"`
	WeightKg        decimal.Decimal `json:"weight_kg" binding:"required"`
	PricePerPackage decimal.Decimal `json:"price_per_package" binding:"required"`
}

// HandleCreatePackage adds a package size to the catalog.
func (h *OrderHandler) HandleCreatePackage(c *gin.Context) {
	var req PackageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pkg, err := h.orderService.CreatePackage(c, middleware.ActorFrom(c), services.PackageInput{
		Label:           req.Label,
		WeightKg:        req.WeightKg,
		PricePerPackage: req.PricePerPackage,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, pkg)
}

// HandleUpdatePackage replaces a package size's fields.
func (h *OrderHandler) HandleUpdatePackage(c *gin.Context) {
	pkgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, errors.Wrap(models.ErrValidation, "invalid package id"))
		return
	}

	var req PackageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pkg, err := h.orderService.UpdatePackage(c, middleware.ActorFrom(c), pkgID, services.PackageInput{
		Label:           req.Label,
		WeightKg:        req.WeightKg,
		PricePerPackage: req.PricePerPackage,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, pkg)
}

// HandleDeletePackage removes a package size from the catalog.
func (h *OrderHandler) HandleDeletePackage(c *gin.Context) {
	pkgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, errors.Wrap(models.ErrValidation, "invalid package id"))
		return
	}

	if err := h.orderService.DeletePackage(c, middleware.ActorFrom(c), pkgID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleListPackages returns the package catalog.
func (h *OrderHandler) HandleListPackages(c *gin.Context) {
	pkgs, err := h.orderService.ListPackages(c)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, pkgs)
}

// RegisterRoutes registers the handler's routes
func (h *OrderHandler) RegisterRoutes(router gin.IRouter) {
	router.POST("/orders", h.HandlePlaceOrder)
	router.GET("/orders", h.HandleListOrders)
	router.GET("/orders/:id", h.HandleGetOrder)
	router.POST("/orders/:id/items", h.HandleAddItem)
	router.POST("/orders/:id/recompute_totals", h.HandleRecomputeTotals)
	router.POST("/orders/:id/transaction", h.HandleSubmitTransaction)
	router.POST("/orders/:id/assign_delivery", h.HandleAssignDelivery)
	router.POST("/orders/:id/delivered", h.HandleMarkDelivered)
	router.POST("/orders/:id/cancel", h.HandleCancelOrder)
	router.GET("/orders/:id/delivery", h.HandleTrackDelivery)

	router.GET("/packages", h.HandleListPackages)
	router.POST("/packages", h.HandleCreatePackage)
	router.PUT("/packages/:id", h.HandleUpdatePackage)
	router.DELETE("/packages/:id", h.HandleDeletePackage)
}
