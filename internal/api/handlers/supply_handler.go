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

// SupplyHandler handles procurement-side HTTP requests: prices, supplies,
// milling and inventory.
type SupplyHandler struct {
	supplyService *services.SupplyService
	tracer        tracing.Tracer
}

// NewSupplyHandler creates a new supply handler
func NewSupplyHandler(supplyService *services.SupplyService, tracer tracing.Tracer) *SupplyHandler {
	return &SupplyHandler{
		supplyService: supplyService,
		tracer:        tracer,
	}
}

// SetPriceRequest sets a new paddy price per kilogram.
type SetPriceRequest struct {
	PricePerKg decimal.Decimal `json:"price_per_kg" binding:"required"`
}

// HandleSetPrice appends a new entry to the price ledger.
func (h *SupplyHandler) HandleSetPrice(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-set-paddy-price")
	defer h.tracer.EndTransaction(txn)

	var req SetPriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	price, err := h.supplyService.SetPaddyPrice(c, middleware.ActorFrom(c), req.PricePerKg)
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, price)
}

// HandleGetCurrentPrice returns the latest price ledger entry.
func (h *SupplyHandler) HandleGetCurrentPrice(c *gin.Context) {
	price, err := h.supplyService.CurrentPaddyPrice(c)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, price)
}

// HandleGetPriceHistory returns the full price ledger, newest first.
func (h *SupplyHandler) HandleGetPriceHistory(c *gin.Context) {
	prices, err := h.supplyService.PriceHistory(c, middleware.ActorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, prices)
}

// RecordSupplyRequest records a paddy intake from a farmer.
type RecordSupplyRequest struct {
	FarmerID      uuid.UUID       `json:"farmer_id" binding:"required"`
	Quantity      decimal.Decimal `json:"quantity" binding:"required"`
	QualityRating int             `json:"quality_rating" binding:"required"`
	MoisturePct   decimal.Decimal `json:"moisture_pct"`
}

// HandleRecordSupply records a paddy intake by the acting mill operator.
func (h *SupplyHandler) HandleRecordSupply(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-record-supply")
	defer h.tracer.EndTransaction(txn)

	var req RecordSupplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.tracer.AddAttribute(txn, "farmer_id", req.FarmerID.String())
	h.tracer.AddAttribute(txn, "quantity", req.Quantity.String())

	supply, err := h.supplyService.RecordSupply(c, middleware.ActorFrom(c), services.RecordSupplyInput{
		FarmerID:      req.FarmerID,
		Quantity:      req.Quantity,
		QualityRating: req.QualityRating,
		MoisturePct:   req.MoisturePct,
	})
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, supply)
}

// HandleListSupplies lists supplies visible to the actor.
func (h *SupplyHandler) HandleListSupplies(c *gin.Context) {
	supplies, err := h.supplyService.ListSupplies(c, middleware.ActorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, supplies)
}

// HandleGetSupply gets one supply by id.
func (h *SupplyHandler) HandleGetSupply(c *gin.Context) {
	supplyID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, errors.Wrap(models.ErrValidation, "invalid supply id"))
		return
	}

	supply, err := h.supplyService.GetSupply(c, middleware.ActorFrom(c), supplyID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, supply)
}

// ApprovePaymentRequest carries the payment reference entered by the admin.
type ApprovePaymentRequest struct {
	ReferenceCode string `json:"reference_code" binding:"required"`
}

// HandleApprovePayment approves the farmer payment for a supply.
func (h *SupplyHandler) HandleApprovePayment(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-approve-supply-payment")
	defer h.tracer.EndTransaction(txn)

	supplyID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, errors.Wrap(models.ErrValidation, "invalid supply id"))
		return
	}

	var req ApprovePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	supply, err := h.supplyService.ApprovePayment(c, middleware.ActorFrom(c), supplyID, req.ReferenceCode)
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, supply)
}

// HandleRejectSupply reverses a received supply intake.
func (h *SupplyHandler) HandleRejectSupply(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-reject-supply")
	defer h.tracer.EndTransaction(txn)

	supplyID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, errors.Wrap(models.ErrValidation, "invalid supply id"))
		return
	}

	supply, err := h.supplyService.RejectSupply(c, middleware.ActorFrom(c), supplyID)
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, supply)
}

// HandleSearchSupplies searches the indexed supplies.
func (h *SupplyHandler) HandleSearchSupplies(c *gin.Context) {
	docs, err := h.supplyService.SearchSupplies(c, middleware.ActorFrom(c), c.Query("q"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, docs)
}

// RecordMillingRequest records a milling run.
type RecordMillingRequest struct {
	Quantity decimal.Decimal `json:"quantity" binding:"required"`
}

// HandleRecordMilling records a milling run by the acting mill operator.
func (h *SupplyHandler) HandleRecordMilling(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-record-milling")
	defer h.tracer.EndTransaction(txn)

	var req RecordMillingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record, err := h.supplyService.RecordMilling(c, middleware.ActorFrom(c), req.Quantity)
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, record)
}

// HandleGetInventory returns the three counter values.
func (h *SupplyHandler) HandleGetInventory(c *gin.Context) {
	snapshot, err := h.supplyService.Inventory(c, middleware.ActorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// HandleAuditConservation runs the mass conservation check on demand.
func (h *SupplyHandler) HandleAuditConservation(c *gin.Context) {
	if middleware.ActorFrom(c).Role != models.RoleAdmin {
		respondError(c, models.ErrPermissionDenied)
		return
	}

	report, err := h.supplyService.AuditConservation(c)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// RegisterRoutes registers the handler's routes
func (h *SupplyHandler) RegisterRoutes(router gin.IRouter) {
	router.POST("/prices", h.HandleSetPrice)
	router.GET("/prices/current", h.HandleGetCurrentPrice)
	router.GET("/prices", h.HandleGetPriceHistory)

	router.POST("/supplies", h.HandleRecordSupply)
	router.GET("/supplies", h.HandleListSupplies)
	router.GET("/supplies/search", h.HandleSearchSupplies)
	router.GET("/supplies/:id", h.HandleGetSupply)
	router.POST("/supplies/:id/approve_payment", h.HandleApprovePayment)
	router.POST("/supplies/:id/reject", h.HandleRejectSupply)

	router.POST("/milling", h.HandleRecordMilling)
	router.GET("/inventory", h.HandleGetInventory)
	router.GET("/inventory/audit", h.HandleAuditConservation)
}
