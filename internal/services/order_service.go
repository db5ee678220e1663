package services

import (
	"context"
	"encoding/json"
	"time"

	"example.com/ricechain/internal/cache"
	"example.com/ricechain/internal/metrics"
	"example.com/ricechain/internal/models"
	"example.com/ricechain/internal/repositories"
	"example.com/ricechain/internal/search"
	"example.com/ricechain/internal/tracing"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/google/uuid"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type orderStore interface {
	CreateWithItems(ctx context.Context, order *models.Order, items []models.OrderItem) error
	AddItem(ctx context.Context, item *models.OrderItem) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]models.Order, error)
	ListAll(ctx context.Context) ([]models.Order, error)
	RecomputeTotals(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	Cancel(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	AssignDelivery(ctx context.Context, orderID, personnelID uuid.UUID) (*models.Delivery, error)
	MarkDelivered(ctx context.Context, orderID, personnelID uuid.UUID) (*models.Order, error)
	GetDelivery(ctx context.Context, orderID uuid.UUID) (*models.Delivery, error)
}

type paymentStore interface {
	Confirm(ctx context.Context, orderID uuid.UUID, customerCode string) (*models.Transaction, *models.Order, error)
}

type packageStore interface {
	Create(ctx context.Context, pkg *models.PackageSize) error
	Update(ctx context.Context, pkg *models.PackageSize) error
	Delete(ctx context.Context, id uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.PackageSize, error)
	List(ctx context.Context) ([]models.PackageSize, error)
}

type customerStore interface {
	GetCustomerByUserID(ctx context.Context, userID uuid.UUID) (*models.Customer, error)
	GetPersonnelByUserID(ctx context.Context, userID uuid.UUID) (*models.DeliveryPersonnel, error)
}

type orderIndexer interface {
	IndexOrder(ctx context.Context, order *models.Order) error
}

// OrderService handles the retail side: the package catalog, order
// placement, payment confirmation and delivery logistics.
type OrderService struct {
	orderRepo     orderStore
	txnRepo       paymentStore
	packageRepo   packageStore
	profileRepo   customerStore
	cache         valueCache
	elasticClient orderIndexer
	metrics       *metrics.Metrics
	tracer        tracing.Tracer
}

// NewOrderService creates a new order service backed by the gorm
// repositories. Cache and Elasticsearch are optional; a nil client disables
// the feature.
func NewOrderService(
	db *gorm.DB,
	readOnlyDB *gorm.DB,
	redisCache *cache.RedisCache,
	elasticClient *search.ElasticClient,
	metricsCollector *metrics.Metrics,
	tracer tracing.Tracer,
) *OrderService {
	s := &OrderService{
		orderRepo:   repositories.NewOrderRepository(db, readOnlyDB),
		txnRepo:     repositories.NewTransactionRepository(db, readOnlyDB),
		packageRepo: repositories.NewPackageRepository(db, readOnlyDB),
		profileRepo: repositories.NewProfileRepository(db, readOnlyDB),
		metrics:     metricsCollector,
		tracer:      tracer,
	}
	if redisCache != nil {
		s.cache = redisCache
	}
	if elasticClient != nil {
		s.elasticClient = elasticClient
	}
	return s
}

// OrderItemInput is one requested line of a new order.
type OrderItemInput struct {
	PackageSizeID uuid.UUID
	Quantity      int
}

// PlaceOrder creates a pending order for the acting customer. Every item
// must reference an existing package size with a positive count.
func (s *OrderService) PlaceOrder(ctx context.Context, actor models.Actor, items []OrderItemInput) (*models.Order, error) {
	if actor.Role != models.RoleCustomer {
		return nil, models.ErrPermissionDenied
	}
	if len(items) == 0 {
		return nil, errors.Wrap(models.ErrValidation, "order must contain at least one item")
	}

	txn := s.tracer.StartTransaction("place-order")
	defer s.tracer.EndTransaction(txn)

	customer, err := s.profileRepo.GetCustomerByUserID(ctx, actor.ID)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	orderItems := make([]models.OrderItem, 0, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, errors.Wrap(models.ErrValidation, "item quantity must be positive")
		}
		if _, err := s.packageRepo.GetByID(ctx, item.PackageSizeID); err != nil {
			s.tracer.RecordError(txn, err)
			return nil, err
		}
		orderItems = append(orderItems, models.OrderItem{
			ID:            uuid.New(),
			PackageSizeID: item.PackageSizeID,
			Quantity:      item.Quantity,
		})
	}

	order := &models.Order{
		ID:         uuid.New(),
		CustomerID: customer.ID,
	}

	start := time.Now()
	err = s.orderRepo.CreateWithItems(ctx, order, orderItems)
	s.metrics.RecordTimer("place_order", time.Since(start))

	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	s.metrics.IncrementCounter("orders_placed")
	log.Info().
		Str("order_id", order.ID.String()).
		Str("customer_id", customer.ID.String()).
		Int("items", len(orderItems)).
		Str("total_kg", order.TotalKg.String()).
		Msg("Order placed")

	return order, nil
}

// AddItem appends a line item to the actor's own pending order.
func (s *OrderService) AddItem(ctx context.Context, actor models.Actor, orderID uuid.UUID, input OrderItemInput) (*models.Order, error) {
	if input.Quantity <= 0 {
		return nil, errors.Wrap(models.ErrValidation, "item quantity must be positive")
	}

	order, err := s.ownedOrder(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	if _, err := s.packageRepo.GetByID(ctx, input.PackageSizeID); err != nil {
		return nil, err
	}

	item := &models.OrderItem{
		ID:            uuid.New(),
		OrderID:       order.ID,
		PackageSizeID: input.PackageSizeID,
		Quantity:      input.Quantity,
	}
	if err := s.orderRepo.AddItem(ctx, item); err != nil {
		return nil, err
	}

	return s.orderRepo.GetByID(ctx, order.ID)
}

// GetOrder gets an order visible to the actor: any order for admins, own
// orders for customers.
func (s *OrderService) GetOrder(ctx context.Context, actor models.Actor, orderID uuid.UUID) (*models.Order, error) {
	if actor.Role == models.RoleAdmin {
		return s.orderRepo.GetByID(ctx, orderID)
	}
	return s.ownedOrder(ctx, actor, orderID)
}

// ListOrders lists orders visible to the actor.
func (s *OrderService) ListOrders(ctx context.Context, actor models.Actor) ([]models.Order, error) {
	switch actor.Role {
	case models.RoleAdmin:
		return s.orderRepo.ListAll(ctx)
	case models.RoleCustomer:
		customer, err := s.profileRepo.GetCustomerByUserID(ctx, actor.ID)
		if err != nil {
			return nil, err
		}
		return s.orderRepo.ListByCustomer(ctx, customer.ID)
	default:
		return nil, models.ErrPermissionDenied
	}
}

// RecomputeTotals re-derives the totals of the actor's order from its items.
func (s *OrderService) RecomputeTotals(ctx context.Context, actor models.Actor, orderID uuid.UUID) (*models.Order, error) {
	if actor.Role != models.RoleAdmin {
		if _, err := s.ownedOrder(ctx, actor, orderID); err != nil {
			return nil, err
		}
	}
	return s.orderRepo.RecomputeTotals(ctx, orderID)
}

// SubmitTransactionCode confirms payment of the actor's own order. The
// transaction record, the pending to paid move and the processed to sold
// inventory transfer happen atomically; on insufficient processed rice the
// order stays pending and no record is kept.
func (s *OrderService) SubmitTransactionCode(ctx context.Context, actor models.Actor, orderID uuid.UUID, customerCode string) (*models.Transaction, error) {
	if _, err := s.ownedOrder(ctx, actor, orderID); err != nil {
		return nil, err
	}
	return s.confirmPayment(ctx, orderID, customerCode)
}

// ConfirmFromProvider confirms payment of an order on behalf of the payment
// provider. Used by the worker for queued confirmations.
func (s *OrderService) ConfirmFromProvider(ctx context.Context, orderID uuid.UUID, customerCode string) (*models.Transaction, error) {
	return s.confirmPayment(ctx, orderID, customerCode)
}

func (s *OrderService) confirmPayment(ctx context.Context, orderID uuid.UUID, customerCode string) (*models.Transaction, error) {
	if customerCode == "" {
		return nil, errors.Wrap(models.ErrValidation, "transaction code is required")
	}

	txn := s.tracer.StartTransaction("confirm-payment")
	defer s.tracer.EndTransaction(txn)

	start := time.Now()
	span := s.tracer.StartSpan("confirm-transaction", txn)
	payment, order, err := s.txnRepo.Confirm(ctx, orderID, customerCode)
	span.End()
	s.metrics.RecordTimer("confirm_payment", time.Since(start))

	if err != nil {
		s.tracer.RecordError(txn, err)
		s.metrics.IncrementCounter("payment_confirmations_failed")
		return nil, err
	}

	s.metrics.IncrementCounter("payment_confirmations")
	log.Info().
		Str("order_id", order.ID.String()).
		Str("transaction_id", payment.ID.String()).
		Str("total_kg", order.TotalKg.String()).
		Msg("Order payment confirmed")

	if s.elasticClient != nil {
		if err := s.elasticClient.IndexOrder(ctx, order); err != nil {
			log.Warn().Err(err).Str("order_id", order.ID.String()).Msg("Failed to index order")
			s.tracer.RecordError(txn, err)
		}
	}

	return payment, nil
}

// paymentMessage is the queued payment confirmation envelope sent by the
// payment provider integration.
type paymentMessage struct {
	EventType string          `json:"ev"`
	Payload   json.RawMessage `json:"payload"`
}

type paymentPayload struct {
	OrderID uuid.UUID `json:"order_id"`
	Code    string    `json:"code"`
}

// ProcessPaymentMessage handles a payment confirmation received from the
// Service Bus queue. An already confirmed order completes the message
// without error so the broker does not redeliver it.
func (s *OrderService) ProcessPaymentMessage(ctx context.Context, message *azservicebus.ReceivedMessage, txn *newrelic.Transaction) error {
	payload, err := extractPaymentDetails(message)
	if err != nil {
		return errors.Wrap(err, "failed to extract payment details")
	}

	s.tracer.AddAttribute(txn, "order_id", payload.OrderID.String())

	_, err = s.ConfirmFromProvider(ctx, payload.OrderID, payload.Code)
	if err != nil {
		if errors.Is(err, models.ErrTransactionExists) {
			log.Info().
				Str("order_id", payload.OrderID.String()).
				Msg("Payment already confirmed, dropping duplicate message")
			return nil
		}
		return err
	}

	return nil
}

// extractPaymentDetails extracts the payment payload from a queued message.
func extractPaymentDetails(message *azservicebus.ReceivedMessage) (*paymentPayload, error) {
	var envelope paymentMessage
	if err := json.Unmarshal(message.Body, &envelope); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal message")
	}

	var payload paymentPayload
	body := envelope.Payload
	if body == nil {
		// Flat messages without the envelope are accepted too.
		body = message.Body
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal payload")
	}
	if payload.OrderID == uuid.Nil {
		return nil, errors.Wrap(models.ErrValidation, "payment message missing order id")
	}

	return &payload, nil
}

// AssignDelivery assigns a paid order to delivery personnel. Admin only.
func (s *OrderService) AssignDelivery(ctx context.Context, actor models.Actor, orderID, personnelID uuid.UUID) (*models.Delivery, error) {
	if actor.Role != models.RoleAdmin {
		return nil, models.ErrPermissionDenied
	}

	txn := s.tracer.StartTransaction("assign-delivery")
	defer s.tracer.EndTransaction(txn)

	delivery, err := s.orderRepo.AssignDelivery(ctx, orderID, personnelID)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	s.metrics.IncrementCounter("deliveries_assigned")
	log.Info().
		Str("order_id", orderID.String()).
		Str("personnel_id", personnelID.String()).
		Msg("Delivery assigned")

	return delivery, nil
}

// MarkDelivered completes a delivery. Only the personnel assigned to the
// order may complete it.
func (s *OrderService) MarkDelivered(ctx context.Context, actor models.Actor, orderID uuid.UUID) (*models.Order, error) {
	if actor.Role != models.RoleDelivery {
		return nil, models.ErrPermissionDenied
	}

	txn := s.tracer.StartTransaction("mark-delivered")
	defer s.tracer.EndTransaction(txn)

	personnel, err := s.profileRepo.GetPersonnelByUserID(ctx, actor.ID)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	order, err := s.orderRepo.MarkDelivered(ctx, orderID, personnel.ID)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	s.metrics.IncrementCounter("orders_delivered")
	log.Info().
		Str("order_id", order.ID.String()).
		Str("personnel_id", personnel.ID.String()).
		Msg("Order delivered")

	if s.elasticClient != nil {
		if err := s.elasticClient.IndexOrder(ctx, order); err != nil {
			log.Warn().Err(err).Str("order_id", order.ID.String()).Msg("Failed to index order")
		}
	}

	return order, nil
}

// CancelOrder cancels a pending order. Customers may cancel their own
// orders; admins any pending order.
func (s *OrderService) CancelOrder(ctx context.Context, actor models.Actor, orderID uuid.UUID) (*models.Order, error) {
	if actor.Role != models.RoleAdmin {
		if _, err := s.ownedOrder(ctx, actor, orderID); err != nil {
			return nil, err
		}
	}

	order, err := s.orderRepo.Cancel(ctx, orderID)
	if err != nil {
		return nil, err
	}

	s.metrics.IncrementCounter("orders_cancelled")
	log.Info().Str("order_id", order.ID.String()).Msg("Order cancelled")

	if s.elasticClient != nil {
		if err := s.elasticClient.IndexOrder(ctx, order); err != nil {
			log.Warn().Err(err).Str("order_id", order.ID.String()).Msg("Failed to index order")
		}
	}

	return order, nil
}

// TrackDelivery returns the delivery attached to an order. Visible to the
// order's customer, the assigned personnel and admins.
func (s *OrderService) TrackDelivery(ctx context.Context, actor models.Actor, orderID uuid.UUID) (*models.Delivery, error) {
	switch actor.Role {
	case models.RoleAdmin:
	case models.RoleCustomer:
		if _, err := s.ownedOrder(ctx, actor, orderID); err != nil {
			return nil, err
		}
	case models.RoleDelivery:
		personnel, err := s.profileRepo.GetPersonnelByUserID(ctx, actor.ID)
		if err != nil {
			return nil, err
		}
		delivery, err := s.orderRepo.GetDelivery(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if delivery.PersonnelID != personnel.ID {
			return nil, models.ErrPermissionDenied
		}
		return delivery, nil
	default:
		return nil, models.ErrPermissionDenied
	}

	return s.orderRepo.GetDelivery(ctx, orderID)
}

// ownedOrder loads the order and verifies the actor is the owning customer.
func (s *OrderService) ownedOrder(ctx context.Context, actor models.Actor, orderID uuid.UUID) (*models.Order, error) {
	if actor.Role != models.RoleCustomer {
		return nil, models.ErrPermissionDenied
	}
	customer, err := s.profileRepo.GetCustomerByUserID(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.CustomerID != customer.ID {
		return nil, models.ErrPermissionDenied
	}
	return order, nil
}

// PackageInput carries the catalog fields managed by admins.
type PackageInput struct {
	Label           string
	WeightKg        decimal.Decimal
	PricePerPackage decimal.Decimal
}

func validatePackageInput(input PackageInput) error {
	if input.Label == "" {
		return errors.Wrap(models.ErrValidation, "package label is required")
	}
	if !input.WeightKg.IsPositive() {
		return errors.Wrap(models.ErrValidation, "package weight must be positive")
	}
	if !input.PricePerPackage.IsPositive() {
		return errors.Wrap(models.ErrValidation, "package price must be positive")
	}
	return nil
}

// CreatePackage adds a package size to the catalog. Admin only.
func (s *OrderService) CreatePackage(ctx context.Context, actor models.Actor, input PackageInput) (*models.PackageSize, error) {
	if actor.Role != models.RoleAdmin {
		return nil, models.ErrPermissionDenied
	}
	if err := validatePackageInput(input); err != nil {
		return nil, err
	}

	pkg := &models.PackageSize{
		ID:              uuid.New(),
		Label:           input.Label,
		WeightKg:        input.WeightKg,
		PricePerPackage: input.PricePerPackage,
	}
	if err := s.packageRepo.Create(ctx, pkg); err != nil {
		return nil, err
	}

	s.invalidateCatalog(ctx)
	log.Info().Str("package_id", pkg.ID.String()).Str("label", pkg.Label).Msg("Package size created")
	return pkg, nil
}

// UpdatePackage replaces a package size's fields. Admin only. Existing order
// items keep the package reference; totals reflect the new values on the
// next recomputation.
func (s *OrderService) UpdatePackage(ctx context.Context, actor models.Actor, id uuid.UUID, input PackageInput) (*models.PackageSize, error) {
	if actor.Role != models.RoleAdmin {
		return nil, models.ErrPermissionDenied
	}
	if err := validatePackageInput(input); err != nil {
		return nil, err
	}

	pkg := &models.PackageSize{
		ID:              id,
		Label:           input.Label,
		WeightKg:        input.WeightKg,
		PricePerPackage: input.PricePerPackage,
	}
	if err := s.packageRepo.Update(ctx, pkg); err != nil {
		return nil, err
	}

	s.invalidateCatalog(ctx)
	return s.packageRepo.GetByID(ctx, id)
}

// DeletePackage removes a package size from the catalog. Admin only.
func (s *OrderService) DeletePackage(ctx context.Context, actor models.Actor, id uuid.UUID) error {
	if actor.Role != models.RoleAdmin {
		return models.ErrPermissionDenied
	}
	if err := s.packageRepo.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidateCatalog(ctx)
	return nil
}

// ListPackages returns the catalog, from cache when warm. Open to all roles.
func (s *OrderService) ListPackages(ctx context.Context) ([]models.PackageSize, error) {
	if s.cache != nil {
		var cached []models.PackageSize
		if err := s.cache.Get(ctx, cache.KeyPackageCatalog, &cached); err == nil {
			return cached, nil
		}
	}

	pkgs, err := s.packageRepo.List(ctx)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cache.KeyPackageCatalog, pkgs, 10*time.Minute); err != nil {
			log.Warn().Err(err).Msg("Failed to cache package catalog")
		}
	}
	return pkgs, nil
}

func (s *OrderService) invalidateCatalog(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cache.KeyPackageCatalog); err != nil {
		log.Warn().Err(err).Msg("Failed to invalidate cached package catalog")
	}
}
