package services

import (
	"context"
	"time"

	"example.com/ricechain/internal/cache"
	"example.com/ricechain/internal/metrics"
	"example.com/ricechain/internal/models"
	"example.com/ricechain/internal/repositories"
	"example.com/ricechain/internal/search"
	"example.com/ricechain/internal/tracing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Store interfaces consumed by SupplyService. The gorm repositories satisfy
// them in production; tests substitute mocks.

type priceStore interface {
	Create(ctx context.Context, price *models.PaddyPrice) error
	Current(ctx context.Context) (*models.PaddyPrice, error)
	History(ctx context.Context) ([]models.PaddyPrice, error)
}

type supplyStore interface {
	Create(ctx context.Context, supply *models.PaddySupply) error
	ApprovePayment(ctx context.Context, supplyID, adminID uuid.UUID, referenceCode string) (*models.PaddySupply, error)
	Reject(ctx context.Context, supplyID uuid.UUID) (*models.PaddySupply, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.PaddySupply, error)
	ListAll(ctx context.Context) ([]models.PaddySupply, error)
	ListByOperator(ctx context.Context, operatorID uuid.UUID) ([]models.PaddySupply, error)
	RecordMilling(ctx context.Context, record *models.ProcessedRiceRecord) error
	MilledTotal(ctx context.Context) (decimal.Decimal, error)
}

type inventoryStore interface {
	Snapshot(ctx context.Context) (*models.InventorySnapshot, error)
	ReceivedSupplyTotal(ctx context.Context) (decimal.Decimal, error)
}

type farmerStore interface {
	GetFarmer(ctx context.Context, id uuid.UUID) (*models.Farmer, error)
	GetMillOperatorByUserID(ctx context.Context, userID uuid.UUID) (*models.MillOperator, error)
}

type supplyIndexer interface {
	IndexSupply(ctx context.Context, supply *models.PaddySupply) error
	SearchSupplies(ctx context.Context, term string) ([]map[string]interface{}, error)
}

type valueCache interface {
	Get(ctx context.Context, key string, value interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// SupplyService handles the procurement side: the paddy price ledger, supply
// intake, farmer payment approval, milling and the inventory counters.
type SupplyService struct {
	priceRepo     priceStore
	supplyRepo    supplyStore
	inventoryRepo inventoryStore
	profileRepo   farmerStore
	cache         valueCache
	elasticClient supplyIndexer
	metrics       *metrics.Metrics
	tracer        tracing.Tracer
}

// NewSupplyService creates a new supply service backed by the gorm
// repositories. Cache and Elasticsearch are optional; a nil client disables
// the feature.
func NewSupplyService(
	db *gorm.DB,
	readOnlyDB *gorm.DB,
	redisCache *cache.RedisCache,
	elasticClient *search.ElasticClient,
	metricsCollector *metrics.Metrics,
	tracer tracing.Tracer,
) *SupplyService {
	s := &SupplyService{
		priceRepo:     repositories.NewPriceRepository(db, readOnlyDB),
		supplyRepo:    repositories.NewSupplyRepository(db, readOnlyDB),
		inventoryRepo: repositories.NewInventoryRepository(db, readOnlyDB),
		profileRepo:   repositories.NewProfileRepository(db, readOnlyDB),
		metrics:       metricsCollector,
		tracer:        tracer,
	}
	if redisCache != nil {
		s.cache = redisCache
	}
	if elasticClient != nil {
		s.elasticClient = elasticClient
	}
	return s
}

// SetPaddyPrice appends a new entry to the price ledger. Admin only. Supplies
// recorded before this call keep their frozen valuation.
func (s *SupplyService) SetPaddyPrice(ctx context.Context, actor models.Actor, pricePerKg decimal.Decimal) (*models.PaddyPrice, error) {
	if actor.Role != models.RoleAdmin {
		return nil, models.ErrPermissionDenied
	}
	if !pricePerKg.IsPositive() {
		return nil, errors.Wrap(models.ErrValidation, "price per kg must be positive")
	}

	txn := s.tracer.StartTransaction("set-paddy-price")
	defer s.tracer.EndTransaction(txn)

	price := &models.PaddyPrice{
		ID:          uuid.New(),
		PricePerKg:  pricePerKg,
		EffectiveAt: time.Now(),
	}
	if err := s.priceRepo.Create(ctx, price); err != nil {
		s.tracer.RecordError(txn, err)
		return nil, errors.Wrap(err, "failed to create paddy price")
	}

	if s.cache != nil {
		if err := s.cache.Delete(ctx, cache.KeyCurrentPaddyPrice); err != nil {
			log.Warn().Err(err).Msg("Failed to invalidate cached paddy price")
		}
	}

	s.metrics.IncrementCounter("paddy_price_updates")
	log.Info().
		Str("price_id", price.ID.String()).
		Str("price_per_kg", pricePerKg.String()).
		Msg("Paddy price updated")

	return price, nil
}

// CurrentPaddyPrice returns the latest ledger entry, from cache when warm.
func (s *SupplyService) CurrentPaddyPrice(ctx context.Context) (*models.PaddyPrice, error) {
	if s.cache != nil {
		var cached models.PaddyPrice
		if err := s.cache.Get(ctx, cache.KeyCurrentPaddyPrice, &cached); err == nil {
			return &cached, nil
		}
	}

	price, err := s.priceRepo.Current(ctx)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cache.KeyCurrentPaddyPrice, price, 10*time.Minute); err != nil {
			log.Warn().Err(err).Msg("Failed to cache paddy price")
		}
	}
	return price, nil
}

// PriceHistory returns the full ledger, newest first. Admin only.
func (s *SupplyService) PriceHistory(ctx context.Context, actor models.Actor) ([]models.PaddyPrice, error) {
	if actor.Role != models.RoleAdmin {
		return nil, models.ErrPermissionDenied
	}
	return s.priceRepo.History(ctx)
}

// RecordSupplyInput carries the intake details entered by a mill operator.
type RecordSupplyInput struct {
	FarmerID      uuid.UUID
	Quantity      decimal.Decimal
	QualityRating int
	MoisturePct   decimal.Decimal
}

// RecordSupply records a paddy intake by the acting mill operator. The
// supply is valued at the current price and the paddy counter grows by its
// quantity in the same database transaction.
func (s *SupplyService) RecordSupply(ctx context.Context, actor models.Actor, input RecordSupplyInput) (*models.PaddySupply, error) {
	if actor.Role != models.RoleMillOperator {
		return nil, models.ErrPermissionDenied
	}
	if !input.Quantity.IsPositive() {
		return nil, errors.Wrap(models.ErrValidation, "quantity must be positive")
	}
	if input.QualityRating < 1 || input.QualityRating > 5 {
		return nil, errors.Wrap(models.ErrValidation, "quality rating must be between 1 and 5")
	}
	if input.MoisturePct.IsNegative() {
		return nil, errors.Wrap(models.ErrValidation, "moisture percentage cannot be negative")
	}

	txn := s.tracer.StartTransaction("record-supply")
	defer s.tracer.EndTransaction(txn)

	operator, err := s.profileRepo.GetMillOperatorByUserID(ctx, actor.ID)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}
	if _, err := s.profileRepo.GetFarmer(ctx, input.FarmerID); err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	supply := &models.PaddySupply{
		ID:             uuid.New(),
		FarmerID:       input.FarmerID,
		MillOperatorID: operator.ID,
		Quantity:       input.Quantity,
		QualityRating:  input.QualityRating,
		MoisturePct:    input.MoisturePct,
	}

	start := time.Now()
	span := s.tracer.StartSpan("create-supply", txn)
	err = s.supplyRepo.Create(ctx, supply)
	span.End()
	s.metrics.RecordTimer("record_supply", time.Since(start))

	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	s.metrics.IncrementCounter("supplies_recorded")
	log.Info().
		Str("supply_id", supply.ID.String()).
		Str("farmer_id", supply.FarmerID.String()).
		Str("quantity", supply.Quantity.String()).
		Str("total_amount", supply.TotalAmount.String()).
		Msg("Paddy supply recorded")

	// Indexing is best-effort after the commit; a search outage must not
	// fail the intake.
	if s.elasticClient != nil {
		if err := s.elasticClient.IndexSupply(ctx, supply); err != nil {
			log.Warn().Err(err).Str("supply_id", supply.ID.String()).Msg("Failed to index supply")
			s.tracer.RecordError(txn, err)
		}
	}

	return supply, nil
}

// ApprovePayment marks a supply as paid to the farmer. Admin only; approving
// an already paid supply fails with models.ErrAlreadyApproved.
func (s *SupplyService) ApprovePayment(ctx context.Context, actor models.Actor, supplyID uuid.UUID, referenceCode string) (*models.PaddySupply, error) {
	if actor.Role != models.RoleAdmin {
		return nil, models.ErrPermissionDenied
	}
	if referenceCode == "" {
		return nil, errors.Wrap(models.ErrValidation, "payment reference code is required")
	}

	txn := s.tracer.StartTransaction("approve-supply-payment")
	defer s.tracer.EndTransaction(txn)

	supply, err := s.supplyRepo.ApprovePayment(ctx, supplyID, actor.ID, referenceCode)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	s.metrics.IncrementCounter("supply_payments_approved")
	log.Info().
		Str("supply_id", supply.ID.String()).
		Str("approved_by", actor.ID.String()).
		Msg("Supply payment approved")

	if s.elasticClient != nil {
		if err := s.elasticClient.IndexSupply(ctx, supply); err != nil {
			log.Warn().Err(err).Str("supply_id", supply.ID.String()).Msg("Failed to reindex supply")
		}
	}

	return supply, nil
}

// RejectSupply reverses a received supply. Admin only; the supply's quantity
// leaves the paddy counter and the farmer's running total. Paid supplies
// cannot be rejected.
func (s *SupplyService) RejectSupply(ctx context.Context, actor models.Actor, supplyID uuid.UUID) (*models.PaddySupply, error) {
	if actor.Role != models.RoleAdmin {
		return nil, models.ErrPermissionDenied
	}

	txn := s.tracer.StartTransaction("reject-supply")
	defer s.tracer.EndTransaction(txn)

	supply, err := s.supplyRepo.Reject(ctx, supplyID)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	s.metrics.IncrementCounter("supplies_rejected")
	log.Info().
		Str("supply_id", supply.ID.String()).
		Str("quantity", supply.Quantity.String()).
		Msg("Paddy supply rejected")

	if s.elasticClient != nil {
		if err := s.elasticClient.IndexSupply(ctx, supply); err != nil {
			log.Warn().Err(err).Str("supply_id", supply.ID.String()).Msg("Failed to reindex supply")
		}
	}

	return supply, nil
}

// SearchSupplies runs a free-text query over the indexed supplies. Admin
// only; requires the search backend.
func (s *SupplyService) SearchSupplies(ctx context.Context, actor models.Actor, term string) ([]map[string]interface{}, error) {
	if actor.Role != models.RoleAdmin {
		return nil, models.ErrPermissionDenied
	}
	if term == "" {
		return nil, errors.Wrap(models.ErrValidation, "search term is required")
	}
	if s.elasticClient == nil {
		return nil, errors.New("supply search is not enabled")
	}
	return s.elasticClient.SearchSupplies(ctx, term)
}

// GetSupply gets a supply by id. Admins see any supply; mill operators only
// their own intakes.
func (s *SupplyService) GetSupply(ctx context.Context, actor models.Actor, supplyID uuid.UUID) (*models.PaddySupply, error) {
	supply, err := s.supplyRepo.GetByID(ctx, supplyID)
	if err != nil {
		return nil, err
	}

	switch actor.Role {
	case models.RoleAdmin:
		return supply, nil
	case models.RoleMillOperator:
		operator, err := s.profileRepo.GetMillOperatorByUserID(ctx, actor.ID)
		if err != nil {
			return nil, err
		}
		if supply.MillOperatorID != operator.ID {
			return nil, models.ErrPermissionDenied
		}
		return supply, nil
	default:
		return nil, models.ErrPermissionDenied
	}
}

// ListSupplies lists supplies visible to the actor: everything for admins,
// own intakes for mill operators.
func (s *SupplyService) ListSupplies(ctx context.Context, actor models.Actor) ([]models.PaddySupply, error) {
	switch actor.Role {
	case models.RoleAdmin:
		return s.supplyRepo.ListAll(ctx)
	case models.RoleMillOperator:
		operator, err := s.profileRepo.GetMillOperatorByUserID(ctx, actor.ID)
		if err != nil {
			return nil, err
		}
		return s.supplyRepo.ListByOperator(ctx, operator.ID)
	default:
		return nil, models.ErrPermissionDenied
	}
}

// RecordMilling records a milling run by the acting mill operator, moving
// the quantity from the paddy counter to the processed counter. An
// insufficient paddy balance fails the whole operation.
func (s *SupplyService) RecordMilling(ctx context.Context, actor models.Actor, quantity decimal.Decimal) (*models.ProcessedRiceRecord, error) {
	if actor.Role != models.RoleMillOperator {
		return nil, models.ErrPermissionDenied
	}
	if !quantity.IsPositive() {
		return nil, errors.Wrap(models.ErrValidation, "quantity must be positive")
	}

	txn := s.tracer.StartTransaction("record-milling")
	defer s.tracer.EndTransaction(txn)

	operator, err := s.profileRepo.GetMillOperatorByUserID(ctx, actor.ID)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	record := &models.ProcessedRiceRecord{
		ID:             uuid.New(),
		MillOperatorID: operator.ID,
		Quantity:       quantity,
	}

	start := time.Now()
	err = s.supplyRepo.RecordMilling(ctx, record)
	s.metrics.RecordTimer("record_milling", time.Since(start))

	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	s.metrics.IncrementCounter("milling_runs_recorded")
	log.Info().
		Str("record_id", record.ID.String()).
		Str("quantity", quantity.String()).
		Msg("Milling run recorded")

	return record, nil
}

// Inventory returns the current counter snapshot. Admins and mill operators
// only.
func (s *SupplyService) Inventory(ctx context.Context, actor models.Actor) (*models.InventorySnapshot, error) {
	if actor.Role != models.RoleAdmin && actor.Role != models.RoleMillOperator {
		return nil, models.ErrPermissionDenied
	}
	return s.inventoryRepo.Snapshot(ctx)
}

// ConservationReport compares the total paddy still counted as received
// against the combined inventory counters, and the milling ledger against
// the processed and sold counters. Both differences must be zero at all
// times; anything else means a transfer escaped its transaction.
type ConservationReport struct {
	SuppliedTotal     decimal.Decimal          `json:"supplied_total"`
	MilledTotal       decimal.Decimal          `json:"milled_total"`
	Snapshot          models.InventorySnapshot `json:"snapshot"`
	Difference        decimal.Decimal          `json:"difference"`
	MillingDifference decimal.Decimal          `json:"milling_difference"`
	Balanced          bool                     `json:"balanced"`
}

// AuditConservation runs the mass conservation check and records the result
// as a health metric. Called periodically by the worker.
func (s *SupplyService) AuditConservation(ctx context.Context) (*ConservationReport, error) {
	txn := s.tracer.StartTransaction("audit-conservation")
	defer s.tracer.EndTransaction(txn)

	supplied, err := s.inventoryRepo.ReceivedSupplyTotal(ctx)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}
	milled, err := s.supplyRepo.MilledTotal(ctx)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}
	snapshot, err := s.inventoryRepo.Snapshot(ctx)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	difference := supplied.Sub(snapshot.Total())
	// Every milled kilogram is either still processed or already sold.
	millingDifference := milled.Sub(snapshot.ProcessedRice.Add(snapshot.SoldRice))
	report := &ConservationReport{
		SuppliedTotal:     supplied,
		MilledTotal:       milled,
		Snapshot:          *snapshot,
		Difference:        difference,
		MillingDifference: millingDifference,
		Balanced:          difference.IsZero() && millingDifference.IsZero(),
	}

	s.metrics.IncrementCounter("conservation_audits")
	s.metrics.SetHealth("inventory_conservation", report.Balanced)

	if !report.Balanced {
		log.Error().
			Str("supplied_total", supplied.String()).
			Str("milled_total", milled.String()).
			Str("counter_total", snapshot.Total().String()).
			Str("difference", difference.String()).
			Str("milling_difference", millingDifference.String()).
			Msg("Inventory conservation violated")
	} else {
		log.Info().
			Str("supplied_total", supplied.String()).
			Msg("Inventory conservation audit passed")
	}

	return report, nil
}
