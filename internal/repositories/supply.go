package repositories

import (
	"context"
	"time"

	"example.com/ricechain/internal/models"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SupplyRepository provides access to the paddy supply ledger and the
// milling records.
type SupplyRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewSupplyRepository creates a new supply repository.
func NewSupplyRepository(db *gorm.DB, readOnlyDB *gorm.DB) *SupplyRepository {
	return &SupplyRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// Create persists a supply, values it at the current paddy price, increments
// the farmer's running total and the paddy counter. All writes commit
// together or not at all. The computed total amount is frozen on the row and
// unaffected by later price changes.
func (r *SupplyRepository) Create(ctx context.Context, supply *models.PaddySupply) error {
	if supply.ID == uuid.Nil {
		supply.ID = uuid.New()
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		price, err := currentPriceTx(tx)
		if err != nil {
			return err
		}
		supply.Value(price)
		supply.Status = models.SupplyStatusReceived
		supply.PaymentStatus = models.PaymentStatusUnpaid

		if err := tx.Create(supply).Error; err != nil {
			return errors.Wrap(err, "failed to create paddy supply")
		}

		result := tx.Model(&models.Farmer{}).
			Where("id = ?", supply.FarmerID).
			Update("total_paddy_supplied", gorm.Expr("total_paddy_supplied + ?", supply.Quantity))
		if result.Error != nil {
			return errors.Wrap(result.Error, "failed to update farmer supply total")
		}
		if result.RowsAffected == 0 {
			return models.ErrNotFound
		}

		return increasePaddyTx(tx, supply.Quantity)
	})
}

// ApprovePayment moves a supply from unpaid to paid under a row lock so a
// concurrent approval cannot observe a stale payment status. A second
// approval returns models.ErrAlreadyApproved with the approval timestamp
// unchanged.
func (r *SupplyRepository) ApprovePayment(ctx context.Context, supplyID, adminID uuid.UUID, referenceCode string) (*models.PaddySupply, error) {
	var supply models.PaddySupply

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(updateLock()).First(&supply, "id = ?", supplyID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.ErrNotFound
			}
			return errors.Wrap(err, "failed to lock paddy supply")
		}

		if err := supply.ApprovePayment(adminID, referenceCode, time.Now()); err != nil {
			return err
		}

		return tx.Model(&models.PaddySupply{}).
			Where("id = ?", supply.ID).
			Updates(map[string]interface{}{
				"payment_status":         supply.PaymentStatus,
				"approved_by_id":         supply.ApprovedByID,
				"approved_at":            supply.ApprovedAt,
				"payment_reference_code": supply.PaymentReferenceCode,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return &supply, nil
}

// Reject reverses a received supply under a row lock: the supply moves to
// rejected, the farmer's running total shrinks by its quantity and the paddy
// counter gives the quantity back. Paddy already milled cannot be reclaimed;
// in that case the whole rejection rolls back with
// models.ErrInsufficientInventory.
func (r *SupplyRepository) Reject(ctx context.Context, supplyID uuid.UUID) (*models.PaddySupply, error) {
	var supply models.PaddySupply

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(updateLock()).First(&supply, "id = ?", supplyID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.ErrNotFound
			}
			return errors.Wrap(err, "failed to lock paddy supply")
		}

		if err := supply.Reject(); err != nil {
			return err
		}

		if err := tx.Model(&models.PaddySupply{}).
			Where("id = ?", supply.ID).
			Update("status", supply.Status).Error; err != nil {
			return errors.Wrap(err, "failed to update supply status")
		}

		result := tx.Model(&models.Farmer{}).
			Where("id = ?", supply.FarmerID).
			Update("total_paddy_supplied", gorm.Expr("total_paddy_supplied - ?", supply.Quantity))
		if result.Error != nil {
			return errors.Wrap(result.Error, "failed to update farmer supply total")
		}
		if result.RowsAffected == 0 {
			return models.ErrNotFound
		}

		return decreasePaddyTx(tx, supply.Quantity)
	})
	if err != nil {
		return nil, err
	}
	return &supply, nil
}

// GetByID gets a supply by id.
func (r *SupplyRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.PaddySupply, error) {
	var supply models.PaddySupply
	err := r.readOnlyDB.WithContext(ctx).First(&supply, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get paddy supply")
	}
	return &supply, nil
}

// ListAll returns every supply, newest first.
func (r *SupplyRepository) ListAll(ctx context.Context) ([]models.PaddySupply, error) {
	var supplies []models.PaddySupply
	err := r.readOnlyDB.WithContext(ctx).
		Order("created_at DESC").
		Find(&supplies).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list paddy supplies")
	}
	return supplies, nil
}

// ListByOperator returns the supplies recorded by one mill operator,
// newest first.
func (r *SupplyRepository) ListByOperator(ctx context.Context, operatorID uuid.UUID) ([]models.PaddySupply, error) {
	var supplies []models.PaddySupply
	err := r.readOnlyDB.WithContext(ctx).
		Where("mill_operator_id = ?", operatorID).
		Order("created_at DESC").
		Find(&supplies).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list paddy supplies by operator")
	}
	return supplies, nil
}

// RecordMilling persists a milling run and moves its quantity from the
// paddy counter to the processed counter in the same transaction. An
// insufficient paddy balance rolls the record back as well.
func (r *SupplyRepository) RecordMilling(ctx context.Context, record *models.ProcessedRiceRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(record).Error; err != nil {
			return errors.Wrap(err, "failed to create milling record")
		}
		return transferPaddyToProcessedTx(tx, record.Quantity)
	})
}

// MilledTotal sums the quantity of all milling records.
func (r *SupplyRepository) MilledTotal(ctx context.Context) (decimal.Decimal, error) {
	var row struct {
		Total decimal.Decimal
	}
	err := r.readOnlyDB.WithContext(ctx).
		Model(&models.ProcessedRiceRecord{}).
		Select("COALESCE(SUM(quantity), 0) AS total").
		Scan(&row).Error
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "failed to sum milling records")
	}
	return row.Total, nil
}
