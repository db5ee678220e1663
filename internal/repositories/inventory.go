package repositories

import (
	"context"

	"example.com/ricechain/internal/models"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Row lock used for every inventory read-check-write sequence. Lock order is
// always paddy, then processed, then sold.
func updateLock() clause.Locking {
	return clause.Locking{Strength: "UPDATE"}
}

// InventoryRepository provides access to the three singleton inventory
// counters. All mutations are relative and run under a row lock inside a
// database transaction.
type InventoryRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewInventoryRepository creates a new inventory repository.
func NewInventoryRepository(db *gorm.DB, readOnlyDB *gorm.DB) *InventoryRepository {
	return &InventoryRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// Snapshot returns the current value of the three counters.
func (r *InventoryRepository) Snapshot(ctx context.Context) (*models.InventorySnapshot, error) {
	var (
		paddy     models.PaddyInventory
		processed models.ProcessedRiceInventory
		sold      models.SoldRiceInventory
	)

	db := r.readOnlyDB.WithContext(ctx)
	if err := db.First(&paddy, models.InventoryRowID).Error; err != nil {
		return nil, errors.Wrap(err, "failed to read paddy inventory")
	}
	if err := db.First(&processed, models.InventoryRowID).Error; err != nil {
		return nil, errors.Wrap(err, "failed to read processed rice inventory")
	}
	if err := db.First(&sold, models.InventoryRowID).Error; err != nil {
		return nil, errors.Wrap(err, "failed to read sold rice inventory")
	}

	return &models.InventorySnapshot{
		Paddy:         paddy.Quantity,
		ProcessedRice: processed.Quantity,
		SoldRice:      sold.Quantity,
	}, nil
}

// ReceivedSupplyTotal sums the quantity of all received supplies. Used by
// the conservation audit: the sum must equal the combined counters.
func (r *InventoryRepository) ReceivedSupplyTotal(ctx context.Context) (decimal.Decimal, error) {
	var row struct {
		Total decimal.Decimal
	}
	err := r.readOnlyDB.WithContext(ctx).
		Model(&models.PaddySupply{}).
		Select("COALESCE(SUM(quantity), 0) AS total").
		Where("status = ?", models.SupplyStatusReceived).
		Scan(&row).Error
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "failed to sum received supplies")
	}
	return row.Total, nil
}

// increasePaddyTx adds qty to the paddy counter under a row lock. Must run
// inside an open transaction.
func increasePaddyTx(tx *gorm.DB, qty decimal.Decimal) error {
	var paddy models.PaddyInventory
	if err := tx.Clauses(updateLock()).First(&paddy, models.InventoryRowID).Error; err != nil {
		return errors.Wrap(err, "failed to lock paddy inventory")
	}
	if err := paddy.Add(qty); err != nil {
		return err
	}
	if err := tx.Model(&models.PaddyInventory{}).
		Where("id = ?", models.InventoryRowID).
		Update("quantity", paddy.Quantity).Error; err != nil {
		return errors.Wrap(err, "failed to update paddy inventory")
	}
	return nil
}

// decreasePaddyTx removes qty from the paddy counter under a row lock. Must
// run inside an open transaction; paddy already milled away cannot be
// reclaimed, so the removal fails with models.ErrInsufficientInventory when
// the counter cannot cover qty.
func decreasePaddyTx(tx *gorm.DB, qty decimal.Decimal) error {
	var paddy models.PaddyInventory
	if err := tx.Clauses(updateLock()).First(&paddy, models.InventoryRowID).Error; err != nil {
		return errors.Wrap(err, "failed to lock paddy inventory")
	}
	if err := paddy.Remove(qty); err != nil {
		return err
	}
	if err := tx.Model(&models.PaddyInventory{}).
		Where("id = ?", models.InventoryRowID).
		Update("quantity", paddy.Quantity).Error; err != nil {
		return errors.Wrap(err, "failed to update paddy inventory")
	}
	return nil
}

// transferPaddyToProcessedTx moves qty from the paddy counter to the
// processed counter. Both rows are locked; an insufficient paddy balance
// fails with models.ErrInsufficientInventory and leaves both untouched.
func transferPaddyToProcessedTx(tx *gorm.DB, qty decimal.Decimal) error {
	var paddy models.PaddyInventory
	if err := tx.Clauses(updateLock()).First(&paddy, models.InventoryRowID).Error; err != nil {
		return errors.Wrap(err, "failed to lock paddy inventory")
	}
	var processed models.ProcessedRiceInventory
	if err := tx.Clauses(updateLock()).First(&processed, models.InventoryRowID).Error; err != nil {
		return errors.Wrap(err, "failed to lock processed rice inventory")
	}

	if err := paddy.Remove(qty); err != nil {
		return err
	}
	if err := processed.Add(qty); err != nil {
		return err
	}

	if err := tx.Model(&models.PaddyInventory{}).
		Where("id = ?", models.InventoryRowID).
		Update("quantity", paddy.Quantity).Error; err != nil {
		return errors.Wrap(err, "failed to update paddy inventory")
	}
	if err := tx.Model(&models.ProcessedRiceInventory{}).
		Where("id = ?", models.InventoryRowID).
		Update("quantity", processed.Quantity).Error; err != nil {
		return errors.Wrap(err, "failed to update processed rice inventory")
	}
	return nil
}

// transferProcessedToSoldTx moves qty from the processed counter to the sold
// counter, with the same locking and failure behavior as the paddy transfer.
func transferProcessedToSoldTx(tx *gorm.DB, qty decimal.Decimal) error {
	var processed models.ProcessedRiceInventory
	if err := tx.Clauses(updateLock()).First(&processed, models.InventoryRowID).Error; err != nil {
		return errors.Wrap(err, "failed to lock processed rice inventory")
	}
	var sold models.SoldRiceInventory
	if err := tx.Clauses(updateLock()).First(&sold, models.InventoryRowID).Error; err != nil {
		return errors.Wrap(err, "failed to lock sold rice inventory")
	}

	if err := processed.Remove(qty); err != nil {
		return err
	}
	if err := sold.Add(qty); err != nil {
		return err
	}

	if err := tx.Model(&models.ProcessedRiceInventory{}).
		Where("id = ?", models.InventoryRowID).
		Update("quantity", processed.Quantity).Error; err != nil {
		return errors.Wrap(err, "failed to update processed rice inventory")
	}
	if err := tx.Model(&models.SoldRiceInventory{}).
		Where("id = ?", models.InventoryRowID).
		Update("quantity", sold.Quantity).Error; err != nil {
		return errors.Wrap(err, "failed to update sold rice inventory")
	}
	return nil
}
