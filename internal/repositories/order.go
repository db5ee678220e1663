package repositories

import (
	"context"
	"time"

	"example.com/ricechain/internal/models"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// OrderRepository provides access to orders, their items and deliveries.
type OrderRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewOrderRepository creates a new order repository.
func NewOrderRepository(db *gorm.DB, readOnlyDB *gorm.DB) *OrderRepository {
	return &OrderRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// CreateWithItems persists a pending order together with its line items and
// computes its totals, all in one transaction.
func (r *OrderRepository) CreateWithItems(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	order.Status = models.OrderStatusPending

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			return errors.Wrap(err, "failed to create order")
		}
		for i := range items {
			if items[i].ID == uuid.Nil {
				items[i].ID = uuid.New()
			}
			items[i].OrderID = order.ID
			if err := tx.Create(&items[i]).Error; err != nil {
				return errors.Wrap(err, "failed to create order item")
			}
		}
		return recomputeTotalsTx(tx, order)
	})
}

// AddItem appends a line item to an order that is still pending. Items on
// paid, delivered or cancelled orders are immutable.
func (r *OrderRepository) AddItem(ctx context.Context, item *models.OrderItem) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order models.Order
		if err := tx.Clauses(updateLock()).First(&order, "id = ?", item.OrderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.ErrNotFound
			}
			return errors.Wrap(err, "failed to lock order")
		}
		if order.Status != models.OrderStatusPending {
			return models.ErrInvalidStateTransition
		}
		if err := tx.Create(item).Error; err != nil {
			return errors.Wrap(err, "failed to create order item")
		}
		return recomputeTotalsTx(tx, &order)
	})
}

// GetByID gets an order with its items and package sizes loaded.
func (r *OrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.readOnlyDB.WithContext(ctx).
		Preload("Items").
		Preload("Items.PackageSize").
		First(&order, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get order")
	}
	return &order, nil
}

// ListByCustomer returns a customer's orders, newest first.
func (r *OrderRepository) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]models.Order, error) {
	var orders []models.Order
	err := r.readOnlyDB.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("created_at DESC").
		Find(&orders).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list orders by customer")
	}
	return orders, nil
}

// ListAll returns every order, newest first.
func (r *OrderRepository) ListAll(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	err := r.readOnlyDB.WithContext(ctx).
		Order("created_at DESC").
		Find(&orders).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list orders")
	}
	return orders, nil
}

// RecomputeTotals re-derives the order totals from its current items and
// stores them. The computation is a pure sum and calling it repeatedly
// yields the same result.
func (r *OrderRepository) RecomputeTotals(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&order, "id = ?", orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.ErrNotFound
			}
			return errors.Wrap(err, "failed to get order")
		}
		return recomputeTotalsTx(tx, &order)
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// recomputeTotalsTx sums the order's items inside an open transaction and
// writes the totals back to the order row and the passed struct.
func recomputeTotalsTx(tx *gorm.DB, order *models.Order) error {
	var items []models.OrderItem
	if err := tx.Preload("PackageSize").
		Where("order_id = ?", order.ID).
		Find(&items).Error; err != nil {
		return errors.Wrap(err, "failed to load order items")
	}

	totalKg, totalAmount := models.CalculateOrderTotals(items)
	order.TotalKg = totalKg
	order.TotalAmount = totalAmount
	order.Items = items

	return tx.Model(&models.Order{}).
		Where("id = ?", order.ID).
		Updates(map[string]interface{}{
			"total_kg":     totalKg,
			"total_amount": totalAmount,
		}).Error
}

// Cancel moves a pending order to cancelled.
func (r *OrderRepository) Cancel(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(updateLock()).First(&order, "id = ?", orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.ErrNotFound
			}
			return errors.Wrap(err, "failed to lock order")
		}
		if err := order.Cancel(); err != nil {
			return err
		}
		return tx.Model(&models.Order{}).
			Where("id = ?", order.ID).
			Update("status", order.Status).Error
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// AssignDelivery assigns a paid order to available delivery personnel. The
// assignment creates the delivery with the customer's address, links the
// personnel on the order and marks them unavailable until delivery.
func (r *OrderRepository) AssignDelivery(ctx context.Context, orderID, personnelID uuid.UUID) (*models.Delivery, error) {
	var delivery models.Delivery

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order models.Order
		if err := tx.Clauses(updateLock()).First(&order, "id = ?", orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.ErrNotFound
			}
			return errors.Wrap(err, "failed to lock order")
		}
		if order.Status != models.OrderStatusPaid {
			return models.ErrInvalidStateTransition
		}
		if order.DeliveryPersonnelID != nil {
			return models.ErrPersonnelUnavailable
		}

		var personnel models.DeliveryPersonnel
		if err := tx.Clauses(updateLock()).First(&personnel, "id = ?", personnelID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.ErrNotFound
			}
			return errors.Wrap(err, "failed to lock delivery personnel")
		}
		if !personnel.IsAvailable {
			return models.ErrPersonnelUnavailable
		}

		var activeCount int64
		if err := tx.Model(&models.Delivery{}).
			Where("personnel_id = ? AND is_delivered = ?", personnelID, false).
			Count(&activeCount).Error; err != nil {
			return errors.Wrap(err, "failed to count active deliveries")
		}
		if activeCount > 0 {
			return models.ErrPersonnelUnavailable
		}

		var customer models.Customer
		if err := tx.First(&customer, "id = ?", order.CustomerID).Error; err != nil {
			return errors.Wrap(err, "failed to get order customer")
		}

		delivery = models.Delivery{
			ID:          uuid.New(),
			OrderID:     order.ID,
			PersonnelID: personnelID,
			Address:     customer.DeliveryAddress,
		}
		if err := tx.Create(&delivery).Error; err != nil {
			return errors.Wrap(err, "failed to create delivery")
		}

		if err := tx.Model(&models.Order{}).
			Where("id = ?", order.ID).
			Update("delivery_personnel_id", personnelID).Error; err != nil {
			return errors.Wrap(err, "failed to link personnel to order")
		}

		return tx.Model(&models.DeliveryPersonnel{}).
			Where("id = ?", personnelID).
			Update("is_available", false).Error
	})
	if err != nil {
		return nil, err
	}
	return &delivery, nil
}

// MarkDelivered completes a paid order's delivery. Only the assigned
// personnel may complete it; the order moves to delivered, the delivery is
// stamped and the personnel becomes available again.
func (r *OrderRepository) MarkDelivered(ctx context.Context, orderID, personnelID uuid.UUID) (*models.Order, error) {
	var order models.Order

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(updateLock()).First(&order, "id = ?", orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.ErrNotFound
			}
			return errors.Wrap(err, "failed to lock order")
		}
		if order.DeliveryPersonnelID == nil || *order.DeliveryPersonnelID != personnelID {
			return models.ErrPermissionDenied
		}
		if err := order.MarkDelivered(); err != nil {
			return err
		}

		now := time.Now()
		result := tx.Model(&models.Delivery{}).
			Where("order_id = ? AND is_delivered = ?", order.ID, false).
			Updates(map[string]interface{}{
				"is_delivered": true,
				"delivered_at": now,
			})
		if result.Error != nil {
			return errors.Wrap(result.Error, "failed to update delivery")
		}
		if result.RowsAffected == 0 {
			return models.ErrNotFound
		}

		if err := tx.Model(&models.Order{}).
			Where("id = ?", order.ID).
			Update("status", order.Status).Error; err != nil {
			return errors.Wrap(err, "failed to update order status")
		}

		return tx.Model(&models.DeliveryPersonnel{}).
			Where("id = ?", personnelID).
			Update("is_available", true).Error
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetDelivery gets the delivery attached to an order.
func (r *OrderRepository) GetDelivery(ctx context.Context, orderID uuid.UUID) (*models.Delivery, error) {
	var delivery models.Delivery
	err := r.readOnlyDB.WithContext(ctx).First(&delivery, "order_id = ?", orderID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get delivery")
	}
	return &delivery, nil
}

// TransactionRepository provides access to payment confirmation records.
type TransactionRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewTransactionRepository creates a new transaction repository.
func NewTransactionRepository(db *gorm.DB, readOnlyDB *gorm.DB) *TransactionRepository {
	return &TransactionRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// Confirm records a customer's transaction code and settles the order: the
// order moves from pending to paid and the order's weight moves from the
// processed counter to the sold counter. The transaction row, the status
// change and the inventory transfer are one atomic unit; if the processed
// counter cannot cover the order, everything rolls back.
func (r *TransactionRepository) Confirm(ctx context.Context, orderID uuid.UUID, customerCode string) (*models.Transaction, *models.Order, error) {
	var (
		txn   models.Transaction
		order models.Order
	)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(updateLock()).First(&order, "id = ?", orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.ErrNotFound
			}
			return errors.Wrap(err, "failed to lock order")
		}

		var existing int64
		if err := tx.Model(&models.Transaction{}).
			Where("order_id = ?", order.ID).
			Count(&existing).Error; err != nil {
			return errors.Wrap(err, "failed to check for existing transaction")
		}
		if existing > 0 {
			return models.ErrTransactionExists
		}

		if err := order.MarkPaid(); err != nil {
			return err
		}

		if order.TotalKg.IsZero() {
			if err := recomputeTotalsTx(tx, &order); err != nil {
				return err
			}
		}

		if err := transferProcessedToSoldTx(tx, order.TotalKg); err != nil {
			return err
		}

		txn = models.Transaction{
			ID:           uuid.New(),
			OrderID:      order.ID,
			CustomerCode: customerCode,
		}
		if err := tx.Create(&txn).Error; err != nil {
			return errors.Wrap(err, "failed to create transaction")
		}

		return tx.Model(&models.Order{}).
			Where("id = ?", order.ID).
			Update("status", order.Status).Error
	})
	if err != nil {
		return nil, nil, err
	}
	return &txn, &order, nil
}

// GetByOrderID gets the transaction attached to an order.
func (r *TransactionRepository) GetByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Transaction, error) {
	var txn models.Transaction
	err := r.readOnlyDB.WithContext(ctx).First(&txn, "order_id = ?", orderID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get transaction")
	}
	return &txn, nil
}

// ListAll returns every transaction, newest first.
func (r *TransactionRepository) ListAll(ctx context.Context) ([]models.Transaction, error) {
	var txns []models.Transaction
	err := r.readOnlyDB.WithContext(ctx).
		Order("created_at DESC").
		Find(&txns).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list transactions")
	}
	return txns, nil
}
