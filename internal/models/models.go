package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Role identifies what a user is allowed to do. It is resolved once at the
// identity boundary and passed into the services as part of an Actor.
type Role string

// User roles
const (
	RoleFarmer       Role = "FARMER"
	RoleCustomer     Role = "CUSTOMER"
	RoleDelivery     Role = "DELIVERY"
	RoleMillOperator Role = "MILL_OPERATOR"
	RoleAdmin        Role = "ADMIN"
)

// Valid reports whether r is one of the five known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleFarmer, RoleCustomer, RoleDelivery, RoleMillOperator, RoleAdmin:
		return true
	}
	return false
}

// Actor is the authenticated principal acting on the system. The upstream
// identity provider supplies the user id and role; the services only ever
// consume these two fields.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

// User mirrors the account row owned by the identity provider.
type User struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	Email       string    `gorm:"not null;uniqueIndex" json:"email"`
	Username    string    `gorm:"not null;uniqueIndex" json:"username"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	PhoneNumber string    `json:"phone_number"`
	Role        Role      `gorm:"not null" json:"role"`
}

// Farmer is the farmer role profile. TotalPaddySupplied is a running counter
// incremented whenever a supply from this farmer is recorded.
type Farmer struct {
	ID                 uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt          time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	UserID             uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex" json:"user_id"`
	BankName           string          `json:"bank_name"`
	AccountNumber      string          `json:"account_number"`
	TotalPaddySupplied decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"total_paddy_supplied"`
	User               User            `gorm:"foreignKey:UserID" json:"-"`
}

// Customer is the customer role profile.
type Customer struct {
	ID                     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt              time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	UserID                 uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"user_id"`
	DeliveryAddress        string    `json:"delivery_address"`
	PreferredPaymentMethod string    `json:"preferred_payment_method"`
	User                   User      `gorm:"foreignKey:UserID" json:"-"`
}

// DeliveryPersonnel is the delivery role profile. IsAvailable is cleared
// while the person carries an undelivered assignment.
type DeliveryPersonnel struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	UserID        uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"user_id"`
	VehicleType   string    `json:"vehicle_type"`
	VehicleNumber string    `json:"vehicle_number"`
	LicenseNumber string    `json:"license_number"`
	IsAvailable   bool      `gorm:"not null;default:true" json:"is_available"`
	User          User      `gorm:"foreignKey:UserID" json:"-"`
}

// MillOperator is the mill operator role profile.
type MillOperator struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	UserID        uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"user_id"`
	Shift         string    `json:"shift"`
	Qualification string    `json:"qualification"`
	User          User      `gorm:"foreignKey:UserID" json:"-"`
}

// PaddyPrice is one entry in the append-only price ledger. Entries are never
// updated; the current price is the entry with the latest EffectiveAt.
type PaddyPrice struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	PricePerKg  decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"price_per_kg"`
	EffectiveAt time.Time       `gorm:"not null;index" json:"effective_at"`
}

// SupplyStatus describes the intake state of a paddy supply.
type SupplyStatus string

// Supply statuses. Intake records a supply as received; an admin may later
// reject it, which reverses its inventory effects.
const (
	SupplyStatusReceived SupplyStatus = "RECEIVED"
	SupplyStatusRejected SupplyStatus = "REJECTED"
)

// PaymentStatus describes whether a farmer has been paid for a supply.
type PaymentStatus string

// Payment statuses. The only permitted transition is unpaid to paid.
const (
	PaymentStatusUnpaid PaymentStatus = "UNPAID"
	PaymentStatusPaid   PaymentStatus = "PAID"
)

// PaddySupply records one delivery of paddy by a farmer, recorded by a mill
// operator. TotalAmount is computed once at creation from the price ledger
// and never changes afterwards.
type PaddySupply struct {
	ID                   uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt            time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	FarmerID             uuid.UUID       `gorm:"type:uuid;not null;index" json:"farmer_id"`
	MillOperatorID       uuid.UUID       `gorm:"type:uuid;not null;index" json:"mill_operator_id"`
	Quantity             decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"quantity"`
	QualityRating        int             `gorm:"not null" json:"quality_rating"`
	MoisturePct          decimal.Decimal `gorm:"type:numeric(5,2)" json:"moisture_pct"`
	Status               SupplyStatus    `gorm:"not null;default:RECEIVED" json:"status"`
	TotalAmount          decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"total_amount"`
	PaymentStatus        PaymentStatus   `gorm:"not null;default:UNPAID" json:"payment_status"`
	ApprovedByID         *uuid.UUID      `gorm:"type:uuid" json:"approved_by_id"`
	ApprovedAt           *time.Time      `json:"approved_at"`
	PaymentReferenceCode string          `json:"payment_reference_code"`
	Farmer               Farmer          `gorm:"foreignKey:FarmerID" json:"-"`
	MillOperator         MillOperator    `gorm:"foreignKey:MillOperatorID" json:"-"`
}

// Value freezes the supply's total amount at the given ledger entry. Later
// price appends never revalue an existing supply.
func (s *PaddySupply) Value(price *PaddyPrice) {
	s.TotalAmount = s.Quantity.Mul(price.PricePerKg)
}

// Reject moves a received, unpaid supply to rejected. Supplies already paid
// for cannot be rejected, and rejection is not repeatable.
func (s *PaddySupply) Reject() error {
	if s.Status != SupplyStatusReceived || s.PaymentStatus == PaymentStatusPaid {
		return ErrInvalidStateTransition
	}
	s.Status = SupplyStatusRejected
	return nil
}

// ApprovePayment moves the supply from unpaid to paid. A second approval is
// rejected with ErrAlreadyApproved and leaves the approval fields untouched.
func (s *PaddySupply) ApprovePayment(adminID uuid.UUID, referenceCode string, now time.Time) error {
	if s.PaymentStatus == PaymentStatusPaid {
		return ErrAlreadyApproved
	}
	s.PaymentStatus = PaymentStatusPaid
	s.ApprovedByID = &adminID
	s.ApprovedAt = &now
	s.PaymentReferenceCode = referenceCode
	return nil
}

// InventoryRowID is the fixed primary key of the singleton inventory rows.
// The rows are created once during SetupModels, never lazily in a transfer.
const InventoryRowID = 1

// PaddyInventory is the singleton counter of unmilled paddy on hand.
type PaddyInventory struct {
	ID        int             `gorm:"primaryKey" json:"id"`
	Quantity  decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"quantity"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// ProcessedRiceInventory is the singleton counter of milled rice on hand.
type ProcessedRiceInventory struct {
	ID        int             `gorm:"primaryKey" json:"id"`
	Quantity  decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"quantity"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// SoldRiceInventory is the singleton counter of rice sold through confirmed
// orders.
type SoldRiceInventory struct {
	ID        int             `gorm:"primaryKey" json:"id"`
	Quantity  decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"quantity"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func addQuantity(current, delta decimal.Decimal) (decimal.Decimal, error) {
	if !delta.IsPositive() {
		return current, errors.Wrap(ErrValidation, "quantity must be positive")
	}
	return current.Add(delta), nil
}

func removeQuantity(current, delta decimal.Decimal) (decimal.Decimal, error) {
	if !delta.IsPositive() {
		return current, errors.Wrap(ErrValidation, "quantity must be positive")
	}
	if current.LessThan(delta) {
		return current, ErrInsufficientInventory
	}
	return current.Sub(delta), nil
}

// Add increases the paddy counter by qty.
func (i *PaddyInventory) Add(qty decimal.Decimal) error {
	q, err := addQuantity(i.Quantity, qty)
	if err != nil {
		return err
	}
	i.Quantity = q
	return nil
}

// Remove decreases the paddy counter by qty, never below zero.
func (i *PaddyInventory) Remove(qty decimal.Decimal) error {
	q, err := removeQuantity(i.Quantity, qty)
	if err != nil {
		return err
	}
	i.Quantity = q
	return nil
}

// Add increases the processed rice counter by qty.
func (i *ProcessedRiceInventory) Add(qty decimal.Decimal) error {
	q, err := addQuantity(i.Quantity, qty)
	if err != nil {
		return err
	}
	i.Quantity = q
	return nil
}

// Remove decreases the processed rice counter by qty, never below zero.
func (i *ProcessedRiceInventory) Remove(qty decimal.Decimal) error {
	q, err := removeQuantity(i.Quantity, qty)
	if err != nil {
		return err
	}
	i.Quantity = q
	return nil
}

// Add increases the sold rice counter by qty.
func (i *SoldRiceInventory) Add(qty decimal.Decimal) error {
	q, err := addQuantity(i.Quantity, qty)
	if err != nil {
		return err
	}
	i.Quantity = q
	return nil
}

// InventorySnapshot is a read-only view of the three counters.
type InventorySnapshot struct {
	Paddy         decimal.Decimal `json:"paddy"`
	ProcessedRice decimal.Decimal `json:"processed_rice"`
	SoldRice      decimal.Decimal `json:"sold_rice"`
}

// Total returns the combined quantity held across the three counters.
func (s InventorySnapshot) Total() decimal.Decimal {
	return s.Paddy.Add(s.ProcessedRice).Add(s.SoldRice)
}

// ProcessedRiceRecord is one milling run by a mill operator. Creating a
// record is the only trigger for a paddy to processed-rice transfer.
type ProcessedRiceRecord struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	MillOperatorID uuid.UUID       `gorm:"type:uuid;not null;index" json:"mill_operator_id"`
	Quantity       decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"quantity"`
	MillOperator   MillOperator    `gorm:"foreignKey:MillOperatorID" json:"-"`
}

// PackageSize is one retail unit in the admin-managed catalog.
type PackageSize struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	Label           string          `gorm:"not null" json:"label"`
	WeightKg        decimal.Decimal `gorm:"type:numeric(8,2);not null" json:"weight_kg"`
	PricePerPackage decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"price_per_package"`
}

// OrderStatus is the fulfillment state of an order.
type OrderStatus string

// Order statuses. pending moves to paid via transaction confirmation, paid
// moves to delivered, and pending may be cancelled. delivered and cancelled
// are terminal.
const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusPaid      OrderStatus = "PAID"
	OrderStatusDelivered OrderStatus = "DELIVERED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// Order is a customer order composed of package-size line items. TotalKg and
// TotalAmount are recomputed from the items, never maintained incrementally.
type Order struct {
	ID                  uuid.UUID          `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt           time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
	CustomerID          uuid.UUID          `gorm:"type:uuid;not null;index" json:"customer_id"`
	Status              OrderStatus        `gorm:"not null;default:PENDING" json:"status"`
	TotalKg             decimal.Decimal    `gorm:"type:numeric(12,2);not null;default:0" json:"total_kg"`
	TotalAmount         decimal.Decimal    `gorm:"type:numeric(12,2);not null;default:0" json:"total_amount"`
	DeliveryPersonnelID *uuid.UUID         `gorm:"type:uuid" json:"delivery_personnel_id"`
	Customer            Customer           `gorm:"foreignKey:CustomerID" json:"-"`
	DeliveryPersonnel   *DeliveryPersonnel `gorm:"foreignKey:DeliveryPersonnelID" json:"-"`
	Items               []OrderItem        `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"items,omitempty"`
}

// MarkPaid moves the order from pending to paid.
func (o *Order) MarkPaid() error {
	if o.Status != OrderStatusPending {
		return ErrInvalidStateTransition
	}
	o.Status = OrderStatusPaid
	return nil
}

// MarkDelivered moves the order from paid to delivered.
func (o *Order) MarkDelivered() error {
	if o.Status != OrderStatusPaid {
		return ErrInvalidStateTransition
	}
	o.Status = OrderStatusDelivered
	return nil
}

// Cancel moves the order from pending to cancelled. Paid and delivered
// orders cannot be cancelled.
func (o *Order) Cancel() error {
	if o.Status != OrderStatusPending {
		return ErrInvalidStateTransition
	}
	o.Status = OrderStatusCancelled
	return nil
}

// OrderItem is one package-size line of an order. Items are immutable once
// the order leaves pending.
type OrderItem struct {
	ID            uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt     time.Time   `gorm:"autoCreateTime" json:"created_at"`
	OrderID       uuid.UUID   `gorm:"type:uuid;not null;index" json:"order_id"`
	PackageSizeID uuid.UUID   `gorm:"type:uuid;not null" json:"package_size_id"`
	Quantity      int         `gorm:"not null" json:"quantity"`
	PackageSize   PackageSize `gorm:"foreignKey:PackageSizeID" json:"package_size"`
}

// TotalKg returns the item weight: package weight times package count.
func (i *OrderItem) TotalKg() decimal.Decimal {
	return i.PackageSize.WeightKg.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// TotalAmount returns the item price: package price times package count.
func (i *OrderItem) TotalAmount() decimal.Decimal {
	return i.PackageSize.PricePerPackage.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// CalculateOrderTotals sums weight and amount over items with their package
// sizes loaded. It is a pure function of the items and safe to call any
// number of times.
func CalculateOrderTotals(items []OrderItem) (totalKg, totalAmount decimal.Decimal) {
	totalKg = decimal.Zero
	totalAmount = decimal.Zero
	for i := range items {
		totalKg = totalKg.Add(items[i].TotalKg())
		totalAmount = totalAmount.Add(items[i].TotalAmount())
	}
	return totalKg, totalAmount
}

// Transaction is a customer's payment confirmation record. At most one
// exists per order; creating it confirms the payment, moves the order to
// paid and shifts the order's weight from processed to sold inventory in the
// same database transaction.
type Transaction struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	OrderID      uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"order_id"`
	CustomerCode string    `gorm:"not null" json:"customer_code"`
	Order        Order     `gorm:"foreignKey:OrderID" json:"-"`
}

// Delivery is the assignment of a paid order to delivery personnel.
type Delivery struct {
	ID          uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt   time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
	OrderID     uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex" json:"order_id"`
	PersonnelID uuid.UUID         `gorm:"type:uuid;not null;index" json:"personnel_id"`
	Address     string            `gorm:"not null" json:"address"`
	DeliveredAt *time.Time        `json:"delivered_at"`
	IsDelivered bool              `gorm:"not null;default:false" json:"is_delivered"`
	Order       Order             `gorm:"foreignKey:OrderID" json:"-"`
	Personnel   DeliveryPersonnel `gorm:"foreignKey:PersonnelID" json:"-"`
}

// SetupModels runs migrations and seeds the three inventory singleton rows
// so that every transfer can assume the rows exist.
func SetupModels(db *gorm.DB) error {
	err := db.AutoMigrate(
		&User{},
		&Farmer{},
		&Customer{},
		&DeliveryPersonnel{},
		&MillOperator{},
		&PaddyPrice{},
		&PaddySupply{},
		&PaddyInventory{},
		&ProcessedRiceInventory{},
		&SoldRiceInventory{},
		&ProcessedRiceRecord{},
		&PackageSize{},
		&Order{},
		&OrderItem{},
		&Transaction{},
		&Delivery{},
	)
	if err != nil {
		return errors.Wrap(err, "failed to run auto migrations")
	}

	if err := db.FirstOrCreate(&PaddyInventory{}, PaddyInventory{ID: InventoryRowID}).Error; err != nil {
		return errors.Wrap(err, "failed to seed paddy inventory row")
	}
	if err := db.FirstOrCreate(&ProcessedRiceInventory{}, ProcessedRiceInventory{ID: InventoryRowID}).Error; err != nil {
		return errors.Wrap(err, "failed to seed processed rice inventory row")
	}
	if err := db.FirstOrCreate(&SoldRiceInventory{}, SoldRiceInventory{ID: InventoryRowID}).Error; err != nil {
		return errors.Wrap(err, "failed to seed sold rice inventory row")
	}

	return nil
}
