package repositories

import (
	"context"
	"time"

	"example.com/ricechain/internal/models"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// PriceRepository provides access to the append-only paddy price ledger.
type PriceRepository struct {
	db         *gorm.DB // Write database
	readOnlyDB *gorm.DB // Read-only database
}

// NewPriceRepository creates a new price repository.
func NewPriceRepository(db *gorm.DB, readOnlyDB *gorm.DB) *PriceRepository {
	return &PriceRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// Create appends a new price entry. Existing entries are never updated.
func (r *PriceRepository) Create(ctx context.Context, price *models.PaddyPrice) error {
	if price.ID == uuid.Nil {
		price.ID = uuid.New()
	}
	if price.EffectiveAt.IsZero() {
		price.EffectiveAt = time.Now()
	}
	return r.db.WithContext(ctx).Create(price).Error
}

// Current returns the entry with the latest effective time, or
// models.ErrPriceNotSet when the ledger is empty.
func (r *PriceRepository) Current(ctx context.Context) (*models.PaddyPrice, error) {
	var price models.PaddyPrice
	err := r.readOnlyDB.WithContext(ctx).
		Order("effective_at DESC").
		First(&price).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrPriceNotSet
		}
		return nil, errors.Wrap(err, "failed to get current paddy price")
	}
	return &price, nil
}

// History returns all price entries, newest first.
func (r *PriceRepository) History(ctx context.Context) ([]models.PaddyPrice, error) {
	var prices []models.PaddyPrice
	err := r.readOnlyDB.WithContext(ctx).
		Order("effective_at DESC").
		Find(&prices).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list paddy prices")
	}
	return prices, nil
}

// currentPriceTx reads the latest price inside an open transaction so that
// supply valuation and persistence observe the same ledger state.
func currentPriceTx(tx *gorm.DB) (*models.PaddyPrice, error) {
	var price models.PaddyPrice
	err := tx.Order("effective_at DESC").First(&price).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrPriceNotSet
		}
		return nil, errors.Wrap(err, "failed to get current paddy price")
	}
	return &price, nil
}

// PackageRepository provides access to the retail package catalog.
type PackageRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewPackageRepository creates a new package repository.
func NewPackageRepository(db *gorm.DB, readOnlyDB *gorm.DB) *PackageRepository {
	return &PackageRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// Create adds a package size to the catalog.
func (r *PackageRepository) Create(ctx context.Context, pkg *models.PackageSize) error {
	if pkg.ID == uuid.Nil {
		pkg.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(pkg).Error
}

// Update replaces the label, weight and price of a package size.
func (r *PackageRepository) Update(ctx context.Context, pkg *models.PackageSize) error {
	result := r.db.WithContext(ctx).
		Model(&models.PackageSize{}).
		Where("id = ?", pkg.ID).
		Updates(map[string]interface{}{
			"label":             pkg.Label,
			"weight_kg":         pkg.WeightKg,
			"price_per_package": pkg.PricePerPackage,
		})
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to update package size")
	}
	if result.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Delete removes a package size from the catalog.
func (r *PackageRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&models.PackageSize{}, "id = ?", id)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to delete package size")
	}
	if result.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

// GetByID gets a package size by id.
func (r *PackageRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.PackageSize, error) {
	var pkg models.PackageSize
	err := r.readOnlyDB.WithContext(ctx).First(&pkg, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get package size")
	}
	return &pkg, nil
}

// List returns the full catalog.
func (r *PackageRepository) List(ctx context.Context) ([]models.PackageSize, error) {
	var pkgs []models.PackageSize
	err := r.readOnlyDB.WithContext(ctx).Order("weight_kg").Find(&pkgs).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list package sizes")
	}
	return pkgs, nil
}

// ProfileRepository resolves role profiles for authenticated users.
type ProfileRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewProfileRepository creates a new profile repository.
func NewProfileRepository(db *gorm.DB, readOnlyDB *gorm.DB) *ProfileRepository {
	return &ProfileRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// GetFarmer gets a farmer profile by its id.
func (r *ProfileRepository) GetFarmer(ctx context.Context, id uuid.UUID) (*models.Farmer, error) {
	var farmer models.Farmer
	err := r.readOnlyDB.WithContext(ctx).First(&farmer, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get farmer")
	}
	return &farmer, nil
}

// GetCustomerByUserID gets the customer profile belonging to a user.
func (r *ProfileRepository) GetCustomerByUserID(ctx context.Context, userID uuid.UUID) (*models.Customer, error) {
	var customer models.Customer
	err := r.readOnlyDB.WithContext(ctx).First(&customer, "user_id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get customer")
	}
	return &customer, nil
}

// GetMillOperatorByUserID gets the mill operator profile belonging to a user.
func (r *ProfileRepository) GetMillOperatorByUserID(ctx context.Context, userID uuid.UUID) (*models.MillOperator, error) {
	var operator models.MillOperator
	err := r.readOnlyDB.WithContext(ctx).First(&operator, "user_id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get mill operator")
	}
	return &operator, nil
}

// GetPersonnelByUserID gets the delivery personnel profile belonging to a user.
func (r *ProfileRepository) GetPersonnelByUserID(ctx context.Context, userID uuid.UUID) (*models.DeliveryPersonnel, error) {
	var personnel models.DeliveryPersonnel
	err := r.readOnlyDB.WithContext(ctx).First(&personnel, "user_id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get delivery personnel")
	}
	return &personnel, nil
}
