package services

import (
	"context"
	"testing"

	"example.com/ricechain/internal/metrics"
	"example.com/ricechain/internal/models"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockOrderStore struct{ mock.Mock }

func (m *mockOrderStore) CreateWithItems(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	return m.Called(ctx, order, items).Error(0)
}

func (m *mockOrderStore) AddItem(ctx context.Context, item *models.OrderItem) error {
	return m.Called(ctx, item).Error(0)
}

func (m *mockOrderStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *mockOrderStore) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]models.Order, error) {
	args := m.Called(ctx, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Order), args.Error(1)
}

func (m *mockOrderStore) ListAll(ctx context.Context) ([]models.Order, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Order), args.Error(1)
}

func (m *mockOrderStore) RecomputeTotals(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *mockOrderStore) Cancel(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *mockOrderStore) AssignDelivery(ctx context.Context, orderID, personnelID uuid.UUID) (*models.Delivery, error) {
	args := m.Called(ctx, orderID, personnelID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Delivery), args.Error(1)
}

func (m *mockOrderStore) MarkDelivered(ctx context.Context, orderID, personnelID uuid.UUID) (*models.Order, error) {
	args := m.Called(ctx, orderID, personnelID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *mockOrderStore) GetDelivery(ctx context.Context, orderID uuid.UUID) (*models.Delivery, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Delivery), args.Error(1)
}

type mockPaymentStore struct{ mock.Mock }

func (m *mockPaymentStore) Confirm(ctx context.Context, orderID uuid.UUID, customerCode string) (*models.Transaction, *models.Order, error) {
	args := m.Called(ctx, orderID, customerCode)
	var txn *models.Transaction
	var order *models.Order
	if args.Get(0) != nil {
		txn = args.Get(0).(*models.Transaction)
	}
	if args.Get(1) != nil {
		order = args.Get(1).(*models.Order)
	}
	return txn, order, args.Error(2)
}

type mockPackageStore struct{ mock.Mock }

func (m *mockPackageStore) Create(ctx context.Context, pkg *models.PackageSize) error {
	return m.Called(ctx, pkg).Error(0)
}

func (m *mockPackageStore) Update(ctx context.Context, pkg *models.PackageSize) error {
	return m.Called(ctx, pkg).Error(0)
}

func (m *mockPackageStore) Delete(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockPackageStore) GetByID(ctx context.Context, id uuid.UUID) (*models.PackageSize, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PackageSize), args.Error(1)
}

func (m *mockPackageStore) List(ctx context.Context) ([]models.PackageSize, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.PackageSize), args.Error(1)
}

type mockCustomerStore struct{ mock.Mock }

func (m *mockCustomerStore) GetCustomerByUserID(ctx context.Context, userID uuid.UUID) (*models.Customer, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Customer), args.Error(1)
}

func (m *mockCustomerStore) GetPersonnelByUserID(ctx context.Context, userID uuid.UUID) (*models.DeliveryPersonnel, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.DeliveryPersonnel), args.Error(1)
}

func newOrderServiceForTest(
	orderRepo orderStore,
	txnRepo paymentStore,
	packageRepo packageStore,
	profileRepo customerStore,
) *OrderService {
	return &OrderService{
		orderRepo:   orderRepo,
		txnRepo:     txnRepo,
		packageRepo: packageRepo,
		profileRepo: profileRepo,
		metrics:     metrics.NewMetrics(),
		tracer:      noopTracer(),
	}
}

var deliveryActor = models.Actor{ID: uuid.New(), Role: models.RoleDelivery}

func TestPlaceOrder(t *testing.T) {
	orderRepo := new(mockOrderStore)
	packageRepo := new(mockPackageStore)
	profileRepo := new(mockCustomerStore)
	svc := newOrderServiceForTest(orderRepo, nil, packageRepo, profileRepo)

	customer := &models.Customer{ID: uuid.New(), UserID: customerActor.ID}
	pkgID := uuid.New()

	profileRepo.On("GetCustomerByUserID", mock.Anything, customerActor.ID).Return(customer, nil)
	packageRepo.On("GetByID", mock.Anything, pkgID).
		Return(&models.PackageSize{ID: pkgID, WeightKg: dec("5")}, nil)
	orderRepo.On("CreateWithItems", mock.Anything, mock.MatchedBy(func(o *models.Order) bool {
		return o.CustomerID == customer.ID
	}), mock.MatchedBy(func(items []models.OrderItem) bool {
		return len(items) == 1 && items[0].PackageSizeID == pkgID && items[0].Quantity == 3
	})).Return(nil)

	order, err := svc.PlaceOrder(context.Background(), customerActor, []OrderItemInput{
		{PackageSizeID: pkgID, Quantity: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, customer.ID, order.CustomerID)
	orderRepo.AssertExpectations(t)
}

func TestPlaceOrderRequiresCustomer(t *testing.T) {
	svc := newOrderServiceForTest(new(mockOrderStore), nil, new(mockPackageStore), new(mockCustomerStore))

	_, err := svc.PlaceOrder(context.Background(), adminActor, []OrderItemInput{
		{PackageSizeID: uuid.New(), Quantity: 1},
	})
	assert.True(t, errors.Is(err, models.ErrPermissionDenied))
}

func TestPlaceOrderValidation(t *testing.T) {
	profileRepo := new(mockCustomerStore)
	svc := newOrderServiceForTest(new(mockOrderStore), nil, new(mockPackageStore), profileRepo)

	profileRepo.On("GetCustomerByUserID", mock.Anything, customerActor.ID).
		Return(&models.Customer{ID: uuid.New()}, nil)

	_, err := svc.PlaceOrder(context.Background(), customerActor, nil)
	assert.True(t, errors.Is(err, models.ErrValidation))

	_, err = svc.PlaceOrder(context.Background(), customerActor, []OrderItemInput{
		{PackageSizeID: uuid.New(), Quantity: 0},
	})
	assert.True(t, errors.Is(err, models.ErrValidation))
}

func TestPlaceOrderUnknownPackage(t *testing.T) {
	packageRepo := new(mockPackageStore)
	profileRepo := new(mockCustomerStore)
	svc := newOrderServiceForTest(new(mockOrderStore), nil, packageRepo, profileRepo)

	pkgID := uuid.New()
	profileRepo.On("GetCustomerByUserID", mock.Anything, customerActor.ID).
		Return(&models.Customer{ID: uuid.New()}, nil)
	packageRepo.On("GetByID", mock.Anything, pkgID).Return(nil, models.ErrNotFound)

	_, err := svc.PlaceOrder(context.Background(), customerActor, []OrderItemInput{
		{PackageSizeID: pkgID, Quantity: 1},
	})
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestSubmitTransactionCode(t *testing.T) {
	orderRepo := new(mockOrderStore)
	txnRepo := new(mockPaymentStore)
	profileRepo := new(mockCustomerStore)
	svc := newOrderServiceForTest(orderRepo, txnRepo, nil, profileRepo)

	customer := &models.Customer{ID: uuid.New(), UserID: customerActor.ID}
	orderID := uuid.New()
	pending := &models.Order{ID: orderID, CustomerID: customer.ID, Status: models.OrderStatusPending}
	paid := &models.Order{ID: orderID, CustomerID: customer.ID, Status: models.OrderStatusPaid, TotalKg: dec("65")}
	payment := &models.Transaction{ID: uuid.New(), OrderID: orderID, CustomerCode: "TX-42"}

	profileRepo.On("GetCustomerByUserID", mock.Anything, customerActor.ID).Return(customer, nil)
	orderRepo.On("GetByID", mock.Anything, orderID).Return(pending, nil)
	txnRepo.On("Confirm", mock.Anything, orderID, "TX-42").Return(payment, paid, nil)

	got, err := svc.SubmitTransactionCode(context.Background(), customerActor, orderID, "TX-42")
	require.NoError(t, err)
	assert.Equal(t, payment.ID, got.ID)
	txnRepo.AssertExpectations(t)
}

func TestSubmitTransactionCodeOwnershipEnforced(t *testing.T) {
	orderRepo := new(mockOrderStore)
	txnRepo := new(mockPaymentStore)
	profileRepo := new(mockCustomerStore)
	svc := newOrderServiceForTest(orderRepo, txnRepo, nil, profileRepo)

	customer := &models.Customer{ID: uuid.New(), UserID: customerActor.ID}
	orderID := uuid.New()
	someoneElses := &models.Order{ID: orderID, CustomerID: uuid.New(), Status: models.OrderStatusPending}

	profileRepo.On("GetCustomerByUserID", mock.Anything, customerActor.ID).Return(customer, nil)
	orderRepo.On("GetByID", mock.Anything, orderID).Return(someoneElses, nil)

	_, err := svc.SubmitTransactionCode(context.Background(), customerActor, orderID, "TX-42")
	assert.True(t, errors.Is(err, models.ErrPermissionDenied))
	txnRepo.AssertNotCalled(t, "Confirm", mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmitTransactionCodeInsufficientInventory(t *testing.T) {
	orderRepo := new(mockOrderStore)
	txnRepo := new(mockPaymentStore)
	profileRepo := new(mockCustomerStore)
	svc := newOrderServiceForTest(orderRepo, txnRepo, nil, profileRepo)

	customer := &models.Customer{ID: uuid.New(), UserID: customerActor.ID}
	orderID := uuid.New()

	profileRepo.On("GetCustomerByUserID", mock.Anything, customerActor.ID).Return(customer, nil)
	orderRepo.On("GetByID", mock.Anything, orderID).
		Return(&models.Order{ID: orderID, CustomerID: customer.ID}, nil)
	txnRepo.On("Confirm", mock.Anything, orderID, "TX-42").
		Return(nil, nil, models.ErrInsufficientInventory)

	_, err := svc.SubmitTransactionCode(context.Background(), customerActor, orderID, "TX-42")
	assert.True(t, errors.Is(err, models.ErrInsufficientInventory))
}

func TestProcessPaymentMessage(t *testing.T) {
	orderID := uuid.New()

	t.Run("enveloped payload", func(t *testing.T) {
		txnRepo := new(mockPaymentStore)
		svc := newOrderServiceForTest(new(mockOrderStore), txnRepo, nil, new(mockCustomerStore))

		txnRepo.On("Confirm", mock.Anything, orderID, "TX-7").
			Return(&models.Transaction{ID: uuid.New()}, &models.Order{ID: orderID, Status: models.OrderStatusPaid}, nil)

		body := []byte(`{"ev":"payment_confirmed","payload":{"order_id":"` + orderID.String() + `","code":"TX-7"}}`)
		err := svc.ProcessPaymentMessage(context.Background(), &azservicebus.ReceivedMessage{Body: body}, nil)
		require.NoError(t, err)
		txnRepo.AssertExpectations(t)
	})

	t.Run("flat payload", func(t *testing.T) {
		txnRepo := new(mockPaymentStore)
		svc := newOrderServiceForTest(new(mockOrderStore), txnRepo, nil, new(mockCustomerStore))

		txnRepo.On("Confirm", mock.Anything, orderID, "TX-8").
			Return(&models.Transaction{ID: uuid.New()}, &models.Order{ID: orderID, Status: models.OrderStatusPaid}, nil)

		body := []byte(`{"order_id":"` + orderID.String() + `","code":"TX-8"}`)
		err := svc.ProcessPaymentMessage(context.Background(), &azservicebus.ReceivedMessage{Body: body}, nil)
		require.NoError(t, err)
	})

	t.Run("duplicate confirmation completes without error", func(t *testing.T) {
		txnRepo := new(mockPaymentStore)
		svc := newOrderServiceForTest(new(mockOrderStore), txnRepo, nil, new(mockCustomerStore))

		txnRepo.On("Confirm", mock.Anything, orderID, "TX-9").
			Return(nil, nil, models.ErrTransactionExists)

		body := []byte(`{"order_id":"` + orderID.String() + `","code":"TX-9"}`)
		err := svc.ProcessPaymentMessage(context.Background(), &azservicebus.ReceivedMessage{Body: body}, nil)
		assert.NoError(t, err)
	})

	t.Run("missing order id rejected", func(t *testing.T) {
		svc := newOrderServiceForTest(new(mockOrderStore), new(mockPaymentStore), nil, new(mockCustomerStore))

		err := svc.ProcessPaymentMessage(context.Background(), &azservicebus.ReceivedMessage{Body: []byte(`{"code":"TX-9"}`)}, nil)
		assert.Error(t, err)
	})
}

func TestAssignDelivery(t *testing.T) {
	orderRepo := new(mockOrderStore)
	svc := newOrderServiceForTest(orderRepo, nil, nil, new(mockCustomerStore))

	orderID := uuid.New()
	personnelID := uuid.New()
	delivery := &models.Delivery{ID: uuid.New(), OrderID: orderID, PersonnelID: personnelID}
	orderRepo.On("AssignDelivery", mock.Anything, orderID, personnelID).Return(delivery, nil)

	got, err := svc.AssignDelivery(context.Background(), adminActor, orderID, personnelID)
	require.NoError(t, err)
	assert.Equal(t, delivery.ID, got.ID)

	_, err = svc.AssignDelivery(context.Background(), customerActor, orderID, personnelID)
	assert.True(t, errors.Is(err, models.ErrPermissionDenied))
}

func TestAssignDeliveryPersonnelUnavailable(t *testing.T) {
	orderRepo := new(mockOrderStore)
	svc := newOrderServiceForTest(orderRepo, nil, nil, new(mockCustomerStore))

	orderID := uuid.New()
	personnelID := uuid.New()
	orderRepo.On("AssignDelivery", mock.Anything, orderID, personnelID).
		Return(nil, models.ErrPersonnelUnavailable)

	_, err := svc.AssignDelivery(context.Background(), adminActor, orderID, personnelID)
	assert.True(t, errors.Is(err, models.ErrPersonnelUnavailable))
}

func TestMarkDelivered(t *testing.T) {
	orderRepo := new(mockOrderStore)
	profileRepo := new(mockCustomerStore)
	svc := newOrderServiceForTest(orderRepo, nil, nil, profileRepo)

	personnel := &models.DeliveryPersonnel{ID: uuid.New(), UserID: deliveryActor.ID}
	orderID := uuid.New()
	delivered := &models.Order{ID: orderID, Status: models.OrderStatusDelivered}

	profileRepo.On("GetPersonnelByUserID", mock.Anything, deliveryActor.ID).Return(personnel, nil)
	orderRepo.On("MarkDelivered", mock.Anything, orderID, personnel.ID).Return(delivered, nil)

	order, err := svc.MarkDelivered(context.Background(), deliveryActor, orderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusDelivered, order.Status)

	_, err = svc.MarkDelivered(context.Background(), customerActor, orderID)
	assert.True(t, errors.Is(err, models.ErrPermissionDenied))
}

func TestCancelOrder(t *testing.T) {
	orderRepo := new(mockOrderStore)
	profileRepo := new(mockCustomerStore)
	svc := newOrderServiceForTest(orderRepo, nil, nil, profileRepo)

	customer := &models.Customer{ID: uuid.New(), UserID: customerActor.ID}
	orderID := uuid.New()
	cancelled := &models.Order{ID: orderID, CustomerID: customer.ID, Status: models.OrderStatusCancelled}

	profileRepo.On("GetCustomerByUserID", mock.Anything, customerActor.ID).Return(customer, nil)
	orderRepo.On("GetByID", mock.Anything, orderID).
		Return(&models.Order{ID: orderID, CustomerID: customer.ID, Status: models.OrderStatusPending}, nil)
	orderRepo.On("Cancel", mock.Anything, orderID).Return(cancelled, nil)

	order, err := svc.CancelOrder(context.Background(), customerActor, orderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, order.Status)
}

func TestTrackDeliveryVisibility(t *testing.T) {
	orderRepo := new(mockOrderStore)
	profileRepo := new(mockCustomerStore)
	svc := newOrderServiceForTest(orderRepo, nil, nil, profileRepo)

	orderID := uuid.New()
	personnel := &models.DeliveryPersonnel{ID: uuid.New(), UserID: deliveryActor.ID}
	delivery := &models.Delivery{ID: uuid.New(), OrderID: orderID, PersonnelID: personnel.ID}

	orderRepo.On("GetDelivery", mock.Anything, orderID).Return(delivery, nil)
	profileRepo.On("GetPersonnelByUserID", mock.Anything, deliveryActor.ID).Return(personnel, nil)

	got, err := svc.TrackDelivery(context.Background(), adminActor, orderID)
	require.NoError(t, err)
	assert.Equal(t, delivery.ID, got.ID)

	got, err = svc.TrackDelivery(context.Background(), deliveryActor, orderID)
	require.NoError(t, err)
	assert.Equal(t, delivery.ID, got.ID)

	// Personnel not assigned to the order cannot see it
	otherDelivery := models.Actor{ID: uuid.New(), Role: models.RoleDelivery}
	profileRepo.On("GetPersonnelByUserID", mock.Anything, otherDelivery.ID).
		Return(&models.DeliveryPersonnel{ID: uuid.New(), UserID: otherDelivery.ID}, nil)

	_, err = svc.TrackDelivery(context.Background(), otherDelivery, orderID)
	assert.True(t, errors.Is(err, models.ErrPermissionDenied))
}

func TestPackageCatalog(t *testing.T) {
	packageRepo := new(mockPackageStore)
	svc := newOrderServiceForTest(nil, nil, packageRepo, nil)

	t.Run("create requires admin", func(t *testing.T) {
		_, err := svc.CreatePackage(context.Background(), customerActor, PackageInput{
			Label: "5kg", WeightKg: dec("5"), PricePerPackage: dec("650"),
		})
		assert.True(t, errors.Is(err, models.ErrPermissionDenied))
	})

	t.Run("create validates input", func(t *testing.T) {
		cases := []PackageInput{
			{Label: "", WeightKg: dec("5"), PricePerPackage: dec("650")},
			{Label: "5kg", WeightKg: decimal.Zero, PricePerPackage: dec("650")},
			{Label: "5kg", WeightKg: dec("5"), PricePerPackage: dec("-1")},
		}
		for _, input := range cases {
			_, err := svc.CreatePackage(context.Background(), adminActor, input)
			assert.True(t, errors.Is(err, models.ErrValidation))
		}
	})

	t.Run("create", func(t *testing.T) {
		packageRepo.On("Create", mock.Anything, mock.MatchedBy(func(p *models.PackageSize) bool {
			return p.Label == "5kg" && p.WeightKg.Equal(dec("5"))
		})).Return(nil)

		pkg, err := svc.CreatePackage(context.Background(), adminActor, PackageInput{
			Label: "5kg", WeightKg: dec("5"), PricePerPackage: dec("650"),
		})
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, pkg.ID)
	})

	t.Run("list", func(t *testing.T) {
		packageRepo.On("List", mock.Anything).Return([]models.PackageSize{{Label: "5kg"}, {Label: "25kg"}}, nil)

		pkgs, err := svc.ListPackages(context.Background())
		require.NoError(t, err)
		assert.Len(t, pkgs, 2)
	})

	t.Run("delete requires admin", func(t *testing.T) {
		err := svc.DeletePackage(context.Background(), operatorActor, uuid.New())
		assert.True(t, errors.Is(err, models.ErrPermissionDenied))
	})
}
