package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vendasys/pos-service/internal/client"
	"github.com/vendasys/pos-service/internal/domain"
	"github.com/vendasys/pos-service/internal/event"
	apperrors "github.com/vendasys/pos-service/pkg/errors"
	pkgkafka "github.com/vendasys/pos-service/pkg/kafka"
)

// --- In-memory repository ---

// fakeSessionRepo mirrors the Redis repository semantics (JSON snapshots,
// version compare-and-set) without a server.
type fakeSessionRepo struct {
	sessions map[string][]byte
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[string][]byte)}
}

func (r *fakeSessionRepo) Get(_ context.Context, terminalID string) (*domain.Session, error) {
	data, ok := r.sessions[terminalID]
	if !ok {
		return nil, apperrors.NotFound("session", terminalID)
	}
	var session domain.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *fakeSessionRepo) SaveIfVersion(_ context.Context, session *domain.Session, expectedVersion int) (bool, error) {
	if data, ok := r.sessions[session.TerminalID]; ok {
		var stored domain.Session
		if err := json.Unmarshal(data, &stored); err != nil {
			return false, err
		}
		if stored.Version != expectedVersion {
			return false, nil
		}
	} else if expectedVersion != 0 {
		return false, nil
	}

	session.Version = expectedVersion + 1
	data, err := json.Marshal(session)
	if err != nil {
		return false, err
	}
	r.sessions[session.TerminalID] = data
	return true, nil
}

func (r *fakeSessionRepo) Delete(_ context.Context, terminalID string) error {
	delete(r.sessions, terminalID)
	return nil
}

// --- Mock collaborator clients ---

type mockCustomerLookup struct {
	mock.Mock
}

func (m *mockCustomerLookup) Lookup(ctx context.Context, cpf string) (*client.Customer, error) {
	args := m.Called(ctx, cpf)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*client.Customer), args.Error(1)
}

type mockProductLookup struct {
	mock.Mock
}

func (m *mockProductLookup) GetProduct(ctx context.Context, code string) (*client.Product, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*client.Product), args.Error(1)
}

type mockSaleSubmitter struct {
	mock.Mock
}

func (m *mockSaleSubmitter) SubmitSale(ctx context.Context, submission *client.SaleSubmission, idempotencyKey string) (*client.SaleResult, error) {
	args := m.Called(ctx, submission, idempotencyKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*client.SaleResult), args.Error(1)
}

// --- Test helpers ---

const terminal = "terminal-01"

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testDeps struct {
	repo      *fakeSessionRepo
	customers *mockCustomerLookup
	catalog   *mockProductLookup
	sales     *mockSaleSubmitter
}

func newTestService() (*SessionService, *testDeps) {
	logger := newTestLogger()
	deps := &testDeps{
		repo:      newFakeSessionRepo(),
		customers: new(mockCustomerLookup),
		catalog:   new(mockProductLookup),
		sales:     new(mockSaleSubmitter),
	}
	// No broker is running; publish failures are logged and ignored.
	kafkaProducer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig([]string{"localhost:9092"}), logger)
	producer := event.NewProducer(kafkaProducer, logger)
	svc := NewSessionService(deps.repo, deps.customers, deps.catalog, deps.sales, producer, logger)
	return svc, deps
}

func intp(v int) *int { return &v }

// stageAndAdd resolves a product and adds it with the given quantity.
func stageAndAdd(t *testing.T, svc *SessionService, deps *testDeps, product *client.Product, qty int) *domain.Session {
	t.Helper()
	ctx := context.Background()
	deps.catalog.On("GetProduct", ctx, product.Code).Return(product, nil).Once()
	_, err := svc.ResolveProduct(ctx, terminal, product.Code)
	require.NoError(t, err)
	session, err := svc.AddItem(ctx, terminal, intp(qty))
	require.NoError(t, err)
	return session
}

// --- GetSession ---

func TestGetSession_Fresh(t *testing.T) {
	svc, deps := newTestService()
	ctx := context.Background()

	session, err := svc.GetSession(ctx, terminal)

	require.NoError(t, err)
	assert.Equal(t, terminal, session.TerminalID)
	assert.Equal(t, domain.StatusOpen, session.Status)
	assert.Empty(t, session.Items)
	assert.Equal(t, int64(0), session.Total)
	assert.NotEmpty(t, session.SaleDate)

	// A plain read must not persist anything.
	assert.Empty(t, deps.repo.sessions)
}

func TestGetSession_EmptyTerminalID(t *testing.T) {
	svc, _ := newTestService()

	session, err := svc.GetSession(context.Background(), "")

	assert.Nil(t, session)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

// --- ResolveCustomer ---

func TestResolveCustomer_Success(t *testing.T) {
	svc, deps := newTestService()
	ctx := context.Background()

	deps.customers.On("Lookup", ctx, "52998224725").Return(&client.Customer{
		ID: "cust-1", Name: "Maria Silva", CPF: "52998224725",
	}, nil)

	session, err := svc.ResolveCustomer(ctx, terminal, "529.982.247-25")

	require.NoError(t, err)
	assert.Equal(t, "cust-1", session.CustomerID)
	assert.Equal(t, "Maria Silva", session.CustomerName)
	assert.Equal(t, "52998224725", session.CustomerTaxID)
	deps.customers.AssertExpectations(t)
}

func TestResolveCustomer_InvalidCPF(t *testing.T) {
	svc, deps := newTestService()

	session, err := svc.ResolveCustomer(context.Background(), terminal, "123")

	assert.Nil(t, session)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	deps.customers.AssertNotCalled(t, "Lookup", mock.Anything, mock.Anything)
}

func TestResolveCustomer_NotFoundClearsCustomer(t *testing.T) {
	svc, deps := newTestService()
	ctx := context.Background()

	// Attach a customer first.
	deps.customers.On("Lookup", ctx, "52998224725").Return(&client.Customer{
		ID: "cust-1", Name: "Maria Silva",
	}, nil).Once()
	_, err := svc.ResolveCustomer(ctx, terminal, "52998224725")
	require.NoError(t, err)

	// A second lookup that misses clears the attachment.
	deps.customers.On("Lookup", ctx, "11144477735").Return(nil, apperrors.NotFound("customer", "11144477735")).Once()
	_, err = svc.ResolveCustomer(ctx, terminal, "11144477735")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	session, err := svc.GetSession(ctx, terminal)
	require.NoError(t, err)
	assert.Empty(t, session.CustomerID)
	assert.Empty(t, session.CustomerName)
	assert.Empty(t, session.CustomerTaxID)
}

// --- ResolveProduct ---

func TestResolveProduct_StagesWithDefaultQuantity(t *testing.T) {
	svc, deps := newTestService()
	ctx := context.Background()

	deps.catalog.On("GetProduct", ctx, "100").Return(&client.Product{
		Code: "100", Description: "Widget", UnitPrice: 990, StockQuantity: 5,
	}, nil)

	session, err := svc.ResolveProduct(ctx, terminal, "100")

	require.NoError(t, err)
	require.NotNil(t, session.Staged)
	assert.Equal(t, "Widget", session.Staged.Description)
	assert.Equal(t, int64(990), session.Staged.UnitPrice)
	assert.Equal(t, 1, session.Staged.Quantity)
	assert.False(t, session.Staged.OutOfStock)
	assert.Equal(t, 5, session.StockHints["100"])
}

func TestResolveProduct_OutOfStock(t *testing.T) {
	svc, deps := newTestService()
	ctx := context.Background()

	deps.catalog.On("GetProduct", ctx, "100").Return(&client.Product{
		Code: "100", Description: "Widget", UnitPrice: 990, StockQuantity: 0,
	}, nil)

	session, err := svc.ResolveProduct(ctx, terminal, "100")

	require.NoError(t, err)
	require.NotNil(t, session.Staged)
	assert.True(t, session.Staged.OutOfStock)
	assert.Equal(t, 0, session.Staged.Quantity)
}

func TestResolveProduct_NotFoundClearsStaging(t *testing.T) {
	svc, deps := newTestService()
	ctx := context.Background()

	deps.catalog.On("GetProduct", ctx, "100").Return(&client.Product{
		Code: "100", Description: "Widget", UnitPrice: 990, StockQuantity: 5,
	}, nil).Once()
	_, err := svc.ResolveProduct(ctx, terminal, "100")
	require.NoError(t, err)

	deps.catalog.On("GetProduct", ctx, "999").Return(nil, apperrors.NotFound("product", "999")).Once()
	_, err = svc.ResolveProduct(ctx, terminal, "999")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	session, err := svc.GetSession(ctx, terminal)
	require.NoError(t, err)
	assert.Nil(t, session.Staged)
}

func TestResolveProduct_EmptyCode(t *testing.T) {
	svc, deps := newTestService()

	session, err := svc.ResolveProduct(context.Background(), terminal, "  ")

	assert.Nil(t, session)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	deps.catalog.AssertNotCalled(t, "GetProduct", mock.Anything, mock.Anything)
}

// TestResolveProduct_StaleResponseDiscarded simulates the lookup for "A"
// still being in flight while the lookup for "B" completes: B's full
// round-trip runs inside A's collaborator call. Once both resolve, staging
// must reflect B.
func TestResolveProduct_StaleResponseDiscarded(t *testing.T) {
	svc, deps := newTestService()
	ctx := context.Background()

	deps.catalog.On("GetProduct", ctx, "B").Return(&client.Product{
		Code: "B", Description: "Product B", UnitPrice: 2000, StockQuantity: 3,
	}, nil).Once()

	deps.catalog.On("GetProduct", ctx, "A").Run(func(_ mock.Arguments) {
		_, err := svc.ResolveProduct(ctx, terminal, "B")
		require.NoError(t, err)
	}).Return(&client.Product{
		Code: "A", Description: "Product A", UnitPrice: 1000, StockQuantity: 9,
	}, nil).Once()

	session, err := svc.ResolveProduct(ctx, terminal, "A")
	require.NoError(t, err)

	require.NotNil(t, session.Staged)
	assert.Equal(t, "B", session.Staged.Code)
	assert.Equal(t, "Product B", session.Staged.Description)

	// The stored session agrees.
	stored, err := svc.GetSession(ctx, terminal)
	require.NoError(t, err)
	require.NotNil(t, stored.Staged)
	assert.Equal(t, "B", stored.Staged.Code)
}

// --- AddItem ---

func TestAddItem_Success(t *testing.T) {
	svc, deps := newTestService()

	session := stageAndAdd(t, svc, deps, &client.Product{
		Code: "100", Description: "Widget", UnitPrice: 990, StockQuantity: 5,
	}, 3)

	require.Len(t, session.Items, 1)
	assert.Equal(t, "100", session.Items[0].Code)
	assert.Equal(t, 3, session.Items[0].Quantity)
	assert.Equal(t, int64(990), session.Items[0].UnitPrice)
	assert.Equal(t, int64(2970), session.Items[0].Subtotal)
	assert.Equal(t, int64(2970), session.Total)
	assert.Nil(t, session.Staged)
}

func TestAddItem_DefaultQuantity(t *testing.T) {
	svc, deps := newTestService()
	ctx := context.Background()

	deps.catalog.On("GetProduct", ctx, "100").Return(&client.Product{
		Code: "100", Description: "Widget", UnitPrice: 990, StockQuantity: 5,
	}, nil)
	_, err := svc.ResolveProduct(ctx, terminal, "100")
	require.NoError(t, err)

	session, err := svc.AddItem(ctx, terminal, nil)

	require.NoError(t, err)
	require.Len(t, session.Items, 1)
	assert.Equal(t, 1, session.Items[0].Quantity)
	assert.Equal(t, int64(990), session.Total)
}

func TestAddItem_TotalAdditive(t *testing.T) {
	svc, deps := newTestService()

	stageAndAdd(t, svc, deps, &client.Product{
		Code: "100", Description: "Widget", UnitPrice: 990, StockQuantity: 5,
	}, 3)
	session := stageAndAdd(t, svc, deps, &client.Product{
		Code: "200", Description: "Gadget", UnitPrice: 4500, StockQuantity: 2,
	}, 2)

	require.Len(t, session.Items, 2)
	assert.Equal(t, int64(2970+9000), session.Total)
	assert.Equal(t, session.RecomputeTotal(), session.Total)
}

func TestAddItem_RejectsZeroQuantity(t *testing.T) {
	svc, deps := newTestService()
	ctx := context.Background()

	deps.catalog.On("GetProduct", ctx, "100").Return(&client.Product{
		Code: "100", Description: "Widget", UnitPrice: 990, StockQuantity: 5,
	}, nil)
	_, err := svc.ResolveProduct(ctx, terminal, "100")
	require.NoError(t, err)

	session, err := svc.AddItem(ctx, terminal, intp(0))
	assert.Nil(t, session)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	session, err = svc.AddItem(ctx, terminal, intp(-2))
	assert.Nil(t, session)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	// No state change: still no items, total still zero, staging preserved.
	stored, err := svc.GetSession(ctx, terminal)
	require.NoError(t, err)
	assert.Empty(t, stored.Items)
	assert.Equal(t, int64(0), stored.Total)
	assert.NotNil(t, stored.Staged)
}

func TestAddItem_RejectsUnresolvedProduct(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	session, err := svc.AddItem(ctx, terminal, intp(1))

	assert.Nil(t, session)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestAddItem_OutOfStockQuantityStaysDisabled(t *testing.T) {
	svc, deps := newTestService()
	ctx := context.Background()

	deps.catalog.On("GetProduct", ctx, "100").Return(&client.Product{
		Code: "100", Description: "Widget", UnitPrice: 990, StockQuantity: 0,
	}, nil)
	_, err := svc.ResolveProduct(ctx, terminal, "100")
	require.NoError(t, err)

	// The request quantity is ignored for an out-of-stock staging row; the
	// forced zero fails the positive-quantity check.
	session, err := svc.AddItem(ctx, terminal, intp(3))

	assert.Nil(t, session)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	stored, err := svc.GetSession(ctx, terminal)
	require.NoError(t, err)
	assert.Empty(t, stored.Items)
}

// --- RemoveItem ---

func TestRemoveItem_Success(t *testing.T) {
	svc, deps := newTestService()
	ctx := context.Background()

	stageAndAdd(t, svc, deps, &client.Product{
		Code: "100", Description: "Widget", UnitPrice: 990, StockQuantity: 5,
	}, 3)

	session, err := svc.RemoveItem(ctx, terminal, 0, true)

	require.NoError(t, err)
	assert.Empty(t, session.Items)
	assert.Equal(t, int64(0), session.Total)
}

func TestRemoveItem_PreservesOrder(t *testing.T) {
	svc, deps := newTestService()
	ctx := context.Background()

	stageAndAdd(t, svc, deps, &client.Product{Code: "100", Description: "Widget", UnitPrice: 990, StockQuantity: 5}, 1)
	stageAndAdd(t, svc, deps, &client.Product{Code: "200", Description: "Gadget", UnitPrice: 4500, StockQuantity: 5}, 1)
	stageAndAdd(t, svc, deps, &client.Product{Code: "300", Description: "Gizmo", UnitPrice: 150, StockQuantity: 5}, 1)

	session, err := svc.RemoveItem(ctx, terminal, 1, true)

	require.NoError(t, err)
	require.Len(t, session.Items, 2)
	assert.Equal(t, "100", session.Items[0].Code)
	assert.Equal(t, "300", session.Items[1].Code)
	assert.Equal(t, int64(990+150), session.Total)
}

func TestRemoveItem_ThenReAddRestoresTotal(t *testing.T) {
	svc, deps := newTestService()
	ctx := context.Background()

	product := &client.Product{Code: "100", Description: "Widget", UnitPrice: 990, StockQuantity: 5}
	before := stageAndAdd(t, svc, deps, product, 3)
	require.Equal(t, int64(2970), before.Total)

	_, err := svc.RemoveItem(ctx, terminal, 0, true)
	require.NoError(t, err)

	after := stageAndAdd(t, svc, deps, product, 3)
	assert.Equal(t, before.Total, after.Total)
	assert.Len(t, after.Items, 1)
}

func TestRemoveItem_OutOfRange(t *testing.T) {
	svc, deps := newTestService()
	ctx := context.Background()

	stageAndAdd(t, svc, deps, &client.Product{
		Code: "100", Description: "Widget", UnitPrice: 990, StockQuantity: 5,
	}, 3)

	for _, index := range []int{-1, 1, 99} {
		session, err := svc.RemoveItem(ctx, terminal, index, true)
		assert.Nil(t, session)
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	}

	stored, err := svc.GetSession(ctx, terminal)
	require.NoError(t, err)
	assert.Len(t, stored.Items, 1)
	assert.Equal(t, int64(2970), stored.Total)
}

func TestRemoveItem_RequiresConfirmation(t *testing.T) {
	svc, deps := newTestService()
	ctx := context.Background()

	stageAndAdd(t, svc, deps, &client.Product{
		Code: "100", Description: "Widget", UnitPrice: 990, StockQuantity: 5,
	}, 3)

	session, err := svc.RemoveItem(ctx, terminal, 0, false)

	assert.Nil(t, session)
	assert.ErrorIs(t, err, apperrors.ErrUnconfirmed)

	stored, err := svc.GetSession(ctx, terminal)
	require.NoError(t, err)
	assert.Len(t, stored.Items, 1)
	assert.Equal(t, int64(2970), stored.Total)
}

// --- Cancel ---

func TestCancel_NonEmptyRequiresConfirmation(t *testing.T) {
	svc, deps := newTestService()
	ctx := context.Background()

	stageAndAdd(t, svc, deps, &client.Product{
		Code: "100", Description: "Widget", UnitPrice: 990, StockQuantity: 5,
	}, 3)

	session, err := svc.Cancel(ctx, terminal, false)

	assert.Nil(t, session)
	assert.ErrorIs(t, err, apperrors.ErrUnconfirmed)

	// Declining leaves the session untouched.
	stored, err := svc.GetSession(ctx, terminal)
	require.NoError(t, err)
	assert.Len(t, stored.Items, 1)
	assert.Equal(t, int64(2970), stored.Total)
}

func TestCancel_ConfirmedResetsSession(t *testing.T) {
	svc, deps := newTestService()
	ctx := context.Background()

	deps.customers.On("Lookup", ctx, "52998224725").Return(&client.Customer{
		ID: "cust-1", Name: "Maria Silva",
	}, nil)
	_, err := svc.ResolveCustomer(ctx, terminal, "52998224725")
	require.NoError(t, err)

	stageAndAdd(t, svc, deps, &client.Product{
		Code: "100", Description: "Widget", UnitPrice: 990, StockQuantity: 5,
	}, 3)

	session, err := svc.Cancel(ctx, terminal, true)

	require.NoError(t, err)
	assert.Empty(t, session.Items)
	assert.Equal(t, int64(0), session.Total)
	assert.Empty(t, session.CustomerID)
	assert.Empty(t, session.StockHints)

	stored, err := svc.GetSession(ctx, terminal)
	require.NoError(t, err)
	assert.Empty(t, stored.Items)
	assert.Equal(t, int64(0), stored.Total)
}

func TestCancel_EmptyNeedsNoConfirmation(t *testing.T) {
	svc, _ := newTestService()

	session, err := svc.Cancel(context.Background(), terminal, false)

	require.NoError(t, err)
	assert.Empty(t, session.Items)
	assert.Equal(t, int64(0), session.Total)
}

// --- FinalizeSummary ---

func TestFinalizeSummary_WithCustomer(t *testing.T) {
	svc, deps := newTestService()
	ctx := context.Background()

	deps.customers.On("Lookup", ctx, "52998224725").Return(&client.Customer{
		ID: "cust-1", Name: "Maria Silva",
	}, nil)
	_, err := svc.ResolveCustomer(ctx, terminal, "52998224725")
	require.NoError(t, err)

	stageAndAdd(t, svc, deps, &client.Product{
		Code: "100", Description: "Widget", UnitPrice: 990, StockQuantity: 5,
	}, 3)

	summary, err := svc.FinalizeSummary(ctx, terminal)

	require.NoError(t, err)
	assert.Equal(t, int64(2970), summary.Total)
	assert.Equal(t, 3, summary.ItemCount)
	assert.Equal(t, "Maria Silva", summary.Customer)
}

func TestFinalizeSummary_WalkIn(t *testing.T) {
	svc, deps := newTestService()

	stageAndAdd(t, svc, deps, &client.Product{
		Code: "100", Description: "Widget", UnitPrice: 990, StockQuantity: 5,
	}, 3)

	summary, err := svc.FinalizeSummary(context.Background(), terminal)

	require.NoError(t, err)
	assert.Equal(t, WalkInCustomer, summary.Customer)
}

func TestFinalizeSummary_EmptyRejected(t *testing.T) {
	svc, _ := newTestService()

	summary, err := svc.FinalizeSummary(context.Background(), terminal)

	assert.Nil(t, summary)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

// --- Finalize ---

func TestFinalize_EmptySessionNoNetworkCall(t *testing.T) {
	svc, deps := newTestService()

	result, err := svc.Finalize(context.Background(), terminal)

	assert.Nil(t, result)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	deps.sales.AssertNotCalled(t, "SubmitSale", mock.Anything, mock.Anything, mock.Anything)
}

func TestFinalize_Success(t *testing.T) {
	svc, deps := newTestService()
	ctx := context.Background()

	stageAndAdd(t, svc, deps, &client.Product{
		Code: "100", Description: "Widget", UnitPrice: 990, StockQuantity: 5,
	}, 3)

	deps.sales.On("SubmitSale", ctx, mock.MatchedBy(func(sub *client.SaleSubmission) bool {
		return sub.Total == 2970 && len(sub.Items) == 1 && sub.Items[0].Code == "100"
	}), mock.AnythingOfType("string")).Return(&client.SaleResult{SaleID: "sale-42"}, nil)

	result, err := svc.Finalize(ctx, terminal)

	require.NoError(t, err)
	assert.Equal(t, "sale-42", result.SaleID)
	assert.Equal(t, int64(2970), result.Total)
	assert.Equal(t, 3, result.ItemCount)

	// The session is discarded; the next read starts fresh.
	fresh, err := svc.GetSession(ctx, terminal)
	require.NoError(t, err)
	assert.Empty(t, fresh.Items)
	assert.Equal(t, int64(0), fresh.Total)
	deps.sales.AssertExpectations(t)
}

func TestFinalize_FailureReopensSession(t *testing.T) {
	svc, deps := newTestService()
	ctx := context.Background()

	stageAndAdd(t, svc, deps, &client.Product{
		Code: "100", Description: "Widget", UnitPrice: 990, StockQuantity: 5,
	}, 3)

	deps.sales.On("SubmitSale", ctx, mock.Anything, mock.AnythingOfType("string")).
		Return(nil, apperrors.Unprocessable("estoque insuficiente para o produto 100")).Once()

	result, err := svc.Finalize(ctx, terminal)

	assert.Nil(t, result)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnprocessable)
	assert.Contains(t, err.Error(), "estoque insuficiente")

	// Items and total untouched, session open again for a retry.
	stored, err := svc.GetSession(ctx, terminal)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOpen, stored.Status)
	assert.Len(t, stored.Items, 1)
	assert.Equal(t, int64(2970), stored.Total)
}

func TestFinalize_RetryReusesIdempotencyKey(t *testing.T) {
	svc, deps := newTestService()
	ctx := context.Background()

	stageAndAdd(t, svc, deps, &client.Product{
		Code: "100", Description: "Widget", UnitPrice: 990, StockQuantity: 5,
	}, 3)

	var firstKey, secondKey string
	deps.sales.On("SubmitSale", ctx, mock.Anything, mock.AnythingOfType("string")).
		Run(func(args mock.Arguments) { firstKey = args.String(2) }).
		Return(nil, apperrors.ServiceUnavailable("sales service unavailable")).Once()
	deps.sales.On("SubmitSale", ctx, mock.Anything, mock.AnythingOfType("string")).
		Run(func(args mock.Arguments) { secondKey = args.String(2) }).
		Return(&client.SaleResult{SaleID: "sale-42"}, nil).Once()

	_, err := svc.Finalize(ctx, terminal)
	require.Error(t, err)

	result, err := svc.Finalize(ctx, terminal)
	require.NoError(t, err)
	assert.Equal(t, "sale-42", result.SaleID)

	assert.NotEmpty(t, firstKey)
	assert.Equal(t, firstKey, secondKey)
}

func TestFinalize_ConcurrentAttemptRejected(t *testing.T) {
	svc, deps := newTestService()
	ctx := context.Background()

	stageAndAdd(t, svc, deps, &client.Product{
		Code: "100", Description: "Widget", UnitPrice: 990, StockQuantity: 5,
	}, 3)

	// A second finalize arriving while the first is in flight must be
	// rejected, as must a cancel.
	deps.sales.On("SubmitSale", ctx, mock.Anything, mock.AnythingOfType("string")).
		Run(func(_ mock.Arguments) {
			_, err := svc.Finalize(ctx, terminal)
			assert.ErrorIs(t, err, apperrors.ErrConflict)

			_, err = svc.Cancel(ctx, terminal, true)
			assert.ErrorIs(t, err, apperrors.ErrConflict)
		}).
		Return(&client.SaleResult{SaleID: "sale-42"}, nil).Once()

	result, err := svc.Finalize(ctx, terminal)

	require.NoError(t, err)
	assert.Equal(t, "sale-42", result.SaleID)
	deps.sales.AssertExpectations(t)
}

// --- SetSaleDate ---

func TestSetSaleDate_Success(t *testing.T) {
	svc, _ := newTestService()

	session, err := svc.SetSaleDate(context.Background(), terminal, "2026-08-28")

	require.NoError(t, err)
	assert.Equal(t, "2026-08-28", session.SaleDate)
}

func TestSetSaleDate_BadFormat(t *testing.T) {
	svc, _ := newTestService()

	session, err := svc.SetSaleDate(context.Background(), terminal, "28/08/2026")

	assert.Nil(t, session)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}
