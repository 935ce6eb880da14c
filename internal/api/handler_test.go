package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendkit/storefront/internal/domain/coupon"
	"github.com/vendkit/storefront/internal/domain/order"
	"github.com/vendkit/storefront/internal/domain/product"
	"github.com/vendkit/storefront/internal/domain/user"
)

// --- Mock implementations ---

type mockUserRepo struct {
	byID map[string]*user.User
}

func (m *mockUserRepo) GetByID(_ context.Context, id string) (*user.User, error) {
	u, ok := m.byID[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	return u, nil
}

type mockProductRepo struct {
	products []product.Product
	listErr  error
}

func (m *mockProductRepo) List(_ context.Context) ([]product.Product, error) {
	return m.products, m.listErr
}

func (m *mockProductRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	for i := range m.products {
		if m.products[i].ID == id {
			return &m.products[i], nil
		}
	}
	return nil, product.ErrNotFound
}

func (m *mockProductRepo) GetActiveByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	var out []product.Product
	for _, id := range ids {
		for i := range m.products {
			if m.products[i].ID == id && m.products[i].Active {
				out = append(out, m.products[i])
			}
		}
	}
	return out, nil
}

type mockCouponRepo struct {
	rule *coupon.Rule
}

func (m *mockCouponRepo) FindByCode(_ context.Context, code string) (*coupon.Rule, error) {
	if m.rule == nil || !strings.EqualFold(m.rule.Code, code) {
		return nil, coupon.ErrNotFound
	}
	return m.rule, nil
}

// memOrderRepo is an in-memory order.Repository with the storage layer's
// guard semantics.
type memOrderRepo struct {
	orders map[string]*order.Order
	items  map[string][]order.Item
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{
		orders: make(map[string]*order.Order),
		items:  make(map[string][]order.Item),
	}
}

func (m *memOrderRepo) Create(_ context.Context, o *order.Order, items []order.Item) error {
	cp := *o
	m.orders[o.ID] = &cp
	m.items[o.ID] = append([]order.Item(nil), items...)
	return nil
}

func (m *memOrderRepo) GetByID(_ context.Context, id string) (*order.Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memOrderRepo) ItemsByOrder(_ context.Context, orderID string) ([]order.Item, error) {
	return append([]order.Item(nil), m.items[orderID]...), nil
}

func (m *memOrderRepo) UpdateStatus(_ context.Context, id string, current, next order.Status) error {
	o, ok := m.orders[id]
	if !ok || o.Status != current {
		return order.ErrStatusChanged
	}
	o.Status = next
	return nil
}

func (m *memOrderRepo) RecordPayment(_ context.Context, id, method, reference string) error {
	o, ok := m.orders[id]
	if !ok || o.Status != order.StatusPending {
		return order.ErrStatusChanged
	}
	o.Status = order.StatusPaid
	o.PaymentMethod = method
	o.PaymentReference = reference
	return nil
}

func (m *memOrderRepo) SetItemLicense(_ context.Context, itemID, key string, expiresAt time.Time) error {
	for orderID := range m.items {
		for i := range m.items[orderID] {
			item := &m.items[orderID][i]
			if item.ID == itemID && item.LicenseKey == "" {
				item.LicenseKey = key
				item.DownloadExpiresAt = &expiresAt
			}
		}
	}
	return nil
}

func (m *memOrderRepo) Refund(_ context.Context, id string) error {
	o, ok := m.orders[id]
	if !ok || !o.Status.Refundable() {
		return order.ErrStatusChanged
	}
	o.Status = order.StatusRefunded
	for i := range m.items[id] {
		m.items[id][i].LicenseKey = ""
		m.items[id][i].DownloadExpiresAt = nil
	}
	return nil
}

func (m *memOrderRepo) ApplyCoupon(_ context.Context, id string, rule *coupon.Rule, discount, tax, total decimal.Decimal) error {
	o, ok := m.orders[id]
	if !ok || o.Status != order.StatusPending {
		return order.ErrStatusChanged
	}
	o.CouponID = rule.ID
	o.DiscountAmount = discount
	o.TaxAmount = tax
	o.TotalAmount = total
	return nil
}

// --- Helpers ---

type testEnv struct {
	mux    *http.ServeMux
	orders *memOrderRepo
}

func newTestEnv(products []product.Product, rule *coupon.Rule) *testEnv {
	orders := newMemOrderRepo()
	productRepo := &mockProductRepo{products: products}
	svc := order.NewService(
		order.ServiceConfig{TaxRate: decimal.RequireFromString("0.10")},
		&mockUserRepo{byID: map[string]*user.User{
			"u1": {ID: "u1", Email: "u1@example.com", Active: true},
		}},
		productRepo,
		&mockCouponRepo{rule: rule},
		orders,
	)
	h := NewHandler(productRepo, svc)
	return &testEnv{mux: h.Routes(), orders: orders}
}

func (env *testEnv) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Body.String(), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func testCatalog() []product.Product {
	return []product.Product{
		{ID: "p1", Name: "Go Course", Price: decimal.RequireFromString("99.99"), StockQuantity: 10, Active: true, Category: "courses"},
		{ID: "p2", Name: "Theme Pack", Price: decimal.RequireFromString("29.99"), StockQuantity: 3, Active: true, Category: "themes"},
	}
}

const createOrderBody = `{"userId":"u1","items":[{"productId":"p1","quantity":2}]}`

func createTestOrder(t *testing.T, env *testEnv) string {
	t.Helper()
	rec, body := env.do(t, http.MethodPost, "/rpc/orders.create", createOrderBody)
	require.Equal(t, http.StatusCreated, rec.Code)
	return body["id"].(string)
}

// --- Tests ---

func TestCreateOrder(t *testing.T) {
	env := newTestEnv(testCatalog(), nil)

	rec, body := env.do(t, http.MethodPost, "/rpc/orders.create", createOrderBody)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "pending", body["status"])
	assert.InDelta(t, 199.98, body["subtotal"], 0.001)
	assert.InDelta(t, 20.00, body["taxAmount"], 0.001)
	assert.InDelta(t, 219.98, body["totalAmount"], 0.001)
	assert.True(t, strings.HasPrefix(body["orderNumber"].(string), "ORD-"))
}

func TestCreateOrder_WithCoupon(t *testing.T) {
	env := newTestEnv(testCatalog(), &coupon.Rule{
		ID:           "c1",
		Code:         "WELCOME20",
		DiscountType: coupon.DiscountPercentage,
		Value:        decimal.NewFromInt(20),
		Active:       true,
	})

	rec, body := env.do(t, http.MethodPost, "/rpc/orders.create",
		`{"userId":"u1","couponCode":"WELCOME20","items":[{"productId":"p1","quantity":2}]}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.InDelta(t, 40.00, body["discountAmount"], 0.001)
	assert.InDelta(t, 16.00, body["taxAmount"], 0.001)
	assert.InDelta(t, 175.98, body["totalAmount"], 0.001)
	assert.Equal(t, "c1", body["couponId"])
}

func TestCreateOrder_EmptyItems(t *testing.T) {
	env := newTestEnv(testCatalog(), nil)

	rec, body := env.do(t, http.MethodPost, "/rpc/orders.create", `{"userId":"u1","items":[]}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.EqualValues(t, http.StatusBadRequest, body["code"])
	assert.Equal(t, "items required", body["message"])
}

func TestCreateOrder_UnknownUser(t *testing.T) {
	env := newTestEnv(testCatalog(), nil)

	rec, _ := env.do(t, http.MethodPost, "/rpc/orders.create",
		`{"userId":"ghost","items":[{"productId":"p1","quantity":1}]}`)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateOrder_ZeroQuantity(t *testing.T) {
	env := newTestEnv(testCatalog(), nil)

	rec, _ := env.do(t, http.MethodPost, "/rpc/orders.create",
		`{"userId":"u1","items":[{"productId":"p1","quantity":0}]}`)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCreateOrder_InsufficientStock(t *testing.T) {
	env := newTestEnv(testCatalog(), nil)

	rec, body := env.do(t, http.MethodPost, "/rpc/orders.create",
		`{"userId":"u1","items":[{"productId":"p2","quantity":4}]}`)

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, body["message"], "insufficient stock")
}

func TestCreateOrder_MalformedBody(t *testing.T) {
	env := newTestEnv(testCatalog(), nil)

	rec, _ := env.do(t, http.MethodPost, "/rpc/orders.create", `{"userId":`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetOrder(t *testing.T) {
	env := newTestEnv(testCatalog(), nil)
	id := createTestOrder(t, env)

	rec, body := env.do(t, http.MethodPost, "/rpc/orders.get", `{"orderId":"`+id+`"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	o := body["order"].(map[string]any)
	assert.Equal(t, id, o["id"])

	items := body["items"].([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, "p1", item["productId"])
	assert.EqualValues(t, 2, item["quantity"])
}

func TestGetOrder_NotFound(t *testing.T) {
	env := newTestEnv(testCatalog(), nil)

	rec, _ := env.do(t, http.MethodPost, "/rpc/orders.get", `{"orderId":"missing"}`)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateOrderStatus(t *testing.T) {
	env := newTestEnv(testCatalog(), nil)
	id := createTestOrder(t, env)

	rec, body := env.do(t, http.MethodPost, "/rpc/orders.updateStatus",
		`{"orderId":"`+id+`","status":"paid"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "paid", body["status"])

	// Entering paid issues license keys.
	items := env.orders.items[id]
	require.Len(t, items, 1)
	assert.True(t, strings.HasPrefix(items[0].LicenseKey, "LIC-"))
}

func TestUpdateOrderStatus_IllegalTransition(t *testing.T) {
	env := newTestEnv(testCatalog(), nil)
	id := createTestOrder(t, env)

	rec, body := env.do(t, http.MethodPost, "/rpc/orders.updateStatus",
		`{"orderId":"`+id+`","status":"completed"}`)

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, body["message"], "illegal status transition")
}

func TestUpdateOrderStatus_UnknownStatus(t *testing.T) {
	env := newTestEnv(testCatalog(), nil)
	id := createTestOrder(t, env)

	rec, _ := env.do(t, http.MethodPost, "/rpc/orders.updateStatus",
		`{"orderId":"`+id+`","status":"shipped"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProcessPayment(t *testing.T) {
	env := newTestEnv(testCatalog(), nil)
	id := createTestOrder(t, env)

	rec, body := env.do(t, http.MethodPost, "/rpc/orders.processPayment",
		`{"orderId":"`+id+`","paymentMethod":"card","paymentReference":"ch_123"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])

	o := body["order"].(map[string]any)
	assert.Equal(t, "paid", o["status"])
	assert.Equal(t, "card", o["paymentMethod"])
	assert.Equal(t, "ch_123", o["paymentReference"])
}

func TestProcessPayment_AlreadyPaid(t *testing.T) {
	env := newTestEnv(testCatalog(), nil)
	id := createTestOrder(t, env)
	env.orders.orders[id].Status = order.StatusPaid

	rec, body := env.do(t, http.MethodPost, "/rpc/orders.processPayment",
		`{"orderId":"`+id+`","paymentMethod":"card","paymentReference":"ch_456"}`)

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "order is not pending payment", body["error"])
}

func TestGenerateLicenseKeys(t *testing.T) {
	env := newTestEnv(testCatalog(), nil)
	id := createTestOrder(t, env)

	rec, body := env.do(t, http.MethodPost, "/rpc/orders.generateLicenseKeys",
		`{"orderId":"`+id+`"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])

	first := env.orders.items[id][0].LicenseKey
	require.NotEmpty(t, first)

	// Idempotent: a second call leaves existing keys untouched.
	rec, _ = env.do(t, http.MethodPost, "/rpc/orders.generateLicenseKeys",
		`{"orderId":"`+id+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, first, env.orders.items[id][0].LicenseKey)
}

func TestRefundOrder(t *testing.T) {
	env := newTestEnv(testCatalog(), nil)
	id := createTestOrder(t, env)
	env.orders.orders[id].Status = order.StatusPaid

	rec, body := env.do(t, http.MethodPost, "/rpc/orders.refund",
		`{"orderId":"`+id+`","reason":"customer request"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, order.StatusRefunded, env.orders.orders[id].Status)
}

func TestRefundOrder_Pending(t *testing.T) {
	env := newTestEnv(testCatalog(), nil)
	id := createTestOrder(t, env)

	rec, body := env.do(t, http.MethodPost, "/rpc/orders.refund",
		`{"orderId":"`+id+`","reason":"changed my mind"}`)

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, body["message"], "cannot be refunded")
}

func TestValidateCoupon(t *testing.T) {
	env := newTestEnv(testCatalog(), &coupon.Rule{
		ID:           "c1",
		Code:         "SAVE10",
		DiscountType: coupon.DiscountPercentage,
		Value:        decimal.NewFromInt(10),
		Active:       true,
	})

	rec, body := env.do(t, http.MethodPost, "/rpc/coupons.validate",
		`{"code":"SAVE10","orderTotal":100}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["isValid"])
	assert.InDelta(t, 10.00, body["discount"], 0.001)

	c := body["coupon"].(map[string]any)
	assert.Equal(t, "SAVE10", c["code"])
	assert.Equal(t, "percentage", c["discountType"])
}

func TestValidateCoupon_Invalid(t *testing.T) {
	env := newTestEnv(testCatalog(), nil)

	rec, body := env.do(t, http.MethodPost, "/rpc/coupons.validate",
		`{"code":"NOPE","orderTotal":100}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["isValid"])
	assert.Equal(t, "coupon not found", body["error"])
}

func TestApplyCoupon(t *testing.T) {
	env := newTestEnv(testCatalog(), &coupon.Rule{
		ID:           "c1",
		Code:         "WELCOME20",
		DiscountType: coupon.DiscountPercentage,
		Value:        decimal.NewFromInt(20),
		Active:       true,
	})
	id := createTestOrder(t, env)

	rec, body := env.do(t, http.MethodPost, "/rpc/coupons.apply",
		`{"code":"WELCOME20","orderId":"`+id+`"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.InDelta(t, 40.00, body["discount"], 0.001)
}

func TestApplyCoupon_UnknownCode(t *testing.T) {
	env := newTestEnv(testCatalog(), nil)
	id := createTestOrder(t, env)

	rec, _ := env.do(t, http.MethodPost, "/rpc/coupons.apply",
		`{"code":"NOPE","orderId":"`+id+`"}`)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListProducts(t *testing.T) {
	env := newTestEnv(testCatalog(), nil)

	req := httptest.NewRequest(http.MethodGet, "/rpc/products.list", nil)
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var products []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &products))
	require.Len(t, products, 2)
	assert.Equal(t, "p1", products[0]["id"])
	assert.Equal(t, "Go Course", products[0]["name"])
	assert.InDelta(t, 99.99, products[0]["price"], 0.001)
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(testCatalog(), nil)

	req := httptest.NewRequest(http.MethodGet, "/rpc/orders.create", nil)
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
