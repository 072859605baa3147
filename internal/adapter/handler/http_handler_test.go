package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubVerifier struct{}

func (stubVerifier) VerifyToken(token string) (*domain.Principal, error) {
	switch strings.TrimPrefix(token, "Bearer ") {
	case "buyer-token":
		return &domain.Principal{UserID: "buyer-1", Role: domain.RoleBuyer}, nil
	case "admin-token":
		return &domain.Principal{UserID: "admin-1", Role: domain.RoleAdmin}, nil
	}
	return nil, errors.New("invalid token")
}

type stubOrders struct {
	place     func(*domain.Principal, service.PlaceOrderInput) (*domain.Order, error)
	list      []domain.Order
	addresses []domain.Address
}

func (s *stubOrders) PlaceOrder(_ context.Context, p *domain.Principal, in service.PlaceOrderInput) (*domain.Order, error) {
	return s.place(p, in)
}

func (s *stubOrders) GetOrder(_ context.Context, p *domain.Principal, id string) (*domain.Order, error) {
	for i := range s.list {
		if s.list[i].ID == id {
			return &s.list[i], nil
		}
	}
	return nil, service.ErrOrderNotFound
}

func (s *stubOrders) ListOrders(_ context.Context, p *domain.Principal) ([]domain.Order, error) {
	if p == nil {
		return nil, service.ErrUnauthenticated
	}
	return s.list, nil
}

func (s *stubOrders) GetAddresses(_ context.Context, p *domain.Principal) ([]domain.Address, error) {
	return s.addresses, nil
}

type stubProducts struct {
	filter   domain.ProductFilter
	uploaded struct {
		name, contentType string
		data              []byte
	}
	err error
}

func (s *stubProducts) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	if id == "missing" {
		return nil, service.ErrProductNotFound
	}
	return &domain.Product{ID: id, Name: "Lamp", Price: decimal.RequireFromString("12.50")}, nil
}

func (s *stubProducts) ListProducts(_ context.Context, f domain.ProductFilter) (domain.ProductPage, error) {
	s.filter = f
	return domain.ProductPage{Total: 1, Products: []domain.Product{{ID: "p1"}}}, s.err
}

func (s *stubProducts) CreateProduct(_ context.Context, p *domain.Principal, in service.ProductInput) (*domain.Product, error) {
	if p == nil || !p.IsAdmin() {
		return nil, service.ErrUnauthorized
	}
	return &domain.Product{ID: "p-new", Name: in.Name}, nil
}

func (s *stubProducts) EditProduct(_ context.Context, p *domain.Principal, id string, in service.EditProductInput) error {
	return s.err
}

func (s *stubProducts) DeleteProduct(_ context.Context, p *domain.Principal, id string) (bool, error) {
	return true, s.err
}

func (s *stubProducts) UploadImage(_ context.Context, p *domain.Principal, name, contentType string, data []byte) (string, error) {
	s.uploaded.name, s.uploaded.contentType, s.uploaded.data = name, contentType, data
	return "1700000000000" + name, s.err
}

type stubUsers struct{}

func (stubUsers) Register(_ context.Context, in service.RegisterInput) (*service.AuthResult, error) {
	if in.Email == "taken@example.com" {
		return nil, service.ErrExistingUser
	}
	return &service.AuthResult{ID: "u1", Token: "tok", Email: in.Email, Role: domain.RoleBuyer}, nil
}

func (stubUsers) Login(_ context.Context, in service.LoginInput) (*service.AuthResult, error) {
	return nil, service.ErrInvalidCredentials
}

type testServer struct {
	router   *gin.Engine
	orders   *stubOrders
	products *stubProducts
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	orders := &stubOrders{}
	products := &stubProducts{}
	h := NewHTTPHandler(orders, products, stubUsers{}, zap.NewNop(), WithMaxUploadBytes(1<<10))

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "storefront_test_total", Help: "test"}))

	return &testServer{
		router: NewRouter(h, RouterConfig{
			Verifier:    stubVerifier{},
			Gatherer:    reg,
			CORSOrigins: []string{"https://shop.example.com"},
		}),
		orders:   orders,
		products: products,
	}
}

func (s *testServer) do(method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func orderBody() map[string]any {
	addr := map[string]string{
		"full_name": "Ada", "address": "1 St", "city": "London", "postal_code": "N1",
		"country": "UK", "contact": "555", "email": "ada@example.com",
	}
	return map[string]any{
		"items":           []map[string]any{{"product_id": "p1", "quantity": 2}},
		"delivery_charge": "4.99",
		"discount_code":   "SPRING",
		"billing":         addr,
		"shipping":        addr,
	}
}

func TestPlaceOrder(t *testing.T) {
	s := newTestServer(t)

	var (
		gotPrincipal *domain.Principal
		gotInput     service.PlaceOrderInput
	)
	s.orders.place = func(p *domain.Principal, in service.PlaceOrderInput) (*domain.Order, error) {
		gotPrincipal, gotInput = p, in
		return &domain.Order{
			ID:             "order-1",
			BuyerID:        p.UserID,
			Items:          in.Items,
			DeliveryCharge: in.DeliveryCharge,
			CreatedAt:      time.Now(),
		}, nil
	}

	w := s.do(http.MethodPost, "/api/orders", "buyer-token", orderBody(), IdempotencyKeyHeader, "key-1")

	require.Equal(t, http.StatusCreated, w.Code)
	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, "order-1", resp.Data.(map[string]any)["id"])

	require.NotNil(t, gotPrincipal)
	assert.Equal(t, "buyer-1", gotPrincipal.UserID)
	assert.Equal(t, "key-1", gotInput.IdempotencyKey)
	assert.Equal(t, []domain.LineItem{{ProductID: "p1", Quantity: 2}}, gotInput.Items)
	assert.True(t, gotInput.DeliveryCharge.Equal(decimal.RequireFromString("4.99")))
	assert.Equal(t, "London", gotInput.Shipping.City)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestPlaceOrder_ErrorStatus(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"unauthenticated", service.ErrUnauthenticated, http.StatusUnauthorized, service.ErrUnauthenticated.Error()},
		{"wrong role", service.ErrUnauthorized, http.StatusForbidden, service.ErrUnauthorized.Error()},
		{"validation", domain.NewValidationError("items", "must not be empty"), http.StatusBadRequest, "items must not be empty"},
		{"in flight", service.ErrDuplicateRequest, http.StatusConflict, "duplicate request"},
		{"rolled back", service.ErrOrderCreateFailed, http.StatusUnprocessableEntity, "Failed to create the order"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			s.orders.place = func(*domain.Principal, service.PlaceOrderInput) (*domain.Order, error) {
				return nil, tt.err
			}

			w := s.do(http.MethodPost, "/api/orders", "buyer-token", orderBody())

			assert.Equal(t, tt.status, w.Code)
			resp := decodeResponse(t, w)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.message, resp.Message)
		})
	}
}

func TestPlaceOrder_InvalidBody(t *testing.T) {
	s := newTestServer(t)
	s.orders.place = func(*domain.Principal, service.PlaceOrderInput) (*domain.Order, error) {
		t.Fatal("service must not be called")
		return nil, nil
	}

	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOptionalAuth_InvalidTokenIsAnonymous(t *testing.T) {
	s := newTestServer(t)

	var called bool
	s.orders.place = func(p *domain.Principal, _ service.PlaceOrderInput) (*domain.Order, error) {
		called = true
		assert.Nil(t, p)
		return nil, service.ErrUnauthenticated
	}

	w := s.do(http.MethodPost, "/api/orders", "forged", orderBody())
	assert.True(t, called)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOrderReads(t *testing.T) {
	s := newTestServer(t)
	s.orders.list = []domain.Order{{ID: "order-1", BuyerID: "buyer-1", Items: []domain.LineItem{{ProductID: "p1", Quantity: 1}}}}
	s.orders.addresses = []domain.Address{{
		ID: "a1", Role: domain.AddressRoleShipping,
		AddressFields: domain.AddressFields{City: "Paris"},
	}}

	w := s.do(http.MethodGet, "/api/orders", "buyer-token", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeResponse(t, w).Data, 1)

	w = s.do(http.MethodGet, "/api/orders", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodGet, "/api/orders/order-1", "buyer-token", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/api/orders/other", "buyer-token", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodGet, "/api/addresses", "buyer-token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	addr := decodeResponse(t, w).Data.([]any)[0].(map[string]any)
	assert.Equal(t, "shipping", addr["role"])
	assert.Equal(t, "Paris", addr["city"])
}

func TestAuthRoutes(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/api/auth/register", "", map[string]any{"email": "ada@example.com", "name": "Ada", "password": "secret123"})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = s.do(http.MethodPost, "/api/auth/register", "", map[string]any{"email": "taken@example.com"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "User already exists", decodeResponse(t, w).Message)

	w = s.do(http.MethodPost, "/api/auth/login", "", map[string]any{"email": "ada@example.com", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Username or password is wrong", decodeResponse(t, w).Message)
}

func TestProductRoutes(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/api/products?offset=10&limit=5&category=home&query=lamp", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.ProductFilter{Offset: 10, Limit: 5, Category: "home", Query: "lamp"}, s.products.filter)

	w = s.do(http.MethodGet, "/api/products?limit=many", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/api/products/p1", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/api/products/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodPost, "/api/products", "buyer-token", map[string]any{"name": "Lamp", "category": "home", "price": "10"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodPost, "/api/products", "admin-token", map[string]any{"name": "Lamp", "category": "home", "price": "10"})
	assert.Equal(t, http.StatusCreated, w.Code)

	s.products.err = domain.ErrOptimisticLock
	w = s.do(http.MethodPut, "/api/products/p1", "admin-token", map[string]any{"name": "Lamp", "category": "home", "price": "11", "version": 1})
	assert.Equal(t, http.StatusConflict, w.Code)

	s.products.err = service.ErrProductsFetchFailed
	w = s.do(http.MethodGet, "/api/products", "", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Failed to fetch products", decodeResponse(t, w).Message)
}

func multipartImage(t *testing.T, size int) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := make(map[string][]string)
	header["Content-Disposition"] = []string{`form-data; name="file"; filename="lamp.png"`}
	header["Content-Type"] = []string{"image/png"}
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(bytes.Repeat([]byte{0x89}, size))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUploadImage(t *testing.T) {
	s := newTestServer(t)

	body, contentType := multipartImage(t, 64)
	req := httptest.NewRequest(http.MethodPost, "/api/products/images", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer admin-token")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "1700000000000lamp.png", decodeResponse(t, w).Data.(map[string]any)["key"])
	assert.Equal(t, "lamp.png", s.products.uploaded.name)
	assert.Equal(t, "image/png", s.products.uploaded.contentType)
	assert.Len(t, s.products.uploaded.data, 64)

	req = httptest.NewRequest(http.MethodPost, "/api/products/images", strings.NewReader(""))
	req.Header.Set("Authorization", "Bearer admin-token")
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthMetricsAndCORS(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = s.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "storefront_test_total")

	req := httptest.NewRequest(http.MethodOptions, "/api/orders", nil)
	req.Header.Set("Origin", "https://shop.example.com")
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://shop.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), IdempotencyKeyHeader)

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
