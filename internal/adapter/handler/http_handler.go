package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
	"github.com/rl1809/storefront/internal/infrastructure/logger"
	"github.com/rl1809/storefront/internal/port"
)

const IdempotencyKeyHeader = "Idempotency-Key"

type OrderService interface {
	PlaceOrder(ctx context.Context, principal *domain.Principal, in service.PlaceOrderInput) (*domain.Order, error)
	GetOrder(ctx context.Context, principal *domain.Principal, orderID string) (*domain.Order, error)
	ListOrders(ctx context.Context, principal *domain.Principal) ([]domain.Order, error)
	GetAddresses(ctx context.Context, principal *domain.Principal) ([]domain.Address, error)
}

type ProductService interface {
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
	ListProducts(ctx context.Context, filter domain.ProductFilter) (domain.ProductPage, error)
	CreateProduct(ctx context.Context, principal *domain.Principal, in service.ProductInput) (*domain.Product, error)
	EditProduct(ctx context.Context, principal *domain.Principal, productID string, in service.EditProductInput) error
	DeleteProduct(ctx context.Context, principal *domain.Principal, productID string) (bool, error)
	UploadImage(ctx context.Context, principal *domain.Principal, filename, contentType string, data []byte) (string, error)
}

type UserService interface {
	Register(ctx context.Context, in service.RegisterInput) (*service.AuthResult, error)
	Login(ctx context.Context, in service.LoginInput) (*service.AuthResult, error)
}

type HTTPHandler struct {
	orders   OrderService
	products ProductService
	users    UserService
	logger   *zap.Logger

	maxUploadBytes int64
}

type HTTPOption func(*HTTPHandler)

func WithMaxUploadBytes(n int64) HTTPOption {
	return func(h *HTTPHandler) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

func NewHTTPHandler(orders OrderService, products ProductService, users UserService, log *zap.Logger, opts ...HTTPOption) *HTTPHandler {
	h := &HTTPHandler{
		orders:         orders,
		products:       products,
		users:          users,
		logger:         log,
		maxUploadBytes: 5 << 20,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RouterConfig carries what the router needs beyond the handler itself.
type RouterConfig struct {
	Verifier    port.TokenVerifier
	Gatherer    prometheus.Gatherer
	CORSOrigins []string
}

func NewRouter(h *HTTPHandler, cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(logger.Recovery(h.logger), logger.GinMiddleware(h.logger), CORS(cfg.CORSOrigins))

	r.GET("/health", h.HealthCheck)
	if cfg.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api", OptionalAuth(cfg.Verifier))
	{
		api.POST("/auth/register", h.Register)
		api.POST("/auth/login", h.Login)

		api.GET("/products", h.ListProducts)
		api.GET("/products/:id", h.GetProduct)
		api.POST("/products", h.CreateProduct)
		api.PUT("/products/:id", h.EditProduct)
		api.DELETE("/products/:id", h.DeleteProduct)
		api.POST("/products/images", h.UploadImage)

		api.POST("/orders", h.PlaceOrder)
		api.GET("/orders", h.ListOrders)
		api.GET("/orders/:id", h.GetOrder)
		api.GET("/addresses", h.GetAddresses)
	}
	return r
}

type PlaceOrderRequest struct {
	Items          []domain.LineItem    `json:"items"`
	DeliveryCharge decimal.Decimal      `json:"delivery_charge"`
	DiscountCode   string               `json:"discount_code"`
	Billing        domain.AddressFields `json:"billing"`
	Shipping       domain.AddressFields `json:"shipping"`
}

func (r PlaceOrderRequest) toInput(idempotencyKey string) service.PlaceOrderInput {
	return service.PlaceOrderInput{
		Items:          r.Items,
		DeliveryCharge: r.DeliveryCharge,
		DiscountCode:   r.DiscountCode,
		Billing:        r.Billing,
		Shipping:       r.Shipping,
		IdempotencyKey: idempotencyKey,
	}
}

func (h *HTTPHandler) PlaceOrder(c *gin.Context) {
	var req PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.orders.PlaceOrder(c.Request.Context(), principalFrom(c), req.toInput(c.GetHeader(IdempotencyKeyHeader)))
	if err != nil {
		h.handleError(c, err)
		return
	}
	respond(c, http.StatusCreated, newOrderResponse(order))
}

func (h *HTTPHandler) ListOrders(c *gin.Context) {
	orders, err := h.orders.ListOrders(c.Request.Context(), principalFrom(c))
	if err != nil {
		h.handleError(c, err)
		return
	}
	resp := make([]OrderResponse, len(orders))
	for i := range orders {
		resp[i] = newOrderResponse(&orders[i])
	}
	respond(c, http.StatusOK, resp)
}

func (h *HTTPHandler) GetOrder(c *gin.Context) {
	order, err := h.orders.GetOrder(c.Request.Context(), principalFrom(c), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	respond(c, http.StatusOK, newOrderResponse(order))
}

func (h *HTTPHandler) GetAddresses(c *gin.Context) {
	addrs, err := h.orders.GetAddresses(c.Request.Context(), principalFrom(c))
	if err != nil {
		h.handleError(c, err)
		return
	}
	resp := make([]AddressResponse, len(addrs))
	for i, a := range addrs {
		resp[i] = AddressResponse{ID: a.ID, Role: a.Role, AddressFields: a.AddressFields, UpdatedAt: a.UpdatedAt}
	}
	respond(c, http.StatusOK, resp)
}

func (h *HTTPHandler) Register(c *gin.Context) {
	var req service.RegisterInput
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := h.users.Register(c.Request.Context(), req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	respond(c, http.StatusCreated, result)
}

func (h *HTTPHandler) Login(c *gin.Context) {
	var req service.LoginInput
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := h.users.Login(c.Request.Context(), req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	respond(c, http.StatusOK, result)
}

func (h *HTTPHandler) ListProducts(c *gin.Context) {
	offset, err := queryInt(c, "offset")
	if err != nil {
		fail(c, http.StatusBadRequest, "offset must be an integer")
		return
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		fail(c, http.StatusBadRequest, "limit must be an integer")
		return
	}

	page, err := h.products.ListProducts(c.Request.Context(), domain.ProductFilter{
		Offset:   offset,
		Limit:    limit,
		Category: c.Query("category"),
		Query:    c.Query("query"),
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	respond(c, http.StatusOK, page)
}

func (h *HTTPHandler) GetProduct(c *gin.Context) {
	product, err := h.products.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	respond(c, http.StatusOK, product)
}

func (h *HTTPHandler) CreateProduct(c *gin.Context) {
	var req service.ProductInput
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	product, err := h.products.CreateProduct(c.Request.Context(), principalFrom(c), req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	respond(c, http.StatusCreated, product)
}

func (h *HTTPHandler) EditProduct(c *gin.Context) {
	var req service.EditProductInput
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.products.EditProduct(c.Request.Context(), principalFrom(c), c.Param("id"), req); err != nil {
		h.handleError(c, err)
		return
	}
	respond(c, http.StatusOK, true)
}

func (h *HTTPHandler) DeleteProduct(c *gin.Context) {
	deleted, err := h.products.DeleteProduct(c.Request.Context(), principalFrom(c), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	respond(c, http.StatusOK, deleted)
}

// UploadImage expects a multipart form with the image in the "file" field.
func (h *HTTPHandler) UploadImage(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(c, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		fail(c, http.StatusBadRequest, "file is required")
		return
	}

	f, err := fh.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, "file is unreadable")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		fail(c, http.StatusBadRequest, "file is unreadable")
		return
	}

	key, err := h.products.UploadImage(c.Request.Context(), principalFrom(c), fh.Filename, fh.Header.Get("Content-Type"), data)
	if err != nil {
		h.handleError(c, err)
		return
	}
	respond(c, http.StatusCreated, gin.H{"key": key})
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func queryInt(c *gin.Context, name string) (int, error) {
	v := c.Query(name)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
