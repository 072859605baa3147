package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

type ProductInput struct {
	Name            string          `json:"name" validate:"required,max=200"`
	Price           decimal.Decimal `json:"price"`
	DiscountedPrice decimal.Decimal `json:"discounted_price"`
	Quantity        int             `json:"quantity" validate:"gte=0"`
	Category        string          `json:"category" validate:"required,max=100"`
	Image           string          `json:"image" validate:"omitempty,max=512"`
	Description     string          `json:"description" validate:"omitempty,max=4000"`
}

// EditProductInput carries the fields an edit may change. Version must match
// the stored row.
type EditProductInput struct {
	Name     string          `json:"name" validate:"required,max=200"`
	Category string          `json:"category" validate:"required,max=100"`
	Price    decimal.Decimal `json:"price"`
	Version  int             `json:"version" validate:"gte=0"`
}

type CatalogConfig struct {
	CacheTTL        time.Duration
	DefaultPageSize int
	MaxPageSize     int
}

type ProductService struct {
	products port.ProductRepository
	cache    port.CacheRepository
	images   port.ObjectStorage
	validate *validator.Validate
	logger   *zap.Logger
	metrics  *Metrics
	cfg      CatalogConfig
	now      func() time.Time
}

// NewProductService wires the catalog. images may be nil when object storage
// is disabled.
func NewProductService(products port.ProductRepository, cache port.CacheRepository, images port.ObjectStorage, logger *zap.Logger, metrics *Metrics, cfg CatalogConfig) *ProductService {
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 20
	}
	if cfg.MaxPageSize < cfg.DefaultPageSize {
		cfg.MaxPageSize = cfg.DefaultPageSize
	}
	return &ProductService{
		products: products,
		cache:    cache,
		images:   images,
		validate: validator.New(),
		logger:   logger,
		metrics:  metrics,
		cfg:      cfg,
		now:      time.Now,
	}
}

// GetProduct reads through the product cache.
func (s *ProductService) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	cached, err := s.cache.GetProduct(ctx, productID)
	if err != nil {
		s.logger.Warn("Product cache read failed", zap.String("product_id", productID), zap.Error(err))
	}
	if cached != nil {
		s.metrics.productCacheLookups.WithLabelValues("hit").Inc()
		return cached, nil
	}
	s.metrics.productCacheLookups.WithLabelValues("miss").Inc()

	product, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		s.logger.Error("Product lookup failed", zap.String("product_id", productID), zap.Error(err))
		return nil, ErrProductsFetchFailed
	}
	if product == nil {
		return nil, ErrProductNotFound
	}

	if s.cfg.CacheTTL > 0 {
		if err := s.cache.SetProduct(ctx, *product, s.cfg.CacheTTL); err != nil {
			s.logger.Warn("Product cache write failed", zap.String("product_id", productID), zap.Error(err))
		}
	}
	return product, nil
}

// ListProducts pages through the catalog ordered by price, highest first.
func (s *ProductService) ListProducts(ctx context.Context, filter domain.ProductFilter) (domain.ProductPage, error) {
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if filter.Limit <= 0 {
		filter.Limit = s.cfg.DefaultPageSize
	}
	if filter.Limit > s.cfg.MaxPageSize {
		filter.Limit = s.cfg.MaxPageSize
	}
	filter.Category = strings.TrimSpace(filter.Category)
	filter.Query = strings.TrimSpace(filter.Query)

	page, err := s.products.ListProducts(ctx, filter)
	if err != nil {
		s.logger.Error("Product listing failed", zap.Error(err))
		return domain.ProductPage{}, ErrProductsFetchFailed
	}
	if page.Products == nil {
		page.Products = []domain.Product{}
	}
	return page, nil
}

func (s *ProductService) CreateProduct(ctx context.Context, principal *domain.Principal, in ProductInput) (*domain.Product, error) {
	if err := requireAdmin(principal); err != nil {
		return nil, err
	}
	if err := validateStruct(s.validate, in); err != nil {
		return nil, err
	}
	if err := validatePrices(in.Price, in.DiscountedPrice); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	product := domain.Product{
		ID:              uuid.New().String(),
		Name:            strings.TrimSpace(in.Name),
		Price:           in.Price,
		DiscountedPrice: in.DiscountedPrice,
		Quantity:        in.Quantity,
		Category:        strings.TrimSpace(in.Category),
		Image:           in.Image,
		Description:     in.Description,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.products.CreateProduct(ctx, product); err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	s.logger.Info("Product created", zap.String("product_id", product.ID), zap.String("admin_id", principal.UserID))
	return &product, nil
}

// EditProduct changes name, category and price. A stale version yields
// domain.ErrOptimisticLock.
func (s *ProductService) EditProduct(ctx context.Context, principal *domain.Principal, productID string, in EditProductInput) error {
	if err := requireAdmin(principal); err != nil {
		return err
	}
	if err := validateStruct(s.validate, in); err != nil {
		return err
	}
	if err := validatePrices(in.Price, decimal.Zero); err != nil {
		return err
	}

	err := s.products.UpdateProduct(ctx, domain.Product{
		ID:        productID,
		Name:      strings.TrimSpace(in.Name),
		Category:  strings.TrimSpace(in.Category),
		Price:     in.Price,
		Version:   in.Version,
		UpdatedAt: s.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, domain.ErrOptimisticLock) || errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("update product: %w", err)
	}

	s.invalidate(ctx, productID)
	return nil
}

// DeleteProduct reports whether a product was removed.
func (s *ProductService) DeleteProduct(ctx context.Context, principal *domain.Principal, productID string) (bool, error) {
	if err := requireAdmin(principal); err != nil {
		return false, err
	}
	deleted, err := s.products.DeleteProduct(ctx, productID)
	if err != nil {
		return false, fmt.Errorf("delete product: %w", err)
	}
	if deleted {
		s.invalidate(ctx, productID)
	}
	return deleted, nil
}

// UploadImage stores a product image and returns its object key.
func (s *ProductService) UploadImage(ctx context.Context, principal *domain.Principal, filename, contentType string, data []byte) (string, error) {
	if err := requireAdmin(principal); err != nil {
		return "", err
	}
	if s.images == nil {
		return "", ErrStorageDisabled
	}

	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "" || name == "." || name == "/" {
		return "", domain.NewValidationError("filename", "is required")
	}
	if len(data) == 0 {
		return "", domain.NewValidationError("file", "is empty")
	}
	if !strings.HasPrefix(contentType, "image/") {
		return "", domain.NewValidationError("file", "must be an image")
	}

	key := strconv.FormatInt(s.now().UnixMilli(), 10) + name
	if err := s.images.Upload(ctx, key, data, contentType); err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}

	s.logger.Info("Product image uploaded", zap.String("key", key), zap.Int("bytes", len(data)))
	return key, nil
}

func (s *ProductService) invalidate(ctx context.Context, productID string) {
	if err := s.cache.InvalidateProducts(ctx, productID); err != nil {
		s.logger.Warn("Failed to invalidate product cache", zap.String("product_id", productID), zap.Error(err))
	}
}

func validatePrices(price, discounted decimal.Decimal) error {
	if price.IsNegative() {
		return domain.NewValidationError("price", "must not be negative")
	}
	if discounted.IsNegative() {
		return domain.NewValidationError("discounted_price", "must not be negative")
	}
	return nil
}
