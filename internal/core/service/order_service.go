package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/infrastructure/logger"
	"github.com/rl1809/storefront/internal/port"
)

const (
	tracerName           = "storefront/order"
	idempotencyKeyPrefix = "idempotency:order:"
	maxIdempotencyKeyLen = 64
)

type PlaceOrderInput struct {
	Items          []domain.LineItem
	DeliveryCharge decimal.Decimal
	DiscountCode   string
	Billing        domain.AddressFields
	Shipping       domain.AddressFields

	// IdempotencyKey is optional. Without it every call creates a new order.
	IdempotencyKey string
}

type OrderConfig struct {
	Timeout        time.Duration
	IdempotencyTTL time.Duration
}

type OrderService struct {
	db      port.DatabaseRepository
	cache   port.CacheRepository
	logger  *zap.Logger
	metrics *Metrics
	tracer  trace.Tracer
	cfg     OrderConfig
}

func NewOrderService(db port.DatabaseRepository, cache port.CacheRepository, log *zap.Logger, metrics *Metrics, cfg OrderConfig) *OrderService {
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 24 * time.Hour
	}
	return &OrderService{
		db:      db,
		cache:   cache,
		logger:  log,
		metrics: metrics,
		tracer:  otel.Tracer(tracerName),
		cfg:     cfg,
	}
}

// PlaceOrder creates the order, reserves stock for every line item and
// upserts the buyer's billing and shipping addresses as one transaction.
// Authorization and validation errors are returned as is; every failure after
// that is logged with its cause and reported as ErrOrderCreateFailed.
func (s *OrderService) PlaceOrder(ctx context.Context, principal *domain.Principal, in PlaceOrderInput) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.place")
	defer span.End()

	if err := requireBuyer(principal); err != nil {
		span.SetStatus(codes.Error, "unauthorized")
		return nil, err
	}
	span.SetAttributes(
		attribute.String("buyer.id", principal.UserID),
		attribute.Int("order.items", len(in.Items)),
	)

	order, err := s.prepare(principal.UserID, in)
	if err != nil {
		span.SetStatus(codes.Error, "validation")
		return nil, err
	}
	span.SetAttributes(attribute.String("order.id", order.ID))

	log := logger.FromContext(ctx, s.logger).With(
		zap.String("buyer_id", order.BuyerID),
		zap.String("order_id", order.ID),
	)

	var claimKey string
	if order.IdempotencyKey != "" {
		existing, key, err := s.claim(ctx, log, order)
		if err != nil {
			span.SetStatus(codes.Error, "duplicate request")
			return nil, err
		}
		if existing != nil {
			s.metrics.ordersReplayed.Inc()
			span.SetAttributes(attribute.Bool("order.replayed", true))
			return existing, nil
		}
		claimKey = key
	}

	start := time.Now()
	err = s.execute(ctx, order, in)
	s.metrics.placementDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		if claimKey != "" {
			if relErr := s.cache.ReleaseIdempotency(context.WithoutCancel(ctx), claimKey); relErr != nil {
				log.Warn("Failed to release idempotency claim", zap.Error(relErr))
			}
		}
		if errors.Is(err, domain.ErrDuplicateOrder) {
			// Lost a race on the durable key without a cache claim.
			if existing, findErr := s.db.FindOrderByIdempotencyKey(ctx, order.BuyerID, order.IdempotencyKey); findErr == nil && existing != nil {
				s.metrics.ordersReplayed.Inc()
				return existing, nil
			}
		}

		reason := failureReason(err)
		s.metrics.ordersFailed.WithLabelValues(reason).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
		log.Warn("Order placement rolled back",
			zap.String("reason", reason),
			zap.Int("items", len(order.Items)),
			zap.Error(err),
		)
		return nil, ErrOrderCreateFailed
	}

	s.metrics.ordersPlaced.Inc()
	span.SetStatus(codes.Ok, "")
	log.Info("Order placed", zap.Int("items", len(order.Items)))

	if claimKey != "" {
		if err := s.cache.CompleteIdempotency(ctx, claimKey, order.ID, s.cfg.IdempotencyTTL); err != nil {
			log.Warn("Failed to record idempotency result", zap.Error(err))
		}
	}
	if err := s.cache.InvalidateProducts(ctx, order.ProductIDs()...); err != nil {
		log.Warn("Failed to invalidate product cache", zap.Error(err))
	}

	return &order, nil
}

// prepare validates the request. Nothing has been written when it fails.
func (s *OrderService) prepare(buyerID string, in PlaceOrderInput) (domain.Order, error) {
	order, err := domain.NewOrder(buyerID, in.Items, in.DeliveryCharge, in.DiscountCode)
	if err != nil {
		return domain.Order{}, err
	}
	if err := in.Billing.Validate(string(domain.AddressRoleBilling)); err != nil {
		return domain.Order{}, err
	}
	if err := in.Shipping.Validate(string(domain.AddressRoleShipping)); err != nil {
		return domain.Order{}, err
	}
	if len(in.IdempotencyKey) > maxIdempotencyKeyLen {
		return domain.Order{}, domain.NewValidationError("idempotency_key", "must be at most 64 characters")
	}
	order.IdempotencyKey = in.IdempotencyKey
	return order, nil
}

func (s *OrderService) execute(ctx context.Context, order domain.Order, in PlaceOrderInput) error {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	addresses := []domain.Address{
		{BuyerID: order.BuyerID, Role: domain.AddressRoleBilling, AddressFields: in.Billing},
		{BuyerID: order.BuyerID, Role: domain.AddressRoleShipping, AddressFields: in.Shipping},
	}

	return s.db.WithinTx(ctx, func(ctx context.Context, tx port.OrderTx) error {
		if err := tx.CreateOrder(ctx, order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		for _, r := range order.Reservations() {
			ok, err := tx.ReserveStock(ctx, r.ProductID, r.Quantity)
			if err != nil {
				return fmt.Errorf("reserve stock for %s: %w", r.ProductID, err)
			}
			if !ok {
				return &domain.InsufficientStockError{ProductID: r.ProductID, Requested: r.Quantity}
			}
		}

		for _, addr := range addresses {
			if _, err := tx.UpsertAddress(ctx, addr); err != nil {
				return fmt.Errorf("upsert %s address: %w", addr.Role, err)
			}
		}
		return nil
	})
}

// claim reserves the idempotency key for this request. It returns the stored
// order when an earlier request with the same key already completed.
func (s *OrderService) claim(ctx context.Context, log *zap.Logger, order domain.Order) (*domain.Order, string, error) {
	key := idempotencyKeyPrefix + order.BuyerID + ":" + order.IdempotencyKey

	claimed, value, err := s.cache.ClaimIdempotency(ctx, key, s.cfg.IdempotencyTTL)
	if err != nil {
		// The orders.idempotency_key unique index still rejects duplicates.
		log.Warn("Idempotency cache unavailable", zap.Error(err))
		existing, err := s.db.FindOrderByIdempotencyKey(ctx, order.BuyerID, order.IdempotencyKey)
		if err != nil {
			log.Warn("Idempotency lookup failed", zap.Error(err))
			return nil, "", ErrOrderCreateFailed
		}
		return existing, "", nil
	}

	if !claimed {
		if value == "" {
			return nil, "", ErrDuplicateRequest
		}
		existing, err := s.db.GetOrder(ctx, value)
		if err != nil || existing == nil || existing.BuyerID != order.BuyerID {
			return nil, "", ErrDuplicateRequest
		}
		return existing, "", nil
	}

	// The cache entry may have expired while the order row remains.
	existing, err := s.db.FindOrderByIdempotencyKey(ctx, order.BuyerID, order.IdempotencyKey)
	if err != nil {
		log.Warn("Idempotency lookup failed", zap.Error(err))
	}
	if existing != nil {
		if err := s.cache.CompleteIdempotency(ctx, key, existing.ID, s.cfg.IdempotencyTTL); err != nil {
			log.Warn("Failed to record idempotency result", zap.Error(err))
		}
		return existing, "", nil
	}
	return nil, key, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientStock):
		return reasonInsufficientStock
	case errors.Is(err, context.DeadlineExceeded):
		return reasonTimeout
	default:
		return reasonPersistence
	}
}

// GetOrder returns one of the caller's own orders. Admins may read any order.
func (s *OrderService) GetOrder(ctx context.Context, principal *domain.Principal, orderID string) (*domain.Order, error) {
	if principal == nil || principal.UserID == "" {
		return nil, ErrUnauthenticated
	}
	if !principal.IsBuyer() && !principal.IsAdmin() {
		return nil, ErrUnauthorized
	}

	order, err := s.db.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order == nil || (!principal.IsAdmin() && order.BuyerID != principal.UserID) {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

func (s *OrderService) ListOrders(ctx context.Context, principal *domain.Principal) ([]domain.Order, error) {
	if err := requireBuyer(principal); err != nil {
		return nil, err
	}
	orders, err := s.db.ListOrdersByBuyer(ctx, principal.UserID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

// GetAddresses returns the caller's saved billing and shipping entries.
func (s *OrderService) GetAddresses(ctx context.Context, principal *domain.Principal) ([]domain.Address, error) {
	if err := requireBuyer(principal); err != nil {
		return nil, err
	}
	addrs, err := s.db.GetAddresses(ctx, principal.UserID)
	if err != nil {
		return nil, fmt.Errorf("get addresses: %w", err)
	}
	return addrs, nil
}
