package domain

import (
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Limits of the orders and order_items columns.
const (
	MaxItemQuantity    = math.MaxInt32
	MaxDiscountCodeLen = 64
)

// maxDeliveryCharge is the first value DECIMAL(12,2) cannot hold.
var maxDeliveryCharge = decimal.New(1, 10)

type LineItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Order is immutable once persisted.
type Order struct {
	ID             string
	BuyerID        string
	Items          []LineItem
	DeliveryCharge decimal.Decimal
	DiscountCode   string
	IdempotencyKey string
	CreatedAt      time.Time
}

// NewOrder validates the line items and stamps a fresh id and creation time.
// Delivery charge and discount code are stored as given; they are only
// rejected when the value cannot be stored without truncation.
func NewOrder(buyerID string, items []LineItem, deliveryCharge decimal.Decimal, discountCode string) (Order, error) {
	if err := ValidateLineItems(items); err != nil {
		return Order{}, err
	}
	if strings.TrimSpace(buyerID) == "" {
		return Order{}, NewValidationError("buyer_id", "is required")
	}
	if !deliveryCharge.Equal(deliveryCharge.Truncate(2)) {
		return Order{}, NewValidationError("delivery_charge", "must have at most 2 decimal places")
	}
	if deliveryCharge.Abs().GreaterThanOrEqual(maxDeliveryCharge) {
		return Order{}, NewValidationError("delivery_charge", "must be less than "+maxDeliveryCharge.String())
	}
	if utf8.RuneCountInString(discountCode) > MaxDiscountCodeLen {
		return Order{}, NewValidationError("discount_code", "must be at most "+itoa(MaxDiscountCodeLen)+" characters")
	}

	copied := make([]LineItem, len(items))
	copy(copied, items)

	return Order{
		ID:             uuid.New().String(),
		BuyerID:        buyerID,
		Items:          copied,
		DeliveryCharge: deliveryCharge,
		DiscountCode:   discountCode,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// ValidateLineItems also bounds the per-product total, so Reservations never
// yields a quantity outside 1..MaxItemQuantity.
func ValidateLineItems(items []LineItem) error {
	if len(items) == 0 {
		return NewValidationError("order", "must contain at least one line item")
	}
	totals := make(map[string]int64, len(items))
	for i, item := range items {
		if strings.TrimSpace(item.ProductID) == "" {
			return NewValidationError(lineItemField(i, "product_id"), "is required")
		}
		if item.Quantity <= 0 {
			return NewValidationError(lineItemField(i, "quantity"), "must be greater than zero")
		}
		if item.Quantity > MaxItemQuantity {
			return NewValidationError(lineItemField(i, "quantity"), "must be at most "+itoa(MaxItemQuantity))
		}
		totals[item.ProductID] += int64(item.Quantity)
		if totals[item.ProductID] > MaxItemQuantity {
			return NewValidationError(lineItemField(i, "quantity"), "brings the total for "+item.ProductID+" above "+itoa(MaxItemQuantity))
		}
	}
	return nil
}

// Reservations merges line items per product and returns them sorted by
// product id, so every order locks inventory rows in the same order.
func (o Order) Reservations() []LineItem {
	totals := make(map[string]int, len(o.Items))
	for _, item := range o.Items {
		totals[item.ProductID] += item.Quantity
	}

	out := make([]LineItem, 0, len(totals))
	for productID, qty := range totals {
		out = append(out, LineItem{ProductID: productID, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

func (o Order) ProductIDs() []string {
	res := o.Reservations()
	ids := make([]string, len(res))
	for i, r := range res {
		ids[i] = r.ProductID
	}
	return ids
}

func lineItemField(i int, name string) string {
	return "order[" + itoa(i) + "]." + name
}
