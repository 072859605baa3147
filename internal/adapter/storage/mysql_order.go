package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/storefront/internal/core/domain"
)

type mysqlOrderTx struct {
	tx *sql.Tx
}

func (t *mysqlOrderTx) CreateOrder(ctx context.Context, order domain.Order) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO orders (id, buyer_id, delivery_charge, discount_code, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		order.ID, order.BuyerID, order.DeliveryCharge, order.DiscountCode,
		nullString(order.IdempotencyKey), order.CreatedAt,
	)
	if err != nil {
		if isDuplicateEntry(err) {
			return domain.ErrDuplicateOrder
		}
		return fmt.Errorf("insert order: %w", err)
	}

	placeholders := make([]string, len(order.Items))
	args := make([]any, 0, len(order.Items)*4)
	for i, item := range order.Items {
		placeholders[i] = "(?, ?, ?, ?)"
		args = append(args, order.ID, i, item.ProductID, item.Quantity)
	}

	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO order_items (order_id, position, product_id, quantity) VALUES `+strings.Join(placeholders, ", "),
		args...,
	)
	if err != nil {
		return fmt.Errorf("insert order items: %w", err)
	}
	return nil
}

// ReserveStock is a single conditional update; the row lock taken by UPDATE
// makes the check and the decrement one step.
func (t *mysqlOrderTx) ReserveStock(ctx context.Context, productID string, quantity int) (bool, error) {
	if quantity <= 0 {
		return false, fmt.Errorf("reserve stock: quantity must be positive, got %d", quantity)
	}
	result, err := t.tx.ExecContext(ctx, `
		UPDATE products
		SET quantity = quantity - ?, version = version + 1, updated_at = CURRENT_TIMESTAMP(6)
		WHERE id = ? AND quantity >= ?`,
		quantity, productID, quantity,
	)
	if err != nil {
		return false, fmt.Errorf("update stock: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update stock: %w", err)
	}
	return rows == 1, nil
}

func (t *mysqlOrderTx) UpsertAddress(ctx context.Context, addr domain.Address) (string, error) {
	if !addr.Role.Valid() {
		return "", fmt.Errorf("upsert address: unknown role %q", addr.Role)
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO addresses (id, buyer_id, role, full_name, address, city, postal_code, country, contact, email, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			full_name = VALUES(full_name),
			address = VALUES(address),
			city = VALUES(city),
			postal_code = VALUES(postal_code),
			country = VALUES(country),
			contact = VALUES(contact),
			email = VALUES(email),
			updated_at = VALUES(updated_at)`,
		uuid.New().String(), addr.BuyerID, string(addr.Role),
		addr.FullName, addr.Address, addr.City, addr.PostalCode, addr.Country, addr.Contact, addr.Email,
		time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("upsert address: %w", err)
	}

	var id string
	err = t.tx.QueryRowContext(ctx,
		`SELECT id FROM addresses WHERE buyer_id = ? AND role = ?`,
		addr.BuyerID, string(addr.Role),
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("read address id: %w", err)
	}
	return id, nil
}

const orderSelect = `
	SELECT o.id, o.buyer_id, o.delivery_charge, o.discount_code, o.idempotency_key, o.created_at,
		i.product_id, i.quantity
	FROM orders o
	JOIN order_items i ON i.order_id = o.id`

func (m *MySQLAdapter) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	orders, err := m.queryOrders(ctx, orderSelect+` WHERE o.id = ? ORDER BY i.position`, orderID)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, nil
	}
	return &orders[0], nil
}

func (m *MySQLAdapter) ListOrdersByBuyer(ctx context.Context, buyerID string) ([]domain.Order, error) {
	return m.queryOrders(ctx,
		orderSelect+` WHERE o.buyer_id = ? ORDER BY o.created_at DESC, o.id, i.position`,
		buyerID,
	)
}

func (m *MySQLAdapter) FindOrderByIdempotencyKey(ctx context.Context, buyerID, key string) (*domain.Order, error) {
	orders, err := m.queryOrders(ctx,
		orderSelect+` WHERE o.buyer_id = ? AND o.idempotency_key = ? ORDER BY i.position`,
		buyerID, key,
	)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, nil
	}
	return &orders[0], nil
}

// queryOrders folds joined order/item rows into orders, keeping row order.
func (m *MySQLAdapter) queryOrders(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var (
			o    domain.Order
			key  sql.NullString
			item domain.LineItem
		)
		if err := rows.Scan(&o.ID, &o.BuyerID, &o.DeliveryCharge, &o.DiscountCode, &key, &o.CreatedAt,
			&item.ProductID, &item.Quantity); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}

		if n := len(orders); n > 0 && orders[n-1].ID == o.ID {
			orders[n-1].Items = append(orders[n-1].Items, item)
			continue
		}
		o.IdempotencyKey = key.String
		o.Items = []domain.LineItem{item}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return orders, nil
}

func (m *MySQLAdapter) GetInventory(ctx context.Context, productID string) (*domain.Inventory, error) {
	var inv domain.Inventory
	err := m.db.QueryRowContext(ctx, `
		SELECT id, quantity, version, updated_at
		FROM products WHERE id = ?`, productID,
	).Scan(&inv.ProductID, &inv.Quantity, &inv.Version, &inv.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query inventory: %w", err)
	}
	return &inv, nil
}

func (m *MySQLAdapter) GetAddresses(ctx context.Context, buyerID string) ([]domain.Address, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, buyer_id, role, full_name, address, city, postal_code, country, contact, email, updated_at
		FROM addresses WHERE buyer_id = ? ORDER BY role`, buyerID,
	)
	if err != nil {
		return nil, fmt.Errorf("query addresses: %w", err)
	}
	defer rows.Close()

	var addrs []domain.Address
	for rows.Next() {
		var (
			a    domain.Address
			role string
		)
		if err := rows.Scan(&a.ID, &a.BuyerID, &role, &a.FullName, &a.Address, &a.City, &a.PostalCode,
			&a.Country, &a.Contact, &a.Email, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan address: %w", err)
		}
		a.Role = domain.AddressRole(role)
		addrs = append(addrs, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate addresses: %w", err)
	}
	return addrs, nil
}
