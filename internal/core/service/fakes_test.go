package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

// fakeStore serializes transactions behind one lock and restores a snapshot
// when the callback fails.
type fakeStore struct {
	mu        sync.Mutex
	stock     map[string]int
	orders    map[string]domain.Order
	addresses map[string]domain.Address
	products  map[string]domain.Product
	users     map[string]domain.User

	txCalls     int
	txDelay     time.Duration
	failUpsert  map[domain.AddressRole]error
	failCreate  error
	failReads   error
	nextAddrSeq int
}

func newFakeStore(stock map[string]int) *fakeStore {
	if stock == nil {
		stock = map[string]int{}
	}
	return &fakeStore{
		stock:     stock,
		orders:    map[string]domain.Order{},
		addresses: map[string]domain.Address{},
		products:  map[string]domain.Product{},
		users:     map[string]domain.User{},
	}
}

func (f *fakeStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.OrderTx) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txCalls++

	if f.txDelay > 0 {
		select {
		case <-time.After(f.txDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	stock := make(map[string]int, len(f.stock))
	for k, v := range f.stock {
		stock[k] = v
	}
	orders := make(map[string]domain.Order, len(f.orders))
	for k, v := range f.orders {
		orders[k] = v
	}
	addresses := make(map[string]domain.Address, len(f.addresses))
	for k, v := range f.addresses {
		addresses[k] = v
	}

	if err := fn(ctx, fakeTx{f}); err != nil {
		f.stock, f.orders, f.addresses = stock, orders, addresses
		return err
	}
	return nil
}

type fakeTx struct{ f *fakeStore }

func (t fakeTx) CreateOrder(_ context.Context, order domain.Order) error {
	if t.f.failCreate != nil {
		return t.f.failCreate
	}
	if order.IdempotencyKey != "" {
		for _, o := range t.f.orders {
			if o.BuyerID == order.BuyerID && o.IdempotencyKey == order.IdempotencyKey {
				return domain.ErrDuplicateOrder
			}
		}
	}
	t.f.orders[order.ID] = order
	return nil
}

func (t fakeTx) ReserveStock(_ context.Context, productID string, quantity int) (bool, error) {
	if quantity <= 0 {
		return false, fmt.Errorf("reserve stock: quantity must be positive, got %d", quantity)
	}
	q, ok := t.f.stock[productID]
	if !ok || q < quantity {
		return false, nil
	}
	t.f.stock[productID] = q - quantity
	return true, nil
}

func (t fakeTx) UpsertAddress(_ context.Context, addr domain.Address) (string, error) {
	if err := t.f.failUpsert[addr.Role]; err != nil {
		return "", err
	}
	key := addr.BuyerID + "|" + string(addr.Role)
	if existing, ok := t.f.addresses[key]; ok {
		addr.ID = existing.ID
	} else {
		t.f.nextAddrSeq++
		addr.ID = "addr-" + strconv.Itoa(t.f.nextAddrSeq)
	}
	t.f.addresses[key] = addr
	return addr.ID, nil
}

func (f *fakeStore) GetOrder(_ context.Context, orderID string) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReads != nil {
		return nil, f.failReads
	}
	o, ok := f.orders[orderID]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (f *fakeStore) ListOrdersByBuyer(_ context.Context, buyerID string) ([]domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Order
	for _, o := range f.orders {
		if o.BuyerID == buyerID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) FindOrderByIdempotencyKey(_ context.Context, buyerID, key string) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReads != nil {
		return nil, f.failReads
	}
	for _, o := range f.orders {
		if o.BuyerID == buyerID && o.IdempotencyKey == key {
			return &o, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetInventory(_ context.Context, productID string) (*domain.Inventory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.stock[productID]
	if !ok {
		return nil, nil
	}
	return &domain.Inventory{ProductID: productID, Quantity: q}, nil
}

func (f *fakeStore) GetAddresses(_ context.Context, buyerID string) ([]domain.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Address
	for _, a := range f.addresses {
		if a.BuyerID == buyerID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Role < out[j].Role })
	return out, nil
}

func (f *fakeStore) stockOf(productID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stock[productID]
}

func (f *fakeStore) orderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

func (f *fakeStore) addressCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.addresses)
}

// ProductRepository

func (f *fakeStore) GetProduct(_ context.Context, productID string) (*domain.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReads != nil {
		return nil, f.failReads
	}
	p, ok := f.products[productID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (f *fakeStore) ListProducts(_ context.Context, filter domain.ProductFilter) (domain.ProductPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReads != nil {
		return domain.ProductPage{}, f.failReads
	}
	var matched []domain.Product
	for _, p := range f.products {
		if filter.Category != "" && p.Category != filter.Category {
			continue
		}
		if filter.Query != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(filter.Query)) {
			continue
		}
		matched = append(matched, p)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Price.GreaterThan(matched[j].Price) })

	page := domain.ProductPage{Total: len(matched)}
	if filter.Offset < len(matched) {
		end := filter.Offset + filter.Limit
		if end > len(matched) {
			end = len(matched)
		}
		page.Products = matched[filter.Offset:end]
	}
	return page, nil
}

func (f *fakeStore) CreateProduct(_ context.Context, product domain.Product) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.products[product.ID] = product
	return nil
}

func (f *fakeStore) UpdateProduct(_ context.Context, product domain.Product) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[product.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Version != product.Version {
		return domain.ErrOptimisticLock
	}
	p.Name, p.Category, p.Price = product.Name, product.Category, product.Price
	p.Version++
	f.products[product.ID] = p
	return nil
}

func (f *fakeStore) DeleteProduct(_ context.Context, productID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.products[productID]; !ok {
		return false, nil
	}
	delete(f.products, productID)
	return true, nil
}

// UserRepository

func (f *fakeStore) CreateUser(_ context.Context, user domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == user.Email {
			return domain.ErrDuplicateEmail
		}
	}
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, nil
}

type fakeCache struct {
	mu          sync.Mutex
	claims      map[string]string
	products    map[string]domain.Product
	invalidated []string
	err         error
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		claims:   map[string]string{},
		products: map[string]domain.Product{},
	}
}

func (c *fakeCache) ClaimIdempotency(_ context.Context, key string, _ time.Duration) (bool, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return false, "", c.err
	}
	if v, ok := c.claims[key]; ok {
		return false, v, nil
	}
	c.claims[key] = ""
	return true, "", nil
}

func (c *fakeCache) CompleteIdempotency(_ context.Context, key, value string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.claims[key] = value
	return nil
}

func (c *fakeCache) ReleaseIdempotency(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	delete(c.claims, key)
	return nil
}

func (c *fakeCache) GetProduct(_ context.Context, productID string) (*domain.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	p, ok := c.products[productID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (c *fakeCache) SetProduct(_ context.Context, product domain.Product, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.products[product.ID] = product
	return nil
}

func (c *fakeCache) InvalidateProducts(_ context.Context, productIDs ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	for _, id := range productIDs {
		delete(c.products, id)
	}
	c.invalidated = append(c.invalidated, productIDs...)
	return nil
}

func (c *fakeCache) claimCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.claims)
}

type fakeTokens struct{}

func (fakeTokens) IssueToken(userID string, role domain.Role) (string, error) {
	return "token-" + userID + "-" + role.String(), nil
}

// plainHasher keeps tests fast; bcrypt is covered in infrastructure/auth.
type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", errors.New("empty password")
	}
	return "hashed:" + password, nil
}

func (plainHasher) Verify(password, hash string) bool {
	return hash == "hashed:"+password
}

func newObservedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

func newTestMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
