package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/cache"
	"github.com/hanko-field/commerce/internal/repositories"
)

type repositoryErrorStub struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *repositoryErrorStub) Error() string {
	return "repository error"
}

func (e *repositoryErrorStub) IsNotFound() bool {
	return e.notFound
}

func (e *repositoryErrorStub) IsConflict() bool {
	return e.conflict
}

func (e *repositoryErrorStub) IsUnavailable() bool {
	return e.unavailable
}

func notFoundErr() error {
	return &repositoryErrorStub{notFound: true}
}

type txMarker struct{}

func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txMarker{}).(bool)
	return v
}

// recordingUnitOfWork marks the context passed to fn so repositories can assert transactional use.
type recordingUnitOfWork struct {
	calls int
	err   error
}

func (u *recordingUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	u.calls++
	if u.err != nil {
		return u.err
	}
	return fn(context.WithValue(ctx, txMarker{}, true))
}

// memoryCartLines is an in-memory CartLineRepository keyed by line id.
type memoryCartLines struct {
	mu       sync.Mutex
	nextID   int64
	lines    map[int64]domain.CartLine
	txWrites int
	writes   int
	listErr  error
	listHits int
}

func newMemoryCartLines(lines ...domain.CartLine) *memoryCartLines {
	m := &memoryCartLines{lines: make(map[int64]domain.CartLine)}
	for _, line := range lines {
		if line.ID > m.nextID {
			m.nextID = line.ID
		}
		m.lines[line.ID] = line
	}
	return m
}

func (m *memoryCartLines) recordWrite(ctx context.Context) {
	m.writes++
	if inTx(ctx) {
		m.txWrites++
	}
}

func (m *memoryCartLines) AddOrIncrement(ctx context.Context, key domain.CartLineKey, quantity int, now time.Time) (domain.CartLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordWrite(ctx)
	for id, line := range m.lines {
		if line.Key().Equal(key) {
			line.Quantity += quantity
			line.UpdatedAt = now
			m.lines[id] = line
			return line, nil
		}
	}
	m.nextID++
	line := domain.CartLine{
		ID:        m.nextID,
		UserID:    key.UserID,
		ProductID: key.ProductID,
		Size:      key.Size,
		Price:     key.Price,
		Quantity:  quantity,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.lines[line.ID] = line
	return line, nil
}

func (m *memoryCartLines) FindByID(_ context.Context, lineID int64) (domain.CartLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	line, ok := m.lines[lineID]
	if !ok {
		return domain.CartLine{}, notFoundErr()
	}
	return line, nil
}

func (m *memoryCartLines) FindByKey(_ context.Context, key domain.CartLineKey) (domain.CartLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, line := range m.lines {
		if line.Key().Equal(key) {
			return line, nil
		}
	}
	return domain.CartLine{}, notFoundErr()
}

func (m *memoryCartLines) ListByUser(_ context.Context, userID int64) ([]domain.CartLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listHits++
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []domain.CartLine
	for _, line := range m.lines {
		if line.UserID == userID {
			out = append(out, line)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryCartLines) UpdateQuantity(ctx context.Context, lineID int64, quantity int, now time.Time) (domain.CartLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordWrite(ctx)
	line, ok := m.lines[lineID]
	if !ok {
		return domain.CartLine{}, notFoundErr()
	}
	line.Quantity = quantity
	line.UpdatedAt = now
	m.lines[lineID] = line
	return line, nil
}

func (m *memoryCartLines) Delete(ctx context.Context, lineID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordWrite(ctx)
	if _, ok := m.lines[lineID]; !ok {
		return notFoundErr()
	}
	delete(m.lines, lineID)
	return nil
}

func (m *memoryCartLines) DeleteByUser(ctx context.Context, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordWrite(ctx)
	var n int64
	for id, line := range m.lines {
		if line.UserID == userID {
			delete(m.lines, id)
			n++
		}
	}
	return n, nil
}

func (m *memoryCartLines) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (repositories.CartPurgeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordWrite(ctx)
	var result repositories.CartPurgeResult
	seen := map[int64]bool{}
	for id, line := range m.lines {
		if line.CreatedAt.Before(cutoff) {
			delete(m.lines, id)
			result.Deleted++
			if !seen[line.UserID] {
				seen[line.UserID] = true
				result.UserIDs = append(result.UserIDs, line.UserID)
			}
		}
	}
	sort.Slice(result.UserIDs, func(i, j int) bool { return result.UserIDs[i] < result.UserIDs[j] })
	return result, nil
}

type stubProductRepository struct {
	findFunc func(ctx context.Context, productID int64) (domain.Product, error)
}

func (s *stubProductRepository) FindByID(ctx context.Context, productID int64) (domain.Product, error) {
	if s.findFunc != nil {
		return s.findFunc(ctx, productID)
	}
	return domain.Product{}, notFoundErr()
}

func productCatalog(products ...domain.Product) *stubProductRepository {
	index := make(map[int64]domain.Product, len(products))
	for _, p := range products {
		index[p.ID] = p
	}
	return &stubProductRepository{
		findFunc: func(_ context.Context, productID int64) (domain.Product, error) {
			p, ok := index[productID]
			if !ok {
				return domain.Product{}, notFoundErr()
			}
			return p, nil
		},
	}
}

type stubUserRepository struct {
	findFunc func(ctx context.Context, userID int64) (domain.User, error)
}

func (s *stubUserRepository) FindByID(ctx context.Context, userID int64) (domain.User, error) {
	if s.findFunc != nil {
		return s.findFunc(ctx, userID)
	}
	return domain.User{}, notFoundErr()
}

type stubAddressRepository struct {
	findFunc func(ctx context.Context, addressID int64) (domain.Address, error)
}

func (s *stubAddressRepository) FindByID(ctx context.Context, addressID int64) (domain.Address, error) {
	if s.findFunc != nil {
		return s.findFunc(ctx, addressID)
	}
	return domain.Address{}, notFoundErr()
}

// memoryOrders is an in-memory OrderRepository that records whether writes happened inside a transaction.
type memoryOrders struct {
	mu          sync.Mutex
	nextID      int64
	nextLineID  int64
	orders      map[int64]domain.Order
	writes      int
	txWrites    int
	insertErr   error
	lineErr     error
	lastFilter  repositories.OrderListFilter
	purgeCutoff time.Time
	purgeStatus domain.OrderStatus
	purgeErr    error
	// racedStatus, when set, is written to the stored order right after FindByID returns it.
	racedStatus domain.OrderStatus
}

func newMemoryOrders(orders ...domain.Order) *memoryOrders {
	m := &memoryOrders{orders: make(map[int64]domain.Order)}
	for _, o := range orders {
		if o.ID > m.nextID {
			m.nextID = o.ID
		}
		m.orders[o.ID] = o
	}
	return m
}

func (m *memoryOrders) recordWrite(ctx context.Context) {
	m.writes++
	if inTx(ctx) {
		m.txWrites++
	}
}

func (m *memoryOrders) Insert(ctx context.Context, order domain.Order) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordWrite(ctx)
	if m.insertErr != nil {
		return domain.Order{}, m.insertErr
	}
	m.nextID++
	order.ID = m.nextID
	order.Lines = nil
	m.orders[order.ID] = order
	return order, nil
}

func (m *memoryOrders) InsertLine(ctx context.Context, line domain.OrderLine) (domain.OrderLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordWrite(ctx)
	if m.lineErr != nil {
		return domain.OrderLine{}, m.lineErr
	}
	order, ok := m.orders[line.OrderID]
	if !ok {
		return domain.OrderLine{}, notFoundErr()
	}
	m.nextLineID++
	line.ID = m.nextLineID
	order.Lines = append(order.Lines, line)
	m.orders[order.ID] = order
	return line, nil
}

func (m *memoryOrders) UpdateTotals(ctx context.Context, order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordWrite(ctx)
	stored, ok := m.orders[order.ID]
	if !ok {
		return notFoundErr()
	}
	stored.Subtotal = order.Subtotal
	stored.Tax = order.Tax
	stored.ShippingCost = order.ShippingCost
	stored.TotalAmount = order.TotalAmount
	stored.Status = order.Status
	m.orders[order.ID] = stored
	return nil
}

func (m *memoryOrders) UpdateLifecycle(ctx context.Context, orderID int64, from, to domain.OrderStatus, notes string, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordWrite(ctx)
	stored, ok := m.orders[orderID]
	if !ok {
		return notFoundErr()
	}
	if stored.Status != from {
		return repositories.ErrStatusChanged
	}
	stored.Status = to
	stored.Notes = notes
	stored.UpdatedAt = updatedAt
	m.orders[orderID] = stored
	return nil
}

func (m *memoryOrders) FindByID(_ context.Context, orderID int64) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return domain.Order{}, notFoundErr()
	}
	order.Lines = append([]domain.OrderLine(nil), order.Lines...)
	if m.racedStatus != "" {
		stored := m.orders[orderID]
		stored.Status = m.racedStatus
		m.orders[orderID] = stored
	}
	return order, nil
}

func (m *memoryOrders) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFilter = filter
	var items []domain.Order
	for _, order := range m.orders {
		if filter.UserID != nil && order.UserID != *filter.UserID {
			continue
		}
		items = append(items, order)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID > items[j].ID })
	return domain.CursorPage[domain.Order]{Items: items}, nil
}

func (m *memoryOrders) Delete(ctx context.Context, orderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordWrite(ctx)
	if _, ok := m.orders[orderID]; !ok {
		return notFoundErr()
	}
	delete(m.orders, orderID)
	return nil
}

func (m *memoryOrders) DeleteByStatusBefore(ctx context.Context, status domain.OrderStatus, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordWrite(ctx)
	m.purgeStatus = status
	m.purgeCutoff = cutoff
	if m.purgeErr != nil {
		return 0, m.purgeErr
	}
	var n int64
	for id, order := range m.orders {
		if order.Status == status && order.OrderDate.Before(cutoff) {
			delete(m.orders, id)
			n++
		}
	}
	return n, nil
}

type stubCartCache struct {
	mu          sync.Mutex
	entries     map[int64][]domain.CartLine
	generations map[int64]int64
	invalidated []int64
	getErr      error
	staleSets   int
}

func newStubCartCache() *stubCartCache {
	return &stubCartCache{entries: make(map[int64][]domain.CartLine), generations: make(map[int64]int64)}
}

func (c *stubCartCache) Get(_ context.Context, userID int64) ([]domain.CartLine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	lines, ok := c.entries[userID]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return lines, nil
}

func (c *stubCartCache) Generation(_ context.Context, userID int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[userID], nil
}

func (c *stubCartCache) Set(_ context.Context, userID int64, generation int64, lines []domain.CartLine) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[userID] != generation {
		c.staleSets++
		return cache.ErrStaleGeneration
	}
	c.entries[userID] = lines
	return nil
}

func (c *stubCartCache) Invalidate(_ context.Context, userIDs ...int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range userIDs {
		delete(c.entries, id)
		c.generations[id]++
		c.invalidated = append(c.invalidated, id)
	}
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []OrderEvent
	err    error
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, event OrderEvent) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	if p.err != nil {
		return "", p.err
	}
	return "msg-1", nil
}

type loggedEvent struct {
	name   string
	fields map[string]any
}

type logRecorder struct {
	mu     sync.Mutex
	events []loggedEvent
}

func (l *logRecorder) log(_ context.Context, event string, fields map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, loggedEvent{name: event, fields: fields})
}

func (l *logRecorder) find(name string) (loggedEvent, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e.name == name {
			return e, true
		}
	}
	return loggedEvent{}, false
}

var errBoom = errors.New("boom")
