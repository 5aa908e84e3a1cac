package checkout_test

import (
	"context"
	"errors"
	"sync"

	"github.com/stretchr/testify/mock"

	"selcom-gateway/internal/checkout"
	"selcom-gateway/internal/model"
	"selcom-gateway/internal/payload"
)

var errOrderNotFound = errors.New("order not found")

type memStore struct {
	mu      sync.Mutex
	orders  map[int64]*model.Order
	notes   map[int64][]string
	applied int
	// refs lists every completion attempt in arrival order.
	refs []string
}

func newMemStore(orders ...*model.Order) *memStore {
	s := &memStore{orders: make(map[int64]*model.Order), notes: make(map[int64][]string)}
	for _, o := range orders {
		s.orders[o.ID] = o
	}
	return s
}

func (s *memStore) GetOrder(_ context.Context, id int64) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, errOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *memStore) MarkPaid(_ context.Context, id int64, ref string) (bool, error) {
	return s.markPaid(id, ref, model.OrderStatus.Payable)
}

func (s *memStore) MarkPaidIfPending(_ context.Context, id int64, ref string) (bool, error) {
	return s.markPaid(id, ref, func(status model.OrderStatus) bool {
		return status == model.OrderStatusPending
	})
}

func (s *memStore) markPaid(id int64, ref string, allowed func(model.OrderStatus) bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return false, errOrderNotFound
	}
	s.refs = append(s.refs, ref)
	if !allowed(o.Status) {
		return false, nil
	}
	o.Status = model.OrderStatusPaid
	o.TransactionID = ref
	s.applied++
	return true, nil
}

func (s *memStore) AddNote(_ context.Context, id int64, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes[id] = append(s.notes[id], note)
	return nil
}

func (s *memStore) firstRef() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.refs) == 0 {
		return ""
	}
	return s.refs[0]
}

func (s *memStore) orderNotes(id int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.notes[id]...)
}

func (s *memStore) order(id int64) model.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.orders[id]
}

type fakeInventory struct {
	mu           sync.Mutex
	emptied      []int64
	stockReduced []int64
}

func (f *fakeInventory) EmptyCart(_ context.Context, customerID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emptied = append(f.emptied, customerID)
	return nil
}

func (f *fakeInventory) ReduceStockLevels(_ context.Context, orderID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stockReduced = append(f.stockReduced, orderID)
	return nil
}

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Send(ctx context.Context, endpoint string, p *payload.Payload) model.GatewayResponse {
	args := m.Called(ctx, endpoint, p)
	return args.Get(0).(model.GatewayResponse)
}

type providerFunc func(ctx context.Context, endpoint string, p *payload.Payload) model.GatewayResponse

func (f providerFunc) Send(ctx context.Context, endpoint string, p *payload.Payload) model.GatewayResponse {
	return f(ctx, endpoint, p)
}

type memAttempts struct {
	mu       sync.Mutex
	attempts []*checkout.Attempt
}

func (m *memAttempts) SaveAttempt(_ context.Context, a *checkout.Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, a)
	return nil
}

func (m *memAttempts) states() []checkout.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	states := make([]checkout.State, len(m.attempts))
	for i, a := range m.attempts {
		states[i] = a.State
	}
	return states
}

type staticWebhooks struct{}

func (staticWebhooks) Handle(_ context.Context, _ []byte) model.WebhookAck {
	return model.NewWebhookAck("42")
}
