package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"materialpos/backend/internal/domain"
	"materialpos/backend/internal/ledger"
	"materialpos/backend/internal/snapshot"
	"materialpos/backend/internal/store"
)

type mapPersister struct {
	mu    sync.Mutex
	blobs map[string][]byte
	saves map[string]int
	fail  bool
}

func newMapPersister() *mapPersister {
	return &mapPersister{blobs: map[string][]byte{}, saves: map[string]int{}}
}

func (p *mapPersister) Save(_ context.Context, key string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("redis down")
	}
	p.blobs[key] = append([]byte(nil), payload...)
	p.saves[key]++
	return nil
}

func (p *mapPersister) Load(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	payload, ok := p.blobs[key]
	return payload, ok, nil
}

var cashier = domain.Actor{Username: "cashier", Name: "Front Cashier", Role: domain.RoleCashier, Level: 1}

func checkout(id string, productID string, qty int, received int64) store.CheckoutCommand {
	return store.CheckoutCommand{
		Command: store.Command{Actor: cashier, At: time.Now().UTC()},
		SaleID:  id,
		Request: domain.CheckoutRequest{
			Items:          []domain.CheckoutItem{{ProductID: productID, Quantity: qty}},
			PaymentMethod:  domain.MethodCash,
			ReceivedAmount: received,
		},
	}
}

func TestCreateSalePersistsTouchedCollections(t *testing.T) {
	p := newMapPersister()
	s := NewSeeded(WithPersister(p))
	ctx := context.Background()

	sale, dup, err := s.CreateSale(ctx, checkout("sale-1", "prd-brick-red", 10, 12000))
	require.NoError(t, err)
	assert.False(t, dup)
	assert.Equal(t, domain.PaymentStatusPaid, sale.PaymentStatus)

	for _, key := range []string{snapshot.KeyProducts, snapshot.KeyStockLogs, snapshot.KeyTransactions, snapshot.KeySales} {
		assert.Equal(t, 1, p.saves[key], key)
	}
	assert.Zero(t, p.saves[snapshot.KeyCustomers])

	restored := New(WithPersister(p))
	require.NoError(t, restored.Hydrate(ctx))
	got, err := restored.GetSale(ctx, "sale-1")
	require.NoError(t, err)
	assert.Equal(t, sale.Total, got.Total)
	brick, err := restored.GetProduct(ctx, "prd-brick-red")
	require.NoError(t, err)
	assert.Equal(t, 4990, brick.Stock)
}

func TestPersistFailureDoesNotUndoCommand(t *testing.T) {
	p := newMapPersister()
	p.fail = true
	s := NewSeeded(WithPersister(p))

	_, _, err := s.CreateSale(context.Background(), checkout("sale-1", "prd-brick-red", 1, 1200))
	require.NoError(t, err)
	product, err := s.GetProduct(context.Background(), "prd-brick-red")
	require.NoError(t, err)
	assert.Equal(t, 4999, product.Stock)
}

type blockingPersister struct {
	*mapPersister
	entered chan struct{}
	release chan struct{}
}

func (p *blockingPersister) Save(ctx context.Context, key string, payload []byte) error {
	select {
	case p.entered <- struct{}{}:
	default:
	}
	<-p.release
	return p.mapPersister.Save(ctx, key, payload)
}

func TestSlowPersisterDoesNotBlockReaders(t *testing.T) {
	p := &blockingPersister{
		mapPersister: newMapPersister(),
		entered:      make(chan struct{}, 1),
		release:      make(chan struct{}),
	}
	s := NewSeeded(WithPersister(p))
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, _, err := s.CreateSale(ctx, checkout("sale-1", "prd-brick-red", 1, 1200))
		done <- err
	}()
	<-p.entered

	read := make(chan int, 1)
	go func() {
		product, err := s.GetProduct(ctx, "prd-brick-red")
		if err == nil {
			read <- product.Stock
		}
	}()
	select {
	case stock := <-read:
		assert.Equal(t, 4999, stock)
	case <-time.After(2 * time.Second):
		t.Fatal("read blocked behind a pending save")
	}

	close(p.release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, p.saves[snapshot.KeySales])
}

func TestSaveSkipsOlderPayloads(t *testing.T) {
	p := newMapPersister()
	s := New(WithPersister(p))
	ctx := context.Background()

	s.save(ctx, []pendingSave{{key: snapshot.KeySales, version: 2, payload: []byte(`["new"]`)}})
	s.save(ctx, []pendingSave{{key: snapshot.KeySales, version: 1, payload: []byte(`["old"]`)}})

	assert.Equal(t, `["new"]`, string(p.blobs[snapshot.KeySales]))
	assert.Equal(t, 1, p.saves[snapshot.KeySales])
}

func TestCreateSaleIdempotencyKey(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	cmd := checkout("sale-1", "prd-rebar-10", 2, 136000)
	cmd.Request.IdempotencyKey = "till-1-0001"

	first, dup, err := s.CreateSale(ctx, cmd)
	require.NoError(t, err)
	assert.False(t, dup)

	cmd.SaleID = "sale-2"
	second, dup, err := s.CreateSale(ctx, cmd)
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, first.ID, second.ID)

	rebar, _ := s.GetProduct(ctx, "prd-rebar-10")
	assert.Equal(t, 148, rebar.Stock)
}

func TestConcurrentCheckoutsNeverOversell(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	sand, err := s.GetProduct(ctx, "prd-sand-m3")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, rejected := 0, 0
	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := s.CreateSale(ctx, checkout(fmt.Sprintf("sale-%d", i), "prd-sand-m3", 1, sand.Price))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if errors.Is(err, store.ErrInsufficientStock) {
				rejected++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, sand.Stock, succeeded)
	assert.Equal(t, 60-sand.Stock, rejected)
	after, _ := s.GetProduct(ctx, "prd-sand-m3")
	assert.Equal(t, 0, after.Stock)

	logs, err := s.ListStockLogs(ctx, "prd-sand-m3", 0)
	require.NoError(t, err)
	assert.Equal(t, after.Stock, ledger.ReplayStock(logs, "prd-sand-m3"))
}

func TestDeleteReferencedEntitiesRejected(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	cmd := checkout("sale-1", "prd-paint-5l", 1, 185000)
	cmd.Request.CustomerID = "cus-vip-1"
	_, _, err := s.CreateSale(ctx, cmd)
	require.NoError(t, err)

	assert.ErrorIs(t, s.DeleteProduct(ctx, "prd-paint-5l"), store.ErrInUse)
	assert.ErrorIs(t, s.DeleteCustomer(ctx, "cus-vip-1"), store.ErrInUse)
	assert.NoError(t, s.DeleteProduct(ctx, "prd-pvc-3in"))
	assert.ErrorIs(t, s.DeleteProduct(ctx, "prd-pvc-3in"), store.ErrNotFound)
}

func TestUpdateProductKeepsStock(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	product, err := s.GetProduct(ctx, "prd-cement-50")
	require.NoError(t, err)

	product.Stock = 999
	product.Price = 97000
	updated, err := s.UpdateProduct(ctx, *product)
	require.NoError(t, err)
	assert.Equal(t, 200, updated.Stock)
	assert.Equal(t, int64(97000), updated.Price)
}

func TestRestoreReplacesState(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	_, _, err := s.CreateSale(ctx, checkout("sale-1", "prd-brick-red", 1, 1200))
	require.NoError(t, err)

	snap := domain.Snapshot{
		Products: []domain.Product{{ID: "prd-x", Name: "Gravel", Unit: "m3", Price: 10, Stock: 0}},
	}
	require.NoError(t, s.Restore(ctx, snap))

	products, _ := s.ListProducts(ctx)
	require.Len(t, products, 1)
	assert.Equal(t, "prd-x", products[0].ID)
	_, err = s.GetSale(ctx, "sale-1")
	assert.ErrorIs(t, err, store.ErrSaleNotFound)
	users, _ := s.ListUsers(ctx)
	assert.Len(t, users, 3, "staff accounts survive a restore")
}
