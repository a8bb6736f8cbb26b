package checkout

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metation/quickpay-checkout/quickpay"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "checkout.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestOrder(t *testing.T, store *SQLiteStore) *Order {
	t.Helper()
	order := &Order{
		Key:      "order-key",
		Status:   1,
		Total:    100.00,
		Currency: "DKK",
	}
	require.NoError(t, store.CreateOrder(context.Background(), order))
	return order
}

func TestOrderRoundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	order := newTestOrder(t, store)
	require.NotZero(t, order.ID)

	got, err := store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.Key, got.Key)
	assert.Equal(t, 1, got.Status)
	assert.Equal(t, 100.00, got.Total)
	assert.Empty(t, got.TransactionID)

	got.Status = 2
	got.TransactionID = "1234"
	got.HasSubscription = true
	require.NoError(t, store.SaveOrder(ctx, got))

	again, err := store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Status)
	assert.Equal(t, "1234", again.TransactionID)
	assert.True(t, again.HasSubscription)
}

func TestGetOrderUnknown(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetOrder(context.Background(), 9999)
	assert.ErrorIs(t, err, ErrUnknownOrder)
}

func TestAttemptRoundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	order := newTestOrder(t, store)

	attempt := &PaymentAttempt{
		OrderID:         order.ID,
		RequestedAmount: 10000,
		Currency:        "DKK",
		CardLast4:       "4242",
		State:           quickpay.StateNew,
		TestMode:        true,
	}
	require.NoError(t, store.CreateAttempt(ctx, attempt))
	require.NotZero(t, attempt.ID)

	got, err := store.LatestAttempt(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, attempt.ID, got.ID)
	assert.Equal(t, int64(10000), got.RequestedAmount)
	assert.Nil(t, got.AcceptedAt)
	assert.Nil(t, got.CapturedAt)

	now := time.Now().UTC().Truncate(time.Second)
	got.Accepted = true
	got.AcceptedAt = &now
	got.State = quickpay.StatePending
	got.GatewayID = 1234
	require.NoError(t, store.SaveAttempt(ctx, got))

	again, err := store.LatestAttempt(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, again.AcceptedAt)
	assert.True(t, again.AcceptedAt.Equal(now))
	assert.Equal(t, 1234, again.GatewayID)
}

func TestLatestAttemptReturnsNewest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	order := newTestOrder(t, store)

	first := &PaymentAttempt{OrderID: order.ID, RequestedAmount: 10000, Currency: "DKK"}
	require.NoError(t, store.CreateAttempt(ctx, first))
	second := &PaymentAttempt{OrderID: order.ID, RequestedAmount: 20000, Currency: "DKK"}
	require.NoError(t, store.CreateAttempt(ctx, second))

	got, err := store.LatestAttempt(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
}

func TestLatestAttemptNone(t *testing.T) {
	store := newTestStore(t)
	order := newTestOrder(t, store)

	got, err := store.LatestAttempt(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestHasAcceptedAttempt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	order := newTestOrder(t, store)

	ok, err := store.HasAcceptedAttempt(ctx, order.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	attempt := &PaymentAttempt{OrderID: order.ID, RequestedAmount: 10000, Currency: "DKK", Accepted: true}
	require.NoError(t, store.CreateAttempt(ctx, attempt))

	ok, err = store.HasAcceptedAttempt(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDeleteAttempt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	order := newTestOrder(t, store)

	attempt := &PaymentAttempt{OrderID: order.ID, RequestedAmount: 10000, Currency: "DKK"}
	require.NoError(t, store.CreateAttempt(ctx, attempt))
	require.NoError(t, store.DeleteAttempt(ctx, attempt.ID))

	got, err := store.LatestAttempt(ctx, order.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestWithOrderLockUnknownOrder(t *testing.T) {
	store := newTestStore(t)

	err := store.WithOrderLock(context.Background(), 9999, func(tx Tx, order *Order) error {
		t.Fatal("fn must not run for unknown orders")
		return nil
	})
	assert.ErrorIs(t, err, ErrUnknownOrder)
}

func TestWithOrderLockRollsBackOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	order := newTestOrder(t, store)

	sentinel := assert.AnError
	err := store.WithOrderLock(ctx, order.ID, func(tx Tx, o *Order) error {
		o.Status = 2
		if err := tx.SaveOrder(ctx, o); err != nil {
			return err
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	got, err := store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Status, "aborted transaction must not leak writes")
}

func TestWithOrderLockSerializes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	order := newTestOrder(t, store)

	// Each goroutine reads the status under the lock and writes it back
	// incremented. Lost updates would leave the count short.
	const workers = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.WithOrderLock(ctx, order.ID, func(tx Tx, o *Order) error {
				o.Status++
				return tx.SaveOrder(ctx, o)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 1+workers, got.Status)
}
