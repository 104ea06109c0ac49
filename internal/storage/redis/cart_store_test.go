package redis

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/babyfood/internal/domain"
)

func setupTestRedis(t *testing.T) (*goredis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

var (
	pear = domain.CartLine{ProductID: "pear-puree", PortionSizeID: "jar-120g", Quantity: 2, UnitPriceMinor: 4500}
	oats = domain.CartLine{ProductID: "oat-porridge", PortionSizeID: "box-250g", Quantity: 1, UnitPriceMinor: 7900}
)

func TestCartStore_GetMissingIsEmpty(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := NewCartStore(client, 0)

	cart, err := store.Get(context.Background(), "session-1")
	require.NoError(t, err)
	assert.Equal(t, "session-1", cart.SessionID)
	assert.True(t, cart.IsEmpty())

	_, err = store.Get(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrSessionRequired)
}

func TestCartStore_SetLineReplacesAndSorts(t *testing.T) {
	client, mr := setupTestRedis(t)
	store := NewCartStore(client, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.SetLine(ctx, "s", pear))
	require.NoError(t, store.SetLine(ctx, "s", oats))
	updated := pear
	updated.Quantity = 5
	require.NoError(t, store.SetLine(ctx, "s", updated))

	cart, err := store.Get(ctx, "s")
	require.NoError(t, err)
	require.Len(t, cart.Lines, 2)
	assert.Equal(t, oats, cart.Lines[0])
	assert.Equal(t, updated, cart.Lines[1])
	assert.Equal(t, int64(5*4500+7900), cart.Subtotal())
	assert.False(t, cart.UpdatedAt.IsZero())

	assert.Equal(t, time.Hour, mr.TTL("cart:s"))

	raw := mr.HGet("cart:s", pear.Key().String())
	var value cartLineValue
	require.NoError(t, json.Unmarshal([]byte(raw), &value))
	assert.Equal(t, int32(5), value.Quantity)
}

func TestCartStore_RemoveAndClear(t *testing.T) {
	client, mr := setupTestRedis(t)
	store := NewCartStore(client, 0)
	ctx := context.Background()

	require.NoError(t, store.SetLine(ctx, "s", pear))
	require.NoError(t, store.SetLine(ctx, "s", oats))

	require.NoError(t, store.RemoveLine(ctx, "s", pear.Key()))
	cart, err := store.Get(ctx, "s")
	require.NoError(t, err)
	require.Len(t, cart.Lines, 1)
	assert.Equal(t, oats.Key(), cart.Lines[0].Key())

	require.NoError(t, store.RemoveLine(ctx, "s", oats.Key()))
	assert.False(t, mr.Exists("cart:s"))

	require.NoError(t, store.SetLine(ctx, "s", pear))
	require.NoError(t, store.Clear(ctx, "s"))
	cart, err = store.Get(ctx, "s")
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())
}

func TestCartStore_ExpiresAfterTTL(t *testing.T) {
	client, mr := setupTestRedis(t)
	store := NewCartStore(client, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.SetLine(ctx, "s", pear))
	mr.FastForward(2 * time.Minute)

	cart, err := store.Get(ctx, "s")
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())
}

func TestCartStore_BackendError(t *testing.T) {
	client, mr := setupTestRedis(t)
	store := NewCartStore(client, 0)
	mr.SetError("boom")

	_, err := store.Get(context.Background(), "s")
	assert.Error(t, err)
	assert.Error(t, store.SetLine(context.Background(), "s", pear))
}

func TestOrderNumberSequence_Next(t *testing.T) {
	client, mr := setupTestRedis(t)
	seq := NewOrderNumberSequence(client)
	ctx := context.Background()

	first, err := seq.Next(ctx, "20261014")
	require.NoError(t, err)
	second, err := seq.Next(ctx, "20261014")
	require.NoError(t, err)
	other, err := seq.Next(ctx, "20261015")
	require.NoError(t, err)

	assert.Equal(t, int64(1), first)
	assert.Equal(t, int64(2), second)
	assert.Equal(t, int64(1), other)
	assert.Equal(t, 48*time.Hour, mr.TTL("order_seq:20261014"))
}

func TestOrderNumberSequence_ConcurrentNextIsUnique(t *testing.T) {
	client, _ := setupTestRedis(t)
	seq := NewOrderNumberSequence(client)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int64]bool)
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := seq.Next(context.Background(), "20261014")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			seen[n] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 50)
}

func TestChecker_Check(t *testing.T) {
	client, mr := setupTestRedis(t)
	checker := NewChecker(client)

	assert.NoError(t, checker.Check(context.Background()))
	mr.SetError("down")
	assert.Error(t, checker.Check(context.Background()))
}
