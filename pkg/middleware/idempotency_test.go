package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	httputil "medslots/pkg/http"
	"medslots/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countingHandler(calls *int32, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := strconv.Itoa(int(atomic.AddInt32(calls, 1)))
		w.Header().Set("X-Call", n)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"call":` + n + `}`))
	})
}

func postWithKey(user, key string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments", strings.NewReader(`{}`))
	req.Header.Set(httputil.HeaderUserID, user)
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req
}

func TestIdempotency_ReplaysSuccessfulResponse(t *testing.T) {
	store := NewInMemoryIdempotencyStore(time.Minute)
	defer store.Stop()

	var calls int32
	h := Idempotency(store, "", logger.NewDiscard())(countingHandler(&calls, http.StatusCreated))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, postWithKey("userX", "k1"))
	second := httptest.NewRecorder()
	h.ServeHTTP(second, postWithKey("userX", "k1"))

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, "1", second.Header().Get("X-Call"))
}

func TestIdempotency_KeysAreScopedPerUser(t *testing.T) {
	store := NewInMemoryIdempotencyStore(time.Minute)
	defer store.Stop()

	var calls int32
	h := Idempotency(store, "", logger.NewDiscard())(countingHandler(&calls, http.StatusCreated))

	h.ServeHTTP(httptest.NewRecorder(), postWithKey("userX", "k1"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, postWithKey("userY", "k1"))

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Empty(t, rec.Header().Get("Idempotent-Replayed"))
}

func TestIdempotency_FailuresAreNotCached(t *testing.T) {
	store := NewInMemoryIdempotencyStore(time.Minute)
	defer store.Stop()

	var calls int32
	h := Idempotency(store, "", logger.NewDiscard())(countingHandler(&calls, http.StatusConflict))

	h.ServeHTTP(httptest.NewRecorder(), postWithKey("userX", "k1"))
	h.ServeHTTP(httptest.NewRecorder(), postWithKey("userX", "k1"))

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestIdempotency_IgnoresRequestsWithoutKeyOrNotPost(t *testing.T) {
	store := NewInMemoryIdempotencyStore(time.Minute)
	defer store.Stop()

	var calls int32
	h := Idempotency(store, "", logger.NewDiscard())(countingHandler(&calls, http.StatusOK))

	h.ServeHTTP(httptest.NewRecorder(), postWithKey("userX", ""))
	h.ServeHTTP(httptest.NewRecorder(), postWithKey("userX", ""))

	get := httptest.NewRequest(http.MethodGet, "/api/v1/appointments/id/a1", nil)
	get.Header.Set("Idempotency-Key", "k1")
	h.ServeHTTP(httptest.NewRecorder(), get)
	h.ServeHTTP(httptest.NewRecorder(), get)

	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
}

func TestInMemoryIdempotencyStore_Expires(t *testing.T) {
	store := NewInMemoryIdempotencyStore(20 * time.Millisecond)
	defer store.Stop()
	ctx := context.Background()

	store.Set(ctx, "k", &CachedResponse{StatusCode: http.StatusOK})
	_, ok := store.Get(ctx, "k")
	require.True(t, ok)

	assert.Eventually(t, func() bool {
		_, ok := store.Get(ctx, "k")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestRedisIdempotencyStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedisIdempotencyStore(client, time.Minute, logger.NewDiscard())
	defer store.Stop()
	ctx := context.Background()

	_, ok := store.Get(ctx, "userX:/api/v1/appointments:k1")
	assert.False(t, ok)

	store.Set(ctx, "userX:/api/v1/appointments:k1", &CachedResponse{
		StatusCode: http.StatusCreated,
		Headers:    http.Header{"Content-Type": []string{"application/json"}},
		Body:       []byte(`{"isSuccess":true}`),
	})
	assert.True(t, mr.Exists(redisKeyPrefix+"userX:/api/v1/appointments:k1"))

	cached, ok := store.Get(ctx, "userX:/api/v1/appointments:k1")
	require.True(t, ok)
	assert.Equal(t, http.StatusCreated, cached.StatusCode)
	assert.Equal(t, "application/json", cached.Headers.Get("Content-Type"))
	assert.JSONEq(t, `{"isSuccess":true}`, string(cached.Body))

	mr.FastForward(2 * time.Minute)
	_, ok = store.Get(ctx, "userX:/api/v1/appointments:k1")
	assert.False(t, ok)
}

func TestRedisIdempotencyStore_UnavailableRedisIsAMiss(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	store := NewRedisIdempotencyStore(client, time.Minute, logger.NewDiscard())

	var calls int32
	h := Idempotency(store, "", logger.NewDiscard())(countingHandler(&calls, http.StatusCreated))

	mr.Close()
	h.ServeHTTP(httptest.NewRecorder(), postWithKey("userX", "k1"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, postWithKey("userX", "k1"))

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, http.StatusCreated, rec.Code)
}
