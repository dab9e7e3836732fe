package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"paycore/pkg/cache"
	"paycore/pkg/logger"
)

func TestIdempotencyMiddleware_ConcurrentRequests(t *testing.T) {
	mw := NewIdempotencyMiddleware(cache.NewMemoryCache(), 10*time.Second, logger.NewNop())
	mw.poll = 10 * time.Millisecond

	var calls atomic.Int32
	slowHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("success"))
	})
	wrapped := mw.Replay(slowHandler)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(delay time.Duration) {
			defer wg.Done()
			time.Sleep(delay)
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			req.Header.Set("Idempotency-Key", "test-key-1")
			w := httptest.NewRecorder()
			wrapped.ServeHTTP(w, req)
			assert.Equal(t, http.StatusCreated, w.Code)
			assert.Equal(t, "success", w.Body.String())
		}(time.Duration(i) * 50 * time.Millisecond)
	}
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
}

func TestIdempotencyMiddleware_PassThrough(t *testing.T) {
	mw := NewIdempotencyMiddleware(cache.NewMemoryCache(), time.Minute, logger.NewNop())
	var calls atomic.Int32
	wrapped := mw.Replay(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Empty(t, IdempotencyKeyFromContext(r.Context()))
		w.WriteHeader(http.StatusOK)
	}))

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		req := httptest.NewRequest(method, "/", nil)
		if method == http.MethodGet {
			req.Header.Set("Idempotency-Key", "ignored-on-get")
		}
		wrapped.ServeHTTP(httptest.NewRecorder(), req)
		wrapped.ServeHTTP(httptest.NewRecorder(), req)
	}
	assert.EqualValues(t, 4, calls.Load())
}

func TestIdempotencyMiddleware_ServerErrorsNotCached(t *testing.T) {
	mw := NewIdempotencyMiddleware(cache.NewMemoryCache(), time.Minute, logger.NewNop())
	var calls atomic.Int32
	wrapped := mw.Replay(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("Idempotency-Key", "retry-key")
		wrapped.ServeHTTP(httptest.NewRecorder(), req)
	}
	assert.EqualValues(t, 2, calls.Load())
}

func TestIdempotencyMiddleware_ScopedByCaller(t *testing.T) {
	mw := NewIdempotencyMiddleware(cache.NewMemoryCache(), time.Minute, logger.NewNop())
	var keys []string
	var mu sync.Mutex
	wrapped := mw.Replay(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, IdempotencyKeyFromContext(r.Context()))
		mu.Unlock()
		_, _ = w.Write([]byte("ok"))
	}))

	for i := 0; i < 2; i++ {
		caller := Caller{AccountID: uuid.New(), Role: RoleUser}
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("Idempotency-Key", "shared")
		req = req.WithContext(WithCaller(req.Context(), caller))
		wrapped.ServeHTTP(httptest.NewRecorder(), req)
	}

	assert.Len(t, keys, 2)
	assert.NotEqual(t, keys[0], keys[1])
}

func TestIdempotencyMiddleware_RejectsLongKey(t *testing.T) {
	mw := NewIdempotencyMiddleware(cache.NewMemoryCache(), time.Minute, logger.NewNop())
	wrapped := mw.Replay(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Idempotency-Key", strings.Repeat("k", MaxIdempotencyKeyLen+1))
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
