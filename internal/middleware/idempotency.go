package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"paycore/pkg/cache"
	"paycore/pkg/errors"
	"paycore/pkg/logger"
)

// MaxIdempotencyKeyLen keeps the scoped key within the ledger's key column.
const MaxIdempotencyKeyLen = 64

// IdempotencyMiddleware replays the stored response of an unsafe request
// whose Idempotency-Key was already answered. Keys are scoped to the caller.
type IdempotencyMiddleware struct {
	cache  cache.Cache
	ttl    time.Duration
	wait   time.Duration
	poll   time.Duration
	logger logger.Logger
}

func NewIdempotencyMiddleware(c cache.Cache, ttl time.Duration, log logger.Logger) *IdempotencyMiddleware {
	return &IdempotencyMiddleware{
		cache:  c,
		ttl:    ttl,
		wait:   5 * time.Second,
		poll:   100 * time.Millisecond,
		logger: log,
	}
}

// Replay admits POST/PUT/PATCH/DELETE requests once per Idempotency-Key.
// Requests without the header pass through untouched. A second request arriving
// while the first is in flight waits for its response, then gets ErrDuplicateRequest.
func (m *IdempotencyMiddleware) Replay(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodPut &&
			r.Method != http.MethodPatch && r.Method != http.MethodDelete {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get("Idempotency-Key")
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}
		if len(key) > MaxIdempotencyKeyLen {
			jsonError(w, http.StatusBadRequest, errors.ErrInvalidRequest.Code, "Idempotency-Key is too long")
			return
		}

		scope := "anonymous"
		if caller, ok := CallerFromContext(r.Context()); ok {
			scope = caller.AccountID.String()
		}
		dataKey := fmt.Sprintf("idempotency:data:%s:%s:%s", scope, r.Method, key)
		lockKey := fmt.Sprintf("idempotency:lock:%s:%s:%s", scope, r.Method, key)

		if m.replayCached(w, r, dataKey) {
			return
		}

		ok, err := m.cache.SetNX(r.Context(), lockKey, RequestIDFromContext(r.Context()), m.ttl)
		if err != nil {
			m.logger.Error("Idempotency lock failed", map[string]interface{}{
				"error": err.Error(),
				"key":   key,
			})
			code, message := errors.Public(errors.ErrInfrastructure)
			jsonError(w, http.StatusServiceUnavailable, code, message)
			return
		}

		if !ok {
			deadline := time.Now().Add(m.wait)
			for time.Now().Before(deadline) {
				select {
				case <-r.Context().Done():
					return
				case <-time.After(m.poll):
				}
				if m.replayCached(w, r, dataKey) {
					return
				}
			}
			code, message := errors.Public(errors.ErrDuplicateRequest)
			jsonError(w, http.StatusConflict, code, message)
			return
		}
		defer func() {
			_ = m.cache.Delete(context.WithoutCancel(r.Context()), lockKey)
		}()

		ctx := context.WithValue(r.Context(), ctxIdempotencyKeyKey, scope+":"+key)
		cw := newCaptureWriter(w, 1<<20)
		next.ServeHTTP(cw, r.WithContext(ctx))

		if err := m.cacheResponse(r.Context(), dataKey, cw); err != nil {
			m.logger.Warn("Idempotency response not cached", map[string]interface{}{
				"error": err.Error(),
				"key":   key,
			})
		}
	})
}

type capturedResponse struct {
	Status  int               `json:"status"`
	Body    []byte            `json:"body"`
	Headers map[string]string `json:"headers"`
}

func (m *IdempotencyMiddleware) replayCached(w http.ResponseWriter, r *http.Request, dataKey string) bool {
	var cr capturedResponse
	if err := m.cache.Get(r.Context(), dataKey, &cr); err != nil {
		return false
	}

	for k, v := range cr.Headers {
		w.Header().Set(k, v)
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(cr.Status)
	_, _ = w.Write(cr.Body)
	return true
}

// Server errors are not cached so that the client may retry with the same key.
func (m *IdempotencyMiddleware) cacheResponse(ctx context.Context, dataKey string, cw *captureWriter) error {
	if cw.status == 0 || cw.status >= http.StatusInternalServerError || cw.truncated {
		return nil
	}
	resp := capturedResponse{
		Status:  cw.status,
		Body:    cw.buf,
		Headers: cw.headers,
	}
	return m.cache.Set(context.WithoutCancel(ctx), dataKey, resp, m.ttl)
}

type captureWriter struct {
	http.ResponseWriter
	buf       []byte
	limit     int
	status    int
	truncated bool
	headers   map[string]string
}

func newCaptureWriter(w http.ResponseWriter, limit int) *captureWriter {
	return &captureWriter{
		ResponseWriter: w,
		buf:            make([]byte, 0, 1024),
		limit:          limit,
		headers:        make(map[string]string),
	}
}

func (w *captureWriter) WriteHeader(statusCode int) {
	if w.status != 0 {
		return
	}
	w.status = statusCode
	for k, v := range w.ResponseWriter.Header() {
		if len(v) > 0 {
			w.headers[k] = v[0]
		}
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *captureWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.WriteHeader(http.StatusOK)
	}
	if space := w.limit - len(w.buf); space >= len(p) {
		w.buf = append(w.buf, p...)
	} else {
		w.truncated = true
	}
	return w.ResponseWriter.Write(p)
}
