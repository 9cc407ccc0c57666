package chi

import (
	"bytes"
	"io"
	"net/http"

	"github.com/kailas-cloud/lexrag/internal/cache"
	"github.com/kailas-cloud/lexrag/internal/metrics"
)

// maxCacheableBody bounds how much request body the cache key reads.
const maxCacheableBody = 1 << 20

// CacheMiddleware replays cached responses for identical requests. Only
// 200 responses are stored; a hit skips the wrapped handler entirely, so
// cached calls produce no interaction log writes and no provider traffic.
func CacheMiddleware(responses *cache.ResponseCache) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxCacheableBody+1))
			if err != nil {
				writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body")
				return
			}
			if len(body) > maxCacheableBody {
				// Too large to key; hand the handler the full body and
				// skip caching.
				metrics.ResponseCacheTotal.WithLabelValues("bypass").Inc()
				r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), r.Body))
				next.ServeHTTP(w, r)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			key := cache.Key(r.Method, r.URL.Path, r.URL.Query(), body)

			if entry, ok := responses.Get(key); ok {
				metrics.ResponseCacheTotal.WithLabelValues("hit").Inc()
				w.Header().Set("Content-Type", entry.ContentType)
				w.WriteHeader(entry.Status)
				_, _ = w.Write(entry.Body)
				return
			}
			metrics.ResponseCacheTotal.WithLabelValues("miss").Inc()

			rec := &recordingWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status == http.StatusOK {
				responses.Set(key, cache.Entry{
					Status:      rec.status,
					ContentType: rec.Header().Get("Content-Type"),
					Body:        rec.body.Bytes(),
				})
			}
		})
	}
}

// recordingWriter captures status and body while passing them through.
type recordingWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (w *recordingWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	w.body.Write(p)
	return w.ResponseWriter.Write(p)
}
