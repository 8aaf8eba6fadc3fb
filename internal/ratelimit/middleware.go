package ratelimit

import (
	"encoding/json"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/ferro-labs/chatproxy/internal/logging"
	"github.com/ferro-labs/chatproxy/internal/metrics"
)

// GlobalKey is the partition used when limiting is not per client.
const GlobalKey = "global"

// ClientKey returns the partition key for r: the host part of RemoteAddr,
// which chi's RealIP middleware has already rewritten from proxy headers.
func ClientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware limits requests through store. With perClient false every
// request shares the GlobalKey partition.
func Middleware(store *Store, perClient bool) func(http.Handler) http.Handler {
	partition := "global"
	if perClient {
		partition = "client"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := GlobalKey
			if perClient {
				key = ClientKey(r)
			}
			l := store.Get(key)

			err := l.Wait(r.Context())
			if err == nil {
				next.ServeHTTP(w, r)
				return
			}
			if !errors.Is(err, ErrLimitExceeded) {
				// Client went away while queued.
				return
			}

			metrics.RateLimitRejections.WithLabelValues(partition).Inc()
			logging.FromContext(r.Context()).Info("rate limit exceeded", "partition", partition, "key", key)

			secs := int(math.Ceil(l.RetryAfter().Seconds()))
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
		})
	}
}
