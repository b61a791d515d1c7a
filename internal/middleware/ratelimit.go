package middleware

import (
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/pointrush/pointrush-api/internal/pkg/response"
)

// RateLimit returns a fixed-window limiter keyed by client IP and path,
// backed by Redis. Ad networks resend postbacks aggressively on non-2xx,
// so the limit must stay above any legitimate resend cadence. A nil client
// or a Redis error fails open: dropping a real conversion costs more than
// letting a burst through.
func RateLimit(rdb *redis.Client, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rdb == nil || limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			key := "ratelimit:" + r.URL.Path + ":" + getClientIP(r)

			count, err := rdb.Incr(r.Context(), key).Result()
			if err != nil {
				log.Warn().Err(err).Msg("Rate limiter unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}
			if count == 1 {
				rdb.Expire(r.Context(), key, window)
			}

			if count > int64(limit) {
				response.TooManyRequests(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
