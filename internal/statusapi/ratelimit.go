package statusapi

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// Manual syncs are expensive against the remote; allow a short burst, then
// one every ten seconds.
const (
	DefaultSyncInterval = 10 * time.Second
	DefaultSyncBurst    = 3
)

// limiter is a single token bucket shared by every caller. The API listens
// on a loopback address for one diarist, so there is no per-client state.
type limiter struct {
	bucket *rate.Limiter
	now    func() time.Time
}

func newLimiter(interval time.Duration, burst int) *limiter {
	return &limiter{
		bucket: rate.NewLimiter(rate.Every(interval), burst),
		now:    time.Now,
	}
}

func (l *limiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := l.bucket.ReserveN(l.now(), 1)
		if delay := res.DelayFrom(l.now()); delay > 0 {
			res.Cancel()
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			writeProblem(w, r, http.StatusTooManyRequests, "manual sync rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
