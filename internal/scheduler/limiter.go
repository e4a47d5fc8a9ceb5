package scheduler

import (
	"sync"
	"time"

	"github.com/maheshrc27/postqueue/internal/models"
	"golang.org/x/time/rate"
)

// Limits are per-account publishing quotas. Zero disables a limit.
type Limits struct {
	RequestsPerHour int
	PostsPerDay     int
	StoriesPerDay   int
	ReelsPerDay     int
}

type quota struct {
	hourly *rate.Limiter
	daily  map[models.ContentType]*rate.Limiter
}

type accountLimiter struct {
	limits Limits

	mu       sync.Mutex
	accounts map[string]*quota
}

func newAccountLimiter(l Limits) *accountLimiter {
	return &accountLimiter{limits: l, accounts: make(map[string]*quota)}
}

func bucket(n int, per time.Duration) *rate.Limiter {
	if n <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(per/time.Duration(n)), n)
}

func (l *accountLimiter) quota(handle string) *quota {
	l.mu.Lock()
	defer l.mu.Unlock()
	q, ok := l.accounts[handle]
	if !ok {
		day := 24 * time.Hour
		q = &quota{
			hourly: bucket(l.limits.RequestsPerHour, time.Hour),
			daily: map[models.ContentType]*rate.Limiter{
				models.ContentPost:  bucket(l.limits.PostsPerDay, day),
				models.ContentStory: bucket(l.limits.StoriesPerDay, day),
				models.ContentReel:  bucket(l.limits.ReelsPerDay, day),
			},
		}
		l.accounts[handle] = q
	}
	return q
}

// reserve takes one request and one publication of type ct for handle. If
// either quota is exhausted nothing is taken and the time until both allow it
// is returned.
func (l *accountLimiter) reserve(handle string, ct models.ContentType, now time.Time) time.Duration {
	q := l.quota(handle)

	var wait time.Duration
	var taken []*rate.Reservation
	for _, lim := range []*rate.Limiter{q.hourly, q.daily[ct]} {
		if lim == nil {
			continue
		}
		r := lim.ReserveN(now, 1)
		if d := r.DelayFrom(now); d > wait {
			wait = d
		}
		taken = append(taken, r)
	}
	if wait > 0 {
		for _, r := range taken {
			r.CancelAt(now)
		}
	}
	return wait
}
