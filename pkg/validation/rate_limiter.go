package validation

import (
	"sync"
	"time"
)

// RateLimiter implements a token bucket rate limiter per client
type RateLimiter struct {
	rate        float64
	burst       int
	clients     map[string]*clientLimiter
	mu          sync.RWMutex
	cleanupTick *time.Ticker
	done        chan struct{}
	closeOnce   sync.Once
}

// clientLimiter tracks rate limiting state for a single client
type clientLimiter struct {
	tokens     float64
	lastRefill time.Time
	lastSeen   time.Time
	mu         sync.Mutex
}

// NewRateLimiter creates a limiter refilling rate tokens per second into
// buckets holding at most burst tokens. Non-positive values fall back to one.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	if !(rate > 0) {
		rate = 1
	}
	if burst < 1 {
		burst = 1
	}

	rl := &RateLimiter{
		rate:    rate,
		burst:   burst,
		clients: make(map[string]*clientLimiter),
		done:    make(chan struct{}),
	}

	// a bucket refills completely within this interval
	refill := time.Duration(float64(burst) / rate * float64(time.Second))
	rl.cleanupTick = time.NewTicker(max(time.Second, 2*refill))
	go rl.cleanup(2 * max(time.Second, refill))

	return rl
}

// Allow checks if a request should be allowed for the given client ID
func (rl *RateLimiter) Allow(clientID string) bool {
	rl.mu.RLock()
	limiter, exists := rl.clients[clientID]
	rl.mu.RUnlock()

	if !exists {
		rl.mu.Lock()
		limiter, exists = rl.clients[clientID]
		if !exists {
			now := time.Now()
			limiter = &clientLimiter{
				tokens:     float64(rl.burst),
				lastRefill: now,
				lastSeen:   now,
			}
			rl.clients[clientID] = limiter
		}
		rl.mu.Unlock()
	}

	return limiter.consume(rl.rate, float64(rl.burst), time.Now())
}

// Forget removes the state of a client
func (rl *RateLimiter) Forget(clientID string) {
	rl.mu.Lock()
	delete(rl.clients, clientID)
	rl.mu.Unlock()
}

// Clients returns the number of tracked clients
func (rl *RateLimiter) Clients() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.clients)
}

// consume refills the bucket for the time passed and takes one token
func (cl *clientLimiter) consume(rate, burst float64, now time.Time) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if elapsed := now.Sub(cl.lastRefill); elapsed > 0 {
		cl.tokens = min(burst, cl.tokens+elapsed.Seconds()*rate)
		cl.lastRefill = now
	}
	cl.lastSeen = now

	if cl.tokens >= 1 {
		cl.tokens--
		return true
	}
	return false
}

// cleanup removes idle clients to prevent memory leaks
func (rl *RateLimiter) cleanup(idle time.Duration) {
	for {
		select {
		case <-rl.cleanupTick.C:
			rl.removeIdleClients(time.Now().Add(-idle))
		case <-rl.done:
			return
		}
	}
}

// removeIdleClients removes clients not seen since cutoff
func (rl *RateLimiter) removeIdleClients(cutoff time.Time) {
	rl.mu.Lock()
	for clientID, limiter := range rl.clients {
		limiter.mu.Lock()
		if limiter.lastSeen.Before(cutoff) {
			delete(rl.clients, clientID)
		}
		limiter.mu.Unlock()
	}
	rl.mu.Unlock()
}

// Close stops the rate limiter and cleans up resources
func (rl *RateLimiter) Close() {
	rl.closeOnce.Do(func() {
		close(rl.done)
		rl.cleanupTick.Stop()
	})
}
