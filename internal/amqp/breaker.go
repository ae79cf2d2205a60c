package amqp

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// Circuit breaker states.
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures = 5
	openTimeout = 30 * time.Second

	baseBackoff = time.Second
	maxBackoff  = 30 * time.Second
)

// circuitBreaker stops publish attempts after repeated broker failures and
// lets one attempt through once openTimeout has passed.
type circuitBreaker struct {
	state        int32
	failureCount int64

	mu          sync.Mutex
	lastFailure time.Time
}

func (b *circuitBreaker) isCircuitOpen() bool {
	if atomic.LoadInt32(&b.state) != StateOpen {
		return false
	}
	b.mu.Lock()
	since := time.Since(b.lastFailure)
	b.mu.Unlock()

	if since > openTimeout {
		atomic.CompareAndSwapInt32(&b.state, StateOpen, StateHalfOpen)
		return false
	}
	return true
}

func (b *circuitBreaker) recordSuccess() {
	atomic.StoreInt64(&b.failureCount, 0)
	atomic.StoreInt32(&b.state, StateClosed)
}

func (b *circuitBreaker) recordFailure() {
	b.mu.Lock()
	b.lastFailure = time.Now()
	b.mu.Unlock()

	n := atomic.AddInt64(&b.failureCount, 1)
	if n >= maxFailures || atomic.LoadInt32(&b.state) == StateHalfOpen {
		atomic.StoreInt32(&b.state, StateOpen)
	}
}

// exponentialBackoff returns 1s, 2s, 4s, ... capped at 30s.
func exponentialBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 5 {
		return maxBackoff
	}
	d := baseBackoff << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "connection closed", "connection reset", "eof", "broken pipe", "use of closed network connection", "channel/connection is not open"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
