package redisserver

import (
	"net"
	"sync"

	"golang.org/x/time/rate"
)

// ipLimiter enforces a per-IP command rate. Each source IP gets its own
// token bucket; buckets for idle IPs are dropped when their last
// connection closes so the map does not grow without bound.
type ipLimiter struct {
	mu       sync.Mutex
	perIP    map[string]*ipBucket
	limit    rate.Limit
	burst    int
	disabled bool
}

type ipBucket struct {
	limiter *rate.Limiter
	conns   int
}

// newIPLimiter creates a limiter allowing commandsPerSec commands per
// second per IP, with a burst of the same size. A non-positive rate
// disables limiting.
func newIPLimiter(commandsPerSec int) *ipLimiter {
	if commandsPerSec <= 0 {
		return &ipLimiter{disabled: true}
	}
	return &ipLimiter{
		perIP: make(map[string]*ipBucket),
		limit: rate.Limit(commandsPerSec),
		burst: commandsPerSec,
	}
}

// acquire registers a connection from addr and returns the bucket it
// should consume from. Returns nil when limiting is disabled.
func (l *ipLimiter) acquire(addr net.Addr) *rate.Limiter {
	if l.disabled {
		return nil
	}
	ip := addrIP(addr)

	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.perIP[ip]
	if !ok {
		b = &ipBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.perIP[ip] = b
	}
	b.conns++
	return b.limiter
}

// release drops the connection's reference; the bucket is removed once no
// connection from that IP remains.
func (l *ipLimiter) release(addr net.Addr) {
	if l.disabled {
		return
	}
	ip := addrIP(addr)

	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.perIP[ip]
	if !ok {
		return
	}
	b.conns--
	if b.conns <= 0 {
		delete(l.perIP, ip)
	}
}

func addrIP(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
