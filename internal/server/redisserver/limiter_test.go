package redisserver

import (
	"net"
	"testing"
)

func tcpAddr(host string, port int) net.Addr {
	return &net.TCPAddr{IP: net.ParseIP(host), Port: port}
}

func TestIPLimiter_Disabled(t *testing.T) {
	l := newIPLimiter(0)
	if got := l.acquire(tcpAddr("10.0.0.1", 1000)); got != nil {
		t.Errorf("acquire() = %v, want nil when disabled", got)
	}
	l.release(tcpAddr("10.0.0.1", 1000)) // no-op
}

func TestIPLimiter_SharedPerIP(t *testing.T) {
	l := newIPLimiter(100)

	// Two connections from the same IP share one bucket.
	a := l.acquire(tcpAddr("10.0.0.1", 1000))
	b := l.acquire(tcpAddr("10.0.0.1", 2000))
	if a != b {
		t.Error("connections from same IP got different buckets")
	}

	// A different IP gets its own.
	c := l.acquire(tcpAddr("10.0.0.2", 1000))
	if c == a {
		t.Error("different IPs share a bucket")
	}
}

func TestIPLimiter_BucketDroppedOnLastRelease(t *testing.T) {
	l := newIPLimiter(1)

	addr := tcpAddr("10.0.0.1", 1000)
	first := l.acquire(addr)
	if !first.Allow() {
		t.Fatal("fresh bucket denied first command")
	}
	if first.Allow() {
		t.Fatal("burst of 1 allowed a second immediate command")
	}

	second := l.acquire(tcpAddr("10.0.0.1", 2000))
	if second.Allow() {
		t.Error("shared bucket should still be drained")
	}

	l.release(addr)
	l.release(tcpAddr("10.0.0.1", 2000))

	// All connections gone: the next acquire gets a fresh bucket.
	fresh := l.acquire(addr)
	if !fresh.Allow() {
		t.Error("bucket not reset after last release")
	}
}

func TestAddrIP(t *testing.T) {
	if got := addrIP(tcpAddr("192.168.1.5", 6379)); got != "192.168.1.5" {
		t.Errorf("addrIP() = %q", got)
	}
	if got := addrIP(nil); got != "" {
		t.Errorf("addrIP(nil) = %q", got)
	}
}
