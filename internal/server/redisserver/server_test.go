package redisserver

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yxlane/redstore-go/internal/storage/memory"
)

func startTestServer(t *testing.T, cfg *Config) *Server {
	t.Helper()

	store := memory.New()
	t.Cleanup(store.Close)

	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.Address = "127.0.0.1:0"

	srv := New(cfg, NewCommandHandler(store, nil, nil), nil, nil)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	return srv
}

func dialTestServer(t *testing.T, srv *Server) (net.Conn, *bufio.Reader) {
	t.Helper()
	c, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, bufio.NewReader(c)
}

// readReply reads one complete RESP reply off the wire.
func readReply(t *testing.T, br *bufio.Reader) string {
	t.Helper()

	line, err := br.ReadString('\n')
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}

	switch line[0] {
	case TypeSimpleString, TypeError, TypeInteger:
		return line
	case TypeBulkString:
		var n int
		if _, err := fmt.Sscanf(line[1:], "%d", &n); err != nil {
			t.Fatalf("bad bulk header %q: %v", line, err)
		}
		if n < 0 {
			return line
		}
		payload := make([]byte, n+2)
		if _, err := io.ReadFull(br, payload); err != nil {
			t.Fatalf("read bulk payload: %v", err)
		}
		return line + string(payload)
	case TypeArray:
		var n int
		if _, err := fmt.Sscanf(line[1:], "%d", &n); err != nil {
			t.Fatalf("bad array header %q: %v", line, err)
		}
		out := line
		for i := 0; i < n; i++ {
			out += readReply(t, br)
		}
		return out
	default:
		t.Fatalf("unexpected reply %q", line)
		return ""
	}
}

func TestServer_PingSetGet(t *testing.T) {
	srv := startTestServer(t, nil)
	c, br := dialTestServer(t, srv)

	send := func(args ...string) {
		bs := make([][]byte, len(args))
		for i, a := range args {
			bs[i] = []byte(a)
		}
		if _, err := c.Write(EncodeCommand(bs)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	send("PING")
	if got := readReply(t, br); got != "+PONG\r\n" {
		t.Errorf("PING reply = %q", got)
	}

	send("SET", "greeting", "hello")
	if got := readReply(t, br); got != "+OK\r\n" {
		t.Errorf("SET reply = %q", got)
	}

	send("GET", "greeting")
	if got := readReply(t, br); got != "$5\r\nhello\r\n" {
		t.Errorf("GET reply = %q", got)
	}

	send("GET", "missing")
	if got := readReply(t, br); got != "$-1\r\n" {
		t.Errorf("GET missing reply = %q", got)
	}
}

func TestServer_InlineCommand(t *testing.T) {
	srv := startTestServer(t, nil)
	c, br := dialTestServer(t, srv)

	if _, err := c.Write([]byte("PING\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := readReply(t, br); got != "+PONG\r\n" {
		t.Errorf("inline PING reply = %q", got)
	}
}

func TestServer_Pipelining(t *testing.T) {
	srv := startTestServer(t, nil)
	c, br := dialTestServer(t, srv)

	var batch []byte
	batch = append(batch, EncodeCommand([][]byte{[]byte("SET"), []byte("k"), []byte("v")})...)
	batch = append(batch, EncodeCommand([][]byte{[]byte("GET"), []byte("k")})...)
	batch = append(batch, EncodeCommand([][]byte{[]byte("PING")})...)
	if _, err := c.Write(batch); err != nil {
		t.Fatalf("write: %v", err)
	}

	wants := []string{"+OK\r\n", "$1\r\nv\r\n", "+PONG\r\n"}
	for i, want := range wants {
		if got := readReply(t, br); got != want {
			t.Errorf("pipelined reply %d = %q, want %q", i, got, want)
		}
	}
}

// A command split across arbitrary write boundaries decodes once complete.
func TestServer_SplitCommand(t *testing.T) {
	srv := startTestServer(t, nil)
	c, br := dialTestServer(t, srv)

	full := EncodeCommand([][]byte{[]byte("SET"), []byte("split"), []byte("works")})
	for _, b := range full {
		if _, err := c.Write([]byte{b}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if got := readReply(t, br); got != "+OK\r\n" {
		t.Errorf("split SET reply = %q", got)
	}

	if _, err := c.Write(EncodeCommand([][]byte{[]byte("GET"), []byte("split")})); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := readReply(t, br); got != "$5\r\nworks\r\n" {
		t.Errorf("GET reply = %q", got)
	}
}

func TestServer_UnknownCommandKeepsConnection(t *testing.T) {
	srv := startTestServer(t, nil)
	c, br := dialTestServer(t, srv)

	if _, err := c.Write(EncodeCommand([][]byte{[]byte("BLORP")})); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := readReply(t, br); !strings.HasPrefix(got, "-ERR unknown command") {
		t.Errorf("BLORP reply = %q", got)
	}

	// Session continues.
	if _, err := c.Write(EncodeCommand([][]byte{[]byte("PING")})); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := readReply(t, br); got != "+PONG\r\n" {
		t.Errorf("PING after unknown = %q", got)
	}
}

func TestServer_ProtocolErrorClosesConnection(t *testing.T) {
	srv := startTestServer(t, nil)
	c, br := dialTestServer(t, srv)

	// Array claiming an integer element is malformed for a command.
	if _, err := c.Write([]byte("*1\r\n:5\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	if got := readReply(t, br); !strings.HasPrefix(got, "-ERR protocol error") {
		t.Errorf("reply = %q", got)
	}

	// Server closes after the error reply.
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := br.ReadByte(); err != io.EOF {
		t.Errorf("expected EOF after protocol error, got %v", err)
	}
}

func TestServer_OtherConnectionsUnaffected(t *testing.T) {
	srv := startTestServer(t, nil)

	bad, badBr := dialTestServer(t, srv)
	good, goodBr := dialTestServer(t, srv)

	if _, err := bad.Write([]byte("*1\r\n:5\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	readReply(t, badBr) // error reply, then close

	if _, err := good.Write(EncodeCommand([][]byte{[]byte("PING")})); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := readReply(t, goodBr); got != "+PONG\r\n" {
		t.Errorf("healthy connection reply = %q", got)
	}
}

func TestServer_Quit(t *testing.T) {
	srv := startTestServer(t, nil)
	c, br := dialTestServer(t, srv)

	if _, err := c.Write(EncodeCommand([][]byte{[]byte("QUIT")})); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := readReply(t, br); got != "+OK\r\n" {
		t.Errorf("QUIT reply = %q", got)
	}

	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := br.ReadByte(); err != io.EOF {
		t.Errorf("expected EOF after QUIT, got %v", err)
	}
}

func TestServer_RateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit = 1
	srv := startTestServer(t, cfg)
	c, br := dialTestServer(t, srv)

	if _, err := c.Write(EncodeCommand([][]byte{[]byte("PING")})); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := readReply(t, br); got != "+PONG\r\n" {
		t.Fatalf("first PING = %q", got)
	}

	if _, err := c.Write(EncodeCommand([][]byte{[]byte("PING")})); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := readReply(t, br); !strings.HasPrefix(got, "-ERR rate limit exceeded") {
		t.Errorf("second PING = %q, want rate limit error", got)
	}
}

func TestServer_ConcurrentClients(t *testing.T) {
	srv := startTestServer(t, nil)

	const clients = 16
	const rounds = 20

	var wg sync.WaitGroup
	errs := make(chan error, clients)

	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			c, err := net.Dial("tcp", srv.Addr().String())
			if err != nil {
				errs <- fmt.Errorf("client %d dial: %w", id, err)
				return
			}
			defer c.Close()
			br := bufio.NewReader(c)

			key := fmt.Sprintf("client:%d", id)
			for r := 0; r < rounds; r++ {
				val := fmt.Sprintf("v%d-%d", id, r)

				if _, err := c.Write(EncodeCommand([][]byte{[]byte("SET"), []byte(key), []byte(val)})); err != nil {
					errs <- fmt.Errorf("client %d: %w", id, err)
					return
				}
				if line, err := br.ReadString('\n'); err != nil || line != "+OK\r\n" {
					errs <- fmt.Errorf("client %d SET reply %q err %v", id, line, err)
					return
				}

				if _, err := c.Write(EncodeCommand([][]byte{[]byte("GET"), []byte(key)})); err != nil {
					errs <- fmt.Errorf("client %d: %w", id, err)
					return
				}
				want := fmt.Sprintf("$%d\r\n%s\r\n", len(val), val)
				got := make([]byte, len(want))
				if _, err := io.ReadFull(br, got); err != nil || string(got) != want {
					errs <- fmt.Errorf("client %d GET reply %q err %v", id, got, err)
					return
				}
			}
		}(i)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestServer_Shutdown(t *testing.T) {
	store := memory.New()
	defer store.Close()

	cfg := DefaultConfig()
	cfg.Address = "127.0.0.1:0"
	srv := New(cfg, NewCommandHandler(store, nil, nil), nil, nil)

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	addr := srv.Addr().String()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	if _, err := net.DialTimeout("tcp", addr, 200*time.Millisecond); err == nil {
		t.Error("listener still accepting after Shutdown")
	}
}
