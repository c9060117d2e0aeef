// Package client provides a minimal RESP client for redstore-cli.
package client

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/yxlane/redstore-go/internal/server/redisserver"
)

// Client is a single-connection RESP client. It is not safe for
// concurrent use; the CLI issues one command at a time.
type Client struct {
	conn    net.Conn
	timeout time.Duration
	pending []byte
}

// Dial connects to a redstore server. timeout bounds the dial and every
// subsequent command round trip.
func Dial(addr string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	return &Client{conn: conn, timeout: timeout}, nil
}

// Do sends one command and returns the server's reply frame.
func (c *Client) Do(args ...string) (redisserver.Frame, error) {
	bs := make([][]byte, len(args))
	for i, a := range args {
		bs[i] = []byte(a)
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return redisserver.Frame{}, err
	}
	if _, err := c.conn.Write(redisserver.EncodeCommand(bs)); err != nil {
		return redisserver.Frame{}, fmt.Errorf("send command: %w", err)
	}

	return c.readReply()
}

func (c *Client) readReply() (redisserver.Frame, error) {
	chunk := make([]byte, 4096)
	for {
		if len(c.pending) > 0 {
			f, n, err := redisserver.DecodeFrame(c.pending)
			if err == nil {
				c.pending = c.pending[n:]
				if len(c.pending) == 0 {
					c.pending = nil
				}
				return f, nil
			}
			if !errors.Is(err, redisserver.ErrIncomplete) {
				return redisserver.Frame{}, fmt.Errorf("bad reply: %w", err)
			}
		}

		if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return redisserver.Frame{}, err
		}
		n, err := c.conn.Read(chunk)
		if n > 0 {
			c.pending = append(c.pending, chunk[:n]...)
		}
		if err != nil {
			return redisserver.Frame{}, fmt.Errorf("read reply: %w", err)
		}
	}
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
