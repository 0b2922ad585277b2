package ws

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// SSEClient adapts an HTTP response writer into a hub Subscriber using
// Server-Sent Events framing.
type SSEClient struct {
	mu      sync.Mutex
	writer  io.Writer
	flusher http.Flusher
	log     *slog.Logger
	closed  bool
	last    time.Time
}

// NewSSEClient builds an SSE client instance.
func NewSSEClient(writer io.Writer, flusher http.Flusher, logger *slog.Logger) *SSEClient {
	return &SSEClient{writer: writer, flusher: flusher, log: logger, last: time.Now().UTC()}
}

// Send emits one data frame and flushes it to the client.
func (c *SSEClient) Send(payload []byte) error {
	return c.write(func() error {
		_, err := fmt.Fprintf(c.writer, "data: %s\n\n", payload)
		return err
	}, "sse send failed")
}

// Heartbeat emits a comment frame so proxies keep the connection open.
func (c *SSEClient) Heartbeat() error {
	return c.write(func() error {
		_, err := fmt.Fprint(c.writer, ": keepalive\n\n")
		return err
	}, "sse heartbeat failed")
}

func (c *SSEClient) write(frame func() error, failMsg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.EOF
	}
	if err := frame(); err != nil {
		c.closed = true
		c.log.Warn(failMsg, "error", err)
		return err
	}
	c.flusher.Flush()
	c.last = time.Now().UTC()
	return nil
}

// Close marks the stream as closed; the response writer belongs to the
// handler and is not touched here.
func (c *SSEClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// LastActivity reports the timestamp of the most recent successful write.
func (c *SSEClient) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
