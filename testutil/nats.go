// Package testutil holds in-memory stand-ins and fixtures shared by tests.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

type subscription struct {
	pattern string
	ctx     context.Context
	handler func(context.Context, string, []byte)
}

// MockNATSClient is an in-memory bus with the natsclient.Client
// Publish/Subscribe signatures, including * and > subject wildcards.
// Handlers run synchronously on the publishing goroutine.
type MockNATSClient struct {
	mu            sync.RWMutex
	messages      map[string][][]byte
	subscriptions []subscription
	subscribeErr  error
	closed        bool
}

// NewMockNATSClient creates an empty mock bus
func NewMockNATSClient() *MockNATSClient {
	return &MockNATSClient{messages: make(map[string][][]byte)}
}

// FailSubscribe makes every later Subscribe call return err
func (c *MockNATSClient) FailSubscribe(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribeErr = err
}

// Publish records data and delivers it to every matching subscription
func (c *MockNATSClient) Publish(ctx context.Context, subject string, data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("client is closed")
	}
	c.messages[subject] = append(c.messages[subject], data)

	var matched []subscription
	for _, sub := range c.subscriptions {
		if MatchSubject(sub.pattern, subject) {
			matched = append(matched, sub)
		}
	}
	c.mu.Unlock()

	for _, sub := range matched {
		if sub.ctx.Err() != nil {
			continue
		}
		msgCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		sub.handler(msgCtx, subject, data)
		cancel()
	}
	return nil
}

// Subscribe registers handler for pattern. Deliveries stop once ctx is done.
func (c *MockNATSClient) Subscribe(ctx context.Context, pattern string, handler func(context.Context, string, []byte)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("client is closed")
	}
	if c.subscribeErr != nil {
		return c.subscribeErr
	}

	c.subscriptions = append(c.subscriptions, subscription{pattern: pattern, ctx: ctx, handler: handler})
	return nil
}

// SubscriptionCount returns the number of registered subscriptions
func (c *MockNATSClient) SubscriptionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscriptions)
}

// GetMessages returns a copy of everything published on subject
func (c *MockNATSClient) GetMessages(subject string) [][]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()

	msgs := c.messages[subject]
	if msgs == nil {
		return nil
	}
	out := make([][]byte, len(msgs))
	copy(out, msgs)
	return out
}

// GetMessageCount returns the number of messages published on subject
func (c *MockNATSClient) GetMessageCount(subject string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages[subject])
}

// ClearAll forgets every recorded message
func (c *MockNATSClient) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = make(map[string][][]byte)
}

// Close rejects further Publish and Subscribe calls
func (c *MockNATSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// IsClosed reports whether Close was called
func (c *MockNATSClient) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// MatchSubject reports whether subject matches a NATS pattern where *
// matches one token and a trailing > matches one or more tokens.
func MatchSubject(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")

	for i, tok := range pt {
		if tok == ">" {
			return i == len(pt)-1 && len(st) > i
		}
		if i >= len(st) {
			return false
		}
		if tok != "*" && tok != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}

// WaitForMessageCount fails t unless subject has at least count messages before timeout
func WaitForMessageCount(t *testing.T, client *MockNATSClient, subject string, count int, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if client.GetMessageCount(subject) >= count {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %d messages on %s (got %d)", count, subject, client.GetMessageCount(subject))
}
