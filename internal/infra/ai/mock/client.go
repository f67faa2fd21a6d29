// Package mock provides a scripted ai.Client for tests and dry runs.
package mock

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/bryanwahyu/contract-review/internal/domain/ai"
)

// HandlerFunc answers one request.
type HandlerFunc func(ctx context.Context, req ai.Request) (string, error)

// Client records every request and delegates the answer to its handler.
// Safe for concurrent use.
type Client struct {
	handler HandlerFunc
	mu      sync.Mutex
	calls   []ai.Request
}

func NewClient(h HandlerFunc) *Client {
	return &Client{handler: h}
}

func (c *Client) Complete(ctx context.Context, req ai.Request) (string, error) {
	c.mu.Lock()
	c.calls = append(c.calls, req)
	c.mu.Unlock()
	return c.handler(ctx, req)
}

// Calls returns a copy of the recorded requests.
func (c *Client) Calls() []ai.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.calls)
}

// CallsNamed counts the recorded requests for one instruction.
func (c *Client) CallsNamed(name string) int {
	n := 0
	for _, r := range c.Calls() {
		if r.Name == name {
			n++
		}
	}
	return n
}

// Response is one scripted answer.
type Response struct {
	Content string
	Err     error
}

// ErrExhausted is returned once a Sequence has no responses left.
var ErrExhausted = errors.New("mock: no more responses configured")

// Sequence replays responses in order, one per call.
func Sequence(responses ...Response) HandlerFunc {
	var next atomic.Int32
	return func(ctx context.Context, req ai.Request) (string, error) {
		i := int(next.Add(1)) - 1
		if i >= len(responses) {
			return "", ErrExhausted
		}
		return responses[i].Content, responses[i].Err
	}
}

// Route dispatches on the instruction name; unknown names fail.
func Route(routes map[string]HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req ai.Request) (string, error) {
		h, ok := routes[req.Name]
		if !ok {
			return "", errors.New("mock: no route for " + req.Name)
		}
		return h(ctx, req)
	}
}
