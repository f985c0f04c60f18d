package llm

import (
	"context"
	"strings"
	"sync"
)

// MockClient implements Client for tests without real API calls. Responses
// are matched by substring rules in order, with an optional default reply.
type MockClient struct {
	mu           sync.Mutex
	rules        []mockRule
	defaultReply string
	err          error
	requestCount int
	requests     []Request
}

type mockRule struct {
	substring string
	reply     string
}

// NewMockClient creates a mock with a default reply.
func NewMockClient(defaultReply string) *MockClient {
	return &MockClient{defaultReply: defaultReply}
}

// Respond registers a reply for any request whose system prompt or message
// text contains the given substring. Rules are checked in registration order.
func (m *MockClient) Respond(substring, reply string) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, mockRule{substring: substring, reply: reply})
	return m
}

// Fail makes every subsequent call return err.
func (m *MockClient) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Complete implements Client.Complete.
func (m *MockClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount++
	m.requests = append(m.requests, req)

	if m.err != nil {
		return nil, m.err
	}

	haystack := req.System
	for _, msg := range req.Messages {
		for _, p := range msg.Parts {
			haystack += "\n" + p.Text
		}
	}
	for _, rule := range m.rules {
		if strings.Contains(haystack, rule.substring) {
			return &Response{Content: rule.reply, StopReason: StopReasonEndTurn}, nil
		}
	}
	return &Response{Content: m.defaultReply, StopReason: StopReasonEndTurn}, nil
}

// Model implements Client.Model.
func (m *MockClient) Model() string {
	return "mock"
}

// RequestCount returns how many calls were made.
func (m *MockClient) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestCount
}

// Requests returns a copy of all recorded requests.
func (m *MockClient) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}
