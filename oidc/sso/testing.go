package sso

import (
	"context"
	"sync"
)

// TestFrame is a Frame which records the messages posted to it.
type TestFrame struct {
	mu     sync.Mutex
	posted []TestPost
	err    error
}

// TestPost is a message posted to a TestFrame.
type TestPost struct {
	Data         string
	TargetOrigin string
}

// ensure that TestFrame implements the Frame interface
var _ Frame = (*TestFrame)(nil)

// PostMessage implements the Frame interface.
func (f *TestFrame) PostMessage(data, targetOrigin string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.posted = append(f.posted, TestPost{Data: data, TargetOrigin: targetOrigin})
	return nil
}

// SetPostError makes subsequent posts fail with err.
func (f *TestFrame) SetPostError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Posted returns a copy of the messages posted so far.
func (f *TestFrame) Posted() []TestPost {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]TestPost(nil), f.posted...)
}

// TestHost is a Host for tests.  Embed returns the host's Frame, or
// EmbedErr when set; messages are injected with Deliver.
type TestHost struct {
	Origin   string
	Frame    *TestFrame
	EmbedErr error

	messages chan Message

	mu       sync.Mutex
	embedded []string
}

// ensure that TestHost implements the Host interface
var _ Host = (*TestHost)(nil)

// NewTestHost creates a TestHost for a page at origin.
func NewTestHost(origin string) *TestHost {
	return &TestHost{
		Origin:   origin,
		Frame:    &TestFrame{},
		messages: make(chan Message, 16),
	}
}

// PageOrigin implements the Host interface.
func (h *TestHost) PageOrigin() string { return h.Origin }

// Embed implements the Host interface.
func (h *TestHost) Embed(ctx context.Context, src string) (Frame, error) {
	h.mu.Lock()
	h.embedded = append(h.embedded, src)
	h.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if h.EmbedErr != nil {
		return nil, h.EmbedErr
	}
	return h.Frame, nil
}

// Messages implements the Host interface.
func (h *TestHost) Messages() <-chan Message { return h.messages }

// Deliver queues msg as if it was received by the page.
func (h *TestHost) Deliver(msg Message) { h.messages <- msg }

// Embedded returns the sources of the frames embedded so far.
func (h *TestHost) Embedded() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.embedded...)
}
