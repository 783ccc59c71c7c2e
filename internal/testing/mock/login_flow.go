package mock

import (
	"context"
	"errors"
	"sync"

	"irisctl/internal/session"
)

// LoginFlow is a scripted session.LoginFlow.
type LoginFlow struct {
	mu      sync.Mutex
	opens   []OpenCall
	handles []*FlowHandle

	// OpenErr, when set, is returned from Open.
	OpenErr error

	// OnOpen, when set, runs in its own goroutine after each Open with the
	// new handle, so a test can script navigation and exit events.
	OnOpen func(h *FlowHandle)
}

// OpenCall records one Open invocation.
type OpenCall struct {
	URL     string
	Options session.FlowOptions
}

// Open implements session.LoginFlow.
func (f *LoginFlow) Open(_ context.Context, loginURL string, opts session.FlowOptions) (session.FlowHandle, error) {
	f.mu.Lock()
	f.opens = append(f.opens, OpenCall{URL: loginURL, Options: opts})
	if f.OpenErr != nil {
		f.mu.Unlock()
		return nil, f.OpenErr
	}
	h := newFlowHandle()
	f.handles = append(f.handles, h)
	onOpen := f.OnOpen
	f.mu.Unlock()

	if onOpen != nil {
		go onOpen(h)
	}
	return h, nil
}

// Opens returns every recorded Open call.
func (f *LoginFlow) Opens() []OpenCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]OpenCall(nil), f.opens...)
}

// Handles returns every handle created by Open.
func (f *LoginFlow) Handles() []*FlowHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FlowHandle(nil), f.handles...)
}

// FlowHandle is the scripted session.FlowHandle.
type FlowHandle struct {
	navigations chan string
	exited      chan struct{}
	exitOnce    sync.Once

	mu         sync.Mutex
	closeCount int
	closed     chan struct{}
}

func newFlowHandle() *FlowHandle {
	return &FlowHandle{
		navigations: make(chan string, 16),
		exited:      make(chan struct{}),
		closed:      make(chan struct{}),
	}
}

// ErrFlowClosed is returned by Navigate after Close.
var ErrFlowClosed = errors.New("login flow closed")

// Navigate delivers a navigation event.
func (h *FlowHandle) Navigate(url string) error {
	select {
	case <-h.closed:
		return ErrFlowClosed
	default:
	}
	h.navigations <- url
	return nil
}

// Exit simulates the user closing the surface.
func (h *FlowHandle) Exit() {
	h.exitOnce.Do(func() { close(h.exited) })
}

// Navigations implements session.FlowHandle.
func (h *FlowHandle) Navigations() <-chan string { return h.navigations }

// Exited implements session.FlowHandle.
func (h *FlowHandle) Exited() <-chan struct{} { return h.exited }

// Close implements session.FlowHandle and counts invocations.
func (h *FlowHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closeCount++
	if h.closeCount == 1 {
		close(h.closed)
	}
	return nil
}

// Closed is closed on the first Close.
func (h *FlowHandle) Closed() <-chan struct{} { return h.closed }

// CloseCount reports how many times Close was called.
func (h *FlowHandle) CloseCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closeCount
}

var _ session.LoginFlow = (*LoginFlow)(nil)
