package monitor

import "sync"

// Fake is an in-memory Caller for tests and the simulator. It records
// every request and optionally delegates to a handler that plays the
// monitor's role against a simulated compartment.
type Fake struct {
	// Handler, when set, is invoked with each request; its error is
	// returned from Call.
	Handler func(req *Request) error

	mu       sync.Mutex
	requests []Request
}

// Call records a copy of req and runs the handler.
func (f *Fake) Call(req *Request) error {
	f.mu.Lock()
	f.requests = append(f.requests, *req)
	f.mu.Unlock()

	if f.Handler != nil {
		return f.Handler(req)
	}

	return nil
}

// Calls returns how many requests were issued.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.requests)
}

// Request returns a copy of the i-th recorded request.
func (f *Fake) Request(i int) Request {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.requests[i]
}
