package analysis

import (
	"sync"

	domain "github.com/sitejournal/compliance/internal/domain/analysis"
)

// Handle describes one in-flight analysis. Waiters select on Done(); the
// worker stores the terminal record and closes the channel exactly once.
type Handle struct {
	ResultID domain.AnalysisID

	done   chan struct{}
	result *domain.Analysis
	err    error
}

func newHandle(id domain.AnalysisID) *Handle {
	return &Handle{ResultID: id, done: make(chan struct{})}
}

// Done is closed when the analysis reaches a terminal state.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Outcome returns the terminal record after Done() is closed.
func (h *Handle) Outcome() (*domain.Analysis, error) { return h.result, h.err }

func (h *Handle) resolve(a *domain.Analysis, err error) {
	h.result = a
	h.err = err
	close(h.done)
}

// Guard tracks in-flight analyses per entity reference. Reservation and
// release are atomic with respect to concurrent Submit calls for the same
// reference; this is what keeps the single-pending invariant true under
// arbitrary interleaving.
type Guard struct {
	mu       sync.Mutex
	inflight map[domain.EntityRef]*Handle
}

func NewGuard() *Guard {
	return &Guard{inflight: make(map[domain.EntityRef]*Handle)}
}

// Reserve registers work for ref under the given result id. When an analysis
// is already in flight the existing handle is returned with created=false and
// no new reservation is made.
func (g *Guard) Reserve(ref domain.EntityRef, id domain.AnalysisID) (*Handle, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if h, ok := g.inflight[ref]; ok {
		return h, false
	}
	h := newHandle(id)
	g.inflight[ref] = h
	return h, true
}

// Release drops the reservation for ref. Always called by the worker's
// completion path, success or failure, so a later resubmission is possible.
func (g *Guard) Release(ref domain.EntityRef) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inflight, ref)
}

// Peek returns the in-flight handle for ref, if any.
func (g *Guard) Peek(ref domain.EntityRef) (*Handle, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	h, ok := g.inflight[ref]
	return h, ok
}

// Len reports the number of outstanding reservations.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inflight)
}
