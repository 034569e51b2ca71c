package position

import "sync"

// Closer is a process-wide set of in-flight position closes (§4.5). It
// replaces what would otherwise be a per-row DB lock: the SL/TP monitor, a
// client-initiated close, and match-end settlement can all race to close the
// same position, and only one may win.
//
// Generalized from the teacher's single sync.Mutex.TryLock() rebalance guard
// (mm_service.go) to a keyed map, since many positions can be closing
// concurrently across different matches.
type Closer struct {
	closing sync.Map // positionID string -> struct{}
}

// NewCloser creates an empty Closer.
func NewCloser() *Closer {
	return &Closer{}
}

// TryAcquire marks id as closing. Returns false if id is already being
// closed by another caller — the caller must abort cleanly without error.
func (c *Closer) TryAcquire(id string) bool {
	_, loaded := c.closing.LoadOrStore(id, struct{}{})
	return !loaded
}

// Release removes id from the closing set. Must be called on every exit path
// (success or failure) after a successful TryAcquire.
func (c *Closer) Release(id string) {
	c.closing.Delete(id)
}
