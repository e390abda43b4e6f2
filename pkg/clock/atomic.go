package clock

import "sync/atomic"

// Generation hands out strictly increasing version numbers. Every root the
// database publishes is stamped with the next one.
type Generation struct {
	v atomic.Uint64
}

func NewGeneration(start uint64) *Generation {
	var g Generation
	g.v.Store(start)
	return &g
}

// Current returns the last number handed out.
func (g *Generation) Current() uint64 {
	return g.v.Load()
}

func (g *Generation) Next() uint64 {
	return g.v.Add(1)
}
