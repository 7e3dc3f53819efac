package motion

import (
	"sync"
	"sync/atomic"
)

// Move is the handle for one in-flight axis move.  It resolves exactly once
// when the axis settles, success or failure; Wait may be called from any
// number of goroutines.
type Move struct {
	motion *Motion
	done   chan struct{}

	once    sync.Once
	err     error
	stopped atomic.Bool
}

// resolvedMove returns an already settled handle, used for no-op moves
func resolvedMove(err error) *Move {
	mv := &Move{done: make(chan struct{})}
	mv.finish(err)
	return mv
}

// finish resolves the handle.  Only the first call has any effect.
func (m *Move) finish(err error) {
	m.once.Do(func() {
		m.err = err
		close(m.done)
	})
}

// markStopped suppresses any pending backlash correction; a stopped move
// settles where it is
func (m *Move) markStopped() {
	m.stopped.Store(true)
}

// Stopped reports whether a stop was requested for this move
func (m *Move) Stopped() bool {
	return m.stopped.Load()
}

// Done returns a channel closed when the move has settled
func (m *Move) Done() <-chan struct{} {
	return m.done
}

// Wait blocks until settlement and returns the terminal error, if any
func (m *Move) Wait() error {
	<-m.done
	return m.err
}

// Err returns the terminal error if the move has settled, else nil
func (m *Move) Err() error {
	select {
	case <-m.done:
		return m.err
	default:
		return nil
	}
}

// GroupMove is the handle for one in-flight group move.  It resolves once
// all member axes have settled.
type GroupMove struct {
	moves []*Move
	done  chan struct{}

	once sync.Once
	err  error
}

func newGroupMove(moves []*Move) *GroupMove {
	return &GroupMove{moves: moves, done: make(chan struct{})}
}

func (g *GroupMove) finish(err error) {
	g.once.Do(func() {
		g.err = err
		close(g.done)
	})
}

// Done returns a channel closed when every member axis has settled
func (g *GroupMove) Done() <-chan struct{} {
	return g.done
}

// Wait blocks until every member axis has settled and returns the first
// error observed, if any
func (g *GroupMove) Wait() error {
	<-g.done
	return g.err
}

// Err returns the terminal error if the group move has settled, else nil
func (g *GroupMove) Err() error {
	select {
	case <-g.done:
		return g.err
	default:
		return nil
	}
}
