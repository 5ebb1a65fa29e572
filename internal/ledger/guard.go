package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/ayo6706/personal-ledger/internal/domain"
	"github.com/google/uuid"
)

// Guard serialises mutations per account. Acquire takes every id's guard in
// LockOrder and returns a release func that is safe to call more than once.
// Waiting is bounded by ctx: a deadline yields domain.ErrBusy, cancellation
// yields ctx.Err().
type Guard interface {
	Acquire(ctx context.Context, ids ...uuid.UUID) (release func(), err error)
}

// LockOrder returns ids deduplicated and sorted ascending by their bytes, the
// same order as their canonical string form and Postgres uuid comparison.
// Every Guard implementation acquires in this order.
func LockOrder(ids ...uuid.UUID) []uuid.UUID {
	out := slices.Clone(ids)
	slices.SortFunc(out, func(a, b uuid.UUID) int {
		return bytes.Compare(a[:], b[:])
	})
	return slices.Compact(out)
}

// WaitError converts a context error seen while waiting for a guard into the
// ledger error taxonomy.
func WaitError(id uuid.UUID, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: account %s", domain.ErrBusy, id)
	}
	return err
}

// LocalGuard is an in-process Guard built from one single-slot semaphore per
// account. Slots are reference counted and dropped when nobody holds or waits.
type LocalGuard struct {
	mu    sync.Mutex
	slots map[uuid.UUID]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocalGuard() *LocalGuard {
	return &LocalGuard{slots: make(map[uuid.UUID]*slot)}
}

func (g *LocalGuard) Acquire(ctx context.Context, ids ...uuid.UUID) (func(), error) {
	ordered := LockOrder(ids...)
	held := make([]uuid.UUID, 0, len(ordered))
	for _, id := range ordered {
		if err := g.lock(ctx, id); err != nil {
			g.unlockAll(held)
			return nil, err
		}
		held = append(held, id)
	}

	var once sync.Once
	return func() {
		once.Do(func() { g.unlockAll(held) })
	}, nil
}

func (g *LocalGuard) lock(ctx context.Context, id uuid.UUID) error {
	s := g.ref(id)

	select {
	case s.ch <- struct{}{}:
		return nil
	default:
	}

	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		g.unref(id)
		return WaitError(id, ctx.Err())
	}
}

func (g *LocalGuard) unlockAll(held []uuid.UUID) {
	for i := len(held) - 1; i >= 0; i-- {
		g.mu.Lock()
		s := g.slots[held[i]]
		g.mu.Unlock()
		<-s.ch
		g.unref(held[i])
	}
}

func (g *LocalGuard) ref(id uuid.UUID) *slot {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.slots[id]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		g.slots[id] = s
	}
	s.refs++
	return s
}

func (g *LocalGuard) unref(id uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.slots[id]
	if !ok {
		return
	}
	s.refs--
	if s.refs == 0 {
		delete(g.slots, id)
	}
}

// size reports the number of live slots.
func (g *LocalGuard) size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.slots)
}
