package sandbox

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrNoSlot is returned when a pool is at capacity. Acquire never
// blocks or queues; callers treat exhaustion as a retryable error.
var ErrNoSlot = errors.New("no execution slot available")

// SlotStatus is the allocation state of one pool slot.
type SlotStatus string

const (
	SlotAvailable SlotStatus = "available"
	SlotBusy      SlotStatus = "busy"
)

// Slot is one bounded execution context, owned exclusively by its
// pool and held around exactly one detonation.
type Slot struct {
	id     string
	status SlotStatus
}

// ID returns the slot identifier.
func (s *Slot) ID() string {
	return s.id
}

// Pool hands out at most N concurrent execution slots. Acquire is
// fail-fast: when every slot is busy it returns ErrNoSlot immediately.
type Pool struct {
	name   string
	slots  []*Slot
	mu     sync.Mutex
	logger *zap.Logger
}

// NewPool creates a pool with a fixed capacity.
func NewPool(name string, capacity int, logger *zap.Logger) *Pool {
	slots := make([]*Slot, capacity)
	for i := range slots {
		slots[i] = &Slot{
			id:     fmt.Sprintf("%s-slot-%d", name, i),
			status: SlotAvailable,
		}
	}
	return &Pool{
		name:   name,
		slots:  slots,
		logger: logger,
	}
}

// Acquire returns the first available slot, marking it busy. The
// status transition happens under the pool lock so a slot can never
// be handed out twice.
func (p *Pool) Acquire() (*Slot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, slot := range p.slots {
		if slot.status == SlotAvailable {
			slot.status = SlotBusy
			p.logger.Debug("Acquired slot",
				zap.String("pool", p.name),
				zap.String("slot", slot.id))
			return slot, nil
		}
	}

	p.logger.Warn("Pool exhausted", zap.String("pool", p.name))
	return nil, ErrNoSlot
}

// Release returns a slot to the pool.
func (p *Pool) Release(slot *Slot) {
	if slot == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	slot.status = SlotAvailable
	p.logger.Debug("Released slot",
		zap.String("pool", p.name),
		zap.String("slot", slot.id))
}

// Name returns the pool name.
func (p *Pool) Name() string {
	return p.name
}

// Capacity returns the fixed slot count.
func (p *Pool) Capacity() int {
	return len(p.slots)
}

// InUse returns the number of busy slots.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	busy := 0
	for _, slot := range p.slots {
		if slot.status == SlotBusy {
			busy++
		}
	}
	return busy
}
