package ctxsync

import (
	"fmt"
	"sync"
	"time"
)

// HLC is a hybrid logical clock value: a physical wall-clock component in
// nanoseconds since epoch, paired with a logical counter that disambiguates
// events sharing the same physical tick. It collapses to a single
// totally-ordered, cross-author-comparable timestamp, unlike a vector clock
// which only yields a partial order.
type HLC struct {
	Physical int64
	Logical  uint32
}

// Compare returns -1 if h happened before other, 1 if after, 0 if equal.
// HLC values are always totally ordered (ties broken by Logical), unlike
// vector-clock Compare which can report concurrency.
func (h HLC) Compare(other HLC) int {
	if h.Physical != other.Physical {
		if h.Physical < other.Physical {
			return -1
		}
		return 1
	}
	if h.Logical != other.Logical {
		if h.Logical < other.Logical {
			return -1
		}
		return 1
	}
	return 0
}

// Before reports whether h strictly precedes other.
func (h HLC) Before(other HLC) bool { return h.Compare(other) < 0 }

// After reports whether h strictly follows other.
func (h HLC) After(other HLC) bool { return h.Compare(other) > 0 }

// Zero reports whether this is the unset clock value.
func (h HLC) Zero() bool { return h.Physical == 0 && h.Logical == 0 }

func (h HLC) String() string {
	return fmt.Sprintf("%d.%d", h.Physical, h.Logical)
}

// Clock is a monotonic, mergeable hybrid logical clock generator for a
// single author. Safe for concurrent use.
type Clock struct {
	mu   sync.Mutex
	last HLC
	now  func() int64
}

// NewClock creates a clock using wall-clock time as the physical source.
func NewClock() *Clock {
	return &Clock{now: func() int64 { return time.Now().UnixNano() }}
}

// Tick advances the clock for a local event and returns the new value,
// bumping a single scalar rather than a per-node map entry.
func (c *Clock) Tick() HLC {
	c.mu.Lock()
	defer c.mu.Unlock()

	phys := c.now()
	if phys <= c.last.Physical {
		c.last.Logical++
	} else {
		c.last.Physical = phys
		c.last.Logical = 0
	}
	return c.last
}

// Observe merges a received remote timestamp into the clock, as required
// before generating any subsequent local event, and returns the resulting
// value. This is the HLC analogue of VectorClock.Merge.
func (c *Clock) Observe(remote HLC) HLC {
	c.mu.Lock()
	defer c.mu.Unlock()

	phys := c.now()
	switch {
	case phys > c.last.Physical && phys > remote.Physical:
		c.last.Physical = phys
		c.last.Logical = 0
	case c.last.Physical == remote.Physical:
		c.last.Physical = c.last.Physical
		if remote.Logical >= c.last.Logical {
			c.last.Logical = remote.Logical + 1
		} else {
			c.last.Logical++
		}
	case remote.Physical > c.last.Physical:
		c.last.Physical = remote.Physical
		c.last.Logical = remote.Logical + 1
	default:
		c.last.Logical++
	}
	return c.last
}

// Current returns the last-issued value without advancing the clock.
func (c *Clock) Current() HLC {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
