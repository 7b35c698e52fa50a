package testutil

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"st-go/internal/st"
)

var (
	_ st.Clock       = (*StubClock)(nil)
	_ st.IDGenerator = (*StubIDGenerator)(nil)
)

// StubClock is an st.Clock backed by a clockwork fake clock, so the same
// time source can drive timestamps and drain schedules.
type StubClock struct {
	fake    clockwork.Clock
	advance func(time.Duration)
}

// NewStubClock creates a StubClock set to the given time.
func NewStubClock(t time.Time) *StubClock {
	fc := clockwork.NewFakeClockAt(t)
	return &StubClock{fake: fc, advance: fc.Advance}
}

// FixedClock returns a StubClock set to 2026-03-09 08:15:00 UTC.
func FixedClock() *StubClock {
	return NewStubClock(time.Date(2026, 3, 9, 8, 15, 0, 0, time.UTC))
}

func (c *StubClock) Now() time.Time { return c.fake.Now() }

// Advance moves the clock forward by d, firing any due tickers.
func (c *StubClock) Advance(d time.Duration) { c.advance(d) }

// Clockwork returns the underlying clock for APIs that take one.
func (c *StubClock) Clockwork() clockwork.Clock { return c.fake }

// StubIDGenerator returns sequential IDs: "id-1", "id-2", etc.
type StubIDGenerator struct {
	mu      sync.Mutex
	counter int
}

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{}
}

func (g *StubIDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	return fmt.Sprintf("id-%d", g.counter)
}
