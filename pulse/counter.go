/* Copyright 2023 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package pulse

import (
	"errors"
	"log"
	"sync"
	"time"
)

var (
	BadQuantum = errors.New("quantum must be positive")
	BadDelay   = errors.New("delay must be positive")

	// NotScheduled means the Clock refused to schedule a tick.
	NotScheduled = errors.New("clock refused to schedule a tick")
)

// State is either Idle or Running.
type State int

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	default:
		return "unknown"
	}
}

// Change is what an Observer hears after each tick.
type Change struct {
	// Value is the post-increment value.
	Value float64 `json:"value"`

	// Tick is the number of ticks since the Counter was created
	// (or restored).  The first tick is 1.
	Tick uint64 `json:"tick"`

	// At is the Clock's time when the tick ran.
	At time.Time `json:"at"`
}

// Observer is a function that will hear about every Change.
type Observer func(Change)

// Options configure a new Counter.
type Options struct {
	// Id is just a label used when logging.
	Id string `json:"id,omitempty" yaml:"id,omitempty"`

	// Initial is the value before any ticks.
	Initial float64 `json:"initial" yaml:"initial"`

	// Quantum is added to the value on every tick.
	Quantum float64 `json:"quantum" yaml:"quantum"`

	// Delay is the pause between the end of one tick and the
	// start of the next one.
	Delay time.Duration `json:"delay" yaml:"delay"`

	// Ticks preloads the tick count, which is useful when
	// restoring a Counter.
	Ticks uint64 `json:"ticks,omitempty" yaml:"ticks,omitempty"`

	// CatchUp makes the Counter apply ticks that were missed
	// because the host wasn't running.
	CatchUp bool `json:"catchUp,omitempty" yaml:"catchUp,omitempty"`

	// Clock defaults to SystemClock.
	Clock Clock `json:"-" yaml:"-"`

	Debug bool `json:"-" yaml:"-"`
}

// DefaultOptions is the documented clock example: a quarter every
// 250ms.
var DefaultOptions = Options{
	Quantum: 0.25,
	Delay:   250 * time.Millisecond,
}

// Counter is a value that increments itself periodically.
type Counter struct {
	Id    string
	Debug bool

	initial float64
	quantum float64
	delay   time.Duration
	catchUp bool
	clock   Clock

	mu    sync.Mutex
	state State
	ticks uint64

	// gen identifies the current run.  A tick from an earlier
	// run finds a different gen and does nothing.
	gen uint64

	// stop cancels the pending re-arm, if any.
	stop func() bool

	// ticking is true while a tick is incrementing and notifying.
	// A Start during that time leaves arming to the tick.
	ticking bool

	// anchor and anchorTicks are the time and tick count when
	// the current run started.  Only CatchUp uses them.
	anchor      time.Time
	anchorTicks uint64

	// subs is replaced (never modified in place) so that a
	// notification can iterate over a snapshot.
	subs []*Subscription
}

// New makes a new, Idle Counter.
func New(opts Options) (*Counter, error) {
	if !(0 < opts.Quantum) {
		return nil, BadQuantum
	}
	if opts.Delay <= 0 {
		return nil, BadDelay
	}
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock
	}
	return &Counter{
		Id:      opts.Id,
		Debug:   opts.Debug,
		initial: opts.Initial,
		quantum: opts.Quantum,
		delay:   opts.Delay,
		catchUp: opts.CatchUp,
		clock:   clock,
		ticks:   opts.Ticks,
	}, nil
}

// Options returns options that would make a copy of this Counter
// (with its current tick count).
func (c *Counter) Options() Options {
	c.mu.Lock()
	ticks := c.ticks
	c.mu.Unlock()
	return Options{
		Id:      c.Id,
		Initial: c.initial,
		Quantum: c.quantum,
		Delay:   c.delay,
		Ticks:   ticks,
		CatchUp: c.catchUp,
		Clock:   c.clock,
		Debug:   c.Debug,
	}
}

// Start begins ticking.  Starting a Running Counter does nothing.
//
// Returns NotScheduled (and leaves the Counter Idle) if the Clock
// won't schedule the first tick.
func (c *Counter) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Running {
		c.debugf("already running")
		return nil
	}
	c.state = Running
	c.gen++
	c.anchor = c.clock.Now()
	c.anchorTicks = c.ticks
	c.debugf("start gen %d at %v", c.gen, c.value())
	if c.ticking {
		// The tick in progress will arm this run when it's
		// done.
		return nil
	}
	if !c.arm(c.gen) {
		return NotScheduled
	}
	return nil
}

// Stop cancels the pending tick (if any).  Stopping an Idle Counter
// does nothing.  A stopped Counter can be started again.
func (c *Counter) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Running {
		return
	}
	c.state = Idle
	if c.stop != nil {
		c.stop()
		c.stop = nil
	}
	c.debugf("stop gen %d at %v", c.gen, c.value())
}

// Value returns the current value.
func (c *Counter) Value() float64 {
	c.mu.Lock()
	v := c.value()
	c.mu.Unlock()
	return v
}

// Current returns a Change describing the current value as of now.
func (c *Counter) Current() Change {
	c.mu.Lock()
	ch := Change{
		Value: c.value(),
		Tick:  c.ticks,
	}
	c.mu.Unlock()
	ch.At = c.clock.Now()
	return ch
}

// Ticks returns the number of ticks so far.
func (c *Counter) Ticks() uint64 {
	c.mu.Lock()
	n := c.ticks
	c.mu.Unlock()
	return n
}

// State reports whether the Counter is Idle or Running.
func (c *Counter) State() State {
	c.mu.Lock()
	s := c.state
	c.mu.Unlock()
	return s
}

// Quantum returns the per-tick increment.
func (c *Counter) Quantum() float64 {
	return c.quantum
}

// Delay returns the pause between ticks.
func (c *Counter) Delay() time.Duration {
	return c.delay
}

// Observers returns the number of registered observers.
func (c *Counter) Observers() int {
	c.mu.Lock()
	n := len(c.subs)
	c.mu.Unlock()
	return n
}

// value computes the current value from the tick count.
//
// Not thread-safe.
func (c *Counter) value() float64 {
	return c.initial + float64(c.ticks)*c.quantum
}

// arm schedules the next tick.  If the Clock refuses, the Counter
// goes Idle.
//
// Not thread-safe.
func (c *Counter) arm(gen uint64) bool {
	stop := c.clock.AfterFunc(c.delay, func() {
		c.tick(gen)
	})
	if stop == nil {
		log.Printf("pulse %s: %v; now idle at %v", c.Id, NotScheduled, c.value())
		c.state = Idle
		return false
	}
	c.stop = stop
	return true
}

// live reports whether the given run is still the current one.
//
// Not thread-safe.
func (c *Counter) live(gen uint64) bool {
	return c.state == Running && c.gen == gen
}

// tick increments, notifies, and then re-arms.
func (c *Counter) tick(gen uint64) {
	c.mu.Lock()
	if !c.live(gen) {
		c.debugf("orphaned tick for gen %d", gen)
		c.mu.Unlock()
		return
	}
	c.stop = nil
	c.ticking = true
	now := c.clock.Now()
	n := uint64(1)
	if c.catchUp {
		due := uint64(now.Sub(c.anchor) / c.delay)
		done := c.ticks - c.anchorTicks
		if done+1 < due {
			n = due - done
			c.debugf("catching up %d ticks", n)
		}
	}
	c.mu.Unlock()

	for i := uint64(0); i < n; i++ {
		c.mu.Lock()
		if !c.live(gen) {
			// Stopped (and maybe restarted) since.
			c.mu.Unlock()
			break
		}
		c.ticks++
		ch := Change{
			Value: c.value(),
			Tick:  c.ticks,
			At:    now,
		}
		subs := c.subs
		c.mu.Unlock()

		c.notify(subs, ch)
	}

	// Arm whatever run is current now, which might have been
	// started while we were notifying.
	c.mu.Lock()
	c.ticking = false
	if c.state == Running && c.stop == nil {
		c.arm(c.gen)
	}
	c.mu.Unlock()
}

func (c *Counter) notify(subs []*Subscription, ch Change) {
	for _, s := range subs {
		c.mu.Lock()
		cancelled := s.cancelled
		c.mu.Unlock()
		if cancelled {
			continue
		}
		s.f(ch)
	}
}

func (c *Counter) debugf(format string, args ...interface{}) {
	if c.Debug {
		log.Printf("debug pulse %s "+format, append([]interface{}{c.Id}, args...)...)
	}
}

// Subscription is the handle returned by OnChange.
type Subscription struct {
	c         *Counter
	f         Observer
	cancelled bool
}

// OnChange registers the given Observer, which will be called
// (synchronously, in the Counter's tick) after every increment.
//
// The Observer may call any Counter method including Stop and
// Subscription.Cancel.
func (c *Counter) OnChange(f Observer) *Subscription {
	s := &Subscription{
		c: c,
		f: f,
	}
	c.mu.Lock()
	subs := make([]*Subscription, len(c.subs), len(c.subs)+1)
	copy(subs, c.subs)
	c.subs = append(subs, s)
	c.mu.Unlock()
	return s
}

// Cancel unregisters the Observer.  The Observer won't be called
// again, even if Cancel is called during a notification that other
// observers have yet to receive.
//
// Returns false if the Subscription was already cancelled.
func (s *Subscription) Cancel() bool {
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()

	if s.cancelled {
		return false
	}
	s.cancelled = true
	subs := make([]*Subscription, 0, len(c.subs))
	for _, x := range c.subs {
		if x != s {
			subs = append(subs, x)
		}
	}
	c.subs = subs
	return true
}
