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

// Package timers provides clocks for pulse counters.
//
// Timers multiplexes a set of pending callbacks onto one time.Timer.
// A service that hosts hundreds of counters (one per list item, say)
// can give all of them the same Timers as their Clock.  Each counter
// has at most one pending tick, so the backlog is about as long as
// the number of running counters.
//
// The backlog is a slice ordered by ascending trigger time.  The Run
// loop sleeps until the head of that slice is due or until a new
// timer lands at the head.  Due work runs in new goroutines.  That's
// fine for a few hundred timers, not for many thousands of timers
// that fire within a narrow window.
//
// Manual is a Clock that only moves when told to.  Use it in tests.
package timers

import (
	"context"
	"errors"
	"log"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

var (
	NotFound       = errors.New("not found")
	TooMany        = errors.New("too many")
	IdExists       = errors.New("id exists")
	NotRunning     = errors.New("not running")
	AlreadyRunning = errors.New("already running")
)

const (
	notRunning = int64(iota)
	running
)

// Timer represents some work to be done in the future.
type Timer struct {
	// Id is a unique identifier across all timers managed by a
	// given Timers instance.
	Id string `json:"id"`

	// F is the work to be performed in the future.
	F func(context.Context, *Timer) `json:"-"`

	// At is the desired time to execute F.
	At time.Time `json:"at"`

	// Executed is the time that F was actually started.
	Executed time.Time `json:"executed"`
}

// Timers is a managed set of Timer instances.
//
// You need to Run the Timers before calling Add.
type Timers struct {
	Max   int  `json:"max"`
	Debug bool `json:"-"`

	sync.Mutex
	backlog []*Timer
	wake    chan struct{}
	running int64
	ready   chan struct{}
	once    sync.Once
	seq     uint64
}

// NewTimers makes a new instance with the given maximum number of
// pending timers.
func NewTimers(max int) (*Timers, error) {
	if max <= 0 {
		return nil, errors.New("max must be positive")
	}
	initial := max / 4
	if initial < 8 {
		initial = 8
	}
	return &Timers{
		Max:     max,
		backlog: make([]*Timer, 0, initial),
		wake:    make(chan struct{}, 1),
		ready:   make(chan struct{}),
	}, nil
}

// Run processes timers in the current goroutine until the context
// is done.  This method must be running to use the Timers instance.
func (ts *Timers) Run(ctx context.Context) error {
	if !atomic.CompareAndSwapInt64(&ts.running, notRunning, running) {
		return AlreadyRunning
	}
	defer atomic.StoreInt64(&ts.running, notRunning)

	ts.once.Do(func() {
		close(ts.ready)
	})

	for {
		now := time.Now()
		due, next := ts.due(now)
		for _, t := range due {
			ts.debugf("timer %s firing (late %s)", t.Id, now.Sub(t.At))
			t.Executed = now
			go t.F(ctx, t)
		}

		var (
			timer *time.Timer
			fired <-chan time.Time
		)
		if !next.IsZero() {
			timer = time.NewTimer(next.Sub(now))
			fired = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case <-ts.wake:
			ts.debugf("wake")
		case <-fired:
		}

		if timer != nil {
			timer.Stop()
		}
	}
}

// due removes and returns the timers that are due at the given time.
// Also returns the time of the next pending timer (or zero).
func (ts *Timers) due(now time.Time) ([]*Timer, time.Time) {
	ts.Lock()
	defer ts.Unlock()

	i := sort.Search(len(ts.backlog), func(i int) bool {
		return ts.backlog[i].At.After(now)
	})
	var acc []*Timer
	if 0 < i {
		acc = make([]*Timer, i)
		copy(acc, ts.backlog[:i])
		n := copy(ts.backlog, ts.backlog[i:])
		// Try to avoid leaks.
		for j := n; j < len(ts.backlog); j++ {
			ts.backlog[j] = nil
		}
		ts.backlog = ts.backlog[:n]
	}

	var next time.Time
	if 0 < len(ts.backlog) {
		next = ts.backlog[0].At
	}
	return acc, next
}

// IsRunning tries to report whether the Run method is currently
// executing.
func (ts *Timers) IsRunning() bool {
	return atomic.LoadInt64(&ts.running) == running
}

// Wait waits (up to the given timeout) for Run to start.
func (ts *Timers) Wait(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-timer.C:
		return false
	case <-ts.ready:
		return true
	}
}

// Len returns the number of pending timers.
func (ts *Timers) Len() int {
	ts.Lock()
	n := len(ts.backlog)
	ts.Unlock()
	return n
}

// Add adds the given timer to the Timers instance.
func (ts *Timers) Add(t *Timer) error {
	ts.debugf("add %s %s", t.Id, t.At.Sub(time.Now()))

	if !ts.IsRunning() {
		return NotRunning
	}

	ts.Lock()
	defer ts.Unlock()

	if len(ts.backlog) == ts.Max {
		return TooMany
	}
	for _, x := range ts.backlog {
		if x.Id == t.Id {
			return IdExists
		}
	}

	i := sort.Search(len(ts.backlog), func(i int) bool {
		return ts.backlog[i].At.After(t.At)
	})
	ts.backlog = append(ts.backlog, nil)
	copy(ts.backlog[i+1:], ts.backlog[i:])
	ts.backlog[i] = t

	if i == 0 {
		ts.poke()
	}

	return nil
}

// Rem removes the given timer from the Timers instance.
func (ts *Timers) Rem(id string) error {
	ts.debugf("rem %s", id)

	ts.Lock()
	defer ts.Unlock()

	for i, t := range ts.backlog {
		if t.Id == id {
			copy(ts.backlog[i:], ts.backlog[i+1:])
			ts.backlog[len(ts.backlog)-1] = nil
			ts.backlog = ts.backlog[:len(ts.backlog)-1]
			return nil
		}
	}

	return NotFound
}

// poke wakes up the Run loop so that it can reconsider the head of
// the backlog.
func (ts *Timers) poke() {
	select {
	case ts.wake <- struct{}{}:
	default:
	}
}

// Now returns the current time, which lets a Timers serve as a
// pulse.Clock.
func (ts *Timers) Now() time.Time {
	return time.Now()
}

// AfterFunc adds an anonymous Timer that calls f after d.  The
// returned function removes that Timer if it's still pending.
//
// If the Timer can't be added (the Timers isn't running or is
// full), the error is logged and AfterFunc returns nil.
func (ts *Timers) AfterFunc(d time.Duration, f func()) func() bool {
	id := "after-" + strconv.FormatUint(atomic.AddUint64(&ts.seq, 1), 10)
	t := &Timer{
		Id: id,
		At: time.Now().Add(d),
		F: func(_ context.Context, _ *Timer) {
			f()
		},
	}
	if err := ts.Add(t); err != nil {
		log.Printf("Timers.AfterFunc %s error %v", id, err)
		return nil
	}
	return func() bool {
		return ts.Rem(id) == nil
	}
}

func (ts *Timers) debugf(format string, args ...interface{}) {
	if ts.Debug {
		log.Printf("debug timers "+format, args...)
	}
}
