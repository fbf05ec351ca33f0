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

package timers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Comcast/pulse/pulse"
	"github.com/google/go-cmp/cmp"
)

func runTimers(t *testing.T, max int) (*Timers, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	ts, err := NewTimers(max)
	if err != nil {
		t.Fatal(err)
	}

	go ts.Run(ctx)

	if !ts.Wait(time.Second) {
		cancel()
		t.Fatal("timers didn't start running")
	}

	return ts, cancel
}

func TestTimersBasic(t *testing.T) {
	ts, cancel := runTimers(t, 10)
	defer cancel()

	var (
		mu    sync.Mutex
		heard = make([]string, 0, 8)
	)

	f := func(_ context.Context, t *Timer) {
		mu.Lock()
		heard = append(heard, t.Id)
		mu.Unlock()
	}

	ft := func(id string, d time.Duration) {
		err := ts.Add(&Timer{
			Id: id,
			At: time.Now().Add(d),
			F:  f,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	ft("3", 300*time.Millisecond)
	ft("2", 150*time.Millisecond)
	ft("1", 30*time.Millisecond)
	if err := ts.Rem("2"); err != nil {
		t.Fatal(err)
	}
	ft("5", 450*time.Millisecond)
	ft("4", 360*time.Millisecond)
	if err := ts.Rem("5"); err != nil {
		t.Fatal(err)
	}
	ft("6", 750*time.Millisecond)

	time.Sleep(1500 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	want := []string{"1", "3", "4", "6"}
	if diff := cmp.Diff(want, heard); diff != "" {
		t.Fatalf("firings (-want +got):\n%s", diff)
	}

	if n := ts.Len(); n != 0 {
		t.Fatalf("%d timers still pending", n)
	}
}

func TestTimersErrors(t *testing.T) {
	ts, err := NewTimers(2)
	if err != nil {
		t.Fatal(err)
	}

	noop := func(context.Context, *Timer) {}
	later := time.Now().Add(time.Hour)

	if err := ts.Add(&Timer{Id: "a", At: later, F: noop}); err != NotRunning {
		t.Fatalf("expected NotRunning, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ts.Run(ctx)
	if !ts.Wait(time.Second) {
		t.Fatal("timers didn't start running")
	}
	if err := ts.Run(ctx); err != AlreadyRunning {
		t.Fatalf("expected AlreadyRunning, got %v", err)
	}

	if err := ts.Add(&Timer{Id: "a", At: later, F: noop}); err != nil {
		t.Fatal(err)
	}
	if err := ts.Add(&Timer{Id: "a", At: later, F: noop}); err != IdExists {
		t.Fatalf("expected IdExists, got %v", err)
	}
	if err := ts.Add(&Timer{Id: "b", At: later, F: noop}); err != nil {
		t.Fatal(err)
	}
	if err := ts.Add(&Timer{Id: "c", At: later, F: noop}); err != TooMany {
		t.Fatalf("expected TooMany, got %v", err)
	}
	if err := ts.Rem("c"); err != NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestTimersAfterFunc(t *testing.T) {
	ts, cancel := runTimers(t, 10)
	defer cancel()

	fired := make(chan string, 2)

	stop := ts.AfterFunc(time.Hour, func() {
		fired <- "hour"
	})
	ts.AfterFunc(20*time.Millisecond, func() {
		fired <- "soon"
	})

	select {
	case s := <-fired:
		if s != "soon" {
			t.Fatalf("heard %s", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout")
	}

	if !stop() {
		t.Fatal("pending AfterFunc not stopped")
	}
	if stop() {
		t.Fatal("second stop reported success")
	}
	if n := ts.Len(); n != 0 {
		t.Fatalf("%d timers still pending", n)
	}
}

func TestTimersFull(t *testing.T) {
	ts, cancel := runTimers(t, 1)
	defer cancel()

	if stop := ts.AfterFunc(time.Hour, func() {}); stop == nil {
		t.Fatal("first AfterFunc refused")
	}
	if stop := ts.AfterFunc(time.Hour, func() {}); stop != nil {
		t.Fatal("AfterFunc on a full Timers returned a stop function")
	}

	// A counter that can't be scheduled doesn't claim to be running.
	c, err := pulse.New(pulse.Options{
		Quantum: 1,
		Delay:   time.Millisecond,
		Clock:   ts,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err = c.Start(); !errors.Is(err, pulse.NotScheduled) {
		t.Fatalf("expected NotScheduled, got %v", err)
	}
	if s := c.State(); s != pulse.Idle {
		t.Fatalf("state %v", s)
	}
}

// TestTimersAsClock drives a few counters from one Timers.
func TestTimersAsClock(t *testing.T) {
	ts, cancel := runTimers(t, 16)
	defer cancel()

	var clock pulse.Clock = ts

	counters := make([]*pulse.Counter, 3)
	for i := range counters {
		c, err := pulse.New(pulse.Options{
			Quantum: 1,
			Delay:   10 * time.Millisecond,
			Clock:   clock,
		})
		if err != nil {
			t.Fatal(err)
		}
		counters[i] = c
	}

	done := make(chan bool, len(counters))
	for _, c := range counters {
		var once sync.Once
		c.OnChange(func(ch pulse.Change) {
			if 5 <= ch.Tick {
				once.Do(func() {
					done <- true
				})
			}
		})
		c.Start()
	}

	timeout := time.After(5 * time.Second)
	for range counters {
		select {
		case <-done:
		case <-timeout:
			t.Fatal("counters didn't tick")
		}
	}

	for _, c := range counters {
		c.Stop()
	}

	if n := ts.Len(); n != 0 {
		t.Fatalf("%d timers still pending after Stop", n)
	}
}

func TestManualOrder(t *testing.T) {
	m := NewManual(time.Unix(0, 0))

	var heard []string
	add := func(id string, d time.Duration) func() bool {
		return m.AfterFunc(d, func() {
			heard = append(heard, id)
		})
	}

	add("b", 2*time.Second)
	add("a", time.Second)
	add("c", 2*time.Second)
	stop := add("x", 1500*time.Millisecond)

	if !stop() {
		t.Fatal("stop failed")
	}

	if n := m.Advance(1900 * time.Millisecond); n != 1 {
		t.Fatalf("fired %d", n)
	}
	if n := m.Advance(100 * time.Millisecond); n != 2 {
		t.Fatalf("fired %d", n)
	}

	want := []string{"a", "b", "c"}
	if diff := cmp.Diff(want, heard); diff != "" {
		t.Fatalf("firings (-want +got):\n%s", diff)
	}

	if got, want := m.Now(), time.Unix(2, 0); !got.Equal(want) {
		t.Fatalf("now %v, want %v", got, want)
	}
}

func TestManualSkip(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	fired := 0
	m.AfterFunc(time.Second, func() {
		fired++
	})
	m.Skip(10 * time.Second)
	if fired != 0 {
		t.Fatal("Skip fired a callback")
	}
	if n := m.Advance(0); n != 1 {
		t.Fatalf("Advance(0) fired %d", n)
	}
	if got, want := m.Now(), time.Unix(10, 0); !got.Equal(want) {
		t.Fatalf("now %v, want %v", got, want)
	}
}
