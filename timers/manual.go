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
	"sort"
	"sync"
	"time"
)

type pending struct {
	seq uint64
	at  time.Time
	f   func()
}

// Manual is a clock that only advances when told to.
//
// Callbacks run synchronously in Advance, in order of their
// scheduled times (ties broken by scheduling order).
type Manual struct {
	sync.Mutex
	now     time.Time
	seq     uint64
	pending []*pending
}

// NewManual makes a Manual clock that starts at the given time.
func NewManual(start time.Time) *Manual {
	return &Manual{
		now: start,
	}
}

func (m *Manual) Now() time.Time {
	m.Lock()
	now := m.now
	m.Unlock()
	return now
}

func (m *Manual) AfterFunc(d time.Duration, f func()) func() bool {
	m.Lock()
	m.seq++
	p := &pending{
		seq: m.seq,
		at:  m.now.Add(d),
		f:   f,
	}
	i := sort.Search(len(m.pending), func(i int) bool {
		return m.pending[i].at.After(p.at)
	})
	m.pending = append(m.pending, nil)
	copy(m.pending[i+1:], m.pending[i:])
	m.pending[i] = p
	m.Unlock()

	return func() bool {
		m.Lock()
		defer m.Unlock()
		for i, x := range m.pending {
			if x == p {
				m.pending = append(m.pending[:i], m.pending[i+1:]...)
				return true
			}
		}
		return false
	}
}

// Advance moves the clock forward by d, firing every callback that
// comes due along the way (including ones scheduled by callbacks).
// Returns the number of callbacks fired.
func (m *Manual) Advance(d time.Duration) int {
	m.Lock()
	target := m.now.Add(d)
	m.Unlock()

	fired := 0
	for {
		m.Lock()
		if len(m.pending) == 0 || m.pending[0].at.After(target) {
			m.now = target
			m.Unlock()
			return fired
		}
		p := m.pending[0]
		m.pending = m.pending[1:]
		if m.now.Before(p.at) {
			m.now = p.at
		}
		m.Unlock()

		p.f()
		fired++
	}
}

// Skip moves the clock forward without firing anything, like a host
// that was suspended.  A subsequent Advance fires what's overdue.
func (m *Manual) Skip(d time.Duration) {
	m.Lock()
	m.now = m.now.Add(d)
	m.Unlock()
}

// Pending returns the number of callbacks waiting to fire.
func (m *Manual) Pending() int {
	m.Lock()
	n := len(m.pending)
	m.Unlock()
	return n
}
