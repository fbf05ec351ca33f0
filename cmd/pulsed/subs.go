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

package main

import (
	"sync"
	"time"
)

// AllRosters is the roster id a Hook can use to hear about every
// roster.
const AllRosters = "*"

// Event reports a counter's tick.
type Event struct {
	Roster  string    `json:"roster"`
	Item    string    `json:"item"`
	Value   float64   `json:"value"`
	Tick    uint64    `json:"tick"`
	At      time.Time `json:"at"`
	Display string    `json:"display,omitempty"`
}

// Hook hears Events.  A Hook is called synchronously from a
// counter's tick, so it shouldn't block.
type Hook func(*Event)

// Subs is a set of Hooks keyed by roster id.
type Subs struct {
	sync.Mutex
	next  uint64
	hooks map[string]map[uint64]Hook
}

func NewSubs() *Subs {
	return &Subs{
		hooks: make(map[string]map[uint64]Hook, 32),
	}
}

// Add registers a Hook for the given roster (or AllRosters).  The
// returned id can be given to Rem.
func (s *Subs) Add(rid string, h Hook) uint64 {
	s.Lock()
	defer s.Unlock()
	s.next++
	hooks, have := s.hooks[rid]
	if !have {
		hooks = make(map[uint64]Hook, 4)
		s.hooks[rid] = hooks
	}
	hooks[s.next] = h
	return s.next
}

// Rem removes the Hook with the given id.
func (s *Subs) Rem(id uint64) bool {
	s.Lock()
	defer s.Unlock()
	for rid, hooks := range s.hooks {
		if _, have := hooks[id]; have {
			delete(hooks, id)
			if len(hooks) == 0 {
				delete(s.hooks, rid)
			}
			return true
		}
	}
	return false
}

// Len returns the number of registered hooks.
func (s *Subs) Len() int {
	s.Lock()
	defer s.Unlock()
	n := 0
	for _, hooks := range s.hooks {
		n += len(hooks)
	}
	return n
}

// Has reports whether any Hook would hear about the roster.
func (s *Subs) Has(rid string) bool {
	s.Lock()
	defer s.Unlock()
	return 0 < len(s.hooks[rid])+len(s.hooks[AllRosters])
}

// Do calls the Hooks for the Event's roster and the AllRosters Hooks.
func (s *Subs) Do(rid string, e *Event) {
	var acc []Hook
	s.Lock()
	for _, k := range []string{rid, AllRosters} {
		for _, h := range s.hooks[k] {
			acc = append(acc, h)
		}
	}
	s.Unlock()
	for _, h := range acc {
		h(e)
	}
}
