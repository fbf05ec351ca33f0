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

// Package roster manages a set of per-item pulse counters.
//
// Think of a list of comments, each of which displays how long ago it
// was posted.  Every item gets its own counter from the Roster's
// Factory.  Removing an item stops its counter.  No counter outlives
// its item.
package roster

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Comcast/pulse/pulse"
)

var (
	NotFound = errors.New("not found")
	Exists   = errors.New("exists")
)

// Closed is returned when adding to a Roster that has been closed.
// It's also a NotFound.
var Closed = fmt.Errorf("roster closed: %w", NotFound)

// Factory makes a new counter for the given item.
type Factory func(id string) (*pulse.Counter, error)

// NewFactory returns a Factory that makes counters with the given
// options.
func NewFactory(opts pulse.Options) Factory {
	return func(id string) (*pulse.Counter, error) {
		o := opts
		o.Id = id
		return pulse.New(o)
	}
}

// Item is a counter in a Roster.
type Item struct {
	Id      string         `json:"id"`
	Counter *pulse.Counter `json:"-"`
}

// Status is a point-in-time view of an Item.
type Status struct {
	Id      string        `json:"id"`
	Value   float64       `json:"value"`
	Ticks   uint64        `json:"ticks"`
	State   string        `json:"state"`
	Options pulse.Options `json:"options"`
}

// Roster is a set of Items.
type Roster struct {
	sync.RWMutex

	Id      string           `json:"id"`
	Items   map[string]*Item `json:"items"`
	Factory Factory          `json:"-"`

	closed bool
}

// New makes an empty Roster.
func New(id string, f Factory) *Roster {
	return &Roster{
		Id:      id,
		Items:   make(map[string]*Item, 8),
		Factory: f,
	}
}

// Add makes a counter for a new item and starts it.
func (r *Roster) Add(id string) (*Item, error) {
	c, err := r.make(id)
	if err != nil {
		return nil, err
	}
	if err = c.Start(); err != nil {
		return nil, err
	}
	return r.Put(id, c)
}

func (r *Roster) make(id string) (*pulse.Counter, error) {
	r.RLock()
	_, have := r.Items[id]
	r.RUnlock()
	if have {
		return nil, Exists
	}
	return r.Factory(id)
}

// Put adds an existing counter (perhaps a restored one) as an item.
// Put doesn't start the counter.  If the id is taken, Put stops the
// given counter and returns Exists.
func (r *Roster) Put(id string, c *pulse.Counter) (*Item, error) {
	r.Lock()
	defer r.Unlock()

	if r.closed {
		c.Stop()
		return nil, Closed
	}
	if _, have := r.Items[id]; have {
		c.Stop()
		return nil, Exists
	}
	item := &Item{
		Id:      id,
		Counter: c,
	}
	r.Items[id] = item
	return item, nil
}

// Rem stops the item's counter and removes the item.
func (r *Roster) Rem(id string) error {
	r.Lock()
	item, have := r.Items[id]
	if have {
		delete(r.Items, id)
	}
	r.Unlock()

	if !have {
		return NotFound
	}
	item.Counter.Stop()
	return nil
}

// Get finds the item with the given id.
func (r *Roster) Get(id string) (*Item, error) {
	r.RLock()
	item, have := r.Items[id]
	r.RUnlock()
	if !have {
		return nil, NotFound
	}
	return item, nil
}

// Ids returns the item ids in order.
func (r *Roster) Ids() []string {
	r.RLock()
	acc := make([]string, 0, len(r.Items))
	for id := range r.Items {
		acc = append(acc, id)
	}
	r.RUnlock()
	sort.Strings(acc)
	return acc
}

// Len returns the number of items.
func (r *Roster) Len() int {
	r.RLock()
	n := len(r.Items)
	r.RUnlock()
	return n
}

// Close stops every item's counter and refuses any more items.  The
// existing items remain for a final Snapshot.
func (r *Roster) Close() {
	r.Lock()
	r.closed = true
	for _, item := range r.Items {
		item.Counter.Stop()
	}
	r.Unlock()
}

// Snapshot returns the status of every item (ordered by id).
func (r *Roster) Snapshot() []*Status {
	ids := r.Ids()
	acc := make([]*Status, 0, len(ids))
	for _, id := range ids {
		item, err := r.Get(id)
		if err != nil {
			// Removed while we were looking.
			continue
		}
		acc = append(acc, item.Status())
	}
	return acc
}

// Status reports the Item's current status.
func (item *Item) Status() *Status {
	c := item.Counter
	opts := c.Options()
	return &Status{
		Id:      item.Id,
		Value:   opts.Initial + float64(opts.Ticks)*opts.Quantum,
		Ticks:   opts.Ticks,
		State:   c.State().String(),
		Options: opts,
	}
}
