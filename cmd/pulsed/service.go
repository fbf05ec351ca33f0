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
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"sort"
	"sync"

	"github.com/Comcast/pulse/helpers"
	"github.com/Comcast/pulse/pulse"
	"github.com/Comcast/pulse/roster"
	"github.com/Comcast/pulse/storage"
)

const (
	// SharedRoster is the roster id used in Events from the
	// shared counter.
	SharedRoster = "_shared"

	// SharedItem is the item id used in Events from the shared
	// counter.
	SharedItem = "clock"
)

var BadId = errors.New("bad id")

// validId reports whether an id is made only of letters, digits, and
// "_.:@-".  Ids end up in MQTT topics and on the index page, so
// anything with meaning there ("/", "+", "#", "`", "|", "<") is out.
var validId = regexp.MustCompile(`^[A-Za-z0-9_.:@-]+$`).MatchString

// Service hosts rosters of per-item counters along with one shared
// counter.
type Service struct {
	sync.Mutex

	Clock     pulse.Clock
	Factory   roster.Factory
	Storage   storage.Storage
	Formatter *helpers.Formatter
	Subs      *Subs

	// Intro is Markdown for the top of the index page.
	Intro string

	shared     *pulse.Counter
	sharedOnce sync.Once

	rosters map[string]*roster.Roster
	watches map[watchKey]*pulse.Subscription
}

type watchKey struct {
	rid, id string
}

// NewService makes a Service.  Items get counters with the given
// options, and the shared counter (which is started on first use)
// gets its own options.
func NewService(clock pulse.Clock, items, shared pulse.Options, st storage.Storage) (*Service, error) {
	if clock == nil {
		clock = pulse.SystemClock
	}
	items.Clock = clock
	shared.Clock = clock
	shared.Id = SharedItem

	// Check the item options now rather than on the first
	// AddItem.
	if _, err := pulse.New(items); err != nil {
		return nil, fmt.Errorf("item counter: %w", err)
	}
	c, err := pulse.New(shared)
	if err != nil {
		return nil, fmt.Errorf("shared counter: %w", err)
	}

	if st == nil {
		st = &storage.NoopStorage{}
	}

	return &Service{
		Clock:     clock,
		Factory:   roster.NewFactory(items),
		Storage:   st,
		Formatter: helpers.DefaultFormatter,
		Subs:      NewSubs(),
		shared:    c,
		rosters:   make(map[string]*roster.Roster, 32),
		watches:   make(map[watchKey]*pulse.Subscription, 32),
	}, nil
}

// Shared returns the shared counter, which is started the first
// time it's requested.
func (s *Service) Shared() *pulse.Counter {
	s.sharedOnce.Do(func() {
		item := &roster.Item{
			Id:      SharedItem,
			Counter: s.shared,
		}
		s.watch(SharedRoster, item)
		if err := s.shared.Start(); err != nil {
			log.Printf("Service.Shared warning: %v", err)
		}
	})
	return s.shared
}

// watch forwards the item's changes to Subs.
func (s *Service) watch(rid string, item *roster.Item) *pulse.Subscription {
	id := item.Id
	sub := item.Counter.OnChange(func(ch pulse.Change) {
		s.publish(rid, id, ch)
	})
	k := watchKey{rid, id}
	s.Lock()
	if old, have := s.watches[k]; have {
		old.Cancel()
	}
	s.watches[k] = sub
	s.Unlock()
	return sub
}

// unwatch cancels the item's Subscription.  If only is given, the
// item's Subscription is cancelled only if it's that one.
func (s *Service) unwatch(rid, id string, only ...*pulse.Subscription) {
	k := watchKey{rid, id}
	s.Lock()
	sub, have := s.watches[k]
	if have && (len(only) == 0 || only[0] == sub) {
		delete(s.watches, k)
	} else {
		have = false
	}
	s.Unlock()
	if have {
		sub.Cancel()
	}
}

func (s *Service) publish(rid, id string, ch pulse.Change) {
	if !s.Subs.Has(rid) {
		return
	}
	e := &Event{
		Roster: rid,
		Item:   id,
		Value:  ch.Value,
		Tick:   ch.Tick,
		At:     ch.At,
	}
	e.Display = s.Render(context.Background(), ch)
	s.Subs.Do(rid, e)
}

// Render formats the Change with the service's Formatter.  A
// formatting error is logged, and the result is empty.
func (s *Service) Render(ctx context.Context, ch pulse.Change) string {
	if s.Formatter == nil {
		return ""
	}
	d, err := s.Formatter.Format(ctx, ch)
	if err != nil {
		log.Printf("Service.Render warning: %v", err)
		return ""
	}
	return d
}

func (s *Service) findRoster(rid string) (*roster.Roster, error) {
	s.Lock()
	r, have := s.rosters[rid]
	s.Unlock()
	if !have {
		return nil, fmt.Errorf("roster %s: %w", rid, roster.NotFound)
	}
	return r, nil
}

// RosterIds returns the ids of the rosters in order.
func (s *Service) RosterIds() []string {
	s.Lock()
	acc := make([]string, 0, len(s.rosters))
	for rid := range s.rosters {
		acc = append(acc, rid)
	}
	s.Unlock()
	sort.Strings(acc)
	return acc
}

// MakeRoster is a service-level API to create a roster.
func (s *Service) MakeRoster(ctx context.Context, rid string) error {
	if rid == SharedRoster || !validId(rid) {
		return fmt.Errorf("roster '%s': %w", rid, BadId)
	}

	t := NewOpTimer("makeRoster")
	defer t.StopLog()

	s.Lock()
	defer s.Unlock()

	if _, have := s.rosters[rid]; have {
		return fmt.Errorf("roster %s: %w", rid, roster.Exists)
	}
	if err := s.Storage.MakeRoster(ctx, rid); err != nil {
		return err
	}
	s.rosters[rid] = roster.New(rid, s.Factory)
	return nil
}

// RemRoster is a service-level API to remove a roster.  All of its
// counters are stopped.
func (s *Service) RemRoster(ctx context.Context, rid string) error {
	t := NewOpTimer("remRoster")
	defer t.StopLog()

	s.Lock()
	r, have := s.rosters[rid]
	delete(s.rosters, rid)
	s.Unlock()

	if !have {
		return fmt.Errorf("roster %s: %w", rid, roster.NotFound)
	}

	r.Close()
	for _, id := range r.Ids() {
		s.unwatch(rid, id)
	}

	return s.Storage.RemRoster(ctx, rid)
}

func (s *Service) write(ctx context.Context, rid string, item *roster.Item) error {
	ss := storage.AsSnapshots([]*roster.Status{item.Status()})
	if err := s.Storage.WriteSnapshots(ctx, rid, ss); err != nil {
		log.Printf("Service.write warning for '%s' failed WriteSnapshots: %s", rid, err)
		return err
	}
	return nil
}

// AddItem is a service-level API to add an item (and start its
// counter).
func (s *Service) AddItem(ctx context.Context, rid, id string) (*roster.Status, error) {
	if !validId(id) {
		return nil, fmt.Errorf("item '%s': %w", id, BadId)
	}

	t := NewOpTimer("addItem")
	defer t.StopLog()

	r, err := s.findRoster(rid)
	if err != nil {
		return nil, err
	}
	item, err := r.Add(id)
	if err != nil {
		return nil, fmt.Errorf("item %s/%s: %w", rid, id, err)
	}
	sub := s.watch(rid, item)

	// The roster might have been removed since we found it.  If
	// so, Close already stopped the counter, and the
	// Subscription must go too.
	if still, _ := s.findRoster(rid); still != r {
		s.unwatch(rid, id, sub)
		sub.Cancel()
		return nil, fmt.Errorf("item %s/%s: %w", rid, id, roster.Closed)
	}

	return item.Status(), s.write(ctx, rid, item)
}

// RemItem is a service-level API to remove an item.  The item's
// counter is stopped.
func (s *Service) RemItem(ctx context.Context, rid, id string) error {
	t := NewOpTimer("remItem")
	defer t.StopLog()

	r, err := s.findRoster(rid)
	if err != nil {
		return err
	}
	if err = r.Rem(id); err != nil {
		return fmt.Errorf("item %s/%s: %w", rid, id, err)
	}
	s.unwatch(rid, id)

	ss := []*storage.Snapshot{
		{
			Id:      id,
			Deleted: true,
		},
	}
	return s.Storage.WriteSnapshots(ctx, rid, ss)
}

func (s *Service) findItem(rid, id string) (*roster.Item, error) {
	r, err := s.findRoster(rid)
	if err != nil {
		return nil, err
	}
	item, err := r.Get(id)
	if err != nil {
		return nil, fmt.Errorf("item %s/%s: %w", rid, id, err)
	}
	return item, nil
}

// StartItem (re)starts an item's counter.
func (s *Service) StartItem(ctx context.Context, rid, id string) (*roster.Status, error) {
	item, err := s.findItem(rid, id)
	if err != nil {
		return nil, err
	}
	if err = item.Counter.Start(); err != nil {
		return nil, fmt.Errorf("item %s/%s: %w", rid, id, err)
	}
	return item.Status(), s.write(ctx, rid, item)
}

// StopItem stops an item's counter without removing the item.
func (s *Service) StopItem(ctx context.Context, rid, id string) (*roster.Status, error) {
	item, err := s.findItem(rid, id)
	if err != nil {
		return nil, err
	}
	item.Counter.Stop()
	return item.Status(), s.write(ctx, rid, item)
}

// Get reports an item's status.
func (s *Service) Get(ctx context.Context, rid, id string) (*roster.Status, error) {
	item, err := s.findItem(rid, id)
	if err != nil {
		return nil, err
	}
	return item.Status(), nil
}

// List reports the status of every item in the roster.
func (s *Service) List(ctx context.Context, rid string) ([]*roster.Status, error) {
	r, err := s.findRoster(rid)
	if err != nil {
		return nil, err
	}
	return r.Snapshot(), nil
}

// Snapshot writes every roster to Storage.
func (s *Service) Snapshot(ctx context.Context) error {
	t := NewOpTimer("snapshot")
	defer t.StopLog()

	var err error
	for _, rid := range s.RosterIds() {
		r, e := s.findRoster(rid)
		if e != nil {
			// Removed in the meantime.
			continue
		}
		ss := storage.AsSnapshots(r.Snapshot())
		if e = s.Storage.WriteSnapshots(ctx, rid, ss); e != nil {
			err = NewWrappedError(fmt.Errorf("roster %s: %w", rid, e), err)
		}
	}
	return err
}

// Restore loads all rosters from Storage.  Counters that were
// running when they were written are started.
func (s *Service) Restore(ctx context.Context) error {
	t := NewOpTimer("restore")
	defer t.StopLog()

	rids, err := s.Storage.Rosters(ctx)
	if err != nil {
		return err
	}
	for _, rid := range rids {
		if rid == SharedRoster || !validId(rid) {
			log.Printf("Service.Restore ignoring roster '%s': %v", rid, BadId)
			continue
		}
		ss, err := s.Storage.GetRoster(ctx, rid)
		if err != nil {
			return fmt.Errorf("roster %s: %w", rid, err)
		}

		r := roster.New(rid, s.Factory)
		if err = storage.Restore(r, ss, s.Clock); err != nil {
			r.Close()
			return fmt.Errorf("roster %s: %w", rid, err)
		}

		s.Lock()
		_, have := s.rosters[rid]
		if !have {
			s.rosters[rid] = r
		}
		s.Unlock()

		if have {
			r.Close()
			log.Printf("Service.Restore ignoring existing roster %s", rid)
			continue
		}

		for _, id := range r.Ids() {
			item, err := r.Get(id)
			if err != nil {
				continue
			}
			s.watch(rid, item)
		}
		log.Printf("Service.Restore roster %s with %d items", rid, r.Len())
	}
	return nil
}

// Close writes a final snapshot and then stops every counter.
func (s *Service) Close(ctx context.Context) error {
	err := s.Snapshot(ctx)
	for _, rid := range s.RosterIds() {
		if r, e := s.findRoster(rid); e == nil {
			r.Close()
		}
	}
	s.shared.Stop()
	return err
}
