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

package bolt

import (
	"context"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/Comcast/pulse/pulse"
	"github.com/Comcast/pulse/roster"
	"github.com/Comcast/pulse/storage"
	"github.com/Comcast/pulse/timers"
	"github.com/google/go-cmp/cmp"
)

func TestImpl(t *testing.T) {
	// Just confirm that this code compiles.
	var _ storage.Storage = &Storage{}
	var _ storage.Storage = &storage.NoopStorage{}
}

func open(t *testing.T) (*Storage, context.Context) {
	filename := filepath.Join(t.TempDir(), "pulse.db")

	s, err := NewStorage(filename)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	if err := s.Open(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := s.Close(ctx); err != nil {
			t.Fatal(err)
		}
	})

	return s, ctx
}

func TestBasics(t *testing.T) {
	s, ctx := open(t)

	rid := "comments"

	if err := s.MakeRoster(ctx, rid); err != nil {
		t.Fatal(err)
	}

	ss := []*storage.Snapshot{
		{
			Id:      "a",
			Quantum: 0.25,
			Delay:   250 * time.Millisecond,
			Ticks:   8,
			Value:   2,
			Running: true,
		},
		{
			Id:      "b",
			Initial: 10,
			Quantum: 1,
			Delay:   time.Second,
			Ticks:   3,
			Value:   13,
		},
	}

	if err := s.WriteSnapshots(ctx, rid, ss); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetRoster(ctx, rid)
	if err != nil {
		t.Fatal(err)
	}
	sort.Slice(got, func(i, j int) bool {
		return got[i].Id < got[j].Id
	})
	if diff := cmp.Diff(ss, got); diff != "" {
		t.Fatalf("snapshots (-want +got):\n%s", diff)
	}

	// Delete b.
	if err := s.WriteSnapshots(ctx, rid, []*storage.Snapshot{{Id: "b", Deleted: true}}); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetRoster(ctx, rid)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Id != "a" {
		t.Fatalf("after delete: %#v", got)
	}

	rids, err := s.Rosters(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{rid}, rids); diff != "" {
		t.Fatalf("rosters (-want +got):\n%s", diff)
	}

	if err := s.RemRoster(ctx, rid); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetRoster(ctx, rid)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("removed roster has %d items", len(got))
	}

	if err := s.MakeRoster(ctx, rid); err != nil {
		t.Fatal(err)
	}
	if err := s.MakeRoster(ctx, rid); err == nil {
		t.Fatal("duplicate MakeRoster should have failed")
	}
}

func TestRoundTrip(t *testing.T) {
	s, ctx := open(t)

	m := timers.NewManual(time.Unix(0, 0))
	opts := pulse.DefaultOptions
	opts.Clock = m

	r := roster.New("comments", roster.NewFactory(opts))
	for _, id := range []string{"a", "b"} {
		if _, err := r.Add(id); err != nil {
			t.Fatal(err)
		}
		m.Advance(time.Second)
	}
	item, err := r.Get("b")
	if err != nil {
		t.Fatal(err)
	}
	item.Counter.Stop()

	if err := s.WriteSnapshots(ctx, r.Id, storage.AsSnapshots(r.Snapshot())); err != nil {
		t.Fatal(err)
	}

	ss, err := s.GetRoster(ctx, r.Id)
	if err != nil {
		t.Fatal(err)
	}

	restored := roster.New(r.Id, roster.NewFactory(opts))
	if err := storage.Restore(restored, ss, m); err != nil {
		t.Fatal(err)
	}

	a, err := restored.Get("a")
	if err != nil {
		t.Fatal(err)
	}
	b, err := restored.Get("b")
	if err != nil {
		t.Fatal(err)
	}

	if v := a.Counter.Value(); v != 2 {
		t.Fatalf("a %v", v)
	}
	if v := b.Counter.Value(); v != 1 {
		t.Fatalf("b %v", v)
	}
	if st := b.Counter.State(); st != pulse.Idle {
		t.Fatalf("b %v", st)
	}

	// The original a is still ticking, so stop it before
	// advancing.
	r.Close()
	m.Advance(time.Second)
	if v := a.Counter.Value(); v != 3 {
		t.Fatalf("restored a %v", v)
	}
	if v := b.Counter.Value(); v != 1 {
		t.Fatalf("restored b %v", v)
	}
}

func TestNotOpen(t *testing.T) {
	s, err := NewStorage("nowhere.db")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.MakeRoster(context.Background(), "x"); err != NotOpen {
		t.Fatalf("expected NotOpen, got %v", err)
	}
}
