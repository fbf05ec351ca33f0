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

package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/Comcast/pulse/pulse"
	"github.com/Comcast/pulse/roster"
)

// Snapshot is a presentation of a counter as stored in a Storage
// system.
type Snapshot struct {
	// Id is the item id.
	Id string `json:"id,omitempty"`

	Initial float64       `json:"initial"`
	Quantum float64       `json:"quantum"`
	Delay   time.Duration `json:"delay"`
	Ticks   uint64        `json:"ticks"`
	CatchUp bool          `json:"catchUp,omitempty"`

	// Value is redundant but handy for humans poking at the
	// database.
	Value float64 `json:"value"`

	Running bool `json:"running"`

	// Deleted indicates that this item has been deleted.
	Deleted bool `json:"-"`
}

// Storage is a persistence interface for rosters.
type Storage interface {
	MakeRoster(ctx context.Context, rid string) error

	RemRoster(ctx context.Context, rid string) error

	// GetRoster returns the roster's snapshots.  An unknown
	// roster yields no snapshots and no error.
	GetRoster(ctx context.Context, rid string) ([]*Snapshot, error)

	// Rosters lists the known roster ids.
	Rosters(ctx context.Context) ([]string, error)

	WriteSnapshots(ctx context.Context, rid string, ss []*Snapshot) error

	Open(ctx context.Context) error

	Close(ctx context.Context) error
}

// AsSnapshots converts roster statuses to snapshots.
func AsSnapshots(ss []*roster.Status) []*Snapshot {
	acc := make([]*Snapshot, 0, len(ss))
	for _, s := range ss {
		acc = append(acc, &Snapshot{
			Id:      s.Id,
			Initial: s.Options.Initial,
			Quantum: s.Options.Quantum,
			Delay:   s.Options.Delay,
			Ticks:   s.Ticks,
			CatchUp: s.Options.CatchUp,
			Value:   s.Value,
			Running: s.State == pulse.Running.String(),
		})
	}
	return acc
}

// Options returns options for a counter that continues from the
// Snapshot.
func (s *Snapshot) Options(clock pulse.Clock) pulse.Options {
	return pulse.Options{
		Id:      s.Id,
		Initial: s.Initial,
		Quantum: s.Quantum,
		Delay:   s.Delay,
		Ticks:   s.Ticks,
		CatchUp: s.CatchUp,
		Clock:   clock,
	}
}

// Restore builds (and, if the Snapshot says so, starts) a counter
// for each Snapshot and Puts them all in the Roster.
func Restore(r *roster.Roster, ss []*Snapshot, clock pulse.Clock) error {
	for _, s := range ss {
		c, err := pulse.New(s.Options(clock))
		if err != nil {
			return err
		}
		if _, err = r.Put(s.Id, c); err != nil {
			return err
		}
		if s.Running {
			if err = c.Start(); err != nil {
				return fmt.Errorf("item %s: %w", s.Id, err)
			}
		}
	}
	return nil
}
