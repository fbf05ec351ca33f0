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

// Package bolt is a storage.Storage backed by a bbolt database.
//
// Each roster is a top-level bucket.  Each item is a key in that
// bucket, and the value is the item's Snapshot as JSON (without the
// id, which is the key).
package bolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/Comcast/pulse/storage"

	bolt "go.etcd.io/bbolt"
)

var NotOpen = errors.New("storage not open")

type Storage struct {
	Debug    bool
	filename string
	db       *bolt.DB
}

func NewStorage(filename string) (*Storage, error) {
	if filename == "" {
		return nil, errors.New("no filename")
	}
	return &Storage{
		filename: filename,
	}, nil
}

func (s *Storage) Open(ctx context.Context) error {
	opts := &bolt.Options{
		Timeout: time.Second,
	}

	db, err := bolt.Open(s.filename, 0644, opts)
	if err != nil {
		return fmt.Errorf("opening %s: %w", s.filename, err)
	}
	s.db = db
	return nil
}

func (s *Storage) Close(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Storage) logf(format string, args ...interface{}) {
	if s.Debug {
		log.Printf("BoltDB Storage."+format, args...)
	}
}

func (s *Storage) MakeRoster(ctx context.Context, rid string) error {
	s.logf("MakeRoster %s", rid)
	if s.db == nil {
		return NotOpen
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucket([]byte(rid))
		return err
	})
}

func (s *Storage) RemRoster(ctx context.Context, rid string) error {
	s.logf("RemRoster %s", rid)
	if s.db == nil {
		return NotOpen
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.DeleteBucket([]byte(rid))
	})
}

func (s *Storage) Rosters(ctx context.Context) ([]string, error) {
	if s.db == nil {
		return nil, NotOpen
	}
	var acc []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			acc = append(acc, string(name))
			return nil
		})
	})
	return acc, err
}

func (s *Storage) GetRoster(ctx context.Context, rid string) ([]*storage.Snapshot, error) {
	s.logf("GetRoster %s", rid)
	if s.db == nil {
		return nil, NotOpen
	}
	ss := make([]*storage.Snapshot, 0, 32)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(rid))
		if b == nil {
			return nil
		}
		return b.ForEach(func(id, js []byte) error {
			var snap storage.Snapshot
			if err := json.Unmarshal(js, &snap); err != nil {
				return fmt.Errorf("item %s: %w", id, err)
			}
			snap.Id = string(id)
			ss = append(ss, &snap)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.logf("GetRoster %s found %d items", rid, len(ss))

	if len(ss) == 0 {
		return nil, nil
	}

	return ss, nil
}

func (s *Storage) WriteSnapshots(ctx context.Context, rid string, ss []*storage.Snapshot) error {
	s.logf("WriteSnapshots %s %d", rid, len(ss))

	if s.db == nil {
		return NotOpen
	}

	if 0 == len(ss) {
		return nil
	}

	vals := make(map[string][]byte, len(ss))

	for _, snap := range ss {
		id := snap.Id
		if snap.Deleted {
			vals[id] = nil
			continue
		}
		// To save some space, remove id.
		x := *snap
		x.Id = ""
		js, err := json.Marshal(&x)
		if err != nil {
			return err
		}
		vals[id] = js
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(rid))
		if err != nil {
			return err
		}
		for id, js := range vals {
			key := []byte(id)
			if js == nil {
				err = b.Delete(key)
			} else {
				err = b.Put(key, js)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}
