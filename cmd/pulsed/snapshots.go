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
	"fmt"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
)

// Snapshots writes all rosters to Storage on the schedule given by
// the cron expression until the context is done.
//
// Returns an error only if the expression can't be parsed or has no
// next time.
func (s *Service) Snapshots(ctx context.Context, expr string) error {
	schedule, err := cronexpr.Parse(expr)
	if err != nil {
		return fmt.Errorf("snapshot schedule '%s': %w", expr, err)
	}

	next := schedule.Next(s.Clock.Now())
	if next.IsZero() {
		return fmt.Errorf("snapshot schedule '%s' never fires", expr)
	}

	go func() {
		for !next.IsZero() {
			timer := time.NewTimer(next.Sub(s.Clock.Now()))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			if err := s.Snapshot(ctx); err != nil {
				log.Printf("Service.Snapshots error: %v", err)
			}
			next = schedule.Next(s.Clock.Now())
		}
		log.Printf("Service.Snapshots schedule '%s' exhausted", expr)
	}()

	return nil
}
