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

import "context"

// NoopStorage remembers nothing.
type NoopStorage struct {
}

func (s *NoopStorage) MakeRoster(ctx context.Context, rid string) error {
	return nil
}

func (s *NoopStorage) RemRoster(ctx context.Context, rid string) error {
	return nil
}

func (s *NoopStorage) GetRoster(ctx context.Context, rid string) ([]*Snapshot, error) {
	return nil, nil
}

func (s *NoopStorage) Rosters(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (s *NoopStorage) WriteSnapshots(ctx context.Context, rid string, ss []*Snapshot) error {
	return nil
}

func (s *NoopStorage) Open(ctx context.Context) error {
	return nil
}

func (s *NoopStorage) Close(ctx context.Context) error {
	return nil
}
