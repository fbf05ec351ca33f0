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

// WrappedError chains errors from a sequence of steps (say, writing
// a snapshot for each roster) so that one failure doesn't hide
// another.
type WrappedError struct {
	Outer error `json:"outer"`
	Inner error `json:"inner"`
}

func (e *WrappedError) Error() string {
	return e.Outer.Error() + " after " + e.Inner.Error()
}

// Unwrap returns the most recent error.
func (e *WrappedError) Unwrap() error {
	return e.Outer
}

// NewWrappedError returns outer if there's no inner error.
func NewWrappedError(outer, inner error) error {
	if inner == nil {
		return outer
	}
	if outer == nil {
		return inner
	}
	return &WrappedError{
		Outer: outer,
		Inner: inner,
	}
}
