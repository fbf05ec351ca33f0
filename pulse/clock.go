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

package pulse

import "time"

// Clock is what a Counter needs from its host: the time and a way to
// be called back later.
type Clock interface {
	Now() time.Time

	// AfterFunc arranges for f to be called (in some goroutine)
	// after d.  The returned function attempts to cancel that
	// call.  Like time.Timer.Stop, it reports whether it
	// prevented the call.
	//
	// AfterFunc must not call f before returning.  It returns a
	// nil stop function if it can't schedule the call at all.
	AfterFunc(d time.Duration, f func()) (stop func() bool)
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// SystemClock is the default Clock, which is based on time.AfterFunc.
var SystemClock Clock = systemClock{}
