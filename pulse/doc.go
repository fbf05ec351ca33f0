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

// Package pulse provides a self-rescheduling periodic counter.
//
// A Counter adds a fixed Quantum to its value every Delay once it has
// been started.  Observers registered with OnChange hear about every
// increment.  The classic example is a clock that displays elapsed
// seconds: a Quantum of 0.25 and a Delay of 250ms yields one unit
// per second.
//
// Each tick runs to completion (increment, then notify observers)
// and only then schedules the next tick.  Therefore the time spent
// in observers is added to the interval.  The cadence is self-paced
// rather than a fixed-rate ticker, and a Counter never runs two ticks
// at once.
//
// A Counter doesn't own any goroutines.  It relies on a Clock to
// call it back later.  SystemClock uses time.AfterFunc.  Package
// timers offers a Clock that multiplexes many counters onto a single
// time.Timer as well as a manual Clock for tests.
//
// Caveat: A Counter's value reflects the number of ticks that have
// actually run, not wall-clock time elapsed.  If the host is
// suspended (a laptop sleeping, a paused container), the ticks that
// would have happened just don't.  Set Options.CatchUp to have the
// Counter compare against its start time and apply missed ticks.
//
// Nothing stops a Counter except Stop.  In particular, cancelling
// the last Subscription does not stop the Counter.  Owners that
// create counters must Stop them when they're done.
package pulse
