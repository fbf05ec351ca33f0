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
	"log"
	"time"
)

// TimerOutput turns on logging of operation durations.
var TimerOutput = false

// OpTimer measures how long a service operation takes.
type OpTimer struct {
	Tag  string
	Then time.Time
}

func NewOpTimer(tag string) *OpTimer {
	return &OpTimer{
		Tag:  tag,
		Then: time.Now(),
	}
}

func (t *OpTimer) Stop() time.Duration {
	now := time.Now()
	d := now.Sub(t.Then)
	t.Then = now
	return d
}

func (t *OpTimer) StopLog() time.Duration {
	d := t.Stop()
	if TimerOutput {
		log.Printf("timer %s %fμ", t.Tag, d.Seconds()*1000*1000)
	}
	return d
}
