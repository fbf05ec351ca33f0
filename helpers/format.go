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

// Package helpers renders counter values for display.
//
// A Formatter is an ECMAScript expression evaluated with Goja (see
// https://github.com/dop251/goja) against a pulse.Change.  The
// expression sees:
//
//    value: the counter's value
//    tick: the tick number
//    at: the time of the tick (RFC3339)
//
// and a few utilities:
//
//    cron(expr): the next time (RFC3339) that matches the cron expression
//    pad(n, width): n as an integer padded with zeros to the given width
//    log(x): log x as JSON
//
// For example, "Math.floor(value/60) + ':' + pad(value%60, 2)"
// renders a count of seconds as minutes and seconds.
package helpers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Comcast/pulse/pulse"

	"github.com/dop251/goja"
	"github.com/gorhill/cronexpr"
)

var (
	// InterruptedMessage is the string value of Interrupted.
	InterruptedMessage = "RuntimeError: timeout"

	// Interrupted is returned by Format if the execution is
	// interrupted.
	Interrupted = errors.New(InterruptedMessage)

	// DefaultTimeout limits how long a Formatter can run.
	DefaultTimeout = 100 * time.Millisecond
)

// Formatter turns a Change into a string.
//
// A Formatter keeps one runtime, which it reuses for every Format.
// Calls are serialized.
type Formatter struct {
	Src     string
	Timeout time.Duration

	prog *goja.Program

	sync.Mutex
	o  *goja.Runtime
	ch pulse.Change
}

// DefaultFormatter just prints the value.
var DefaultFormatter = MustFormatter("String(value)")

// NewFormatter compiles the given expression.
func NewFormatter(src string) (*Formatter, error) {
	if strings.TrimSpace(src) == "" {
		return nil, errors.New("empty formatter")
	}
	prog, err := goja.Compile("format", "("+src+")", true)
	if err != nil {
		return nil, fmt.Errorf("compiling formatter %q: %w", src, err)
	}
	return &Formatter{
		Src:     src,
		Timeout: DefaultTimeout,
		prog:    prog,
	}, nil
}

// MustFormatter is NewFormatter that panics on error.
func MustFormatter(src string) *Formatter {
	f, err := NewFormatter(src)
	if err != nil {
		panic(err)
	}
	return f
}

func protest(o *goja.Runtime, x interface{}) {
	panic(o.ToValue(x))
}

func export(x interface{}) interface{} {
	if v, is := x.(goja.Value); is {
		return v.Export()
	}
	return x
}

func number(o *goja.Runtime, x interface{}) float64 {
	switch vv := export(x).(type) {
	case int64:
		return float64(vv)
	case float64:
		return vv
	default:
		protest(o, fmt.Sprintf("not a number: %T", x))
		return 0
	}
}

// runtime makes the runtime and its utilities.  The utilities see
// the Change being formatted through f.ch.
//
// Not thread-safe.
func (f *Formatter) runtime() *goja.Runtime {
	if f.o != nil {
		return f.o
	}
	o := goja.New()

	o.Set("cron", func(x interface{}) interface{} {
		expr, is := export(x).(string)
		if !is {
			protest(o, "not a string")
		}
		c, err := cronexpr.Parse(expr)
		if err != nil {
			protest(o, err.Error())
		}
		return c.Next(f.ch.At).UTC().Format(time.RFC3339Nano)
	})

	o.Set("pad", func(n, width interface{}) interface{} {
		s := strconv.FormatInt(int64(number(o, n)), 10)
		w := int(number(o, width))
		if len(s) < w {
			s = strings.Repeat("0", w-len(s)) + s
		}
		return s
	})

	o.Set("log", func(x interface{}) interface{} {
		x = export(x)
		js, err := json.Marshal(&x)
		if err != nil {
			log.Println("helpers.log (can't marshal: " + err.Error() + ")")
		} else {
			log.Println(string(js))
		}
		return x
	})

	f.o = o
	return o
}

// Format evaluates the expression for the given Change.
func (f *Formatter) Format(ctx context.Context, ch pulse.Change) (string, error) {
	f.Lock()
	defer f.Unlock()

	o := f.runtime()
	f.ch = ch
	o.Set("value", ch.Value)
	o.Set("tick", ch.Tick)
	o.Set("at", ch.At.UTC().Format(time.RFC3339Nano))

	timeout := f.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ictx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	finished := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-ictx.Done():
			o.Interrupt(InterruptedMessage)
		case <-finished:
		}
	}()

	v, err := o.RunProgram(f.prog)
	close(finished)
	<-exited
	// An interrupt that lost the race with the end of the run
	// mustn't hit the next one.
	o.ClearInterrupt()

	if err != nil {
		if _, is := err.(*goja.InterruptedError); is {
			return "", Interrupted
		}
		return "", err
	}

	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return "", nil
	}
	return v.String(), nil
}
