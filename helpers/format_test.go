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

package helpers

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Comcast/pulse/pulse"
)

func TestFormat(t *testing.T) {
	at := time.Date(2023, 6, 1, 12, 0, 30, 0, time.UTC)

	tests := []struct {
		name string
		src  string
		ch   pulse.Change
		want string
	}{
		{
			name: "default",
			src:  "String(value)",
			ch:   pulse.Change{Value: 1.25, Tick: 5, At: at},
			want: "1.25",
		},
		{
			name: "seconds",
			src:  `Math.floor(value) + "s"`,
			ch:   pulse.Change{Value: 12.75, Tick: 51, At: at},
			want: "12s",
		},
		{
			name: "minutes",
			src:  `Math.floor(value/60) + ":" + pad(value%60, 2)`,
			ch:   pulse.Change{Value: 65.5, At: at},
			want: "1:05",
		},
		{
			name: "tick",
			src:  `"#" + tick`,
			ch:   pulse.Change{Value: 1, Tick: 4, At: at},
			want: "#4",
		},
		{
			name: "cron",
			src:  `cron("0 * * * * * *")`,
			ch:   pulse.Change{At: at},
			want: "2023-06-01T12:01:00Z",
		},
		{
			name: "at",
			src:  `at`,
			ch:   pulse.Change{At: at},
			want: "2023-06-01T12:00:30Z",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewFormatter(tt.src)
			if err != nil {
				t.Fatal(err)
			}
			got, err := f.Format(context.Background(), tt.ch)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatErrors(t *testing.T) {
	if _, err := NewFormatter(""); err == nil {
		t.Fatal("empty source should fail")
	}
	if _, err := NewFormatter("value +"); err == nil {
		t.Fatal("bad source should fail")
	}

	f := MustFormatter(`cron("nonsense")`)
	if _, err := f.Format(context.Background(), pulse.Change{}); err == nil {
		t.Fatal("bad cron expression should fail")
	}
}

func TestFormatInterrupted(t *testing.T) {
	f := MustFormatter(`(function() { while (true) {} })()`)
	f.Timeout = 20 * time.Millisecond

	if _, err := f.Format(context.Background(), pulse.Change{}); err != Interrupted {
		t.Fatalf("expected Interrupted, got %v", err)
	}
}

func TestFormatReuse(t *testing.T) {
	f := MustFormatter(`(globalThis.seen = typeof seen === "undefined" ? 0 : seen + 1), "#" + tick`)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		got, err := f.Format(ctx, pulse.Change{Tick: uint64(i)})
		if err != nil {
			t.Fatal(err)
		}
		if want := fmt.Sprintf("#%d", i); got != want {
			t.Fatalf("%d: %q != %q", i, got, want)
		}
	}

	// One runtime carried the global across calls.
	if got := f.o.Get("seen").ToInteger(); got != 2 {
		t.Fatal(got)
	}
}

func TestFormatAfterInterrupt(t *testing.T) {
	f := MustFormatter(`value < 0 ? (function() { while (true) {} })() : String(value)`)
	f.Timeout = 20 * time.Millisecond
	ctx := context.Background()

	if _, err := f.Format(ctx, pulse.Change{Value: -1}); err != Interrupted {
		t.Fatalf("expected Interrupted, got %v", err)
	}

	got, err := f.Format(ctx, pulse.Change{Tick: 1, Value: 2.5})
	if err != nil {
		t.Fatal(err)
	}
	if got != "2.5" {
		t.Fatal(got)
	}
}

func TestFormatConcurrent(t *testing.T) {
	f := MustFormatter(`"#" + tick + "/" + value`)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				got, err := f.Format(ctx, pulse.Change{Tick: uint64(i), Value: float64(i)})
				if err != nil {
					t.Error(err)
					return
				}
				if want := fmt.Sprintf("#%d/%d", i, i); got != want {
					t.Errorf("%q != %q", got, want)
					return
				}
			}
		}(i)
	}
	wg.Wait()
}
