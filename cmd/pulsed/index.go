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
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	md "github.com/russross/blackfriday/v2"
)

// DefaultIntro is the Markdown at the top of the index page.
var DefaultIntro = `# pulsed

Rosters of counters that tick on their own.

Send operations to ` + "`POST /api`" + `, for example
` + "`" + `{"addItem":{"rid":"comments","id":"c1"}}` + "`" + `.
Watch ticks at ` + "`/ws/stream?roster=comments`" + `.
`

// JS renders its argument as JSON or as '%#v'.
func JS(x interface{}) string {
	if x == nil {
		return "null"
	}
	js, err := json.Marshal(&x)
	if err != nil {
		return fmt.Sprintf("%#v", x)
	}
	return string(js)
}

// IndexMarkdown generates the Markdown for the index page.
func (s *Service) IndexMarkdown() []byte {
	var buf bytes.Buffer
	f := func(format string, args ...interface{}) {
		fmt.Fprintf(&buf, format+"\n", args...)
	}

	intro := s.Intro
	if intro == "" {
		intro = DefaultIntro
	}
	f("%s", intro)

	f("## Rosters\n")
	rids := s.RosterIds()
	if len(rids) == 0 {
		f("None yet.\n")
	} else {
		f("| roster | items | running |")
		f("|---|---:|---:|")
		for _, rid := range rids {
			r, err := s.findRoster(rid)
			if err != nil {
				continue
			}
			running := 0
			ss := r.Snapshot()
			for _, st := range ss {
				if st.State == "running" {
					running++
				}
			}
			f("| `%s` | %d | %d |", rid, len(ss), running)
		}
		f("")
	}

	return buf.Bytes()
}

// Index renders the index page as HTML.
func (s *Service) Index(w io.Writer) error {
	html := md.Run(s.IndexMarkdown())
	_, err := w.Write(html)
	return err
}
