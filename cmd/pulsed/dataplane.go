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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"sync"

	"github.com/jsccast/yaml"
)

// TCPListener serves Listener on the given address until the context
// is done.
func (s *Service) TCPListener(ctx context.Context, addr string) error {
	log.Printf("Starting TCP listener on %s", addr)

	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		go func() {
			if err := s.Listener(ctx, bufio.NewReader(conn), conn); err != nil {
				log.Printf("TCPListener: %s", err)
			}
			conn.Close()
		}()
	}
}

// Listener reads lines from in and writes results (and Events) to
// out.
//
// A line is either a command or an SOp in JSON.
//
//    json | yaml | prettyjson   set how output is rendered
//    sub ROSTER                 hear Events for the roster ("*" for all)
//    unsub                      stop hearing Events
//    # ...                      a comment
func (s *Service) Listener(ctx context.Context, in *bufio.Reader, out io.Writer) error {
	render := "json"

	var sayMutex sync.Mutex

	say := func(x interface{}) bool {
		sayMutex.Lock()
		defer sayMutex.Unlock()

		var js []byte
		var err error
		switch render {
		case "prettyjson":
			js, err = json.MarshalIndent(&x, "", "  ")
		case "yaml":
			js, err = yaml.Marshal(&x)
		default:
			js, err = json.Marshal(&x)
		}
		if err != nil {
			log.Printf("Service.Listener warning on rendering: %s on %#v", err, x)
			js = []byte(fmt.Sprintf("error: %s on %#v", err, x))
		}
		js = append(js, '\n')

		if _, err = out.Write(js); err != nil {
			log.Printf("Service.Listener warning on Write: %s", err)
			return false
		}
		return true
	}

	complain := func(err error) bool {
		return say(map[string]interface{}{
			"error": err.Error(),
		})
	}

	var hook uint64
	unsub := func() {
		if hook != 0 {
			s.Subs.Rem(hook)
			hook = 0
		}
	}
	defer unsub()

	for {
		line, err := in.ReadBytes('\n')
		if err == io.EOF {
			if len(strings.TrimSpace(string(line))) == 0 {
				return nil
			}
		} else if err != nil {
			return err
		}

		sl := strings.TrimSpace(string(line))
		if strings.HasPrefix(sl, "#") || sl == "" {
			if err == io.EOF {
				return nil
			}
			continue
		}

		parts := strings.Fields(sl)
		switch parts[0] {
		case "json", "yaml", "prettyjson":
			render = parts[0]
			say("okay")
		case "sub":
			if len(parts) != 2 {
				if !complain(fmt.Errorf("sub ROSTER")) {
					return nil
				}
				break
			}
			unsub()
			hook = s.Subs.Add(parts[1], func(e *Event) {
				say(map[string]interface{}{
					"event": e,
				})
			})
			say("okay")
		case "unsub":
			unsub()
			say("okay")
		default:
			op, e := ParseOp([]byte(sl))
			if e != nil {
				if !complain(e) {
					return nil
				}
				break
			}
			op.Do(ctx, s)
			if !say(op) {
				return nil
			}
		}

		if err == io.EOF {
			return nil
		}
	}
}
