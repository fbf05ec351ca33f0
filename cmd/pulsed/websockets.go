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
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

// enqueue gives x to the writer unless the writer is gone or the
// context is done.
func enqueue(ctx context.Context, out chan<- interface{}, done <-chan struct{}, x interface{}) bool {
	select {
	case out <- x:
		return true
	case <-done:
		return false
	case <-ctx.Done():
		return false
	}
}

// WebSockets adds a websocket endpoint at /ws/stream.
//
// A client hears about every tick in the roster given by the
// "roster" query parameter (or in every roster if that parameter is
// missing).  A client can also send SOps, and each will be answered
// with the processed SOp.
//
// A slow client misses Events rather than slowing down counters.
func (s *Service) WebSockets(ctx context.Context, mux *http.ServeMux) {
	var upgrader = websocket.Upgrader{} // use default options

	stream := func(w http.ResponseWriter, r *http.Request) {
		rid := r.URL.Query().Get("roster")
		if rid == "" {
			rid = AllRosters
		}

		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error", err)
			return
		}
		defer c.Close()

		// Everything written to the conn goes through out so
		// that there's only one writer.
		out := make(chan interface{}, 64)
		ctl := make(chan bool)
		defer close(ctl)
		// done is closed when the writer exits.
		done := make(chan struct{})

		id := s.Subs.Add(rid, func(e *Event) {
			select {
			case out <- e:
			default:
				log.Printf("websocket %s blocked", c.RemoteAddr())
			}
		})
		defer s.Subs.Rem(id)

		go func() {
			defer close(done)
			mt := websocket.TextMessage
			for {
				select {
				case <-ctl:
					return
				case <-ctx.Done():
					c.Close()
					return
				case x := <-out:
					js, err := json.Marshal(x)
					if err != nil {
						log.Printf("websocket Marshal error %v on %#v", err, x)
						continue
					}
					if err = c.WriteMessage(mt, js); err != nil {
						log.Println("websocket write:", err)
						// Unblock the reader.
						c.Close()
						return
					}
				}
			}
		}()

		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Println("websocket read error", err)
				}
				break
			}

			op, err := ParseOp(message)
			if err != nil {
				op = &SOp{}
				op.Error, op.Err = erred(err)
			} else if err = op.Do(ctx, s); err != nil {
				log.Println("op.Do error", err)
			}

			if !enqueue(ctx, out, done, op) {
				return
			}
		}
	}

	mux.HandleFunc("/ws/stream", stream)

	log.Printf("Service.HTTPServer has Websockets")
}
