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
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/Comcast/pulse/pulse"
	"github.com/Comcast/pulse/roster"

	"golang.org/x/net/netutil"
)

func complain(w http.ResponseWriter, x interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"err":%q}`+"\n", fmt.Sprint(x))
}

// status maps an operation error to an HTTP status.
func status(err error) int {
	switch {
	case errors.Is(err, roster.NotFound):
		return http.StatusNotFound
	case errors.Is(err, roster.Exists):
		return http.StatusConflict
	case errors.Is(err, BadId), errors.Is(err, NoOp):
		return http.StatusBadRequest
	case errors.Is(err, pulse.NotScheduled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Handler makes the control plane's HTTP handler.
//
//    POST /api      an SOp (JSON or YAML); the response is the SOp with results
//    GET  /rosters  the roster ids
//    GET  /shared   the shared counter
//    GET  /         an index page
func (s *Service) Handler(ctx context.Context) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			complain(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		bs, err := io.ReadAll(r.Body)
		if err != nil {
			complain(w, err, http.StatusBadRequest)
			return
		}
		if err := r.Body.Close(); err != nil {
			log.Printf("Service.HTTPServer warning on Body.Close(): %v", err)
		}

		op, err := ParseOp(bs)
		if err != nil {
			complain(w, err, http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err = op.Do(ctx, s); err != nil {
			w.WriteHeader(status(err))
		}
		if _, err = w.Write(op.JS()); err != nil {
			log.Printf("Service.HTTPServer warning on Write(): %v", err)
		}
	})

	mux.HandleFunc("/rosters", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, "%s\n", JS(s.RosterIds()))
	})

	mux.HandleFunc("/shared", func(w http.ResponseWriter, r *http.Request) {
		op := &SOp{
			Shared: &SharedOp{},
		}
		if err := op.Do(r.Context(), s); err != nil {
			complain(w, err, status(err))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, "%s\n", JS(op.Shared))
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := s.Index(w); err != nil {
			log.Printf("Service.Index error: %v", err)
		}
	})

	return mux
}

// HTTPServer serves the given handler on the given address until
// the context is done.  A positive maxConns limits the number of
// simultaneous connections.
func HTTPServer(ctx context.Context, addr string, maxConns int, h http.Handler) error {
	log.Printf("HTTPServer starting on %s", addr)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	if 0 < maxConns {
		ln = netutil.LimitListener(ln, maxConns)
	}

	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Printf("HTTPServer shutdown: %v", err)
		}
	}()

	if err = srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
