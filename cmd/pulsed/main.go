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

// Package main is a service that hosts rosters of self-paced
// counters.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Comcast/pulse/helpers"
	"github.com/Comcast/pulse/storage"
	"github.com/Comcast/pulse/storage/bolt"
	"github.com/Comcast/pulse/timers"
)

func init() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.LUTC)
}

func main() {
	var (
		configFile = flag.String("c", "", "optional YAML configuration file")
		httpPort   = flag.String("h", ":8080", "Control plane (HTTP) service port")
		storeFile  = flag.String("p", "", "optional filename for persistence")
		websockets = flag.Bool("w", false, "start Web sockets service (requires HTTP service)")
		tcpPort    = flag.String("t", "", "optional data plane (TCP) service port")
		repl       = flag.Bool("r", false, "REPL")
		format     = flag.String("f", "", "Javascript expression to render a value")
		schedule   = flag.String("s", "", "cron expression for snapshots")
		debug      = flag.Bool("debug", false, "debug logging")
	)

	flag.Parse()

	cfg, err := LoadConfig(*configFile)
	if err != nil {
		log.Fatal(err)
	}

	// Flags given explicitly override the config file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "h":
			cfg.HTTP = *httpPort
		case "p":
			cfg.Storage = *storeFile
		case "w":
			cfg.Websockets = *websockets
		case "t":
			cfg.TCP = *tcpPort
		case "f":
			cfg.Format = *format
		case "s":
			cfg.Snapshots = *schedule
		case "debug":
			cfg.Debug = *debug
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = run(ctx, cfg, *repl); err != nil {
		log.Fatal(err)
	}

	log.Printf("main terminating")
}

func run(ctx context.Context, cfg *Config, repl bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	TimerOutput = cfg.Debug

	ts, err := timers.NewTimers(cfg.MaxTimers)
	if err != nil {
		return err
	}
	ts.Debug = cfg.Debug
	go func() {
		if err := ts.Run(ctx); err != nil {
			log.Printf("timers: %v", err)
		}
	}()
	if !ts.Wait(time.Second) {
		return fmt.Errorf("timers didn't start")
	}

	var st storage.Storage = &storage.NoopStorage{}
	if cfg.Storage != "" {
		bs, err := bolt.NewStorage(cfg.Storage)
		if err != nil {
			return err
		}
		bs.Debug = cfg.Debug
		st = bs
	}
	if err = st.Open(ctx); err != nil {
		return err
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			log.Printf("storage Close: %v", err)
		}
	}()

	items, err := cfg.Counter.Options()
	if err != nil {
		return fmt.Errorf("counter: %w", err)
	}
	shared, err := cfg.Shared.Options()
	if err != nil {
		return fmt.Errorf("shared: %w", err)
	}

	s, err := NewService(ts, items, shared, st)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(context.Background()); err != nil {
			log.Printf("Service.Close: %v", err)
		}
	}()

	if cfg.Format != "" {
		if s.Formatter, err = helpers.NewFormatter(cfg.Format); err != nil {
			return err
		}
	}
	if cfg.Index != "" {
		bs, err := os.ReadFile(cfg.Index)
		if err != nil {
			return err
		}
		s.Intro = string(bs)
	}

	if err = s.Restore(ctx); err != nil {
		return err
	}

	if cfg.Snapshots != "" && cfg.Storage != "" {
		if err = s.Snapshots(ctx, cfg.Snapshots); err != nil {
			return err
		}
	}

	if cfg.MQTT != nil {
		p := NewMQTTPublisher(*cfg.MQTT)
		if err = p.Start(ctx, s); err != nil {
			return err
		}
		defer p.Stop(s)
	}

	if cfg.TCP != "" {
		go func() {
			if err := s.TCPListener(ctx, cfg.TCP); err != nil {
				log.Printf("TCPListener: %v", err)
				cancel()
			}
		}()
	}

	if repl {
		go func() {
			if err := s.Listener(ctx, bufio.NewReader(os.Stdin), os.Stdout); err != nil {
				log.Printf("REPL: %s", err)
			}
			cancel()
		}()
	}

	if cfg.HTTP != "" {
		mux := s.Handler(ctx)
		if cfg.Websockets {
			s.WebSockets(ctx, mux)
		}
		return HTTPServer(ctx, cfg.HTTP, cfg.MaxConns, mux)
	}

	<-ctx.Done()
	return nil
}
