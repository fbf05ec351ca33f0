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
	"fmt"
	"os"
	"time"

	"github.com/Comcast/pulse/pulse"

	"gopkg.in/yaml.v2"
)

// CounterConfig is the YAML form of pulse.Options.
type CounterConfig struct {
	Initial float64 `yaml:"initial"`
	Quantum float64 `yaml:"quantum"`

	// Delay is a Go duration string (like "250ms").
	Delay string `yaml:"delay"`

	CatchUp bool `yaml:"catchUp"`
	Debug   bool `yaml:"debug"`
}

// Options converts the config into pulse.Options.
func (c *CounterConfig) Options() (pulse.Options, error) {
	opts := pulse.DefaultOptions
	opts.Initial = c.Initial
	if c.Quantum != 0 {
		opts.Quantum = c.Quantum
	}
	if c.Delay != "" {
		d, err := time.ParseDuration(c.Delay)
		if err != nil {
			return opts, fmt.Errorf("delay '%s': %w", c.Delay, err)
		}
		opts.Delay = d
	}
	opts.CatchUp = c.CatchUp
	opts.Debug = c.Debug
	return opts, nil
}

// Config is pulsed's configuration.
type Config struct {
	// HTTP is the control plane's address.  Empty means no HTTP.
	HTTP string `yaml:"http"`

	// MaxConns limits simultaneous HTTP connections (if positive).
	MaxConns int `yaml:"maxConns"`

	Websockets bool `yaml:"websockets"`

	// TCP is the line-oriented data plane's address.  Empty means
	// none.
	TCP string `yaml:"tcp"`

	// Storage is a bbolt filename.  Empty means no persistence.
	Storage string `yaml:"storage"`

	// Snapshots is a cron expression for writing all rosters to
	// Storage.
	Snapshots string `yaml:"snapshots"`

	// Format is Javascript that renders a value for display.
	Format string `yaml:"format"`

	// Index is an optional Markdown file for the top of the index
	// page.
	Index string `yaml:"index"`

	// MaxTimers limits pending timers across all counters.
	MaxTimers int `yaml:"maxTimers"`

	Debug bool `yaml:"debug"`

	Counter CounterConfig `yaml:"counter"`
	Shared  CounterConfig `yaml:"shared"`

	MQTT *MQTTConfig `yaml:"mqtt"`
}

// DefaultConfig returns a new Config with the defaults.
func DefaultConfig() *Config {
	return &Config{
		HTTP:      ":8080",
		MaxConns:  256,
		Snapshots: "* * * * *",
		MaxTimers: 1 << 16,
		Counter: CounterConfig{
			Quantum: pulse.DefaultOptions.Quantum,
			Delay:   pulse.DefaultOptions.Delay.String(),
		},
		Shared: CounterConfig{
			Quantum: 1,
			Delay:   "1s",
		},
	}
}

// ParseConfig reads YAML over the defaults.
func ParseConfig(bs []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.UnmarshalStrict(bs, cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.MQTT != nil {
		// Fill in what wasn't given.
		m := DefaultMQTTConfig
		if err := yaml.Unmarshal(bs, &struct {
			MQTT *MQTTConfig `yaml:"mqtt"`
		}{&m}); err != nil {
			return nil, fmt.Errorf("config mqtt: %w", err)
		}
		cfg.MQTT = &m
	}
	return cfg, nil
}

// LoadConfig reads the file (if any) as YAML over the defaults.
func LoadConfig(filename string) (*Config, error) {
	if filename == "" {
		return DefaultConfig(), nil
	}
	bs, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return ParseConfig(bs)
}
