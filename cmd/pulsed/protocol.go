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
	"errors"
	"fmt"

	"github.com/Comcast/pulse/roster"

	"github.com/jsccast/yaml"
)

// SOp is a Service Operation.
//
// Only one operation field should have a value.  Results are
// written back into the operation, which is then returned (as JSON)
// to the caller.
type SOp struct {
	// MakeRoster gives the id of a roster to be created.
	MakeRoster string `json:"makeRoster,omitempty" yaml:"makeRoster,omitempty"`

	// RemRoster gives the id of the roster to be removed.
	RemRoster string `json:"remRoster,omitempty" yaml:"remRoster,omitempty"`

	// Add an item (and start its counter).
	Add *ItemOp `json:"addItem,omitempty" yaml:"addItem,omitempty"`

	// Rem removes an item (and stops its counter).
	Rem *ItemOp `json:"remItem,omitempty" yaml:"remItem,omitempty"`

	Start *ItemOp `json:"start,omitempty" yaml:"start,omitempty"`

	Stop *ItemOp `json:"stop,omitempty" yaml:"stop,omitempty"`

	Get *ItemOp `json:"get,omitempty" yaml:"get,omitempty"`

	List *ListOp `json:"list,omitempty" yaml:"list,omitempty"`

	// Shared gets the shared counter's status.
	Shared *SharedOp `json:"shared,omitempty" yaml:"shared,omitempty"`

	// Error will hold an error (if any) that results from
	// processing this operation.
	Error error `json:"-" yaml:"-"`

	// Err will hold a string representation of an error (if any)
	// that results from processing this operation.
	Err string `json:"err,omitempty" yaml:"err,omitempty"`
}

// ItemOp identifies an item.  Status is the result.
type ItemOp struct {
	Rid    string         `json:"rid" yaml:"rid"`
	Id     string         `json:"id" yaml:"id"`
	Status *roster.Status `json:"status,omitempty" yaml:"status,omitempty"`
}

// ListOp identifies a roster.  Items is the result.
type ListOp struct {
	Rid   string           `json:"rid" yaml:"rid"`
	Items []*roster.Status `json:"items,omitempty" yaml:"items,omitempty"`
}

// SharedOp takes no arguments.
type SharedOp struct {
	Status  *roster.Status `json:"status,omitempty" yaml:"status,omitempty"`
	Display string         `json:"display,omitempty" yaml:"display,omitempty"`
}

var NoOp = errors.New("no operation given")

// ParseOp parses a YAML (or JSON) representation of an SOp.
func ParseOp(bs []byte) (*SOp, error) {
	var op SOp
	if err := yaml.Unmarshal(bs, &op); err != nil {
		return nil, fmt.Errorf("can't parse op: %w", err)
	}
	return &op, nil
}

// erred is a utility function to return values to assign to operation
// Error and Err fields.
func erred(err error) (error, string) {
	if err == nil {
		return nil, ""
	}
	return err, err.Error()
}

// JS renders the op as JSON.
func (o *SOp) JS() []byte {
	js, err := json.Marshal(o)
	if err != nil {
		js, _ = json.Marshal(map[string]string{"err": err.Error()})
	}
	return js
}

// Do executes the operation.
func (o *SOp) Do(ctx context.Context, s *Service) error {
	var err error
	switch {
	case o.MakeRoster != "":
		err = s.MakeRoster(ctx, o.MakeRoster)
	case o.RemRoster != "":
		err = s.RemRoster(ctx, o.RemRoster)
	case o.Add != nil:
		o.Add.Status, err = s.AddItem(ctx, o.Add.Rid, o.Add.Id)
	case o.Rem != nil:
		err = s.RemItem(ctx, o.Rem.Rid, o.Rem.Id)
	case o.Start != nil:
		o.Start.Status, err = s.StartItem(ctx, o.Start.Rid, o.Start.Id)
	case o.Stop != nil:
		o.Stop.Status, err = s.StopItem(ctx, o.Stop.Rid, o.Stop.Id)
	case o.Get != nil:
		o.Get.Status, err = s.Get(ctx, o.Get.Rid, o.Get.Id)
	case o.List != nil:
		o.List.Items, err = s.List(ctx, o.List.Rid)
	case o.Shared != nil:
		err = o.Shared.Do(ctx, s)
	default:
		err = NoOp
	}

	if err != nil && o.Error == nil {
		o.Error, o.Err = erred(err)
	}

	return o.Error
}

func (o *SharedOp) Do(ctx context.Context, s *Service) error {
	c := s.Shared()
	item := &roster.Item{
		Id:      SharedItem,
		Counter: c,
	}
	o.Status = item.Status()
	o.Display = s.Render(ctx, c.Current())
	return nil
}
