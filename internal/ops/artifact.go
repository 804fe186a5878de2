// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.


package ops

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/mlnoga/panostitch/internal/status"
)

// A typed name for an artifact flowing between stages
type Key[T any] struct {
	name string
}

// Creates a typed artifact key
func NewKey[T any](name string) Key[T] {
	return Key[T]{name: name}
}

func (k Key[T]) Name() string { return k.name }

// The artifacts of one frame cycle. Every artifact has a single writer, and is immutable once published
type Cycle struct {
	Frame  int                     // Sequential frame number, counted upwards from 0
	mutex  sync.RWMutex
	values map[string]interface{}
}

// Creates an empty cycle for the given frame number
func NewCycle(frame int) *Cycle {
	return &Cycle{Frame: frame, values: map[string]interface{}{}}
}

// Publishes an artifact into the cycle. Publishing the same name twice is an error
func Publish[T any](c *Cycle, k Key[T], v T) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if _, exists:=c.values[k.name]; exists {
		return errors.Wrapf(status.ErrInvalidParameters, "frame %d: artifact %s published twice", c.Frame, k.name)
	}
	c.values[k.name]=v
	return nil
}

// Returns a published artifact, and whether it was present with the right type
func Get[T any](c *Cycle, k Key[T]) (v T, ok bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	raw, exists:=c.values[k.name]
	if !exists { return v, false }
	v, ok=raw.(T)
	return v, ok
}

// Returns a published artifact, or an error wrapping status.ErrInvalidParameters if missing
func MustGet[T any](c *Cycle, k Key[T]) (T, error) {
	v, ok:=Get(c, k)
	if !ok {
		return v, errors.Wrapf(status.ErrInvalidParameters, "frame %d: missing artifact %s", c.Frame, k.name)
	}
	return v, nil
}

// Returns true if an artifact with the given name has been published
func (c *Cycle) Has(name string) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	_, exists:=c.values[name]
	return exists
}

// Returns the names of all published artifacts, sorted
func (c *Cycle) Names() []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	names:=make([]string, 0, len(c.values))
	for name:=range c.values {
		names=append(names, name)
	}
	sort.Strings(names)
	return names
}
