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
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/mlnoga/panostitch/internal/status"
)

// Kind of a stage parameter
type Kind int

const (
	KindScalar Kind = iota  // A number, e.g. uint32 or float32
	KindEnum                // One of a fixed set of strings
	KindImage               // An image artifact
	KindMatrix              // A matrix artifact, e.g. gains or overlap counts
	KindArray               // An array of records, e.g. remap entries or seam paths
)

var kindNames=[]string{"scalar", "enum", "image", "matrix", "array"}

func (k Kind) String() string { return kindNames[k] }

// Direction of a stage parameter
type Direction int

const (
	DirInput Direction = iota
	DirOutput
)

func (d Direction) String() string {
	if d==DirOutput { return "out" }
	return "in"
}

// Describes one parameter of a stage
type Param struct {
	Name     string     `json:"name"`
	Kind     Kind       `json:"kind"`
	Dir      Direction  `json:"dir"`
	Enum     []string   `json:"enum,omitempty"`     // Allowed values for enums
	Optional bool       `json:"optional,omitempty"` // Optional inputs may be bound to an empty artifact name
}

// Describes a stage type: its name and ordered parameter signature
type Descriptor struct {
	Name    string  `json:"name"`
	Doc     string  `json:"doc"`
	Params  []Param `json:"params"`
}

// Number of parameters in the signature
func (d *Descriptor) NumParams() int { return len(d.Params) }

// Human-readable signature, e.g. for listing stages
func (d *Descriptor) String() string {
	ps:=make([]string, len(d.Params))
	for i,p:=range d.Params {
		ps[i]=fmt.Sprintf("%s %s %s", p.Dir, p.Kind, p.Name)
	}
	return fmt.Sprintf("%s(%s)", d.Name, strings.Join(ps, ", "))
}

// A value bound to a stage parameter. Artifact kinds carry the artifact name, scalars the number, enums the text
type Value struct {
	Kind     Kind
	Artifact string
	Number   float64
	Text     string
}

// Binds an artifact of given kind
func ArtifactValue(kind Kind, name string) Value { return Value{Kind: kind, Artifact: name} }

func ImageValue(name string) Value  { return ArtifactValue(KindImage, name) }
func MatrixValue(name string) Value { return ArtifactValue(KindMatrix, name) }
func ArrayValue(name string) Value  { return ArtifactValue(KindArray, name) }
func ScalarValue(v float64) Value   { return Value{Kind: KindScalar, Number: v} }
func EnumValue(s string) Value      { return Value{Kind: KindEnum, Text: s} }


// A pipeline stage instance. Consumes input artifacts from a cycle, and publishes its outputs
type Stage interface {
	Name() string
	Inputs() []string
	Outputs() []string
	Run(ctx context.Context, c *Context, cycle *Cycle) error
}

// Implemented by stages which may re-publish their previous outputs instead of computing,
// e.g. on frames between exposure compensation solves. Returns true if outputs were re-published
type Reuser interface {
	Reuse(c *Context, cycle *Cycle) (bool, error)
}

// Base type for stages, holding the descriptor and the bound parameter values
type StageBase struct {
	Desc   *Descriptor
	Values []Value
}

func (s *StageBase) Name() string { return s.Desc.Name }

func (s *StageBase) artifacts(dir Direction) []string {
	var names []string
	for i,p:=range s.Desc.Params {
		if p.Kind>=KindImage && p.Dir==dir && s.Values[i].Artifact!="" {
			names=append(names, s.Values[i].Artifact)
		}
	}
	return names
}

// Names of the required input artifacts
func (s *StageBase) Inputs() []string  {
	var names []string
	for i,p:=range s.Desc.Params {
		if p.Kind>=KindImage && p.Dir==DirInput && !p.Optional {
			names=append(names, s.Values[i].Artifact)
		}
	}
	return names
}

// Names of all input artifacts, including bound optional ones
func (s *StageBase) AllInputs() []string { return s.artifacts(DirInput) }

// Names of the output artifacts
func (s *StageBase) Outputs() []string { return s.artifacts(DirOutput) }

// Returns the value bound to the named parameter. Panics on unknown names, which is a programming error
func (s *StageBase) Value(name string) Value {
	for i,p:=range s.Desc.Params {
		if p.Name==name { return s.Values[i] }
	}
	panic(fmt.Sprintf("stage %s has no parameter %s", s.Desc.Name, name))
}

func (s *StageBase) Artifact(name string) string { return s.Value(name).Artifact }
func (s *StageBase) Number(name string) float64  { return s.Value(name).Number }
func (s *StageBase) Text(name string) string     { return s.Value(name).Text }


// Factory method for stages. Receives validated parameter values
type StageFactory func(base StageBase, c *Context) (Stage, error)

type registration struct {
	desc    *Descriptor
	factory StageFactory
}

// Mapping from stage names to descriptors and factory methods
var stageRegistry=map[string]registration{}

// Registers a stage type. Panics on duplicates
func Register(desc Descriptor, factory StageFactory) {
	if _, exists:=stageRegistry[desc.Name]; exists { panic(fmt.Sprintf("error: re-registering stage key %s\n", desc.Name))}
	d:=desc
	stageRegistry[desc.Name]=registration{&d, factory}
}

// Returns the descriptor for the named stage, or an error wrapping status.ErrNotSupported
func Lookup(name string) (*Descriptor, error) {
	r, ok:=stageRegistry[name]
	if !ok { return nil, errors.Wrapf(status.ErrNotSupported, "stage %q", name) }
	return r.desc, nil
}

// Returns all registered descriptors, sorted by name
func Descriptors() []*Descriptor {
	ds:=make([]*Descriptor, 0, len(stageRegistry))
	for _,r:=range stageRegistry {
		ds=append(ds, r.desc)
	}
	sort.Slice(ds, func(i,j int) bool { return ds[i].Name<ds[j].Name })
	return ds
}

// Creates a stage instance. Validates parameter count and kinds against the descriptor
func NewStage(c *Context, name string, values ...Value) (Stage, error) {
	r, ok:=stageRegistry[name]
	if !ok { return nil, errors.Wrapf(status.ErrNotSupported, "stage %q", name) }
	if len(values)!=len(r.desc.Params) {
		return nil, errors.Wrapf(status.ErrInvalidParameters, "stage %s expects %d parameters, got %d", name, len(r.desc.Params), len(values))
	}
	for i,p:=range r.desc.Params {
		v:=values[i]
		if v.Kind!=p.Kind {
			return nil, errors.Wrapf(status.ErrInvalidParameters, "stage %s parameter %s expects %s, got %s", name, p.Name, p.Kind, v.Kind)
		}
		if p.Kind>=KindImage && v.Artifact=="" && !p.Optional {
			return nil, errors.Wrapf(status.ErrInvalidParameters, "stage %s parameter %s is not bound", name, p.Name)
		}
		if p.Kind==KindEnum && !contains(p.Enum, v.Text) {
			return nil, errors.Wrapf(status.ErrInvalidParameters, "stage %s parameter %s: %q not in %v", name, p.Name, v.Text, p.Enum)
		}
	}
	s, err:=r.factory(StageBase{Desc: r.desc, Values: append([]Value(nil), values...)}, c)
	if err!=nil { return nil, errors.Wrapf(err, "creating stage %s", name) }
	return s, nil
}

func contains(list []string, s string) bool {
	for _,l:=range list {
		if l==s { return true }
	}
	return false
}
