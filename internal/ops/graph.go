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
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/mlnoga/panostitch/internal/status"
)

// A directed acyclic graph of stages, connected by artifact names.
// Built once at initialization, then executed once per frame cycle
type Graph struct {
	stages    []Stage
	external  map[string]bool  // Artifacts published by the caller before execution
	producers map[string]int   // Artifact name to index of producing stage
	waves     [][]int          // Topological layers. Stages in one wave are independent
}

// Builds a graph from the given stages. External names the artifacts the caller publishes per cycle.
// Fails with status.ErrInvalidParameters on multiple producers, missing producers or cycles
func Build(external []string, stages ...Stage) (*Graph, error) {
	g:=&Graph{
		stages:    stages,
		external:  map[string]bool{},
		producers: map[string]int{},
	}
	for _,e:=range external {
		g.external[e]=true
	}
	for i,s:=range stages {
		for _,out:=range s.Outputs() {
			if g.external[out] {
				return nil, errors.Wrapf(status.ErrInvalidParameters, "stage %s produces external artifact %s", s.Name(), out)
			}
			if j, exists:=g.producers[out]; exists {
				return nil, errors.Wrapf(status.ErrInvalidParameters, "artifact %s produced by both %s and %s", out, stages[j].Name(), s.Name())
			}
			g.producers[out]=i
		}
	}

	// dependencies, including optional inputs which are bound
	deps:=make([][]int, len(stages))
	for i,s:=range stages {
		for _,in:=range allInputs(s) {
			if g.external[in] { continue }
			j, exists:=g.producers[in]
			if !exists {
				return nil, errors.Wrapf(status.ErrInvalidParameters, "stage %s input %s has no producer", s.Name(), in)
			}
			deps[i]=append(deps[i], j)
		}
	}

	// Kahn's algorithm, layer by layer
	level:=make([]int, len(stages))
	done :=make([]bool, len(stages))
	for remaining:=len(stages); remaining>0; {
		var wave []int
		for i:=range stages {
			if done[i] { continue }
			ready:=true
			for _,j:=range deps[i] {
				if !done[j] || level[j]==len(g.waves) { ready=false; break }
			}
			if ready { wave=append(wave, i) }
		}
		if len(wave)==0 {
			var names []string
			for i,s:=range stages {
				if !done[i] { names=append(names, s.Name()) }
			}
			return nil, errors.Wrapf(status.ErrInvalidParameters, "dependency cycle among stages %s", strings.Join(names, ", "))
		}
		for _,i:=range wave {
			done[i], level[i] = true, len(g.waves)
		}
		g.waves=append(g.waves, wave)
		remaining-=len(wave)
	}
	return g, nil
}

func allInputs(s Stage) []string {
	if a, ok:=s.(interface{ AllInputs() []string }); ok {
		return a.AllInputs()
	}
	return s.Inputs()
}

// Returns the stages in the order given at construction
func (g *Graph) Stages() []Stage { return g.stages }

// Returns the topological waves as stage names
func (g *Graph) Waves() [][]string {
	res:=make([][]string, len(g.waves))
	for w,wave:=range g.waves {
		for _,i:=range wave {
			res[w]=append(res[w], g.stages[i].Name())
		}
	}
	return res
}

// Returns a human-readable description of the graph
func (g *Graph) String() string {
	var sb strings.Builder
	for w,wave:=range g.waves {
		fmt.Fprintf(&sb, "wave %d:", w)
		for _,i:=range wave {
			fmt.Fprintf(&sb, " %s", g.stages[i].Name())
		}
		sb.WriteRune('\n')
	}
	return sb.String()
}


// Executes a graph once per frame cycle. Runs each wave with up to MaxThreads stages concurrently.
// Cancellation is checked between stages, never inside one
func (g *Graph) Run(ctx context.Context, c *Context, cycle *Cycle) error {
	for _,wave:=range g.waves {
		if err:=ctx.Err(); err!=nil {
			return errors.Wrapf(status.ErrFrameSkipped, "frame %d cancelled: %v", cycle.Frame, err)
		}
		err:=ParallelFor(len(wave), c.MaxThreads, func(k int) error {
			return g.runStage(ctx, c, cycle, g.stages[wave[k]])
		})
		if err!=nil { return err }
	}
	return nil
}

// Runs a single stage, unless an input is missing or the context is cancelled.
// Frame-local errors are logged and leave the outputs unpublished
func (g *Graph) runStage(ctx context.Context, c *Context, cycle *Cycle, s Stage) error {
	if ctx.Err()!=nil { return nil }
	for _,in:=range s.Inputs() {
		if !cycle.Has(in) {
			fmt.Fprintf(c.Log, "frame %d: skipping %s, missing input %s\n", cycle.Frame, s.Name(), in)
			return nil
		}
	}

	start:=time.Now()
	if r, ok:=s.(Reuser); ok {
		reused, err:=r.Reuse(c, cycle)
		if err!=nil { return errors.Wrapf(err, "frame %d: %s", cycle.Frame, s.Name()) }
		if reused {
			c.Timings.Record(s.Name()+" (reused)", time.Since(start))
			return nil
		}
	}
	err:=s.Run(ctx, c, cycle)
	c.Timings.Record(s.Name(), time.Since(start))
	if err!=nil {
		if status.IsFrameLocal(err) {
			fmt.Fprintf(c.Log, "frame %d: warning: %s: %v\n", cycle.Frame, s.Name(), err)
			return nil
		}
		return errors.Wrapf(err, "frame %d: %s", cycle.Frame, s.Name())
	}
	return nil
}
