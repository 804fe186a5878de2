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


package pipeline

import (
	"context"
	"fmt"

	"github.com/mlnoga/panostitch/internal/ops"
	"github.com/mlnoga/panostitch/internal/seam"
)

// Decides per camera pair whether to recompute the seam. Owns the seam finder, which travels
// with the seam artifacts to the later seam stages
type StageSceneDetect struct {
	ops.StageBase
	finder *seam.Finder
}

var _ ops.Stage = (*StageSceneDetect)(nil)

func init() {
	ops.Register(ops.Descriptor{
		Name: "seamfind_scene_detect",
		Doc:  "compares overlap band luma against the last re-seam, and decides which pairs to re-seam",
		Params: []ops.Param{
			{Name: "lumas",      Kind: ops.KindArray,  Dir: ops.DirInput},
			{Name: "tables",     Kind: ops.KindArray,  Dir: ops.DirInput},
			{Name: "threshold",  Kind: ops.KindScalar, Dir: ops.DirInput},
			{Name: "percentile", Kind: ops.KindScalar, Dir: ops.DirInput},
			{Name: "refresh",    Kind: ops.KindScalar, Dir: ops.DirInput},
			{Name: "smooth",     Kind: ops.KindScalar, Dir: ops.DirInput},
			{Name: "median",     Kind: ops.KindEnum,   Dir: ops.DirInput, Enum: []string{"off", "on"}},
			{Name: "decisions",  Kind: ops.KindArray,  Dir: ops.DirOutput},
		},
	}, func(base ops.StageBase, c *ops.Context) (ops.Stage, error) {
		return &StageSceneDetect{StageBase: base, finder: seam.NewFinder(seam.Options{
			SceneThreshold:  base.Number("threshold"),
			ScenePercentile: base.Number("percentile"),
			RefreshEvery:    int(base.Number("refresh")),
			SmoothWidth:     int(base.Number("smooth")),
			Median:          base.Text("median")=="on",
		})}, nil
	})
}

func (s *StageSceneDetect) Run(ctx context.Context, c *ops.Context, cycle *ops.Cycle) error {
	lumas, err:=ops.MustGet(cycle, imagesKey(s.Artifact("lumas")))
	if err!=nil { return err }
	tables, err:=ops.MustGet(cycle, tablesKey(s.Artifact("tables")))
	if err!=nil { return err }
	decisions:=s.finder.SceneDetect(cycle.Frame, lumas, tables)
	for k, r:=range tables.Overlaps.Pairs() {
		d:=decisions[k]
		if d.Reseam {
			fmt.Fprintf(c.Log, "frame %d: pair %d-%d re-seam, %s (metric %.4f)\n", cycle.Frame, r.A, r.B, d.Reason, d.Metric)
		}
	}
	return ops.Publish(cycle, decisionsKey(s.Artifact("decisions")), &SeamDecisions{Finder: s.finder, Decisions: decisions})
}


// Builds seam cost fields for the pairs to re-seam
type StageCostGenerate struct {
	ops.StageBase
}

var _ ops.Stage = (*StageCostGenerate)(nil)

func init() {
	ops.Register(ops.Descriptor{
		Name: "seamfind_cost_generate",
		Doc:  "computes gradient based seam costs over overlap bands",
		Params: []ops.Param{
			{Name: "lumas",     Kind: ops.KindArray, Dir: ops.DirInput},
			{Name: "tables",    Kind: ops.KindArray, Dir: ops.DirInput},
			{Name: "decisions", Kind: ops.KindArray, Dir: ops.DirInput},
			{Name: "costs",     Kind: ops.KindArray, Dir: ops.DirOutput},
		},
	}, func(base ops.StageBase, c *ops.Context) (ops.Stage, error) {
		return &StageCostGenerate{StageBase: base}, nil
	})
}

func (s *StageCostGenerate) Run(ctx context.Context, c *ops.Context, cycle *ops.Cycle) error {
	lumas, err:=ops.MustGet(cycle, imagesKey(s.Artifact("lumas")))
	if err!=nil { return err }
	tables, err:=ops.MustGet(cycle, tablesKey(s.Artifact("tables")))
	if err!=nil { return err }
	d, err:=ops.MustGet(cycle, decisionsKey(s.Artifact("decisions")))
	if err!=nil { return err }
	fields:=d.Finder.CostGenerate(lumas, tables, d.Decisions, c.MaxThreads)
	return ops.Publish(cycle, costsKey(s.Artifact("costs")), &SeamCosts{Finder: d.Finder, Fields: fields})
}


// Accumulates seam costs with dynamic programming
type StageCostAccumulate struct {
	ops.StageBase
}

var _ ops.Stage = (*StageCostAccumulate)(nil)

func init() {
	ops.Register(ops.Descriptor{
		Name: "seamfind_cost_accumulate",
		Doc:  "accumulates minimum seam costs along each overlap band",
		Params: []ops.Param{
			{Name: "costs",       Kind: ops.KindArray, Dir: ops.DirInput},
			{Name: "accumulated", Kind: ops.KindArray, Dir: ops.DirOutput},
		},
	}, func(base ops.StageBase, c *ops.Context) (ops.Stage, error) {
		return &StageCostAccumulate{StageBase: base}, nil
	})
}

func (s *StageCostAccumulate) Run(ctx context.Context, c *ops.Context, cycle *ops.Cycle) error {
	costs, err:=ops.MustGet(cycle, costsKey(s.Artifact("costs")))
	if err!=nil { return err }
	accs:=costs.Finder.Accumulate(costs.Fields, c.MaxThreads)
	return ops.Publish(cycle, accumKey(s.Artifact("accumulated")), &SeamAccumulated{Finder: costs.Finder, Accs: accs})
}


// Traces minimum cost seams, keeping the last good seam where tracing fails or no re-seam was requested
type StagePathTrace struct {
	ops.StageBase
}

var _ ops.Stage = (*StagePathTrace)(nil)

func init() {
	ops.Register(ops.Descriptor{
		Name: "seamfind_path_trace",
		Doc:  "backtracks the minimum cost seam of each pair",
		Params: []ops.Param{
			{Name: "accumulated", Kind: ops.KindArray, Dir: ops.DirInput},
			{Name: "tables",      Kind: ops.KindArray, Dir: ops.DirInput},
			{Name: "paths",       Kind: ops.KindArray, Dir: ops.DirOutput},
		},
	}, func(base ops.StageBase, c *ops.Context) (ops.Stage, error) {
		return &StagePathTrace{StageBase: base}, nil
	})
}

func (s *StagePathTrace) Run(ctx context.Context, c *ops.Context, cycle *ops.Cycle) error {
	acc, err:=ops.MustGet(cycle, accumKey(s.Artifact("accumulated")))
	if err!=nil { return err }
	tables, err:=ops.MustGet(cycle, tablesKey(s.Artifact("tables")))
	if err!=nil { return err }
	paths:=acc.Finder.PathTrace(cycle.Frame, tables.Overlaps.Pairs(), acc.Accs, c.Log)
	return ops.Publish(cycle, pathsKey(s.Artifact("paths")), &SeamPaths{Finder: acc.Finder, Paths: paths})
}


// Converts seams into normalized per camera blend weights
type StageSetWeights struct {
	ops.StageBase
}

var _ ops.Stage = (*StageSetWeights)(nil)

func init() {
	ops.Register(ops.Descriptor{
		Name: "seamfind_set_weights",
		Doc:  "turns seams into per camera blend weights with an optional linear transition band",
		Params: []ops.Param{
			{Name: "paths",   Kind: ops.KindArray, Dir: ops.DirInput},
			{Name: "tables",  Kind: ops.KindArray, Dir: ops.DirInput},
			{Name: "weights", Kind: ops.KindArray, Dir: ops.DirOutput},
		},
	}, func(base ops.StageBase, c *ops.Context) (ops.Stage, error) {
		return &StageSetWeights{StageBase: base}, nil
	})
}

func (s *StageSetWeights) Run(ctx context.Context, c *ops.Context, cycle *ops.Cycle) error {
	p, err:=ops.MustGet(cycle, pathsKey(s.Artifact("paths")))
	if err!=nil { return err }
	tables, err:=ops.MustGet(cycle, tablesKey(s.Artifact("tables")))
	if err!=nil { return err }
	wm:=p.Finder.SetWeights(tables, p.Paths, c.MaxThreads)
	return ops.Publish(cycle, weightsKey(s.Artifact("weights")), wm)
}
