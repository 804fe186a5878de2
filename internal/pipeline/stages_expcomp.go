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

	"github.com/mlnoga/panostitch/internal/colorconv"
	"github.com/mlnoga/panostitch/internal/expcomp"
	"github.com/mlnoga/panostitch/internal/frame"
	"github.com/mlnoga/panostitch/internal/ops"
)

// Gathers overlap statistics for exposure compensation. Between solves the previous statistics are re-published
type StageCalcError struct {
	ops.StageBase
	every int
	last  *expcomp.GainMatrix
}

var _ ops.Stage  = (*StageCalcError)(nil)
var _ ops.Reuser = (*StageCalcError)(nil)

func init() {
	ops.Register(ops.Descriptor{
		Name: "exposure_comp_calc_error",
		Doc:  "accumulates per pair overlap intensities and pixel counts",
		Params: []ops.Param{
			{Name: "images", Kind: ops.KindArray,  Dir: ops.DirInput},
			{Name: "tables", Kind: ops.KindArray,  Dir: ops.DirInput},
			{Name: "every",  Kind: ops.KindScalar, Dir: ops.DirInput},
			{Name: "matrix", Kind: ops.KindMatrix, Dir: ops.DirOutput},
		},
	}, func(base ops.StageBase, c *ops.Context) (ops.Stage, error) {
		return &StageCalcError{StageBase: base, every: int(base.Number("every"))}, nil
	})
}

func (s *StageCalcError) Reuse(c *ops.Context, cycle *ops.Cycle) (bool, error) {
	if s.last==nil || s.every<=1 || cycle.Frame%s.every==0 { return false, nil }
	return true, ops.Publish(cycle, gainMatrixKey(s.Artifact("matrix")), s.last)
}

func (s *StageCalcError) Run(ctx context.Context, c *ops.Context, cycle *ops.Cycle) error {
	imgs, err:=ops.MustGet(cycle, imagesKey(s.Artifact("images")))
	if err!=nil { return err }
	tables, err:=ops.MustGet(cycle, tablesKey(s.Artifact("tables")))
	if err!=nil { return err }
	gm, err:=expcomp.CalcErrorFn(imgs, tables, c.MaxThreads)
	if err!=nil { return err }
	s.last=gm
	return ops.Publish(cycle, gainMatrixKey(s.Artifact("matrix")), gm)
}


// Solves per camera gains from the overlap statistics, on the configured cadence.
// Between solves the last gains are re-published marked as stale
type StageSolveGains struct {
	ops.StageBase
	alpha   float64
	beta    float64
	cadence expcomp.Cadence
}

var _ ops.Stage  = (*StageSolveGains)(nil)
var _ ops.Reuser = (*StageSolveGains)(nil)

func init() {
	ops.Register(ops.Descriptor{
		Name: "exposure_comp_solve_gains",
		Doc:  "solves regularized least squares gains per camera",
		Params: []ops.Param{
			{Name: "matrix", Kind: ops.KindMatrix, Dir: ops.DirInput},
			{Name: "alpha",  Kind: ops.KindScalar, Dir: ops.DirInput},
			{Name: "beta",   Kind: ops.KindScalar, Dir: ops.DirInput},
			{Name: "every",  Kind: ops.KindScalar, Dir: ops.DirInput},
			{Name: "gains",  Kind: ops.KindMatrix, Dir: ops.DirOutput},
		},
	}, func(base ops.StageBase, c *ops.Context) (ops.Stage, error) {
		return &StageSolveGains{
			StageBase: base,
			alpha:     base.Number("alpha"),
			beta:      base.Number("beta"),
			cadence:   expcomp.Cadence{Every: int(base.Number("every"))},
		}, nil
	})
}

func (s *StageSolveGains) Reuse(c *ops.Context, cycle *ops.Cycle) (bool, error) {
	if s.cadence.Due(cycle.Frame) { return false, nil }
	return true, ops.Publish(cycle, gainsKey(s.Artifact("gains")), s.cadence.Stale())
}

func (s *StageSolveGains) Run(ctx context.Context, c *ops.Context, cycle *ops.Cycle) error {
	gm, err:=ops.MustGet(cycle, gainMatrixKey(s.Artifact("matrix")))
	if err!=nil { return err }
	gv:=expcomp.Solve(gm, s.alpha, s.beta, c.Log)
	gv.Frame=cycle.Frame
	s.cadence.Solved(gv)
	fmt.Fprintf(c.Log, "frame %d: gains %s\n", cycle.Frame, gv)
	return ops.Publish(cycle, gainsKey(s.Artifact("gains")), gv)
}


// Applies gains to the warped images, and recomputes luma from the corrected color
type StageApplyGains struct {
	ops.StageBase
	lumaMode colorconv.LumaMode
}

var _ ops.Stage = (*StageApplyGains)(nil)

func init() {
	ops.Register(ops.Descriptor{
		Name: "exposure_comp_apply_gains",
		Doc:  "scales warped images by their camera gains",
		Params: []ops.Param{
			{Name: "images",    Kind: ops.KindArray,  Dir: ops.DirInput},
			{Name: "gains",     Kind: ops.KindMatrix, Dir: ops.DirInput},
			{Name: "luma",      Kind: ops.KindEnum,   Dir: ops.DirInput, Enum: []string{"rec709", "lab"}},
			{Name: "corrected", Kind: ops.KindArray,  Dir: ops.DirOutput},
			{Name: "lumas",     Kind: ops.KindArray,  Dir: ops.DirOutput},
		},
	}, func(base ops.StageBase, c *ops.Context) (ops.Stage, error) {
		lumaMode, err:=colorconv.ParseLumaMode(base.Text("luma"))
		if err!=nil { return nil, err }
		return &StageApplyGains{StageBase: base, lumaMode: lumaMode}, nil
	})
}

func (s *StageApplyGains) Run(ctx context.Context, c *ops.Context, cycle *ops.Cycle) error {
	imgs, err:=ops.MustGet(cycle, imagesKey(s.Artifact("images")))
	if err!=nil { return err }
	gv, err:=ops.MustGet(cycle, gainsKey(s.Artifact("gains")))
	if err!=nil { return err }
	corrected, lumas:=make([]*frame.Image, len(imgs)), make([]*frame.Image, len(imgs))
	err=ops.ParallelFor(len(imgs), c.MaxThreads, func(i int) error {
		out, err:=expcomp.ApplyGains(imgs[i], i, gv)
		if err!=nil { return err }
		corrected[i], lumas[i] = out, colorconv.LumaImage(out, s.lumaMode, 1)
		return nil
	})
	if err!=nil { return err }
	if err:=ops.Publish(cycle, imagesKey(s.Artifact("corrected")), corrected); err!=nil { return err }
	return ops.Publish(cycle, imagesKey(s.Artifact("lumas")), lumas)
}
