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

	"github.com/pkg/errors"

	"github.com/mlnoga/panostitch/internal/blend"
	"github.com/mlnoga/panostitch/internal/ops"
	"github.com/mlnoga/panostitch/internal/merge"
	"github.com/mlnoga/panostitch/internal/status"
)

// Builds Gaussian and Laplacian pyramids per camera. The pyramid arena is allocated once at construction,
// columns wrap around the panorama
type StagePyramidBuild struct {
	ops.StageBase
	blender *blend.Blender
}

var _ ops.Stage = (*StagePyramidBuild)(nil)

func init() {
	ops.Register(ops.Descriptor{
		Name: "blend_pyramid_build",
		Doc:  "builds color Laplacian and weight Gaussian pyramids per camera",
		Params: []ops.Param{
			{Name: "images",  Kind: ops.KindArray,  Dir: ops.DirInput},
			{Name: "weights", Kind: ops.KindArray,  Dir: ops.DirInput},
			{Name: "width",   Kind: ops.KindScalar, Dir: ops.DirInput},
			{Name: "cameras", Kind: ops.KindScalar, Dir: ops.DirInput},
			{Name: "levels",  Kind: ops.KindScalar, Dir: ops.DirInput},
			{Name: "pyramid", Kind: ops.KindArray,  Dir: ops.DirOutput},
		},
	}, func(base ops.StageBase, c *ops.Context) (ops.Stage, error) {
		w:=int(base.Number("width"))
		b, err:=blend.NewBlender(w, w/2, int(base.Number("cameras")), int(base.Number("levels")), c.BlendMemoryMB)
		if err!=nil { return nil, err }
		b.WrapX=true
		return &StagePyramidBuild{StageBase: base, blender: b}, nil
	})
}

func (s *StagePyramidBuild) Run(ctx context.Context, c *ops.Context, cycle *ops.Cycle) error {
	imgs, err:=ops.MustGet(cycle, imagesKey(s.Artifact("images")))
	if err!=nil { return err }
	wm, err:=ops.MustGet(cycle, weightsKey(s.Artifact("weights")))
	if err!=nil { return err }
	if len(imgs)!=s.blender.Cameras || len(wm.Weights)!=s.blender.Cameras {
		return errors.Wrapf(status.ErrInvalidParameters, "%d images and %d weight planes for %d cameras", len(imgs), len(wm.Weights), s.blender.Cameras)
	}
	err=ops.ParallelFor(len(imgs), c.MaxThreads, func(i int) error {
		return s.blender.Build(i, imgs[i], wm.Weights[i], 1)
	})
	if err!=nil { return err }
	return ops.Publish(cycle, pyramidKey(s.Artifact("pyramid")), s.blender.Pyramids())
}


// Blends the camera pyramids level by level
type StagePyramidBlend struct {
	ops.StageBase
}

var _ ops.Stage = (*StagePyramidBlend)(nil)

func init() {
	ops.Register(ops.Descriptor{
		Name: "blend_pyramid_blend",
		Doc:  "blends Laplacian levels weighted by the weight pyramids",
		Params: []ops.Param{
			{Name: "pyramid", Kind: ops.KindArray, Dir: ops.DirInput},
			{Name: "blended", Kind: ops.KindArray, Dir: ops.DirOutput},
		},
	}, func(base ops.StageBase, c *ops.Context) (ops.Stage, error) {
		return &StagePyramidBlend{StageBase: base}, nil
	})
}

func (s *StagePyramidBlend) Run(ctx context.Context, c *ops.Context, cycle *ops.Cycle) error {
	p, err:=ops.MustGet(cycle, pyramidKey(s.Artifact("pyramid")))
	if err!=nil { return err }
	return ops.Publish(cycle, blendedKey(s.Artifact("blended")), p.Blend(c.MaxThreads))
}


// Collapses the blended pyramid into the stitched panorama
type StagePyramidReconstruct struct {
	ops.StageBase
}

var _ ops.Stage = (*StagePyramidReconstruct)(nil)

func init() {
	ops.Register(ops.Descriptor{
		Name: "blend_pyramid_reconstruct",
		Doc:  "reconstructs the panorama from the blended pyramid",
		Params: []ops.Param{
			{Name: "blended",  Kind: ops.KindArray, Dir: ops.DirInput},
			{Name: "stitched", Kind: ops.KindImage, Dir: ops.DirOutput},
		},
	}, func(base ops.StageBase, c *ops.Context) (ops.Stage, error) {
		return &StagePyramidReconstruct{StageBase: base}, nil
	})
}

func (s *StagePyramidReconstruct) Run(ctx context.Context, c *ops.Context, cycle *ops.Cycle) error {
	bl, err:=ops.MustGet(cycle, blendedKey(s.Artifact("blended")))
	if err!=nil { return err }
	out:=bl.Reconstruct(c.MaxThreads)
	out.ID=cycle.Frame
	return ops.Publish(cycle, imageKey(s.Artifact("stitched")), out)
}


// Merges warped images per pixel from the two contributing cameras, without pyramids
type StageMerge struct {
	ops.StageBase
}

var _ ops.Stage = (*StageMerge)(nil)

func init() {
	ops.Register(ops.Descriptor{
		Name: "merge",
		Doc:  "merges warped images using the group maps and blend weights",
		Params: []ops.Param{
			{Name: "images",   Kind: ops.KindArray, Dir: ops.DirInput},
			{Name: "tables",   Kind: ops.KindArray, Dir: ops.DirInput},
			{Name: "weights",  Kind: ops.KindArray, Dir: ops.DirInput},
			{Name: "stitched", Kind: ops.KindImage, Dir: ops.DirOutput},
		},
	}, func(base ops.StageBase, c *ops.Context) (ops.Stage, error) {
		return &StageMerge{StageBase: base}, nil
	})
}

func (s *StageMerge) Run(ctx context.Context, c *ops.Context, cycle *ops.Cycle) error {
	imgs, err:=ops.MustGet(cycle, imagesKey(s.Artifact("images")))
	if err!=nil { return err }
	tables, err:=ops.MustGet(cycle, tablesKey(s.Artifact("tables")))
	if err!=nil { return err }
	wm, err:=ops.MustGet(cycle, weightsKey(s.Artifact("weights")))
	if err!=nil { return err }
	out, err:=merge.Merge(imgs, tables.Groups, wm.Weights, c.MaxThreads)
	if err!=nil { return err }
	out.ID=cycle.Frame
	return ops.Publish(cycle, imageKey(s.Artifact("stitched")), out)
}


// Renders the current seams into a transparent overlay image
type StageSeamOverlay struct {
	ops.StageBase
}

var _ ops.Stage = (*StageSeamOverlay)(nil)

func init() {
	ops.Register(ops.Descriptor{
		Name: "seam_overlay",
		Doc:  "draws seams as colored lines for debugging",
		Params: []ops.Param{
			{Name: "paths",   Kind: ops.KindArray,  Dir: ops.DirInput},
			{Name: "width",   Kind: ops.KindScalar, Dir: ops.DirInput},
			{Name: "line",    Kind: ops.KindScalar, Dir: ops.DirInput},
			{Name: "overlay", Kind: ops.KindImage,  Dir: ops.DirOutput},
		},
	}, func(base ops.StageBase, c *ops.Context) (ops.Stage, error) {
		return &StageSeamOverlay{StageBase: base}, nil
	})
}

func (s *StageSeamOverlay) Run(ctx context.Context, c *ops.Context, cycle *ops.Cycle) error {
	p, err:=ops.MustGet(cycle, pathsKey(s.Artifact("paths")))
	if err!=nil { return err }
	w:=int(s.Number("width"))
	ov:=merge.SeamOverlay(p.Paths, w, w/2, s.Number("line"))
	return ops.Publish(cycle, imageKey(s.Artifact("overlay")), ov)
}


// Composites an optional RGBA overlay onto the stitched panorama
type StageAlphaBlend struct {
	ops.StageBase
}

var _ ops.Stage = (*StageAlphaBlend)(nil)

func init() {
	ops.Register(ops.Descriptor{
		Name: "alpha_blend",
		Doc:  "composites an RGBA overlay: out = rgb*(1-a) + overlay*a",
		Params: []ops.Param{
			{Name: "rgb",      Kind: ops.KindImage, Dir: ops.DirInput},
			{Name: "overlay",  Kind: ops.KindImage, Dir: ops.DirInput, Optional: true},
			{Name: "panorama", Kind: ops.KindImage, Dir: ops.DirOutput},
		},
	}, func(base ops.StageBase, c *ops.Context) (ops.Stage, error) {
		return &StageAlphaBlend{StageBase: base}, nil
	})
}

func (s *StageAlphaBlend) Run(ctx context.Context, c *ops.Context, cycle *ops.Cycle) error {
	rgb, err:=ops.MustGet(cycle, imageKey(s.Artifact("rgb")))
	if err!=nil { return err }
	out:=rgb
	if name:=s.Artifact("overlay"); name!="" {
		if ov, ok:=ops.Get(cycle, imageKey(name)); ok {
			out, err=merge.AlphaBlend(rgb, ov)
			if err!=nil { return err }
		}
	}
	return ops.Publish(cycle, imageKey(s.Artifact("panorama")), out)
}
