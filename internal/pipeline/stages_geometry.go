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

	"github.com/pkg/errors"

	"github.com/mlnoga/panostitch/internal/colorconv"
	"github.com/mlnoga/panostitch/internal/frame"
	"github.com/mlnoga/panostitch/internal/ops"
	"github.com/mlnoga/panostitch/internal/remap"
	"github.com/mlnoga/panostitch/internal/rig"
	"github.com/mlnoga/panostitch/internal/warp"
)

// Builds remap tables from the rig. Tables are cached and rebuilt only when a different rig is published
type StageRemap struct {
	ops.StageBase
	pano   rig.Equirect
	rig    *rig.Rig
	tables *remap.Tables
}

var _ ops.Stage = (*StageRemap)(nil)

func init() {
	ops.Register(ops.Descriptor{
		Name: "remap",
		Doc:  "builds per camera remap tables, valid pixel sets, overlaps and group maps",
		Params: []ops.Param{
			{Name: "rig",    Kind: ops.KindMatrix, Dir: ops.DirInput},
			{Name: "width",  Kind: ops.KindScalar, Dir: ops.DirInput},
			{Name: "tables", Kind: ops.KindArray,  Dir: ops.DirOutput},
		},
	}, func(base ops.StageBase, c *ops.Context) (ops.Stage, error) {
		pano, err:=rig.NewEquirect(int(base.Number("width")))
		if err!=nil { return nil, err }
		return &StageRemap{StageBase: base, pano: pano}, nil
	})
}

func (s *StageRemap) Run(ctx context.Context, c *ops.Context, cycle *ops.Cycle) error {
	r, err:=ops.MustGet(cycle, rigKey(s.Artifact("rig")))
	if err!=nil { return err }
	if r!=s.rig {
		t, err:=remap.Build(r, s.pano, c.MaxThreads)
		if err!=nil { return err }
		fmt.Fprintf(c.Log, "frame %d: built remap tables version %d for %d cameras\n", cycle.Frame, t.Version, len(r.Cameras))
		t.Report(c.Log)
		s.rig, s.tables = r, t
	}
	return ops.Publish(cycle, tablesKey(s.Artifact("tables")), s.tables)
}


// Decodes raw camera buffers into planar RGB
type StageColorConvert struct {
	ops.StageBase
}

var _ ops.Stage = (*StageColorConvert)(nil)

func init() {
	ops.Register(ops.Descriptor{
		Name: "color_convert",
		Doc:  "decodes raw packed RGB and YUV 4:2:2 buffers into planar RGB",
		Params: []ops.Param{
			{Name: "raw",    Kind: ops.KindArray, Dir: ops.DirInput},
			{Name: "frames", Kind: ops.KindArray, Dir: ops.DirOutput},
		},
	}, func(base ops.StageBase, c *ops.Context) (ops.Stage, error) {
		return &StageColorConvert{StageBase: base}, nil
	})
}

func (s *StageColorConvert) Run(ctx context.Context, c *ops.Context, cycle *ops.Cycle) error {
	raws, err:=ops.MustGet(cycle, rawKey(s.Artifact("raw")))
	if err!=nil { return err }
	frames:=make([]*frame.Image, len(raws))
	err=ops.ParallelFor(len(raws), c.MaxThreads, func(i int) error {
		r:=raws[i]
		img, err:=colorconv.Decode(r.Buf, r.Format, r.Width, r.Height, 1)
		if err!=nil { return errors.WithMessagef(err, "camera %d", i) }
		img.ID=i
		frames[i]=img
		return nil
	})
	if err!=nil { return err }
	return ops.Publish(cycle, imagesKey(s.Artifact("frames")), frames)
}


// Warps camera frames into the panorama and derives their luma
type StageWarp struct {
	ops.StageBase
	method   warp.Method
	lumaMode colorconv.LumaMode
}

var _ ops.Stage = (*StageWarp)(nil)

func init() {
	ops.Register(ops.Descriptor{
		Name: "warp",
		Doc:  "warps camera frames into the equirectangular panorama",
		Params: []ops.Param{
			{Name: "frames", Kind: ops.KindArray, Dir: ops.DirInput},
			{Name: "tables", Kind: ops.KindArray, Dir: ops.DirInput},
			{Name: "method", Kind: ops.KindEnum,  Dir: ops.DirInput, Enum: []string{"bilinear", "nearest"}},
			{Name: "luma",   Kind: ops.KindEnum,  Dir: ops.DirInput, Enum: []string{"rec709", "lab"}},
			{Name: "warped", Kind: ops.KindArray, Dir: ops.DirOutput},
			{Name: "lumas",  Kind: ops.KindArray, Dir: ops.DirOutput},
		},
	}, func(base ops.StageBase, c *ops.Context) (ops.Stage, error) {
		method, err:=warp.ParseMethod(base.Text("method"))
		if err!=nil { return nil, err }
		lumaMode, err:=colorconv.ParseLumaMode(base.Text("luma"))
		if err!=nil { return nil, err }
		return &StageWarp{StageBase: base, method: method, lumaMode: lumaMode}, nil
	})
}

func (s *StageWarp) Run(ctx context.Context, c *ops.Context, cycle *ops.Cycle) error {
	frames, err:=ops.MustGet(cycle, imagesKey(s.Artifact("frames")))
	if err!=nil { return err }
	tables, err:=ops.MustGet(cycle, tablesKey(s.Artifact("tables")))
	if err!=nil { return err }
	colors, lumas, err:=warp.Warp(frames, tables, s.method, s.lumaMode, c.MaxThreads)
	if err!=nil { return err }
	if err:=ops.Publish(cycle, imagesKey(s.Artifact("warped")), colors); err!=nil { return err }
	return ops.Publish(cycle, imagesKey(s.Artifact("lumas")), lumas)
}
