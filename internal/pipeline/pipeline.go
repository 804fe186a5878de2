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
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/mlnoga/panostitch/internal/config"
	"github.com/mlnoga/panostitch/internal/expcomp"
	"github.com/mlnoga/panostitch/internal/frame"
	"github.com/mlnoga/panostitch/internal/merge"
	"github.com/mlnoga/panostitch/internal/ops"
	"github.com/mlnoga/panostitch/internal/remap"
	"github.com/mlnoga/panostitch/internal/rig"
	"github.com/mlnoga/panostitch/internal/seam"
	"github.com/mlnoga/panostitch/internal/status"
)

// A stitching pipeline for one rig. Built once, then run once per set of synchronized camera frames
type Pipeline struct {
	Config   *config.Config
	Context  *ops.Context
	Rig      *rig.Rig
	Graph    *ops.Graph
	raw      bool                  // Inputs are raw buffers, decoded by the color_convert stage
	formats  []*frame.PixelFormat  // Per camera raw formats
	gains    *expcomp.GainVector   // Fixed gains for modes off and manual, else nil
	overlay  *frame.Image
	mutex    sync.Mutex
	frameNo  int
}

// Outputs of one frame cycle
type Result struct {
	Frame       int
	Panorama    *frame.Image
	Tables      *remap.Tables
	Gains       *expcomp.GainVector
	Paths       []*seam.Path
	SeamOverlay *frame.Image
	Elapsed     time.Duration
}

// Builds the rig and the stage graph from a configuration. Degenerate calibration fails with
// status.ErrInvalidCalibration, invalid options with status.ErrInvalidParameters
func New(cfg *config.Config, c *ops.Context) (*Pipeline, error) {
	if err:=cfg.Validate(); err!=nil { return nil, err }
	r, err:=rig.New(cfg)
	if err!=nil { return nil, err }
	o:=cfg.Options
	if _, err:=rig.NewEquirect(o.OutputWidth); err!=nil { return nil, err }

	p:=&Pipeline{Config: cfg, Context: c, Rig: r}
	for i, cc:=range cfg.Cameras {
		if cc.Format=="" { continue }
		pf, err:=frame.LookupPixelFormat(cc.Format)
		if err!=nil { return nil, errors.WithMessagef(err, "camera %d", i) }
		if p.formats==nil { p.formats=make([]*frame.PixelFormat, len(cfg.Cameras)) }
		p.formats[i]=pf
		p.raw=true
	}
	if p.raw {
		for i, pf:=range p.formats {
			if pf==nil { return nil, errors.Wrapf(status.ErrInvalidParameters, "camera %d: raw input needs a pixel format for every camera", i) }
		}
	}

	mode, err:=expcomp.ParseMode(o.ExpCompMode)
	if err!=nil { return nil, err }
	switch mode {
	case expcomp.Off:
		p.gains=expcomp.NewUnityGains(len(cfg.Cameras), 1)
	case expcomp.Manual:
		manual:=make([]float32, len(cfg.Cameras))
		for i, cc:=range cfg.Cameras { manual[i]=cc.Gain }
		p.gains=expcomp.ManualGains(manual)
	}
	if o.Overlay!="" {
		p.overlay, err=merge.LoadOverlay(o.Overlay, o.OutputWidth, o.OutputWidth/2)
		if err!=nil { return nil, errors.WithMessage(err, "option overlay") }
	}

	stages, external, err:=p.stages(mode)
	if err!=nil { return nil, err }
	p.Graph, err=ops.Build(external, stages...)
	if err!=nil { return nil, err }
	fmt.Fprintf(c.Log, "Stage graph for %d cameras:\n%s", len(cfg.Cameras), p.Graph)
	return p, nil
}

// Instantiates the stages for the configuration, and returns them with the names of the external artifacts
func (p *Pipeline) stages(mode expcomp.Mode) (stages []ops.Stage, external []string, err error) {
	o:=p.Config.Options
	n:=len(p.Config.Cameras)
	add:=func(name string, values ...ops.Value) {
		if err!=nil { return }
		var s ops.Stage
		s, err=ops.NewStage(p.Context, name, values...)
		stages=append(stages, s)
	}
	a, num, enum:=ops.ArrayValue, ops.ScalarValue, ops.EnumValue
	onOff:=func(b bool) ops.Value { if b { return enum("on") }; return enum("off") }

	external=[]string{ArtRig}
	add("remap", ops.MatrixValue(ArtRig), num(float64(o.OutputWidth)), a(ArtTables))
	if p.raw {
		external=append(external, ArtRaw)
		add("color_convert", a(ArtRaw), a(ArtFrames))
	} else {
		external=append(external, ArtFrames)
	}
	add("warp", a(ArtFrames), a(ArtTables), enum(o.WarpMethod), enum(o.LumaMode), a(ArtWarped), a(ArtWarpedLumas))

	switch mode {
	case expcomp.Gain, expcomp.RGB:
		stats:=ArtWarpedLumas
		if mode==expcomp.RGB { stats=ArtWarped }
		add("exposure_comp_calc_error", a(stats), a(ArtTables), num(float64(o.ExpCompEvery)), ops.MatrixValue(ArtGainMatrix))
		add("exposure_comp_solve_gains", ops.MatrixValue(ArtGainMatrix), num(o.GainAlpha), num(o.GainBeta), num(float64(o.ExpCompEvery)), ops.MatrixValue(ArtGains))
	default:
		external=append(external, ArtGains)
	}
	add("exposure_comp_apply_gains", a(ArtWarped), ops.MatrixValue(ArtGains), enum(o.LumaMode), a(ArtCorrected), a(ArtLumas))

	add("seamfind_scene_detect", a(ArtLumas), a(ArtTables), num(o.SceneThreshold), num(o.ScenePercentile),
	    num(float64(o.SeamRefreshEvery)), num(float64(o.SeamSmoothWidth)), onOff(o.SeamMedian), a(ArtDecisions))
	add("seamfind_cost_generate", a(ArtLumas), a(ArtTables), a(ArtDecisions), a(ArtCosts))
	add("seamfind_cost_accumulate", a(ArtCosts), a(ArtAccumulated))
	add("seamfind_path_trace", a(ArtAccumulated), a(ArtTables), a(ArtPaths))
	add("seamfind_set_weights", a(ArtPaths), a(ArtTables), a(ArtWeights))

	if o.Blend=="merge" {
		add("merge", a(ArtCorrected), a(ArtTables), a(ArtWeights), ops.ImageValue(ArtStitched))
	} else {
		add("blend_pyramid_build", a(ArtCorrected), a(ArtWeights), num(float64(o.OutputWidth)), num(float64(n)), num(float64(o.BlendLevels)), a(ArtPyramid))
		add("blend_pyramid_blend", a(ArtPyramid), a(ArtBlended))
		add("blend_pyramid_reconstruct", a(ArtBlended), ops.ImageValue(ArtStitched))
	}
	if o.SeamOverlay!="" {
		add("seam_overlay", a(ArtPaths), num(float64(o.OutputWidth)), num(2), ops.ImageValue(ArtSeamOverlay))
	}
	overlay:=""
	if p.overlay!=nil {
		overlay=ArtOverlay
		external=append(external, ArtOverlay)
	}
	add("alpha_blend", ops.ImageValue(ArtStitched), ops.ImageValue(overlay), ops.ImageValue(ArtPanorama))
	return stages, external, err
}

// Stitches one set of camera frames, in camera order. A single frame is split according to the configured grid
func (p *Pipeline) Process(ctx context.Context, frames []*frame.Image) (*Result, error) {
	if p.raw {
		return nil, errors.Wrap(status.ErrInvalidParameters, "pipeline expects raw buffers")
	}
	g:=p.Config.Grid
	if len(frames)==1 && g.Rows*g.Cols>1 {
		tiles, err:=frame.SplitGrid(frames[0], g.Rows, g.Cols)
		if err!=nil { return nil, err }
		frames=tiles
	}
	if len(frames)!=len(p.Rig.Cameras) {
		return nil, errors.Wrapf(status.ErrInvalidParameters, "%d frames for %d cameras", len(frames), len(p.Rig.Cameras))
	}
	return p.run(ctx, func(cycle *ops.Cycle) error {
		return ops.Publish(cycle, imagesKey(ArtFrames), frames)
	})
}

// Stitches one set of raw camera buffers, in camera order
func (p *Pipeline) ProcessRaw(ctx context.Context, bufs [][]byte) (*Result, error) {
	if !p.raw {
		return nil, errors.Wrap(status.ErrInvalidParameters, "pipeline expects decoded frames")
	}
	if len(bufs)!=len(p.Rig.Cameras) {
		return nil, errors.Wrapf(status.ErrInvalidParameters, "%d buffers for %d cameras", len(bufs), len(p.Rig.Cameras))
	}
	raws:=make([]RawFrame, len(bufs))
	for i, b:=range bufs {
		cam:=p.Rig.Cameras[i]
		raws[i]=RawFrame{Format: p.formats[i], Width: cam.Width, Height: cam.Height, Buf: b}
	}
	return p.run(ctx, func(cycle *ops.Cycle) error {
		return ops.Publish(cycle, rawKey(ArtRaw), raws)
	})
}

// Runs one frame cycle. Fails with status.ErrFrameSkipped if the panorama was not published
func (p *Pipeline) run(ctx context.Context, publishInputs func(cycle *ops.Cycle) error) (*Result, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	start:=time.Now()
	cycle:=ops.NewCycle(p.frameNo)
	p.frameNo++
	if err:=ops.Publish(cycle, rigKey(ArtRig), p.Rig); err!=nil { return nil, err }
	if p.gains!=nil {
		gv:=*p.gains
		gv.Frame=cycle.Frame
		if err:=ops.Publish(cycle, gainsKey(ArtGains), &gv); err!=nil { return nil, err }
	}
	if p.overlay!=nil {
		if err:=ops.Publish(cycle, imageKey(ArtOverlay), p.overlay); err!=nil { return nil, err }
	}
	if err:=publishInputs(cycle); err!=nil { return nil, err }

	if err:=p.Graph.Run(ctx, p.Context, cycle); err!=nil { return nil, err }

	pano, ok:=ops.Get(cycle, imageKey(ArtPanorama))
	if !ok {
		return nil, errors.Wrapf(status.ErrFrameSkipped, "frame %d: no panorama", cycle.Frame)
	}
	res:=&Result{Frame: cycle.Frame, Panorama: pano, Elapsed: time.Since(start)}
	res.Tables, _ =ops.Get(cycle, tablesKey(ArtTables))
	res.Gains, _  =ops.Get(cycle, gainsKey(ArtGains))
	if sp, ok:=ops.Get(cycle, pathsKey(ArtPaths)); ok {
		res.Paths=sp.Paths
	}
	res.SeamOverlay, _=ops.Get(cycle, imageKey(ArtSeamOverlay))
	if res.SeamOverlay!=nil {
		if err:=res.SeamOverlay.WritePNGToFile(p.Config.Options.SeamOverlay, 0, 1, 1); err!=nil {
			fmt.Fprintf(p.Context.Log, "frame %d: warning: writing seam overlay: %v\n", cycle.Frame, err)
		}
	}
	fmt.Fprintf(p.Context.Log, "frame %d: stitched %s in %v\n", cycle.Frame, pano.DimensionsToString(), res.Elapsed)
	return res, nil
}
