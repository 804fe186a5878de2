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
	"io/ioutil"
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlnoga/panostitch/internal/config"
	"github.com/mlnoga/panostitch/internal/frame"
	"github.com/mlnoga/panostitch/internal/ops"
	"github.com/mlnoga/panostitch/internal/remap"
	"github.com/mlnoga/panostitch/internal/status"
)

// Two rectilinear cameras with 90 degree field of view, 45 degrees apart, so half of each view overlaps
const twoCameras=`
cameras:
  - name: left
    lens: rectilinear
    hfov: 90
    yaw: -22.5
    width: 64
    height: 48
  - name: right
    lens: rectilinear
    hfov: 90
    yaw: 22.5
    width: 64
    height: 48
options:
  outputwidth: 256
  maxthreads: 2
`

func testConfig(t *testing.T, extra string) *config.Config {
	cfg, err:=config.Parse([]byte(twoCameras+extra))
	require.NoError(t, err)
	return cfg
}

func testContext() *ops.Context {
	return ops.NewContext(ioutil.Discard, 2, 1024)
}

func grayFrames(values ...float32) []*frame.Image {
	res:=make([]*frame.Image, len(values))
	for i, v:=range values {
		res[i]=frame.NewFilledImage(64, 48, 3, v)
		res[i].ID=i
	}
	return res
}

func TestStagesRegistered(t *testing.T) {
	for _, name:=range []string{"remap", "color_convert", "warp",
		"exposure_comp_calc_error", "exposure_comp_solve_gains", "exposure_comp_apply_gains",
		"seamfind_scene_detect", "seamfind_cost_generate", "seamfind_cost_accumulate", "seamfind_path_trace", "seamfind_set_weights",
		"blend_pyramid_build", "blend_pyramid_blend", "blend_pyramid_reconstruct", "merge", "seam_overlay", "alpha_blend"} {
		d, err:=ops.Lookup(name)
		require.NoError(t, err, name)
		assert.NotEmpty(t, d.Doc, name)
	}
}

func TestEndToEndExposureAndSeam(t *testing.T) {
	cfg:=testConfig(t, "  expcompevery: 2\n")
	p, err:=New(cfg, testContext())
	require.NoError(t, err)

	res, err:=p.Process(context.Background(), grayFrames(0.4, 0.6))
	require.NoError(t, err)
	require.NoError(t, res.Panorama.Check(256, 128, 3))

	// the darker camera is brightened relative to the brighter one
	g0, _:=res.Gains.For(0, 0)
	g1, _:=res.Gains.For(1, 0)
	assert.Greater(t, g0, g1)
	assert.Less(t, math.Abs(float64(0.4*g0-0.6*g1)), 0.1)

	// one seam, running through the overlap of both cameras
	require.Len(t, res.Paths, 1)
	path:=res.Paths[0]
	require.NotNil(t, path)
	tables:=res.Tables
	for k, c:=range path.Coords {
		x, y:=int(c), path.Rect.Min.Y+k
		if !path.Vertical { x, y=path.Rect.Min.X+k, int(c) }
		i:=y*tables.Pano.Width+remap.WrapX(x, tables.Pano.Width)
		if tables.Valid[0].Mask[i] || tables.Valid[1].Mask[i] {
			assert.True(t, path.Rect.Min.X<=x && x<path.Rect.Max.X && path.Rect.Min.Y<=y && y<path.Rect.Max.Y)
		}
	}
	assert.True(t, path.Vertical)

	// covered pixels hold values between both corrected exposures
	lo, hi:=math.Min(float64(0.4*g0), float64(0.6*g1)), math.Max(float64(0.4*g0), float64(0.6*g1))
	covered:=0
	for i, v:=range res.Panorama.Channel(1) {
		if math.IsNaN(float64(v)) {
			assert.False(t, tables.Valid[0].Mask[i] || tables.Valid[1].Mask[i], "covered pixel %d is NaN", i)
			continue
		}
		covered++
		assert.InDelta(t, (lo+hi)/2, v, (hi-lo)/2+1e-3)
	}
	assert.Greater(t, covered, 0)

	// the second frame keeps the seam and re-publishes the gains
	res2, err:=p.Process(context.Background(), grayFrames(0.4, 0.6))
	require.NoError(t, err)
	assert.Equal(t, 1, res2.Frame)
	assert.True(t, res2.Gains.Stale)
	require.NotNil(t, res2.Paths[0])
	assert.Equal(t, 0, res2.Paths[0].Frame)
	assert.Equal(t, path.Coords, res2.Paths[0].Coords)
}

func TestMergeWithGrid(t *testing.T) {
	cfg:=testConfig(t, "  blend: merge\n  expcompmode: \"off\"\ngrid:\n  rows: 1\n  cols: 2\n")
	p, err:=New(cfg, testContext())
	require.NoError(t, err)

	combined:=frame.NewFilledImage(128, 48, 3, 0.5)
	res, err:=p.Process(context.Background(), []*frame.Image{combined})
	require.NoError(t, err)
	g, _:=res.Gains.For(1, 0)
	assert.Equal(t, float32(1), g)
	for i, v:=range res.Panorama.Channel(0) {
		if res.Tables.Valid[0].Mask[i] || res.Tables.Valid[1].Mask[i] {
			assert.InDelta(t, 0.5, v, 1e-5)
		}
	}
}

func TestProcessRaw(t *testing.T) {
	cfg:=testConfig(t, "  expcompmode: manual\n")
	for i:=range cfg.Cameras {
		cfg.Cameras[i].Format="RGB"
	}
	cfg.Cameras[1].Gain=2
	p, err:=New(cfg, testContext())
	require.NoError(t, err)

	_, err=p.Process(context.Background(), grayFrames(0.4, 0.4))
	assert.True(t, errors.Is(err, status.ErrInvalidParameters))

	buf:=make([]byte, 64*48*3)
	for i:=range buf { buf[i]=51 }
	res, err:=p.ProcessRaw(context.Background(), [][]byte{buf, buf})
	require.NoError(t, err)
	g, _:=res.Gains.For(1, 0)
	assert.Equal(t, float32(2), g)

	// far from the overlap, each camera shows its own exposure
	row:=64*256
	first, last:=-1, -1
	for x:=0; x<256; x++ {
		if first<0 && res.Tables.Valid[0].Mask[row+x] { first=x }
		if res.Tables.Valid[1].Mask[row+x] { last=x }
	}
	require.True(t, first>=0 && last>first)
	assert.False(t, res.Tables.Valid[1].Mask[row+first])
	assert.False(t, res.Tables.Valid[0].Mask[row+last])
	assert.InDelta(t, 0.2, res.Panorama.Data[row+first], 1e-3)
	assert.InDelta(t, 0.4, res.Panorama.Data[row+last], 1e-3)
}

func TestNewErrors(t *testing.T) {
	cfg:=testConfig(t, "")
	cfg.Cameras[0].HFOV=0
	_, err:=New(cfg, testContext())
	assert.True(t, errors.Is(err, status.ErrInvalidCalibration))

	cfg=testConfig(t, "")
	cfg.Cameras[0].Format="NV12"
	_, err=New(cfg, testContext())
	assert.True(t, errors.Is(err, status.ErrNotSupported))

	cfg=testConfig(t, "")
	cfg.Cameras[0].Format="RGB"
	_, err=New(cfg, testContext())
	assert.True(t, errors.Is(err, status.ErrInvalidParameters))

	cfg=testConfig(t, "")
	c:=ops.NewContext(ioutil.Discard, 2, 2)
	_, err=New(cfg, c)
	assert.True(t, errors.Is(err, status.ErrNoMemory))
}

func TestCancelledFrameIsSkipped(t *testing.T) {
	p, err:=New(testConfig(t, ""), testContext())
	require.NoError(t, err)
	ctx, cancel:=context.WithCancel(context.Background())
	cancel()
	_, err=p.Process(ctx, grayFrames(0.5, 0.5))
	assert.True(t, errors.Is(err, status.ErrFrameSkipped))

	_, err=p.Process(context.Background(), grayFrames(0.5))
	assert.True(t, errors.Is(err, status.ErrInvalidParameters))
}
