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


package seam

import (
	"image"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlnoga/panostitch/internal/config"
	"github.com/mlnoga/panostitch/internal/frame"
	"github.com/mlnoga/panostitch/internal/remap"
	"github.com/mlnoga/panostitch/internal/rig"
)

// Two cameras on a 64x32 panorama, covering x in [0,40) and [24,64)
func testTables(version uint64) *remap.Tables {
	pano:=rig.Equirect{Width: 64, Height: 32}
	valid:=make([]*remap.ValidPixelSet, 2)
	for c, span:=range [][2]int{{0, 40}, {24, 64}} {
		v:=&remap.ValidPixelSet{Camera: c, Mask: make([]bool, pano.Width*pano.Height)}
		for y:=0; y<pano.Height; y++ {
			for x:=span[0]; x<span[1]; x++ {
				v.Mask[y*pano.Width+x]=true
				v.Count++
			}
		}
		v.Bounds=image.Rect(span[0], 0, span[1], pano.Height)
		valid[c]=v
	}
	rect:=image.Rect(24, 0, 40, 32)
	return &remap.Tables{
		Version: version,
		Pano:    pano,
		Valid:   valid,
		Overlaps: &remap.Overlaps{
			Regions: []remap.OverlapRegion{{A: 0, B: 1, Rect: rect, Pixels: 16*32}, {A: 1, B: 0, Rect: rect, Pixels: 16*32}},
			Count:   [][]int{{40*32, 16*32}, {16*32, 40*32}},
		},
	}
}

// Rectilinear cameras around the horizon on a 256 pixel wide panorama
func rigTables(t *testing.T, hfov float64, yaws ...float64) *remap.Tables {
	cfg:=config.Defaults()
	for _, yaw:=range yaws {
		cfg.Cameras=append(cfg.Cameras, config.Camera{Lens:"rectilinear", HFOV:hfov, Yaw:yaw, Width:64, Height:48, K1:0.05})
	}
	r, err:=rig.New(cfg)
	require.NoError(t, err)
	pano, err:=rig.NewEquirect(256)
	require.NoError(t, err)
	tables, err:=remap.Build(r, pano, 2)
	require.NoError(t, err)
	return tables
}

func testLumas(tables *remap.Tables, values ...float32) []*frame.Image {
	res:=make([]*frame.Image, len(values))
	for c, val:=range values {
		img:=frame.NewFilledImage(tables.Pano.Width, tables.Pano.Height, 1, float32(math.NaN()))
		for i, ok:=range tables.Valid[c].Mask {
			if ok { img.Data[i]=val }
		}
		res[c]=img
	}
	return res
}

func testOptions() Options {
	return Options{SceneThreshold: 0.01, ScenePercentile: 50, RefreshEvery: 5}
}

func runSeam(f *Finder, frameNo int, lumas []*frame.Image, tables *remap.Tables) ([]Decision, []*Path) {
	decisions:=f.SceneDetect(frameNo, lumas, tables)
	fields:=f.CostGenerate(lumas, tables, decisions, 2)
	accs:=f.Accumulate(fields, 2)
	paths:=f.PathTrace(frameNo, tables.Overlaps.Pairs(), accs, io.Discard)
	return decisions, paths
}

func TestAccumulateFollowsCheapColumn(t *testing.T) {
	w, h:=5, 6
	cf:=&CostField{Pair: remap.OverlapRegion{A: 0, B: 1, Rect: image.Rect(10, 20, 15, 26)}, Width: w, Height: h, Cost: make([]float32, w*h)}
	for y:=0; y<h; y++ {
		for x:=0; x<w; x++ {
			cf.Cost[y*w+x]=1
		}
		cf.Cost[y*w+1]=0
	}
	acc:=Accumulate(cf)
	require.True(t, acc.Vertical)
	p, err:=acc.Trace(3)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Frame)
	assert.Equal(t, 0.0, p.Cost)
	for y:=20; y<26; y++ {
		assert.Equal(t, 11, p.At(y))
	}
}

func TestAccumulateHorizontalBand(t *testing.T) {
	w, h:=6, 3
	cf:=&CostField{Pair: remap.OverlapRegion{A: 0, B: 1, Rect: image.Rect(0, 8, 6, 11)}, Width: w, Height: h, Cost: make([]float32, w*h)}
	for i:=range cf.Cost { cf.Cost[i]=1 }
	for x:=0; x<w; x++ { cf.Cost[2*w+x]=0 }
	acc:=Accumulate(cf)
	require.False(t, acc.Vertical)
	p, err:=acc.Trace(0)
	require.NoError(t, err)
	for x:=0; x<w; x++ {
		assert.Equal(t, 10, p.At(x))
	}
}

func TestTraceRejectsNonFinite(t *testing.T) {
	cf:=&CostField{Pair: remap.OverlapRegion{A: 0, B: 1, Rect: image.Rect(0, 0, 2, 3)}, Width: 2, Height: 3, Cost: make([]float32, 6)}
	for i:=range cf.Cost { cf.Cost[i]=float32(math.Inf(1)) }
	_, err:=Accumulate(cf).Trace(0)
	assert.Error(t, err)
}

func TestUniformCostGivesStraightSeam(t *testing.T) {
	tables:=testTables(1)
	f:=NewFinder(testOptions())
	decisions, paths:=runSeam(f, 0, testLumas(tables, 0.5, 0.5), tables)

	require.Len(t, decisions, 1)
	assert.True(t, decisions[0].Reseam)
	assert.Equal(t, "first frame", decisions[0].Reason)
	require.Len(t, paths, 1)
	require.NotNil(t, paths[0])
	assert.True(t, paths[0].Vertical)
	for y:=0; y<32; y++ {
		assert.Equal(t, 31, paths[0].At(y))
	}
	assert.Equal(t, PathTraced, f.State(0, 1))
}

func TestSceneDetectTransitions(t *testing.T) {
	tables:=testTables(1)
	f:=NewFinder(testOptions())
	lumas:=testLumas(tables, 0.5, 0.5)
	runSeam(f, 0, lumas, tables)

	d:=f.SceneDetect(1, lumas, tables)
	assert.False(t, d[0].Reseam)
	assert.Equal(t, "unchanged", d[0].Reason)
	assert.Equal(t, Idle, f.State(0, 1))

	d=f.SceneDetect(2, testLumas(tables, 0.5, 0.9), tables)
	assert.True(t, d[0].Reseam)
	assert.Equal(t, "scene change", d[0].Reason)
	assert.InDelta(t, 0.2, d[0].Metric, 1e-5)

	d=f.SceneDetect(5, lumas, tables)
	assert.True(t, d[0].Reseam)
	assert.Equal(t, "refresh", d[0].Reason)

	d=f.SceneDetect(1, lumas, testTables(2))
	assert.True(t, d[0].Reseam)
	assert.Equal(t, "geometry changed", d[0].Reason)
}

func TestSceneMetricDeterministic(t *testing.T) {
	w, h:=40, 24
	cur, ref:=make([]float32, w*h), make([]float32, w*h)
	for i:=range cur {
		cur[i]=float32(i%7)/7
		ref[i]=float32(i%5)/5
	}
	m1:=SceneMetric(cur, ref, w, h, 50, 7)
	m2:=SceneMetric(cur, ref, w, h, 50, 7)
	assert.Equal(t, m1, m2)
	assert.Equal(t, 0.0, SceneMetric(cur, cur, w, h, 50, 7))
	assert.True(t, math.IsInf(SceneMetric(cur, ref[:10], w, h, 50, 7), 1))
}

func TestSetWeightsHardCut(t *testing.T) {
	tables:=testTables(1)
	f:=NewFinder(testOptions())
	_, paths:=runSeam(f, 0, testLumas(tables, 0.5, 0.5), tables)
	wm:=f.SetWeights(tables, paths, 2)
	assert.Equal(t, WeightsSet, f.State(0, 1))

	row:=10*64
	assert.Equal(t, float32(1), wm.Weights[0][row+5])
	assert.Equal(t, float32(0), wm.Weights[1][row+5])
	assert.Equal(t, float32(1), wm.Weights[0][row+30])
	assert.Equal(t, float32(0), wm.Weights[0][row+31])
	assert.Equal(t, float32(1), wm.Weights[1][row+31])
	assert.Equal(t, float32(1), wm.Weights[1][row+60])
}

func TestSetWeightsRenormalized(t *testing.T) {
	tables:=testTables(1)
	opts:=testOptions()
	opts.SmoothWidth=8
	f:=NewFinder(opts)
	_, paths:=runSeam(f, 0, testLumas(tables, 0.5, 0.5), tables)
	wm:=f.SetWeights(tables, paths, 2)

	for i:=0; i<64*32; i++ {
		assert.InDelta(t, 1.0, wm.Sum(i), 1e-5)
	}
	row:=3*64
	assert.InDelta(t, 0.4375, wm.Weights[0][row+31], 1e-6)
	assert.InDelta(t, 0.5625, wm.Weights[1][row+31], 1e-6)
}

func TestSetWeightsWithoutSeamSharesEqually(t *testing.T) {
	tables:=testTables(1)
	f:=NewFinder(testOptions())
	wm:=f.SetWeights(tables, []*Path{nil}, 1)
	assert.InDelta(t, 0.5, wm.Weights[0][30], 1e-6)
	assert.InDelta(t, 0.5, wm.Weights[1][30], 1e-6)
	assert.Equal(t, float32(1), wm.Weights[0][0])
}

func TestSeamsAcrossMeridian(t *testing.T) {
	tables:=rigTables(t, 150, 0, 120, 240)
	pw:=tables.Pano.Width
	values:=make([]float32, len(tables.Valid))
	for i:=range values { values[i]=0.5 }
	f:=NewFinder(testOptions())
	_, paths:=runSeam(f, 0, testLumas(tables, values...), tables)

	pairs:=tables.Overlaps.Pairs()
	require.Len(t, paths, 3)
	wrapped:=0
	for k, p:=range paths {
		require.NotNil(t, p, "pair %d-%d", pairs[k].A, pairs[k].B)
		assert.True(t, p.Vertical, "pair %d-%d rect %v", p.A, p.B, p.Rect)
		assert.Less(t, p.Rect.Dx(), pw/2)
		require.Len(t, p.Coords, p.Rect.Dy())
		for y:=p.Rect.Min.Y; y<p.Rect.Max.Y; y++ {
			x:=p.At(y)
			assert.True(t, x>=p.Rect.Min.X && x<p.Rect.Max.X, "pair %d-%d row %d at %d", p.A, p.B, y, x)
		}
		if p.Rect.Max.X>pw { wrapped++ }
	}
	assert.Equal(t, 1, wrapped)
}

func TestSetWeightsSidesAcrossMeridian(t *testing.T) {
	tables:=rigTables(t, 120, 0, 90, 180, 270)
	pw:=tables.Pano.Width
	pairs:=tables.Overlaps.Pairs()
	require.Len(t, pairs, 4)

	paths:=make([]*Path, len(pairs))
	for k, r:=range pairs {
		p:=&Path{A: r.A, B: r.B, Rect: r.Rect, Vertical: true, Coords: make([]int32, r.Rect.Dy())}
		for i:=range p.Coords { p.Coords[i]=int32((r.Rect.Min.X+r.Rect.Max.X)/2) }
		paths[k]=p
	}
	f:=NewFinder(testOptions())
	wm:=f.SetWeights(tables, paths, 2)

	for _, p:=range paths {
		y:=(p.Rect.Min.Y+p.Rect.Max.Y)/2
		s:=p.At(y)
		// the camera seen alone left of the band keeps the left side of the seam
		left, right:=p.A, p.B
		if !tables.Valid[p.A].Valid(y*pw+remap.WrapX(p.Rect.Min.X-1, pw)) { left, right=p.B, p.A }
		require.True(t, tables.Valid[left].Valid(y*pw+remap.WrapX(p.Rect.Min.X-1, pw)))
		require.False(t, tables.Valid[right].Valid(y*pw+remap.WrapX(p.Rect.Min.X-1, pw)))

		before, after:=y*pw+remap.WrapX(s-1, pw), y*pw+remap.WrapX(s, pw)
		assert.Equal(t, float32(1), wm.Weights[left][before], "pair %d-%d", p.A, p.B)
		assert.Equal(t, float32(0), wm.Weights[right][before], "pair %d-%d", p.A, p.B)
		assert.Equal(t, float32(0), wm.Weights[left][after], "pair %d-%d", p.A, p.B)
		assert.Equal(t, float32(1), wm.Weights[right][after], "pair %d-%d", p.A, p.B)
	}
}

func TestFailedTraceKeepsSceneReference(t *testing.T) {
	tables:=testTables(1)
	f:=NewFinder(testOptions())
	lumas:=testLumas(tables, 0.5, 0.5)
	_, paths:=runSeam(f, 0, lumas, tables)
	require.NotNil(t, paths[0])
	good:=paths[0]

	// geometry changes, but the new band has no finite seam
	moved:=testTables(2)
	inf:=float32(math.Inf(1))
	decisions, paths:=runSeam(f, 1, testLumas(moved, inf, inf), moved)
	assert.Equal(t, "geometry changed", decisions[0].Reason)
	assert.Same(t, good, paths[0])

	decisions, paths=runSeam(f, 2, lumas, moved)
	assert.True(t, decisions[0].Reseam)
	assert.Equal(t, "geometry changed", decisions[0].Reason)
	assert.Equal(t, 2, paths[0].Frame)

	d:=f.SceneDetect(3, lumas, moved)
	assert.Equal(t, "unchanged", d[0].Reason)
}
