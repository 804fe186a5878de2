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


package expcomp

import (
	"image"
	"io/ioutil"
	"math"
	"testing"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/mlnoga/panostitch/internal/frame"
	"github.com/mlnoga/panostitch/internal/remap"
	"github.com/mlnoga/panostitch/internal/rig"
	"github.com/mlnoga/panostitch/internal/status"
)

func matrix(n int, intensity, count []float64) *GainMatrix {
	return &GainMatrix{N: n, Intensity: []*mat.Dense{mat.NewDense(n, n, intensity)}, Count: mat.NewDense(n, n, count)}
}

func TestSolveZeroOverlapIsUnity(t *testing.T) {
	gm:=matrix(3,
		[]float64{50,0,0, 0,120,0, 0,0,200},
		[]float64{100,0,0, 0,100,0, 0,0,100})
	gv:=Solve(gm, 100, 0.01, ioutil.Discard)
	for i:=0; i<3; i++ {
		g, o:=gv.For(i, 0)
		if math.Abs(float64(g-1))>1e-6 || o!=0 { t.Errorf("camera %d: gain %f offset %f", i, g, o) }
	}
}

func TestSolveEqualizes(t *testing.T) {
	// camera 1 sees the shared overlap twice as bright as camera 0
	gm:=matrix(2,
		[]float64{100,100, 200,200},
		[]float64{5000,1000, 1000,5000})
	gv:=Solve(gm, 100, 0.01, ioutil.Discard)
	g0, _:=gv.For(0, 0)
	g1, _:=gv.For(1, 0)
	if !(g0>1 && g1<1) { t.Fatalf("gains %f %f", g0, g1) }
	before, after:=100.0, math.Abs(float64(g0*100-g1*200))
	if after>before/4 { t.Errorf("overlap difference %f, was %f", after, before) }
	if math.Abs(float64(g0)-1.1818)>1e-3 || math.Abs(float64(g1)-0.6364)>1e-3 { t.Errorf("gains %f %f", g0, g1) }

	// the iterative minimizer agrees with the direct solve
	x, err:=minimize(gm.Intensity[0], gm.Count, 100, 0.01)
	if err!=nil { t.Fatal(err) }
	if math.Abs(x[0]-float64(g0))>1e-3 || math.Abs(x[1]-float64(g1))>1e-3 { t.Errorf("minimizer %v vs %f %f", x, g0, g1) }
}

func TestSolveFallsBackOnInvalidGains(t *testing.T) {
	// a negative intensity drives the solution negative, which is replaced by unity
	gm:=matrix(2,
		[]float64{0,-1e6, 100,0},
		[]float64{0,1000, 1000,0})
	gv:=Solve(gm, 1e-6, 1, ioutil.Discard)
	for i:=0; i<2; i++ {
		g, _:=gv.For(i, 0)
		if !(g>0) { t.Errorf("camera %d: gain %f", i, g) }
	}
}

func TestCalcErrorFn(t *testing.T) {
	nan:=float32(math.NaN())
	pano:=rig.Equirect{Width:4, Height:2}
	valid:=func(cam int, mask ...bool) *remap.ValidPixelSet {
		v:=&remap.ValidPixelSet{Camera:cam, Mask:mask}
		for _, m:=range mask { if m { v.Count++ } }
		return v
	}
	tables:=&remap.Tables{
		Pano:  pano,
		Valid: []*remap.ValidPixelSet{
			valid(0, true,true,true,false, true,true,true,false),
			valid(1, false,true,true,true, false,true,true,true),
		},
		Overlaps: &remap.Overlaps{Regions: []remap.OverlapRegion{
			{A:0, B:1, Rect:image.Rect(1,0,3,2), Pixels:4},
			{A:1, B:0, Rect:image.Rect(1,0,3,2), Pixels:4},
		}},
	}
	l0:=frame.NewImageFromNaxisn([]int32{4,2,1}, []float32{0.1,0.2,0.2,nan, 0.1,0.2,nan,nan})
	l1:=frame.NewImageFromNaxisn([]int32{4,2,1}, []float32{nan,0.4,0.4,0.5, nan,0.4,0.4,0.5})

	gm, err:=CalcErrorFn([]*frame.Image{l0, l1}, tables, 2)
	if err!=nil { t.Fatal(err) }
	// pixel 6 is NaN in camera 0 and skipped
	if gm.Count.At(0,1)!=3 || gm.Count.At(1,0)!=3 { t.Errorf("counts %v", mat.Formatted(gm.Count)) }
	if math.Abs(gm.Intensity[0].At(0,1)-0.2*255)>1e-3 { t.Errorf("I(0,1)=%f", gm.Intensity[0].At(0,1)) }
	if math.Abs(gm.Intensity[0].At(1,0)-0.4*255)>1e-3 { t.Errorf("I(1,0)=%f", gm.Intensity[0].At(1,0)) }
	if gm.Count.At(0,0)!=5 || gm.Count.At(1,1)!=6 { t.Errorf("diagonal %v", mat.Formatted(gm.Count)) }

	if _, err:=CalcErrorFn([]*frame.Image{l0}, tables, 2); !errors.Is(err, status.ErrInvalidParameters) {
		t.Errorf("count mismatch: %v", err)
	}
}

func TestApplyGainsAndCadence(t *testing.T) {
	nan:=float32(math.NaN())
	img:=frame.NewImageFromNaxisn([]int32{2,1,3}, []float32{0.5,nan, 0.5,nan, 0.5,nan})
	gv:=NewUnityGains(2, 3)
	gv.Gain[1*2+0]=2   // camera 0, green
	gv.Offset[2*2+0]=0.1 // camera 0, blue

	out, err:=ApplyGains(img, 0, gv)
	if err!=nil { t.Fatal(err) }
	expect:=[]float32{0.5, 1, 0.6}
	for c:=0; c<3; c++ {
		if math.Abs(float64(out.Data[c*2]-expect[c]))>1e-6 { t.Errorf("channel %d got %f expect %f", c, out.Data[c*2], expect[c]) }
		if !math.IsNaN(float64(out.Data[c*2+1])) { t.Errorf("channel %d lost NaN", c) }
	}
	if img.Data[2]!=0.5 { t.Errorf("input modified") }
	if _, err:=ApplyGains(img, 5, gv); !errors.Is(err, status.ErrInvalidParameters) { t.Errorf("camera 5: %v", err) }

	c:=Cadence{Every: 3}
	if !c.Due(0) || c.Stale()!=nil { t.Errorf("first frame not due") }
	solved:=ManualGains([]float32{1.5, 0})
	solved.Frame=0
	c.Solved(solved)
	for frame, due:=range []bool{true, false, false, true, false} {
		if c.Due(frame)!=due { t.Errorf("frame %d due %v", frame, !due) }
	}
	stale:=c.Stale()
	if !stale.Stale || stale.Frame!=0 || stale.Gain[0]!=1.5 || stale.Gain[1]!=1 { t.Errorf("stale %+v", stale) }
	stale.Gain[0]=7
	if solved.Gain[0]!=1.5 { t.Errorf("stale copy shares storage") }
}
