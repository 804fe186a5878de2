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


package blend

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlnoga/panostitch/internal/frame"
	"github.com/mlnoga/panostitch/internal/status"
)

func TestLevelSize(t *testing.T) {
	tests:=[]struct{ w, h, level, ew, eh int }{
		{64, 32, 0, 64, 32},
		{64, 32, 2, 16, 8},
		{33, 17, 1, 17, 9},
		{33, 17, 3, 5, 3},
		{5, 3, 5, 1, 1},
	}
	for _,test:=range tests {
		w, h:=LevelSize(test.w, test.h, test.level)
		if w!=test.ew || h!=test.eh {
			t.Errorf("LevelSize(%d, %d, %d) = %d, %d; want %d, %d", test.w, test.h, test.level, w, h, test.ew, test.eh)
		}
	}
}

func TestNewArenaValidation(t *testing.T) {
	_, err:=NewArena(0, 10, 2, 3, 0)
	assert.True(t, errors.Is(err, status.ErrInvalidParameters))
	_, err=NewArena(64, 32, 2, 0, 0)
	assert.True(t, errors.Is(err, status.ErrInvalidParameters))
	_, err=NewArena(64, 32, 2, MaxLevels+1, 0)
	assert.True(t, errors.Is(err, status.ErrInvalidParameters))
	_, err=NewArena(4, 4, 2, 5, 0)
	assert.True(t, errors.Is(err, status.ErrInvalidParameters))
	_, err=NewArena(1024, 512, 3, 4, 1)
	assert.True(t, errors.Is(err, status.ErrNoMemory))

	a, err:=NewArena(5, 3, 2, 2, 1)
	require.NoError(t, err)
	assert.Len(t, a.Data, int(ArenaBytes(5, 3, 2, 2)/4))
}

func TestArenaHandles(t *testing.T) {
	a, err:=NewArena(5, 3, 2, 2, 0)
	require.NoError(t, err)

	color, err:=a.Slice(Handle{Plane: PlaneColor, Slot: 1, Level: 1})
	require.NoError(t, err)
	assert.Len(t, color, 3*2*2)
	valid, err:=a.Slice(Handle{Plane: PlaneValid, Slot: 0, Level: 0})
	require.NoError(t, err)
	assert.Len(t, valid, 15)

	// planes do not alias
	for i:=range a.Data { a.Data[i]=0 }
	for i:=range color { color[i]=1 }
	sum:=float32(0)
	for _,v:=range a.Data { sum+=v }
	assert.Equal(t, float32(len(color)), sum)

	for _,h:=range []Handle{{Plane: PlaneWeight, Slot: 2}, {Plane: PlaneColor, Level: 2}, {Plane: numPlanes}, {Slot: -1}} {
		_, err:=a.Slice(h)
		assert.True(t, errors.Is(err, status.ErrInvalidParameters), "handle %v", h)
	}
}

func flatImage(w, h int, rgb ...float32) *frame.Image {
	img:=frame.NewFilledImage(w, h, 3, 0)
	for c:=0; c<3; c++ {
		ch:=img.Channel(c)
		for i:=range ch { ch[i]=rgb[c] }
	}
	return img
}

func filledWeights(n int, v float32) []float32 {
	w:=make([]float32, n)
	for i:=range w { w[i]=v }
	return w
}

func TestFlatRoundTrip(t *testing.T) {
	w, h:=33, 17
	b, err:=NewBlender(w, h, 2, 4, 0)
	require.NoError(t, err)
	img:=flatImage(w, h, 0.25, 0.5, 0.75)
	out, err:=b.Run([]*frame.Image{img, img.Clone()}, [][]float32{filledWeights(w*h, 0.5), filledWeights(w*h, 0.5)}, 2)
	require.NoError(t, err)
	require.NoError(t, out.Check(w, h, 3))
	for c, want:=range []float32{0.25, 0.5, 0.75} {
		for i, v:=range out.Channel(c) {
			if math.Abs(float64(v-want))>1e-6 {
				t.Fatalf("channel %d pixel %d: got %f want %f", c, i, v, want)
			}
		}
	}
}

func TestPartialCoverage(t *testing.T) {
	w, h:=64, 32
	left, right:=flatImage(w, h, 0.2, 0.2, 0.2), flatImage(w, h, 0.2, 0.2, 0.2)
	wl, wr:=make([]float32, w*h), make([]float32, w*h)
	for y:=0; y<h; y++ {
		for x:=0; x<w; x++ {
			i:=y*w+x
			if x<w/2 { wl[i]=1 } else { wr[i]=1 }
			for c:=0; c<3; c++ {
				if x>=40 { left.Channel(c)[i]=float32(math.NaN()) }
				if x<24 || y==0 { right.Channel(c)[i]=float32(math.NaN()) }
			}
			if x>=40 && y==0 { wr[i]=0 }
		}
	}
	b, err:=NewBlender(w, h, 2, 4, 0)
	require.NoError(t, err)
	out, err:=b.Run([]*frame.Image{left, right}, [][]float32{wl, wr}, 2)
	require.NoError(t, err)

	for y:=0; y<h; y++ {
		for x:=0; x<w; x++ {
			v:=out.Data[y*w+x]
			if y==0 && x>=40 {
				assert.True(t, math.IsNaN(float64(v)), "pixel %d,%d should be uncovered", x, y)
				continue
			}
			assert.InDelta(t, 0.2, v, 1e-5, "pixel %d,%d", x, y)
		}
	}
}

func TestSeamTransition(t *testing.T) {
	w, h:=64, 32
	dark, bright:=flatImage(w, h, 0.2, 0.2, 0.2), flatImage(w, h, 0.8, 0.8, 0.8)
	wd, wb:=make([]float32, w*h), make([]float32, w*h)
	for i:=range wd {
		if i%w<w/2 { wd[i]=1 } else { wb[i]=1 }
	}
	b, err:=NewBlender(w, h, 2, 4, 0)
	require.NoError(t, err)
	out, err:=b.Run([]*frame.Image{dark, bright}, [][]float32{wd, wb}, 1)
	require.NoError(t, err)

	row:=out.Channel(1)[16*w : 17*w]
	assert.InDelta(t, 0.2, row[0], 0.01)
	assert.InDelta(t, 0.8, row[w-1], 0.01)
	for x:=1; x<w; x++ {
		assert.GreaterOrEqual(t, row[x], row[x-1]-1e-6)
	}
}

func TestRunValidation(t *testing.T) {
	b, err:=NewBlender(8, 4, 2, 2, 0)
	require.NoError(t, err)
	_, err=b.Run([]*frame.Image{flatImage(8, 4, 0, 0, 0)}, nil, 1)
	assert.True(t, errors.Is(err, status.ErrInvalidParameters))
	err=b.Build(0, flatImage(8, 4, 0, 0, 0), make([]float32, 3), 1)
	assert.True(t, errors.Is(err, status.ErrInvalidParameters))
	err=b.Build(0, flatImage(7, 4, 0, 0, 0), make([]float32, 32), 1)
	assert.Error(t, err)
}

func TestBlendLeavesCameraPyramidsUnchanged(t *testing.T) {
	w, h:=32, 16
	dark, bright:=flatImage(w, h, 0.2, 0.2, 0.2), flatImage(w, h, 0.8, 0.8, 0.8)
	wd, wb:=make([]float32, w*h), make([]float32, w*h)
	for i:=range wd {
		if i%w<w/2 { wd[i]=1 } else { wb[i]=1 }
	}
	b, err:=NewBlender(w, h, 2, 3, 0)
	require.NoError(t, err)
	require.NoError(t, b.Build(0, dark, wd, 1))
	require.NoError(t, b.Build(1, bright, wb, 1))

	a:=b.Arena
	snapshot:=func(slot int) [][]float32 {
		var res [][]float32
		for _, plane:=range []Plane{PlaneColor, PlaneValid, PlaneWeight} {
			for l:=0; l<a.Levels; l++ {
				res=append(res, append([]float32(nil), a.slice(Handle{plane, slot, l})...))
			}
		}
		return res
	}
	cams:=[][][]float32{snapshot(0), snapshot(1)}

	bl:=b.Pyramids().Blend(2)
	assert.Equal(t, b.Cameras, bl.Slot)
	blended:=snapshot(bl.Slot)
	out1:=bl.Reconstruct(2)
	out2:=bl.Reconstruct(2)
	assert.Equal(t, out1.Data, out2.Data)
	assert.Equal(t, blended, snapshot(bl.Slot))
	assert.Equal(t, cams[0], snapshot(0))
	assert.Equal(t, cams[1], snapshot(1))
}

func TestSeamAcrossWrappedBorder(t *testing.T) {
	w, h:=64, 32
	dark, bright:=flatImage(w, h, 0.2, 0.2, 0.2), flatImage(w, h, 0.8, 0.8, 0.8)
	wd, wb:=make([]float32, w*h), make([]float32, w*h)
	for i:=range wd {
		if i%w<w/2 { wd[i]=1 } else { wb[i]=1 }
	}
	b, err:=NewBlender(w, h, 2, 4, 0)
	require.NoError(t, err)
	b.WrapX=true
	out, err:=b.Run([]*frame.Image{dark, bright}, [][]float32{wd, wb}, 1)
	require.NoError(t, err)

	// the border between the last and first column is a seam like the one in the middle
	row:=out.Channel(1)[16*w : 17*w]
	inner:=float64(row[w/2]-row[w/2-1])
	outer:=float64(row[0]-row[w-1])
	assert.Greater(t, inner, 0.0)
	assert.InDelta(t, inner, -outer, 1e-4)
	assert.Greater(t, row[0], float32(0.3))
	assert.Less(t, row[w-1], float32(0.7))
}
