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
	"math"

	"github.com/mlnoga/panostitch/internal/ops"
	"github.com/mlnoga/panostitch/internal/remap"
)

// Per camera blend weights over the panorama. At every pixel covered by k>0 cameras the weights sum to one,
// cameras not covering a pixel have weight zero
type WeightMap struct {
	Width   int
	Height  int
	Weights [][]float32
}

// Returns the sum of weights over all cameras at the given pixel
func (wm *WeightMap) Sum(i int) float32 {
	sum:=float32(0)
	for _,w:=range wm.Weights { sum+=w[i] }
	return sum
}

// Vote of one pixel for camera A being before the seam: +1 if only A is valid before the seam or only B after it,
// -1 for the opposite, 0 if both or neither are valid
func sideVote(a, b, before bool) int {
	if a==b { return 0 }
	if a==before { return 1 }
	return -1
}

// Returns the camera before the seam and the one after it. Pixels valid for only one camera are counted
// across the band and a margin on either side, so the sides follow the seam also for cameras crossing the meridian
func (p *Path) sides(va, vb *remap.ValidPixelSet, pw, ph int) (first, second int) {
	size:=p.Rect.Dy()
	if p.Vertical { size=p.Rect.Dx() }
	margin:=size
	if margin<4 { margin=4 }
	if margin>pw/4 { margin=pw/4 }
	score:=0
	if p.Vertical {
		for y:=p.Rect.Min.Y; y<p.Rect.Max.Y; y++ {
			s:=p.At(y)
			for x:=p.Rect.Min.X-margin; x<p.Rect.Max.X+margin; x++ {
				i:=y*pw+remap.WrapX(x, pw)
				score+=sideVote(va.Mask[i], vb.Mask[i], x<s)
			}
		}
	} else {
		for x:=p.Rect.Min.X; x<p.Rect.Max.X; x++ {
			s:=p.At(x)
			for y:=p.Rect.Min.Y-margin; y<p.Rect.Max.Y+margin; y++ {
				if y<0 || y>=ph { continue }
				i:=y*pw+remap.WrapX(x, pw)
				score+=sideVote(va.Mask[i], vb.Mask[i], y<s)
			}
		}
	}
	if score<0 { return p.B, p.A }
	return p.A, p.B
}

// Returns the weight of the camera before the seam, given the signed distance of the pixel center past the seam.
// A zero width is a hard cut
func transition(d float64, width int) float32 {
	if width<=0 {
		if d<0 { return 1 }
		return 0
	}
	t:=0.5-d/float64(width)
	if t<0 { t=0 } else if t>1 { t=1 }
	return float32(t)
}

// Converts seams into blend weights. Every camera starts at one where valid. Each seam scales the weights of its
// pair across the transition band, then weights are renormalized per pixel
func (f *Finder) SetWeights(tables *remap.Tables, paths []*Path, maxThreads int) *WeightMap {
	pw, ph:=tables.Pano.Width, tables.Pano.Height
	wm:=&WeightMap{Width: pw, Height: ph, Weights: make([][]float32, len(tables.Valid))}
	for c, v:=range tables.Valid {
		w:=make([]float32, pw*ph)
		for i, ok:=range v.Mask {
			if ok { w[i]=1 }
		}
		wm.Weights[c]=w
	}

	for _,p:=range paths {
		if p==nil { continue }
		// first is the camera before the seam, i.e. left of vertical or above horizontal seams
		first, second:=p.sides(tables.Valid[p.A], tables.Valid[p.B], pw, ph)
		wf, ws:=wm.Weights[first], wm.Weights[second]
		vf, vs:=tables.Valid[first], tables.Valid[second]

		ops.ParallelFor(p.Rect.Dy(), maxThreads, func(row int) error {
			y:=p.Rect.Min.Y+row
			for x:=p.Rect.Min.X; x<p.Rect.Max.X; x++ {
				i:=y*pw+remap.WrapX(x, pw)
				if !vf.Mask[i] || !vs.Mask[i] { continue }
				var d float64
				if p.Vertical {
					d=float64(x-p.At(y))+0.5
				} else {
					d=float64(y-p.At(x))+0.5
				}
				t:=transition(d, f.Options.SmoothWidth)
				wf[i]*=t
				ws[i]*=1-t
			}
			return nil
		})
		f.pair(remap.OverlapRegion{A: p.A, B: p.B}).state=WeightsSet
	}

	wm.renormalize(tables.Valid, maxThreads)
	return wm
}

// Scales weights to sum to one per pixel. Where all valid weights are zero, the valid cameras share equally
func (wm *WeightMap) renormalize(valid []*remap.ValidPixelSet, maxThreads int) {
	ops.ParallelFor(wm.Height, maxThreads, func(y int) error {
		for i:=y*wm.Width; i<(y+1)*wm.Width; i++ {
			sum, k:=float32(0), 0
			for c, v:=range valid {
				if v.Mask[i] { sum+=wm.Weights[c][i]; k++ }
			}
			if k==0 { continue }
			if sum>0 && !math.IsInf(float64(sum), 0) {
				inv:=1/sum
				for c, v:=range valid {
					if v.Mask[i] { wm.Weights[c][i]*=inv }
				}
			} else {
				share:=1/float32(k)
				for c, v:=range valid {
					if v.Mask[i] { wm.Weights[c][i]=share }
				}
			}
		}
		return nil
	})
}
