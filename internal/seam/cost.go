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

	"github.com/mlnoga/panostitch/internal/frame"
	"github.com/mlnoga/panostitch/internal/median"
	"github.com/mlnoga/panostitch/internal/ops"
	"github.com/mlnoga/panostitch/internal/remap"
)

// Cost of pixels not valid in both cameras. Large but finite, so seams through them stay traceable
const InvalidCost = 1e6

// Seam cost over the overlap band of a camera pair
type CostField struct {
	Pair     remap.OverlapRegion
	Width    int
	Height   int
	MagA     []float32  // Sobel gradient magnitude of camera A luma
	MagB     []float32
	PhaseA   []float32  // Sobel gradient direction of camera A luma, in radians
	PhaseB   []float32
	Cost     []float32  // Combined per pixel cost
}

// Extracts the band of a camera luma plane, NaN where the camera is invalid
func extractBand(luma *frame.Image, valid *remap.ValidPixelSet, r remap.OverlapRegion, panoWidth int, useMedian bool) []float32 {
	w, h:=r.Rect.Dx(), r.Rect.Dy()
	band:=make([]float32, w*h)
	for y:=0; y<h; y++ {
		for x:=0; x<w; x++ {
			p:=r.Index(x+r.Rect.Min.X, y+r.Rect.Min.Y, panoWidth)
			if valid.Mask[p] {
				band[y*w+x]=luma.Data[p]
			} else {
				band[y*w+x]=float32(math.NaN())
			}
		}
	}
	if useMedian {
		filtered:=make([]float32, len(band))
		median.MedianFilter3x3(filtered, band, int32(w))
		band=filtered
	}
	return band
}

// Computes Sobel gradient magnitude and direction. Neighbours outside the band or invalid take the center value.
// Invalid pixels get zero gradient
func Sobel(data []float32, w, h int) (mag, phase []float32) {
	mag, phase=make([]float32, w*h), make([]float32, w*h)
	for y:=0; y<h; y++ {
		for x:=0; x<w; x++ {
			c:=data[y*w+x]
			if math.IsNaN(float64(c)) { continue }
			at:=func(dx, dy int) float64 {
				xx, yy:=x+dx, y+dy
				if xx<0 || xx>=w || yy<0 || yy>=h { return float64(c) }
				v:=data[yy*w+xx]
				if math.IsNaN(float64(v)) { return float64(c) }
				return float64(v)
			}
			gx:=(at(1,-1)+2*at(1,0)+at(1,1)) - (at(-1,-1)+2*at(-1,0)+at(-1,1))
			gy:=(at(-1,1)+2*at(0,1)+at(1,1)) - (at(-1,-1)+2*at(0,-1)+at(1,-1))
			mag[y*w+x]=float32(math.Hypot(gx, gy))
			phase[y*w+x]=float32(math.Atan2(gy, gx))
		}
	}
	return mag, phase
}

// Absolute angle difference, folded into [0,pi]
func phaseDiff(a, b float32) float64 {
	d:=math.Mod(math.Abs(float64(a-b)), 2*math.Pi)
	if d>math.Pi { d=2*math.Pi-d }
	return d
}

// Builds the cost field of one pair from the luma planes of both cameras
func NewCostField(lumas []*frame.Image, tables *remap.Tables, r remap.OverlapRegion, useMedian bool) *CostField {
	w, h:=r.Rect.Dx(), r.Rect.Dy()
	la:=extractBand(lumas[r.A], tables.Valid[r.A], r, tables.Pano.Width, useMedian)
	lb:=extractBand(lumas[r.B], tables.Valid[r.B], r, tables.Pano.Width, useMedian)
	cf:=&CostField{Pair: r, Width: w, Height: h, Cost: make([]float32, w*h)}
	cf.MagA, cf.PhaseA=Sobel(la, w, h)
	cf.MagB, cf.PhaseB=Sobel(lb, w, h)
	for i:=range cf.Cost {
		a, b:=la[i], lb[i]
		if math.IsNaN(float64(a)) || math.IsNaN(float64(b)) {
			cf.Cost[i]=InvalidCost
			continue
		}
		ma, mb:=cf.MagA[i], cf.MagB[i]
		cost:=math.Abs(float64(a-b)) + float64(ma+mb)/2 + math.Min(float64(ma), float64(mb))*phaseDiff(cf.PhaseA[i], cf.PhaseB[i])/math.Pi
		cf.Cost[i]=float32(cost)
	}
	return cf
}

// Generates cost fields for all pairs which need a new seam. Other entries stay nil
func (f *Finder) CostGenerate(lumas []*frame.Image, tables *remap.Tables, decisions []Decision, maxThreads int) []*CostField {
	pairs:=tables.Overlaps.Pairs()
	fields:=make([]*CostField, len(pairs))
	ops.ParallelFor(len(pairs), maxThreads, func(k int) error {
		if k>=len(decisions) || !decisions[k].Reseam { return nil }
		fields[k]=NewCostField(lumas, tables, pairs[k], f.Options.Median)
		f.pair(pairs[k]).state=CostBuilt
		return nil
	})
	return fields
}
