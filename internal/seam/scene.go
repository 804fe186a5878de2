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
	"math"

	"github.com/montanaflynn/stats"
	"github.com/valyala/fastrand"

	"github.com/mlnoga/panostitch/internal/frame"
	"github.com/mlnoga/panostitch/internal/remap"
)

const (
	sceneBlockSize    = 16   // Edge length of scene detection blocks
	sceneBlockSamples = 32   // Sampled pixels per block
)

// Whether a pair needs a new seam on this frame, and why
type Decision struct {
	Reseam bool
	Metric float64  // Scene change metric, zero if not measured
	Reason string
}

// Returns the luma of the overlap band: per pixel the mean of both cameras where both are valid, else NaN
func bandLuma(lumas []*frame.Image, tables *remap.Tables, r remap.OverlapRegion) []float32 {
	w, h:=r.Rect.Dx(), r.Rect.Dy()
	out:=make([]float32, w*h)
	la, lb:=lumas[r.A].Data, lumas[r.B].Data
	for y:=0; y<h; y++ {
		for x:=0; x<w; x++ {
			p:=r.Index(x+r.Rect.Min.X, y+r.Rect.Min.Y, tables.Pano.Width)
			a, b:=la[p], lb[p]
			if !tables.Valid[r.A].Mask[p] || !tables.Valid[r.B].Mask[p] || math.IsNaN(float64(a)) || math.IsNaN(float64(b)) {
				out[y*w+x]=float32(math.NaN())
			} else {
				out[y*w+x]=0.5*(a+b)
			}
		}
	}
	return out
}

// Computes the scene change metric between two band luma planes: the given percentile over 16x16 blocks
// of the mean absolute luma difference. Pixels are sampled with a fixed seed, so identical inputs give identical results
func SceneMetric(cur, ref []float32, width, height int, percentile float64, seed uint32) float64 {
	if len(cur)!=len(ref) || len(cur)!=width*height || width==0 { return math.Inf(1) }

	var rng fastrand.RNG
	rng.Seed(seed|1)
	var blocks stats.Float64Data
	for by:=0; by<height; by+=sceneBlockSize {
		for bx:=0; bx<width; bx+=sceneBlockSize {
			block:=image.Rect(bx, by, bx+sceneBlockSize, by+sceneBlockSize).Intersect(image.Rect(0, 0, width, height))
			bw, bh:=block.Dx(), block.Dy()
			sum, count:=0.0, 0
			for s:=0; s<sceneBlockSamples; s++ {
				k:=int(rng.Uint32n(uint32(bw*bh)))
				i:=(block.Min.Y+k/bw)*width+block.Min.X+k%bw
				c, r:=cur[i], ref[i]
				if math.IsNaN(float64(c)) || math.IsNaN(float64(r)) { continue }
				sum+=math.Abs(float64(c-r))
				count++
			}
			if count>0 {
				blocks=append(blocks, sum/float64(count))
			}
		}
	}
	if len(blocks)==0 { return 0 }
	if len(blocks)==1 { return blocks[0] }
	p, err:=stats.Percentile(blocks, percentile)
	if err!=nil { return math.Inf(1) }
	return p
}

// Decides per pair whether to re-seam on this frame. Resets all pairs to Idle.
// Forces a re-seam on the first frame, on geometry changes and on the refresh cadence
func (f *Finder) SceneDetect(frameNo int, lumas []*frame.Image, tables *remap.Tables) []Decision {
	pairs:=tables.Overlaps.Pairs()
	decisions:=make([]Decision, len(pairs))
	for k, r:=range pairs {
		ps:=f.pair(r)
		ps.state=Idle
		cur:=bandLuma(lumas, tables, r)

		d:=&decisions[k]
		switch {
		case ps.path==nil:
			d.Reseam, d.Reason = true, "first frame"
		case ps.version!=tables.Version:
			d.Reseam, d.Reason = true, "geometry changed"
		case f.Options.RefreshEvery>0 && frameNo-ps.path.Frame>=f.Options.RefreshEvery:
			d.Reseam, d.Reason = true, "refresh"
		default:
			d.Metric=SceneMetric(cur, ps.refLuma, r.Rect.Dx(), r.Rect.Dy(), f.Options.ScenePercentile, uint32(r.A*256+r.B))
			if d.Metric>f.Options.SceneThreshold {
				d.Reseam, d.Reason = true, "scene change"
			} else {
				d.Reason="unchanged"
			}
		}
		if d.Reseam {
			ps.pendLuma, ps.pendVer = cur, tables.Version
		}
	}
	return decisions
}
