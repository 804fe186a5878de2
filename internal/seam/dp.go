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
	"fmt"
	"io"
	"math"

	"github.com/pkg/errors"

	"github.com/mlnoga/panostitch/internal/median"
	"github.com/mlnoga/panostitch/internal/ops"
	"github.com/mlnoga/panostitch/internal/remap"
	"github.com/mlnoga/panostitch/internal/status"
)

// Accumulated seam cost of a band. The seam runs along the longer band axis, choosing one
// coordinate across per step
type Accumulated struct {
	Field    *CostField
	Vertical bool       // Seam runs top to bottom, one x per row
	Along    int
	Across   int
	Acc      []float64  // Along x Across accumulated costs
	Pred     []int8     // Offset across to the predecessor: -1 up, 0 straight, +1 down
}

// Returns the cost at step a along and position c across
func (cf *CostField) at(vertical bool, a, c int) float64 {
	if vertical { return float64(cf.Cost[a*cf.Width+c]) }
	return float64(cf.Cost[c*cf.Width+a])
}

// Sweeps the band with dynamic programming. Each step picks the cheapest of the up, straight and down
// predecessors. Ties prefer straight, then up. Predecessors beyond the band border are not considered
func Accumulate(cf *CostField) *Accumulated {
	vertical:=cf.Height>cf.Width
	along, across:=cf.Width, cf.Height
	if vertical { along, across=cf.Height, cf.Width }

	acc:=&Accumulated{
		Field: cf, Vertical: vertical, Along: along, Across: across,
		Acc: make([]float64, along*across), Pred: make([]int8, along*across),
	}
	for c:=0; c<across; c++ {
		acc.Acc[c]=cf.at(vertical, 0, c)
	}
	for a:=1; a<along; a++ {
		prev:=acc.Acc[(a-1)*across : a*across]
		for c:=0; c<across; c++ {
			best, pred:=prev[c], int8(0)
			if c>0 && prev[c-1]<best {
				best, pred = prev[c-1], -1
			}
			if c+1<across && prev[c+1]<best {
				best, pred = prev[c+1], 1
			}
			acc.Acc[a*across+c]=best+cf.at(vertical, a, c)
			acc.Pred[a*across+c]=pred
		}
	}
	return acc
}

// Backtracks the minimum cost seam from the cheapest endpoint. Ties prefer the endpoint closest to the band center.
// Fails with status.ErrNotConverged if no finite seam exists
func (acc *Accumulated) Trace(frameNo int) (*Path, error) {
	last:=acc.Acc[(acc.Along-1)*acc.Across:]
	center:=float64(acc.Across-1)/2
	best:=-1
	for c, v:=range last {
		if math.IsNaN(v) || math.IsInf(v, 0) { continue }
		if best<0 || v<last[best] || (v==last[best] && math.Abs(float64(c)-center)<math.Abs(float64(best)-center)) {
			best=c
		}
	}
	r:=acc.Field.Pair
	if best<0 {
		return nil, errors.Wrapf(status.ErrNotConverged, "no finite seam for pair %d-%d", r.A, r.B)
	}

	p:=&Path{A: r.A, B: r.B, Rect: r.Rect, Vertical: acc.Vertical, Coords: make([]int32, acc.Along), Cost: last[best], Frame: frameNo}
	offset:=r.Rect.Min.Y
	if acc.Vertical { offset=r.Rect.Min.X }
	costs:=make([]float32, acc.Along)
	c:=best
	for a:=acc.Along-1; a>=0; a-- {
		p.Coords[a]=int32(c+offset)
		costs[a]=float32(acc.Field.at(acc.Vertical, a, c))
		c+=int(acc.Pred[a*acc.Across+c])
	}
	p.Median=median.MedianFloat32(costs)
	return p, nil
}

// Accumulates costs for all pairs with a cost field. Other entries stay nil
func (f *Finder) Accumulate(fields []*CostField, maxThreads int) []*Accumulated {
	accs:=make([]*Accumulated, len(fields))
	ops.ParallelFor(len(fields), maxThreads, func(k int) error {
		if fields[k]!=nil { accs[k]=Accumulate(fields[k]) }
		return nil
	})
	return accs
}

// Traces seams for all pairs with accumulated costs, and reuses the last good seam for the others
// or when tracing fails. Returns one path per pair, nil for pairs which never had a seam.
// Only a successful trace makes the band luma and geometry of its re-seam the new scene reference
func (f *Finder) PathTrace(frameNo int, pairs []remap.OverlapRegion, accs []*Accumulated, logWriter io.Writer) []*Path {
	paths:=make([]*Path, len(pairs))
	for k, r:=range pairs {
		ps:=f.pair(r)
		var acc *Accumulated
		if k<len(accs) { acc=accs[k] }
		if acc==nil {
			paths[k]=ps.path
			continue
		}
		p, err:=acc.Trace(frameNo)
		if err!=nil {
			fmt.Fprintf(logWriter, "frame %d: warning: %v; keeping last good seam\n", frameNo, err)
		} else {
			ps.path=p
			if ps.pendLuma!=nil { ps.refLuma, ps.version = ps.pendLuma, ps.pendVer }
		}
		ps.pendLuma=nil
		ps.state=PathTraced
		paths[k]=ps.path
	}
	return paths
}
