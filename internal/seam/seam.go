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


// Package seam finds minimum cost seams through the overlap of each camera pair,
// and turns them into per camera blend weights. Seams persist across frames and
// are recomputed on scene changes, geometry changes, or a refresh cadence.
package seam

import (
	"fmt"
	"image"
	"io"
	"sync"

	"github.com/mlnoga/panostitch/internal/remap"
)

// Processing state of a camera pair within one frame
type State int

const (
	Idle State = iota
	CostBuilt
	PathTraced
	WeightsSet
)

var stateNames=[]string{"idle", "cost built", "path traced", "weights set"}

func (s State) String() string { return stateNames[s] }

// Options of the seam finder
type Options struct {
	SceneThreshold   float64 // Block luma difference above which seams are recomputed
	ScenePercentile  float64 // Percentile over block differences
	RefreshEvery     int     // Force a re-seam every n frames, 0 disables
	SmoothWidth      int     // Width of the linear transition band, 0 is a hard cut
	Median           bool    // Median prefilter on luma before cost generation
}

// A seam through the overlap band of a camera pair. Vertical seams hold one x coordinate per row of the band,
// horizontal seams one y coordinate per column. Coordinates are absolute panorama pixels in the frame of Rect,
// so x may exceed the panorama width for bands crossing the meridian
type Path struct {
	A, B     int
	Rect     image.Rectangle
	Vertical bool
	Coords   []int32
	Cost     float64  // Accumulated cost along the seam
	Median   float32  // Median pixel cost along the seam
	Frame    int      // Frame the seam was traced on
}

// Returns the seam coordinate for the given row (vertical) or column (horizontal) of the panorama
func (p *Path) At(along int) int {
	if p.Vertical {
		return int(p.Coords[along-p.Rect.Min.Y])
	}
	return int(p.Coords[along-p.Rect.Min.X])
}

// Per pair state persisted across frames
type pairState struct {
	state    State
	path     *Path      // Last good seam
	refLuma  []float32  // Band luma at the last successful re-seam
	version  uint64     // Geometry version of the last successful re-seam
	pendLuma []float32  // Band luma and version of a requested re-seam, committed when its trace succeeds
	pendVer  uint64
}

// The seam finder of a rig. Holds the per pair state machine and the persisted seams
type Finder struct {
	Options Options
	mutex   sync.Mutex
	pairs   map[[2]int]*pairState
}

func NewFinder(opts Options) *Finder {
	return &Finder{Options: opts, pairs: map[[2]int]*pairState{}}
}

func (f *Finder) pair(r remap.OverlapRegion) *pairState {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	key:=[2]int{r.A, r.B}
	ps, ok:=f.pairs[key]
	if !ok {
		ps=&pairState{}
		f.pairs[key]=ps
	}
	return ps
}

// Returns the state of the given pair
func (f *Finder) State(a, b int) State {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if ps, ok:=f.pairs[[2]int{a, b}]; ok { return ps.state }
	return Idle
}

// Prints the state and seam cost per pair
func (f *Finder) Report(w io.Writer, pairs []remap.OverlapRegion) {
	for _,r:=range pairs {
		ps:=f.pair(r)
		if ps.path!=nil {
			fmt.Fprintf(w, "%d-%d: %s, seam from frame %d with cost %.1f, median %.4f\n", r.A, r.B, ps.state, ps.path.Frame, ps.path.Cost, ps.path.Median)
		} else {
			fmt.Fprintf(w, "%d-%d: %s, no seam\n", r.A, r.B, ps.state)
		}
	}
}
