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


// Package remap builds the per camera lookup tables from panorama pixels to
// source coordinates, and the overlap structure derived from them.
package remap

import (
	"fmt"
	"image"
	"io"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/mlnoga/panostitch/internal/ops"
	"github.com/mlnoga/panostitch/internal/rig"
	"github.com/mlnoga/panostitch/internal/status"
)

// No camera contributes, in the group maps
const NoCamera = 0xFF

// Maps one panorama pixel to a fractional source coordinate. The fraction carries the sub-pixel weight
type Entry struct {
	Dst   int32    // Panorama pixel index, y*width+x
	SrcX  float32
	SrcY  float32
}

// Remap table of one camera. Entries are ordered by panorama pixel index
type Table struct {
	Camera    int
	SrcWidth  int
	SrcHeight int
	Entries   []Entry
}

// The panorama pixels a camera contributes to
type ValidPixelSet struct {
	Camera int
	Mask   []bool           // Per panorama pixel
	Count  int
	Bounds image.Rectangle  // Bounding rectangle of valid pixels, empty if none
}

// Returns true if the panorama pixel with given index is valid for the camera
func (v *ValidPixelSet) Valid(i int) bool { return v.Mask[i] }

// Bounding rectangle and size of the panorama area covered by two cameras. Columns wrap around the
// panorama width: Rect.Min.X lies in [0,width), Rect.Max.X may exceed the width for overlaps crossing
// the 180 degree meridian. Use WrapX to turn a rect column into a panorama column
type OverlapRegion struct {
	A, B   int
	Rect   image.Rectangle
	Pixels int
}

// Returns the panorama column of a possibly wrapped column x
func WrapX(x, width int) int {
	x%=width
	if x<0 { x+=width }
	return x
}

// Returns the panorama pixel index of rect coordinates (x,y). Columns wrap
func (r OverlapRegion) Index(x, y, width int) int {
	return y*width+WrapX(x, width)
}

// Overlap structure of all cameras
type Overlaps struct {
	Regions []OverlapRegion   // Symmetric: (A,B) is present iff (B,A) is
	Count   [][]int           // NxN pixel counts. Diagonal is each camera's own valid count
}

// Returns the overlap regions with A<B, one per unique camera pair
func (o *Overlaps) Pairs() []OverlapRegion {
	var res []OverlapRegion
	for _,r:=range o.Regions {
		if r.A<r.B { res=append(res, r) }
	}
	return res
}

// First and second contributing camera per panorama pixel, NoCamera if none
type Groups struct {
	First  []uint8
	Second []uint8
}

// Complete remap structure for a rig and panorama geometry. Immutable after construction, shared across frames
type Tables struct {
	Version  uint64          // Changes whenever the geometry is rebuilt
	Pano     rig.Equirect
	Tables   []*Table
	Valid    []*ValidPixelSet
	Overlaps *Overlaps
	Groups   *Groups
}

var versionCounter uint64

// Builds remap tables, valid pixel sets, overlaps and group maps. Cameras are processed concurrently.
// Every entry maps inside the source image bounds
func Build(r *rig.Rig, pano rig.Equirect, maxThreads int) (*Tables, error) {
	if r==nil || len(r.Cameras)==0 {
		return nil, errors.Wrap(status.ErrInvalidCalibration, "no cameras")
	}
	if len(r.Cameras)>=NoCamera {
		return nil, errors.Wrapf(status.ErrInvalidCalibration, "%d cameras exceed the group map range", len(r.Cameras))
	}
	if pano.Width<2 || pano.Height!=pano.Width/2 {
		return nil, errors.Wrapf(status.ErrInvalidCalibration, "panorama %dx%d", pano.Width, pano.Height)
	}

	n:=len(r.Cameras)
	t:=&Tables{
		Version: atomic.AddUint64(&versionCounter, 1),
		Pano:    pano,
		Tables:  make([]*Table, n),
		Valid:   make([]*ValidPixelSet, n),
	}
	err:=ops.ParallelFor(n, maxThreads, func(i int) error {
		t.Tables[i], t.Valid[i]=buildCamera(r.Cameras[i], pano)
		return nil
	})
	if err!=nil { return nil, err }

	t.Overlaps=buildOverlaps(t.Valid, pano)
	t.Groups=buildGroups(t.Valid, pano)
	return t, nil
}

func buildCamera(cam *rig.Camera, pano rig.Equirect) (*Table, *ValidPixelSet) {
	size:=pano.Width*pano.Height
	table:=&Table{Camera: cam.Index, SrcWidth: cam.Width, SrcHeight: cam.Height}
	valid:=&ValidPixelSet{Camera: cam.Index, Mask: make([]bool, size)}
	for y:=0; y<pano.Height; y++ {
		for x:=0; x<pano.Width; x++ {
			u, v, ok:=cam.Project(pano.Direction(x, y))
			if !ok || !cam.Contains(u, v) { continue }
			// float32 rounding may push a coordinate just past the border
			su, sv:=float32(u), float32(v)
			if su>float32(cam.Width-1) { su=float32(cam.Width-1) }
			if sv>float32(cam.Height-1) { sv=float32(cam.Height-1) }
			i:=y*pano.Width+x
			table.Entries=append(table.Entries, Entry{Dst: int32(i), SrcX: su, SrcY: sv})
			valid.Mask[i]=true
			valid.Count++
			valid.Bounds=valid.Bounds.Union(image.Rect(x, y, x+1, y+1))
		}
	}
	return table, valid
}

func buildOverlaps(valid []*ValidPixelSet, pano rig.Equirect) *Overlaps {
	n:=len(valid)
	o:=&Overlaps{Count: make([][]int, n)}
	for i:=range o.Count {
		o.Count[i]=make([]int, n)
		o.Count[i][i]=valid[i].Count
	}
	cols:=make([]bool, pano.Width)
	for a:=0; a<n; a++ {
		for b:=a+1; b<n; b++ {
			for x:=range cols { cols[x]=false }
			minY, maxY, pixels:=pano.Height, -1, 0
			// linear bounds contain all valid pixels, also for cameras crossing the meridian
			inter:=valid[a].Bounds.Intersect(valid[b].Bounds)
			for y:=inter.Min.Y; y<inter.Max.Y; y++ {
				for x:=inter.Min.X; x<inter.Max.X; x++ {
					i:=y*pano.Width+x
					if valid[a].Mask[i] && valid[b].Mask[i] {
						pixels++
						cols[x]=true
						if y<minY { minY=y }
						if y>maxY { maxY=y }
					}
				}
			}
			o.Count[a][b], o.Count[b][a] = pixels, pixels
			if pixels>0 {
				x0, span:=columnSpan(cols)
				rect:=image.Rect(x0, minY, x0+span, maxY+1)
				o.Regions=append(o.Regions, OverlapRegion{A: a, B: b, Rect: rect, Pixels: pixels},
				                            OverlapRegion{A: b, B: a, Rect: rect, Pixels: pixels})
			}
		}
	}
	return o
}

// Returns the shortest circular run of columns containing all occupied ones, as start column and length.
// The run starts after the longest circular gap of unoccupied columns
func columnSpan(cols []bool) (start, span int) {
	w:=len(cols)
	gapStart, gapLen:=0, 0
	for x:=0; x<w; x++ {
		if cols[x] || x>0 && !cols[x-1] { continue }
		// x starts a gap, measure it circularly
		l:=0
		for l<w && !cols[WrapX(x+l, w)] { l++ }
		if l>gapLen { gapStart, gapLen = x, l }
	}
	if gapLen==0 { return 0, w }
	return WrapX(gapStart+gapLen, w), w-gapLen
}

func buildGroups(valid []*ValidPixelSet, pano rig.Equirect) *Groups {
	size:=pano.Width*pano.Height
	g:=&Groups{First: make([]uint8, size), Second: make([]uint8, size)}
	for i:=0; i<size; i++ {
		g.First[i], g.Second[i] = NoCamera, NoCamera
		for c, v:=range valid {
			if !v.Mask[i] { continue }
			if g.First[i]==NoCamera {
				g.First[i]=uint8(c)
			} else {
				g.Second[i]=uint8(c)
				break
			}
		}
	}
	return g
}

// Prints per camera coverage and per pair overlap statistics
func (t *Tables) Report(w io.Writer) {
	size:=t.Pano.Width*t.Pano.Height
	for _,v:=range t.Valid {
		fmt.Fprintf(w, "%d: covers %d pixels (%.1f%%) in %v\n", v.Camera, v.Count, 100*float64(v.Count)/float64(size), v.Bounds)
	}
	for _,r:=range t.Overlaps.Pairs() {
		fmt.Fprintf(w, "%d-%d: overlap %d pixels in %v\n", r.A, r.B, r.Pixels, r.Rect)
	}
	covered:=0
	for _,f:=range t.Groups.First {
		if f!=NoCamera { covered++ }
	}
	fmt.Fprintf(w, "Panorama %dx%d, %.1f%% covered\n", t.Pano.Width, t.Pano.Height, 100*float64(covered)/float64(size))
}
