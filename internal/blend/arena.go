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


// Package blend implements multi-band blending with Laplacian pyramids.
// All pyramid levels of all cameras live in one arena, addressed by validated handles.
package blend

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/mlnoga/panostitch/internal/status"
)

// Maximum supported pyramid depth
const MaxLevels = 16

// A plane stored per slot and pyramid level
type Plane int

const (
	PlaneColor  Plane = iota  // RGB, Gaussian during build and Laplacian afterwards
	PlaneValid                // 1 where the level has data, 0 elsewhere
	PlaneWeight               // Gaussian pyramid of the seam weights
	numPlanes
)

var planeChannels=[numPlanes]int{3, 1, 1}
var planeNames   =[numPlanes]string{"color", "valid", "weight"}

func (p Plane) String() string {
	if p<0 || p>=numPlanes { return fmt.Sprintf("plane(%d)", int(p)) }
	return planeNames[p]
}

// Addresses one plane of one pyramid level of one slot in the arena
type Handle struct {
	Plane  Plane
	Slot   int
	Level  int
}

// A contiguous buffer holding the pyramids of several slots. Each camera has one slot,
// the blended result has another
type Arena struct {
	Width   int
	Height  int
	Slots   int
	Levels  int
	Data    []float32
	offsets []int     // Offset of level 0 of each plane per slot, indexed by slot*numPlanes+plane
	levelOffsets []int // Offset of each level within a plane, in pixels
	levelDims    [][2]int
}

// Returns the dimensions of a pyramid level, rounding up on odd sizes
func LevelSize(width, height, level int) (w, h int) {
	w, h=width, height
	for i:=0; i<level; i++ {
		w, h = (w+1)/2, (h+1)/2
	}
	return w, h
}

// Returns the number of bytes an arena with the given layout occupies
func ArenaBytes(width, height, slots, levels int) int64 {
	pixels:=int64(0)
	for l:=0; l<levels; l++ {
		w, h:=LevelSize(width, height, l)
		pixels+=int64(w)*int64(h)
	}
	channels:=int64(0)
	for _,c:=range planeChannels { channels+=int64(c) }
	return pixels*channels*int64(slots)*4
}

// Allocates an arena. Fails with status.ErrInvalidParameters for impossible layouts,
// and status.ErrNoMemory if the arena exceeds the budget in MB. A zero budget is unlimited
func NewArena(width, height, slots, levels, budgetMB int) (*Arena, error) {
	if width<1 || height<1 || slots<1 {
		return nil, errors.Wrapf(status.ErrInvalidParameters, "arena %dx%d with %d slots", width, height, slots)
	}
	if levels<1 || levels>MaxLevels {
		return nil, errors.Wrapf(status.ErrInvalidParameters, "%d pyramid levels, expecting 1..%d", levels, MaxLevels)
	}
	if levels>1 {
		if w, h:=LevelSize(width, height, levels-2); w==1 && h==1 {
			return nil, errors.Wrapf(status.ErrInvalidParameters, "%d pyramid levels too deep for %dx%d", levels, width, height)
		}
	}
	bytes:=ArenaBytes(width, height, slots, levels)
	if budgetMB>0 && bytes>int64(budgetMB)*1024*1024 {
		return nil, errors.Wrapf(status.ErrNoMemory, "pyramid arena needs %d MB, budget is %d MB", bytes/1024/1024+1, budgetMB)
	}

	a:=&Arena{Width: width, Height: height, Slots: slots, Levels: levels}
	a.levelOffsets=make([]int, levels+1)
	a.levelDims=make([][2]int, levels)
	for l:=0; l<levels; l++ {
		w, h:=LevelSize(width, height, l)
		a.levelDims[l]=[2]int{w, h}
		a.levelOffsets[l+1]=a.levelOffsets[l]+w*h
	}
	pyramidPixels:=a.levelOffsets[levels]
	a.offsets=make([]int, slots*int(numPlanes))
	offset:=0
	for s:=0; s<slots; s++ {
		for p:=Plane(0); p<numPlanes; p++ {
			a.offsets[s*int(numPlanes)+int(p)]=offset
			offset+=pyramidPixels*planeChannels[p]
		}
	}
	a.Data=make([]float32, offset)
	return a, nil
}

// Returns the dimensions of the given level
func (a *Arena) Dims(level int) (w, h int) {
	d:=a.levelDims[level]
	return d[0], d[1]
}

// Validates a handle
func (a *Arena) Check(h Handle) error {
	if h.Plane<0 || h.Plane>=numPlanes || h.Slot<0 || h.Slot>=a.Slots || h.Level<0 || h.Level>=a.Levels {
		return errors.Wrapf(status.ErrInvalidParameters, "handle %v out of range for %d slots and %d levels", h, a.Slots, a.Levels)
	}
	return nil
}

// Returns the storage of the plane addressed by the handle. Multi-channel planes are stored channel after channel
func (a *Arena) Slice(h Handle) ([]float32, error) {
	if err:=a.Check(h); err!=nil { return nil, err }
	return a.slice(h), nil
}

// Unchecked variant of Slice for handles constructed internally
func (a *Arena) slice(h Handle) []float32 {
	ch:=planeChannels[h.Plane]
	base:=a.offsets[h.Slot*int(numPlanes)+int(h.Plane)]
	start:=base+a.levelOffsets[h.Level]*ch
	size:=(a.levelOffsets[h.Level+1]-a.levelOffsets[h.Level])*ch
	return a.Data[start : start+size : start+size]
}

func (h Handle) String() string {
	return fmt.Sprintf("(%s, slot %d, level %d)", h.Plane, h.Slot, h.Level)
}
