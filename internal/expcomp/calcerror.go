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


// Package expcomp equalizes exposure across cameras. It gathers mean
// intensities over the overlap regions, solves for per camera gains, and
// applies them to the warped images.
package expcomp

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/mlnoga/panostitch/internal/frame"
	"github.com/mlnoga/panostitch/internal/ops"
	"github.com/mlnoga/panostitch/internal/remap"
	"github.com/mlnoga/panostitch/internal/status"
)

// Exposure compensation mode
type Mode int

const (
	Off    Mode = iota // Unity gains
	Gain               // One gain per camera, from luma
	RGB                // One gain per camera and color channel
	Manual             // Gains from configuration
)

var modeNames=[]string{"off", "gain", "rgb", "manual"}

func (m Mode) String() string { return modeNames[m] }

// Parses a mode name
func ParseMode(s string) (Mode, error) {
	for i,n:=range modeNames {
		if n==s { return Mode(i), nil }
	}
	return 0, errors.Wrapf(status.ErrNotSupported, "exposure compensation mode %q", s)
}

// Overlap statistics. Intensity[c] holds at (i,j) the mean of channel c of camera i over the pixels valid in both i and j,
// on the 0..255 scale. Count holds the number of such pixels. The diagonal holds each camera's own statistics
type GainMatrix struct {
	N         int
	Intensity []*mat.Dense
	Count     *mat.Dense
}

// Number of channels the statistics were gathered for
func (gm *GainMatrix) Channels() int { return len(gm.Intensity) }

// Accumulates the gain matrix from the given planes, one image per camera. Gathers statistics for every channel
// of the images, so luma planes yield one channel and color images three. NaN pixels are skipped
func CalcErrorFn(imgs []*frame.Image, tables *remap.Tables, maxThreads int) (*GainMatrix, error) {
	n:=len(tables.Valid)
	if len(imgs)!=n {
		return nil, errors.Wrapf(status.ErrInvalidParameters, "%d images for %d cameras", len(imgs), n)
	}
	channels:=imgs[0].Channels()
	for _,img:=range imgs {
		if err:=img.Check(tables.Pano.Width, tables.Pano.Height, channels); err!=nil {
			return nil, errors.WithMessage(err, "exposure statistics")
		}
	}

	gm:=&GainMatrix{N: n, Count: mat.NewDense(n, n, nil), Intensity: make([]*mat.Dense, channels)}
	for c:=range gm.Intensity {
		gm.Intensity[c]=mat.NewDense(n, n, nil)
	}

	// own statistics on the diagonal
	err:=ops.ParallelFor(n, maxThreads, func(i int) error {
		sums, count:=make([]float64, channels), 0
		for p, valid:=range tables.Valid[i].Mask {
			if !valid || !finite(imgs[i], p, channels) { continue }
			for c:=0; c<channels; c++ {
				sums[c]+=float64(imgs[i].Data[c*int(imgs[i].Pixels)+p])
			}
			count++
		}
		gm.Count.Set(i, i, float64(count))
		for c:=0; c<channels; c++ {
			gm.Intensity[c].Set(i, i, mean255(sums[c], count))
		}
		return nil
	})
	if err!=nil { return nil, err }

	// overlap statistics, one task per unique pair. Tasks write disjoint matrix elements
	pairs:=tables.Overlaps.Pairs()
	err=ops.ParallelFor(len(pairs), maxThreads, func(k int) error {
		r:=pairs[k]
		a, b:=imgs[r.A], imgs[r.B]
		sumA, sumB, count:=make([]float64, channels), make([]float64, channels), 0
		width, size:=tables.Pano.Width, int(a.Pixels)
		for y:=r.Rect.Min.Y; y<r.Rect.Max.Y; y++ {
			for x:=r.Rect.Min.X; x<r.Rect.Max.X; x++ {
				p:=r.Index(x, y, width)
				if !tables.Valid[r.A].Mask[p] || !tables.Valid[r.B].Mask[p] { continue }
				if !finite(a, p, channels) || !finite(b, p, channels) { continue }
				for c:=0; c<channels; c++ {
					sumA[c]+=float64(a.Data[c*size+p])
					sumB[c]+=float64(b.Data[c*size+p])
				}
				count++
			}
		}
		gm.Count.Set(r.A, r.B, float64(count))
		gm.Count.Set(r.B, r.A, float64(count))
		for c:=0; c<channels; c++ {
			gm.Intensity[c].Set(r.A, r.B, mean255(sumA[c], count))
			gm.Intensity[c].Set(r.B, r.A, mean255(sumB[c], count))
		}
		return nil
	})
	if err!=nil { return nil, err }
	return gm, nil
}

func finite(img *frame.Image, p, channels int) bool {
	for c:=0; c<channels; c++ {
		if math.IsNaN(float64(img.Data[c*int(img.Pixels)+p])) { return false }
	}
	return true
}

func mean255(sum float64, count int) float64 {
	if count==0 { return 0 }
	return 255*sum/float64(count)
}

// Prints the overlap statistics of the first channel
func (gm *GainMatrix) String() string {
	s:=""
	for i:=0; i<gm.N; i++ {
		for j:=0; j<gm.N; j++ {
			s+=fmt.Sprintf(" %7.2f/%-7.0f", gm.Intensity[0].At(i,j), gm.Count.At(i,j))
		}
		s+="\n"
	}
	return s
}
