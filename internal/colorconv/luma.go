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


package colorconv

import (
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"

	"github.com/mlnoga/panostitch/internal/frame"
	"github.com/mlnoga/panostitch/internal/ops"
	"github.com/mlnoga/panostitch/internal/status"
)

// How luma is derived from RGB
type LumaMode int

const (
	LumaRec709 LumaMode = iota // Rec.709 weighted sum of the channels
	LumaLab                    // CIE L* of the sRGB color, scaled to [0,1]
)

var lumaModeNames=[]string{"rec709", "lab"}

func (m LumaMode) String() string { return lumaModeNames[m] }

// Parses a luma mode name
func ParseLumaMode(s string) (LumaMode, error) {
	for i,n:=range lumaModeNames {
		if n==s { return LumaMode(i), nil }
	}
	return 0, errors.Wrapf(status.ErrNotSupported, "luma mode %q", s)
}

// Returns the luma of a single RGB value. NaN in any channel yields NaN
func Luma(mode LumaMode, r, g, b float32) float32 {
	if math.IsNaN(float64(r)) || math.IsNaN(float64(g)) || math.IsNaN(float64(b)) {
		return float32(math.NaN())
	}
	if mode==LumaLab {
		l, _, _:=colorful.Color{R: float64(r), G: float64(g), B: float64(b)}.Lab()
		return float32(l)
	}
	return 0.2126*r + 0.7152*g + 0.0722*b
}

// Computes a single-channel luma plane from the first three channels of the image. Gray images are copied.
// Invalid pixels stay NaN
func LumaImage(img *frame.Image, mode LumaMode, maxThreads int) *frame.Image {
	width, height:=img.Width(), img.Height()
	out:=frame.NewImageFromNaxisn([]int32{int32(width), int32(height), 1}, nil)
	out.ID, out.FileName, out.Timestamp = img.ID, img.FileName, img.Timestamp
	if img.Channels()<3 {
		copy(out.Data, img.Channel(0))
		return out
	}
	r, g, b:=img.Channel(0), img.Channel(1), img.Channel(2)
	ops.ParallelFor(height, maxThreads, func(y int) error {
		for i:=y*width; i<(y+1)*width; i++ {
			out.Data[i]=Luma(mode, r[i], g[i], b[i])
		}
		return nil
	})
	return out
}
