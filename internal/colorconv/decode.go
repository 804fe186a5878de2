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


// Package colorconv decodes raw camera buffers into planar RGB, and derives
// the luma planes used by exposure compensation and seam finding.
package colorconv

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/mlnoga/panostitch/internal/frame"
	"github.com/mlnoga/panostitch/internal/ops"
	"github.com/mlnoga/panostitch/internal/status"
)

// BT.709 full range YUV to RGB coefficients
const (
	bt709RV = 1.5748
	bt709GU = 0.1873
	bt709GV = 0.4681
	bt709BU = 1.8556
)

// Decodes a raw buffer of the given pixel format into a planar image with values in [0,1].
// RGBA keeps alpha as fourth channel, all other formats yield three channels
func Decode(buf []byte, pf *frame.PixelFormat, width, height int, maxThreads int) (*frame.Image, error) {
	if pf==nil {
		return nil, errors.Wrap(status.ErrNotSupported, "nil pixel format")
	}
	if width<=0 || height<=0 || (pf.Layout==frame.LayoutYUV422 && width%2!=0) {
		return nil, errors.Wrapf(status.ErrInvalidParameters, "%s buffer of %dx%d pixels", pf.Name, width, height)
	}
	if size:=pf.FrameSize(width, height); len(buf)<size {
		return nil, errors.Wrapf(status.ErrInvalidParameters, "%s buffer of %dx%d pixels needs %d bytes, have %d", pf.Name, width, height, size, len(buf))
	}

	img:=frame.NewImageFromNaxisn([]int32{int32(width), int32(height), int32(pf.Channels)}, nil)
	stride:=width*pf.BitsPerPixel/8
	var decodeRow func(row []byte, y int)
	switch pf.Layout {
	case frame.LayoutPackedRGB:
		decodeRow=func(row []byte, y int) { decodePackedRGBRow(img, pf, row, y) }
	case frame.LayoutYUV422:
		decodeRow=func(row []byte, y int) { decodeYUV422Row(img, pf, row, y) }
	default:
		return nil, errors.Wrapf(status.ErrNotSupported, "layout of pixel format %s", pf.Name)
	}
	ops.ParallelFor(height, maxThreads, func(y int) error {
		decodeRow(buf[y*stride:(y+1)*stride], y)
		return nil
	})
	return img, nil
}

// Reads one sample of the pixel format at the given sample index, normalized to [0,1]
func sample(pf *frame.PixelFormat, row []byte, index int) float32 {
	if pf.SampleBytes==1 {
		return float32(row[index])*(1.0/255.0)
	}
	// MSB-aligned in little-endian 16-bit containers
	v:=binary.LittleEndian.Uint16(row[2*index:]) >> uint(16-pf.SampleBits)
	return float32(v)/float32(int(1)<<uint(pf.SampleBits)-1)
}

func decodePackedRGBRow(img *frame.Image, pf *frame.PixelFormat, row []byte, y int) {
	width, size:=img.Width(), int(img.Pixels)
	samplesPerPixel:=pf.BitsPerPixel/(8*pf.SampleBytes)
	for x:=0; x<width; x++ {
		base:=x*samplesPerPixel
		for c:=0; c<pf.Channels; c++ {
			img.Data[c*size+y*width+x]=sample(pf, row, base+pf.Order[c])
		}
	}
}

func decodeYUV422Row(img *frame.Image, pf *frame.PixelFormat, row []byte, y int) {
	width, size:=img.Width(), int(img.Pixels)
	for x:=0; x<width; x+=2 {
		base:=x*2
		y0:=sample(pf, row, base+pf.Order[0])
		u :=sample(pf, row, base+pf.Order[1])-0.5
		y1:=sample(pf, row, base+pf.Order[2])
		v :=sample(pf, row, base+pf.Order[3])-0.5
		for k, yy:=range [2]float32{y0, y1} {
			r, g, b:=YUVToRGB(yy, u, v)
			i:=y*width+x+k
			img.Data[i       ]=r
			img.Data[i+size  ]=g
			img.Data[i+size*2]=b
		}
	}
}

// Converts BT.709 full range YUV with centered chroma in [-0.5,0.5] to RGB, clamped to [0,1]
func YUVToRGB(y, u, v float32) (r, g, b float32) {
	r=clamp01(y + bt709RV*v)
	g=clamp01(y - bt709GU*u - bt709GV*v)
	b=clamp01(y + bt709BU*u)
	return r, g, b
}

func clamp01(v float32) float32 {
	return float32(math.Max(0, math.Min(1, float64(v))))
}
