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


package frame

import (
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/mlnoga/panostitch/internal/status"
)

// A planar floating point image. Used for camera frames, warped images,
// luma planes, weight maps and the panorama itself.
type Image struct {
	ID       int         // Camera index, for log output. By convention the panorama is -1
	FileName string      // Original file name, if any, for log output.

	Naxisn []int32       // Axis dimensions. Most quickly varying dimension first (i.e. width, height, channels)
	Pixels int32         // Number of pixels per channel. Product of width and height

	Data   []float32     // The image data, one plane per channel. Values nominally in [0,1], NaN marks invalid pixels

	Timestamp time.Time  // Capture time, if known
}

// Creates an image from given naxisn. Data is not copied, allocated if nil. naxisn is deep copied
func NewImageFromNaxisn(naxisn []int32, data []float32) *Image {
	numPixels:=int32(1)
	for i,naxis:=range(naxisn) {
		if i<2 { numPixels*=naxis }
	}
	total:=numPixels
	if len(naxisn)>2 { total*=naxisn[2] }
	if data==nil {
		data=make([]float32, total)
	}
	return &Image{
		ID:       0,
		FileName: "",
		Naxisn:   append([]int32(nil), naxisn...), // clone slice
		Pixels:   numPixels,
		Data:     data,
	}
}

// Creates an image of given dimensions and channels, filled with the given value
func NewFilledImage(width, height, channels int, value float32) *Image {
	img:=NewImageFromNaxisn([]int32{int32(width), int32(height), int32(channels)}, nil)
	if value!=0 {
		for i:=range img.Data { img.Data[i]=value }
	}
	return img
}

// Creates an image with the shape and metadata of the given image. New data array will be allocated
func NewImageFromImage(img *Image) *Image {
	return &Image{
		ID:        img.ID,
		FileName:  img.FileName,
		Naxisn:    append([]int32(nil), img.Naxisn...), // clone slice
		Pixels:    img.Pixels,
		Data:      make([]float32, len(img.Data)),
		Timestamp: img.Timestamp,
	}
}

// Returns a deep copy of the image
func (f *Image) Clone() *Image {
	c:=NewImageFromImage(f)
	copy(c.Data, f.Data)
	return c
}

func (f *Image) Width() int  { return int(f.Naxisn[0]) }
func (f *Image) Height() int { return int(f.Naxisn[1]) }

// Number of channels. Two-dimensional images have one
func (f *Image) Channels() int {
	if len(f.Naxisn)<3 { return 1 }
	return int(f.Naxisn[2])
}

// Returns the data plane of the given channel. Shares storage with the image
func (f *Image) Channel(c int) []float32 {
	return f.Data[c*int(f.Pixels):(c+1)*int(f.Pixels)]
}

// Checks that the image is well-formed and has the expected shape. Zero width, height or channels skip the respective check
func (f *Image) Check(width, height, channels int) error {
	if f==nil || len(f.Naxisn)<2 {
		return errors.Wrap(status.ErrInvalidParameters, "missing image")
	}
	if f.Naxisn[0]<=0 || f.Naxisn[1]<=0 || int(f.Pixels)!=f.Width()*f.Height() || len(f.Data)!=int(f.Pixels)*f.Channels() {
		return errors.Wrapf(status.ErrInvalidParameters, "%d: malformed image %v with %d values", f.ID, f.Naxisn, len(f.Data))
	}
	if (width>0 && f.Width()!=width) || (height>0 && f.Height()!=height) || (channels>0 && f.Channels()!=channels) {
		return errors.Wrapf(status.ErrInvalidParameters, "%d: image is %v, expected %dx%dx%d", f.ID, f.Naxisn, width, height, channels)
	}
	return nil
}

// Returns a human-readable dimensions string
func (f *Image) DimensionsToString() string {
	return fmt.Sprintf("%dx%dx%d", f.Width(), f.Height(), f.Channels())
}

// Returns the number of pixels which are not NaN in the first channel
func (f *Image) ValidCount() int {
	n:=0
	for _,v:=range f.Channel(0) {
		if !math.IsNaN(float64(v)) { n++ }
	}
	return n
}

// Splits an image holding a grid of rows x cols equally sized camera tiles into one image per camera, row-major.
// Tile IDs are assigned sequentially starting from the image ID
func SplitGrid(f *Image, rows, cols int) ([]*Image, error) {
	if rows<1 || cols<1 || f.Width()%cols!=0 || f.Height()%rows!=0 {
		return nil, errors.Wrapf(status.ErrInvalidParameters, "cannot split %s into %dx%d tiles", f.DimensionsToString(), rows, cols)
	}
	tw, th, ch:=f.Width()/cols, f.Height()/rows, f.Channels()
	tiles:=make([]*Image, 0, rows*cols)
	for r:=0; r<rows; r++ {
		for c:=0; c<cols; c++ {
			t:=NewImageFromNaxisn([]int32{int32(tw), int32(th), int32(ch)}, nil)
			t.ID, t.FileName, t.Timestamp = f.ID+len(tiles), f.FileName, f.Timestamp
			for k:=0; k<ch; k++ {
				src, dst:=f.Channel(k), t.Channel(k)
				for y:=0; y<th; y++ {
					so:=(r*th+y)*f.Width()+c*tw
					copy(dst[y*tw:(y+1)*tw], src[so:so+tw])
				}
			}
			tiles=append(tiles, t)
		}
	}
	return tiles, nil
}
