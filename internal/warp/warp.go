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


// Package warp resamples camera frames into panorama space along their remap tables
package warp

import (
	"math"

	"github.com/pkg/errors"

	"github.com/mlnoga/panostitch/internal/colorconv"
	"github.com/mlnoga/panostitch/internal/frame"
	"github.com/mlnoga/panostitch/internal/ops"
	"github.com/mlnoga/panostitch/internal/remap"
	"github.com/mlnoga/panostitch/internal/rig"
	"github.com/mlnoga/panostitch/internal/status"
)

// Interpolation method
type Method int

const (
	Bilinear Method = iota
	Nearest
)

var methodNames=[]string{"bilinear", "nearest"}

func (m Method) String() string { return methodNames[m] }

// Parses an interpolation method name
func ParseMethod(s string) (Method, error) {
	for i,n:=range methodNames {
		if n==s { return Method(i), nil }
	}
	return 0, errors.Wrapf(status.ErrNotSupported, "warp method %q", s)
}

// Warps one camera frame into panorama space. Returns the warped color image and its luma plane.
// Pixels the camera does not cover hold NaN
func WarpCamera(src *frame.Image, table *remap.Table, pano rig.Equirect, method Method, lumaMode colorconv.LumaMode) (color, luma *frame.Image, err error) {
	if err:=src.Check(table.SrcWidth, table.SrcHeight, 0); err!=nil {
		return nil, nil, errors.WithMessagef(err, "warping camera %d", table.Camera)
	}
	if src.Channels()<3 {
		return nil, nil, errors.Wrapf(status.ErrInvalidParameters, "%d: warp needs a color image, have %s", src.ID, src.DimensionsToString())
	}

	nan:=float32(math.NaN())
	color=frame.NewFilledImage(pano.Width, pano.Height, 3, nan)
	luma =frame.NewFilledImage(pano.Width, pano.Height, 1, nan)
	color.ID, color.Timestamp = table.Camera, src.Timestamp
	luma.ID,  luma.Timestamp  = table.Camera, src.Timestamp

	w, h:=src.Width(), src.Height()
	srcSize, dstSize:=int(src.Pixels), int(color.Pixels)
	var rgb [3]float32
	for _, e:=range table.Entries {
		switch method {
		case Nearest:
			x, y:=int(e.SrcX+0.5), int(e.SrcY+0.5)
			if x>w-1 { x=w-1 }
			if y>h-1 { y=h-1 }
			i:=y*w+x
			for c:=0; c<3; c++ {
				rgb[c]=src.Data[c*srcSize+i]
			}
		default:
			x0, y0:=int(e.SrcX), int(e.SrcY)
			x1, y1:=x0+1, y0+1
			if x1>w-1 { x1=w-1 }
			if y1>h-1 { y1=h-1 }
			fx, fy:=e.SrcX-float32(x0), e.SrcY-float32(y0)
			i00, i01, i10, i11:=y0*w+x0, y0*w+x1, y1*w+x0, y1*w+x1
			for c:=0; c<3; c++ {
				d:=src.Data[c*srcSize:(c+1)*srcSize]
				top:=d[i00]*(1-fx) + d[i01]*fx
				bot:=d[i10]*(1-fx) + d[i11]*fx
				rgb[c]=top*(1-fy) + bot*fy
			}
		}
		for c:=0; c<3; c++ {
			color.Data[c*dstSize+int(e.Dst)]=rgb[c]
		}
		luma.Data[e.Dst]=colorconv.Luma(lumaMode, rgb[0], rgb[1], rgb[2])
	}
	return color, luma, nil
}

// Warps all camera frames concurrently
func Warp(srcs []*frame.Image, tables *remap.Tables, method Method, lumaMode colorconv.LumaMode, maxThreads int) (colors, lumas []*frame.Image, err error) {
	if len(srcs)!=len(tables.Tables) {
		return nil, nil, errors.Wrapf(status.ErrInvalidParameters, "%d frames for %d cameras", len(srcs), len(tables.Tables))
	}
	colors, lumas=make([]*frame.Image, len(srcs)), make([]*frame.Image, len(srcs))
	err=ops.ParallelFor(len(srcs), maxThreads, func(i int) (err error) {
		colors[i], lumas[i], err=WarpCamera(srcs[i], tables.Tables[i], tables.Pano, method, lumaMode)
		return err
	})
	if err!=nil { return nil, nil, err }
	return colors, lumas, nil
}
