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
	"image"
	"image/color"
	"io"
	"math"

	"github.com/mdouchement/hdr"
	"github.com/mdouchement/hdr/codec/rgbe"
	"github.com/mdouchement/hdr/hdrcolor"
)

// Adapts a planar image to the hdr.Image interface, without clamping
type hdrView struct {
	f *Image
}

// Implement image.Image
func (v hdrView) ColorModel() color.Model { return hdrcolor.RGBModel }
func (v hdrView) Bounds() image.Rectangle { return image.Rect(0, 0, v.f.Width(), v.f.Height()) }
func (v hdrView) At(x, y int) color.Color { return v.HDRAt(x, y) }

// Implement hdr.Image
func (v hdrView) Size() int { return int(v.f.Pixels) }
func (v hdrView) HDRAt(x, y int) hdrcolor.Color {
	i, size := y*v.f.Width()+x, int(v.f.Pixels)
	if v.f.Channels() < 3 {
		g := hdrValue(v.f.Data[i])
		return hdrcolor.RGB{R: g, G: g, B: g}
	}
	return hdrcolor.RGB{R: hdrValue(v.f.Data[i]), G: hdrValue(v.f.Data[i+size]), B: hdrValue(v.f.Data[i+2*size])}
}

func hdrValue(v float32) float64 {
	if math.IsNaN(float64(v)) || v < 0 {
		return 0
	}
	return float64(v)
}

var _ hdr.Image = hdrView{}

// Write the image to a Radiance RGBE file, keeping values above one
func (f *Image) WriteHDRToFile(fileName string) error {
	return createBuffered(fileName, f.WriteHDR)
}

// Write the image in Radiance RGBE format, keeping values above one
func (f *Image) WriteHDR(writer io.Writer) error {
	return rgbe.Encode(writer, hdrView{f})
}
