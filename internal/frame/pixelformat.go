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
	"sort"

	"github.com/pkg/errors"

	"github.com/mlnoga/panostitch/internal/status"
)

// Memory layout of a raw camera buffer
type Layout int

const (
	LayoutPackedRGB  Layout = iota // Interleaved RGB or RGBx samples, one per channel
	LayoutYUV422                   // 4:2:2 chroma subsampled, two pixels share one U and one V sample
)

// Descriptor of a raw pixel format
type PixelFormat struct {
	Name         string
	Layout       Layout
	BitsPerPixel int    // Storage bits per pixel, including padding
	Channels     int    // Decoded color channels
	SampleBits   int    // Significant bits per sample
	SampleBytes  int    // Storage bytes per sample, 1 or 2
	Order        [4]int // Sample order. Packed RGB: index of R,G,B,A in the pixel or -1. YUV422: index of Y0,U,Y1,V in the macropixel
}

// Number of bytes of a raw buffer with given dimensions
func (pf *PixelFormat) FrameSize(width, height int) int {
	return (width*height*pf.BitsPerPixel+7)/8
}

func (pf *PixelFormat) String() string {
	return fmt.Sprintf("%s (%d bpp, %d bits/sample)", pf.Name, pf.BitsPerPixel, pf.SampleBits)
}

var pixelFormats = map[string]*PixelFormat{}

// Registers a pixel format. Panics on duplicates
func RegisterPixelFormat(pf *PixelFormat) {
	if _, exists:=pixelFormats[pf.Name]; exists {
		panic(fmt.Sprintf("pixel format %s already registered", pf.Name))
	}
	pixelFormats[pf.Name]=pf
}

// Looks up a pixel format by name
func LookupPixelFormat(name string) (*PixelFormat, error) {
	pf, ok:=pixelFormats[name]
	if !ok {
		return nil, errors.Wrapf(status.ErrNotSupported, "pixel format %q", name)
	}
	return pf, nil
}

// Returns the names of all registered pixel formats, sorted
func PixelFormatNames() []string {
	names:=make([]string, 0, len(pixelFormats))
	for name:=range pixelFormats {
		names=append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	RegisterPixelFormat(&PixelFormat{Name:"RGB",  Layout:LayoutPackedRGB, BitsPerPixel:24, Channels:3, SampleBits: 8, SampleBytes:1, Order:[4]int{0,1,2,-1}})
	RegisterPixelFormat(&PixelFormat{Name:"RGBX", Layout:LayoutPackedRGB, BitsPerPixel:32, Channels:3, SampleBits: 8, SampleBytes:1, Order:[4]int{0,1,2,-1}})
	RegisterPixelFormat(&PixelFormat{Name:"RGBA", Layout:LayoutPackedRGB, BitsPerPixel:32, Channels:4, SampleBits: 8, SampleBytes:1, Order:[4]int{0,1,2,3}})
	RegisterPixelFormat(&PixelFormat{Name:"RGB4", Layout:LayoutPackedRGB, BitsPerPixel:48, Channels:3, SampleBits:16, SampleBytes:2, Order:[4]int{0,1,2,-1}})
	RegisterPixelFormat(&PixelFormat{Name:"UYVY", Layout:LayoutYUV422,    BitsPerPixel:16, Channels:3, SampleBits: 8, SampleBytes:1, Order:[4]int{1,0,3,2}})
	RegisterPixelFormat(&PixelFormat{Name:"YUYV", Layout:LayoutYUV422,    BitsPerPixel:16, Channels:3, SampleBits: 8, SampleBytes:1, Order:[4]int{0,1,2,3}})
	// 10, 12 and 16 bit YUYV, MSB-aligned in little-endian 16-bit containers
	RegisterPixelFormat(&PixelFormat{Name:"Y210", Layout:LayoutYUV422,    BitsPerPixel:32, Channels:3, SampleBits:10, SampleBytes:2, Order:[4]int{0,1,2,3}})
	RegisterPixelFormat(&PixelFormat{Name:"Y212", Layout:LayoutYUV422,    BitsPerPixel:32, Channels:3, SampleBits:12, SampleBytes:2, Order:[4]int{0,1,2,3}})
	RegisterPixelFormat(&PixelFormat{Name:"Y216", Layout:LayoutYUV422,    BitsPerPixel:32, Channels:3, SampleBits:16, SampleBytes:2, Order:[4]int{0,1,2,3}})
}
